package apiclient

// CacheStats is the ambient cache snapshot.
type CacheStats struct {
	AmbientSize     int64 `json:"ambient_size"`
	MaxAmbientSize  int64 `json:"max_ambient_size"`
	TileCountLimit  int64 `json:"tile_count_limit"` // 0 means unlimited
	LinkedTileCount int64 `json:"linked_tile_count"`
	HotEntries      int   `json:"hot_entries"`
}

// CacheLimits carries new storage budgets. Nil fields leave the current
// value in place.
type CacheLimits struct {
	MaxAmbientSize *int64 `json:"max_ambient_size,omitempty"`
	TileCountLimit *int64 `json:"tile_count_limit,omitempty"`
}

// HotStats is the in-memory hot cache occupancy.
type HotStats struct {
	HotEntries int `json:"hot_entries"`
}

// DownloaderStats is the download scheduler snapshot.
type DownloaderStats struct {
	InFlight      int `json:"in_flight"`
	QueuedRegion  int `json:"queued_region"`
	QueuedAmbient int `json:"queued_ambient"`
	Completed     int `json:"completed"`
	Failed        int `json:"failed"`
}

// EngineStatus is the full engine snapshot.
type EngineStatus struct {
	InstanceID    string  `json:"instance_id"`
	UptimeSeconds float64 `json:"uptime_seconds"`

	AmbientSize    int64 `json:"ambient_size"`
	MaxAmbientSize int64 `json:"max_ambient_size"`

	TileCountLimit  int64 `json:"tile_count_limit"`
	LinkedTileCount int64 `json:"linked_tile_count"`

	RegionCount   int `json:"region_count"`
	ActiveRegions int `json:"active_regions"`

	Hot        HotStats        `json:"hot"`
	Downloader DownloaderStats `json:"downloader"`
}

// GetCacheStats returns the ambient cache usage and budgets.
func (c *Client) GetCacheStats() (*CacheStats, error) {
	return getResource[CacheStats](c, "/api/v1/cache")
}

// ClearCache drops every unlinked resource and returns the bytes freed.
func (c *Client) ClearCache() (int64, error) {
	var result struct {
		FreedBytes int64 `json:"freed_bytes"`
	}
	if err := c.delete("/api/v1/cache", &result); err != nil {
		return 0, err
	}
	return result.FreedBytes, nil
}

// InvalidateCache expires every ambient resource so the next request
// revalidates against the origin.
func (c *Client) InvalidateCache() error {
	return c.post("/api/v1/cache/invalidate", nil, nil)
}

// UpdateCacheLimits adjusts storage budgets and returns the applied values.
func (c *Client) UpdateCacheLimits(limits *CacheLimits) (maxAmbientSize, tileCountLimit int64, err error) {
	var result struct {
		MaxAmbientSize int64 `json:"max_ambient_size"`
		TileCountLimit int64 `json:"tile_count_limit"`
	}
	if err := c.put("/api/v1/cache/limits", limits, &result); err != nil {
		return 0, 0, err
	}
	return result.MaxAmbientSize, result.TileCountLimit, nil
}

// PackStore compacts the storage backend. Potentially slow.
func (c *Client) PackStore() error {
	return c.post("/api/v1/cache/pack", nil, nil)
}

// GetStatus returns the full engine snapshot.
func (c *Client) GetStatus() (*EngineStatus, error) {
	return getResource[EngineStatus](c, "/api/v1/status")
}
