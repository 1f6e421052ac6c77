// Package engine assembles the storage, cache, download and routing
// subsystems into a single embeddable facade.
//
// An Engine owns one opened store and wires the ambient cache manager,
// the origin downloader, the offline region manager and the request
// router around it. Everything the HTTP API and the CLIs expose maps
// onto an Engine method.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tilevault/tilevault/internal/logger"
	"github.com/tilevault/tilevault/pkg/cache"
	"github.com/tilevault/tilevault/pkg/downloader"
	"github.com/tilevault/tilevault/pkg/region"
	"github.com/tilevault/tilevault/pkg/resource"
	"github.com/tilevault/tilevault/pkg/router"
	"github.com/tilevault/tilevault/pkg/store"
	"github.com/tilevault/tilevault/pkg/tverr"
)

// DefaultTileCountLimit caps region-linked tiles across all offline
// regions when no limit is configured.
const DefaultTileCountLimit int64 = 6000

// Config carries everything New needs besides the store itself.
type Config struct {
	// MaxAmbientSize is the ambient cache budget in bytes. Zero or
	// below falls back to cache.DefaultMaxSize.
	MaxAmbientSize int64

	// TileCountLimit bounds region-linked tiles across all regions.
	// Zero falls back to DefaultTileCountLimit; negative disables the
	// quota entirely.
	TileCountLimit int64

	Downloader downloader.Config
	Router     router.Config

	// Fetchers maps URL schemes to origin fetchers. Required: an
	// engine with no fetchers can serve cached data but never fill.
	Fetchers map[string]downloader.Fetcher

	// Metrics sinks are optional; nil disables collection.
	CacheMetrics      cache.Metrics
	DownloaderMetrics downloader.Metrics
	RegionMetrics     region.Metrics
	RouterMetrics     router.Metrics
}

// Status is a point-in-time snapshot of the whole engine, served by the
// status endpoint and tvctl.
type Status struct {
	InstanceID    string  `json:"instance_id"`
	UptimeSeconds float64 `json:"uptime_seconds"`

	AmbientSize    int64 `json:"ambient_size"`
	MaxAmbientSize int64 `json:"max_ambient_size"`

	TileCountLimit  int64 `json:"tile_count_limit"` // 0 means unlimited
	LinkedTileCount int64 `json:"linked_tile_count"`

	RegionCount   int `json:"region_count"`
	ActiveRegions int `json:"active_regions"`

	Hot        router.Stats     `json:"hot"`
	Downloader downloader.Stats `json:"downloader"`
}

// Engine is the application-facing entry point. Safe for concurrent use
// after Open.
type Engine struct {
	store   store.Store
	cache   *cache.Manager
	dl      *downloader.Downloader
	regions *region.Manager
	router  *router.Router

	instanceID string
	startedAt  time.Time

	mu     sync.Mutex
	opened bool
	closed bool
}

// New wires an Engine around an opened store. The store must outlive
// the engine; Close releases it.
func New(cfg Config, st store.Store) *Engine {
	dlCfg := cfg.Downloader
	switch {
	case cfg.TileCountLimit < 0:
		dlCfg.TileCountLimit = 0 // unlimited
	case cfg.TileCountLimit == 0:
		dlCfg.TileCountLimit = DefaultTileCountLimit
	default:
		dlCfg.TileCountLimit = cfg.TileCountLimit
	}

	cm := cache.NewManager(st, cfg.MaxAmbientSize, cfg.CacheMetrics)
	dl := downloader.New(st, cm, cfg.Fetchers, dlCfg, cfg.DownloaderMetrics)
	rm := region.NewManager(st, dl, cm, cfg.RegionMetrics)
	rt := router.New(st, dl, cfg.Router, cfg.RouterMetrics)

	return &Engine{
		store:      st,
		cache:      cm,
		dl:         dl,
		regions:    rm,
		router:     rt,
		instanceID: uuid.NewString(),
	}
}

// Open makes the engine serviceable: regions left Active by an unclean
// shutdown are demoted to Inactive, then the download workers start.
func (e *Engine) Open(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return tverr.NewInvalidArgumentError("engine is closed")
	}
	if e.opened {
		return nil
	}

	if err := e.regions.DemoteActive(ctx); err != nil {
		return err
	}
	e.dl.Start()
	e.startedAt = time.Now()
	e.opened = true

	logger.Info("engine opened",
		logger.KeyInstanceID, e.instanceID,
		logger.KeyAmbientLimit, e.cache.MaximumSize(),
		logger.KeyTileLimit, e.dl.TileCountLimit())
	return nil
}

// Close shuts the engine down and closes the store. Active downloads
// are cancelled; their regions stay persisted Active and are demoted on
// the next Open. Idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	// The region manager and the router both schedule work on the
	// downloader, so they go first; the store goes last.
	var firstErr error
	for _, c := range []func() error{
		e.regions.Close,
		e.router.Close,
		e.dl.Close,
		e.store.Close,
	} {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	logger.Info("engine closed", logger.KeyInstanceID, e.instanceID)
	return firstErr
}

// InstanceID returns the identifier minted for this engine instance.
// It is logged at open and attached to telemetry.
func (e *Engine) InstanceID() string {
	return e.instanceID
}

// Resolve serves one resource request through the router: hot cache,
// then store, then origin, with stale-while-revalidate on expired but
// usable entries.
func (e *Engine) Resolve(ctx context.Context, key resource.Key, originURL string) (*resource.Resource, error) {
	return e.router.Resolve(ctx, key, originURL)
}

// CreateRegion persists a new offline region in the Inactive state.
func (e *Engine) CreateRegion(ctx context.Context, def store.RegionDefinition, metadata []byte) (*store.Region, error) {
	return e.regions.Create(ctx, def, metadata)
}

// ListRegions returns all offline regions, oldest first.
func (e *Engine) ListRegions(ctx context.Context) ([]*store.Region, error) {
	return e.regions.List(ctx)
}

// GetRegion returns one offline region.
func (e *Engine) GetRegion(ctx context.Context, id int64) (*store.Region, error) {
	return e.regions.Get(ctx, id)
}

// RegionStatus returns a progress snapshot for one region.
func (e *Engine) RegionStatus(ctx context.Context, id int64) (region.Status, error) {
	return e.regions.Status(ctx, id)
}

// DeleteRegion removes an Inactive region; resources no other region
// links become ambient-eligible and an eviction pass runs.
func (e *Engine) DeleteRegion(ctx context.Context, id int64) error {
	return e.regions.Delete(ctx, id)
}

// SetRegionState activates or deactivates a region's download.
func (e *Engine) SetRegionState(ctx context.Context, id int64, state store.State) error {
	return e.regions.SetState(ctx, id, state)
}

// SetRegionObserver registers obs for a region's progress events. A nil
// obs clears the registration.
func (e *Engine) SetRegionObserver(id int64, obs region.Observer) {
	e.regions.SetObserver(id, obs)
}

// InvalidateRegion marks every resource the region links as expired, so
// the next request revalidates against the origin. Payloads stay
// served in the meantime.
func (e *Engine) InvalidateRegion(ctx context.Context, id int64) error {
	if err := e.regions.Invalidate(ctx, id); err != nil {
		return err
	}
	e.router.InvalidateHot()
	return nil
}

// UpdateRegionMetadata replaces a region's opaque metadata blob.
func (e *Engine) UpdateRegionMetadata(ctx context.Context, id int64, metadata []byte) error {
	return e.regions.UpdateMetadata(ctx, id, metadata)
}

// SetMaximumAmbientCacheSize updates the ambient budget and evicts down
// to it immediately.
func (e *Engine) SetMaximumAmbientCacheSize(ctx context.Context, bytes int64) error {
	return e.cache.SetMaximumSize(ctx, bytes)
}

// MaximumAmbientCacheSize returns the current ambient budget in bytes.
func (e *Engine) MaximumAmbientCacheSize() int64 {
	return e.cache.MaximumSize()
}

// SetTileCountLimit updates the offline tile quota. Zero or below
// disables it.
func (e *Engine) SetTileCountLimit(n int64) {
	if n < 0 {
		n = 0
	}
	e.dl.SetTileCountLimit(n)
}

// TileCountLimit returns the current offline tile quota, 0 if disabled.
func (e *Engine) TileCountLimit() int64 {
	return e.dl.TileCountLimit()
}

// ClearAmbientCache drops every ambient resource and the router's hot
// layer, returning the bytes freed. Region-linked data is untouched.
func (e *Engine) ClearAmbientCache(ctx context.Context) (int64, error) {
	freed, err := e.cache.Clear(ctx)
	if err != nil {
		return 0, err
	}
	e.router.InvalidateHot()
	return freed, nil
}

// InvalidateAmbientCache marks every ambient resource expired. Payloads
// stay served until revalidation replaces them; the hot layer is purged
// so it cannot outlive the store's answer.
func (e *Engine) InvalidateAmbientCache(ctx context.Context) error {
	if err := e.cache.Invalidate(ctx); err != nil {
		return err
	}
	e.router.InvalidateHot()
	return nil
}

// AmbientCacheSize returns the bytes currently held by ambient-only
// resources.
func (e *Engine) AmbientCacheSize(ctx context.Context) (int64, error) {
	return e.cache.Size(ctx)
}

// Pack compacts the store's on-disk representation. Blocking; callers
// should not hold requests open across it.
func (e *Engine) Pack(ctx context.Context) error {
	return e.store.Pack(ctx)
}

// Healthcheck verifies the store answers a trivial read.
func (e *Engine) Healthcheck(ctx context.Context) error {
	return e.store.Healthcheck(ctx)
}

// Status reports a snapshot across all subsystems. Failures to read
// individual gauges leave their fields zero rather than failing the
// whole snapshot.
func (e *Engine) Status(ctx context.Context) Status {
	e.mu.Lock()
	startedAt := e.startedAt
	e.mu.Unlock()

	st := Status{
		InstanceID:     e.instanceID,
		MaxAmbientSize: e.cache.MaximumSize(),
		TileCountLimit: e.dl.TileCountLimit(),
		Hot:            e.router.Stats(),
		Downloader:     e.dl.Stats(),
	}
	if !startedAt.IsZero() {
		st.UptimeSeconds = time.Since(startedAt).Seconds()
	}
	if size, err := e.cache.Size(ctx); err == nil {
		st.AmbientSize = size
	}
	if n, err := e.store.CountLinkedTiles(ctx); err == nil {
		st.LinkedTileCount = n
	}
	if regs, err := e.regions.List(ctx); err == nil {
		st.RegionCount = len(regs)
		for _, r := range regs {
			if r.State == store.StateActive {
				st.ActiveRegions++
			}
		}
	}
	return st
}
