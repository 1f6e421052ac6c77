package apiclient

import (
	"encoding/json"
	"time"
)

// RegionDefinition describes the geographic and zoom extent of an
// offline region.
type RegionDefinition struct {
	MinLat float64 `json:"min_lat" yaml:"min_lat"`
	MinLon float64 `json:"min_lon" yaml:"min_lon"`
	MaxLat float64 `json:"max_lat" yaml:"max_lat"`
	MaxLon float64 `json:"max_lon" yaml:"max_lon"`

	MinZoom int `json:"min_zoom" yaml:"min_zoom"`
	MaxZoom int `json:"max_zoom" yaml:"max_zoom"`

	StyleURL string `json:"style_url" yaml:"style_url"`

	PixelRatio        float64 `json:"pixel_ratio" yaml:"pixel_ratio"`
	IncludeIdeographs bool    `json:"include_ideographs" yaml:"include_ideographs"`
}

// Region represents an offline region in the system.
type Region struct {
	ID                   int64            `json:"id"`
	Definition           RegionDefinition `json:"definition"`
	Metadata             json.RawMessage  `json:"metadata,omitempty"`
	State                string           `json:"state"`
	Completion           string           `json:"completion"`
	ManifestCount        int64            `json:"manifest_count"`
	ErroredResourceCount int64            `json:"errored_resource_count"`
	CreatedAt            time.Time        `json:"created_at"`
}

// RegionStatus is a point-in-time download progress snapshot.
type RegionStatus struct {
	RegionID               int64  `json:"region_id"`
	Phase                  string `json:"phase"`
	ManifestCount          int64  `json:"manifest_count"`
	CompletedResourceCount int64  `json:"completed_resource_count"`
	CompletedTileCount     int64  `json:"completed_tile_count"`
	CompletedBytes         int64  `json:"completed_bytes"`
	ErroredResourceCount   int64  `json:"errored_resource_count"`
	ManifestComplete       bool   `json:"manifest_complete"`
}

// CreateRegionRequest is the request to create a region.
type CreateRegionRequest struct {
	Definition RegionDefinition `json:"definition"`
	Metadata   json.RawMessage  `json:"metadata,omitempty"`
}

// UpdateMetadataRequest is the request to replace region metadata.
type UpdateMetadataRequest struct {
	Metadata json.RawMessage `json:"metadata"`
}

// ListRegions returns all offline regions.
func (c *Client) ListRegions() ([]Region, error) {
	return listResources[Region](c, "/api/v1/regions")
}

// GetRegion returns a region by ID.
func (c *Client) GetRegion(id int64) (*Region, error) {
	return getResource[Region](c, resourcePath("/api/v1/regions/%d", id))
}

// CreateRegion creates a new offline region. The region starts inactive.
func (c *Client) CreateRegion(req *CreateRegionRequest) (*Region, error) {
	return createResource[Region](c, "/api/v1/regions", req)
}

// DeleteRegion deletes an inactive region.
func (c *Client) DeleteRegion(id int64) error {
	return deleteResource(c, resourcePath("/api/v1/regions/%d", id))
}

// ActivateRegion starts downloading the region in the background.
func (c *Client) ActivateRegion(id int64) error {
	return c.post(resourcePath("/api/v1/regions/%d/activate", id), nil, nil)
}

// DeactivateRegion pauses the region's download.
func (c *Client) DeactivateRegion(id int64) error {
	return c.post(resourcePath("/api/v1/regions/%d/deactivate", id), nil, nil)
}

// InvalidateRegion marks the region's resources for revalidation on the
// next download pass.
func (c *Client) InvalidateRegion(id int64) error {
	return c.post(resourcePath("/api/v1/regions/%d/invalidate", id), nil, nil)
}

// GetRegionStatus returns the region's download progress.
func (c *Client) GetRegionStatus(id int64) (*RegionStatus, error) {
	return getResource[RegionStatus](c, resourcePath("/api/v1/regions/%d/status", id))
}

// UpdateRegionMetadata replaces the opaque metadata attached to a region.
func (c *Client) UpdateRegionMetadata(id int64, metadata json.RawMessage) (*Region, error) {
	return updateResource[Region](c, resourcePath("/api/v1/regions/%d/metadata", id), &UpdateMetadataRequest{Metadata: metadata})
}
