// Package store defines the persistent resource store: key/value storage for
// cached resources plus the region-linkage bookkeeping that separates the
// ambient cache from pinned offline regions.
//
// Backends live in subpackages (memory, badger, sqlite, postgres) and are
// verified against the shared conformance suite in storetest. All counters a
// backend reports (ambient size, region progress, linked tile count) are
// derived from persisted rows, never from cached in-memory values, so an
// unclean shutdown self-heals on the next open.
package store

import (
	"context"

	"github.com/tilevault/tilevault/pkg/resource"
)

// Store is the persistent resource store.
//
// Every mutating method executes as a single transaction: a crash mid-call
// leaves either the prior committed state or the fully new state. PutLinked
// is the critical path for offline downloads, combining the resource upsert,
// the region link, and the tile-quota check into one indivisible operation.
type Store interface {
	// Put upserts an ambient resource. Payload and revalidation metadata are
	// overwritten and AccessedAt is reset to now.
	Put(ctx context.Context, res *resource.Resource) error

	// PutLinked atomically upserts a resource and links it to a region.
	// When the resource is a tile that is not yet region-linked and linking
	// it would push the global linked-tile count above tileLimit, the whole
	// transaction aborts with a QuotaExceeded error and nothing is persisted.
	// A tileLimit <= 0 means unlimited.
	PutLinked(ctx context.Context, res *resource.Resource, regionID int64, tileLimit int64) error

	// Get returns the resource, touching AccessedAt only when the entry is
	// ambient (unlinked). Returns a NotFound error when absent.
	Get(ctx context.Context, key resource.Key) (*resource.Resource, error)

	// GetMeta returns the resource without its payload and without touching
	// AccessedAt.
	GetMeta(ctx context.Context, key resource.Key) (*resource.Resource, error)

	// Link associates an already-stored resource with a region. Idempotent.
	Link(ctx context.Context, regionID int64, key resource.Key) error

	// Unlink removes the association. Idempotent. A resource whose last link
	// is removed becomes ambient-eligible immediately.
	Unlink(ctx context.Context, regionID int64, key resource.Key) error

	// TotalAmbientSize returns the summed size of unlinked resources.
	TotalAmbientSize(ctx context.Context) (int64, error)

	// EvictLRU deletes unlinked resources in ascending (AccessedAt,
	// insertion) order until the ambient size is at most targetBytes or no
	// evictable entry remains. Returns the bytes freed.
	EvictLRU(ctx context.Context, targetBytes int64) (int64, error)

	// ClearAmbient deletes every unlinked resource. Returns the bytes freed.
	ClearAmbient(ctx context.Context) (int64, error)

	// InvalidateAmbient marks every unlinked resource stale without deleting
	// payloads, forcing revalidation on next use.
	InvalidateAmbient(ctx context.Context) error

	// CountLinkedTiles returns the number of distinct tile resources with at
	// least one region link. This is the quantity bounded by the global
	// tile-count limit.
	CountLinkedTiles(ctx context.Context) (int64, error)

	// CreateRegion persists a new region in the Inactive state and assigns
	// its identifier.
	CreateRegion(ctx context.Context, def RegionDefinition, metadata []byte) (*Region, error)

	// GetRegion returns a region or a RegionNotFound error.
	GetRegion(ctx context.Context, id int64) (*Region, error)

	// ListRegions returns all regions ordered by creation time ascending,
	// ties broken by id.
	ListRegions(ctx context.Context) ([]*Region, error)

	// UpdateRegionState persists the region's state and completion marker.
	UpdateRegionState(ctx context.Context, id int64, state State, completion Completion) error

	// UpdateRegionMetadata replaces the opaque client metadata.
	UpdateRegionMetadata(ctx context.Context, id int64, metadata []byte) error

	// SetRegionManifestCount records the region's total required resources.
	SetRegionManifestCount(ctx context.Context, id int64, n int64) error

	// AddRegionError increments the errored-resource counter.
	AddRegionError(ctx context.Context, id int64) error

	// ResetRegionErrors zeroes the errored-resource counter, used when a
	// region is re-activated and previously failed entries are retried.
	ResetRegionErrors(ctx context.Context, id int64) error

	// DeleteRegion removes the region row and all its links in one
	// transaction. State gating (no delete while Active) is enforced by the
	// region manager, not the store.
	DeleteRegion(ctx context.Context, id int64) error

	// RegionProgress recomputes download progress from persisted links.
	RegionProgress(ctx context.Context, id int64) (*Progress, error)

	// LinkedKeys returns the canonical keys currently linked to the region,
	// used to resume a download without re-fetching completed entries.
	LinkedKeys(ctx context.Context, id int64) (map[string]struct{}, error)

	// InvalidateRegion marks the region's linked resources stale without
	// deleting payloads.
	InvalidateRegion(ctx context.Context, id int64) error

	// Pack compacts the underlying storage where the backend supports it
	// (VACUUM for SQLite, value-log GC for Badger). Best effort.
	Pack(ctx context.Context) error

	// Healthcheck verifies the backend is operational.
	Healthcheck(ctx context.Context) error

	// Close releases the backend. The store must not be used afterwards.
	Close() error
}
