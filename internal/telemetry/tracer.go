package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys for cache and region operations.
// These follow OpenTelemetry semantic conventions where applicable.
// Domain-specific keys use "resource.", "cache.", "region." and
// "download." prefixes.
const (
	// ========================================================================
	// Client attributes (HTTP API)
	// ========================================================================
	AttrClientIP   = "client.ip"
	AttrClientAddr = "client.address"

	// ========================================================================
	// Resource attributes
	// ========================================================================
	AttrResourceKey  = "resource.key"  // canonical resource key
	AttrResourceKind = "resource.kind" // style, tile, sprite, glyph, source
	AttrResourceSize = "resource.size" // payload size in bytes
	AttrResourceETag = "resource.etag"
	AttrOriginURL    = "origin.url" // origin locator for the fetch
	AttrTileSource   = "tile.source"
	AttrTileZ        = "tile.z"
	AttrTileX        = "tile.x"
	AttrTileY        = "tile.y"

	// ========================================================================
	// Cache attributes
	// ========================================================================
	AttrCacheHit   = "cache.hit"
	AttrCacheLayer = "cache.layer" // hot, store, origin
	AttrCacheState = "cache.state" // fresh, stale, miss
	AttrFreedBytes = "cache.freed_bytes"

	// ========================================================================
	// Region attributes
	// ========================================================================
	AttrRegionID      = "region.id"
	AttrRegionPhase   = "region.phase"
	AttrManifestCount = "region.manifest_count"

	// ========================================================================
	// Download attributes
	// ========================================================================
	AttrPriority   = "download.priority" // region, ambient
	AttrAttempt    = "download.attempt"
	AttrHTTPStatus = "http.response.status_code"

	// ========================================================================
	// Storage backend attributes
	// ========================================================================
	AttrBackend = "store.backend" // memory, badger, sqlite, postgres
)

// Span names for operations.
// Format: <component>.<operation>
const (
	// Root span for API request processing
	SpanAPIRequest = "api.request"

	// Resolution path
	SpanResolve     = "router.resolve"
	SpanOriginFetch = "origin.fetch"

	// Region lifecycle
	SpanRegionCreate     = "region.create"
	SpanRegionActivate   = "region.activate"
	SpanRegionDeactivate = "region.deactivate"
	SpanRegionDelete     = "region.delete"
	SpanRegionInvalidate = "region.invalidate"

	// Cache maintenance
	SpanCacheClear      = "cache.clear"
	SpanCacheInvalidate = "cache.invalidate"
	SpanCacheEvict      = "cache.evict"
	SpanStorePack       = "store.pack"
)

// ClientIP returns an attribute for client IP address
func ClientIP(ip string) attribute.KeyValue {
	return attribute.String(AttrClientIP, ip)
}

// ClientAddr returns an attribute for full client address
func ClientAddr(addr string) attribute.KeyValue {
	return attribute.String(AttrClientAddr, addr)
}

// ResourceKey returns an attribute for the canonical resource key
func ResourceKey(key string) attribute.KeyValue {
	return attribute.String(AttrResourceKey, key)
}

// ResourceKind returns an attribute for the resource kind
func ResourceKind(kind string) attribute.KeyValue {
	return attribute.String(AttrResourceKind, kind)
}

// ResourceSize returns an attribute for payload size
func ResourceSize(size int64) attribute.KeyValue {
	return attribute.Int64(AttrResourceSize, size)
}

// ResourceETag returns an attribute for the entity tag
func ResourceETag(etag string) attribute.KeyValue {
	return attribute.String(AttrResourceETag, etag)
}

// OriginURL returns an attribute for the origin locator
func OriginURL(url string) attribute.KeyValue {
	return attribute.String(AttrOriginURL, url)
}

// TileSource returns an attribute for the tile source identifier
func TileSource(source string) attribute.KeyValue {
	return attribute.String(AttrTileSource, source)
}

// TileZ returns an attribute for tile zoom
func TileZ(z uint32) attribute.KeyValue {
	return attribute.Int64(AttrTileZ, int64(z))
}

// TileX returns an attribute for tile column
func TileX(x uint32) attribute.KeyValue {
	return attribute.Int64(AttrTileX, int64(x))
}

// TileY returns an attribute for tile row
func TileY(y uint32) attribute.KeyValue {
	return attribute.Int64(AttrTileY, int64(y))
}

// CacheHit returns an attribute for cache hit indicator
func CacheHit(hit bool) attribute.KeyValue {
	return attribute.Bool(AttrCacheHit, hit)
}

// CacheLayer returns an attribute for the layer that served a request
func CacheLayer(layer string) attribute.KeyValue {
	return attribute.String(AttrCacheLayer, layer)
}

// CacheState returns an attribute for entry freshness
func CacheState(state string) attribute.KeyValue {
	return attribute.String(AttrCacheState, state)
}

// FreedBytes returns an attribute for bytes released by a purge
func FreedBytes(n int64) attribute.KeyValue {
	return attribute.Int64(AttrFreedBytes, n)
}

// RegionID returns an attribute for the offline region id
func RegionID(id int64) attribute.KeyValue {
	return attribute.Int64(AttrRegionID, id)
}

// RegionPhase returns an attribute for the download phase
func RegionPhase(phase string) attribute.KeyValue {
	return attribute.String(AttrRegionPhase, phase)
}

// ManifestCount returns an attribute for the region's manifest size
func ManifestCount(n int64) attribute.KeyValue {
	return attribute.Int64(AttrManifestCount, n)
}

// Priority returns an attribute for download priority
func Priority(p string) attribute.KeyValue {
	return attribute.String(AttrPriority, p)
}

// Attempt returns an attribute for the retry attempt number
func Attempt(n int) attribute.KeyValue {
	return attribute.Int(AttrAttempt, n)
}

// HTTPStatus returns an attribute for an origin response status
func HTTPStatus(code int) attribute.KeyValue {
	return attribute.Int(AttrHTTPStatus, code)
}

// Backend returns an attribute for the storage backend type
func Backend(t string) attribute.KeyValue {
	return attribute.String(AttrBackend, t)
}

// StartResolveSpan starts a span for one resource resolution.
// This is a convenience function that sets common attributes.
func StartResolveSpan(ctx context.Context, key string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		ResourceKey(key),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, SpanResolve, trace.WithAttributes(allAttrs...))
}

// StartOriginSpan starts a span for an origin fetch.
func StartOriginSpan(ctx context.Context, url string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		OriginURL(url),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, SpanOriginFetch, trace.WithAttributes(allAttrs...))
}

// StartRegionSpan starts a span for a region lifecycle operation.
func StartRegionSpan(ctx context.Context, operation string, id int64, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		RegionID(id),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, "region."+operation, trace.WithAttributes(allAttrs...))
}

// StartStoreSpan starts a span for a store maintenance operation.
func StartStoreSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, "store."+operation, trace.WithAttributes(attrs...))
}
