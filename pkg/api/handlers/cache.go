package handlers

import (
	"net/http"

	"github.com/tilevault/tilevault/internal/telemetry"
	"github.com/tilevault/tilevault/pkg/engine"
)

// CacheHandler handles ambient cache and resource budget endpoints.
type CacheHandler struct {
	eng *engine.Engine
}

// NewCacheHandler creates a new cache handler.
func NewCacheHandler(eng *engine.Engine) *CacheHandler {
	return &CacheHandler{eng: eng}
}

// CacheStatsResponse is the wire shape of the ambient cache snapshot.
type CacheStatsResponse struct {
	AmbientSize     int64 `json:"ambient_size"`
	MaxAmbientSize  int64 `json:"max_ambient_size"`
	TileCountLimit  int64 `json:"tile_count_limit"` // 0 means unlimited
	LinkedTileCount int64 `json:"linked_tile_count"`
	HotEntries      int   `json:"hot_entries"`
}

// UpdateLimitsRequest carries new storage budgets. Absent fields leave
// the current value in place.
type UpdateLimitsRequest struct {
	MaxAmbientSize *int64 `json:"max_ambient_size,omitempty"`
	TileCountLimit *int64 `json:"tile_count_limit,omitempty"`
}

// Stats handles GET /api/v1/cache - ambient cache usage and budgets.
func (h *CacheHandler) Stats(w http.ResponseWriter, r *http.Request) {
	status := h.eng.Status(r.Context())

	OK(w, CacheStatsResponse{
		AmbientSize:     status.AmbientSize,
		MaxAmbientSize:  status.MaxAmbientSize,
		TileCountLimit:  status.TileCountLimit,
		LinkedTileCount: status.LinkedTileCount,
		HotEntries:      status.Hot.HotEntries,
	})
}

// Clear handles DELETE /api/v1/cache - drop every unlinked resource.
//
// Offline regions are untouched; only ambient entries are removed.
func (h *CacheHandler) Clear(w http.ResponseWriter, r *http.Request) {
	ctx, span := telemetry.StartSpan(r.Context(), telemetry.SpanCacheClear)
	defer span.End()

	freed, err := h.eng.ClearAmbientCache(ctx)
	if err != nil {
		span.RecordError(err)
		Error(w, err)
		return
	}
	span.SetAttributes(telemetry.FreedBytes(freed))

	OK(w, map[string]int64{"freed_bytes": freed})
}

// Invalidate handles POST /api/v1/cache/invalidate - expire every
// ambient resource so the next request revalidates against the origin.
func (h *CacheHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	ctx, span := telemetry.StartSpan(r.Context(), telemetry.SpanCacheInvalidate)
	defer span.End()

	if err := h.eng.InvalidateAmbientCache(ctx); err != nil {
		span.RecordError(err)
		Error(w, err)
		return
	}

	OK(w, map[string]string{"cache": "invalidated"})
}

// UpdateLimits handles PUT /api/v1/cache/limits - adjust storage budgets
// at runtime. Shrinking the ambient budget evicts immediately.
func (h *CacheHandler) UpdateLimits(w http.ResponseWriter, r *http.Request) {
	var req UpdateLimitsRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.MaxAmbientSize == nil && req.TileCountLimit == nil {
		BadRequest(w, "No limits provided")
		return
	}

	if req.MaxAmbientSize != nil {
		if err := h.eng.SetMaximumAmbientCacheSize(r.Context(), *req.MaxAmbientSize); err != nil {
			Error(w, err)
			return
		}
	}
	if req.TileCountLimit != nil {
		h.eng.SetTileCountLimit(*req.TileCountLimit)
	}

	OK(w, map[string]int64{
		"max_ambient_size": h.eng.MaximumAmbientCacheSize(),
		"tile_count_limit": h.eng.TileCountLimit(),
	})
}

// Pack handles POST /api/v1/cache/pack - reclaim disk space from the
// storage backend. Potentially slow on large databases.
func (h *CacheHandler) Pack(w http.ResponseWriter, r *http.Request) {
	ctx, span := telemetry.StartStoreSpan(r.Context(), "pack")
	defer span.End()

	if err := h.eng.Pack(ctx); err != nil {
		span.RecordError(err)
		Error(w, err)
		return
	}

	OK(w, map[string]string{"store": "packed"})
}

// EngineStatus handles GET /api/v1/status - full engine snapshot
// including downloader queue depths and region counts.
func (h *CacheHandler) EngineStatus(w http.ResponseWriter, r *http.Request) {
	OK(w, h.eng.Status(r.Context()))
}
