package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tilevault/tilevault/internal/telemetry"
	"github.com/tilevault/tilevault/pkg/engine"
	"github.com/tilevault/tilevault/pkg/store"
)

// RegionHandler handles offline region management endpoints.
type RegionHandler struct {
	eng *engine.Engine
}

// NewRegionHandler creates a new region handler.
func NewRegionHandler(eng *engine.Engine) *RegionHandler {
	return &RegionHandler{eng: eng}
}

// CreateRegionRequest is the request body for creating a region.
type CreateRegionRequest struct {
	Definition store.RegionDefinition `json:"definition"`
	Metadata   json.RawMessage        `json:"metadata,omitempty"`
}

// UpdateMetadataRequest is the request body for replacing region metadata.
type UpdateMetadataRequest struct {
	Metadata json.RawMessage `json:"metadata"`
}

// RegionResponse is the wire shape of a persisted region.
type RegionResponse struct {
	ID                   int64                  `json:"id"`
	Definition           store.RegionDefinition `json:"definition"`
	Metadata             json.RawMessage        `json:"metadata,omitempty"`
	State                string                 `json:"state"`
	Completion           string                 `json:"completion"`
	ManifestCount        int64                  `json:"manifest_count"`
	ErroredResourceCount int64                  `json:"errored_resource_count"`
	CreatedAt            time.Time              `json:"created_at"`
}

func regionToResponse(reg *store.Region) RegionResponse {
	return RegionResponse{
		ID:                   reg.ID,
		Definition:           reg.Definition,
		Metadata:             json.RawMessage(reg.Metadata),
		State:                reg.State.String(),
		Completion:           reg.Completion.String(),
		ManifestCount:        reg.ManifestCount,
		ErroredResourceCount: reg.ErroredResourceCount,
		CreatedAt:            reg.CreatedAt,
	}
}

// parseRegionID extracts the {id} route parameter.
func parseRegionID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		BadRequest(w, "Invalid region ID")
		return 0, false
	}
	return id, true
}

// Create handles POST /api/v1/regions - create a new offline region.
//
// The region starts inactive; activate it to begin downloading.
func (h *RegionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRegionRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	ctx, span := telemetry.StartSpan(r.Context(), telemetry.SpanRegionCreate)
	defer span.End()

	reg, err := h.eng.CreateRegion(ctx, req.Definition, []byte(req.Metadata))
	if err != nil {
		span.RecordError(err)
		Error(w, err)
		return
	}
	span.SetAttributes(telemetry.RegionID(reg.ID))

	Created(w, regionToResponse(reg))
}

// List handles GET /api/v1/regions - list all offline regions.
func (h *RegionHandler) List(w http.ResponseWriter, r *http.Request) {
	regs, err := h.eng.ListRegions(r.Context())
	if err != nil {
		Error(w, err)
		return
	}

	out := make([]RegionResponse, 0, len(regs))
	for _, reg := range regs {
		out = append(out, regionToResponse(reg))
	}

	OK(w, out)
}

// Get handles GET /api/v1/regions/{id} - fetch a single region.
func (h *RegionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseRegionID(w, r)
	if !ok {
		return
	}

	reg, err := h.eng.GetRegion(r.Context(), id)
	if err != nil {
		Error(w, err)
		return
	}

	OK(w, regionToResponse(reg))
}

// Status handles GET /api/v1/regions/{id}/status - download progress.
func (h *RegionHandler) Status(w http.ResponseWriter, r *http.Request) {
	id, ok := parseRegionID(w, r)
	if !ok {
		return
	}

	status, err := h.eng.RegionStatus(r.Context(), id)
	if err != nil {
		Error(w, err)
		return
	}

	OK(w, status)
}

// Delete handles DELETE /api/v1/regions/{id} - delete an inactive region.
//
// Resources still referenced by other regions survive; the rest move to
// the ambient cache, which evicts them once it is over budget.
func (h *RegionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseRegionID(w, r)
	if !ok {
		return
	}

	ctx, span := telemetry.StartRegionSpan(r.Context(), "delete", id)
	defer span.End()

	if err := h.eng.DeleteRegion(ctx, id); err != nil {
		span.RecordError(err)
		Error(w, err)
		return
	}

	NoContent(w)
}

// Activate handles POST /api/v1/regions/{id}/activate - start downloading.
//
// Returns 202 Accepted: the download proceeds in the background and its
// progress is visible through the status endpoint.
func (h *RegionHandler) Activate(w http.ResponseWriter, r *http.Request) {
	id, ok := parseRegionID(w, r)
	if !ok {
		return
	}

	ctx, span := telemetry.StartRegionSpan(r.Context(), "activate", id)
	defer span.End()

	if err := h.eng.SetRegionState(ctx, id, store.StateActive); err != nil {
		span.RecordError(err)
		Error(w, err)
		return
	}

	Accepted(w, map[string]int64{"id": id})
}

// Deactivate handles POST /api/v1/regions/{id}/deactivate - pause downloading.
func (h *RegionHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := parseRegionID(w, r)
	if !ok {
		return
	}

	ctx, span := telemetry.StartRegionSpan(r.Context(), "deactivate", id)
	defer span.End()

	if err := h.eng.SetRegionState(ctx, id, store.StateInactive); err != nil {
		span.RecordError(err)
		Error(w, err)
		return
	}

	OK(w, map[string]int64{"id": id})
}

// Invalidate handles POST /api/v1/regions/{id}/invalidate - force revalidation.
//
// Marks every resource in the region as expired so the next download
// pass revalidates them against the origin.
func (h *RegionHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	id, ok := parseRegionID(w, r)
	if !ok {
		return
	}

	ctx, span := telemetry.StartRegionSpan(r.Context(), "invalidate", id)
	defer span.End()

	if err := h.eng.InvalidateRegion(ctx, id); err != nil {
		span.RecordError(err)
		Error(w, err)
		return
	}

	OK(w, map[string]int64{"id": id})
}

// UpdateMetadata handles PUT /api/v1/regions/{id}/metadata - replace the
// opaque client metadata attached to a region.
func (h *RegionHandler) UpdateMetadata(w http.ResponseWriter, r *http.Request) {
	id, ok := parseRegionID(w, r)
	if !ok {
		return
	}

	var req UpdateMetadataRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if err := h.eng.UpdateRegionMetadata(r.Context(), id, []byte(req.Metadata)); err != nil {
		Error(w, err)
		return
	}

	reg, err := h.eng.GetRegion(r.Context(), id)
	if err != nil {
		Error(w, err)
		return
	}

	OK(w, regionToResponse(reg))
}
