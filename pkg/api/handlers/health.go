package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/tilevault/tilevault/pkg/engine"
)

const storeProbeTimeout = 5 * time.Second

// HealthHandler handles health check endpoints.
//
// Health endpoints are unauthenticated and provide:
//   - Liveness probe: Is the server process running?
//   - Readiness probe: Is the engine open and its store reachable?
//   - Store health: Backend identity and probe latency
type HealthHandler struct {
	eng     *engine.Engine
	backend string
}

// NewHealthHandler creates a new health handler.
//
// The engine parameter may be nil, in which case readiness and store
// health checks will return unhealthy status.
func NewHealthHandler(eng *engine.Engine, backend string) *HealthHandler {
	return &HealthHandler{eng: eng, backend: backend}
}

// Liveness handles GET /health - simple liveness probe.
//
// Returns 200 OK if the server process is running. This endpoint is designed
// for Kubernetes liveness probes and should always succeed as long as the
// HTTP server is responsive.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	data := map[string]string{
		"service": "tilevault",
	}
	if h.eng != nil {
		data["instance"] = h.eng.InstanceID()
	}
	writeJSON(w, http.StatusOK, healthyResponse(data))
}

// Readiness handles GET /health/ready - readiness probe.
//
// Returns 200 OK once the engine is open and its store answers a
// healthcheck. Returns 503 Service Unavailable otherwise.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.eng == nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("engine not initialized"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), storeProbeTimeout)
	defer cancel()

	if err := h.eng.Healthcheck(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse(err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, healthyResponse(map[string]string{
		"service":  "tilevault",
		"instance": h.eng.InstanceID(),
	}))
}

// StoreHealth represents the health status of the storage backend.
type StoreHealth struct {
	Backend string `json:"backend"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Store handles GET /health/store - detailed store health.
//
// Runs a healthcheck against the storage backend and reports the
// round-trip latency. Returns 200 OK if the store is healthy,
// 503 Service Unavailable if not.
func (h *HealthHandler) Store(w http.ResponseWriter, r *http.Request) {
	if h.eng == nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("engine not initialized"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), storeProbeTimeout)
	defer cancel()

	start := time.Now()
	err := h.eng.Healthcheck(ctx)
	latency := time.Since(start)

	health := StoreHealth{
		Backend: h.backend,
		Latency: latency.String(),
	}

	if err != nil {
		health.Status = "unhealthy"
		health.Error = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponseWithData(err.Error(), health))
		return
	}

	health.Status = "healthy"
	writeJSON(w, http.StatusOK, healthyResponse(health))
}
