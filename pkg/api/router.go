package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tilevault/tilevault/internal/logger"
	"github.com/tilevault/tilevault/pkg/api/auth"
	"github.com/tilevault/tilevault/pkg/api/handlers"
	apimw "github.com/tilevault/tilevault/pkg/api/middleware"
	"github.com/tilevault/tilevault/pkg/engine"
	"github.com/tilevault/tilevault/pkg/metrics"
)

// NewRouter creates and configures the chi router with all middleware and routes.
//
// The router is configured with:
//   - Request ID middleware for request tracking
//   - Real IP extraction for proper client identification
//   - Custom request logging using the internal logger
//   - Panic recovery to prevent server crashes
//   - Request timeout to prevent hung requests
//
// Health probes and the Prometheus scrape endpoint are unauthenticated.
// Everything under /api/v1 requires a bearer token once an auth secret
// is configured.
func NewRouter(eng *engine.Engine, cfg Config) (http.Handler, error) {
	cfg.ApplyDefaults()

	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	healthHandler := handlers.NewHealthHandler(eng, cfg.Backend)
	regionHandler := handlers.NewRegionHandler(eng)
	cacheHandler := handlers.NewCacheHandler(eng)
	resourceHandler := handlers.NewResourceHandler(eng)

	// Health routes - unauthenticated
	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
		r.Get("/store", healthHandler.Store)
	})

	// Prometheus scrape endpoint - unauthenticated
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	var guard func(http.Handler) http.Handler
	if cfg.AuthEnabled() {
		svc, err := auth.NewService(cfg.Auth.Secret, cfg.Auth.TokenTTL)
		if err != nil {
			return nil, fmt.Errorf("configure API auth: %w", err)
		}
		guard = apimw.JWTAuth(svc)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(apimw.Tracing)
		if guard != nil {
			r.Use(guard)
		}

		r.Route("/regions", func(r chi.Router) {
			r.Get("/", regionHandler.List)
			r.Post("/", regionHandler.Create)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", regionHandler.Get)
				r.Delete("/", regionHandler.Delete)
				r.Get("/status", regionHandler.Status)
				r.Post("/activate", regionHandler.Activate)
				r.Post("/deactivate", regionHandler.Deactivate)
				r.Post("/invalidate", regionHandler.Invalidate)
				r.Put("/metadata", regionHandler.UpdateMetadata)
			})
		})

		r.Route("/cache", func(r chi.Router) {
			r.Get("/", cacheHandler.Stats)
			r.Delete("/", cacheHandler.Clear)
			r.Post("/invalidate", cacheHandler.Invalidate)
			r.Put("/limits", cacheHandler.UpdateLimits)
			r.Post("/pack", cacheHandler.Pack)
		})

		r.Get("/status", cacheHandler.EngineStatus)
		r.Get("/resources", resourceHandler.Resource)
		r.Get("/tiles/{source}/{z}/{x}/{y}", resourceHandler.Tile)
	})

	// Root redirect to health for convenience
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	return r, nil
}

// requestLogger is a custom middleware that logs requests using the internal logger.
//
// It logs:
//   - Request start (DEBUG level): method, path, remote addr
//   - Request completion (INFO level): method, path, status, duration
//
// Probe and scrape endpoints complete at DEBUG so orchestrator traffic
// does not drown the log.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("API request started",
			logger.KeyRequestID, requestID,
			logger.KeyMethod, r.Method,
			logger.KeyPath, r.URL.Path,
			logger.KeyClientIP, r.RemoteAddr,
		)

		// Wrap response writer to capture status code
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)

		log := logger.Info
		if strings.HasPrefix(r.URL.Path, "/health") || r.URL.Path == "/metrics" {
			log = logger.Debug
		}
		log("API request completed",
			logger.KeyRequestID, requestID,
			logger.KeyMethod, r.Method,
			logger.KeyPath, r.URL.Path,
			logger.KeyStatus, ww.Status(),
			logger.KeySize, ww.BytesWritten(),
			logger.KeyDurationMs, duration.Milliseconds(),
		)
	})
}
