package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tilevault/tilevault/pkg/api/auth"
	"github.com/tilevault/tilevault/pkg/engine"
	"github.com/tilevault/tilevault/pkg/metrics"
	"github.com/tilevault/tilevault/pkg/store/memory"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	eng := engine.New(engine.Config{}, memory.New())
	if err := eng.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { eng.Close() })
	return eng
}

func TestNewRouter_HealthIsUnauthenticated(t *testing.T) {
	eng := newTestEngine(t)
	router, err := NewRouter(eng, Config{Auth: AuthConfig{Secret: testSecret}})
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}

	for _, target := range []string{"/health", "/health/ready", "/health/store"} {
		req := httptest.NewRequest("GET", target, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("GET %s: expected status %d, got %d", target, http.StatusOK, w.Code)
		}
	}
}

func TestNewRouter_APIRequiresToken(t *testing.T) {
	eng := newTestEngine(t)
	router, err := NewRouter(eng, Config{Auth: AuthConfig{Secret: testSecret}})
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}

	req := httptest.NewRequest("GET", "/api/v1/regions", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("Expected status %d without token, got %d", http.StatusUnauthorized, w.Code)
	}

	svc, err := auth.NewService(testSecret, 0)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	token, _, err := svc.Mint("test", 0)
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}

	req = httptest.NewRequest("GET", "/api/v1/regions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d with token, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
}

func TestNewRouter_OpenWithoutSecret(t *testing.T) {
	eng := newTestEngine(t)
	router, err := NewRouter(eng, Config{})
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}

	req := httptest.NewRequest("GET", "/api/v1/regions", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d without auth configured, got %d", http.StatusOK, w.Code)
	}
}

func TestNewRouter_ShortSecretFails(t *testing.T) {
	eng := newTestEngine(t)
	if _, err := NewRouter(eng, Config{Auth: AuthConfig{Secret: "short"}}); err == nil {
		t.Error("NewRouter() accepted a short auth secret, want error")
	}
}

func TestNewRouter_MetricsEndpoint(t *testing.T) {
	metrics.InitRegistry()

	eng := newTestEngine(t)
	router, err := NewRouter(eng, Config{})
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Error("Expected Go runtime collector output on /metrics")
	}
}

func TestNewRouter_RootRedirectsToHealth(t *testing.T) {
	eng := newTestEngine(t)
	router, err := NewRouter(eng, Config{})
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}

	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusTemporaryRedirect {
		t.Errorf("Expected status %d, got %d", http.StatusTemporaryRedirect, w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "/health" {
		t.Errorf("Expected redirect to /health, got %q", loc)
	}
}

func TestNewServer_AppliesDefaults(t *testing.T) {
	eng := newTestEngine(t)
	srv, err := NewServer(Config{}, eng)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	if srv.Port() != 8080 {
		t.Errorf("Port() = %d, want default 8080", srv.Port())
	}
	if err := srv.Stop(context.Background()); err != nil {
		t.Errorf("Stop() before Start error = %v", err)
	}
}
