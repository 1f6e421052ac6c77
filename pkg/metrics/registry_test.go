package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// InitRegistry flips process-wide state, so the lifecycle is exercised as
// one ordered test instead of independent ones.
func TestRegistryLifecycle(t *testing.T) {
	if IsEnabled() {
		t.Fatal("metrics enabled before InitRegistry")
	}
	if GetRegistry() != nil {
		t.Fatal("GetRegistry() returned a registry before InitRegistry")
	}

	h := Handler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("disabled handler status = %d, want %d", rec.Code, http.StatusNotFound)
	}

	InitRegistry()
	if !IsEnabled() {
		t.Fatal("metrics disabled after InitRegistry")
	}
	reg := GetRegistry()
	if reg == nil {
		t.Fatal("GetRegistry() = nil after InitRegistry")
	}

	InitRegistry()
	if GetRegistry() != reg {
		t.Error("second InitRegistry replaced the registry")
	}

	// The handler was built while disabled; it picks up the registry at
	// serve time.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("enabled handler status = %d, want %d", rec.Code, http.StatusOK)
	}
	if body := rec.Body.String(); !strings.Contains(body, "go_goroutines") {
		t.Error("exposition output missing the Go runtime collector")
	}
}
