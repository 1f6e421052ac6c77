package handlers

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestResource_Style_ServesPayloadAndHeaders(t *testing.T) {
	eng, _ := newTestEngine(t)
	router := newTestRouter(eng)

	target := "/resources?kind=style&url=" + url.QueryEscape(testStyleURL)
	req := httptest.NewRequest("GET", target, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	if !bytes.Equal(w.Body.Bytes(), minimalStyle()) {
		t.Errorf("Payload mismatch: got %q", w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/octet-stream" {
		t.Errorf("Expected Content-Type application/octet-stream, got %q", ct)
	}
	if etag := w.Header().Get("ETag"); etag != `"v1"` {
		t.Errorf("Expected ETag %q, got %q", `"v1"`, etag)
	}
	if w.Header().Get("Expires") == "" {
		t.Error("Expected Expires header from origin caching metadata")
	}
}

func TestResource_MissingParams_Returns400(t *testing.T) {
	eng, _ := newTestEngine(t)
	router := newTestRouter(eng)

	for _, target := range []string{
		"/resources",
		"/resources?kind=style",
		"/resources?url=https%3A%2F%2Fx",
	} {
		req := httptest.NewRequest("GET", target, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("GET %s: expected status %d, got %d", target, http.StatusBadRequest, w.Code)
		}
	}
}

func TestResource_UnknownKind_Returns400(t *testing.T) {
	eng, _ := newTestEngine(t)
	router := newTestRouter(eng)

	req := httptest.NewRequest("GET", "/resources?kind=font&url=https%3A%2F%2Fx", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestResource_TileKind_Returns400(t *testing.T) {
	eng, _ := newTestEngine(t)
	router := newTestRouter(eng)

	req := httptest.NewRequest("GET", "/resources?kind=tile&url=https%3A%2F%2Fx", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestTile_ExpandsTemplateAndCaches(t *testing.T) {
	eng, origin := newTestEngine(t)
	router := newTestRouter(eng)

	target := "/tiles/base/3/2/1?url=" + url.QueryEscape(testTileTemplate)
	req := httptest.NewRequest("GET", target, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	expanded := "https://tiles.example.com/3/2/1.pbf"
	if w.Body.String() != "payload for "+expanded {
		t.Errorf("Payload = %q, want synthesized payload for %s", w.Body.String(), expanded)
	}
	if origin.callCount(expanded) != 1 {
		t.Errorf("Origin called %d times, want 1", origin.callCount(expanded))
	}

	// Same tile again comes from cache.
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", target, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d on second fetch, got %d", http.StatusOK, w.Code)
	}
	if origin.callCount(expanded) != 1 {
		t.Errorf("Origin called %d times across two fetches, want 1", origin.callCount(expanded))
	}
}

func TestTile_RatioParamSelectsRetina(t *testing.T) {
	eng, origin := newTestEngine(t)
	router := newTestRouter(eng)

	template := "https://tiles.example.com/{z}/{x}/{y}{ratio}.png"
	target := "/tiles/satellite/1/0/0?ratio=2&url=" + url.QueryEscape(template)
	req := httptest.NewRequest("GET", target, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	if origin.callCount("https://tiles.example.com/1/0/0@2x.png") != 1 {
		t.Error("Expected the @2x variant to be fetched")
	}
}

func TestTile_InvalidCoordinates_Returns400(t *testing.T) {
	eng, _ := newTestEngine(t)
	router := newTestRouter(eng)

	for _, target := range []string{
		"/tiles/base/abc/0/0?url=" + url.QueryEscape(testTileTemplate),
		"/tiles/base/23/0/0?url=" + url.QueryEscape(testTileTemplate),
		"/tiles/base/0/-1/0?url=" + url.QueryEscape(testTileTemplate),
	} {
		req := httptest.NewRequest("GET", target, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("GET %s: expected status %d, got %d", target, http.StatusBadRequest, w.Code)
		}
	}
}

func TestTile_MissingTemplate_Returns400(t *testing.T) {
	eng, _ := newTestEngine(t)
	router := newTestRouter(eng)

	req := httptest.NewRequest("GET", "/tiles/base/0/0/0", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}
