package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tilevault/tilevault/pkg/store"
)

func createRegion(t *testing.T, router http.Handler, def store.RegionDefinition, metadata string) RegionResponse {
	t.Helper()
	body, err := json.Marshal(CreateRegionRequest{
		Definition: def,
		Metadata:   json.RawMessage(metadata),
	})
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}

	req := httptest.NewRequest("POST", "/regions", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusCreated, w.Code, w.Body.String())
	}

	resp := decodeEnvelope(t, w.Body)
	raw, err := json.Marshal(resp.Data)
	if err != nil {
		t.Fatalf("Failed to re-marshal data: %v", err)
	}
	var reg RegionResponse
	if err := json.Unmarshal(raw, &reg); err != nil {
		t.Fatalf("Failed to decode region: %v", err)
	}
	return reg
}

// waitForPhase polls the status endpoint until the region reaches the
// wanted phase.
func waitForPhase(t *testing.T, router http.Handler, id string, want string) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		req := httptest.NewRequest("GET", "/regions/"+id+"/status", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("Status endpoint returned %d: %s", w.Code, w.Body.String())
		}

		resp := decodeEnvelope(t, w.Body)
		data, ok := resp.Data.(map[string]interface{})
		if !ok {
			t.Fatalf("Expected Data to be a map, got %T", resp.Data)
		}
		if data["phase"] == want {
			return data
		}
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for phase %q, last %q", want, data["phase"])
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCreateRegion_ReturnsCreated(t *testing.T) {
	eng, _ := newTestEngine(t)
	router := newTestRouter(eng)

	reg := createRegion(t, router, worldDefinition(0, 1), `{"name":"europe"}`)

	if reg.ID != 1 {
		t.Errorf("Expected region ID 1, got %d", reg.ID)
	}
	if reg.State != "inactive" {
		t.Errorf("Expected state 'inactive', got '%s'", reg.State)
	}
	if reg.Completion != "none" {
		t.Errorf("Expected completion 'none', got '%s'", reg.Completion)
	}
	if string(reg.Metadata) != `{"name":"europe"}` {
		t.Errorf("Expected metadata echoed back, got %s", reg.Metadata)
	}
}

func TestCreateRegion_InvalidBody_Returns400(t *testing.T) {
	eng, _ := newTestEngine(t)
	router := newTestRouter(eng)

	req := httptest.NewRequest("POST", "/regions", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestCreateRegion_InvalidDefinition_Returns422(t *testing.T) {
	eng, _ := newTestEngine(t)
	router := newTestRouter(eng)

	def := worldDefinition(5, 2) // max below min
	body, _ := json.Marshal(CreateRegionRequest{Definition: def})

	req := httptest.NewRequest("POST", "/regions", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected status %d, got %d: %s", http.StatusUnprocessableEntity, w.Code, w.Body.String())
	}

	resp := decodeEnvelope(t, w.Body)
	if resp.Status != "error" {
		t.Errorf("Expected status 'error', got '%s'", resp.Status)
	}
	if resp.Error == "" {
		t.Error("Expected error message in envelope")
	}
}

func TestGetRegion_Unknown_Returns404(t *testing.T) {
	eng, _ := newTestEngine(t)
	router := newTestRouter(eng)

	req := httptest.NewRequest("GET", "/regions/999", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestGetRegion_MalformedID_Returns400(t *testing.T) {
	eng, _ := newTestEngine(t)
	router := newTestRouter(eng)

	req := httptest.NewRequest("GET", "/regions/abc", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestRegionLifecycle_ActivateDownloadDelete(t *testing.T) {
	eng, _ := newTestEngine(t)
	router := newTestRouter(eng)

	createRegion(t, router, worldDefinition(0, 1), "")

	req := httptest.NewRequest("POST", "/regions/1/activate", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusAccepted, w.Code, w.Body.String())
	}

	// World bounds at zoom 0..1 enumerate the style plus 5 tiles.
	status := waitForPhase(t, router, "1", "complete")
	if status["manifest_count"].(float64) != 6 {
		t.Errorf("Expected manifest_count 6, got %v", status["manifest_count"])
	}
	if status["completed_tile_count"].(float64) != 5 {
		t.Errorf("Expected completed_tile_count 5, got %v", status["completed_tile_count"])
	}
	if status["manifest_complete"] != true {
		t.Error("Expected manifest_complete true")
	}

	// Deleting while active conflicts.
	req = httptest.NewRequest("DELETE", "/regions/1", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusConflict {
		t.Fatalf("Expected status %d, got %d", http.StatusConflict, w.Code)
	}

	req = httptest.NewRequest("POST", "/regions/1/deactivate", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	req = httptest.NewRequest("DELETE", "/regions/1", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("Expected status %d, got %d", http.StatusNoContent, w.Code)
	}

	req = httptest.NewRequest("GET", "/regions/1", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status %d after delete, got %d", http.StatusNotFound, w.Code)
	}
}

func TestListRegions_ReturnsAll(t *testing.T) {
	eng, _ := newTestEngine(t)
	router := newTestRouter(eng)

	createRegion(t, router, worldDefinition(0, 0), "")
	createRegion(t, router, worldDefinition(0, 1), "")

	req := httptest.NewRequest("GET", "/regions", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	resp := decodeEnvelope(t, w.Body)
	list, ok := resp.Data.([]interface{})
	if !ok {
		t.Fatalf("Expected Data to be an array, got %T", resp.Data)
	}
	if len(list) != 2 {
		t.Errorf("Expected 2 regions, got %d", len(list))
	}
}

func TestUpdateMetadata_ReplacesAndEchoes(t *testing.T) {
	eng, _ := newTestEngine(t)
	router := newTestRouter(eng)

	createRegion(t, router, worldDefinition(0, 0), `{"v":1}`)

	body, _ := json.Marshal(UpdateMetadataRequest{Metadata: json.RawMessage(`{"v":2}`)})
	req := httptest.NewRequest("PUT", "/regions/1/metadata", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	resp := decodeEnvelope(t, w.Body)
	data, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("Expected Data to be a map, got %T", resp.Data)
	}
	meta, ok := data["metadata"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected metadata object, got %T", data["metadata"])
	}
	if meta["v"].(float64) != 2 {
		t.Errorf("Expected metadata v=2, got %v", meta["v"])
	}
}

func TestInvalidateRegion_AfterDownload(t *testing.T) {
	eng, _ := newTestEngine(t)
	router := newTestRouter(eng)

	createRegion(t, router, worldDefinition(0, 0), "")

	req := httptest.NewRequest("POST", "/regions/1/activate", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected status %d, got %d", http.StatusAccepted, w.Code)
	}
	waitForPhase(t, router, "1", "complete")

	req = httptest.NewRequest("POST", "/regions/1/invalidate", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
}
