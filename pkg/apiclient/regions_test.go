package apiclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeData emits the server's response envelope around data.
func writeData(t *testing.T, w http.ResponseWriter, status int, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Status: "ok", Timestamp: time.Now().UTC(), Data: raw})
}

// writeAPIError emits the server's error envelope.
func writeAPIError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Status: "error", Timestamp: time.Now().UTC(), Error: msg})
}

func testDefinition() RegionDefinition {
	return RegionDefinition{
		MinLat:     45.0,
		MinLon:     9.0,
		MaxLat:     46.0,
		MaxLon:     10.0,
		MinZoom:    0,
		MaxZoom:    4,
		StyleURL:   "https://maps.example.com/style.json",
		PixelRatio: 1,
	}
}

func TestListRegions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/regions", r.URL.Path)

		writeData(t, w, http.StatusOK, []Region{
			{ID: 1, Definition: testDefinition(), State: "inactive", Completion: "none"},
			{ID: 2, Definition: testDefinition(), State: "active", Completion: "complete"},
		})
	}))
	defer server.Close()

	client := New(server.URL).WithToken("test-token")
	regions, err := client.ListRegions()

	require.NoError(t, err)
	assert.Len(t, regions, 2)
	assert.Equal(t, int64(1), regions[0].ID)
	assert.Equal(t, "active", regions[1].State)
}

func TestGetRegion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/regions/7", r.URL.Path)

		writeData(t, w, http.StatusOK, Region{
			ID:            7,
			Definition:    testDefinition(),
			Metadata:      json.RawMessage(`{"name":"milan"}`),
			State:         "inactive",
			Completion:    "none",
			ManifestCount: 22,
		})
	}))
	defer server.Close()

	client := New(server.URL).WithToken("test-token")
	region, err := client.GetRegion(7)

	require.NoError(t, err)
	assert.Equal(t, int64(7), region.ID)
	assert.Equal(t, "inactive", region.State)
	assert.JSONEq(t, `{"name":"milan"}`, string(region.Metadata))
	assert.Equal(t, int64(22), region.ManifestCount)
}

func TestGetRegion_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, http.StatusNotFound, "region 99 not found")
	}))
	defer server.Close()

	client := New(server.URL).WithToken("test-token")
	region, err := client.GetRegion(99)

	assert.Nil(t, region)
	require.Error(t, err)

	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.True(t, apiErr.IsNotFound())
	assert.Equal(t, "region 99 not found", apiErr.Message)
}

func TestCreateRegion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/regions", r.URL.Path)

		var req CreateRegionRequest
		err := json.NewDecoder(r.Body).Decode(&req)
		require.NoError(t, err)
		assert.Equal(t, "https://maps.example.com/style.json", req.Definition.StyleURL)
		assert.JSONEq(t, `{"name":"milan"}`, string(req.Metadata))

		writeData(t, w, http.StatusCreated, Region{
			ID:         42,
			Definition: req.Definition,
			Metadata:   req.Metadata,
			State:      "inactive",
			Completion: "none",
		})
	}))
	defer server.Close()

	client := New(server.URL).WithToken("test-token")
	region, err := client.CreateRegion(&CreateRegionRequest{
		Definition: testDefinition(),
		Metadata:   json.RawMessage(`{"name":"milan"}`),
	})

	require.NoError(t, err)
	assert.Equal(t, int64(42), region.ID)
	assert.Equal(t, "inactive", region.State)
}

func TestCreateRegion_InvalidDefinition(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, http.StatusUnprocessableEntity, "invalid region definition: min zoom exceeds max zoom")
	}))
	defer server.Close()

	client := New(server.URL).WithToken("test-token")
	region, err := client.CreateRegion(&CreateRegionRequest{Definition: testDefinition()})

	assert.Nil(t, region)
	require.Error(t, err)

	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.True(t, apiErr.IsValidationError())
}

func TestActivateRegion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/regions/7/activate", r.URL.Path)

		writeData(t, w, http.StatusAccepted, map[string]int64{"id": 7})
	}))
	defer server.Close()

	client := New(server.URL).WithToken("test-token")
	err := client.ActivateRegion(7)

	require.NoError(t, err)
}

func TestDeactivateRegion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/regions/7/deactivate", r.URL.Path)

		writeData(t, w, http.StatusOK, map[string]int64{"id": 7})
	}))
	defer server.Close()

	client := New(server.URL).WithToken("test-token")
	err := client.DeactivateRegion(7)

	require.NoError(t, err)
}

func TestInvalidateRegion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/regions/7/invalidate", r.URL.Path)

		writeData(t, w, http.StatusOK, map[string]int64{"id": 7})
	}))
	defer server.Close()

	client := New(server.URL).WithToken("test-token")
	err := client.InvalidateRegion(7)

	require.NoError(t, err)
}

func TestDeleteRegion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/api/v1/regions/7", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := New(server.URL).WithToken("test-token")
	err := client.DeleteRegion(7)

	require.NoError(t, err)
}

func TestDeleteRegion_StillActive(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, http.StatusConflict, "region 7: cannot delete an active region")
	}))
	defer server.Close()

	client := New(server.URL).WithToken("test-token")
	err := client.DeleteRegion(7)

	require.Error(t, err)

	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.True(t, apiErr.IsConflict())
}

func TestGetRegionStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/regions/7/status", r.URL.Path)

		writeData(t, w, http.StatusOK, RegionStatus{
			RegionID:               7,
			Phase:                  "downloading",
			ManifestCount:          22,
			CompletedResourceCount: 10,
			CompletedTileCount:     9,
			CompletedBytes:         4096,
			ManifestComplete:       true,
		})
	}))
	defer server.Close()

	client := New(server.URL).WithToken("test-token")
	status, err := client.GetRegionStatus(7)

	require.NoError(t, err)
	assert.Equal(t, "downloading", status.Phase)
	assert.Equal(t, int64(10), status.CompletedResourceCount)
	assert.True(t, status.ManifestComplete)
}

func TestUpdateRegionMetadata(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/v1/regions/7/metadata", r.URL.Path)

		var req UpdateMetadataRequest
		err := json.NewDecoder(r.Body).Decode(&req)
		require.NoError(t, err)
		assert.JSONEq(t, `{"name":"renamed"}`, string(req.Metadata))

		writeData(t, w, http.StatusOK, Region{
			ID:       7,
			Metadata: req.Metadata,
			State:    "inactive",
		})
	}))
	defer server.Close()

	client := New(server.URL).WithToken("test-token")
	region, err := client.UpdateRegionMetadata(7, json.RawMessage(`{"name":"renamed"}`))

	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"renamed"}`, string(region.Metadata))
}
