package apiclient

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/health", r.URL.Path)

		writeData(t, w, http.StatusOK, map[string]string{"service": "tilevault"})
	}))
	defer server.Close()

	client := New(server.URL)
	err := client.Health()

	require.NoError(t, err)
}

func TestReady_Unavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health/ready", r.URL.Path)
		writeAPIError(w, http.StatusServiceUnavailable, "engine not initialized")
	}))
	defer server.Close()

	client := New(server.URL)
	err := client.Ready()

	require.Error(t, err)

	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, "engine not initialized", apiErr.Message)
}

func TestGetStoreHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/health/store", r.URL.Path)

		writeData(t, w, http.StatusOK, StoreHealth{
			Backend: "sqlite",
			Status:  "healthy",
			Latency: "1.2ms",
		})
	}))
	defer server.Close()

	client := New(server.URL)
	health, err := client.GetStoreHealth()

	require.NoError(t, err)
	assert.Equal(t, "sqlite", health.Backend)
	assert.Equal(t, "healthy", health.Status)
	assert.Empty(t, health.Error)
}
