package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthEndpoint(t *testing.T) {
	s := NewServer(":0", "transmitter", nil, zerolog.Nop())
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "transmitter", body["service"])
}

func TestReadyEndpointDegraded(t *testing.T) {
	ready := func(ctx context.Context) (bool, map[string]any) {
		return false, map[string]any{"circuit_breaker": "open"}
	}
	s := NewServer(":0", "transmitter", ready, zerolog.Nop())
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not_ready", body["status"])
	assert.Equal(t, "open", body["circuit_breaker"])
}

func TestRequireAPIKey(t *testing.T) {
	var hit bool
	h := RequireAPIKey("s3cret", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/dryrun/start", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, hit)

	req := httptest.NewRequest(http.MethodPost, "/api/dryrun/start", nil)
	req.Header.Set("X-Internal-API-Key", "wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req.Header.Set("X-Internal-API-Key", "s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, hit)
}

func TestRequireAPIKeyDisabledWhenEmpty(t *testing.T) {
	h := RequireAPIKey("", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
