package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/piculi-bot/piculi-engine/pkg/config"
)

func okCheck(context.Context) error { return nil }

func serveHealth(t *testing.T, checks map[string]HealthCheck, path string) *httptest.ResponseRecorder {
	t.Helper()
	handler := NewHealthHandler(&config.Config{Version: "test-version", Env: "test"}, checks, zap.NewNop())
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthHandler_AllChecksPass(t *testing.T) {
	rec := serveHealth(t, map[string]HealthCheck{"postgres": okCheck, "analytics": okCheck}, "/health")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]string{"postgres": "ok", "analytics": "ok"}, resp.Checks)
}

func TestHealthHandler_FailedCheckIsDegraded(t *testing.T) {
	checks := map[string]HealthCheck{
		"postgres": okCheck,
		"redis":    func(context.Context) error { return errors.New("dial tcp: connection refused") },
	}

	rec := serveHealth(t, checks, "/health")

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "ok", resp.Checks["postgres"])
	assert.Contains(t, resp.Checks["redis"], "connection refused")
}

func TestHealthHandler_NoChecks(t *testing.T) {
	rec := serveHealth(t, nil, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthHandler_Ping(t *testing.T) {
	called := false
	rec := serveHealth(t, map[string]HealthCheck{"postgres": func(context.Context) error {
		called = true
		return nil
	}}, "/ping")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp PingResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "piculi-engine", resp.Service)
	assert.Equal(t, "test-version", resp.Version)
	assert.Equal(t, "test", resp.Environment)
	assert.NotEmpty(t, resp.Uptime)
	assert.False(t, called)
}
