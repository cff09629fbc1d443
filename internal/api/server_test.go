package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/glucosync/glucosync/pkg/connector/core"
)

type stubSource struct {
	statuses []core.HealthStatus
}

func (s *stubSource) ProviderStatuses() []core.HealthStatus { return s.statuses }

func newTestServer(t *testing.T, statuses []core.HealthStatus) *Server {
	return NewServer("127.0.0.1:0", &stubSource{statuses: statuses}, zaptest.NewLogger(t))
}

func TestHealthzAllHealthy(t *testing.T) {
	s := newTestServer(t, []core.HealthStatus{
		{Provider: "cgm-main", Healthy: true},
		{Provider: "pump-main", Healthy: true},
	})

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(2), body["providers"])
}

func TestHealthzDegraded(t *testing.T) {
	s := newTestServer(t, []core.HealthStatus{
		{Provider: "cgm-main", Healthy: true},
		{Provider: "pump-main", Healthy: false, ConsecutiveFailures: 4},
	})

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestProvidersEndpoint(t *testing.T) {
	wm := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	s := newTestServer(t, []core.HealthStatus{
		{Provider: "cgm-main", Healthy: true, Watermark: wm, FailedRequests: 2},
	})

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/providers", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Providers []core.HealthStatus `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Providers, 1)
	assert.Equal(t, "cgm-main", body.Providers[0].Provider)
	assert.Equal(t, int64(2), body.Providers[0].FailedRequests)
	assert.True(t, wm.Equal(body.Providers[0].Watermark))
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
