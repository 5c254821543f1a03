package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmetrics/vmetrics/internal/config"
	"github.com/vmetrics/vmetrics/internal/core/fetchqueue"
	"github.com/vmetrics/vmetrics/internal/core/redtrack"
	apperrors "github.com/vmetrics/vmetrics/internal/errors"
)

type stubReports struct{}

func (stubReports) Report(context.Context, redtrack.ReportQuery) ([]redtrack.Row, error) {
	return []redtrack.Row{{CampaignID: "c1", Campaign: "Spring", Clicks: 4, Cost: 2}}, nil
}

func (stubReports) Campaigns(context.Context) ([]redtrack.Campaign, error) {
	return nil, fetchqueue.ErrRateLimited
}

type stubQueue struct{}

func (stubQueue) Stats() fetchqueue.Stats { return fetchqueue.Stats{Depth: 2} }

func newTestServer() *Server {
	return New(config.ServerConfig{Host: "127.0.0.1"}, Dependencies{Reports: stubReports{}, Queue: stubQueue{}})
}

func get(srv *Server, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestServerUsesStandardErrorHandlers(t *testing.T) {
	rec := get(newTestServer(), "/does-not-exist")
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "NOT_FOUND", body.Error.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServerRejectsWrongMethod(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/campaigns", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServerRoutesReports(t *testing.T) {
	rec := get(newTestServer(), "/v1/reports/campaigns?date_from=2025-01-01&date_to=2025-01-02")
	require.Equal(t, http.StatusOK, rec.Code)

	var report redtrack.SummaryReport
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	require.Len(t, report.Rows, 1)
	assert.Equal(t, "c1", report.Rows[0].Key)
}

func TestServerSurfacesRateLimitWithRetryAfter(t *testing.T) {
	rec := get(newTestServer(), "/v1/campaigns")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "10", rec.Header().Get("Retry-After"))
}

func TestServerQueueStats(t *testing.T) {
	rec := get(newTestServer(), "/v1/queue/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats fetchqueue.Stats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	assert.Equal(t, 2, stats.Depth)
}

func TestServerWithoutDependencies(t *testing.T) {
	srv := New(config.ServerConfig{}, Dependencies{})
	assert.Equal(t, http.StatusServiceUnavailable, get(srv, "/v1/reports/sources?date_from=2025-01-01&date_to=2025-01-01").Code)
	assert.NoError(t, srv.Shutdown(context.Background()))
}

func TestServerOptionalRoutes(t *testing.T) {
	plain := newTestServer()
	assert.Equal(t, http.StatusNotFound, get(plain, "/debug/pprof/").Code)

	srv := New(config.ServerConfig{}, Dependencies{}, WithProfiler(true), WithHealth(false))
	assert.Equal(t, http.StatusOK, get(srv, "/debug/pprof/").Code)
	assert.Equal(t, http.StatusNotFound, get(srv, "/health").Code)
}
