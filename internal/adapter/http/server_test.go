package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpadapter "github.com/couchcryptid/weather-file-sync/internal/adapter/http"
	"github.com/couchcryptid/weather-file-sync/internal/domain"
)

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

type mockRuns struct {
	latest []domain.Summary
}

func (m *mockRuns) Latest() []domain.Summary { return m.latest }

type mockHistory struct {
	runs      []domain.Summary
	err       error
	lastLimit int
}

func (m *mockHistory) Recent(_ context.Context, limit int) ([]domain.Summary, error) {
	m.lastLimit = limit
	return m.runs, m.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(readyErr error) *httpadapter.Server {
	return httpadapter.NewServer(":0", &mockReadiness{err: readyErr}, &mockRuns{}, nil, discardLogger())
}

func get(srv http.Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

type runsBody struct {
	Runs []domain.Summary `json:"runs"`
}

func TestHealthzReturns200(t *testing.T) {
	rec := get(newTestServer(nil), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	rec := get(newTestServer(nil), "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	rec := get(newTestServer(fmt.Errorf("no synchronization run has completed yet")), "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := get(newTestServer(nil), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestLatestRuns(t *testing.T) {
	runs := &mockRuns{latest: []domain.Summary{
		{RunID: "run-h", Category: domain.CategoryHistoric, State: domain.StateDone},
		{RunID: "run-f", Category: domain.CategoryFuture, State: domain.StateFailed, Error: "list remote: remote unavailable"},
	}}
	srv := httpadapter.NewServer(":0", &mockReadiness{}, runs, nil, discardLogger())

	rec := get(srv, "/api/v1/runs/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body runsBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 2)
	assert.Equal(t, "run-h", body.Runs[0].RunID)
	assert.Equal(t, domain.StateFailed, body.Runs[1].State)
	assert.Contains(t, rec.Body.String(), `"state":"failed"`)
}

func TestLatestRuns_Empty(t *testing.T) {
	rec := get(newTestServer(nil), "/api/v1/runs/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"runs": null}`, rec.Body.String())
}

func TestRunHistory(t *testing.T) {
	hist := &mockHistory{runs: []domain.Summary{{RunID: "run-2"}, {RunID: "run-1"}}}
	srv := httpadapter.NewServer(":0", &mockReadiness{}, &mockRuns{}, hist, discardLogger())

	rec := get(srv, "/api/v1/runs?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, hist.lastLimit)

	var body runsBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 2)
	assert.Equal(t, "run-2", body.Runs[0].RunID)

	get(srv, "/api/v1/runs")
	assert.Equal(t, 20, hist.lastLimit, "default limit")
}

func TestRunHistory_BadLimit(t *testing.T) {
	srv := httpadapter.NewServer(":0", &mockReadiness{}, &mockRuns{}, &mockHistory{}, discardLogger())

	for _, q := range []string{"0", "-1", "abc", "501"} {
		rec := get(srv, "/api/v1/runs?limit="+q)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "limit=%s", q)
	}
}

func TestRunHistory_Disabled(t *testing.T) {
	rec := get(newTestServer(nil), "/api/v1/runs")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunHistory_Error(t *testing.T) {
	srv := httpadapter.NewServer(":0", &mockReadiness{}, &mockRuns{}, &mockHistory{err: errors.New("database is locked")}, discardLogger())

	rec := get(srv, "/api/v1/runs")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "database is locked")
}
