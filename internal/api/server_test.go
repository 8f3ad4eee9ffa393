package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/company-profile-crawler/internal/crawler"
	"github.com/JakeFAU/company-profile-crawler/internal/metrics"
	"github.com/JakeFAU/company-profile-crawler/internal/orchestrator"
)

type fakeStatus struct {
	status orchestrator.Status
}

func (f fakeStatus) Status() orchestrator.Status { return f.status }

func serve(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewServer(nil, zap.NewNop()), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_Status(t *testing.T) {
	t.Parallel()

	completed := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	src := fakeStatus{status: orchestrator.Status{
		Phase:     orchestrator.PhaseSearching,
		RunID:     "run-1",
		TaskIndex: 2,
		TaskTotal: 5,
		Keyword:   "Monzo",
		LastRun:   &crawler.HistoryMark{RunID: "run-0", RunCompletedAt: completed},
	}}
	rec := serve(t, NewServer(src, zap.NewNop()), "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "searching", got["phase"])
	require.Equal(t, "Monzo", got["keyword"])
	require.EqualValues(t, 2, got["task_index"])
	last, ok := got["last_run"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "run-0", last["run_id"])
	require.NotContains(t, got, "next_run_at")
}

func TestServer_StatusWithoutSource(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewServer(nil, zap.NewNop()), "/status")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	metrics.ObserveRun("completed")
	rec := serve(t, NewServer(nil, zap.NewNop()), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "crawler_runs_total")
}

func TestServer_RecoversPanics(t *testing.T) {
	t.Parallel()

	s := NewServer(nil, zap.NewNop())
	s.router.Get("/boom", func(http.ResponseWriter, *http.Request) { panic("boom") })
	rec := serve(t, s, "/boom")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
