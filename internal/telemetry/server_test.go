package telemetry

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/regimerun/internal/report"
	"github.com/sawpanic/regimerun/internal/report/perf"
)

func newTestServer(t *testing.T) (*Server, *Metrics, *RunIndex) {
	t.Helper()
	m := NewMetrics()
	runs := NewRunIndex()
	s := NewServer(DefaultServerConfig(), m, runs, "test", zerolog.Nop())
	return s, m, runs
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthEndpoint(t *testing.T) {
	s, _, runs := newTestServer(t)
	runs.Put(report.Summary{RunID: "a1", Strategy: "momentum"})

	rr := get(t, s.Handler(), "/health")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.Len(t, rr.Header().Get("X-Request-ID"), 8)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "test", resp.Version)
	assert.Equal(t, 1, resp.Runs)
}

func TestMetricsEndpoint(t *testing.T) {
	s, m, _ := newTestServer(t)
	m.TradeOpened("mean_reversion")

	rr := get(t, s.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `regimerun_trades_opened_total{strategy="mean_reversion"} 1`)
}

func TestRunsEndpoints(t *testing.T) {
	s, _, runs := newTestServer(t)
	runs.Put(report.Summary{RunID: "a1", Strategy: "momentum", Status: perf.StatusEvaluated})
	runs.Put(report.Summary{RunID: "b2", Strategy: "smart_money", Status: perf.StatusNoTrades})
	runs.Put(report.Summary{RunID: "a1", Strategy: "momentum", Setups: 7})

	rr := get(t, s.Handler(), "/runs")
	require.Equal(t, http.StatusOK, rr.Code)
	var list struct {
		Runs  []report.Summary `json:"runs"`
		Count int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Equal(t, 2, list.Count)
	assert.Equal(t, "a1", list.Runs[0].RunID)
	assert.Equal(t, 7, list.Runs[0].Setups, "replaced in place")

	rr = get(t, s.Handler(), "/runs?strategy=smart_money")
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "b2", list.Runs[0].RunID)

	rr = get(t, s.Handler(), "/runs/b2")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), `"status":"no_trades"`))

	rr = get(t, s.Handler(), "/runs/missing")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "unknown run")
}

func TestUnknownPath(t *testing.T) {
	s, _, _ := newTestServer(t)
	rr := get(t, s.Handler(), "/nope")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "not found")
}
