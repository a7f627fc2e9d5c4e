package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/creeping-vampires/neura-vaults-backend/internal/events"
	"github.com/creeping-vampires/neura-vaults-backend/internal/metrics"
	"github.com/creeping-vampires/neura-vaults-backend/internal/rebalance"
	"github.com/creeping-vampires/neura-vaults-backend/internal/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var vaultAddr = common.HexToAddress("0x00000000000000000000000000000000000000a0")

func seed(t *testing.T) (*events.MemoryRecorder, *rebalance.MemoryStore) {
	t.Helper()
	ctx := context.Background()

	recorder := events.NewMemoryRecorder()
	for i, status := range []types.RunStatus{types.RunSuccess, types.RunPartial} {
		run := types.NewRunResult("run-"+string(rune('a'+i)), vaultAddr, time.Now().UTC())
		run.CycleNumber = uint64(i + 1)
		run.Status = status
		run.ProcessedCount = 2
		run.TotalReinvested = sdkmath.NewInt(5)
		_, err := recorder.SaveRun(ctx, *run)
		require.NoError(t, err)
	}

	store := rebalance.NewMemoryStore()
	legs := []types.RebalanceRecord{
		{RebalanceID: "r1", Leg: types.LegWithdrawal, Status: types.RebalanceCompleted, Amount: sdkmath.NewInt(10)},
		{RebalanceID: "r1", Leg: types.LegDeposit, Status: types.RebalanceFailed, Amount: sdkmath.NewInt(10)},
		{RebalanceID: "r2", Leg: types.LegWithdrawal, Status: types.RebalanceCompleted, Amount: sdkmath.NewInt(7)},
		{RebalanceID: "r2", Leg: types.LegDeposit, Status: types.RebalanceCompleted, Amount: sdkmath.NewInt(7)},
	}
	for _, leg := range legs {
		_, err := store.CreateRebalanceRecord(ctx, leg)
		require.NoError(t, err)
	}
	return recorder, store
}

func newServer(t *testing.T, health func(context.Context) error) *WebServer {
	recorder, store := seed(t)
	reg := prometheus.NewRegistry()
	metrics.NewMetrics(reg, "test").ObserveError("test")
	return NewWebServer(Options{
		Runs:       MemoryRuns{Recorder: recorder},
		Rebalances: MemoryRebalances{Store: store},
		Gatherer:   reg,
		Health:     health,
	})
}

func get(t *testing.T, ws *WebServer, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func TestRunsEndpoints(t *testing.T) {
	ws := newServer(t, nil)

	rec := get(t, ws, "/api/runs?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Runs  []types.RunResult
		Count int
		Limit int
	}
	decode(t, rec, &list)
	assert.Equal(t, 1, list.Count)
	assert.Equal(t, 1, list.Limit)
	assert.Equal(t, "run-b", list.Runs[0].RunID)

	rec = get(t, ws, "/api/runs/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	var latest types.RunResult
	decode(t, rec, &latest)
	assert.Equal(t, "run-b", latest.RunID)
	assert.Equal(t, types.RunPartial, latest.Status)

	rec = get(t, ws, "/api/runs/run-a")
	require.Equal(t, http.StatusOK, rec.Code)
	var byID types.RunResult
	decode(t, rec, &byID)
	assert.Equal(t, uint64(1), byID.CycleNumber)

	assert.Equal(t, http.StatusNotFound, get(t, ws, "/api/runs/missing").Code)

	rec = get(t, ws, "/api/runs/summary")
	require.Equal(t, http.StatusOK, rec.Code)
	var summary struct {
		TotalRuns       int    `json:"total_runs"`
		PartialRuns     int    `json:"partial_runs"`
		TotalProcessed  int64  `json:"total_processed"`
		TotalReinvested string `json:"total_reinvested"`
	}
	decode(t, rec, &summary)
	assert.Equal(t, 2, summary.TotalRuns)
	assert.Equal(t, 1, summary.PartialRuns)
	assert.Equal(t, int64(4), summary.TotalProcessed)
	assert.Equal(t, "10", summary.TotalReinvested)
}

func TestRebalanceEndpoints(t *testing.T) {
	ws := newServer(t, nil)

	assert.Equal(t, http.StatusBadRequest, get(t, ws, "/api/rebalances?status=lost").Code)

	rec := get(t, ws, "/api/rebalances?status=failed")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Rebalances []types.RebalanceRecord
		Count      int
	}
	decode(t, rec, &list)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "r1", list.Rebalances[0].RebalanceID)

	rec = get(t, ws, "/api/rebalances")
	decode(t, rec, &list)
	assert.Equal(t, 4, list.Count)

	rec = get(t, ws, "/api/rebalances/stranded")
	require.Equal(t, http.StatusOK, rec.Code)
	var stranded struct {
		Stranded []types.StrandedUnit
		Count    int
	}
	decode(t, rec, &stranded)
	require.Equal(t, 1, stranded.Count)
	assert.Equal(t, "r1", stranded.Stranded[0].RebalanceID)
}

func TestHealth(t *testing.T) {
	rec := get(t, newServer(t, nil), "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct{ Status string }
	decode(t, rec, &body)
	assert.Equal(t, "OK", body.Status)

	rec = get(t, newServer(t, func(context.Context) error { return errors.New("ping failed") }), "/api/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	decode(t, rec, &body)
	assert.Equal(t, "DEGRADED", body.Status)

	empty := NewWebServer(Options{
		Runs:       MemoryRuns{Recorder: events.NewMemoryRecorder()},
		Rebalances: MemoryRebalances{Store: rebalance.NewMemoryStore()},
	})
	assert.Equal(t, http.StatusServiceUnavailable, get(t, empty, "/health").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := get(t, newServer(t, nil), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "test_errors_total"))
}
