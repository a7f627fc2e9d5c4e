package metrics

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/creeping-vampires/neura-vaults-backend/internal/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "vault")

	start := time.Unix(1700000000, 0)
	run := types.NewRunResult("r1", common.Address{}, start)
	run.CycleNumber = 12
	run.SetPhase(types.PhaseDeposit, types.PhaseOK(2, sdkmath.NewInt(5)))
	run.SetPhase(types.PhaseHarvest, types.PhaseSkip("gas"))
	run.Transactions = append(run.Transactions, types.TransactionRecord{Phase: types.PhaseDeposit, Method: "fullfillBatchDeposits", Status: types.TxSuccess})
	run.QueueAfter = types.QueueCounts{Deposit: 3, Withdrawal: 1}
	run.APY = append(run.APY, types.APYWindow{WindowDays: 7, APY: 0.052}, types.APYWindow{WindowDays: 1, Unavailable: "no block"})
	run.Finalize(start.Add(42 * time.Second))

	m.ObserveRun(*run, types.Asset{Symbol: "USDe", Decimals: 18})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PhasesTotal.WithLabelValues(types.PhaseHarvest, "skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransactionsTotal.WithLabelValues(types.PhaseDeposit, "fullfillBatchDeposits", "success")))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.CycleNumber.WithLabelValues()))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.QueueLength.WithLabelValues("deposit")))
	assert.Equal(t, 0.052, testutil.ToFloat64(m.VaultAPY.WithLabelValues("7d")))

	n, err := testutil.GatherAndCount(reg, "vault_vault_apy")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	m.ObserveRun(types.RunResult{}, types.Asset{})
	m.ObserveError("x")
	m.SetStranded(2)
}

func TestWindowLabel(t *testing.T) {
	assert.Equal(t, "1d", windowLabel(1))
	assert.Equal(t, "7d", windowLabel(7))
	assert.Equal(t, "12h0m0s", windowLabel(0.5))
}
