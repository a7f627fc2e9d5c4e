package orchestrator

import (
	"context"
	"errors"
	"math/big"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/creeping-vampires/neura-vaults-backend/internal/config"
	"github.com/creeping-vampires/neura-vaults-backend/internal/events"
	"github.com/creeping-vampires/neura-vaults-backend/internal/metrics"
	"github.com/creeping-vampires/neura-vaults-backend/internal/rebalance"
	"github.com/creeping-vampires/neura-vaults-backend/internal/types"
	"github.com/creeping-vampires/neura-vaults-backend/internal/utils"
	"github.com/creeping-vampires/neura-vaults-backend/internal/vault/vaulttest"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	poolA      = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	poolB      = common.HexToAddress("0x00000000000000000000000000000000000000b3")
	depositor  = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	withdrawer = common.HexToAddress("0x00000000000000000000000000000000000000d2")
)

func units(n int64) sdkmath.Int { return utils.WholeUnits(n, 18) }

type staticReports map[common.Address]types.CurvePoolParams

func (s staticReports) LatestPoolParams(_ context.Context, pools []common.Address) (map[common.Address]types.CurvePoolParams, error) {
	out := make(map[common.Address]types.CurvePoolParams)
	for _, addr := range pools {
		if p, ok := s[addr]; ok {
			out[addr] = p
		}
	}
	return out, nil
}

func reports() staticReports {
	return staticReports{
		poolA: {Address: poolA, Protocol: "HyperLend", Model: types.CurveModelAave, CurrentAPY: 0.03},
		poolB: {Address: poolB, Protocol: "Felix", Model: types.CurveModelAave, CurrentAPY: 0.06},
	}
}

// chain mints a block every 12 seconds.
type chain struct{ head uint64 }

func (c chain) header(n uint64) *coretypes.Header {
	return &coretypes.Header{Number: new(big.Int).SetUint64(n), Time: 1_700_000_000 + n*12}
}

func (c chain) LatestHeader(context.Context) (*coretypes.Header, error) { return c.header(c.head), nil }

func (c chain) HeaderByNumber(_ context.Context, n uint64) (*coretypes.Header, error) {
	return c.header(n), nil
}

func newVault() *vaulttest.Vault {
	v := vaulttest.New()
	v.Idle = units(20)
	v.Supply = units(170)
	v.AddPool(poolA, types.PoolKindAave, units(100))
	v.AddPool(poolB, types.PoolKindAave, units(50))
	return v
}

func newOrchestrator(t *testing.T, cfg Config) *Orchestrator {
	t.Helper()
	if cfg.Rebalances == nil {
		cfg.Rebalances = rebalance.NewMemoryStore()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = events.NewMemoryRecorder()
	}
	cfg.Thresholds = config.DefaultThresholds
	o, err := New(cfg)
	require.NoError(t, err)
	return o
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{})
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(Config{VaultManager: vaulttest.New(), Rebalances: rebalance.NewMemoryStore()})
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(Config{
		VaultManager: vaulttest.New(),
		Rebalances:   rebalance.NewMemoryStore(),
		Recorder:     events.NewMemoryRecorder(),
		APYWindows:   []float64{7, 0},
	})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRunCycleEndToEnd(t *testing.T) {
	v := newVault()
	v.Pools[poolA].Value = units(102)
	v.Deposits = []vaulttest.DepositRequest{{Controller: depositor, Assets: units(10)}}
	v.Withdrawals = []vaulttest.WithdrawalRequest{{Controller: withdrawer, Assets: units(5), Shares: units(5)}}

	recorder := events.NewMemoryRecorder()
	m := metrics.NewMetrics(prometheus.NewRegistry(), "test")
	o := newOrchestrator(t, Config{
		VaultManager: v,
		Headers:      chain{head: 100_000},
		Gas:          v,
		Recorder:     recorder,
		PoolParams:   reports(),
		Metrics:      m,
	})

	run := o.RunCycle(context.Background())

	assert.Equal(t, types.RunSuccess, run.Status, run.Errors)
	assert.Equal(t, uint64(1), run.CycleNumber)
	assert.Equal(t, types.QueueCounts{Deposit: 1, Withdrawal: 1}, run.QueueBefore)
	assert.Equal(t, types.QueueCounts{}, run.QueueAfter)

	expect := map[string]types.PhaseStatus{
		types.PhaseSnapshot:   types.PhaseSuccess,
		types.PhaseSettle:     types.PhaseSkipped,
		types.PhaseOptimize:   types.PhaseSuccess,
		types.PhaseRebalance:  types.PhaseSuccess,
		types.PhaseWithdrawal: types.PhaseSuccess,
		types.PhaseDeposit:    types.PhaseSuccess,
		types.PhaseHarvest:    types.PhaseSuccess,
		types.PhaseAPY:        types.PhaseSuccess,
	}
	for name, status := range expect {
		assert.Equal(t, status, run.Phases[name].Status, name)
	}

	require.NotNil(t, run.Recommendation)
	require.True(t, run.Recommendation.IsReallocate())
	assert.Equal(t, poolA, run.Recommendation.Move.From)
	assert.Equal(t, poolB, run.Recommendation.Move.To)
	assert.Equal(t, units(100).String(), run.Recommendation.Move.Amount.String())

	// rebalance, withdrawal batch, deposit batch and the harvest round trip
	methods := make([]string, 0, len(run.Transactions))
	for _, tx := range run.Transactions {
		methods = append(methods, tx.Method)
	}
	assert.Equal(t, []string{
		"withdrawFromPool", "depositToPool",
		"fulfillBatchWithdrawals",
		"fullfillBatchDeposits",
		"withdrawFromPool", "depositToPool",
	}, methods)

	assert.Equal(t, units(2).String(), run.TotalYield.String())
	assert.True(t, run.TotalReinvested.IsPositive())
	assert.Equal(t, run.TotalWithdrawn.String(), run.TotalReinvested.String())
	require.Len(t, run.APY, 2)
	for _, w := range run.APY {
		assert.Empty(t, w.Unavailable)
		assert.InDelta(t, 0, w.APY, 1e-12)
	}

	runs := recorder.Runs()
	require.Len(t, runs, 1)
	assert.Equal(t, run.RunID, runs[0].RunID)
	assert.Len(t, recorder.Transactions(run.RunID), len(run.Transactions))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.RunsTotal.WithLabelValues(string(types.RunSuccess))))
}

func TestRunCycleAbortsOnNegativeAllocation(t *testing.T) {
	v := vaulttest.New()
	v.Idle = units(20)
	v.TotalAssetsDelta = units(-30)
	recorder := events.NewMemoryRecorder()
	o := newOrchestrator(t, Config{VaultManager: v, Recorder: recorder, PoolParams: reports()})

	run := o.RunCycle(context.Background())

	assert.Equal(t, types.RunFailed, run.Status)
	assert.Equal(t, types.PhaseFailed, run.Phases[types.PhaseSnapshot].Status)
	assert.Len(t, run.Phases, 1)
	assert.Empty(t, v.Calls)
	require.Len(t, recorder.Runs(), 1)
	assert.NotEmpty(t, recorder.Runs()[0].Errors)
}

func TestRunCycleSettlesStrandedRebalanceNextCycle(t *testing.T) {
	v := newVault()
	v.Fail("depositToPool", vaulttest.OutcomeRevert)
	store := rebalance.NewMemoryStore()
	o := newOrchestrator(t, Config{VaultManager: v, Rebalances: store, PoolParams: reports()})

	first := o.RunCycle(context.Background())
	assert.Equal(t, types.RunPartial, first.Status)
	assert.Equal(t, types.PhaseFailed, first.Phases[types.PhaseRebalance].Status)
	assert.Equal(t, units(120).String(), v.Idle.String())

	second := o.RunCycle(context.Background())
	assert.Equal(t, types.RunSuccess, second.Status, second.Errors)
	assert.Equal(t, types.PhaseSuccess, second.Phases[types.PhaseSettle].Status)
	assert.Equal(t, types.ActionNone, second.Recommendation.Action)
	assert.Equal(t, units(150).String(), v.Pools[poolB].Principal.String())
	assert.Equal(t, units(20).String(), v.Idle.String())

	stranded, err := store.StrandedUnits(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stranded)
}

func TestRunCycleWithoutPoolReportsSkipsDeposits(t *testing.T) {
	v := newVault()
	v.Deposits = []vaulttest.DepositRequest{{Controller: depositor, Assets: units(10)}}
	o := newOrchestrator(t, Config{VaultManager: v})

	run := o.RunCycle(context.Background())

	assert.Equal(t, types.PhaseSkipped, run.Phases[types.PhaseOptimize].Status)
	assert.Equal(t, types.PhaseSkipped, run.Phases[types.PhaseRebalance].Status)
	assert.Equal(t, types.PhaseSkipped, run.Phases[types.PhaseDeposit].Status)
	assert.Equal(t, types.PhaseSkipped, run.Phases[types.PhaseAPY].Status)
	assert.Empty(t, v.CallsTo("fullfillBatchDeposits"))
	assert.Equal(t, 1, run.QueueAfter.Deposit)
}

func TestRunCycleCancelledIsStillRecorded(t *testing.T) {
	v := newVault()
	recorder := events.NewMemoryRecorder()
	o := newOrchestrator(t, Config{VaultManager: v, Recorder: recorder, PoolParams: reports()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	run := o.RunCycle(ctx)

	assert.Equal(t, types.RunFailed, run.Status)
	assert.Contains(t, run.Errors, context.Canceled.Error())
	assert.Empty(t, v.Calls)
	assert.Len(t, recorder.Runs(), 1)
}

func TestCycleNumberFallsBackToLocalCount(t *testing.T) {
	v := newVault()
	failing := func(context.Context) (uint64, error) { return 0, errors.New("db down") }
	o := newOrchestrator(t, Config{VaultManager: v, NextCycle: failing})

	assert.Equal(t, uint64(1), o.RunCycle(context.Background()).CycleNumber)
	assert.Equal(t, uint64(2), o.RunCycle(context.Background()).CycleNumber)

	persisted := func(context.Context) (uint64, error) { return 42, nil }
	o = newOrchestrator(t, Config{VaultManager: v, NextCycle: persisted})
	assert.Equal(t, uint64(42), o.RunCycle(context.Background()).CycleNumber)
}
