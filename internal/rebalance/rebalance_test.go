package rebalance

import (
	"context"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/creeping-vampires/neura-vaults-backend/internal/types"
	"github.com/creeping-vampires/neura-vaults-backend/internal/utils"
	"github.com/creeping-vampires/neura-vaults-backend/internal/vault/vaulttest"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	felixPool = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	aavePool  = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	cfg       = Config{MinGainBps: 50, MinRebalanceUnits: 1}
)

func units(n int64) sdkmath.Int { return utils.WholeUnits(n, 18) }

func move(from, to common.Address, amount sdkmath.Int, gain float64) types.AllocationRecommendation {
	return types.AllocationRecommendation{
		Action:   types.ActionReallocate,
		BestPool: to,
		Move: &types.Reallocation{
			From: from, FromProtocol: "From", To: to, ToProtocol: "To",
			Amount: amount, GainBps: gain, FromAPY: 0.03, ToAPY: 0.03 + gain/10000,
		},
	}
}

func newVault() *vaulttest.Vault {
	v := vaulttest.New()
	f := v.AddPool(felixPool, types.PoolKindERC4626, units(100))
	limit := units(40)
	f.MaxWithdraw = &limit
	v.AddPool(aavePool, types.PoolKindAave, units(10))
	return v
}

func TestExecuteClampsToMaxWithdraw(t *testing.T) {
	v := newVault()
	store := NewMemoryStore()
	out := NewExecutor(v, store, cfg).Execute(context.Background(), move(felixPool, aavePool, units(100), 120), v.AssetInfo)

	require.Equal(t, types.PhaseSuccess, out.Phase.Status, out.Phase.Error)
	require.NotNil(t, out.Withdrawal)
	assert.Equal(t, units(40).String(), out.Withdrawal.Amount.String())
	assert.Equal(t, units(100).String(), out.Withdrawal.RequestedAmount.String())
	assert.Equal(t, types.RebalanceCompleted, out.Withdrawal.Status)
	require.NotNil(t, out.Deposit)
	assert.Equal(t, units(40).String(), out.Deposit.Amount.String())
	assert.Equal(t, units(50).String(), v.Pools[aavePool].Principal.String())

	records := store.Records()
	require.Len(t, records, 2)
	assert.Equal(t, units(40).String(), records[0].Amount.String())
	assert.Equal(t, out.RebalanceID, records[1].RebalanceID)
	assert.Len(t, out.Transactions, 2)
}

func TestExecuteAaveCapsToPrincipal(t *testing.T) {
	v := newVault()
	out := NewExecutor(v, NewMemoryStore(), cfg).Execute(context.Background(), move(aavePool, felixPool, units(25), 120), v.AssetInfo)

	require.Equal(t, types.PhaseSuccess, out.Phase.Status, out.Phase.Error)
	assert.Equal(t, units(10).String(), out.Withdrawal.Amount.String())
}

func TestExecuteRechecksGain(t *testing.T) {
	v := newVault()
	out := NewExecutor(v, NewMemoryStore(), cfg).Execute(context.Background(), move(felixPool, aavePool, units(10), 50), v.AssetInfo)
	assert.Equal(t, types.PhaseSkipped, out.Phase.Status)
	assert.Empty(t, v.Calls)
}

func TestExecuteSkipsBelowMinimumAmount(t *testing.T) {
	v := newVault()
	out := NewExecutor(v, NewMemoryStore(), cfg).Execute(context.Background(), move(felixPool, aavePool, units(1).SubRaw(1), 200), v.AssetInfo)
	assert.Equal(t, types.PhaseSkipped, out.Phase.Status)
	assert.Empty(t, v.Calls)
}

func TestExecuteNothingWithdrawable(t *testing.T) {
	v := newVault()
	zero := sdkmath.ZeroInt()
	v.Pools[felixPool].MaxWithdraw = &zero
	store := NewMemoryStore()

	out := NewExecutor(v, store, cfg).Execute(context.Background(), move(felixPool, aavePool, units(10), 200), v.AssetInfo)
	assert.Equal(t, types.PhaseFailed, out.Phase.Status)
	assert.Equal(t, types.RebalanceFailed, out.Withdrawal.Status)
	assert.Empty(t, v.CallsTo("withdrawFromPool"))
	assert.Nil(t, out.Deposit)
}

func TestExecuteTimeoutLeavesLegUnknown(t *testing.T) {
	v := newVault()
	v.Fail("withdrawFromPool", vaulttest.OutcomeTimeout)
	store := NewMemoryStore()

	out := NewExecutor(v, store, cfg).Execute(context.Background(), move(felixPool, aavePool, units(10), 200), v.AssetInfo)
	assert.Equal(t, types.PhaseFailed, out.Phase.Status)
	assert.Equal(t, types.RebalanceUnknown, out.Withdrawal.Status)
	assert.NotEmpty(t, out.Withdrawal.TxHash)
	assert.Empty(t, v.CallsTo("depositToPool"))

	stranded, err := store.StrandedUnits(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stranded)
}

func TestStrandedFundsSettleNextCycle(t *testing.T) {
	ctx := context.Background()
	v := newVault()
	v.Fail("depositToPool", vaulttest.OutcomeRevert)
	store := NewMemoryStore()
	exec := NewExecutor(v, store, cfg)

	out := exec.Execute(ctx, move(felixPool, aavePool, units(20), 200), v.AssetInfo)
	require.Equal(t, types.PhaseFailed, out.Phase.Status)
	assert.Equal(t, types.RebalanceCompleted, out.Withdrawal.Status)
	assert.Equal(t, types.RebalanceFailed, out.Deposit.Status)

	stranded, err := store.StrandedUnits(ctx)
	require.NoError(t, err)
	require.Len(t, stranded, 1)
	assert.Equal(t, out.RebalanceID, stranded[0].RebalanceID)

	// next cycle
	res := exec.SettleFailed(ctx, v.Idle)
	require.Equal(t, types.PhaseSuccess, res.Phase.Status, res.Phase.Error)
	assert.Equal(t, []string{out.RebalanceID}, res.Settled)
	assert.True(t, res.Idle.IsZero())
	assert.Equal(t, units(30).String(), v.Pools[aavePool].Principal.String())

	again := exec.SettleFailed(ctx, v.Idle)
	assert.Equal(t, types.PhaseSkipped, again.Phase.Status)
	assert.Empty(t, again.Settled)
	assert.Len(t, v.CallsTo("depositToPool"), 2)
}

func TestSettleDefersWhenIdleIsShort(t *testing.T) {
	ctx := context.Background()
	v := newVault()
	v.Fail("depositToPool", vaulttest.OutcomeRevert)
	store := NewMemoryStore()
	exec := NewExecutor(v, store, cfg)
	exec.Execute(ctx, move(felixPool, aavePool, units(20), 200), v.AssetInfo)

	res := exec.SettleFailed(ctx, units(5))
	assert.Equal(t, types.PhaseSkipped, res.Phase.Status)
	assert.Len(t, res.Deferred, 1)
	assert.Len(t, v.CallsTo("depositToPool"), 1)

	var annotated bool
	for _, r := range store.Records() {
		if r.Leg == types.LegDeposit && r.Error == InsufficientIdleNote {
			annotated = true
		}
	}
	assert.True(t, annotated)

	stranded, err := store.StrandedUnits(ctx)
	require.NoError(t, err)
	assert.Len(t, stranded, 1)
}

func TestFindStranded(t *testing.T) {
	rec := func(id int64, rid string, leg types.RebalanceLeg, status types.RebalanceStatus) types.RebalanceRecord {
		return types.RebalanceRecord{ID: id, RebalanceID: rid, Leg: leg, Status: status, Amount: sdkmath.NewInt(id)}
	}
	records := []types.RebalanceRecord{
		rec(1, "settled", types.LegWithdrawal, types.RebalanceCompleted),
		rec(2, "settled", types.LegDeposit, types.RebalanceFailed),
		rec(3, "settled", types.LegDeposit, types.RebalanceCompleted),
		rec(4, "stranded", types.LegWithdrawal, types.RebalanceCompleted),
		rec(5, "stranded", types.LegDeposit, types.RebalanceFailed),
		rec(6, "stranded", types.LegDeposit, types.RebalanceFailed),
		rec(7, "inflight", types.LegWithdrawal, types.RebalanceCompleted),
		rec(8, "inflight", types.LegDeposit, types.RebalanceUnknown),
		rec(9, "never-withdrew", types.LegWithdrawal, types.RebalanceFailed),
		rec(10, "simulated", types.LegWithdrawal, types.RebalanceCompleted),
		rec(11, "simulated", types.LegDeposit, types.RebalanceFailed),
	}
	records[9].DryRun = true
	records[10].DryRun = true

	found := FindStranded(records)
	require.Len(t, found, 1)
	assert.Equal(t, "stranded", found[0].RebalanceID)
	assert.Equal(t, int64(4), found[0].Withdrawal.ID)
	assert.Equal(t, int64(6), found[0].FailedDeposit.ID)
}

func TestDryRunLegsAreNeverSettled(t *testing.T) {
	ctx := context.Background()
	v := newVault()
	v.Fail("depositToPool", vaulttest.OutcomeRevert)
	store := NewMemoryStore()
	exec := NewExecutor(v, store, Config{MinGainBps: 50, MinRebalanceUnits: 1, DryRun: true})

	out := exec.Execute(ctx, move(felixPool, aavePool, units(20), 200), v.AssetInfo)
	require.Equal(t, types.PhaseFailed, out.Phase.Status)
	assert.True(t, out.Withdrawal.DryRun)
	assert.True(t, out.Deposit.DryRun)

	stranded, err := store.StrandedUnits(ctx)
	require.NoError(t, err)
	assert.Empty(t, stranded)

	res := exec.SettleFailed(ctx, v.Idle)
	assert.Empty(t, res.Settled)
	assert.Len(t, v.CallsTo("depositToPool"), 1)
}
