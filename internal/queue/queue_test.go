package queue

import (
	"context"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/creeping-vampires/neura-vaults-backend/internal/ledger"
	"github.com/creeping-vampires/neura-vaults-backend/internal/types"
	"github.com/creeping-vampires/neura-vaults-backend/internal/vault/vaulttest"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	poolA = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	poolB = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	alice = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol = common.HexToAddress("0x0000000000000000000000000000000000000ca1")
)

func shortfallVault(requested int64) *vaulttest.Vault {
	v := vaulttest.New()
	v.Idle = sdkmath.NewInt(20)
	v.AddPool(poolB, types.PoolKindAave, sdkmath.NewInt(10))
	v.AddPool(poolA, types.PoolKindAave, sdkmath.NewInt(50))
	v.Withdrawals = []vaulttest.WithdrawalRequest{{Controller: alice, Assets: sdkmath.NewInt(requested), Shares: sdkmath.NewInt(requested)}}
	return v
}

func snapshot(t *testing.T, v *vaulttest.Vault) types.LedgerSnapshot {
	t.Helper()
	snap, err := ledger.New(v, nil).Snapshot(context.Background())
	require.NoError(t, err)
	return snap
}

func TestWithdrawalCoversShortfallLargestFirst(t *testing.T) {
	v := shortfallVault(80)
	res := NewWithdrawalProcessor(v, 256).Process(context.Background(), snapshot(t, v))

	require.Equal(t, types.PhaseSuccess, res.Phase.Status, res.Phase.Error)
	pulls := v.CallsTo("withdrawFromPool")
	require.Len(t, pulls, 2)
	assert.Equal(t, poolA, pulls[0].Pool)
	assert.Equal(t, "50", pulls[0].Amount.String())
	assert.Equal(t, poolB, pulls[1].Pool)
	assert.Equal(t, "10", pulls[1].Amount.String())

	require.Len(t, v.CallsTo("fulfillBatchWithdrawals"), 1)
	assert.Equal(t, 1, v.CallsTo("fulfillBatchWithdrawals")[0].BatchSize)
	assert.Equal(t, 1, res.Phase.ProcessedCount)
	assert.Equal(t, "80", res.Phase.Amount.String())
	assert.Equal(t, 0, res.Remaining)
	assert.Len(t, res.Transactions, 3)
}

func TestWithdrawalUncoveredShortfallAborts(t *testing.T) {
	v := shortfallVault(100)
	res := NewWithdrawalProcessor(v, 256).Process(context.Background(), snapshot(t, v))

	assert.Equal(t, types.PhaseFailed, res.Phase.Status)
	assert.Contains(t, res.Phase.Error, ErrLiquidityShortfall.Error())
	assert.Empty(t, v.CallsTo("fulfillBatchWithdrawals"))
	assert.Len(t, v.CallsTo("withdrawFromPool"), 2)
	assert.Equal(t, 1, res.Remaining)
}

func TestWithdrawalSufficientIdleSkipsPools(t *testing.T) {
	v := shortfallVault(15)
	res := NewWithdrawalProcessor(v, 256).Process(context.Background(), snapshot(t, v))

	require.Equal(t, types.PhaseSuccess, res.Phase.Status)
	assert.Empty(t, v.CallsTo("withdrawFromPool"))
	assert.Equal(t, "15", res.Phase.Amount.String())
}

func TestWithdrawalSkipsZeroShareRequests(t *testing.T) {
	v := vaulttest.New()
	v.Idle = sdkmath.NewInt(100)
	v.Withdrawals = []vaulttest.WithdrawalRequest{{Controller: alice, Assets: sdkmath.NewInt(10), Shares: sdkmath.ZeroInt()}}

	res := NewWithdrawalProcessor(v, 256).Process(context.Background(), snapshot(t, v))
	assert.Equal(t, types.PhaseSkipped, res.Phase.Status)
	assert.Empty(t, v.CallsTo("fulfillBatchWithdrawals"))
}

func TestWithdrawalEmptyQueue(t *testing.T) {
	v := vaulttest.New()
	res := NewWithdrawalProcessor(v, 256).Process(context.Background(), snapshot(t, v))
	assert.Equal(t, types.PhaseSkipped, res.Phase.Status)
}

func TestWithdrawalScanIsBounded(t *testing.T) {
	v := vaulttest.New()
	for i := 0; i < 10; i++ {
		v.Withdrawals = append(v.Withdrawals, vaulttest.WithdrawalRequest{
			Controller: common.BigToAddress(sdkmath.NewInt(int64(1000 + i)).BigInt()),
			Assets:     sdkmath.NewInt(1),
			Shares:     sdkmath.NewInt(1),
		})
	}
	controllers, err := NewWithdrawalProcessor(v, 4).Scan(context.Background())
	require.NoError(t, err)
	assert.Len(t, controllers, 4)
}

func TestWithdrawalHonorsMaxWithdrawOnERC4626(t *testing.T) {
	v := vaulttest.New()
	v.Idle = sdkmath.ZeroInt()
	felix := v.AddPool(poolA, types.PoolKindERC4626, sdkmath.NewInt(100))
	limit := sdkmath.NewInt(30)
	felix.MaxWithdraw = &limit
	v.AddPool(poolB, types.PoolKindAave, sdkmath.NewInt(40))
	v.Withdrawals = []vaulttest.WithdrawalRequest{{Controller: alice, Assets: sdkmath.NewInt(60), Shares: sdkmath.NewInt(60)}}

	res := NewWithdrawalProcessor(v, 256).Process(context.Background(), snapshot(t, v))
	require.Equal(t, types.PhaseSuccess, res.Phase.Status, res.Phase.Error)
	pulls := v.CallsTo("withdrawFromPool")
	require.Len(t, pulls, 2)
	assert.Equal(t, poolB, pulls[0].Pool)
	assert.Equal(t, "40", pulls[0].Amount.String())
	assert.Equal(t, poolA, pulls[1].Pool)
	assert.Equal(t, "20", pulls[1].Amount.String())
}

func depositVault() *vaulttest.Vault {
	v := vaulttest.New()
	v.AddPool(poolA, types.PoolKindAave, sdkmath.ZeroInt())
	v.Deposits = []vaulttest.DepositRequest{
		{Controller: alice, Assets: sdkmath.NewInt(100)},
		{Controller: bob, Assets: sdkmath.NewInt(250)},
		{Controller: carol, Assets: sdkmath.NewInt(7)},
	}
	return v
}

func TestDepositDrainsBatchIntoBestPool(t *testing.T) {
	v := depositVault()
	res := NewDepositProcessor(v, 2).Process(context.Background(), poolA, v.AssetInfo)

	require.Equal(t, types.PhaseSuccess, res.Phase.Status, res.Phase.Error)
	assert.Equal(t, 2, res.Phase.ProcessedCount)
	assert.Equal(t, "350", res.Phase.Amount.String())
	assert.Equal(t, 1, res.Remaining)
	assert.Equal(t, "350", v.Pools[poolA].Principal.String())

	calls := v.CallsTo("fullfillBatchDeposits")
	require.Len(t, calls, 1)
	assert.Equal(t, 2, calls[0].BatchSize)
	assert.Equal(t, poolA, calls[0].Pool)
	require.Len(t, res.Transactions, 1)
	assert.Equal(t, types.TxSuccess, res.Transactions[0].Status)
}

func TestDepositSkipsWithoutRoles(t *testing.T) {
	v := depositVault()
	v.RoleOnVault = false

	res := NewDepositProcessor(v, 5).Process(context.Background(), poolA, v.AssetInfo)
	assert.Equal(t, types.PhaseSkipped, res.Phase.Status)
	assert.Contains(t, res.Phase.Reason, "executor role")
	assert.Empty(t, v.CallsTo("fullfillBatchDeposits"))
}

func TestDepositSkipsUnwhitelistedPool(t *testing.T) {
	v := depositVault()
	v.Pools[poolA].Whitelisted = false

	res := NewDepositProcessor(v, 5).Process(context.Background(), poolA, v.AssetInfo)
	assert.Equal(t, types.PhaseSkipped, res.Phase.Status)
	assert.Contains(t, res.Phase.Reason, "not whitelisted")
	assert.Empty(t, v.CallsTo("fullfillBatchDeposits"))
}

func TestDepositRevertIsRecorded(t *testing.T) {
	v := depositVault()
	v.Fail("fullfillBatchDeposits", vaulttest.OutcomeRevert)

	res := NewDepositProcessor(v, 5).Process(context.Background(), poolA, v.AssetInfo)
	assert.Equal(t, types.PhaseFailed, res.Phase.Status)
	require.Len(t, res.Transactions, 1)
	assert.Equal(t, types.TxReverted, res.Transactions[0].Status)
	assert.NotEmpty(t, res.Transactions[0].TxHash)
	assert.Len(t, v.Deposits, 3)
}

func TestDepositEmptyQueue(t *testing.T) {
	v := vaulttest.New()
	res := NewDepositProcessor(v, 5).Process(context.Background(), poolA, v.AssetInfo)
	assert.Equal(t, types.PhaseSkipped, res.Phase.Status)
}
