package harvest

import (
	"context"
	"errors"
	"math/big"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/creeping-vampires/neura-vaults-backend/internal/ledger"
	"github.com/creeping-vampires/neura-vaults-backend/internal/types"
	"github.com/creeping-vampires/neura-vaults-backend/internal/utils"
	"github.com/creeping-vampires/neura-vaults-backend/internal/vault/vaulttest"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	poolA = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	poolB = common.HexToAddress("0x00000000000000000000000000000000000000bb")

	gates = Config{
		YieldThresholdBps: 10,
		MinClaimUSD:       1,
		MaxGasUSD:         5,
		GasEstimateLimit:  200000,
		AssetPriceUSD:     1,
		NativePriceUSD:    4500,
	}
)

func units(n int64) sdkmath.Int { return utils.WholeUnits(n, 18) }

type failingOracle struct{}

func (failingOracle) GasPrice(context.Context) (*big.Int, error) {
	return nil, errors.New("rpc down")
}

func gwei(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000)) }

func TestShouldClaim(t *testing.T) {
	asset := types.Asset{Symbol: "USDe", Decimals: 18}
	half := units(1).QuoRaw(2)

	tests := []struct {
		name     string
		yield    types.YieldSnapshot
		gasPrice *big.Int
		claim    bool
		reason   string
	}{
		{
			name:     "half percent worth fifty cents is not claimed",
			yield:    types.YieldSnapshot{TotalYield: half, YieldBps: 50},
			gasPrice: gwei(1),
			reason:   "below minimum",
		},
		{
			name:     "below bps threshold",
			yield:    types.YieldSnapshot{TotalYield: units(5), YieldBps: 5},
			gasPrice: gwei(1),
			reason:   "below threshold",
		},
		{
			name:   "no yield",
			yield:  types.YieldSnapshot{TotalYield: sdkmath.ZeroInt()},
			reason: "No yield",
		},
		{
			name:     "gas too expensive",
			yield:    types.YieldSnapshot{TotalYield: units(50), YieldBps: 50},
			gasPrice: gwei(100),
			reason:   "exceeds maximum",
		},
		{
			name:   "gas unavailable fails closed",
			yield:  types.YieldSnapshot{TotalYield: units(50), YieldBps: 50},
			reason: "unavailable",
		},
		{
			name:     "all gates pass",
			yield:    types.YieldSnapshot{TotalYield: units(50), YieldBps: 50},
			gasPrice: gwei(1),
			claim:    true,
			reason:   "meets criteria",
		},
	}

	h := NewHarvester(nil, nil, gates)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := h.ShouldClaim(tt.yield, asset, tt.gasPrice)
			assert.Equal(t, tt.claim, d.Claim)
			assert.Contains(t, d.Reason, tt.reason)
		})
	}
}

func TestGasCostPricing(t *testing.T) {
	h := NewHarvester(nil, nil, gates)
	asset := types.Asset{Decimals: 18}
	y := types.YieldSnapshot{TotalYield: units(50), YieldBps: 50}

	// 1 gwei * 200k gas = 0.0002 native at $4500
	d := h.ShouldClaim(y, asset, gwei(1))
	assert.InDelta(t, 0.9, d.GasUSD, 1e-9)
	assert.InDelta(t, 50.0, d.YieldUSD, 1e-9)

	d = h.ShouldClaim(y, asset, nil)
	assert.Equal(t, gates.MaxGasUSD, d.GasUSD)
	assert.False(t, d.Claim)
}

func yieldingVault() *vaulttest.Vault {
	v := vaulttest.New()
	a := v.AddPool(poolA, types.PoolKindAave, units(300))
	a.Value = units(306)
	b := v.AddPool(poolB, types.PoolKindAave, units(100))
	b.Value = units(102)
	return v
}

func yieldOf(t *testing.T, v *vaulttest.Vault) types.YieldSnapshot {
	t.Helper()
	snap, err := ledger.New(v, nil).Snapshot(context.Background())
	require.NoError(t, err)
	return ledger.YieldSnapshot(snap)
}

func TestHarvestReinvestsEachPoolsShare(t *testing.T) {
	v := yieldingVault()
	y := yieldOf(t, v)
	require.Equal(t, units(8).String(), y.TotalYield.String())

	res := NewHarvester(v, v, gates).Harvest(context.Background(), y, v.AssetInfo)
	require.Equal(t, types.PhaseSuccess, res.Phase.Status, res.Phase.Error)
	assert.Equal(t, 2, res.Phase.ProcessedCount)
	assert.Equal(t, units(8).String(), res.Withdrawn.String())
	assert.Equal(t, units(8).String(), res.Reinvested.String())
	assert.Len(t, res.Transactions, 4)

	pulls := v.CallsTo("withdrawFromPool")
	require.Len(t, pulls, 2)
	assert.Equal(t, poolA, pulls[0].Pool)
	assert.Equal(t, units(6).String(), pulls[0].Amount.String())
	assert.Equal(t, poolB, pulls[1].Pool)
	assert.Equal(t, units(2).String(), pulls[1].Amount.String())

	assert.True(t, v.Idle.IsZero())
	assert.Equal(t, units(306).String(), v.Pools[poolA].Value.String())
}

func TestHarvestPoolsAreIndependent(t *testing.T) {
	v := yieldingVault()
	v.Fail("withdrawFromPool", vaulttest.OutcomeRevert)

	res := NewHarvester(v, v, gates).Harvest(context.Background(), yieldOf(t, v), v.AssetInfo)
	require.Equal(t, types.PhaseSuccess, res.Phase.Status)
	assert.Equal(t, 1, res.Phase.ProcessedCount)
	assert.NotEmpty(t, res.Phase.Error)
	assert.Contains(t, res.PoolErrors, poolA)
	assert.Equal(t, units(2).String(), res.Reinvested.String())
	require.Len(t, res.Transactions, 3)
	assert.Equal(t, types.TxReverted, res.Transactions[0].Status)
}

func TestHarvestFailsPoolWhenNothingWithdrawn(t *testing.T) {
	v := yieldingVault()
	v.Fail("withdrawFromPool", vaulttest.OutcomeNoop)

	res := NewHarvester(v, v, gates).Harvest(context.Background(), yieldOf(t, v), v.AssetInfo)
	require.Equal(t, types.PhaseSuccess, res.Phase.Status)
	assert.Equal(t, 1, res.Phase.ProcessedCount)
	assert.Contains(t, res.Phase.Error, ErrNoYieldWithdrawn.Error())
	require.Contains(t, res.PoolErrors, poolA)
	assert.Contains(t, res.PoolErrors[poolA], ErrNoYieldWithdrawn.Error())
	assert.NotContains(t, res.PoolErrors, poolB)
	assert.Equal(t, units(2).String(), res.Withdrawn.String())
	assert.Equal(t, units(2).String(), res.Reinvested.String())

	// no reinvest for the pool that released nothing
	deposits := v.CallsTo("depositToPool")
	require.Len(t, deposits, 1)
	assert.Equal(t, poolB, deposits[0].Pool)
}

func TestHarvestFailsWhenNoPoolReleasesYield(t *testing.T) {
	v := yieldingVault()
	v.Fail("withdrawFromPool", vaulttest.OutcomeNoop)
	v.Fail("withdrawFromPool", vaulttest.OutcomeNoop)

	res := NewHarvester(v, v, gates).Harvest(context.Background(), yieldOf(t, v), v.AssetInfo)
	assert.Equal(t, types.PhaseFailed, res.Phase.Status)
	assert.Len(t, res.PoolErrors, 2)
	assert.True(t, res.Reinvested.IsZero())
	assert.Empty(t, v.CallsTo("depositToPool"))
}

func TestHarvestSkipsWhenGasOracleFails(t *testing.T) {
	v := yieldingVault()
	res := NewHarvester(v, failingOracle{}, gates).Harvest(context.Background(), yieldOf(t, v), v.AssetInfo)
	assert.Equal(t, types.PhaseSkipped, res.Phase.Status)
	assert.Empty(t, v.Calls)
}
