package ledger

import (
	"context"
	"errors"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/creeping-vampires/neura-vaults-backend/internal/types"
	"github.com/creeping-vampires/neura-vaults-backend/internal/vault/vaulttest"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	poolA = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	poolB = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func TestSnapshotReadsPositions(t *testing.T) {
	v := vaulttest.New()
	v.Idle = sdkmath.NewInt(200)
	v.Supply = sdkmath.NewInt(1000)
	v.AddPool(poolA, types.PoolKindAave, sdkmath.NewInt(600))
	v.AddPool(poolB, types.PoolKindERC4626, sdkmath.NewInt(200))

	snap, err := New(v, nil).Snapshot(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "200", snap.IdleBalance.String())
	assert.Equal(t, "1000", snap.TotalAssets.String())
	assert.Equal(t, "800", snap.Allocated.String())
	require.Len(t, snap.Positions, 2)
	assert.Equal(t, types.PoolKindERC4626, snap.Positions[1].Pool.Kind)
	assert.InDelta(t, 75.0, snap.Positions[0].PercentOfPrincipal, 1e-9)
	assert.InDelta(t, 25.0, snap.Positions[1].PercentOfPrincipal, 1e-9)
}

func TestSnapshotRejectsNegativeAllocation(t *testing.T) {
	v := vaulttest.New()
	v.Idle = sdkmath.NewInt(500)
	v.TotalAssetsDelta = sdkmath.NewInt(-100)

	_, err := New(v, nil).Snapshot(context.Background())
	require.ErrorIs(t, err, ErrNegativeAllocation)
}

func TestSnapshotInfersKindWhenLookupFails(t *testing.T) {
	felix := common.HexToAddress("0x835FEBF893c6DdDee5CF762B0f8e31C5B06938ab")
	v := vaulttest.New()
	p := v.AddPool(felix, types.PoolKindAave, sdkmath.NewInt(10))
	p.KindErr = errors.New("execution reverted")
	q := v.AddPool(poolA, types.PoolKindERC4626, sdkmath.NewInt(10))
	q.KindErr = errors.New("execution reverted")

	snap, err := New(v, nil).Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.PoolKindERC4626, snap.Positions[0].Pool.Kind)
	assert.Equal(t, types.PoolKindAave, snap.Positions[1].Pool.Kind)
}

func TestYieldSnapshot(t *testing.T) {
	tests := []struct {
		name      string
		idle      int64
		pools     []int64
		total     int64
		wantYield string
		wantBps   int64
	}{
		{"half percent", 0, []int64{600_000, 400_000}, 1_005_000, "5000", 50},
		{"idle counts as principal", 100, []int64{900}, 1100, "100", 1000},
		{"loss clamps to zero", 0, []int64{1000}, 900, "0", 0},
		{"empty vault", 0, nil, 0, "0", 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			snap := types.LedgerSnapshot{IdleBalance: sdkmath.NewInt(tc.idle), TotalAssets: sdkmath.NewInt(tc.total)}
			for i, amt := range tc.pools {
				addr := common.BigToAddress(sdkmath.NewInt(int64(i + 1)).BigInt())
				snap.Positions = append(snap.Positions, types.PoolPosition{Pool: types.Pool{Address: addr}, Principal: sdkmath.NewInt(amt)})
			}
			y := YieldSnapshot(snap)
			assert.Equal(t, tc.wantYield, y.TotalYield.String())
			assert.Equal(t, tc.wantBps, y.YieldBps)
			assert.Len(t, y.PoolPrincipals, len(tc.pools))
		})
	}
}
