package main

import (
	"context"
	"errors"
	"testing"

	"github.com/creeping-vampires/neura-vaults-backend/internal/config"
	"github.com/creeping-vampires/neura-vaults-backend/internal/rebalance"
	"github.com/creeping-vampires/neura-vaults-backend/internal/state"
	"github.com/creeping-vampires/neura-vaults-backend/internal/types"
	"github.com/creeping-vampires/neura-vaults-backend/internal/utils"
	"github.com/creeping-vampires/neura-vaults-backend/internal/vault/vaulttest"
	"github.com/creeping-vampires/neura-vaults-backend/internal/web"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectStoresLiveUsesPostgres(t *testing.T) {
	stores, err := selectStores(config.ModeLive, nil)
	require.NoError(t, err)
	assert.True(t, stores.persistent)
	assert.IsType(t, &state.RebalanceStore{}, stores.rebalances)
	assert.IsType(t, &state.RunStore{}, stores.recorder)
}

func TestSelectStoresLiveRequiresDatabase(t *testing.T) {
	_, err := selectStores(config.ModeLive, errors.New("connection refused"))
	require.Error(t, err)
}

func TestSelectStoresDryRunKeepsRebalancesInMemory(t *testing.T) {
	for _, dbErr := range []error{nil, errors.New("connection refused")} {
		stores, err := selectStores(config.ModeDryRun, dbErr)
		require.NoError(t, err)
		assert.Equal(t, dbErr == nil, stores.persistent)
		assert.IsType(t, &rebalance.MemoryStore{}, stores.rebalances)
		assert.IsType(t, web.MemoryRebalances{}, stores.rebalanceReader)
	}
}

func TestDryRunRebalanceNeverStrandsFunds(t *testing.T) {
	ctx := context.Background()
	stores, err := selectStores(config.ModeDryRun, nil)
	require.NoError(t, err)
	memory := stores.rebalances.(*rebalance.MemoryStore)

	from := common.HexToAddress("0x00000000000000000000000000000000000000f1")
	to := common.HexToAddress("0x00000000000000000000000000000000000000a2")
	v := vaulttest.New()
	v.AddPool(from, types.PoolKindAave, utils.WholeUnits(100, 18))
	v.AddPool(to, types.PoolKindAave, utils.WholeUnits(10, 18))
	v.Fail("depositToPool", vaulttest.OutcomeRevert)

	exec := rebalance.NewExecutor(v, stores.rebalances, rebalance.Config{MinGainBps: 50, MinRebalanceUnits: 1, DryRun: true})
	out := exec.Execute(ctx, types.AllocationRecommendation{
		Action:   types.ActionReallocate,
		BestPool: to,
		Move: &types.Reallocation{
			From: from, FromProtocol: "From", To: to, ToProtocol: "To",
			Amount: utils.WholeUnits(20, 18), GainBps: 200,
		},
	}, v.AssetInfo)
	require.Equal(t, types.PhaseFailed, out.Phase.Status)
	assert.Equal(t, types.RebalanceCompleted, out.Withdrawal.Status)
	assert.Equal(t, types.RebalanceFailed, out.Deposit.Status)

	records := memory.Records()
	require.Len(t, records, 2)
	for _, r := range records {
		assert.True(t, r.DryRun)
	}

	stranded, err := stores.rebalances.StrandedUnits(ctx)
	require.NoError(t, err)
	assert.Empty(t, stranded)

	settled := exec.SettleFailed(ctx, v.Idle)
	assert.Empty(t, settled.Settled)
	assert.Len(t, v.CallsTo("depositToPool"), 1)
}
