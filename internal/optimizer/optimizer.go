package optimizer

import (
	"bytes"
	"fmt"
	"sort"

	sdkmath "cosmossdk.io/math"
	"github.com/creeping-vampires/neura-vaults-backend/internal/logger"
	"github.com/creeping-vampires/neura-vaults-backend/internal/types"
	"github.com/creeping-vampires/neura-vaults-backend/internal/utils"
	"github.com/ethereum/go-ethereum/common"
)

var optimizerLogger = logger.GetForComponent("pool_optimizer")

// apyEpsilon treats APYs closer than this as equal for ranking.
const apyEpsilon = 1e-12

// Options carries the thresholds the optimizer needs. Decimals sets the dust threshold.
type Options struct {
	MinGainBps float64
	Decimals   uint8
}

// Recommend picks the best pool by current APY and, when funds sit elsewhere with a large enough
// APY gap, recommends moving the entire balance of the worst funded pool into it. It is pure:
// the same inputs always produce the same recommendation.
func Recommend(pools map[common.Address]types.CurvePoolParams, positions map[common.Address]sdkmath.Int, opts Options) types.AllocationRecommendation {
	if len(pools) == 0 {
		return types.NoAction("no pool yield data", common.Address{})
	}

	dust := utils.DustThreshold(opts.Decimals)
	funded := make(map[common.Address]sdkmath.Int)
	totalFunded := sdkmath.ZeroInt()
	for addr, amt := range positions {
		if amt.IsNil() || amt.LT(dust) {
			continue
		}
		if _, ok := pools[addr]; !ok {
			optimizerLogger.Warn().Str("pool", addr.Hex()).Msg("Recommend: funded pool has no yield report, ignoring")
			continue
		}
		funded[addr] = amt
		totalFunded = totalFunded.Add(amt)
	}

	addrs := sortedAddresses(pools)
	best := addrs[0]
	for _, addr := range addrs[1:] {
		if betterPool(addr, best, pools, inflow(addr, funded, totalFunded, opts.Decimals), inflow(best, funded, totalFunded, opts.Decimals)) {
			best = addr
		}
	}
	bestParams := pools[best]

	var source common.Address
	found := false
	for _, addr := range addrs {
		if _, ok := funded[addr]; !ok || addr == best {
			continue
		}
		if !found || pools[addr].CurrentAPY < pools[source].CurrentAPY-apyEpsilon {
			source = addr
			found = true
		}
	}
	if !found {
		return types.NoAction("already in best pool", best)
	}
	sourceParams := pools[source]

	gainBps := (bestParams.CurrentAPY - sourceParams.CurrentAPY) * 10000
	if gainBps <= opts.MinGainBps {
		return types.NoAction(
			fmt.Sprintf("gain %.2f bps from %s to %s does not exceed %.2f bps", gainBps, sourceParams.Protocol, bestParams.Protocol, opts.MinGainBps),
			best,
		)
	}

	amount := funded[source]
	move := &types.Reallocation{
		From:           source,
		FromProtocol:   sourceParams.Protocol,
		To:             best,
		ToProtocol:     bestParams.Protocol,
		Amount:         amount,
		GainBps:        gainBps,
		FromAPY:        sourceParams.CurrentAPY,
		ToAPY:          bestParams.CurrentAPY,
		ProjectedToAPY: ProjectedAPY(bestParams, wholeUnits(amount, opts.Decimals)),
	}

	optimizerLogger.Info().
		Str("from", source.Hex()).
		Str("to", best.Hex()).
		Str("amount", utils.FormatUnits(amount, opts.Decimals)).
		Float64("gainBps", gainBps).
		Float64("projectedToAPY", move.ProjectedToAPY).
		Msg("Recommend: reallocation found")

	return types.AllocationRecommendation{
		Action:   types.ActionReallocate,
		Reason:   fmt.Sprintf("move %s from %s to %s for %.2f bps", utils.FormatUnits(amount, opts.Decimals), sourceParams.Protocol, bestParams.Protocol, gainBps),
		BestPool: best,
		Move:     move,
	}
}

// betterPool ranks by current APY, then by projected APY after the pool would receive the
// rest of the funded balance, then by lowest address.
func betterPool(addrA, addrB common.Address, pools map[common.Address]types.CurvePoolParams, inflowA, inflowB float64) bool {
	a, b := pools[addrA], pools[addrB]
	if a.CurrentAPY > b.CurrentAPY+apyEpsilon {
		return true
	}
	if a.CurrentAPY < b.CurrentAPY-apyEpsilon {
		return false
	}
	pa, pb := ProjectedAPY(a, inflowA), ProjectedAPY(b, inflowB)
	if pa > pb+apyEpsilon {
		return true
	}
	if pa < pb-apyEpsilon {
		return false
	}
	return bytes.Compare(addrA.Bytes(), addrB.Bytes()) < 0
}

// inflow is the funded balance held outside addr, in whole units.
func inflow(addr common.Address, funded map[common.Address]sdkmath.Int, total sdkmath.Int, decimals uint8) float64 {
	outside := total
	if held, ok := funded[addr]; ok {
		outside = outside.Sub(held)
	}
	return wholeUnits(outside, decimals)
}

func wholeUnits(amount sdkmath.Int, decimals uint8) float64 {
	v, err := utils.SDKIntToFloat64(amount, int(decimals))
	if err != nil {
		return 0
	}
	return v
}

func sortedAddresses(pools map[common.Address]types.CurvePoolParams) []common.Address {
	out := make([]common.Address, 0, len(pools))
	for addr := range pools {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Bytes(), out[j].Bytes()) < 0
	})
	return out
}
