/*

The APY calculator derives realized vault returns from price per share (totalAssets /
totalSupply) at the latest block and at a block located one window earlier. Nothing here
submits transactions; results are only reported.

*/

package apy

import (
	"context"
	"errors"
	"fmt"
	"math"

	sdkmath "cosmossdk.io/math"
	"github.com/creeping-vampires/neura-vaults-backend/internal/logger"
	"github.com/creeping-vampires/neura-vaults-backend/internal/types"
	"github.com/creeping-vampires/neura-vaults-backend/internal/utils"
)

var (
	ErrZeroSupply    = errors.New("vault has zero total supply")
	ErrInvalidWindow = errors.New("window must be positive")
	ErrShareRead     = errors.New("failed to read share price")
)

var apyLogger = logger.GetForComponent("apy_calculator")

const (
	daysPerYear   = 365.0
	secondsPerDay = 86400.0
)

// ShareSource reads vault totals at a historical block.
type ShareSource interface {
	TotalAssetsAt(ctx context.Context, block uint64) (sdkmath.Int, error)
	TotalSupplyAt(ctx context.Context, block uint64) (sdkmath.Int, error)
}

type Calculator struct {
	shares    ShareSource
	headers   HeaderSource
	tolerance uint64
}

func NewCalculator(shares ShareSource, headers HeaderSource) *Calculator {
	return &Calculator{shares: shares, headers: headers, tolerance: DefaultTolerance}
}

// Annualize converts a period return over windowDays into simple APR and compounded APY.
func Annualize(periodReturn, windowDays float64) (apr, apy float64) {
	periods := daysPerYear / windowDays
	return periodReturn * periods, math.Pow(1+periodReturn, periods) - 1
}

// Calculate returns the realized return over the trailing windowDays.
func (c *Calculator) Calculate(ctx context.Context, windowDays float64) (types.APYWindow, error) {
	out := types.APYWindow{WindowDays: windowDays}
	if windowDays <= 0 {
		return out, errors.Join(ErrInvalidWindow, fmt.Errorf("got %v", windowDays))
	}

	latest, err := c.headers.LatestHeader(ctx)
	if err != nil {
		return out, errors.Join(ErrBlockNotFound, fmt.Errorf("latest header: %w", err))
	}
	out.ToBlock = latest.Number.Uint64()

	span := uint64(windowDays * secondsPerDay)
	if span >= latest.Time {
		return out, errors.Join(ErrBlockNotFound, fmt.Errorf("window of %v days predates the chain", windowDays))
	}
	target := latest.Time - span

	from, err := searchBlocks(ctx, c.headers, 1, latest.Number.Int64(), target, c.tolerance)
	if err != nil {
		return out, err
	}
	out.FromBlock = from

	then, err := c.pricePerShare(ctx, from)
	if err != nil {
		return out, err
	}
	now, err := c.pricePerShare(ctx, out.ToBlock)
	if err != nil {
		return out, err
	}

	r, err := now.Sub(then).Quo(then).Float64()
	if err != nil {
		return out, errors.Join(ErrShareRead, err)
	}
	out.Return = r
	out.APR, out.APY = Annualize(r, windowDays)

	apyLogger.Info().
		Float64("windowDays", windowDays).
		Uint64("fromBlock", out.FromBlock).
		Uint64("toBlock", out.ToBlock).
		Str("ppsStart", then.String()).
		Str("ppsEnd", now.String()).
		Float64("apr", out.APR).
		Float64("apy", out.APY).
		Msg("Calculate: APR/APY computed")
	return out, nil
}

func (c *Calculator) pricePerShare(ctx context.Context, block uint64) (sdkmath.LegacyDec, error) {
	assets, err := c.shares.TotalAssetsAt(ctx, block)
	if err != nil {
		return sdkmath.LegacyDec{}, errors.Join(ErrShareRead, fmt.Errorf("totalAssets at %d: %w", block, err))
	}
	supply, err := c.shares.TotalSupplyAt(ctx, block)
	if err != nil {
		return sdkmath.LegacyDec{}, errors.Join(ErrShareRead, fmt.Errorf("totalSupply at %d: %w", block, err))
	}
	if supply.IsNil() || !supply.IsPositive() {
		return sdkmath.LegacyDec{}, errors.Join(ErrZeroSupply, fmt.Errorf("at block %d", block))
	}
	pps := utils.LegacyRatio(assets, supply)
	if !pps.IsPositive() {
		return sdkmath.LegacyDec{}, errors.Join(ErrZeroSupply, fmt.Errorf("zero price per share at block %d", block))
	}
	return pps, nil
}
