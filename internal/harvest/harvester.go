package harvest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"

	sdkmath "cosmossdk.io/math"
	"github.com/creeping-vampires/neura-vaults-backend/internal/chain"
	"github.com/creeping-vampires/neura-vaults-backend/internal/logger"
	"github.com/creeping-vampires/neura-vaults-backend/internal/types"
	"github.com/creeping-vampires/neura-vaults-backend/internal/utils"
	"github.com/creeping-vampires/neura-vaults-backend/internal/vault"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var (
	ErrNoYield          = errors.New("no yield to harvest")
	ErrNoYieldWithdrawn = errors.New("no yield withdrawn")
	ErrPoolHarvest      = errors.New("pool harvest failed")
	ErrIdleReadFail     = errors.New("failed to read idle balance")
)

var harvestLogger = logger.GetForComponent("yield_harvester")

// nativeDecimals is the precision of the gas token.
const nativeDecimals = 18

// GasOracle reports the current gas price in wei.
type GasOracle interface {
	GasPrice(ctx context.Context) (*big.Int, error)
}

// Config holds the claim gates. Prices are USD per whole unit.
type Config struct {
	YieldThresholdBps float64
	MinClaimUSD       float64
	MaxGasUSD         float64
	GasEstimateLimit  uint64
	AssetPriceUSD     float64
	NativePriceUSD    float64
}

// Decision is the outcome of the claim gates.
type Decision struct {
	Claim    bool    `json:"claim"`
	Reason   string  `json:"reason"`
	YieldUSD float64 `json:"yield_usd"`
	GasUSD   float64 `json:"gas_usd"`
}

// Result reports a harvest pass.
type Result struct {
	Phase        types.PhaseResult
	Decision     Decision
	Withdrawn    sdkmath.Int
	Reinvested   sdkmath.Int
	Transactions []types.TransactionRecord
	PoolErrors   map[common.Address]string
}

type Harvester struct {
	vault vault.VaultManager
	gas   GasOracle
	cfg   Config
}

func NewHarvester(v vault.VaultManager, gas GasOracle, cfg Config) *Harvester {
	if cfg.GasEstimateLimit == 0 {
		cfg.GasEstimateLimit = 200000
	}
	return &Harvester{vault: v, gas: gas, cfg: cfg}
}

// ShouldClaim applies the yield, USD and gas gates in that order. A nil gasPrice means the
// oracle failed; the gas cost is then reported as MaxGasUSD and the claim is refused.
func (h *Harvester) ShouldClaim(y types.YieldSnapshot, asset types.Asset, gasPrice *big.Int) Decision {
	if y.TotalYield.IsNil() || !y.TotalYield.IsPositive() {
		return Decision{Reason: "No yield generated"}
	}
	if float64(y.YieldBps) < h.cfg.YieldThresholdBps {
		return Decision{Reason: fmt.Sprintf("Yield %.2f bps below threshold %.2f bps", float64(y.YieldBps), h.cfg.YieldThresholdBps)}
	}

	d := Decision{YieldUSD: h.yieldUSD(y.TotalYield, asset)}
	if d.YieldUSD < h.cfg.MinClaimUSD {
		d.Reason = fmt.Sprintf("Yield $%.2f below minimum $%.2f", d.YieldUSD, h.cfg.MinClaimUSD)
		return d
	}

	if gasPrice == nil {
		d.GasUSD = h.cfg.MaxGasUSD
		d.Reason = "Gas price unavailable"
		return d
	}
	d.GasUSD = h.gasUSD(gasPrice)
	if d.GasUSD > h.cfg.MaxGasUSD {
		d.Reason = fmt.Sprintf("Gas cost $%.2f exceeds maximum $%.2f", d.GasUSD, h.cfg.MaxGasUSD)
		return d
	}

	d.Claim = true
	d.Reason = fmt.Sprintf("Yield %.4f%% meets criteria for claiming", y.YieldPercent())
	return d
}

func (h *Harvester) yieldUSD(amount sdkmath.Int, asset types.Asset) float64 {
	price := asset.PriceUSD
	if price <= 0 {
		price = h.cfg.AssetPriceUSD
	}
	return utils.ToUSD(amount, asset.Decimals, price)
}

// gasUSD prices GasEstimateLimit units at gasPrice.
func (h *Harvester) gasUSD(gasPrice *big.Int) float64 {
	wei := decimal.NewFromBigInt(gasPrice, 0).Mul(decimal.NewFromInt(int64(h.cfg.GasEstimateLimit)))
	usd, _ := wei.Shift(-nativeDecimals).Mul(decimal.NewFromFloat(h.cfg.NativePriceUSD)).Float64()
	return usd
}

// Harvest withdraws each pool's share of the vault-level yield and redeposits what actually came
// back. Pools are processed independently; a failed pool is recorded and the loop continues.
func (h *Harvester) Harvest(ctx context.Context, y types.YieldSnapshot, asset types.Asset) Result {
	res := Result{
		Withdrawn:  sdkmath.ZeroInt(),
		Reinvested: sdkmath.ZeroInt(),
		PoolErrors: make(map[common.Address]string),
	}

	var gasPrice *big.Int
	if h.gas != nil {
		price, err := h.gas.GasPrice(ctx)
		if err != nil {
			harvestLogger.Warn().Err(err).Msg("Harvest: gas price unavailable, claim will be refused")
		} else {
			gasPrice = price
		}
	}

	res.Decision = h.ShouldClaim(y, asset, gasPrice)
	harvestLogger.Info().
		Bool("claim", res.Decision.Claim).
		Float64("yieldUSD", res.Decision.YieldUSD).
		Float64("gasUSD", res.Decision.GasUSD).
		Msg("Harvest: " + res.Decision.Reason)
	if !res.Decision.Claim {
		res.Phase = types.PhaseSkip(res.Decision.Reason)
		return res
	}
	if y.TotalPrincipal.IsNil() || !y.TotalPrincipal.IsPositive() {
		res.Phase = types.PhaseSkip("no principal deployed")
		return res
	}

	pools := make([]common.Address, 0, len(y.PoolPrincipals))
	for addr := range y.PoolPrincipals {
		pools = append(pools, addr)
	}
	sort.Slice(pools, func(i, j int) bool { return bytes.Compare(pools[i][:], pools[j][:]) < 0 })

	var processed int
	var lastErr error
	for _, pool := range pools {
		principal := y.PoolPrincipals[pool]
		if principal.IsNil() || !principal.IsPositive() {
			continue
		}
		share := y.TotalYield.Mul(principal).Quo(y.TotalPrincipal)
		if !share.IsPositive() {
			continue
		}

		withdrawn, reinvested, err := h.harvestPool(ctx, pool, share, asset, &res)
		res.Withdrawn = res.Withdrawn.Add(withdrawn)
		res.Reinvested = res.Reinvested.Add(reinvested)
		if err != nil {
			lastErr = err
			res.PoolErrors[pool] = err.Error()
			continue
		}
		processed++
	}

	switch {
	case processed == 0 && lastErr != nil:
		res.Phase = types.PhaseFail(lastErr)
	case processed == 0:
		res.Phase = types.PhaseSkip(ErrNoYield.Error())
	default:
		res.Phase = types.PhaseOK(processed, res.Reinvested)
		if lastErr != nil {
			res.Phase.Error = lastErr.Error()
		}
	}
	return res
}

// harvestPool withdraws share from pool, measures the idle delta and redeposits it.
func (h *Harvester) harvestPool(ctx context.Context, pool common.Address, share sdkmath.Int, asset types.Asset, res *Result) (sdkmath.Int, sdkmath.Int, error) {
	zero := sdkmath.ZeroInt()
	log := harvestLogger.With().Str("pool", pool.Hex()).Str("share", utils.FormatUnits(share, asset.Decimals)).Logger()

	before, err := h.vault.IdleBalance(ctx)
	if err != nil {
		return zero, zero, errors.Join(ErrPoolHarvest, ErrIdleReadFail, err)
	}

	receipt, err := h.vault.WithdrawFromPool(ctx, pool, share)
	res.Transactions = append(res.Transactions, chain.TxRecord(types.PhaseHarvest, "withdrawFromPool", &pool, share, receipt, err))
	if err != nil {
		log.Error().Err(err).Msg("harvestPool: yield withdrawal failed")
		return zero, zero, errors.Join(ErrPoolHarvest, fmt.Errorf("withdraw from %s: %w", pool.Hex(), err))
	}

	after, err := h.vault.IdleBalance(ctx)
	if err != nil {
		return zero, zero, errors.Join(ErrPoolHarvest, ErrIdleReadFail, err)
	}
	actual := after.Sub(before)
	if !actual.IsPositive() {
		log.Warn().Str("idleBefore", before.String()).Str("idleAfter", after.String()).Msg("harvestPool: withdrawal did not raise idle balance")
		return zero, zero, errors.Join(ErrPoolHarvest, ErrNoYieldWithdrawn, fmt.Errorf("pool %s, idle delta %s", pool.Hex(), actual))
	}

	receipt, err = h.vault.DepositToPool(ctx, pool, actual)
	res.Transactions = append(res.Transactions, chain.TxRecord(types.PhaseHarvest, "depositToPool", &pool, actual, receipt, err))
	if err != nil {
		log.Error().Err(err).Str("withdrawn", actual.String()).Msg("harvestPool: reinvest failed, yield left idle")
		return actual, zero, errors.Join(ErrPoolHarvest, fmt.Errorf("reinvest into %s: %w", pool.Hex(), err))
	}

	log.Info().Str("reinvested", utils.FormatUnits(actual, asset.Decimals)).Msg("harvestPool: yield reinvested")
	return actual, actual, nil
}
