package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"

	sdkmath "cosmossdk.io/math"
	"github.com/creeping-vampires/neura-vaults-backend/internal/chain"
	"github.com/creeping-vampires/neura-vaults-backend/internal/types"
	"github.com/creeping-vampires/neura-vaults-backend/internal/utils"
	"github.com/creeping-vampires/neura-vaults-backend/internal/vault"
	"github.com/ethereum/go-ethereum/common"
)

// withdrawalBatchSize is fixed at one request per transaction to contain contract failures.
const withdrawalBatchSize = 1

// WithdrawalProcessor fulfils withdrawal requests, pulling liquidity from pools when idle assets
// do not cover the pending requests.
type WithdrawalProcessor struct {
	vault   vault.VaultManager
	maxScan int
}

func NewWithdrawalProcessor(v vault.VaultManager, maxScan int) *WithdrawalProcessor {
	if maxScan <= 0 {
		maxScan = 256
	}
	return &WithdrawalProcessor{vault: v, maxScan: maxScan}
}

// Scan walks pendingWithdrawers until the zero address, a revert, or maxScan entries.
func (p *WithdrawalProcessor) Scan(ctx context.Context) ([]common.Address, error) {
	var out []common.Address
	for i := 0; i < p.maxScan; i++ {
		controller, err := p.vault.PendingWithdrawer(ctx, i)
		if err != nil {
			if chain.IsRevert(err) {
				break
			}
			return out, errors.Join(ErrQueueReadFailed, fmt.Errorf("pendingWithdrawers(%d): %w", i, err))
		}
		if controller == (common.Address{}) {
			break
		}
		out = append(out, controller)
	}
	if len(out) == p.maxScan {
		queueLogger.Warn().Int("maxScan", p.maxScan).Msg("Scan: withdrawal queue scan hit its bound")
	}
	return out, nil
}

// Length is the number of pending withdrawers visible to Scan.
func (p *WithdrawalProcessor) Length(ctx context.Context) (int, error) {
	controllers, err := p.Scan(ctx)
	return len(controllers), err
}

type poolLiquidity struct {
	pool         common.Address
	protocol     string
	withdrawable sdkmath.Int
}

// Process sums the safe requests, covers any shortfall from pools in descending order of
// withdrawable liquidity, and submits fulfillBatchWithdrawals(1) only once idle covers the need.
func (p *WithdrawalProcessor) Process(ctx context.Context, snap types.LedgerSnapshot) Result {
	asset := snap.Asset
	controllers, err := p.Scan(ctx)
	if err != nil {
		return Result{Phase: types.PhaseFail(err)}
	}
	before := len(controllers)
	if before == 0 {
		return Result{Phase: types.PhaseSkip("withdrawal queue is empty")}
	}

	needed := sdkmath.ZeroInt()
	safe := 0
	for _, controller := range controllers {
		req, err := p.vault.WithdrawalRequest(ctx, controller)
		if err != nil {
			return Result{Phase: types.PhaseFail(errors.Join(ErrQueueReadFailed, fmt.Errorf("withdrawal request of %s: %w", controller.Hex(), err))), Remaining: before}
		}
		if req.Shares.IsNil() || req.Shares.IsZero() {
			queueLogger.Warn().Str("controller", controller.Hex()).Msg("Process: withdrawal request has zero userShares, skipping as unsafe")
			continue
		}
		safe++
		needed = needed.Add(req.Assets)
	}
	if safe == 0 {
		return Result{Phase: types.PhaseSkip("no safe withdrawal requests (all have zero userShares)"), Remaining: before}
	}

	var txs []types.TransactionRecord
	idle, err := p.vault.IdleBalance(ctx)
	if err != nil {
		return Result{Phase: types.PhaseFail(err), Remaining: before}
	}

	queueLogger.Info().
		Int("pending", before).
		Int("safe", safe).
		Str("needed", utils.FormatUnits(needed, asset.Decimals)).
		Str("idle", utils.FormatUnits(idle, asset.Decimals)).
		Msg("Process: withdrawal requests summed")

	if idle.LT(needed) {
		shortfall := needed.Sub(idle)
		var covered sdkmath.Int
		txs, covered = p.coverShortfall(ctx, snap, shortfall)
		if remaining := shortfall.Sub(covered); remaining.IsPositive() {
			err := errors.Join(ErrLiquidityShortfall, fmt.Errorf("still short %s %s", utils.FormatUnits(remaining, asset.Decimals), asset.Symbol))
			queueLogger.Warn().Err(err).Msg("Process: skipping batch withdrawal")
			return Result{Phase: types.PhaseFail(err), Transactions: txs, Remaining: before}
		}
	}

	idleBefore, err := p.vault.IdleBalance(ctx)
	if err != nil {
		return Result{Phase: types.PhaseFail(err), Transactions: txs, Remaining: before}
	}

	queueLogger.Info().Int("batch", withdrawalBatchSize).Msg("Process: submitting fulfillBatchWithdrawals")
	receipt, err := p.vault.FulfillBatchWithdrawals(ctx, withdrawalBatchSize)
	if err != nil {
		txs = append(txs, chain.TxRecord(types.PhaseWithdrawal, "fulfillBatchWithdrawals", nil, sdkmath.ZeroInt(), receipt, err))
		return Result{Phase: types.PhaseFail(err), Transactions: txs, Remaining: before}
	}

	withdrawn := sdkmath.ZeroInt()
	if idleAfter, err := p.vault.IdleBalance(ctx); err == nil && idleBefore.GT(idleAfter) {
		withdrawn = idleBefore.Sub(idleAfter)
	}
	txs = append(txs, chain.TxRecord(types.PhaseWithdrawal, "fulfillBatchWithdrawals", nil, withdrawn, receipt, nil))

	after, err := p.Length(ctx)
	if err != nil {
		queueLogger.Warn().Err(err).Msg("Process: could not re-scan withdrawal queue")
	}
	processed := max(before-after, 0)

	queueLogger.Info().
		Str("txHash", receipt.TxHash.Hex()).
		Int("processed", processed).
		Int("remaining", after).
		Str("withdrawn", utils.FormatUnits(withdrawn, asset.Decimals)).
		Msg("Process: withdrawal batch fulfilled")

	return Result{Phase: types.PhaseOK(processed, withdrawn), Transactions: txs, Remaining: after}
}

// coverShortfall withdraws from pools largest-first and returns the amount actually covered.
func (p *WithdrawalProcessor) coverShortfall(ctx context.Context, snap types.LedgerSnapshot, shortfall sdkmath.Int) ([]types.TransactionRecord, sdkmath.Int) {
	asset := snap.Asset
	var pools []poolLiquidity
	for _, pos := range snap.Positions {
		withdrawable := pos.Principal
		if pos.Pool.Kind == types.PoolKindERC4626 {
			if limit, err := p.vault.MaxWithdraw(ctx, pos.Pool.Address); err == nil {
				withdrawable = sdkmath.MinInt(withdrawable, limit)
			} else {
				queueLogger.Warn().Err(err).Str("pool", pos.Pool.Address.Hex()).Msg("coverShortfall: maxWithdraw unavailable, using principal")
			}
		}
		if withdrawable.IsPositive() {
			pools = append(pools, poolLiquidity{pool: pos.Pool.Address, protocol: pos.Pool.Protocol, withdrawable: withdrawable})
		}
	}
	sort.SliceStable(pools, func(i, j int) bool {
		return pools[i].withdrawable.GT(pools[j].withdrawable)
	})

	var txs []types.TransactionRecord
	covered := sdkmath.ZeroInt()
	for _, pl := range pools {
		remaining := shortfall.Sub(covered)
		if !remaining.IsPositive() {
			break
		}
		amount := sdkmath.MinInt(remaining, pl.withdrawable)
		pool := pl.pool

		queueLogger.Info().
			Str("pool", pool.Hex()).
			Str("protocol", pl.protocol).
			Str("amount", utils.FormatUnits(amount, asset.Decimals)).
			Msg("coverShortfall: withdrawing from pool")

		receipt, err := p.vault.WithdrawFromPool(ctx, pool, amount)
		txs = append(txs, chain.TxRecord(types.PhaseWithdrawal, "withdrawFromPool", &pool, amount, receipt, err))
		if err != nil {
			queueLogger.Error().Err(err).Str("pool", pool.Hex()).Msg("coverShortfall: pool withdrawal failed")
			continue
		}
		covered = covered.Add(amount)
	}
	return txs, covered
}
