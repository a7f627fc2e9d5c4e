package rebalance

import (
	"context"

	sdkmath "cosmossdk.io/math"
	"github.com/creeping-vampires/neura-vaults-backend/internal/types"
)

// InsufficientIdleNote annotates a stranded deposit that could not be retried this cycle.
const InsufficientIdleNote = "Insufficient idle assets to settle"

// SettleResult reports what SettleFailed did.
type SettleResult struct {
	Phase        types.PhaseResult
	Settled      []string
	Deferred     []string
	Transactions []types.TransactionRecord
	Idle         sdkmath.Int
}

// SettleFailed retries the deposit leg of every stranded unit that idle can cover, decrementing
// idle locally after each success. Units idle cannot cover are annotated and left for a later
// cycle. A settled unit gains a completed deposit leg and is never selected again.
func (e *Executor) SettleFailed(ctx context.Context, idle sdkmath.Int) SettleResult {
	res := SettleResult{Idle: idle}
	if res.Idle.IsNil() {
		res.Idle = sdkmath.ZeroInt()
	}

	units, err := e.store.StrandedUnits(ctx)
	if err != nil {
		res.Phase = types.PhaseFail(err)
		return res
	}
	if len(units) == 0 {
		res.Phase = types.PhaseSkip("no stranded rebalances")
		return res
	}

	settledAmount := sdkmath.ZeroInt()
	var lastErr error
	for _, unit := range units {
		amount := unit.Withdrawal.Amount
		log := rebalanceLogger.With().Str("rebalance_id", unit.RebalanceID).Str("amount", amount.String()).Logger()

		if amount.IsNil() || !amount.IsPositive() {
			log.Warn().Msg("SettleFailed: stranded unit has no amount, skipping")
			continue
		}
		if res.Idle.LT(amount) {
			log.Warn().Str("idle", res.Idle.String()).Msg("SettleFailed: " + InsufficientIdleNote)
			failed := unit.FailedDeposit
			failed.Error = InsufficientIdleNote
			e.update(ctx, failed)
			res.Deferred = append(res.Deferred, unit.RebalanceID)
			continue
		}

		deposit, tx, err := e.depositLeg(ctx, unit.RebalanceID, unit.FailedDeposit.Pool, unit.FailedDeposit.Protocol, amount)
		if tx != nil {
			res.Transactions = append(res.Transactions, *tx)
		}
		if err != nil {
			log.Error().Err(err).Msg("SettleFailed: deposit retry failed")
			lastErr = err
			continue
		}
		res.Idle = res.Idle.Sub(deposit.Amount)
		settledAmount = settledAmount.Add(deposit.Amount)
		res.Settled = append(res.Settled, unit.RebalanceID)
		log.Info().Msg("SettleFailed: stranded rebalance settled")
	}

	switch {
	case lastErr != nil && len(res.Settled) == 0:
		res.Phase = types.PhaseFail(lastErr)
	case len(res.Settled) == 0:
		res.Phase = types.PhaseSkip(InsufficientIdleNote)
	default:
		res.Phase = types.PhaseOK(len(res.Settled), settledAmount)
		if lastErr != nil {
			res.Phase.Error = lastErr.Error()
		}
	}
	return res
}
