package rebalance

import (
	"context"
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/creeping-vampires/neura-vaults-backend/internal/chain"
	"github.com/creeping-vampires/neura-vaults-backend/internal/config"
	"github.com/creeping-vampires/neura-vaults-backend/internal/logger"
	"github.com/creeping-vampires/neura-vaults-backend/internal/types"
	"github.com/creeping-vampires/neura-vaults-backend/internal/utils"
	"github.com/creeping-vampires/neura-vaults-backend/internal/vault"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

var (
	ErrGainBelowThreshold  = errors.New("expected gain is below the rebalance threshold")
	ErrNothingWithdrawable = errors.New("nothing withdrawable from pool")
	ErrRecordStore         = errors.New("rebalance record store failed")
)

var rebalanceLogger = logger.GetForComponent("rebalance_executor")

// Config holds executor thresholds. DryRun marks every leg so simulated units are never settled.
type Config struct {
	MinGainBps        float64
	MinRebalanceUnits int64
	DryRun            bool
}

// Executor runs withdraw-then-deposit rebalances and settles stranded units. Every leg is
// persisted as pending before submission and updated with the receipt outcome.
type Executor struct {
	vault vault.VaultManager
	store RecordStore
	cfg   Config
}

func NewExecutor(v vault.VaultManager, store RecordStore, cfg Config) *Executor {
	return &Executor{vault: v, store: store, cfg: cfg}
}

// Outcome is what Execute reports back to the cycle.
type Outcome struct {
	RebalanceID  string
	Withdrawal   *types.RebalanceRecord
	Deposit      *types.RebalanceRecord
	Phase        types.PhaseResult
	Transactions []types.TransactionRecord
}

// Execute re-checks the gain threshold, then withdraws from the source pool and deposits the
// withdrawn amount into the destination. The deposit leg runs only after a completed withdrawal.
func (e *Executor) Execute(ctx context.Context, rec types.AllocationRecommendation, asset types.Asset) Outcome {
	if !rec.IsReallocate() {
		return Outcome{Phase: types.PhaseSkip(rec.Reason)}
	}
	m := rec.Move
	if m.GainBps <= e.cfg.MinGainBps {
		err := errors.Join(ErrGainBelowThreshold, fmt.Errorf("%.2f bps <= %.2f bps", m.GainBps, e.cfg.MinGainBps))
		return Outcome{Phase: types.PhaseSkip(err.Error())}
	}
	if minAmount := utils.WholeUnits(e.cfg.MinRebalanceUnits, asset.Decimals); m.Amount.LT(minAmount) {
		return Outcome{Phase: types.PhaseSkip(fmt.Sprintf("move of %s %s is below the minimum of %d units",
			utils.FormatUnits(m.Amount, asset.Decimals), asset.Symbol, e.cfg.MinRebalanceUnits))}
	}

	out := Outcome{RebalanceID: uuid.New().String()}
	log := rebalanceLogger.With().Str("rebalance_id", out.RebalanceID).Logger()
	log.Info().
		Str("from", m.From.Hex()).
		Str("to", m.To.Hex()).
		Str("amount", utils.FormatUnits(m.Amount, asset.Decimals)).
		Float64("gainBps", m.GainBps).
		Msg("Execute: starting rebalance")

	withdrawal, tx, err := e.withdrawLeg(ctx, out.RebalanceID, m.From, m.FromProtocol, m.Amount)
	out.Withdrawal = withdrawal
	if tx != nil {
		out.Transactions = append(out.Transactions, *tx)
	}
	if err != nil {
		log.Error().Err(err).Msg("Execute: withdrawal leg failed, deposit leg not attempted")
		out.Phase = types.PhaseFail(err)
		return out
	}

	deposit, tx, err := e.depositLeg(ctx, out.RebalanceID, m.To, m.ToProtocol, withdrawal.Amount)
	out.Deposit = deposit
	if tx != nil {
		out.Transactions = append(out.Transactions, *tx)
	}
	if err != nil {
		log.Error().Err(err).Str("stranded", utils.FormatUnits(withdrawal.Amount, asset.Decimals)).
			Msg("Execute: deposit leg failed, funds left idle for settlement")
		out.Phase = types.PhaseFail(err)
		return out
	}

	log.Info().Str("amount", utils.FormatUnits(withdrawal.Amount, asset.Decimals)).Msg("Execute: rebalance completed")
	out.Phase = types.PhaseOK(1, withdrawal.Amount)
	return out
}

// withdrawLeg records a pending withdrawal, clamps it to what the pool will release and submits.
func (e *Executor) withdrawLeg(ctx context.Context, rebalanceID string, pool common.Address, protocol string, requested sdkmath.Int) (*types.RebalanceRecord, *types.TransactionRecord, error) {
	rec := types.RebalanceRecord{
		RebalanceID:     rebalanceID,
		Leg:             types.LegWithdrawal,
		Status:          types.RebalancePending,
		Pool:            pool,
		Protocol:        protocol,
		Amount:          requested,
		RequestedAmount: requested,
		GasPrice:        sdkmath.ZeroInt(),
		DryRun:          e.cfg.DryRun,
		CreatedAt:       time.Now().UTC(),
	}
	id, err := e.store.CreateRebalanceRecord(ctx, rec)
	if err != nil {
		return &rec, nil, errors.Join(ErrRecordStore, err)
	}
	rec.ID = id

	limit := e.withdrawLimit(ctx, pool, protocol)
	amount := sdkmath.MinInt(requested, limit)
	if amount.LT(requested) {
		rebalanceLogger.Warn().
			Str("pool", pool.Hex()).
			Str("requested", requested.String()).
			Str("clamped", amount.String()).
			Msg("withdrawLeg: amount clamped to pool withdraw limit")
	}
	rec.Amount = amount

	if !amount.IsPositive() {
		err := errors.Join(ErrNothingWithdrawable, fmt.Errorf("pool %s", pool.Hex()))
		rec.Status = types.RebalanceFailed
		rec.Amount = sdkmath.ZeroInt()
		rec.Error = err.Error()
		e.update(ctx, rec)
		return &rec, nil, err
	}
	e.update(ctx, rec)

	receipt, err := e.vault.WithdrawFromPool(ctx, pool, amount)
	tx := chain.TxRecord(types.PhaseRebalance, "withdrawFromPool", &pool, amount, receipt, err)
	applyReceipt(&rec, receipt, err)
	e.update(ctx, rec)
	return &rec, &tx, err
}

// depositLeg records a pending deposit and submits it.
func (e *Executor) depositLeg(ctx context.Context, rebalanceID string, pool common.Address, protocol string, amount sdkmath.Int) (*types.RebalanceRecord, *types.TransactionRecord, error) {
	rec := types.RebalanceRecord{
		RebalanceID:     rebalanceID,
		Leg:             types.LegDeposit,
		Status:          types.RebalancePending,
		Pool:            pool,
		Protocol:        protocol,
		Amount:          amount,
		RequestedAmount: amount,
		GasPrice:        sdkmath.ZeroInt(),
		DryRun:          e.cfg.DryRun,
		CreatedAt:       time.Now().UTC(),
	}
	id, err := e.store.CreateRebalanceRecord(ctx, rec)
	if err != nil {
		return &rec, nil, errors.Join(ErrRecordStore, err)
	}
	rec.ID = id

	receipt, err := e.vault.DepositToPool(ctx, pool, amount)
	tx := chain.TxRecord(types.PhaseRebalance, "depositToPool", &pool, amount, receipt, err)
	applyReceipt(&rec, receipt, err)
	e.update(ctx, rec)
	return &rec, &tx, err
}

// withdrawLimit is maxWithdraw(vault) for ERC4626 pools and recorded principal otherwise. A
// failed maxWithdraw read falls back to principal.
func (e *Executor) withdrawLimit(ctx context.Context, pool common.Address, protocol string) sdkmath.Int {
	principal, err := e.vault.PoolPrincipal(ctx, pool)
	if err != nil {
		rebalanceLogger.Warn().Err(err).Str("pool", pool.Hex()).Msg("withdrawLimit: principal unavailable")
		principal = sdkmath.ZeroInt()
	}

	kind, err := e.vault.PoolKind(ctx, pool)
	if err != nil {
		kind = types.PoolKindAave
		if config.IsFelixPool(pool, protocol) {
			kind = types.PoolKindERC4626
		}
	}
	if kind != types.PoolKindERC4626 {
		return principal
	}

	limit, err := e.vault.MaxWithdraw(ctx, pool)
	if err != nil {
		rebalanceLogger.Warn().Err(err).Str("pool", pool.Hex()).Msg("withdrawLimit: maxWithdraw failed, using principal")
		return principal
	}
	return limit
}

func (e *Executor) update(ctx context.Context, rec types.RebalanceRecord) {
	if err := e.store.UpdateRebalanceRecord(ctx, rec); err != nil {
		rebalanceLogger.Error().Err(err).Int64("id", rec.ID).Str("status", string(rec.Status)).Msg("update: failed to persist rebalance record")
	}
}

// applyReceipt maps a submission outcome onto a leg: success completes it, a timeout leaves it
// unknown, anything else fails it.
func applyReceipt(rec *types.RebalanceRecord, receipt *chain.Receipt, err error) {
	if receipt != nil {
		rec.TxHash = receipt.TxHash.Hex()
		rec.BlockNumber = receipt.BlockNumber
		rec.GasUsed = receipt.GasUsed
		rec.GasPrice = utils.BigOrZero(receipt.GasPrice)
	}
	switch {
	case err == nil:
		rec.Status = types.RebalanceCompleted
		rec.Error = ""
	case errors.Is(err, chain.ErrConfirmationTimeout):
		rec.Status = types.RebalanceUnknown
		rec.Error = err.Error()
	default:
		rec.Status = types.RebalanceFailed
		rec.Error = err.Error()
	}
}
