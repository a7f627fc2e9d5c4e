package queue

import (
	"context"
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/creeping-vampires/neura-vaults-backend/internal/chain"
	"github.com/creeping-vampires/neura-vaults-backend/internal/logger"
	"github.com/creeping-vampires/neura-vaults-backend/internal/types"
	"github.com/creeping-vampires/neura-vaults-backend/internal/utils"
	"github.com/creeping-vampires/neura-vaults-backend/internal/vault"
	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrLiquidityShortfall = errors.New("insufficient liquidity to cover withdrawal requests")
	ErrQueueReadFailed    = errors.New("failed to read request queue")
)

var queueLogger = logger.GetForComponent("queue_processor")

// Result is a phase outcome plus the transactions it produced.
type Result struct {
	Phase        types.PhaseResult
	Transactions []types.TransactionRecord
	Remaining    int
}

// DepositProcessor drains the deposit queue into the best pool in one batch transaction.
type DepositProcessor struct {
	vault     vault.VaultManager
	batchSize int
}

func NewDepositProcessor(v vault.VaultManager, batchSize int) *DepositProcessor {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &DepositProcessor{vault: v, batchSize: batchSize}
}

// Length reads the current deposit queue length.
func (p *DepositProcessor) Length(ctx context.Context) (int, error) {
	n, err := p.vault.DepositQueueLength(ctx)
	if err != nil {
		return 0, errors.Join(ErrQueueReadFailed, err)
	}
	return n, nil
}

// Process peeks up to batchSize entries, checks the executor roles and the pool whitelist, then
// submits fullfillBatchDeposits. Precondition failures skip the phase.
func (p *DepositProcessor) Process(ctx context.Context, bestPool common.Address, asset types.Asset) Result {
	before, err := p.Length(ctx)
	if err != nil {
		return Result{Phase: types.PhaseFail(err)}
	}
	if before == 0 {
		return Result{Phase: types.PhaseSkip("deposit queue is empty")}
	}

	batch := min(p.batchSize, before)
	entries := make([]types.QueueEntry, 0, batch)
	for i := 0; i < batch; i++ {
		entry, err := p.vault.DepositQueueAt(ctx, i)
		if err != nil {
			return Result{Phase: types.PhaseFail(errors.Join(ErrQueueReadFailed, fmt.Errorf("deposit entry %d: %w", i, err))), Remaining: before}
		}
		entries = append(entries, entry)
		queueLogger.Info().
			Int("index", i).
			Str("controller", entry.Controller.Hex()).
			Str("assets", utils.FormatUnits(entry.Assets, asset.Decimals)).
			Bool("exists", entry.Exists).
			Msg("Process: deposit request")
	}

	onAgent, onVault, err := p.vault.ExecutorRoles(ctx)
	if err != nil {
		return Result{Phase: types.PhaseFail(fmt.Errorf("failed to verify executor roles: %w", err)), Remaining: before}
	}
	if !onAgent || !onVault {
		reason := fmt.Sprintf("executor role missing (executor on AIAgent: %t, AIAgent on vault: %t)", onAgent, onVault)
		queueLogger.Warn().Msg("Process: " + reason)
		return Result{Phase: types.PhaseSkip(reason), Remaining: before}
	}

	if bestPool == (common.Address{}) {
		return Result{Phase: types.PhaseSkip("no best pool available"), Remaining: before}
	}
	whitelisted, err := p.vault.IsWhitelisted(ctx, bestPool)
	if err != nil {
		return Result{Phase: types.PhaseFail(fmt.Errorf("failed to verify whitelist for %s: %w", bestPool.Hex(), err)), Remaining: before}
	}
	if !whitelisted {
		reason := fmt.Sprintf("best pool %s is not whitelisted", bestPool.Hex())
		queueLogger.Warn().Msg("Process: " + reason)
		return Result{Phase: types.PhaseSkip(reason), Remaining: before}
	}

	total := sdkmath.ZeroInt()
	for _, e := range entries {
		total = total.Add(e.Assets)
	}

	queueLogger.Info().
		Int("batch", batch).
		Str("pool", bestPool.Hex()).
		Str("amount", utils.FormatUnits(total, asset.Decimals)).
		Msg("Process: submitting fullfillBatchDeposits")

	pool := bestPool
	receipt, err := p.vault.FulfillBatchDeposits(ctx, batch, bestPool)
	tx := chain.TxRecord(types.PhaseDeposit, "fullfillBatchDeposits", &pool, total, receipt, err)
	if err != nil {
		return Result{Phase: types.PhaseFail(err), Transactions: []types.TransactionRecord{tx}, Remaining: before}
	}

	after, err := p.Length(ctx)
	if err != nil {
		queueLogger.Warn().Err(err).Msg("Process: could not re-read deposit queue length")
		after = before - batch
	}
	processed := max(before-after, 0)

	processedAmount := sdkmath.ZeroInt()
	for i := 0; i < processed && i < len(entries); i++ {
		processedAmount = processedAmount.Add(entries[i].Assets)
	}

	queueLogger.Info().
		Str("txHash", receipt.TxHash.Hex()).
		Int("processed", processed).
		Int("remaining", after).
		Msg("Process: deposit batch fulfilled")

	return Result{Phase: types.PhaseOK(processed, processedAmount), Transactions: []types.TransactionRecord{tx}, Remaining: after}
}
