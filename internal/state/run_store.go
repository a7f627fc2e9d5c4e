package state

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/creeping-vampires/neura-vaults-backend/internal/types"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// RunStore persists run results and their transactions to Postgres.
type RunStore struct{}

func NewRunStore() *RunStore { return &RunStore{} }

// SaveRun inserts the run summary with the full result as JSONB and returns the row id.
func (s *RunStore) SaveRun(ctx context.Context, run types.RunResult) (int64, error) {
	if DB == nil {
		return 0, ErrDBNotInitialized
	}

	resultJSON, err := json.Marshal(run)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal run result: %w", err)
	}

	hashes := make([]string, 0, len(run.Transactions))
	for _, tx := range run.Transactions {
		if tx.TxHash != "" {
			hashes = append(hashes, tx.TxHash)
		}
	}

	query := `
		INSERT INTO runs (
			run_id, cycle_number, vault_address, status, started_at, finished_at,
			processed_count, total_yield, total_withdrawn, total_reinvested,
			tx_hashes, errors, result
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (run_id) DO UPDATE SET
			status = EXCLUDED.status,
			finished_at = EXCLUDED.finished_at,
			processed_count = EXCLUDED.processed_count,
			total_yield = EXCLUDED.total_yield,
			total_withdrawn = EXCLUDED.total_withdrawn,
			total_reinvested = EXCLUDED.total_reinvested,
			tx_hashes = EXCLUDED.tx_hashes,
			errors = EXCLUDED.errors,
			result = EXCLUDED.result
		RETURNING id;
	`

	var id int64
	err = DB.QueryRowContext(ctx, query,
		run.RunID, run.CycleNumber, run.Vault.Hex(), string(run.Status), run.StartedAt, run.FinishedAt,
		run.ProcessedCount, numericArg(run.TotalYield), numericArg(run.TotalWithdrawn), numericArg(run.TotalReinvested),
		pq.Array(hashes), pq.Array(run.Errors), resultJSON,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to save run %s: %w", run.RunID, err)
	}

	log.Info().
		Int64("id", id).
		Str("run_id", run.RunID).
		Uint64("cycle_number", run.CycleNumber).
		Str("status", string(run.Status)).
		Msg("Run saved to database")
	return id, nil
}

// SaveTransaction appends one transaction row for a run.
func (s *RunStore) SaveTransaction(ctx context.Context, runID string, tx types.TransactionRecord) error {
	if DB == nil {
		return ErrDBNotInitialized
	}

	_, err := DB.ExecContext(ctx, `
		INSERT INTO run_transactions (
			run_id, phase, method, pool_address, tx_hash, status, gas_used, gas_price, amount, error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);`,
		runID, tx.Phase, tx.Method, addressArg(tx.Pool), nullString(tx.TxHash), string(tx.Status),
		int64(tx.GasUsed), numericArg(tx.GasPrice), numericArg(tx.Amount), nullString(tx.Error),
	)
	if err != nil {
		return fmt.Errorf("failed to save transaction %s for run %s: %w", tx.TxHash, runID, err)
	}
	return nil
}
