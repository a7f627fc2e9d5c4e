package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/creeping-vampires/neura-vaults-backend/internal/rebalance"
	"github.com/creeping-vampires/neura-vaults-backend/internal/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
)

const rebalanceColumns = `
	id, rebalance_id, leg, status, pool_address, protocol, amount, requested_amount,
	tx_hash, block_number, gas_used, gas_price, error, dry_run, created_at, updated_at`

// RebalanceStore is the Postgres rebalance log.
type RebalanceStore struct{}

func NewRebalanceStore() *RebalanceStore { return &RebalanceStore{} }

var _ rebalance.RecordStore = (*RebalanceStore)(nil)

func (s *RebalanceStore) CreateRebalanceRecord(ctx context.Context, rec types.RebalanceRecord) (int64, error) {
	if DB == nil {
		return 0, ErrDBNotInitialized
	}

	var id int64
	err := DB.QueryRowContext(ctx, `
		INSERT INTO rebalance_records (
			rebalance_id, leg, status, pool_address, protocol, amount, requested_amount, gas_price, error, dry_run
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id;`,
		rec.RebalanceID, string(rec.Leg), string(rec.Status), rec.Pool.Hex(), rec.Protocol,
		numericArg(rec.Amount), numericArg(rec.RequestedAmount), numericArg(rec.GasPrice), nullString(rec.Error), rec.DryRun,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s record for rebalance %s: %w", rec.Leg, rec.RebalanceID, err)
	}

	log.Debug().Int64("id", id).Str("rebalance_id", rec.RebalanceID).Str("leg", string(rec.Leg)).Msg("Rebalance record created")
	return id, nil
}

func (s *RebalanceStore) UpdateRebalanceRecord(ctx context.Context, rec types.RebalanceRecord) error {
	if DB == nil {
		return ErrDBNotInitialized
	}

	result, err := DB.ExecContext(ctx, `
		UPDATE rebalance_records SET
			status = $2, amount = $3, tx_hash = $4, block_number = $5, gas_used = $6,
			gas_price = $7, error = $8, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1;`,
		rec.ID, string(rec.Status), numericArg(rec.Amount), nullString(rec.TxHash),
		nullUint(rec.BlockNumber), nullUint(rec.GasUsed), numericArg(rec.GasPrice), nullString(rec.Error),
	)
	if err != nil {
		return fmt.Errorf("failed to update rebalance record %d: %w", rec.ID, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return errors.Join(rebalance.ErrRecordNotFound, fmt.Errorf("id %d", rec.ID))
	}
	return nil
}

// StrandedUnits loads every leg of live units with a completed withdrawal and no deposit that
// is completed, pending or unknown, then pairs them up.
func (s *RebalanceStore) StrandedUnits(ctx context.Context) ([]types.StrandedUnit, error) {
	if DB == nil {
		return nil, ErrDBNotInitialized
	}

	query := `SELECT ` + rebalanceColumns + `
		FROM rebalance_records r
		WHERE r.rebalance_id IN (
			SELECT w.rebalance_id FROM rebalance_records w
			WHERE w.leg = 'withdrawal' AND w.status = 'completed' AND NOT w.dry_run
		)
		AND NOT EXISTS (
			SELECT 1 FROM rebalance_records d
			WHERE d.rebalance_id = r.rebalance_id
			  AND d.leg = 'deposit'
			  AND d.status IN ('completed', 'pending', 'unknown')
		)
		ORDER BY r.created_at ASC, r.id ASC;`

	records, err := queryRebalanceRecords(ctx, query)
	if err != nil {
		return nil, err
	}
	return rebalance.FindStranded(records), nil
}

// ListRebalanceRecords returns the newest records, optionally filtered by status.
func (s *RebalanceStore) ListRebalanceRecords(ctx context.Context, status string, limit int) ([]types.RebalanceRecord, error) {
	if DB == nil {
		return nil, ErrDBNotInitialized
	}
	limit = clampLimit(limit, 50, 500)

	if status == "" {
		return queryRebalanceRecords(ctx, `SELECT `+rebalanceColumns+`
			FROM rebalance_records ORDER BY created_at DESC, id DESC LIMIT $1;`, limit)
	}
	if !validRebalanceStatus(status) {
		return nil, fmt.Errorf("unknown rebalance status %q", status)
	}
	return queryRebalanceRecords(ctx, `SELECT `+rebalanceColumns+`
		FROM rebalance_records WHERE status = $1 ORDER BY created_at DESC, id DESC LIMIT $2;`, status, limit)
}

func validRebalanceStatus(status string) bool {
	switch types.RebalanceStatus(status) {
	case types.RebalancePending, types.RebalanceCompleted, types.RebalanceFailed, types.RebalanceUnknown:
		return true
	}
	return false
}

func queryRebalanceRecords(ctx context.Context, query string, args ...any) ([]types.RebalanceRecord, error) {
	rows, err := DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rebalance records: %w", err)
	}
	defer rows.Close()

	var out []types.RebalanceRecord
	for rows.Next() {
		rec, err := scanRebalanceRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

func scanRebalanceRecord(rows *sql.Rows) (types.RebalanceRecord, error) {
	var (
		rec                         types.RebalanceRecord
		leg, status, pool           string
		amount, requested, gasPrice string
		txHash, errText             sql.NullString
		blockNumber, gasUsed        sql.NullInt64
	)
	err := rows.Scan(
		&rec.ID, &rec.RebalanceID, &leg, &status, &pool, &rec.Protocol, &amount, &requested,
		&txHash, &blockNumber, &gasUsed, &gasPrice, &errText, &rec.DryRun, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return rec, fmt.Errorf("failed to scan rebalance record: %w", err)
	}

	rec.Leg = types.RebalanceLeg(leg)
	rec.Status = types.RebalanceStatus(status)
	rec.Pool = common.HexToAddress(pool)
	rec.TxHash = txHash.String
	rec.Error = errText.String
	rec.BlockNumber = uint64(blockNumber.Int64)
	rec.GasUsed = uint64(gasUsed.Int64)

	if rec.Amount, err = parseNumeric(amount); err != nil {
		return rec, err
	}
	if rec.RequestedAmount, err = parseNumeric(requested); err != nil {
		return rec, err
	}
	if rec.GasPrice, err = parseNumeric(gasPrice); err != nil {
		return rec, err
	}
	return rec, nil
}

func nullUint(v uint64) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(v), Valid: v != 0}
}
