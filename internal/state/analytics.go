package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/creeping-vampires/neura-vaults-backend/internal/types"
	"github.com/rs/zerolog/log"
)

var ErrRunNotFound = errors.New("run not found")

// RunSummary is aggregated run statistics for the read API.
type RunSummary struct {
	TotalRuns       int    `json:"total_runs"`
	SuccessfulRuns  int    `json:"successful_runs"`
	PartialRuns     int    `json:"partial_runs"`
	FailedRuns      int    `json:"failed_runs"`
	SkippedRuns     int    `json:"skipped_runs"`
	TotalProcessed  int64  `json:"total_processed"`
	TotalReinvested string `json:"total_reinvested"`
	LastRunAt       string `json:"last_run_at,omitempty"`
}

// GetRecentRuns returns the newest runs, newest first.
func GetRecentRuns(ctx context.Context, limit int) ([]types.RunResult, error) {
	if DB == nil {
		return nil, ErrDBNotInitialized
	}
	limit = clampLimit(limit, 10, 100)

	rows, err := DB.QueryContext(ctx, `SELECT id, result FROM runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent runs: %w", err)
	}
	defer rows.Close()

	runs := []types.RunResult{}
	for rows.Next() {
		var id int64
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			log.Error().Err(err).Msg("Failed to scan run row")
			continue
		}
		run, err := decodeRun(id, raw)
		if err != nil {
			log.Error().Err(err).Int64("id", id).Msg("Failed to decode run result")
			continue
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return runs, nil
}

// GetLatestRun returns the most recent run.
func GetLatestRun(ctx context.Context) (*types.RunResult, error) {
	return getRun(ctx, `SELECT id, result FROM runs ORDER BY started_at DESC LIMIT 1`)
}

// GetRunByID looks a run up by its uuid.
func GetRunByID(ctx context.Context, runID string) (*types.RunResult, error) {
	return getRun(ctx, `SELECT id, result FROM runs WHERE run_id = $1`, runID)
}

func getRun(ctx context.Context, query string, args ...any) (*types.RunResult, error) {
	if DB == nil {
		return nil, ErrDBNotInitialized
	}

	var id int64
	var raw []byte
	err := DB.QueryRowContext(ctx, query, args...).Scan(&id, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	run, err := decodeRun(id, raw)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func decodeRun(id int64, raw []byte) (types.RunResult, error) {
	var run types.RunResult
	if err := json.Unmarshal(raw, &run); err != nil {
		return run, fmt.Errorf("failed to unmarshal run result: %w", err)
	}
	run.ID = id
	return run, nil
}

// GetRunSummary aggregates every recorded run.
func GetRunSummary(ctx context.Context) (*RunSummary, error) {
	if DB == nil {
		return nil, ErrDBNotInitialized
	}

	summary := &RunSummary{}
	var lastRun sql.NullString
	err := DB.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(CASE WHEN status = 'success' THEN 1 END),
			COUNT(CASE WHEN status = 'partial' THEN 1 END),
			COUNT(CASE WHEN status = 'failed' THEN 1 END),
			COUNT(CASE WHEN status = 'skipped' THEN 1 END),
			COALESCE(SUM(processed_count), 0),
			COALESCE(SUM(total_reinvested), 0)::TEXT,
			MAX(started_at)::TEXT
		FROM runs`).Scan(
		&summary.TotalRuns,
		&summary.SuccessfulRuns,
		&summary.PartialRuns,
		&summary.FailedRuns,
		&summary.SkippedRuns,
		&summary.TotalProcessed,
		&summary.TotalReinvested,
		&lastRun,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get run summary: %w", err)
	}
	summary.LastRunAt = lastRun.String
	return summary, nil
}
