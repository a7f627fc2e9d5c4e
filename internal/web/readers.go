package web

import (
	"context"
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/creeping-vampires/neura-vaults-backend/internal/events"
	"github.com/creeping-vampires/neura-vaults-backend/internal/rebalance"
	"github.com/creeping-vampires/neura-vaults-backend/internal/state"
	"github.com/creeping-vampires/neura-vaults-backend/internal/types"
)

// RunReader is the read side of the run log.
type RunReader interface {
	RecentRuns(ctx context.Context, limit int) ([]types.RunResult, error)
	LatestRun(ctx context.Context) (*types.RunResult, error)
	RunByID(ctx context.Context, runID string) (*types.RunResult, error)
	Summary(ctx context.Context) (*state.RunSummary, error)
}

// RebalanceReader is the read side of the rebalance log. state.RebalanceStore implements it.
type RebalanceReader interface {
	ListRebalanceRecords(ctx context.Context, status string, limit int) ([]types.RebalanceRecord, error)
	StrandedUnits(ctx context.Context) ([]types.StrandedUnit, error)
}

// DatabaseRuns reads runs from Postgres.
type DatabaseRuns struct{}

func (DatabaseRuns) RecentRuns(ctx context.Context, limit int) ([]types.RunResult, error) {
	return state.GetRecentRuns(ctx, limit)
}

func (DatabaseRuns) LatestRun(ctx context.Context) (*types.RunResult, error) {
	return state.GetLatestRun(ctx)
}

func (DatabaseRuns) RunByID(ctx context.Context, runID string) (*types.RunResult, error) {
	return state.GetRunByID(ctx, runID)
}

func (DatabaseRuns) Summary(ctx context.Context) (*state.RunSummary, error) {
	return state.GetRunSummary(ctx)
}

// MemoryRuns reads runs kept by an in-process recorder.
type MemoryRuns struct {
	Recorder *events.MemoryRecorder
}

func (m MemoryRuns) RecentRuns(_ context.Context, limit int) ([]types.RunResult, error) {
	runs := m.Recorder.Runs()
	out := make([]types.RunResult, 0, min(limit, len(runs)))
	for i := len(runs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, runs[i])
	}
	return out, nil
}

func (m MemoryRuns) LatestRun(_ context.Context) (*types.RunResult, error) {
	runs := m.Recorder.Runs()
	if len(runs) == 0 {
		return nil, state.ErrRunNotFound
	}
	run := runs[len(runs)-1]
	return &run, nil
}

func (m MemoryRuns) RunByID(_ context.Context, runID string) (*types.RunResult, error) {
	for _, run := range m.Recorder.Runs() {
		if run.RunID == runID {
			return &run, nil
		}
	}
	return nil, errors.Join(state.ErrRunNotFound, fmt.Errorf("run_id %s", runID))
}

func (m MemoryRuns) Summary(_ context.Context) (*state.RunSummary, error) {
	summary := &state.RunSummary{}
	reinvested := sdkmath.ZeroInt()
	for _, run := range m.Recorder.Runs() {
		summary.TotalRuns++
		switch run.Status {
		case types.RunSuccess:
			summary.SuccessfulRuns++
		case types.RunPartial:
			summary.PartialRuns++
		case types.RunFailed:
			summary.FailedRuns++
		case types.RunSkipped:
			summary.SkippedRuns++
		}
		summary.TotalProcessed += int64(run.ProcessedCount)
		if !run.TotalReinvested.IsNil() {
			reinvested = reinvested.Add(run.TotalReinvested)
		}
		summary.LastRunAt = run.StartedAt.String()
	}
	summary.TotalReinvested = reinvested.String()
	return summary, nil
}

// MemoryRebalances reads legs kept by an in-process rebalance store.
type MemoryRebalances struct {
	Store *rebalance.MemoryStore
}

func (m MemoryRebalances) ListRebalanceRecords(_ context.Context, status string, limit int) ([]types.RebalanceRecord, error) {
	records := m.Store.Records()
	out := []types.RebalanceRecord{}
	for i := len(records) - 1; i >= 0 && len(out) < limit; i-- {
		if status != "" && string(records[i].Status) != status {
			continue
		}
		out = append(out, records[i])
	}
	return out, nil
}

func (m MemoryRebalances) StrandedUnits(ctx context.Context) ([]types.StrandedUnit, error) {
	return m.Store.StrandedUnits(ctx)
}
