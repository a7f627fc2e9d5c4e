package events

import (
	"context"
	"errors"
	"sync"

	"github.com/creeping-vampires/neura-vaults-backend/internal/types"
)

// Recorder receives run results and their transactions.
type Recorder interface {
	SaveRun(ctx context.Context, run types.RunResult) (int64, error)
	SaveTransaction(ctx context.Context, runID string, tx types.TransactionRecord) error
}

// Fanout writes to a primary recorder and then to every secondary. The primary's id is returned
// and its error is fatal; secondary failures are logged and joined into the returned error only
// when the primary also failed.
type Fanout struct {
	primary     Recorder
	secondaries []Recorder
}

func NewFanout(primary Recorder, secondaries ...Recorder) *Fanout {
	var live []Recorder
	for _, r := range secondaries {
		if r != nil {
			live = append(live, r)
		}
	}
	return &Fanout{primary: primary, secondaries: live}
}

func (f *Fanout) SaveRun(ctx context.Context, run types.RunResult) (int64, error) {
	id, err := f.primary.SaveRun(ctx, run)
	errs := []error{err}
	for _, r := range f.secondaries {
		if _, serr := r.SaveRun(ctx, run); serr != nil {
			eventsLogger.Warn().Err(serr).Str("run_id", run.RunID).Msg("SaveRun: secondary recorder failed")
			errs = append(errs, serr)
		}
	}
	if err != nil {
		return id, errors.Join(errs...)
	}
	return id, nil
}

func (f *Fanout) SaveTransaction(ctx context.Context, runID string, tx types.TransactionRecord) error {
	err := f.primary.SaveTransaction(ctx, runID, tx)
	errs := []error{err}
	for _, r := range f.secondaries {
		if serr := r.SaveTransaction(ctx, runID, tx); serr != nil {
			eventsLogger.Warn().Err(serr).Str("run_id", runID).Str("tx", tx.TxHash).Msg("SaveTransaction: secondary recorder failed")
			errs = append(errs, serr)
		}
	}
	if err != nil {
		return errors.Join(errs...)
	}
	return nil
}

// MemoryRecorder keeps runs in process. It backs dry runs without a database and tests.
type MemoryRecorder struct {
	mu           sync.Mutex
	runs         []types.RunResult
	transactions map[string][]types.TransactionRecord
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{transactions: make(map[string][]types.TransactionRecord)}
}

func (m *MemoryRecorder) SaveRun(_ context.Context, run types.RunResult) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run.ID = int64(len(m.runs) + 1)
	m.runs = append(m.runs, run)
	return run.ID, nil
}

func (m *MemoryRecorder) SaveTransaction(_ context.Context, runID string, tx types.TransactionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions[runID] = append(m.transactions[runID], tx)
	return nil
}

// Runs returns a copy of the recorded runs, oldest first.
func (m *MemoryRecorder) Runs() []types.RunResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.RunResult(nil), m.runs...)
}

func (m *MemoryRecorder) Transactions(runID string) []types.TransactionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.TransactionRecord(nil), m.transactions[runID]...)
}
