package rebalance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/creeping-vampires/neura-vaults-backend/internal/types"
)

var ErrRecordNotFound = errors.New("rebalance record not found")

// RecordStore persists rebalance legs. Implementations must make StrandedUnits reflect every
// prior Update so that a settled unit is never returned again.
type RecordStore interface {
	CreateRebalanceRecord(ctx context.Context, rec types.RebalanceRecord) (int64, error)
	UpdateRebalanceRecord(ctx context.Context, rec types.RebalanceRecord) error
	StrandedUnits(ctx context.Context) ([]types.StrandedUnit, error)
}

// FindStranded groups legs by rebalance id and returns units whose withdrawal completed while
// every deposit attempt failed. A deposit that is pending or unknown may still land, so its
// unit is left alone. Dry-run withdrawals moved nothing and never strand a unit.
func FindStranded(records []types.RebalanceRecord) []types.StrandedUnit {
	type unit struct {
		withdrawal    *types.RebalanceRecord
		failedDeposit *types.RebalanceRecord
		blocked       bool
	}
	units := make(map[string]*unit)
	var order []string

	for i := range records {
		r := records[i]
		u, ok := units[r.RebalanceID]
		if !ok {
			u = &unit{}
			units[r.RebalanceID] = u
			order = append(order, r.RebalanceID)
		}
		switch r.Leg {
		case types.LegWithdrawal:
			if r.Status == types.RebalanceCompleted && !r.DryRun {
				u.withdrawal = &r
			}
		case types.LegDeposit:
			if r.Status == types.RebalanceFailed {
				if u.failedDeposit == nil || r.ID > u.failedDeposit.ID {
					u.failedDeposit = &r
				}
			} else {
				u.blocked = true
			}
		}
	}

	var out []types.StrandedUnit
	for _, id := range order {
		u := units[id]
		if u.withdrawal == nil || u.failedDeposit == nil || u.blocked {
			continue
		}
		out = append(out, types.StrandedUnit{RebalanceID: id, Withdrawal: *u.withdrawal, FailedDeposit: *u.failedDeposit})
	}
	return out
}

// MemoryStore keeps rebalance records in process. Dry runs always use it.
type MemoryStore struct {
	mu      sync.Mutex
	records []types.RebalanceRecord
	nextID  int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1}
}

func (s *MemoryStore) CreateRebalanceRecord(_ context.Context, rec types.RebalanceRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.ID = s.nextID
	s.nextID++
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.UpdatedAt = rec.CreatedAt
	s.records = append(s.records, rec)
	return rec.ID, nil
}

func (s *MemoryStore) UpdateRebalanceRecord(_ context.Context, rec types.RebalanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].ID == rec.ID {
			rec.CreatedAt = s.records[i].CreatedAt
			rec.UpdatedAt = time.Now().UTC()
			s.records[i] = rec
			return nil
		}
	}
	return errors.Join(ErrRecordNotFound, fmt.Errorf("id %d", rec.ID))
}

func (s *MemoryStore) StrandedUnits(context.Context) ([]types.StrandedUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return FindStranded(s.records), nil
}

// Records returns a copy of every record ordered by id.
func (s *MemoryStore) Records() []types.RebalanceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]types.RebalanceRecord(nil), s.records...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
