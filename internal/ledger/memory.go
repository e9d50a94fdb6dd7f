package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/GoPolymarket/liquigate/internal/model"
	"github.com/GoPolymarket/liquigate/internal/pkg/apperrors"
)

// MemoryStore keeps the full ledger in process memory. It backs tests
// and the no-DSN fallback mode; production deployments should point at
// Postgres so the audit trail survives restarts.
type MemoryStore struct {
	mu            sync.RWMutex
	snapshots     []model.BalanceSnapshot
	nextSnapID    int64
	contributions []model.ContributionRecord
	batches       []model.Batch
	usage         map[string]*model.DailyUsage // key: YYYY-MM-DD (UTC)
	allocations   []model.Allocation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		usage:      make(map[string]*model.DailyUsage),
		nextSnapID: 1,
	}
}

func (s *MemoryStore) AppendSnapshot(ctx context.Context, snap model.BalanceSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap.ID = s.nextSnapID
	s.nextSnapID++
	s.snapshots = append(s.snapshots, snap)
	return nil
}

func (s *MemoryStore) LatestSnapshot(ctx context.Context) (*model.BalanceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.snapshots) == 0 {
		return nil, nil
	}
	snap := s.snapshots[len(s.snapshots)-1]
	return &snap, nil
}

func (s *MemoryStore) InsertContribution(ctx context.Context, rec model.ContributionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contributions = append(s.contributions, rec)
	return nil
}

func (s *MemoryStore) UnstampedContributions(ctx context.Context) ([]model.ContributionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.ContributionRecord
	for _, rec := range s.contributions {
		if rec.BatchID == nil {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ObservedAt.Before(out[j].ObservedAt)
	})
	return out, nil
}

func (s *MemoryStore) ListContributions(ctx context.Context, depositor string, limit int) ([]model.ContributionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.ContributionRecord
	for i := len(s.contributions) - 1; i >= 0; i-- {
		rec := s.contributions[i]
		if depositor != "" && rec.Depositor != depositor {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) StampContribution(ctx context.Context, id, batchID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.contributions {
		if s.contributions[i].ID == id {
			b := batchID
			s.contributions[i].BatchID = &b
			return nil
		}
	}
	return apperrors.Newf(apperrors.ErrNotFound, "contribution %s not found", id)
}

func (s *MemoryStore) SplitContribution(ctx context.Context, id uuid.UUID, covered, remainder model.ContributionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.contributions {
		if s.contributions[i].ID == id {
			s.contributions[i] = covered
			s.contributions = append(s.contributions, remainder)
			return nil
		}
	}
	return apperrors.Newf(apperrors.ErrNotFound, "contribution %s not found", id)
}

func (s *MemoryStore) ContributionsForBatch(ctx context.Context, batchID uuid.UUID) ([]model.ContributionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.ContributionRecord
	for _, rec := range s.contributions {
		if rec.BatchID != nil && *rec.BatchID == batchID {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ObservedAt.Before(out[j].ObservedAt)
	})
	return out, nil
}

func (s *MemoryStore) CreateBatch(ctx context.Context, b model.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, b)
	return nil
}

func (s *MemoryStore) TransitionBatch(ctx context.Context, b model.Batch, from model.BatchStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.batches {
		if s.batches[i].ID == b.ID {
			if s.batches[i].Status != from {
				return ErrStaleTransition
			}
			s.batches[i] = b
			return nil
		}
	}
	return apperrors.Newf(apperrors.ErrNotFound, "batch %s not found", b.ID)
}

func (s *MemoryStore) NonTerminalBatch(ctx context.Context) (*model.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *model.Batch
	for i := range s.batches {
		if !s.batches[i].Status.Terminal() {
			if found != nil {
				return nil, apperrors.Newf(apperrors.ErrLedgerCorruption,
					"two non-terminal batches: %s and %s", found.ID, s.batches[i].ID)
			}
			b := s.batches[i]
			found = &b
		}
	}
	return found, nil
}

func (s *MemoryStore) GetBatch(ctx context.Context, id uuid.UUID) (*model.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.batches {
		if s.batches[i].ID == id {
			b := s.batches[i]
			return &b, nil
		}
	}
	return nil, apperrors.Newf(apperrors.ErrNotFound, "batch %s not found", id)
}

func (s *MemoryStore) ListBatches(ctx context.Context, limit int) ([]model.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Batch
	for i := len(s.batches) - 1; i >= 0; i-- {
		out = append(out, s.batches[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) DailyUsage(ctx context.Context, day string) (model.DailyUsage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.usage[day]; ok {
		return *u, nil
	}
	return emptyUsage(day), nil
}

func (s *MemoryStore) ReserveDailyUsage(ctx context.Context, day string, amountA, amountB decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.usageLocked(day)
	u.ReservedA = u.ReservedA.Add(amountA)
	u.ReservedB = u.ReservedB.Add(amountB)
	return nil
}

func (s *MemoryStore) FinalizeDailyUsage(ctx context.Context, day string, amountA, amountB decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.usageLocked(day)
	u.ReservedA = clampZero(u.ReservedA.Sub(amountA))
	u.ReservedB = clampZero(u.ReservedB.Sub(amountB))
	u.ConfirmedA = u.ConfirmedA.Add(amountA)
	u.ConfirmedB = u.ConfirmedB.Add(amountB)
	return nil
}

func (s *MemoryStore) ReleaseDailyUsage(ctx context.Context, day string, amountA, amountB decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.usageLocked(day)
	u.ReservedA = clampZero(u.ReservedA.Sub(amountA))
	u.ReservedB = clampZero(u.ReservedB.Sub(amountB))
	return nil
}

func clampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

func (s *MemoryStore) InsertAllocations(ctx context.Context, allocs []model.Allocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allocations = append(s.allocations, allocs...)
	return nil
}

func (s *MemoryStore) AllocationsForBatch(ctx context.Context, batchID uuid.UUID) ([]model.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Allocation
	for _, a := range s.allocations {
		if a.BatchID == batchID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListAllocations(ctx context.Context, depositor string, limit int) ([]model.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Allocation
	for i := len(s.allocations) - 1; i >= 0; i-- {
		a := s.allocations[i]
		if depositor != "" && a.Depositor != depositor {
			continue
		}
		out = append(out, a)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) usageLocked(day string) *model.DailyUsage {
	if u, ok := s.usage[day]; ok {
		return u
	}
	u := emptyUsage(day)
	s.usage[day] = &u
	return &u
}

func emptyUsage(day string) model.DailyUsage {
	return model.DailyUsage{
		Day:        day,
		ReservedA:  decimal.Zero,
		ReservedB:  decimal.Zero,
		ConfirmedA: decimal.Zero,
		ConfirmedB: decimal.Zero,
	}
}

var _ Store = (*MemoryStore)(nil)

// SeedDailyUsage pre-seeds a usage row, for tests.
func (s *MemoryStore) SeedDailyUsage(u model.DailyUsage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := u
	if copied.Day == "" {
		copied.Day = model.UTCDay(time.Now())
	}
	s.usage[copied.Day] = &copied
}
