package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/GoPolymarket/liquigate/internal/ledger"
	"github.com/GoPolymarket/liquigate/internal/model"
)

// Attribution apportions a confirmed batch's realized pool-share tokens
// to the depositors whose contributions funded it. Selection is
// oldest-first up to the batch's matched amounts; a record only
// partially covered at the boundary is split, and the uncovered
// remainder stays unstamped for the next batch. Every unit of
// contributed value is therefore attributed exactly once.
type Attribution struct {
	store ledger.Store
	log   *slog.Logger
}

func NewAttribution(store ledger.Store, log *slog.Logger) *Attribution {
	return &Attribution{store: store, log: log}
}

// Run attributes one confirmed batch. It is idempotent: re-running over
// the same batch returns the already-written allocations, and a run
// interrupted between stamping and allocation writing resumes from the
// stamped records.
func (a *Attribution) Run(ctx context.Context, batch model.Batch) ([]model.Allocation, error) {
	existing, err := a.store.AllocationsForBatch(ctx, batch.ID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing, nil
	}

	consumed, err := a.store.ContributionsForBatch(ctx, batch.ID)
	if err != nil {
		return nil, err
	}
	if len(consumed) == 0 {
		consumed, err = a.consume(ctx, batch)
		if err != nil {
			return nil, err
		}
	}
	if len(consumed) == 0 {
		a.log.Warn("confirmed batch has no attributable contributions", "batch_id", batch.ID)
		return nil, nil
	}

	allocs := apportion(batch, consumed)
	if err := a.store.InsertAllocations(ctx, allocs); err != nil {
		return nil, err
	}
	a.log.Info("batch attributed", "batch_id", batch.ID, "depositors", len(allocs))
	return allocs, nil
}

// consume walks the unstamped contribution log oldest-first, stamping
// records with the batch id until the matched amounts are covered. The
// boundary record is split; its remainder keeps the original observed
// time so it stays at the head of the queue.
func (a *Attribution) consume(ctx context.Context, batch model.Batch) ([]model.ContributionRecord, error) {
	recs, err := a.store.UnstampedContributions(ctx)
	if err != nil {
		return nil, err
	}

	remainingA := batch.MatchedA
	remainingB := batch.MatchedB
	var consumed []model.ContributionRecord

	for _, rec := range recs {
		f := coverFraction(rec, remainingA, remainingB)
		if f.IsZero() {
			break
		}
		if f.Equal(decimal.NewFromInt(1)) {
			if err := a.store.StampContribution(ctx, rec.ID, batch.ID); err != nil {
				return nil, err
			}
			stamped := rec
			id := batch.ID
			stamped.BatchID = &id
			consumed = append(consumed, stamped)
			remainingA = remainingA.Sub(rec.AmountA)
			remainingB = remainingB.Sub(rec.AmountB)
			continue
		}

		coveredA := rec.AmountA.Mul(f).Floor()
		coveredB := rec.AmountB.Mul(f).Floor()
		id := batch.ID
		covered := model.ContributionRecord{
			ID:         rec.ID,
			Depositor:  rec.Depositor,
			AmountA:    coveredA,
			AmountB:    coveredB,
			ObservedAt: rec.ObservedAt,
			BatchID:    &id,
		}
		remainder := model.ContributionRecord{
			ID:         uuid.New(),
			Depositor:  rec.Depositor,
			AmountA:    rec.AmountA.Sub(coveredA),
			AmountB:    rec.AmountB.Sub(coveredB),
			ObservedAt: rec.ObservedAt,
		}
		if err := a.store.SplitContribution(ctx, rec.ID, covered, remainder); err != nil {
			return nil, err
		}
		consumed = append(consumed, covered)
		break
	}
	return consumed, nil
}

// coverFraction returns how much of the record the remaining matched
// amounts can absorb, in [0, 1]. Both funded sides constrain it.
func coverFraction(rec model.ContributionRecord, remainingA, remainingB decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	f := one
	if rec.AmountA.IsPositive() {
		f = decimal.Min(f, clampFraction(remainingA.Div(rec.AmountA)))
	}
	if rec.AmountB.IsPositive() {
		f = decimal.Min(f, clampFraction(remainingB.Div(rec.AmountB)))
	}
	if !rec.AmountA.IsPositive() && !rec.AmountB.IsPositive() {
		return decimal.Zero
	}
	return f
}

func clampFraction(f decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if f.GreaterThan(one) {
		return one
	}
	if f.IsNegative() {
		return decimal.Zero
	}
	return f
}

// apportion distributes the batch's actual LP tokens over the consumed
// records, proportionally to each record's contributed value priced at
// the batch's realized ratio. Aggregated per depositor; the last
// depositor absorbs the rounding remainder so the LP total is conserved
// exactly.
func apportion(batch model.Batch, consumed []model.ContributionRecord) []model.Allocation {
	price := decimal.Zero
	if batch.MatchedA.IsPositive() {
		price = batch.MatchedB.Div(batch.MatchedA)
	}

	type share struct {
		depositor string
		value     decimal.Decimal
		valueA    decimal.Decimal
		valueB    decimal.Decimal
	}
	var order []string
	byDepositor := make(map[string]*share)
	total := decimal.Zero
	for _, rec := range consumed {
		v := rec.AmountA.Mul(price).Add(rec.AmountB)
		s, ok := byDepositor[rec.Depositor]
		if !ok {
			s = &share{depositor: rec.Depositor, value: decimal.Zero, valueA: decimal.Zero, valueB: decimal.Zero}
			byDepositor[rec.Depositor] = s
			order = append(order, rec.Depositor)
		}
		s.value = s.value.Add(v)
		s.valueA = s.valueA.Add(rec.AmountA)
		s.valueB = s.valueB.Add(rec.AmountB)
		total = total.Add(v)
	}
	if total.IsZero() {
		return nil
	}

	now := time.Now().UTC()
	allocs := make([]model.Allocation, 0, len(order))
	distributed := decimal.Zero
	for i, dep := range order {
		s := byDepositor[dep]
		var lp decimal.Decimal
		if i == len(order)-1 {
			lp = batch.ActualLP.Sub(distributed)
		} else {
			lp = batch.ActualLP.Mul(s.value).Div(total).Floor()
			distributed = distributed.Add(lp)
		}
		allocs = append(allocs, model.Allocation{
			BatchID:   batch.ID,
			Depositor: dep,
			LPAmount:  lp,
			ValueA:    s.valueA,
			ValueB:    s.valueB,
			CreatedAt: now,
		})
	}
	return allocs
}
