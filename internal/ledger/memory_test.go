package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/GoPolymarket/liquigate/internal/model"
	"github.com/GoPolymarket/liquigate/internal/pkg/apperrors"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestTransitionBatchCAS(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	b := model.NewBatch(dec("1000"), dec("100"))
	if err := store.CreateBatch(ctx, b); err != nil {
		t.Fatal(err)
	}

	b.Status = model.BatchApproved
	if err := store.TransitionBatch(ctx, b, model.BatchProposed); err != nil {
		t.Fatal(err)
	}

	// Stale writer still believes the batch is proposed.
	stale := b
	stale.Status = model.BatchAborted
	err := store.TransitionBatch(ctx, stale, model.BatchProposed)
	if !errors.Is(err, ErrStaleTransition) {
		t.Fatalf("expected ErrStaleTransition, got %v", err)
	}

	got, err := store.GetBatch(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.BatchApproved {
		t.Fatalf("stale write changed status to %s", got.Status)
	}
}

func TestNonTerminalBatchSingleFlight(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if got, err := store.NonTerminalBatch(ctx); err != nil || got != nil {
		t.Fatalf("expected empty ledger, got %v %v", got, err)
	}

	b1 := model.NewBatch(dec("1"), dec("1"))
	b1.Status = model.BatchConfirmed
	if err := store.CreateBatch(ctx, b1); err != nil {
		t.Fatal(err)
	}
	b2 := model.NewBatch(dec("1"), dec("1"))
	b2.Status = model.BatchSubmitted
	if err := store.CreateBatch(ctx, b2); err != nil {
		t.Fatal(err)
	}

	got, err := store.NonTerminalBatch(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != b2.ID {
		t.Fatalf("expected %s, got %v", b2.ID, got)
	}

	// Two non-terminal batches violate the single-flight invariant.
	b3 := model.NewBatch(dec("1"), dec("1"))
	if err := store.CreateBatch(ctx, b3); err != nil {
		t.Fatal(err)
	}
	_, err = store.NonTerminalBatch(ctx)
	if !apperrors.IsType(err, apperrors.ErrLedgerCorruption) {
		t.Fatalf("expected ledger corruption, got %v", err)
	}
}

func TestDailyUsageReserveFinalize(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	day := "2026-08-28"

	if err := store.ReserveDailyUsage(ctx, day, dec("1000"), dec("100")); err != nil {
		t.Fatal(err)
	}
	usage, err := store.DailyUsage(ctx, day)
	if err != nil {
		t.Fatal(err)
	}
	if !usage.ReservedA.Equal(dec("1000")) || !usage.CommittedA().Equal(dec("1000")) {
		t.Fatalf("reserve not counted: %+v", usage)
	}

	if err := store.FinalizeDailyUsage(ctx, day, dec("1000"), dec("100")); err != nil {
		t.Fatal(err)
	}
	usage, err = store.DailyUsage(ctx, day)
	if err != nil {
		t.Fatal(err)
	}
	if !usage.ReservedA.IsZero() || !usage.ConfirmedA.Equal(dec("1000")) {
		t.Fatalf("finalize did not move reserved to confirmed: %+v", usage)
	}
	if !usage.CommittedA().Equal(dec("1000")) {
		t.Fatalf("committed changed across finalize: %s", usage.CommittedA())
	}
}

func TestDailyUsageReleaseClampsAtZero(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	day := "2026-08-28"

	// Release without a prior reserve models recovery after a crash
	// between approval and reservation.
	if err := store.ReleaseDailyUsage(ctx, day, dec("1000"), dec("100")); err != nil {
		t.Fatal(err)
	}
	usage, err := store.DailyUsage(ctx, day)
	if err != nil {
		t.Fatal(err)
	}
	if !usage.ReservedA.IsZero() || !usage.ReservedB.IsZero() {
		t.Fatalf("release went negative: %+v", usage)
	}
}

func TestDailyUsageIsolatedPerDay(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.FinalizeDailyUsage(ctx, "2026-08-27", dec("500"), dec("50")); err != nil {
		t.Fatal(err)
	}
	usage, err := store.DailyUsage(ctx, "2026-08-28")
	if err != nil {
		t.Fatal(err)
	}
	if !usage.CommittedA().IsZero() {
		t.Fatalf("yesterday leaked into today: %+v", usage)
	}
}

func TestSplitContributionKeepsQueuePosition(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	batchID := uuid.New()

	orig := model.ContributionRecord{
		ID: uuid.New(), Depositor: "alice",
		AmountA: dec("800"), AmountB: dec("80"), ObservedAt: base,
	}
	later := model.ContributionRecord{
		ID: uuid.New(), Depositor: "bob",
		AmountA: dec("100"), AmountB: dec("10"), ObservedAt: base.Add(time.Minute),
	}
	if err := store.InsertContribution(ctx, orig); err != nil {
		t.Fatal(err)
	}
	if err := store.InsertContribution(ctx, later); err != nil {
		t.Fatal(err)
	}

	covered := orig
	covered.AmountA = dec("500")
	covered.AmountB = dec("50")
	covered.BatchID = &batchID
	remainder := model.ContributionRecord{
		ID: uuid.New(), Depositor: "alice",
		AmountA: dec("300"), AmountB: dec("30"), ObservedAt: base,
	}
	if err := store.SplitContribution(ctx, orig.ID, covered, remainder); err != nil {
		t.Fatal(err)
	}

	unstamped, err := store.UnstampedContributions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(unstamped) != 2 {
		t.Fatalf("expected remainder + later, got %d", len(unstamped))
	}
	// The remainder keeps the original observed time, so it stays ahead
	// of later deposits.
	if unstamped[0].Depositor != "alice" || !unstamped[0].AmountA.Equal(dec("300")) {
		t.Fatalf("remainder lost its queue position: %+v", unstamped[0])
	}

	stamped, err := store.ContributionsForBatch(ctx, batchID)
	if err != nil {
		t.Fatal(err)
	}
	if len(stamped) != 1 || !stamped[0].AmountA.Equal(dec("500")) {
		t.Fatalf("covered part not stamped: %+v", stamped)
	}
}
