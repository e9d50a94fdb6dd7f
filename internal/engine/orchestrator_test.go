package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/GoPolymarket/liquigate/internal/approval"
	"github.com/GoPolymarket/liquigate/internal/chain"
	"github.com/GoPolymarket/liquigate/internal/config"
	"github.com/GoPolymarket/liquigate/internal/ledger"
	"github.com/GoPolymarket/liquigate/internal/model"
	"github.com/GoPolymarket/liquigate/internal/monitor"
	"github.com/GoPolymarket/liquigate/internal/pkg/apperrors"
)

type fakeGateway struct {
	balanceA decimal.Decimal
	balanceB decimal.Decimal
	reserves chain.Reserves
	lpSupply decimal.Decimal

	addErr  error
	waitErr error
	result  chain.AddResult
	outcome chain.Outcome

	txCount int
}

func (f *fakeGateway) BalanceOf(ctx context.Context, token, account string) (decimal.Decimal, error) {
	if token == "0xA" {
		return f.balanceA, nil
	}
	return f.balanceB, nil
}

func (f *fakeGateway) GetReserves(ctx context.Context) (chain.Reserves, error) {
	return f.reserves, nil
}

func (f *fakeGateway) LPTotalSupply(ctx context.Context) (decimal.Decimal, error) {
	return f.lpSupply, nil
}

func (f *fakeGateway) EnsureApproval(ctx context.Context, token string, amount decimal.Decimal) error {
	return nil
}

func (f *fakeGateway) AddLiquidity(ctx context.Context, amountADesired, amountBDesired, amountAMin, amountBMin decimal.Decimal, deadline time.Time) (string, error) {
	if f.addErr != nil {
		return "", f.addErr
	}
	f.txCount++
	return fmt.Sprintf("0xtx%d", f.txCount), nil
}

func (f *fakeGateway) WaitConfirmation(ctx context.Context, txRef string) (chain.AddResult, error) {
	if f.waitErr != nil {
		return chain.AddResult{}, f.waitErr
	}
	return f.result, nil
}

func (f *fakeGateway) TxOutcome(ctx context.Context, txRef string) (chain.Outcome, chain.AddResult, error) {
	return f.outcome, f.result, nil
}

var _ chain.Gateway = (*fakeGateway)(nil)

func healthyGateway() *fakeGateway {
	return &fakeGateway{
		balanceA: dec("1200"),
		balanceB: dec("120"),
		reserves: chain.Reserves{ReserveA: dec("1000000"), ReserveB: dec("100000")},
		lpSupply: dec("50000"),
		result:   chain.AddResult{UsedA: dec("1000"), UsedB: dec("100"), LPTokens: dec("50")},
	}
}

func testProvider(safety config.Safety) *config.Provider {
	return config.Static(config.Config{
		Engine: config.EngineConfig{
			PollIntervalSeconds:        1,
			ConfirmationTimeoutSeconds: 5,
		},
	}, safety)
}

func buildOrchestrator(store ledger.Store, gw chain.Gateway, provider *config.Provider, hub Broadcaster) *Orchestrator {
	log := testLogger()
	mon := monitor.New(gw, store, "0xA", "0xB", "0xACC", log)
	gov := NewGovernor(approval.Static(true), log)
	prov := NewProvisioner(gw, "0xA", "0xB", log)
	attr := NewAttribution(store, log)
	return NewOrchestrator(store, gw, mon, gov, prov, attr, provider, hub, log)
}

func newTestOrchestrator(store ledger.Store, gw chain.Gateway, safety config.Safety) *Orchestrator {
	return buildOrchestrator(store, gw, testProvider(safety), nil)
}

func TestTickConfirmsBatch(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	gw := healthyGateway()

	base := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	if err := store.InsertContribution(ctx, contribution("alice", "1200", "120", base)); err != nil {
		t.Fatal(err)
	}

	orch := newTestOrchestrator(store, gw, baseSafety())
	if err := orch.Tick(ctx); err != nil {
		t.Fatal(err)
	}

	batches, err := store.ListBatches(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(batches) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(batches))
	}
	b := batches[0]
	if b.Status != model.BatchConfirmed {
		t.Fatalf("expected confirmed, got %s (%s)", b.Status, b.Reason)
	}
	if !b.MatchedA.Equal(dec("1000")) || !b.MatchedB.Equal(dec("100")) {
		t.Fatalf("matched (%s, %s), want (1000, 100)", b.MatchedA, b.MatchedB)
	}
	if !b.ActualLP.Equal(dec("50")) || b.TxRef == "" || b.ConfirmedAt == nil {
		t.Fatalf("confirmation fields not set: lp=%s tx=%q", b.ActualLP, b.TxRef)
	}

	usage, err := store.DailyUsage(ctx, b.Day())
	if err != nil {
		t.Fatal(err)
	}
	if !usage.ConfirmedA.Equal(dec("1000")) || !usage.ConfirmedB.Equal(dec("100")) {
		t.Fatalf("confirmed usage (%s, %s), want (1000, 100)", usage.ConfirmedA, usage.ConfirmedB)
	}
	if !usage.ReservedA.IsZero() || !usage.ReservedB.IsZero() {
		t.Fatalf("reservation not settled: (%s, %s)", usage.ReservedA, usage.ReservedB)
	}

	allocs, err := store.AllocationsForBatch(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(allocs) == 0 {
		t.Fatal("confirmed batch was not attributed")
	}
}

func TestTickNoTriggerBelowThreshold(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	gw := healthyGateway()
	gw.balanceB = dec("50")

	orch := newTestOrchestrator(store, gw, baseSafety())
	if err := orch.Tick(ctx); err != nil {
		t.Fatal(err)
	}

	batches, err := store.ListBatches(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(batches) != 0 {
		t.Fatalf("expected no batch, got %d", len(batches))
	}
}

func TestTickRecordsGovernorAbort(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	gw := healthyGateway()
	// Thin pool: the proposal's price impact blows past the limit.
	gw.reserves = chain.Reserves{ReserveA: dec("2000"), ReserveB: dec("100")}

	orch := newTestOrchestrator(store, gw, baseSafety())
	if err := orch.Tick(ctx); err != nil {
		t.Fatal(err)
	}

	batches, err := store.ListBatches(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(batches) != 1 {
		t.Fatalf("expected 1 aborted batch, got %d", len(batches))
	}
	if batches[0].Status != model.BatchAborted || batches[0].Reason == "" {
		t.Fatalf("expected aborted with reason, got %s (%q)", batches[0].Status, batches[0].Reason)
	}
}

func TestTickFailsOnSubmissionError(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	gw := healthyGateway()
	gw.addErr = fmt.Errorf("nonce too low")

	orch := newTestOrchestrator(store, gw, baseSafety())
	if err := orch.Tick(ctx); err != nil {
		t.Fatal(err)
	}

	batches, err := store.ListBatches(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(batches) != 1 || batches[0].Status != model.BatchFailed {
		t.Fatalf("expected 1 failed batch, got %+v", batches)
	}

	// A failed attempt must hand its headroom back.
	usage, err := store.DailyUsage(ctx, batches[0].Day())
	if err != nil {
		t.Fatal(err)
	}
	if !usage.ReservedA.IsZero() || !usage.ConfirmedA.IsZero() {
		t.Fatalf("usage not released: reserved=%s confirmed=%s", usage.ReservedA, usage.ConfirmedA)
	}
}

func TestTickFailsOnConfirmationTimeout(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	gw := healthyGateway()
	gw.waitErr = apperrors.Newf(apperrors.ErrConfirmTimeout, "confirmation window expired")

	orch := newTestOrchestrator(store, gw, baseSafety())
	if err := orch.Tick(ctx); err != nil {
		t.Fatal(err)
	}

	batches, err := store.ListBatches(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(batches) != 1 || batches[0].Status != model.BatchFailed {
		t.Fatalf("expected 1 failed batch, got %+v", batches)
	}
	usage, err := store.DailyUsage(ctx, batches[0].Day())
	if err != nil {
		t.Fatal(err)
	}
	if !usage.ReservedA.IsZero() {
		t.Fatalf("reservation not released on timeout: %s", usage.ReservedA)
	}
}

// stopAfterApproval flips the emergency stop the moment it sees the
// batch reach approved, modeling an operator pulling the brake in the
// window between approval and submission.
type stopAfterApproval struct {
	provider *config.Provider
}

func (s *stopAfterApproval) BroadcastBatch(b model.Batch) {
	if b.Status == model.BatchApproved {
		safety := s.provider.Safety()
		safety.EmergencyStop = true
		s.provider.SetSafety(safety)
	}
}

func TestTickLateEmergencyStopBlocksSubmission(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	gw := healthyGateway()
	provider := testProvider(baseSafety())

	orch := buildOrchestrator(store, gw, provider, &stopAfterApproval{provider: provider})
	if err := orch.Tick(ctx); err != nil {
		t.Fatal(err)
	}

	batches, err := store.ListBatches(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(batches) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(batches))
	}
	if batches[0].Status != model.BatchAborted || batches[0].Reason == "" {
		t.Fatalf("expected aborted with reason, got %s (%q)", batches[0].Status, batches[0].Reason)
	}
	if gw.txCount != 0 {
		t.Fatalf("add-liquidity was broadcast despite the stop: %d txs", gw.txCount)
	}

	// The stop landed before the reservation, so no headroom is held.
	usage, err := store.DailyUsage(ctx, batches[0].Day())
	if err != nil {
		t.Fatal(err)
	}
	if !usage.ReservedA.IsZero() || !usage.ConfirmedA.IsZero() {
		t.Fatalf("usage touched despite abort: reserved=%s confirmed=%s", usage.ReservedA, usage.ConfirmedA)
	}
}

func TestTickResolvesLeftoverBeforeProposing(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	gw := healthyGateway()

	leftover := model.NewBatch(dec("1000"), dec("100"))
	leftover.MatchedA = dec("1000")
	leftover.MatchedB = dec("100")
	leftover.Status = model.BatchApproved
	if err := store.CreateBatch(ctx, leftover); err != nil {
		t.Fatal(err)
	}

	orch := newTestOrchestrator(store, gw, baseSafety())
	if err := orch.Tick(ctx); err != nil {
		t.Fatal(err)
	}

	// The tick resolves the leftover and proposes nothing new, even
	// though balances would trigger.
	batches, err := store.ListBatches(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(batches) != 1 {
		t.Fatalf("expected only the leftover batch, got %d", len(batches))
	}
	if batches[0].Status != model.BatchAborted {
		t.Fatalf("expected leftover aborted, got %s", batches[0].Status)
	}
}

func TestRecoverSubmittedConfirmed(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	gw := healthyGateway()
	gw.outcome = chain.OutcomeConfirmed

	b := model.NewBatch(dec("1000"), dec("100"))
	b.MatchedA = dec("1000")
	b.MatchedB = dec("100")
	b.Status = model.BatchSubmitted
	b.TxRef = "0xdead"
	if err := store.CreateBatch(ctx, b); err != nil {
		t.Fatal(err)
	}
	if err := store.ReserveDailyUsage(ctx, b.Day(), b.MatchedA, b.MatchedB); err != nil {
		t.Fatal(err)
	}

	orch := newTestOrchestrator(store, gw, baseSafety())
	if err := orch.RecoverPending(ctx); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetBatch(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.BatchConfirmed || !got.ActualLP.Equal(dec("50")) {
		t.Fatalf("expected confirmed with lp=50, got %s lp=%s", got.Status, got.ActualLP)
	}
	usage, err := store.DailyUsage(ctx, b.Day())
	if err != nil {
		t.Fatal(err)
	}
	if !usage.ConfirmedA.Equal(dec("1000")) || !usage.ReservedA.IsZero() {
		t.Fatalf("usage not finalized: confirmed=%s reserved=%s", usage.ConfirmedA, usage.ReservedA)
	}
}

func TestRecoverSubmittedReverted(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	gw := healthyGateway()
	gw.outcome = chain.OutcomeReverted

	b := model.NewBatch(dec("1000"), dec("100"))
	b.MatchedA = dec("1000")
	b.MatchedB = dec("100")
	b.Status = model.BatchSubmitted
	b.TxRef = "0xdead"
	if err := store.CreateBatch(ctx, b); err != nil {
		t.Fatal(err)
	}
	if err := store.ReserveDailyUsage(ctx, b.Day(), b.MatchedA, b.MatchedB); err != nil {
		t.Fatal(err)
	}

	orch := newTestOrchestrator(store, gw, baseSafety())
	if err := orch.RecoverPending(ctx); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetBatch(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.BatchFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	usage, err := store.DailyUsage(ctx, b.Day())
	if err != nil {
		t.Fatal(err)
	}
	if !usage.ReservedA.IsZero() || !usage.ConfirmedA.IsZero() {
		t.Fatalf("usage not released: reserved=%s confirmed=%s", usage.ReservedA, usage.ConfirmedA)
	}
}

func TestRecoverSubmittedWithoutTxRef(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	gw := healthyGateway()

	b := model.NewBatch(dec("1000"), dec("100"))
	b.MatchedA = dec("1000")
	b.MatchedB = dec("100")
	b.Status = model.BatchSubmitted
	if err := store.CreateBatch(ctx, b); err != nil {
		t.Fatal(err)
	}
	if err := store.ReserveDailyUsage(ctx, b.Day(), b.MatchedA, b.MatchedB); err != nil {
		t.Fatal(err)
	}

	orch := newTestOrchestrator(store, gw, baseSafety())
	if err := orch.RecoverPending(ctx); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetBatch(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.BatchFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
}
