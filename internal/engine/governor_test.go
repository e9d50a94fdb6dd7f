package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/GoPolymarket/liquigate/internal/approval"
	"github.com/GoPolymarket/liquigate/internal/chain"
	"github.com/GoPolymarket/liquigate/internal/pkg/apperrors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func deepReserves() chain.Reserves {
	return chain.Reserves{ReserveA: dec("1000000"), ReserveB: dec("100000")}
}

func TestGovernorAccepts(t *testing.T) {
	g := NewGovernor(approval.Static(true), testLogger())
	err := g.Check(context.Background(), dec("1000"), dec("100"), baseSafety(), emptyUsage(), deepReserves(), "2026-08-28")
	assert.NoError(t, err)
}

func TestGovernorEmergencyStop(t *testing.T) {
	g := NewGovernor(approval.Static(true), testLogger())
	cfg := baseSafety()
	cfg.EmergencyStop = true
	err := g.Check(context.Background(), dec("1000"), dec("100"), cfg, emptyUsage(), deepReserves(), "2026-08-28")
	assert.True(t, apperrors.IsType(err, apperrors.ErrSafetyReject))
}

func TestGovernorPerTxCap(t *testing.T) {
	g := NewGovernor(approval.Static(true), testLogger())
	err := g.Check(context.Background(), dec("1001"), dec("100"), baseSafety(), emptyUsage(), deepReserves(), "2026-08-28")
	assert.True(t, apperrors.IsType(err, apperrors.ErrSafetyReject))
}

func TestGovernorDailyLimitCountsReservations(t *testing.T) {
	g := NewGovernor(approval.Static(true), testLogger())
	usage := emptyUsage()
	usage.ConfirmedA = dec("3500")
	usage.ReservedA = dec("1000")
	err := g.Check(context.Background(), dec("1000"), dec("100"), baseSafety(), usage, deepReserves(), "2026-08-28")
	assert.True(t, apperrors.IsType(err, apperrors.ErrSafetyReject))
}

func TestGovernorMultisigPending(t *testing.T) {
	g := NewGovernor(approval.Static(false), testLogger())
	cfg := baseSafety()
	cfg.RequireMultisig = true
	err := g.Check(context.Background(), dec("1000"), dec("100"), cfg, emptyUsage(), deepReserves(), "2026-08-28")
	assert.True(t, apperrors.IsType(err, apperrors.ErrApprovalPending))
}

func TestGovernorEmptyReserves(t *testing.T) {
	g := NewGovernor(approval.Static(true), testLogger())
	err := g.Check(context.Background(), dec("1000"), dec("100"), baseSafety(), emptyUsage(), chain.Reserves{}, "2026-08-28")
	assert.True(t, apperrors.IsType(err, apperrors.ErrSafetyReject))
}

func TestGovernorPriceImpact(t *testing.T) {
	g := NewGovernor(approval.Static(true), testLogger())
	cfg := baseSafety()
	cfg.MaxSingleTxB = dec("500")

	// Thin pool at ratio 10:1; adding B-heavy amounts moves the implied
	// price by far more than the 100 bps limit.
	thin := chain.Reserves{ReserveA: dec("10000"), ReserveB: dec("1000")}
	err := g.Check(context.Background(), dec("1000"), dec("500"), cfg, emptyUsage(), thin, "2026-08-28")
	assert.True(t, apperrors.IsType(err, apperrors.ErrSafetyReject))
}

func TestPriceImpactBps(t *testing.T) {
	res := chain.Reserves{ReserveA: dec("10000"), ReserveB: dec("1000")}

	// Ratio-consistent add leaves the price untouched.
	impact := PriceImpactBps(res, dec("1000"), dec("100"))
	assert.True(t, impact.IsZero(), "ratio-consistent add should have zero impact, got %s", impact)

	// B-heavy add: price moves from 0.1 to 1210/11000 = 0.11, a 10% move.
	impact = PriceImpactBps(res, dec("1000"), dec("210"))
	assert.True(t, impact.Equal(dec("1000")), "expected 1000 bps, got %s", impact)
}
