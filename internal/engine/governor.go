package engine

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/GoPolymarket/liquigate/internal/approval"
	"github.com/GoPolymarket/liquigate/internal/chain"
	"github.com/GoPolymarket/liquigate/internal/config"
	"github.com/GoPolymarket/liquigate/internal/model"
	"github.com/GoPolymarket/liquigate/internal/pkg/apperrors"
	"github.com/GoPolymarket/liquigate/internal/pkg/metrics"
)

var tenThousand = decimal.NewFromInt(10000)

// Governor validates a proposed batch before any chain interaction.
// Checks run in a fixed order and short-circuit on the first failure.
type Governor struct {
	approvals approval.Source
	log       *slog.Logger
}

func NewGovernor(approvals approval.Source, log *slog.Logger) *Governor {
	return &Governor{approvals: approvals, log: log}
}

// Check 执行批次提交前的所有安全检查；返回 error 则必须放弃本次批次
// A SAFETY_REJECT means the attempt is dropped and logged. An
// APPROVAL_PENDING is a wait outcome: the same proposal is re-checked
// on a later tick and is not counted as a failed attempt.
func (g *Governor) Check(ctx context.Context, amountA, amountB decimal.Decimal, cfg config.Safety, usage model.DailyUsage, res chain.Reserves, day string) error {
	// 1. Emergency stop
	if cfg.EmergencyStop {
		metrics.SafetyRejects.WithLabelValues("emergency_stop").Inc()
		return apperrors.NewSafetyReject("emergency stop is set")
	}

	// 2. Per-transaction caps
	if cfg.MaxSingleTxA.IsPositive() && amountA.GreaterThan(cfg.MaxSingleTxA) {
		metrics.SafetyRejects.WithLabelValues("max_single_tx").Inc()
		return apperrors.Newf(apperrors.ErrSafetyReject,
			"amountA %s exceeds per-tx cap %s", amountA, cfg.MaxSingleTxA)
	}
	if cfg.MaxSingleTxB.IsPositive() && amountB.GreaterThan(cfg.MaxSingleTxB) {
		metrics.SafetyRejects.WithLabelValues("max_single_tx").Inc()
		return apperrors.Newf(apperrors.ErrSafetyReject,
			"amountB %s exceeds per-tx cap %s", amountB, cfg.MaxSingleTxB)
	}

	// 3. Daily limits, counting in-flight reservations
	if cfg.DailyLimitA.IsPositive() && usage.CommittedA().Add(amountA).GreaterThan(cfg.DailyLimitA) {
		metrics.SafetyRejects.WithLabelValues("daily_limit").Inc()
		return apperrors.Newf(apperrors.ErrSafetyReject,
			"amountA %s would exceed daily limit %s (used %s)", amountA, cfg.DailyLimitA, usage.CommittedA())
	}
	if cfg.DailyLimitB.IsPositive() && usage.CommittedB().Add(amountB).GreaterThan(cfg.DailyLimitB) {
		metrics.SafetyRejects.WithLabelValues("daily_limit").Inc()
		return apperrors.Newf(apperrors.ErrSafetyReject,
			"amountB %s would exceed daily limit %s (used %s)", amountB, cfg.DailyLimitB, usage.CommittedB())
	}

	// 4. Multisig pre-approval for this exact (amountA, amountB, day)
	if cfg.RequireMultisig {
		ok, err := g.approvals.IsApproved(ctx, amountA, amountB, day)
		if err != nil {
			return apperrors.New(apperrors.ErrTransientRead, "approval lookup failed", err)
		}
		if !ok {
			return apperrors.Newf(apperrors.ErrApprovalPending,
				"no multisig approval for (%s, %s, %s)", amountA, amountB, day)
		}
	}

	// 5. Price impact against current reserves
	if res.ReserveA.IsZero() || res.ReserveB.IsZero() {
		metrics.SafetyRejects.WithLabelValues("empty_reserves").Inc()
		return apperrors.NewSafetyReject("pool reserves are empty")
	}
	if cfg.MaxPriceImpactBps > 0 {
		impact := PriceImpactBps(res, amountA, amountB)
		if impact.GreaterThan(decimal.NewFromInt(cfg.MaxPriceImpactBps)) {
			metrics.SafetyRejects.WithLabelValues("price_impact").Inc()
			return apperrors.Newf(apperrors.ErrSafetyReject,
				"price impact %s bps exceeds limit %d bps", impact.Round(2), cfg.MaxPriceImpactBps)
		}
	}

	return nil
}

// PriceImpactBps estimates the post-add deviation of the pool's implied
// price reserveB/reserveA, in basis points:
// |rB'/rA' − rB/rA| / (rB/rA) * 10000 with rA' = rA+amountA,
// rB' = rB+amountB.
func PriceImpactBps(res chain.Reserves, amountA, amountB decimal.Decimal) decimal.Decimal {
	before := res.Price()
	if before.IsZero() {
		return decimal.Zero
	}
	after := res.ReserveB.Add(amountB).Div(res.ReserveA.Add(amountA))
	return after.Sub(before).Abs().Div(before).Mul(tenThousand)
}
