package engine

import (
	"github.com/shopspring/decimal"

	"github.com/GoPolymarket/liquigate/internal/config"
	"github.com/GoPolymarket/liquigate/internal/model"
)

// Proposal is the threshold evaluator's output: whether a batch should
// be attempted and with which desired amounts.
type Proposal struct {
	Trigger bool
	AmountA decimal.Decimal
	AmountB decimal.Decimal
	// Reason explains a false Trigger, for debug logs.
	Reason string
}

// Evaluate is a pure function of the latest snapshot, the current
// safety limits and today's usage. The trigger fires only when both
// balances meet their minimums; an asymmetric pool cannot be
// provisioned with one side funded. Amounts are capped at the
// per-transaction limit and clipped to the remaining daily headroom;
// excess stays in the collection account for a later batch, never
// discarded.
func Evaluate(snap model.BalanceSnapshot, cfg config.Safety, usage model.DailyUsage) Proposal {
	if cfg.EmergencyStop {
		return Proposal{Reason: "emergency_stop"}
	}
	if snap.BalanceA.LessThan(cfg.MinThresholdA) || snap.BalanceB.LessThan(cfg.MinThresholdB) {
		return Proposal{Reason: "below_threshold"}
	}

	amountA := snap.BalanceA
	if cfg.MaxSingleTxA.IsPositive() {
		amountA = decimal.Min(amountA, cfg.MaxSingleTxA)
	}
	amountB := snap.BalanceB
	if cfg.MaxSingleTxB.IsPositive() {
		amountB = decimal.Min(amountB, cfg.MaxSingleTxB)
	}

	// Clip to today's remaining headroom before the governor sees the
	// proposal. A clipped amount that no longer meets its minimum means
	// waiting for the next UTC day, not a failed attempt.
	if cfg.DailyLimitA.IsPositive() {
		remaining := cfg.DailyLimitA.Sub(usage.CommittedA())
		if remaining.LessThanOrEqual(decimal.Zero) {
			return Proposal{Reason: "daily_cap_exhausted"}
		}
		amountA = decimal.Min(amountA, remaining)
	}
	if cfg.DailyLimitB.IsPositive() {
		remaining := cfg.DailyLimitB.Sub(usage.CommittedB())
		if remaining.LessThanOrEqual(decimal.Zero) {
			return Proposal{Reason: "daily_cap_exhausted"}
		}
		amountB = decimal.Min(amountB, remaining)
	}
	if amountA.LessThan(cfg.MinThresholdA) || amountB.LessThan(cfg.MinThresholdB) {
		return Proposal{Reason: "clipped_below_threshold"}
	}

	return Proposal{Trigger: true, AmountA: amountA, AmountB: amountB}
}
