package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BalanceSnapshot is one observation of the collection account's token
// balances. Superseded, never deleted; the latest one is authoritative.
type BalanceSnapshot struct {
	ID        int64           `db:"id" json:"id"`
	Timestamp time.Time       `db:"ts" json:"ts"`
	BalanceA  decimal.Decimal `db:"balance_a" json:"balance_a"`
	BalanceB  decimal.Decimal `db:"balance_b" json:"balance_b"`
}

// ContributionRecord credits incoming funds to a depositor. Mutated only
// to stamp the batch id once consumed; never deleted (audit trail).
type ContributionRecord struct {
	ID         uuid.UUID       `db:"id" json:"id"`
	Depositor  string          `db:"depositor" json:"depositor"`
	AmountA    decimal.Decimal `db:"amount_a" json:"amount_a"`
	AmountB    decimal.Decimal `db:"amount_b" json:"amount_b"`
	ObservedAt time.Time       `db:"observed_at" json:"observed_at"`
	BatchID    *uuid.UUID      `db:"batch_id" json:"batch_id,omitempty"`
}

// DailyUsage is the per-UTC-day running total of token amounts committed
// to liquidity. Reserved tracks the in-flight batch's provisional hold;
// Confirmed only grows. A new row appears lazily each day, old rows are
// retained for audit.
type DailyUsage struct {
	Day        string          `db:"day" json:"day"`
	ReservedA  decimal.Decimal `db:"reserved_a" json:"reserved_a"`
	ReservedB  decimal.Decimal `db:"reserved_b" json:"reserved_b"`
	ConfirmedA decimal.Decimal `db:"confirmed_a" json:"confirmed_a"`
	ConfirmedB decimal.Decimal `db:"confirmed_b" json:"confirmed_b"`
}

// CommittedA is the total counted against today's A-side cap, including
// the provisional reservation of an in-flight batch.
func (u DailyUsage) CommittedA() decimal.Decimal {
	return u.ReservedA.Add(u.ConfirmedA)
}

func (u DailyUsage) CommittedB() decimal.Decimal {
	return u.ReservedB.Add(u.ConfirmedB)
}

// Allocation is one depositor's claim on a confirmed batch's pool-share
// tokens.
type Allocation struct {
	BatchID   uuid.UUID       `db:"batch_id" json:"batch_id"`
	Depositor string          `db:"depositor" json:"depositor"`
	LPAmount  decimal.Decimal `db:"lp_amount" json:"lp_amount"`
	ValueA    decimal.Decimal `db:"value_a" json:"value_a"`
	ValueB    decimal.Decimal `db:"value_b" json:"value_b"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// UTCDay formats t for daily-usage keying.
func UTCDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
