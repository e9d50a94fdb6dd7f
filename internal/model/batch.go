package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type BatchStatus string

const (
	BatchProposed  BatchStatus = "proposed"
	BatchApproved  BatchStatus = "approved"
	BatchSubmitted BatchStatus = "submitted"
	BatchConfirmed BatchStatus = "confirmed"
	BatchFailed    BatchStatus = "failed"
	BatchAborted   BatchStatus = "aborted"
)

// Terminal reports whether the status admits no further transition.
// At most one non-terminal batch may exist at any time; the ledger
// enforces this and treats a violation as corruption.
func (s BatchStatus) Terminal() bool {
	switch s {
	case BatchConfirmed, BatchFailed, BatchAborted:
		return true
	}
	return false
}

// CanTransition encodes the batch state machine:
// proposed → approved → submitted → confirmed
// proposed/approved → aborted, submitted → failed.
func (s BatchStatus) CanTransition(next BatchStatus) bool {
	switch s {
	case BatchProposed:
		return next == BatchApproved || next == BatchAborted
	case BatchApproved:
		return next == BatchSubmitted || next == BatchAborted || next == BatchFailed
	case BatchSubmitted:
		return next == BatchConfirmed || next == BatchFailed
	}
	return false
}

// Batch is one attempted liquidity-add. Immutable once terminal except
// for the confirmation fields, which are written exactly once.
type Batch struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	AmountA     decimal.Decimal `db:"amount_a" json:"amount_a"`
	AmountB     decimal.Decimal `db:"amount_b" json:"amount_b"`
	MatchedA    decimal.Decimal `db:"matched_a" json:"matched_a"`
	MatchedB    decimal.Decimal `db:"matched_b" json:"matched_b"`
	ExpectedLP  decimal.Decimal `db:"expected_lp" json:"expected_lp"`
	ActualLP    decimal.Decimal `db:"actual_lp" json:"actual_lp"`
	Status      BatchStatus     `db:"status" json:"status"`
	Reason      string          `db:"reason" json:"reason,omitempty"`
	TxRef       string          `db:"tx_ref" json:"tx_ref,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	ConfirmedAt *time.Time      `db:"confirmed_at" json:"confirmed_at,omitempty"`
}

// Day returns the UTC day the batch counts against for the daily cap.
func (b *Batch) Day() string {
	return b.CreatedAt.UTC().Format("2006-01-02")
}

func NewBatch(amountA, amountB decimal.Decimal) Batch {
	return Batch{
		ID:         uuid.New(),
		AmountA:    amountA,
		AmountB:    amountB,
		MatchedA:   decimal.Zero,
		MatchedB:   decimal.Zero,
		ExpectedLP: decimal.Zero,
		ActualLP:   decimal.Zero,
		Status:     BatchProposed,
		CreatedAt:  time.Now().UTC(),
	}
}
