// Package ledger is the engine's single source of truth: balance
// snapshot history, the contribution log, the batch log and the daily
// usage counters. All batch status and usage mutations are
// compare-and-set so the single-flight guarantee does not depend on an
// in-memory mutex and survives restarts.
package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/GoPolymarket/liquigate/internal/model"
)

// ErrStaleTransition is returned when a batch CAS update finds the row
// no longer in the expected status. The caller must re-read and decide.
var ErrStaleTransition = errors.New("ledger: batch not in expected status")

type Store interface {
	// Snapshots are append-only; the latest one drives decisions.
	AppendSnapshot(ctx context.Context, snap model.BalanceSnapshot) error
	LatestSnapshot(ctx context.Context) (*model.BalanceSnapshot, error)

	// Contribution log (audit trail, never deleted).
	InsertContribution(ctx context.Context, rec model.ContributionRecord) error
	UnstampedContributions(ctx context.Context) ([]model.ContributionRecord, error)
	ListContributions(ctx context.Context, depositor string, limit int) ([]model.ContributionRecord, error)
	// StampContribution marks a record fully consumed by a batch.
	StampContribution(ctx context.Context, id, batchID uuid.UUID) error
	// SplitContribution rewrites a partially consumed record as its
	// covered part (stamped) plus an unstamped remainder row.
	SplitContribution(ctx context.Context, id uuid.UUID, covered, remainder model.ContributionRecord) error

	// Batch log. TransitionBatch is a CAS on the previous status.
	// NonTerminalBatch surfaces LEDGER_CORRUPTION when more than one
	// non-terminal batch exists.
	CreateBatch(ctx context.Context, b model.Batch) error
	TransitionBatch(ctx context.Context, b model.Batch, from model.BatchStatus) error
	NonTerminalBatch(ctx context.Context) (*model.Batch, error)
	GetBatch(ctx context.Context, id uuid.UUID) (*model.Batch, error)
	ListBatches(ctx context.Context, limit int) ([]model.Batch, error)

	// ContributionsForBatch lists the records a batch consumed, in
	// observed order; attribution derives allocations from it so a
	// crashed run can resume deterministically.
	ContributionsForBatch(ctx context.Context, batchID uuid.UUID) ([]model.ContributionRecord, error)

	// Daily usage, keyed by UTC day. Reserve holds headroom for an
	// in-flight batch, Finalize moves it to confirmed, Release rolls
	// it back after a failed attempt. With single-flight execution at
	// most one reservation is ever outstanding, so both Finalize and
	// Release clamp the reserved column at zero; a release for a
	// reservation that never happened (crash between reserve and
	// submit) is then a no-op instead of an underflow.
	DailyUsage(ctx context.Context, day string) (model.DailyUsage, error)
	ReserveDailyUsage(ctx context.Context, day string, amountA, amountB decimal.Decimal) error
	FinalizeDailyUsage(ctx context.Context, day string, amountA, amountB decimal.Decimal) error
	ReleaseDailyUsage(ctx context.Context, day string, amountA, amountB decimal.Decimal) error

	// Allocation log written by attribution; keyed by batch for
	// idempotent re-runs.
	InsertAllocations(ctx context.Context, allocs []model.Allocation) error
	AllocationsForBatch(ctx context.Context, batchID uuid.UUID) ([]model.Allocation, error)
	ListAllocations(ctx context.Context, depositor string, limit int) ([]model.Allocation, error)
}
