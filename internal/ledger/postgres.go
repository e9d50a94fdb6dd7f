package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/GoPolymarket/liquigate/internal/model"
	"github.com/GoPolymarket/liquigate/internal/pkg/apperrors"
)

// PostgresStore is the durable ledger. Schema is created on first use;
// all tables are append-mostly and retained for audit.
type PostgresStore struct {
	db *sqlx.DB
}

func NewDB(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to db: %w", err)
	}

	// 连接池设置
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(1 * time.Hour)

	return db, nil
}

func NewPostgresStore(db *sqlx.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("ledger schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS balance_snapshots (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			balance_a NUMERIC NOT NULL,
			balance_b NUMERIC NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_ts ON balance_snapshots (ts)`,
		`CREATE TABLE IF NOT EXISTS contributions (
			id UUID PRIMARY KEY,
			depositor TEXT NOT NULL,
			amount_a NUMERIC NOT NULL,
			amount_b NUMERIC NOT NULL,
			observed_at TIMESTAMPTZ NOT NULL,
			batch_id UUID
		)`,
		`CREATE INDEX IF NOT EXISTS idx_contributions_unstamped ON contributions (observed_at) WHERE batch_id IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_contributions_depositor ON contributions (depositor)`,
		`CREATE TABLE IF NOT EXISTS batches (
			id UUID PRIMARY KEY,
			amount_a NUMERIC NOT NULL,
			amount_b NUMERIC NOT NULL,
			matched_a NUMERIC NOT NULL,
			matched_b NUMERIC NOT NULL,
			expected_lp NUMERIC NOT NULL,
			actual_lp NUMERIC NOT NULL,
			status TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			tx_ref TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			confirmed_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_batches_status ON batches (status)`,
		`CREATE TABLE IF NOT EXISTS daily_usage (
			day DATE PRIMARY KEY,
			reserved_a NUMERIC NOT NULL DEFAULT 0,
			reserved_b NUMERIC NOT NULL DEFAULT 0,
			confirmed_a NUMERIC NOT NULL DEFAULT 0,
			confirmed_b NUMERIC NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS allocations (
			batch_id UUID NOT NULL,
			depositor TEXT NOT NULL,
			lp_amount NUMERIC NOT NULL,
			value_a NUMERIC NOT NULL,
			value_b NUMERIC NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_allocations_batch ON allocations (batch_id)`,
		`CREATE INDEX IF NOT EXISTS idx_allocations_depositor ON allocations (depositor)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) AppendSnapshot(ctx context.Context, snap model.BalanceSnapshot) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO balance_snapshots (ts, balance_a, balance_b) VALUES ($1, $2, $3)`,
		snap.Timestamp, snap.BalanceA, snap.BalanceB)
	return err
}

func (s *PostgresStore) LatestSnapshot(ctx context.Context) (*model.BalanceSnapshot, error) {
	var snap model.BalanceSnapshot
	err := s.db.GetContext(ctx, &snap,
		`SELECT id, ts, balance_a, balance_b FROM balance_snapshots ORDER BY ts DESC, id DESC LIMIT 1`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &snap, nil
}

func (s *PostgresStore) InsertContribution(ctx context.Context, rec model.ContributionRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contributions (id, depositor, amount_a, amount_b, observed_at, batch_id)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.Depositor, rec.AmountA, rec.AmountB, rec.ObservedAt, rec.BatchID)
	return err
}

func (s *PostgresStore) UnstampedContributions(ctx context.Context) ([]model.ContributionRecord, error) {
	var out []model.ContributionRecord
	err := s.db.SelectContext(ctx, &out,
		`SELECT id, depositor, amount_a, amount_b, observed_at, batch_id
		 FROM contributions WHERE batch_id IS NULL ORDER BY observed_at ASC, id ASC`)
	return out, err
}

func (s *PostgresStore) ListContributions(ctx context.Context, depositor string, limit int) ([]model.ContributionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []model.ContributionRecord
	var err error
	if depositor == "" {
		err = s.db.SelectContext(ctx, &out,
			`SELECT id, depositor, amount_a, amount_b, observed_at, batch_id
			 FROM contributions ORDER BY observed_at DESC LIMIT $1`, limit)
	} else {
		err = s.db.SelectContext(ctx, &out,
			`SELECT id, depositor, amount_a, amount_b, observed_at, batch_id
			 FROM contributions WHERE depositor = $1 ORDER BY observed_at DESC LIMIT $2`, depositor, limit)
	}
	return out, err
}

func (s *PostgresStore) StampContribution(ctx context.Context, id, batchID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE contributions SET batch_id = $1 WHERE id = $2 AND batch_id IS NULL`, batchID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.Newf(apperrors.ErrNotFound, "contribution %s not found or already stamped", id)
	}
	return nil
}

func (s *PostgresStore) SplitContribution(ctx context.Context, id uuid.UUID, covered, remainder model.ContributionRecord) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`UPDATE contributions SET amount_a = $1, amount_b = $2, batch_id = $3 WHERE id = $4 AND batch_id IS NULL`,
		covered.AmountA, covered.AmountB, covered.BatchID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.Newf(apperrors.ErrNotFound, "contribution %s not found or already stamped", id)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO contributions (id, depositor, amount_a, amount_b, observed_at, batch_id)
		 VALUES ($1, $2, $3, $4, $5, NULL)`,
		remainder.ID, remainder.Depositor, remainder.AmountA, remainder.AmountB, remainder.ObservedAt); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) ContributionsForBatch(ctx context.Context, batchID uuid.UUID) ([]model.ContributionRecord, error) {
	var out []model.ContributionRecord
	err := s.db.SelectContext(ctx, &out,
		`SELECT id, depositor, amount_a, amount_b, observed_at, batch_id
		 FROM contributions WHERE batch_id = $1 ORDER BY observed_at ASC, id ASC`, batchID)
	return out, err
}

func (s *PostgresStore) CreateBatch(ctx context.Context, b model.Batch) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO batches (id, amount_a, amount_b, matched_a, matched_b, expected_lp, actual_lp,
		                      status, reason, tx_ref, created_at, confirmed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		b.ID, b.AmountA, b.AmountB, b.MatchedA, b.MatchedB, b.ExpectedLP, b.ActualLP,
		b.Status, b.Reason, b.TxRef, b.CreatedAt, b.ConfirmedAt)
	return err
}

// TransitionBatch 以 CAS 方式更新批次状态，防止丢失更新
func (s *PostgresStore) TransitionBatch(ctx context.Context, b model.Batch, from model.BatchStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE batches
		 SET matched_a = $1, matched_b = $2, expected_lp = $3, actual_lp = $4,
		     status = $5, reason = $6, tx_ref = $7, confirmed_at = $8
		 WHERE id = $9 AND status = $10`,
		b.MatchedA, b.MatchedB, b.ExpectedLP, b.ActualLP,
		b.Status, b.Reason, b.TxRef, b.ConfirmedAt, b.ID, from)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStaleTransition
	}
	return nil
}

func (s *PostgresStore) NonTerminalBatch(ctx context.Context) (*model.Batch, error) {
	var out []model.Batch
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM batches WHERE status IN ('proposed', 'approved', 'submitted') ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		return &out[0], nil
	default:
		return nil, apperrors.Newf(apperrors.ErrLedgerCorruption,
			"two non-terminal batches: %s and %s", out[0].ID, out[1].ID)
	}
}

func (s *PostgresStore) GetBatch(ctx context.Context, id uuid.UUID) (*model.Batch, error) {
	var b model.Batch
	err := s.db.GetContext(ctx, &b, `SELECT * FROM batches WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.Newf(apperrors.ErrNotFound, "batch %s not found", id)
		}
		return nil, err
	}
	return &b, nil
}

func (s *PostgresStore) ListBatches(ctx context.Context, limit int) ([]model.Batch, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []model.Batch
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM batches ORDER BY created_at DESC LIMIT $1`, limit)
	return out, err
}

func (s *PostgresStore) DailyUsage(ctx context.Context, day string) (model.DailyUsage, error) {
	var u model.DailyUsage
	err := s.db.GetContext(ctx, &u,
		`SELECT day::text AS day, reserved_a, reserved_b, confirmed_a, confirmed_b
		 FROM daily_usage WHERE day = $1`, day)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return emptyUsage(day), nil
		}
		return model.DailyUsage{}, err
	}
	return u, nil
}

func (s *PostgresStore) ReserveDailyUsage(ctx context.Context, day string, amountA, amountB decimal.Decimal) error {
	// Upsert (Insert or Update)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO daily_usage (day, reserved_a, reserved_b)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (day)
		 DO UPDATE SET reserved_a = daily_usage.reserved_a + $2,
		               reserved_b = daily_usage.reserved_b + $3`,
		day, amountA, amountB)
	return err
}

func (s *PostgresStore) FinalizeDailyUsage(ctx context.Context, day string, amountA, amountB decimal.Decimal) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE daily_usage
		 SET reserved_a = GREATEST(reserved_a - $2, 0), reserved_b = GREATEST(reserved_b - $3, 0),
		     confirmed_a = confirmed_a + $2, confirmed_b = confirmed_b + $3
		 WHERE day = $1`,
		day, amountA, amountB)
	return err
}

func (s *PostgresStore) ReleaseDailyUsage(ctx context.Context, day string, amountA, amountB decimal.Decimal) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE daily_usage
		 SET reserved_a = GREATEST(reserved_a - $2, 0), reserved_b = GREATEST(reserved_b - $3, 0)
		 WHERE day = $1`,
		day, amountA, amountB)
	return err
}

func (s *PostgresStore) InsertAllocations(ctx context.Context, allocs []model.Allocation) error {
	if len(allocs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck
	for _, a := range allocs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO allocations (batch_id, depositor, lp_amount, value_a, value_b, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			a.BatchID, a.Depositor, a.LPAmount, a.ValueA, a.ValueB, a.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) AllocationsForBatch(ctx context.Context, batchID uuid.UUID) ([]model.Allocation, error) {
	var out []model.Allocation
	err := s.db.SelectContext(ctx, &out,
		`SELECT batch_id, depositor, lp_amount, value_a, value_b, created_at
		 FROM allocations WHERE batch_id = $1`, batchID)
	return out, err
}

func (s *PostgresStore) ListAllocations(ctx context.Context, depositor string, limit int) ([]model.Allocation, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []model.Allocation
	var err error
	if depositor == "" {
		err = s.db.SelectContext(ctx, &out,
			`SELECT batch_id, depositor, lp_amount, value_a, value_b, created_at
			 FROM allocations ORDER BY created_at DESC LIMIT $1`, limit)
	} else {
		err = s.db.SelectContext(ctx, &out,
			`SELECT batch_id, depositor, lp_amount, value_a, value_b, created_at
			 FROM allocations WHERE depositor = $1 ORDER BY created_at DESC LIMIT $2`, depositor, limit)
	}
	return out, err
}

var _ Store = (*PostgresStore)(nil)
