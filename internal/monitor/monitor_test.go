package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/GoPolymarket/liquigate/internal/chain"
	"github.com/GoPolymarket/liquigate/internal/ledger"
)

type balanceReader struct {
	chain.Gateway
	balances map[string]decimal.Decimal
	err      error
}

func (r *balanceReader) BalanceOf(ctx context.Context, token, account string) (decimal.Decimal, error) {
	if r.err != nil {
		return decimal.Zero, r.err
	}
	return r.balances[token], nil
}

func TestTickWritesSnapshot(t *testing.T) {
	store := ledger.NewMemoryStore()
	gw := &balanceReader{balances: map[string]decimal.Decimal{
		"0xA": decimal.NewFromInt(1200),
		"0xB": decimal.NewFromInt(120),
	}}
	m := New(gw, store, "0xA", "0xB", "0xACC", slog.New(slog.NewTextHandler(io.Discard, nil)))

	snap, err := m.Tick(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !snap.BalanceA.Equal(decimal.NewFromInt(1200)) || !snap.BalanceB.Equal(decimal.NewFromInt(120)) {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	latest, err := store.LatestSnapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if latest == nil || !latest.BalanceA.Equal(snap.BalanceA) {
		t.Fatalf("snapshot not persisted: %+v", latest)
	}
	if time.Since(latest.Timestamp) > time.Minute {
		t.Fatalf("stale timestamp: %s", latest.Timestamp)
	}
}

func TestTickSkipsOnReadFailure(t *testing.T) {
	store := ledger.NewMemoryStore()
	gw := &balanceReader{err: errors.New("rpc timeout")}
	m := New(gw, store, "0xA", "0xB", "0xACC", slog.New(slog.NewTextHandler(io.Discard, nil)))

	if _, err := m.Tick(context.Background()); err == nil {
		t.Fatal("expected error")
	}

	// No partial snapshot may land in the ledger.
	latest, err := store.LatestSnapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if latest != nil {
		t.Fatalf("partial snapshot written: %+v", latest)
	}
}
