// Package monitor polls the collection account's balances of the two
// pool tokens and appends snapshots to the ledger. A failed read skips
// the tick entirely; the previous snapshot stays authoritative and the
// next scheduled tick is the retry.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/GoPolymarket/liquigate/internal/chain"
	"github.com/GoPolymarket/liquigate/internal/ledger"
	"github.com/GoPolymarket/liquigate/internal/model"
	"github.com/GoPolymarket/liquigate/internal/pkg/metrics"
)

type Monitor struct {
	gw      chain.Gateway
	store   ledger.Store
	tokenA  string
	tokenB  string
	account string
	log     *slog.Logger
}

func New(gw chain.Gateway, store ledger.Store, tokenA, tokenB, account string, log *slog.Logger) *Monitor {
	return &Monitor{
		gw:      gw,
		store:   store,
		tokenA:  tokenA,
		tokenB:  tokenB,
		account: account,
		log:     log,
	}
}

// Tick reads both balances and writes one snapshot. The two reads are
// pure and order-independent, so they run concurrently. No partial
// snapshot is ever written.
func (m *Monitor) Tick(ctx context.Context) (*model.BalanceSnapshot, error) {
	var (
		wg         sync.WaitGroup
		balA, balB decimal.Decimal
		errA, errB error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		balA, errA = m.gw.BalanceOf(ctx, m.tokenA, m.account)
	}()
	go func() {
		defer wg.Done()
		balB, errB = m.gw.BalanceOf(ctx, m.tokenB, m.account)
	}()
	wg.Wait()

	if errA != nil {
		metrics.PollErrors.WithLabelValues("balance_a").Inc()
		m.log.Warn("balance read failed, skipping tick", "token", m.tokenA, "error", errA)
		return nil, errA
	}
	if errB != nil {
		metrics.PollErrors.WithLabelValues("balance_b").Inc()
		m.log.Warn("balance read failed, skipping tick", "token", m.tokenB, "error", errB)
		return nil, errB
	}

	snap := model.BalanceSnapshot{
		Timestamp: time.Now().UTC(),
		BalanceA:  balA,
		BalanceB:  balB,
	}
	if err := m.store.AppendSnapshot(ctx, snap); err != nil {
		return nil, err
	}
	m.log.Debug("snapshot recorded", "balance_a", balA, "balance_b", balB)
	return &snap, nil
}
