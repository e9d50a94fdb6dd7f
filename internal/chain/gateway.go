// Package chain wraps the external RPC/contract layer behind the
// capability interface the engine consumes: token balances, pool
// reserves, approve + add-liquidity submission and confirmation. The
// engine never reimplements AMM math; it only uses what the pair and
// router expose.
package chain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Reserves is the pool state at read time, already mapped onto the
// configured tokenA/tokenB orientation.
type Reserves struct {
	ReserveA decimal.Decimal
	ReserveB decimal.Decimal
}

// Price returns the implied exchange rate reserveB/reserveA.
func (r Reserves) Price() decimal.Decimal {
	if r.ReserveA.IsZero() {
		return decimal.Zero
	}
	return r.ReserveB.Div(r.ReserveA)
}

// AddResult is the realized outcome of a confirmed add-liquidity call.
type AddResult struct {
	UsedA    decimal.Decimal
	UsedB    decimal.Decimal
	LPTokens decimal.Decimal
}

// Outcome classifies a previously submitted transaction, for crash
// recovery of batches left in the submitted state.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeConfirmed
	OutcomeReverted
)

type Gateway interface {
	// BalanceOf reads an ERC20 balance of the given account.
	BalanceOf(ctx context.Context, token, account string) (decimal.Decimal, error)

	// GetReserves reads the pair's current reserves.
	GetReserves(ctx context.Context) (Reserves, error)

	// LPTotalSupply reads the pair's pool-share token supply, used to
	// estimate expected LP tokens before submission.
	LPTotalSupply(ctx context.Context) (decimal.Decimal, error)

	// EnsureApproval raises the router allowance for token to at least
	// amount. Re-approving to at least the required amount is safe, so
	// the call is idempotent.
	EnsureApproval(ctx context.Context, token string, amount decimal.Decimal) error

	// AddLiquidity broadcasts the add-liquidity transaction and returns
	// its reference. It does not wait for inclusion.
	AddLiquidity(ctx context.Context, amountADesired, amountBDesired, amountAMin, amountBMin decimal.Decimal, deadline time.Time) (string, error)

	// WaitConfirmation blocks until the transaction is mined or ctx
	// expires. A reverted execution is returned as TX_REVERTED.
	WaitConfirmation(ctx context.Context, txRef string) (AddResult, error)

	// TxOutcome resolves a transaction reference without waiting.
	TxOutcome(ctx context.Context, txRef string) (Outcome, AddResult, error)
}
