package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/GoPolymarket/liquigate/internal/chain"
)

// Plan is the AMM-matched execution plan for an approved batch: the
// reserve-ratio-consistent amounts, the slippage-bounded minimums and
// the expected pool-share tokens.
type Plan struct {
	MatchedA   decimal.Decimal
	MatchedB   decimal.Decimal
	MinA       decimal.Decimal
	MinB       decimal.Decimal
	ExpectedLP decimal.Decimal
}

// BuildPlan matches the desired amounts to the current reserve ratio.
// The side that would overshoot the ratio is the one reduced, so
// matched amounts never exceed the desired amounts.
func BuildPlan(amountA, amountB decimal.Decimal, res chain.Reserves, lpSupply decimal.Decimal, slippageBps int64) Plan {
	matchedA, matchedB := amountA, amountB
	if res.ReserveA.IsPositive() && res.ReserveB.IsPositive() {
		idealB := amountA.Mul(res.ReserveB).Div(res.ReserveA).Floor()
		if idealB.LessThanOrEqual(amountB) {
			matchedB = idealB
		} else {
			// B is the binding side
			matchedA = amountB.Mul(res.ReserveA).Div(res.ReserveB).Floor()
		}
	}

	slip := decimal.NewFromInt(slippageBps).Div(tenThousand)
	keep := decimal.NewFromInt(1).Sub(slip)

	plan := Plan{
		MatchedA:   matchedA,
		MatchedB:   matchedB,
		MinA:       matchedA.Mul(keep).Floor(),
		MinB:       matchedB.Mul(keep).Floor(),
		ExpectedLP: decimal.Zero,
	}
	if lpSupply.IsPositive() && res.ReserveA.IsPositive() && res.ReserveB.IsPositive() {
		// The pair mints min(dA/rA, dB/rB) * supply
		shareA := matchedA.Mul(lpSupply).Div(res.ReserveA)
		shareB := matchedB.Mul(lpSupply).Div(res.ReserveB)
		plan.ExpectedLP = decimal.Min(shareA, shareB).Floor()
	}
	return plan
}

// Provisioner executes an approved plan against the chain gateway:
// approve both tokens, submit the add-liquidity call, await inclusion.
type Provisioner struct {
	gw     chain.Gateway
	tokenA string
	tokenB string
	log    *slog.Logger
}

func NewProvisioner(gw chain.Gateway, tokenA, tokenB string, log *slog.Logger) *Provisioner {
	return &Provisioner{gw: gw, tokenA: tokenA, tokenB: tokenB, log: log}
}

// Prepare reads the pool-share supply and builds the execution plan
// from the already-read reserves.
func (p *Provisioner) Prepare(ctx context.Context, amountA, amountB decimal.Decimal, res chain.Reserves, slippageBps int64) (Plan, error) {
	lpSupply, err := p.gw.LPTotalSupply(ctx)
	if err != nil {
		return Plan{}, err
	}
	return BuildPlan(amountA, amountB, res, lpSupply, slippageBps), nil
}

// Submit raises allowances and broadcasts the add-liquidity call. The
// approve step is idempotent; re-approving to at least the required
// amount is safe. Returns the transaction reference without waiting.
func (p *Provisioner) Submit(ctx context.Context, plan Plan, deadline time.Time) (string, error) {
	if err := p.gw.EnsureApproval(ctx, p.tokenA, plan.MatchedA); err != nil {
		return "", err
	}
	if err := p.gw.EnsureApproval(ctx, p.tokenB, plan.MatchedB); err != nil {
		return "", err
	}
	txRef, err := p.gw.AddLiquidity(ctx, plan.MatchedA, plan.MatchedB, plan.MinA, plan.MinB, deadline)
	if err != nil {
		return "", err
	}
	p.log.Info("liquidity add submitted",
		"tx_ref", txRef,
		"matched_a", plan.MatchedA, "matched_b", plan.MatchedB,
		"min_a", plan.MinA, "min_b", plan.MinB)
	return txRef, nil
}

// Await blocks until confirmation or the bounded timeout. The timeout
// keeps the orchestrator loop from blocking indefinitely; expiry is
// surfaced as CONFIRM_TIMEOUT and the batch fails.
func (p *Provisioner) Await(ctx context.Context, txRef string, timeout time.Duration) (chain.AddResult, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.gw.WaitConfirmation(waitCtx, txRef)
}
