package engine

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/GoPolymarket/liquigate/internal/chain"
)

func TestBuildPlanAExcess(t *testing.T) {
	// Pool at 10:1; desired (1200, 100) is A-heavy, so A is reduced to
	// match B at the pool ratio.
	res := chain.Reserves{ReserveA: dec("1000000"), ReserveB: dec("100000")}
	plan := BuildPlan(dec("1200"), dec("100"), res, dec("50000"), 50)

	assert.True(t, plan.MatchedA.Equal(dec("1000")), "matchedA = %s", plan.MatchedA)
	assert.True(t, plan.MatchedB.Equal(dec("100")), "matchedB = %s", plan.MatchedB)
}

func TestBuildPlanBExcess(t *testing.T) {
	res := chain.Reserves{ReserveA: dec("1000000"), ReserveB: dec("100000")}
	plan := BuildPlan(dec("1000"), dec("150"), res, dec("50000"), 50)

	assert.True(t, plan.MatchedA.Equal(dec("1000")), "matchedA = %s", plan.MatchedA)
	assert.True(t, plan.MatchedB.Equal(dec("100")), "matchedB = %s", plan.MatchedB)
}

func TestBuildPlanNeverInflates(t *testing.T) {
	res := chain.Reserves{ReserveA: dec("1000000"), ReserveB: dec("300000")}
	amountA, amountB := dec("700"), dec("500")
	plan := BuildPlan(amountA, amountB, res, dec("10000"), 50)

	assert.True(t, plan.MatchedA.LessThanOrEqual(amountA))
	assert.True(t, plan.MatchedB.LessThanOrEqual(amountB))
}

func TestBuildPlanSlippageMins(t *testing.T) {
	res := chain.Reserves{ReserveA: dec("1000000"), ReserveB: dec("100000")}
	plan := BuildPlan(dec("1000"), dec("100"), res, dec("50000"), 50)

	// 50 bps below matched, floored to integer base units.
	assert.True(t, plan.MinA.Equal(dec("995")), "minA = %s", plan.MinA)
	assert.True(t, plan.MinB.Equal(dec("99")), "minB = %s", plan.MinB)
}

func TestBuildPlanExpectedLP(t *testing.T) {
	res := chain.Reserves{ReserveA: dec("1000000"), ReserveB: dec("100000")}
	plan := BuildPlan(dec("1000"), dec("100"), res, dec("50000"), 50)

	// min(1000/1000000, 100/100000) * 50000 = 50
	assert.True(t, plan.ExpectedLP.Equal(dec("50")), "expectedLP = %s", plan.ExpectedLP)
}

func TestBuildPlanEmptyPool(t *testing.T) {
	plan := BuildPlan(dec("1000"), dec("100"), chain.Reserves{}, decimal.Zero, 50)

	// No reserves to match against: desired amounts pass through and no
	// LP estimate is possible.
	assert.True(t, plan.MatchedA.Equal(dec("1000")))
	assert.True(t, plan.MatchedB.Equal(dec("100")))
	assert.True(t, plan.ExpectedLP.IsZero())
}
