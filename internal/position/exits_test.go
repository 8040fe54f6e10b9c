package position

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mintwatch-trading/mintwatch/internal/strategy"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ladderPolicy() strategy.Policy {
	return strategy.Policy{
		Name:               "test",
		MinReputationScore: 1000,
		BuyAmountETH:       decimal.NewFromFloat(0.01),
		Ladder: []strategy.LadderStep{
			{ProfitPct: decimal.NewFromInt(50), SellPct: decimal.NewFromInt(50)},
			{ProfitPct: decimal.NewFromInt(100), SellPct: decimal.NewFromInt(50)},
			{ProfitPct: decimal.NewFromInt(200), SellPct: decimal.NewFromInt(100)},
		},
		StopLossPct: decimal.NewFromInt(-20),
		MaxHold:     time.Hour,
	}
}

func openPosition(entry, current float64, steps int) *Position {
	return &Position{
		ID:               "test-pos",
		Token:            common.HexToAddress("0xabc"),
		EntryPrice:       decimal.NewFromFloat(entry),
		CurrentPrice:     decimal.NewFromFloat(current),
		SizeRemainingPct: hundred,
		LadderStepsHit:   make([]bool, steps),
		Status:           StatusOpen,
		OpenedAt:         time.Now().Add(-time.Minute),
	}
}

func TestNextExit_NothingPending(t *testing.T) {
	policy := ladderPolicy()
	pos := openPosition(100, 120, len(policy.Ladder)) // +20%, below first rung

	d := nextExit(pos, policy, time.Now())
	assert.False(t, d.ShouldSell)
}

func TestNextExit_OnlyFirstCrossedStepFires(t *testing.T) {
	// +51% crosses the 50% rung but not the 100% one: exactly one partial
	// sell of 50%, nothing for the higher rungs.
	policy := ladderPolicy()
	pos := openPosition(100, 151, len(policy.Ladder))

	d := nextExit(pos, policy, time.Now())
	require.True(t, d.ShouldSell)
	assert.Equal(t, "LADDER_L1", d.Reason)
	assert.True(t, d.SellPct.Equal(decimal.NewFromInt(50)))
	assert.False(t, d.FullClose)
	assert.Equal(t, 0, d.StepIndex)

	applyDecision(pos, d)
	assert.True(t, pos.LadderStepsHit[0])
	assert.True(t, pos.SizeRemainingPct.Equal(decimal.NewFromInt(50)))

	// Same price again: the rung stays spent.
	d = nextExit(pos, policy, time.Now())
	assert.False(t, d.ShouldSell)
}

func TestNextExit_StepsApplyInAscendingOrder(t *testing.T) {
	// A price jump past several rungs applies them lowest-first, one
	// decision per evaluation.
	policy := ladderPolicy()
	pos := openPosition(100, 250, len(policy.Ladder)) // +150%

	d := nextExit(pos, policy, time.Now())
	require.True(t, d.ShouldSell)
	assert.Equal(t, "LADDER_L1", d.Reason)
	applyDecision(pos, d)

	d = nextExit(pos, policy, time.Now())
	require.True(t, d.ShouldSell)
	assert.Equal(t, "LADDER_L2", d.Reason)
	assert.Equal(t, 1, d.StepIndex)
	applyDecision(pos, d)
	assert.True(t, pos.SizeRemainingPct.Equal(decimal.NewFromInt(25)))

	// +150% does not reach the 200% rung.
	d = nextExit(pos, policy, time.Now())
	assert.False(t, d.ShouldSell)
}

func TestNextExit_FinalStepIsFullClose(t *testing.T) {
	policy := ladderPolicy()
	pos := openPosition(100, 310, len(policy.Ladder)) // +210%
	pos.LadderStepsHit[0] = true
	pos.LadderStepsHit[1] = true
	pos.SizeRemainingPct = decimal.NewFromInt(25)

	d := nextExit(pos, policy, time.Now())
	require.True(t, d.ShouldSell)
	assert.Equal(t, ReasonLadderExhausted, d.Reason)
	assert.True(t, d.FullClose)
	assert.True(t, d.SellPct.Equal(hundred))

	applyDecision(pos, d)
	assert.True(t, pos.SizeRemainingPct.IsZero())
}

func TestNextExit_DustRemainderPromotesToFullClose(t *testing.T) {
	// A partial sell that would leave under 1% of the original position is
	// executed as a full close instead.
	policy := strategy.Policy{
		Name:               "dust",
		MinReputationScore: 1000,
		BuyAmountETH:       decimal.NewFromFloat(0.01),
		Ladder: []strategy.LadderStep{
			{ProfitPct: decimal.NewFromInt(50), SellPct: decimal.NewFromInt(99)},
		},
		StopLossPct: decimal.NewFromInt(-20),
		MaxHold:     time.Hour,
	}
	pos := openPosition(100, 160, 1)

	d := nextExit(pos, policy, time.Now())
	require.True(t, d.ShouldSell)
	assert.True(t, d.FullClose)
	assert.Equal(t, ReasonLadderExhausted, d.Reason)
	assert.True(t, d.SellPct.Equal(hundred))
}

func TestNextExit_StopLoss(t *testing.T) {
	// -21% against a -20% stop: everything goes, ladder state irrelevant.
	policy := ladderPolicy()
	pos := openPosition(100, 79, len(policy.Ladder))

	d := nextExit(pos, policy, time.Now())
	require.True(t, d.ShouldSell)
	assert.Equal(t, ReasonStopLoss, d.Reason)
	assert.True(t, d.FullClose)
	assert.True(t, d.SellPct.Equal(hundred))
	assert.Equal(t, -1, d.StepIndex)
}

func TestNextExit_StopLossExactBoundary(t *testing.T) {
	policy := ladderPolicy()
	pos := openPosition(100, 80, len(policy.Ladder)) // exactly -20%

	d := nextExit(pos, policy, time.Now())
	require.True(t, d.ShouldSell)
	assert.Equal(t, ReasonStopLoss, d.Reason)
}

func TestNextExit_TimeLimit(t *testing.T) {
	policy := ladderPolicy()
	pos := openPosition(100, 120, len(policy.Ladder))
	pos.OpenedAt = time.Now().Add(-2 * time.Hour)

	d := nextExit(pos, policy, time.Now())
	require.True(t, d.ShouldSell)
	assert.Equal(t, ReasonTimeLimit, d.Reason)
	assert.True(t, d.FullClose)
}

func TestNextExit_TimeLimitBeatsLadder(t *testing.T) {
	// Expired hold with a crossed rung: the time limit wins and closes
	// everything rather than peeling one rung.
	policy := ladderPolicy()
	pos := openPosition(100, 160, len(policy.Ladder))
	pos.OpenedAt = time.Now().Add(-2 * time.Hour)

	d := nextExit(pos, policy, time.Now())
	require.True(t, d.ShouldSell)
	assert.Equal(t, ReasonTimeLimit, d.Reason)
}

func TestNextExit_ClosedPositionIgnored(t *testing.T) {
	policy := ladderPolicy()
	pos := openPosition(100, 50, len(policy.Ladder))
	pos.Status = StatusClosed

	d := nextExit(pos, policy, time.Now())
	assert.False(t, d.ShouldSell)
}

func TestProfitPct(t *testing.T) {
	pos := openPosition(100, 151, 0)
	assert.True(t, pos.profitPct().Equal(decimal.NewFromInt(51)))

	pos = openPosition(100, 79, 0)
	assert.True(t, pos.profitPct().Equal(decimal.NewFromInt(-21)))

	// Zero entry never divides.
	pos = openPosition(0, 100, 0)
	assert.True(t, pos.profitPct().IsZero())
}
