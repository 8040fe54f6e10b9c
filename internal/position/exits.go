package position

import (
	"fmt"
	"time"

	"github.com/mintwatch-trading/mintwatch/internal/strategy"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Exit rules — stop loss, time limit, profit ladder
// ---------------------------------------------------------------------------

// Exit reasons.
const (
	ReasonStopLoss        = "STOP_LOSS"
	ReasonTimeLimit       = "TIME_LIMIT"
	ReasonLadderExhausted = "LADDER_EXHAUSTED"
	ReasonForceClose      = "FORCE_CLOSE"
)

// ExitDecision is one action the monitor should take on a position.
type ExitDecision struct {
	ShouldSell bool
	// SellPct is the fraction of the current holding to sell, in percent.
	SellPct   decimal.Decimal
	Reason    string
	FullClose bool
	// StepIndex is the ladder step to mark applied, -1 for non-ladder exits.
	StepIndex int
}

var hundred = decimal.NewFromInt(100)

// fullCloseEpsilon: a projected remainder below 1% of the original size is
// treated as dust and closed out entirely.
var fullCloseEpsilon = decimal.NewFromInt(1)

// nextExit returns the highest-priority pending exit action for a position,
// or ShouldSell=false when nothing applies. Priority: stop loss, then time
// limit, then the lowest uncrossed ladder step. The monitor re-evaluates
// after each applied action, so several newly-crossed ladder steps apply in
// ascending order within one tick.
func nextExit(pos *Position, policy strategy.Policy, now time.Time) ExitDecision {
	if pos.Status != StatusOpen || !pos.SizeRemainingPct.IsPositive() {
		return ExitDecision{StepIndex: -1}
	}

	profit := pos.profitPct()

	// Stop loss closes everything regardless of ladder state.
	if profit.LessThanOrEqual(policy.StopLossPct) {
		return ExitDecision{
			ShouldSell: true,
			SellPct:    hundred,
			Reason:     ReasonStopLoss,
			FullClose:  true,
			StepIndex:  -1,
		}
	}

	// Time limit closes everything regardless of profit.
	if now.Sub(pos.OpenedAt) >= policy.MaxHold {
		return ExitDecision{
			ShouldSell: true,
			SellPct:    hundred,
			Reason:     ReasonTimeLimit,
			FullClose:  true,
			StepIndex:  -1,
		}
	}

	// Profit ladder, ascending threshold order.
	for i, step := range policy.Ladder {
		if pos.LadderStepsHit[i] {
			continue
		}
		if profit.LessThan(step.ProfitPct) {
			// Thresholds are strictly increasing: nothing above can be
			// crossed either.
			break
		}

		remainingAfter := pos.SizeRemainingPct.Mul(hundred.Sub(step.SellPct)).Div(hundred)
		full := step.SellPct.GreaterThanOrEqual(hundred) || remainingAfter.LessThan(fullCloseEpsilon)

		d := ExitDecision{
			ShouldSell: true,
			SellPct:    step.SellPct,
			Reason:     ladderReason(i),
			FullClose:  full,
			StepIndex:  i,
		}
		if full {
			d.SellPct = hundred
			d.Reason = ReasonLadderExhausted
		}
		return d
	}

	return ExitDecision{StepIndex: -1}
}

// applyDecision mutates the position after a successful sell.
func applyDecision(pos *Position, d ExitDecision) {
	if d.StepIndex >= 0 && d.StepIndex < len(pos.LadderStepsHit) {
		pos.LadderStepsHit[d.StepIndex] = true
	}
	if d.FullClose {
		pos.SizeRemainingPct = decimal.Zero
		return
	}
	pos.SizeRemainingPct = pos.SizeRemainingPct.Mul(hundred.Sub(d.SellPct)).Div(hundred)
}

func ladderReason(step int) string {
	return fmt.Sprintf("LADDER_L%d", step+1)
}
