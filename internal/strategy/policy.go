package strategy

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Strategy Policy — named qualification + position-sizing + exit rules
// ---------------------------------------------------------------------------

// Reputation scores live in a bounded domain. Anything outside is a lookup
// failure, never a valid score.
const (
	MinScoreDomain = 0
	MaxScoreDomain = 3000
)

// LadderStep is one take-profit tier: when profit crosses ProfitPct, sell
// SellPct of the remaining position.
type LadderStep struct {
	ProfitPct decimal.Decimal `yaml:"profit_pct"` // e.g. 50 = +50%
	SellPct   decimal.Decimal `yaml:"sell_pct"`   // % of remaining to sell
}

// Policy is an immutable named trading strategy. Read-only after Load.
type Policy struct {
	Name string `yaml:"name"`

	// Minimum creator reputation score required to qualify.
	MinReputationScore int `yaml:"min_reputation_score"`

	// ETH spent per position.
	BuyAmountETH decimal.Decimal `yaml:"buy_amount_eth"`

	// Profit ladder, thresholds strictly increasing.
	Ladder []LadderStep `yaml:"ladder"`

	// Stop loss bound, strictly negative. -20 = close at -20%.
	StopLossPct decimal.Decimal `yaml:"stop_loss_pct"`

	// Maximum hold duration before force close.
	MaxHold time.Duration `yaml:"max_hold"`
}

// Validate checks the policy invariants. A policy that fails validation must
// never reach the qualification engine or the position manager.
func (p Policy) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("policy has no name")
	}
	if p.MinReputationScore < MinScoreDomain || p.MinReputationScore > MaxScoreDomain {
		return fmt.Errorf("policy %q: min_reputation_score %d outside [%d, %d]",
			p.Name, p.MinReputationScore, MinScoreDomain, MaxScoreDomain)
	}
	if !p.BuyAmountETH.IsPositive() {
		return fmt.Errorf("policy %q: buy_amount_eth must be positive", p.Name)
	}
	if !p.StopLossPct.IsNegative() {
		return fmt.Errorf("policy %q: stop_loss_pct must be negative, got %s", p.Name, p.StopLossPct)
	}
	if p.MaxHold <= 0 {
		return fmt.Errorf("policy %q: max_hold must be positive", p.Name)
	}

	prev := decimal.Zero
	for i, step := range p.Ladder {
		if !step.ProfitPct.IsPositive() {
			return fmt.Errorf("policy %q: ladder step %d threshold must be positive", p.Name, i)
		}
		if i > 0 && step.ProfitPct.LessThanOrEqual(prev) {
			return fmt.Errorf("policy %q: ladder thresholds must be strictly increasing (step %d: %s <= %s)",
				p.Name, i, step.ProfitPct, prev)
		}
		if !step.SellPct.IsPositive() || step.SellPct.GreaterThan(decimal.NewFromInt(100)) {
			return fmt.Errorf("policy %q: ladder step %d sell_pct must be in (0, 100]", p.Name, i)
		}
		prev = step.ProfitPct
	}
	return nil
}

// Conservative is the default built-in policy: high reputation bar, early
// profit taking, tight stop.
func Conservative() Policy {
	return Policy{
		Name:               "conservative",
		MinReputationScore: 1600,
		BuyAmountETH:       decimal.NewFromFloat(0.01),
		Ladder: []LadderStep{
			{ProfitPct: decimal.NewFromInt(50), SellPct: decimal.NewFromInt(50)},
			{ProfitPct: decimal.NewFromInt(100), SellPct: decimal.NewFromInt(50)},
			{ProfitPct: decimal.NewFromInt(200), SellPct: decimal.NewFromInt(100)},
		},
		StopLossPct: decimal.NewFromInt(-20),
		MaxHold:     2 * time.Hour,
	}
}

// Degen is a built-in policy with a lower bar and wider stops.
func Degen() Policy {
	return Policy{
		Name:               "degen",
		MinReputationScore: 900,
		BuyAmountETH:       decimal.NewFromFloat(0.005),
		Ladder: []LadderStep{
			{ProfitPct: decimal.NewFromInt(100), SellPct: decimal.NewFromInt(33)},
			{ProfitPct: decimal.NewFromInt(300), SellPct: decimal.NewFromInt(50)},
			{ProfitPct: decimal.NewFromInt(900), SellPct: decimal.NewFromInt(100)},
		},
		StopLossPct: decimal.NewFromInt(-50),
		MaxHold:     6 * time.Hour,
	}
}

// Registry holds the known policies by name.
type Registry struct {
	policies map[string]Policy
}

// NewRegistry builds a registry from the built-ins plus any overrides.
// An override with the name of a built-in replaces it.
func NewRegistry(overrides ...Policy) (*Registry, error) {
	r := &Registry{policies: make(map[string]Policy)}
	for _, p := range []Policy{Conservative(), Degen()} {
		r.policies[p.Name] = p
	}
	for _, p := range overrides {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		r.policies[p.Name] = p
	}
	return r, nil
}

// Get returns the named policy.
func (r *Registry) Get(name string) (Policy, error) {
	p, ok := r.policies[name]
	if !ok {
		return Policy{}, fmt.Errorf("unknown strategy %q", name)
	}
	return p, nil
}

// Names lists the registered policy names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.policies))
	for name := range r.policies {
		names = append(names, name)
	}
	return names
}
