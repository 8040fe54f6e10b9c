package qualify

import (
	"context"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mintwatch-trading/mintwatch/internal/poller"
	"github.com/mintwatch-trading/mintwatch/internal/reputation"
	"github.com/mintwatch-trading/mintwatch/internal/strategy"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Qualification Engine — creator reputation gate applied per creation event
// ---------------------------------------------------------------------------

// Verdict is the outcome of evaluating one creation event. Transient:
// produced and consumed within a single pipeline pass.
type Verdict struct {
	Event     poller.CreationEvent
	Profile   reputation.Profile
	Qualifies bool
	Reason    reputation.RejectReason
	Policy    strategy.Policy

	// Err holds the underlying lookup error when Reason is lookup-error.
	// Recorded for observability only; it never propagates.
	Err error
}

// PositionChecker reports whether a token already has an open position.
// Satisfied by the position manager.
type PositionChecker interface {
	HasOpenPosition(token common.Address) bool
}

// Engine orchestrates resolve -> gate -> verdict for each event.
type Engine struct {
	resolver  reputation.Resolver
	gate      *reputation.Gate
	policy    strategy.Policy
	positions PositionChecker

	// Stats.
	evaluated atomic.Int64
	qualified atomic.Int64
	rejected  atomic.Int64
}

// NewEngine creates a qualification engine bound to one active policy.
func NewEngine(resolver reputation.Resolver, gate *reputation.Gate, policy strategy.Policy, positions PositionChecker) *Engine {
	return &Engine{
		resolver:  resolver,
		gate:      gate,
		policy:    policy,
		positions: positions,
	}
}

// Evaluate produces a verdict for one creation event. Exactly one reject
// reason applies to a non-qualifying verdict. Lookup failures are swallowed
// into the verdict, never returned: the pipeline must keep running.
func (e *Engine) Evaluate(ctx context.Context, event poller.CreationEvent) Verdict {
	e.evaluated.Add(1)

	v := Verdict{Event: event, Policy: e.policy}

	// A second qualifying event for a token with an open position is
	// rejected, not queued.
	if e.positions != nil && e.positions.HasOpenPosition(event.Token) {
		v.Reason = reputation.ReasonPositionOpen
		e.logVerdict(v)
		e.rejected.Add(1)
		return v
	}

	profile, err := e.resolver.Resolve(ctx, event.Creator)
	if err != nil {
		v.Reason = reputation.ReasonLookupError
		v.Err = err
		log.Warn().Err(err).
			Str("creator", event.Creator.Hex()).
			Str("token", event.Token.Hex()).
			Msg("qualify: profile lookup failed, creator does not qualify")
		e.rejected.Add(1)
		return v
	}
	v.Profile = profile

	ok, reason := e.gate.Check(profile, e.policy)
	v.Qualifies = ok
	v.Reason = reason
	e.logVerdict(v)

	if ok {
		e.qualified.Add(1)
	} else {
		e.rejected.Add(1)
	}
	return v
}

func (e *Engine) logVerdict(v Verdict) {
	ev := log.Warn().
		Str("creator", v.Event.Creator.Hex()).
		Str("token", v.Event.Token.Hex()).
		Str("policy", v.Policy.Name).
		Bool("qualifies", v.Qualifies)
	if v.Profile.Handle != "" {
		ev = ev.Str("handle", v.Profile.Handle)
	}
	if v.Profile.HasScore {
		ev = ev.Int("score", v.Profile.Score)
	}
	if !v.Qualifies {
		ev = ev.Str("reason", string(v.Reason))
	}
	ev.Msg("qualify: verdict")
}

// Stats returns qualification counters.
type Stats struct {
	Evaluated int64 `json:"evaluated"`
	Qualified int64 `json:"qualified"`
	Rejected  int64 `json:"rejected"`
}

func (e *Engine) Stats() Stats {
	return Stats{
		Evaluated: e.evaluated.Load(),
		Qualified: e.qualified.Load(),
		Rejected:  e.rejected.Load(),
	}
}
