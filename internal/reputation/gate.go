package reputation

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mintwatch-trading/mintwatch/internal/strategy"
)

// ---------------------------------------------------------------------------
// Reputation Gate — resolves creator wallets to social identity + score
// and applies the policy's qualification bar.
// ---------------------------------------------------------------------------

// Profile is the normalized social identity of a wallet. Raw provider
// payloads are flattened into this shape at the client boundary; downstream
// code never sees provider fields.
type Profile struct {
	Wallet common.Address `json:"wallet"`

	// Handle is the provider account handle (not the display name).
	// Empty means the wallet has no resolvable social identity.
	Handle string `json:"handle,omitempty"`

	// Score is the provider reputation score. Valid only when HasScore.
	Score    int  `json:"score,omitempty"`
	HasScore bool `json:"has_score"`
}

// Resolver looks up the social profile for a wallet. A missing handle or
// score is a valid profile, not an error; errors mean the lookup itself failed.
type Resolver interface {
	Resolve(ctx context.Context, wallet common.Address) (Profile, error)
}

// RejectReason distinguishes why a creator did not qualify. Lookup failures
// and legitimate policy rejections must never be conflated.
type RejectReason string

const (
	ReasonNone                RejectReason = ""
	ReasonNoSocialHandle      RejectReason = "no-social-handle"
	ReasonScoreBelowThreshold RejectReason = "score-below-threshold"
	ReasonLookupError         RejectReason = "lookup-error"
	ReasonPositionOpen        RejectReason = "token-already-has-open-position"
)

// Gate applies a policy's reputation bar to resolved profiles.
type Gate struct{}

// NewGate creates a reputation gate.
func NewGate() *Gate {
	return &Gate{}
}

// Check returns whether the profile passes the policy bar, and the reject
// reason when it does not. A score outside the valid domain is a lookup
// failure, never a low score: it is reported, not clamped.
func (g *Gate) Check(profile Profile, policy strategy.Policy) (bool, RejectReason) {
	if profile.Handle == "" {
		return false, ReasonNoSocialHandle
	}
	if !profile.HasScore {
		return false, ReasonLookupError
	}
	if profile.Score < strategy.MinScoreDomain || profile.Score > strategy.MaxScoreDomain {
		return false, ReasonLookupError
	}
	if profile.Score < policy.MinReputationScore {
		return false, ReasonScoreBelowThreshold
	}
	return true, ReasonNone
}

// ---------------------------------------------------------------------------
// Stub Resolver (for testing and -stub mode)
// ---------------------------------------------------------------------------

// StubResolver returns canned profiles.
type StubResolver struct {
	mu       sync.RWMutex
	profiles map[common.Address]Profile
	failNext bool
}

// NewStubResolver creates a stub resolver.
func NewStubResolver() *StubResolver {
	return &StubResolver{profiles: make(map[common.Address]Profile)}
}

// AddProfile registers a profile for the stub to return.
func (s *StubResolver) AddProfile(p Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.Wallet] = p
}

// SetFailNext makes the next Resolve call fail.
func (s *StubResolver) SetFailNext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = true
}

func (s *StubResolver) Resolve(_ context.Context, wallet common.Address) (Profile, error) {
	s.mu.Lock()
	if s.failNext {
		s.failNext = false
		s.mu.Unlock()
		return Profile{}, fmt.Errorf("stub: simulated profile lookup failure")
	}
	s.mu.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.profiles[wallet]; ok {
		return p, nil
	}
	// Unknown wallet resolves to an empty profile, not an error.
	return Profile{Wallet: wallet}, nil
}
