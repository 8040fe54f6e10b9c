package chain

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Stub Client (for testing and -stub mode)
// ---------------------------------------------------------------------------

// StubClient is an in-memory chain client for tests and dry development runs.
type StubClient struct {
	mu       sync.RWMutex
	head     uint64
	logs     []Log
	prices   map[common.Address]decimal.Decimal
	failNext bool
}

// NewStubClient creates a stub chain client.
func NewStubClient() *StubClient {
	return &StubClient{
		prices: make(map[common.Address]decimal.Decimal),
	}
}

// SetHead sets the current chain head.
func (s *StubClient) SetHead(block uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.head = block
}

// AddLog registers a log record the stub will return from FilterLogs.
func (s *StubClient) AddLog(l Log) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, l)
}

// SetPrice sets the spot price for a token.
func (s *StubClient) SetPrice(token common.Address, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[token] = price
}

// SetFailNext makes the next call fail.
func (s *StubClient) SetFailNext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = true
}

func (s *StubClient) shouldFail() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext {
		s.failNext = false
		return true
	}
	return false
}

// --- Interface implementation ---

func (s *StubClient) BlockNumber(_ context.Context) (uint64, error) {
	if s.shouldFail() {
		return 0, fmt.Errorf("stub: simulated RPC failure")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.head, nil
}

func (s *StubClient) FilterLogs(_ context.Context, q FilterQuery) ([]Log, error) {
	if s.shouldFail() {
		return nil, fmt.Errorf("stub: simulated RPC failure")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Log
	for _, l := range s.logs {
		if l.BlockNumber < q.FromBlock || l.BlockNumber > q.ToBlock {
			continue
		}
		if l.Address != q.Address {
			continue
		}
		if len(l.Topics) == 0 || l.Topics[0] != q.Topic {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (s *StubClient) TokenPrice(_ context.Context, token common.Address) (decimal.Decimal, error) {
	if s.shouldFail() {
		return decimal.Zero, fmt.Errorf("stub: simulated RPC failure")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.prices[token]; ok {
		return p, nil
	}
	return decimal.Zero, fmt.Errorf("stub: no price for token %s", token.Hex())
}

func (s *StubClient) Health(_ context.Context) error {
	if s.shouldFail() {
		return fmt.Errorf("stub: simulated RPC failure")
	}
	return nil
}
