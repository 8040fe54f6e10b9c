package trade

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Trade Executor — buy/sell collaborator boundary
// ---------------------------------------------------------------------------

// TxResult is the outcome of a submitted trade.
type TxResult struct {
	TxHash common.Hash `json:"tx_hash"`
}

// Executor submits trades for creator coins. Sell takes a fraction of the
// current holding in percent (100 = everything held).
type Executor interface {
	Buy(ctx context.Context, token common.Address, amountETH decimal.Decimal) (TxResult, error)
	Sell(ctx context.Context, token common.Address, fractionPct decimal.Decimal) (TxResult, error)
}

// ---------------------------------------------------------------------------
// Dry-Run Executor
// ---------------------------------------------------------------------------

// DryRunExecutor logs trades without submitting anything. Transaction hashes
// are fabricated and deterministic per call sequence.
type DryRunExecutor struct {
	seq atomic.Int64
}

// NewDryRunExecutor creates a dry-run executor.
func NewDryRunExecutor() *DryRunExecutor {
	return &DryRunExecutor{}
}

func (e *DryRunExecutor) Buy(_ context.Context, token common.Address, amountETH decimal.Decimal) (TxResult, error) {
	n := e.seq.Add(1)
	log.Warn().
		Str("token", token.Hex()).
		Str("amount_eth", amountETH.String()).
		Msg("trade: DRY RUN buy (no transaction)")
	return TxResult{TxHash: pseudoHash("buy", n)}, nil
}

func (e *DryRunExecutor) Sell(_ context.Context, token common.Address, fractionPct decimal.Decimal) (TxResult, error) {
	n := e.seq.Add(1)
	log.Warn().
		Str("token", token.Hex()).
		Str("fraction_pct", fractionPct.String()).
		Msg("trade: DRY RUN sell (no transaction)")
	return TxResult{TxHash: pseudoHash("sell", n)}, nil
}

func pseudoHash(kind string, n int64) common.Hash {
	return common.BytesToHash([]byte(fmt.Sprintf("dryrun-%s-%d", kind, n)))
}

// ---------------------------------------------------------------------------
// Stub Executor (for testing)
// ---------------------------------------------------------------------------

// StubExecutor records trades and fails on demand.
type StubExecutor struct {
	mu           sync.Mutex
	buys         []StubTrade
	sells        []StubTrade
	failNextBuy  bool
	failNextSell bool
	failAllSells bool
}

// StubTrade is one recorded stub trade.
type StubTrade struct {
	Token    common.Address
	Amount   decimal.Decimal // ETH for buys, fraction pct for sells
}

// NewStubExecutor creates a stub executor.
func NewStubExecutor() *StubExecutor {
	return &StubExecutor{}
}

// FailNextBuy makes the next Buy call fail.
func (e *StubExecutor) FailNextBuy() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failNextBuy = true
}

// FailNextSell makes the next Sell call fail.
func (e *StubExecutor) FailNextSell() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failNextSell = true
}

// SetFailAllSells makes every Sell call fail until cleared.
func (e *StubExecutor) SetFailAllSells(fail bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failAllSells = fail
}

// Buys returns the recorded buy trades.
func (e *StubExecutor) Buys() []StubTrade {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]StubTrade(nil), e.buys...)
}

// Sells returns the recorded sell trades.
func (e *StubExecutor) Sells() []StubTrade {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]StubTrade(nil), e.sells...)
}

func (e *StubExecutor) Buy(_ context.Context, token common.Address, amountETH decimal.Decimal) (TxResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failNextBuy {
		e.failNextBuy = false
		return TxResult{}, fmt.Errorf("stub: simulated buy failure")
	}
	e.buys = append(e.buys, StubTrade{Token: token, Amount: amountETH})
	return TxResult{TxHash: pseudoHash("stub-buy", int64(len(e.buys)))}, nil
}

func (e *StubExecutor) Sell(_ context.Context, token common.Address, fractionPct decimal.Decimal) (TxResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failNextSell || e.failAllSells {
		e.failNextSell = false
		return TxResult{}, fmt.Errorf("stub: simulated sell failure")
	}
	e.sells = append(e.sells, StubTrade{Token: token, Amount: fractionPct})
	return TxResult{TxHash: pseudoHash("stub-sell", int64(len(e.sells)))}, nil
}
