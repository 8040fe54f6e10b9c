package position

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/mintwatch-trading/mintwatch/internal/chain"
	"github.com/mintwatch-trading/mintwatch/internal/qualify"
	"github.com/mintwatch-trading/mintwatch/internal/strategy"
	"github.com/mintwatch-trading/mintwatch/internal/trade"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Position Manager — owns open positions, opens on qualifying verdicts,
// monitors exits (ladder / stop loss / time limit)
// ---------------------------------------------------------------------------

// Config configures the position manager.
type Config struct {
	// Monitoring loop interval.
	MonitorInterval time.Duration `yaml:"monitor_interval"`

	// Maximum concurrent open positions.
	MaxPositions int `yaml:"max_positions"`

	// Maximum ETH spent per UTC day before new entries stop.
	MaxDailySpendETH float64 `yaml:"max_daily_spend_eth"`

	// Maximum realized ETH loss per UTC day before new entries stop.
	MaxDailyLossETH float64 `yaml:"max_daily_loss_eth"`
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() Config {
	return Config{
		MonitorInterval:  5 * time.Second,
		MaxPositions:     5,
		MaxDailySpendETH: 0.1,
		MaxDailyLossETH:  0.05,
	}
}

// Status represents the state of a position.
type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

// Position tracks one holding of a creator coin. All mutable fields are
// guarded by the manager's mutex.
type Position struct {
	ID      string         `json:"id"`
	Token   common.Address `json:"token"`
	Creator common.Address `json:"creator"`

	EntryPrice   decimal.Decimal `json:"entry_price"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	HighestPrice decimal.Decimal `json:"highest_price"`
	CostETH      decimal.Decimal `json:"cost_eth"`
	PnLPct       decimal.Decimal `json:"pnl_pct"`

	// SizeRemainingPct is the unsold fraction of the original position in
	// percent. Starts at 100, reaches 0 exactly when the position closes.
	SizeRemainingPct decimal.Decimal `json:"size_remaining_pct"`

	// LadderStepsHit marks which ladder steps have been applied.
	LadderStepsHit []bool `json:"ladder_steps_hit"`

	Status      Status      `json:"status"`
	OpenedAt    time.Time   `json:"opened_at"`
	ClosedAt    *time.Time  `json:"closed_at,omitempty"`
	CloseReason string      `json:"close_reason,omitempty"`
	BuyTx       common.Hash `json:"buy_tx"`
	SellTxs     []common.Hash `json:"sell_txs,omitempty"`
}

func (p *Position) profitPct() decimal.Decimal {
	if !p.EntryPrice.IsPositive() {
		return decimal.Zero
	}
	return p.CurrentPrice.Sub(p.EntryPrice).Div(p.EntryPrice).Mul(hundred)
}

// Manager owns the set of positions. The event-driven open path and the
// time-driven monitor loop both run against it; in-memory state is guarded
// by one mutex, never held across collaborator I/O.
type Manager struct {
	config   Config
	executor trade.Executor
	client   chain.Client

	mu          sync.RWMutex
	positions   map[string]*Position      // ID -> position
	openByToken map[common.Address]string // token -> open position ID
	pendingBuys map[common.Address]bool   // buy in flight, not yet a position

	running atomic.Bool
	paused  atomic.Bool

	// Daily budget tracking, guarded by mu.
	dailySpentETH  decimal.Decimal
	dailyLossETH   decimal.Decimal
	dailyResetTime time.Time

	// Stats.
	totalOpens     atomic.Int64
	totalSells     atomic.Int64
	failedOpens    atomic.Int64
	failedSells    atomic.Int64
	winCount       atomic.Int64
	lossCount      atomic.Int64

	// Callbacks.
	onOpen  func(pos *Position)
	onClose func(pos *Position)
}

// NewManager creates a position manager.
func NewManager(config Config, executor trade.Executor, client chain.Client) *Manager {
	if config.MonitorInterval == 0 {
		config.MonitorInterval = 5 * time.Second
	}
	if config.MaxPositions == 0 {
		config.MaxPositions = 5
	}
	return &Manager{
		config:         config,
		executor:       executor,
		client:         client,
		positions:      make(map[string]*Position),
		openByToken:    make(map[common.Address]string),
		pendingBuys:    make(map[common.Address]bool),
		dailyResetTime: startOfDayUTC(),
	}
}

// SetOnOpen sets the callback for newly opened positions.
func (m *Manager) SetOnOpen(fn func(pos *Position)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onOpen = fn
}

// SetOnClose sets the callback for closed positions.
func (m *Manager) SetOnClose(fn func(pos *Position)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onClose = fn
}

// SetPaused stops new entries without touching open positions.
func (m *Manager) SetPaused(paused bool) {
	m.paused.Store(paused)
}

// HasOpenPosition reports whether a token has an open position or a buy in
// flight. Satisfies qualify.PositionChecker.
func (m *Manager) HasOpenPosition(token common.Address) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, open := m.openByToken[token]
	return open || m.pendingBuys[token]
}

// HandleVerdict opens a position for a qualifying verdict. Non-qualifying
// verdicts are ignored here; the qualification engine already logged them.
// On executor failure no position is created and the verdict is not retried.
func (m *Manager) HandleVerdict(ctx context.Context, v qualify.Verdict) {
	if !v.Qualifies {
		return
	}
	if m.paused.Load() {
		log.Warn().Str("token", v.Event.Token.Hex()).Msg("position: paused, entry skipped")
		return
	}

	policy := v.Policy
	token := v.Event.Token

	m.mu.Lock()
	if !m.checkDailyLimitsLocked() {
		m.mu.Unlock()
		log.Warn().Str("token", token.Hex()).Msg("position: daily budget reached, entry skipped")
		return
	}
	if len(m.openByToken)+len(m.pendingBuys) >= m.config.MaxPositions {
		m.mu.Unlock()
		log.Warn().Str("token", token.Hex()).
			Int("max", m.config.MaxPositions).
			Msg("position: max open positions reached, entry skipped")
		return
	}
	if _, exists := m.openByToken[token]; exists || m.pendingBuys[token] {
		m.mu.Unlock()
		// At most one open position per token. A qualifying verdict for a
		// token that already has one is an invariant violation in the
		// pipeline ordering, not a queueable request.
		log.Error().Str("token", token.Hex()).
			Msg("position: INVARIANT open position already exists, verdict dropped")
		return
	}
	m.pendingBuys[token] = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.pendingBuys, token)
		m.mu.Unlock()
	}()

	entryPrice, err := m.client.TokenPrice(ctx, token)
	if err != nil {
		m.failedOpens.Add(1)
		log.Error().Err(err).Str("token", token.Hex()).
			Msg("position: entry price fetch failed, open aborted")
		return
	}

	log.Warn().
		Str("token", token.Hex()).
		Str("creator", v.Event.Creator.Hex()).
		Str("handle", v.Profile.Handle).
		Str("buy_eth", policy.BuyAmountETH.String()).
		Str("entry_price", entryPrice.String()).
		Msg("position: EXECUTING BUY")

	result, err := m.executor.Buy(ctx, token, policy.BuyAmountETH)
	if err != nil {
		m.failedOpens.Add(1)
		log.Error().Err(err).Str("token", token.Hex()).
			Msg("position: buy FAILED, open aborted")
		return
	}

	pos := &Position{
		ID:               uuid.New().String()[:12],
		Token:            token,
		Creator:          v.Event.Creator,
		EntryPrice:       entryPrice,
		CurrentPrice:     entryPrice,
		HighestPrice:     entryPrice,
		CostETH:          policy.BuyAmountETH,
		SizeRemainingPct: hundred,
		LadderStepsHit:   make([]bool, len(policy.Ladder)),
		Status:           StatusOpen,
		OpenedAt:         time.Now(),
		BuyTx:            result.TxHash,
	}

	m.mu.Lock()
	m.positions[pos.ID] = pos
	m.openByToken[token] = pos.ID
	m.dailySpentETH = m.dailySpentETH.Add(policy.BuyAmountETH)
	cb := m.onOpen
	m.mu.Unlock()

	m.totalOpens.Add(1)

	log.Warn().
		Str("pos_id", pos.ID).
		Str("token", token.Hex()).
		Str("entry_price", pos.EntryPrice.String()).
		Str("tx", pos.BuyTx.Hex()).
		Msg("position: OPENED")

	if cb != nil {
		cb(pos)
	}
}

// Run drives the monitoring loop at the configured interval until ctx is
// cancelled. Ticks are sequential: a slow sell delays the next tick instead
// of racing it.
func (m *Manager) Run(ctx context.Context, policy strategy.Policy) error {
	if m.running.Load() {
		return fmt.Errorf("position manager already running")
	}
	m.running.Store(true)
	defer m.running.Store(false)

	log.Info().
		Dur("interval", m.config.MonitorInterval).
		Str("policy", policy.Name).
		Str("stop_loss_pct", policy.StopLossPct.String()).
		Dur("max_hold", policy.MaxHold).
		Int("ladder_steps", len(policy.Ladder)).
		Msg("position: monitor started")

	ticker := time.NewTicker(m.config.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("position: monitor stopped")
			return nil
		case <-ticker.C:
			m.MonitorTick(ctx, policy)
		}
	}
}

// MonitorTick re-evaluates every open position once. Exposed for tests.
func (m *Manager) MonitorTick(ctx context.Context, policy strategy.Policy) {
	m.mu.RLock()
	open := make([]*Position, 0, len(m.openByToken))
	for _, id := range m.openByToken {
		open = append(open, m.positions[id])
	}
	m.mu.RUnlock()

	for _, pos := range open {
		m.monitorPosition(ctx, pos, policy)
	}
}

// monitorPosition fetches the price and applies exit rules for one position.
// Several ladder steps crossed in the same tick apply in ascending order; a
// failed sell leaves state untouched for retry on the next tick.
func (m *Manager) monitorPosition(ctx context.Context, pos *Position, policy strategy.Policy) {
	price, err := m.client.TokenPrice(ctx, pos.Token)
	if err != nil {
		log.Warn().Err(err).Str("pos_id", pos.ID).Str("token", pos.Token.Hex()).
			Msg("position: price fetch failed, retrying next tick")
		return
	}

	m.mu.Lock()
	if pos.Status != StatusOpen {
		m.mu.Unlock()
		return
	}
	pos.CurrentPrice = price
	if price.GreaterThan(pos.HighestPrice) {
		pos.HighestPrice = price
	}
	pos.PnLPct = pos.profitPct()
	m.mu.Unlock()

	for {
		m.mu.Lock()
		decision := nextExit(pos, policy, time.Now())
		m.mu.Unlock()

		if !decision.ShouldSell {
			return
		}

		log.Warn().
			Str("pos_id", pos.ID).
			Str("token", pos.Token.Hex()).
			Str("reason", decision.Reason).
			Str("sell_pct", decision.SellPct.String()).
			Str("pnl_pct", pos.PnLPct.StringFixed(2)).
			Bool("full_close", decision.FullClose).
			Msg("position: EXECUTING SELL")

		result, err := m.executor.Sell(ctx, pos.Token, decision.SellPct)
		if err != nil {
			// Step not marked applied, size unchanged: retried next tick.
			m.failedSells.Add(1)
			log.Error().Err(err).
				Str("pos_id", pos.ID).
				Str("reason", decision.Reason).
				Msg("position: sell FAILED, will retry next tick")
			return
		}
		m.totalSells.Add(1)

		m.mu.Lock()
		applyDecision(pos, decision)
		pos.SellTxs = append(pos.SellTxs, result.TxHash)
		if decision.FullClose {
			m.closeLocked(pos, decision.Reason)
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()

		log.Warn().
			Str("pos_id", pos.ID).
			Str("remaining_pct", pos.SizeRemainingPct.StringFixed(2)).
			Str("reason", decision.Reason).
			Msg("position: partial sell completed")
	}
}

// closeLocked finalizes a position. Caller holds m.mu.
func (m *Manager) closeLocked(pos *Position, reason string) {
	now := time.Now()
	pos.Status = StatusClosed
	pos.ClosedAt = &now
	pos.CloseReason = reason
	pos.SizeRemainingPct = decimal.Zero
	delete(m.openByToken, pos.Token)

	if pos.PnLPct.IsNegative() {
		loss := pos.CostETH.Mul(pos.PnLPct.Neg()).Div(hundred)
		m.dailyLossETH = m.dailyLossETH.Add(loss)
		m.lossCount.Add(1)
	} else {
		m.winCount.Add(1)
	}

	cb := m.onClose
	if cb != nil {
		// Callback outside the critical section.
		go cb(pos)
	}

	log.Warn().
		Str("pos_id", pos.ID).
		Str("token", pos.Token.Hex()).
		Str("reason", reason).
		Str("pnl_pct", pos.PnLPct.StringFixed(2)).
		Msg("position: CLOSED")
}

// ForceClose sells out every open position.
func (m *Manager) ForceClose(ctx context.Context) {
	m.mu.RLock()
	open := make([]*Position, 0, len(m.openByToken))
	for _, id := range m.openByToken {
		open = append(open, m.positions[id])
	}
	m.mu.RUnlock()

	for _, pos := range open {
		result, err := m.executor.Sell(ctx, pos.Token, hundred)
		if err != nil {
			m.failedSells.Add(1)
			log.Error().Err(err).Str("pos_id", pos.ID).Msg("position: force close sell FAILED")
			continue
		}
		m.totalSells.Add(1)

		m.mu.Lock()
		if pos.Status == StatusOpen {
			pos.SellTxs = append(pos.SellTxs, result.TxHash)
			m.closeLocked(pos, ReasonForceClose)
		}
		m.mu.Unlock()
	}
}

// checkDailyLimitsLocked reports whether the daily budgets allow a new
// entry. Caller holds m.mu.
func (m *Manager) checkDailyLimitsLocked() bool {
	if time.Now().After(m.dailyResetTime.Add(24 * time.Hour)) {
		m.dailySpentETH = decimal.Zero
		m.dailyLossETH = decimal.Zero
		m.dailyResetTime = startOfDayUTC()
	}

	if m.config.MaxDailySpendETH > 0 &&
		m.dailySpentETH.GreaterThanOrEqual(decimal.NewFromFloat(m.config.MaxDailySpendETH)) {
		return false
	}
	if m.config.MaxDailyLossETH > 0 &&
		m.dailyLossETH.GreaterThanOrEqual(decimal.NewFromFloat(m.config.MaxDailyLossETH)) {
		return false
	}
	return true
}

// Positions returns all positions, open and closed.
func (m *Manager) Positions() []*Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	return out
}

// OpenPositions returns only open positions.
func (m *Manager) OpenPositions() []*Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Position, 0, len(m.openByToken))
	for _, id := range m.openByToken {
		out = append(out, m.positions[id])
	}
	return out
}

// Get returns a position by ID.
func (m *Manager) Get(id string) (*Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[id]
	return p, ok
}

// Stats returns position manager statistics.
type Stats struct {
	TotalOpens    int64  `json:"total_opens"`
	FailedOpens   int64  `json:"failed_opens"`
	TotalSells    int64  `json:"total_sells"`
	FailedSells   int64  `json:"failed_sells"`
	OpenPositions int    `json:"open_positions"`
	WinCount      int64  `json:"win_count"`
	LossCount     int64  `json:"loss_count"`
	DailySpentETH string `json:"daily_spent_eth"`
	DailyLossETH  string `json:"daily_loss_eth"`
}

func (m *Manager) Stats() Stats {
	m.mu.RLock()
	openCount := len(m.openByToken)
	spent := m.dailySpentETH.String()
	lost := m.dailyLossETH.String()
	m.mu.RUnlock()

	return Stats{
		TotalOpens:    m.totalOpens.Load(),
		FailedOpens:   m.failedOpens.Load(),
		TotalSells:    m.totalSells.Load(),
		FailedSells:   m.failedSells.Load(),
		OpenPositions: openCount,
		WinCount:      m.winCount.Load(),
		LossCount:     m.lossCount.Load(),
		DailySpentETH: spent,
		DailyLossETH:  lost,
	}
}

func startOfDayUTC() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}
