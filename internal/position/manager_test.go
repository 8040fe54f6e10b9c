package position

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mintwatch-trading/mintwatch/internal/chain"
	"github.com/mintwatch-trading/mintwatch/internal/poller"
	"github.com/mintwatch-trading/mintwatch/internal/qualify"
	"github.com/mintwatch-trading/mintwatch/internal/strategy"
	"github.com/mintwatch-trading/mintwatch/internal/trade"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCreator = common.HexToAddress("0x1111111111111111111111111111111111111111")

func tok(n byte) common.Address {
	return common.BytesToAddress([]byte{n})
}

func verdictFor(token common.Address, policy strategy.Policy) qualify.Verdict {
	return qualify.Verdict{
		Event:     poller.CreationEvent{Token: token, Creator: testCreator, BlockNumber: 100},
		Qualifies: true,
		Policy:    policy,
	}
}

func newTestManager(cfg Config) (*Manager, *chain.StubClient, *trade.StubExecutor) {
	client := chain.NewStubClient()
	executor := trade.NewStubExecutor()
	return NewManager(cfg, executor, client), client, executor
}

func TestManager_OpensPositionOnQualifyingVerdict(t *testing.T) {
	m, client, executor := newTestManager(DefaultConfig())
	policy := ladderPolicy()
	token := tok(1)
	client.SetPrice(token, decimal.NewFromInt(100))

	m.HandleVerdict(context.Background(), verdictFor(token, policy))

	open := m.OpenPositions()
	require.Len(t, open, 1)
	pos := open[0]
	assert.Equal(t, token, pos.Token)
	assert.Equal(t, StatusOpen, pos.Status)
	assert.True(t, pos.EntryPrice.Equal(decimal.NewFromInt(100)))
	assert.True(t, pos.SizeRemainingPct.Equal(hundred))
	assert.Len(t, pos.LadderStepsHit, len(policy.Ladder))
	assert.True(t, m.HasOpenPosition(token))

	buys := executor.Buys()
	require.Len(t, buys, 1)
	assert.True(t, buys[0].Amount.Equal(policy.BuyAmountETH))
}

func TestManager_NonQualifyingVerdictIgnored(t *testing.T) {
	m, _, executor := newTestManager(DefaultConfig())
	v := verdictFor(tok(1), ladderPolicy())
	v.Qualifies = false

	m.HandleVerdict(context.Background(), v)

	assert.Empty(t, m.OpenPositions())
	assert.Empty(t, executor.Buys())
}

func TestManager_BuyFailureAbortsOpen(t *testing.T) {
	// A failed buy leaves no position behind and is not retried.
	m, client, executor := newTestManager(DefaultConfig())
	token := tok(1)
	client.SetPrice(token, decimal.NewFromInt(100))
	executor.FailNextBuy()

	m.HandleVerdict(context.Background(), verdictFor(token, ladderPolicy()))

	assert.Empty(t, m.OpenPositions())
	assert.False(t, m.HasOpenPosition(token))
	assert.Equal(t, int64(1), m.Stats().FailedOpens)
}

func TestManager_PriceFailureAbortsOpen(t *testing.T) {
	m, _, executor := newTestManager(DefaultConfig())
	// No price registered for the token: fetch fails.
	m.HandleVerdict(context.Background(), verdictFor(tok(1), ladderPolicy()))

	assert.Empty(t, m.OpenPositions())
	assert.Empty(t, executor.Buys())
	assert.Equal(t, int64(1), m.Stats().FailedOpens)
}

func TestManager_AtMostOneOpenPositionPerToken(t *testing.T) {
	m, client, executor := newTestManager(DefaultConfig())
	token := tok(1)
	client.SetPrice(token, decimal.NewFromInt(100))

	m.HandleVerdict(context.Background(), verdictFor(token, ladderPolicy()))
	m.HandleVerdict(context.Background(), verdictFor(token, ladderPolicy()))

	assert.Len(t, m.OpenPositions(), 1)
	assert.Len(t, executor.Buys(), 1)
}

func TestManager_MaxPositionsEnforced(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPositions = 2
	m, client, _ := newTestManager(cfg)

	for i := byte(1); i <= 3; i++ {
		client.SetPrice(tok(i), decimal.NewFromInt(100))
		m.HandleVerdict(context.Background(), verdictFor(tok(i), ladderPolicy()))
	}

	assert.Len(t, m.OpenPositions(), 2)
}

func TestManager_DailySpendBudgetBlocksEntries(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDailySpendETH = 0.02
	m, client, _ := newTestManager(cfg)
	policy := ladderPolicy() // 0.01 ETH per buy

	for i := byte(1); i <= 3; i++ {
		client.SetPrice(tok(i), decimal.NewFromInt(100))
		m.HandleVerdict(context.Background(), verdictFor(tok(i), policy))
	}

	assert.Len(t, m.OpenPositions(), 2, "third entry exceeds the daily spend budget")
}

func TestManager_PausedSkipsEntries(t *testing.T) {
	m, client, _ := newTestManager(DefaultConfig())
	token := tok(1)
	client.SetPrice(token, decimal.NewFromInt(100))

	m.SetPaused(true)
	m.HandleVerdict(context.Background(), verdictFor(token, ladderPolicy()))
	assert.Empty(t, m.OpenPositions())

	m.SetPaused(false)
	m.HandleVerdict(context.Background(), verdictFor(token, ladderPolicy()))
	assert.Len(t, m.OpenPositions(), 1)
}

func TestManager_PartialSellOnLadderStep(t *testing.T) {
	m, client, executor := newTestManager(DefaultConfig())
	policy := ladderPolicy()
	token := tok(1)
	client.SetPrice(token, decimal.NewFromInt(100))
	m.HandleVerdict(context.Background(), verdictFor(token, policy))

	client.SetPrice(token, decimal.NewFromInt(151)) // +51%, first rung only
	m.MonitorTick(context.Background(), policy)

	pos := m.OpenPositions()[0]
	assert.Equal(t, StatusOpen, pos.Status)
	assert.True(t, pos.SizeRemainingPct.Equal(decimal.NewFromInt(50)))
	assert.True(t, pos.LadderStepsHit[0])
	assert.False(t, pos.LadderStepsHit[1])

	sells := executor.Sells()
	require.Len(t, sells, 1)
	assert.True(t, sells[0].Amount.Equal(decimal.NewFromInt(50)))

	// Same price next tick: no further action.
	m.MonitorTick(context.Background(), policy)
	assert.Len(t, executor.Sells(), 1)
}

func TestManager_MultipleStepsInOneTick(t *testing.T) {
	// A jump past two rungs peels both in ascending order within one tick.
	m, client, executor := newTestManager(DefaultConfig())
	policy := ladderPolicy()
	token := tok(1)
	client.SetPrice(token, decimal.NewFromInt(100))
	m.HandleVerdict(context.Background(), verdictFor(token, policy))

	client.SetPrice(token, decimal.NewFromInt(250)) // +150%
	m.MonitorTick(context.Background(), policy)

	sells := executor.Sells()
	require.Len(t, sells, 2)
	assert.True(t, sells[0].Amount.Equal(decimal.NewFromInt(50)))
	assert.True(t, sells[1].Amount.Equal(decimal.NewFromInt(50)))

	pos := m.OpenPositions()[0]
	assert.True(t, pos.SizeRemainingPct.Equal(decimal.NewFromInt(25)))
	assert.True(t, pos.LadderStepsHit[0])
	assert.True(t, pos.LadderStepsHit[1])
}

func TestManager_StopLossClosesPosition(t *testing.T) {
	m, client, executor := newTestManager(DefaultConfig())
	policy := ladderPolicy()
	token := tok(1)
	client.SetPrice(token, decimal.NewFromInt(100))
	m.HandleVerdict(context.Background(), verdictFor(token, policy))

	client.SetPrice(token, decimal.NewFromInt(79)) // -21%
	m.MonitorTick(context.Background(), policy)

	assert.Empty(t, m.OpenPositions())
	assert.False(t, m.HasOpenPosition(token))

	pos := m.Positions()[0]
	assert.Equal(t, StatusClosed, pos.Status)
	assert.Equal(t, ReasonStopLoss, pos.CloseReason)
	assert.True(t, pos.SizeRemainingPct.IsZero())
	require.NotNil(t, pos.ClosedAt)

	sells := executor.Sells()
	require.Len(t, sells, 1)
	assert.True(t, sells[0].Amount.Equal(hundred))

	assert.Equal(t, int64(1), m.Stats().LossCount)
}

func TestManager_TimeLimitClosesPosition(t *testing.T) {
	m, client, _ := newTestManager(DefaultConfig())
	policy := ladderPolicy()
	token := tok(1)
	client.SetPrice(token, decimal.NewFromInt(100))
	m.HandleVerdict(context.Background(), verdictFor(token, policy))

	pos := m.OpenPositions()[0]
	pos.OpenedAt = time.Now().Add(-2 * time.Hour)

	m.MonitorTick(context.Background(), policy)

	assert.Empty(t, m.OpenPositions())
	assert.Equal(t, ReasonTimeLimit, pos.CloseReason)
}

func TestManager_FailedSellRetriesNextTick(t *testing.T) {
	// The rung is only marked applied after a successful sell; a failure
	// leaves the position untouched so the next tick retries it.
	m, client, executor := newTestManager(DefaultConfig())
	policy := ladderPolicy()
	token := tok(1)
	client.SetPrice(token, decimal.NewFromInt(100))
	m.HandleVerdict(context.Background(), verdictFor(token, policy))

	client.SetPrice(token, decimal.NewFromInt(151))
	executor.FailNextSell()
	m.MonitorTick(context.Background(), policy)

	pos := m.OpenPositions()[0]
	assert.Equal(t, StatusOpen, pos.Status)
	assert.True(t, pos.SizeRemainingPct.Equal(hundred))
	assert.False(t, pos.LadderStepsHit[0])
	assert.Equal(t, int64(1), m.Stats().FailedSells)

	m.MonitorTick(context.Background(), policy)
	assert.True(t, pos.LadderStepsHit[0])
	assert.True(t, pos.SizeRemainingPct.Equal(decimal.NewFromInt(50)))
	require.Len(t, executor.Sells(), 1)
}

func TestManager_FailedFullCloseStaysOpen(t *testing.T) {
	m, client, executor := newTestManager(DefaultConfig())
	policy := ladderPolicy()
	token := tok(1)
	client.SetPrice(token, decimal.NewFromInt(100))
	m.HandleVerdict(context.Background(), verdictFor(token, policy))

	client.SetPrice(token, decimal.NewFromInt(79))
	executor.SetFailAllSells(true)
	m.MonitorTick(context.Background(), policy)

	require.Len(t, m.OpenPositions(), 1)
	assert.Equal(t, StatusOpen, m.OpenPositions()[0].Status)

	executor.SetFailAllSells(false)
	m.MonitorTick(context.Background(), policy)
	assert.Empty(t, m.OpenPositions())
}

func TestManager_PriceFetchFailureSkipsTick(t *testing.T) {
	m, client, executor := newTestManager(DefaultConfig())
	policy := ladderPolicy()
	token := tok(1)
	client.SetPrice(token, decimal.NewFromInt(100))
	m.HandleVerdict(context.Background(), verdictFor(token, policy))

	client.SetFailNext()
	m.MonitorTick(context.Background(), policy)

	require.Len(t, m.OpenPositions(), 1)
	assert.Empty(t, executor.Sells())
}

func TestManager_ForceCloseSellsEverything(t *testing.T) {
	m, client, executor := newTestManager(DefaultConfig())
	policy := ladderPolicy()
	for i := byte(1); i <= 2; i++ {
		client.SetPrice(tok(i), decimal.NewFromInt(100))
		m.HandleVerdict(context.Background(), verdictFor(tok(i), policy))
	}
	require.Len(t, m.OpenPositions(), 2)

	m.ForceClose(context.Background())

	assert.Empty(t, m.OpenPositions())
	for _, pos := range m.Positions() {
		assert.Equal(t, StatusClosed, pos.Status)
		assert.Equal(t, ReasonForceClose, pos.CloseReason)
	}
	assert.Len(t, executor.Sells(), 2)
}

func TestManager_OnOpenCallback(t *testing.T) {
	m, client, _ := newTestManager(DefaultConfig())
	token := tok(1)
	client.SetPrice(token, decimal.NewFromInt(100))

	var opened []string
	m.SetOnOpen(func(pos *Position) { opened = append(opened, pos.ID) })

	m.HandleVerdict(context.Background(), verdictFor(token, ladderPolicy()))
	require.Len(t, opened, 1)

	pos, ok := m.Get(opened[0])
	require.True(t, ok)
	assert.Equal(t, token, pos.Token)
}

func TestManager_Stats(t *testing.T) {
	m, client, _ := newTestManager(DefaultConfig())
	policy := ladderPolicy()
	token := tok(1)
	client.SetPrice(token, decimal.NewFromInt(100))
	m.HandleVerdict(context.Background(), verdictFor(token, policy))

	client.SetPrice(token, decimal.NewFromInt(300)) // all rungs
	m.MonitorTick(context.Background(), policy)

	s := m.Stats()
	assert.Equal(t, int64(1), s.TotalOpens)
	assert.Equal(t, int64(3), s.TotalSells)
	assert.Equal(t, 0, s.OpenPositions)
	assert.Equal(t, int64(1), s.WinCount)
	assert.Equal(t, "0.01", s.DailySpentETH)
}
