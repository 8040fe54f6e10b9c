package poller

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mintwatch-trading/mintwatch/internal/chain"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Event Poller — block-range polling of the coin factory with freshness filter
// ---------------------------------------------------------------------------

// CoinCreatedTopic is the keccak256 signature of the factory's
// CoinCreated(address indexed creator, address indexed coin) event.
var CoinCreatedTopic = common.HexToHash(
	"0x2de436107c2096e039c98bbcc3c5a2560583738ce15c234557eecbc9a32a435e")

// Config configures the event poller.
type Config struct {
	// Factory contract emitting CoinCreated events.
	FactoryAddress common.Address `yaml:"factory_address"`

	// Events older than this many blocks at discovery time are dropped.
	// ~100 blocks is ~20 minutes at 2s block times.
	StaleBlockThreshold uint64 `yaml:"stale_block_threshold"`

	// Poll interval.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		StaleBlockThreshold: 100,
		PollInterval:        2 * time.Second,
	}
}

// CreationEvent is one decoded CoinCreated log. Immutable once observed.
type CreationEvent struct {
	Factory     common.Address `json:"factory"`
	Creator     common.Address `json:"creator"`
	Token       common.Address `json:"token"`
	BlockNumber uint64         `json:"block_number"`
	TxHash      common.Hash    `json:"tx_hash"`
	LogIndex    uint           `json:"log_index"`
}

// OnEvent is the callback type for new creation events.
type OnEvent func(ctx context.Context, event CreationEvent)

// Poller discovers new coin creations by polling block ranges. It owns the
// lastProcessed checkpoint; the checkpoint advances only after a successful
// fetch so a failed poll retries the same range.
type Poller struct {
	config  Config
	client  chain.Client
	onEvent OnEvent

	mu            sync.Mutex
	lastProcessed uint64
	started       bool

	running atomic.Bool

	// Stats.
	pollCount    atomic.Int64
	eventsSeen   atomic.Int64
	eventsStale  atomic.Int64
	eventsYield  atomic.Int64
	pollFailures atomic.Int64
}

// New creates an event poller.
func New(config Config, client chain.Client, onEvent OnEvent) *Poller {
	if config.StaleBlockThreshold == 0 {
		config.StaleBlockThreshold = 100
	}
	if config.PollInterval == 0 {
		config.PollInterval = 2 * time.Second
	}
	return &Poller{
		config:  config,
		client:  client,
		onEvent: onEvent,
	}
}

// Poll performs one polling pass and returns fresh events in ascending
// (block, log index) order. The first call initialises the checkpoint to the
// current head and yields nothing: history predating process start is
// intentionally ignored.
func (p *Poller) Poll(ctx context.Context) ([]CreationEvent, error) {
	p.pollCount.Add(1)

	head, err := p.client.BlockNumber(ctx)
	if err != nil {
		p.pollFailures.Add(1)
		return nil, fmt.Errorf("fetch chain head: %w", err)
	}

	p.mu.Lock()
	if !p.started {
		p.started = true
		p.lastProcessed = head
		p.mu.Unlock()
		log.Info().Uint64("head", head).Msg("poller: checkpoint initialised at chain head")
		return nil, nil
	}
	last := p.lastProcessed
	p.mu.Unlock()

	if head <= last {
		return nil, nil
	}

	logs, err := p.client.FilterLogs(ctx, chain.FilterQuery{
		Address:   p.config.FactoryAddress,
		FromBlock: last + 1,
		ToBlock:   head,
		Topic:     CoinCreatedTopic,
	})
	if err != nil {
		// Checkpoint untouched: the same range is retried next tick.
		p.pollFailures.Add(1)
		return nil, fmt.Errorf("fetch factory logs [%d, %d]: %w", last+1, head, err)
	}

	events := make([]CreationEvent, 0, len(logs))
	for _, l := range logs {
		p.eventsSeen.Add(1)

		event, err := decodeCoinCreated(l)
		if err != nil {
			log.Warn().Err(err).Uint64("block", l.BlockNumber).
				Str("tx", l.TxHash.Hex()).Msg("poller: malformed factory log discarded")
			continue
		}

		if head-event.BlockNumber > p.config.StaleBlockThreshold {
			p.eventsStale.Add(1)
			log.Debug().
				Uint64("block", event.BlockNumber).
				Uint64("head", head).
				Uint64("threshold", p.config.StaleBlockThreshold).
				Str("token", event.Token.Hex()).
				Msg("poller: stale event dropped")
			continue
		}

		events = append(events, event)
	}

	sort.Slice(events, func(i, j int) bool {
		if events[i].BlockNumber != events[j].BlockNumber {
			return events[i].BlockNumber < events[j].BlockNumber
		}
		return events[i].LogIndex < events[j].LogIndex
	})

	p.mu.Lock()
	p.lastProcessed = head
	p.mu.Unlock()

	p.eventsYield.Add(int64(len(events)))
	return events, nil
}

// decodeCoinCreated decodes a factory log into a CreationEvent.
// Topics: [signature, creator, coin].
func decodeCoinCreated(l chain.Log) (CreationEvent, error) {
	if len(l.Topics) < 3 {
		return CreationEvent{}, fmt.Errorf("expected 3 topics, got %d", len(l.Topics))
	}
	return CreationEvent{
		Factory:     l.Address,
		Creator:     common.BytesToAddress(l.Topics[1].Bytes()),
		Token:       common.BytesToAddress(l.Topics[2].Bytes()),
		BlockNumber: l.BlockNumber,
		TxHash:      l.TxHash,
		LogIndex:    l.Index,
	}, nil
}

// Run polls at the configured interval until ctx is cancelled, invoking the
// callback for each fresh event in order.
func (p *Poller) Run(ctx context.Context) error {
	if p.running.Load() {
		return fmt.Errorf("poller already running")
	}
	p.running.Store(true)
	defer p.running.Store(false)

	log.Info().
		Str("factory", p.config.FactoryAddress.Hex()).
		Uint64("stale_threshold", p.config.StaleBlockThreshold).
		Dur("interval", p.config.PollInterval).
		Msg("poller: starting factory monitor")

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("poller: stopped")
			return nil
		case <-ticker.C:
			events, err := p.Poll(ctx)
			if err != nil {
				log.Error().Err(err).Msg("poller: poll failed, retrying same range next tick")
				continue
			}
			for _, event := range events {
				log.Info().
					Str("token", event.Token.Hex()).
					Str("creator", event.Creator.Hex()).
					Uint64("block", event.BlockNumber).
					Str("tx", event.TxHash.Hex()).
					Msg("poller: NEW COIN DISCOVERED")
				if p.onEvent != nil {
					p.onEvent(ctx, event)
				}
			}
		}
	}
}

// LastProcessed returns the current checkpoint.
func (p *Poller) LastProcessed() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastProcessed
}

// Stats returns poller statistics.
type Stats struct {
	Polls        int64 `json:"polls"`
	PollFailures int64 `json:"poll_failures"`
	EventsSeen   int64 `json:"events_seen"`
	EventsStale  int64 `json:"events_stale"`
	EventsYield  int64 `json:"events_yielded"`
}

func (p *Poller) Stats() Stats {
	return Stats{
		Polls:        p.pollCount.Load(),
		PollFailures: p.pollFailures.Load(),
		EventsSeen:   p.eventsSeen.Load(),
		EventsStale:  p.eventsStale.Load(),
		EventsYield:  p.eventsYield.Load(),
	}
}
