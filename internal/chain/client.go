package chain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Chain Client Interface
// ---------------------------------------------------------------------------

// Log is a decoded-enough view of an EVM log record. Only the fields the
// poller needs are carried; raw RPC payloads never leave this package.
type Log struct {
	Address     common.Address `json:"address"`
	Topics      []common.Hash  `json:"topics"`
	Data        []byte         `json:"data"`
	BlockNumber uint64         `json:"block_number"`
	TxHash      common.Hash    `json:"tx_hash"`
	Index       uint           `json:"index"`
}

// FilterQuery selects logs by contract address, block range and first topic.
type FilterQuery struct {
	Address   common.Address
	FromBlock uint64
	ToBlock   uint64
	Topic     common.Hash
}

// Client is the interface for Base-chain RPC interactions.
// Implementations: LiveClient (real endpoint via ethclient), StubClient (testing).
type Client interface {
	// BlockNumber returns the current chain head.
	BlockNumber(ctx context.Context) (uint64, error)

	// FilterLogs returns logs matching the query, in RPC order.
	FilterLogs(ctx context.Context, q FilterQuery) ([]Log, error)

	// TokenPrice returns the current spot price of a creator coin in ETH.
	TokenPrice(ctx context.Context, token common.Address) (decimal.Decimal, error)

	// Health returns the RPC endpoint health.
	Health(ctx context.Context) error
}

// Config configures the chain client.
type Config struct {
	Endpoint     string        `yaml:"endpoint"`       // e.g. https://mainnet.base.org
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RateLimitRPS float64       `yaml:"rate_limit_rps"` // requests per second limit
}

// DefaultConfig returns development defaults.
func DefaultConfig() Config {
	return Config{
		Endpoint:     "https://mainnet.base.org",
		Timeout:      10 * time.Second,
		MaxRetries:   3,
		RateLimitRPS: 10,
	}
}
