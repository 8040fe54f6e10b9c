package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// ---------------------------------------------------------------------------
// Live Client — real Base JSON-RPC via ethclient with rate limiting & retry
// ---------------------------------------------------------------------------

// priceSelector is the 4-byte selector of the factory quoter's
// getCoinPrice(address) view returning the spot price in wei-per-coin.
var priceSelector = crypto.Keccak256([]byte("getCoinPrice(address)"))[:4]

// weiPerETH scales uint256 wei results to ETH.
var weiPerETH = decimal.New(1, 18)

// LiveClient connects to a real Base RPC endpoint.
type LiveClient struct {
	config  Config
	eth     *ethclient.Client
	limiter *rate.Limiter
	quoter  common.Address

	// Stats.
	requestCount atomic.Int64
	errorCount   atomic.Int64
}

// NewLiveClient dials the configured endpoint. quoter is the on-chain price
// quoter contract used by TokenPrice.
func NewLiveClient(config Config, quoter common.Address) (*LiveClient, error) {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.RateLimitRPS == 0 {
		config.RateLimitRPS = 10
	}

	eth, err := ethclient.Dial(config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial rpc endpoint: %w", err)
	}

	return &LiveClient{
		config:  config,
		eth:     eth,
		limiter: rate.NewLimiter(rate.Limit(config.RateLimitRPS), int(config.RateLimitRPS)+1),
		quoter:  quoter,
	}, nil
}

// Close shuts down the underlying connection.
func (c *LiveClient) Close() {
	c.eth.Close()
}

// call runs fn with rate limiting, per-attempt timeout and retry.
func (c *LiveClient) call(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		c.requestCount.Add(1)

		attemptCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
		err := fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}

		lastErr = err
		c.errorCount.Add(1)
		log.Debug().Err(err).Str("method", name).Int("attempt", attempt+1).
			Msg("chain: rpc call failed")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 250 * time.Millisecond):
		}
	}
	return fmt.Errorf("%s after %d attempts: %w", name, c.config.MaxRetries+1, lastErr)
}

func (c *LiveClient) BlockNumber(ctx context.Context) (uint64, error) {
	var head uint64
	err := c.call(ctx, "eth_blockNumber", func(ctx context.Context) error {
		n, err := c.eth.BlockNumber(ctx)
		if err != nil {
			return err
		}
		head = n
		return nil
	})
	return head, err
}

func (c *LiveClient) FilterLogs(ctx context.Context, q FilterQuery) ([]Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(q.FromBlock),
		ToBlock:   new(big.Int).SetUint64(q.ToBlock),
		Addresses: []common.Address{q.Address},
		Topics:    [][]common.Hash{{q.Topic}},
	}

	var out []Log
	err := c.call(ctx, "eth_getLogs", func(ctx context.Context) error {
		raw, err := c.eth.FilterLogs(ctx, query)
		if err != nil {
			return err
		}
		out = out[:0]
		for _, l := range raw {
			out = append(out, Log{
				Address:     l.Address,
				Topics:      l.Topics,
				Data:        l.Data,
				BlockNumber: l.BlockNumber,
				TxHash:      l.TxHash,
				Index:       l.Index,
			})
		}
		return nil
	})
	return out, err
}

func (c *LiveClient) TokenPrice(ctx context.Context, token common.Address) (decimal.Decimal, error) {
	data := make([]byte, 0, 36)
	data = append(data, priceSelector...)
	data = append(data, common.LeftPadBytes(token.Bytes(), 32)...)

	msg := ethereum.CallMsg{To: &c.quoter, Data: data}

	var price decimal.Decimal
	err := c.call(ctx, "eth_call", func(ctx context.Context) error {
		res, err := c.eth.CallContract(ctx, msg, nil)
		if err != nil {
			return err
		}
		if len(res) < 32 {
			return fmt.Errorf("quoter returned %d bytes, want 32", len(res))
		}
		wei := new(big.Int).SetBytes(res[:32])
		price = decimal.NewFromBigInt(wei, 0).Div(weiPerETH)
		return nil
	})
	return price, err
}

func (c *LiveClient) Health(ctx context.Context) error {
	_, err := c.BlockNumber(ctx)
	return err
}

// Stats returns request counters for the stats endpoint.
type ClientStats struct {
	Requests int64 `json:"requests"`
	Errors   int64 `json:"errors"`
}

func (c *LiveClient) Stats() ClientStats {
	return ClientStats{
		Requests: c.requestCount.Load(),
		Errors:   c.errorCount.Load(),
	}
}
