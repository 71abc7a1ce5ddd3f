package octra

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aman-churiwal/octra-faucet/internal/circuitbreaker"
	"github.com/aman-churiwal/octra-faucet/internal/metrics"
	"github.com/aman-churiwal/octra-faucet/internal/transaction"
	"github.com/aman-churiwal/octra-faucet/internal/upstream"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Client talks to Octra node RPC on behalf of the faucet wallet.
type Client struct {
	treasury      string
	pool          *upstream.Pool
	breaker       *circuitbreaker.CircuitBreaker
	http          *resty.Client
	readTimeout   time.Duration
	submitTimeout time.Duration
	logger        *zap.Logger
}

type ClientConfig struct {
	Treasury      string
	ReadTimeout   time.Duration // default 10s
	SubmitTimeout time.Duration // default 30s
}

func NewClient(cfg ClientConfig, pool *upstream.Pool, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *Client {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 30 * time.Second
	}

	return &Client{
		treasury:      cfg.Treasury,
		pool:          pool,
		breaker:       breaker,
		http:          resty.New().SetHeader("Accept", "application/json"),
		readTimeout:   cfg.ReadTimeout,
		submitTimeout: cfg.SubmitTimeout,
		logger:        logger.With(zap.String("component", "octra-rpc")),
	}
}

// FetchAddressInfo reads balance and nonce of the faucet wallet in one call.
func (c *Client) FetchAddressInfo(ctx context.Context) (AddressInfo, error) {
	return c.GetAddress(ctx, c.treasury)
}

func (c *Client) FetchBalance(ctx context.Context) (decimal.Decimal, error) {
	info, err := c.FetchAddressInfo(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return info.Balance, nil
}

func (c *Client) FetchNonce(ctx context.Context) (uint64, error) {
	info, err := c.FetchAddressInfo(ctx)
	if err != nil {
		return 0, err
	}
	return info.Nonce, nil
}

// GetAddress reads GET /address/:addr from the next healthy node.
func (c *Client) GetAddress(ctx context.Context, address string) (AddressInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.readTimeout)
	defer cancel()

	var (
		body   []byte
		status int
	)
	node := c.pool.Next()
	start := time.Now()

	err := c.call(node, func() error {
		resp, err := c.http.R().
			SetContext(ctx).
			Get(fmt.Sprintf("%s/address/%s", node, address))
		if err != nil {
			return err
		}
		status = resp.StatusCode()
		body = resp.Body()
		if status >= http.StatusInternalServerError {
			return fmt.Errorf("node returned HTTP %d", status)
		}
		return nil
	})
	metrics.ObserveRPC("address", err, time.Since(start))

	if err != nil {
		c.logger.Error("address lookup failed",
			zap.String("node", node),
			zap.String("address", address),
			zap.Error(err))
		return AddressInfo{Address: address, Balance: decimal.Zero}, wrapUnavailable(err)
	}
	if status != http.StatusOK {
		c.logger.Error("address lookup rejected",
			zap.String("node", node),
			zap.String("address", address),
			zap.Int("status", status),
			zap.ByteString("body", body))
		return AddressInfo{Address: address, Balance: decimal.Zero},
			fmt.Errorf("%w: node returned HTTP %d", ErrNodeUnavailable, status)
	}

	info, err := ParseAddressInfo(address, body)
	if err != nil {
		c.logger.Error("address response unparseable",
			zap.String("node", node),
			zap.ByteString("body", body),
			zap.Error(err))
		return info, err
	}

	return info, nil
}

// Submit posts a signed transaction to /send-tx. A node-side rejection is
// reported in SubmitResult; only transport failures return an error.
func (c *Client) Submit(ctx context.Context, tx *transaction.Transaction) (SubmitResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.submitTimeout)
	defer cancel()

	var result SubmitResult
	node := c.pool.Next()
	start := time.Now()

	err := c.call(node, func() error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(tx).
			Post(node + "/send-tx")
		if err != nil {
			return err
		}
		result = ParseSubmitResponse(resp.StatusCode(), resp.Body())
		if resp.StatusCode() >= http.StatusInternalServerError {
			return fmt.Errorf("node returned HTTP %d", resp.StatusCode())
		}
		return nil
	})
	metrics.ObserveRPC("send_tx", err, time.Since(start))

	if err != nil {
		if result.Error != "" {
			// 5xx with a body: the node answered, surface what it said.
			c.logger.Error("transaction submit failed",
				zap.String("node", node),
				zap.Uint64("nonce", tx.Nonce),
				zap.String("detail", result.Error),
				zap.Error(err))
			return result, nil
		}
		c.logger.Error("transaction submit failed",
			zap.String("node", node),
			zap.Uint64("nonce", tx.Nonce),
			zap.Error(err))
		return SubmitResult{}, wrapUnavailable(err)
	}

	if result.Fallback {
		c.logger.Warn("send-tx response not recognised, using raw body as hash",
			zap.String("node", node),
			zap.String("hash", result.Hash))
	}
	if !result.Success {
		c.logger.Warn("transaction rejected by node",
			zap.String("node", node),
			zap.Uint64("nonce", tx.Nonce),
			zap.String("error", result.Error))
	}

	return result, nil
}

func (c *Client) call(node string, fn func() error) error {
	err := c.breaker.Execute(fn)
	switch {
	case err == nil:
		c.pool.RecordSuccess(node)
	case errors.Is(err, circuitbreaker.ErrCircuitOpen), errors.Is(err, context.Canceled):
	default:
		c.pool.RecordFailure(node)
	}
	return err
}

func wrapUnavailable(err error) error {
	if errors.Is(err, ErrNodeUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrNodeUnavailable, err)
}
