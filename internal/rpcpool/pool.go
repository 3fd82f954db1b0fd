// Package rpcpool keeps a ranked list of JSON-RPC endpoints for one chain and
// fails reads over between them. Broadcasts never fail over: they go to the
// single endpoint returned by Writer.
package rpcpool

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	clierr "github.com/ggonzalez94/swapdesk/internal/errors"
	"github.com/ggonzalez94/swapdesk/internal/metrics"
)

const DefaultAttemptTimeout = 4 * time.Second

// Client is the subset of ethclient.Client the service uses.
type Client interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

type Dialer func(ctx context.Context, rawURL string) (Client, error)

func dialEthclient(ctx context.Context, rawURL string) (Client, error) {
	c, err := ethclient.DialContext(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return c, nil
}

type endpoint struct {
	url  string
	rank int

	mu     sync.Mutex
	client Client
}

type Pool struct {
	endpoints []*endpoint
	current   atomic.Int32
	timeout   time.Duration
	dial      Dialer
	logger    *zap.Logger
}

type Option func(*Pool)

func WithAttemptTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func WithDialer(d Dialer) Option {
	return func(p *Pool) {
		if d != nil {
			p.dial = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// New builds a pool; rank follows the order of urls.
func New(urls []string, opts ...Option) (*Pool, error) {
	p := &Pool{
		timeout: DefaultAttemptTimeout,
		dial:    dialEthclient,
		logger:  zap.NewNop(),
	}
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		p.endpoints = append(p.endpoints, &endpoint{url: u, rank: len(p.endpoints)})
	}
	if len(p.endpoints) == 0 {
		return nil, clierr.New(clierr.CodeUsage, "at least one rpc endpoint is required")
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// ExhaustedError reports that every endpoint failed for one logical call.
type ExhaustedError struct {
	Op       string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: all %d rpc endpoints failed: %v", e.Op, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Do runs fn against each endpoint, starting at the current one and wrapping
// around, until one succeeds. The succeeding endpoint becomes current.
// Deterministic node answers (reverts, missing receipts) return immediately
// since another endpoint would say the same.
func Do[T any](ctx context.Context, p *Pool, op string, fn func(context.Context, Client) (T, error)) (T, error) {
	var zero T
	start := int(p.current.Load())
	n := len(p.endpoints)
	var lastErr error
	attempts := 0
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return zero, clierr.Wrap(clierr.CodeUnavailable, op+" cancelled", err)
		}
		idx := (start + i) % n
		ep := p.endpoints[idx]
		attempts++

		out, err := attempt(ctx, p, ep, fn)
		if err == nil {
			metrics.RPCCalls.WithLabelValues(ep.host(), "ok").Inc()
			if idx != start {
				p.promote(idx, start)
			}
			return out, nil
		}
		if ctx.Err() != nil {
			return zero, clierr.Wrap(clierr.CodeUnavailable, op+" cancelled", ctx.Err())
		}
		if !Retryable(err) {
			metrics.RPCCalls.WithLabelValues(ep.host(), "final").Inc()
			return zero, finalError(op, err)
		}
		metrics.RPCCalls.WithLabelValues(ep.host(), "error").Inc()
		p.logger.Debug("rpc attempt failed",
			zap.String("op", op),
			zap.String("endpoint", ep.url),
			zap.Error(err),
		)
		lastErr = err
	}
	metrics.RPCExhausted.Inc()
	p.logger.Warn("rpc endpoints exhausted", zap.String("op", op), zap.Int("attempts", attempts), zap.Error(lastErr))
	return zero, clierr.Wrap(clierr.CodeGatewayExhausted, "all rpc endpoints failed",
		&ExhaustedError{Op: op, Attempts: attempts, Last: lastErr})
}

// finalError gives a deterministic node answer an error code. NotFound stays
// bare so callers can keep polling on it.
func finalError(op string, err error) error {
	if errors.Is(err, ethereum.NotFound) {
		return err
	}
	if _, ok := clierr.As(err); ok {
		return err
	}
	if strings.Contains(strings.ToLower(err.Error()), "insufficient funds") {
		return clierr.Wrap(clierr.CodeInsufficientFunds, op, err)
	}
	return clierr.Wrap(clierr.CodeActionSim, op, err)
}

// Call is Do for operations without a result.
func (p *Pool) Call(ctx context.Context, op string, fn func(context.Context, Client) error) error {
	_, err := Do(ctx, p, op, func(ctx context.Context, c Client) (struct{}, error) {
		return struct{}{}, fn(ctx, c)
	})
	return err
}

func attempt[T any](ctx context.Context, p *Pool, ep *endpoint, fn func(context.Context, Client) (T, error)) (T, error) {
	var zero T
	attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	c, err := ep.get(attemptCtx, p.dial)
	if err != nil {
		return zero, fmt.Errorf("dial %s: %w", ep.url, err)
	}
	out, err := fn(attemptCtx, c)
	if err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		ep.drop(c)
		return zero, fmt.Errorf("%s timed out after %s: %w", ep.url, p.timeout, err)
	}
	return out, err
}

// Writer returns the current endpoint for broadcasting. Callers must not retry
// a broadcast elsewhere: a second endpoint may accept a duplicate.
func (p *Pool) Writer(ctx context.Context) (Client, string, error) {
	ep := p.endpoints[p.current.Load()]
	c, err := ep.get(ctx, p.dial)
	if err != nil {
		return nil, ep.url, clierr.Wrap(clierr.CodeUnavailable, "connect write endpoint", err)
	}
	return c, ep.url, nil
}

func (p *Pool) Current() string {
	return p.endpoints[p.current.Load()].url
}

func (p *Pool) URLs() []string {
	out := make([]string, len(p.endpoints))
	for i, ep := range p.endpoints {
		out[i] = ep.url
	}
	return out
}

// promote moves the current pointer from old to idx. A concurrent promotion
// that already moved it wins.
func (p *Pool) promote(idx, old int) {
	if p.current.CompareAndSwap(int32(old), int32(idx)) {
		p.logger.Info("rpc endpoint promoted",
			zap.String("from", p.endpoints[old].url),
			zap.String("to", p.endpoints[idx].url),
		)
	}
}

func (p *Pool) Close() {
	for _, ep := range p.endpoints {
		ep.mu.Lock()
		if ep.client != nil {
			ep.client.Close()
			ep.client = nil
		}
		ep.mu.Unlock()
	}
}

func (ep *endpoint) get(ctx context.Context, dial Dialer) (Client, error) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	if ep.client != nil {
		return ep.client, nil
	}
	c, err := dial(ctx, ep.url)
	if err != nil {
		return nil, err
	}
	ep.client = c
	return c, nil
}

// drop forgets a cached client so the next attempt redials.
func (ep *endpoint) drop(c Client) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	if ep.client == c && c != nil {
		c.Close()
		ep.client = nil
	}
}

func (ep *endpoint) host() string {
	if u, err := url.Parse(ep.url); err == nil && u.Host != "" {
		return u.Host
	}
	return ep.url
}

// Retryable reports whether err justifies trying another endpoint.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ethereum.NotFound) {
		return false
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case 3:
			return false
		case -32005, -32603, -32000:
			return !deterministicMessage(rpcErr.Error())
		}
	}
	return !deterministicMessage(err.Error())
}

func deterministicMessage(msg string) bool {
	msg = strings.ToLower(msg)
	for _, marker := range []string{"execution reverted", "insufficient funds", "nonce too low", "already known", "replacement transaction underpriced", "intrinsic gas too low"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
