package rpcpool

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"

	clierr "github.com/ggonzalez94/swapdesk/internal/errors"
)

type fakeClient struct {
	Client
	block uint64
	err   error
	calls *atomic.Int32
	delay time.Duration
}

func (f *fakeClient) BlockNumber(ctx context.Context) (uint64, error) {
	if f.calls != nil {
		f.calls.Add(1)
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return f.block, f.err
}

func (f *fakeClient) Close() {}

func fakeDialer(clients map[string]*fakeClient) Dialer {
	return func(_ context.Context, rawURL string) (Client, error) {
		c, ok := clients[rawURL]
		if !ok {
			return nil, errors.New("dial refused")
		}
		return c, nil
	}
}

func blockNumber(ctx context.Context, c Client) (uint64, error) {
	return c.BlockNumber(ctx)
}

func TestDoFailsOverAndPromotes(t *testing.T) {
	pool, err := New([]string{"a", "b", "c"}, WithDialer(fakeDialer(map[string]*fakeClient{
		"a": {err: errors.New("connection refused")},
		"b": {block: 42},
		"c": {block: 41},
	})))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	got, err := Do(context.Background(), pool, "block number", blockNumber)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if got != 42 {
		t.Fatalf("expected block 42, got %d", got)
	}
	if pool.Current() != "b" {
		t.Fatalf("expected b promoted, got %s", pool.Current())
	}

	// The next call starts from the promoted endpoint.
	calls := &atomic.Int32{}
	pool2, _ := New([]string{"a", "b"}, WithDialer(fakeDialer(map[string]*fakeClient{
		"a": {err: errors.New("boom"), calls: calls},
		"b": {block: 7},
	})))
	_, _ = Do(context.Background(), pool2, "block number", blockNumber)
	_, _ = Do(context.Background(), pool2, "block number", blockNumber)
	if calls.Load() != 1 {
		t.Fatalf("expected sticky current endpoint, endpoint a called %d times", calls.Load())
	}
}

func TestDoExhausted(t *testing.T) {
	pool, _ := New([]string{"a", "b"}, WithDialer(fakeDialer(map[string]*fakeClient{
		"a": {err: errors.New("first")},
		"b": {err: errors.New("last failure")},
	})))
	_, err := Do(context.Background(), pool, "block number", blockNumber)
	if clierr.CodeOf(err) != clierr.CodeGatewayExhausted {
		t.Fatalf("expected gateway exhausted, got %v", err)
	}
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError in chain, got %T", err)
	}
	if exhausted.Attempts != 2 || !strings.Contains(exhausted.Last.Error(), "last failure") {
		t.Fatalf("unexpected exhausted details: %+v", exhausted)
	}
	if pool.Current() != "a" {
		t.Fatalf("expected current unchanged after exhaustion, got %s", pool.Current())
	}
}

func TestDoNotFoundDoesNotFailOver(t *testing.T) {
	calls := &atomic.Int32{}
	pool, _ := New([]string{"a", "b"}, WithDialer(fakeDialer(map[string]*fakeClient{
		"a": {err: ethereum.NotFound},
		"b": {block: 1, calls: calls},
	})))
	_, err := Do(context.Background(), pool, "receipt", blockNumber)
	if !errors.Is(err, ethereum.NotFound) {
		t.Fatalf("expected not found passthrough, got %v", err)
	}
	if calls.Load() != 0 {
		t.Fatal("expected no failover on deterministic answer")
	}
}

func TestDoAttemptTimeout(t *testing.T) {
	pool, _ := New([]string{"slow", "fast"},
		WithAttemptTimeout(20*time.Millisecond),
		WithDialer(fakeDialer(map[string]*fakeClient{
			"slow": {block: 1, delay: time.Second},
			"fast": {block: 2},
		})),
	)
	got, err := Do(context.Background(), pool, "block number", blockNumber)
	if err != nil || got != 2 {
		t.Fatalf("expected fast endpoint result, got %d err=%v", got, err)
	}
}

func TestDoAllEndpointsTimeOut(t *testing.T) {
	pool, _ := New([]string{"a", "b", "c"},
		WithAttemptTimeout(20*time.Millisecond),
		WithDialer(fakeDialer(map[string]*fakeClient{
			"a": {block: 1, delay: time.Second},
			"b": {block: 2, delay: time.Second},
			"c": {block: 3, delay: time.Second},
		})),
	)
	_, err := Do(context.Background(), pool, "token balance", blockNumber)
	if clierr.CodeOf(err) != clierr.CodeGatewayExhausted {
		t.Fatalf("expected a single gateway exhausted error, got %v", err)
	}
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) || exhausted.Attempts != 3 {
		t.Fatalf("expected 3 attempts in exhausted error, got %+v", exhausted)
	}
	if !strings.Contains(err.Error(), "all 3 rpc endpoints failed") {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if clierr.CategoryOf(err) != clierr.CategoryNetwork {
		t.Fatalf("expected network category, got %s", clierr.CategoryOf(err))
	}
}

func TestDoCodesDeterministicFailures(t *testing.T) {
	calls := &atomic.Int32{}
	pool, _ := New([]string{"a", "b"}, WithDialer(fakeDialer(map[string]*fakeClient{
		"a": {err: errors.New("execution reverted")},
		"b": {block: 1, calls: calls},
	})))
	_, err := Do(context.Background(), pool, "erc20 allowance", blockNumber)
	if clierr.CodeOf(err) != clierr.CodeActionSim {
		t.Fatalf("expected coded simulation failure, got %v", err)
	}
	if msg := clierr.UserMessage(err); strings.Contains(msg, "Something went wrong") {
		t.Fatalf("expected a taxonomy message, got %q", msg)
	}
	if calls.Load() != 0 {
		t.Fatal("expected no failover on a revert")
	}

	pool2, _ := New([]string{"a"}, WithDialer(fakeDialer(map[string]*fakeClient{
		"a": {err: errors.New("insufficient funds for gas * price + value")},
	})))
	if _, err := Do(context.Background(), pool2, "estimate gas", blockNumber); clierr.CodeOf(err) != clierr.CodeInsufficientFunds {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
}

func TestDoParentCancellation(t *testing.T) {
	pool, _ := New([]string{"a"}, WithDialer(fakeDialer(map[string]*fakeClient{"a": {block: 1}})))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Do(ctx, pool, "block number", blockNumber); err == nil || clierr.CodeOf(err) == clierr.CodeGatewayExhausted {
		t.Fatalf("expected cancellation error, got %v", err)
	}
}

func TestNewRequiresEndpoint(t *testing.T) {
	if _, err := New([]string{" ", ""}); err == nil {
		t.Fatal("expected error for empty endpoint list")
	}
}

func TestProbeAndRebalance(t *testing.T) {
	pool, _ := New([]string{"a", "b", "c"}, WithDialer(fakeDialer(map[string]*fakeClient{
		"a": {err: errors.New("down")},
		"b": {err: errors.New("down")},
		"c": {block: 9},
	})))
	results := pool.Probe(context.Background())
	if len(results) != 3 || results[0].Healthy || !results[2].Healthy || results[2].BlockNumber != 9 {
		t.Fatalf("unexpected probe results: %+v", results)
	}
	if !results[0].Current {
		t.Fatal("expected first endpoint reported as current")
	}
	pool.rebalance(results)
	if pool.Current() != "c" {
		t.Fatalf("expected healthy endpoint promoted, got %s", pool.Current())
	}
}

func TestWriterUsesCurrentEndpoint(t *testing.T) {
	pool, _ := New([]string{"a", "b"}, WithDialer(fakeDialer(map[string]*fakeClient{
		"a": {err: errors.New("down")},
		"b": {block: 3},
	})))
	_, _ = Do(context.Background(), pool, "block number", blockNumber)
	_, url, err := pool.Writer(context.Background())
	if err != nil || url != "b" {
		t.Fatalf("expected writer on promoted endpoint, got %s err=%v", url, err)
	}
}

func TestDoAgainstJSONRPCServers(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer down.Close()
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), "eth_blockNumber") {
			t.Errorf("unexpected rpc body: %s", body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"0x10"}`))
	}))
	defer up.Close()

	pool, err := New([]string{down.URL, up.URL})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer pool.Close()
	got, err := Do(context.Background(), pool, "block number", blockNumber)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if got != 16 || pool.Current() != up.URL {
		t.Fatalf("unexpected result %d current=%s", got, pool.Current())
	}
}
