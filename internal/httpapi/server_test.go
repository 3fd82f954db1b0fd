package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ggonzalez94/swapdesk/internal/aggregator"
	clierr "github.com/ggonzalez94/swapdesk/internal/errors"
	"github.com/ggonzalez94/swapdesk/internal/model"
	"github.com/ggonzalez94/swapdesk/internal/trade"
)

const secret = "test-secret"

type stubTrader struct {
	quoteErr   error
	executeRes model.SwapResult
	executeErr error
	lastUser   string
	slippage   int64
	gasBoost   int64
}

func (s *stubTrader) Quote(_ context.Context, side, token, amount string, slippageBps int64) (trade.Preview, error) {
	if s.quoteErr != nil {
		return trade.Preview{}, s.quoteErr
	}
	return trade.Preview{Quote: model.SwapQuote{Provider: "0x", Side: side, BuyToken: model.TokenInfo{Symbol: token}, SellAmount: model.AmountInfo{AmountDecimal: amount}, SlippageBps: slippageBps}}, nil
}

func (s *stubTrader) Execute(_ context.Context, _, userID, _, _ string, _, _ int64) (model.SwapResult, error) {
	s.lastUser = userID
	return s.executeRes, s.executeErr
}

func (s *stubTrader) Withdraw(_ context.Context, userID, amount, _, destination string) (model.WithdrawResult, error) {
	s.lastUser = userID
	return model.WithdrawResult{Status: model.TradeStatusCompleted, TxHash: "0xw", Destination: destination, Amount: model.AmountInfo{AmountDecimal: amount}}, nil
}

func (s *stubTrader) CreateWallet(_ context.Context, userID string) (model.WalletView, error) {
	return model.WalletView{UserID: userID, Address: "0xabc"}, nil
}

func (s *stubTrader) ImportKey(_ context.Context, userID, key string) (model.WalletView, error) {
	if key == "" {
		return model.WalletView{}, clierr.New(clierr.CodeUsage, "Invalid private key")
	}
	return model.WalletView{UserID: userID, Address: "0xabc"}, nil
}

func (s *stubTrader) Wallet(_ context.Context, userID string) (model.WalletView, error) {
	return model.WalletView{UserID: userID, Address: "0xabc", SlippageBps: s.slippage, GasBoostBps: s.gasBoost}, nil
}

func (s *stubTrader) Disconnect(context.Context, string) error { return nil }

func (s *stubTrader) Balance(context.Context, string) (model.BalanceView, error) {
	return model.BalanceView{StableSymbol: "USDC"}, nil
}

func (s *stubTrader) SetSlippage(_ context.Context, _ string, bps int64) error {
	if err := trade.ValidateSlippage(bps); err != nil {
		return err
	}
	s.slippage = bps
	return nil
}

func (s *stubTrader) SetGasBoost(_ context.Context, _ string, bps int64) error {
	s.gasBoost = bps
	return nil
}

func (s *stubTrader) Trades(_ context.Context, userID string, limit int) ([]model.TradeRecord, error) {
	return []model.TradeRecord{{ID: "t1", UserID: userID, Side: "buy"}}, nil
}

func newTestServer(t *testing.T, trader *stubTrader, cfg Config, health HealthFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(New(cfg, trader, nil, nil, health, nil).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, token, body string) (int, model.Envelope) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rdr)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	var env model.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope failed: %v", err)
	}
	return resp.StatusCode, env
}

func mustToken(t *testing.T, userID string) string {
	t.Helper()
	tok, err := IssueToken(secret, userID, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	return tok
}

func TestBearerAuth(t *testing.T) {
	srv := newTestServer(t, &stubTrader{}, Config{JWTSecret: secret}, nil)

	status, env := do(t, http.MethodGet, srv.URL+"/v1/wallet", "", "")
	if status != http.StatusUnauthorized || env.Error == nil || env.Error.Category != "authorization" {
		t.Fatalf("expected 401, got %d %+v", status, env.Error)
	}
	forged, _ := IssueToken("other-secret", "u1", time.Hour, time.Now())
	if status, _ := do(t, http.MethodGet, srv.URL+"/v1/wallet", forged, ""); status != http.StatusUnauthorized {
		t.Fatalf("expected forged token rejection, got %d", status)
	}
	expired, _ := IssueToken(secret, "u1", time.Minute, time.Now().Add(-time.Hour))
	if status, _ := do(t, http.MethodGet, srv.URL+"/v1/wallet", expired, ""); status != http.StatusUnauthorized {
		t.Fatalf("expected expired token rejection, got %d", status)
	}

	status, env = do(t, http.MethodGet, srv.URL+"/v1/wallet", mustToken(t, "u1"), "")
	if status != http.StatusOK || !env.Success {
		t.Fatalf("expected success, got %d %+v", status, env.Error)
	}
	data := env.Data.(map[string]any)
	if data["user_id"] != "u1" {
		t.Fatalf("expected token subject as user, got %v", data["user_id"])
	}
}

func TestHeaderAuthWithoutSecret(t *testing.T) {
	srv := newTestServer(t, &stubTrader{}, Config{}, nil)
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/balance", nil)
	req.Header.Set("X-User-ID", "u7")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if status, _ := do(t, http.MethodGet, srv.URL+"/v1/balance", "", ""); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 without header, got %d", status)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"no route", clierr.Wrap(clierr.CodeNoRoute, aggregator.NoRouteMessage, errors.New("upstream 404")), http.StatusConflict, aggregator.NoRouteMessage},
		{"min buy", clierr.New(clierr.CodeUsage, "Minimum buy is 3 USDC"), http.StatusBadRequest, "Minimum buy is 3 USDC"},
		{"insufficient", clierr.New(clierr.CodeInsufficientFunds, "Insufficient USDC balance"), http.StatusPaymentRequired, "Insufficient USDC balance"},
		{"network", clierr.Wrap(clierr.CodeGatewayExhausted, "all rpc endpoints failed", errors.New("dial tcp")), http.StatusServiceUnavailable, "Blockchain network is unreachable right now. Please retry in a moment."},
		{"internal", errors.New("boom"), http.StatusInternalServerError, "Something went wrong. Please try again."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(t, &stubTrader{quoteErr: tc.err}, Config{JWTSecret: secret}, nil)
			status, env := do(t, http.MethodPost, srv.URL+"/v1/quote", mustToken(t, "u1"), `{"side":"buy","token":"TOK","amount":"10"}`)
			if status != tc.status || env.Success || env.Error.Message != tc.message {
				t.Fatalf("expected %d %q, got %d %+v", tc.status, tc.message, status, env.Error)
			}
		})
	}
}

func TestSwapRevertKeepsTransactionHash(t *testing.T) {
	trader := &stubTrader{
		executeRes: model.SwapResult{Status: model.TradeStatusFailed, TxHash: "0xdead"},
		executeErr: clierr.New(clierr.CodeReverted, "Swap transaction reverted"),
	}
	srv := newTestServer(t, trader, Config{JWTSecret: secret}, nil)
	status, env := do(t, http.MethodPost, srv.URL+"/v1/swaps", mustToken(t, "u2"), `{"side":"sell","token":"TOK","amount":"1"}`)
	if status != http.StatusBadGateway || env.Error.Category != "on_chain" {
		t.Fatalf("expected 502 on-chain error, got %d %+v", status, env.Error)
	}
	if !strings.Contains(env.Error.Message, "Gas may have been spent") {
		t.Fatalf("unexpected message %q", env.Error.Message)
	}
	if data, ok := env.Data.(map[string]any); !ok || data["tx_hash"] != "0xdead" {
		t.Fatalf("expected failed result in data, got %+v", env.Data)
	}
	if trader.lastUser != "u2" {
		t.Fatalf("expected execution for token subject, got %q", trader.lastUser)
	}
}

func TestRequestValidation(t *testing.T) {
	srv := newTestServer(t, &stubTrader{}, Config{JWTSecret: secret}, nil)
	tok := mustToken(t, "u1")
	if status, _ := do(t, http.MethodPost, srv.URL+"/v1/quote", tok, `{"side":`); status != http.StatusBadRequest {
		t.Fatalf("expected malformed body rejection, got %d", status)
	}
	if status, _ := do(t, http.MethodPost, srv.URL+"/v1/quote", tok, `{"unknown":1}`); status != http.StatusBadRequest {
		t.Fatalf("expected unknown field rejection, got %d", status)
	}
	if status, _ := do(t, http.MethodGet, srv.URL+"/v1/trades?limit=0", tok, ""); status != http.StatusBadRequest {
		t.Fatalf("expected bad limit rejection, got %d", status)
	}
	if status, _ := do(t, http.MethodGet, srv.URL+"/v1/alerts", tok, ""); status != http.StatusBadRequest {
		t.Fatalf("expected alerts disabled, got %d", status)
	}
}

func TestSettingsUpdate(t *testing.T) {
	trader := &stubTrader{}
	srv := newTestServer(t, trader, Config{JWTSecret: secret}, nil)
	tok := mustToken(t, "u1")
	if status, _ := do(t, http.MethodPut, srv.URL+"/v1/settings", tok, `{"slippage_bps":0}`); status != http.StatusBadRequest {
		t.Fatalf("expected slippage validation, got %d", status)
	}
	status, env := do(t, http.MethodPut, srv.URL+"/v1/settings", tok, `{"slippage_bps":300,"gas_boost_bps":500}`)
	if status != http.StatusOK || trader.slippage != 300 || trader.gasBoost != 500 {
		t.Fatalf("unexpected result %d %+v", status, env)
	}
	if data := env.Data.(map[string]any); data["slippage_bps"] != float64(300) {
		t.Fatalf("expected updated wallet view, got %+v", data)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	health := func(context.Context) []model.EndpointHealth {
		return []model.EndpointHealth{{URL: "https://a", Healthy: false, Error: "timeout"}}
	}
	srv := newTestServer(t, &stubTrader{}, Config{JWTSecret: secret}, health)
	status, env := do(t, http.MethodGet, srv.URL+"/healthz", "", "")
	if status != http.StatusServiceUnavailable || env.Data.(map[string]any)["status"] != "unavailable" {
		t.Fatalf("expected unhealthy report, got %d %+v", status, env.Data)
	}
	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "swapdesk_http_request_duration_seconds") {
		t.Fatalf("expected prometheus exposition, got %d", resp.StatusCode)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	tok := mustToken(t, "alice")
	if sub, err := ParseToken(secret, tok); err != nil || sub != "alice" {
		t.Fatalf("unexpected subject %q err=%v", sub, err)
	}
	if _, err := IssueToken("", "alice", time.Hour, time.Now()); clierr.CodeOf(err) != clierr.CodeUsage {
		t.Fatalf("expected usage error without secret, got %v", err)
	}
}
