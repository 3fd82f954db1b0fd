package trade

import (
	"context"
	"math/big"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/ggonzalez94/swapdesk/internal/aggregator"
	"github.com/ggonzalez94/swapdesk/internal/custody"
	clierr "github.com/ggonzalez94/swapdesk/internal/errors"
	"github.com/ggonzalez94/swapdesk/internal/events"
	"github.com/ggonzalez94/swapdesk/internal/execution"
	"github.com/ggonzalez94/swapdesk/internal/id"
	"github.com/ggonzalez94/swapdesk/internal/model"
	"github.com/ggonzalez94/swapdesk/internal/providers"
	"github.com/ggonzalez94/swapdesk/internal/rpcpool"
	"github.com/ggonzalez94/swapdesk/internal/rpcpool/rpctest"
	"github.com/ggonzalez94/swapdesk/internal/store"
	"github.com/ggonzalez94/swapdesk/internal/tokenmeta"
)

var (
	oneEther   = big.NewInt(1_000_000_000_000_000_000)
	stableAddr = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	tokenAddr  = common.HexToAddress("0x00000000000000000000000000000000000000d2")
	routerAddr = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	outsider   = common.HexToAddress("0x00000000000000000000000000000000000000ee")
)

// fixedProvider quotes a fixed output and routes through the test router.
type fixedProvider struct {
	providers.Executor
	buyAmount *big.Int
	err       error
	// gas and value override the quoted payload when set.
	gas   uint64
	value *big.Int

	mu       sync.Mutex
	requests []providers.QuoteRequest
}

func (p *fixedProvider) Info() model.ProviderInfo {
	return model.ProviderInfo{Name: "fixed", Type: "swap", Enabled: true}
}

func (p *fixedProvider) Quote(_ context.Context, req providers.QuoteRequest) (providers.Quote, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	if p.err != nil {
		return providers.Quote{}, p.err
	}
	q := providers.Quote{
		Provider:        "fixed",
		SellToken:       req.SellToken,
		BuyToken:        req.BuyToken,
		SellAmount:      req.SellAmount,
		BuyAmount:       p.buyAmount,
		MinBuyAmount:    execution.MinOutput(p.buyAmount, req.SlippageBps),
		Price:           "1",
		AllowanceTarget: routerAddr,
		Gas:             200_000,
		Tx:              providers.TxPayload{To: routerAddr, Data: []byte{0x12, 0x34, 0x56, 0x78}},
		SlippageBps:     req.SlippageBps,
		FetchedAt:       time.Unix(1_700_000_000, 0),
	}
	if p.gas != 0 {
		q.Gas = p.gas
	}
	q.Tx.Value = p.value
	return q, nil
}

func (p *fixedProvider) lastRequest() providers.QuoteRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[len(p.requests)-1]
}

type staticPrice struct{ usd decimal.Decimal }

func (s staticPrice) ETHUSD(context.Context) (decimal.Decimal, bool) { return s.usd, !s.usd.IsZero() }

type harness struct {
	svc      *Service
	node     *rpctest.Node
	store    *store.Store
	provider *fixedProvider
	events   *events.Recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	node := rpctest.NewNode(8453)
	t.Cleanup(node.Close)
	node.AddToken(stableAddr, rpctest.Token{Name: "USD Coin", Symbol: "USDC", Decimals: 6})
	node.AddToken(tokenAddr, rpctest.Token{Name: "Token", Symbol: "TOK", Decimals: 18})

	pool, err := rpcpool.New([]string{node.URL})
	if err != nil {
		t.Fatalf("rpcpool.New failed: %v", err)
	}
	t.Cleanup(pool.Close)
	sender := execution.NewSender(pool, 8453, execution.Options{PollInterval: 10 * time.Millisecond, ConfirmTimeout: 2 * time.Second}, nil)

	tmp := t.TempDir()
	st, err := store.Open(filepath.Join(tmp, "swapdesk.db"), filepath.Join(tmp, "swapdesk.lock"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	vault, err := custody.New("test-passphrase")
	if err != nil {
		t.Fatalf("custody.New failed: %v", err)
	}
	tokens, err := id.NewRegistry(id.Token{Symbol: "TOK", Address: tokenAddr.Hex(), Decimals: 18})
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	provider := &fixedProvider{Executor: providers.Executor{Sender: sender}, buyAmount: big.NewInt(42)}
	rec := &events.Recorder{}
	svc := New(Config{
		ChainID:            8453,
		Stable:             model.TokenInfo{Address: stableAddr.Hex(), Symbol: "USDC", Name: "USD Coin", Decimals: 6},
		MinBuy:             decimal.NewFromInt(3),
		DefaultSlippageBps: 100,
	}, Deps{
		Aggregator: aggregator.New(nil, provider),
		Sender:     sender,
		Tokens:     tokens,
		Meta:       tokenmeta.New(pool, tokens, nil, nil),
		Prices:     staticPrice{usd: decimal.NewFromInt(2000)},
		Store:      st,
		Custody:    vault,
		Events:     rec,
	})
	return &harness{svc: svc, node: node, store: st, provider: provider, events: rec}
}

// fundedWallet creates a wallet for userID holding 1 ETH and 10 USDC.
func (h *harness) fundedWallet(t *testing.T, userID string) common.Address {
	t.Helper()
	view, err := h.svc.CreateWallet(context.Background(), userID)
	if err != nil {
		t.Fatalf("CreateWallet failed: %v", err)
	}
	addr := common.HexToAddress(view.Address)
	h.node.SetNative(addr, oneEther)
	h.node.SetTokenBalance(stableAddr, addr, big.NewInt(10_000_000))
	return addr
}

func TestExecuteBuyApprovesThenSwaps(t *testing.T) {
	h := newHarness(t)
	owner := h.fundedWallet(t, "u1")
	h.node.SetTokenBalance(tokenAddr, routerAddr, big.NewInt(1_000))
	h.node.AddRouter(routerAddr, rpctest.FixedSwap(routerAddr, stableAddr, tokenAddr, big.NewInt(5_000_000), big.NewInt(42)))

	res, err := h.svc.Execute(context.Background(), "buy", "u1", "TOK", "5", 0, 0)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if res.ApprovalTxHash == "" || res.ApprovalTxHash == res.TxHash {
		t.Fatalf("expected distinct approval and swap hashes, got %q / %q", res.ApprovalTxHash, res.TxHash)
	}
	sent := h.node.Sent()
	if len(sent) != 2 || *sent[0].To() != stableAddr || *sent[1].To() != routerAddr {
		t.Fatalf("expected approve then swap, got %d txs", len(sent))
	}
	if sent[0].Hash().Hex() != res.ApprovalTxHash || sent[1].Hash().Hex() != res.TxHash {
		t.Fatal("hashes do not match broadcast order")
	}
	if res.AmountOut == nil || res.AmountOut.AmountBaseUnits != "42" {
		t.Fatalf("expected 42 units received, got %+v", res.AmountOut)
	}
	if res.AmountIn.AmountDecimal != "5" || res.Status != model.TradeStatusCompleted || res.TradeID == "" {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.GasCost.CostUSD == nil {
		t.Fatal("expected gas cost priced in USD")
	}
	if taker := h.provider.lastRequest().Taker; taker != owner {
		t.Fatalf("expected execution quote for the wallet, got taker %s", taker.Hex())
	}

	want := []string{StageResolving, StageQuoting, StageAllowance, StageApprove, StageGasCheck, StageSending, StageConfirmed}
	if got := h.events.Stages(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected stages %v", got)
	}

	trades, err := h.store.ListTrades(context.Background(), "u1", 10)
	if err != nil || len(trades) != 1 {
		t.Fatalf("expected one trade record, got %d err=%v", len(trades), err)
	}
	if trades[0].ApprovalTxHash != res.ApprovalTxHash || trades[0].Status != model.TradeStatusCompleted || trades[0].Provider != "fixed" {
		t.Fatalf("unexpected record %+v", trades[0])
	}

	w, err := h.store.GetWallet(context.Background(), "u1")
	if err != nil || w.Balances.LastToken != "42" || w.Balances.Stable != "5000000" {
		t.Fatalf("expected refreshed balances, got %+v err=%v", w.Balances, err)
	}
}

func TestExecuteUsesUserSlippageAndExactApprovals(t *testing.T) {
	h := newHarness(t)
	h.fundedWallet(t, "u1")
	h.node.SetTokenBalance(tokenAddr, routerAddr, big.NewInt(1_000))
	h.node.AddRouter(routerAddr, rpctest.FixedSwap(routerAddr, stableAddr, tokenAddr, big.NewInt(3_000_000), big.NewInt(42)))
	if err := h.svc.SetSlippage(context.Background(), "u1", 250); err != nil {
		t.Fatalf("SetSlippage failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := h.svc.Execute(context.Background(), "buy", "u1", tokenAddr.Hex(), "3", 0, 0); err != nil {
			t.Fatalf("Execute %d failed: %v", i, err)
		}
	}
	if got := h.provider.lastRequest().SlippageBps; got != 250 {
		t.Fatalf("expected user slippage 250, got %d", got)
	}
	// The exact approval is spent by each swap, so both attempts approve.
	if n := len(h.node.Sent()); n != 4 {
		t.Fatalf("expected approve+swap twice, got %d txs", n)
	}
	trades, _ := h.store.ListTrades(context.Background(), "u1", 10)
	if len(trades) != 2 || trades[0].ID == trades[1].ID {
		t.Fatalf("expected two appended records, got %+v", trades)
	}
}

func TestBuyBelowMinimumFailsBeforeNetwork(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Execute(context.Background(), "buy", "u1", "TOK", "2", 0, 0)
	if clierr.CodeOf(err) != clierr.CodeUsage || !strings.Contains(err.Error(), "Minimum buy is 3 USDC") {
		t.Fatalf("expected minimum buy error, got %v", err)
	}
	if _, err := h.svc.Quote(context.Background(), "buy", "TOK", "2", 0); clierr.CodeOf(err) != clierr.CodeUsage {
		t.Fatalf("expected minimum buy error from Quote, got %v", err)
	}
	for _, method := range []string{"eth_getBalance", "eth_call", "eth_gasPrice", "eth_chainId"} {
		if n := h.node.Calls(method); n != 0 {
			t.Fatalf("expected no RPC before validation, got %d %s calls", n, method)
		}
	}
	if len(h.provider.requests) != 0 || len(h.events.Events()) != 0 {
		t.Fatal("expected no quote and no events")
	}
}

func TestExecuteWithoutWalletIsAuthorizationError(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Execute(context.Background(), "sell", "nobody", "TOK", "1", 0, 0)
	if clierr.CategoryOf(err) != clierr.CategoryAuthorization {
		t.Fatalf("expected authorization error, got %v", err)
	}
	if stages := h.events.Stages(); stages[len(stages)-1] != StageFailed {
		t.Fatalf("expected failed stage, got %v", stages)
	}
}

func TestExecuteNoRouteRecordsNothing(t *testing.T) {
	h := newHarness(t)
	h.fundedWallet(t, "u1")
	h.provider.err = clierr.New(clierr.CodeNoRoute, "fixed: no route for this pair/amount")

	_, err := h.svc.Execute(context.Background(), "buy", "u1", "TOK", "5", 0, 0)
	if clierr.CodeOf(err) != clierr.CodeNoRoute {
		t.Fatalf("expected no route, got %v", err)
	}
	if msg := clierr.UserMessage(err); msg != aggregator.NoRouteMessage {
		t.Fatalf("unexpected user message %q", msg)
	}
	trades, _ := h.store.ListTrades(context.Background(), "u1", 10)
	if len(trades) != 0 || len(h.node.Sent()) != 0 {
		t.Fatal("expected no record and no broadcast before a send")
	}
}

func TestExecuteRevertRecordsFailedTrade(t *testing.T) {
	h := newHarness(t)
	h.fundedWallet(t, "u1")
	h.node.RevertOnChain = true
	h.node.AddRouter(routerAddr, func(*rpctest.Node, common.Address, *big.Int, []byte) error {
		return &rpctest.RevertError{Reason: "Return amount is not enough"}
	})

	res, err := h.svc.Execute(context.Background(), "buy", "u1", "TOK", "5", 0, 0)
	if clierr.CodeOf(err) != clierr.CodeReverted {
		t.Fatalf("expected reverted error, got %v", err)
	}
	if res.TxHash == "" || res.Status != model.TradeStatusFailed {
		t.Fatalf("expected failed result with hash, got %+v", res)
	}
	trades, _ := h.store.ListTrades(context.Background(), "u1", 10)
	if len(trades) != 1 || trades[0].Status != model.TradeStatusFailed || trades[0].TxHash != res.TxHash {
		t.Fatalf("expected one failed record, got %+v", trades)
	}
	if !strings.Contains(clierr.UserMessage(err), "Gas may have been spent") {
		t.Fatalf("expected gas-spent warning, got %q", clierr.UserMessage(err))
	}
}

func TestExecuteRejectsPayloadBeforeApproval(t *testing.T) {
	h := newHarness(t)
	h.fundedWallet(t, "u1")
	h.provider.value = big.NewInt(1)

	_, err := h.svc.Execute(context.Background(), "buy", "u1", "TOK", "5", 0, 0)
	if clierr.CodeOf(err) != clierr.CodeActionPlan || !strings.Contains(err.Error(), "native value") {
		t.Fatalf("expected payload rejection, got %v", err)
	}
	if n := len(h.node.Sent()); n != 0 {
		t.Fatalf("expected nothing broadcast, got %d txs", n)
	}
	trades, _ := h.store.ListTrades(context.Background(), "u1", 10)
	if len(trades) != 0 {
		t.Fatalf("expected no record, got %+v", trades)
	}
}

func TestExecuteRecordsApprovalWhenSwapCannotBeSent(t *testing.T) {
	h := newHarness(t)
	h.fundedWallet(t, "u1")
	h.node.AddRouter(routerAddr, rpctest.FixedSwap(routerAddr, stableAddr, tokenAddr, big.NewInt(5_000_000), big.NewInt(42)))
	// The approval is affordable, a swap with this gas limit is not.
	h.provider.gas = 10_000_000_000

	_, err := h.svc.Execute(context.Background(), "buy", "u1", "TOK", "5", 0, 0)
	if clierr.CodeOf(err) != clierr.CodeInsufficientFunds {
		t.Fatalf("expected insufficient funds for the swap, got %v", err)
	}
	sent := h.node.Sent()
	if len(sent) != 1 || *sent[0].To() != stableAddr {
		t.Fatalf("expected only the approval broadcast, got %d txs", len(sent))
	}
	trades, _ := h.store.ListTrades(context.Background(), "u1", 10)
	if len(trades) != 1 {
		t.Fatalf("expected one failed record, got %+v", trades)
	}
	got := trades[0]
	if got.Status != model.TradeStatusFailed || got.ApprovalTxHash != sent[0].Hash().Hex() || got.TxHash != got.ApprovalTxHash {
		t.Fatalf("unexpected record %+v", got)
	}
}

func TestExecuteInsufficientBalance(t *testing.T) {
	h := newHarness(t)
	h.fundedWallet(t, "u1")
	_, err := h.svc.Execute(context.Background(), "sell", "u1", "TOK", "1", 0, 0)
	if clierr.CodeOf(err) != clierr.CodeInsufficientFunds {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if len(h.node.Sent()) != 0 {
		t.Fatal("expected nothing broadcast")
	}
}

func TestQuoteSellEnrichment(t *testing.T) {
	h := newHarness(t)
	h.provider.buyAmount = big.NewInt(1_234_567)

	preview, err := h.svc.Quote(context.Background(), "sell", "TOK", "1.5", 50)
	if err != nil {
		t.Fatalf("Quote failed: %v", err)
	}
	q := preview.Quote
	if q.SellAmount.AmountBaseUnits != "1500000000000000000" || q.BuyAmount.AmountDecimal != "1.234567" {
		t.Fatalf("unexpected amounts %+v / %+v", q.SellAmount, q.BuyAmount)
	}
	if q.MinBuyAmount.AmountBaseUnits != execution.MinOutput(big.NewInt(1_234_567), 50).String() {
		t.Fatalf("unexpected min buy %+v", q.MinBuyAmount)
	}
	if q.Gas.GasLimit != 200_000 || q.Gas.GasPriceWei != "1500000000" || q.Gas.CostETH != "0.0003" {
		t.Fatalf("unexpected gas estimate %+v", q.Gas)
	}
	if q.Gas.CostUSD == nil || *q.Gas.CostUSD != 0.6 {
		t.Fatalf("expected $0.6 gas, got %v", q.Gas.CostUSD)
	}
	if len(q.Legs) != 1 || q.Legs[0].SellToken != "TOK" || q.Legs[0].BuyToken != "USDC" {
		t.Fatalf("unexpected legs %+v", q.Legs)
	}
	if taker := h.provider.lastRequest().Taker; taker != (common.Address{}) {
		t.Fatal("preview quotes must not reveal a taker")
	}
	if len(preview.Providers) != 1 || preview.Providers[0].Status != "ok" {
		t.Fatalf("unexpected provider statuses %+v", preview.Providers)
	}
}

func TestQuoteValidation(t *testing.T) {
	h := newHarness(t)
	cases := []struct {
		side, token, amount string
		slippage            int64
		want                string
	}{
		{"hold", "TOK", "5", 0, "side must be buy or sell"},
		{"buy", "TOK", "5", 2001, "slippage must be between"},
		{"buy", "NOPE", "5", 0, "Unknown token symbol: NOPE"},
		{"sell", "TOK", "abc", 0, "invalid amount"},
		{"sell", "TOK", "0", 0, "greater than zero"},
	}
	for _, tc := range cases {
		_, err := h.svc.Quote(context.Background(), tc.side, tc.token, tc.amount, tc.slippage)
		if clierr.CodeOf(err) != clierr.CodeUsage || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%+v: expected usage error containing %q, got %v", tc, tc.want, err)
		}
	}
}

func TestTighterSlippageNeverImprovesMinimum(t *testing.T) {
	h := newHarness(t)
	h.provider.buyAmount = big.NewInt(1_000_000)
	var prev *big.Int
	for _, bps := range []int64{2000, 500, 100, 10, 1} {
		preview, err := h.svc.Quote(context.Background(), "sell", "TOK", "1", bps)
		if err != nil {
			t.Fatalf("Quote(%d) failed: %v", bps, err)
		}
		minBuy, _ := new(big.Int).SetString(preview.Quote.MinBuyAmount.AmountBaseUnits, 10)
		if minBuy.Sign() < 0 {
			t.Fatalf("negative min buy at %d bps", bps)
		}
		if prev != nil && minBuy.Cmp(prev) < 0 {
			t.Fatalf("min buy decreased when slippage tightened to %d bps", bps)
		}
		prev = minBuy
	}
}

func TestWithdrawNativeAndToken(t *testing.T) {
	h := newHarness(t)
	h.fundedWallet(t, "u1")

	res, err := h.svc.Withdraw(context.Background(), "u1", "0.1", "ETH", outsider.Hex())
	if err != nil {
		t.Fatalf("native Withdraw failed: %v", err)
	}
	if h.node.Native(outsider).Cmp(big.NewInt(100_000_000_000_000_000)) != 0 {
		t.Fatalf("unexpected destination balance %s", h.node.Native(outsider))
	}
	if res.Token.Symbol != "ETH" || res.Status != model.TradeStatusCompleted {
		t.Fatalf("unexpected result %+v", res)
	}

	res, err = h.svc.Withdraw(context.Background(), "u1", "2.5", stableAddr.Hex(), outsider.Hex())
	if err != nil {
		t.Fatalf("token Withdraw failed: %v", err)
	}
	if h.node.TokenBalance(stableAddr, outsider).Int64() != 2_500_000 {
		t.Fatalf("unexpected token balance %s", h.node.TokenBalance(stableAddr, outsider))
	}

	trades, _ := h.store.ListTrades(context.Background(), "u1", 10)
	if len(trades) != 2 || trades[0].Side != model.TradeSideWithdraw || trades[0].TxHash != res.TxHash {
		t.Fatalf("unexpected withdraw records %+v", trades)
	}
}

func TestWithdrawValidation(t *testing.T) {
	h := newHarness(t)
	owner := h.fundedWallet(t, "u1")
	cases := []struct {
		amount, token, dest string
	}{
		{"1", "ETH", "not-an-address"},
		{"1", "ETH", "0x0000000000000000000000000000000000000000"},
		{"1", "ETH", owner.Hex()},
		{"5", "ETH", outsider.Hex()},
	}
	for _, tc := range cases {
		_, err := h.svc.Withdraw(context.Background(), "u1", tc.amount, tc.token, tc.dest)
		if err == nil {
			t.Fatalf("%+v: expected error", tc)
		}
	}
	if len(h.node.Sent()) != 0 {
		t.Fatal("expected nothing broadcast")
	}
}

func TestWalletLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	key := "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	view, err := h.svc.ImportKey(ctx, "u1", key)
	if err != nil {
		t.Fatalf("ImportKey failed: %v", err)
	}
	if !strings.EqualFold(view.Address, "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23") {
		t.Fatalf("unexpected address %s", view.Address)
	}
	w, _ := h.store.GetWallet(ctx, "u1")
	if strings.Contains(w.EncryptedKey, strings.TrimPrefix(key, "0x")) {
		t.Fatal("plaintext key persisted")
	}
	if _, err := h.svc.ImportKey(ctx, "u1", "0x1234"); clierr.CodeOf(err) != clierr.CodeUsage {
		t.Fatalf("expected invalid key error, got %v", err)
	}

	h.node.SetNative(common.HexToAddress(view.Address), oneEther)
	bal, err := h.svc.Balance(ctx, "u1")
	if err != nil || bal.Native.AmountDecimal != "1" || bal.StableSymbol != "USDC" {
		t.Fatalf("unexpected balance %+v err=%v", bal, err)
	}

	if err := h.svc.SetSlippage(ctx, "u1", 0); clierr.CodeOf(err) != clierr.CodeUsage {
		t.Fatalf("expected slippage validation, got %v", err)
	}
	if err := h.svc.Disconnect(ctx, "u1"); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if _, err := h.svc.Wallet(ctx, "u1"); clierr.CodeOf(err) != clierr.CodeAuth {
		t.Fatalf("expected missing wallet after disconnect, got %v", err)
	}
	if err := h.svc.Disconnect(ctx, "u1"); clierr.CodeOf(err) != clierr.CodeAuth {
		t.Fatalf("expected auth error on second disconnect, got %v", err)
	}
}
