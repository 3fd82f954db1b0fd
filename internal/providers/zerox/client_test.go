package zerox

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	clierr "github.com/ggonzalez94/swapdesk/internal/errors"
	"github.com/ggonzalez94/swapdesk/internal/httpx"
	"github.com/ggonzalez94/swapdesk/internal/providers"
	"github.com/ggonzalez94/swapdesk/internal/registry"
)

var (
	usdc  = common.HexToAddress(registry.BaseUSDC)
	token = common.HexToAddress("0x4ed4e862860bed51a9570b96d89af5e1b0efefed")
	taker = common.HexToAddress("0x00000000000000000000000000000000000000aa")
)

func TestQuoteNormalizesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("sellToken") != usdc.Hex() || q.Get("sellAmount") != "5000000" || q.Get("takerAddress") != taker.Hex() {
			t.Fatalf("unexpected query: %s", r.URL.RawQuery)
		}
		if q.Get("slippagePercentage") != "0.01" {
			t.Fatalf("expected slippage 0.01, got %s", q.Get("slippagePercentage"))
		}
		if r.Header.Get("0x-api-key") != "k" {
			t.Fatalf("expected api key header")
		}
		_, _ = w.Write([]byte(`{
			"price":"2.5","guaranteedPrice":"2.475",
			"to":"0xdef1c0ded9bec7f1a1670819833240f027b25eff","data":"0x415565b0","value":"0",
			"gas":"180000","buyAmount":"12500000000000000000","sellAmount":"5000000",
			"allowanceTarget":"0x0000000000001ff3684f28c67538d4d072c22734",
			"sources":[{"name":"Uniswap_V3","proportion":"1"},{"name":"Aerodrome","proportion":"0"}]
		}`))
	}))
	defer srv.Close()

	c := New(httpx.New(time.Second, 0), nil, srv.URL, "k")
	q, err := c.Quote(context.Background(), providers.QuoteRequest{
		SellToken: usdc, BuyToken: token, SellAmount: big.NewInt(5_000_000), Taker: taker, SlippageBps: 100,
	})
	if err != nil {
		t.Fatalf("Quote failed: %v", err)
	}
	if q.Provider != "0x" || q.BuyAmount.String() != "12500000000000000000" {
		t.Fatalf("unexpected quote: %+v", q)
	}
	if q.MinBuyAmount.String() != "12375000000000000000" {
		t.Fatalf("expected 1%% slippage floor, got %s", q.MinBuyAmount)
	}
	if q.Gas != 180_000 || q.Tx.Value.Sign() != 0 || len(q.Tx.Data) != 4 {
		t.Fatalf("unexpected tx payload: gas=%d %+v", q.Gas, q.Tx)
	}
	if q.AllowanceTarget != common.HexToAddress("0x0000000000001ff3684f28c67538d4d072c22734") {
		t.Fatalf("unexpected allowance target %s", q.AllowanceTarget.Hex())
	}
	if len(q.Sources) != 1 || q.Sources[0] != "Uniswap_V3" {
		t.Fatalf("expected only sources with liquidity, got %v", q.Sources)
	}
}

func TestQuoteClampsSlippageFloor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("slippagePercentage"); got != "0.001" {
			t.Fatalf("expected 10 bps floor, got %s", got)
		}
		http.Error(w, `{"reason":"no liquidity"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(httpx.New(time.Second, 0), nil, srv.URL, "")
	_, err := c.Quote(context.Background(), providers.QuoteRequest{SellToken: usdc, BuyToken: token, SellAmount: big.NewInt(1), SlippageBps: 1})
	if clierr.CodeOf(err) != clierr.CodeNoRoute {
		t.Fatalf("expected no route for 404, got %v", err)
	}
}

func TestQuoteServerErrorIsNotNoRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(httpx.New(time.Second, 0), nil, srv.URL, "")
	_, err := c.Quote(context.Background(), providers.QuoteRequest{SellToken: usdc, BuyToken: token, SellAmount: big.NewInt(1)})
	if clierr.CodeOf(err) != clierr.CodeUnavailable {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestQuoteRejectsMissingPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"buyAmount":"1"}`))
	}))
	defer srv.Close()

	c := New(httpx.New(time.Second, 0), nil, srv.URL, "")
	_, err := c.Quote(context.Background(), providers.QuoteRequest{SellToken: usdc, BuyToken: token, SellAmount: big.NewInt(1)})
	if err == nil || !strings.Contains(err.Error(), "missing transaction payload") {
		t.Fatalf("expected payload error, got %v", err)
	}
}
