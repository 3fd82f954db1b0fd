// Package openocean quotes swaps on the OpenOcean v4 API.
package openocean

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	clierr "github.com/ggonzalez94/swapdesk/internal/errors"
	"github.com/ggonzalez94/swapdesk/internal/execution"
	"github.com/ggonzalez94/swapdesk/internal/httpx"
	"github.com/ggonzalez94/swapdesk/internal/model"
	"github.com/ggonzalez94/swapdesk/internal/providers"
	"github.com/ggonzalez94/swapdesk/internal/registry"
)

const (
	Name  = "openocean"
	chain = "base"
)

type Client struct {
	providers.Executor

	http    *httpx.Client
	baseURL string
	now     func() time.Time
}

func New(httpClient *httpx.Client, sender *execution.Sender, baseURL string) *Client {
	if baseURL == "" {
		baseURL = registry.OpenOceanBaseURL
	}
	return &Client{
		Executor: providers.Executor{Sender: sender},
		http:     httpClient,
		baseURL:  strings.TrimRight(baseURL, "/"),
		now:      time.Now,
	}
}

func (c *Client) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:         Name,
		Type:         "swap",
		Priority:     2,
		Enabled:      true,
		Capabilities: []string{"swap.quote", "swap.execute"},
	}
}

type tokenInfo struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

type quoteResponse struct {
	Code int `json:"code"`
	Data *struct {
		InToken        tokenInfo `json:"inToken"`
		OutToken       tokenInfo `json:"outToken"`
		InAmount       string    `json:"inAmount"`
		OutAmount      string    `json:"outAmount"`
		MinOutAmount   string    `json:"minOutAmount"`
		EstimatedGas   any       `json:"estimatedGas"`
		To             string    `json:"to"`
		Data           string    `json:"data"`
		Value          string    `json:"value"`
		Price          any       `json:"price"`
		ApproveSpender string    `json:"approveSpender"`
	} `json:"data"`
	Message string `json:"message"`
}

func (c *Client) Quote(ctx context.Context, req providers.QuoteRequest) (providers.Quote, error) {
	if req.SellAmount == nil || req.SellAmount.Sign() <= 0 {
		return providers.Quote{}, clierr.New(clierr.CodeUsage, "sell amount must be positive")
	}
	slippage := providers.ClampSlippage(req.SlippageBps)
	gasPrice := req.GasPrice
	if gasPrice == nil {
		gasPrice = new(big.Int)
	}
	vals := url.Values{}
	vals.Set("chain", chain)
	vals.Set("inTokenAddress", req.SellToken.Hex())
	vals.Set("outTokenAddress", req.BuyToken.Hex())
	vals.Set("amount", req.SellAmount.String())
	vals.Set("slippage", strconv.FormatFloat(float64(slippage)/100, 'f', -1, 64))
	vals.Set("gasPrice", gasPrice.String())
	vals.Set("account", req.Taker.Hex())

	endpoint := fmt.Sprintf("%s/%s/swap_quote?%s", c.baseURL, chain, vals.Encode())
	hReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return providers.Quote{}, clierr.Wrap(clierr.CodeInternal, "build openocean quote request", err)
	}
	var resp quoteResponse
	if _, err := c.http.DoJSON(ctx, hReq, &resp); err != nil {
		return providers.Quote{}, providers.WrapQuoteError(Name, err)
	}
	// OpenOcean reports some failures in-band with HTTP 200.
	if resp.Code == 400 || resp.Code == 404 {
		return providers.Quote{}, clierr.New(clierr.CodeNoRoute, "openocean: no route for this pair/amount")
	}
	if resp.Data == nil || !common.IsHexAddress(resp.Data.To) || resp.Data.Data == "" {
		msg := "openocean: invalid swap_quote response"
		if resp.Message != "" {
			msg += ": " + resp.Message
		}
		return providers.Quote{}, clierr.New(clierr.CodeUnavailable, msg)
	}
	return c.normalize(req, slippage, resp)
}

func (c *Client) normalize(req providers.QuoteRequest, slippage int64, resp quoteResponse) (providers.Quote, error) {
	d := resp.Data
	data, err := hexutil.Decode(d.Data)
	if err != nil {
		return providers.Quote{}, clierr.Wrap(clierr.CodeUnavailable, "openocean quote has malformed calldata", err)
	}
	buyAmount, ok := providers.ParseBig(d.OutAmount)
	if !ok || buyAmount.Sign() == 0 {
		return providers.Quote{}, clierr.New(clierr.CodeUnavailable, "openocean quote missing output amount")
	}
	value, ok := providers.ParseBig(d.Value)
	if !ok {
		return providers.Quote{}, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("openocean quote has malformed value %q", d.Value))
	}
	minBuy := execution.MinOutput(buyAmount, slippage)
	guaranteed := ""
	if v, ok := providers.ParseBig(d.MinOutAmount); ok && v.Sign() > 0 {
		minBuy = v
		decimals := d.OutToken.Decimals
		if decimals == 0 {
			decimals = 18
		}
		guaranteed = decimal.NewFromBigInt(v, int32(-decimals)).String()
	}
	to := common.HexToAddress(d.To)
	spender := to
	if common.IsHexAddress(d.ApproveSpender) {
		spender = common.HexToAddress(d.ApproveSpender)
	}
	return providers.Quote{
		Provider:        Name,
		SellToken:       req.SellToken,
		BuyToken:        req.BuyToken,
		SellAmount:      new(big.Int).Set(req.SellAmount),
		BuyAmount:       buyAmount,
		MinBuyAmount:    minBuy,
		Price:           scalarString(d.Price),
		GuaranteedPrice: guaranteed,
		AllowanceTarget: spender,
		Gas:             gasOf(d.EstimatedGas),
		Tx:              providers.TxPayload{To: to, Data: data, Value: value},
		Sources:         []string{Name},
		SlippageBps:     slippage,
		FetchedAt:       c.now().UTC(),
	}, nil
}

// OpenOcean returns some numeric fields as either JSON numbers or strings.
func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func gasOf(v any) uint64 {
	n, ok := providers.ParseBig(scalarString(v))
	if !ok || !n.IsUint64() {
		return 0
	}
	return n.Uint64()
}
