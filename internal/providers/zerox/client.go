// Package zerox quotes swaps on the 0x Swap API.
package zerox

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	clierr "github.com/ggonzalez94/swapdesk/internal/errors"
	"github.com/ggonzalez94/swapdesk/internal/execution"
	"github.com/ggonzalez94/swapdesk/internal/httpx"
	"github.com/ggonzalez94/swapdesk/internal/model"
	"github.com/ggonzalez94/swapdesk/internal/providers"
	"github.com/ggonzalez94/swapdesk/internal/registry"
)

const Name = "0x"

type Client struct {
	providers.Executor

	http     *httpx.Client
	quoteURL string
	apiKey   string
	now      func() time.Time
}

func New(httpClient *httpx.Client, sender *execution.Sender, quoteURL, apiKey string) *Client {
	if quoteURL == "" {
		quoteURL = registry.ZeroXQuoteURL
	}
	return &Client{
		Executor: providers.Executor{Sender: sender},
		http:     httpClient,
		quoteURL: quoteURL,
		apiKey:   apiKey,
		now:      time.Now,
	}
}

func (c *Client) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:          Name,
		Type:          "swap",
		Priority:      1,
		Enabled:       true,
		RequiresKey:   false,
		KeyEnvVarName: "SWAPDESK_0X_API_KEY",
		Capabilities:  []string{"swap.quote", "swap.execute"},
	}
}

type quoteResponse struct {
	Price           string `json:"price"`
	GuaranteedPrice string `json:"guaranteedPrice"`
	To              string `json:"to"`
	Data            string `json:"data"`
	Value           string `json:"value"`
	Gas             string `json:"gas"`
	EstimatedGas    string `json:"estimatedGas"`
	BuyAmount       string `json:"buyAmount"`
	SellAmount      string `json:"sellAmount"`
	AllowanceTarget string `json:"allowanceTarget"`
	Sources         []struct {
		Name       string `json:"name"`
		Proportion string `json:"proportion"`
	} `json:"sources"`
}

func (c *Client) Quote(ctx context.Context, req providers.QuoteRequest) (providers.Quote, error) {
	if req.SellAmount == nil || req.SellAmount.Sign() <= 0 {
		return providers.Quote{}, clierr.New(clierr.CodeUsage, "sell amount must be positive")
	}
	slippage := providers.ClampSlippage(req.SlippageBps)
	vals := url.Values{}
	vals.Set("sellToken", req.SellToken.Hex())
	vals.Set("buyToken", req.BuyToken.Hex())
	vals.Set("sellAmount", req.SellAmount.String())
	vals.Set("takerAddress", req.Taker.Hex())
	vals.Set("slippagePercentage", strconv.FormatFloat(float64(slippage)/10_000, 'f', -1, 64))

	hReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.quoteURL+"?"+vals.Encode(), nil)
	if err != nil {
		return providers.Quote{}, clierr.Wrap(clierr.CodeInternal, "build 0x quote request", err)
	}
	if c.apiKey != "" {
		hReq.Header.Set("0x-api-key", c.apiKey)
	}

	var resp quoteResponse
	if _, err := c.http.DoJSON(ctx, hReq, &resp); err != nil {
		return providers.Quote{}, providers.WrapQuoteError(Name, err)
	}
	return c.normalize(req, slippage, resp)
}

func (c *Client) normalize(req providers.QuoteRequest, slippage int64, resp quoteResponse) (providers.Quote, error) {
	if !common.IsHexAddress(resp.To) || resp.Data == "" {
		return providers.Quote{}, clierr.New(clierr.CodeUnavailable, "0x quote missing transaction payload")
	}
	data, err := hexutil.Decode(resp.Data)
	if err != nil {
		return providers.Quote{}, clierr.Wrap(clierr.CodeUnavailable, "0x quote has malformed calldata", err)
	}
	buyAmount, ok := providers.ParseBig(resp.BuyAmount)
	if !ok || buyAmount.Sign() == 0 {
		return providers.Quote{}, clierr.New(clierr.CodeUnavailable, "0x quote missing buy amount")
	}
	sellAmount := new(big.Int).Set(req.SellAmount)
	if resp.SellAmount != "" {
		if v, ok := providers.ParseBig(resp.SellAmount); ok && v.Sign() > 0 {
			sellAmount = v
		}
	}
	value, ok := providers.ParseBig(resp.Value)
	if !ok {
		return providers.Quote{}, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("0x quote has malformed value %q", resp.Value))
	}
	gas := parseGas(resp.Gas)
	if gas == 0 {
		gas = parseGas(resp.EstimatedGas)
	}
	var allowanceTarget common.Address
	if common.IsHexAddress(resp.AllowanceTarget) {
		allowanceTarget = common.HexToAddress(resp.AllowanceTarget)
	}
	sources := make([]string, 0, len(resp.Sources))
	for _, src := range resp.Sources {
		if src.Proportion != "" && src.Proportion != "0" {
			sources = append(sources, src.Name)
		}
	}
	return providers.Quote{
		Provider:        Name,
		SellToken:       req.SellToken,
		BuyToken:        req.BuyToken,
		SellAmount:      sellAmount,
		BuyAmount:       buyAmount,
		MinBuyAmount:    execution.MinOutput(buyAmount, slippage),
		Price:           resp.Price,
		GuaranteedPrice: resp.GuaranteedPrice,
		AllowanceTarget: allowanceTarget,
		Gas:             gas,
		Tx:              providers.TxPayload{To: common.HexToAddress(resp.To), Data: data, Value: value},
		Sources:         sources,
		SlippageBps:     slippage,
		FetchedAt:       c.now().UTC(),
	}, nil
}

func parseGas(v string) uint64 {
	n, ok := providers.ParseBig(v)
	if !ok || !n.IsUint64() {
		return 0
	}
	return n.Uint64()
}
