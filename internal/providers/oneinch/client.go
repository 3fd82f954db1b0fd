// Package oneinch quotes swaps on the 1inch Swap API. It is only enabled
// when an API key is configured.
package oneinch

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

	clierr "github.com/ggonzalez94/swapdesk/internal/errors"
	"github.com/ggonzalez94/swapdesk/internal/execution"
	"github.com/ggonzalez94/swapdesk/internal/httpx"
	"github.com/ggonzalez94/swapdesk/internal/model"
	"github.com/ggonzalez94/swapdesk/internal/providers"
	"github.com/ggonzalez94/swapdesk/internal/registry"
)

const Name = "1inch"

type Client struct {
	providers.Executor

	http    *httpx.Client
	baseURL string
	apiKey  string
	chainID int64
	now     func() time.Time
}

func New(httpClient *httpx.Client, sender *execution.Sender, baseURL, apiKey string, chainID int64) *Client {
	if baseURL == "" {
		baseURL = registry.OneInchBaseURL
	}
	if chainID == 0 {
		chainID = registry.BaseChainID
	}
	return &Client{
		Executor: providers.Executor{Sender: sender},
		http:     httpClient,
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		chainID:  chainID,
		now:      time.Now,
	}
}

func (c *Client) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:          Name,
		Type:          "swap",
		Priority:      3,
		Enabled:       c.apiKey != "",
		RequiresKey:   true,
		KeyEnvVarName: "SWAPDESK_1INCH_API_KEY",
		Capabilities:  []string{"swap.quote", "swap.execute"},
	}
}

type swapResponse struct {
	DstAmount string `json:"dstAmount"`
	Tx        struct {
		To    string `json:"to"`
		Data  string `json:"data"`
		Value string `json:"value"`
		Gas   uint64 `json:"gas"`
	} `json:"tx"`
	Protocols [][][]struct {
		Name string `json:"name"`
	} `json:"protocols"`
}

func (c *Client) Quote(ctx context.Context, req providers.QuoteRequest) (providers.Quote, error) {
	if c.apiKey == "" {
		return providers.Quote{}, clierr.New(clierr.CodeAuth, "missing required API key for 1inch (SWAPDESK_1INCH_API_KEY)")
	}
	if req.SellAmount == nil || req.SellAmount.Sign() <= 0 {
		return providers.Quote{}, clierr.New(clierr.CodeUsage, "sell amount must be positive")
	}
	slippage := providers.ClampSlippage(req.SlippageBps)
	vals := url.Values{}
	vals.Set("src", req.SellToken.Hex())
	vals.Set("dst", req.BuyToken.Hex())
	vals.Set("amount", req.SellAmount.String())
	vals.Set("from", req.Taker.Hex())
	vals.Set("origin", req.Taker.Hex())
	vals.Set("slippage", strconv.FormatFloat(float64(slippage)/100, 'f', -1, 64))
	vals.Set("disableEstimate", "true")
	vals.Set("includeProtocols", "true")

	endpoint := fmt.Sprintf("%s/swap/v6.0/%d/swap?%s", c.baseURL, c.chainID, vals.Encode())
	hReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return providers.Quote{}, clierr.Wrap(clierr.CodeInternal, "build 1inch swap request", err)
	}
	hReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	var resp swapResponse
	if _, err := c.http.DoJSON(ctx, hReq, &resp); err != nil {
		return providers.Quote{}, providers.WrapQuoteError(Name, err)
	}
	if resp.DstAmount == "" {
		return providers.Quote{}, clierr.New(clierr.CodeUnavailable, "1inch quote missing destination amount")
	}
	if !common.IsHexAddress(resp.Tx.To) || resp.Tx.Data == "" {
		return providers.Quote{}, clierr.New(clierr.CodeUnavailable, "1inch quote missing transaction payload")
	}
	data, err := hexutil.Decode(resp.Tx.Data)
	if err != nil {
		return providers.Quote{}, clierr.Wrap(clierr.CodeUnavailable, "1inch quote has malformed calldata", err)
	}
	buyAmount, ok := providers.ParseBig(resp.DstAmount)
	if !ok || buyAmount.Sign() == 0 {
		return providers.Quote{}, clierr.New(clierr.CodeUnavailable, "1inch quote has malformed destination amount")
	}
	value, ok := providers.ParseBig(resp.Tx.Value)
	if !ok {
		return providers.Quote{}, clierr.New(clierr.CodeUnavailable, "1inch quote has malformed value")
	}
	router := common.HexToAddress(resp.Tx.To)
	return providers.Quote{
		Provider:        Name,
		SellToken:       req.SellToken,
		BuyToken:        req.BuyToken,
		SellAmount:      new(big.Int).Set(req.SellAmount),
		BuyAmount:       buyAmount,
		MinBuyAmount:    execution.MinOutput(buyAmount, slippage),
		AllowanceTarget: router,
		Gas:             resp.Tx.Gas,
		Tx:              providers.TxPayload{To: router, Data: data, Value: value},
		Sources:         protocolNames(resp),
		SlippageBps:     slippage,
		FetchedAt:       c.now().UTC(),
	}, nil
}

func protocolNames(resp swapResponse) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, route := range resp.Protocols {
		for _, hop := range route {
			for _, p := range hop {
				if _, ok := seen[p.Name]; ok || p.Name == "" {
					continue
				}
				seen[p.Name] = struct{}{}
				out = append(out, p.Name)
			}
		}
	}
	if len(out) == 0 {
		out = []string{Name}
	}
	return out
}
