// Package pricefeed reads USD prices from CoinGecko. Prices are cached for a
// minute and a failed lookup is reported as "no price", never as an error
// that blocks trading.
package pricefeed

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ggonzalez94/swapdesk/internal/cache"
	clierr "github.com/ggonzalez94/swapdesk/internal/errors"
	"github.com/ggonzalez94/swapdesk/internal/httpx"
	"github.com/ggonzalez94/swapdesk/internal/logging"
	"github.com/ggonzalez94/swapdesk/internal/registry"
)

const (
	cacheNamespace = "price"
	ethKey         = "eth-usd"
	DefaultTTL     = 60 * time.Second
)

type Client struct {
	http     *httpx.Client
	baseURL  string
	platform string
	cache    *cache.Store
	ttl      time.Duration
	logger   *zap.Logger
}

func New(httpClient *httpx.Client, baseURL string, store *cache.Store, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = registry.CoinGeckoBaseURL
	}
	return &Client{
		http:     httpClient,
		baseURL:  strings.TrimRight(baseURL, "/"),
		platform: registry.CoinGeckoBasePlatform,
		cache:    store,
		ttl:      DefaultTTL,
		logger:   logging.OrNop(logger),
	}
}

type cachedPrice struct {
	USD decimal.Decimal `json:"usd"`
}

// ETHUSD returns the ether price, ok=false when it is unavailable.
func (c *Client) ETHUSD(ctx context.Context) (decimal.Decimal, bool) {
	var hit cachedPrice
	if ok, _ := c.cache.GetJSON(cacheNamespace, ethKey, &hit); ok {
		return hit.USD, true
	}
	vals := url.Values{}
	vals.Set("ids", "ethereum")
	vals.Set("vs_currencies", "usd")
	var resp map[string]map[string]decimal.Decimal
	if err := c.get(ctx, "/simple/price?"+vals.Encode(), &resp); err != nil {
		c.logger.Warn("eth price unavailable", zap.Error(err))
		return decimal.Zero, false
	}
	price, ok := resp["ethereum"]["usd"]
	if !ok || !price.IsPositive() {
		return decimal.Zero, false
	}
	c.store(ethKey, price)
	return price, true
}

// TokenPrices looks up USD prices for Base token contracts. Tokens CoinGecko
// does not list are absent from the result.
func (c *Client) TokenPrices(ctx context.Context, tokens []common.Address) (map[common.Address]decimal.Decimal, error) {
	out := make(map[common.Address]decimal.Decimal, len(tokens))
	var missing []string
	for _, token := range tokens {
		var hit cachedPrice
		if ok, _ := c.cache.GetJSON(cacheNamespace, token.Hex(), &hit); ok {
			out[token] = hit.USD
			continue
		}
		missing = append(missing, strings.ToLower(token.Hex()))
	}
	if len(missing) == 0 {
		return out, nil
	}

	vals := url.Values{}
	vals.Set("contract_addresses", strings.Join(missing, ","))
	vals.Set("vs_currencies", "usd")
	var resp map[string]map[string]decimal.Decimal
	if err := c.get(ctx, fmt.Sprintf("/simple/token_price/%s?%s", c.platform, vals.Encode()), &resp); err != nil {
		return out, err
	}
	for addr, quote := range resp {
		price, ok := quote["usd"]
		if !ok || !common.IsHexAddress(addr) {
			continue
		}
		token := common.HexToAddress(addr)
		out[token] = price
		c.store(token.Hex(), price)
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "build coingecko request", err)
	}
	_, err = c.http.DoJSON(ctx, req, out)
	return err
}

func (c *Client) store(key string, price decimal.Decimal) {
	if err := c.cache.SetJSON(cacheNamespace, key, cachedPrice{USD: price}, c.ttl); err != nil {
		c.logger.Debug("price cache write failed", zap.Error(err))
	}
}
