package app

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ggonzalez94/swapdesk/internal/aggregator"
	"github.com/ggonzalez94/swapdesk/internal/alerts"
	"github.com/ggonzalez94/swapdesk/internal/cache"
	"github.com/ggonzalez94/swapdesk/internal/config"
	"github.com/ggonzalez94/swapdesk/internal/custody"
	clierr "github.com/ggonzalez94/swapdesk/internal/errors"
	"github.com/ggonzalez94/swapdesk/internal/events"
	"github.com/ggonzalez94/swapdesk/internal/execution"
	"github.com/ggonzalez94/swapdesk/internal/httpx"
	"github.com/ggonzalez94/swapdesk/internal/id"
	"github.com/ggonzalez94/swapdesk/internal/model"
	"github.com/ggonzalez94/swapdesk/internal/pricefeed"
	"github.com/ggonzalez94/swapdesk/internal/providers"
	"github.com/ggonzalez94/swapdesk/internal/providers/oneinch"
	"github.com/ggonzalez94/swapdesk/internal/providers/openocean"
	"github.com/ggonzalez94/swapdesk/internal/providers/zerox"
	"github.com/ggonzalez94/swapdesk/internal/rpcpool"
	"github.com/ggonzalez94/swapdesk/internal/store"
	"github.com/ggonzalez94/swapdesk/internal/tokenmeta"
	"github.com/ggonzalez94/swapdesk/internal/trade"
)

// deps holds everything a trading command needs. It is built once per run,
// after configuration is loaded.
type deps struct {
	pool    *rpcpool.Pool
	sender  *execution.Sender
	cache   *cache.Store
	store   *store.Store
	tokens  *id.Registry
	meta    *tokenmeta.Resolver
	prices  *pricefeed.Client
	agg     *aggregator.Aggregator
	trader  *trade.Service
	alerts  *alerts.Service
	closers []func()
}

func (d *deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

// swapProviders lists the aggregators in fallback order.
func swapProviders(httpClient *httpx.Client, sender *execution.Sender, settings config.Settings) []providers.SwapProvider {
	return []providers.SwapProvider{
		zerox.New(httpClient, sender, settings.ZeroXQuoteURL, settings.ZeroXAPIKey),
		openocean.New(httpClient, sender, settings.OpenOceanBaseURL),
		oneinch.New(httpClient, sender, "", settings.OneInchAPIKey, settings.ChainID),
	}
}

func providerInfos(settings config.Settings) []model.ProviderInfo {
	infos := []model.ProviderInfo{}
	for _, p := range swapProviders(nil, nil, settings) {
		infos = append(infos, p.Info())
	}
	return infos
}

func buildDeps(settings config.Settings, logger *zap.Logger, broadcaster events.Broadcaster, needCustody bool) (*deps, error) {
	d := &deps{}
	ok := false
	defer func() {
		if !ok {
			d.Close()
		}
	}()

	extra := make([]id.Token, 0, len(settings.Tokens)+1)
	extra = append(extra, id.Token{Symbol: settings.StableSymbol, Address: settings.StableAddress, Decimals: settings.StableDecimals})
	for _, t := range settings.Tokens {
		extra = append(extra, id.Token{Symbol: t.Symbol, Address: t.Address, Decimals: t.Decimals})
	}
	tokens, err := id.NewRegistry(extra...)
	if err != nil {
		return nil, err
	}
	d.tokens = tokens

	pool, err := rpcpool.New(settings.RPCURLs, rpcpool.WithAttemptTimeout(settings.RPCTimeout), rpcpool.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	d.pool = pool
	d.closers = append(d.closers, pool.Close)

	d.sender = execution.NewSender(pool, settings.ChainID, execution.Options{
		PollInterval:   settings.PollInterval,
		ConfirmTimeout: settings.ConfirmTimeout,
		GasMultiplier:  settings.GasMultiplier,
		MaxApproval:    settings.ApprovalMode == config.ApprovalModeMax,
	}, logger)

	if settings.CacheEnabled {
		c, err := cache.Open(settings.CachePath, settings.CacheLockPath)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeInternal, "open cache", err)
		}
		d.cache = c
		d.closers = append(d.closers, func() { _ = c.Close() })
	}

	st, err := store.Open(settings.StorePath, settings.StoreLockPath)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "open store", err)
	}
	d.store = st
	d.closers = append(d.closers, func() { _ = st.Close() })

	var vault *custody.Service
	if needCustody {
		vault, err = custody.New(settings.WalletSecret)
		if err != nil {
			return nil, err
		}
	}

	httpClient := httpx.New(settings.Timeout, settings.Retries)
	d.meta = tokenmeta.New(pool, tokens, d.cache, logger)
	d.prices = pricefeed.New(httpClient, settings.CoinGeckoBaseURL, d.cache, logger)
	d.agg = aggregator.New(logger, swapProviders(httpClient, d.sender, settings)...)

	minBuy, err := decimal.NewFromString(settings.StableMinBuy)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "parse stable min buy", err)
	}
	d.trader = trade.New(trade.Config{
		ChainID:            settings.ChainID,
		Stable:             model.TokenInfo{Address: id.ChecksumAddress(settings.StableAddress), Symbol: settings.StableSymbol, Decimals: settings.StableDecimals},
		MinBuy:             minBuy,
		DefaultSlippageBps: settings.DefaultSlippageBps,
	}, trade.Deps{
		Aggregator: d.agg,
		Sender:     d.sender,
		Tokens:     tokens,
		Meta:       d.meta,
		Prices:     d.prices,
		Store:      st,
		Custody:    vault,
		Events:     broadcaster,
		Logger:     logger,
	})
	d.alerts = alerts.New(st, d.prices, tokens, d.meta, nil, logger)

	ok = true
	return d, nil
}
