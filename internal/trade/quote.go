package trade

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	clierr "github.com/ggonzalez94/swapdesk/internal/errors"
	"github.com/ggonzalez94/swapdesk/internal/id"
	"github.com/ggonzalez94/swapdesk/internal/model"
	"github.com/ggonzalez94/swapdesk/internal/providers"
)

// Preview is a priced, side-effect-free quote together with the provider
// attempts that produced it.
type Preview struct {
	Quote     model.SwapQuote
	Providers []model.ProviderStatus
}

// Quote prices a trade without touching any wallet. For buys amount is in
// the stable asset, for sells in the token.
func (s *Service) Quote(ctx context.Context, side, token, amount string, slippageBps int64) (Preview, error) {
	side, err := normalizeSide(side)
	if err != nil {
		return Preview{}, err
	}
	if side == model.TradeSideBuy {
		if err := s.checkMinBuy(amount); err != nil {
			return Preview{}, err
		}
	}
	if slippageBps == 0 {
		slippageBps = s.cfg.DefaultSlippageBps
	}
	if err := ValidateSlippage(slippageBps); err != nil {
		return Preview{}, err
	}

	tok, err := s.resolveToken(ctx, token)
	if err != nil {
		return Preview{}, err
	}
	sellTok, buyTok := s.pair(side, tok)
	sellAmount, err := parseAmount(amount, sellTok.Decimals)
	if err != nil {
		return Preview{}, err
	}

	out, err := s.agg.Quote(ctx, s.quoteRequest(ctx, sellTok, buyTok, sellAmount, common.Address{}, slippageBps))
	if err != nil {
		return Preview{Providers: out.Statuses}, err
	}
	return Preview{Quote: s.describe(ctx, side, out.Quote, sellTok, buyTok), Providers: out.Statuses}, nil
}

func (s *Service) quoteRequest(ctx context.Context, sellTok, buyTok model.TokenInfo, sellAmount *big.Int, taker common.Address, slippageBps int64) providers.QuoteRequest {
	req := providers.QuoteRequest{
		SellToken:   common.HexToAddress(sellTok.Address),
		BuyToken:    common.HexToAddress(buyTok.Address),
		SellAmount:  sellAmount,
		Taker:       taker,
		SlippageBps: slippageBps,
	}
	if s.sender != nil {
		if price, err := s.sender.GasPrice(ctx); err == nil {
			req.GasPrice = price
		} else {
			s.logger.Debug("gas price unavailable for quote", zap.Error(err))
		}
	}
	return req
}

func parseAmount(amount string, decimals int) (*big.Int, error) {
	n, err := id.ParseUnits(amount, decimals)
	if err != nil {
		return nil, err
	}
	if n.Sign() <= 0 {
		return nil, clierr.New(clierr.CodeUsage, "amount must be greater than zero")
	}
	return n, nil
}

func amountOf(n *big.Int, decimals int) model.AmountInfo {
	if n == nil {
		n = new(big.Int)
	}
	return model.AmountInfo{
		AmountBaseUnits: n.String(),
		AmountDecimal:   id.FormatUnits(n, decimals),
		Decimals:        decimals,
	}
}

// describe renders a provider quote with human-readable amounts, a gas
// estimate in ETH and USD and a single-leg breakdown.
func (s *Service) describe(ctx context.Context, side string, q providers.Quote, sellTok, buyTok model.TokenInfo) model.SwapQuote {
	out := model.SwapQuote{
		Provider:        q.Provider,
		Side:            side,
		ChainID:         s.cfg.ChainID,
		SellToken:       sellTok,
		BuyToken:        buyTok,
		SellAmount:      amountOf(q.SellAmount, sellTok.Decimals),
		BuyAmount:       amountOf(q.BuyAmount, buyTok.Decimals),
		MinBuyAmount:    amountOf(q.MinBuyAmount, buyTok.Decimals),
		Price:           q.Price,
		GuaranteedPrice: q.GuaranteedPrice,
		SlippageBps:     q.SlippageBps,
		Sources:         q.Sources,
		FetchedAt:       q.FetchedAt.UTC().Format(time.RFC3339),
		Legs: []model.QuoteLeg{{
			Provider:   q.Provider,
			SellToken:  sellTok.Symbol,
			BuyToken:   buyTok.Symbol,
			SellAmount: id.FormatUnits(q.SellAmount, sellTok.Decimals),
			BuyAmount:  id.FormatUnits(q.BuyAmount, buyTok.Decimals),
		}},
	}
	if q.AllowanceTarget != (common.Address{}) {
		out.AllowanceTarget = q.AllowanceTarget.Hex()
	}
	gasLimit := q.Gas
	if gasLimit == 0 {
		gasLimit = defaultSwapGas
	}
	var price *big.Int
	if s.sender != nil {
		if p, err := s.sender.GasPrice(ctx); err == nil {
			price = p
		}
	}
	out.Gas = s.gasEstimate(ctx, gasLimit, price)
	return out
}

// gasEstimate prices gasLimit at price. A missing price yields zero cost.
func (s *Service) gasEstimate(ctx context.Context, gasLimit uint64, price *big.Int) model.GasEstimate {
	if price == nil {
		price = new(big.Int)
	}
	cost := new(big.Int).Mul(new(big.Int).SetUint64(gasLimit), price)
	return s.gasCost(ctx, gasLimit, price, cost)
}

func (s *Service) gasCost(ctx context.Context, gasLimit uint64, price, cost *big.Int) model.GasEstimate {
	est := model.GasEstimate{
		GasLimit:    gasLimit,
		GasPriceWei: price.String(),
		CostWei:     cost.String(),
		CostETH:     id.FormatUnits(cost, 18),
	}
	if s.prices == nil {
		return est
	}
	if ethUSD, ok := s.prices.ETHUSD(ctx); ok {
		usd, _ := id.ToDecimal(cost, 18).Mul(ethUSD).Round(6).Float64()
		est.CostUSD = &usd
	}
	return est
}
