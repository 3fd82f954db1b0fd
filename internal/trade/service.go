// Package trade runs buy, sell and withdraw attempts end to end: resolve the
// token, quote through the aggregator, approve, check gas, send and record.
// Every error leaving this package carries a clierr code, so callers can map
// it onto the user-facing taxonomy.
package trade

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ggonzalez94/swapdesk/internal/aggregator"
	"github.com/ggonzalez94/swapdesk/internal/custody"
	clierr "github.com/ggonzalez94/swapdesk/internal/errors"
	"github.com/ggonzalez94/swapdesk/internal/events"
	"github.com/ggonzalez94/swapdesk/internal/execution"
	"github.com/ggonzalez94/swapdesk/internal/execution/signer"
	"github.com/ggonzalez94/swapdesk/internal/id"
	"github.com/ggonzalez94/swapdesk/internal/logging"
	"github.com/ggonzalez94/swapdesk/internal/metrics"
	"github.com/ggonzalez94/swapdesk/internal/model"
	"github.com/ggonzalez94/swapdesk/internal/registry"
	"github.com/ggonzalez94/swapdesk/internal/store"
	"github.com/ggonzalez94/swapdesk/internal/tokenmeta"
)

const (
	StageResolving = "resolving"
	StageQuoting   = "quoting"
	StageAllowance = "allowance_check"
	StageApprove   = "approve"
	StageGasCheck  = "gas_check"
	StageSending   = "sending"
	StageConfirmed = "confirmed"
	StageFailed    = "failed"

	MinSlippageBps = 1
	MaxSlippageBps = 2000
	MaxGasBoostBps = 10_000

	// defaultSwapGas prices the gas check when an aggregator omits a limit.
	defaultSwapGas = 300_000
)

// PriceSource supplies the ETH/USD rate used to price gas. ok=false means no
// rate is available and USD figures are left empty.
type PriceSource interface {
	ETHUSD(ctx context.Context) (decimal.Decimal, bool)
}

type Config struct {
	ChainID            int64
	Stable             model.TokenInfo
	MinBuy             decimal.Decimal
	DefaultSlippageBps int64
}

type Service struct {
	cfg     Config
	agg     *aggregator.Aggregator
	sender  *execution.Sender
	tokens  *id.Registry
	meta    *tokenmeta.Resolver
	prices  PriceSource
	store   *store.Store
	custody *custody.Service
	events  events.Broadcaster
	logger  *zap.Logger
	now     func() time.Time
}

type Deps struct {
	Aggregator *aggregator.Aggregator
	Sender     *execution.Sender
	Tokens     *id.Registry
	Meta       *tokenmeta.Resolver
	Prices     PriceSource
	Store      *store.Store
	Custody    *custody.Service
	Events     events.Broadcaster
	Logger     *zap.Logger
}

func New(cfg Config, deps Deps) *Service {
	if cfg.DefaultSlippageBps == 0 {
		cfg.DefaultSlippageBps = 100
	}
	if cfg.Stable.Symbol == "" {
		cfg.Stable = model.TokenInfo{Address: registry.BaseUSDC, Symbol: "USDC", Name: "USD Coin", Decimals: 6}
	}
	if cfg.MinBuy.IsZero() {
		cfg.MinBuy = decimal.NewFromInt(3)
	}
	broadcaster := deps.Events
	if broadcaster == nil {
		broadcaster = events.Nop{}
	}
	meta := deps.Meta
	if meta == nil && deps.Sender != nil {
		meta = tokenmeta.New(deps.Sender.Pool(), deps.Tokens, nil, deps.Logger)
	} else if meta == nil {
		meta = tokenmeta.NewWithSources(nil, deps.Logger)
	}
	return &Service{
		cfg:     cfg,
		agg:     deps.Aggregator,
		sender:  deps.Sender,
		tokens:  deps.Tokens,
		meta:    meta,
		prices:  deps.Prices,
		store:   deps.Store,
		custody: deps.Custody,
		events:  broadcaster,
		logger:  logging.OrNop(deps.Logger),
		now:     time.Now,
	}
}

func (s *Service) Stable() model.TokenInfo { return s.cfg.Stable }

func (s *Service) MinBuy() decimal.Decimal { return s.cfg.MinBuy }

func normalizeSide(side string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(side)) {
	case model.TradeSideBuy:
		return model.TradeSideBuy, nil
	case model.TradeSideSell:
		return model.TradeSideSell, nil
	default:
		return "", clierr.New(clierr.CodeUsage, "side must be buy or sell")
	}
}

// ValidateSlippage accepts 1..2000 bps.
func ValidateSlippage(bps int64) error {
	if bps < MinSlippageBps || bps > MaxSlippageBps {
		return clierr.New(clierr.CodeUsage, fmt.Sprintf("slippage must be between %d and %d bps", MinSlippageBps, MaxSlippageBps))
	}
	return nil
}

func ValidateGasBoost(bps int64) error {
	if bps < 0 || bps > MaxGasBoostBps {
		return clierr.New(clierr.CodeUsage, fmt.Sprintf("gas boost must be between 0 and %d bps", MaxGasBoostBps))
	}
	return nil
}

// checkMinBuy runs before any network call.
func (s *Service) checkMinBuy(amount string) error {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid amount %q", amount))
	}
	if d.LessThan(s.cfg.MinBuy) {
		return clierr.New(clierr.CodeUsage, fmt.Sprintf("Minimum buy is %s %s", s.cfg.MinBuy.String(), s.cfg.Stable.Symbol))
	}
	return nil
}

// resolveToken accepts a 0x address or a registry symbol. Unlisted addresses
// get their metadata from the resolver chain.
func (s *Service) resolveToken(ctx context.Context, input string) (model.TokenInfo, error) {
	if strings.TrimSpace(input) == "" {
		return model.TokenInfo{}, clierr.New(clierr.CodeUsage, "token is required")
	}
	if registry.IsNativePlaceholder(input) || strings.EqualFold(strings.TrimSpace(input), "ETH") {
		return s.meta.Resolve(ctx, common.HexToAddress(registry.NativeTokenPlaceholder)), nil
	}
	tok, listed, err := s.tokens.Resolve(input)
	if err != nil {
		return model.TokenInfo{}, err
	}
	if listed {
		return model.TokenInfo{Address: tok.Address, Symbol: tok.Symbol, Name: tok.Symbol, Decimals: tok.Decimals}, nil
	}
	return s.meta.Resolve(ctx, common.HexToAddress(tok.Address)), nil
}

func (s *Service) pair(side string, token model.TokenInfo) (sell, buy model.TokenInfo) {
	if side == model.TradeSideBuy {
		return s.cfg.Stable, token
	}
	return token, s.cfg.Stable
}

func (s *Service) loadSigner(ctx context.Context, userID string) (store.Wallet, signer.Signer, error) {
	w, err := s.getWallet(ctx, userID)
	if err != nil {
		return store.Wallet{}, nil, err
	}
	sg, err := s.custody.Signer(w.EncryptedKey)
	if err != nil {
		return store.Wallet{}, nil, err
	}
	return w, sg, nil
}

// attempt publishes the stage transitions of one trade.
type attempt struct {
	svc      *Service
	userID   string
	side     string
	provider string
	txHash   string
	tradeID  string
}

func (s *Service) begin(userID, side string) *attempt {
	return &attempt{svc: s, userID: userID, side: side}
}

func (a *attempt) stage(ctx context.Context, stage, message string) {
	metrics.TradeStage.WithLabelValues(stage).Inc()
	ev := model.TradeEvent{
		UserID:    a.userID,
		Side:      a.side,
		Stage:     stage,
		Message:   message,
		Provider:  a.provider,
		TxHash:    a.txHash,
		TradeID:   a.tradeID,
		Timestamp: a.svc.now().UTC(),
	}
	if err := a.svc.events.Publish(ctx, ev); err != nil {
		a.svc.logger.Warn("trade event publish failed", zap.String("stage", stage), zap.Error(err))
	}
}

func (a *attempt) fail(ctx context.Context, err error) {
	metrics.TradeStage.WithLabelValues(StageFailed).Inc()
	ev := model.TradeEvent{
		UserID:    a.userID,
		Side:      a.side,
		Stage:     StageFailed,
		Provider:  a.provider,
		TxHash:    a.txHash,
		TradeID:   a.tradeID,
		Error:     clierr.UserMessage(err),
		Timestamp: a.svc.now().UTC(),
	}
	if perr := a.svc.events.Publish(ctx, ev); perr != nil {
		a.svc.logger.Warn("trade event publish failed", zap.String("stage", StageFailed), zap.Error(perr))
	}
}

func (a *attempt) finish(err error) {
	status := model.TradeStatusCompleted
	if err != nil {
		status = model.TradeStatusFailed
	}
	metrics.Trades.WithLabelValues(a.side, status).Inc()
}

// record appends a trade row. Only attempts that broadcast something are
// recorded.
func (s *Service) record(ctx context.Context, rec model.TradeRecord, cause error) model.TradeRecord {
	rec.Status = model.TradeStatusCompleted
	if cause != nil {
		rec.Status = model.TradeStatusFailed
		rec.Error = cause.Error()
	}
	saved, err := s.store.AppendTrade(context.WithoutCancel(ctx), rec)
	if err != nil {
		s.logger.Error("append trade record failed",
			zap.String("user", rec.UserID),
			zap.String("tx_hash", rec.TxHash),
			zap.Error(err),
		)
		return rec
	}
	return saved
}
