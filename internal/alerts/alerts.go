// Package alerts manages per-user price alerts and the interval checker that
// fires them.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	clierr "github.com/ggonzalez94/swapdesk/internal/errors"
	"github.com/ggonzalez94/swapdesk/internal/id"
	"github.com/ggonzalez94/swapdesk/internal/logging"
	"github.com/ggonzalez94/swapdesk/internal/metrics"
	"github.com/ggonzalez94/swapdesk/internal/model"
	"github.com/ggonzalez94/swapdesk/internal/store"
	"github.com/ggonzalez94/swapdesk/internal/tokenmeta"
)

const DefaultInterval = 30 * time.Second

// Notifier delivers a fired alert to its owner.
type Notifier interface {
	NotifyAlert(ctx context.Context, alert model.PriceAlert, price decimal.Decimal) error
}

type NotifierFunc func(ctx context.Context, alert model.PriceAlert, price decimal.Decimal) error

func (f NotifierFunc) NotifyAlert(ctx context.Context, alert model.PriceAlert, price decimal.Decimal) error {
	return f(ctx, alert, price)
}

type PriceSource interface {
	TokenPrices(ctx context.Context, tokens []common.Address) (map[common.Address]decimal.Decimal, error)
}

type MetaResolver interface {
	Resolve(ctx context.Context, token common.Address) model.TokenInfo
}

type Service struct {
	store    *store.Store
	prices   PriceSource
	tokens   *id.Registry
	meta     MetaResolver
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

func New(st *store.Store, prices PriceSource, tokens *id.Registry, meta MetaResolver, notifier Notifier, logger *zap.Logger) *Service {
	return &Service{
		store:    st,
		prices:   prices,
		tokens:   tokens,
		meta:     meta,
		notifier: notifier,
		logger:   logging.OrNop(logger),
		now:      time.Now,
	}
}

// Add validates and stores a new alert. token is a listed symbol or a
// contract address.
func (s *Service) Add(ctx context.Context, userID, token, condition, target string) (model.PriceAlert, error) {
	condition = strings.ToLower(strings.TrimSpace(condition))
	if condition != model.AlertAbove && condition != model.AlertBelow {
		return model.PriceAlert{}, clierr.New(clierr.CodeUsage, "Condition must be above or below")
	}
	price, err := decimal.NewFromString(strings.TrimSpace(target))
	if err != nil || !price.IsPositive() {
		return model.PriceAlert{}, clierr.New(clierr.CodeUsage, "Target price must be a positive number")
	}
	tok, listed, err := s.tokens.Resolve(token)
	if err != nil {
		return model.PriceAlert{}, err
	}
	symbol := tok.Symbol
	if !listed {
		symbol = tokenmeta.DefaultSymbol
		if s.meta != nil {
			symbol = s.meta.Resolve(ctx, common.HexToAddress(tok.Address)).Symbol
		}
	}
	alert, err := s.store.AddAlert(ctx, model.PriceAlert{
		UserID:       userID,
		TokenAddress: tok.Address,
		Symbol:       symbol,
		TargetPrice:  price.String(),
		Condition:    condition,
	})
	if err != nil {
		return model.PriceAlert{}, clierr.Wrap(clierr.CodeInternal, "save price alert", err)
	}
	return alert, nil
}

func (s *Service) List(ctx context.Context, userID string) ([]model.PriceAlert, error) {
	alerts, err := s.store.ListAlerts(ctx, userID)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "list price alerts", err)
	}
	return alerts, nil
}

func (s *Service) Delete(ctx context.Context, userID, alertID string) error {
	err := s.store.DeleteAlert(ctx, userID, alertID)
	if errors.Is(err, store.ErrNotFound) {
		return clierr.New(clierr.CodeUsage, fmt.Sprintf("Alert %s not found", alertID))
	}
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "delete price alert", err)
	}
	return nil
}

// Crossed reports whether price satisfies the alert condition. Targets that
// no longer parse never fire.
func Crossed(alert model.PriceAlert, price decimal.Decimal) bool {
	target, err := decimal.NewFromString(alert.TargetPrice)
	if err != nil {
		return false
	}
	switch alert.Condition {
	case model.AlertAbove:
		return price.GreaterThanOrEqual(target)
	case model.AlertBelow:
		return price.LessThanOrEqual(target)
	}
	return false
}

// CheckOnce evaluates every pending alert against current prices and returns
// how many fired. A price lookup failure skips the round.
func (s *Service) CheckOnce(ctx context.Context) (int, error) {
	pending, err := s.store.PendingAlerts(ctx)
	if err != nil {
		return 0, clierr.Wrap(clierr.CodeInternal, "load pending alerts", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	seen := map[common.Address]bool{}
	var tokens []common.Address
	for _, a := range pending {
		addr := common.HexToAddress(a.TokenAddress)
		if !seen[addr] {
			seen[addr] = true
			tokens = append(tokens, addr)
		}
	}
	prices, err := s.prices.TokenPrices(ctx, tokens)
	if err != nil && len(prices) == 0 {
		return 0, err
	}

	fired := 0
	for _, a := range pending {
		price, ok := prices[common.HexToAddress(a.TokenAddress)]
		if !ok || !Crossed(a, price) {
			continue
		}
		won, err := s.store.MarkTriggered(ctx, a.ID, s.now())
		if err != nil {
			s.logger.Warn("mark alert triggered failed", zap.String("alert", a.ID), zap.Error(err))
			continue
		}
		if !won {
			continue
		}
		fired++
		metrics.AlertsTriggered.Inc()
		if s.notifier == nil {
			continue
		}
		if err := s.notifier.NotifyAlert(ctx, a, price); err != nil {
			s.logger.Warn("alert notification failed", zap.String("alert", a.ID), zap.String("user", a.UserID), zap.Error(err))
		}
	}
	return fired, nil
}

// Run checks alerts every interval until ctx is cancelled.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.CheckOnce(ctx)
			if err != nil {
				s.logger.Warn("price alert check failed", zap.Error(err))
				continue
			}
			if n > 0 {
				s.logger.Info("price alerts fired", zap.Int("count", n))
			}
		}
	}
}
