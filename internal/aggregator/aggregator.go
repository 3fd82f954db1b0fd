// Package aggregator asks swap providers for quotes in priority order and
// returns the first usable one.
package aggregator

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	clierr "github.com/ggonzalez94/swapdesk/internal/errors"
	"github.com/ggonzalez94/swapdesk/internal/logging"
	"github.com/ggonzalez94/swapdesk/internal/metrics"
	"github.com/ggonzalez94/swapdesk/internal/model"
	"github.com/ggonzalez94/swapdesk/internal/providers"
)

const NoRouteMessage = "No aggregator route for this pair/amount. Try smaller size or another DEX."

type Aggregator struct {
	providers []providers.SwapProvider
	logger    *zap.Logger
}

// New keeps enabled providers in the order given.
func New(logger *zap.Logger, ps ...providers.SwapProvider) *Aggregator {
	a := &Aggregator{logger: logging.OrNop(logger)}
	for _, p := range ps {
		if p != nil && p.Info().Enabled {
			a.providers = append(a.providers, p)
		}
	}
	return a
}

func (a *Aggregator) Providers() []providers.SwapProvider {
	return append([]providers.SwapProvider(nil), a.providers...)
}

func (a *Aggregator) Infos() []model.ProviderInfo {
	out := make([]model.ProviderInfo, 0, len(a.providers))
	for _, p := range a.providers {
		out = append(out, p.Info())
	}
	return out
}

// Outcome is a quote together with the provider that produced it and the
// status of every provider that was tried.
type Outcome struct {
	Quote    providers.Quote
	Provider providers.SwapProvider
	Statuses []model.ProviderStatus
}

// Quote falls through providers on any failure. When all fail the error is
// CodeNoRoute wrapping every provider error.
func (a *Aggregator) Quote(ctx context.Context, req providers.QuoteRequest) (Outcome, error) {
	var (
		out  Outcome
		errs []error
	)
	for _, p := range a.providers {
		name := p.Info().Name
		start := time.Now()
		q, err := p.Quote(ctx, req)
		elapsed := time.Since(start)
		metrics.QuoteDuration.WithLabelValues(name).Observe(elapsed.Seconds())
		metrics.QuoteRequests.WithLabelValues(name, statusOf(err)).Inc()
		out.Statuses = append(out.Statuses, model.ProviderStatus{Name: name, Status: statusOf(err), LatencyMS: elapsed.Milliseconds()})
		if err == nil {
			out.Quote = q
			out.Provider = p
			return out, nil
		}
		if ctx.Err() != nil {
			return out, clierr.Wrap(clierr.CodeUnavailable, "quote cancelled", ctx.Err())
		}
		a.logger.Info("aggregator quote failed, trying next provider",
			zap.String("provider", name),
			zap.String("category", string(clierr.CategoryOf(err))),
			zap.Error(err),
		)
		errs = append(errs, err)
	}
	if len(a.providers) == 0 {
		return out, clierr.New(clierr.CodeNoRoute, "no swap providers are enabled")
	}
	return out, clierr.Wrap(clierr.CodeNoRoute, NoRouteMessage, errors.Join(errs...))
}

func statusOf(err error) string {
	switch clierr.CodeOf(err) {
	case clierr.CodeSuccess:
		return "ok"
	case clierr.CodeNoRoute:
		return "no_route"
	case clierr.CodeAuth:
		return "auth_error"
	case clierr.CodeRateLimited:
		return "rate_limited"
	default:
		return "error"
	}
}
