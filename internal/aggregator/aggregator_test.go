package aggregator

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	clierr "github.com/ggonzalez94/swapdesk/internal/errors"
	"github.com/ggonzalez94/swapdesk/internal/model"
	"github.com/ggonzalez94/swapdesk/internal/providers"
)

type stubProvider struct {
	providers.Executor
	name    string
	enabled bool
	quote   providers.Quote
	err     error
	calls   int
}

func (s *stubProvider) Info() model.ProviderInfo {
	return model.ProviderInfo{Name: s.name, Type: "swap", Enabled: s.enabled}
}

func (s *stubProvider) Quote(context.Context, providers.QuoteRequest) (providers.Quote, error) {
	s.calls++
	return s.quote, s.err
}

func TestQuoteFallsThroughInOrder(t *testing.T) {
	first := &stubProvider{name: "0x", enabled: true, err: clierr.New(clierr.CodeNoRoute, "0x: no route")}
	second := &stubProvider{name: "openocean", enabled: true, quote: providers.Quote{Provider: "openocean", BuyAmount: big.NewInt(7)}}
	third := &stubProvider{name: "1inch", enabled: true}
	agg := New(nil, first, second, third)

	out, err := agg.Quote(context.Background(), providers.QuoteRequest{})
	if err != nil {
		t.Fatalf("Quote failed: %v", err)
	}
	if out.Quote.Provider != "openocean" || out.Provider != second {
		t.Fatalf("expected openocean quote, got %+v", out.Quote)
	}
	if third.calls != 0 {
		t.Fatal("expected later providers to be skipped after a success")
	}
	if len(out.Statuses) != 2 || out.Statuses[0].Status != "no_route" || out.Statuses[1].Status != "ok" {
		t.Fatalf("unexpected statuses: %+v", out.Statuses)
	}
}

func TestQuoteAllFailingIsNoRoute(t *testing.T) {
	agg := New(nil,
		&stubProvider{name: "0x", enabled: true, err: clierr.New(clierr.CodeUnavailable, "0x down")},
		&stubProvider{name: "openocean", enabled: true, err: errors.New("openocean: invalid swap_quote response")},
	)
	_, err := agg.Quote(context.Background(), providers.QuoteRequest{})
	if clierr.CodeOf(err) != clierr.CodeNoRoute {
		t.Fatalf("expected no route, got %v", err)
	}
	typed, _ := clierr.As(err)
	if typed.Message != NoRouteMessage {
		t.Fatalf("unexpected message %q", typed.Message)
	}
	if !strings.Contains(err.Error(), "0x down") || !strings.Contains(err.Error(), "invalid swap_quote") {
		t.Fatalf("expected provider errors in cause, got %v", err)
	}
}

func TestDisabledProvidersAreSkipped(t *testing.T) {
	disabled := &stubProvider{name: "1inch", enabled: false}
	agg := New(nil, disabled)
	if len(agg.Providers()) != 0 || len(agg.Infos()) != 0 {
		t.Fatal("expected disabled provider to be dropped")
	}
	if _, err := agg.Quote(context.Background(), providers.QuoteRequest{}); clierr.CodeOf(err) != clierr.CodeNoRoute {
		t.Fatalf("expected no route with no providers, got %v", err)
	}
}

func TestQuoteStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	first := &stubProvider{name: "0x", enabled: true, err: context.Canceled}
	second := &stubProvider{name: "openocean", enabled: true}
	cancel()
	_, err := New(nil, first, second).Quote(ctx, providers.QuoteRequest{})
	if clierr.CodeOf(err) != clierr.CodeUnavailable || second.calls != 0 {
		t.Fatalf("expected cancellation to stop fallthrough, got %v calls=%d", err, second.calls)
	}
}
