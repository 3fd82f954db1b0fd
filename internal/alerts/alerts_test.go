package alerts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	clierr "github.com/ggonzalez94/swapdesk/internal/errors"
	"github.com/ggonzalez94/swapdesk/internal/httpx"
	"github.com/ggonzalez94/swapdesk/internal/id"
	"github.com/ggonzalez94/swapdesk/internal/model"
	"github.com/ggonzalez94/swapdesk/internal/pricefeed"
	"github.com/ggonzalez94/swapdesk/internal/store"
)

const tokAddr = "0x00000000000000000000000000000000000000d2"

type capture struct {
	mu    sync.Mutex
	fired []string
}

func (c *capture) NotifyAlert(_ context.Context, a model.PriceAlert, price decimal.Decimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fired = append(c.fired, a.UserID+":"+a.Condition+":"+price.String())
	return nil
}

func newService(t *testing.T, price string) (*Service, *capture, *atomic.Int32) {
	t.Helper()
	calls := new(atomic.Int32)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/simple/token_price/base" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if !strings.Contains(r.URL.Query().Get("contract_addresses"), tokAddr) {
			t.Errorf("expected token address in %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"` + tokAddr + `":{"usd":` + price + `}}`))
	}))
	t.Cleanup(srv.Close)

	tmp := t.TempDir()
	st, err := store.Open(filepath.Join(tmp, "store.db"), filepath.Join(tmp, "store.lock"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	tokens, err := id.NewRegistry(id.Token{Symbol: "TOK", Address: tokAddr, Decimals: 18})
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	prices := pricefeed.New(httpx.New(time.Second, 0), srv.URL, nil, nil)
	notes := &capture{}
	return New(st, prices, tokens, nil, notes, nil), notes, calls
}

func TestAddValidates(t *testing.T) {
	svc, _, _ := newService(t, "1")
	ctx := context.Background()
	cases := []struct {
		name, token, cond, target string
	}{
		{"condition", "TOK", "sideways", "1"},
		{"negative target", "TOK", "above", "-1"},
		{"garbage target", "TOK", "above", "abc"},
		{"unknown symbol", "NOPE", "above", "1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Add(ctx, "u1", tc.token, tc.cond, tc.target)
			if clierr.CodeOf(err) != clierr.CodeUsage {
				t.Fatalf("expected usage error, got %v", err)
			}
		})
	}
	alert, err := svc.Add(ctx, "u1", "tok", "Above", "2.50")
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if alert.Symbol != "TOK" || alert.Condition != model.AlertAbove || alert.TargetPrice != "2.5" || !alert.Active {
		t.Fatalf("unexpected alert %+v", alert)
	}
}

func TestCheckOnceFiresCrossedAlertsOnce(t *testing.T) {
	svc, notes, calls := newService(t, "3.1")
	ctx := context.Background()
	if _, err := svc.Add(ctx, "u1", "TOK", "above", "3"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Add(ctx, "u2", tokAddr, "below", "3"); err != nil {
		t.Fatal(err)
	}

	n, err := svc.CheckOnce(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected one alert to fire, got %d err=%v", n, err)
	}
	if len(notes.fired) != 1 || notes.fired[0] != "u1:above:3.1" {
		t.Fatalf("unexpected notifications %v", notes.fired)
	}

	n, err = svc.CheckOnce(ctx)
	if err != nil || n != 0 {
		t.Fatalf("expected triggered alert to stay quiet, got %d err=%v", n, err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected a price lookup per round with pending alerts, got %d", calls.Load())
	}

	list, err := svc.List(ctx, "u1")
	if err != nil || len(list) != 1 || !list[0].Triggered || list[0].Active || list[0].TriggeredAt == nil {
		t.Fatalf("unexpected stored alert %+v err=%v", list, err)
	}
}

func TestCheckOnceWithoutPendingSkipsPriceLookup(t *testing.T) {
	svc, _, calls := newService(t, "1")
	if n, err := svc.CheckOnce(context.Background()); err != nil || n != 0 {
		t.Fatalf("unexpected result %d err=%v", n, err)
	}
	if calls.Load() != 0 {
		t.Fatalf("expected no upstream call, got %d", calls.Load())
	}
}

func TestDelete(t *testing.T) {
	svc, _, _ := newService(t, "1")
	ctx := context.Background()
	alert, err := svc.Add(ctx, "u1", "TOK", "below", "1")
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Delete(ctx, "u2", alert.ID); clierr.CodeOf(err) != clierr.CodeUsage {
		t.Fatalf("expected other users to be unable to delete, got %v", err)
	}
	if err := svc.Delete(ctx, "u1", alert.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if list, _ := svc.List(ctx, "u1"); len(list) != 0 {
		t.Fatalf("expected no alerts, got %+v", list)
	}
}

func TestCrossed(t *testing.T) {
	price := decimal.RequireFromString("2")
	if !Crossed(model.PriceAlert{Condition: model.AlertAbove, TargetPrice: "2"}, price) {
		t.Fatal("expected above to fire at the target")
	}
	if Crossed(model.PriceAlert{Condition: model.AlertBelow, TargetPrice: "1.99"}, price) {
		t.Fatal("expected below not to fire above the target")
	}
	if Crossed(model.PriceAlert{Condition: model.AlertAbove, TargetPrice: "x"}, price) {
		t.Fatal("expected unparsable target never to fire")
	}
}
