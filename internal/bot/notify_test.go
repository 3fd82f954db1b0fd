package bot

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ggonzalez94/swapdesk/internal/flow"
	"github.com/ggonzalez94/swapdesk/internal/model"
)

func TestNotifyAlertMessagesOwner(t *testing.T) {
	p := &recordingPrompter{}
	flows := flow.New(time.Minute)
	defer flows.Close()
	conv := New(&fakeTrader{}, nil, flows, p, nil)

	alert := model.PriceAlert{ID: "a1", UserID: "u1", Symbol: "WETH", Condition: "above", TargetPrice: "4000"}
	if err := conv.NotifyAlert(context.Background(), alert, decimal.RequireFromString("4012.5")); err != nil {
		t.Fatalf("NotifyAlert failed: %v", err)
	}
	got := p.last()
	if got.kind != "send" || got.text != "Price alert: WETH is now $4012.5 (above $4000)." {
		t.Fatalf("unexpected message %+v", got)
	}
}
