package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerExposesMetrics(t *testing.T) {
	ObserveSince(QuoteDuration, time.Now(), "zerox")
	Trades.WithLabelValues("buy", "completed").Inc()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "swapdesk_quote_duration_seconds") {
		t.Fatal("expected quote histogram in exposition")
	}
	if !strings.Contains(rec.Body.String(), `swapdesk_trades_total{side="buy",status="completed"}`) {
		t.Fatal("expected trade counter in exposition")
	}
}

func TestStatus(t *testing.T) {
	if Status(nil) != "ok" || Status(errors.New("x")) != "error" {
		t.Fatal("unexpected status labels")
	}
}
