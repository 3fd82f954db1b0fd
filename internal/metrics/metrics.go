package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RPCCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swapdesk_rpc_calls_total",
			Help: "RPC attempts by endpoint and outcome",
		},
		[]string{"endpoint", "status"},
	)

	RPCExhausted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "swapdesk_rpc_exhausted_total",
			Help: "Calls where every configured endpoint failed",
		},
	)

	QuoteRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swapdesk_quote_requests_total",
			Help: "Aggregator quote requests by provider and outcome",
		},
		[]string{"provider", "status"},
	)

	QuoteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "swapdesk_quote_duration_seconds",
			Help:    "Aggregator quote latency",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10},
		},
		[]string{"provider"},
	)

	Trades = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swapdesk_trades_total",
			Help: "Trades by side and final status",
		},
		[]string{"side", "status"},
	)

	TradeStage = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swapdesk_trade_stage_total",
			Help: "Trade stage transitions",
		},
		[]string{"stage"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "swapdesk_http_request_duration_seconds",
			Help:    "HTTP API request latency",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 5, 10, 30},
		},
		[]string{"route", "status"},
	)

	EventPublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swapdesk_event_publish_errors_total",
			Help: "Failures delivering trade events",
		},
		[]string{"sink"},
	)

	AlertsTriggered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "swapdesk_alerts_triggered_total",
			Help: "Price alerts that fired",
		},
	)
)

// ObserveSince records the elapsed time on a histogram vector.
func ObserveSince(h *prometheus.HistogramVec, start time.Time, labels ...string) {
	h.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
