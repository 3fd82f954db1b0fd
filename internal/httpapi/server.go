// Package httpapi exposes the trade service over HTTP with JSON envelopes,
// plus a websocket endpoint for trade events and chat.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	clierr "github.com/ggonzalez94/swapdesk/internal/errors"
	"github.com/ggonzalez94/swapdesk/internal/events"
	"github.com/ggonzalez94/swapdesk/internal/logging"
	"github.com/ggonzalez94/swapdesk/internal/metrics"
	"github.com/ggonzalez94/swapdesk/internal/model"
	"github.com/ggonzalez94/swapdesk/internal/trade"
)

// Trader is the trade service surface served over HTTP.
type Trader interface {
	Quote(ctx context.Context, side, token, amount string, slippageBps int64) (trade.Preview, error)
	Execute(ctx context.Context, side, userID, token, amount string, slippageBps, gasBoostBps int64) (model.SwapResult, error)
	Withdraw(ctx context.Context, userID, amount, tokenRef, destination string) (model.WithdrawResult, error)
	CreateWallet(ctx context.Context, userID string) (model.WalletView, error)
	ImportKey(ctx context.Context, userID, hexKey string) (model.WalletView, error)
	Wallet(ctx context.Context, userID string) (model.WalletView, error)
	Disconnect(ctx context.Context, userID string) error
	Balance(ctx context.Context, userID string) (model.BalanceView, error)
	SetSlippage(ctx context.Context, userID string, bps int64) error
	SetGasBoost(ctx context.Context, userID string, bps int64) error
	Trades(ctx context.Context, userID string, limit int) ([]model.TradeRecord, error)
}

type Alerts interface {
	Add(ctx context.Context, userID, token, condition, target string) (model.PriceAlert, error)
	List(ctx context.Context, userID string) ([]model.PriceAlert, error)
	Delete(ctx context.Context, userID, alertID string) error
}

// HealthFunc probes the RPC endpoints.
type HealthFunc func(ctx context.Context) []model.EndpointHealth

type Config struct {
	JWTSecret   string
	CORSOrigins []string
}

type Server struct {
	cfg    Config
	trader Trader
	alerts Alerts
	hub    *events.Hub
	health HealthFunc
	logger *zap.Logger
	now    func() time.Time
}

func New(cfg Config, trader Trader, alerts Alerts, hub *events.Hub, health HealthFunc, logger *zap.Logger) *Server {
	return &Server{
		cfg:    cfg,
		trader: trader,
		alerts: alerts,
		hub:    hub,
		health: health,
		logger: logging.OrNop(logger),
		now:    time.Now,
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-User-ID"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/quote", s.handleQuote)
		r.Post("/swaps", s.handleSwap)
		r.Get("/trades", s.handleTrades)
		r.Post("/withdrawals", s.handleWithdraw)

		r.Get("/wallet", s.handleWallet)
		r.Post("/wallet", s.handleCreateWallet)
		r.Post("/wallet/import", s.handleImportWallet)
		r.Delete("/wallet", s.handleDisconnect)
		r.Get("/balance", s.handleBalance)
		r.Put("/settings", s.handleSettings)

		r.Get("/alerts", s.handleListAlerts)
		r.Post("/alerts", s.handleAddAlert)
		r.Delete("/alerts/{id}", s.handleDeleteAlert)

		r.Get("/ws", s.handleWebsocket)
	})
	return r
}

// Serve runs the API until ctx is cancelled, then drains for up to 10s.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http api listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return clierr.Wrap(clierr.CodeInternal, "http server", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if s.hub != nil {
		s.hub.Close()
	}
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, status int, data any) {
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: true,
		Data:    data,
		Meta:    s.meta(r),
	}
	writeJSON(w, status, env)
}

// failWith renders err in the error envelope. data is attached when a trade got
// as far as broadcasting so callers can see the transaction hash.
func (s *Server) failWith(w http.ResponseWriter, r *http.Request, err error, data any) {
	code := clierr.CodeOf(err)
	status := clierr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("route", routePattern(r)), zap.Error(err))
	}
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Data:    data,
		Error: &model.ErrorBody{
			Code:     int(code),
			Type:     clierr.TypeName(code),
			Category: string(clierr.CategoryOf(err)),
			Message:  clierr.UserMessage(err),
		},
		Meta: s.meta(r),
	}
	writeJSON(w, status, env)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	s.failWith(w, r, err, nil)
}

func (s *Server) meta(r *http.Request) model.EnvelopeMeta {
	return model.EnvelopeMeta{
		RequestID: middleware.GetReqID(r.Context()),
		Timestamp: s.now().UTC(),
		Command:   r.Method + " " + routePattern(r),
		Cache:     model.CacheStatus{Status: "bypass"},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return clierr.Wrap(clierr.CodeUsage, "Invalid request body", err)
	}
	return nil
}
