package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	clierr "github.com/ggonzalez94/swapdesk/internal/errors"
)

type quoteRequest struct {
	Side        string `json:"side"`
	Token       string `json:"token"`
	Amount      string `json:"amount"`
	SlippageBps int64  `json:"slippage_bps"`
	GasBoostBps int64  `json:"gas_boost_bps"`
}

type withdrawRequest struct {
	Amount      string `json:"amount"`
	Token       string `json:"token"`
	Destination string `json:"destination"`
}

type importRequest struct {
	PrivateKey string `json:"private_key"`
}

type settingsRequest struct {
	SlippageBps *int64 `json:"slippage_bps"`
	GasBoostBps *int64 `json:"gas_boost_bps"`
}

type alertRequest struct {
	Token     string `json:"token"`
	Condition string `json:"condition"`
	Target    string `json:"target_price"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		s.respond(w, r, http.StatusOK, map[string]any{"status": "ok"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	endpoints := s.health(ctx)
	status, code := "ok", http.StatusOK
	healthy := 0
	for _, ep := range endpoints {
		if ep.Healthy {
			healthy++
		}
	}
	if healthy == 0 {
		status, code = "unavailable", http.StatusServiceUnavailable
	}
	s.respond(w, r, code, map[string]any{"status": status, "endpoints": endpoints})
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	preview, err := s.trader.Quote(r.Context(), req.Side, req.Token, req.Amount, req.SlippageBps)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, preview.Quote)
}

func (s *Server) handleSwap(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	// The swap outlives a dropped client; its record must still be written.
	ctx := context.WithoutCancel(r.Context())
	res, err := s.trader.Execute(ctx, req.Side, UserID(r.Context()), req.Token, req.Amount, req.SlippageBps, req.GasBoostBps)
	if err != nil {
		if res.TxHash != "" {
			s.failWith(w, r, err, res)
			return
		}
		s.fail(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, res)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	ctx := context.WithoutCancel(r.Context())
	res, err := s.trader.Withdraw(ctx, UserID(r.Context()), req.Amount, req.Token, req.Destination)
	if err != nil {
		if res.TxHash != "" {
			s.failWith(w, r, err, res)
			return
		}
		s.fail(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, res)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 || v > 500 {
			s.fail(w, r, clierr.New(clierr.CodeUsage, "limit must be between 1 and 500"))
			return
		}
		limit = v
	}
	recs, err := s.trader.Trades(r.Context(), UserID(r.Context()), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, recs)
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	view, err := s.trader.Wallet(r.Context(), UserID(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, view)
}

func (s *Server) handleCreateWallet(w http.ResponseWriter, r *http.Request) {
	view, err := s.trader.CreateWallet(r.Context(), UserID(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, r, http.StatusCreated, view)
}

func (s *Server) handleImportWallet(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	view, err := s.trader.ImportKey(r.Context(), UserID(r.Context()), req.PrivateKey)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, r, http.StatusCreated, view)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.trader.Disconnect(r.Context(), UserID(r.Context())); err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, map[string]any{"disconnected": true})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	b, err := s.trader.Balance(r.Context(), UserID(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, b)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.SlippageBps == nil && req.GasBoostBps == nil {
		s.fail(w, r, clierr.New(clierr.CodeUsage, "slippage_bps or gas_boost_bps is required"))
		return
	}
	userID := UserID(r.Context())
	if req.SlippageBps != nil {
		if err := s.trader.SetSlippage(r.Context(), userID, *req.SlippageBps); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	if req.GasBoostBps != nil {
		if err := s.trader.SetGasBoost(r.Context(), userID, *req.GasBoostBps); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	s.handleWallet(w, r)
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	if s.alerts == nil {
		s.fail(w, r, clierr.New(clierr.CodeUnsupported, "Price alerts are not enabled"))
		return
	}
	list, err := s.alerts.List(r.Context(), UserID(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, list)
}

func (s *Server) handleAddAlert(w http.ResponseWriter, r *http.Request) {
	if s.alerts == nil {
		s.fail(w, r, clierr.New(clierr.CodeUnsupported, "Price alerts are not enabled"))
		return
	}
	var req alertRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	alert, err := s.alerts.Add(r.Context(), UserID(r.Context()), req.Token, req.Condition, req.Target)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, r, http.StatusCreated, alert)
}

func (s *Server) handleDeleteAlert(w http.ResponseWriter, r *http.Request) {
	if s.alerts == nil {
		s.fail(w, r, clierr.New(clierr.CodeUnsupported, "Price alerts are not enabled"))
		return
	}
	if err := s.alerts.Delete(r.Context(), UserID(r.Context()), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, map[string]any{"deleted": chi.URLParam(r, "id")})
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		s.fail(w, r, clierr.New(clierr.CodeUnsupported, "Realtime events are not enabled"))
		return
	}
	s.hub.Serve(w, r, UserID(r.Context()))
}
