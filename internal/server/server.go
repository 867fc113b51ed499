package server

import (
	"arbitrage-bot-go/internal/metrics"
	"arbitrage-bot-go/internal/models"
	"arbitrage-bot-go/internal/performance"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// PendingSource exposes the in-flight orders of the reconciliation engine.
type PendingSource interface {
	Snapshot() []models.PendingOrder
	Expedite(key string) bool
}

// FundsSource exposes the ledger.
type FundsSource interface {
	Snapshot() []models.FundEntry
}

// PerformanceSource exposes the computed performance metrics.
type PerformanceSource interface {
	Metrics() []performance.Metric
	Latest(name string) []performance.Point
}

// Deps are the engine components served by the API. Nil sources answer 503.
type Deps struct {
	Pending     PendingSource
	Funds       FundsSource
	Performance PerformanceSource
	Stats       func() any
	Hub         *Hub
}

// Server is the HTTP API of the engine.
type Server struct {
	deps   Deps
	router chi.Router
	srv    *http.Server
	logger *zap.Logger
}

// New builds the router and an http.Server listening on addr.
func New(addr string, deps Deps, logger *zap.Logger) *Server {
	s := &Server{deps: deps, logger: logger.Named("server")}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "arbitrage-bot"})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if deps.Hub != nil {
			// websocket connections outlive any request timeout
			r.Get("/ws", deps.Hub.HandleWS)
		}
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Get("/pending", s.listPending)
			r.Delete("/pending/{exchange}/{orderID}", s.expedite)
			r.Get("/funds", s.listFunds)
			r.Get("/performance", s.listPerformance)
			r.Get("/stats", s.stats)
		})
	})
	s.router = r

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves in the background.
func (s *Server) Start() {
	go func() {
		s.logger.Info("API listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Shutdown stops accepting requests and waits for active ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.deps.Hub != nil {
		s.deps.Hub.Stop()
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) listPending(w http.ResponseWriter, r *http.Request) {
	if s.deps.Pending == nil {
		writeError(w, "reconciliation not available", http.StatusServiceUnavailable)
		return
	}
	orders := s.deps.Pending.Snapshot()
	if orders == nil {
		orders = []models.PendingOrder{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// expedite moves an order's deadline to now so the next sweep cancels it.
func (s *Server) expedite(w http.ResponseWriter, r *http.Request) {
	if s.deps.Pending == nil {
		writeError(w, "reconciliation not available", http.StatusServiceUnavailable)
		return
	}
	key := chi.URLParam(r, "exchange") + ":" + chi.URLParam(r, "orderID")
	if !s.deps.Pending.Expedite(key) {
		writeError(w, "order not pending: "+key, http.StatusNotFound)
		return
	}
	s.logger.Info("Early cancel requested", zap.String("order", key))
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancel_scheduled", "order": key})
}

func (s *Server) listFunds(w http.ResponseWriter, r *http.Request) {
	if s.deps.Funds == nil {
		writeError(w, "ledger not available", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Funds.Snapshot())
}

type performanceView struct {
	Name   string              `json:"name"`
	Kind   string              `json:"kind"`
	Pair   string              `json:"pair"`
	Points []performance.Point `json:"points"`
}

func (s *Server) listPerformance(w http.ResponseWriter, r *http.Request) {
	if s.deps.Performance == nil {
		writeError(w, "performance tracking not available", http.StatusServiceUnavailable)
		return
	}
	views := []performanceView{}
	for _, m := range s.deps.Performance.Metrics() {
		views = append(views, performanceView{
			Name:   m.Name(),
			Kind:   m.Kind.String(),
			Pair:   m.Pair.Symbol(),
			Points: s.deps.Performance.Latest(m.Name()),
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Stats == nil {
		writeError(w, "stats not available", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Stats())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
