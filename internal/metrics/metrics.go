// Package metrics provides Prometheus instrumentation for the arbitrage bot.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CyclesTotal counts detection cycles by pair and outcome.
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arb_cycles_total",
		Help: "Detection cycles run, by outcome",
	}, []string{"pair", "outcome"})

	// CycleErrors counts cycles aborted by an error.
	CycleErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arb_cycle_errors_total",
		Help: "Detection cycles aborted by an error",
	}, []string{"pair"})

	// SignalsTotal counts signals emitted by the detector.
	SignalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arb_signals_total",
		Help: "Signals emitted, by whether they cleared the threshold",
	}, []string{"pair", "above_threshold"})

	// BestSpread is the best spread seen in the latest cycle.
	BestSpread = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "arb_best_spread_bps",
		Help: "Best fee-adjusted spread of the latest cycle in bps",
	}, []string{"pair"})

	// ExecutionsTotal counts executed combos.
	ExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arb_executions_total",
		Help: "Executed combos, by kind",
	}, []string{"kind"})

	// LegFailures counts order legs whose placement failed.
	LegFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arb_leg_failures_total",
		Help: "Order legs whose placement failed",
	}, []string{"exchange", "side"})

	// PlacementLatency tracks order placement round trips.
	PlacementLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "arb_order_placement_seconds",
		Help:    "Order placement latency in seconds",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"exchange"})

	// PendingOrders tracks the in-flight orders under reconciliation.
	PendingOrders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arb_pending_orders",
		Help: "Orders awaiting a terminal status",
	})

	// TerminalOrders counts orders that reached a terminal status.
	TerminalOrders = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arb_terminal_orders_total",
		Help: "Orders that reached a terminal status",
	}, []string{"exchange", "status"})

	// PollFailures counts failed order status polls.
	PollFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arb_poll_failures_total",
		Help: "Failed order status polls",
	}, []string{"exchange"})

	// CancelAttempts counts timeout cancellations by result.
	CancelAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arb_cancel_attempts_total",
		Help: "Cancellations of orders past their deadline",
	}, []string{"exchange", "result"})

	// FundsAvailable tracks the available ledger balance.
	FundsAvailable = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "arb_funds_available",
		Help: "Available balance per exchange and currency",
	}, []string{"exchange", "currency"})

	// FundRefreshes counts fund refreshes by outcome.
	FundRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arb_fund_refreshes_total",
		Help: "Fund refresh attempts, by outcome",
	}, []string{"outcome"})

	// SchedulerPanics counts recovered panics in scheduled loops.
	SchedulerPanics = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arb_scheduler_panics_total",
		Help: "Panics recovered in scheduled loops",
	}, []string{"loop"})

	// LateTicks counts loop runs started after their deadline.
	LateTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arb_late_ticks_total",
		Help: "Scheduled runs that started after their deadline",
	}, []string{"loop"})

	// Performance publishes the latest bucket of each performance metric.
	Performance = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "arb_performance",
		Help: "Latest value of a performance metric bucket",
	}, []string{"kind", "interval", "pair"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arb_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// RecorderSnapshots counts order-book snapshots written by the recorder.
	RecorderSnapshots = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arb_recorder_snapshots_total",
		Help: "Order book snapshots recorded",
	}, []string{"exchange"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arb_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "arb_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		HTTPRequestsTotal.WithLabelValues(r.Method, routePattern(r), strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, routePattern(r)).Observe(duration)
	})
}

// routePattern prefers the chi route pattern to keep label cardinality low.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
