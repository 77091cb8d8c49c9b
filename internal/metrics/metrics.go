// Package metrics provides Prometheus instrumentation for the wagering
// engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RoundsTotal counts finished crash rounds per table.
	RoundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wager_rounds_total",
		Help: "Total number of finished crash rounds",
	}, []string{"table"})

	// CrashPoints observes the sampled crash multiplier distribution.
	CrashPoints = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wager_crash_points",
		Help:    "Distribution of sampled crash points",
		Buckets: []float64{1.01, 1.2, 1.5, 2, 3, 5, 10, 25, 100, 1000},
	}, []string{"table"})

	// BetsTotal counts bet settlements per table and terminal status.
	BetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wager_bets_total",
		Help: "Total bets by terminal status",
	}, []string{"table", "status"})

	// DrawsTotal counts case-opening draws per case.
	DrawsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wager_draws_total",
		Help: "Total items drawn from cases",
	}, []string{"case"})

	// UpgradesTotal counts upgrade attempts by outcome.
	UpgradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wager_upgrades_total",
		Help: "Total upgrade attempts by outcome",
	}, []string{"outcome"})

	// RefundsTotal counts compensating refunds issued after failures.
	RefundsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wager_refunds_total",
		Help: "Compensating refunds issued after post-debit failures",
	})

	// WebSocketClients tracks connected round-stream clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wager_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wager_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wager_http_request_duration_seconds",
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
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
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
