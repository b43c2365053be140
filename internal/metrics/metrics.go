// Package metrics provides Prometheus instrumentation for the indexer.
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
	// LedgerHeadVersion is the latest head version reported by the node.
	LedgerHeadVersion = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nox_indexer_ledger_head_version",
		Help: "Latest ledger version reported by the upstream node",
	})

	// CursorVersion is the last fully applied ledger version.
	CursorVersion = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nox_indexer_cursor_version",
		Help: "Last ledger version fully applied to the store",
	})

	ChunksApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nox_indexer_chunks_applied_total",
		Help: "Transaction chunks fully applied",
	})

	// TransactionsTotal counts fetched transactions by outcome
	// (dispatched or filtered).
	TransactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nox_indexer_transactions_total",
		Help: "Fetched transactions by outcome",
	}, []string{"result"})

	// EventsTotal counts events by decoded kind and outcome
	// (applied, duplicate, not_found, ignored, malformed, failed).
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nox_indexer_events_total",
		Help: "Ledger events by kind and outcome",
	}, []string{"kind", "result"})

	// FetchErrors counts upstream ledger read failures by operation.
	FetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nox_indexer_fetch_errors_total",
		Help: "Upstream ledger read failures",
	}, []string{"op"})

	PollerRestarts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nox_indexer_poller_restarts_total",
		Help: "Poller cycles restarted after a fatal error",
	})

	// AuthFailures counts rejected capability checks by reason.
	AuthFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nox_indexer_auth_failures_total",
		Help: "Rejected capability authentications",
	}, []string{"reason"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nox_indexer_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nox_indexer_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nox_indexer_http_request_duration_seconds",
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

		// Route patterns keep addresses and ids out of the label set.
		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				path = p
			}
		}
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

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
