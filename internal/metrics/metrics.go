// Package metrics provides Prometheus instrumentation for the engine.
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
	// RewardsGranted counts reward events applied, partitioned by source.
	RewardsGranted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "investipet_rewards_granted_total",
		Help: "Reward events applied to wallets",
	}, []string{"source"})

	// RewardsReplayed counts grants that hit an existing idempotency key.
	RewardsReplayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "investipet_rewards_replayed_total",
		Help: "Reward grants ignored because the event already existed",
	}, []string{"source"})

	// LevelUps counts pet level increases.
	LevelUps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "investipet_level_ups_total",
		Help: "Pet level increases caused by rewards",
	})

	// TradesTotal counts executed trades, partitioned by side.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "investipet_trades_total",
		Help: "Total number of trades executed",
	}, []string{"side"})

	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "investipet_trade_latency_seconds",
		Help:    "Trade execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	// TradeRejections counts trades refused by validation, by reason.
	TradeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "investipet_trade_rejections_total",
		Help: "Trades rejected before execution",
	}, []string{"reason"})

	// QuoteRequests counts quote lookups by mode and outcome
	// (simulated, cache_hit, live, fallback, unavailable).
	QuoteRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "investipet_quote_requests_total",
		Help: "Quote lookups by engine mode and outcome",
	}, []string{"mode", "outcome"})

	// QuoteFetchLatency tracks live feed round trips.
	QuoteFetchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "investipet_quote_fetch_seconds",
		Help:    "Live quote fetch latency in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})

	// LessonsCompleted counts first-time lesson completions.
	LessonsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "investipet_lessons_completed_total",
		Help: "Lessons completed for the first time",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "investipet_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "investipet_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "investipet_http_request_duration_seconds",
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

		// Label by route pattern so path parameters don't explode cardinality.
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
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

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
