// Package metrics provides Prometheus instrumentation for the venue engine.
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
	// TicksGenerated counts simulated ticks per instrument.
	TicksGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "venue_ticks_generated_total",
		Help: "Total simulated ticks emitted",
	}, []string{"instrument"})

	// OrdersSubmitted counts accepted orders by type and final status.
	OrdersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "venue_orders_submitted_total",
		Help: "Total orders accepted by the matching engine",
	}, []string{"order_type", "status"})

	// OrderRejections counts synchronous order rejections by reason.
	OrderRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "venue_order_rejections_total",
		Help: "Total orders rejected before matching",
	}, []string{"reason"})

	// FillsRecorded counts individual execution records.
	FillsRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "venue_fills_total",
		Help: "Total fills settled through the ledger",
	})

	// BusPublished counts events published to the bus per topic.
	BusPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "venue_bus_published_total",
		Help: "Total events published to the event bus",
	}, []string{"topic"})

	// BusDropped counts events a consumer missed by lagging past retention.
	BusDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "venue_bus_dropped_total",
		Help: "Total events dropped for a consumer after falling out of the retained window",
	}, []string{"consumer"})

	// ConsumerLag tracks how far each consumer trails the topic head.
	ConsumerLag = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "venue_bus_consumer_lag",
		Help: "Events between a consumer's offset and the topic head",
	}, []string{"consumer"})

	// PortfolioSnapshots counts emitted portfolio snapshots.
	PortfolioSnapshots = promauto.NewCounter(prometheus.CounterOpts{
		Name: "venue_portfolio_snapshots_total",
		Help: "Total portfolio snapshots emitted by the risk aggregator",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "venue_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "venue_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "venue_http_request_duration_seconds",
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

		// Use the raw path for the label; the route surface is small and
		// parameterized segments are ids with bounded cardinality.
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
