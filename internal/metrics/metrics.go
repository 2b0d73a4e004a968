package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rifas",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rifas",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rifas",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	SalesReserved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rifas",
			Subsystem: "sales",
			Name:      "reserved_total",
			Help:      "Sales committed by the reservation engine.",
		},
	)

	SalesRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rifas",
			Subsystem: "sales",
			Name:      "rejected_total",
			Help:      "Reservation attempts rejected, by error kind.",
		},
		[]string{"kind"},
	)

	SaleTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rifas",
			Subsystem: "sales",
			Name:      "transitions_total",
			Help:      "Administrator status transitions applied.",
		},
		[]string{"status"},
	)

	DrawRollovers = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rifas",
			Subsystem: "draws",
			Name:      "rollovers_total",
			Help:      "Draws closed and advanced.",
		},
	)

	TxRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rifas",
			Subsystem: "store",
			Name:      "tx_retries_total",
			Help:      "Transactions re-executed after a serialization conflict.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		SalesReserved,
		SalesRejected,
		SaleTransitions,
		DrawRollovers,
		TxRetries,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Instrument wraps the router with HTTP metrics collection. Paths are
// labelled with the chi route pattern so ticket numbers don't explode
// the label space.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}
