package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blogsync_http_server_requests_total",
			Help: "Total number of HTTP requests served",
		},
		[]string{"server", "method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "blogsync_http_server_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"server", "method", "route"},
	)

	httpRequestsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "blogsync_http_server_requests_in_flight",
			Help: "Current number of HTTP requests being served",
		},
		[]string{"server"},
	)
)

// PrometheusMetrics records request counts, latency and in-flight requests,
// labelled by the chi route pattern.
func PrometheusMetrics(server string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			httpRequestsInFlight.WithLabelValues(server).Inc()
			defer httpRequestsInFlight.WithLabelValues(server).Dec()

			rec := newStatusRecorder(w)
			next.ServeHTTP(rec, r)

			route := "unknown"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}

			httpRequestsTotal.WithLabelValues(server, r.Method, route, strconv.Itoa(rec.status)).Inc()
			httpRequestDuration.WithLabelValues(server, r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}
