package httpclient

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/desurestar/RSOD-project/pkg/logger"
)

// RequestIDHeader carries the per-request id to the API.
const RequestIDHeader = "X-Request-ID"

const tracerName = "github.com/desurestar/RSOD-project/pkg/httpclient"

var (
	clientRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blogsync_http_client_requests_total",
			Help: "Total number of outgoing API requests",
		},
		[]string{"method", "status"},
	)

	clientRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "blogsync_http_client_request_duration_seconds",
			Help:    "Outgoing API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

// RequestID stamps each request with an X-Request-ID header and puts the id
// in the context for logging. An id already present on the request is kept.
func RequestID() Middleware {
	return func(req *http.Request, next Handler) (*http.Response, error) {
		id := req.Header.Get(RequestIDHeader)
		if id == "" {
			id = logger.RequestIDFromContext(req.Context())
		}
		if id == "" {
			id = uuid.New().String()
		}

		ctx := logger.WithRequestID(req.Context(), id)
		out := req.Clone(ctx)
		out.Header.Set(RequestIDHeader, id)
		return next(out)
	}
}

// Logging logs every request with method, path, status and duration.
func Logging(l *slog.Logger) Middleware {
	return func(req *http.Request, next Handler) (*http.Response, error) {
		start := time.Now()
		resp, err := next(req)
		duration := time.Since(start)

		log := logger.WithContext(req.Context(), l)
		if err != nil {
			log.WarnContext(req.Context(), "api request failed",
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.Duration("duration", duration),
				slog.String("error", err.Error()),
			)
			return nil, err
		}

		log.InfoContext(req.Context(), "api request",
			slog.String("method", req.Method),
			slog.String("path", req.URL.Path),
			slog.Int("status", resp.StatusCode),
			slog.Duration("duration", duration),
		)
		return resp, nil
	}
}

// Tracing opens a client span per request and injects W3C trace context into
// the outgoing headers.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)

	return func(req *http.Request, next Handler) (*http.Response, error) {
		ctx, span := tracer.Start(req.Context(), req.Method+" "+req.URL.Path,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String("http.request.method", req.Method),
				attribute.String("url.full", req.URL.String()),
				attribute.String("server.address", req.URL.Hostname()),
			),
		)
		defer span.End()

		out := req.Clone(ctx)
		otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(out.Header))

		resp, err := next(out)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
		if resp.StatusCode >= 500 {
			span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
		}
		return resp, nil
	}
}

// Metrics counts requests by method and status class and records latency.
func Metrics() Middleware {
	return func(req *http.Request, next Handler) (*http.Response, error) {
		start := time.Now()
		resp, err := next(req)
		clientRequestDuration.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())

		status := "error"
		if err == nil {
			status = strconv.Itoa(resp.StatusCode)
		}
		clientRequestsTotal.WithLabelValues(req.Method, status).Inc()
		return resp, err
	}
}

// RateLimit holds each request until limiter grants a token or the request
// context ends.
func RateLimit(limiter *rate.Limiter) Middleware {
	return func(req *http.Request, next Handler) (*http.Response, error) {
		if err := limiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
		return next(req)
	}
}

// UserAgent sets the User-Agent header when the request has none.
func UserAgent(value string) Middleware {
	return func(req *http.Request, next Handler) (*http.Response, error) {
		if req.Header.Get("User-Agent") != "" {
			return next(req)
		}
		out := req.Clone(req.Context())
		out.Header.Set("User-Agent", value)
		return next(out)
	}
}
