// Package middleware holds net/http middleware for the servers in this module:
// the ops endpoint and the in-memory blog API used by tests.
package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/desurestar/RSOD-project/pkg/logger"
)

// RequestIDHeader carries the request id between client and server.
const RequestIDHeader = "X-Request-ID"

// statusRecorder captures the status code and body size of a response.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (rw *statusRecorder) WriteHeader(code int) {
	if !rw.written {
		rw.status = code
		rw.written = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	rw.written = true
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n
	return n, err
}

// RequestLogging logs each request with its duration and status. The inbound
// X-Request-ID is kept, or a new one generated, and echoed on the response.
// Downstream handlers get a request-scoped logger via logger.FromContext.
func RequestLogging(l *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.New().String()
			}
			ctx := logger.WithRequestID(r.Context(), requestID)
			ctx = logger.NewContext(ctx, logger.WithContext(ctx, l))
			r = r.WithContext(ctx)
			w.Header().Set(RequestIDHeader, requestID)

			rec := newStatusRecorder(w)
			next.ServeHTTP(rec, r)

			l.InfoContext(ctx, "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Duration("duration", time.Since(start)),
				slog.Int("bytes", rec.bytes),
				slog.String("request_id", requestID),
			)
		})
	}
}
