package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	usernameKey  contextKey = "username"
	loggerKey    contextKey = "logger"
)

// Format selects the slog handler used for output.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// New creates a structured JSON logger for the given component name and level.
// Output goes to stderr so that command output on stdout stays machine readable.
func New(component, level string) *slog.Logger {
	return NewWithWriter(component, level, FormatJSON, os.Stderr)
}

// NewWithWriter creates a structured logger writing to w in the given format.
func NewWithWriter(component, level string, format Format, w io.Writer) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	if format == FormatText {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler).With(
		slog.String("component", component),
	)
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithRequestID returns a new context carrying the outgoing request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the request id from the context.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// WithUsername returns a new context with the signed-in username set for logging.
func WithUsername(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, usernameKey, name)
}

// UsernameFromContext extracts the username stored by the logger package from context.
func UsernameFromContext(ctx context.Context) string {
	if name, ok := ctx.Value(usernameKey).(string); ok {
		return name
	}
	return ""
}

// NewContext returns a new context with the given logger stored in it.
func NewContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext returns the logger stored in context, or slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// WithContext returns a logger with context-derived fields (request_id, username, trace_id, span_id).
func WithContext(ctx context.Context, l *slog.Logger) *slog.Logger {
	if id := RequestIDFromContext(ctx); id != "" {
		l = l.With(slog.String("request_id", id))
	}

	if name := UsernameFromContext(ctx); name != "" {
		l = l.With(slog.String("username", name))
	}

	if spanCtx := trace.SpanFromContext(ctx).SpanContext(); spanCtx.IsValid() {
		l = l.With(
			slog.String("trace_id", spanCtx.TraceID().String()),
			slog.String("span_id", spanCtx.SpanID().String()),
		)
	}

	return l
}
