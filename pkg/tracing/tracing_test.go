package tracing

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInitTracer_Disabled(t *testing.T) {
	cfg := DefaultConfig("blogsync-test")

	shutdown, err := InitTracer(context.Background(), cfg)
	if err != nil {
		t.Fatalf("InitTracer(disabled) returned error: %v", err)
	}
	if shutdown == nil {
		t.Fatal("shutdown function should not be nil even when disabled")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown(disabled) returned error: %v", err)
	}

	fields := otel.GetTextMapPropagator().Fields()
	found := false
	for _, f := range fields {
		if f == "traceparent" {
			found = true
		}
	}
	if !found {
		t.Errorf("propagator fields %v should include traceparent", fields)
	}
}

func TestInitTracer_Enabled(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	cfg := DefaultConfig("blogsync-test")
	cfg.Enabled = true
	cfg.OTLPEndpoint = "127.0.0.1:0"

	shutdown, err := InitTracer(context.Background(), cfg)
	if err != nil {
		t.Fatalf("InitTracer(enabled) returned error: %v", err)
	}

	if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
		t.Errorf("expected *sdktrace.TracerProvider, got %T", otel.GetTracerProvider())
	}

	if err := shutdown(context.Background()); err != nil {
		t.Logf("shutdown returned (expected due to unreachable endpoint): %v", err)
	}
}

func TestSampler(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{1.0, "AlwaysOnSampler"},
		{2.0, "AlwaysOnSampler"},
		{0.0, "AlwaysOffSampler"},
	}
	for _, tt := range tests {
		if got := sampler(tt.rate).Description(); got != tt.want {
			t.Errorf("sampler(%v) = %q, want %q", tt.rate, got, tt.want)
		}
	}
	if got := sampler(0.25).Description(); got == "AlwaysOnSampler" || got == "AlwaysOffSampler" {
		t.Errorf("sampler(0.25) should be ratio based, got %q", got)
	}
}

func TestTracer_ReturnsNamedTracer(t *testing.T) {
	if Tracer("session") == nil {
		t.Fatal("Tracer should never return nil")
	}
}
