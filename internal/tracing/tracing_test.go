package tracing

import (
	"context"
	"net/http"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func TestSanitizeEndpoint(t *testing.T) {
	tests := map[string]string{
		"http://collector:4317":   "collector:4317",
		"https://collector:4317/": "collector:4317",
		"collector:4317/":         "collector:4317",
		" localhost:4317 ":        "localhost:4317",
	}
	for in, want := range tests {
		if got := sanitizeEndpoint(in); got != want {
			t.Errorf("sanitizeEndpoint(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseSampleRatio(t *testing.T) {
	tests := map[string]float64{"": 0, "abc": 0, "0.25": 0.25, " 1 ": 1}
	for in, want := range tests {
		if got := ParseSampleRatio(in); got != want {
			t.Errorf("ParseSampleRatio(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSetupDisabledIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{Enabled: false}, nil)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInjectHeaders(t *testing.T) {
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		SpanID:     trace.SpanID{1, 2, 3, 4, 5, 6, 7, 8},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	h := http.Header{}
	InjectHeaders(ctx, h)
	want := "00-0102030405060708090a0b0c0d0e0f10-0102030405060708-01"
	if got := h.Get("traceparent"); got != want {
		t.Fatalf("traceparent = %q, want %q", got, want)
	}
	InjectHeaders(ctx, nil)
}
