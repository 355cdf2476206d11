package tracing

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc/credentials"
)

const defaultServiceName = "tokengate"

type Config struct {
	Enabled     bool
	ServiceName string

	OTLPEndpoint string
	OTLPInsecure bool

	SampleRatio float64
}

// Setup installs the global tracer provider and propagator. The returned
// function flushes and stops the exporter. Exporter failures disable tracing
// instead of failing startup.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger) (func(context.Context) error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	noop := func(context.Context) error { return nil }

	if !cfg.Enabled {
		otel.SetTextMapPropagator(defaultPropagator())
		return noop, nil
	}

	serviceName := firstNonEmpty(cfg.ServiceName, os.Getenv("OTEL_SERVICE_NAME"), defaultServiceName)
	endpoint := sanitizeEndpoint(firstNonEmpty(cfg.OTLPEndpoint, os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"), "localhost:4317"))

	insecure := cfg.OTLPInsecure
	if v := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); v != "" {
		insecure = parseBool(v)
	}

	sampleRatio := cfg.SampleRatio
	if sampleRatio <= 0 || sampleRatio > 1 {
		sampleRatio = 1
	}

	expOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
	if insecure {
		expOpts = append(expOpts, otlptracegrpc.WithInsecure())
	} else {
		expOpts = append(expOpts, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}

	exp, err := otlptracegrpc.New(ctx, expOpts...)
	if err != nil {
		logger.Warn("otel exporter init failed; tracing disabled", "err", err)
		otel.SetTextMapPropagator(defaultPropagator())
		return noop, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
	))
	if err != nil {
		logger.Warn("otel resource init failed; using default", "err", err)
		res = resource.Default()
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRatio))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(defaultPropagator())
	logger.Info("tracing enabled", "endpoint", endpoint, "service", serviceName, "sample_ratio", sampleRatio)

	return tp.Shutdown, nil
}

func defaultPropagator() propagation.TextMapPropagator {
	return propagation.TraceContext{}
}

// InjectHeaders writes traceparent/tracestate for outbound calls. Baggage is
// never forwarded.
func InjectHeaders(ctx context.Context, h http.Header) {
	if h == nil {
		return
	}
	propagation.TraceContext{}.Inject(ctx, propagation.HeaderCarrier(h))
}

// sanitizeEndpoint turns an OTLP URL into the host:port the gRPC exporter
// expects.
func sanitizeEndpoint(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			return u.Host
		}
	}
	return strings.TrimSuffix(raw, "/")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func parseBool(v string) bool {
	v = strings.TrimSpace(strings.ToLower(v))
	return v == "true" || v == "1" || v == "yes" || v == "y" || v == "on"
}

// ParseSampleRatio returns 0 for empty or invalid input.
func ParseSampleRatio(v string) float64 {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}
