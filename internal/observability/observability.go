// Package observability sets up OpenTelemetry tracing over OTLP HTTP.
//
// Tracing is best effort: when the exporter cannot be created the setup
// returns a no-op shutdown and the pipelines run untraced. A collector
// listening on the configured endpoint (an OTel Collector, a vendor agent)
// receives the spans; the app never talks to a tracing backend directly.
package observability

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/quarrylabs/quarry/internal/log"
)

// Config for the OTLP exporter.
type Config struct {
	// Endpoint is the OTLP HTTP host:port (default: localhost:4318).
	Endpoint string
	// Environment tags spans with the deployment environment.
	Environment string
	// ServiceName is the service name shown in the tracing backend.
	ServiceName string
}

// DefaultEndpoint is the standard OTLP HTTP listen address.
const DefaultEndpoint = "localhost:4318"

// Setup registers a global tracer provider exporting to the configured OTLP
// endpoint. The returned shutdown flushes pending spans; call it before exit.
func Setup(ctx context.Context, cfg Config, logger log.Logger) (shutdown func(context.Context) error, err error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		logger.Warn("creating trace exporter failed, tracing disabled", "error", err)
		return func(context.Context) error { return nil }, nil
	}

	attrs := []attribute.KeyValue{}
	if cfg.ServiceName != "" {
		attrs = append(attrs, semconv.ServiceName(cfg.ServiceName))
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(cfg.Environment))
	}
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(semconv.SchemaURL, attrs...))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	logger.Debug("tracing enabled",
		"endpoint", endpoint,
		"service", cfg.ServiceName,
		"environment", cfg.Environment,
	)
	return tp.Shutdown, nil
}

// tracerName identifies spans created by this package.
const tracerName = "github.com/quarrylabs/quarry"

// StartSpan opens a span on the globally registered tracer provider and
// returns a context carrying it. Pipeline events emitted under that context
// attach to the span. Without a registered provider the span is a no-op.
func StartSpan(ctx context.Context, name string) (context.Context, oteltrace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name)
}

// SpanEmitter forwards pipeline events onto the active span as span events.
// Without an active span in the context it is a no-op, so the same emitter
// works traced and untraced.
type SpanEmitter struct{}

// Emit attaches the event to the span carried by ctx.
func (SpanEmitter) Emit(ctx context.Context, name string, attrs map[string]any) {
	span := oteltrace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for _, k := range sortedKeys(attrs) {
		kvs = append(kvs, anyAttr(k, attrs[k]))
	}
	span.AddEvent(name, oteltrace.WithAttributes(kvs...))
}

// sortedKeys keeps attribute order stable across runs.
func sortedKeys(attrs map[string]any) []string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func anyAttr(key string, v any) attribute.KeyValue {
	switch val := v.(type) {
	case string:
		return attribute.String(key, val)
	case bool:
		return attribute.Bool(key, val)
	case int:
		return attribute.Int(key, val)
	case int64:
		return attribute.Int64(key, val)
	case float64:
		return attribute.Float64(key, val)
	default:
		return attribute.String(key, stringify(val))
	}
}

func stringify(v any) string {
	return fmt.Sprintf("%v", v)
}
