package tracing

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Resource attribute keys describing the store a process serves.
const (
	StorePathKey = attribute.Key("learnstate.store.path")
	DataDirKey   = attribute.Key("learnstate.data_dir")
)

// ProviderConfig configures the process-wide tracer provider.
type ProviderConfig struct {
	ServiceName    string
	ServiceVersion string
	// SampleRatio is the fraction of root spans sampled, clamped to [0, 1].
	SampleRatio float64
	StorePath   string
	DataDir     string
	// Exporter receives finished spans synchronously. Without one, spans
	// are sampled and carry IDs but are not exported.
	Exporter sdktrace.SpanExporter
}

var (
	providerMu sync.Mutex
	provider   *sdktrace.TracerProvider
)

// InitOpenTelemetry installs the global tracer provider. It fails if one is
// already installed; ShutdownOpenTelemetry allows a later re-init.
func InitOpenTelemetry(cfg ProviderConfig) error {
	providerMu.Lock()
	defer providerMu.Unlock()

	if provider != nil {
		return fmt.Errorf("tracer provider already initialized")
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	}
	if cfg.StorePath != "" {
		attrs = append(attrs, StorePathKey.String(cfg.StorePath))
	}
	if cfg.DataDir != "" {
		attrs = append(attrs, DataDirKey.String(cfg.DataDir))
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(attrs...))
	if err != nil {
		return fmt.Errorf("failed to build tracing resource: %w", err)
	}

	ratio := min(max(cfg.SampleRatio, 0), 1)
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
		sdktrace.WithResource(res),
	}
	if cfg.Exporter != nil {
		opts = append(opts, sdktrace.WithSyncer(cfg.Exporter))
	}

	provider = sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)
	return nil
}

// ShutdownOpenTelemetry flushes the global tracer provider and restores the no-op provider.
func ShutdownOpenTelemetry(ctx context.Context) error {
	providerMu.Lock()
	defer providerMu.Unlock()

	if provider == nil {
		return nil
	}
	err := provider.Shutdown(ctx)
	provider = nil
	otel.SetTracerProvider(noop.NewTracerProvider())
	return err
}

// StartSpan starts a span and records its trace ID in the context when none is set.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))

	if GetTraceID(ctx) == "" {
		if sc := span.SpanContext(); sc.IsValid() {
			ctx = WithTraceID(ctx, sc.TraceID().String())
		}
	}

	return ctx, span
}
