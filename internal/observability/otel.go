// Package observability sets up the OpenTelemetry tracer and meter
// providers and the service's structured logger.
package observability

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// SendDurationMetric is the chat send latency histogram. Its buckets are
// set by a view so they cover retried persistence, which can take several
// seconds.
const SendDurationMetric = "chat_send_duration_seconds"

var sendDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// OTELConfig holds the settings shared by the tracer and meter providers.
type OTELConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	// Endpoint is the OTLP gRPC collector. Empty disables export.
	Endpoint string
	// Insecure disables TLS to the collector (sidecars, local stacks).
	Insecure bool
	// SampleRatio is the fraction of new traces recorded. Values outside
	// (0, 1) sample everything. Child spans follow their parent.
	SampleRatio float64
}

func (c OTELConfig) resource() *resource.Resource {
	// Service attributes only; merging with resource.Default() risks a
	// schema URL conflict.
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(c.ServiceName),
		semconv.ServiceVersion(c.ServiceVersion),
		semconv.DeploymentEnvironment(c.Environment),
	)
}

func (c OTELConfig) sampler() sdktrace.Sampler {
	if c.SampleRatio <= 0 || c.SampleRatio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(c.SampleRatio))
}

// TracerProvider wraps the SDK tracer provider.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
}

// InitTracer installs the global tracer provider and W3C propagators.
// The returned provider must be shut down on exit.
func InitTracer(ctx context.Context, cfg OTELConfig) (*TracerProvider, error) {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(cfg.resource()),
		sdktrace.WithSampler(cfg.sampler()),
	}

	if cfg.Endpoint != "" {
		exporterOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			exporterOpts = append(exporterOpts, otlptracegrpc.WithInsecure())
		}
		exporter, err := otlptracegrpc.New(ctx, exporterOpts...)
		if err != nil {
			return nil, fmt.Errorf("create OTLP trace exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	provider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{provider: provider}, nil
}

// Shutdown flushes pending spans.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp == nil || tp.provider == nil {
		return nil
	}
	return tp.provider.Shutdown(ctx)
}

// MetricsProvider wraps the SDK meter provider.
type MetricsProvider struct {
	provider *sdkmetric.MeterProvider
}

// InitMetrics installs the global meter provider. extra readers are
// attached alongside the OTLP exporter; tests pass a manual reader.
func InitMetrics(ctx context.Context, cfg OTELConfig, extra ...sdkmetric.Reader) (*MetricsProvider, error) {
	opts := []sdkmetric.Option{
		sdkmetric.WithResource(cfg.resource()),
		sdkmetric.WithView(sdkmetric.NewView(
			sdkmetric.Instrument{Name: SendDurationMetric},
			sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{
				Boundaries: sendDurationBuckets,
			}},
		)),
	}

	if cfg.Endpoint != "" {
		exporterOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			exporterOpts = append(exporterOpts, otlpmetricgrpc.WithInsecure())
		}
		exporter, err := otlpmetricgrpc.New(ctx, exporterOpts...)
		if err != nil {
			return nil, fmt.Errorf("create OTLP metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)))
	}
	for _, r := range extra {
		opts = append(opts, sdkmetric.WithReader(r))
	}

	provider := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(provider)

	return &MetricsProvider{provider: provider}, nil
}

// Shutdown flushes pending metrics.
func (mp *MetricsProvider) Shutdown(ctx context.Context) error {
	if mp == nil || mp.provider == nil {
		return nil
	}
	return mp.provider.Shutdown(ctx)
}

// Shutdown flushes metrics, then traces. Nil providers are skipped.
func Shutdown(ctx context.Context, mp *MetricsProvider, tp *TracerProvider) error {
	var errs []error
	if err := mp.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown metrics: %w", err))
	}
	if err := tp.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown tracer: %w", err))
	}
	return errors.Join(errs...)
}

// TraceIDFromContext returns the active trace id, or "" outside a trace.
func TraceIDFromContext(ctx context.Context) string {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.HasTraceID() {
		return ""
	}
	return spanCtx.TraceID().String()
}
