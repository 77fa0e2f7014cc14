// Package observability provides OpenTelemetry-based tracing and metrics
// for the gateway: a request entering the Admin Proxy gets one span per
// conductor round trip, and the RED (Rate, Errors,
// Duration) metrics are recorded against it.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	SampleRate     float64 // 0.0 to 1.0, default 1.0 (sample all)
	Enabled        bool
}

// DefaultConfig returns defaults suitable for a single gateway instance.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "conductor-gateway",
		ServiceVersion: "0.1.0",
		Environment:    "development",
		SampleRate:     1.0,
		Enabled:        true,
	}
}

// Provider manages the gateway's trace and metric providers. No OTLP
// collector endpoint is configured anywhere in the gateway's environment
// surface, so the providers run in-process only: spans and metrics are
// available to anything calling Tracer()/Meter(), but nothing is exported
// off-box. A
// deployment that wants a collector wires one by replacing New with an
// OTLP-exporting variant; this type's job is just the RED instrumentation
// surface used by pkg/proxy's Admin Proxy.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	requestCounter   metric.Int64Counter
	errorCounter     metric.Int64Counter
	durationHist     metric.Float64Histogram
	activeOperations metric.Int64UpDownCounter
}

// New creates a Provider. If config is nil, DefaultConfig is used.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}

	if !config.Enabled {
		p.logger.InfoContext(ctx, "observability disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(config.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	p.meterProvider = sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
	otel.SetMeterProvider(p.meterProvider)

	p.tracer = otel.Tracer("conductor-gateway", trace.WithInstrumentationVersion(config.ServiceVersion))
	p.meter = otel.Meter("conductor-gateway", metric.WithInstrumentationVersion(config.ServiceVersion))

	if err := p.initREDMetrics(); err != nil {
		return nil, fmt.Errorf("failed to init RED metrics: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName, "environment", config.Environment, "sample_rate", config.SampleRate)

	return p, nil
}

func (p *Provider) initREDMetrics() error {
	var err error

	p.requestCounter, err = p.meter.Int64Counter("gateway.requests.total",
		metric.WithDescription("Total number of conductor round trips"),
		metric.WithUnit("{request}"))
	if err != nil {
		return err
	}

	p.errorCounter, err = p.meter.Int64Counter("gateway.errors.total",
		metric.WithDescription("Total number of conductor round trip errors"),
		metric.WithUnit("{error}"))
	if err != nil {
		return err
	}

	p.durationHist, err = p.meter.Float64Histogram("gateway.request.duration",
		metric.WithDescription("Conductor round trip duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0))
	if err != nil {
		return err
	}

	p.activeOperations, err = p.meter.Int64UpDownCounter("gateway.operations.active",
		metric.WithDescription("Number of in-flight conductor round trips"),
		metric.WithUnit("{operation}"))
	return err
}

// Shutdown flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown trace provider", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown metric provider", "error", err)
		}
	}
	return nil
}

// Tracer returns the configured tracer, falling back to the global one if
// the provider was constructed with Enabled: false.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer("conductor-gateway")
	}
	return p.tracer
}

// Meter returns the configured meter.
func (p *Provider) Meter() metric.Meter {
	if p.meter == nil {
		return otel.Meter("conductor-gateway")
	}
	return p.meter
}

// StartSpan starts a new span named name.
func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name, opts...)
}

// TrackRoundTrip tracks one conductor round trip from submission to
// response, recording the RED metrics and an error on the span if one
// occurs. The returned func must be called exactly once, with the round
// trip's outcome.
func (p *Provider) TrackRoundTrip(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := p.StartSpan(ctx, name, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...))

	if p.activeOperations != nil {
		p.activeOperations.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if p.requestCounter != nil {
		p.requestCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}

	return ctx, func(err error) {
		duration := time.Since(start)

		if p.activeOperations != nil {
			p.activeOperations.Add(ctx, -1, metric.WithAttributes(attrs...))
		}
		if p.durationHist != nil {
			p.durationHist.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
		}
		if err != nil {
			span.RecordError(err)
			if p.errorCounter != nil {
				allAttrs := append(append([]attribute.KeyValue{}, attrs...), attribute.String("error.type", fmt.Sprintf("%T", err)))
				p.errorCounter.Add(ctx, 1, metric.WithAttributes(allAttrs...))
			}
		}
		span.End()
	}
}
