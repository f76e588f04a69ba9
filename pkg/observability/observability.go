// Package observability wires OpenTelemetry tracing and metrics for handoff
// validation: OTLP exporters, global providers and per-handoff instruments.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/Mindburn-Labs/failsafe/pkg/contracts"
)

const instrumentationName = "github.com/Mindburn-Labs/failsafe"

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string        // host:port of an OTLP gRPC collector
	SampleRate     float64       // 0.0 to 1.0
	BatchTimeout   time.Duration // span batch flush interval
	MetricInterval time.Duration
	Enabled        bool
	Insecure       bool // plaintext gRPC, for local collectors
}

func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "failsafe",
		ServiceVersion: "0.1.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		MetricInterval: 15 * time.Second,
		Enabled:        false,
		Insecure:       true,
	}
}

// Provider owns the trace and metric providers and the handoff
// instruments.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	logger         *slog.Logger

	tracer trace.Tracer
	meter  metric.Meter

	handoffs   metric.Int64Counter
	violations metric.Int64Counter
	duration   metric.Float64Histogram
}

// New creates OTLP-exporting providers and installs them globally. With
// Enabled false it returns a provider backed by the global (no-op unless
// set elsewhere) providers.
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
		return p, p.initInstruments(otel.GetTracerProvider(), otel.GetMeterProvider())
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

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init metric provider: %w", err)
	}

	otel.SetTracerProvider(p.tracerProvider)
	otel.SetMeterProvider(p.meterProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if err := p.initInstruments(p.tracerProvider, p.meterProvider); err != nil {
		return nil, fmt.Errorf("failed to init handoff metrics: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"environment", config.Environment,
		"endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate,
		"insecure", config.Insecure,
	)
	return p, nil
}

// NewWithProviders uses caller-owned providers and installs nothing
// globally.
func NewWithProviders(tp trace.TracerProvider, mp metric.MeterProvider) (*Provider, error) {
	p := &Provider{
		config: DefaultConfig(),
		logger: slog.Default().With("component", "observability"),
	}
	return p, p.initInstruments(tp, mp)
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case p.config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case p.config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.config.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(p.config.BatchTimeout)),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	)
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create metric exporter: %w", err)
	}

	interval := p.config.MetricInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
	)
	return nil
}

func (p *Provider) initInstruments(tp trace.TracerProvider, mp metric.MeterProvider) error {
	version := p.config.ServiceVersion
	p.tracer = tp.Tracer(instrumentationName, trace.WithInstrumentationVersion(version))
	p.meter = mp.Meter(instrumentationName, metric.WithInstrumentationVersion(version))

	var err error
	p.handoffs, err = p.meter.Int64Counter("failsafe.handoffs",
		metric.WithDescription("Validated handoffs by result"),
		metric.WithUnit("{handoff}"),
	)
	if err != nil {
		return err
	}
	p.violations, err = p.meter.Int64Counter("failsafe.violations",
		metric.WithDescription("Violations by layer and severity"),
		metric.WithUnit("{violation}"),
	)
	if err != nil {
		return err
	}
	p.duration, err = p.meter.Float64Histogram("failsafe.validation.duration",
		metric.WithDescription("Time spent validating one handoff"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50, 100, 250),
	)
	return err
}

// Shutdown flushes and stops the providers New created.
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

// TracerProvider returns the provider spans should be created from.
func (p *Provider) TracerProvider() trace.TracerProvider {
	if p.tracerProvider != nil {
		return p.tracerProvider
	}
	return otel.GetTracerProvider()
}

func (p *Provider) Tracer() trace.Tracer { return p.tracer }

func (p *Provider) Meter() metric.Meter { return p.meter }

// RecordValidation records the metrics of one validation result.
func (p *Provider) RecordValidation(ctx context.Context, r *contracts.HandoffValidationResult) {
	base := []attribute.KeyValue{
		attribute.String("failsafe.consumer", r.Consumer),
		attribute.String("failsafe.provider", r.Provider),
		attribute.String("failsafe.direction", string(r.Direction)),
	}
	p.handoffs.Add(ctx, 1, metric.WithAttributes(append(base,
		attribute.String("failsafe.result", string(r.OverallResult())),
		attribute.Bool("failsafe.blocked", r.IsBlocked()),
	)...))
	p.duration.Record(ctx, r.ValidationDurationMs, metric.WithAttributes(base...))

	layers := []struct {
		name string
		vs   []contracts.PolicyViolation
	}{
		{"schema", r.SchemaViolations},
		{"authority", r.AuthorityViolations},
		{"policy", r.PolicyViolations},
	}
	for _, layer := range layers {
		for _, v := range layer.vs {
			p.violations.Add(ctx, 1, metric.WithAttributes(
				attribute.String("failsafe.layer", layer.name),
				attribute.String("failsafe.severity", string(v.Severity)),
				attribute.String("failsafe.rule_id", v.RuleID),
			))
		}
	}
}

// ValidationCallback adapts RecordValidation to an interceptor validation
// callback.
func (p *Provider) ValidationCallback() func(*contracts.HandoffValidationResult) {
	return func(r *contracts.HandoffValidationResult) {
		p.RecordValidation(context.Background(), r)
	}
}
