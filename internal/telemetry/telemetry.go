// Package telemetry wires OpenTelemetry tracing and metrics. Attributes carry
// only metadata about a transaction, never its text.
package telemetry

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/straja-ai/asclepius"

// Config controls telemetry setup.
type Config struct {
	Enabled  bool
	Endpoint string
	Protocol string // grpc | http
	Service  string
	Version  string
}

// Provider owns the tracer and meter and the gateway's instruments.
type Provider struct {
	Enabled bool
	tracer  trace.Tracer
	meter   metric.Meter

	transactions        metric.Int64Counter
	transactionDuration metric.Float64Histogram
	scrubDuration       metric.Float64Histogram
	judgeDuration       metric.Float64Histogram
	redactions          metric.Int64Counter
	evaluationFailures  metric.Int64Counter

	shutdownTraceProvider func(context.Context) error
	shutdownMeterProvider func(context.Context) error
}

// NewProvider configures OTLP exporters. When disabled it returns no-op providers.
func NewProvider(ctx context.Context, cfg Config, logger *zap.Logger) (*Provider, error) {
	if !cfg.Enabled {
		return Noop(), nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	protocol := strings.ToLower(strings.TrimSpace(cfg.Protocol))
	if protocol == "" {
		protocol = "grpc"
	}
	if protocol != "grpc" && protocol != "http" {
		return nil, fmt.Errorf("telemetry: unsupported protocol %q", cfg.Protocol)
	}
	logger.Info("telemetry enabled",
		zap.String("protocol", protocol),
		zap.String("endpoint", cfg.Endpoint),
	)

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			attribute.String("service.name", cfg.Service),
			attribute.String("service.version", cfg.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	var (
		traceExp  sdktrace.SpanExporter
		metricExp sdkmetric.Exporter
	)
	switch protocol {
	case "grpc":
		if traceExp, err = otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(cfg.Endpoint), otlptracegrpc.WithInsecure()); err != nil {
			return nil, fmt.Errorf("otlp trace exporter: %w", err)
		}
		if metricExp, err = otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpoint(cfg.Endpoint), otlpmetricgrpc.WithInsecure()); err != nil {
			return nil, fmt.Errorf("otlp metric exporter: %w", err)
		}
	case "http":
		if traceExp, err = otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithInsecure()); err != nil {
			return nil, fmt.Errorf("otlp trace exporter: %w", err)
		}
		if metricExp, err = otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(cfg.Endpoint), otlpmetrichttp.WithInsecure()); err != nil {
			return nil, fmt.Errorf("otlp metric exporter: %w", err)
		}
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
	)
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	p := newProvider(tp, mp)
	p.Enabled = true
	p.shutdownTraceProvider = tp.Shutdown
	p.shutdownMeterProvider = mp.Shutdown
	return p, nil
}

// Noop returns a provider that records nothing.
func Noop() *Provider {
	return newProvider(tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider())
}

// NewFromProviders wraps externally built providers, e.g. an SDK meter
// provider with a manual reader in tests.
func NewFromProviders(tp trace.TracerProvider, mp metric.MeterProvider) *Provider {
	p := newProvider(tp, mp)
	p.Enabled = true
	return p
}

func newProvider(tp trace.TracerProvider, mp metric.MeterProvider) *Provider {
	p := &Provider{
		tracer: tp.Tracer(instrumentationName),
		meter:  mp.Meter(instrumentationName),
	}
	p.initInstruments()
	return p
}

func (p *Provider) initInstruments() {
	// instruments are best-effort; a failed registration yields a no-op
	p.transactions, _ = p.meter.Int64Counter("asclepius_transactions_total")
	p.transactionDuration, _ = p.meter.Float64Histogram("asclepius_transaction_duration_ms")
	p.scrubDuration, _ = p.meter.Float64Histogram("asclepius_scrub_duration_ms")
	p.judgeDuration, _ = p.meter.Float64Histogram("asclepius_judge_duration_ms")
	p.redactions, _ = p.meter.Int64Counter("asclepius_redactions_total")
	p.evaluationFailures, _ = p.meter.Int64Counter("asclepius_evaluation_failures_total")
}

// Tracer returns the tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil {
		return tracenoop.NewTracerProvider().Tracer("")
	}
	return p.tracer
}

// Meter returns the meter.
func (p *Provider) Meter() metric.Meter {
	if p == nil {
		return metricnoop.NewMeterProvider().Meter("")
	}
	return p.meter
}

// Shutdown flushes providers.
func (p *Provider) Shutdown(ctx context.Context) {
	if p == nil {
		return
	}
	if p.shutdownTraceProvider != nil {
		_ = p.shutdownTraceProvider(ctx)
	}
	if p.shutdownMeterProvider != nil {
		_ = p.shutdownMeterProvider(ctx)
	}
}

// Transaction is the metadata recorded for one processed transaction.
type Transaction struct {
	Status      string
	FailureKind string
	PIIDetected bool
	// Redactions counts redacted spans per entity type.
	Redactions map[string]int
	TotalMs    float64
	ScrubMs    float64
	JudgeMs    float64
}

// RecordTransaction emits counters and histograms for one transaction.
func (p *Provider) RecordTransaction(ctx context.Context, tx Transaction) {
	if p == nil {
		return
	}
	labels := metric.WithAttributes(
		attribute.String("asclepius.status", tx.Status),
		attribute.Bool("asclepius.pii_detected", tx.PIIDetected),
	)
	p.transactions.Add(ctx, 1, labels)
	p.transactionDuration.Record(ctx, tx.TotalMs, labels)
	p.scrubDuration.Record(ctx, tx.ScrubMs, labels)
	if tx.JudgeMs > 0 {
		p.judgeDuration.Record(ctx, tx.JudgeMs, labels)
	}
	for typ, n := range tx.Redactions {
		if n > 0 {
			p.redactions.Add(ctx, int64(n), metric.WithAttributes(attribute.String("asclepius.entity_type", typ)))
		}
	}
	if tx.FailureKind != "" {
		p.evaluationFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("asclepius.failure_kind", tx.FailureKind)))
	}
}
