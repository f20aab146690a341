// Package tracing wires OpenTelemetry into a session: one span covers the
// whole transfer, with child events for START, fast retransmits, RTO
// expirations, and END. Disabled by default; when enabled it exports to
// Jaeger or Zipkin, matching the teacher's gateway tracer.
package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/relaywire/filexfer/internal/config"
)

// Tracer manages the OpenTelemetry provider and exposes a minimal session
// tracing surface. The zero value's methods are all safe no-ops, so callers
// don't need to nil-check a disabled tracer.
type Tracer struct {
	cfg      config.TracingConfig
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	logger   *zap.Logger
}

// New creates a Tracer from cfg. If cfg.Enable is false, it returns a Tracer
// whose StartSession/Event/RecordError calls are no-ops.
func New(cfg config.TracingConfig, logger *zap.Logger) (*Tracer, error) {
	if !cfg.Enable {
		logger.Debug("tracing disabled")
		return &Tracer{cfg: cfg, logger: logger}, nil
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing: build resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	switch cfg.Exporter {
	case "jaeger":
		exporter, err = jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.Endpoint)))
	case "zipkin":
		exporter, err = zipkin.New(cfg.Endpoint)
	default:
		return nil, fmt.Errorf("tracing: unsupported exporter %q", cfg.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("tracing: create %s exporter: %w", cfg.Exporter, err)
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case cfg.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	batcher := sdktrace.NewBatchSpanProcessor(exporter, sdktrace.WithBatchTimeout(5*time.Second))
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
		sdktrace.WithSpanProcessor(batcher),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}))

	logger.Info("tracing initialized", zap.String("exporter", cfg.Exporter), zap.String("endpoint", cfg.Endpoint))

	return &Tracer{
		cfg:      cfg,
		provider: provider,
		tracer:   provider.Tracer(cfg.ServiceName),
		logger:   logger,
	}, nil
}

// StartSession opens the one span covering an entire file transfer.
func (t *Tracer) StartSession(ctx context.Context, sessionID, role, filename string) (context.Context, trace.Span) {
	if !t.cfg.Enable || t.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, "transfer",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("session.role", role),
			attribute.String("session.filename", filename),
		))
}

// Event records a named lifecycle event (e.g. "fast_retransmit", "rto_expiry")
// on the span carried by ctx. A no-op when tracing is disabled.
func (t *Tracer) Event(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	if !t.cfg.Enable {
		return
	}
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// RecordError attaches err to the span carried by ctx.
func (t *Tracer) RecordError(ctx context.Context, err error) {
	if !t.cfg.Enable || err == nil {
		return
	}
	trace.SpanFromContext(ctx).RecordError(err)
}

// Enabled reports whether tracing is active.
func (t *Tracer) Enabled() bool {
	return t.cfg.Enable
}

// Shutdown flushes and stops the exporter. A no-op when tracing is disabled.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
