// Package tracing provides OpenTelemetry tracing for channel operations.
package tracing

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/actual-software/mailslot/internal/config"
	mserrors "github.com/actual-software/mailslot/internal/errors"
)

const instrumentationName = "github.com/actual-software/mailslot"

// Option configures a Tracer.
type Option func(*options)

type options struct {
	exporter sdktrace.SpanExporter
}

// WithExporter overrides the exporter selected by the configuration.
func WithExporter(exporter sdktrace.SpanExporter) Option {
	return func(o *options) {
		o.exporter = exporter
	}
}

// Tracer wraps the OpenTelemetry tracer provider. A disabled Tracer hands out
// non-recording spans.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	config   config.TracingConfig
	logger   *zap.Logger
}

// Noop returns a disabled Tracer.
func Noop() *Tracer {
	return &Tracer{
		tracer: noop.NewTracerProvider().Tracer(instrumentationName),
		logger: zap.NewNop(),
	}
}

// New initializes tracing from cfg and installs the provider globally.
func New(cfg config.TracingConfig, logger *zap.Logger, opts ...Option) (*Tracer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if !cfg.Enabled || (cfg.ExporterType == "none" && o.exporter == nil) {
		logger.Info("OpenTelemetry tracing disabled")

		t := Noop()
		t.config = cfg
		t.logger = logger

		return t, nil
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter := o.exporter
	if exporter == nil {
		exporter, err = createExporter(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create exporter: %w", err)
		}
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(createSampler(cfg)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("OpenTelemetry tracing initialized",
		zap.String("service", cfg.ServiceName),
		zap.String("environment", cfg.Environment),
		zap.String("exporter", cfg.ExporterType),
		zap.String("sampler", cfg.SamplerType),
	)

	return &Tracer{
		provider: tp,
		tracer:   tp.Tracer(instrumentationName),
		config:   cfg,
		logger:   logger,
	}, nil
}

func createExporter(cfg config.TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.ExporterType {
	case "otlp":
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}

		return otlptracegrpc.New(context.Background(), opts...)
	case "stdout", "":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		return nil, fmt.Errorf("unknown exporter type %q", cfg.ExporterType)
	}
}

//nolint:ireturn // Returns OpenTelemetry interface
func createSampler(cfg config.TracingConfig) sdktrace.Sampler {
	switch cfg.SamplerType {
	case "always_off":
		return sdktrace.NeverSample()
	case "ratio":
		return sdktrace.TraceIDRatioBased(cfg.SamplerParam)
	case "parent_based":
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplerParam))
	default:
		return sdktrace.AlwaysSample()
	}
}

// Enabled reports whether spans are recorded and exported.
func (t *Tracer) Enabled() bool {
	return t.provider != nil
}

// StartSpan starts a span for a channel operation.
//
//nolint:ireturn // Returns OpenTelemetry interface
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err, if any, on span and ends it. The error kind is added as
// an attribute.
func (t *Tracer) EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(
			attribute.String("mailslot.error.kind", string(mserrors.KindOf(err))),
		)
	}

	span.End()
}

// TraceID returns the trace ID of the span in ctx, or "" if there is none.
func (t *Tracer) TraceID(ctx context.Context) string {
	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if !spanCtx.IsValid() {
		return ""
	}

	return spanCtx.TraceID().String()
}

// HTTPMiddleware traces requests to the admin HTTP endpoints.
func (t *Tracer) HTTPMiddleware(next http.Handler, operation string) http.Handler {
	if !t.Enabled() {
		return next
	}

	return otelhttp.NewHandler(next, operation,
		otelhttp.WithTracerProvider(t.provider),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return fmt.Sprintf("%s %s", r.Method, r.URL.Path)
		}),
	)
}

// Flush exports every finished span.
func (t *Tracer) Flush(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}

	return t.provider.ForceFlush(ctx)
}

// Shutdown flushes and stops the provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}

	if err := t.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown tracer provider: %w", err)
	}

	t.logger.Info("OpenTelemetry tracing shut down")

	return nil
}
