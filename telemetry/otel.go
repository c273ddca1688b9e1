// Package telemetry bootstraps OpenTelemetry tracing for the gateway and
// adapts it to the core.Telemetry interface.
package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/modelgate/modelgate/core"
)

// OTelProvider implements core.Telemetry with OpenTelemetry
type OTelProvider struct {
	tracer        trace.Tracer
	traceProvider *sdktrace.TracerProvider
	meterProvider *sdkmetric.MeterProvider
}

// Options controls exporter selection and sampling
type Options struct {
	ServiceName   string
	OTLPEndpoint  string  // empty = stdout exporter
	SamplingRatio float64 // 0..1; 0 disables sampling entirely
}

// NewOTelProvider creates a tracer provider, registers it globally, and
// returns the core.Telemetry adapter.
func NewOTelProvider(opts Options) (*OTelProvider, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(opts.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	if opts.OTLPEndpoint != "" {
		exporter, err = otlptracegrpc.New(context.Background(),
			otlptracegrpc.WithEndpoint(opts.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
	} else {
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(opts.SamplingRatio))

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	// metrics follow the same exporter selection so Counter/Histogram
	// emission actually leaves the process
	var metricExporter sdkmetric.Exporter
	if opts.OTLPEndpoint != "" {
		metricExporter, err = otlpmetricgrpc.New(context.Background(),
			otlpmetricgrpc.WithEndpoint(opts.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
	} else {
		metricExporter, err = stdoutmetric.New()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
	)
	otel.SetMeterProvider(mp)

	return &OTelProvider{
		tracer:        tp.Tracer("modelgate"),
		traceProvider: tp,
		meterProvider: mp,
	}, nil
}

// StartSpan starts a new telemetry span
func (o *OTelProvider) StartSpan(ctx context.Context, name string) (context.Context, core.Span) {
	ctx, span := o.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

// RecordMetric records a metric as a span event on the current span.
// Metric aggregation is left to the collector.
func (o *OTelProvider) RecordMetric(name string, value float64, labels map[string]string) {
	attrs := make([]attribute.KeyValue, 0, len(labels)+1)
	attrs = append(attrs, attribute.Float64("value", value))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	_, span := o.tracer.Start(context.Background(), name, trace.WithAttributes(attrs...))
	span.End()
}

// Shutdown flushes pending spans and metric readings
func (o *OTelProvider) Shutdown(ctx context.Context) error {
	return errors.Join(
		o.traceProvider.Shutdown(ctx),
		o.meterProvider.Shutdown(ctx),
	)
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() {
	s.span.End()
}

func (s *otelSpan) SetAttribute(key string, value interface{}) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", v)))
	}
}

func (s *otelSpan) RecordError(err error) {
	s.span.RecordError(err)
}

var _ core.Telemetry = (*OTelProvider)(nil)
