// Package telemetry installs the process wide OpenTelemetry tracer provider.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"

	"newsletter-backend/config"
)

// ShutdownFunc flushes buffered spans and stops the exporter.
type ShutdownFunc func(context.Context) error

func newResource(serviceName string) *sdkresource.Resource {
	return sdkresource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.TelemetrySDKLanguageGo,
	)
}

// NewTracerProvider returns a provider batching spans to exp. A nil exp
// records spans without exporting them.
func NewTracerProvider(serviceName string, exp sdktrace.SpanExporter) *sdktrace.TracerProvider {
	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(newResource(serviceName))}
	if exp != nil {
		opts = append(opts, sdktrace.WithBatcher(exp))
	}
	return sdktrace.NewTracerProvider(opts...)
}

// Setup builds the tracer provider described by cfg and sets it globally.
// When cfg.Enabled is false spans are still created but never leave the process.
func Setup(ctx context.Context, cfg config.Telemetry, log *zap.Logger) (ShutdownFunc, error) {
	var exp sdktrace.SpanExporter
	if cfg.Enabled {
		e, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.CollectorEndpoint),
			otlptracegrpc.WithInsecure())
		if err != nil {
			return nil, fmt.Errorf("can't initialize tracer exporter: %w", err)
		}
		exp = e
		log.Info("exporting traces", zap.String("endpoint", cfg.CollectorEndpoint))
	} else {
		log.Warn("trace export turned off")
	}

	tp := NewTracerProvider(cfg.ServiceName, exp)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp.Shutdown, nil
}
