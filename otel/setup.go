// Package otel provides OpenTelemetry integration for the forage
// gateway: exporter setup, HTTP server tracing, and fetch metrics.
package otel

import (
	"context"
	"errors"
	"fmt"

	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// SetupConfig configures the OTLP pipeline.
type SetupConfig struct {
	// ServiceName is reported as service.name on all telemetry.
	ServiceName string

	// Endpoint is the OTLP/HTTP collector endpoint (host:port).
	Endpoint string

	// Insecure disables TLS on the exporter connection.
	Insecure bool
}

// Setup installs global tracer and meter providers backed by an
// OTLP/HTTP trace exporter. It returns a shutdown function that flushes
// and stops both providers.
func Setup(ctx context.Context, cfg SetupConfig) (func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("otel setup: endpoint is required")
	}
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "forage"
	}

	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("otel setup: creating trace exporter: %w", err)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", serviceName),
	)

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
	)

	otelapi.SetTracerProvider(tracerProvider)
	otelapi.SetMeterProvider(meterProvider)

	return func(shutdownCtx context.Context) error {
		traceErr := tracerProvider.Shutdown(shutdownCtx)
		meterErr := meterProvider.Shutdown(shutdownCtx)
		return errors.Join(traceErr, meterErr)
	}, nil
}
