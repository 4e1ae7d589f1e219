// Package telemetry sets up OpenTelemetry tracing and metrics for the
// service.
package telemetry

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// MetricInterval is how often metrics are pushed to the collector.
const MetricInterval = 15 * time.Second

// Providers are the tracer and meter providers handed to components.
type Providers struct {
	Tracer trace.TracerProvider
	Meter  metric.MeterProvider
}

// Setup returns providers exporting over OTLP/HTTP to the collector at
// endpoint (a base URL such as http://collector:4318; traces go to
// /v1/traces and metrics to /v1/metrics).  Export is opt-in: with an empty
// endpoint no-op providers and a no-op shutdown are returned.  Nothing is
// installed globally; callers hand the providers to the components that
// need them.
func Setup(ctx context.Context, serviceName, endpoint string) (Providers, func(context.Context) error, error) {
	noopShutdown := func(context.Context) error { return nil }
	if endpoint == "" {
		return Providers{Tracer: tracenoop.NewTracerProvider(), Meter: metricnoop.NewMeterProvider()}, noopShutdown, nil
	}
	base := strings.TrimRight(endpoint, "/")

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return Providers{}, noopShutdown, err
	}

	traceExporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(base+"/v1/traces"))
	if err != nil {
		return Providers{}, noopShutdown, err
	}
	metricExporter, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpointURL(base+"/v1/metrics"))
	if err != nil {
		_ = traceExporter.Shutdown(ctx)
		return Providers{}, noopShutdown, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(0.1))),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(MetricInterval))),
		sdkmetric.WithResource(res),
	)
	shutdown := func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}
	return Providers{Tracer: tp, Meter: mp}, shutdown, nil
}
