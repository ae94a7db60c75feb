// Package tracing configures the process-wide OpenTelemetry trace pipeline.
// Spans export over OTLP/gRPC to the endpoint named by the standard
// OTEL_EXPORTER_OTLP_* environment variables.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
)

// Configure installs the global tracer provider and propagators. The
// returned shutdown function flushes buffered spans; call it before the
// process exits.
func Configure(ctx context.Context, res *resource.Resource) (func(context.Context) error, error) {
	spanExporter, err := otlptracegrpc.New(ctx)
	if err != nil {
		return nil, err
	}

	traceProvider := trace.NewTracerProvider(
		trace.WithSpanProcessor(trace.NewBatchSpanProcessor(spanExporter)),
		trace.WithSampler(trace.AlwaysSample()),
		trace.WithResource(res),
	)

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return traceProvider.Shutdown, nil
}
