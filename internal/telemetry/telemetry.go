// Package telemetry wires OpenTelemetry tracing and metrics for the
// recovery core. Grounded on the teacher's internal/storage/dolt/store.go
// (package-level doltTracer/doltMetrics registered against the global
// provider at init time, so instruments forward to the real provider once
// an exporter is installed; doltSpanAttrs/endSpan span helpers).
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/flightvault/recovery"

// Tracer is the package-wide tracer. It uses the global provider, which is
// a no-op until Init is called — matching the teacher's doltTracer.
var Tracer = otel.Tracer(instrumentationName)

// Metrics holds the recovery core's counters, registered against the global
// delegating provider at init time so they forward to the real provider
// once Init runs.
var Metrics struct {
	ProbeCount   metric.Int64Counter
	RetryCount   metric.Int64Counter
	BatchCount   metric.Int64Counter
	RestoreCount metric.Int64Counter
}

func init() {
	m := otel.Meter(instrumentationName)
	Metrics.ProbeCount, _ = m.Int64Counter("flightvault.finder.probe_count",
		metric.WithDescription("Health-score probes issued by the Smart Restore-Point Finder"),
		metric.WithUnit("{probe}"),
	)
	Metrics.RetryCount, _ = m.Int64Counter("flightvault.store.retry_count",
		metric.WithDescription("Store operations retried due to a transient failure"),
		metric.WithUnit("{retry}"),
	)
	Metrics.BatchCount, _ = m.Int64Counter("flightvault.executor.batch_count",
		metric.WithDescription("Batches written by the Selective Executor, counted before the transaction commits"),
		metric.WithUnit("{batch}"),
	)
	Metrics.RestoreCount, _ = m.Int64Counter("flightvault.executor.records_restored",
		metric.WithDescription("Records written by a successful restore"),
		metric.WithUnit("{record}"),
	)
}

// Shutdown stops the providers installed by Init, flushing any buffered
// spans/metrics. It is a no-op if Init was never called.
type Shutdown func(context.Context) error

// Init installs stdout exporters for tracing and metrics (the reference
// deployment's observability backend is a collector scraping these
// streams), returning a Shutdown to flush and release resources on exit.
func Init(ctx context.Context) (Shutdown, error) {
	traceExporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExporter))
	otel.SetTracerProvider(tp)

	metricExporter, err := stdoutmetric.New()
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(
		sdkmetric.NewPeriodicReader(metricExporter)))
	otel.SetMeterProvider(mp)

	return func(ctx context.Context) error {
		if err := tp.Shutdown(ctx); err != nil {
			return err
		}
		return mp.Shutdown(ctx)
	}, nil
}

// StoreSpanAttrs returns the fixed attributes shared by every store span,
// mirroring doltSpanAttrs.
func StoreSpanAttrs(kind, operation string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("db.system", "dolt"),
		attribute.String("db.operation", operation),
		attribute.String("flightvault.kind", kind),
	}
}

// EndSpan records an error (if any) and ends the span, mirroring endSpan.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
