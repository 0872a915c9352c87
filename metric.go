package claimwriter

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	instrumentationName = "claimwriter"

	spanKeyPartition = "claimwriter.partition"
	spanKeyUnique    = "claimwriter.batch.unique"
	spanKeyAll       = "claimwriter.batch.all"
	spanKeyPool      = "claimwriter.pool"
)

// metrics holds the pool's OpenTelemetry instruments.
// Disabled instruments are backed by no-op providers.
type metrics struct {
	pool          string
	written       metric.Int64Counter
	batches       metric.Int64Counter
	transformErrs metric.Int64Counter
	writeErrs     metric.Int64Counter
	watermark     metric.Int64Gauge
	tracer        trace.Tracer
}

func newMetrics(pool string, metricsEnabled, tracingEnabled bool) *metrics {
	var meter metric.Meter = metricnoop.NewMeterProvider().Meter(instrumentationName)
	if metricsEnabled {
		meter = otel.Meter(instrumentationName)
	}
	var tracer trace.Tracer = tracenoop.NewTracerProvider().Tracer(instrumentationName)
	if tracingEnabled {
		tracer = otel.Tracer(instrumentationName)
	}

	m := &metrics{pool: pool, tracer: tracer}
	m.written, _ = meter.Int64Counter("claimwriter.records.written",
		metric.WithDescription("Number of storage items written"),
		metric.WithUnit("{record}"))
	m.batches, _ = meter.Int64Counter("claimwriter.batches.flushed",
		metric.WithDescription("Number of batches flushed"),
		metric.WithUnit("{batch}"))
	m.transformErrs, _ = meter.Int64Counter("claimwriter.transform.errors",
		metric.WithDescription("Number of records dropped because their transform failed"),
		metric.WithUnit("{record}"))
	m.writeErrs, _ = meter.Int64Counter("claimwriter.write.errors",
		metric.WithDescription("Number of failed batch writes"),
		metric.WithUnit("{batch}"))
	m.watermark, _ = meter.Int64Gauge("claimwriter.watermark",
		metric.WithDescription("Last persisted safe resume point"))
	return m
}

func (m *metrics) attrs(partition int) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String(spanKeyPool, m.pool),
		attribute.Int(spanKeyPartition, partition),
	)
}

func (m *metrics) startFlush(ctx context.Context, partition, unique, all int) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "claimwriter.flush",
		trace.WithAttributes(
			attribute.String(spanKeyPool, m.pool),
			attribute.Int(spanKeyPartition, partition),
			attribute.Int(spanKeyUnique, unique),
			attribute.Int(spanKeyAll, all)),
		trace.WithSpanKind(trace.SpanKindClient))
}

func (m *metrics) flushed(ctx context.Context, partition, written int) {
	m.batches.Add(ctx, 1, m.attrs(partition))
	m.written.Add(ctx, int64(written), m.attrs(partition))
}

func (m *metrics) transformFailed(ctx context.Context, partition int) {
	m.transformErrs.Add(ctx, 1, m.attrs(partition))
}

func (m *metrics) writeFailed(ctx context.Context, partition int) {
	m.writeErrs.Add(ctx, 1, m.attrs(partition))
}

func (m *metrics) watermarkPersisted(ctx context.Context, n int64) {
	m.watermark.Record(ctx, n, metric.WithAttributes(attribute.String(spanKeyPool, m.pool)))
}
