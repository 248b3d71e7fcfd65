package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Tracer returns a tracer for the given name
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// StartSpan starts a new span from context
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, opts...)
}

// StartServiceSpan starts a span for service operations
func StartServiceSpan(ctx context.Context, service, operation string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("%s.%s", service, operation),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("service.component", service),
			attribute.String("service.operation", operation),
		),
	)
}

// StartProviderSpan starts a span for an outbound provider API call
func StartProviderSpan(ctx context.Context, provider, operation string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("provider.%s.%s", provider, operation),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("storage.provider", provider),
			attribute.String("storage.operation", operation),
		),
	)
}

// RecordError records an error on the span
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSuccess marks the span as successful
func SetSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// AddEvent adds an event to the span
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SyncMetrics holds the subsystem's metric instruments
type SyncMetrics struct {
	sweepDuration     metric.Float64Histogram
	sweepCount        metric.Int64Counter
	changesApplied    metric.Int64Counter
	conflictsFound    metric.Int64Counter
	uploads           metric.Int64Counter
	tokenRefreshes    metric.Int64Counter
	quotaRejections   metric.Int64Counter
	activeConnections metric.Int64UpDownCounter
}

var (
	metricsOnce sync.Once
	metricsInst *SyncMetrics
	metricsErr  error
)

// Metrics returns the process-wide metric instruments, creating them on
// first use. Instrument creation only fails on malformed names, so the
// error is logged once and a no-op wrapper is never needed.
func Metrics() *SyncMetrics {
	metricsOnce.Do(func() {
		metricsInst, metricsErr = newSyncMetrics()
		if metricsErr != nil {
			Errorf("Failed to create metric instruments: %v", metricsErr)
			metricsInst = &SyncMetrics{}
		}
	})
	return metricsInst
}

func newSyncMetrics() (*SyncMetrics, error) {
	meter := otel.Meter(instrumentationName)

	sweepDuration, err := meter.Float64Histogram(
		"cloudsync.sweep.duration",
		metric.WithDescription("Sync sweep duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	sweepCount, err := meter.Int64Counter(
		"cloudsync.sweep.count",
		metric.WithDescription("Total number of sync sweeps"),
		metric.WithUnit("{sweeps}"),
	)
	if err != nil {
		return nil, err
	}

	changesApplied, err := meter.Int64Counter(
		"cloudsync.changes.applied",
		metric.WithDescription("Change feed entries applied to the catalog"),
		metric.WithUnit("{changes}"),
	)
	if err != nil {
		return nil, err
	}

	conflictsFound, err := meter.Int64Counter(
		"cloudsync.conflicts.found",
		metric.WithDescription("Conflicts detected during reconciliation"),
		metric.WithUnit("{conflicts}"),
	)
	if err != nil {
		return nil, err
	}

	uploads, err := meter.Int64Counter(
		"cloudsync.file.uploads",
		metric.WithDescription("Total number of file uploads"),
		metric.WithUnit("{uploads}"),
	)
	if err != nil {
		return nil, err
	}

	tokenRefreshes, err := meter.Int64Counter(
		"cloudsync.token.refreshes",
		metric.WithDescription("OAuth token refresh attempts"),
		metric.WithUnit("{refreshes}"),
	)
	if err != nil {
		return nil, err
	}

	quotaRejections, err := meter.Int64Counter(
		"cloudsync.quota.rejections",
		metric.WithDescription("Operations rejected by the rate limiter"),
		metric.WithUnit("{rejections}"),
	)
	if err != nil {
		return nil, err
	}

	activeConnections, err := meter.Int64UpDownCounter(
		"cloudsync.connections.active",
		metric.WithDescription("Number of active storage connections"),
		metric.WithUnit("{connections}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		sweepDuration:     sweepDuration,
		sweepCount:        sweepCount,
		changesApplied:    changesApplied,
		conflictsFound:    conflictsFound,
		uploads:           uploads,
		tokenRefreshes:    tokenRefreshes,
		quotaRejections:   quotaRejections,
		activeConnections: activeConnections,
	}, nil
}

// RecordSweep records one completed sync sweep
func (m *SyncMetrics) RecordSweep(ctx context.Context, duration time.Duration, connections int, failed bool) {
	if m.sweepCount == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.Int("connections", connections),
		attribute.Bool("failed", failed),
	}
	m.sweepCount.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.sweepDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordChanges records applied change feed entries for a provider
func (m *SyncMetrics) RecordChanges(ctx context.Context, provider string, applied, conflicts int) {
	if m.changesApplied == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("storage.provider", provider))
	m.changesApplied.Add(ctx, int64(applied), attrs)
	if conflicts > 0 {
		m.conflictsFound.Add(ctx, int64(conflicts), attrs)
	}
}

// RecordUpload records a file upload
func (m *SyncMetrics) RecordUpload(ctx context.Context, provider string, size int64, resumable bool) {
	if m.uploads == nil {
		return
	}
	m.uploads.Add(ctx, 1, metric.WithAttributes(
		attribute.String("storage.provider", provider),
		attribute.Int64("size_bytes", size),
		attribute.Bool("resumable", resumable),
	))
}

// RecordTokenRefresh records an OAuth refresh attempt
func (m *SyncMetrics) RecordTokenRefresh(ctx context.Context, provider string, success bool) {
	if m.tokenRefreshes == nil {
		return
	}
	m.tokenRefreshes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("storage.provider", provider),
		attribute.Bool("success", success),
	))
}

// RecordQuotaRejection records a rate limiter rejection
func (m *SyncMetrics) RecordQuotaRejection(ctx context.Context, provider, operation string) {
	if m.quotaRejections == nil {
		return
	}
	m.quotaRejections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("storage.provider", provider),
		attribute.String("storage.operation", operation),
	))
}

// ConnectionOpened adjusts the active connection gauge
func (m *SyncMetrics) ConnectionOpened(ctx context.Context, provider string) {
	if m.activeConnections == nil {
		return
	}
	m.activeConnections.Add(ctx, 1, metric.WithAttributes(attribute.String("storage.provider", provider)))
}

// ConnectionClosed adjusts the active connection gauge
func (m *SyncMetrics) ConnectionClosed(ctx context.Context, provider string) {
	if m.activeConnections == nil {
		return
	}
	m.activeConnections.Add(ctx, -1, metric.WithAttributes(attribute.String("storage.provider", provider)))
}
