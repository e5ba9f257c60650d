// Package observe provides the observability primitives of interpreta:
// OpenTelemetry metrics and tracing, trace-aware logging, and HTTP middleware
// that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported to
// Prometheus by [InitProvider]; [MetricsHandler] serves them on /metrics.
// Tests should use [NewMetrics] with their own [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/interpreta"

// Segment outcomes recorded by [Metrics.RecordSegment].
const (
	SegmentTranscribed = "transcribed"
	SegmentRejected    = "rejected"
	SegmentDiscarded   = "discarded"
	SegmentEmpty       = "empty"
	SegmentFailed      = "error"
)

// Metrics holds the metric instruments of a running process. All fields are
// safe for concurrent use.
type Metrics struct {
	// STTDuration tracks speech-to-text latency.
	STTDuration metric.Float64Histogram

	// TranslateDuration tracks translation latency.
	TranslateDuration metric.Float64Histogram

	// SegmentAudio tracks the length of finalized recordings.
	SegmentAudio metric.Float64Histogram

	// ProviderRequests counts gateway calls by provider, kind and status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts gateway failures by provider and kind.
	ProviderErrors metric.Int64Counter

	// Segments counts finalized recordings by outcome.
	Segments metric.Int64Counter

	// Messages counts sink operations by op ("created", "translated").
	Messages metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes by name and
	// target state.
	BreakerTransitions metric.Int64Counter

	// ActiveSessions tracks the number of running sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request latency by method and path.
	HTTPRequestDuration metric.Float64Histogram
}

var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 30,
}

var audioBuckets = []float64{
	0.5, 1, 2, 3, 5, 8, 12, 20, 30, 60,
}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.STTDuration, err = m.Float64Histogram("interpreta.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranslateDuration, err = m.Float64Histogram("interpreta.translate.duration",
		metric.WithDescription("Latency of text translation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SegmentAudio, err = m.Float64Histogram("interpreta.segment.audio",
		metric.WithDescription("Length of finalized audio segments."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(audioBuckets...),
	); err != nil {
		return nil, err
	}

	if met.ProviderRequests, err = m.Int64Counter("interpreta.provider.requests",
		metric.WithDescription("Total gateway requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("interpreta.provider.errors",
		metric.WithDescription("Total gateway errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.Segments, err = m.Int64Counter("interpreta.segments",
		metric.WithDescription("Finalized audio segments by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Messages, err = m.Int64Counter("interpreta.messages",
		metric.WithDescription("Message sink operations by op."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("interpreta.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by breaker and target state."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("interpreta.active_sessions",
		metric.WithDescription("Number of running capture sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("interpreta.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide [Metrics] built on
// [otel.GetMeterProvider]. It panics if instrument creation fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderCall records one gateway call: its latency on h, a request
// with status "ok" or "error", and an error count on failure.
func (m *Metrics) RecordProviderCall(ctx context.Context, h metric.Float64Histogram, provider, kind string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		))
	}
	h.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("provider", provider)))
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
}

// RecordSegment counts a finalized segment with the given outcome.
func (m *Metrics) RecordSegment(ctx context.Context, outcome string, audio time.Duration) {
	m.Segments.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if outcome != SegmentDiscarded {
		m.SegmentAudio.Record(ctx, audio.Seconds())
	}
}

// RecordMessage counts a sink operation.
func (m *Metrics) RecordMessage(ctx context.Context, op string) {
	m.Messages.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

// RecordBreakerTransition counts a breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, name, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker", name),
		attribute.String("to", to),
	))
}
