// Package observe provides application-wide observability primitives for
// Didata: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
//
// The Record* helpers are safe to call on a nil *Metrics, so components can
// treat metrics as optional.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Didata metrics.
const meterName = "github.com/didata-ai/didata"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Realtime audio ---

	// FramesSent counts encoded microphone frames handed to the transport.
	FramesSent metric.Int64Counter

	// FramesDropped counts frames that never reached the transport. Use with
	// attribute.String("reason", "queue_full"|"send_error").
	FramesDropped metric.Int64Counter

	// ChunksScheduled counts model audio chunks placed on the playback clock.
	ChunksScheduled metric.Int64Counter

	// DecodeErrors counts model audio chunks skipped because they failed to
	// decode.
	DecodeErrors metric.Int64Counter

	// --- Live session ---

	// ActiveSessions tracks the number of connected live sessions.
	ActiveSessions metric.Int64UpDownCounter

	// StateTransitions counts live controller state changes. Use with
	// attributes attribute.String("from", ...), attribute.String("to", ...).
	StateTransitions metric.Int64Counter

	// ConnectDuration tracks time from start request to transport open.
	ConnectDuration metric.Float64Histogram

	// --- Archive ---

	// ArchiveOperations counts archive calls. Use with attributes
	// attribute.String("op", ...), attribute.String("status", ...).
	ArchiveOperations metric.Int64Counter

	// --- Text generation ---

	// TextGenDuration tracks text-generation latency. Use with attribute
	// attribute.String("operation", ...).
	TextGenDuration metric.Float64Histogram

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks admin server latency by method, route and
	// status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) covering
// both live connects and long thinking-model generations.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Realtime audio.
	if met.FramesSent, err = m.Int64Counter("didata.audio.frames_sent",
		metric.WithDescription("Encoded microphone frames sent to the live model."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("didata.audio.frames_dropped",
		metric.WithDescription("Microphone frames dropped before or during send, by reason."),
	); err != nil {
		return nil, err
	}
	if met.ChunksScheduled, err = m.Int64Counter("didata.playback.chunks_scheduled",
		metric.WithDescription("Model audio chunks scheduled for playback."),
	); err != nil {
		return nil, err
	}
	if met.DecodeErrors, err = m.Int64Counter("didata.playback.decode_errors",
		metric.WithDescription("Model audio chunks skipped after a decode failure."),
	); err != nil {
		return nil, err
	}

	// Live session.
	if met.ActiveSessions, err = m.Int64UpDownCounter("didata.live.active_sessions",
		metric.WithDescription("Number of connected live sessions."),
	); err != nil {
		return nil, err
	}
	if met.StateTransitions, err = m.Int64Counter("didata.live.state_transitions",
		metric.WithDescription("Live controller state transitions by source and target state."),
	); err != nil {
		return nil, err
	}
	if met.ConnectDuration, err = m.Float64Histogram("didata.live.connect.duration",
		metric.WithDescription("Time from start request to live transport open."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Archive.
	if met.ArchiveOperations, err = m.Int64Counter("didata.archive.operations",
		metric.WithDescription("Chat archive operations by operation and status."),
	); err != nil {
		return nil, err
	}

	// Text generation.
	if met.TextGenDuration, err = m.Float64Histogram("didata.textgen.duration",
		metric.WithDescription("Latency of text generation calls by operation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("didata.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("didata.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("didata.http.request.duration",
		metric.WithDescription("Admin HTTP request latency by method, route and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordFrameSent records one frame handed to the transport.
func (m *Metrics) RecordFrameSent(ctx context.Context) {
	if m == nil {
		return
	}
	m.FramesSent.Add(ctx, 1)
}

// RecordFrameDropped records one dropped frame with the given reason.
func (m *Metrics) RecordFrameDropped(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.FramesDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordChunkScheduled records one scheduled playback chunk.
func (m *Metrics) RecordChunkScheduled(ctx context.Context) {
	if m == nil {
		return
	}
	m.ChunksScheduled.Add(ctx, 1)
}

// RecordDecodeError records one skipped playback chunk.
func (m *Metrics) RecordDecodeError(ctx context.Context) {
	if m == nil {
		return
	}
	m.DecodeErrors.Add(ctx, 1)
}

// RecordTransition records a live controller state change and keeps
// ActiveSessions in step with entering and leaving the connected state.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.StateTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
	switch {
	case to == "connected" && from != "connected":
		m.ActiveSessions.Add(ctx, 1)
	case from == "connected" && to != "connected":
		m.ActiveSessions.Add(ctx, -1)
	}
}

// RecordConnect records how long a live connect took.
func (m *Metrics) RecordConnect(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.ConnectDuration.Record(ctx, d.Seconds())
}

// RecordArchiveOp records one archive operation with its outcome.
func (m *Metrics) RecordArchiveOp(ctx context.Context, op, status string) {
	if m == nil {
		return
	}
	m.ArchiveOperations.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("status", status),
		),
	)
}

// RecordTextGen records the latency of one text generation call.
func (m *Metrics) RecordTextGen(ctx context.Context, operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.TextGenDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("operation", operation)),
	)
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	if m == nil {
		return
	}
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	if m == nil {
		return
	}
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
