// Package observe provides application-wide observability primitives for
// voxstream: OpenTelemetry metrics, tracing, structured logging helpers, and
// HTTP middleware for the admin server.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so metrics can be scraped
// via the standard /metrics endpoint. A package-level default [Metrics]
// instance ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxstream metrics.
const meterName = "github.com/MrWong99/voxstream"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Audio path ---

	// FramesSent counts PCM frames forwarded to the recognizer.
	FramesSent metric.Int64Counter

	// BytesSent counts PCM payload bytes forwarded (before base64).
	BytesSent metric.Int64Counter

	// FramesDropped counts discarded frames. Use with attribute:
	//   attribute.String("reason", ...)
	FramesDropped metric.Int64Counter

	// BlockDuration tracks the time spent resampling, encoding and gating a
	// single capture block.
	BlockDuration metric.Float64Histogram

	// --- Session lifecycle ---

	// ConnectDuration tracks the time from Start to the first streamable
	// state (token fetch, dial and handshake).
	ConnectDuration metric.Float64Histogram

	// SessionTransitions counts state machine transitions. Use with attribute:
	//   attribute.String("state", ...)
	SessionTransitions metric.Int64Counter

	// TokenRequests counts token service calls. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("status", ...)
	TokenRequests metric.Int64Counter

	// ActiveSessions tracks the number of sessions between Start and Closed.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// blockBuckets are histogram boundaries (in seconds) for per-block work,
// which must stay far below one block period (~21ms at 48kHz).
var blockBuckets = []float64{
	0.00001, 0.000025, 0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025,
}

// latencyBuckets are histogram boundaries (in seconds) for network round trips.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Audio path.
	if met.FramesSent, err = m.Int64Counter("voxstream.frames.sent",
		metric.WithDescription("Total PCM frames forwarded to the recognizer."),
	); err != nil {
		return nil, err
	}
	if met.BytesSent, err = m.Int64Counter("voxstream.bytes.sent",
		metric.WithDescription("Total PCM payload bytes forwarded to the recognizer."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("voxstream.frames.dropped",
		metric.WithDescription("Total PCM frames discarded by reason."),
	); err != nil {
		return nil, err
	}
	if met.BlockDuration, err = m.Float64Histogram("voxstream.block.duration",
		metric.WithDescription("Time spent processing one capture block."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(blockBuckets...),
	); err != nil {
		return nil, err
	}

	// Session lifecycle.
	if met.ConnectDuration, err = m.Float64Histogram("voxstream.session.connect.duration",
		metric.WithDescription("Latency from session start until audio may stream."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionTransitions, err = m.Int64Counter("voxstream.session.transitions",
		metric.WithDescription("Total session state transitions by target state."),
	); err != nil {
		return nil, err
	}
	if met.TokenRequests, err = m.Int64Counter("voxstream.token.requests",
		metric.WithDescription("Total token service requests by kind and status."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxstream.active_sessions",
		metric.WithDescription("Number of recognition sessions not yet closed."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxstream.http.request.duration",
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// RecordFrameSent records one forwarded frame of n PCM bytes.
func (m *Metrics) RecordFrameSent(ctx context.Context, n int) {
	m.FramesSent.Add(ctx, 1)
	m.BytesSent.Add(ctx, int64(n))
}

// RecordFrameDropped records one discarded frame.
func (m *Metrics) RecordFrameDropped(ctx context.Context, reason string) {
	m.FramesDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordTransition records a session entering state.
func (m *Metrics) RecordTransition(ctx context.Context, state string) {
	m.SessionTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}

// RecordTokenRequest records a token service call.
func (m *Metrics) RecordTokenRequest(ctx context.Context, kind, status string) {
	m.TokenRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}
