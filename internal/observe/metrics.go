// Package observe provides the observability primitives of the monitoring
// service: OpenTelemetry metrics, tracing, trace-aware logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [InitProvider]
// installs a Prometheus exporter bridge so they can be scraped at /metrics.
// [DefaultMetrics] is a package-level instance for convenience; tests should
// use [NewMetrics] with their own [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for every instrument.
const meterName = "github.com/MrWong99/cratequiet"

// Status attribute values.
const (
	StatusOK      = "ok"
	StatusDropped = "dropped"
	StatusError   = "error"
)

// Metrics holds all OpenTelemetry instruments for the application. The
// underlying OTel types handle their own synchronisation.
type Metrics struct {
	// --- Sampling loop ---

	// Ticks counts sampling ticks. Attribute: status (ok|dropped).
	Ticks metric.Int64Counter

	// TickDuration tracks how long one tick takes from sample read to publish.
	TickDuration metric.Float64Histogram

	// Barks counts accepted bark events.
	Barks metric.Int64Counter

	// Confidence records the classifier confidence of every tick.
	Confidence metric.Float64Histogram

	// ActiveSessions is 1 while a monitoring session is capturing.
	ActiveSessions metric.Int64UpDownCounter

	// Sessions counts finished sessions. Attribute: outcome
	// (success|barked|discarded).
	Sessions metric.Int64Counter

	// --- Response dispatcher ---

	// Dispatches counts dispatch requests. Attribute: status (ok|dropped).
	Dispatches metric.Int64Counter

	// SinkErrors counts failed sink calls. Attribute: action (pulse|play).
	SinkErrors metric.Int64Counter

	// --- Event log ---

	// EventLogWrites counts persistence attempts. Attributes: kind
	// (bark|session|settings|trim|archive), status (ok|error|dropped).
	EventLogWrites metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks request latency. Attributes: method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// tickBuckets are bucket boundaries in seconds sized around the 100 ms
// sampling period.
var tickBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25,
}

var confidenceBuckets = []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1}

// NewMetrics creates a fully initialised [Metrics] using mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Ticks, err = m.Int64Counter("cratequiet.monitor.ticks",
		metric.WithDescription("Sampling ticks by status."),
	); err != nil {
		return nil, err
	}
	if met.TickDuration, err = m.Float64Histogram("cratequiet.monitor.tick.duration",
		metric.WithDescription("Processing time of one sampling tick."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(tickBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Barks, err = m.Int64Counter("cratequiet.monitor.barks",
		metric.WithDescription("Accepted bark events."),
	); err != nil {
		return nil, err
	}
	if met.Confidence, err = m.Float64Histogram("cratequiet.monitor.confidence",
		metric.WithDescription("Classifier confidence per tick."),
		metric.WithExplicitBucketBoundaries(confidenceBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("cratequiet.monitor.active_sessions",
		metric.WithDescription("Number of capturing monitoring sessions."),
	); err != nil {
		return nil, err
	}
	if met.Sessions, err = m.Int64Counter("cratequiet.monitor.sessions",
		metric.WithDescription("Finished monitoring sessions by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Dispatches, err = m.Int64Counter("cratequiet.response.dispatches",
		metric.WithDescription("Response dispatch requests by status."),
	); err != nil {
		return nil, err
	}
	if met.SinkErrors, err = m.Int64Counter("cratequiet.response.sink_errors",
		metric.WithDescription("Failed feedback sink calls by action."),
	); err != nil {
		return nil, err
	}
	if met.EventLogWrites, err = m.Int64Counter("cratequiet.eventlog.writes",
		metric.WithDescription("Event log persistence attempts by kind and status."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("cratequiet.http.request.duration",
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

// DefaultMetrics returns the package-level [Metrics], creating it on first
// call from [otel.GetMeterProvider]. Panics if instrument creation fails.
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

// RecordTick records one sampling tick with its status and, for processed
// ticks, its duration in seconds.
func (m *Metrics) RecordTick(ctx context.Context, status string, seconds float64) {
	m.Ticks.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	if status == StatusOK {
		m.TickDuration.Record(ctx, seconds)
	}
}

// RecordDispatch records a dispatch request.
func (m *Metrics) RecordDispatch(ctx context.Context, status string) {
	m.Dispatches.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordSinkError records a failed sink call.
func (m *Metrics) RecordSinkError(ctx context.Context, action string) {
	m.SinkErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}

// RecordWrite records an event log persistence attempt.
func (m *Metrics) RecordWrite(ctx context.Context, kind, status string) {
	m.EventLogWrites.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordSession records a finished session outcome.
func (m *Metrics) RecordSession(ctx context.Context, outcome string) {
	m.Sessions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
