// Package observe provides application-wide observability primitives for
// Frontdesk: OpenTelemetry metrics and the Prometheus exporter bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Frontdesk metrics.
const meterName = "github.com/frontdesk-ai/frontdesk"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// CallDuration tracks wall-clock call length from acceptance to disconnect.
	CallDuration metric.Float64Histogram

	// SettleStepDuration tracks per-step settlement latency. Use with
	// attribute.String("step", ...).
	SettleStepDuration metric.Float64Histogram

	// FilteredUtterances counts caller utterances dropped before the
	// responder. Use with attribute.String("reason", "echo"|"empty"|"filler").
	FilteredUtterances metric.Int64Counter

	// Turns counts valid caller turns forwarded to the responder.
	Turns metric.Int64Counter

	// Interrupts counts caller interruptions of the responder.
	Interrupts metric.Int64Counter

	// LanguageLocks counts sessions locked per language. Use with
	// attribute.String("language", ...).
	LanguageLocks metric.Int64Counter

	// RateLimited counts calls declined by the rate limiter.
	RateLimited metric.Int64Counter

	// Settlements counts completed settlement runs. Use with
	// attribute.String("outcome", "booked"|"booking_failed"|"no_booking").
	Settlements metric.Int64Counter

	// CallbacksScheduled counts deferred callbacks enqueued for missed calls.
	CallbacksScheduled metric.Int64Counter

	// CollaboratorRequests counts external collaborator calls. Use with
	// attributes: attribute.String("collaborator", ...), attribute.String("status", ...).
	CollaboratorRequests metric.Int64Counter

	// CollaboratorErrors counts external collaborator failures by collaborator.
	CollaboratorErrors metric.Int64Counter

	// ActiveCalls tracks the number of live call sessions.
	ActiveCalls metric.Int64UpDownCounter
}

// callBuckets defines histogram bucket boundaries (in seconds) sized for
// phone-call durations rather than request latencies.
var callBuckets = []float64{
	1, 5, 10, 30, 60, 120, 300, 600, 1200,
}

// stepBuckets defines histogram bucket boundaries (in seconds) for individual
// settlement steps, each of which is bounded by a short timeout.
var stepBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.CallDuration, err = m.Float64Histogram("frontdesk.call.duration",
		metric.WithDescription("Call length from acceptance to disconnect."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(callBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SettleStepDuration, err = m.Float64Histogram("frontdesk.settle.step.duration",
		metric.WithDescription("Latency of individual settlement steps."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(stepBuckets...),
	); err != nil {
		return nil, err
	}

	if met.FilteredUtterances, err = m.Int64Counter("frontdesk.utterances.filtered",
		metric.WithDescription("Caller utterances dropped before the responder, by reason."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("frontdesk.turns",
		metric.WithDescription("Valid caller turns forwarded to the responder."),
	); err != nil {
		return nil, err
	}
	if met.Interrupts, err = m.Int64Counter("frontdesk.interrupts",
		metric.WithDescription("Caller interruptions of responder speech."),
	); err != nil {
		return nil, err
	}
	if met.LanguageLocks, err = m.Int64Counter("frontdesk.language.locks",
		metric.WithDescription("Sessions locked to a detected language."),
	); err != nil {
		return nil, err
	}
	if met.RateLimited, err = m.Int64Counter("frontdesk.calls.rate_limited",
		metric.WithDescription("Calls declined by the per-caller rate limit."),
	); err != nil {
		return nil, err
	}
	if met.Settlements, err = m.Int64Counter("frontdesk.settlements",
		metric.WithDescription("Completed settlement runs by booking outcome."),
	); err != nil {
		return nil, err
	}
	if met.CallbacksScheduled, err = m.Int64Counter("frontdesk.callbacks.scheduled",
		metric.WithDescription("Deferred callbacks enqueued for missed calls."),
	); err != nil {
		return nil, err
	}
	if met.CollaboratorRequests, err = m.Int64Counter("frontdesk.collaborator.requests",
		metric.WithDescription("External collaborator calls by collaborator and status."),
	); err != nil {
		return nil, err
	}
	if met.CollaboratorErrors, err = m.Int64Counter("frontdesk.collaborator.errors",
		metric.WithDescription("External collaborator failures by collaborator."),
	); err != nil {
		return nil, err
	}

	if met.ActiveCalls, err = m.Int64UpDownCounter("frontdesk.active_calls",
		metric.WithDescription("Number of live call sessions."),
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

// RecordFiltered records a dropped caller utterance with its filter reason.
func (m *Metrics) RecordFiltered(ctx context.Context, reason string) {
	m.FilteredUtterances.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordCollaborator records one external collaborator call and, on failure,
// the matching error counter increment.
func (m *Metrics) RecordCollaborator(ctx context.Context, collaborator string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		m.CollaboratorErrors.Add(ctx, 1,
			metric.WithAttributes(attribute.String("collaborator", collaborator)),
		)
	}
	m.CollaboratorRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("collaborator", collaborator),
			attribute.String("status", status),
		),
	)
}

// RecordSettlement records one completed settlement run with its booking outcome.
func (m *Metrics) RecordSettlement(ctx context.Context, outcome string) {
	m.Settlements.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordLanguageLock records a session locking to the given language code.
func (m *Metrics) RecordLanguageLock(ctx context.Context, language string) {
	m.LanguageLocks.Add(ctx, 1,
		metric.WithAttributes(attribute.String("language", language)),
	)
}
