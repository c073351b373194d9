// Package observe provides application-wide observability primitives for
// Solace: OpenTelemetry metrics, structured logging helpers, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
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

// meterName is the instrumentation scope name used for all Solace metrics.
const meterName = "github.com/MrWong99/solace"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TurnDuration tracks end-to-end user-turn latency (UserMessage received
	// to GenerateResponse emitted).
	TurnDuration metric.Float64Histogram

	// AppendDuration tracks event store append latency.
	AppendDuration metric.Float64Histogram

	// LLMDuration tracks LLM inference latency.
	LLMDuration metric.Float64Histogram

	// ClassifierDuration tracks emotion classifier latency inside the worker pool.
	ClassifierDuration metric.Float64Histogram

	// --- Counters ---

	// EventsAppended counts events written to the event store. Use with
	// attribute.String("event_type", ...).
	EventsAppended metric.Int64Counter

	// VersionConflicts counts optimistic-versioning conflicts on append.
	// Conflicts are recoverable; the caller retries with a refreshed version.
	VersionConflicts metric.Int64Counter

	// SendRetries counts actor send retry attempts.
	SendRetries metric.Int64Counter

	// DeadLetters counts messages quarantined in the dead-letter queue.
	// Use with attribute.String("actor_id", ...).
	DeadLetters metric.Int64Counter

	// MemoriesSaved counts long-term memories persisted.
	MemoriesSaved metric.Int64Counter

	// MemoriesRejected counts turns evaluated but rejected by the LTM gate.
	// Use with attribute.String("reason", ...).
	MemoriesRejected metric.Int64Counter

	// CacheRequests counts distributed-cache lookups. Use with
	// attribute.String("cache", ...), attribute.String("status", "hit"|"miss").
	CacheRequests metric.Int64Counter

	// LimitRejections counts user turns rejected by the daily limit gate.
	LimitRejections metric.Int64Counter

	// BufferOverflows counts event-store write-buffer hard-cap overflows.
	BufferOverflows metric.Int64Counter

	// ProviderErrors counts LLM/embedding provider errors. Use with
	// attribute.String("provider", ...), attribute.String("kind", ...).
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live user sessions.
	ActiveSessions metric.Int64UpDownCounter

	// MailboxDepth tracks queued messages across actor mailboxes. Use with
	// attribute.String("actor_id", ...).
	MailboxDepth metric.Int64UpDownCounter

	// DLQSize tracks the current dead-letter queue size.
	DLQSize metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attribute.String("method", ...), attribute.String("path", ...).
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for conversational-turn latencies.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TurnDuration, err = m.Float64Histogram("solace.turn.duration",
		metric.WithDescription("End-to-end latency of one user turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AppendDuration, err = m.Float64Histogram("solace.eventstore.append.duration",
		metric.WithDescription("Latency of event store appends."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("solace.llm.duration",
		metric.WithDescription("Latency of LLM inference."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ClassifierDuration, err = m.Float64Histogram("solace.emotion.duration",
		metric.WithDescription("Latency of emotion classification."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.EventsAppended, err = m.Int64Counter("solace.eventstore.appended",
		metric.WithDescription("Total events appended, by event type."),
	); err != nil {
		return nil, err
	}
	if met.VersionConflicts, err = m.Int64Counter("solace.eventstore.version_conflicts",
		metric.WithDescription("Total optimistic-versioning conflicts on append."),
	); err != nil {
		return nil, err
	}
	if met.SendRetries, err = m.Int64Counter("solace.actor.send_retries",
		metric.WithDescription("Total actor send retry attempts."),
	); err != nil {
		return nil, err
	}
	if met.DeadLetters, err = m.Int64Counter("solace.actor.dead_letters",
		metric.WithDescription("Total messages quarantined in the DLQ, by actor."),
	); err != nil {
		return nil, err
	}
	if met.MemoriesSaved, err = m.Int64Counter("solace.ltm.saved",
		metric.WithDescription("Total long-term memories persisted."),
	); err != nil {
		return nil, err
	}
	if met.MemoriesRejected, err = m.Int64Counter("solace.ltm.rejected",
		metric.WithDescription("Total turns rejected by the LTM gate, by reason."),
	); err != nil {
		return nil, err
	}
	if met.CacheRequests, err = m.Int64Counter("solace.cache.requests",
		metric.WithDescription("Total distributed-cache lookups, by cache and status."),
	); err != nil {
		return nil, err
	}
	if met.LimitRejections, err = m.Int64Counter("solace.limits.rejections",
		metric.WithDescription("Total turns rejected by the daily limit gate."),
	); err != nil {
		return nil, err
	}
	if met.BufferOverflows, err = m.Int64Counter("solace.eventstore.buffer_overflows",
		metric.WithDescription("Total event write-buffer hard-cap overflows."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("solace.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.ActiveSessions, err = m.Int64UpDownCounter("solace.sessions.active",
		metric.WithDescription("Number of live user sessions."),
	); err != nil {
		return nil, err
	}
	if met.MailboxDepth, err = m.Int64UpDownCounter("solace.actor.mailbox_depth",
		metric.WithDescription("Messages currently queued, by actor."),
	); err != nil {
		return nil, err
	}
	if met.DLQSize, err = m.Int64UpDownCounter("solace.actor.dlq_size",
		metric.WithDescription("Current dead-letter queue size."),
	); err != nil {
		return nil, err
	}

	// HTTP.
	if met.HTTPRequestDuration, err = m.Float64Histogram("solace.http.duration",
		metric.WithDescription("HTTP request processing time."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide [Metrics] instance built from the
// global OTel meter provider. The first call initialises it; initialisation
// errors are silently replaced by no-op instruments from the global provider,
// so callers may treat the result as always usable.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			// Fall back to a zero struct; instrument fields are nil and the
			// Record* helpers below guard against that.
			m = &Metrics{}
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// RecordCache is a nil-safe helper recording a cache lookup outcome.
func (m *Metrics) RecordCache(ctx context.Context, cache string, hit bool) {
	if m == nil || m.CacheRequests == nil {
		return
	}
	status := "miss"
	if hit {
		status = "hit"
	}
	m.CacheRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("cache", cache),
			attribute.String("status", status),
		))
}

// RecordDeadLetter is a nil-safe helper recording a DLQ quarantine.
func (m *Metrics) RecordDeadLetter(ctx context.Context, actorID string) {
	if m == nil {
		return
	}
	if m.DeadLetters != nil {
		m.DeadLetters.Add(ctx, 1, metric.WithAttributes(attribute.String("actor_id", actorID)))
	}
	if m.DLQSize != nil {
		m.DLQSize.Add(ctx, 1)
	}
}

// RecordVersionConflict is a nil-safe helper recording an append conflict.
func (m *Metrics) RecordVersionConflict(ctx context.Context) {
	if m == nil || m.VersionConflicts == nil {
		return
	}
	m.VersionConflicts.Add(ctx, 1)
}
