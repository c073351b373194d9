// Package eventstore implements the durable append-only event log that every
// Solace component reports its state transitions to.
//
// Events are grouped into streams keyed by a string id (e.g. "user_42",
// "ltm_42", "dlq_stm"); within a stream, versions are 0-based, dense, and
// strictly monotone. Appends are optimistically versioned: the caller states
// the version it expects to write and loses with [ErrVersionConflict] when
// another writer got there first. Conflicts are recoverable by re-reading the
// last version and retrying — [Emitter] packages that loop.
//
// Two [Store] implementations exist: [MemoryStore], an in-process store with
// an LRU stream cache and a bounded footprint, and [PostgresStore], a durable
// store with batched writes and scheduled archival (see [Archiver]).
//
// All implementations are safe for concurrent use.
package eventstore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Errors returned by Store implementations.
var (
	// ErrVersionConflict reports that the expected version of an append did
	// not match the stream's next version. The caller should refresh the
	// stream's last version and retry; the condition is never fatal.
	ErrVersionConflict = errors.New("eventstore: version conflict")

	// ErrStreamNotFound reports a read against a stream with no events.
	ErrStreamNotFound = errors.New("eventstore: stream not found")

	// ErrStoreClosed reports an operation against a closed store.
	ErrStoreClosed = errors.New("eventstore: store closed")
)

// Event is one immutable record in a stream. Events are never mutated or
// deleted in place; archival copies them to a compressed partition.
type Event struct {
	// ID uniquely identifies the event.
	ID string

	// StreamID groups events belonging to one logical entity.
	StreamID string

	// Type is the semantic event tag (see the Type* constants).
	Type string

	// Payload is the schemaless event body. Stored as JSONB by the durable
	// store; treat it as immutable once appended.
	Payload map[string]any

	// Timestamp is when the event was recorded.
	Timestamp time.Time

	// Version is the 0-based position of this event within its stream.
	Version int64

	// CorrelationID optionally ties events of one logical request together
	// across streams. Empty when the event is not part of a traced request.
	CorrelationID string
}

// New constructs an Event for streamID with a fresh id and timestamp. The
// version is left at zero; callers (usually [Emitter]) assign the real
// expected version before appending.
func New(streamID, eventType string, payload map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		StreamID:  streamID,
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// Store is the append-only event log abstraction.
type Store interface {
	// Append writes ev at ev.Version. The expected version must equal the
	// stream's last version + 1, or 0 for a new stream; otherwise
	// [ErrVersionConflict] is returned and nothing is written.
	Append(ctx context.Context, ev Event) error

	// GetStream returns all non-archived events of the stream with
	// Version >= fromVersion, ordered by version.
	GetStream(ctx context.Context, streamID string, fromVersion int64) ([]Event, error)

	// GetEventsAfter returns events with Timestamp > ts in ascending
	// timestamp order, optionally filtered to the given event types.
	// Implementations may cap the result size.
	GetEventsAfter(ctx context.Context, ts time.Time, types ...string) ([]Event, error)

	// GetLastEvent returns the stream's highest-version non-archived event,
	// or [ErrStreamNotFound].
	GetLastEvent(ctx context.Context, streamID string) (*Event, error)

	// StreamExists reports whether the stream has at least one event.
	StreamExists(ctx context.Context, streamID string) (bool, error)

	// Close flushes any buffered writes and releases resources.
	Close(ctx context.Context) error
}

// Semantic event types emitted by the runtime. The set is open — components
// may emit additional diagnostic types — but these names are stable and used
// by tests and downstream analytics.
const (
	TypeSessionCreated       = "SessionCreatedEvent"
	TypeModeDetected         = "ModeDetectedEvent"
	TypeEmotionDetected      = "EmotionDetectedEvent"
	TypeMemoryStored         = "MemoryStoredEvent"
	TypeContextRetrieved     = "ContextRetrievedEvent"
	TypeNoveltyCalculated    = "NoveltyCalculatedEvent"
	TypeImportanceCalculated = "ImportanceCalculatedEvent"
	TypeMemoryRejected       = "MemoryRejectedEvent"
	TypeCalibrationProgress  = "CalibrationProgressEvent"
	TypeLTMSearchCompleted   = "LTMSearchCompletedEvent"
	TypeResonanceCalculated  = "ResonanceCalculatedEvent"
	TypePersonalityAdapted   = "PersonalityAdaptationEvent"
	TypeAuthenticityCheck    = "AuthenticityCheckEvent"
	TypeDeadLetterQueued     = "DeadLetterQueuedEvent"
	TypeStorageAlert         = "StorageAlertEvent"
	TypeArchivalCompleted    = "ArchivalCompletedEvent"
	TypeLimitExceeded        = "LimitExceededEvent"
	TypeCacheHitMetric       = "CacheHitMetricEvent"
	TypeJSONValidationFailed = "JSONValidationFailedEvent"
	TypePendingExpired       = "PendingRequestExpiredEvent"
)

// Stream id helpers. Streams are partitioned per user (or per actor for the
// DLQ) so that unrelated entities never contend on a version sequence.

// UserStream is the stream of session-level events for a user.
func UserStream(userID string) string { return "user_" + userID }

// LTMStream is the stream of long-term-memory events for a user.
func LTMStream(userID string) string { return "ltm_" + userID }

// GenerationStream is the stream of generation events for a user.
func GenerationStream(userID string) string { return "generation_" + userID }

// PersonalityStream is the stream of personality events for a user.
func PersonalityStream(userID string) string { return "personality_" + userID }

// DLQStream is the stream of dead-letter events for a recipient actor.
func DLQStream(actorID string) string { return "dlq_" + actorID }
