package eventstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// emitMaxRetries bounds the refresh-and-retry loop on version conflicts.
// Conflicts on the same stream are rare (streams are per-user) so a small
// bound is enough; exceeding it indicates a livelock worth surfacing.
const emitMaxRetries = 5

// Emitter wraps a [Store] with the standard append protocol: read the
// stream's last version, append at last+1, and on [ErrVersionConflict]
// refresh and retry. Components use it for fire-and-forget semantic events so
// none of them reimplements the retry loop.
//
// Emitter is safe for concurrent use.
type Emitter struct {
	store Store
}

// NewEmitter creates an Emitter over store.
func NewEmitter(store Store) *Emitter {
	return &Emitter{store: store}
}

// Store returns the underlying event store.
func (e *Emitter) Store() Store { return e.store }

// Emit appends a new event of eventType to streamID, assigning the next free
// version. Returns the appended event.
func (e *Emitter) Emit(ctx context.Context, streamID, eventType string, payload map[string]any) (Event, error) {
	return e.EmitCorrelated(ctx, streamID, eventType, payload, "")
}

// EmitCorrelated is [Emitter.Emit] with a correlation id attached.
func (e *Emitter) EmitCorrelated(ctx context.Context, streamID, eventType string, payload map[string]any, correlationID string) (Event, error) {
	ev := New(streamID, eventType, payload)
	ev.CorrelationID = correlationID

	for attempt := 0; attempt <= emitMaxRetries; attempt++ {
		version, err := e.nextVersion(ctx, streamID)
		if err != nil {
			return Event{}, err
		}
		ev.Version = version

		err = e.store.Append(ctx, ev)
		if err == nil {
			return ev, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return Event{}, err
		}
		// Lost the race; refresh the version and try again.
		slog.Debug("event append conflicted, retrying",
			"stream_id", streamID,
			"event_type", eventType,
			"attempt", attempt+1,
		)
	}
	return Event{}, fmt.Errorf("eventstore: emit %s to %s: %w after %d retries",
		eventType, streamID, ErrVersionConflict, emitMaxRetries)
}

// nextVersion returns the version the next append to streamID should carry.
func (e *Emitter) nextVersion(ctx context.Context, streamID string) (int64, error) {
	last, err := e.store.GetLastEvent(ctx, streamID)
	switch {
	case errors.Is(err, ErrStreamNotFound):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("eventstore: read last version of %s: %w", streamID, err)
	default:
		return last.Version + 1, nil
	}
}
