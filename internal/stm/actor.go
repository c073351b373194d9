package stm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/solace/internal/actor"
	"github.com/MrWong99/solace/internal/config"
	"github.com/MrWong99/solace/internal/eventstore"
)

// ActorID is the runtime id of the short-term memory actor.
const ActorID = "stm"

// Actor serves store/retrieve/clear requests for short-term memory and emits
// the corresponding events. All failures are absorbed by the [Guard], so a
// broken backend degrades replies instead of crashing the mailbox loop.
type Actor struct {
	cfg    config.STMConfig
	store  Store
	sender actor.Sender
	events actor.EventSink
}

// Compile-time interface check.
var _ actor.Actor = (*Actor)(nil)

// NewActor creates the STM actor. events may be nil; sender may be nil when
// no caller ever sets ReplyTo.
func NewActor(cfg config.STMConfig, store Store, sender actor.Sender, events actor.EventSink) *Actor {
	return &Actor{cfg: cfg, store: store, sender: sender, events: events}
}

// ID implements [actor.Actor].
func (a *Actor) ID() string { return ActorID }

// Receive implements [actor.Actor].
func (a *Actor) Receive(ctx context.Context, msg actor.Message) error {
	if a.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.QueryTimeout.Std())
		defer cancel()
	}

	switch msg.Type {
	case actor.MsgStoreMemory:
		return a.handleStore(ctx, msg)
	case actor.MsgGetContext:
		return a.handleGetContext(ctx, msg)
	case actor.MsgClearUserMemory:
		return a.handleClear(ctx, msg)
	case actor.MsgPing:
		return a.reply(ctx, msg, actor.MsgPong, map[string]any{"actor_id": ActorID})
	default:
		return fmt.Errorf("stm: unhandled message type %q", msg.Type)
	}
}

func (a *Actor) handleStore(ctx context.Context, msg actor.Message) error {
	userID := actor.PayloadString(msg.Payload, "user_id")
	if userID == "" {
		return a.nack(ctx, msg, "user_id missing")
	}
	kind := MessageKind(actor.PayloadString(msg.Payload, "message_type"))
	content := actor.PayloadString(msg.Payload, "content")

	row, err := PrepareRow(a.cfg, userID, kind, content, actor.PayloadMap(msg.Payload, "metadata"))
	if err != nil {
		return a.nack(ctx, msg, err.Error())
	}

	stored, err := a.store.Append(ctx, row)
	if err != nil {
		return fmt.Errorf("stm: append: %w", err)
	}

	a.emit(ctx, eventstore.UserStream(userID), eventstore.TypeMemoryStored, map[string]any{
		"user_id":         userID,
		"message_type":    string(stored.Kind),
		"content_length":  len([]rune(stored.Content)),
		"sequence_number": stored.Sequence,
		"truncated":       actor.PayloadBool(stored.Metadata, "truncated"),
	})

	return a.reply(ctx, msg, actor.MsgMemoryStored, map[string]any{
		"user_id":         userID,
		"sequence_number": stored.Sequence,
		"request_id":      actor.PayloadString(msg.Payload, "request_id"),
	})
}

func (a *Actor) handleGetContext(ctx context.Context, msg actor.Message) error {
	userID := actor.PayloadString(msg.Payload, "user_id")
	if userID == "" {
		return a.nack(ctx, msg, "user_id missing")
	}

	limit := actor.PayloadInt(msg.Payload, "limit", a.cfg.BufferSize)
	format := a.cfg.ContextFormat
	if f := config.ContextFormat(actor.PayloadString(msg.Payload, "format")); f.IsValid() {
		format = f
	}

	rows, err := a.store.Recent(ctx, userID, limit)
	if err != nil {
		return fmt.Errorf("stm: recent: %w", err)
	}

	a.emit(ctx, eventstore.UserStream(userID), eventstore.TypeContextRetrieved, map[string]any{
		"user_id":       userID,
		"message_count": len(rows),
		"format":        string(format),
	})

	return a.reply(ctx, msg, actor.MsgContextResponse, map[string]any{
		"user_id":        userID,
		"messages":       FormatContext(rows, format),
		"total_messages": len(rows),
		"format":         string(format),
		"request_id":     actor.PayloadString(msg.Payload, "request_id"),
		"retrieved_at":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *Actor) handleClear(ctx context.Context, msg actor.Message) error {
	userID := actor.PayloadString(msg.Payload, "user_id")
	if userID == "" {
		return a.nack(ctx, msg, "user_id missing")
	}
	if err := a.store.Clear(ctx, userID); err != nil {
		return fmt.Errorf("stm: clear: %w", err)
	}
	return a.reply(ctx, msg, actor.MsgMemoryCleared, map[string]any{
		"user_id":    userID,
		"request_id": actor.PayloadString(msg.Payload, "request_id"),
	})
}

// reply routes a response to msg.ReplyTo, if set.
func (a *Actor) reply(ctx context.Context, msg actor.Message, t actor.MessageType, payload map[string]any) error {
	if msg.ReplyTo == "" || a.sender == nil {
		return nil
	}
	out := actor.NewMessage(t, payload)
	out.SenderID = ActorID
	if err := a.sender.Send(ctx, msg.ReplyTo, out); err != nil {
		return fmt.Errorf("stm: reply to %s: %w", msg.ReplyTo, err)
	}
	return nil
}

func (a *Actor) nack(ctx context.Context, msg actor.Message, reason string) error {
	slog.Warn("stm: rejecting message", "type", msg.Type, "sender", msg.SenderID, "reason", reason)
	return a.reply(ctx, msg, actor.MsgNack, map[string]any{
		"reason":     reason,
		"request_id": actor.PayloadString(msg.Payload, "request_id"),
	})
}

func (a *Actor) emit(ctx context.Context, streamID, eventType string, payload map[string]any) {
	if a.events == nil {
		return
	}
	if _, err := a.events.Emit(ctx, streamID, eventType, payload); err != nil {
		slog.Warn("stm: emit failed", "stream", streamID, "type", eventType, "error", err)
	}
}
