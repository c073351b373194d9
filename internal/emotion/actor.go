package emotion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MrWong99/solace/internal/actor"
	"github.com/MrWong99/solace/internal/eventstore"
)

// ActorID is the runtime id of the emotion actor.
const ActorID = "emotion"

// Actor exposes the classifier pool to the runtime. Classification failures
// answer with EmotionFailed rather than an error; the orchestrator treats a
// missing emotion snapshot as empty, not fatal.
type Actor struct {
	pool   *Pool
	sender actor.Sender
	events actor.EventSink
}

// Compile-time interface check.
var _ actor.Actor = (*Actor)(nil)

// NewActor creates the emotion actor over pool. events may be nil.
func NewActor(pool *Pool, sender actor.Sender, events actor.EventSink) *Actor {
	return &Actor{pool: pool, sender: sender, events: events}
}

// ID implements [actor.Actor].
func (a *Actor) ID() string { return ActorID }

// Receive implements [actor.Actor].
func (a *Actor) Receive(ctx context.Context, msg actor.Message) error {
	switch msg.Type {
	case actor.MsgAnalyzeEmotion:
		return a.handleAnalyze(ctx, msg)
	case actor.MsgPing:
		return a.reply(ctx, msg, actor.MsgPong, map[string]any{"actor_id": ActorID})
	default:
		return fmt.Errorf("emotion: unhandled message type %q", msg.Type)
	}
}

func (a *Actor) handleAnalyze(ctx context.Context, msg actor.Message) error {
	userID := actor.PayloadString(msg.Payload, "user_id")
	text := actor.PayloadString(msg.Payload, "text")
	requestID := actor.PayloadString(msg.Payload, "request_id")
	if text == "" {
		return a.reply(ctx, msg, actor.MsgEmotionFailed, map[string]any{
			"user_id":    userID,
			"error":      ErrEmptyText.Error(),
			"request_id": requestID,
		})
	}

	result, err := a.pool.Analyze(ctx, text)
	if err != nil {
		slog.Warn("emotion: classification failed", "user_id", userID, "error", err)
		return a.reply(ctx, msg, actor.MsgEmotionFailed, map[string]any{
			"user_id":    userID,
			"error":      err.Error(),
			"request_id": requestID,
		})
	}

	if userID != "" {
		a.emit(ctx, eventstore.UserStream(userID), eventstore.TypeEmotionDetected, map[string]any{
			"user_id":  userID,
			"dominant": result.Dominant,
		})
	}

	return a.reply(ctx, msg, actor.MsgEmotionResponse, map[string]any{
		"user_id":    userID,
		"scores":     map[string]float64(result.Scores),
		"dominant":   result.Dominant,
		"request_id": requestID,
	})
}

func (a *Actor) reply(ctx context.Context, msg actor.Message, t actor.MessageType, payload map[string]any) error {
	if msg.ReplyTo == "" || a.sender == nil {
		return nil
	}
	out := actor.NewMessage(t, payload)
	out.SenderID = ActorID
	if err := a.sender.Send(ctx, msg.ReplyTo, out); err != nil {
		return fmt.Errorf("emotion: reply to %s: %w", msg.ReplyTo, err)
	}
	return nil
}

func (a *Actor) emit(ctx context.Context, streamID, eventType string, payload map[string]any) {
	if a.events == nil {
		return
	}
	if _, err := a.events.Emit(ctx, streamID, eventType, payload); err != nil {
		slog.Warn("emotion: emit failed", "stream", streamID, "type", eventType, "error", err)
	}
}
