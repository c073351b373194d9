// Package embed exposes the embeddings provider to the actor runtime. One
// actor, one message: GenerateEmbedding in, EmbeddingResponse or
// EmbeddingFailed out. The orchestrator treats a failure as a signal to fall
// back to recency-based memory retrieval.
package embed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/solace/internal/actor"
	"github.com/MrWong99/solace/pkg/provider/embeddings"
)

// ActorID is the runtime id of the embedding actor.
const ActorID = "embedding"

// Actor wraps an [embeddings.Provider] behind the message protocol.
type Actor struct {
	provider embeddings.Provider
	sender   actor.Sender

	// timeout bounds one provider call.
	timeout time.Duration
}

// Compile-time interface check.
var _ actor.Actor = (*Actor)(nil)

// NewActor creates the embedding actor. A non-positive timeout disables the
// per-call deadline.
func NewActor(provider embeddings.Provider, sender actor.Sender, timeout time.Duration) *Actor {
	return &Actor{provider: provider, sender: sender, timeout: timeout}
}

// ID implements [actor.Actor].
func (a *Actor) ID() string { return ActorID }

// Receive implements [actor.Actor].
func (a *Actor) Receive(ctx context.Context, msg actor.Message) error {
	switch msg.Type {
	case actor.MsgGenerateEmbedding:
		return a.handleEmbed(ctx, msg)
	case actor.MsgPing:
		return a.reply(ctx, msg, actor.MsgPong, map[string]any{"actor_id": ActorID})
	default:
		return fmt.Errorf("embed: unhandled message type %q", msg.Type)
	}
}

func (a *Actor) handleEmbed(ctx context.Context, msg actor.Message) error {
	userID := actor.PayloadString(msg.Payload, "user_id")
	text := actor.PayloadString(msg.Payload, "text")
	requestID := actor.PayloadString(msg.Payload, "request_id")

	if text == "" {
		return a.reply(ctx, msg, actor.MsgEmbeddingFailed, map[string]any{
			"user_id":    userID,
			"error":      "empty text",
			"request_id": requestID,
		})
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	vector, err := a.provider.Embed(ctx, text)
	if err != nil {
		slog.Warn("embed: provider failed",
			"user_id", userID, "model", a.provider.ModelID(), "error", err)
		return a.reply(ctx, msg, actor.MsgEmbeddingFailed, map[string]any{
			"user_id":    userID,
			"error":      err.Error(),
			"request_id": requestID,
		})
	}

	return a.reply(ctx, msg, actor.MsgEmbeddingResponse, map[string]any{
		"user_id":    userID,
		"embedding":  vector,
		"dimensions": a.provider.Dimensions(),
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
		return fmt.Errorf("embed: reply to %s: %w", msg.ReplyTo, err)
	}
	return nil
}
