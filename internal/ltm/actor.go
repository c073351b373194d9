package ltm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/solace/internal/actor"
	"github.com/MrWong99/solace/internal/config"
	"github.com/MrWong99/solace/internal/eventstore"
)

// ActorID is the runtime id of the long-term memory actor.
const ActorID = "ltm"

// Actor serves memory evaluation and retrieval. Profile read-modify-write is
// serialised by the single mailbox consumer, so the [Evaluator] needs no
// locking of its own.
type Actor struct {
	cfg       config.LTMConfig
	evaluator *Evaluator
	sender    actor.Sender
	events    actor.EventSink
}

// Compile-time interface check.
var _ actor.Actor = (*Actor)(nil)

// NewActor creates the LTM actor.
func NewActor(cfg config.LTMConfig, evaluator *Evaluator, sender actor.Sender, events actor.EventSink) *Actor {
	return &Actor{cfg: cfg, evaluator: evaluator, sender: sender, events: events}
}

// ID implements [actor.Actor].
func (a *Actor) ID() string { return ActorID }

// Receive implements [actor.Actor].
func (a *Actor) Receive(ctx context.Context, msg actor.Message) error {
	if a.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.RequestTimeout.Std())
		defer cancel()
	}

	switch msg.Type {
	case actor.MsgEvaluateMemory:
		return a.handleEvaluate(ctx, msg)
	case actor.MsgGetLtmMemory:
		return a.handleSearch(ctx, msg)
	case actor.MsgGetLtmProfile:
		return a.handleProfile(ctx, msg)
	case actor.MsgPing:
		return a.reply(ctx, msg, actor.MsgPong, map[string]any{"actor_id": ActorID})
	default:
		return fmt.Errorf("ltm: unhandled message type %q", msg.Type)
	}
}

func (a *Actor) handleEvaluate(ctx context.Context, msg actor.Message) error {
	userID := actor.PayloadString(msg.Payload, "user_id")
	if userID == "" {
		return a.nack(ctx, msg, "user_id missing")
	}

	turn := Turn{
		UserID: userID,
		Fragment: Fragment{
			UserText: actor.PayloadString(msg.Payload, "user_text"),
			BotText:  actor.PayloadString(msg.Payload, "bot_text"),
		},
		Emotions: actor.PayloadFloatMap(msg.Payload, "emotions"),
	}
	if vec := actor.PayloadFloats(msg.Payload, "embedding"); len(vec) > 0 {
		turn.Embedding = make([]float32, len(vec))
		for i, v := range vec {
			turn.Embedding[i] = float32(v)
		}
	}

	ev, err := a.evaluator.Evaluate(ctx, turn)
	if errors.Is(err, ErrEmptySnapshot) {
		return a.nack(ctx, msg, "emotional snapshot is all zero")
	}
	if err != nil {
		return fmt.Errorf("ltm: evaluate: %w", err)
	}

	stream := eventstore.LTMStream(userID)
	requestID := actor.PayloadString(msg.Payload, "request_id")

	if ev.Calibrating {
		a.emit(ctx, stream, eventstore.TypeCalibrationProgress, map[string]any{
			"user_id":         userID,
			"total_messages":  ev.Profile.TotalMessages,
			"cold_start_size": a.cfg.ColdStartBufferSize,
			"messages_to_go":  max(0, a.cfg.ColdStartBufferSize-ev.Profile.TotalMessages),
		})
	} else {
		a.emit(ctx, stream, eventstore.TypeNoveltyCalculated, map[string]any{
			"user_id":       userID,
			"novelty_score": ev.Novelty,
			"threshold":     ev.Threshold,
			"percentile_90": ev.Profile.CurrentPercentile90,
		})
		a.emit(ctx, stream, eventstore.TypeImportanceCalculated, map[string]any{
			"user_id":          userID,
			"importance_score": ev.Importance,
			"trigger_reason":   string(ev.Trigger),
			"saved":            ev.Saved,
		})
	}

	if ev.Saved {
		a.emit(ctx, stream, eventstore.TypeMemoryStored, map[string]any{
			"user_id":        userID,
			"memory_id":      ev.Memory.ID,
			"memory_type":    string(ev.Memory.MemoryType),
			"trigger_reason": string(ev.Trigger),
		})
		return a.reply(ctx, msg, actor.MsgLtmSaved, map[string]any{
			"user_id":    userID,
			"memory_id":  ev.Memory.ID,
			"novelty":    ev.Novelty,
			"importance": ev.Importance,
			"request_id": requestID,
		})
	}

	// Rejected despite high importance is worth flagging separately.
	if !ev.Calibrating && ev.Importance >= ev.Threshold {
		a.emit(ctx, stream, eventstore.TypeMemoryRejected, map[string]any{
			"user_id":          userID,
			"novelty_score":    ev.Novelty,
			"importance_score": ev.Importance,
			"threshold":        ev.Threshold,
		})
	}
	return a.reply(ctx, msg, actor.MsgLtmRejected, map[string]any{
		"user_id":     userID,
		"calibrating": ev.Calibrating,
		"novelty":     ev.Novelty,
		"importance":  ev.Importance,
		"threshold":   ev.Threshold,
		"request_id":  requestID,
	})
}

func (a *Actor) handleSearch(ctx context.Context, msg actor.Message) error {
	userID := actor.PayloadString(msg.Payload, "user_id")
	if userID == "" {
		return a.nack(ctx, msg, "user_id missing")
	}

	searchType := SearchType(actor.PayloadString(msg.Payload, "search_type"))
	if searchType == "" {
		searchType = SearchRecent
	}
	limit := actor.PayloadInt(msg.Payload, "limit", a.cfg.ContextLimit)

	var query []float32
	if vec := actor.PayloadFloats(msg.Payload, "query_vector"); len(vec) > 0 {
		query = make([]float32, len(vec))
		for i, v := range vec {
			query[i] = float32(v)
		}
	}

	start := time.Now()
	memories, err := a.evaluator.Search(ctx, userID, searchType, query, limit)
	if err != nil {
		return a.nack(ctx, msg, err.Error())
	}

	a.emit(ctx, eventstore.LTMStream(userID), eventstore.TypeLTMSearchCompleted, map[string]any{
		"user_id":      userID,
		"search_type":  string(searchType),
		"result_count": len(memories),
		"duration_ms":  time.Since(start).Milliseconds(),
	})

	payload := make([]map[string]any, len(memories))
	for i, m := range memories {
		payload[i] = memoryPayload(m)
	}
	return a.reply(ctx, msg, actor.MsgLtmResponse, map[string]any{
		"user_id":     userID,
		"memories":    payload,
		"count":       len(memories),
		"search_type": string(searchType),
		"request_id":  actor.PayloadString(msg.Payload, "request_id"),
	})
}

func (a *Actor) handleProfile(ctx context.Context, msg actor.Message) error {
	userID := actor.PayloadString(msg.Payload, "user_id")
	if userID == "" {
		return a.nack(ctx, msg, "user_id missing")
	}

	profile, err := a.evaluator.Profile(ctx, userID)
	if err != nil {
		return fmt.Errorf("ltm: profile: %w", err)
	}

	return a.reply(ctx, msg, actor.MsgLtmProfileResponse, map[string]any{
		"user_id":              userID,
		"total_messages":       profile.TotalMessages,
		"calibration_complete": profile.CalibrationComplete,
		"percentile_90":        profile.CurrentPercentile90,
		"threshold":            profile.DynamicThreshold(a.cfg.ColdStartMinThreshold),
		"maturity":             profile.MaturityFactor(time.Now().UTC(), a.cfg.MaturitySigmoidRate),
		"request_id":           actor.PayloadString(msg.Payload, "request_id"),
	})
}

// memoryPayload renders a memory for message transport. Embeddings are
// omitted; they are an implementation detail of retrieval.
func memoryPayload(m Memory) map[string]any {
	return map[string]any{
		"memory_id":         m.ID,
		"user_text":         m.Fragment.UserText,
		"bot_text":          m.Fragment.BotText,
		"dominant_emotions": m.DominantEmotions,
		"importance_score":  m.ImportanceScore,
		"novelty_score":     m.NoveltyScore,
		"memory_type":       string(m.MemoryType),
		"trigger_reason":    string(m.TriggerReason),
		"semantic_tags":     m.SemanticTags,
		"created_at":        m.CreatedAt.Format(time.RFC3339),
	}
}

func (a *Actor) reply(ctx context.Context, msg actor.Message, t actor.MessageType, payload map[string]any) error {
	if msg.ReplyTo == "" || a.sender == nil {
		return nil
	}
	out := actor.NewMessage(t, payload)
	out.SenderID = ActorID
	if err := a.sender.Send(ctx, msg.ReplyTo, out); err != nil {
		return fmt.Errorf("ltm: reply to %s: %w", msg.ReplyTo, err)
	}
	return nil
}

func (a *Actor) nack(ctx context.Context, msg actor.Message, reason string) error {
	slog.Warn("ltm: rejecting message", "type", msg.Type, "sender", msg.SenderID, "reason", reason)
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
		slog.Warn("ltm: emit failed", "stream", streamID, "type", eventType, "error", err)
	}
}
