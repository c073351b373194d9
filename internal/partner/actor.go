package partner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/solace/internal/actor"
	"github.com/MrWong99/solace/internal/cache"
	"github.com/MrWong99/solace/internal/config"
	"github.com/MrWong99/solace/internal/eventstore"
	"github.com/MrWong99/solace/internal/observe"
)

// ActorID is the runtime id of the partner-model actor.
const ActorID = "partner"

// personaCacheName tags cache metrics for this actor.
const personaCacheName = "partner_persona"

// Actor serves partner personas. Lookups go cache, then database, then a
// degraded empty response; the conversation must not stall on a missing
// persona.
type Actor struct {
	cfg     config.PartnerConfig
	store   Store
	cache   cache.Cache
	sender  actor.Sender
	events  actor.EventSink
	metrics *observe.Metrics
}

// Compile-time interface check.
var _ actor.Actor = (*Actor)(nil)

// NewActor creates the partner actor. cache and events may be nil.
func NewActor(cfg config.PartnerConfig, store Store, c cache.Cache, sender actor.Sender, events actor.EventSink, metrics *observe.Metrics) *Actor {
	return &Actor{cfg: cfg, store: store, cache: c, sender: sender, events: events, metrics: metrics}
}

// ID implements [actor.Actor].
func (a *Actor) ID() string { return ActorID }

// Receive implements [actor.Actor].
func (a *Actor) Receive(ctx context.Context, msg actor.Message) error {
	switch msg.Type {
	case actor.MsgGetPartnerModel:
		return a.handleGet(ctx, msg)
	case actor.MsgUpdatePartnerModel:
		return a.handleUpdate(ctx, msg)
	case actor.MsgPing:
		return a.reply(ctx, msg, actor.MsgPong, map[string]any{"actor_id": ActorID})
	default:
		return fmt.Errorf("partner: unhandled message type %q", msg.Type)
	}
}

func (a *Actor) handleGet(ctx context.Context, msg actor.Message) error {
	userID := actor.PayloadString(msg.Payload, "user_id")
	if userID == "" {
		return a.nack(ctx, msg, "user_id missing")
	}
	requestID := actor.PayloadString(msg.Payload, "request_id")

	if persona, ok := a.cachedPersona(ctx, userID); ok {
		return a.replyPersona(ctx, msg, persona, requestID, false)
	}

	persona, err := a.store.ActivePersona(ctx, userID)
	switch {
	case err == nil:
		a.cachePersona(ctx, persona)
		return a.replyPersona(ctx, msg, persona, requestID, false)
	case errors.Is(err, ErrPersonaNotFound):
		// No persona yet: empty recommendation, not an error.
		return a.reply(ctx, msg, actor.MsgPartnerModelResponse, map[string]any{
			"user_id":          userID,
			"recommended_mode": "",
			"mode_confidence":  0.0,
			"version":          0,
			"request_id":       requestID,
		})
	default:
		// Degraded: answer empty rather than stalling the turn.
		slog.Warn("partner: lookup failed, degraded response", "user_id", userID, "error", err)
		return a.reply(ctx, msg, actor.MsgPartnerModelResponse, map[string]any{
			"user_id":          userID,
			"recommended_mode": "",
			"mode_confidence":  0.0,
			"version":          0,
			"degraded":         true,
			"request_id":       requestID,
		})
	}
}

func (a *Actor) handleUpdate(ctx context.Context, msg actor.Message) error {
	userID := actor.PayloadString(msg.Payload, "user_id")
	if userID == "" {
		return a.nack(ctx, msg, "user_id missing")
	}
	requestID := actor.PayloadString(msg.Payload, "request_id")

	incoming := Persona{
		UserID:           userID,
		Style:            StyleVectorFromMap(actor.PayloadFloatMap(msg.Payload, "style")),
		RecommendedMode:  actor.PayloadString(msg.Payload, "recommended_mode"),
		ModeConfidence:   actor.PayloadFloat(msg.Payload, "mode_confidence", 0),
		MessagesAnalyzed: actor.PayloadInt(msg.Payload, "messages_analyzed", 0),
		CreatedAt:        time.Now().UTC(),
	}

	// A new version is only worth writing when the style moved enough.
	current, err := a.store.ActivePersona(ctx, userID)
	if err != nil && !errors.Is(err, ErrPersonaNotFound) {
		return fmt.Errorf("partner: load active persona: %w", err)
	}
	if current != nil {
		if delta := incoming.Style.MaxDelta(current.Style); delta <= a.cfg.ChangeThreshold {
			a.recordManifestations(ctx, msg, userID)
			return a.reply(ctx, msg, actor.MsgPartnerModelUpdated, map[string]any{
				"user_id":     userID,
				"new_version": false,
				"version":     current.Version,
				"style_delta": delta,
				"request_id":  requestID,
			})
		}
	}

	stored, err := a.store.SaveVersion(ctx, incoming)
	if err != nil {
		return fmt.Errorf("partner: save version: %w", err)
	}
	a.invalidate(ctx, userID)
	a.recordManifestations(ctx, msg, userID)

	a.emit(ctx, eventstore.UserStream(userID), eventstore.TypeModeDetected, map[string]any{
		"user_id":          userID,
		"source":           "partner_model",
		"recommended_mode": stored.RecommendedMode,
		"mode_confidence":  stored.ModeConfidence,
		"persona_version":  stored.Version,
	})

	return a.reply(ctx, msg, actor.MsgPartnerModelUpdated, map[string]any{
		"user_id":     userID,
		"new_version": true,
		"version":     stored.Version,
		"request_id":  requestID,
	})
}

// recordManifestations persists any trait manifestations accompanying an
// update, sharing one batch id.
func (a *Actor) recordManifestations(ctx context.Context, msg actor.Message, userID string) {
	raw := actor.PayloadSlice(msg.Payload, "traits")
	if len(raw) == 0 {
		return
	}

	batchID := uuid.NewString()
	now := time.Now().UTC()
	batch := make([]Manifestation, 0, len(raw))
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		trait := actor.PayloadString(entry, "trait")
		if trait == "" {
			continue
		}
		batch = append(batch, Manifestation{
			BatchID:   batchID,
			UserID:    userID,
			Trait:     trait,
			Strength:  actor.PayloadFloat(entry, "strength", 0),
			Mode:      actor.PayloadString(entry, "mode"),
			CreatedAt: now,
		})
	}
	if len(batch) == 0 {
		return
	}
	if err := a.store.RecordManifestations(ctx, batch); err != nil {
		slog.Warn("partner: record manifestations failed", "user_id", userID, "error", err)
	}
}

func (a *Actor) replyPersona(ctx context.Context, msg actor.Message, p *Persona, requestID string, degraded bool) error {
	return a.reply(ctx, msg, actor.MsgPartnerModelResponse, map[string]any{
		"user_id":           p.UserID,
		"recommended_mode":  p.RecommendedMode,
		"mode_confidence":   p.ModeConfidence,
		"version":           p.Version,
		"style":             p.Style.Map(),
		"messages_analyzed": p.MessagesAnalyzed,
		"degraded":          degraded,
		"request_id":        requestID,
	})
}

func (a *Actor) cachedPersona(ctx context.Context, userID string) (*Persona, bool) {
	if a.cache == nil {
		return nil, false
	}
	var p Persona
	err := cache.GetJSON(ctx, a.cache, personaKey(userID), &p)
	if err == nil {
		a.metrics.RecordCache(ctx, personaCacheName, true)
		return &p, true
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		slog.Warn("partner: cache read failed", "user_id", userID, "error", err)
	}
	a.metrics.RecordCache(ctx, personaCacheName, false)
	return nil, false
}

func (a *Actor) cachePersona(ctx context.Context, p *Persona) {
	if a.cache == nil {
		return
	}
	if err := cache.SetJSON(ctx, a.cache, personaKey(p.UserID), p, a.cfg.CacheTTL.Std()); err != nil {
		slog.Warn("partner: cache write failed", "user_id", p.UserID, "error", err)
	}
}

func (a *Actor) invalidate(ctx context.Context, userID string) {
	if a.cache == nil {
		return
	}
	if err := a.cache.Delete(ctx, personaKey(userID)); err != nil {
		slog.Warn("partner: cache invalidate failed", "user_id", userID, "error", err)
	}
}

func personaKey(userID string) string {
	return "partner:persona:" + userID
}

func (a *Actor) reply(ctx context.Context, msg actor.Message, t actor.MessageType, payload map[string]any) error {
	if msg.ReplyTo == "" || a.sender == nil {
		return nil
	}
	out := actor.NewMessage(t, payload)
	out.SenderID = ActorID
	if err := a.sender.Send(ctx, msg.ReplyTo, out); err != nil {
		return fmt.Errorf("partner: reply to %s: %w", msg.ReplyTo, err)
	}
	return nil
}

func (a *Actor) nack(ctx context.Context, msg actor.Message, reason string) error {
	slog.Warn("partner: rejecting message", "type", msg.Type, "sender", msg.SenderID, "reason", reason)
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
		slog.Warn("partner: emit failed", "stream", streamID, "type", eventType, "error", err)
	}
}
