package personality

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/MrWong99/solace/internal/actor"
	"github.com/MrWong99/solace/internal/cache"
	"github.com/MrWong99/solace/internal/config"
	"github.com/MrWong99/solace/internal/eventstore"
	"github.com/MrWong99/solace/internal/observe"
)

// ActorID is the runtime id of the personality actor.
const ActorID = "personality"

// profileCacheName tags cache metrics for this actor.
const profileCacheName = "personality_profile"

// Actor serves personality profiles and context-modifier updates. Profiles
// are cached per user with a TTL; any modifier update or adaptation
// invalidates the entry.
type Actor struct {
	cfg     config.PersonalityConfig
	engine  *Engine
	store   Store
	cache   cache.Cache
	sender  actor.Sender
	events  actor.EventSink
	metrics *observe.Metrics
}

// Compile-time interface check.
var _ actor.Actor = (*Actor)(nil)

// NewActor creates the personality actor. cache and events may be nil.
func NewActor(cfg config.PersonalityConfig, engine *Engine, store Store, c cache.Cache, sender actor.Sender, events actor.EventSink, metrics *observe.Metrics) *Actor {
	return &Actor{
		cfg:     cfg,
		engine:  engine,
		store:   store,
		cache:   c,
		sender:  sender,
		events:  events,
		metrics: metrics,
	}
}

// ID implements [actor.Actor].
func (a *Actor) ID() string { return ActorID }

// Receive implements [actor.Actor].
func (a *Actor) Receive(ctx context.Context, msg actor.Message) error {
	switch msg.Type {
	case actor.MsgGetPersonalityProfile:
		return a.handleGetProfile(ctx, msg)
	case actor.MsgAdaptPersonality:
		return a.handleAdapt(ctx, msg)
	case actor.MsgGetResonance:
		return a.handleGetResonance(ctx, msg)
	case actor.MsgPing:
		return a.reply(ctx, msg, actor.MsgPong, map[string]any{"actor_id": ActorID})
	default:
		return fmt.Errorf("personality: unhandled message type %q", msg.Type)
	}
}

func (a *Actor) handleGetProfile(ctx context.Context, msg actor.Message) error {
	userID := actor.PayloadString(msg.Payload, "user_id")
	if userID == "" {
		return a.nack(ctx, msg, "user_id missing")
	}

	profile, cached, err := a.profileFor(ctx, userID)
	if err != nil {
		return fmt.Errorf("personality: profile: %w", err)
	}

	if len(profile.Protections) > 0 {
		a.emit(ctx, eventstore.PersonalityStream(userID), eventstore.TypeAuthenticityCheck, map[string]any{
			"user_id":            userID,
			"protection_applied": true,
			"protections":        protectionStrings(profile.Protections),
		})
	}

	return a.reply(ctx, msg, actor.MsgPersonalityProfileResponse, map[string]any{
		"user_id":       userID,
		"active_values": profile.ActiveValues,
		"dominant":      profile.Dominant,
		"stability":     profile.Metrics.Stability,
		"dominance":     profile.Metrics.Dominance,
		"balance":       profile.Metrics.Balance,
		"protections":   protectionStrings(profile.Protections),
		"cached":        cached,
		"request_id":    actor.PayloadString(msg.Payload, "request_id"),
	})
}

// profileFor returns the user's profile, serving from cache when possible.
func (a *Actor) profileFor(ctx context.Context, userID string) (Profile, bool, error) {
	key := profileKey(userID)
	if a.cache != nil {
		var cached Profile
		err := cache.GetJSON(ctx, a.cache, key, &cached)
		if err == nil {
			a.metrics.RecordCache(ctx, profileCacheName, true)
			return cached, true, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			slog.Warn("personality: cache read failed", "user_id", userID, "error", err)
		}
		a.metrics.RecordCache(ctx, profileCacheName, false)
	}

	state, err := a.stateFor(ctx, userID)
	if err != nil {
		return Profile{}, false, err
	}
	profile := a.engine.ComputeProfile(state)

	if a.cache != nil {
		if err := cache.SetJSON(ctx, a.cache, key, profile, a.cfg.CacheTTL.Std()); err != nil {
			slog.Warn("personality: cache write failed", "user_id", userID, "error", err)
		}
	}
	return profile, false, nil
}

func (a *Actor) handleAdapt(ctx context.Context, msg actor.Message) error {
	userID := actor.PayloadString(msg.Payload, "user_id")
	if userID == "" {
		return a.nack(ctx, msg, "user_id missing")
	}
	modType := ModifierType(actor.PayloadString(msg.Payload, "modifier_type"))
	modifiers := actor.PayloadFloatMap(msg.Payload, "modifier_data")

	state, err := a.stateFor(ctx, userID)
	if err != nil {
		return fmt.Errorf("personality: load state: %w", err)
	}

	if a.engine.ApplyRecovery(state) {
		a.emit(ctx, eventstore.PersonalityStream(userID), eventstore.TypeAuthenticityCheck, map[string]any{
			"user_id":            userID,
			"protection_applied": true,
			"protections":        []string{string(ProtectionRecovery)},
		})
	}

	switch modType {
	case ModifierStyle:
		state.StyleMod = clampModifiers(modifiers)
	case ModifierEmotion:
		state.EmotionMod = clampModifiers(modifiers)
	default:
		return a.nack(ctx, msg, fmt.Sprintf("unknown modifier type %q", modType))
	}

	now := time.Now().UTC()
	adapted := false
	var protections []Protection

	if state.Touch(now, a.cfg.AdaptationInterval) {
		before := maps.Clone(state.Resonance)
		protections = a.engine.Adapt(state, adaptationTargets(state))
		adapted = true

		if err := a.store.RecordAdaptation(ctx, AdaptationRecord{
			UserID:      userID,
			Before:      before,
			After:       maps.Clone(state.Resonance),
			Trigger:     string(modType),
			Protections: protections,
			CreatedAt:   now,
		}); err != nil {
			slog.Warn("personality: record adaptation failed", "user_id", userID, "error", err)
		}

		a.emit(ctx, eventstore.PersonalityStream(userID), eventstore.TypeResonanceCalculated, map[string]any{
			"user_id":   userID,
			"resonance": state.Resonance,
		})
		a.emit(ctx, eventstore.PersonalityStream(userID), eventstore.TypePersonalityAdapted, map[string]any{
			"user_id":      userID,
			"trigger":      string(modType),
			"interactions": state.InteractionCount,
		})
		if len(protections) > 0 {
			a.emit(ctx, eventstore.PersonalityStream(userID), eventstore.TypeAuthenticityCheck, map[string]any{
				"user_id":            userID,
				"protection_applied": true,
				"protections":        protectionStrings(protections),
			})
		}
	}

	if err := a.store.SaveState(ctx, state); err != nil {
		return fmt.Errorf("personality: save state: %w", err)
	}
	a.invalidate(ctx, userID)

	return a.reply(ctx, msg, actor.MsgPersonalityAdapted, map[string]any{
		"user_id":     userID,
		"adapted":     adapted,
		"protections": protectionStrings(protections),
		"request_id":  actor.PayloadString(msg.Payload, "request_id"),
	})
}

func (a *Actor) handleGetResonance(ctx context.Context, msg actor.Message) error {
	userID := actor.PayloadString(msg.Payload, "user_id")
	if userID == "" {
		return a.nack(ctx, msg, "user_id missing")
	}
	state, err := a.stateFor(ctx, userID)
	if err != nil {
		return fmt.Errorf("personality: load state: %w", err)
	}

	resonance := make(map[string]float64, len(a.engine.Traits()))
	for _, trait := range a.engine.Traits() {
		resonance[trait.Name] = state.resonanceFor(trait.Name)
	}
	return a.reply(ctx, msg, actor.MsgResonanceResponse, map[string]any{
		"user_id":    userID,
		"resonance":  resonance,
		"request_id": actor.PayloadString(msg.Payload, "request_id"),
	})
}

// sessionGap is the inactivity span after which a returning user counts as
// starting a new session.
const sessionGap = 30 * time.Minute

// sessionExpired reports whether state belongs to a previous session.
func sessionExpired(state *UserState, now time.Time) bool {
	return !state.LastInteraction.IsZero() && now.Sub(state.LastInteraction) > sessionGap
}

// stateFor loads the user's resonance state, starting a fresh session for
// unseen users. A returning user past the session gap gets the session
// change cap re-anchored at today's active values; without that the cap
// would bind every later session to the first-contact baseline.
func (a *Actor) stateFor(ctx context.Context, userID string) (*UserState, error) {
	state, err := a.store.LoadState(ctx, userID)
	switch {
	case err == nil:
		if sessionExpired(state, time.Now().UTC()) {
			a.engine.BeginSession(state)
			if err := a.store.SaveState(ctx, state); err != nil {
				slog.Warn("personality: save re-anchored session failed", "user_id", userID, "error", err)
			}
		}
		return state, nil
	case errors.Is(err, ErrStateNotFound):
		state = NewUserState(userID)
		a.engine.BeginSession(state)
		return state, nil
	default:
		return nil, err
	}
}

func (a *Actor) invalidate(ctx context.Context, userID string) {
	if a.cache == nil {
		return
	}
	if err := a.cache.Delete(ctx, profileKey(userID)); err != nil {
		slog.Warn("personality: cache invalidate failed", "user_id", userID, "error", err)
	}
}

func profileKey(userID string) string {
	return "personality:profile:" + userID
}

// adaptationTargets derives per-trait resonance targets from the current
// modifiers: the product of style and emotion preference for a trait says
// where the user's taste is pulling it.
func adaptationTargets(state *UserState) map[string]float64 {
	targets := make(map[string]float64)
	for trait, style := range state.StyleMod {
		targets[trait] = style * modifierFor(state.EmotionMod, trait)
	}
	for trait, em := range state.EmotionMod {
		if _, ok := targets[trait]; !ok {
			targets[trait] = em
		}
	}
	return targets
}

func clampModifiers(mods map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(mods))
	for trait, m := range mods {
		out[trait] = clamp(m, ModifierMin, ModifierMax)
	}
	return out
}

func protectionStrings(protections []Protection) []string {
	out := make([]string, len(protections))
	for i, p := range protections {
		out[i] = string(p)
	}
	return out
}

func (a *Actor) reply(ctx context.Context, msg actor.Message, t actor.MessageType, payload map[string]any) error {
	if msg.ReplyTo == "" || a.sender == nil {
		return nil
	}
	out := actor.NewMessage(t, payload)
	out.SenderID = ActorID
	if err := a.sender.Send(ctx, msg.ReplyTo, out); err != nil {
		return fmt.Errorf("personality: reply to %s: %w", msg.ReplyTo, err)
	}
	return nil
}

func (a *Actor) nack(ctx context.Context, msg actor.Message, reason string) error {
	slog.Warn("personality: rejecting message", "type", msg.Type, "sender", msg.SenderID, "reason", reason)
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
		slog.Warn("personality: emit failed", "stream", streamID, "type", eventType, "error", err)
	}
}
