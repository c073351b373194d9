package personality

import (
	"context"
	"testing"
	"time"

	"github.com/MrWong99/solace/internal/actor"
	"github.com/MrWong99/solace/internal/cache"
	"github.com/MrWong99/solace/internal/config"
)

type replySink struct {
	replies chan actor.Message
}

func (s *replySink) ID() string { return "orchestrator" }

func (s *replySink) Receive(_ context.Context, msg actor.Message) error {
	s.replies <- msg
	return nil
}

func (s *replySink) next(t *testing.T) actor.Message {
	t.Helper()
	select {
	case msg := <-s.replies:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reply")
		return actor.Message{}
	}
}

func startPersonalityHarness(t *testing.T) (*actor.Runtime, *replySink, *MemoryStore) {
	t.Helper()
	cfg := config.PersonalityConfig{
		RecoveryDays:       7,
		AdaptationInterval: 2,
		MaxDeviation:       1.5,
		LearningRate:       0.2,
		CacheTTL:           config.Duration(time.Minute),
	}
	engine := testEngine()
	store := NewMemoryStore()
	c := cache.NewMemoryCache("test")

	rt := actor.NewRuntime(actor.RuntimeConfig{MailboxSize: 32, MaxRetries: -1})
	sink := &replySink{replies: make(chan actor.Message, 32)}
	if err := rt.Register(NewActor(cfg, engine, store, c, rt, nil, nil)); err != nil {
		t.Fatalf("Register(personality): %v", err)
	}
	if err := rt.Register(sink); err != nil {
		t.Fatalf("Register(sink): %v", err)
	}
	rt.Start()
	t.Cleanup(func() { rt.Stop(2 * time.Second) })
	return rt, sink, store
}

func sendPersonality(t *testing.T, rt *actor.Runtime, msgType actor.MessageType, payload map[string]any) {
	t.Helper()
	msg := actor.NewMessage(msgType, payload)
	msg.ReplyTo = "orchestrator"
	if err := rt.Send(context.Background(), ActorID, msg); err != nil {
		t.Fatalf("Send(%s): %v", msgType, err)
	}
}

func TestActorProfileCaching(t *testing.T) {
	rt, sink, _ := startPersonalityHarness(t)

	sendPersonality(t, rt, actor.MsgGetPersonalityProfile, map[string]any{"user_id": "u1"})
	first := sink.next(t)
	if first.Type != actor.MsgPersonalityProfileResponse {
		t.Fatalf("reply = %s, want PersonalityProfileResponse", first.Type)
	}
	if actor.PayloadBool(first.Payload, "cached") {
		t.Error("first lookup reported as cached")
	}
	values := actor.PayloadFloatMap(first.Payload, "active_values")
	if len(values) != len(DefaultBaseTraits) {
		t.Errorf("active values count = %d, want %d", len(values), len(DefaultBaseTraits))
	}

	sendPersonality(t, rt, actor.MsgGetPersonalityProfile, map[string]any{"user_id": "u1"})
	second := sink.next(t)
	if !actor.PayloadBool(second.Payload, "cached") {
		t.Error("second lookup not served from cache")
	}
}

func TestActorAdaptationCadenceAndHistory(t *testing.T) {
	rt, sink, store := startPersonalityHarness(t)

	// Interval is 2: the first update only records the modifier, the second
	// adapts.
	sendPersonality(t, rt, actor.MsgAdaptPersonality, map[string]any{
		"user_id":       "u1",
		"modifier_type": "style",
		"modifier_data": map[string]float64{"humor": 1.4},
	})
	first := sink.next(t)
	if first.Type != actor.MsgPersonalityAdapted {
		t.Fatalf("reply = %s, want PersonalityAdapted", first.Type)
	}
	if actor.PayloadBool(first.Payload, "adapted") {
		t.Error("adaptation fired before the interval elapsed")
	}

	sendPersonality(t, rt, actor.MsgAdaptPersonality, map[string]any{
		"user_id":       "u1",
		"modifier_type": "emotion",
		"modifier_data": map[string]float64{"humor": 1.2},
	})
	second := sink.next(t)
	if !actor.PayloadBool(second.Payload, "adapted") {
		t.Fatal("adaptation did not fire at the interval")
	}

	history := store.History()
	if len(history) != 1 {
		t.Fatalf("adaptation history entries = %d, want 1", len(history))
	}
	if history[0].UserID != "u1" || history[0].Trigger != "emotion" {
		t.Errorf("history entry = %+v, want u1/emotion", history[0])
	}

	// The adapted resonance is visible via GetResonance.
	sendPersonality(t, rt, actor.MsgGetResonance, map[string]any{"user_id": "u1"})
	res := sink.next(t)
	if res.Type != actor.MsgResonanceResponse {
		t.Fatalf("reply = %s, want ResonanceResponse", res.Type)
	}
	resonance := actor.PayloadFloatMap(res.Payload, "resonance")
	if resonance["humor"] <= ResonanceNeutral {
		t.Errorf("humor resonance = %v, want above neutral after positive preference", resonance["humor"])
	}
}

func TestActorReanchorsSessionAfterInactivity(t *testing.T) {
	rt, sink, store := startPersonalityHarness(t)

	// A state last touched two hours ago belongs to a previous session; the
	// next request must recompute the session anchor instead of capping
	// against the old one.
	stale := NewUserState("u1")
	stale.SessionStart["humor"] = 0.05
	stale.LastInteraction = time.Now().UTC().Add(-2 * time.Hour)
	if err := store.SaveState(context.Background(), stale); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	sendPersonality(t, rt, actor.MsgGetResonance, map[string]any{"user_id": "u1"})
	if reply := sink.next(t); reply.Type != actor.MsgResonanceResponse {
		t.Fatalf("reply = %s, want ResonanceResponse", reply.Type)
	}

	state, err := store.LoadState(context.Background(), "u1")
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if anchor := state.SessionStart["humor"]; anchor == 0.05 {
		t.Fatal("session anchor kept across the inactivity gap")
	}
}

func TestActorKeepsSessionAnchorWhileActive(t *testing.T) {
	rt, sink, store := startPersonalityHarness(t)

	recent := NewUserState("u1")
	recent.SessionStart["humor"] = 0.05
	recent.LastInteraction = time.Now().UTC().Add(-time.Minute)
	if err := store.SaveState(context.Background(), recent); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	sendPersonality(t, rt, actor.MsgGetResonance, map[string]any{"user_id": "u1"})
	if reply := sink.next(t); reply.Type != actor.MsgResonanceResponse {
		t.Fatalf("reply = %s, want ResonanceResponse", reply.Type)
	}

	state, err := store.LoadState(context.Background(), "u1")
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if anchor := state.SessionStart["humor"]; anchor != 0.05 {
		t.Fatalf("session anchor = %v, want 0.05 within the same session", anchor)
	}
}

func TestActorRejectsUnknownModifier(t *testing.T) {
	rt, sink, _ := startPersonalityHarness(t)

	sendPersonality(t, rt, actor.MsgAdaptPersonality, map[string]any{
		"user_id":       "u1",
		"modifier_type": "astrology",
		"modifier_data": map[string]float64{"humor": 1.2},
	})
	if reply := sink.next(t); reply.Type != actor.MsgNack {
		t.Fatalf("reply = %s, want Nack", reply.Type)
	}
}
