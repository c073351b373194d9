package session

import (
	"context"
	"testing"
	"time"

	"github.com/MrWong99/solace/internal/actor"
	"github.com/MrWong99/solace/internal/config"
	"github.com/MrWong99/solace/internal/eventstore"
	"github.com/MrWong99/solace/internal/mode"
)

func TestSessionRecordMode(t *testing.T) {
	s := newSession("u1", "", time.Now())
	for i := 0; i < 5; i++ {
		s.recordMode(mode.ModeTalk, 0.6, 3)
	}
	if len(s.ModeHistory) != 3 {
		t.Errorf("history length = %d, want 3", len(s.ModeHistory))
	}
	if s.CurrentMode != mode.ModeTalk || s.ModeConfidence != 0.6 {
		t.Errorf("current = %s/%v", s.CurrentMode, s.ModeConfidence)
	}
}

func TestSessionCacheHitRate(t *testing.T) {
	s := newSession("u1", "", time.Now())
	if got := s.cacheHitRate(); got != 0 {
		t.Errorf("empty rate = %v, want 0", got)
	}
	s.recordCacheLookup(true, 10)
	s.recordCacheLookup(true, 10)
	s.recordCacheLookup(false, 10)
	if got := s.cacheHitRate(); got < 0.66 || got > 0.67 {
		t.Errorf("rate = %v, want 2/3", got)
	}
}

func TestPendingReady(t *testing.T) {
	now := time.Now()
	p := &pendingRequest{deadline: now.Add(time.Second)}
	if p.ready(now) {
		t.Error("ready before limit check")
	}
	p.limitChecked = true
	p.stmDone = true
	if p.ready(now) {
		t.Error("ready while partner and personality outstanding")
	}
	p.partnerDone = true
	p.personalityDone = true
	if !p.ready(now) {
		t.Error("not ready with all mandatory pieces in")
	}
	p.embeddingAsked = true
	if p.ready(now) {
		t.Error("ready while embedding in flight")
	}
	if !p.ready(now.Add(2 * time.Second)) {
		t.Error("not ready after the deadline passed")
	}
}

func TestMemoryLines(t *testing.T) {
	lines := memoryLines([]any{
		map[string]any{"user_text": "I love hiking", "bot_text": "Sounds great"},
		map[string]any{"user_text": "My cat is called Momo"},
		map[string]any{"bot_text": "orphaned reply"},
		"not a map",
	})
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	if lines[0] != "I love hiking (you answered: Sounds great)" {
		t.Errorf("line 0 = %q", lines[0])
	}
	if lines[1] != "My cat is called Momo" {
		t.Errorf("line 1 = %q", lines[1])
	}
}

// ─── Actor tests ────────────────────────────────────────────────────────────

// stubActor records what it receives and optionally answers via handler.
type stubActor struct {
	id       string
	rt       *actor.Runtime
	received chan actor.Message
	handler  func(msg actor.Message) (actor.MessageType, map[string]any)
}

func newStub(id string, handler func(msg actor.Message) (actor.MessageType, map[string]any)) *stubActor {
	return &stubActor{id: id, received: make(chan actor.Message, 64), handler: handler}
}

func (s *stubActor) ID() string { return s.id }

func (s *stubActor) Receive(ctx context.Context, msg actor.Message) error {
	s.received <- msg
	if s.handler == nil || msg.ReplyTo == "" {
		return nil
	}
	t, payload := s.handler(msg)
	if t == "" {
		return nil
	}
	out := actor.NewMessage(t, payload)
	out.SenderID = s.id
	return s.rt.Send(ctx, msg.ReplyTo, out)
}

func (s *stubActor) next(t *testing.T) actor.Message {
	t.Helper()
	select {
	case msg := <-s.received:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("%s: timed out waiting for a message", s.id)
		return actor.Message{}
	}
}

func (s *stubActor) nextOfType(t *testing.T, want actor.MessageType) actor.Message {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-s.received:
			if msg.Type == want {
				return msg
			}
		case <-deadline:
			t.Fatalf("%s: timed out waiting for %s", s.id, want)
			return actor.Message{}
		}
	}
}

func echo(msg actor.Message, extra map[string]any) map[string]any {
	payload := map[string]any{
		"user_id":    actor.PayloadString(msg.Payload, "user_id"),
		"request_id": actor.PayloadString(msg.Payload, "request_id"),
	}
	for k, v := range extra {
		payload[k] = v
	}
	return payload
}

func testDetector() *mode.Detector {
	return mode.NewDetector(config.ModeConfig{
		ConfidenceThreshold:      0.35,
		ScoreNormalizationFactor: 10,
		StableHistoryMultiplier:  1.5,
	})
}

// harness wires the orchestrator plus the given collaborator stubs into one
// runtime. The gateway stub collects whatever the orchestrator forwards.
type harness struct {
	rt      *actor.Runtime
	store   *eventstore.MemoryStore
	gateway *stubActor
}

func startHarness(t *testing.T, cfg Config, stubs ...*stubActor) *harness {
	t.Helper()
	store := eventstore.NewMemoryStore(eventstore.MemoryStoreConfig{})
	rt := actor.NewRuntime(actor.RuntimeConfig{MailboxSize: 64, MaxRetries: -1})

	orch := NewActor(cfg, testDetector(), rt, eventstore.NewEmitter(store), nil)
	if err := rt.Register(orch); err != nil {
		t.Fatalf("Register(session): %v", err)
	}

	gateway := newStub("gateway", nil)
	gateway.rt = rt
	if err := rt.Register(gateway); err != nil {
		t.Fatalf("Register(gateway): %v", err)
	}
	for _, stub := range stubs {
		stub.rt = rt
		if err := rt.Register(stub); err != nil {
			t.Fatalf("Register(%s): %v", stub.id, err)
		}
	}

	rt.Start()
	t.Cleanup(func() { rt.Stop(2 * time.Second) })
	return &harness{rt: rt, store: store, gateway: gateway}
}

func sendUserMessage(t *testing.T, rt *actor.Runtime, payload map[string]any) {
	t.Helper()
	msg := actor.NewMessage(actor.MsgUserMessage, payload)
	msg.SenderID = "gateway"
	msg.ReplyTo = "gateway"
	if err := rt.Send(context.Background(), ActorID, msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func allowAllLimits() *stubActor {
	return newStub("limits", func(msg actor.Message) (actor.MessageType, map[string]any) {
		return actor.MsgLimitResponse, echo(msg, map[string]any{
			"allowed": true, "approaching": false, "remaining": 100,
		})
	})
}

func contextStub() *stubActor {
	return newStub("stm", func(msg actor.Message) (actor.MessageType, map[string]any) {
		if msg.Type != actor.MsgGetContext {
			return "", nil
		}
		return actor.MsgContextResponse, echo(msg, map[string]any{
			"messages": []any{
				map[string]any{"role": "user", "content": "earlier question"},
				map[string]any{"role": "assistant", "content": "earlier answer"},
			},
			"total_messages": 2,
			"format":         actor.PayloadString(msg.Payload, "format"),
		})
	})
}

func generationStub() *stubActor {
	return newStub("generation", func(msg actor.Message) (actor.MessageType, map[string]any) {
		return actor.MsgGenerationComplete, echo(msg, map[string]any{
			"content":      "Here for you.",
			"mode":         actor.PayloadString(msg.Payload, "mode"),
			"total_tokens": 21,
		})
	})
}

func TestOrchestratorHappyPath(t *testing.T) {
	stmStub := contextStub()
	genStub := generationStub()
	ltmStub := newStub("ltm", func(msg actor.Message) (actor.MessageType, map[string]any) {
		if msg.Type != actor.MsgGetLtmMemory {
			return "", nil
		}
		return actor.MsgLtmResponse, echo(msg, map[string]any{
			"memories": []any{
				map[string]any{"user_text": "my cat is called Momo", "bot_text": "Lovely name"},
			},
			"count":       1,
			"search_type": actor.PayloadString(msg.Payload, "search_type"),
		})
	})
	h := startHarness(t, Config{},
		allowAllLimits(),
		stmStub,
		newStub("embedding", func(msg actor.Message) (actor.MessageType, map[string]any) {
			return actor.MsgEmbeddingResponse, echo(msg, map[string]any{
				"embedding": []float64{0.1, 0.2}, "dimensions": 2,
			})
		}),
		ltmStub,
		newStub("partner", func(msg actor.Message) (actor.MessageType, map[string]any) {
			return actor.MsgPartnerModelResponse, echo(msg, map[string]any{
				"recommended_mode": "", "mode_confidence": 0.0, "version": 3,
			})
		}),
		newStub("personality", func(msg actor.Message) (actor.MessageType, map[string]any) {
			return actor.MsgPersonalityProfileResponse, echo(msg, map[string]any{
				"active_values": map[string]float64{"empathy": 0.9},
				"cached":        true,
			})
		}),
		newStub("emotion", func(msg actor.Message) (actor.MessageType, map[string]any) {
			return actor.MsgEmotionResponse, echo(msg, map[string]any{
				"scores":   map[string]float64{"sadness": 0.8},
				"dominant": []string{"sadness"},
			})
		}),
		genStub,
	)

	sendUserMessage(t, h.rt, map[string]any{
		"user_id":  "u1",
		"chat_id":  "c1",
		"username": "ann",
		"text":     "I feel so lonely today",
	})

	bot := h.gateway.nextOfType(t, actor.MsgBotResponse)
	if got := actor.PayloadString(bot.Payload, "text"); got != "Here for you." {
		t.Errorf("bot text = %q", got)
	}
	if got := actor.PayloadString(bot.Payload, "chat_id"); got != "c1" {
		t.Errorf("chat_id = %q, want c1", got)
	}

	// The generation request carries everything the collaborators supplied.
	genReq := genStub.nextOfType(t, actor.MsgGenerateResponse)
	if got := len(actor.PayloadSlice(genReq.Payload, "context")); got != 2 {
		t.Errorf("context messages = %d, want 2", got)
	}
	memories := actor.PayloadStrings(genReq.Payload, "memories")
	if len(memories) != 1 || memories[0] != "my cat is called Momo (you answered: Lovely name)" {
		t.Errorf("memories = %v", memories)
	}
	if got := actor.PayloadFloatMap(genReq.Payload, "profile")["empathy"]; got != 0.9 {
		t.Errorf("profile empathy = %v", got)
	}
	if got := actor.PayloadStrings(genReq.Payload, "emotions"); len(got) != 1 || got[0] != "sadness" {
		t.Errorf("emotions = %v", got)
	}
	if got := actor.PayloadString(genReq.Payload, "mode"); got == "" {
		t.Error("mode missing from generation request")
	}

	// Context is fetched before the user turn is stored, then the bot turn
	// lands after generation.
	first := stmStub.next(t)
	if first.Type != actor.MsgGetContext {
		t.Fatalf("first stm message = %s, want GetContext", first.Type)
	}
	userTurn := stmStub.nextOfType(t, actor.MsgStoreMemory)
	if got := actor.PayloadString(userTurn.Payload, "message_type"); got != "user" {
		t.Errorf("first stored turn = %q, want user", got)
	}
	botTurn := stmStub.nextOfType(t, actor.MsgStoreMemory)
	if got := actor.PayloadString(botTurn.Payload, "message_type"); got != "bot" {
		t.Errorf("second stored turn = %q, want bot", got)
	}

	// The embedding arrived, so retrieval went through vector search, and
	// the emotional turn is offered to long-term memory.
	search := ltmStub.nextOfType(t, actor.MsgGetLtmMemory)
	if got := actor.PayloadString(search.Payload, "search_type"); got != "vector" {
		t.Errorf("search_type = %q, want vector", got)
	}
	eval := ltmStub.nextOfType(t, actor.MsgEvaluateMemory)
	if got := actor.PayloadFloatMap(eval.Payload, "emotions")["sadness"]; got != 0.8 {
		t.Errorf("evaluated sadness = %v", got)
	}

	events, err := h.store.GetStream(context.Background(), eventstore.UserStream("u1"), 0)
	if err != nil {
		t.Fatalf("GetStream: %v", err)
	}
	var created, detected int
	for _, ev := range events {
		switch ev.Type {
		case eventstore.TypeSessionCreated:
			created++
		case eventstore.TypeModeDetected:
			detected++
		}
	}
	if created != 1 || detected != 1 {
		t.Errorf("events created=%d detected=%d, want 1/1", created, detected)
	}

	// Session info reflects the finished turn.
	info := actor.NewMessage(actor.MsgGetSessionInfo, map[string]any{"user_id": "u1"})
	info.ReplyTo = "gateway"
	if err := h.rt.Send(context.Background(), ActorID, info); err != nil {
		t.Fatalf("Send(GetSessionInfo): %v", err)
	}
	reply := h.gateway.nextOfType(t, actor.MsgSessionInfoResponse)
	if !actor.PayloadBool(reply.Payload, "exists") {
		t.Fatal("session missing")
	}
	if got := actor.PayloadInt(reply.Payload, "message_count", 0); got != 1 {
		t.Errorf("message_count = %d, want 1", got)
	}
	if got := actor.PayloadInt(reply.Payload, "partner_version", 0); got != 3 {
		t.Errorf("partner_version = %d, want 3", got)
	}
}

func TestOrchestratorDegradesWithoutCollaborators(t *testing.T) {
	// Only the mandatory pieces exist. Sends to the missing actors fail
	// and the turn proceeds with empty context.
	h := startHarness(t, Config{}, allowAllLimits(), contextStub(), generationStub())

	sendUserMessage(t, h.rt, map[string]any{"user_id": "u1", "text": "hello"})

	bot := h.gateway.nextOfType(t, actor.MsgBotResponse)
	if got := actor.PayloadString(bot.Payload, "text"); got != "Here for you." {
		t.Errorf("bot text = %q", got)
	}
}

func TestOrchestratorSkipsSlowCollaboratorAfterDeadline(t *testing.T) {
	// The partner stub swallows its request. After the soft deadline the
	// janitor tick releases the turn without it.
	silentPartner := newStub("partner", nil)
	h := startHarness(t, Config{ComponentTimeout: 20 * time.Millisecond},
		allowAllLimits(), contextStub(), generationStub(), silentPartner)

	sendUserMessage(t, h.rt, map[string]any{"user_id": "u1", "text": "hello"})

	silentPartner.nextOfType(t, actor.MsgGetPartnerModel)
	time.Sleep(50 * time.Millisecond)
	if err := h.rt.Send(context.Background(), ActorID, actor.NewMessage(actor.MsgSessionJanitorTick, nil)); err != nil {
		t.Fatalf("Send(janitor): %v", err)
	}

	bot := h.gateway.nextOfType(t, actor.MsgBotResponse)
	if got := actor.PayloadString(bot.Payload, "text"); got != "Here for you." {
		t.Errorf("bot text = %q", got)
	}
}

func TestOrchestratorFallsBackToTalkForPlainGreeting(t *testing.T) {
	// A greeting hits no mode vocabulary at all; the turn must still come
	// out as plain conversation rather than the neutral floor.
	genStub := generationStub()
	h := startHarness(t, Config{}, allowAllLimits(), contextStub(), genStub)

	sendUserMessage(t, h.rt, map[string]any{"user_id": "u1", "chat_id": "c1", "text": "Hi"})
	h.gateway.nextOfType(t, actor.MsgBotResponse)

	genReq := genStub.nextOfType(t, actor.MsgGenerateResponse)
	if got := actor.PayloadString(genReq.Payload, "mode"); got != "talk" {
		t.Errorf("mode = %q, want talk", got)
	}

	events, err := h.store.GetStream(context.Background(), eventstore.UserStream("u1"), 0)
	if err != nil {
		t.Fatalf("GetStream: %v", err)
	}
	for _, ev := range events {
		if ev.Type != eventstore.TypeModeDetected {
			continue
		}
		if got := ev.Payload["confidence"]; got != 0.5 {
			t.Errorf("confidence = %v, want 0.5", got)
		}
		if got := ev.Payload["source"]; got != "fallback" {
			t.Errorf("source = %v, want fallback", got)
		}
		return
	}
	t.Fatal("no ModeDetected event recorded")
}

func TestOrchestratorRecentSearchAfterEmbeddingTimeout(t *testing.T) {
	// The embedder swallows its request. Once the soft deadline passes, the
	// turn must still consult long-term memory through a recency search
	// instead of generating with no memories at all.
	silentEmbed := newStub("embedding", nil)
	genStub := generationStub()
	ltmStub := newStub("ltm", func(msg actor.Message) (actor.MessageType, map[string]any) {
		if msg.Type != actor.MsgGetLtmMemory {
			return "", nil
		}
		return actor.MsgLtmResponse, echo(msg, map[string]any{
			"memories": []any{
				map[string]any{"user_text": "my cat is called Momo", "bot_text": "Lovely name"},
			},
			"count":       1,
			"search_type": actor.PayloadString(msg.Payload, "search_type"),
		})
	})
	h := startHarness(t, Config{ComponentTimeout: 20 * time.Millisecond},
		allowAllLimits(), contextStub(), genStub, silentEmbed, ltmStub)

	sendUserMessage(t, h.rt, map[string]any{"user_id": "u1", "text": "hello"})

	silentEmbed.nextOfType(t, actor.MsgGenerateEmbedding)
	time.Sleep(50 * time.Millisecond)
	if err := h.rt.Send(context.Background(), ActorID, actor.NewMessage(actor.MsgSessionJanitorTick, nil)); err != nil {
		t.Fatalf("Send(janitor): %v", err)
	}

	search := ltmStub.nextOfType(t, actor.MsgGetLtmMemory)
	if got := actor.PayloadString(search.Payload, "search_type"); got != "recent" {
		t.Errorf("search_type = %q, want recent", got)
	}

	h.gateway.nextOfType(t, actor.MsgBotResponse)
	genReq := genStub.nextOfType(t, actor.MsgGenerateResponse)
	memories := actor.PayloadStrings(genReq.Payload, "memories")
	if len(memories) != 1 {
		t.Fatalf("memories = %v, want the recency result", memories)
	}
}

func TestOrchestratorRejectsOverQuota(t *testing.T) {
	genStub := generationStub()
	rejecting := newStub("limits", func(msg actor.Message) (actor.MessageType, map[string]any) {
		return actor.MsgLimitResponse, echo(msg, map[string]any{
			"allowed": false, "remaining": 0, "limit": 200,
		})
	})
	h := startHarness(t, Config{}, rejecting, contextStub(), genStub)

	sendUserMessage(t, h.rt, map[string]any{"user_id": "u1", "text": "hello"})

	rejected := h.gateway.nextOfType(t, actor.MsgLimitResponse)
	if actor.PayloadBool(rejected.Payload, "allowed") {
		t.Error("allowed = true, want rejection")
	}
	select {
	case msg := <-genStub.received:
		t.Errorf("generation received %s after rejection", msg.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestOrchestratorExpiresStalePending(t *testing.T) {
	// The short-term store never answers, so the turn can only die by TTL.
	silentSTM := newStub("stm", nil)
	h := startHarness(t, Config{PendingTTL: 20 * time.Millisecond},
		allowAllLimits(), silentSTM, generationStub())

	sendUserMessage(t, h.rt, map[string]any{"user_id": "u1", "text": "hello"})

	silentSTM.nextOfType(t, actor.MsgGetContext)
	time.Sleep(50 * time.Millisecond)
	if err := h.rt.Send(context.Background(), ActorID, actor.NewMessage(actor.MsgSessionJanitorTick, nil)); err != nil {
		t.Fatalf("Send(janitor): %v", err)
	}

	failure := h.gateway.nextOfType(t, actor.MsgErrorResponse)
	if got := actor.PayloadString(failure.Payload, "error"); got != "request timed out" {
		t.Errorf("error = %q", got)
	}

	events, err := h.store.GetStream(context.Background(), eventstore.UserStream("u1"), 0)
	if err != nil {
		t.Fatalf("GetStream: %v", err)
	}
	expired := 0
	for _, ev := range events {
		if ev.Type == eventstore.TypePendingExpired {
			expired++
		}
	}
	if expired != 1 {
		t.Errorf("PendingExpired events = %d, want 1", expired)
	}
}

func TestOrchestratorAnalysisCadence(t *testing.T) {
	analysisStub := newStub("analysis", nil)
	stmStub := contextStub()
	h := startHarness(t, Config{AnalysisInterval: 1},
		allowAllLimits(), stmStub, generationStub(), analysisStub)

	sendUserMessage(t, h.rt, map[string]any{"user_id": "u1", "text": "hello"})
	h.gateway.nextOfType(t, actor.MsgBotResponse)

	run := analysisStub.nextOfType(t, actor.MsgRunAnalysis)
	if got := actor.PayloadString(run.Payload, "user_id"); got != "u1" {
		t.Errorf("analysis user_id = %q", got)
	}
	if got := len(actor.PayloadSlice(run.Payload, "messages")); got != 2 {
		t.Errorf("analysis messages = %d, want 2", got)
	}
}

func TestOrchestratorSessionInfoUnknownUser(t *testing.T) {
	h := startHarness(t, Config{})

	info := actor.NewMessage(actor.MsgGetSessionInfo, map[string]any{"user_id": "ghost"})
	info.ReplyTo = "gateway"
	if err := h.rt.Send(context.Background(), ActorID, info); err != nil {
		t.Fatalf("Send: %v", err)
	}
	reply := h.gateway.nextOfType(t, actor.MsgSessionInfoResponse)
	if actor.PayloadBool(reply.Payload, "exists") {
		t.Error("exists = true for unknown user")
	}
}
