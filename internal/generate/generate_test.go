package generate

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/solace/internal/actor"
	"github.com/MrWong99/solace/internal/eventstore"
	"github.com/MrWong99/solace/internal/mode"
	"github.com/MrWong99/solace/pkg/provider/llm"
	llmmock "github.com/MrWong99/solace/pkg/provider/llm/mock"
)

func TestParamsFor(t *testing.T) {
	if got := ParamsFor(mode.ModeExpert); got.Temperature != 0.3 {
		t.Errorf("expert temperature = %v, want 0.3", got.Temperature)
	}
	if got := ParamsFor(mode.Mode("unknown")); got != modeParams[mode.ModeBase] {
		t.Errorf("unknown mode params = %+v, want base profile", got)
	}
}

func TestBuildRequest(t *testing.T) {
	req := buildRequest(promptInput{
		userText: "tell me something",
		mode:     mode.ModeTalk,
		context: []llm.Message{
			{Role: "user", Content: "earlier question"},
			{Role: "assistant", Content: "earlier answer"},
		},
		memories: []string{"loves hiking in the alps"},
		profile:  map[string]float64{"empathy": 0.9},
		emotions: []string{"joy"},
	})

	if req.Temperature != modeParams[mode.ModeTalk].Temperature {
		t.Errorf("temperature = %v, want talk profile", req.Temperature)
	}
	if len(req.Messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(req.Messages))
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != "user" || last.Content != "tell me something" {
		t.Errorf("last message = %+v, want current user text", last)
	}
	for _, want := range []string{"loves hiking", "empathy: 0.90", "joy"} {
		if !strings.Contains(req.SystemPrompt, want) {
			t.Errorf("system prompt missing %q:\n%s", want, req.SystemPrompt)
		}
	}
}

func TestValidJSONObject(t *testing.T) {
	if !validJSONObject(` {"reply": "hi"} `) {
		t.Error("valid object rejected")
	}
	if validJSONObject(`[1, 2]`) {
		t.Error("array accepted as object")
	}
	if validJSONObject(`not json at all`) {
		t.Error("plain text accepted")
	}
}

// ─── Actor tests ────────────────────────────────────────────────────────────

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

func startHarness(t *testing.T, provider llm.Provider, events actor.EventSink, opts Options) (*actor.Runtime, *replySink) {
	t.Helper()
	rt := actor.NewRuntime(actor.RuntimeConfig{MailboxSize: 32, MaxRetries: -1})
	sink := &replySink{replies: make(chan actor.Message, 64)}
	if err := rt.Register(NewActor(provider, nil, rt, events, nil, opts)); err != nil {
		t.Fatalf("Register(generate): %v", err)
	}
	if err := rt.Register(sink); err != nil {
		t.Fatalf("Register(sink): %v", err)
	}
	rt.Start()
	t.Cleanup(func() { rt.Stop(2 * time.Second) })
	return rt, sink
}

func sendGenerate(t *testing.T, rt *actor.Runtime, payload map[string]any) {
	t.Helper()
	msg := actor.NewMessage(actor.MsgGenerateResponse, payload)
	msg.ReplyTo = "orchestrator"
	if err := rt.Send(context.Background(), ActorID, msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func TestActorComplete(t *testing.T) {
	provider := &llmmock.Provider{
		CompleteResult: &llm.CompletionResponse{
			Content:      "Hello there.",
			FinishReason: "stop",
			Usage:        llm.Usage{PromptTokens: 10, CompletionTokens: 4, TotalTokens: 14},
		},
		ModelIDValue: "test-model",
	}
	rt, sink := startHarness(t, provider, nil, Options{})

	sendGenerate(t, rt, map[string]any{
		"user_id": "u1",
		"text":    "hi",
		"mode":    "talk",
	})

	reply := sink.next(t)
	if reply.Type != actor.MsgGenerationComplete {
		t.Fatalf("reply = %s, want GenerationComplete", reply.Type)
	}
	if got := actor.PayloadString(reply.Payload, "content"); got != "Hello there." {
		t.Errorf("content = %q", got)
	}
	if got := actor.PayloadInt(reply.Payload, "total_tokens", 0); got != 14 {
		t.Errorf("total_tokens = %d, want 14", got)
	}

	reqs := provider.RecordedRequests()
	if len(reqs) != 1 {
		t.Fatalf("provider calls = %d, want 1", len(reqs))
	}
	if reqs[0].Temperature != modeParams[mode.ModeTalk].Temperature {
		t.Errorf("temperature = %v, want talk profile", reqs[0].Temperature)
	}
}

func TestActorStreaming(t *testing.T) {
	store := eventstore.NewMemoryStore(eventstore.MemoryStoreConfig{})
	provider := &llmmock.Provider{
		StreamChunks: []llm.Chunk{
			{Text: "Hel"},
			{Text: "lo."},
			{FinishReason: "stop", Usage: &llm.Usage{TotalTokens: 8, PromptCacheHitTokens: 3}},
		},
		ModelIDValue: "test-model",
	}
	rt, sink := startHarness(t, provider, eventstore.NewEmitter(store), Options{StreamChunks: true})

	sendGenerate(t, rt, map[string]any{
		"user_id": "u1",
		"text":    "hi",
		"mode":    "base",
	})

	var chunks []string
	for {
		msg := sink.next(t)
		if msg.Type == actor.MsgStreamChunk {
			chunks = append(chunks, actor.PayloadString(msg.Payload, "text"))
			continue
		}
		if msg.Type != actor.MsgGenerationComplete {
			t.Fatalf("unexpected message %s", msg.Type)
		}
		if got := actor.PayloadString(msg.Payload, "content"); got != "Hello." {
			t.Errorf("content = %q, want Hello.", got)
		}
		break
	}
	if len(chunks) != 2 || chunks[0] != "Hel" || chunks[1] != "lo." {
		t.Errorf("chunks = %v, want [Hel lo.]", chunks)
	}

	events, err := store.GetStream(context.Background(), eventstore.GenerationStream("u1"), 0)
	if err != nil {
		t.Fatalf("GetStream: %v", err)
	}
	usageEvents := 0
	for _, ev := range events {
		if ev.Type == eventstore.TypeCacheHitMetric {
			usageEvents++
		}
	}
	if usageEvents != 1 {
		t.Errorf("CacheHitMetric events = %d, want 1", usageEvents)
	}
}

func TestActorJSONFallback(t *testing.T) {
	store := eventstore.NewMemoryStore(eventstore.MemoryStoreConfig{})
	calls := 0
	provider := &llmmock.Provider{ModelIDValue: "test-model"}
	provider.CompleteFunc = func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		calls++
		if req.Format == llm.FormatJSON {
			return &llm.CompletionResponse{Content: "{broken", FinishReason: "stop"}, nil
		}
		return &llm.CompletionResponse{Content: "plain answer", FinishReason: "stop"}, nil
	}
	rt, sink := startHarness(t, provider, eventstore.NewEmitter(store), Options{JSONFallback: true})

	sendGenerate(t, rt, map[string]any{
		"user_id": "u1",
		"text":    "hi",
		"mode":    "expert",
		"format":  "json",
	})

	reply := sink.next(t)
	if reply.Type != actor.MsgGenerationComplete {
		t.Fatalf("reply = %s, want GenerationComplete", reply.Type)
	}
	if actor.PayloadBool(reply.Payload, "is_json") {
		t.Error("is_json = true after fallback to plain text")
	}
	if got := actor.PayloadString(reply.Payload, "content"); got != "plain answer" {
		t.Errorf("content = %q, want the fallback answer", got)
	}
	if calls != 2 {
		t.Errorf("provider calls = %d, want 2 (json then fallback)", calls)
	}

	events, err := store.GetStream(context.Background(), eventstore.GenerationStream("u1"), 0)
	if err != nil {
		t.Fatalf("GetStream: %v", err)
	}
	failed := 0
	for _, ev := range events {
		if ev.Type == eventstore.TypeJSONValidationFailed {
			failed++
		}
	}
	if failed != 1 {
		t.Errorf("JSONValidationFailed events = %d, want 1", failed)
	}
}

func TestActorProviderFailure(t *testing.T) {
	provider := &llmmock.Provider{CompleteErr: errors.New("backend down"), ModelIDValue: "test-model"}
	rt, sink := startHarness(t, provider, nil, Options{})

	sendGenerate(t, rt, map[string]any{"user_id": "u1", "text": "hi"})

	reply := sink.next(t)
	if reply.Type != actor.MsgGenerationFailed {
		t.Fatalf("reply = %s, want GenerationFailed", reply.Type)
	}
	if got := actor.PayloadString(reply.Payload, "error"); !strings.Contains(got, "backend down") {
		t.Errorf("error = %q, want the provider error", got)
	}
}
