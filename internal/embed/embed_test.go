package embed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/solace/internal/actor"
	embmock "github.com/MrWong99/solace/pkg/provider/embeddings/mock"
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

func startHarness(t *testing.T, provider *embmock.Provider) (*actor.Runtime, *replySink) {
	t.Helper()
	rt := actor.NewRuntime(actor.RuntimeConfig{MailboxSize: 16, MaxRetries: -1})
	sink := &replySink{replies: make(chan actor.Message, 16)}
	if err := rt.Register(NewActor(provider, rt, time.Second)); err != nil {
		t.Fatalf("Register(embed): %v", err)
	}
	if err := rt.Register(sink); err != nil {
		t.Fatalf("Register(sink): %v", err)
	}
	rt.Start()
	t.Cleanup(func() { rt.Stop(2 * time.Second) })
	return rt, sink
}

func send(t *testing.T, rt *actor.Runtime, payload map[string]any) {
	t.Helper()
	msg := actor.NewMessage(actor.MsgGenerateEmbedding, payload)
	msg.ReplyTo = "orchestrator"
	if err := rt.Send(context.Background(), ActorID, msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func TestActorEmbed(t *testing.T) {
	provider := &embmock.Provider{
		EmbedResult:     []float32{0.1, 0.2, 0.3},
		DimensionsValue: 3,
		ModelIDValue:    "test-embed",
	}
	rt, sink := startHarness(t, provider)

	send(t, rt, map[string]any{"user_id": "u1", "text": "hello world", "request_id": "r1"})

	reply := sink.next(t)
	if reply.Type != actor.MsgEmbeddingResponse {
		t.Fatalf("reply = %s, want EmbeddingResponse", reply.Type)
	}
	vec := actor.PayloadFloats(reply.Payload, "embedding")
	if len(vec) != 3 {
		t.Fatalf("embedding length = %d, want 3", len(vec))
	}
	if got := actor.PayloadString(reply.Payload, "request_id"); got != "r1" {
		t.Errorf("request_id = %q, want r1", got)
	}
	if calls := provider.Calls(); len(calls) != 1 || calls[0] != "hello world" {
		t.Errorf("provider calls = %v", calls)
	}
}

func TestActorEmbedFailure(t *testing.T) {
	provider := &embmock.Provider{EmbedErr: errors.New("model offline"), ModelIDValue: "test-embed"}
	rt, sink := startHarness(t, provider)

	send(t, rt, map[string]any{"user_id": "u1", "text": "hello"})

	reply := sink.next(t)
	if reply.Type != actor.MsgEmbeddingFailed {
		t.Fatalf("reply = %s, want EmbeddingFailed", reply.Type)
	}
}

func TestActorEmbedEmptyText(t *testing.T) {
	rt, sink := startHarness(t, &embmock.Provider{})

	send(t, rt, map[string]any{"user_id": "u1"})

	reply := sink.next(t)
	if reply.Type != actor.MsgEmbeddingFailed {
		t.Fatalf("reply = %s, want EmbeddingFailed for empty text", reply.Type)
	}
}
