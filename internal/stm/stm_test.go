package stm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/solace/internal/actor"
	"github.com/MrWong99/solace/internal/config"
	"github.com/MrWong99/solace/internal/eventstore"
)

func testSTMConfig() config.STMConfig {
	return config.STMConfig{
		BufferSize:       4,
		MessageMaxLength: 1000,
		ContextFormat:    config.FormatStructured,
		QueryTimeout:     config.Duration(time.Second),
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		max       int
		want      string
		truncated bool
	}{
		{"under limit", "hello", 10, "hello", false},
		{"at limit", "hello", 5, "hello", false},
		{"over limit", "hello world", 5, "hello", true},
		{"zero max disables", "hello world", 0, "hello world", false},
		{"multibyte runes", "héllo wörld", 7, "héllo w", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, truncated := Truncate(tt.content, tt.max)
			if got != tt.want || truncated != tt.truncated {
				t.Errorf("Truncate(%q, %d) = (%q, %v), want (%q, %v)",
					tt.content, tt.max, got, truncated, tt.want, tt.truncated)
			}
		})
	}
}

func TestPrepareRowTruncationMetadata(t *testing.T) {
	cfg := testSTMConfig()
	cfg.MessageMaxLength = 5

	row, err := PrepareRow(cfg, "u1", KindUser, "hello world", nil)
	if err != nil {
		t.Fatalf("PrepareRow: %v", err)
	}
	if row.Content != "hello" {
		t.Errorf("content = %q, want %q", row.Content, "hello")
	}
	if truncated, _ := row.Metadata["truncated"].(bool); !truncated {
		t.Error("metadata missing truncated flag")
	}
	if origLen, _ := row.Metadata["original_length"].(int); origLen != 11 {
		t.Errorf("original_length = %v, want 11", row.Metadata["original_length"])
	}

	// Short content leaves metadata untouched.
	row, err = PrepareRow(cfg, "u1", KindBot, "hi", nil)
	if err != nil {
		t.Fatalf("PrepareRow: %v", err)
	}
	if row.Metadata != nil {
		t.Errorf("unexpected metadata %v for untruncated content", row.Metadata)
	}
}

func TestPrepareRowInvalidKind(t *testing.T) {
	_, err := PrepareRow(testSTMConfig(), "u1", "whisper", "hi", nil)
	if !errors.Is(err, ErrInvalidKind) {
		t.Fatalf("err = %v, want ErrInvalidKind", err)
	}
}

func TestFormatContext(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := []Row{
		{Kind: KindUser, Content: "question", Timestamp: ts},
		{Kind: KindBot, Content: "answer", Timestamp: ts.Add(time.Second)},
	}

	structured := FormatContext(rows, config.FormatStructured)
	if len(structured) != 2 {
		t.Fatalf("structured len = %d, want 2", len(structured))
	}
	if structured[0]["role"] != "user" || structured[1]["role"] != "assistant" {
		t.Errorf("roles = %v, %v; want user, assistant", structured[0]["role"], structured[1]["role"])
	}
	if _, ok := structured[0]["timestamp"]; ok {
		t.Error("structured format should not carry timestamps")
	}

	text := FormatContext(rows, config.FormatText)
	if text[0]["type"] != "user" || text[1]["type"] != "bot" {
		t.Errorf("types = %v, %v; want user, bot", text[0]["type"], text[1]["type"])
	}
	if text[0]["timestamp"] != ts.Format(time.RFC3339) {
		t.Errorf("timestamp = %v, want %s", text[0]["timestamp"], ts.Format(time.RFC3339))
	}
}

func TestMemoryStoreEvictsOldest(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(3)

	for _, content := range []string{"a", "b", "c", "d", "e"} {
		if _, err := store.Append(ctx, Row{UserID: "u1", Kind: KindUser, Content: content}); err != nil {
			t.Fatalf("Append(%q): %v", content, err)
		}
	}

	rows, err := store.Recent(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("len = %d, want 3", len(rows))
	}
	for i, want := range []string{"c", "d", "e"} {
		if rows[i].Content != want {
			t.Errorf("rows[%d] = %q, want %q", i, rows[i].Content, want)
		}
	}
	// Sequence keeps counting across evictions.
	if rows[2].Sequence != 5 {
		t.Errorf("last sequence = %d, want 5", rows[2].Sequence)
	}
}

func TestMemoryStoreLimitWindow(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(10)
	for _, content := range []string{"a", "b", "c", "d"} {
		if _, err := store.Append(ctx, Row{UserID: "u1", Kind: KindUser, Content: content}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	rows, err := store.Recent(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(rows) != 2 || rows[0].Content != "c" || rows[1].Content != "d" {
		t.Errorf("window = %v, want newest two in order", rows)
	}
}

func TestMemoryStoreUserIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(5)
	store.Append(ctx, Row{UserID: "u1", Kind: KindUser, Content: "one"})
	store.Append(ctx, Row{UserID: "u2", Kind: KindUser, Content: "two"})

	if err := store.Clear(ctx, "u1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if n, _ := store.Count(ctx, "u1"); n != 0 {
		t.Errorf("u1 count = %d, want 0", n)
	}
	if n, _ := store.Count(ctx, "u2"); n != 1 {
		t.Errorf("u2 count = %d, want 1", n)
	}
}

// failingStore errors on every operation.
type failingStore struct{}

var errBackend = errors.New("backend down")

func (failingStore) Append(context.Context, Row) (Row, error)           { return Row{}, errBackend }
func (failingStore) Recent(context.Context, string, int) ([]Row, error) { return nil, errBackend }
func (failingStore) Clear(context.Context, string) error                { return errBackend }
func (failingStore) Count(context.Context, string) (int, error)         { return 0, errBackend }
func (failingStore) Close(context.Context) error                        { return nil }

func TestGuardDegradedMode(t *testing.T) {
	ctx := context.Background()
	guard := NewGuard(failingStore{})

	if _, err := guard.Append(ctx, Row{UserID: "u1", Kind: KindUser, Content: "hi"}); err != nil {
		t.Fatalf("Append through guard should not fail: %v", err)
	}
	rows, err := guard.Recent(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("Recent through guard should not fail: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("degraded Recent = %v, want empty", rows)
	}
	if err := guard.Clear(ctx, "u1"); err != nil {
		t.Fatalf("Clear through guard should not fail: %v", err)
	}
	if !guard.IsDegraded() {
		t.Error("IsDegraded = false after backend failures")
	}
}

func TestGuardRecovers(t *testing.T) {
	ctx := context.Background()
	guard := NewGuard(failingStore{})
	guard.Recent(ctx, "u1", 1)
	if !guard.IsDegraded() {
		t.Fatal("expected degraded after failure")
	}

	healthy := NewGuard(NewMemoryStore(5))
	if _, err := healthy.Append(ctx, Row{UserID: "u1", Kind: KindUser, Content: "hi"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if healthy.IsDegraded() {
		t.Error("healthy guard reports degraded")
	}
}

// ─── Actor tests ────────────────────────────────────────────────────────────

// collector is a reply sink registered alongside the STM actor.
type collector struct {
	id      string
	replies chan actor.Message
}

func newCollector(id string) *collector {
	return &collector{id: id, replies: make(chan actor.Message, 16)}
}

func (c *collector) ID() string { return c.id }

func (c *collector) Receive(_ context.Context, msg actor.Message) error {
	c.replies <- msg
	return nil
}

func (c *collector) next(t *testing.T) actor.Message {
	t.Helper()
	select {
	case msg := <-c.replies:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reply")
		return actor.Message{}
	}
}

func startActorHarness(t *testing.T, cfg config.STMConfig, events actor.EventSink) (*actor.Runtime, *collector) {
	t.Helper()
	rt := actor.NewRuntime(actor.RuntimeConfig{
		MailboxSize: 16,
		MaxRetries:  -1,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
	})
	coll := newCollector("orchestrator")
	stmActor := NewActor(cfg, NewGuard(NewMemoryStore(cfg.BufferSize)), rt, events)
	if err := rt.Register(stmActor); err != nil {
		t.Fatalf("Register(stm): %v", err)
	}
	if err := rt.Register(coll); err != nil {
		t.Fatalf("Register(collector): %v", err)
	}
	rt.Start()
	t.Cleanup(func() { rt.Stop(2 * time.Second) })
	return rt, coll
}

func send(t *testing.T, rt *actor.Runtime, msgType actor.MessageType, payload map[string]any, replyTo string) {
	t.Helper()
	msg := actor.NewMessage(msgType, payload)
	msg.ReplyTo = replyTo
	if err := rt.Send(context.Background(), ActorID, msg); err != nil {
		t.Fatalf("Send(%s): %v", msgType, err)
	}
}

func TestActorStoreAndRetrieve(t *testing.T) {
	store := eventstore.NewMemoryStore(eventstore.MemoryStoreConfig{})
	emitter := eventstore.NewEmitter(store)
	rt, coll := startActorHarness(t, testSTMConfig(), emitter)

	send(t, rt, actor.MsgStoreMemory, map[string]any{
		"user_id":      "u1",
		"message_type": "user",
		"content":      "how are you",
		"request_id":   "req-1",
	}, coll.id)

	reply := coll.next(t)
	if reply.Type != actor.MsgMemoryStored {
		t.Fatalf("reply type = %s, want MemoryStored", reply.Type)
	}
	if got := actor.PayloadString(reply.Payload, "request_id"); got != "req-1" {
		t.Errorf("request_id = %q, want req-1", got)
	}

	send(t, rt, actor.MsgStoreMemory, map[string]any{
		"user_id":      "u1",
		"message_type": "bot",
		"content":      "doing fine",
	}, coll.id)
	coll.next(t)

	send(t, rt, actor.MsgGetContext, map[string]any{
		"user_id":    "u1",
		"request_id": "req-2",
	}, coll.id)

	reply = coll.next(t)
	if reply.Type != actor.MsgContextResponse {
		t.Fatalf("reply type = %s, want ContextResponse", reply.Type)
	}
	if got := actor.PayloadInt(reply.Payload, "total_messages", -1); got != 2 {
		t.Errorf("total_messages = %d, want 2", got)
	}
	messages, _ := reply.Payload["messages"].([]map[string]any)
	if len(messages) != 2 {
		t.Fatalf("messages len = %d, want 2", len(messages))
	}
	if messages[0]["role"] != "user" || messages[1]["role"] != "assistant" {
		t.Errorf("roles = %v, %v; want user, assistant", messages[0]["role"], messages[1]["role"])
	}

	// Stored events landed on the user stream.
	events, err := store.GetStream(context.Background(), eventstore.UserStream("u1"), 0)
	if err != nil {
		t.Fatalf("GetStream: %v", err)
	}
	var stored, retrieved int
	for _, ev := range events {
		switch ev.Type {
		case eventstore.TypeMemoryStored:
			stored++
		case eventstore.TypeContextRetrieved:
			retrieved++
		}
	}
	if stored != 2 || retrieved != 1 {
		t.Errorf("events stored/retrieved = %d/%d, want 2/1", stored, retrieved)
	}
}

func TestActorFormatOverride(t *testing.T) {
	rt, coll := startActorHarness(t, testSTMConfig(), nil)

	send(t, rt, actor.MsgStoreMemory, map[string]any{
		"user_id":      "u1",
		"message_type": "user",
		"content":      "hello",
	}, coll.id)
	coll.next(t)

	send(t, rt, actor.MsgGetContext, map[string]any{
		"user_id": "u1",
		"format":  "text",
	}, coll.id)

	reply := coll.next(t)
	if got := actor.PayloadString(reply.Payload, "format"); got != "text" {
		t.Fatalf("format = %q, want text", got)
	}
	messages, _ := reply.Payload["messages"].([]map[string]any)
	if len(messages) != 1 || messages[0]["type"] != "user" {
		t.Errorf("messages = %v, want one text-format entry", messages)
	}
}

func TestActorClearUserMemory(t *testing.T) {
	rt, coll := startActorHarness(t, testSTMConfig(), nil)

	send(t, rt, actor.MsgStoreMemory, map[string]any{
		"user_id":      "u1",
		"message_type": "user",
		"content":      "remember me",
	}, coll.id)
	coll.next(t)

	send(t, rt, actor.MsgClearUserMemory, map[string]any{"user_id": "u1"}, coll.id)
	if reply := coll.next(t); reply.Type != actor.MsgMemoryCleared {
		t.Fatalf("reply type = %s, want MemoryCleared", reply.Type)
	}

	send(t, rt, actor.MsgGetContext, map[string]any{"user_id": "u1"}, coll.id)
	reply := coll.next(t)
	if got := actor.PayloadInt(reply.Payload, "total_messages", -1); got != 0 {
		t.Errorf("total_messages after clear = %d, want 0", got)
	}
}

func TestActorRejectsMissingUserID(t *testing.T) {
	rt, coll := startActorHarness(t, testSTMConfig(), nil)

	send(t, rt, actor.MsgStoreMemory, map[string]any{
		"message_type": "user",
		"content":      "anonymous",
	}, coll.id)

	reply := coll.next(t)
	if reply.Type != actor.MsgNack {
		t.Fatalf("reply type = %s, want Nack", reply.Type)
	}
}
