package eventstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func newTestStore() *MemoryStore {
	return NewMemoryStore(MemoryStoreConfig{StreamCacheSize: 8})
}

func appendN(t *testing.T, s *MemoryStore, streamID string, n int) []Event {
	t.Helper()
	ctx := context.Background()
	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		ev := New(streamID, TypeSessionCreated, map[string]any{"seq": i})
		ev.Version = int64(i)
		ev.Timestamp = time.Date(2026, 1, 1, 0, 0, i, 0, time.UTC)
		if err := s.Append(ctx, ev); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		out = append(out, ev)
	}
	return out
}

func TestMemoryStore_AppendAssignsDenseVersions(t *testing.T) {
	s := newTestStore()
	appendN(t, s, "user_1", 5)

	events, err := s.GetStream(context.Background(), "user_1", 0)
	if err != nil {
		t.Fatalf("GetStream: %v", err)
	}
	if len(events) != 5 {
		t.Fatalf("len = %d, want 5", len(events))
	}
	for i, ev := range events {
		if ev.Version != int64(i) {
			t.Errorf("events[%d].Version = %d, want %d", i, ev.Version, i)
		}
	}
}

func TestMemoryStore_AppendWrongVersionConflicts(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	appendN(t, s, "user_1", 2)

	ev := New("user_1", TypeModeDetected, nil)
	for _, version := range []int64{0, 1, 3, 10} {
		ev.Version = version
		if err := s.Append(ctx, ev); !errors.Is(err, ErrVersionConflict) {
			t.Errorf("version %d: err = %v, want ErrVersionConflict", version, err)
		}
	}

	// Nothing was written by the rejected appends.
	events, _ := s.GetStream(ctx, "user_1", 0)
	if len(events) != 2 {
		t.Fatalf("len = %d after conflicts, want 2", len(events))
	}
}

func TestMemoryStore_GetStreamFromVersion(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	appendN(t, s, "user_1", 5)

	tests := []struct {
		from int64
		want int
	}{
		{from: 0, want: 5},
		{from: 3, want: 2},
		{from: 5, want: 0},
		{from: 99, want: 0},
	}
	for _, tc := range tests {
		events, err := s.GetStream(ctx, "user_1", tc.from)
		if err != nil {
			t.Fatalf("GetStream(from=%d): %v", tc.from, err)
		}
		if len(events) != tc.want {
			t.Errorf("GetStream(from=%d) len = %d, want %d", tc.from, len(events), tc.want)
		}
	}
}

func TestMemoryStore_GetStreamUnknown(t *testing.T) {
	s := newTestStore()
	if _, err := s.GetStream(context.Background(), "user_missing", 0); !errors.Is(err, ErrStreamNotFound) {
		t.Fatalf("err = %v, want ErrStreamNotFound", err)
	}
}

func TestMemoryStore_CacheInvalidatedOnAppend(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	appendN(t, s, "user_1", 3)

	// Prime the cache.
	if _, err := s.GetStream(ctx, "user_1", 0); err != nil {
		t.Fatalf("GetStream: %v", err)
	}
	if _, ok := s.cache.get("user_1"); !ok {
		t.Fatal("expected cache entry after full read")
	}

	ev := New("user_1", TypeModeDetected, nil)
	ev.Version = 3
	if err := s.Append(ctx, ev); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, ok := s.cache.get("user_1"); ok {
		t.Fatal("cache entry survived an append")
	}

	// A fresh read sees the new event.
	events, _ := s.GetStream(ctx, "user_1", 0)
	if len(events) != 4 {
		t.Fatalf("len = %d after append, want 4", len(events))
	}
}

func TestMemoryStore_GetEventsAfter(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	appendN(t, s, "user_1", 5) // timestamps at seconds 0..4

	cutoff := time.Date(2026, 1, 1, 0, 0, 2, 0, time.UTC)
	events, err := s.GetEventsAfter(ctx, cutoff)
	if err != nil {
		t.Fatalf("GetEventsAfter: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len = %d, want 2", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].Timestamp.Before(events[i-1].Timestamp) {
			t.Fatal("events not in ascending timestamp order")
		}
	}
}

func TestMemoryStore_GetEventsAfterTypeFilter(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	for i, typ := range []string{TypeSessionCreated, TypeModeDetected, TypeSessionCreated} {
		ev := New("user_1", typ, nil)
		ev.Version = int64(i)
		ev.Timestamp = time.Date(2026, 1, 1, 0, 0, i, 0, time.UTC)
		if err := s.Append(ctx, ev); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	events, err := s.GetEventsAfter(ctx, time.Time{}, TypeModeDetected)
	if err != nil {
		t.Fatalf("GetEventsAfter: %v", err)
	}
	if len(events) != 1 || events[0].Type != TypeModeDetected {
		t.Fatalf("got %v, want one ModeDetectedEvent", events)
	}
}

func TestMemoryStore_GetLastEvent(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	if _, err := s.GetLastEvent(ctx, "user_1"); !errors.Is(err, ErrStreamNotFound) {
		t.Fatalf("empty stream: err = %v, want ErrStreamNotFound", err)
	}

	appendN(t, s, "user_1", 3)
	last, err := s.GetLastEvent(ctx, "user_1")
	if err != nil {
		t.Fatalf("GetLastEvent: %v", err)
	}
	if last.Version != 2 {
		t.Fatalf("last.Version = %d, want 2", last.Version)
	}
}

func TestMemoryStore_StreamExists(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	ok, err := s.StreamExists(ctx, "user_1")
	if err != nil || ok {
		t.Fatalf("StreamExists before append = %v, %v", ok, err)
	}
	appendN(t, s, "user_1", 1)
	ok, err = s.StreamExists(ctx, "user_1")
	if err != nil || !ok {
		t.Fatalf("StreamExists after append = %v, %v", ok, err)
	}
}

func TestMemoryStore_EvictsColdestStreams(t *testing.T) {
	s := NewMemoryStore(MemoryStoreConfig{StreamCacheSize: 8, MaxEvents: 10})
	ctx := context.Background()

	// Three streams of 4 events each; user_cold has the oldest last-activity.
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for si, streamID := range []string{"user_cold", "user_warm", "user_hot"} {
		for i := 0; i < 4; i++ {
			ev := New(streamID, TypeSessionCreated, nil)
			ev.Version = int64(i)
			ev.Timestamp = base.Add(time.Duration(si*100+i) * time.Second)
			if err := s.Append(ctx, ev); err != nil {
				t.Fatalf("append %s/%d: %v", streamID, i, err)
			}
		}
	}

	if s.TotalEvents() > 10 {
		t.Fatalf("TotalEvents = %d, want <= 10", s.TotalEvents())
	}
	if _, err := s.GetStream(ctx, "user_cold", 0); !errors.Is(err, ErrStreamNotFound) {
		t.Fatalf("coldest stream survived eviction: err = %v", err)
	}
	for _, streamID := range []string{"user_warm", "user_hot"} {
		if _, err := s.GetStream(ctx, streamID, 0); err != nil {
			t.Fatalf("warm stream %s lost: %v", streamID, err)
		}
	}

	// The timestamp index was rebuilt without the evicted stream.
	events, err := s.GetEventsAfter(ctx, time.Time{})
	if err != nil {
		t.Fatalf("GetEventsAfter: %v", err)
	}
	for _, ev := range events {
		if ev.StreamID == "user_cold" {
			t.Fatal("evicted event still in timestamp index")
		}
	}
}

func TestMemoryStore_ClosedStoreRejectsOperations(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	appendN(t, s, "user_1", 1)
	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	ev := New("user_1", TypeModeDetected, nil)
	ev.Version = 1
	if err := s.Append(ctx, ev); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("Append after close: err = %v", err)
	}
	if _, err := s.GetStream(ctx, "user_1", 0); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("GetStream after close: err = %v", err)
	}
	if _, err := s.GetLastEvent(ctx, "user_1"); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("GetLastEvent after close: err = %v", err)
	}
}

func TestEmitter_AssignsSequentialVersions(t *testing.T) {
	s := newTestStore()
	emitter := NewEmitter(s)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ev, err := emitter.Emit(ctx, "user_1", TypeSessionCreated, map[string]any{"seq": i})
		if err != nil {
			t.Fatalf("Emit %d: %v", i, err)
		}
		if ev.Version != int64(i) {
			t.Fatalf("emit %d got version %d", i, ev.Version)
		}
	}
}

func TestEmitter_RetriesOnConflict(t *testing.T) {
	s := newTestStore()
	emitter := NewEmitter(&conflictOnce{Store: s})
	ctx := context.Background()

	ev, err := emitter.Emit(ctx, "user_1", TypeSessionCreated, nil)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if ev.Version != 0 {
		t.Fatalf("Version = %d, want 0", ev.Version)
	}
}

func TestEmitter_CorrelationIDPropagated(t *testing.T) {
	s := newTestStore()
	emitter := NewEmitter(s)

	ev, err := emitter.EmitCorrelated(context.Background(), "user_1", TypeModeDetected, nil, "corr-7")
	if err != nil {
		t.Fatalf("EmitCorrelated: %v", err)
	}
	if ev.CorrelationID != "corr-7" {
		t.Fatalf("CorrelationID = %q", ev.CorrelationID)
	}
}

// conflictOnce wraps a store and fails the first append with a version
// conflict, exercising the emitter's retry loop.
type conflictOnce struct {
	Store
	tripped bool
}

func (c *conflictOnce) Append(ctx context.Context, ev Event) error {
	if !c.tripped {
		c.tripped = true
		return fmt.Errorf("injected: %w", ErrVersionConflict)
	}
	return c.Store.Append(ctx, ev)
}
