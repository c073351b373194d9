package eventstore

import (
	"context"
	"os"
	"testing"

	pgvector "github.com/pgvector/pgvector-go"
)

func TestSelectStreamsKeepsOnlyFailedStreams(t *testing.T) {
	batch := []Event{
		{ID: "a0", StreamID: "user_a", Version: 0},
		{ID: "b0", StreamID: "user_b", Version: 0},
		{ID: "a1", StreamID: "user_a", Version: 1},
		{ID: "c0", StreamID: "user_c", Version: 0},
	}

	// user_a committed; a retry must not contain its rows or the unique
	// (stream_id, version) constraint turns every later flush into a
	// conflict.
	retry := selectStreams(batch, map[string]bool{"user_b": true, "user_c": true})

	if len(retry) != 2 {
		t.Fatalf("retry holds %d events, want 2", len(retry))
	}
	if retry[0].ID != "b0" || retry[1].ID != "c0" {
		t.Fatalf("retry = [%s %s], want [b0 c0]", retry[0].ID, retry[1].ID)
	}
	for _, ev := range retry {
		if ev.StreamID == "user_a" {
			t.Fatalf("committed stream user_a re-queued: %+v", ev)
		}
	}
}

// TestPostgresPoolScansVectors needs a running PostgreSQL with the pgvector
// extension; it is skipped if SOLACE_TEST_POSTGRES_DSN is not set.
//
// The pool is shared with the long-term memory stores, which scan vector
// columns into pgvector.Vector. That only works when the types are registered
// on every connection.
func TestPostgresPoolScansVectors(t *testing.T) {
	dsn := os.Getenv("SOLACE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SOLACE_TEST_POSTGRES_DSN not set; skipping PostgreSQL integration test")
	}
	ctx := context.Background()

	s, err := NewPostgresStore(ctx, dsn, PostgresStoreConfig{})
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(ctx) })

	var v pgvector.Vector
	if err := s.Pool().QueryRow(ctx, "SELECT '[1,2,3]'::vector").Scan(&v); err != nil {
		t.Fatalf("scan vector through shared pool: %v", err)
	}
	if got := v.Slice(); len(got) != 3 || got[0] != 1 {
		t.Fatalf("vector round trip = %v, want [1 2 3]", got)
	}
}

func TestSelectStreamsPreservesOrder(t *testing.T) {
	batch := []Event{
		{ID: "b0", StreamID: "user_b", Version: 0},
		{ID: "b1", StreamID: "user_b", Version: 1},
		{ID: "b2", StreamID: "user_b", Version: 2},
	}

	retry := selectStreams(batch, map[string]bool{"user_b": true})
	for i, ev := range retry {
		if ev.Version != int64(i) {
			t.Fatalf("retry[%d].Version = %d, want %d", i, ev.Version, i)
		}
	}
}
