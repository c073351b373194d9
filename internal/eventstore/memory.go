package eventstore

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/MrWong99/solace/internal/observe"
)

// MemoryStoreConfig holds tuning knobs for a [MemoryStore].
type MemoryStoreConfig struct {
	// StreamCacheSize is the LRU capacity for full-stream snapshots.
	// Default: 128.
	StreamCacheSize int

	// MaxEvents caps the total number of retained events. When exceeded,
	// whole streams are evicted coldest-first until the count is below the
	// cap. Zero disables the cap.
	MaxEvents int

	// Metrics receives conflict and storage metrics. May be nil.
	Metrics *observe.Metrics
}

// MemoryStore is the in-process [Store] implementation: per-stream
// mutual exclusion, an LRU snapshot cache, a sorted timestamp index, and a
// bounded total footprint with coldest-stream eviction.
//
// MemoryStore is safe for concurrent use.
type MemoryStore struct {
	cfg MemoryStoreConfig

	mu      sync.Mutex
	closed  bool
	streams map[string][]Event
	cache   *streamCache
	// byTime is every retained event ordered by ascending timestamp.
	// Rebuilt in full only on eviction; appends insert in place.
	byTime []Event
	total  int
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a MemoryStore with the supplied configuration.
func NewMemoryStore(cfg MemoryStoreConfig) *MemoryStore {
	if cfg.StreamCacheSize <= 0 {
		cfg.StreamCacheSize = 128
	}
	return &MemoryStore{
		cfg:     cfg,
		streams: make(map[string][]Event),
		cache:   newStreamCache(cfg.StreamCacheSize),
	}
}

// Append implements [Store]. The expected version carried by ev must be the
// stream's next free version.
func (s *MemoryStore) Append(ctx context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	stream := s.streams[ev.StreamID]
	next := int64(len(stream))
	if ev.Version != next {
		s.cfg.Metrics.RecordVersionConflict(ctx)
		return fmt.Errorf("%w: stream %s expected %d got %d",
			ErrVersionConflict, ev.StreamID, next, ev.Version)
	}

	s.streams[ev.StreamID] = append(stream, ev)
	s.insertByTime(ev)
	s.total++
	s.cache.invalidate(ev.StreamID)

	if s.cfg.MaxEvents > 0 && s.total > s.cfg.MaxEvents {
		s.evictColdest(ctx)
	}
	return nil
}

// GetStream implements [Store]. Full-stream reads are served from the LRU
// cache when possible.
func (s *MemoryStore) GetStream(_ context.Context, streamID string, fromVersion int64) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	if fromVersion == 0 {
		if cached, ok := s.cache.get(streamID); ok {
			return slices.Clone(cached), nil
		}
	}

	stream, ok := s.streams[streamID]
	if !ok {
		return nil, ErrStreamNotFound
	}

	if fromVersion == 0 {
		snapshot := slices.Clone(stream)
		s.cache.put(streamID, snapshot)
		return slices.Clone(snapshot), nil
	}
	if fromVersion >= int64(len(stream)) {
		return []Event{}, nil
	}
	return slices.Clone(stream[fromVersion:]), nil
}

// GetEventsAfter implements [Store] via binary search on the timestamp index.
func (s *MemoryStore) GetEventsAfter(_ context.Context, ts time.Time, types ...string) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	// First index with Timestamp > ts.
	start := sort.Search(len(s.byTime), func(i int) bool {
		return s.byTime[i].Timestamp.After(ts)
	})

	out := make([]Event, 0, len(s.byTime)-start)
	for _, ev := range s.byTime[start:] {
		if len(types) > 0 && !slices.Contains(types, ev.Type) {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// GetLastEvent implements [Store].
func (s *MemoryStore) GetLastEvent(_ context.Context, streamID string) (*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	stream, ok := s.streams[streamID]
	if !ok || len(stream) == 0 {
		return nil, ErrStreamNotFound
	}
	last := stream[len(stream)-1]
	return &last, nil
}

// StreamExists implements [Store].
func (s *MemoryStore) StreamExists(_ context.Context, streamID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrStoreClosed
	}
	return len(s.streams[streamID]) > 0, nil
}

// Close implements [Store].
func (s *MemoryStore) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// TotalEvents returns the number of retained events.
func (s *MemoryStore) TotalEvents() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// insertByTime inserts ev into the timestamp index preserving order.
// Must hold s.mu.
func (s *MemoryStore) insertByTime(ev Event) {
	idx := sort.Search(len(s.byTime), func(i int) bool {
		return s.byTime[i].Timestamp.After(ev.Timestamp)
	})
	s.byTime = slices.Insert(s.byTime, idx, ev)
}

// evictColdest removes whole streams, coldest first (by their most recent
// event's timestamp), until total is within the cap; then rebuilds the
// timestamp index and clears the cache. Must hold s.mu.
func (s *MemoryStore) evictColdest(ctx context.Context) {
	type coldness struct {
		streamID string
		latest   time.Time
	}
	ranked := make([]coldness, 0, len(s.streams))
	for id, evs := range s.streams {
		ranked = append(ranked, coldness{streamID: id, latest: evs[len(evs)-1].Timestamp})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].latest.Before(ranked[j].latest) })

	evicted := 0
	for _, c := range ranked {
		if s.total <= s.cfg.MaxEvents {
			break
		}
		s.total -= len(s.streams[c.streamID])
		delete(s.streams, c.streamID)
		evicted++
	}

	// Rebuild the timestamp index from the surviving streams.
	s.byTime = s.byTime[:0]
	for _, evs := range s.streams {
		s.byTime = append(s.byTime, evs...)
	}
	sort.Slice(s.byTime, func(i, j int) bool { return s.byTime[i].Timestamp.Before(s.byTime[j].Timestamp) })
	s.cache.clear()

	slog.Warn("memory event store evicted cold streams",
		"evicted_streams", evicted,
		"remaining_events", s.total,
		"max_events", s.cfg.MaxEvents,
	)
	if s.cfg.Metrics != nil && s.cfg.Metrics.BufferOverflows != nil {
		s.cfg.Metrics.BufferOverflows.Add(ctx, 1)
	}
}
