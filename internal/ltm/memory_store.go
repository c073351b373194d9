package ltm

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is the in-process [Store], used by the memory event-store mode
// and by tests. Vector search is an exact scan; fine at this scale.
//
// MemoryStore is safe for concurrent use.
type MemoryStore struct {
	mu       sync.Mutex
	memories map[string][]Memory
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{memories: make(map[string][]Memory)}
}

// Save implements [Store].
func (s *MemoryStore) Save(_ context.Context, m Memory) error {
	s.mu.Lock()
	s.memories[m.UserID] = append(s.memories[m.UserID], m)
	s.mu.Unlock()
	return nil
}

// SearchByVector implements [Store].
func (s *MemoryStore) SearchByVector(_ context.Context, userID string, query []float32, limit int) ([]Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type scored struct {
		mem  Memory
		dist float64
	}
	candidates := make([]scored, 0, len(s.memories[userID]))
	for _, m := range s.memories[userID] {
		if len(m.Embedding) == 0 || len(m.Embedding) != len(query) {
			continue
		}
		candidates = append(candidates, scored{m, 1 - cosineSimilarity(m.Embedding, query)})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].dist < candidates[j].dist })

	if limit > len(candidates) {
		limit = len(candidates)
	}
	out := make([]Memory, limit)
	for i := 0; i < limit; i++ {
		out[i] = candidates[i].mem
	}
	return out, nil
}

// SearchRecent implements [Store].
func (s *MemoryStore) SearchRecent(_ context.Context, userID string, limit int) ([]Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.memories[userID]
	if limit > len(all) {
		limit = len(all)
	}
	out := make([]Memory, limit)
	for i := 0; i < limit; i++ {
		out[i] = all[len(all)-1-i]
	}
	return out, nil
}

// CountForUser implements [Store].
func (s *MemoryStore) CountForUser(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.memories[userID]), nil
}

// Close implements [Store].
func (s *MemoryStore) Close(context.Context) error { return nil }

// MemoryProfileStore is the in-process [ProfileStore]. Profiles are deep
// copied on both load and save so callers never alias stored state.
//
// MemoryProfileStore is safe for concurrent use.
type MemoryProfileStore struct {
	mu       sync.Mutex
	profiles map[string]*UserProfile
}

// Compile-time interface check.
var _ ProfileStore = (*MemoryProfileStore)(nil)

// NewMemoryProfileStore creates an empty MemoryProfileStore.
func NewMemoryProfileStore() *MemoryProfileStore {
	return &MemoryProfileStore{profiles: make(map[string]*UserProfile)}
}

// Load implements [ProfileStore].
func (s *MemoryProfileStore) Load(_ context.Context, userID string) (*UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, ErrProfileNotFound
	}
	return p.Clone(), nil
}

// Save implements [ProfileStore].
func (s *MemoryProfileStore) Save(_ context.Context, p *UserProfile) error {
	s.mu.Lock()
	s.profiles[p.UserID] = p.Clone()
	s.mu.Unlock()
	return nil
}

// Close implements [ProfileStore].
func (s *MemoryProfileStore) Close(context.Context) error { return nil }
