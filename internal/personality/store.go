package personality

import (
	"context"
	"errors"
	"maps"
	"sync"
	"time"
)

// ErrStateNotFound reports a state load for an unseen user.
var ErrStateNotFound = errors.New("personality: state not found")

// AdaptationRecord is one entry of the resonance adaptation history.
type AdaptationRecord struct {
	UserID      string             `json:"user_id"`
	Before      map[string]float64 `json:"before"`
	After       map[string]float64 `json:"after"`
	Trigger     string             `json:"trigger"`
	Protections []Protection       `json:"protections,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}

// Store persists resonance state and adaptation history, and serves the base
// trait set. Implementations are safe for concurrent use.
type Store interface {
	// LoadState returns the user's resonance state or [ErrStateNotFound].
	LoadState(ctx context.Context, userID string) (*UserState, error)

	// SaveState upserts the state.
	SaveState(ctx context.Context, state *UserState) error

	// RecordAdaptation appends one history entry.
	RecordAdaptation(ctx context.Context, rec AdaptationRecord) error

	// BaseTraits returns the trait set, seeded with [DefaultBaseTraits] on
	// first use.
	BaseTraits(ctx context.Context) ([]BaseTrait, error)

	// Close releases backend resources.
	Close(ctx context.Context) error
}

// MemoryStore is the in-process [Store].
//
// MemoryStore is safe for concurrent use.
type MemoryStore struct {
	mu      sync.Mutex
	states  map[string]*UserState
	history []AdaptationRecord
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]*UserState)}
}

// LoadState implements [Store].
func (s *MemoryStore) LoadState(_ context.Context, userID string) (*UserState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[userID]
	if !ok {
		return nil, ErrStateNotFound
	}
	return cloneState(state), nil
}

// SaveState implements [Store].
func (s *MemoryStore) SaveState(_ context.Context, state *UserState) error {
	s.mu.Lock()
	s.states[state.UserID] = cloneState(state)
	s.mu.Unlock()
	return nil
}

// RecordAdaptation implements [Store].
func (s *MemoryStore) RecordAdaptation(_ context.Context, rec AdaptationRecord) error {
	s.mu.Lock()
	s.history = append(s.history, rec)
	s.mu.Unlock()
	return nil
}

// History returns a copy of all recorded adaptations, for tests.
func (s *MemoryStore) History() []AdaptationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AdaptationRecord, len(s.history))
	copy(out, s.history)
	return out
}

// BaseTraits implements [Store].
func (s *MemoryStore) BaseTraits(context.Context) ([]BaseTrait, error) {
	out := make([]BaseTrait, len(DefaultBaseTraits))
	copy(out, DefaultBaseTraits)
	return out, nil
}

// Close implements [Store].
func (s *MemoryStore) Close(context.Context) error { return nil }

func cloneState(state *UserState) *UserState {
	out := *state
	out.Resonance = maps.Clone(state.Resonance)
	out.SessionStart = maps.Clone(state.SessionStart)
	out.StyleMod = maps.Clone(state.StyleMod)
	out.EmotionMod = maps.Clone(state.EmotionMod)
	return &out
}
