package partner

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is the in-process [Store].
//
// MemoryStore is safe for concurrent use.
type MemoryStore struct {
	mu             sync.Mutex
	active         map[string]Persona
	versions       map[string]int
	manifestations []Manifestation
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		active:   make(map[string]Persona),
		versions: make(map[string]int),
	}
}

// ActivePersona implements [Store].
func (s *MemoryStore) ActivePersona(_ context.Context, userID string) (*Persona, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.active[userID]
	if !ok {
		return nil, ErrPersonaNotFound
	}
	return &p, nil
}

// SaveVersion implements [Store].
func (s *MemoryStore) SaveVersion(_ context.Context, persona Persona) (Persona, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.versions[persona.UserID]++
	persona.ID = uuid.NewString()
	persona.Version = s.versions[persona.UserID]
	persona.IsActive = true
	s.active[persona.UserID] = persona
	return persona, nil
}

// RecordManifestations implements [Store].
func (s *MemoryStore) RecordManifestations(_ context.Context, batch []Manifestation) error {
	s.mu.Lock()
	s.manifestations = append(s.manifestations, batch...)
	s.mu.Unlock()
	return nil
}

// Manifestations returns a copy of all recorded manifestations, for tests.
func (s *MemoryStore) Manifestations() []Manifestation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Manifestation, len(s.manifestations))
	copy(out, s.manifestations)
	return out
}

// Close implements [Store].
func (s *MemoryStore) Close(context.Context) error { return nil }
