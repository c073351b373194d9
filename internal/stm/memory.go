package stm

import (
	"context"
	"sync"
)

// MemoryStore is the in-process [Store], a per-user ring of the newest rows.
//
// MemoryStore is safe for concurrent use.
type MemoryStore struct {
	bufferSize int

	mu   sync.Mutex
	rows map[string][]Row
	seq  map[string]int64
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a MemoryStore retaining bufferSize rows per user.
func NewMemoryStore(bufferSize int) *MemoryStore {
	if bufferSize <= 0 {
		bufferSize = 50
	}
	return &MemoryStore{
		bufferSize: bufferSize,
		rows:       make(map[string][]Row),
		seq:        make(map[string]int64),
	}
}

// Append implements [Store].
func (s *MemoryStore) Append(_ context.Context, row Row) (Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq[row.UserID]++
	row.Sequence = s.seq[row.UserID]

	buf := append(s.rows[row.UserID], row)
	if overflow := len(buf) - s.bufferSize; overflow > 0 {
		buf = append([]Row(nil), buf[overflow:]...)
	}
	s.rows[row.UserID] = buf
	return row, nil
}

// Recent implements [Store].
func (s *MemoryStore) Recent(_ context.Context, userID string, limit int) ([]Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := s.rows[userID]
	if limit <= 0 || limit > len(buf) {
		limit = len(buf)
	}
	out := make([]Row, limit)
	copy(out, buf[len(buf)-limit:])
	return out, nil
}

// Clear implements [Store].
func (s *MemoryStore) Clear(_ context.Context, userID string) error {
	s.mu.Lock()
	delete(s.rows, userID)
	s.mu.Unlock()
	return nil
}

// Count implements [Store].
func (s *MemoryStore) Count(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows[userID]), nil
}

// Close implements [Store].
func (s *MemoryStore) Close(context.Context) error { return nil }
