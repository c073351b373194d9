package stm

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Guard wraps a [Store] and makes all operations non-fatal. When the backing
// store fails, reads return empty results and writes are acknowledged without
// persisting, so the conversation keeps flowing while the backend recovers.
// IsDegraded reports whether the most recent operation failed.
//
// Guard implements [Store] and is safe for concurrent use.
type Guard struct {
	store    Store
	degraded atomic.Bool
}

// Compile-time interface check.
var _ Store = (*Guard)(nil)

// NewGuard creates a Guard wrapping store.
func NewGuard(store Store) *Guard {
	return &Guard{store: store}
}

// Append implements [Store]. On failure the row is dropped and the store
// marked degraded; the caller still receives success.
func (g *Guard) Append(ctx context.Context, row Row) (Row, error) {
	stored, err := g.store.Append(ctx, row)
	if err != nil {
		g.degraded.Store(true)
		slog.Warn("stm guard: append failed, dropping row",
			"user_id", row.UserID,
			"error", err,
		)
		return row, nil
	}
	g.degraded.Store(false)
	return stored, nil
}

// Recent implements [Store]. On failure an empty context is returned.
func (g *Guard) Recent(ctx context.Context, userID string, limit int) ([]Row, error) {
	rows, err := g.store.Recent(ctx, userID, limit)
	if err != nil {
		g.degraded.Store(true)
		slog.Warn("stm guard: recent failed, returning empty",
			"user_id", userID,
			"error", err,
		)
		return []Row{}, nil
	}
	g.degraded.Store(false)
	return rows, nil
}

// Clear implements [Store].
func (g *Guard) Clear(ctx context.Context, userID string) error {
	if err := g.store.Clear(ctx, userID); err != nil {
		g.degraded.Store(true)
		slog.Warn("stm guard: clear failed", "user_id", userID, "error", err)
		return nil
	}
	g.degraded.Store(false)
	return nil
}

// Count implements [Store]. On failure 0 is returned.
func (g *Guard) Count(ctx context.Context, userID string) (int, error) {
	n, err := g.store.Count(ctx, userID)
	if err != nil {
		g.degraded.Store(true)
		slog.Warn("stm guard: count failed, returning 0", "user_id", userID, "error", err)
		return 0, nil
	}
	g.degraded.Store(false)
	return n, nil
}

// Close implements [Store].
func (g *Guard) Close(ctx context.Context) error {
	return g.store.Close(ctx)
}

// IsDegraded reports whether the store is currently operating in degraded
// mode.
func (g *Guard) IsDegraded() bool {
	return g.degraded.Load()
}
