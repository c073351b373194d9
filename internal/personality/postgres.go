package personality

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlPersonality = `
CREATE TABLE IF NOT EXISTS personality_base_traits (
    name        TEXT              PRIMARY KEY,
    base_value  DOUBLE PRECISION  NOT NULL,
    is_core     BOOLEAN           NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS user_personality_resonance (
    user_id     TEXT         PRIMARY KEY,
    state       JSONB        NOT NULL,
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS resonance_adaptation_history (
    id           BIGSERIAL    PRIMARY KEY,
    user_id      TEXT         NOT NULL,
    before       JSONB        NOT NULL,
    after        JSONB        NOT NULL,
    trigger      TEXT         NOT NULL DEFAULT '',
    protections  TEXT[]       NOT NULL DEFAULT '{}',
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_resonance_history_user
    ON resonance_adaptation_history (user_id, created_at DESC);
`

// PostgresStore is the durable [Store]. Base traits are seeded from
// [DefaultBaseTraits] on first migration; existing rows win so operators can
// tune values in place.
//
// PostgresStore is safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore ensures the personality tables exist on pool and seeds
// the base trait set.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if _, err := pool.Exec(ctx, ddlPersonality); err != nil {
		return nil, fmt.Errorf("personality: migrate: %w", err)
	}
	for _, trait := range DefaultBaseTraits {
		_, err := pool.Exec(ctx, `
			INSERT INTO personality_base_traits (name, base_value, is_core)
			VALUES ($1, $2, $3)
			ON CONFLICT (name) DO NOTHING`,
			trait.Name, trait.BaseValue, trait.Core,
		)
		if err != nil {
			return nil, fmt.Errorf("personality: seed traits: %w", err)
		}
	}
	return &PostgresStore{pool: pool}, nil
}

// LoadState implements [Store].
func (s *PostgresStore) LoadState(ctx context.Context, userID string) (*UserState, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT state FROM user_personality_resonance WHERE user_id = $1`, userID,
	).Scan(&raw)
	switch {
	case err == nil:
	case errors.Is(err, pgx.ErrNoRows):
		return nil, ErrStateNotFound
	default:
		return nil, fmt.Errorf("personality: load state: %w", err)
	}

	var state UserState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("personality: unmarshal state: %w", err)
	}
	return &state, nil
}

// SaveState implements [Store].
func (s *PostgresStore) SaveState(ctx context.Context, state *UserState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("personality: marshal state: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO user_personality_resonance (user_id, state, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE SET
		    state      = EXCLUDED.state,
		    updated_at = now()`,
		state.UserID, raw,
	)
	if err != nil {
		return fmt.Errorf("personality: save state: %w", err)
	}
	return nil
}

// RecordAdaptation implements [Store].
func (s *PostgresStore) RecordAdaptation(ctx context.Context, rec AdaptationRecord) error {
	before, err := json.Marshal(rec.Before)
	if err != nil {
		return fmt.Errorf("personality: marshal before: %w", err)
	}
	after, err := json.Marshal(rec.After)
	if err != nil {
		return fmt.Errorf("personality: marshal after: %w", err)
	}
	protections := make([]string, len(rec.Protections))
	for i, p := range rec.Protections {
		protections[i] = string(p)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO resonance_adaptation_history
		    (user_id, before, after, trigger, protections, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.UserID, before, after, rec.Trigger, protections, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("personality: record adaptation: %w", err)
	}
	return nil
}

// BaseTraits implements [Store].
func (s *PostgresStore) BaseTraits(ctx context.Context) ([]BaseTrait, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name, base_value, is_core FROM personality_base_traits ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("personality: base traits: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (BaseTrait, error) {
		var t BaseTrait
		err := r.Scan(&t.Name, &t.BaseValue, &t.Core)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("personality: scan traits: %w", err)
	}
	return out, nil
}

// Close implements [Store]. The pool is shared and owned by the caller.
func (s *PostgresStore) Close(context.Context) error { return nil }
