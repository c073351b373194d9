package partner

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// The update_partner_persona function deactivates the user's current active
// row and inserts the replacement with the next version in one statement
// scope, so readers never observe zero or two active rows.
const ddlPartner = `
CREATE TABLE IF NOT EXISTS partner_personas (
    id                 TEXT              PRIMARY KEY,
    user_id            TEXT              NOT NULL,
    version            INTEGER           NOT NULL,
    playfulness        DOUBLE PRECISION  NOT NULL,
    seriousness        DOUBLE PRECISION  NOT NULL,
    emotionality       DOUBLE PRECISION  NOT NULL,
    creativity         DOUBLE PRECISION  NOT NULL,
    recommended_mode   TEXT              NOT NULL DEFAULT '',
    mode_confidence    DOUBLE PRECISION  NOT NULL DEFAULT 0,
    messages_analyzed  INTEGER           NOT NULL DEFAULT 0,
    is_active          BOOLEAN           NOT NULL DEFAULT true,
    created_at         TIMESTAMPTZ       NOT NULL DEFAULT now(),
    UNIQUE (user_id, version)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_partner_personas_active
    ON partner_personas (user_id) WHERE is_active;

CREATE TABLE IF NOT EXISTS personality_traits_manifestations (
    id          BIGSERIAL    PRIMARY KEY,
    batch_id    TEXT         NOT NULL,
    user_id     TEXT         NOT NULL,
    trait       TEXT         NOT NULL,
    strength    DOUBLE PRECISION NOT NULL,
    mode        TEXT         NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_trait_manifestations_user
    ON personality_traits_manifestations (user_id, created_at DESC);

CREATE OR REPLACE FUNCTION update_partner_persona(
    p_id TEXT,
    p_user_id TEXT,
    p_playfulness DOUBLE PRECISION,
    p_seriousness DOUBLE PRECISION,
    p_emotionality DOUBLE PRECISION,
    p_creativity DOUBLE PRECISION,
    p_recommended_mode TEXT,
    p_mode_confidence DOUBLE PRECISION,
    p_messages_analyzed INTEGER
) RETURNS INTEGER AS $$
DECLARE
    v_version INTEGER;
BEGIN
    UPDATE partner_personas
    SET    is_active = false
    WHERE  user_id = p_user_id AND is_active;

    SELECT COALESCE(MAX(version), 0) + 1 INTO v_version
    FROM   partner_personas
    WHERE  user_id = p_user_id;

    INSERT INTO partner_personas
        (id, user_id, version, playfulness, seriousness, emotionality,
         creativity, recommended_mode, mode_confidence, messages_analyzed,
         is_active)
    VALUES
        (p_id, p_user_id, v_version, p_playfulness, p_seriousness,
         p_emotionality, p_creativity, p_recommended_mode, p_mode_confidence,
         p_messages_analyzed, true);

    RETURN v_version;
END;
$$ LANGUAGE plpgsql;
`

// PostgresStore is the durable [Store] over partner_personas and
// personality_traits_manifestations.
//
// PostgresStore is safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore ensures the partner tables and the versioning function
// exist on pool.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if _, err := pool.Exec(ctx, ddlPartner); err != nil {
		return nil, fmt.Errorf("partner: migrate: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// ActivePersona implements [Store].
func (s *PostgresStore) ActivePersona(ctx context.Context, userID string) (*Persona, error) {
	var p Persona
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, version, playfulness, seriousness, emotionality,
		       creativity, recommended_mode, mode_confidence,
		       messages_analyzed, is_active, created_at
		FROM   partner_personas
		WHERE  user_id = $1 AND is_active`,
		userID,
	).Scan(
		&p.ID, &p.UserID, &p.Version,
		&p.Style[StylePlayfulness], &p.Style[StyleSeriousness],
		&p.Style[StyleEmotionality], &p.Style[StyleCreativity],
		&p.RecommendedMode, &p.ModeConfidence, &p.MessagesAnalyzed,
		&p.IsActive, &p.CreatedAt,
	)
	switch {
	case err == nil:
		return &p, nil
	case errors.Is(err, pgx.ErrNoRows):
		return nil, ErrPersonaNotFound
	default:
		return nil, fmt.Errorf("partner: active persona: %w", err)
	}
}

// SaveVersion implements [Store]. It runs the update_partner_persona
// function inside a transaction so the deactivate-and-insert is atomic.
func (s *PostgresStore) SaveVersion(ctx context.Context, persona Persona) (Persona, error) {
	persona.ID = uuid.NewString()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Persona{}, fmt.Errorf("partner: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`SELECT update_partner_persona($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		persona.ID, persona.UserID,
		persona.Style[StylePlayfulness], persona.Style[StyleSeriousness],
		persona.Style[StyleEmotionality], persona.Style[StyleCreativity],
		persona.RecommendedMode, persona.ModeConfidence, persona.MessagesAnalyzed,
	).Scan(&persona.Version)
	if err != nil {
		return Persona{}, fmt.Errorf("partner: update persona: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Persona{}, fmt.Errorf("partner: commit: %w", err)
	}
	persona.IsActive = true
	return persona, nil
}

// RecordManifestations implements [Store].
func (s *PostgresStore) RecordManifestations(ctx context.Context, batch []Manifestation) error {
	if len(batch) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("partner: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, m := range batch {
		_, err := tx.Exec(ctx, `
			INSERT INTO personality_traits_manifestations
			    (batch_id, user_id, trait, strength, mode, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			m.BatchID, m.UserID, m.Trait, m.Strength, m.Mode, m.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("partner: record manifestation: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("partner: commit: %w", err)
	}
	return nil
}

// Close implements [Store]. The pool is shared and owned by the caller.
func (s *PostgresStore) Close(context.Context) error { return nil }
