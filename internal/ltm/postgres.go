package ltm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

// embeddingDim is the vector column width. Matches the embedding provider's
// output dimension.
const embeddingDim = 384

var ddlLTM = fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS ltm_memories (
    id                  TEXT         PRIMARY KEY,
    user_id             TEXT         NOT NULL,
    user_text           TEXT         NOT NULL,
    bot_text            TEXT         NOT NULL,
    emotional_snapshot  JSONB        NOT NULL,
    dominant_emotions   TEXT[]       NOT NULL DEFAULT '{}',
    importance_score    DOUBLE PRECISION NOT NULL,
    novelty_score       DOUBLE PRECISION NOT NULL,
    memory_type         TEXT         NOT NULL,
    trigger_reason      TEXT         NOT NULL,
    semantic_tags       TEXT[]       NOT NULL DEFAULT '{}',
    embedding           vector(%d),
    created_at          TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_ltm_memories_user_created
    ON ltm_memories (user_id, created_at DESC);

CREATE INDEX IF NOT EXISTS idx_ltm_memories_embedding
    ON ltm_memories USING hnsw (embedding vector_cosine_ops);

CREATE TABLE IF NOT EXISTS ltm_user_profiles (
    user_id     TEXT         PRIMARY KEY,
    stats       JSONB        NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`, embeddingDim)

// PostgresStore is the durable [Store] over the ltm_memories table with a
// pgvector HNSW index for cosine retrieval. The pool must have pgvector
// types registered on each connection.
//
// PostgresStore is safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore ensures the LTM tables exist on pool.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if _, err := pool.Exec(ctx, ddlLTM); err != nil {
		return nil, fmt.Errorf("ltm: migrate: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Save implements [Store].
func (s *PostgresStore) Save(ctx context.Context, m Memory) error {
	snapshot, err := json.Marshal(m.EmotionalSnapshot)
	if err != nil {
		return fmt.Errorf("ltm: marshal snapshot: %w", err)
	}

	var embedding any
	if len(m.Embedding) > 0 {
		embedding = pgvector.NewVector(m.Embedding)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO ltm_memories
		    (id, user_id, user_text, bot_text, emotional_snapshot, dominant_emotions,
		     importance_score, novelty_score, memory_type, trigger_reason,
		     semantic_tags, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		m.ID, m.UserID, m.Fragment.UserText, m.Fragment.BotText, snapshot,
		m.DominantEmotions, m.ImportanceScore, m.NoveltyScore,
		string(m.MemoryType), string(m.TriggerReason), m.SemanticTags,
		embedding, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("ltm: save memory: %w", err)
	}
	return nil
}

const memoryColumns = `id, user_id, user_text, bot_text, emotional_snapshot,
       dominant_emotions, importance_score, novelty_score, memory_type,
       trigger_reason, semantic_tags, embedding, created_at`

// SearchByVector implements [Store]. Results are ordered by ascending cosine
// distance (most similar first); rows without an embedding never match.
func (s *PostgresStore) SearchByVector(ctx context.Context, userID string, query []float32, limit int) ([]Memory, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s, embedding <=> $2 AS distance
		FROM   ltm_memories
		WHERE  user_id = $1
		  AND  embedding IS NOT NULL
		ORDER  BY distance
		LIMIT  $3`, memoryColumns),
		userID, pgvector.NewVector(query), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ltm: vector search: %w", err)
	}
	return collectMemories(rows, true)
}

// SearchRecent implements [Store].
func (s *PostgresStore) SearchRecent(ctx context.Context, userID string, limit int) ([]Memory, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s
		FROM   ltm_memories
		WHERE  user_id = $1
		ORDER  BY created_at DESC
		LIMIT  $2`, memoryColumns),
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ltm: recent search: %w", err)
	}
	return collectMemories(rows, false)
}

// CountForUser implements [Store].
func (s *PostgresStore) CountForUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM ltm_memories WHERE user_id = $1`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("ltm: count: %w", err)
	}
	return n, nil
}

// Close implements [Store]. The pool is shared and owned by the caller.
func (s *PostgresStore) Close(context.Context) error { return nil }

func collectMemories(rows pgx.Rows, withDistance bool) ([]Memory, error) {
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (Memory, error) {
		var (
			m        Memory
			snapshot []byte
			memType  string
			trigger  string
			vec      *pgvector.Vector
			distance float64
		)
		dest := []any{
			&m.ID, &m.UserID, &m.Fragment.UserText, &m.Fragment.BotText,
			&snapshot, &m.DominantEmotions, &m.ImportanceScore,
			&m.NoveltyScore, &memType, &trigger, &m.SemanticTags,
			&vec, &m.CreatedAt,
		}
		if withDistance {
			dest = append(dest, &distance)
		}
		if err := r.Scan(dest...); err != nil {
			return Memory{}, err
		}
		m.MemoryType = MemoryType(memType)
		m.TriggerReason = TriggerReason(trigger)
		if vec != nil {
			m.Embedding = vec.Slice()
		}
		if err := json.Unmarshal(snapshot, &m.EmotionalSnapshot); err != nil {
			return Memory{}, fmt.Errorf("unmarshal snapshot: %w", err)
		}
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("ltm: scan rows: %w", err)
	}
	return out, nil
}

// PostgresProfileStore is the durable [ProfileStore] over ltm_user_profiles.
// The whole profile is stored as one JSONB document; only LTM reads it.
//
// PostgresProfileStore is safe for concurrent use.
type PostgresProfileStore struct {
	pool *pgxpool.Pool
}

// Compile-time interface check.
var _ ProfileStore = (*PostgresProfileStore)(nil)

// NewPostgresProfileStore wraps pool. [NewPostgresStore] must have run the
// migration first.
func NewPostgresProfileStore(pool *pgxpool.Pool) *PostgresProfileStore {
	return &PostgresProfileStore{pool: pool}
}

// Load implements [ProfileStore].
func (s *PostgresProfileStore) Load(ctx context.Context, userID string) (*UserProfile, error) {
	var stats []byte
	err := s.pool.QueryRow(ctx,
		`SELECT stats FROM ltm_user_profiles WHERE user_id = $1`, userID,
	).Scan(&stats)
	switch {
	case err == nil:
	case errors.Is(err, pgx.ErrNoRows):
		return nil, ErrProfileNotFound
	default:
		return nil, fmt.Errorf("ltm: load profile: %w", err)
	}

	var p UserProfile
	if err := json.Unmarshal(stats, &p); err != nil {
		return nil, fmt.Errorf("ltm: unmarshal profile: %w", err)
	}
	return &p, nil
}

// Save implements [ProfileStore].
func (s *PostgresProfileStore) Save(ctx context.Context, p *UserProfile) error {
	stats, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("ltm: marshal profile: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO ltm_user_profiles (user_id, stats, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
		    stats      = EXCLUDED.stats,
		    updated_at = EXCLUDED.updated_at`,
		p.UserID, stats, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ltm: save profile: %w", err)
	}
	return nil
}

// Close implements [ProfileStore]. The pool is shared and owned by the caller.
func (s *PostgresProfileStore) Close(context.Context) error { return nil }
