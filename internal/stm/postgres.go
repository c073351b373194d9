package stm

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlSTMBuffer = `
CREATE TABLE IF NOT EXISTS stm_buffer (
    user_id          TEXT         NOT NULL,
    message_type     TEXT         NOT NULL,
    content          TEXT         NOT NULL,
    metadata         JSONB        NOT NULL DEFAULT '{}',
    sequence_number  BIGSERIAL    PRIMARY KEY,
    timestamp        TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_stm_buffer_user_seq
    ON stm_buffer (user_id, sequence_number DESC);
`

// PostgresStore is the durable [Store] backed by the stm_buffer table.
// Eviction runs inside the append transaction so the per-user cap holds even
// under concurrent writers.
//
// PostgresStore is safe for concurrent use.
type PostgresStore struct {
	pool       *pgxpool.Pool
	bufferSize int
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore ensures the stm_buffer table exists on pool.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool, bufferSize int) (*PostgresStore, error) {
	if bufferSize <= 0 {
		bufferSize = 50
	}
	if _, err := pool.Exec(ctx, ddlSTMBuffer); err != nil {
		return nil, fmt.Errorf("stm: migrate: %w", err)
	}
	return &PostgresStore{pool: pool, bufferSize: bufferSize}, nil
}

// Append implements [Store].
func (s *PostgresStore) Append(ctx context.Context, row Row) (Row, error) {
	metadata, err := json.Marshal(row.Metadata)
	if err != nil {
		return Row{}, fmt.Errorf("stm: marshal metadata: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Row{}, fmt.Errorf("stm: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO stm_buffer (user_id, message_type, content, metadata, timestamp)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING sequence_number`,
		row.UserID, string(row.Kind), row.Content, metadata, row.Timestamp,
	).Scan(&row.Sequence)
	if err != nil {
		return Row{}, fmt.Errorf("stm: insert: %w", err)
	}

	// Evict rows beyond the buffer, oldest first.
	_, err = tx.Exec(ctx, `
		DELETE FROM stm_buffer
		WHERE  user_id = $1
		  AND  sequence_number NOT IN (
		           SELECT sequence_number FROM stm_buffer
		           WHERE  user_id = $1
		           ORDER  BY sequence_number DESC
		           LIMIT  $2)`,
		row.UserID, s.bufferSize,
	)
	if err != nil {
		return Row{}, fmt.Errorf("stm: evict: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Row{}, fmt.Errorf("stm: commit: %w", err)
	}
	return row, nil
}

// Recent implements [Store]. Rows are fetched newest-first and reversed so
// callers see chronological order.
func (s *PostgresStore) Recent(ctx context.Context, userID string, limit int) ([]Row, error) {
	if limit <= 0 || limit > s.bufferSize {
		limit = s.bufferSize
	}

	rows, err := s.pool.Query(ctx, `
		SELECT user_id, message_type, content, metadata, sequence_number, timestamp
		FROM   stm_buffer
		WHERE  user_id = $1
		ORDER  BY sequence_number DESC
		LIMIT  $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("stm: recent: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (Row, error) {
		var (
			row      Row
			kind     string
			metadata []byte
		)
		if err := r.Scan(&row.UserID, &kind, &row.Content, &metadata, &row.Sequence, &row.Timestamp); err != nil {
			return Row{}, err
		}
		row.Kind = MessageKind(kind)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &row.Metadata); err != nil {
				return Row{}, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		return row, nil
	})
	if err != nil {
		return nil, fmt.Errorf("stm: scan rows: %w", err)
	}

	slices.Reverse(out)
	return out, nil
}

// Clear implements [Store].
func (s *PostgresStore) Clear(ctx context.Context, userID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM stm_buffer WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("stm: clear: %w", err)
	}
	return nil
}

// Count implements [Store].
func (s *PostgresStore) Count(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM stm_buffer WHERE user_id = $1`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("stm: count: %w", err)
	}
	return n, nil
}

// Close implements [Store]. The pool is shared and owned by the caller.
func (s *PostgresStore) Close(context.Context) error { return nil }
