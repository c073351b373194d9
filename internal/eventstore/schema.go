package eventstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaVersion is the version this binary writes and requires. A mismatch on
// startup aborts rather than silently reading an incompatible layout.
const schemaVersion = "1"

// ─────────────────────────────────────────────────────────────────────────────
// DDL — hot events, archive partition, metadata
// ─────────────────────────────────────────────────────────────────────────────

const ddlEvents = `
CREATE TABLE IF NOT EXISTS events (
    id              TEXT         PRIMARY KEY,
    stream_id       TEXT         NOT NULL,
    type            TEXT         NOT NULL,
    payload         JSONB        NOT NULL DEFAULT '{}',
    timestamp       TIMESTAMPTZ  NOT NULL DEFAULT now(),
    version         BIGINT       NOT NULL,
    correlation_id  TEXT         NOT NULL DEFAULT '',
    archived        BOOLEAN      NOT NULL DEFAULT false,
    UNIQUE (stream_id, version)
);

CREATE INDEX IF NOT EXISTS idx_events_stream_version
    ON events (stream_id, version)
    WHERE NOT archived;

CREATE INDEX IF NOT EXISTS idx_events_timestamp
    ON events (timestamp)
    WHERE NOT archived;

CREATE INDEX IF NOT EXISTS idx_events_correlation
    ON events (correlation_id)
    WHERE correlation_id <> '';
`

const ddlArchivedEvents = `
CREATE TABLE IF NOT EXISTS archived_events (
    id              TEXT         PRIMARY KEY,
    stream_id       TEXT         NOT NULL,
    type            TEXT         NOT NULL,
    payload_gz      TEXT         NOT NULL,
    timestamp       TIMESTAMPTZ  NOT NULL,
    version         BIGINT       NOT NULL,
    correlation_id  TEXT         NOT NULL DEFAULT '',
    archived_at     TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_archived_events_stream
    ON archived_events (stream_id, version);
`

const ddlMetadata = `
CREATE TABLE IF NOT EXISTS event_store_metadata (
    key    TEXT  PRIMARY KEY,
    value  TEXT  NOT NULL
);
`

// Migrate creates the event store tables if they do not exist and verifies the
// stored schema version. It is idempotent and safe to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlEvents, ddlArchivedEvents, ddlMetadata} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("eventstore migrate: %w", err)
		}
	}
	return checkSchemaVersion(ctx, pool)
}

// checkSchemaVersion records the schema version on first run and aborts when
// an existing database was written by an incompatible version.
func checkSchemaVersion(ctx context.Context, pool *pgxpool.Pool) error {
	var stored string
	err := pool.QueryRow(ctx,
		`SELECT value FROM event_store_metadata WHERE key = 'schema_version'`,
	).Scan(&stored)

	switch {
	case err == nil:
		if stored != schemaVersion {
			return fmt.Errorf("eventstore migrate: schema version %s found, this build requires %s", stored, schemaVersion)
		}
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		_, err = pool.Exec(ctx,
			`INSERT INTO event_store_metadata (key, value) VALUES ('schema_version', $1)
			 ON CONFLICT (key) DO NOTHING`,
			schemaVersion,
		)
		if err != nil {
			return fmt.Errorf("eventstore migrate: record schema version: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("eventstore migrate: read schema version: %w", err)
	}
}
