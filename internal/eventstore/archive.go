package eventstore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/klauspost/compress/gzip"
	"github.com/robfig/cron/v3"
)

// archiveRetryDelay is how long a failed run waits before retrying, well
// before the next scheduled run.
const archiveRetryDelay = time.Hour

// ArchiverConfig holds tuning knobs for an [Archiver].
type ArchiverConfig struct {
	// Schedule is a cron expression for archival runs. Default: "0 3 * * *"
	// (daily at 03:00).
	Schedule string

	// Retention is the age past which events become archival candidates.
	// Default: 30 days.
	Retention time.Duration

	// BatchLimit caps the number of events processed per run. Default: 5000.
	BatchLimit int

	// CompressionLevel is the gzip level for archived payloads, 1 (fastest)
	// to 9 (smallest). Default: gzip.DefaultCompression.
	CompressionLevel int

	// DryRun reports what a run would archive without mutating anything.
	DryRun bool
}

func (c *ArchiverConfig) applyDefaults() {
	if c.Schedule == "" {
		c.Schedule = "0 3 * * *"
	}
	if c.Retention <= 0 {
		c.Retention = 30 * 24 * time.Hour
	}
	if c.BatchLimit <= 0 {
		c.BatchLimit = 5000
	}
	if c.CompressionLevel < gzip.HuffmanOnly || c.CompressionLevel > gzip.BestCompression || c.CompressionLevel == 0 {
		c.CompressionLevel = gzip.DefaultCompression
	}
}

// ArchiveStats summarizes one archival run.
type ArchiveStats struct {
	// Candidates is how many events were old enough to archive.
	Candidates int
	// Copied is how many compressed copies were written (idempotent inserts
	// skip events already copied by an earlier interrupted run).
	Copied int
	// Deleted is how many hot rows were removed. Events sharing a
	// correlation id with a still-unarchived event are kept.
	Deleted int
	// DryRun reports whether the run mutated anything.
	DryRun bool
}

// Archiver moves events older than the retention window from the hot events
// table into archived_events, gzip-compressing payloads. Runs are scheduled
// via cron; a failed run retries after an hour.
//
// Runs are idempotent: an interrupted run leaves events marked archived with
// their compressed copy in place, and the next run finishes the deletion.
type Archiver struct {
	pool    *pgxpool.Pool
	emitter *Emitter
	cfg     ArchiverConfig

	cron *cron.Cron

	mu    sync.Mutex
	retry *time.Timer
}

// NewArchiver creates an Archiver over the store's pool. emitter receives the
// run-completed events and may be nil.
func NewArchiver(pool *pgxpool.Pool, emitter *Emitter, cfg ArchiverConfig) *Archiver {
	cfg.applyDefaults()
	return &Archiver{
		pool:    pool,
		emitter: emitter,
		cfg:     cfg,
		cron:    cron.New(),
	}
}

// Start schedules archival runs. It returns an error only when the cron
// expression is invalid.
func (a *Archiver) Start() error {
	_, err := a.cron.AddFunc(a.cfg.Schedule, a.scheduledRun)
	if err != nil {
		return fmt.Errorf("eventstore: archive schedule %q: %w", a.cfg.Schedule, err)
	}
	a.cron.Start()
	slog.Info("event archiver started",
		"schedule", a.cfg.Schedule,
		"retention", a.cfg.Retention,
		"dry_run", a.cfg.DryRun,
	)
	return nil
}

// Stop cancels the schedule and any pending retry, waiting for an in-flight
// run to finish.
func (a *Archiver) Stop() {
	a.mu.Lock()
	if a.retry != nil {
		a.retry.Stop()
		a.retry = nil
	}
	a.mu.Unlock()

	<-a.cron.Stop().Done()
}

func (a *Archiver) scheduledRun() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	stats, err := a.Run(ctx)
	if err != nil {
		slog.Error("archival run failed, retrying in an hour", "error", err)
		a.mu.Lock()
		a.retry = time.AfterFunc(archiveRetryDelay, a.scheduledRun)
		a.mu.Unlock()
		return
	}
	slog.Info("archival run completed",
		"candidates", stats.Candidates,
		"copied", stats.Copied,
		"deleted", stats.Deleted,
		"dry_run", stats.DryRun,
	)
}

// Run performs one archival pass and returns its statistics.
func (a *Archiver) Run(ctx context.Context) (ArchiveStats, error) {
	stats := ArchiveStats{DryRun: a.cfg.DryRun}
	cutoff := time.Now().UTC().Add(-a.cfg.Retention)

	candidates, err := a.loadCandidates(ctx, cutoff)
	if err != nil {
		return stats, err
	}
	stats.Candidates = len(candidates)
	if len(candidates) == 0 || a.cfg.DryRun {
		return stats, nil
	}

	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return stats, fmt.Errorf("eventstore: archive begin: %w", err)
	}
	defer tx.Rollback(ctx)

	ids := make([]string, len(candidates))
	for i, ev := range candidates {
		ids[i] = ev.ID

		compressed, err := compressPayload(ev.Payload, a.cfg.CompressionLevel)
		if err != nil {
			return stats, fmt.Errorf("eventstore: compress payload of %s: %w", ev.ID, err)
		}
		tag, err := tx.Exec(ctx, `
			INSERT INTO archived_events
			    (id, stream_id, type, payload_gz, timestamp, version, correlation_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO NOTHING`,
			ev.ID, ev.StreamID, ev.Type, compressed, ev.Timestamp, ev.Version, ev.CorrelationID,
		)
		if err != nil {
			return stats, fmt.Errorf("eventstore: archive copy %s: %w", ev.ID, err)
		}
		stats.Copied += int(tag.RowsAffected())
	}

	if _, err := tx.Exec(ctx,
		`UPDATE events SET archived = true WHERE id = ANY($1)`, ids,
	); err != nil {
		return stats, fmt.Errorf("eventstore: archive mark: %w", err)
	}

	// Delete archived rows, but keep any event whose correlation id is still
	// shared with an unarchived event so correlated lookups stay complete.
	tag, err := tx.Exec(ctx, `
		DELETE FROM events e
		WHERE  e.id = ANY($1)
		  AND  (e.correlation_id = '' OR NOT EXISTS (
		           SELECT 1 FROM events s
		           WHERE  s.correlation_id = e.correlation_id
		             AND  NOT s.archived))`,
		ids,
	)
	if err != nil {
		return stats, fmt.Errorf("eventstore: archive delete: %w", err)
	}
	stats.Deleted = int(tag.RowsAffected())

	if err := tx.Commit(ctx); err != nil {
		return stats, fmt.Errorf("eventstore: archive commit: %w", err)
	}

	if a.emitter != nil {
		_, err := a.emitter.Emit(ctx, "system_archival", TypeArchivalCompleted, map[string]any{
			"candidates": stats.Candidates,
			"copied":     stats.Copied,
			"deleted":    stats.Deleted,
			"cutoff":     cutoff.Format(time.RFC3339),
		})
		if err != nil {
			slog.Warn("archival completion event not recorded", "error", err)
		}
	}
	return stats, nil
}

func (a *Archiver) loadCandidates(ctx context.Context, cutoff time.Time) ([]Event, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT id, stream_id, type, payload, timestamp, version, correlation_id
		FROM   events
		WHERE  timestamp < $1
		ORDER  BY timestamp
		LIMIT  $2`,
		cutoff, a.cfg.BatchLimit,
	)
	if err != nil {
		return nil, fmt.Errorf("eventstore: archive candidates: %w", err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Event, error) {
		return scanEvent(row)
	})
	if err != nil {
		return nil, fmt.Errorf("eventstore: scan candidates: %w", err)
	}
	return events, nil
}

// compressPayload gzips the JSON encoding of payload and returns it
// base64-encoded for storage in a text column.
func compressPayload(payload map[string]any, level int) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	gz, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return "", err
	}
	if _, err := gz.Write(raw); err != nil {
		return "", err
	}
	if err := gz.Close(); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// decompressPayload reverses [compressPayload].
func decompressPayload(encoded string) (map[string]any, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	gz, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	var payload map[string]any
	if err := json.NewDecoder(gz).Decode(&payload); err != nil {
		return nil, err
	}
	return payload, nil
}
