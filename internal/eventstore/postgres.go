package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/solace/internal/observe"
)

// ErrBufferFull reports that the write buffer reached its hard cap and a
// synchronous flush could not drain it.
var ErrBufferFull = errors.New("eventstore: write buffer full")

// maxEventsAfterRows caps GetEventsAfter result sets on the durable store.
const maxEventsAfterRows = 1000

// PostgresStoreConfig holds tuning knobs for a [PostgresStore].
type PostgresStoreConfig struct {
	// BatchSize triggers an early flush once this many events are buffered.
	// Default: 50.
	BatchSize int

	// FlushInterval is the background flush cadence. Default: 2s.
	FlushInterval time.Duration

	// MaxBuffered is the hard cap on buffered events. Appends beyond it force
	// a synchronous flush; if that fails the append is rejected with
	// [ErrBufferFull]. Default: 10000.
	MaxBuffered int

	// Metrics receives conflict, overflow, and append metrics. May be nil.
	Metrics *observe.Metrics
}

func (c *PostgresStoreConfig) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 2 * time.Second
	}
	if c.MaxBuffered <= 0 {
		c.MaxBuffered = 10000
	}
}

// PostgresStore is the durable [Store] implementation. Appends are buffered in
// memory and written in batches, either when [PostgresStoreConfig.BatchSize]
// events accumulate or on the [PostgresStoreConfig.FlushInterval] tick. Reads
// flush the buffer first so callers always observe their own writes.
//
// Batches are grouped by stream and written one transaction per stream under a
// session-scoped advisory lock derived from the stream id, so two processes
// writing the same stream serialize at the database rather than corrupting the
// version sequence.
//
// PostgresStore is safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
	cfg  PostgresStoreConfig

	mu      sync.Mutex
	pending []Event
	// versions tracks the next expected version per stream, lazily loaded
	// from the database on first touch. It includes buffered events so an
	// append never has to wait for a flush to validate its version.
	versions map[string]int64
	closed   bool

	flushCh chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to the database at dsn, ensures the schema exists,
// and starts the background flusher.
func NewPostgresStore(ctx context.Context, dsn string, cfg PostgresStoreConfig) (*PostgresStore, error) {
	cfg.applyDefaults()

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("eventstore: parse dsn: %w", err)
	}
	// The pool is shared with the pgvector-backed memory stores; register the
	// vector types on every new connection so their columns scan into
	// pgvector.Vector values.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("eventstore: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("eventstore: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("eventstore: migrate: %w", err)
	}

	s := &PostgresStore{
		pool:     pool,
		cfg:      cfg,
		versions: make(map[string]int64),
		flushCh:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.flushLoop()
	return s, nil
}

// Append implements [Store]. The event is buffered; durability follows at the
// next flush.
func (s *PostgresStore) Append(ctx context.Context, ev Event) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}

	next, err := s.nextVersionLocked(ctx, ev.StreamID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if ev.Version != next {
		s.mu.Unlock()
		s.cfg.Metrics.RecordVersionConflict(ctx)
		return fmt.Errorf("%w: stream %s expected %d got %d",
			ErrVersionConflict, ev.StreamID, next, ev.Version)
	}

	if len(s.pending) >= s.cfg.MaxBuffered {
		s.mu.Unlock()
		if s.cfg.Metrics != nil && s.cfg.Metrics.BufferOverflows != nil {
			s.cfg.Metrics.BufferOverflows.Add(ctx, 1)
		}
		// The buffer is at capacity; drain it on the caller's time.
		if err := s.Flush(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrBufferFull, err)
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return ErrStoreClosed
		}
	}

	s.pending = append(s.pending, ev)
	s.versions[ev.StreamID] = ev.Version + 1
	shouldFlush := len(s.pending) >= s.cfg.BatchSize
	s.mu.Unlock()

	if s.cfg.Metrics != nil && s.cfg.Metrics.EventsAppended != nil {
		s.cfg.Metrics.EventsAppended.Add(ctx, 1)
	}
	if shouldFlush {
		s.signalFlush()
	}
	return nil
}

// GetStream implements [Store].
func (s *PostgresStore) GetStream(ctx context.Context, streamID string, fromVersion int64) ([]Event, error) {
	if err := s.Flush(ctx); err != nil {
		return nil, err
	}

	const q = `
		SELECT id, stream_id, type, payload, timestamp, version, correlation_id
		FROM   events
		WHERE  stream_id = $1
		  AND  version  >= $2
		  AND  NOT archived
		ORDER  BY version`

	rows, err := s.pool.Query(ctx, q, streamID, fromVersion)
	if err != nil {
		return nil, fmt.Errorf("eventstore: get stream: %w", err)
	}
	events, err := collectEvents(rows)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 && fromVersion == 0 {
		return nil, ErrStreamNotFound
	}
	return events, nil
}

// GetEventsAfter implements [Store]. Result sets are capped at 1000 rows.
func (s *PostgresStore) GetEventsAfter(ctx context.Context, ts time.Time, types ...string) ([]Event, error) {
	if err := s.Flush(ctx); err != nil {
		return nil, err
	}

	q := `
		SELECT id, stream_id, type, payload, timestamp, version, correlation_id
		FROM   events
		WHERE  timestamp > $1
		  AND  NOT archived`
	args := []any{ts}
	if len(types) > 0 {
		args = append(args, types)
		q += fmt.Sprintf("\n\t\t  AND  type = ANY($%d)", len(args))
	}
	args = append(args, maxEventsAfterRows)
	q += fmt.Sprintf("\n\t\tORDER  BY timestamp\n\t\tLIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("eventstore: get events after: %w", err)
	}
	return collectEvents(rows)
}

// GetLastEvent implements [Store].
func (s *PostgresStore) GetLastEvent(ctx context.Context, streamID string) (*Event, error) {
	// The buffer tail is authoritative when present; no flush needed.
	s.mu.Lock()
	for i := len(s.pending) - 1; i >= 0; i-- {
		if s.pending[i].StreamID == streamID {
			ev := s.pending[i]
			s.mu.Unlock()
			return &ev, nil
		}
	}
	s.mu.Unlock()

	const q = `
		SELECT id, stream_id, type, payload, timestamp, version, correlation_id
		FROM   events
		WHERE  stream_id = $1
		  AND  NOT archived
		ORDER  BY version DESC
		LIMIT  1`

	row := s.pool.QueryRow(ctx, q, streamID)
	ev, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrStreamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("eventstore: get last event: %w", err)
	}
	return &ev, nil
}

// StreamExists implements [Store].
func (s *PostgresStore) StreamExists(ctx context.Context, streamID string) (bool, error) {
	s.mu.Lock()
	for i := range s.pending {
		if s.pending[i].StreamID == streamID {
			s.mu.Unlock()
			return true, nil
		}
	}
	s.mu.Unlock()

	const q = `SELECT EXISTS (SELECT 1 FROM events WHERE stream_id = $1)`
	var exists bool
	if err := s.pool.QueryRow(ctx, q, streamID).Scan(&exists); err != nil {
		return false, fmt.Errorf("eventstore: stream exists: %w", err)
	}
	return exists, nil
}

// Flush synchronously writes all buffered events.
func (s *PostgresStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	failed, err := s.writeBatch(ctx, batch)
	if err != nil {
		// Push back only the failed streams' events. Streams that already
		// committed must stay out: retrying them would re-insert durable
		// rows and turn the (stream_id, version) constraint into a
		// permanent conflict.
		retry := selectStreams(batch, failed)
		s.mu.Lock()
		s.pending = append(retry, s.pending...)
		s.mu.Unlock()
		return err
	}
	return nil
}

// Close implements [Store]. It stops the flusher, writes any remaining
// buffered events, and releases the pool.
func (s *PostgresStore) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()

	err := s.Flush(ctx)
	s.pool.Close()
	if err != nil {
		return fmt.Errorf("eventstore: close: %w", err)
	}
	return nil
}

// Pool exposes the underlying connection pool for cooperating components
// (archiver, health checks).
func (s *PostgresStore) Pool() *pgxpool.Pool { return s.pool }

// Buffered returns the number of events waiting for the next flush.
func (s *PostgresStore) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// ─────────────────────────────────────────────────────────────────────────────
// Internals
// ─────────────────────────────────────────────────────────────────────────────

// nextVersionLocked returns the next expected version for streamID, consulting
// the database on first touch. Must hold s.mu.
func (s *PostgresStore) nextVersionLocked(ctx context.Context, streamID string) (int64, error) {
	if next, ok := s.versions[streamID]; ok {
		return next, nil
	}

	const q = `SELECT COALESCE(MAX(version), -1) FROM events WHERE stream_id = $1`
	var last int64
	if err := s.pool.QueryRow(ctx, q, streamID).Scan(&last); err != nil {
		return 0, fmt.Errorf("eventstore: load stream version: %w", err)
	}
	s.versions[streamID] = last + 1
	return last + 1, nil
}

func (s *PostgresStore) signalFlush() {
	select {
	case s.flushCh <- struct{}{}:
	default:
	}
}

// flushLoop drains the buffer on the configured interval and on demand.
func (s *PostgresStore) flushLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		case <-s.flushCh:
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := s.Flush(ctx); err != nil {
			slog.Error("event flush failed, batch retained", "error", err)
		}
		cancel()
	}
}

// writeBatch persists events grouped by stream, one transaction per stream.
// Streams fail independently; the returned set names the streams whose
// events still need a retry.
func (s *PostgresStore) writeBatch(ctx context.Context, batch []Event) (map[string]bool, error) {
	byStream := make(map[string][]Event)
	order := make([]string, 0)
	for _, ev := range batch {
		if _, seen := byStream[ev.StreamID]; !seen {
			order = append(order, ev.StreamID)
		}
		byStream[ev.StreamID] = append(byStream[ev.StreamID], ev)
	}

	failed := make(map[string]bool)
	var errs []error
	for _, streamID := range order {
		if err := s.writeStream(ctx, streamID, byStream[streamID]); err != nil {
			failed[streamID] = true
			errs = append(errs, err)
		}
	}
	if len(failed) == 0 {
		return nil, nil
	}
	return failed, errors.Join(errs...)
}

// selectStreams returns the events of the named streams in their original
// batch order.
func selectStreams(batch []Event, streams map[string]bool) []Event {
	out := make([]Event, 0, len(batch))
	for _, ev := range batch {
		if streams[ev.StreamID] {
			out = append(out, ev)
		}
	}
	return out
}

func (s *PostgresStore) writeStream(ctx context.Context, streamID string, events []Event) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("eventstore: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	hi, lo := advisoryLockKeys(streamID)
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1, $2)`, hi, lo); err != nil {
		return fmt.Errorf("eventstore: advisory lock %s: %w", streamID, err)
	}

	const q = `
		INSERT INTO events (id, stream_id, type, payload, timestamp, version, correlation_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	for _, ev := range events {
		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("eventstore: marshal payload of %s: %w", ev.ID, err)
		}
		_, err = tx.Exec(ctx, q,
			ev.ID, ev.StreamID, ev.Type, payload, ev.Timestamp, ev.Version, ev.CorrelationID)
		if err != nil {
			if isUniqueViolation(err) {
				// Another process claimed this version between our buffer
				// admission and the flush. Surface it as a conflict so the
				// emitter retry path can recover.
				s.cfg.Metrics.RecordVersionConflict(ctx)
				s.invalidateVersion(streamID)
				return fmt.Errorf("eventstore: flush %s v%d: %w", streamID, ev.Version, ErrVersionConflict)
			}
			return fmt.Errorf("eventstore: insert event %s: %w", ev.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("eventstore: commit %s: %w", streamID, err)
	}
	return nil
}

// invalidateVersion drops the cached next-version for streamID so the next
// append re-reads it from the database.
func (s *PostgresStore) invalidateVersion(streamID string) {
	s.mu.Lock()
	delete(s.versions, streamID)
	s.mu.Unlock()
}

// advisoryLockKeys derives the two int32 advisory lock keys from a stream id
// by splitting its FNV-64a hash.
func advisoryLockKeys(streamID string) (int32, int32) {
	h := fnv.New64a()
	h.Write([]byte(streamID))
	sum := h.Sum64()
	return int32(sum >> 32), int32(sum & 0xFFFFFFFF) //nolint:gosec // intentional truncation
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func collectEvents(rows pgx.Rows) ([]Event, error) {
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Event, error) {
		return scanEvent(row)
	})
	if err != nil {
		return nil, fmt.Errorf("eventstore: scan rows: %w", err)
	}
	if events == nil {
		events = []Event{}
	}
	return events, nil
}

func scanEvent(row pgx.Row) (Event, error) {
	var (
		ev      Event
		payload []byte
	)
	if err := row.Scan(&ev.ID, &ev.StreamID, &ev.Type, &payload, &ev.Timestamp, &ev.Version, &ev.CorrelationID); err != nil {
		return Event{}, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &ev.Payload); err != nil {
			return Event{}, fmt.Errorf("unmarshal payload of %s: %w", ev.ID, err)
		}
	}
	return ev, nil
}
