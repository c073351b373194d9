package actor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/solace/internal/eventstore"
	"github.com/MrWong99/solace/internal/observe"
	"github.com/MrWong99/solace/internal/resilience"
)

// Errors returned by the runtime.
var (
	// ErrActorExists reports a Register call with an already-taken id.
	ErrActorExists = errors.New("actor: id already registered")

	// ErrUnknownActor reports a Send to an unregistered id.
	ErrUnknownActor = errors.New("actor: unknown actor")

	// ErrMailboxFull reports a full mailbox. It is the only error the
	// per-recipient circuit breakers count.
	ErrMailboxFull = errors.New("actor: mailbox full")

	// ErrRuntimeStopped reports a Send after Stop.
	ErrRuntimeStopped = errors.New("actor: runtime stopped")
)

// mailboxWakeInterval is the periodic wake of an idle consumer loop, used to
// notice runtime shutdown promptly even on a silent mailbox.
const mailboxWakeInterval = 5 * time.Second

// RuntimeConfig holds tuning knobs for a [Runtime].
type RuntimeConfig struct {
	// MailboxSize is the capacity of each actor's FIFO mailbox. Default: 100.
	MailboxSize int

	// MaxRetries is how many times a failed Send is retried. Negative
	// disables retries. Default: 3.
	MaxRetries int

	// BaseDelay is the initial retry backoff, doubled per attempt up to
	// MaxDelay. Defaults: 50ms and 1s.
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// BreakerThreshold and BreakerRecovery configure the per-recipient
	// circuit breakers. Defaults: 5 failures, 30s recovery.
	BreakerThreshold int
	BreakerRecovery  time.Duration

	// DLQMaxSize is the retained dead-letter count; the janitor trims the
	// queue oldest-first beyond it. Default: 1000.
	DLQMaxSize int

	// JanitorInterval is the DLQ trim cadence. Default: 1m.
	JanitorInterval time.Duration

	// Events receives DeadLetterQueuedEvent records. May be nil.
	Events EventSink

	// Metrics receives runtime metrics. May be nil.
	Metrics *observe.Metrics
}

func (c *RuntimeConfig) applyDefaults() {
	if c.MailboxSize <= 0 {
		c.MailboxSize = 100
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 50 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = time.Second
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerRecovery <= 0 {
		c.BreakerRecovery = 30 * time.Second
	}
	if c.DLQMaxSize <= 0 {
		c.DLQMaxSize = 1000
	}
	if c.JanitorInterval <= 0 {
		c.JanitorInterval = time.Minute
	}
}

// EventSink is where the runtime records semantic events. Satisfied by
// [eventstore.Emitter].
type EventSink interface {
	Emit(ctx context.Context, streamID, eventType string, payload map[string]any) (eventstore.Event, error)
}

// DeadLetter is one quarantined undeliverable message.
type DeadLetter struct {
	Timestamp time.Time
	ActorID   string
	Message   Message
	Err       string
}

// registration is the runtime's bookkeeping for one actor.
type registration struct {
	actor   Actor
	mailbox chan Message

	mu    sync.Mutex
	state State
}

// Runtime hosts registered actors and routes messages between them.
//
// All methods are safe for concurrent use.
type Runtime struct {
	cfg RuntimeConfig

	mu       sync.Mutex
	actors   map[string]*registration
	breakers map[string]*resilience.CircuitBreaker
	dlq      []DeadLetter
	started  bool
	stopped  bool

	ctx      context.Context
	cancel   context.CancelFunc
	stopping chan struct{}

	// taskCtx is handed to Go-tracked tasks and cancelled at the start of
	// Stop, so long-lived tickers exit before the loop drain begins.
	taskCtx    context.Context
	taskCancel context.CancelFunc

	loopWG sync.WaitGroup // actor consumer loops + janitor
	taskWG sync.WaitGroup // fire-and-forget tasks via Go
}

// NewRuntime creates a Runtime with the supplied configuration.
func NewRuntime(cfg RuntimeConfig) *Runtime {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	taskCtx, taskCancel := context.WithCancel(ctx)
	return &Runtime{
		cfg:        cfg,
		actors:     make(map[string]*registration),
		breakers:   make(map[string]*resilience.CircuitBreaker),
		ctx:        ctx,
		cancel:     cancel,
		stopping:   make(chan struct{}),
		taskCtx:    taskCtx,
		taskCancel: taskCancel,
	}
}

// Register adds a to the runtime. When the runtime is already started the
// actor's loop starts immediately; otherwise it starts with [Runtime.Start].
func (r *Runtime) Register(a Actor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return ErrRuntimeStopped
	}
	if _, ok := r.actors[a.ID()]; ok {
		return fmt.Errorf("%w: %s", ErrActorExists, a.ID())
	}

	reg := &registration{
		actor:   a,
		mailbox: make(chan Message, r.cfg.MailboxSize),
		state:   StateRegistered,
	}
	r.actors[a.ID()] = reg

	if r.started {
		r.startActorLocked(reg)
	}
	return nil
}

// Start launches every registered actor's consumer loop, then the DLQ janitor.
func (r *Runtime) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started || r.stopped {
		return
	}
	r.started = true

	for _, reg := range r.actors {
		r.startActorLocked(reg)
	}

	r.loopWG.Add(1)
	go r.janitorLoop()

	slog.Info("actor runtime started", "actors", len(r.actors))
}

// startActorLocked launches reg's consumer loop. Must hold r.mu.
func (r *Runtime) startActorLocked(reg *registration) {
	reg.mu.Lock()
	reg.state = StateRunning
	reg.mu.Unlock()

	r.loopWG.Add(1)
	go r.consumeLoop(reg)
}

// Stop shuts the runtime down: it waits for tracked background tasks, sends a
// Shutdown control message to every actor, and waits for the loops to drain.
// Loops still running at the deadline are cancelled.
func (r *Runtime) Stop(timeout time.Duration) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	close(r.stopping)
	regs := make([]*registration, 0, len(r.actors))
	for _, reg := range r.actors {
		regs = append(regs, reg)
	}
	r.mu.Unlock()

	deadline := time.Now().Add(timeout)

	// Background tasks first so their sends still find live mailboxes.
	// Their context is cancelled now; a task that waits on it exits
	// immediately instead of burning the whole timeout.
	r.taskCancel()
	if !waitTimeout(&r.taskWG, time.Until(deadline)) {
		slog.Warn("background tasks still running at shutdown deadline")
	}

	shutdown := NewMessage(MsgShutdown, nil)
	for _, reg := range regs {
		reg.mu.Lock()
		reg.state = StateStopping
		reg.mu.Unlock()

		select {
		case reg.mailbox <- shutdown:
		case <-time.After(time.Until(deadline)):
			slog.Warn("mailbox refused shutdown message", "actor_id", reg.actor.ID())
		}
	}

	drained := waitTimeout(&r.loopWG, time.Until(deadline))
	// Cancel stragglers (and the janitor, which only exits on cancel).
	r.cancel()
	if !drained {
		r.loopWG.Wait()
		slog.Warn("actor loops cancelled at shutdown deadline")
	} else {
		r.loopWG.Wait()
	}

	for _, reg := range regs {
		reg.mu.Lock()
		reg.state = StateStopped
		reg.mu.Unlock()
	}

	slog.Info("actor runtime stopped")
	return nil
}

// Send delivers msg to the actor identified by actorID. A full mailbox is
// retried with exponential backoff through the recipient's circuit breaker;
// after the final attempt the message is quarantined in the DLQ and an error
// returned. Errors other than mailbox overflow are returned immediately and
// leave the breaker untouched.
func (r *Runtime) Send(ctx context.Context, actorID string, msg Message) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return ErrRuntimeStopped
	}
	reg, ok := r.actors[actorID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownActor, actorID)
	}

	cb := r.breakerFor(actorID)
	delay := r.cfg.BaseDelay
	var lastErr error

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		err := cb.Execute(func() error { return r.enqueue(reg, msg) })
		if err == nil {
			return nil
		}
		lastErr = err

		retryable := errors.Is(err, ErrMailboxFull) || errors.Is(err, resilience.ErrCircuitOpen)
		if !retryable {
			return err
		}
		if attempt == r.cfg.MaxRetries {
			break
		}

		if r.cfg.Metrics != nil && r.cfg.Metrics.SendRetries != nil {
			r.cfg.Metrics.SendRetries.Add(ctx, 1)
		}
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			attempt = r.cfg.MaxRetries
		case <-time.After(delay):
		}
		if delay *= 2; delay > r.cfg.MaxDelay {
			delay = r.cfg.MaxDelay
		}
	}

	r.deadLetter(ctx, actorID, msg, lastErr)
	return fmt.Errorf("actor: send %s to %s: %w", msg.Type, actorID, lastErr)
}

// Broadcast fans msg out to every registered actor except those in exclude.
// Delivery failures are logged and quarantined per recipient but never
// propagated to the caller.
func (r *Runtime) Broadcast(ctx context.Context, msg Message, exclude ...string) {
	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}

	r.mu.Lock()
	ids := make([]string, 0, len(r.actors))
	for id := range r.actors {
		if _, excluded := skip[id]; !excluded {
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()

	g := new(errgroup.Group)
	for _, id := range ids {
		g.Go(func() error {
			if err := r.Send(ctx, id, msg); err != nil {
				slog.Warn("broadcast delivery failed",
					"actor_id", id,
					"message_type", msg.Type,
					"error", err,
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Go runs fn as a tracked fire-and-forget task; Stop cancels the supplied
// context and waits for all of them before shutting actors down, so fn must
// return promptly once ctx is done.
func (r *Runtime) Go(fn func(ctx context.Context)) {
	r.taskWG.Add(1)
	go func() {
		defer r.taskWG.Done()
		fn(r.taskCtx)
	}()
}

// ActorState returns the lifecycle state of the actor with the given id.
func (r *Runtime) ActorState(actorID string) (State, bool) {
	r.mu.Lock()
	reg, ok := r.actors[actorID]
	r.mu.Unlock()
	if !ok {
		return StateStopped, false
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.state, true
}

// DeadLetters returns a snapshot of the quarantined messages, oldest first.
func (r *Runtime) DeadLetters() []DeadLetter {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]DeadLetter, len(r.dlq))
	copy(out, r.dlq)
	return out
}

// BreakerState reports the recipient's circuit breaker state, for health
// endpoints and tests.
func (r *Runtime) BreakerState(actorID string) resilience.State {
	return r.breakerFor(actorID).State()
}

// ─────────────────────────────────────────────────────────────────────────────
// Internals
// ─────────────────────────────────────────────────────────────────────────────

func (r *Runtime) breakerFor(actorID string) *resilience.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	cb, ok := r.breakers[actorID]
	if !ok {
		cb = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             "mailbox:" + actorID,
			FailureThreshold: r.cfg.BreakerThreshold,
			RecoveryTimeout:  r.cfg.BreakerRecovery,
			IsFailure: func(err error) bool {
				return errors.Is(err, ErrMailboxFull)
			},
		})
		r.breakers[actorID] = cb
	}
	return cb
}

func (r *Runtime) enqueue(reg *registration, msg Message) error {
	select {
	case reg.mailbox <- msg:
		if r.cfg.Metrics != nil && r.cfg.Metrics.MailboxDepth != nil {
			r.cfg.Metrics.MailboxDepth.Add(context.Background(), 1)
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrMailboxFull, reg.actor.ID())
	}
}

// consumeLoop is an actor's single consumer goroutine. Handler errors are
// logged and the loop keeps running; only a Shutdown message or runtime
// cancellation ends it.
func (r *Runtime) consumeLoop(reg *registration) {
	defer r.loopWG.Done()

	id := reg.actor.ID()
	wake := time.NewTicker(mailboxWakeInterval)
	defer wake.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-wake.C:
			// Idle wake; loop around to re-check cancellation.
		case msg := <-reg.mailbox:
			if r.cfg.Metrics != nil && r.cfg.Metrics.MailboxDepth != nil {
				r.cfg.Metrics.MailboxDepth.Add(context.Background(), -1)
			}
			if msg.Type == MsgShutdown {
				slog.Debug("actor shutting down", "actor_id", id)
				return
			}
			if err := reg.actor.Receive(r.ctx, msg); err != nil {
				slog.Error("actor handler failed",
					"actor_id", id,
					"message_type", msg.Type,
					"message_id", msg.ID,
					"error", err,
				)
			}
		}
	}
}

// deadLetter quarantines msg and records the event in the background.
func (r *Runtime) deadLetter(ctx context.Context, actorID string, msg Message, cause error) {
	errText := ""
	if cause != nil {
		errText = cause.Error()
	}
	dl := DeadLetter{
		Timestamp: time.Now().UTC(),
		ActorID:   actorID,
		Message:   msg,
		Err:       errText,
	}

	r.mu.Lock()
	r.dlq = append(r.dlq, dl)
	size := len(r.dlq)
	r.mu.Unlock()

	slog.Warn("message dead-lettered",
		"actor_id", actorID,
		"message_type", msg.Type,
		"message_id", msg.ID,
		"dlq_size", size,
		"error", errText,
	)
	r.cfg.Metrics.RecordDeadLetter(ctx, actorID)

	if r.cfg.Events != nil {
		r.Go(func(ctx context.Context) {
			_, err := r.cfg.Events.Emit(ctx, eventstore.DLQStream(actorID), eventstore.TypeDeadLetterQueued, map[string]any{
				"actor_id":     actorID,
				"message_id":   msg.ID,
				"message_type": string(msg.Type),
				"error":        errText,
			})
			if err != nil {
				slog.Warn("dead-letter event not recorded", "actor_id", actorID, "error", err)
			}
		})
	}
}

// janitorLoop trims the DLQ to its configured maximum, oldest-first.
func (r *Runtime) janitorLoop() {
	defer r.loopWG.Done()

	ticker := time.NewTicker(r.cfg.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.stopping:
			return
		case <-ticker.C:
			r.trimDLQ()
		}
	}
}

func (r *Runtime) trimDLQ() {
	r.mu.Lock()
	defer r.mu.Unlock()

	excess := len(r.dlq) - r.cfg.DLQMaxSize
	if excess <= 0 {
		return
	}
	r.dlq = append([]DeadLetter(nil), r.dlq[excess:]...)
	slog.Info("dead-letter queue trimmed", "dropped", excess, "retained", len(r.dlq))
}

// waitTimeout waits for wg up to d; it reports whether the wait completed.
func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	if d <= 0 {
		return false
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
