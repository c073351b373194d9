// Package app wires all solace subsystems into a running service.
//
// The App struct owns the full lifecycle: New creates and connects every
// subsystem, Run serves until the context is cancelled, and Shutdown tears
// everything down in order.
//
// For testing, inject in-memory implementations via functional options
// (WithEventStore, WithCache, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/solace/internal/actor"
	"github.com/MrWong99/solace/internal/analysis"
	"github.com/MrWong99/solace/internal/cache"
	"github.com/MrWong99/solace/internal/config"
	"github.com/MrWong99/solace/internal/embed"
	"github.com/MrWong99/solace/internal/emotion"
	"github.com/MrWong99/solace/internal/eventstore"
	"github.com/MrWong99/solace/internal/gateway"
	"github.com/MrWong99/solace/internal/generate"
	"github.com/MrWong99/solace/internal/health"
	"github.com/MrWong99/solace/internal/limits"
	"github.com/MrWong99/solace/internal/ltm"
	"github.com/MrWong99/solace/internal/mode"
	"github.com/MrWong99/solace/internal/observe"
	"github.com/MrWong99/solace/internal/partner"
	"github.com/MrWong99/solace/internal/personality"
	"github.com/MrWong99/solace/internal/resilience"
	"github.com/MrWong99/solace/internal/session"
	"github.com/MrWong99/solace/internal/stm"
	"github.com/MrWong99/solace/pkg/provider/embeddings"
	"github.com/MrWong99/solace/pkg/provider/llm"
)

// janitorInterval is how often the orchestrator sweeps pending turns and
// idle sessions.
const janitorInterval = 5 * time.Second

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured; the affected actors degrade or stay
// unregistered.
type Providers struct {
	LLM        llm.Provider
	Embeddings embeddings.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	runtime *actor.Runtime
	metrics *observe.Metrics
	events  *eventstore.Emitter
	store   eventstore.Store
	cache   cache.Cache
	gateway *gateway.Server
	pool    *pgxpool.Pool

	emotionPool *emotion.Pool
	archiver    *eventstore.Archiver
	httpSrv     *http.Server

	// Storage backends, injectable for tests.
	stmStore     stm.Store
	ltmStore     ltm.Store
	ltmProfiles  ltm.ProfileStore
	personaStore personality.Store
	partnerStore partner.Store

	// closers run in reverse order during Shutdown.
	closers []func(context.Context) error

	stopOnce sync.Once
	stopErr  error
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithEventStore injects an event store instead of creating one from config.
func WithEventStore(s eventstore.Store) Option {
	return func(a *App) { a.store = s }
}

// WithCache injects a cache instead of creating one from config.
func WithCache(c cache.Cache) Option {
	return func(a *App) { a.cache = c }
}

// WithSTMStore injects the short-term memory backend.
func WithSTMStore(s stm.Store) Option {
	return func(a *App) { a.stmStore = s }
}

// WithLTMStores injects the long-term memory backends.
func WithLTMStores(s ltm.Store, p ltm.ProfileStore) Option {
	return func(a *App) { a.ltmStore, a.ltmProfiles = s, p }
}

// WithPersonalityStore injects the personality snapshot backend.
func WithPersonalityStore(s personality.Store) Option {
	return func(a *App) { a.personaStore = s }
}

// WithPartnerStore injects the partner persona backend.
func WithPartnerStore(s partner.Store) Option {
	return func(a *App) { a.partnerStore = s }
}

// WithMetrics injects the metrics instruments. Without it the app runs
// unmetered; main wires the OTel provider and passes the result here.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates and connects all subsystems. The returned App is not serving
// yet; call Run.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}

	if err := a.initStorage(ctx); err != nil {
		a.closeAll(ctx)
		return nil, err
	}
	a.events = eventstore.NewEmitter(a.store)
	a.initRuntime()
	if err := a.registerActors(); err != nil {
		a.closeAll(ctx)
		return nil, err
	}
	if err := a.initArchiver(); err != nil {
		a.closeAll(ctx)
		return nil, err
	}
	a.gateway = gateway.NewServer(a.runtime, health.New(a.healthCheckers()...), a.metrics)
	if err := a.runtime.Register(a.gateway); err != nil {
		a.closeAll(ctx)
		return nil, fmt.Errorf("app: register gateway: %w", err)
	}
	return a, nil
}

func (a *App) initStorage(ctx context.Context) error {
	if a.store == nil {
		switch a.cfg.EventStore.Type {
		case config.StorePostgres:
			pg, err := eventstore.NewPostgresStore(ctx, a.cfg.EventStore.PostgresDSN, eventstore.PostgresStoreConfig{
				BatchSize:     a.cfg.EventStore.BatchSize,
				FlushInterval: a.cfg.EventStore.FlushInterval.Std(),
				MaxBuffered:   a.cfg.EventStore.MaxBufferSize,
				Metrics:       a.metrics,
			})
			if err != nil {
				return fmt.Errorf("app: event store: %w", err)
			}
			a.store = pg
			a.pool = pg.Pool()
			a.closers = append(a.closers, pg.Close)
		default:
			a.store = eventstore.NewMemoryStore(eventstore.MemoryStoreConfig{
				StreamCacheSize: a.cfg.EventStore.StreamCacheSize,
				MaxEvents:       a.cfg.EventStore.MaxMemoryEvents,
				Metrics:         a.metrics,
			})
		}
	}

	if a.cache == nil {
		if addr := a.cfg.Cache.RedisAddr; addr != "" {
			rc, err := cache.NewRedisCache(ctx, addr, a.cfg.Cache.RedisPassword, a.cfg.Cache.RedisDB, a.cfg.Cache.Namespace)
			if err != nil {
				return fmt.Errorf("app: cache: %w", err)
			}
			a.cache = rc
		} else {
			a.cache = cache.NewMemoryCache(a.cfg.Cache.Namespace)
		}
		a.closers = append(a.closers, func(context.Context) error { return a.cache.Close() })
	}

	return a.initDomainStores(ctx)
}

// initDomainStores picks postgres-backed domain storage when the event store
// shares a pool, otherwise in-memory backends.
func (a *App) initDomainStores(ctx context.Context) error {
	if a.stmStore == nil {
		if a.pool != nil {
			s, err := stm.NewPostgresStore(ctx, a.pool, a.cfg.STM.BufferSize)
			if err != nil {
				return fmt.Errorf("app: stm store: %w", err)
			}
			a.stmStore = s
		} else {
			a.stmStore = stm.NewMemoryStore(a.cfg.STM.BufferSize)
		}
	}
	if a.ltmStore == nil {
		if a.pool != nil {
			s, err := ltm.NewPostgresStore(ctx, a.pool)
			if err != nil {
				return fmt.Errorf("app: ltm store: %w", err)
			}
			a.ltmStore = s
			a.ltmProfiles = ltm.NewPostgresProfileStore(a.pool)
		} else {
			a.ltmStore = ltm.NewMemoryStore()
			a.ltmProfiles = ltm.NewMemoryProfileStore()
		}
	}
	if a.personaStore == nil {
		if a.pool != nil {
			s, err := personality.NewPostgresStore(ctx, a.pool)
			if err != nil {
				return fmt.Errorf("app: personality store: %w", err)
			}
			a.personaStore = s
		} else {
			a.personaStore = personality.NewMemoryStore()
		}
	}
	if a.partnerStore == nil {
		if a.pool != nil {
			s, err := partner.NewPostgresStore(ctx, a.pool)
			if err != nil {
				return fmt.Errorf("app: partner store: %w", err)
			}
			a.partnerStore = s
		} else {
			a.partnerStore = partner.NewMemoryStore()
		}
	}
	return nil
}

func (a *App) initRuntime() {
	rc := actor.RuntimeConfig{
		MailboxSize: a.cfg.Actor.MailboxSize,
		Events:      a.events,
		Metrics:     a.metrics,
	}
	if a.cfg.Actor.Retry.Enabled {
		rc.MaxRetries = a.cfg.Actor.Retry.MaxRetries
		rc.BaseDelay = a.cfg.Actor.Retry.BaseDelay.Std()
		rc.MaxDelay = a.cfg.Actor.Retry.MaxDelay.Std()
	} else {
		rc.MaxRetries = -1
	}
	if a.cfg.Actor.Breaker.Enabled {
		rc.BreakerThreshold = a.cfg.Actor.Breaker.FailureThreshold
		rc.BreakerRecovery = a.cfg.Actor.Breaker.RecoveryTimeout.Std()
	}
	rc.DLQMaxSize = a.cfg.Actor.DLQ.MaxSize
	rc.JanitorInterval = a.cfg.Actor.DLQ.CleanupInterval.Std()
	a.runtime = actor.NewRuntime(rc)
}

func (a *App) registerActors() error {
	cfg, rt := a.cfg, a.runtime

	actors := []actor.Actor{
		stm.NewActor(cfg.STM, a.stmStore, rt, a.events),
		ltm.NewActor(cfg.LTM, ltm.NewEvaluator(cfg.LTM, a.ltmStore, a.ltmProfiles), rt, a.events),
		personality.NewActor(cfg.Personality,
			personality.NewEngine(personality.DefaultBaseTraits, personality.EngineConfig{
				RecoveryDays: cfg.Personality.RecoveryDays,
				LearningRate: cfg.Personality.LearningRate,
				MaxDeviation: cfg.Personality.MaxDeviation,
				NoiseLevel:   cfg.Personality.NoiseLevel,
			}),
			a.personaStore, a.cache, rt, a.events, a.metrics),
		partner.NewActor(cfg.Partner, a.partnerStore, a.cache, rt, a.events, a.metrics),
		limits.NewActor(cfg.Limits, a.cache, rt, a.events, a.metrics),
		analysis.NewActor(rt, a.events),
		session.NewActor(session.Config{ContextLimit: 0}, mode.NewDetector(cfg.Mode), rt, a.events, a.metrics),
	}

	a.emotionPool = emotion.NewPool(emotion.NewLexiconClassifier(), emotion.PoolConfig{
		Workers: cfg.Emotion.Workers,
		Timeout: cfg.Emotion.Timeout.Std(),
	})
	a.closers = append(a.closers, func(context.Context) error { a.emotionPool.Stop(); return nil })
	actors = append(actors, emotion.NewActor(a.emotionPool, rt, a.events))

	if a.providers.LLM != nil {
		breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "llm"})
		actors = append(actors, generate.NewActor(a.providers.LLM, breaker, rt, a.events, a.metrics,
			generate.Options{JSONFallback: true}))
	} else {
		slog.Warn("app: no llm provider configured, generation disabled")
	}
	if a.providers.Embeddings != nil {
		actors = append(actors, embed.NewActor(a.providers.Embeddings, rt, cfg.LTM.EmbeddingRequestTimeout.Std()))
	} else {
		slog.Warn("app: no embeddings provider configured, memory search falls back to recency")
	}

	for _, act := range actors {
		if err := rt.Register(act); err != nil {
			return fmt.Errorf("app: register %s: %w", act.ID(), err)
		}
	}
	return nil
}

func (a *App) initArchiver() error {
	if !a.cfg.Archival.Enabled || a.pool == nil {
		return nil
	}
	a.archiver = eventstore.NewArchiver(a.pool, a.events, eventstore.ArchiverConfig{
		Schedule:         a.cfg.Archival.CronSpec(),
		Retention:        time.Duration(a.cfg.Archival.DaysThreshold) * 24 * time.Hour,
		BatchLimit:       a.cfg.Archival.BatchSize,
		CompressionLevel: a.cfg.Archival.CompressionLevel,
		DryRun:           a.cfg.Archival.DryRun,
	})
	if err := a.archiver.Start(); err != nil {
		return fmt.Errorf("app: archiver: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { a.archiver.Stop(); return nil })
	return nil
}

func (a *App) healthCheckers() []health.Checker {
	checkers := []health.Checker{{
		Name: "cache",
		Check: func(ctx context.Context) error {
			_, err := a.cache.Get(ctx, "health:probe")
			if errors.Is(err, cache.ErrCacheMiss) {
				return nil
			}
			return err
		},
	}}
	if a.pool != nil {
		checkers = append(checkers, health.Checker{
			Name:  "database",
			Check: func(ctx context.Context) error { return a.pool.Ping(ctx) },
		})
	}
	if pg, ok := a.store.(*eventstore.PostgresStore); ok {
		// Readiness fails before the write buffer hits its hard cap and
		// appends start bouncing with ErrBufferFull.
		checkers = append(checkers, health.Backlog("event_backlog", pg.Buffered, a.cfg.EventStore.MaxBufferSize))
	}
	return checkers
}

// Runtime exposes the actor runtime, mainly for tests and the gateway.
func (a *App) Runtime() *actor.Runtime { return a.runtime }

// Gateway exposes the HTTP surface for embedding into custom servers.
func (a *App) Gateway() *gateway.Server { return a.gateway }

// Run starts the actor runtime and serves HTTP until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.runtime.Start()
	a.startJanitor()

	a.httpSrv = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.gateway.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("app: listening", "addr", a.httpSrv.Addr)
		errCh <- a.httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	}
}

// startJanitor ticks the orchestrator's sweep on a runtime-managed goroutine.
func (a *App) startJanitor() {
	a.runtime.Go(func(ctx context.Context) {
		ticker := time.NewTicker(janitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tick := actor.NewMessage(actor.MsgSessionJanitorTick, nil)
				if err := a.runtime.Send(ctx, session.ActorID, tick); err != nil {
					slog.Debug("app: janitor tick failed", "error", err)
				}
			}
		}
	})
}

// Shutdown stops serving and tears subsystems down in reverse creation
// order. Safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		var errs []error
		if a.httpSrv != nil {
			if err := a.httpSrv.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("app: http shutdown: %w", err))
			}
		}
		timeout := 10 * time.Second
		if dl, ok := ctx.Deadline(); ok {
			if remaining := time.Until(dl); remaining < timeout {
				timeout = remaining
			}
		}
		if a.runtime != nil {
			if err := a.runtime.Stop(timeout); err != nil {
				errs = append(errs, fmt.Errorf("app: runtime stop: %w", err))
			}
		}
		a.closeAll(ctx)
		a.stopErr = errors.Join(errs...)
	})
	return a.stopErr
}

func (a *App) closeAll(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			slog.Warn("app: close failed", "error", err)
		}
	}
	a.closers = nil
}
