// Package beacon assembles the activity tracking service: storage,
// sessions, per-session trackers and the observable admin stores.
//
// A Beacon is created with New, started with Run and released with
// Close:
//
//	b, err := beacon.New(ctx, beacon.WithDatabasePath("beacon.db"), beacon.WithAuthConfig(cfg))
//	if err != nil {
//	    return err
//	}
//	defer b.Close()
//	go b.Run(ctx)
//	srv, err := server.New(b.Services(), server.DefaultConfig(), logger)
package beacon

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/agentstation/beacon/internal/activity"
	"github.com/agentstation/beacon/internal/admin"
	"github.com/agentstation/beacon/internal/auth"
	"github.com/agentstation/beacon/internal/clock"
	"github.com/agentstation/beacon/internal/dispatch"
	"github.com/agentstation/beacon/internal/server/events"
	"github.com/agentstation/beacon/internal/server/handlers"
	"github.com/agentstation/beacon/internal/sessiontracker"
	"github.com/agentstation/beacon/internal/storage/sqlite"
	"github.com/agentstation/beacon/pkg/errors"
	"github.com/agentstation/beacon/pkg/logging"
	"github.com/agentstation/beacon/pkg/store"
)

// Beacon owns the service graph.
type Beacon struct {
	config *config
	logger *zerolog.Logger
	clock  clock.Clock

	storage     *sqlite.Store
	ownsStorage bool

	registry   *store.Registry
	admin      *admin.Stores
	broker     *events.Broker
	dispatcher *dispatch.Pool
	sessions   *sessiontracker.SessionTracker
	auth       *auth.Manager
	activity   *activity.Hub

	hooks       *hooks
	unsubscribe func()

	closeOnce sync.Once
	closeErr  error
}

// New opens storage and wires every component. The caller must call
// Close; Run starts the background work.
func New(ctx context.Context, opts ...Option) (*Beacon, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, errors.WrapResource("apply", "option", "", err)
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	b := &Beacon{
		config:  cfg,
		logger:  logging.Component(cfg.logger, "beacon"),
		clock:   cfg.clock,
		storage: cfg.storage,
		hooks:   newHooks(),
	}

	if b.storage == nil {
		st, err := sqlite.Open(ctx, cfg.databasePath)
		if err != nil {
			return nil, errors.WrapResource("open", "database", cfg.databasePath, err)
		}
		b.storage = st
		b.ownsStorage = true
	}

	if err := b.wire(); err != nil {
		_ = b.Close()
		return nil, err
	}

	b.logger.Debug().
		Str("database", cfg.databasePath).
		Int("workers", cfg.workers).
		Dur("session_timeout", cfg.sessionTimeout).
		Msg("Beacon created")
	return b, nil
}

func (b *Beacon) wire() error {
	cfg := b.config
	logger := cfg.logger

	b.registry = store.NewRegistry()
	b.admin = admin.NewStores(b.registry, b.clock, logger)
	b.broker = events.NewBroker(logger)
	b.dispatcher = dispatch.New(logger,
		dispatch.WithWorkers(cfg.workers),
		dispatch.WithQueueSize(cfg.queueSize),
	)

	sessions, err := sessiontracker.New(b.storage, b.admin.QuickStats,
		sessiontracker.WithClock(b.clock),
		sessiontracker.WithPublisher(b.broker),
		sessiontracker.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	b.sessions = sessions

	manager, err := auth.NewManager(cfg.auth, b.storage,
		auth.WithClock(b.clock),
		auth.WithLogger(logger),
		auth.WithCleanupInterval(cfg.sessionCleanup),
	)
	if err != nil {
		return err
	}
	b.auth = manager

	b.activity = activity.New(b.sessions, b.dispatcher,
		activity.WithClock(b.clock),
		activity.WithLogger(logger),
		activity.WithSessionTimeout(cfg.sessionTimeout),
		activity.WithPublisher(b.broker),
	)

	b.unsubscribe = b.hooks.watch(b.admin.QuickStats.Store())
	return nil
}

// Services returns the components the HTTP API is built on.
func (b *Beacon) Services() handlers.Services {
	return handlers.Services{
		Auth:       b.auth,
		Sessions:   b.sessions,
		Activity:   b.activity,
		Storage:    b.storage,
		Admin:      b.admin,
		Broker:     b.broker,
		Clock:      b.clock,
		Dispatcher: b.dispatcher,
	}
}

// Storage returns the database.
func (b *Beacon) Storage() *sqlite.Store {
	return b.storage
}

// Stores returns the admin stores.
func (b *Beacon) Stores() *admin.Stores {
	return b.admin
}

// Registry returns the store registry.
func (b *Beacon) Registry() *store.Registry {
	return b.registry
}

// Sessions returns the session tracker.
func (b *Beacon) Sessions() *sessiontracker.SessionTracker {
	return b.sessions
}

// Dispatcher returns the background task pool.
func (b *Beacon) Dispatcher() *dispatch.Pool {
	return b.dispatcher
}

// Close ends live tracking, stops the dispatcher and closes storage it
// opened. Close is idempotent.
func (b *Beacon) Close() error {
	b.closeOnce.Do(func() {
		if b.activity != nil {
			b.activity.Close()
		}
		if b.dispatcher != nil {
			b.dispatcher.Close()
		}
		if b.unsubscribe != nil {
			b.unsubscribe()
		}
		if b.ownsStorage {
			b.closeErr = b.storage.Close()
		}
	})
	return b.closeErr
}
