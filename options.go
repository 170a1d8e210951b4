package beacon

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/agentstation/beacon/internal/auth"
	"github.com/agentstation/beacon/internal/clock"
	"github.com/agentstation/beacon/internal/provider"
	"github.com/agentstation/beacon/internal/storage/sqlite"
	"github.com/agentstation/beacon/pkg/errors"
	"github.com/agentstation/beacon/pkg/logging"
)

// DefaultDatabasePath is used when no database path is configured.
const DefaultDatabasePath = "beacon.db"

type config struct {
	databasePath   string
	storage        *sqlite.Store
	auth           auth.Config
	sessionTimeout time.Duration
	sessionCleanup time.Duration
	workers        int
	queueSize      int
	clock          clock.Clock
	logger         *zerolog.Logger
}

func defaultConfig() *config {
	return &config{
		databasePath:   DefaultDatabasePath,
		sessionTimeout: provider.DefaultSessionTimeout,
		sessionCleanup: time.Minute,
		workers:        4,
		queueSize:      256,
		clock:          clock.Real(),
		logger:         logging.Default(),
	}
}

func (c *config) validate() error {
	if c.storage == nil && c.databasePath == "" {
		return errors.NewConfigError("beacon", "database path is required", nil)
	}
	if c.sessionTimeout <= 0 {
		return errors.NewConfigError("beacon", "session timeout must be positive", nil)
	}
	if c.workers < 1 || c.queueSize < 1 {
		return errors.NewConfigError("beacon", "dispatcher workers and queue size must be positive", nil)
	}
	return c.auth.Validate()
}

// Option is a function that configures a Beacon.
type Option func(*config) error

// WithDatabasePath sets the SQLite database file.
func WithDatabasePath(path string) Option {
	return func(c *config) error {
		c.databasePath = path
		return nil
	}
}

// WithStorage uses an open store instead of opening one. The caller
// keeps ownership and closes it.
func WithStorage(st *sqlite.Store) Option {
	return func(c *config) error {
		if st == nil {
			return errors.NewValidationError("storage", nil, "storage is nil")
		}
		c.storage = st
		return nil
	}
}

// WithAuthConfig sets session signing and lifetime.
func WithAuthConfig(cfg auth.Config) Option {
	return func(c *config) error {
		c.auth = cfg
		return nil
	}
}

// WithSessionTimeout sets the inactivity threshold of every tracker.
func WithSessionTimeout(d time.Duration) Option {
	return func(c *config) error {
		c.sessionTimeout = d
		return nil
	}
}

// WithSessionCleanupInterval sets how often expired login sessions are
// swept. Zero disables the sweep.
func WithSessionCleanupInterval(d time.Duration) Option {
	return func(c *config) error {
		c.sessionCleanup = d
		return nil
	}
}

// WithWorkers sets the number of report workers.
func WithWorkers(n int) Option {
	return func(c *config) error {
		c.workers = n
		return nil
	}
}

// WithQueueSize sets how many reports may wait for a worker.
func WithQueueSize(n int) Option {
	return func(c *config) error {
		c.queueSize = n
		return nil
	}
}

// WithClock sets the clock used for timers and timestamps.
func WithClock(clk clock.Clock) Option {
	return func(c *config) error {
		if clk != nil {
			c.clock = clk
		}
		return nil
	}
}

// WithLogger sets the base logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(c *config) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}
