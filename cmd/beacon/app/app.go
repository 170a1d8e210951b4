// Package app provides the application context and dependency management
// for the beacon CLI: configuration, logging and the lazily created
// service graph shared by every command.
package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/agentstation/beacon"
	"github.com/agentstation/beacon/internal/cmd/application"
	"github.com/agentstation/beacon/internal/server"
	"github.com/agentstation/beacon/internal/storage/sqlite"
	"github.com/agentstation/beacon/pkg/errors"
)

// App holds the CLI's dependencies.
type App struct {
	version string
	commit  string
	date    string
	builtBy string

	config      *Config
	logger      *zerolog.Logger
	fixedLogger bool

	// extra options applied after those derived from config
	beaconOpts []beacon.Option

	mu      sync.RWMutex
	beacon  *beacon.Beacon
	storage *sqlite.Store
}

var _ application.Application = (*App)(nil)

// New creates an App with configuration loaded from the environment.
func New(version, commit, date, builtBy string, opts ...Option) (*App, error) {
	app := &App{
		version: version,
		commit:  commit,
		date:    date,
		builtBy: builtBy,
	}

	config, err := LoadConfig("")
	if err != nil {
		return nil, errors.WrapResource("load", "config", "", err)
	}
	app.config = config

	logger := NewLogger(config)
	app.logger = &logger

	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}
	return app, nil
}

// Version returns the version information.
func (a *App) Version() string { return a.version }

// Commit returns the git commit hash.
func (a *App) Commit() string { return a.commit }

// Date returns the build date.
func (a *App) Date() string { return a.date }

// BuiltBy returns the build system identifier.
func (a *App) BuiltBy() string { return a.builtBy }

// Config returns the application configuration.
func (a *App) Config() *Config { return a.config }

// Logger returns the application logger.
func (a *App) Logger() *zerolog.Logger { return a.logger }

// OutputFormat returns the --format value, which may be empty.
func (a *App) OutputFormat() string { return a.config.Format }

// ServerConfig returns the configured server settings.
func (a *App) ServerConfig() server.Config { return a.config.Server }

// Beacon returns the service graph, creating it on first use.
func (a *App) Beacon(ctx context.Context) (*beacon.Beacon, error) {
	a.mu.RLock()
	if a.beacon != nil {
		b := a.beacon
		a.mu.RUnlock()
		return b, nil
	}
	a.mu.RUnlock()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.beacon != nil {
		return a.beacon, nil
	}

	opts := append(a.config.BeaconOptions(), beacon.WithLogger(a.logger))
	if a.storage != nil {
		opts = append(opts, beacon.WithStorage(a.storage))
	}
	opts = append(opts, a.beaconOpts...)
	b, err := beacon.New(ctx, opts...)
	if err != nil {
		return nil, errors.WrapResource("create", "beacon", "", err)
	}
	a.beacon = b
	return b, nil
}

// Storage returns the database, opening it on first use. It shares the
// beacon's store when one exists.
func (a *App) Storage(ctx context.Context) (*sqlite.Store, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.storage != nil {
		return a.storage, nil
	}
	if a.beacon != nil {
		return a.beacon.Storage(), nil
	}

	st, err := sqlite.Open(ctx, a.config.DatabasePath)
	if err != nil {
		return nil, errors.WrapResource("open", "database", a.config.DatabasePath, err)
	}
	a.storage = st
	return st, nil
}

// Shutdown releases the service graph and database if they were created.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	b, st := a.beacon, a.storage
	a.beacon, a.storage = nil, nil
	a.mu.Unlock()

	if b == nil && st == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() {
		var err error
		if b != nil {
			err = b.Close()
		}
		if st != nil {
			if closeErr := st.Close(); err == nil {
				err = closeErr
			}
		}
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Option configures an App.
type Option func(*App) error

// WithConfig replaces the loaded configuration.
func WithConfig(config *Config) Option {
	return func(a *App) error {
		if config == nil {
			return errors.NewValidationError("config", nil, "config is nil")
		}
		a.config = config
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(a *App) error {
		a.logger = logger
		a.fixedLogger = logger != nil
		return nil
	}
}

// WithBeaconOptions appends options used when the service graph is
// created, e.g. a fake clock in tests.
func WithBeaconOptions(opts ...beacon.Option) Option {
	return func(a *App) error {
		a.beaconOpts = append(a.beaconOpts, opts...)
		return nil
	}
}
