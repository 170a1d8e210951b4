// Package logging provides structured logging for beacon using zerolog.
// Console output is used when stderr is a terminal and JSON otherwise.
//
//	log := logging.Component(base, "tracker")
//	log.Debug().Str("session_id", id).Msg("Tracking started")
//
//	ctx = logging.WithUser(ctx, id)
//	logging.Ctx(ctx).Info().Str("path", path).Msg("Page view")
package logging

import (
	"os"
	"sync/atomic"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var defaultLogger atomic.Pointer[zerolog.Logger]

func init() {
	l := NewLoggerFromConfig(configFromEnv())
	defaultLogger.Store(&l)
}

// configFromEnv reads LOG_LEVEL, LOG_FORMAT, LOG_OUTPUT and NO_COLOR.
// DEBUG=1 is accepted as a shortcut for LOG_LEVEL=debug.
func configFromEnv() *Config {
	cfg := DefaultConfig()
	cfg.Level = getEnvOrDefault("LOG_LEVEL", cfg.Level)
	if os.Getenv("LOG_LEVEL") == "" && os.Getenv("DEBUG") != "" {
		cfg.Level = "debug"
	}
	cfg.Format = getEnvOrDefault("LOG_FORMAT", cfg.Format)
	cfg.Output = getEnvOrDefault("LOG_OUTPUT", cfg.Output)
	return cfg
}

// Default returns the process-wide logger used when a component is
// given none.
func Default() *zerolog.Logger {
	return defaultLogger.Load()
}

// SetDefault replaces the process-wide logger.
func SetDefault(logger zerolog.Logger) {
	defaultLogger.Store(&logger)
	log.Logger = logger
}

// Component returns a child of base tagged with a component name.
// A nil base falls back to the default logger.
func Component(base *zerolog.Logger, name string) *zerolog.Logger {
	if base == nil {
		base = Default()
	}
	l := base.With().Str("component", name).Logger()
	return &l
}

func stderrIsTerminal() bool {
	fd := os.Stderr.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
