package server

import (
	"fmt"
	"time"

	"github.com/agentstation/beacon/pkg/errors"
)

// Config holds server configuration.
type Config struct {
	// Server settings
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	// API settings
	PathPrefix string `mapstructure:"prefix"`

	// CORS settings. An empty list allows any origin.
	CORSOrigins []string `mapstructure:"cors_origins"`

	// Performance settings
	RateLimit int           `mapstructure:"rate_limit"` // Requests per minute per IP (0 to disable)
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`

	// Streams
	KeepAlive time.Duration `mapstructure:"keep_alive"`

	// HTTP timeouts. WriteTimeout is zero by default so streams stay open.
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Host:        "localhost",
		Port:        8080,
		PathPrefix:  "/api/v1",
		RateLimit:   100,
		CacheTTL:    30 * time.Second,
		KeepAlive:   25 * time.Second,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return errors.NewConfigError("server", fmt.Sprintf("port out of range: %d", c.Port), nil)
	}
	if c.PathPrefix != "" && c.PathPrefix[0] != '/' {
		return errors.NewConfigError("server", "path prefix must start with /", nil)
	}
	if c.RateLimit < 0 {
		return errors.NewConfigError("server", "rate limit must be non-negative", nil)
	}
	return nil
}
