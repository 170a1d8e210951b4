// Package auth signs users in, issues session tokens and tracks live
// sessions.
package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/agentstation/beacon/pkg/errors"
)

// minSecretLength is the shortest accepted HMAC secret.
const minSecretLength = 16

// Defaults.
const (
	DefaultIssuer     = "beacon"
	DefaultSessionTTL = 12 * time.Hour
)

// Config configures session issuance.
type Config struct {
	Secret     string        `env:"BEACON_SESSION_SECRET" mapstructure:"secret"`
	Issuer     string        `env:"BEACON_SESSION_ISSUER" mapstructure:"issuer"`
	SessionTTL time.Duration `env:"BEACON_SESSION_TTL" mapstructure:"ttl"`
}

// DefaultConfig returns the defaults. The secret has none.
func DefaultConfig() Config {
	return Config{Issuer: DefaultIssuer, SessionTTL: DefaultSessionTTL}
}

// ApplyEnv overlays the BEACON_SESSION_* variables that are set onto cfg.
// Unset variables leave cfg's values alone, so file settings survive.
func ApplyEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return errors.NewConfigError("auth", "invalid BEACON_SESSION_* variable", err)
	}
	cfg.Secret = strings.TrimSpace(cfg.Secret)
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	return nil
}

// LoadConfigFromEnv reads auth configuration from BEACON_SESSION_*
// variables on top of the defaults.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := ApplyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if len(c.Secret) < minSecretLength {
		return errors.NewConfigError("auth", fmt.Sprintf("session secret must be at least %d characters", minSecretLength), nil)
	}
	if c.Issuer == "" {
		return errors.NewConfigError("auth", "issuer is required", nil)
	}
	if c.SessionTTL <= 0 {
		return errors.NewConfigError("auth", "session ttl must be positive", nil)
	}
	return nil
}
