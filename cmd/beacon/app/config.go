package app

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/agentstation/beacon"
	"github.com/agentstation/beacon/internal/auth"
	"github.com/agentstation/beacon/internal/provider"
	"github.com/agentstation/beacon/internal/server"
	"github.com/agentstation/beacon/pkg/errors"
)

// envPrefix namespaces environment variables, e.g. BEACON_SESSION_SECRET.
const envPrefix = "BEACON"

// Config holds the application configuration loaded from flags,
// environment variables, .env files and the config file.
type Config struct {
	// Global flags
	Verbose bool
	Quiet   bool
	NoColor bool
	Format  string

	ConfigFile string

	DatabasePath   string
	Session        auth.Config
	SessionTimeout time.Duration
	Workers        int
	Server         server.Config

	// Logging configuration. LogLevel comes from --log-level and
	// EnvLogLevel from LOG_LEVEL.
	LogLevel    string
	EnvLogLevel string
	LogFormat   string
	LogOutput   string
}

// LoadConfig loads configuration in order of precedence:
//  1. Command-line flags (applied later by UpdateFromFlags)
//  2. Environment variables (BEACON_*)
//  3. .env and .env.local files
//  4. Config file: configFile, $BEACON_CONFIG, ./.beacon.yaml or ~/.beacon.yaml
//  5. Defaults
func LoadConfig(configFile string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if configFile == "" {
		configFile = v.GetString("config")
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(".beacon")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !stderrors.As(err, &notFound) {
			return nil, errors.NewConfigError("config", "failed to read config file", err)
		}
	}

	config := &Config{
		Verbose:        v.GetBool("verbose"),
		Quiet:          v.GetBool("quiet"),
		NoColor:        v.GetBool("no-color"),
		Format:         v.GetString("format"),
		ConfigFile:     v.ConfigFileUsed(),
		DatabasePath:   v.GetString("database"),
		SessionTimeout: v.GetDuration("session.timeout"),
		Workers:        v.GetInt("workers"),

		EnvLogLevel: os.Getenv("LOG_LEVEL"),
		LogFormat:   getEnvOrDefault("LOG_FORMAT", "auto"),
		LogOutput:   getEnvOrDefault("LOG_OUTPUT", "stderr"),
	}
	// Unmarshal rather than UnmarshalKey so BEACON_SERVER_* overrides of
	// nested keys apply. Session keys have no viper defaults; the file
	// overlays auth.DefaultConfig and auth.ApplyEnv overlays the file.
	sections := struct {
		Session auth.Config   `mapstructure:"session"`
		Server  server.Config `mapstructure:"server"`
	}{Session: auth.DefaultConfig()}
	if err := v.Unmarshal(&sections); err != nil {
		return nil, errors.NewConfigError("config", "invalid settings", err)
	}
	if err := auth.ApplyEnv(&sections.Session); err != nil {
		return nil, err
	}
	config.Session = sections.Session
	config.Server = sections.Server

	return config, nil
}

func setDefaults(v *viper.Viper) {
	defaults := server.DefaultConfig()
	v.SetDefault("database", defaultDatabasePath())
	v.SetDefault("workers", 4)
	v.SetDefault("session.timeout", provider.DefaultSessionTimeout)
	v.SetDefault("server.host", defaults.Host)
	v.SetDefault("server.port", defaults.Port)
	v.SetDefault("server.prefix", defaults.PathPrefix)
	v.SetDefault("server.cors_origins", defaults.CORSOrigins)
	v.SetDefault("server.rate_limit", defaults.RateLimit)
	v.SetDefault("server.cache_ttl", defaults.CacheTTL)
	v.SetDefault("server.keep_alive", defaults.KeepAlive)
	v.SetDefault("server.read_timeout", defaults.ReadTimeout)
	v.SetDefault("server.write_timeout", defaults.WriteTimeout)
	v.SetDefault("server.idle_timeout", defaults.IdleTimeout)
}

// defaultDatabasePath keeps the database next to the user's config.
func defaultDatabasePath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "beacon", beacon.DefaultDatabasePath)
	}
	return beacon.DefaultDatabasePath
}

// UpdateFromFlags applies parsed global flags, which take precedence
// over the config file and environment.
func (c *Config) UpdateFromFlags(verbose, quiet, noColor bool, format, logLevel string) {
	c.Verbose = verbose
	c.Quiet = quiet
	c.NoColor = noColor
	if format != "" {
		c.Format = format
	}
	if logLevel != "" {
		c.LogLevel = logLevel
	}
}

// BeaconOptions converts the configuration into beacon options.
func (c *Config) BeaconOptions() []beacon.Option {
	return []beacon.Option{
		beacon.WithDatabasePath(c.DatabasePath),
		beacon.WithAuthConfig(c.Session),
		beacon.WithSessionTimeout(c.SessionTimeout),
		beacon.WithWorkers(c.Workers),
	}
}

// loadEnvFiles loads .env then .env.local. Variables already set in
// the environment win.
func loadEnvFiles() {
	for _, envFile := range []string{".env", ".env.local"} {
		_ = godotenv.Load(envFile)
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
