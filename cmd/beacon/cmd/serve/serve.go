// Package serve provides the command that runs the beacon HTTP API.
package serve

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/agentstation/beacon/internal/cmd/application"
	"github.com/agentstation/beacon/internal/cmd/emoji"
	"github.com/agentstation/beacon/internal/server"
)

// shutdownTimeout bounds connection draining after a signal.
const shutdownTimeout = 30 * time.Second

// NewCommand creates the serve command.
func NewCommand(app application.Application) *cobra.Command {
	defaults := app.ServerConfig()

	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"server"},
		GroupID: "core",
		Short:   "Start the HTTP API",
		Long: `Start the beacon HTTP API.

Endpoints:
  - Login, logout and session status (/api/v1/auth/*)
  - Navigation and activity reports from signed-in clients (/api/v1/activity)
  - Admin stats, user management and activity log (/api/v1/admin/*)
  - Live quick stats over SSE (/api/v1/admin/stream)
  - Event feeds over WebSocket and SSE (/api/v1/updates/ws, /api/v1/updates/stream)

Settings come from ~/.beacon.yaml and BEACON_* variables; flags win.
BEACON_SESSION_SECRET must be set.`,
		Example: `  # Start on the default address
  beacon serve

  # Listen on all interfaces with a custom port
  beacon serve --host 0.0.0.0 --port 3000

  # Allow a browser app on another origin
  beacon serve --cors-origins https://dashboard.example.com`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := parseConfig(cmd, app.ServerConfig())
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg, app)
		},
	}

	cmd.Flags().IntP("port", "p", defaults.Port, "Server port")
	cmd.Flags().String("host", defaults.Host, "Bind address")
	cmd.Flags().String("prefix", defaults.PathPrefix, "API path prefix")
	cmd.Flags().StringSlice("cors-origins", defaults.CORSOrigins, "Allowed CORS origins (comma-separated, empty allows any)")
	cmd.Flags().Int("rate-limit", defaults.RateLimit, "Requests per minute per IP (0 to disable)")
	cmd.Flags().Duration("cache-ttl", defaults.CacheTTL, "Activity log cache TTL")
	cmd.Flags().Duration("keep-alive", defaults.KeepAlive, "Stream keep-alive interval")
	cmd.Flags().Duration("read-timeout", defaults.ReadTimeout, "HTTP read timeout")
	cmd.Flags().Duration("write-timeout", defaults.WriteTimeout, "HTTP write timeout (0 keeps streams open)")
	cmd.Flags().Duration("idle-timeout", defaults.IdleTimeout, "HTTP idle timeout")

	return cmd
}

// parseConfig applies changed flags and HTTP_HOST/HTTP_PORT over cfg.
func parseConfig(cmd *cobra.Command, cfg server.Config) (server.Config, error) {
	if envHost := os.Getenv("HTTP_HOST"); envHost != "" {
		cfg.Host = envHost
	}
	if envPort := os.Getenv("HTTP_PORT"); envPort != "" {
		port, err := parsePort(envPort)
		if err != nil {
			return cfg, err
		}
		cfg.Port = port
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Port = mustGetInt(cmd, "port")
	}
	if flags.Changed("host") {
		cfg.Host = mustGetString(cmd, "host")
	}
	if flags.Changed("prefix") {
		cfg.PathPrefix = mustGetString(cmd, "prefix")
	}
	if flags.Changed("cors-origins") {
		cfg.CORSOrigins = mustGetStringSlice(cmd, "cors-origins")
	}
	if flags.Changed("rate-limit") {
		cfg.RateLimit = mustGetInt(cmd, "rate-limit")
	}
	for name, dst := range map[string]*time.Duration{
		"cache-ttl":     &cfg.CacheTTL,
		"keep-alive":    &cfg.KeepAlive,
		"read-timeout":  &cfg.ReadTimeout,
		"write-timeout": &cfg.WriteTimeout,
		"idle-timeout":  &cfg.IdleTimeout,
	} {
		if flags.Changed(name) {
			*dst = mustGetDuration(cmd, name)
		}
	}
	return cfg, cfg.Validate()
}

func runServer(ctx context.Context, cfg server.Config, app application.Application) error {
	logger := app.Logger()

	b, err := app.Beacon(ctx)
	if err != nil {
		return err
	}

	srv, err := server.New(b.Services(), cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.Start()

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	logger.Info().
		Str("addr", cfg.Addr()).
		Str("prefix", cfg.PathPrefix).
		Strs("cors_origins", cfg.CORSOrigins).
		Int("rate_limit", cfg.RateLimit).
		Dur("cache_ttl", cfg.CacheTTL).
		Msg("Starting API server")

	// Background work outlives the signal so reports submitted while
	// the server drains are still recorded.
	runCtx, stopRun := context.WithCancel(context.WithoutCancel(ctx))
	defer stopRun()
	serveCtx, stopServe := context.WithCancel(ctx)
	defer stopServe()

	runErr := make(chan error, 1)
	go func() {
		err := b.Run(runCtx)
		if err != nil {
			stopServe()
		}
		runErr <- err
	}()

	err = startWithGracefulShutdown(serveCtx, httpServer, srv, logger)
	stopRun()
	if rerr := <-runErr; err == nil {
		err = rerr
	}
	return err
}

// startWithGracefulShutdown serves until ctx is cancelled, then drains
// connections and stops the server's background services.
func startWithGracefulShutdown(ctx context.Context, httpServer *http.Server, srv *server.Server, logger *zerolog.Logger) error {
	serverErr := make(chan error, 1)

	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("HTTP server listening")
		fmt.Printf("%s API server listening on %s\n", emoji.Rocket, httpServer.Addr)
		fmt.Println("   Press Ctrl+C to stop")

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- fmt.Errorf("server failed: %w", err)
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		logger.Info().Msg("Shutdown signal received")
		fmt.Printf("\n%s Shutting down API server...\n", emoji.Stop)

		// ctx is already cancelled.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Background services shutdown had issues")
		}

		logger.Info().Msg("Server stopped gracefully")
		fmt.Printf("%s API server stopped gracefully\n", emoji.Success)
		return nil
	}
}

func parsePort(portStr string) (int, error) {
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, fmt.Errorf("invalid port number: %s", portStr)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("port out of range: %d", port)
	}
	return port, nil
}

// mustGetInt panics if the flag is not defined, which is a programming
// error.
func mustGetInt(cmd *cobra.Command, name string) int {
	val, err := cmd.Flags().GetInt(name)
	if err != nil {
		panic(fmt.Sprintf("programming error: failed to get flag %q: %v", name, err))
	}
	return val
}

func mustGetString(cmd *cobra.Command, name string) string {
	val, err := cmd.Flags().GetString(name)
	if err != nil {
		panic(fmt.Sprintf("programming error: failed to get flag %q: %v", name, err))
	}
	return val
}

func mustGetStringSlice(cmd *cobra.Command, name string) []string {
	val, err := cmd.Flags().GetStringSlice(name)
	if err != nil {
		panic(fmt.Sprintf("programming error: failed to get flag %q: %v", name, err))
	}
	return val
}

func mustGetDuration(cmd *cobra.Command, name string) time.Duration {
	val, err := cmd.Flags().GetDuration(name)
	if err != nil {
		panic(fmt.Sprintf("programming error: failed to get flag %q: %v", name, err))
	}
	return val
}
