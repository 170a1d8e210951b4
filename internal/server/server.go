// Package server provides the HTTP API for beacon: authentication,
// activity ingestion, admin endpoints and real-time feeds.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentstation/beacon/internal/auth"
	"github.com/agentstation/beacon/internal/clock"
	"github.com/agentstation/beacon/internal/dispatch"
	"github.com/agentstation/beacon/internal/server/cache"
	"github.com/agentstation/beacon/internal/server/events"
	"github.com/agentstation/beacon/internal/server/handlers"
	"github.com/agentstation/beacon/internal/server/middleware"
	"github.com/agentstation/beacon/internal/server/sse"
	ws "github.com/agentstation/beacon/internal/server/websocket"
	"github.com/agentstation/beacon/pkg/errors"
	"github.com/agentstation/beacon/pkg/logging"
)

// Server holds the HTTP server state and dependencies.
type Server struct {
	svc            handlers.Services
	cache          *cache.Cache
	wsHub          *ws.Hub
	sseBroadcaster *sse.Broadcaster
	rateLimiter    *middleware.RateLimiter
	logger         *zerolog.Logger
	config         Config
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	startOnce      sync.Once
	startTime      time.Time
	detachSinks    []func()
}

// New creates a server around svc. Auth, Sessions, Activity, Storage,
// Admin and Broker are required.
func New(svc handlers.Services, cfg Config, logger *zerolog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if svc.Auth == nil || svc.Sessions == nil || svc.Activity == nil || svc.Storage == nil || svc.Admin == nil || svc.Broker == nil {
		return nil, errors.NewConfigError("server", "auth, sessions, activity, storage, admin and broker are required", nil)
	}
	if svc.Clock == nil {
		svc.Clock = clock.Real()
	}
	if svc.Dispatcher == nil {
		svc.Dispatcher = dispatch.Inline{Logger: logger}
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = DefaultConfig().CacheTTL
	}
	logger = logging.Component(logger, "server")

	logger.Debug().Msg("Creating new server instance")

	wsHub := ws.NewHub(logger)
	sseBroadcaster := sse.NewBroadcaster(logger)

	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		svc:            svc,
		cache:          cache.New(cfg.CacheTTL, cfg.CacheTTL*2),
		wsHub:          wsHub,
		sseBroadcaster: sseBroadcaster,
		logger:         logger,
		config:         cfg,
		ctx:            ctx,
		cancel:         cancel,
		startTime:      svc.Clock.Now(),
		detachSinks: []func(){
			svc.Broker.Subscribe(events.WebSocket(wsHub)),
			svc.Broker.Subscribe(events.SSE(sseBroadcaster)),
		},
	}
	if len(cfg.CORSOrigins) > 0 {
		wsHub.SetCheckOrigin(s.checkOrigin)
	}

	s.connectHooks()

	logger.Debug().Msg("Server instance created successfully")
	return s, nil
}

// connectHooks ends tracking and records the end of every session the
// auth manager closes, whether by logout or expiry.
func (s *Server) connectHooks() {
	s.svc.Activity.Attach(s.svc.Auth)
	s.svc.Auth.OnSessionEnded(func(session auth.Session) {
		s.svc.Dispatcher.Submit("session.end", func(ctx context.Context) error {
			return s.svc.Sessions.TrackSessionEnd(ctx, session)
		})
	})
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.config.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Start starts background services (broker, WebSocket hub, SSE
// broadcaster). Calling Start more than once is a no-op.
func (s *Server) Start() {
	s.startOnce.Do(func() {
		s.logger.Debug().Msg("Starting background services")
		for _, run := range []func(context.Context){
			s.svc.Broker.Run,
			s.wsHub.Run,
			s.sseBroadcaster.Run,
		} {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				run(s.ctx)
			}()
		}
	})
}

// Handler returns the configured http.Handler with middleware chain applied.
func (s *Server) Handler() http.Handler {
	return s.setupRouter()
}

// Shutdown stops background services and ends live tracking. It waits
// for the services to exit or ctx to be done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down server background services")

	s.cancel()
	for _, detach := range s.detachSinks {
		detach()
	}
	s.svc.Activity.Close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("Background services shut down successfully")
		return nil
	case <-ctx.Done():
		s.logger.Warn().Msg("Background services shutdown timed out")
		return ctx.Err()
	}
}

// Cache returns the server's cache instance.
func (s *Server) Cache() *cache.Cache {
	return s.cache
}

// WSHub returns the WebSocket hub.
func (s *Server) WSHub() *ws.Hub {
	return s.wsHub
}

// SSEBroadcaster returns the SSE broadcaster.
func (s *Server) SSEBroadcaster() *sse.Broadcaster {
	return s.sseBroadcaster
}

// Broker returns the event broker for publishing events.
func (s *Server) Broker() *events.Broker {
	return s.svc.Broker
}

// StartTime returns the server start time for uptime calculations.
func (s *Server) StartTime() time.Time {
	return s.startTime
}
