package server

import (
	"net/http"
	"time"

	"github.com/agentstation/beacon/internal/server/handlers"
	"github.com/agentstation/beacon/internal/server/middleware"
)

// setupRouter creates the HTTP handler with routes and middleware.
func (s *Server) setupRouter() http.Handler {
	mux := http.NewServeMux()

	h := handlers.New(s.svc, s.cache, s.wsHub, s.sseBroadcaster, s.logger)
	h.SetKeepAliveInterval(s.config.KeepAlive)

	s.registerRoutes(mux, h)

	return s.applyMiddleware(mux)
}

// registerRoutes registers all HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux, h *handlers.Handlers) {
	prefix := s.config.PathPrefix

	session := middleware.RequireSession(s.svc.Auth, s.logger)
	admin := middleware.Chain(session, middleware.RequireAdmin(s.logger))

	// Favicon handler (return 204 No Content to avoid 404 logs)
	mux.HandleFunc("GET /favicon.ico", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	// Public endpoints
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET "+prefix+"/health", h.HandleHealth)
	mux.HandleFunc("GET "+prefix+"/ready", h.HandleReady)
	mux.HandleFunc("POST "+prefix+"/auth/login", h.HandleLogin)

	// Session endpoints
	mux.Handle("POST "+prefix+"/auth/logout", session(http.HandlerFunc(h.HandleLogout)))
	mux.Handle("GET "+prefix+"/auth/session", session(http.HandlerFunc(h.HandleSession)))
	mux.Handle("POST "+prefix+"/activity", session(http.HandlerFunc(h.HandleActivity)))

	// Admin endpoints
	mux.Handle("GET "+prefix+"/admin/stats", admin(http.HandlerFunc(h.HandleStats)))
	mux.Handle("GET "+prefix+"/admin/users", admin(http.HandlerFunc(h.HandleListUsers)))
	mux.Handle("POST "+prefix+"/admin/users", admin(http.HandlerFunc(h.HandleCreateUser)))
	mux.Handle("DELETE "+prefix+"/admin/users/{id}", admin(http.HandlerFunc(h.HandleDeleteUser)))
	mux.Handle("GET "+prefix+"/admin/activity", admin(http.HandlerFunc(h.HandleActivityLog)))

	// Real-time endpoints
	mux.Handle("GET "+prefix+"/admin/stream", admin(http.HandlerFunc(h.HandleAdminStream)))
	mux.Handle("GET "+prefix+"/updates/ws", admin(http.HandlerFunc(h.HandleWebSocket)))
	mux.Handle("GET "+prefix+"/updates/stream", admin(http.HandlerFunc(h.HandleSSE)))
}

// applyMiddleware wraps handler with the middleware chain. RequestID is
// outermost so recovery and request logs carry the ID.
func (s *Server) applyMiddleware(handler http.Handler) http.Handler {
	cfg := s.config

	// Rate limiting (if enabled)
	if cfg.RateLimit > 0 {
		s.rateLimiter = middleware.NewRateLimiter(cfg.RateLimit, time.Minute, s.logger, middleware.WithRateClock(s.svc.Clock))
		handler = middleware.RateLimit(s.rateLimiter)(handler)
	}

	corsConfig := middleware.DefaultCORSConfig()
	if len(cfg.CORSOrigins) > 0 {
		corsConfig.AllowedOrigins = cfg.CORSOrigins
	}
	handler = middleware.CORS(corsConfig)(handler)

	// Logging and recovery (always enabled)
	handler = middleware.Logger(s.logger)(handler)
	handler = middleware.Recovery(s.logger)(handler)
	handler = middleware.RequestID(s.logger)(handler)

	return handler
}
