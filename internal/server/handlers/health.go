package handlers

import (
	"net/http"

	"github.com/agentstation/beacon/internal/server/response"
)

// HandleHealth handles GET /api/v1/health (liveness).
func (h *Handlers) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	response.OK(w, map[string]any{
		"status":  "healthy",
		"service": "beacon",
	})
}

// HandleReady handles GET /api/v1/ready. It fails while the database is
// unreachable.
func (h *Handlers) HandleReady(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Storage.Ping(r.Context()); err != nil {
		h.logger.Warn().Err(err).Msg("Readiness check failed")
		response.ServiceUnavailable(w, "Database not available")
		return
	}

	response.OK(w, map[string]any{
		"status":            "ready",
		"live_sessions":     h.svc.Auth.Count(),
		"tracked_sessions":  h.svc.Activity.Count(),
		"websocket_clients": h.wsHub.ClientCount(),
		"sse_clients":       h.sseBroadcaster.ClientCount(),
		"stats_listeners":   h.svc.Admin.QuickStats.Store().ListenerCount(),
		"cache_items":       h.cache.ItemCount(),
	})
}
