package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/agentstation/beacon/internal/admin"
	"github.com/agentstation/beacon/internal/server/events"
	"github.com/agentstation/beacon/internal/server/sse"
	"github.com/agentstation/beacon/pkg/logging"
	"github.com/agentstation/beacon/pkg/store"
)

// HandleWebSocket handles WebSocket connections at /api/v1/updates/ws.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.publish(events.ClientConnected, map[string]any{
		"transport":   "websocket",
		"remote_addr": r.RemoteAddr,
	})
	h.wsHub.ServeHTTP(w, r)
}

// HandleSSE handles Server-Sent Events at /api/v1/updates/stream.
func (h *Handlers) HandleSSE(w http.ResponseWriter, r *http.Request) {
	h.sseBroadcaster.ServeHTTP(w, r)
}

// HandleAdminStream handles GET /api/v1/admin/stream. Each client holds
// its own binding to the quick stats store and receives the latest
// snapshot after every change; bursts of changes may coalesce.
func (h *Handlers) HandleAdminStream(w http.ResponseWriter, r *http.Request) {
	stream, err := sse.NewStream(w)
	if err != nil {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}
	log := logging.Ctx(r.Context())

	err = store.With(h.svc.Admin.QuickStats.Store(), func(b *store.Binding[admin.QuickStats]) error {
		send := func() error {
			return stream.Send(sse.Event{
				Event: "quick_stats",
				ID:    strconv.FormatUint(b.Updates(), 10),
				Data:  b.Snapshot(),
			})
		}
		if err := send(); err != nil {
			return err
		}

		keepAlive := time.NewTicker(h.keepAliveInterval)
		defer keepAlive.Stop()
		for {
			select {
			case <-r.Context().Done():
				return nil
			case <-b.Done():
				return nil
			case <-b.Changed():
				if err := send(); err != nil {
					return err
				}
			case <-keepAlive.C:
				if err := stream.Comment("keep-alive"); err != nil {
					return err
				}
			}
		}
	})
	if err != nil {
		log.Debug().Err(err).Msg("Admin stream closed")
	}
}
