// Package handlers provides HTTP request handlers for the beacon API.
//
// Handlers are organized by domain:
//
//   - auth.go: login, logout and the current session
//   - activity.go: client activity ingestion
//   - admin.go: dashboard stats, user management and recent activity
//   - realtime.go: WebSocket and SSE feeds
//   - health.go: health and readiness checks
package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentstation/beacon/internal/activity"
	"github.com/agentstation/beacon/internal/admin"
	"github.com/agentstation/beacon/internal/auth"
	"github.com/agentstation/beacon/internal/clock"
	"github.com/agentstation/beacon/internal/dispatch"
	"github.com/agentstation/beacon/internal/server/cache"
	"github.com/agentstation/beacon/internal/server/events"
	"github.com/agentstation/beacon/internal/server/sse"
	ws "github.com/agentstation/beacon/internal/server/websocket"
	"github.com/agentstation/beacon/internal/sessiontracker"
	"github.com/agentstation/beacon/internal/storage/sqlite"
	"github.com/agentstation/beacon/pkg/errors"
)

const maxBodyBytes = 1 << 20

// Services are the domain components behind the API.
type Services struct {
	Auth     *auth.Manager
	Sessions *sessiontracker.SessionTracker
	Activity *activity.Hub
	Storage  *sqlite.Store
	Admin    *admin.Stores
	Broker   *events.Broker
	Clock    clock.Clock

	// Dispatcher runs follow-up work such as recording session ends.
	Dispatcher dispatch.Dispatcher
}

// Handlers provides access to all HTTP handlers.
type Handlers struct {
	svc               Services
	cache             *cache.Cache
	wsHub             *ws.Hub
	sseBroadcaster    *sse.Broadcaster
	keepAliveInterval time.Duration
	logger            *zerolog.Logger
}

// New creates a new Handlers instance.
func New(svc Services, c *cache.Cache, wsHub *ws.Hub, sseBroadcaster *sse.Broadcaster, logger *zerolog.Logger) *Handlers {
	if svc.Clock == nil {
		svc.Clock = clock.Real()
	}
	return &Handlers{
		svc:               svc,
		cache:             c,
		wsHub:             wsHub,
		sseBroadcaster:    sseBroadcaster,
		keepAliveInterval: 25 * time.Second,
		logger:            logger,
	}
}

// SetKeepAliveInterval sets how often idle streams send a comment.
func (h *Handlers) SetKeepAliveInterval(d time.Duration) {
	if d > 0 {
		h.keepAliveInterval = d
	}
}

func (h *Handlers) publish(t events.EventType, data any) {
	if h.svc.Broker != nil {
		h.svc.Broker.Publish(t, data)
	}
}

// decodeJSON reads a single JSON object from the request body.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.NewValidationError("body", nil, "invalid JSON body: "+err.Error())
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.NewValidationError("body", nil, "body must contain a single JSON object")
	}
	return nil
}
