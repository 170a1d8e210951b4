// Package activity keeps one activity provider per live login session.
//
// Each session gets a presence store and a provider mounted on it.
// Starting a session sets presence, which starts tracking; ending it
// clears presence, which flushes the pending duration and tears the
// tracker down.
package activity

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentstation/beacon/internal/auth"
	"github.com/agentstation/beacon/internal/clock"
	"github.com/agentstation/beacon/internal/dispatch"
	"github.com/agentstation/beacon/internal/provider"
	"github.com/agentstation/beacon/internal/server/events"
	"github.com/agentstation/beacon/internal/tracker"
	"github.com/agentstation/beacon/pkg/errors"
	"github.com/agentstation/beacon/pkg/logging"
	"github.com/agentstation/beacon/pkg/store"
)

// Transition is the payload of a tracker transition event.
type Transition struct {
	SessionID string `json:"session_id"`
	tracker.Transition
}

// SessionStatus is a tracker status tagged with its session.
type SessionStatus struct {
	SessionID string `json:"session_id"`
	tracker.Status
}

// Option configures a Hub.
type Option func(*Hub)

// WithClock sets the clock passed to trackers.
func WithClock(c clock.Clock) Option {
	return func(h *Hub) {
		if c != nil {
			h.clock = c
		}
	}
}

// WithLogger sets the hub logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(h *Hub) {
		h.base = logger
		h.logger = logging.Component(logger, "activity")
	}
}

// WithSessionTimeout sets the idle threshold of every tracker.
func WithSessionTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithPublisher publishes tracker transitions.
func WithPublisher(p events.Publisher) Option {
	return func(h *Hub) {
		if p != nil {
			h.publisher = p
		}
	}
}

// SessionReporter hands out reporters scoped to one login session.
type SessionReporter interface {
	ForSession(sessionID string) tracker.Reporter
}

type client struct {
	session  auth.Session
	presence *store.Store[auth.Presence]
	provider *provider.Provider
}

// Hub owns the per-session providers.
type Hub struct {
	reporter   tracker.Reporter
	dispatcher dispatch.Dispatcher
	clock      clock.Clock
	timeout    time.Duration
	publisher  events.Publisher
	base       *zerolog.Logger
	logger     *zerolog.Logger

	mu      sync.Mutex
	clients map[string]*client
	closed  bool
}

// New creates an empty hub.
func New(reporter tracker.Reporter, dispatcher dispatch.Dispatcher, opts ...Option) *Hub {
	h := &Hub{
		reporter:   reporter,
		dispatcher: dispatcher,
		clock:      clock.Real(),
		timeout:    provider.DefaultSessionTimeout,
		publisher:  events.Discard,
		logger:     logging.Component(nil, "activity"),
		clients:    make(map[string]*client),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Attach ends tracking whenever the manager ends a session.
func (h *Hub) Attach(m *auth.Manager) {
	m.OnSessionEnded(func(s auth.Session) {
		if err := h.End(s.ID); err != nil && !errors.IsNotFound(err) {
			h.logger.Warn().Err(err).Str("session_id", s.ID).Msg("Failed to end tracking")
		}
	})
}

// Start begins tracking for a session. Starting a tracked session is a
// no-op.
func (h *Hub) Start(session auth.Session) error {
	if session.ID == "" || session.UserID == "" {
		return errors.NewValidationError("session", session.ID, "session id and user id are required")
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return errors.ErrClosed
	}
	if _, ok := h.clients[session.ID]; ok {
		h.mu.Unlock()
		return nil
	}

	c := &client{
		session:  session,
		presence: auth.NewPresenceStore(session.ID, h.base),
	}
	reporter := h.reporterFor(session.ID)
	c.provider = provider.New(c.presence, func(cfg tracker.Config) (*tracker.Tracker, error) {
		return tracker.New(cfg, reporter, h.dispatcher,
			tracker.WithClock(h.clock),
			tracker.WithLogger(h.base),
		)
	},
		provider.WithSessionTimeout(h.timeout),
		provider.WithLogger(h.base),
		provider.WithTrackerHook(func(tr tracker.Transition) {
			h.publisher.Publish(events.TrackerTransition, Transition{SessionID: session.ID, Transition: tr})
		}),
	)
	h.clients[session.ID] = c
	h.mu.Unlock()

	if err := c.provider.Mount(); err != nil {
		h.remove(session.ID)
		return err
	}
	c.presence.Set(auth.Presence{UserID: session.UserID})

	h.logger.Debug().Str("session_id", session.ID).Str("user_id", session.UserID).Msg("Tracking started")
	return nil
}

func (h *Hub) reporterFor(sessionID string) tracker.Reporter {
	if sr, ok := h.reporter.(SessionReporter); ok {
		return sr.ForSession(sessionID)
	}
	return h.reporter
}

func (h *Hub) get(sessionID string) (*client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, errors.ErrClosed
	}
	c, ok := h.clients[sessionID]
	if !ok {
		return nil, errors.NewNotFoundError("tracked session", sessionID)
	}
	return c, nil
}

func (h *Hub) remove(sessionID string) *client {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := h.clients[sessionID]
	delete(h.clients, sessionID)
	return c
}

// Navigate records a page navigation for a session.
func (h *Hub) Navigate(sessionID, path string) error {
	c, err := h.get(sessionID)
	if err != nil {
		return err
	}
	return c.provider.Navigate(path)
}

// Activity records input activity for a session.
func (h *Hub) Activity(sessionID string) error {
	c, err := h.get(sessionID)
	if err != nil {
		return err
	}
	return c.provider.Activity()
}

// End stops tracking for a session, flushing its duration report.
func (h *Hub) End(sessionID string) error {
	c := h.remove(sessionID)
	if c == nil {
		return errors.NewNotFoundError("tracked session", sessionID)
	}
	c.presence.Set(auth.Presence{})
	c.provider.Close()

	h.logger.Debug().Str("session_id", sessionID).Msg("Tracking ended")
	return nil
}

// State returns the tracker state of a session. Untracked sessions are
// Inactive.
func (h *Hub) State(sessionID string) tracker.State {
	c, err := h.get(sessionID)
	if err != nil {
		return tracker.Inactive
	}
	return c.provider.State()
}

// Status returns the tracker status of a session.
func (h *Hub) Status(sessionID string) (SessionStatus, error) {
	c, err := h.get(sessionID)
	if err != nil {
		return SessionStatus{}, err
	}
	return SessionStatus{SessionID: sessionID, Status: c.provider.Status()}, nil
}

// Statuses returns every tracked session's status ordered by session ID.
func (h *Hub) Statuses() []SessionStatus {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	out := make([]SessionStatus, 0, len(clients))
	for _, c := range clients {
		out = append(out, SessionStatus{SessionID: c.session.ID, Status: c.provider.Status()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// Count returns the number of tracked sessions.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close ends every session and rejects further starts.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := h.clients
	h.clients = make(map[string]*client)
	h.mu.Unlock()

	for _, c := range clients {
		c.presence.Set(auth.Presence{})
		c.provider.Close()
	}
}
