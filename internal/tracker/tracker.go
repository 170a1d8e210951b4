// Package tracker follows one user session through Inactive, Tracking
// and Idle, reporting page views and active durations to a Reporter.
//
// All reporting is submitted to a dispatch.Dispatcher; the tracker never
// waits for a report and never sees its errors.
package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentstation/beacon/internal/clock"
	"github.com/agentstation/beacon/internal/dispatch"
	"github.com/agentstation/beacon/pkg/errors"
	"github.com/agentstation/beacon/pkg/logging"
)

// State is the tracker lifecycle state.
type State int

const (
	// Inactive means no user session is present.
	Inactive State = iota
	// Tracking means a session is present and the idle timer is armed.
	Tracking
	// Idle means the session exceeded its inactivity threshold.
	Idle
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Tracking:
		return "tracking"
	case Idle:
		return "idle"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	for _, candidate := range []State{Inactive, Tracking, Idle} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return errors.NewValidationError("state", string(text), "unknown tracker state")
}

// Config controls what a tracker reports. It is fixed for one activation;
// use Reconfigure to change it.
type Config struct {
	TrackPageViews   bool          `json:"track_page_views" yaml:"track_page_views"`
	TrackSessionTime bool          `json:"track_session_time" yaml:"track_session_time"`
	SessionTimeout   time.Duration `json:"session_timeout" yaml:"session_timeout"`
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.SessionTimeout <= 0 {
		return errors.NewValidationError("session_timeout", c.SessionTimeout, "must be positive")
	}
	return nil
}

// Reporter receives tracking reports.
type Reporter interface {
	TrackPageView(ctx context.Context, userID, path string) error
	TrackSessionDuration(ctx context.Context, userID string, d time.Duration) error
}

// Transition describes a state change.
type Transition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	UserID string    `json:"user_id"`
	At     time.Time `json:"at"`
}

// TransitionHook is called after a state change.
type TransitionHook func(Transition)

// Status is a point-in-time view of a tracker.
type Status struct {
	State        State     `json:"state"`
	UserID       string    `json:"user_id,omitempty"`
	Path         string    `json:"path,omitempty"`
	ActiveSince  time.Time `json:"active_since,omitzero"`
	LastActivity time.Time `json:"last_activity,omitzero"`
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock sets the clock used for timestamps and the idle timer.
func WithClock(c clock.Clock) Option {
	return func(t *Tracker) {
		if c != nil {
			t.clock = c
		}
	}
}

// WithLogger sets the tracker logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(t *Tracker) {
		t.logger = logging.Component(logger, "tracker")
	}
}

// Tracker is the activity state machine for a single session.
type Tracker struct {
	reporter   Reporter
	dispatcher dispatch.Dispatcher
	clock      clock.Clock
	logger     *zerolog.Logger

	mu           sync.Mutex
	cfg          Config
	state        State
	userID       string
	path         string
	lastReported string
	activeSince  time.Time
	lastActivity time.Time
	timer        clock.Timer
	generation   uint64
	closed       bool

	hooksMu sync.RWMutex
	hooks   []TransitionHook
}

// New creates an Inactive tracker.
func New(cfg Config, reporter Reporter, dispatcher dispatch.Dispatcher, opts ...Option) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if reporter == nil {
		return nil, errors.NewValidationError("reporter", nil, "reporter is required")
	}

	t := &Tracker{
		cfg:      cfg,
		reporter: reporter,
		clock:    clock.Real(),
		logger:   logging.Component(nil, "tracker"),
	}
	for _, opt := range opts {
		opt(t)
	}
	if dispatcher == nil {
		dispatcher = dispatch.Inline{Logger: t.logger}
	}
	t.dispatcher = dispatcher
	return t, nil
}

// OnTransition registers fn to run after every state change. Hooks run
// in registration order outside the tracker lock.
func (t *Tracker) OnTransition(fn TransitionHook) {
	t.hooksMu.Lock()
	defer t.hooksMu.Unlock()
	t.hooks = append(t.hooks, fn)
}

// State returns the current state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// User returns the tracked user, or "" when Inactive.
func (t *Tracker) User() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.userID
}

// Path returns the current path.
func (t *Tracker) Path() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.path
}

// Config returns the active configuration.
func (t *Tracker) Config() Config {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cfg
}

// Status returns a snapshot of the tracker.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Status{
		State:        t.state,
		UserID:       t.userID,
		Path:         t.path,
		ActiveSince:  t.activeSince,
		LastActivity: t.lastActivity,
	}
}

// SetUser sets the session user. A non-empty ID starts tracking, an
// empty ID ends it and a different ID ends the current session before
// starting the new one.
func (t *Tracker) SetUser(userID string) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errors.ErrClosed
	}
	var fx effects
	if userID != t.userID {
		now := t.clock.Now()
		if t.state != Inactive {
			t.end(now, &fx)
		}
		if userID != "" {
			t.start(userID, now, &fx)
		}
	}
	t.mu.Unlock()

	t.apply(fx)
	return nil
}

// Navigate records a page navigation. While a session is present it
// counts as activity and is reported if the path differs from the last
// reported one.
func (t *Tracker) Navigate(path string) error {
	if path == "" {
		return errors.NewValidationError("path", path, "path is required")
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errors.ErrClosed
	}
	var fx effects
	t.path = path
	if t.state != Inactive {
		t.touch(t.clock.Now(), &fx)
		t.reportPath(&fx)
	}
	t.mu.Unlock()

	t.apply(fx)
	return nil
}

// Activity records user input. It rearms the idle timer and resumes
// tracking from Idle.
func (t *Tracker) Activity() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errors.ErrClosed
	}
	var fx effects
	if t.state != Inactive {
		t.touch(t.clock.Now(), &fx)
	}
	t.mu.Unlock()

	t.apply(fx)
	return nil
}

// Reconfigure tears tracking down and starts it again for the same user
// under cfg.
func (t *Tracker) Reconfigure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errors.ErrClosed
	}
	var fx effects
	userID := t.userID
	now := t.clock.Now()
	if t.state != Inactive {
		t.end(now, &fx)
	}
	t.cfg = cfg
	if userID != "" {
		t.start(userID, now, &fx)
	}
	t.mu.Unlock()

	t.apply(fx)
	return nil
}

// Close ends the session and rejects further use. Safe to call more than
// once.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	var fx effects
	if t.state != Inactive {
		t.end(t.clock.Now(), &fx)
	}
	t.closed = true
	t.mu.Unlock()

	t.apply(fx)
}

// effects are collected under the lock and applied after it is released
// so that hooks and inline reporters may call back into the tracker.
type effects struct {
	transitions []Transition
	reports     []report
}

type report struct {
	name string
	task dispatch.Task
}

func (t *Tracker) start(userID string, now time.Time, fx *effects) {
	t.userID = userID
	t.lastReported = ""
	t.activeSince = now
	t.lastActivity = now
	t.transition(Tracking, now, fx)
	t.arm()
	t.reportPath(fx)
}

func (t *Tracker) end(now time.Time, fx *effects) {
	t.disarm()
	if t.state == Tracking && t.cfg.TrackSessionTime {
		t.reportDuration(now.Sub(t.activeSince), fx)
	}
	t.transition(Inactive, now, fx)
	t.userID = ""
	t.lastReported = ""
	t.activeSince = time.Time{}
	t.lastActivity = time.Time{}
}

// touch records qualifying activity.
func (t *Tracker) touch(now time.Time, fx *effects) {
	if t.state == Idle {
		t.activeSince = now
		t.transition(Tracking, now, fx)
	}
	t.lastActivity = now
	t.arm()
}

func (t *Tracker) onIdle(generation uint64) {
	t.mu.Lock()
	if generation != t.generation || t.state != Tracking {
		t.mu.Unlock()
		return
	}
	var fx effects
	t.timer = nil
	now := t.clock.Now()
	if t.cfg.TrackSessionTime {
		t.reportDuration(t.lastActivity.Sub(t.activeSince), &fx)
	}
	t.transition(Idle, now, &fx)
	t.mu.Unlock()

	t.apply(fx)
}

// arm replaces any pending idle timer.
func (t *Tracker) arm() {
	t.disarm()
	generation := t.generation
	t.timer = t.clock.AfterFunc(t.cfg.SessionTimeout, func() {
		t.onIdle(generation)
	})
}

func (t *Tracker) disarm() {
	t.generation++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *Tracker) transition(to State, now time.Time, fx *effects) {
	if t.state == to {
		return
	}
	fx.transitions = append(fx.transitions, Transition{
		From:   t.state,
		To:     to,
		UserID: t.userID,
		At:     now,
	})
	t.state = to
}

func (t *Tracker) reportPath(fx *effects) {
	if !t.cfg.TrackPageViews || t.path == "" || t.path == t.lastReported {
		return
	}
	t.lastReported = t.path
	userID, path := t.userID, t.path
	fx.reports = append(fx.reports, report{
		name: "page_view",
		task: func(ctx context.Context) error {
			return t.reporter.TrackPageView(ctx, userID, path)
		},
	})
}

func (t *Tracker) reportDuration(d time.Duration, fx *effects) {
	if d < 0 {
		d = 0
	}
	userID := t.userID
	fx.reports = append(fx.reports, report{
		name: "session_duration",
		task: func(ctx context.Context) error {
			return t.reporter.TrackSessionDuration(ctx, userID, d)
		},
	})
}

func (t *Tracker) apply(fx effects) {
	if len(fx.transitions) > 0 {
		t.hooksMu.RLock()
		hooks := t.hooks
		t.hooksMu.RUnlock()

		for _, tr := range fx.transitions {
			t.logger.Debug().
				Str("user_id", tr.UserID).
				Stringer("from", tr.From).
				Stringer("to", tr.To).
				Msg("Tracker transition")
			for _, hook := range hooks {
				hook(tr)
			}
		}
	}

	for _, r := range fx.reports {
		if !t.dispatcher.Submit(r.name, r.task) {
			t.logger.Debug().Str("report", r.name).Msg("Report not accepted")
		}
	}
}
