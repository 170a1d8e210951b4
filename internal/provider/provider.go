// Package provider connects a session's presence to an activity tracker.
// Tracking is enabled exactly while a user is present.
package provider

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentstation/beacon/internal/auth"
	"github.com/agentstation/beacon/internal/tracker"
	"github.com/agentstation/beacon/pkg/errors"
	"github.com/agentstation/beacon/pkg/logging"
	"github.com/agentstation/beacon/pkg/store"
)

// DefaultSessionTimeout is the inactivity threshold passed to trackers.
const DefaultSessionTimeout = 30 * time.Minute

// TrackerFactory builds a tracker for a configuration.
type TrackerFactory func(cfg tracker.Config) (*tracker.Tracker, error)

// ConfigFor returns the tracker configuration for a presence value.
func ConfigFor(present bool, timeout time.Duration) tracker.Config {
	return tracker.Config{
		TrackPageViews:   present,
		TrackSessionTime: present,
		SessionTimeout:   timeout,
	}
}

// Option configures a Provider.
type Option func(*Provider)

// WithSessionTimeout overrides DefaultSessionTimeout.
func WithSessionTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithLogger sets the provider logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(p *Provider) {
		p.logger = logging.Component(logger, "provider")
	}
}

// WithTrackerHook registers fn on every tracker the provider creates.
// Hooks run while the provider applies a presence change and must not
// call back into the provider.
func WithTrackerHook(fn tracker.TransitionHook) Option {
	return func(p *Provider) {
		p.hooks = append(p.hooks, fn)
	}
}

// Provider owns the tracker for one presence store.
type Provider struct {
	presence *store.Store[auth.Presence]
	factory  TrackerFactory
	timeout  time.Duration
	logger   *zerolog.Logger
	hooks    []tracker.TransitionHook

	mu          sync.Mutex
	tracker     *tracker.Tracker
	path        string
	unsubscribe func()
	mounted     bool
	closed      bool
}

// New creates an unmounted provider.
func New(presence *store.Store[auth.Presence], factory TrackerFactory, opts ...Option) *Provider {
	p := &Provider{
		presence: presence,
		factory:  factory,
		timeout:  DefaultSessionTimeout,
		logger:   logging.Component(nil, "provider"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Mount subscribes to presence and applies its current value.
func (p *Provider) Mount() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.ErrClosed
	}
	if p.mounted {
		p.mu.Unlock()
		return nil
	}
	p.mounted = true
	p.mu.Unlock()

	unsubscribe := p.presence.Subscribe(p.evaluate)

	p.mu.Lock()
	p.unsubscribe = unsubscribe
	p.mu.Unlock()

	return p.apply(p.presence.State())
}

// Close unsubscribes from presence and tears down the tracker. Safe to
// call more than once.
func (p *Provider) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	unsubscribe := p.unsubscribe
	t := p.tracker
	p.tracker = nil
	p.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if t != nil {
		t.Close()
	}
}

// Tracker returns the active tracker, or nil while no user is present.
func (p *Provider) Tracker() *tracker.Tracker {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tracker
}

// State returns the tracker state, Inactive when there is no tracker.
func (p *Provider) State() tracker.State {
	if t := p.Tracker(); t != nil {
		return t.State()
	}
	return tracker.Inactive
}

// Status returns the tracker status.
func (p *Provider) Status() tracker.Status {
	p.mu.Lock()
	t, path := p.tracker, p.path
	p.mu.Unlock()

	if t != nil {
		return t.Status()
	}
	return tracker.Status{State: tracker.Inactive, Path: path}
}

// Navigate records the current path and forwards it to the tracker.
func (p *Provider) Navigate(path string) error {
	if path == "" {
		return errors.NewValidationError("path", path, "path is required")
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.ErrClosed
	}
	p.path = path
	t := p.tracker
	p.mu.Unlock()

	if t == nil {
		return nil
	}
	return t.Navigate(path)
}

// Activity forwards input activity to the tracker.
func (p *Provider) Activity() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.ErrClosed
	}
	t := p.tracker
	p.mu.Unlock()

	if t == nil {
		return nil
	}
	return t.Activity()
}

// evaluate applies a presence value. It is called for the initial value
// and for every change.
func (p *Provider) evaluate(presence auth.Presence) {
	if err := p.apply(presence); err != nil {
		p.logger.Error().Err(err).Str("user_id", presence.UserID).Msg("Failed to apply presence")
	}
}

func (p *Provider) apply(presence auth.Presence) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}

	if !presence.Present() {
		if p.tracker != nil {
			p.tracker.Close()
			p.tracker = nil
		}
		return nil
	}

	if p.tracker == nil {
		t, err := p.factory(ConfigFor(true, p.timeout))
		if err != nil {
			return err
		}
		for _, hook := range p.hooks {
			t.OnTransition(hook)
		}
		if p.path != "" {
			if err := t.Navigate(p.path); err != nil {
				return err
			}
		}
		p.tracker = t
	}
	return p.tracker.SetUser(presence.UserID)
}
