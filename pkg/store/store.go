package store

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/agentstation/beacon/pkg/errors"
	"github.com/agentstation/beacon/pkg/logging"
)

// Listener receives the committed snapshot after every change.
type Listener[S any] func(S)

// Option configures a Store.
type Option[S any] func(*Store[S])

// WithClone sets the function used to copy state. It is required when S
// holds slices, maps or pointers that actions mutate in place.
func WithClone[S any](clone func(S) S) Option[S] {
	return func(s *Store[S]) {
		s.clone = clone
	}
}

// WithLogger sets the logger used to report listener panics.
func WithLogger[S any](logger *zerolog.Logger) Option[S] {
	return func(s *Store[S]) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Store is an observable state container.
type Store[S any] struct {
	name   string
	clone  func(S) S
	logger *zerolog.Logger

	mu        sync.Mutex
	state     S
	version   uint64
	listeners []*subscription[S]

	// pending notifications, delivered in commit order by whichever
	// goroutine holds the draining flag
	queue    []notification[S]
	draining bool
}

type subscription[S any] struct {
	fn      Listener[S]
	removed atomic.Bool
}

type notification[S any] struct {
	snapshot  S
	listeners []*subscription[S]
}

// New creates a store with the given initial state.
func New[S any](name string, initial S, opts ...Option[S]) *Store[S] {
	s := &Store[S]{
		name:   name,
		logger: logging.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.state = s.copy(initial)
	return s
}

// Name returns the store name.
func (s *Store[S]) Name() string {
	return s.name
}

// State returns the current committed state.
func (s *Store[S]) State() S {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copy(s.state)
}

// Version returns the number of committed updates.
func (s *Store[S]) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// ListenerCount returns the number of registered listeners.
func (s *Store[S]) ListenerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

// Subscribe registers fn and returns a function that removes it.
// The returned function may be called any number of times, including
// from inside a notification.
func (s *Store[S]) Subscribe(fn Listener[S]) func() {
	_, unsubscribe := s.subscribe(fn)
	return unsubscribe
}

// subscribe registers fn and returns the state it was registered against.
func (s *Store[S]) subscribe(fn Listener[S]) (S, func()) {
	sub := &subscription[S]{fn: fn}

	s.mu.Lock()
	s.listeners = append(s.listeners, sub)
	current := s.copy(s.state)
	s.mu.Unlock()

	var once sync.Once
	return current, func() {
		once.Do(func() {
			sub.removed.Store(true)
			s.mu.Lock()
			defer s.mu.Unlock()
			s.listeners = slices.DeleteFunc(s.listeners, func(l *subscription[S]) bool {
				return l == sub
			})
		})
	}
}

// Update applies fn to a copy of the current state and commits the
// result. If fn returns an error nothing is committed and the error is
// returned. fn runs with the store locked and must not call back into
// the store. A panic in fn propagates with the store unlocked and
// nothing committed.
//
// Listeners registered at commit time are notified in registration order.
// An Update made from inside a listener is committed immediately and its
// notification is delivered after the current round completes.
func (s *Store[S]) Update(fn func(S) (S, error)) error {
	return s.update(nil, fn)
}

// UpdateIfVersion is Update guarded by a version read earlier with
// Version. If another update committed since, nothing is committed and
// errors.ErrStale is returned.
func (s *Store[S]) UpdateIfVersion(version uint64, fn func(S) (S, error)) error {
	return s.update(&version, fn)
}

func (s *Store[S]) update(expected *uint64, fn func(S) (S, error)) error {
	if fn == nil {
		return errors.NewValidationError("fn", nil, "update function is required")
	}
	if err := s.commit(expected, fn); err != nil {
		return err
	}
	s.drain()
	return nil
}

func (s *Store[S]) commit(expected *uint64, fn func(S) (S, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if expected != nil && *expected != s.version {
		return errors.ErrStale
	}
	next, err := fn(s.copy(s.state))
	if err != nil {
		return err
	}
	s.state = next
	s.version++
	if len(s.listeners) > 0 {
		s.queue = append(s.queue, notification[S]{
			snapshot:  s.copy(next),
			listeners: slices.Clone(s.listeners),
		})
	}
	return nil
}

// Set replaces the state unconditionally.
func (s *Store[S]) Set(state S) {
	_ = s.Update(func(S) (S, error) { return state, nil })
}

func (s *Store[S]) drain() {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	for len(s.queue) > 0 {
		n := s.queue[0]
		s.queue[0] = notification[S]{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.deliver(n)

		s.mu.Lock()
	}
	s.queue = nil
	s.draining = false
	s.mu.Unlock()
}

func (s *Store[S]) deliver(n notification[S]) {
	for i, sub := range n.listeners {
		if sub.removed.Load() {
			continue
		}
		snapshot := n.snapshot
		if i < len(n.listeners)-1 {
			snapshot = s.copy(n.snapshot)
		}
		s.call(sub.fn, snapshot)
	}
}

func (s *Store[S]) call(fn Listener[S], snapshot S) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("store", s.name).
				Interface("panic", r).
				Msg("Store listener panicked")
		}
	}()
	fn(snapshot)
}

func (s *Store[S]) copy(state S) S {
	if s.clone == nil {
		return state
	}
	return s.clone(state)
}
