package store

import "sync"

// Binding mirrors a store into a consumer-owned snapshot. Each
// notification replaces the snapshot exactly once and signals Changed.
type Binding[S any] struct {
	mu       sync.RWMutex
	snapshot S
	updates  uint64

	changed     chan struct{}
	done        chan struct{}
	unsubscribe func()
	closeOnce   sync.Once
}

// Bind captures the current state of s and subscribes to it.
func Bind[S any](s *Store[S]) *Binding[S] {
	b := &Binding[S]{
		changed: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshot, b.unsubscribe = s.subscribe(b.receive)
	return b
}

func (b *Binding[S]) receive(snapshot S) {
	b.mu.Lock()
	b.snapshot = snapshot
	b.updates++
	b.mu.Unlock()

	// Coalesce: a pending signal already covers this snapshot.
	select {
	case b.changed <- struct{}{}:
	default:
	}
}

// Snapshot returns the latest snapshot received.
func (b *Binding[S]) Snapshot() S {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snapshot
}

// Updates returns the number of snapshots received since Bind.
func (b *Binding[S]) Updates() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updates
}

// Changed signals that the snapshot was replaced. Several replacements
// may share one signal.
func (b *Binding[S]) Changed() <-chan struct{} {
	return b.changed
}

// Done is closed when the binding is closed.
func (b *Binding[S]) Done() <-chan struct{} {
	return b.done
}

// Close unsubscribes from the store. Safe to call more than once.
func (b *Binding[S]) Close() {
	b.closeOnce.Do(func() {
		b.unsubscribe()
		close(b.done)
	})
}

// With binds s for the duration of fn. The binding is closed when fn
// returns or panics.
func With[S any](s *Store[S], fn func(*Binding[S]) error) error {
	b := Bind(s)
	defer b.Close()
	return fn(b)
}
