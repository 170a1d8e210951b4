package store

import (
	"fmt"
	"sort"
	"sync"
)

// Key identifies a store of state S in a Registry.
type Key[S any] struct {
	name string
}

// NewKey creates a key with the given name.
func NewKey[S any](name string) Key[S] {
	return Key[S]{name: name}
}

// Name returns the key name.
func (k Key[S]) Name() string {
	return k.name
}

// Registry holds one store per key for the lifetime of the application.
type Registry struct {
	mu     sync.RWMutex
	stores map[string]any
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{stores: make(map[string]any)}
}

// Get returns the store registered under key, creating it with init on
// first use. Every caller receives the same instance.
func Get[S any](r *Registry, key Key[S], init func() *Store[S]) *Store[S] {
	if s, ok := Lookup(r, key); ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if existing, ok := r.stores[key.name]; ok {
		return mustCast[S](key, existing)
	}

	s := init()
	r.stores[key.name] = s
	return s
}

// Lookup returns the store registered under key, if any.
func Lookup[S any](r *Registry, key Key[S]) (*Store[S], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	existing, ok := r.stores[key.name]
	if !ok {
		return nil, false
	}
	return mustCast[S](key, existing), true
}

// Names returns the registered store names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.stores))
	for name := range r.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered stores.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.stores)
}

func mustCast[S any](key Key[S], v any) *Store[S] {
	s, ok := v.(*Store[S])
	if !ok {
		panic(fmt.Sprintf("store: key %q registered with state type %T", key.name, v))
	}
	return s
}
