package store_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentstation/beacon/pkg/store"
)

var counterKey = store.NewKey[counter]("counter")

func TestRegistryGetCreatesOnce(t *testing.T) {
	reg := store.NewRegistry()
	var inits int
	init := func() *store.Store[counter] {
		inits++
		return newCounter()
	}

	a := store.Get(reg, counterKey, init)
	b := store.Get(reg, counterKey, init)

	assert.Same(t, a, b)
	assert.Equal(t, 1, inits)
	assert.Equal(t, []string{"counter"}, reg.Names())
}

func TestRegistryConcurrentGet(t *testing.T) {
	reg := store.NewRegistry()
	var mu sync.Mutex
	var inits int

	var wg sync.WaitGroup
	got := make([]*store.Store[counter], 16)
	for i := range got {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got[i] = store.Get(reg, counterKey, func() *store.Store[counter] {
				mu.Lock()
				inits++
				mu.Unlock()
				return newCounter()
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, inits)
	for _, s := range got {
		assert.Same(t, got[0], s)
	}
}

func TestRegistryLookup(t *testing.T) {
	reg := store.NewRegistry()
	_, ok := store.Lookup(reg, counterKey)
	assert.False(t, ok)

	s := store.Get(reg, counterKey, newCounter)
	found, ok := store.Lookup(reg, counterKey)
	assert.True(t, ok)
	assert.Same(t, s, found)
	assert.Equal(t, 1, reg.Len())
}

func TestRegistryTypeMismatchPanics(t *testing.T) {
	reg := store.NewRegistry()
	store.Get(reg, counterKey, newCounter)

	other := store.NewKey[string]("counter")
	assert.Panics(t, func() {
		store.Get(reg, other, func() *store.Store[string] {
			return store.New("counter", "")
		})
	})
}

func TestSharedStoreVisibleAcrossConsumers(t *testing.T) {
	reg := store.NewRegistry()

	// Two independent consumers resolve the store by key.
	first := store.Get(reg, counterKey, newCounter)
	second := store.Get(reg, counterKey, newCounter)

	assert.NoError(t, add(first, 7))
	assert.Equal(t, 7, second.State().Count)
}
