// Package store provides observable state containers.
//
// A Store holds one value of state S. All mutation goes through Update,
// which applies a function to a private copy of the state and commits the
// result atomically. Listeners registered with Subscribe are invoked in
// registration order with the committed snapshot.
//
// Stores are shared through a Registry so that every consumer of a given
// Key observes the same instance. Consumers that need a private,
// continuously refreshed view of a store use a Binding.
//
//	reg := store.NewRegistry()
//	stats := store.Get(reg, statsKey, func() *store.Store[Stats] {
//		return store.New("stats", Stats{})
//	})
//
//	b := store.Bind(stats)
//	defer b.Close()
//	for range b.Changed() {
//		render(b.Snapshot())
//	}
package store
