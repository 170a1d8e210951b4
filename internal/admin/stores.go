package admin

import (
	"github.com/rs/zerolog"

	"github.com/agentstation/beacon/internal/clock"
	"github.com/agentstation/beacon/pkg/store"
)

// Stores bundles the dashboard stores resolved from one registry.
type Stores struct {
	QuickStats *QuickStatsStore
	Users      *UserStore
}

// NewStores resolves the dashboard stores from reg, creating them on
// first use. Every call with the same registry shares the same state.
func NewStores(reg *store.Registry, c clock.Clock, logger *zerolog.Logger) *Stores {
	if c == nil {
		c = clock.Real()
	}
	quick := store.Get(reg, QuickStatsKey, func() *store.Store[QuickStats] {
		return store.New(QuickStatsKey.Name(), QuickStats{}, store.WithLogger[QuickStats](logger))
	})
	users := store.Get(reg, UserManagementKey, func() *store.Store[UserManagement] {
		return newUserStoreState(logger)
	})
	return &Stores{
		QuickStats: newQuickStatsStore(quick, c),
		Users:      &UserStore{store: users},
	}
}
