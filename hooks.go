package beacon

import (
	"sync"
	"time"

	"github.com/agentstation/beacon/internal/admin"
	"github.com/agentstation/beacon/pkg/store"
)

// StatsChangedHook is called after quick stats change, with the previous
// and current values. Hooks run on the store's notification path and
// must not block.
type StatsChangedHook func(old, updated admin.QuickStats)

// RolloverHook is called after the daily counters reset. day is the
// midnight that started the new day.
type RolloverHook func(day time.Time)

type hooks struct {
	mu              sync.RWMutex
	onStatsChanged  []StatsChangedHook
	onDailyRollover []RolloverHook
	last            admin.QuickStats
}

func newHooks() *hooks {
	return &hooks{}
}

// OnStatsChanged registers a callback for quick stats changes.
func (b *Beacon) OnStatsChanged(fn StatsChangedHook) {
	b.hooks.mu.Lock()
	defer b.hooks.mu.Unlock()
	b.hooks.onStatsChanged = append(b.hooks.onStatsChanged, fn)
}

// OnDailyRollover registers a callback for the midnight reset.
func (b *Beacon) OnDailyRollover(fn RolloverHook) {
	b.hooks.mu.Lock()
	defer b.hooks.mu.Unlock()
	b.hooks.onDailyRollover = append(b.hooks.onDailyRollover, fn)
}

// watch diffs every quick stats notification against the previous one.
func (h *hooks) watch(s *store.Store[admin.QuickStats]) func() {
	h.mu.Lock()
	h.last = s.State()
	h.mu.Unlock()
	return s.Subscribe(h.triggerStatsChanged)
}

func (h *hooks) triggerStatsChanged(updated admin.QuickStats) {
	h.mu.Lock()
	old := h.last
	h.last = updated
	fns := append([]StatsChangedHook(nil), h.onStatsChanged...)
	h.mu.Unlock()

	if sameCounts(old, updated) {
		return
	}
	for _, fn := range fns {
		fn(old, updated)
	}
}

func (h *hooks) triggerRollover(day time.Time) {
	h.mu.RLock()
	fns := append([]RolloverHook(nil), h.onDailyRollover...)
	h.mu.RUnlock()
	for _, fn := range fns {
		fn(day)
	}
}

// sameCounts ignores UpdatedAt.
func sameCounts(a, b admin.QuickStats) bool {
	a.UpdatedAt, b.UpdatedAt = time.Time{}, time.Time{}
	return a == b
}
