// Package admin holds the dashboard's observable state: quick stats and
// user management.
package admin

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/agentstation/beacon/internal/clock"
	"github.com/agentstation/beacon/pkg/errors"
	"github.com/agentstation/beacon/pkg/models"
	"github.com/agentstation/beacon/pkg/store"
)

// QuickStatsKey identifies the quick stats store in a registry.
var QuickStatsKey = store.NewKey[QuickStats]("admin.quick_stats")

// QuickStats are the dashboard's headline counters.
type QuickStats struct {
	TotalUsers        int       `json:"total_users" yaml:"total_users"`
	ActiveSessions    int       `json:"active_sessions" yaml:"active_sessions"`
	PageViewsToday    int       `json:"page_views_today" yaml:"page_views_today"`
	TotalPageViews    int       `json:"total_page_views" yaml:"total_page_views"`
	AvgSessionSeconds float64   `json:"avg_session_seconds" yaml:"avg_session_seconds"`
	UpdatedAt         time.Time `json:"updated_at,omitzero" yaml:"updated_at,omitempty"`
}

// FromStats builds quick stats from storage aggregates.
func FromStats(s models.Stats) QuickStats {
	return QuickStats{
		TotalUsers:        s.TotalUsers,
		ActiveSessions:    s.ActiveSessions,
		PageViewsToday:    s.PageViewsToday,
		TotalPageViews:    s.TotalPageViews,
		AvgSessionSeconds: s.AvgSessionSeconds,
	}
}

// Validate checks that every count is non-negative.
func (q QuickStats) Validate() error {
	checks := []struct {
		field string
		value int
	}{
		{"total_users", q.TotalUsers},
		{"active_sessions", q.ActiveSessions},
		{"page_views_today", q.PageViewsToday},
		{"total_page_views", q.TotalPageViews},
	}
	for _, c := range checks {
		if c.value < 0 {
			return errors.NewValidationError(c.field, c.value, "must be non-negative")
		}
	}
	if q.AvgSessionSeconds < 0 {
		return errors.NewValidationError("avg_session_seconds", q.AvgSessionSeconds, "must be non-negative")
	}
	if q.PageViewsToday > q.TotalPageViews {
		return errors.NewValidationError("page_views_today", q.PageViewsToday, "exceeds total page views")
	}
	return nil
}

// QuickStatsStore exposes the actions permitted on quick stats.
type QuickStatsStore struct {
	store *store.Store[QuickStats]
	clock clock.Clock
}

func newQuickStatsStore(s *store.Store[QuickStats], c clock.Clock) *QuickStatsStore {
	if c == nil {
		c = clock.Real()
	}
	return &QuickStatsStore{store: s, clock: c}
}

// NewQuickStatsStore creates a standalone quick stats store.
func NewQuickStatsStore(c clock.Clock, logger *zerolog.Logger) *QuickStatsStore {
	return newQuickStatsStore(store.New(QuickStatsKey.Name(), QuickStats{}, store.WithLogger[QuickStats](logger)), c)
}

// Store returns the underlying store for subscriptions and bindings.
func (q *QuickStatsStore) Store() *store.Store[QuickStats] {
	return q.store
}

// State returns the current stats.
func (q *QuickStatsStore) State() QuickStats {
	return q.store.State()
}

// Set replaces all stats.
func (q *QuickStatsStore) Set(stats QuickStats) error {
	if err := stats.Validate(); err != nil {
		return err
	}
	return q.update(func(QuickStats) (QuickStats, error) {
		return stats, nil
	})
}

// Version returns the commit count, for use with SetIfVersion.
func (q *QuickStatsStore) Version() uint64 {
	return q.store.Version()
}

// SetIfVersion replaces all stats unless another update committed after
// version was read, in which case it returns errors.ErrStale.
func (q *QuickStatsStore) SetIfVersion(stats QuickStats, version uint64) error {
	if err := stats.Validate(); err != nil {
		return err
	}
	now := q.clock.Now()
	return q.store.UpdateIfVersion(version, func(QuickStats) (QuickStats, error) {
		stats.UpdatedAt = now
		return stats, nil
	})
}

// RecordPageView counts one page view.
func (q *QuickStatsStore) RecordPageView() error {
	return q.update(func(s QuickStats) (QuickStats, error) {
		s.PageViewsToday++
		s.TotalPageViews++
		return s, nil
	})
}

// SessionStarted counts a new active session.
func (q *QuickStatsStore) SessionStarted() error {
	return q.update(func(s QuickStats) (QuickStats, error) {
		s.ActiveSessions++
		return s, nil
	})
}

// SessionEnded removes an active session.
func (q *QuickStatsStore) SessionEnded() error {
	return q.update(func(s QuickStats) (QuickStats, error) {
		if s.ActiveSessions == 0 {
			return s, errors.NewValidationError("active_sessions", 0, "no active sessions to end")
		}
		s.ActiveSessions--
		return s, nil
	})
}

// SetAverageSession sets the average active session length.
func (q *QuickStatsStore) SetAverageSession(d time.Duration) error {
	if d < 0 {
		return errors.NewValidationError("avg_session_seconds", d, "must be non-negative")
	}
	return q.update(func(s QuickStats) (QuickStats, error) {
		s.AvgSessionSeconds = d.Seconds()
		return s, nil
	})
}

// SetTotalUsers sets the user count.
func (q *QuickStatsStore) SetTotalUsers(n int) error {
	if n < 0 {
		return errors.NewValidationError("total_users", n, "must be non-negative")
	}
	return q.update(func(s QuickStats) (QuickStats, error) {
		s.TotalUsers = n
		return s, nil
	})
}

// ResetDaily zeroes the daily page view counter.
func (q *QuickStatsStore) ResetDaily() error {
	return q.update(func(s QuickStats) (QuickStats, error) {
		s.PageViewsToday = 0
		return s, nil
	})
}

func (q *QuickStatsStore) update(fn func(QuickStats) (QuickStats, error)) error {
	now := q.clock.Now()
	return q.store.Update(func(s QuickStats) (QuickStats, error) {
		next, err := fn(s)
		if err != nil {
			return s, err
		}
		next.UpdatedAt = now
		return next, nil
	})
}
