package beacon

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agentstation/beacon/internal/sessiontracker"
	"github.com/agentstation/beacon/pkg/errors"
)

// Run recovers state left by a previous process, then runs the report
// workers and the daily rollover until ctx is cancelled.
func (b *Beacon) Run(ctx context.Context) error {
	if err := b.recover(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return b.dispatcher.Run(ctx)
	})
	g.Go(func() error {
		return b.rollover(ctx)
	})
	return g.Wait()
}

// recover closes sessions a crashed process left open and loads the
// admin stores from storage.
func (b *Beacon) recover(ctx context.Context) error {
	ended, err := b.storage.EndOpenSessions(ctx, b.clock.Now())
	if err != nil {
		return errors.WrapResource("recover", "sessions", "", err)
	}
	if ended > 0 {
		b.logger.Info().Int("sessions", ended).Msg("Closed sessions left open by a previous run")
	}

	users, err := b.storage.ListUsers(ctx)
	if err != nil {
		return errors.WrapResource("load", "users", "", err)
	}
	if err := b.admin.Users.SetUsers(users); err != nil {
		return err
	}
	return b.sessions.Refresh(ctx)
}

// rollover zeroes the daily counters at each UTC midnight.
func (b *Beacon) rollover(ctx context.Context) error {
	for {
		now := b.clock.Now()
		next := sessiontracker.StartOfDay(now).Add(24 * time.Hour)

		fired := make(chan struct{})
		timer := b.clock.AfterFunc(next.Sub(now), func() { close(fired) })

		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-fired:
		}

		if err := b.admin.QuickStats.ResetDaily(); err != nil {
			b.logger.Warn().Err(err).Msg("Failed to reset daily stats")
		}
		if err := b.sessions.Refresh(ctx); err != nil && ctx.Err() == nil {
			b.logger.Warn().Err(err).Msg("Failed to refresh stats after rollover")
		}
		b.hooks.triggerRollover(next)
		b.logger.Debug().Time("day", next).Msg("Daily stats rolled over")
	}
}
