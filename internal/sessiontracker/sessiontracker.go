// Package sessiontracker is the reporting collaborator behind activity
// trackers. It persists page views and session durations, keeps the
// dashboard's quick stats current, and publishes activity events.
package sessiontracker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentstation/beacon/internal/admin"
	"github.com/agentstation/beacon/internal/auth"
	"github.com/agentstation/beacon/internal/clock"
	"github.com/agentstation/beacon/internal/server/events"
	"github.com/agentstation/beacon/internal/tracker"
	"github.com/agentstation/beacon/pkg/errors"
	"github.com/agentstation/beacon/pkg/logging"
	"github.com/agentstation/beacon/pkg/models"
)

// Repository is the persistence used by the session tracker.
type Repository interface {
	InsertPageView(ctx context.Context, pv *models.PageView) error
	TouchUser(ctx context.Context, id string, at time.Time) error
	StartSession(ctx context.Context, rec *models.SessionRecord) error
	EndSession(ctx context.Context, id string, endedAt time.Time) error
	AddSessionDuration(ctx context.Context, sessionID string, d time.Duration) error
	AddActiveDuration(ctx context.Context, userID string, d time.Duration) error
	Stats(ctx context.Context, since time.Time) (models.Stats, error)
}

// PageView is the payload of a page view event.
type PageView struct {
	UserID string    `json:"user_id"`
	Path   string    `json:"path"`
	At     time.Time `json:"at"`
}

// SessionEvent is the payload of session start, end and duration events.
type SessionEvent struct {
	SessionID string        `json:"session_id,omitempty"`
	UserID    string        `json:"user_id"`
	At        time.Time     `json:"at"`
	Duration  time.Duration `json:"duration_ns,omitempty"`
}

// Option configures a SessionTracker.
type Option func(*SessionTracker)

// WithPublisher sets where activity events are published.
func WithPublisher(p events.Publisher) Option {
	return func(s *SessionTracker) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithClock sets the clock used for timestamps and the daily window.
func WithClock(c clock.Clock) Option {
	return func(s *SessionTracker) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(s *SessionTracker) {
		s.logger = logging.Component(logger, "sessiontracker")
	}
}

// SessionTracker implements tracker.Reporter on top of a Repository.
type SessionTracker struct {
	repo      Repository
	stats     *admin.QuickStatsStore
	publisher events.Publisher
	clock     clock.Clock
	logger    *zerolog.Logger
}

var _ tracker.Reporter = (*SessionTracker)(nil)

// New creates a session tracker.
func New(repo Repository, stats *admin.QuickStatsStore, opts ...Option) (*SessionTracker, error) {
	if repo == nil {
		return nil, errors.NewConfigError("sessiontracker", "repository is required", nil)
	}
	if stats == nil {
		return nil, errors.NewConfigError("sessiontracker", "quick stats store is required", nil)
	}
	s := &SessionTracker{
		repo:      repo,
		stats:     stats,
		publisher: events.Discard,
		clock:     clock.Real(),
		logger:    logging.Component(nil, "sessiontracker"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// TrackPageView records a page view for userID.
func (s *SessionTracker) TrackPageView(ctx context.Context, userID, path string) error {
	if userID == "" {
		return errors.NewValidationError("user_id", userID, "is required")
	}
	if path == "" {
		return errors.NewValidationError("path", path, "is required")
	}

	now := s.clock.Now()
	if err := s.repo.InsertPageView(ctx, &models.PageView{UserID: userID, Path: path, ViewedAt: now}); err != nil {
		return err
	}
	if err := s.repo.TouchUser(ctx, userID, now); err != nil && !errors.IsNotFound(err) {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("Failed to update last seen")
	}
	if err := s.stats.RecordPageView(); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to update quick stats")
	}

	s.logger.Debug().Str("user_id", userID).Str("path", path).Msg("Page view tracked")
	s.publisher.Publish(events.PageViewed, PageView{UserID: userID, Path: path, At: now})
	return nil
}

// TrackSessionDuration adds an active period to the user's newest
// session and refreshes the average session length. Reporters from
// ForSession credit the exact session instead.
func (s *SessionTracker) TrackSessionDuration(ctx context.Context, userID string, d time.Duration) error {
	return s.trackDuration(ctx, "", userID, d)
}

// ForSession returns a reporter whose durations are credited to
// sessionID. A user with several live sessions keeps their time apart.
func (s *SessionTracker) ForSession(sessionID string) tracker.Reporter {
	if sessionID == "" {
		return s
	}
	return sessionReporter{SessionTracker: s, sessionID: sessionID}
}

type sessionReporter struct {
	*SessionTracker
	sessionID string
}

func (r sessionReporter) TrackSessionDuration(ctx context.Context, userID string, d time.Duration) error {
	return r.trackDuration(ctx, r.sessionID, userID, d)
}

func (s *SessionTracker) trackDuration(ctx context.Context, sessionID, userID string, d time.Duration) error {
	if userID == "" {
		return errors.NewValidationError("user_id", userID, "is required")
	}

	var err error
	switch {
	case sessionID == "":
		err = s.repo.AddActiveDuration(ctx, userID, d)
	default:
		err = s.repo.AddSessionDuration(ctx, sessionID, d)
		if errors.IsNotFound(err) {
			// The session's start never persisted.
			err = s.repo.AddActiveDuration(ctx, userID, d)
		}
	}
	if err != nil {
		return err
	}

	s.logger.Debug().Str("session_id", sessionID).Str("user_id", userID).Dur("duration", d).Msg("Session duration tracked")
	s.publisher.Publish(events.SessionDuration, SessionEvent{SessionID: sessionID, UserID: userID, At: s.clock.Now(), Duration: d})
	return s.Refresh(ctx)
}

// TrackSessionStart records a new login session.
func (s *SessionTracker) TrackSessionStart(ctx context.Context, session auth.Session) error {
	startedAt := session.IssuedAt
	if startedAt.IsZero() {
		startedAt = s.clock.Now()
	}
	rec := &models.SessionRecord{ID: session.ID, UserID: session.UserID, StartedAt: startedAt}
	if err := s.repo.StartSession(ctx, rec); err != nil {
		return err
	}
	if err := s.stats.SessionStarted(); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to update quick stats")
	}

	s.logger.Info().Str("session_id", session.ID).Str("user_id", session.UserID).Msg("Session started")
	s.publisher.Publish(events.SessionStarted, SessionEvent{SessionID: session.ID, UserID: session.UserID, At: startedAt})
	return nil
}

// TrackSessionEnd marks a login session ended.
func (s *SessionTracker) TrackSessionEnd(ctx context.Context, session auth.Session) error {
	now := s.clock.Now()
	if err := s.repo.EndSession(ctx, session.ID, now); err != nil {
		return err
	}
	if err := s.stats.SessionEnded(); err != nil {
		s.logger.Debug().Err(err).Msg("Quick stats had no active session to end")
	}

	s.logger.Info().Str("session_id", session.ID).Str("user_id", session.UserID).Msg("Session ended")
	s.publisher.Publish(events.SessionEnded, SessionEvent{SessionID: session.ID, UserID: session.UserID, At: now})
	return nil
}

// refreshAttempts bounds how often Refresh re-reads storage when the
// quick stats change underneath it.
const refreshAttempts = 3

// Refresh recomputes quick stats from storage. The daily window starts at
// midnight UTC. A write that lands between the read and the commit makes
// Refresh read again rather than overwrite it.
func (s *SessionTracker) Refresh(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		version := s.stats.Version()
		stats, err := s.repo.Stats(ctx, StartOfDay(s.clock.Now()))
		if err != nil {
			return err
		}
		err = s.stats.SetIfVersion(admin.FromStats(stats), version)
		if errors.Is(err, errors.ErrStale) {
			if attempt < refreshAttempts {
				continue
			}
			s.logger.Debug().Int("attempts", attempt).Msg("Quick stats kept changing, leaving refresh to the next caller")
			return nil
		}
		if err != nil {
			return err
		}
		break
	}
	s.publisher.Publish(events.StatsUpdated, s.stats.State())
	return nil
}

// StartOfDay returns midnight UTC of t's day.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
