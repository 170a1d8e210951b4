package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/beacon/internal/storage/sqlite"
	pkgerrors "github.com/agentstation/beacon/pkg/errors"
	"github.com/agentstation/beacon/pkg/models"
)

var epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "beacon.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func user(id, email string, role models.Role, created time.Time) *models.User {
	return &models.User{
		ID:           id,
		Email:        email,
		Name:         id,
		Role:         role,
		Status:       models.StatusActive,
		PasswordHash: "hash-" + id,
		CreatedAt:    created,
	}
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := sqlite.Open(context.Background(), " ")
	assert.Error(t, err)
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "beacon.db")
	ctx := context.Background()

	s, err := sqlite.Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.CreateUser(ctx, user("u1", "a@example.com", models.RoleAdmin, epoch)))
	require.NoError(t, s.Close())

	s, err = sqlite.Open(ctx, path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	got, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", got.Email)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s, err := sqlite.Open(ctx, sqlite.MemoryPath)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	require.NoError(t, s.CreateUser(ctx, user("u1", "a@example.com", models.RoleViewer, epoch)))
	n, err := s.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUserRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	u := user("u1", "Ada@Example.com", models.RoleAdmin, epoch)
	require.NoError(t, s.CreateUser(ctx, u))

	got, err := s.GetUserByEmail(ctx, "ADA@example.com")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", got.Email)
	assert.Equal(t, models.RoleAdmin, got.Role)
	assert.Equal(t, "hash-u1", got.PasswordHash)
	assert.Equal(t, epoch, got.CreatedAt)
	assert.True(t, got.LastSeenAt.IsZero())

	require.NoError(t, s.TouchUser(ctx, "u1", epoch.Add(time.Hour)))
	got, err = s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, epoch.Add(time.Hour), got.LastSeenAt)
}

func TestCreateUserConflicts(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateUser(ctx, user("u1", "a@example.com", models.RoleAdmin, epoch)))

	err := s.CreateUser(ctx, user("u1", "b@example.com", models.RoleAdmin, epoch))
	assert.True(t, pkgerrors.IsAlreadyExists(err))

	err = s.CreateUser(ctx, user("u2", "a@example.com", models.RoleAdmin, epoch))
	assert.True(t, pkgerrors.IsAlreadyExists(err))

	err = s.CreateUser(ctx, user("u3", "nope", models.RoleAdmin, epoch))
	assert.True(t, pkgerrors.IsValidationError(err))
}

func TestPutUserUpserts(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.PutUser(ctx, user("u1", "a@example.com", models.RoleViewer, epoch)))

	update := user("u1", "a@example.com", models.RoleEditor, epoch)
	update.PasswordHash = ""
	require.NoError(t, s.PutUser(ctx, update))

	got, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.RoleEditor, got.Role)
	assert.Equal(t, "hash-u1", got.PasswordHash, "empty hash keeps the existing one")
}

func TestListAndDeleteUsers(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateUser(ctx, user("u2", "b@example.com", models.RoleViewer, epoch.Add(time.Minute))))
	require.NoError(t, s.CreateUser(ctx, user("u1", "a@example.com", models.RoleAdmin, epoch)))

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "u1", users[0].ID)
	assert.Equal(t, "u2", users[1].ID)

	require.NoError(t, s.DeleteUser(ctx, "u1"))
	assert.True(t, pkgerrors.IsNotFound(s.DeleteUser(ctx, "u1")))
	_, err = s.GetUser(ctx, "u1")
	assert.True(t, pkgerrors.IsNotFound(err))
	assert.True(t, pkgerrors.IsNotFound(s.TouchUser(ctx, "u1", epoch)))
}

func TestPageViews(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	for i, path := range []string{"/", "/about", "/work"} {
		require.NoError(t, s.InsertPageView(ctx, &models.PageView{
			UserID:   "u1",
			Path:     path,
			ViewedAt: epoch.Add(time.Duration(i) * time.Minute),
		}))
	}
	assert.True(t, pkgerrors.IsValidationError(s.InsertPageView(ctx, &models.PageView{UserID: "u1"})))

	views, err := s.RecentPageViews(ctx, 2)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, "/work", views[0].Path)
	assert.Equal(t, "/about", views[1].Path)
	assert.NotEmpty(t, views[0].ID)

	_, err = s.RecentPageViews(ctx, 0)
	assert.True(t, pkgerrors.IsValidationError(err))
}

func TestSessions(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.StartSession(ctx, &models.SessionRecord{ID: "s1", UserID: "u1", StartedAt: epoch}))
	require.NoError(t, s.StartSession(ctx, &models.SessionRecord{ID: "s2", UserID: "u1", StartedAt: epoch.Add(time.Hour)}))
	assert.True(t, pkgerrors.IsAlreadyExists(s.StartSession(ctx, &models.SessionRecord{ID: "s1", UserID: "u1"})))

	// Duration goes to the newest open session.
	require.NoError(t, s.AddActiveDuration(ctx, "u1", 90*time.Second))
	require.NoError(t, s.AddActiveDuration(ctx, "u1", 30*time.Second))

	require.NoError(t, s.EndSession(ctx, "s2", epoch.Add(2*time.Hour)))
	require.NoError(t, s.EndSession(ctx, "s2", epoch.Add(3*time.Hour)))
	assert.True(t, pkgerrors.IsNotFound(s.EndSession(ctx, "missing", epoch)))

	records, err := s.RecentSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "s2", records[0].ID)
	assert.Equal(t, 2*time.Minute, records[0].ActiveDuration)
	require.NotNil(t, records[0].EndedAt)
	assert.Equal(t, epoch.Add(2*time.Hour), *records[0].EndedAt)
	assert.Nil(t, records[1].EndedAt)

	assert.True(t, pkgerrors.IsNotFound(s.AddActiveDuration(ctx, "u-none", time.Second)))

	n, err := s.EndOpenSessions(ctx, epoch.Add(4*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Late reports land on the newest ended session.
	require.NoError(t, s.AddActiveDuration(ctx, "u1", time.Second))
	records, err = s.RecentSessions(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute+time.Second, records[0].ActiveDuration)
}

func TestAddSessionDurationKeepsConcurrentSessionsApart(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.StartSession(ctx, &models.SessionRecord{ID: "a", UserID: "u1", StartedAt: epoch}))
	require.NoError(t, s.StartSession(ctx, &models.SessionRecord{ID: "b", UserID: "u1", StartedAt: epoch.Add(time.Minute)}))
	require.NoError(t, s.EndSession(ctx, "a", epoch.Add(time.Hour)))

	require.NoError(t, s.AddSessionDuration(ctx, "a", 5*time.Minute))
	require.NoError(t, s.AddSessionDuration(ctx, "b", time.Minute))

	records, err := s.RecentSessions(ctx, 10)
	require.NoError(t, err)
	active := map[string]time.Duration{}
	for _, rec := range records {
		active[rec.ID] = rec.ActiveDuration
	}
	assert.Equal(t, map[string]time.Duration{"a": 5 * time.Minute, "b": time.Minute}, active)

	assert.True(t, pkgerrors.IsNotFound(s.AddSessionDuration(ctx, "missing", time.Second)))
	assert.True(t, pkgerrors.IsValidationError(s.AddSessionDuration(ctx, "a", -time.Second)))
}

func TestStats(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	empty, err := s.Stats(ctx, epoch)
	require.NoError(t, err)
	assert.Equal(t, models.Stats{}, empty)

	require.NoError(t, s.CreateUser(ctx, user("u1", "a@example.com", models.RoleAdmin, epoch)))
	require.NoError(t, s.CreateUser(ctx, user("u2", "b@example.com", models.RoleViewer, epoch)))
	require.NoError(t, s.InsertPageView(ctx, &models.PageView{UserID: "u1", Path: "/", ViewedAt: epoch.Add(-time.Hour)}))
	require.NoError(t, s.InsertPageView(ctx, &models.PageView{UserID: "u1", Path: "/", ViewedAt: epoch.Add(time.Hour)}))
	require.NoError(t, s.StartSession(ctx, &models.SessionRecord{ID: "s1", UserID: "u1", StartedAt: epoch}))
	require.NoError(t, s.StartSession(ctx, &models.SessionRecord{ID: "s2", UserID: "u2", StartedAt: epoch}))
	require.NoError(t, s.AddActiveDuration(ctx, "u1", time.Minute))
	require.NoError(t, s.AddActiveDuration(ctx, "u2", 3*time.Minute))
	require.NoError(t, s.EndSession(ctx, "s2", epoch.Add(time.Hour)))

	stats, err := s.Stats(ctx, epoch)
	require.NoError(t, err)
	assert.Equal(t, models.Stats{
		TotalUsers:        2,
		ActiveSessions:    1,
		PageViewsToday:    1,
		TotalPageViews:    2,
		AvgSessionSeconds: 120,
	}, stats)
}
