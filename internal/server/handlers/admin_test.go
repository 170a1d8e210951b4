package handlers_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/beacon/internal/admin"
	"github.com/agentstation/beacon/internal/auth"
	"github.com/agentstation/beacon/internal/server/handlers"
	"github.com/agentstation/beacon/pkg/errors"
	"github.com/agentstation/beacon/pkg/models"
)

func TestStats(t *testing.T) {
	f := newFixture(t)
	session := f.login(t, "ada@example.com")
	require.NoError(t, f.svc.Admin.QuickStats.RecordPageView())

	rec := httptest.NewRecorder()
	f.h.HandleStats(rec, asSession(request(http.MethodGet, "/api/v1/admin/stats", nil), session))
	require.Equal(t, http.StatusOK, rec.Code)

	var stats admin.QuickStats
	decode(t, rec, &stats)
	assert.Equal(t, 1, stats.PageViewsToday)
	assert.Zero(t, stats.TotalUsers)
}

func TestStatsRefresh(t *testing.T) {
	f := newFixture(t)
	session := f.login(t, "ada@example.com")
	require.NoError(t, f.svc.Admin.QuickStats.RecordPageView())

	rec := httptest.NewRecorder()
	f.h.HandleStats(rec, asSession(request(http.MethodGet, "/api/v1/admin/stats?refresh=true", nil), session))
	require.Equal(t, http.StatusOK, rec.Code)

	var stats admin.QuickStats
	decode(t, rec, &stats)
	assert.Equal(t, 2, stats.TotalUsers)
	// Storage holds no page views, so the refresh replaces the local count.
	assert.Zero(t, stats.PageViewsToday)
}

func TestListUsersFilters(t *testing.T) {
	f := newFixture(t)
	session := f.login(t, "ada@example.com")

	rec := httptest.NewRecorder()
	f.h.HandleListUsers(rec, asSession(request(http.MethodGet, "/api/v1/admin/users", nil), session))
	require.Equal(t, http.StatusOK, rec.Code)
	var all handlers.UsersResponse
	decode(t, rec, &all)
	assert.Equal(t, 2, all.Total)
	assert.Len(t, all.Users, 2)

	rec = httptest.NewRecorder()
	f.h.HandleListUsers(rec, asSession(request(http.MethodGet, "/api/v1/admin/users?role=viewer", nil), session))
	require.Equal(t, http.StatusOK, rec.Code)
	var viewers handlers.UsersResponse
	decode(t, rec, &viewers)
	assert.Equal(t, 2, viewers.Total)
	require.Len(t, viewers.Users, 1)
	assert.Equal(t, "viewer-1", viewers.Users[0].ID)
	assert.Equal(t, models.RoleViewer, f.svc.Admin.Users.State().Filter.Role)
	assert.False(t, f.svc.Admin.Users.State().Loading)

	rec = httptest.NewRecorder()
	f.h.HandleListUsers(rec, asSession(request(http.MethodGet, "/api/v1/admin/users?q=ada", nil), session))
	var byName handlers.UsersResponse
	decode(t, rec, &byName)
	require.Len(t, byName.Users, 1)
	assert.Equal(t, "admin-1", byName.Users[0].ID)
}

func TestListUsersRejectsBadFilter(t *testing.T) {
	f := newFixture(t)
	session := f.login(t, "ada@example.com")

	rec := httptest.NewRecorder()
	f.h.HandleListUsers(rec, asSession(request(http.MethodGet, "/api/v1/admin/users?role=owner", nil), session))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateUser(t *testing.T) {
	f := newFixture(t)
	session := f.login(t, "ada@example.com")

	rec := httptest.NewRecorder()
	f.h.HandleCreateUser(rec, asSession(request(http.MethodPost, "/api/v1/admin/users", map[string]string{
		"email":    "Grace@Example.com",
		"password": "long-enough",
	}), session))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var user models.User
	decode(t, rec, &user)
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "grace@example.com", user.Email)
	assert.Equal(t, "grace", user.Name)
	assert.Equal(t, models.RoleViewer, user.Role)
	assert.NotContains(t, rec.Body.String(), "password")

	stored, err := f.svc.Storage.GetUserByEmail(context.Background(), "grace@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, stored.ID)
	assert.Equal(t, 3, f.svc.Admin.QuickStats.State().TotalUsers)

	// The new account can sign in.
	_, _, err = f.svc.Auth.Login(context.Background(), "grace@example.com", "long-enough")
	assert.NoError(t, err)
}

func TestCreateUserConflict(t *testing.T) {
	f := newFixture(t)
	session := f.login(t, "ada@example.com")

	rec := httptest.NewRecorder()
	f.h.HandleCreateUser(rec, asSession(request(http.MethodPost, "/api/v1/admin/users", map[string]string{
		"email":    "vic@example.com",
		"password": "long-enough",
	}), session))
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
}

func TestCreateUserValidation(t *testing.T) {
	f := newFixture(t)
	session := f.login(t, "ada@example.com")

	for _, body := range []map[string]string{
		{"email": "bad", "password": "long-enough"},
		{"email": "x@example.com", "password": "short"},
		{"email": "x@example.com", "password": "long-enough", "role": "owner"},
	} {
		rec := httptest.NewRecorder()
		f.h.HandleCreateUser(rec, asSession(request(http.MethodPost, "/api/v1/admin/users", body), session))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func deleteRequest(id string, s auth.Session) *http.Request {
	req := asSession(request(http.MethodDelete, "/api/v1/admin/users/"+id, nil), s)
	req.SetPathValue("id", id)
	return req
}

func TestDeleteUserEndsSessions(t *testing.T) {
	f := newFixture(t)
	adminSession := f.login(t, "ada@example.com")
	viewer := f.login(t, "vic@example.com")
	require.NoError(t, f.svc.Activity.Start(viewer))

	rec := httptest.NewRecorder()
	f.h.HandleDeleteUser(rec, deleteRequest("viewer-1", adminSession))
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	_, err := f.svc.Storage.GetUser(context.Background(), "viewer-1")
	assert.True(t, errors.IsNotFound(err))
	_, ok := f.svc.Auth.Session(viewer.ID)
	assert.False(t, ok)
	assert.Zero(t, f.svc.Activity.Count())
	assert.Equal(t, 1, f.svc.Admin.QuickStats.State().TotalUsers)

	rec = httptest.NewRecorder()
	f.h.HandleDeleteUser(rec, deleteRequest("viewer-1", adminSession))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteSelfIsRejected(t *testing.T) {
	f := newFixture(t)
	session := f.login(t, "ada@example.com")

	rec := httptest.NewRecorder()
	f.h.HandleDeleteUser(rec, deleteRequest("admin-1", session))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	_, err := f.svc.Storage.GetUser(context.Background(), "admin-1")
	assert.NoError(t, err)
}

func TestActivityLog(t *testing.T) {
	f := newFixture(t)
	session := f.login(t, "ada@example.com")
	viewer := f.login(t, "vic@example.com")
	require.NoError(t, f.svc.Sessions.TrackSessionStart(context.Background(), viewer))
	require.NoError(t, f.svc.Activity.Start(viewer))
	require.NoError(t, f.svc.Activity.Navigate(viewer.ID, "/about"))

	rec := httptest.NewRecorder()
	f.h.HandleActivityLog(rec, asSession(request(http.MethodGet, "/api/v1/admin/activity?limit=5", nil), session))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp handlers.ActivityResponse
	decode(t, rec, &resp)
	require.Len(t, resp.PageViews, 1)
	assert.Equal(t, "/about", resp.PageViews[0].Path)
	require.Len(t, resp.Sessions, 1)
	require.Len(t, resp.Live, 1)
	assert.Equal(t, viewer.ID, resp.Live[0].SessionID)
	assert.Equal(t, 1, f.cache.ItemCount())

	// Cached: a second view does not show up until the entry is dropped.
	require.NoError(t, f.svc.Activity.Navigate(viewer.ID, "/contact"))
	rec = httptest.NewRecorder()
	f.h.HandleActivityLog(rec, asSession(request(http.MethodGet, "/api/v1/admin/activity?limit=5", nil), session))
	resp = handlers.ActivityResponse{}
	decode(t, rec, &resp)
	assert.Len(t, resp.PageViews, 1)
}

func TestActivityLogRejectsBadLimit(t *testing.T) {
	f := newFixture(t)
	session := f.login(t, "ada@example.com")

	rec := httptest.NewRecorder()
	f.h.HandleActivityLog(rec, asSession(request(http.MethodGet, "/api/v1/admin/activity?limit=-1", nil), session))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminStream(t *testing.T) {
	f := newFixture(t)
	session := f.login(t, "ada@example.com")
	f.h.SetKeepAliveInterval(time.Hour)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.h.HandleAdminStream(w, asSession(r, session))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	frames := make(chan admin.QuickStats, 4)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			data, ok := strings.CutPrefix(scanner.Text(), "data: ")
			if !ok {
				continue
			}
			var stats admin.QuickStats
			if json.Unmarshal([]byte(data), &stats) == nil {
				frames <- stats
			}
		}
		close(frames)
	}()

	next := func() admin.QuickStats {
		t.Helper()
		select {
		case s, ok := <-frames:
			require.True(t, ok, "stream closed")
			return s
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for stream frame")
			return admin.QuickStats{}
		}
	}

	assert.Zero(t, next().TotalPageViews)

	require.NoError(t, f.svc.Admin.QuickStats.RecordPageView())
	assert.Equal(t, 1, next().TotalPageViews)

	cancel()
	require.Eventually(t, func() bool {
		return f.svc.Admin.QuickStats.Store().ListenerCount() == 0
	}, 5*time.Second, 10*time.Millisecond)
}
