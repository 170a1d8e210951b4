package handlers_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/beacon/internal/server/handlers"
	"github.com/agentstation/beacon/internal/tracker"
)

func TestLogin(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.h.HandleLogin(rec, request(http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email":    "  ADA@example.com ",
		"password": testPassword,
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp handlers.LoginResponse
	decode(t, rec, &resp)
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "admin-1", resp.Session.UserID)
	assert.Equal(t, epoch.Add(time.Hour), resp.ExpiresAt)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, resp.Token, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)

	// Login starts tracking and counts the session.
	assert.Equal(t, tracker.Tracking, f.svc.Activity.State(resp.Session.ID))
	assert.Equal(t, 1, f.svc.Admin.QuickStats.State().ActiveSessions)
}

func TestLoginValidation(t *testing.T) {
	tests := []struct {
		name   string
		body   any
		status int
	}{
		{"malformed json", `{"email":`, http.StatusBadRequest},
		{"missing email", map[string]string{"password": testPassword}, http.StatusBadRequest},
		{"invalid email", map[string]string{"email": "not-an-email", "password": testPassword}, http.StatusBadRequest},
		{"missing password", map[string]string{"email": "ada@example.com"}, http.StatusBadRequest},
		{"wrong password", map[string]string{"email": "ada@example.com", "password": "wrong-password"}, http.StatusUnauthorized},
		{"unknown user", map[string]string{"email": "nobody@example.com", "password": testPassword}, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec := httptest.NewRecorder()
			f.h.HandleLogin(rec, request(http.MethodPost, "/api/v1/auth/login", tt.body))

			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Empty(t, rec.Result().Cookies())
			assert.Zero(t, f.svc.Activity.Count())
		})
	}
}

func TestLogoutEndsTracking(t *testing.T) {
	f := newFixture(t)
	session := f.login(t, "ada@example.com")
	require.NoError(t, f.svc.Activity.Start(session))
	require.Equal(t, 1, f.svc.Activity.Count())

	rec := httptest.NewRecorder()
	f.h.HandleLogout(rec, asSession(request(http.MethodPost, "/api/v1/auth/logout", nil), session))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, f.svc.Activity.Count())
	assert.Zero(t, f.svc.Auth.Count())

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Negative(t, cookies[0].MaxAge)
}

func TestLogoutTwiceIsNoContent(t *testing.T) {
	f := newFixture(t)
	session := f.login(t, "ada@example.com")
	require.NoError(t, f.svc.Auth.Logout(session.ID))

	rec := httptest.NewRecorder()
	f.h.HandleLogout(rec, asSession(request(http.MethodPost, "/api/v1/auth/logout", nil), session))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestSessionWithoutContextIsUnauthorized(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	f.h.HandleSession(rec, request(http.MethodGet, "/api/v1/auth/session", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSessionIncludesTracking(t *testing.T) {
	f := newFixture(t)
	session := f.login(t, "ada@example.com")

	rec := httptest.NewRecorder()
	f.h.HandleSession(rec, asSession(request(http.MethodGet, "/api/v1/auth/session", nil), session))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp handlers.SessionResponse
	decode(t, rec, &resp)
	assert.Equal(t, session.ID, resp.Session.ID)
	assert.Nil(t, resp.Tracking)

	require.NoError(t, f.svc.Activity.Start(session))
	rec = httptest.NewRecorder()
	f.h.HandleSession(rec, asSession(request(http.MethodGet, "/api/v1/auth/session", nil), session))
	resp = handlers.SessionResponse{}
	decode(t, rec, &resp)
	require.NotNil(t, resp.Tracking)
	assert.Equal(t, tracker.Tracking, resp.Tracking.State)
}
