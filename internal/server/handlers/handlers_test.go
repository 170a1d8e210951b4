package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/agentstation/beacon/internal/activity"
	"github.com/agentstation/beacon/internal/admin"
	"github.com/agentstation/beacon/internal/auth"
	"github.com/agentstation/beacon/internal/clock"
	"github.com/agentstation/beacon/internal/dispatch"
	"github.com/agentstation/beacon/internal/server/cache"
	"github.com/agentstation/beacon/internal/server/events"
	"github.com/agentstation/beacon/internal/server/handlers"
	"github.com/agentstation/beacon/internal/server/response"
	"github.com/agentstation/beacon/internal/server/sse"
	ws "github.com/agentstation/beacon/internal/server/websocket"
	"github.com/agentstation/beacon/internal/sessiontracker"
	"github.com/agentstation/beacon/internal/storage/sqlite"
	"github.com/agentstation/beacon/pkg/models"
	"github.com/agentstation/beacon/pkg/store"
)

var epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

const testPassword = "correct-horse"

type fixture struct {
	svc   handlers.Services
	h     *handlers.Handlers
	clock *clock.Fake
	cache *cache.Cache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	nop := zerolog.Nop()
	ctx := context.Background()

	repo, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "beacon.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	hash, err := auth.HashPasswordCost(testPassword, bcrypt.MinCost)
	require.NoError(t, err)
	for _, u := range []models.User{
		{ID: "admin-1", Email: "ada@example.com", Name: "Ada", Role: models.RoleAdmin},
		{ID: "viewer-1", Email: "vic@example.com", Name: "Vic", Role: models.RoleViewer},
	} {
		u.Status = models.StatusActive
		u.PasswordHash = hash
		u.CreatedAt = epoch.Add(-time.Hour)
		require.NoError(t, repo.CreateUser(ctx, &u))
	}

	fake := clock.NewFake(epoch)
	broker := events.NewBroker(&nop)
	stores := admin.NewStores(store.NewRegistry(), fake, &nop)
	inline := dispatch.Inline{Logger: &nop}

	sessions, err := sessiontracker.New(repo, stores.QuickStats,
		sessiontracker.WithClock(fake),
		sessiontracker.WithPublisher(broker),
		sessiontracker.WithLogger(&nop),
	)
	require.NoError(t, err)

	manager, err := auth.NewManager(auth.Config{
		Secret:     "0123456789abcdef0123456789abcdef",
		Issuer:     "beacon-test",
		SessionTTL: time.Hour,
	}, repo, auth.WithClock(fake), auth.WithLogger(&nop), auth.WithCleanupInterval(0))
	require.NoError(t, err)

	hub := activity.New(sessions, inline,
		activity.WithClock(fake),
		activity.WithLogger(&nop),
		activity.WithPublisher(broker),
	)
	hub.Attach(manager)
	t.Cleanup(hub.Close)

	svc := handlers.Services{
		Auth:       manager,
		Sessions:   sessions,
		Activity:   hub,
		Storage:    repo,
		Admin:      stores,
		Broker:     broker,
		Clock:      fake,
		Dispatcher: inline,
	}
	c := cache.New(time.Minute, 0)
	h := handlers.New(svc, c, ws.NewHub(&nop), sse.NewBroadcaster(&nop), &nop)
	return &fixture{svc: svc, h: h, clock: fake, cache: c}
}

// login signs email in and returns its session.
func (f *fixture) login(t *testing.T, email string) auth.Session {
	t.Helper()
	session, _, err := f.svc.Auth.Login(context.Background(), email, testPassword)
	require.NoError(t, err)
	return session
}

func request(method, target string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			_ = json.NewEncoder(&buf).Encode(b)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func asSession(req *http.Request, s auth.Session) *http.Request {
	return req.WithContext(auth.WithSession(req.Context(), s))
}

// decode unwraps the response envelope into data.
func decode(t *testing.T, rec *httptest.ResponseRecorder, data any) response.Response {
	t.Helper()
	var raw struct {
		Data  json.RawMessage `json:"data"`
		Error *response.Error `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	if data != nil && len(raw.Data) > 0 {
		require.NoError(t, json.Unmarshal(raw.Data, data))
	}
	return response.Response{Error: raw.Error}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	f.h.HandleLogin(rec, request(http.MethodPost, "/api/v1/auth/login",
		`{"email":"ada@example.com","password":"x","extra":1}`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode(t, rec, nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "BAD_REQUEST", resp.Error.Code)
}

func TestDecodeRejectsTrailingData(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	f.h.HandleLogin(rec, request(http.MethodPost, "/api/v1/auth/login",
		`{"email":"ada@example.com","password":"x"}{}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	f.h.HandleHealth(rec, request(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var data map[string]any
	decode(t, rec, &data)
	assert.Equal(t, "healthy", data["status"])
}

func TestReady(t *testing.T) {
	f := newFixture(t)
	f.login(t, "ada@example.com")

	rec := httptest.NewRecorder()
	f.h.HandleReady(rec, request(http.MethodGet, "/api/v1/ready", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var data map[string]any
	decode(t, rec, &data)
	assert.Equal(t, "ready", data["status"])
	assert.EqualValues(t, 1, data["live_sessions"])
	assert.EqualValues(t, 0, data["websocket_clients"])
}

func TestReadyFailsWhenStorageClosed(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.Storage.Close())

	rec := httptest.NewRecorder()
	f.h.HandleReady(rec, request(http.MethodGet, "/api/v1/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
