package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/beacon/internal/auth"
	"github.com/agentstation/beacon/internal/clock"
	pkgerrors "github.com/agentstation/beacon/pkg/errors"
	"github.com/agentstation/beacon/pkg/logging"
	"github.com/agentstation/beacon/pkg/models"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(mw("outer"), mw("inner"))(ok)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestRequestID(t *testing.T) {
	nop := zerolog.Nop()
	var seen string
	h := RequestID(&nop)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logging.RequestID(r.Context())
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, w.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", seen)
}

func TestLoggerRecordsStatus(t *testing.T) {
	tl := logging.NewTestLogger(t)
	h := Logger(tl.Logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/brew", nil))
	tl.AssertContains(t, `"status":418`)
	tl.AssertContains(t, `"path":"/brew"`)
}

func TestRecovery(t *testing.T) {
	tl := logging.NewTestLogger(t)
	h := Recovery(tl.Logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
	tl.AssertContains(t, "Panic recovered")
}

func TestResponseWriterFlushes(t *testing.T) {
	w := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
	var _ http.Flusher = rw
	rw.Flush()
	assert.True(t, w.Flushed)
}

type verifier map[string]auth.Session

func (v verifier) Verify(token string) (auth.Session, error) {
	if s, ok := v[token]; ok {
		return s, nil
	}
	return auth.Session{}, pkgerrors.ErrSessionExpired
}

func TestRequireSession(t *testing.T) {
	nop := zerolog.Nop()
	v := verifier{"good": {ID: "s1", UserID: "u1", Role: models.RoleViewer}}

	var got auth.Session
	h := RequireSession(v, &nop)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = auth.SessionFromContext(r.Context())
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: "stale"})
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Header().Get("Set-Cookie"), auth.CookieName+"=;")

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer good")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u1", got.UserID)
}

func TestRequireAdmin(t *testing.T) {
	nop := zerolog.Nop()
	h := RequireAdmin(&nop)(ok)

	serve := func(s *auth.Session) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if s != nil {
			req = req.WithContext(auth.WithSession(req.Context(), *s))
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusUnauthorized, serve(nil))
	assert.Equal(t, http.StatusForbidden, serve(&auth.Session{UserID: "u2", Role: models.RoleEditor}))
	assert.Equal(t, http.StatusOK, serve(&auth.Session{UserID: "u1", Role: models.RoleAdmin}))
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name       string
		config     CORSConfig
		origin     string
		wantOrigin string
		wantCreds  bool
	}{
		{"credentials echo origin", DefaultCORSConfig(), "https://app.example.com", "https://app.example.com", true},
		{"wildcard without credentials", CORSConfig{AllowedOrigins: []string{"*"}}, "https://x.example.com", "*", false},
		{"listed origin", CORSConfig{AllowedOrigins: []string{"https://a.example.com"}}, "https://a.example.com", "https://a.example.com", false},
		{"unlisted origin", CORSConfig{AllowedOrigins: []string{"https://a.example.com"}}, "https://b.example.com", "", false},
		{"no origin", DefaultCORSConfig(), "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			CORS(tt.config)(ok).ServeHTTP(w, req)

			assert.Equal(t, tt.wantOrigin, w.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tt.wantCreds, w.Header().Get("Access-Control-Allow-Credentials") == "true")
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	called := false
	h := CORS(DefaultCORSConfig())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/activity", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.False(t, called)
	assert.True(t, strings.Contains(w.Header().Get("Access-Control-Allow-Methods"), "POST"))
}

func TestRateLimit(t *testing.T) {
	nop := zerolog.Nop()
	fake := clock.NewFake(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	rl := NewRateLimiter(2, 0, &nop, WithRateClock(fake), WithWindow(time.Minute))
	h := RateLimit(rl)(ok)

	serve := func(remote, forwarded string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = remote
		if forwarded != "" {
			req.Header.Set("X-Forwarded-For", forwarded)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, serve("10.0.0.1:1234", "").Code)
	w := serve("10.0.0.1:5678", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	w = serve("10.0.0.1:9999", "")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))

	// A different client has its own window.
	assert.Equal(t, http.StatusOK, serve("10.0.0.1:1", "203.0.113.9, 10.0.0.1").Code)
	assert.Equal(t, 2, rl.Visitors())

	fake.Advance(time.Minute)
	assert.Equal(t, http.StatusOK, serve("10.0.0.1:1234", "").Code)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:443"
	assert.Equal(t, "192.0.2.1", ClientIP(req))

	req.Header.Set("X-Forwarded-For", " 198.51.100.7 , 192.0.2.1")
	assert.Equal(t, "198.51.100.7", ClientIP(req))

	req.Header.Del("X-Forwarded-For")
	req.RemoteAddr = "pipe"
	assert.Equal(t, "pipe", ClientIP(req))
}
