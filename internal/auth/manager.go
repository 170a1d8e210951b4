package auth

import (
	"context"
	stderrors "errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/agentstation/beacon/internal/clock"
	"github.com/agentstation/beacon/pkg/errors"
	"github.com/agentstation/beacon/pkg/logging"
	"github.com/agentstation/beacon/pkg/models"
)

// UserLookup resolves users for login.
type UserLookup interface {
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
}

// SessionHook is called when a session ends by logout or expiry.
type SessionHook func(Session)

// claims is the signed token payload.
type claims struct {
	jwt.RegisteredClaims
	Email string      `json:"email"`
	Role  models.Role `json:"role"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the clock used for issue and expiry times.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithLogger sets the manager logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logging.Component(logger, "auth")
	}
}

// WithCleanupInterval sets how often expired sessions are swept. Zero
// disables the background sweep; call Sweep instead.
func WithCleanupInterval(d time.Duration) Option {
	return func(m *Manager) {
		m.cleanupInterval = d
	}
}

// Manager issues and verifies sessions. Live sessions are kept in an
// expiring cache; a token is only valid while its session is live.
type Manager struct {
	cfg             Config
	users           UserLookup
	clock           clock.Clock
	logger          *zerolog.Logger
	cleanupInterval time.Duration
	sessions        *gocache.Cache

	hooksMu sync.RWMutex
	onEnded []SessionHook
}

// NewManager creates a session manager.
func NewManager(cfg Config, users UserLookup, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if users == nil {
		return nil, errors.NewConfigError("auth", "user lookup is required", nil)
	}

	m := &Manager{
		cfg:             cfg,
		users:           users,
		clock:           clock.Real(),
		logger:          logging.Component(nil, "auth"),
		cleanupInterval: time.Minute,
	}
	for _, opt := range opts {
		opt(m)
	}

	m.sessions = gocache.New(cfg.SessionTTL, m.cleanupInterval)
	m.sessions.OnEvicted(m.evicted)
	return m, nil
}

// OnSessionEnded registers fn to run when a session is logged out or
// expires.
func (m *Manager) OnSessionEnded(fn SessionHook) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.onEnded = append(m.onEnded, fn)
}

// Login checks credentials and opens a session. It returns the session
// and its signed token.
func (m *Manager) Login(ctx context.Context, email, password string) (Session, string, error) {
	email = models.NormalizeEmail(email)
	if err := models.ValidateEmail(email); err != nil {
		return Session{}, "", err
	}
	if password == "" {
		return Session{}, "", errors.NewValidationError("password", nil, "password is required")
	}

	user, err := m.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.IsNotFound(err) {
			m.logger.Info().Str("email", email).Msg("Login for unknown user")
			return Session{}, "", errors.NewAuthenticationError("password", "invalid email or password", nil)
		}
		return Session{}, "", errors.WrapResource("lookup", "user", email, err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		m.logger.Info().Str("user_id", user.ID).Msg("Login with wrong password")
		return Session{}, "", errors.NewAuthenticationError("password", "invalid email or password", nil)
	}
	if user.Status != models.StatusActive {
		return Session{}, "", errors.NewAuthenticationError("password", "account is suspended", errors.ErrForbidden)
	}

	now := m.clock.Now().UTC().Truncate(time.Second)
	session := Session{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Email:     user.Email,
		Role:      user.Role,
		IssuedAt:  now,
		ExpiresAt: now.Add(m.cfg.SessionTTL),
	}

	token, err := m.sign(session)
	if err != nil {
		return Session{}, "", errors.WrapResource("sign", "session", session.ID, err)
	}

	m.sessions.Set(session.ID, session, m.cfg.SessionTTL)
	m.logger.Info().
		Str("user_id", session.UserID).
		Str("session_id", session.ID).
		Msg("Session started")
	return session, token, nil
}

// Verify checks a token's signature and claims and that its session is
// still live.
func (m *Manager) Verify(token string) (Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Session{}, errors.NewAuthenticationError("token", "token is required", nil)
	}

	var parsed claims
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return []byte(m.cfg.Secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.clock.Now),
	)
	if err != nil {
		return Session{}, mapJWTError(err)
	}

	session, ok := m.Session(parsed.ID)
	if !ok {
		return Session{}, errors.ErrSessionExpired
	}
	if session.UserID != parsed.Subject {
		return Session{}, errors.NewAuthenticationError("token", "token subject mismatch", nil)
	}
	return session, nil
}

// Session returns a live session by ID.
func (m *Manager) Session(id string) (Session, bool) {
	v, ok := m.sessions.Get(id)
	if !ok {
		return Session{}, false
	}
	session := v.(Session)
	if session.Expired(m.clock.Now()) {
		return Session{}, false
	}
	return session, true
}

// Sessions returns all live sessions ordered by issue time.
func (m *Manager) Sessions() []Session {
	items := m.sessions.Items()
	now := m.clock.Now()
	sessions := make([]Session, 0, len(items))
	for _, item := range items {
		s := item.Object.(Session)
		if !s.Expired(now) {
			sessions = append(sessions, s)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].IssuedAt.Equal(sessions[j].IssuedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].IssuedAt.Before(sessions[j].IssuedAt)
	})
	return sessions
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	return len(m.Sessions())
}

// Logout ends a session.
func (m *Manager) Logout(id string) error {
	if _, ok := m.sessions.Get(id); !ok {
		return errors.NewNotFoundError("session", id)
	}
	m.sessions.Delete(id)
	return nil
}

// Sweep ends every session past its expiry.
func (m *Manager) Sweep() {
	now := m.clock.Now()
	for id, item := range m.sessions.Items() {
		if item.Object.(Session).Expired(now) {
			m.sessions.Delete(id)
		}
	}
	m.sessions.DeleteExpired()
}

// evicted runs outside the cache lock for deletes and expiry sweeps.
func (m *Manager) evicted(id string, v any) {
	session, ok := v.(Session)
	if !ok {
		return
	}
	m.logger.Info().
		Str("user_id", session.UserID).
		Str("session_id", id).
		Msg("Session ended")

	m.hooksMu.RLock()
	hooks := m.onEnded
	m.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(session)
	}
}

func (m *Manager) sign(s Session) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.cfg.Issuer,
			Subject:   s.UserID,
			ID:        s.ID,
			IssuedAt:  jwt.NewNumericDate(s.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
		},
		Email: s.Email,
		Role:  s.Role,
	})
	return token.SignedString([]byte(m.cfg.Secret))
}

// mapJWTError translates jwt library errors to auth errors.
func mapJWTError(err error) error {
	switch {
	case stderrors.Is(err, jwt.ErrTokenExpired):
		return errors.ErrSessionExpired
	case stderrors.Is(err, jwt.ErrTokenSignatureInvalid):
		return errors.NewAuthenticationError("token", "token signature is invalid", err)
	case stderrors.Is(err, jwt.ErrTokenInvalidIssuer):
		return errors.NewAuthenticationError("token", "token issuer is invalid", err)
	default:
		return errors.NewAuthenticationError("token", "token is invalid", err)
	}
}

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	return HashPasswordCost(password, bcrypt.DefaultCost)
}

// HashPasswordCost returns the bcrypt hash of password at the given cost.
func HashPasswordCost(password string, cost int) (string, error) {
	if password == "" {
		return "", errors.NewValidationError("password", nil, "password is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
