package middleware

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/agentstation/beacon/internal/auth"
	"github.com/agentstation/beacon/internal/server/response"
	"github.com/agentstation/beacon/pkg/logging"
	"github.com/agentstation/beacon/pkg/models"
)

// Verifier resolves a session token.
type Verifier interface {
	Verify(token string) (auth.Session, error)
}

// RequireSession rejects requests without a live session and stores the
// session in the request context.
func RequireSession(v Verifier, logger *zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := auth.ReadToken(r)
			if !ok {
				response.Unauthorized(w, "Authentication required", "Sign in to continue")
				return
			}

			session, err := v.Verify(token)
			if err != nil {
				logger.Debug().
					Err(err).
					Str("path", r.URL.Path).
					Str("remote_addr", r.RemoteAddr).
					Msg("Session rejected")
				auth.ClearCookie(w, r)
				response.Unauthorized(w, "Invalid or expired session", "Sign in again")
				return
			}

			ctx := auth.WithSession(r.Context(), session)
			ctx = logging.WithUser(ctx, session.UserID)
			ctx = logging.WithSession(ctx, session.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects sessions whose role is not one of roles. It must
// run after RequireSession.
func RequireRole(logger *zerolog.Logger, roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, ok := auth.SessionFromContext(r.Context())
			if !ok {
				response.Unauthorized(w, "Authentication required", "Sign in to continue")
				return
			}
			for _, role := range roles {
				if session.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			logger.Warn().
				Str("user_id", session.UserID).
				Str("role", string(session.Role)).
				Str("path", r.URL.Path).
				Msg("Role check failed")
			response.Forbidden(w, "Insufficient permissions", "This endpoint requires an admin account")
		})
	}
}

// RequireAdmin is RequireRole for the admin role.
func RequireAdmin(logger *zerolog.Logger) func(http.Handler) http.Handler {
	return RequireRole(logger, models.RoleAdmin)
}
