package handlers

import (
	"net/http"
	"time"

	"github.com/agentstation/beacon/internal/activity"
	"github.com/agentstation/beacon/internal/auth"
	"github.com/agentstation/beacon/internal/server/response"
	"github.com/agentstation/beacon/internal/validation"
	"github.com/agentstation/beacon/pkg/errors"
	"github.com/agentstation/beacon/pkg/logging"
)

// LoginResponse is returned by a successful login.
type LoginResponse struct {
	Session   auth.Session `json:"session"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// SessionResponse describes the caller's session and tracker.
type SessionResponse struct {
	Session  auth.Session            `json:"session"`
	Tracking *activity.SessionStatus `json:"tracking,omitempty"`
}

// HandleLogin handles POST /api/v1/auth/login. It validates the body,
// signs the user in, records the session start and begins tracking.
func (h *Handlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req validation.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.ErrorFromType(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		response.ErrorFromType(w, err)
		return
	}

	session, token, err := h.svc.Auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if !errors.IsUnauthorized(err) && !errors.IsForbidden(err) {
			logging.Ctx(r.Context()).Error().Err(err).Msg("Login failed")
		}
		response.ErrorFromType(w, err)
		return
	}

	// Tracking problems never fail a login.
	if h.svc.Sessions != nil {
		if err := h.svc.Sessions.TrackSessionStart(r.Context(), session); err != nil {
			logging.Ctx(r.Context()).Warn().Err(err).Str("session_id", session.ID).Msg("Failed to record session start")
		}
	}
	if err := h.svc.Activity.Start(session); err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Str("session_id", session.ID).Msg("Failed to start tracking")
	}

	auth.WriteCookie(w, r, token, session.ExpiresAt)
	response.OK(w, LoginResponse{Session: session, Token: token, ExpiresAt: session.ExpiresAt})
}

// HandleLogout handles POST /api/v1/auth/logout.
func (h *Handlers) HandleLogout(w http.ResponseWriter, r *http.Request) {
	session, ok := auth.SessionFromContext(r.Context())
	if !ok {
		response.Unauthorized(w, "Authentication required", "")
		return
	}
	if err := h.svc.Auth.Logout(session.ID); err != nil && !errors.IsNotFound(err) {
		response.ErrorFromType(w, err)
		return
	}
	auth.ClearCookie(w, r)
	response.NoContent(w)
}

// HandleSession handles GET /api/v1/auth/session.
func (h *Handlers) HandleSession(w http.ResponseWriter, r *http.Request) {
	session, ok := auth.SessionFromContext(r.Context())
	if !ok {
		response.Unauthorized(w, "Authentication required", "")
		return
	}
	resp := SessionResponse{Session: session}
	if status, err := h.svc.Activity.Status(session.ID); err == nil {
		resp.Tracking = &status
	}
	response.OK(w, resp)
}
