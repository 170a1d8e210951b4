package handlers

import (
	"net/http"

	"github.com/agentstation/beacon/internal/auth"
	"github.com/agentstation/beacon/internal/server/response"
	"github.com/agentstation/beacon/internal/validation"
	"github.com/agentstation/beacon/pkg/errors"
)

// HandleActivity handles POST /api/v1/activity. Navigation reports the
// page; input and heartbeat signals keep the session active.
func (h *Handlers) HandleActivity(w http.ResponseWriter, r *http.Request) {
	session, ok := auth.SessionFromContext(r.Context())
	if !ok {
		response.Unauthorized(w, "Authentication required", "")
		return
	}

	var req validation.ActivityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.ErrorFromType(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		response.ErrorFromType(w, err)
		return
	}

	err := h.apply(session.ID, req)
	if errors.IsNotFound(err) {
		// The session outlived its tracker, e.g. across a hub restart.
		if err = h.svc.Activity.Start(session); err == nil {
			err = h.apply(session.ID, req)
		}
	}
	if err != nil {
		response.ErrorFromType(w, err)
		return
	}

	status, err := h.svc.Activity.Status(session.ID)
	if err != nil {
		response.ErrorFromType(w, err)
		return
	}
	response.OK(w, status)
}

func (h *Handlers) apply(sessionID string, req validation.ActivityRequest) error {
	if req.Type == validation.ActivityNavigate {
		return h.svc.Activity.Navigate(sessionID, req.Path)
	}
	return h.svc.Activity.Activity(sessionID)
}
