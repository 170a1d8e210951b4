package handlers

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/agentstation/beacon/internal/activity"
	"github.com/agentstation/beacon/internal/admin"
	"github.com/agentstation/beacon/internal/auth"
	"github.com/agentstation/beacon/internal/server/events"
	"github.com/agentstation/beacon/internal/server/filter"
	"github.com/agentstation/beacon/internal/server/response"
	"github.com/agentstation/beacon/internal/validation"
	"github.com/agentstation/beacon/pkg/errors"
	"github.com/agentstation/beacon/pkg/logging"
	"github.com/agentstation/beacon/pkg/models"
)

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 500

	activityCachePrefix = "admin:activity:"
)

// UsersResponse is one page of the filtered user list.
type UsersResponse struct {
	Users   []models.User `json:"users"`
	Total   int           `json:"total"`
	Matched int           `json:"matched"`
	Filter  admin.Filter  `json:"filter"`
	Limit   int           `json:"limit"`
	Offset  int           `json:"offset"`
}

// ActivityResponse is recent activity plus live trackers.
type ActivityResponse struct {
	PageViews []models.PageView        `json:"page_views"`
	Sessions  []models.SessionRecord   `json:"sessions"`
	Live      []activity.SessionStatus `json:"live"`
}

type recentActivity struct {
	pageViews []models.PageView
	sessions  []models.SessionRecord
}

// UserEvent is the payload of user added and removed events.
type UserEvent struct {
	ID    string      `json:"id"`
	Email string      `json:"email,omitempty"`
	Role  models.Role `json:"role,omitempty"`
}

// HandleStats handles GET /api/v1/admin/stats. With refresh=true the
// stats are recomputed from storage first.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	if refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")); refresh {
		if err := h.svc.Sessions.Refresh(r.Context()); err != nil {
			logging.Ctx(r.Context()).Error().Err(err).Msg("Failed to refresh stats")
			response.ErrorFromType(w, err)
			return
		}
	}
	response.OK(w, h.svc.Admin.QuickStats.State())
}

// HandleListUsers handles GET /api/v1/admin/users. Query parameters q,
// role and status filter the list; sort, order, limit and offset page it.
func (h *Handlers) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	query, err := filter.ParseUserQuery(r)
	if err != nil {
		response.ErrorFromType(w, err)
		return
	}

	users := h.svc.Admin.Users
	_ = users.SetLoading(true)
	list, err := h.svc.Storage.ListUsers(r.Context())
	if err == nil {
		err = users.SetUsers(list)
	}
	if err != nil {
		_ = users.SetLoading(false)
		response.ErrorFromType(w, err)
		return
	}
	if err := users.SetFilter(query.Filter); err != nil {
		response.ErrorFromType(w, err)
		return
	}

	state := users.State()
	matched := admin.Filtered(state)
	response.OK(w, UsersResponse{
		Users:   query.Apply(matched),
		Total:   len(state.Users),
		Matched: len(matched),
		Filter:  state.Filter,
		Limit:   query.Limit,
		Offset:  query.Offset,
	})
}

// HandleCreateUser handles POST /api/v1/admin/users.
func (h *Handlers) HandleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req validation.CreateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.ErrorFromType(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		response.ErrorFromType(w, err)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		response.ErrorFromType(w, err)
		return
	}
	user := req.User(uuid.NewString(), hash, h.svc.Clock.Now())
	if err := h.svc.Storage.CreateUser(r.Context(), &user); err != nil {
		response.ErrorFromType(w, err)
		return
	}

	log := logging.Ctx(r.Context())
	if err := h.svc.Admin.Users.AddUser(user); err != nil {
		log.Debug().Err(err).Str("target_user_id", user.ID).Msg("User store not updated")
	}
	h.afterUserChange(r, events.UserAdded, UserEvent{ID: user.ID, Email: user.Email, Role: user.Role})

	log.Info().Str("target_user_id", user.ID).Str("role", string(user.Role)).Msg("User created")
	response.Created(w, user)
}

// HandleDeleteUser handles DELETE /api/v1/admin/users/{id}. Live sessions
// of the removed user are ended.
func (h *Handlers) HandleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		response.BadRequest(w, "Invalid input", "user id is required")
		return
	}
	if session, ok := auth.SessionFromContext(r.Context()); ok && session.UserID == id {
		response.ErrorFromType(w, errors.NewValidationError("id", id, "cannot delete your own account"))
		return
	}

	if err := h.svc.Storage.DeleteUser(r.Context(), id); err != nil {
		response.ErrorFromType(w, err)
		return
	}
	if err := h.svc.Admin.Users.RemoveUser(id); err != nil && !errors.IsNotFound(err) {
		logging.Ctx(r.Context()).Warn().Err(err).Str("target_user_id", id).Msg("User store not updated")
	}
	for _, s := range h.svc.Auth.Sessions() {
		if s.UserID == id {
			_ = h.svc.Auth.Logout(s.ID)
		}
	}
	h.afterUserChange(r, events.UserRemoved, UserEvent{ID: id})

	logging.Ctx(r.Context()).Info().Str("target_user_id", id).Msg("User deleted")
	response.NoContent(w)
}

func (h *Handlers) afterUserChange(r *http.Request, t events.EventType, payload UserEvent) {
	h.cache.DeletePrefix(activityCachePrefix)
	if err := h.svc.Sessions.Refresh(r.Context()); err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("Failed to refresh stats")
	}
	h.publish(t, payload)
}

// HandleActivityLog handles GET /api/v1/admin/activity?limit=N.
func (h *Handlers) HandleActivityLog(w http.ResponseWriter, r *http.Request) {
	limit, err := validation.Limit(r.URL.Query().Get("limit"), defaultActivityLimit, maxActivityLimit)
	if err != nil {
		response.ErrorFromType(w, err)
		return
	}

	v, err := h.cache.Remember(activityCachePrefix+strconv.Itoa(limit), func() (any, error) {
		views, err := h.svc.Storage.RecentPageViews(r.Context(), limit)
		if err != nil {
			return nil, err
		}
		sessions, err := h.svc.Storage.RecentSessions(r.Context(), limit)
		if err != nil {
			return nil, err
		}
		return recentActivity{pageViews: views, sessions: sessions}, nil
	})
	if err != nil {
		response.ErrorFromType(w, err)
		return
	}

	recent := v.(recentActivity)
	response.OK(w, ActivityResponse{
		PageViews: recent.pageViews,
		Sessions:  recent.sessions,
		Live:      h.svc.Activity.Statuses(),
	})
}
