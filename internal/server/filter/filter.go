// Package filter parses list query parameters for the admin endpoints.
package filter

import (
	"cmp"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/agentstation/beacon/internal/admin"
	"github.com/agentstation/beacon/pkg/errors"
	"github.com/agentstation/beacon/pkg/models"
)

// Paging defaults.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Sort keys.
const (
	SortName      = "name"
	SortEmail     = "email"
	SortCreated   = "created_at"
	SortLastSeen  = "last_seen_at"
	OrderAsc      = "asc"
	OrderDesc     = "desc"
	defaultSort   = SortName
	defaultOrder  = OrderAsc
	maxQueryRunes = 200
)

// UserQuery holds the criteria of GET /admin/users.
type UserQuery struct {
	Filter admin.Filter

	// Pagination
	Sort   string
	Order  string
	Limit  int
	Offset int
}

// ParseUserQuery extracts user list parameters from an HTTP request.
func ParseUserQuery(r *http.Request) (UserQuery, error) {
	q := r.URL.Query()

	query := UserQuery{
		Filter: admin.Filter{
			Query:  strings.TrimSpace(q.Get("q")),
			Role:   models.Role(q.Get("role")),
			Status: models.Status(q.Get("status")),
		},
		Sort:  cmp.Or(q.Get("sort"), defaultSort),
		Order: cmp.Or(strings.ToLower(q.Get("order")), defaultOrder),
	}

	if len([]rune(query.Filter.Query)) > maxQueryRunes {
		return UserQuery{}, errors.NewValidationError("q", query.Filter.Query, "query is too long")
	}
	if err := query.Filter.Validate(); err != nil {
		return UserQuery{}, err
	}

	switch query.Sort {
	case SortName, SortEmail, SortCreated, SortLastSeen:
	default:
		return UserQuery{}, errors.NewValidationError("sort", query.Sort, "must be name, email, created_at or last_seen_at")
	}
	if query.Order != OrderAsc && query.Order != OrderDesc {
		return UserQuery{}, errors.NewValidationError("order", query.Order, "must be asc or desc")
	}

	var err error
	if query.Limit, err = parseInt(q.Get("limit"), "limit", DefaultLimit, 1); err != nil {
		return UserQuery{}, err
	}
	query.Limit = min(query.Limit, MaxLimit)
	if query.Offset, err = parseInt(q.Get("offset"), "offset", 0, 0); err != nil {
		return UserQuery{}, err
	}

	return query, nil
}

// Apply sorts users and returns the requested page. Filtering by the
// embedded admin.Filter happens in the user store.
func (u UserQuery) Apply(users []models.User) []models.User {
	sorted := slices.Clone(users)
	slices.SortStableFunc(sorted, u.compare)

	if u.Offset >= len(sorted) {
		return []models.User{}
	}
	end := len(sorted)
	if u.Limit > 0 {
		end = min(u.Offset+u.Limit, len(sorted))
	}
	return sorted[u.Offset:end]
}

func (u UserQuery) compare(a, b models.User) int {
	var c int
	switch u.Sort {
	case SortEmail:
		c = strings.Compare(a.Email, b.Email)
	case SortCreated:
		c = a.CreatedAt.Compare(b.CreatedAt)
	case SortLastSeen:
		c = a.LastSeenAt.Compare(b.LastSeenAt)
	default:
		c = strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	}
	if c == 0 {
		c = strings.Compare(a.ID, b.ID)
	}
	if u.Order == OrderDesc {
		return -c
	}
	return c
}

// parseInt parses an integer query value not below floor. Empty means def.
func parseInt(raw, field string, def, floor int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < floor {
		return 0, errors.NewValidationError(field, raw, "must be an integer of at least "+strconv.Itoa(floor))
	}
	return n, nil
}
