package admin

import (
	"slices"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/text/cases"

	"github.com/agentstation/beacon/pkg/errors"
	"github.com/agentstation/beacon/pkg/models"
	"github.com/agentstation/beacon/pkg/store"
)

// UserManagementKey identifies the user management store in a registry.
var UserManagementKey = store.NewKey[UserManagement]("admin.user_management")

// Filter narrows the user list.
type Filter struct {
	Query  string        `json:"query,omitempty" yaml:"query,omitempty"`
	Role   models.Role   `json:"role,omitempty" yaml:"role,omitempty"`
	Status models.Status `json:"status,omitempty" yaml:"status,omitempty"`
}

// Validate checks that role and status are empty or known.
func (f Filter) Validate() error {
	if f.Role != "" && !f.Role.Valid() {
		return errors.NewValidationError("role", f.Role, "unknown role")
	}
	if f.Status != "" && !f.Status.Valid() {
		return errors.NewValidationError("status", f.Status, "unknown status")
	}
	return nil
}

// Match reports whether u passes the filter. Query matching is
// case-insensitive over name and email.
func (f Filter) Match(u models.User) bool {
	if f.Role != "" && u.Role != f.Role {
		return false
	}
	if f.Status != "" && u.Status != f.Status {
		return false
	}
	query := strings.TrimSpace(f.Query)
	if query == "" {
		return true
	}
	fold := cases.Fold()
	q := fold.String(query)
	return strings.Contains(fold.String(u.Name), q) || strings.Contains(fold.String(u.Email), q)
}

// UserManagement is the state behind the users screen.
type UserManagement struct {
	Users      []models.User `json:"users" yaml:"users"`
	Filter     Filter        `json:"filter" yaml:"filter"`
	SelectedID string        `json:"selected_id,omitempty" yaml:"selected_id,omitempty"`
	Loading    bool          `json:"loading" yaml:"loading"`
}

func cloneUserManagement(s UserManagement) UserManagement {
	s.Users = slices.Clone(s.Users)
	return s
}

func (s UserManagement) index(id string) int {
	return slices.IndexFunc(s.Users, func(u models.User) bool { return u.ID == id })
}

// UserStore exposes the actions permitted on user management state.
type UserStore struct {
	store *store.Store[UserManagement]
}

func newUserStoreState(logger *zerolog.Logger) *store.Store[UserManagement] {
	return store.New(UserManagementKey.Name(), UserManagement{},
		store.WithClone(cloneUserManagement),
		store.WithLogger[UserManagement](logger))
}

// NewUserStore creates a standalone user store.
func NewUserStore(logger *zerolog.Logger) *UserStore {
	return &UserStore{store: newUserStoreState(logger)}
}

// Store returns the underlying store for subscriptions and bindings.
func (u *UserStore) Store() *store.Store[UserManagement] {
	return u.store
}

// State returns the current state.
func (u *UserStore) State() UserManagement {
	return u.store.State()
}

// SetUsers replaces the user list and clears loading. A selection that
// no longer exists is cleared.
func (u *UserStore) SetUsers(users []models.User) error {
	seen := make(map[string]struct{}, len(users))
	for _, user := range users {
		if err := user.Validate(); err != nil {
			return err
		}
		if _, dup := seen[user.ID]; dup {
			return errors.NewAlreadyExistsError("user", user.ID)
		}
		seen[user.ID] = struct{}{}
	}

	return u.store.Update(func(s UserManagement) (UserManagement, error) {
		s.Users = slices.Clone(users)
		s.Loading = false
		if _, ok := seen[s.SelectedID]; !ok {
			s.SelectedID = ""
		}
		return s, nil
	})
}

// AddUser appends a user. IDs and emails must be unique.
func (u *UserStore) AddUser(user models.User) error {
	if err := user.Validate(); err != nil {
		return err
	}
	return u.store.Update(func(s UserManagement) (UserManagement, error) {
		for _, existing := range s.Users {
			if existing.ID == user.ID {
				return s, errors.NewAlreadyExistsError("user", user.ID)
			}
			if strings.EqualFold(existing.Email, user.Email) {
				return s, errors.NewAlreadyExistsError("user", user.Email)
			}
		}
		s.Users = append(s.Users, user)
		return s, nil
	})
}

// UpdateUser replaces the user with the same ID.
func (u *UserStore) UpdateUser(user models.User) error {
	if err := user.Validate(); err != nil {
		return err
	}
	return u.store.Update(func(s UserManagement) (UserManagement, error) {
		i := s.index(user.ID)
		if i < 0 {
			return s, errors.NewNotFoundError("user", user.ID)
		}
		s.Users[i] = user
		return s, nil
	})
}

// RemoveUser deletes a user and clears the selection if it pointed at them.
func (u *UserStore) RemoveUser(id string) error {
	return u.store.Update(func(s UserManagement) (UserManagement, error) {
		i := s.index(id)
		if i < 0 {
			return s, errors.NewNotFoundError("user", id)
		}
		s.Users = slices.Delete(s.Users, i, i+1)
		if s.SelectedID == id {
			s.SelectedID = ""
		}
		return s, nil
	})
}

// Select marks a user as selected.
func (u *UserStore) Select(id string) error {
	if id == "" {
		return errors.NewValidationError("id", id, "id is required")
	}
	return u.store.Update(func(s UserManagement) (UserManagement, error) {
		if s.index(id) < 0 {
			return s, errors.NewNotFoundError("user", id)
		}
		s.SelectedID = id
		return s, nil
	})
}

// ClearSelection deselects any user.
func (u *UserStore) ClearSelection() error {
	return u.store.Update(func(s UserManagement) (UserManagement, error) {
		s.SelectedID = ""
		return s, nil
	})
}

// SetFilter replaces the filter.
func (u *UserStore) SetFilter(f Filter) error {
	if err := f.Validate(); err != nil {
		return err
	}
	return u.store.Update(func(s UserManagement) (UserManagement, error) {
		s.Filter = f
		return s, nil
	})
}

// SetLoading sets the loading flag.
func (u *UserStore) SetLoading(loading bool) error {
	return u.store.Update(func(s UserManagement) (UserManagement, error) {
		s.Loading = loading
		return s, nil
	})
}

// Filtered returns the users matching the current filter.
func (u *UserStore) Filtered() []models.User {
	return Filtered(u.store.State())
}

// Filtered returns the users in s matching its filter.
func Filtered(s UserManagement) []models.User {
	out := make([]models.User, 0, len(s.Users))
	for _, user := range s.Users {
		if s.Filter.Match(user) {
			out = append(out, user)
		}
	}
	return out
}

// Selected returns the selected user.
func (u *UserStore) Selected() (models.User, bool) {
	s := u.store.State()
	if i := s.index(s.SelectedID); i >= 0 && s.SelectedID != "" {
		return s.Users[i], true
	}
	return models.User{}, false
}
