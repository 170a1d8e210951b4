// Package validation checks API request bodies and query parameters
// before they reach the domain packages.
package validation

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/agentstation/beacon/pkg/errors"
	"github.com/agentstation/beacon/pkg/models"
)

// Limits.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 72 // bcrypt ignores bytes past 72
	MaxPathLength     = 2048
	MaxNameLength     = 200
)

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate checks the email format and that a password was given.
func (r *LoginRequest) Validate() error {
	r.Email = models.NormalizeEmail(r.Email)
	if err := models.ValidateEmail(r.Email); err != nil {
		return err
	}
	if r.Password == "" {
		return errors.NewValidationError("password", "", "password is required")
	}
	if len(r.Password) > MaxPasswordLength {
		return errors.NewValidationError("password", "", "password is too long")
	}
	return nil
}

// ActivityKind names a client activity signal.
type ActivityKind string

// Activity kinds.
const (
	ActivityNavigate  ActivityKind = "navigate"
	ActivityInput     ActivityKind = "input"
	ActivityHeartbeat ActivityKind = "heartbeat"
)

// ActivityRequest is the body of POST /activity.
type ActivityRequest struct {
	Type ActivityKind `json:"type"`
	Path string       `json:"path,omitempty"`
}

// Validate checks the kind and, for navigation, the path.
func (r *ActivityRequest) Validate() error {
	switch r.Type {
	case ActivityNavigate:
		return ValidatePath(r.Path)
	case ActivityInput, ActivityHeartbeat:
		return nil
	default:
		return errors.NewValidationError("type", r.Type, "must be navigate, input or heartbeat")
	}
}

// ValidatePath checks a page path: absolute, bounded and valid UTF-8.
func ValidatePath(path string) error {
	switch {
	case path == "":
		return errors.NewValidationError("path", path, "path is required")
	case !strings.HasPrefix(path, "/"):
		return errors.NewValidationError("path", path, "path must start with /")
	case len(path) > MaxPathLength:
		return errors.NewValidationError("path", len(path), "path is too long")
	case !utf8.ValidString(path):
		return errors.NewValidationError("path", path, "path must be valid UTF-8")
	}
	return nil
}

// CreateUserRequest is the body of POST /admin/users.
type CreateUserRequest struct {
	Email    string      `json:"email" yaml:"email"`
	Name     string      `json:"name" yaml:"name"`
	Role     models.Role `json:"role" yaml:"role"`
	Password string      `json:"password" yaml:"password"`
}

// Validate checks every field. An empty role defaults to viewer.
func (r *CreateUserRequest) Validate() error {
	r.Email = models.NormalizeEmail(r.Email)
	r.Name = strings.TrimSpace(r.Name)
	if r.Role == "" {
		r.Role = models.RoleViewer
	}
	if err := models.ValidateEmail(r.Email); err != nil {
		return err
	}
	if utf8.RuneCountInString(r.Name) > MaxNameLength {
		return errors.NewValidationError("name", r.Name, "name is too long")
	}
	if !r.Role.Valid() {
		return errors.NewValidationError("role", r.Role, "must be admin, editor or viewer")
	}
	if len(r.Password) < MinPasswordLength {
		return errors.NewValidationError("password", "", "password must be at least 8 characters")
	}
	if len(r.Password) > MaxPasswordLength {
		return errors.NewValidationError("password", "", "password is too long")
	}
	return nil
}

// User builds the active user for a validated request.
func (r CreateUserRequest) User(id, passwordHash string, now time.Time) models.User {
	name := r.Name
	if name == "" {
		name, _, _ = strings.Cut(r.Email, "@")
	}
	return models.User{
		ID:           id,
		Email:        r.Email,
		Name:         name,
		Role:         r.Role,
		Status:       models.StatusActive,
		PasswordHash: passwordHash,
		CreatedAt:    now,
	}
}

// Limit parses a positive limit query value. Empty means def; values
// above max are clamped.
func Limit(raw string, def, max int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.NewValidationError("limit", raw, "must be a positive integer")
	}
	return min(n, max), nil
}
