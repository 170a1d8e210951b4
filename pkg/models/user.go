// Package models defines the records shared by storage, auth and the
// admin stores.
package models

import (
	"net/mail"
	"strings"
	"time"

	"github.com/agentstation/beacon/pkg/errors"
)

// Role is a user's permission level.
type Role string

// Roles.
const (
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleEditor, RoleViewer:
		return true
	}
	return false
}

// Status is a user's account status.
type Status string

// Statuses.
const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusActive || s == StatusSuspended
}

// User is an account that can sign in to the dashboard.
type User struct {
	ID           string    `json:"id" yaml:"id"`
	Email        string    `json:"email" yaml:"email"`
	Name         string    `json:"name" yaml:"name"`
	Role         Role      `json:"role" yaml:"role"`
	Status       Status    `json:"status" yaml:"status"`
	PasswordHash string    `json:"-" yaml:"-"`
	CreatedAt    time.Time `json:"created_at" yaml:"created_at"`
	LastSeenAt   time.Time `json:"last_seen_at,omitzero" yaml:"last_seen_at,omitempty"`
}

// Validate checks the user's identifying fields.
func (u User) Validate() error {
	if strings.TrimSpace(u.ID) == "" {
		return errors.NewValidationError("id", u.ID, "id is required")
	}
	if err := ValidateEmail(u.Email); err != nil {
		return err
	}
	if !u.Role.Valid() {
		return errors.NewValidationError("role", u.Role, "must be admin, editor or viewer")
	}
	if !u.Status.Valid() {
		return errors.NewValidationError("status", u.Status, "must be active or suspended")
	}
	return nil
}

// ValidateEmail checks that email is a bare address.
func ValidateEmail(email string) error {
	if strings.TrimSpace(email) == "" {
		return errors.NewValidationError("email", email, "email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return errors.NewValidationError("email", email, "invalid email address")
	}
	return nil
}

// NormalizeEmail lowercases and trims an address for lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
