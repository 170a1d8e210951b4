package auth

import (
	"github.com/rs/zerolog"

	"github.com/agentstation/beacon/pkg/store"
)

// Presence is the view of a session that activity tracking consumes:
// whether a user is signed in, and who.
type Presence struct {
	UserID string `json:"user_id,omitempty"`
}

// Present reports whether a user is signed in.
func (p Presence) Present() bool {
	return p.UserID != ""
}

// PresenceKey returns the registry key for a session's presence store.
func PresenceKey(sessionID string) store.Key[Presence] {
	return store.NewKey[Presence]("presence:" + sessionID)
}

// NewPresenceStore creates an absent presence store for a session.
func NewPresenceStore(sessionID string, logger *zerolog.Logger) *store.Store[Presence] {
	return store.New(PresenceKey(sessionID).Name(), Presence{}, store.WithLogger[Presence](logger))
}
