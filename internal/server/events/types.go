// Package events distributes activity and dashboard events to real-time
// transports.
//
// Producers (the session tracker, activity trackers, admin handlers)
// publish to a Broker, which numbers each event and fans it out to every
// registered Sink. SSE and WebSocket return sinks for the two real-time
// transports.
package events

import (
	"strconv"
	"time"

	"github.com/agentstation/beacon/internal/server/sse"
	ws "github.com/agentstation/beacon/internal/server/websocket"
)

// EventType represents the type of event.
type EventType string

// Event types.
const (
	// Activity events (from the session tracker).
	PageViewed      EventType = "activity.page_view"
	SessionStarted  EventType = "session.started"
	SessionEnded    EventType = "session.ended"
	SessionDuration EventType = "session.duration"

	// Tracker state changes.
	TrackerTransition EventType = "tracker.transition"

	// Dashboard events.
	StatsUpdated EventType = "stats.updated"
	UserAdded    EventType = "user.added"
	UserRemoved  EventType = "user.removed"

	// Client events (from transport layers).
	ClientConnected EventType = "client.connected"
)

// Event is one published occurrence. Seq increases with every Publish on
// a broker, starting at 1.
type Event struct {
	Seq       uint64    `json:"seq"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Frame renders the event as an SSE frame named after its type. The
// sequence number is the frame ID, which browsers echo back as
// Last-Event-ID on reconnect.
func (e Event) Frame() sse.Event {
	return sse.Event{
		Event: string(e.Type),
		ID:    strconv.FormatUint(e.Seq, 10),
		Data:  e.Data,
	}
}

// Message renders the event as a WebSocket message.
func (e Event) Message() ws.Message {
	return ws.Message{
		Type:      string(e.Type),
		Timestamp: e.Timestamp,
		Data:      e.Data,
	}
}

// Publisher accepts events without blocking.
type Publisher interface {
	Publish(eventType EventType, data any)
}

// Discard is a Publisher that drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(EventType, any) {}
