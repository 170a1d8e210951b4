package events

import (
	"github.com/agentstation/beacon/internal/server/sse"
	ws "github.com/agentstation/beacon/internal/server/websocket"
)

// Sink receives published events. The broker calls Send from its own
// goroutine per event, so Send may run concurrently with itself.
type Sink interface {
	Send(Event) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Event) error

// Send calls f.
func (f SinkFunc) Send(e Event) error { return f(e) }

// SSE returns a sink streaming events to every client of b.
func SSE(b *sse.Broadcaster) Sink {
	return SinkFunc(func(e Event) error {
		b.Broadcast(e.Frame())
		return nil
	})
}

// WebSocket returns a sink broadcasting events to every client of h.
func WebSocket(h *ws.Hub) Sink {
	return SinkFunc(func(e Event) error {
		h.Broadcast(e.Message())
		return nil
	})
}
