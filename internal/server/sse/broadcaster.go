// Package sse provides Server-Sent Events support for the activity and
// dashboard feeds.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentstation/beacon/pkg/errors"
)

// Event represents an SSE event.
type Event struct {
	Event string `json:"event,omitempty"` // Event type (optional)
	ID    string `json:"id,omitempty"`    // Event ID (optional)
	Data  any    `json:"data"`            // Event data
}

// Stream writes SSE frames to a single response.
type Stream struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewStream sets the SSE headers on w and returns a stream writer. It
// fails when the response writer cannot flush.
func NewStream(w http.ResponseWriter) (*Stream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, &errors.ResourceError{
			Operation: "stream",
			Resource:  "sse",
			Err:       fmt.Errorf("streaming not supported"),
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &Stream{w: w, flusher: flusher}, nil
}

// Send writes one event and flushes it.
func (s *Stream) Send(event Event) error {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("marshal sse event: %w", err)
	}
	if event.Event != "" {
		if _, err := fmt.Fprintf(s.w, "event: %s\n", event.Event); err != nil {
			return err
		}
	}
	if event.ID != "" {
		if _, err := fmt.Fprintf(s.w, "id: %s\n", event.ID); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Comment writes an SSE comment line, used as a keep-alive.
func (s *Stream) Comment(text string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Broadcaster fans events out to every connected SSE client.
type Broadcaster struct {
	clients    map[chan Event]struct{}
	newClients chan chan Event
	closed     chan chan Event
	events     chan Event
	done       chan struct{}
	mu         sync.RWMutex
	logger     *zerolog.Logger
}

// NewBroadcaster creates a new SSE broadcaster.
func NewBroadcaster(logger *zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		clients:    make(map[chan Event]struct{}),
		newClients: make(chan chan Event, 16),
		closed:     make(chan chan Event, 16),
		events:     make(chan Event, 256),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run starts the broadcaster's main loop until ctx is cancelled.
func (b *Broadcaster) Run(ctx context.Context) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			b.mu.Lock()
			for client := range b.clients {
				close(client)
			}
			b.clients = make(map[chan Event]struct{})
			b.mu.Unlock()
			b.logger.Info().Msg("SSE broadcaster shut down")
			return

		case client := <-b.newClients:
			b.mu.Lock()
			b.clients[client] = struct{}{}
			count := len(b.clients)
			b.mu.Unlock()
			b.logger.Debug().Int("total_clients", count).Msg("SSE client connected")

		case client := <-b.closed:
			b.mu.Lock()
			if _, ok := b.clients[client]; ok {
				delete(b.clients, client)
				close(client)
			}
			count := len(b.clients)
			b.mu.Unlock()
			b.logger.Debug().Int("total_clients", count).Msg("SSE client disconnected")

		case event := <-b.events:
			b.mu.RLock()
			for client := range b.clients {
				select {
				case client <- event:
				default:
					b.logger.Warn().Str("event", event.Event).Msg("SSE client buffer full, event skipped")
				}
			}
			b.mu.RUnlock()
		}
	}
}

// Broadcast sends an event to all connected SSE clients.
func (b *Broadcaster) Broadcast(event Event) {
	select {
	case b.events <- event:
	default:
		b.logger.Warn().Msg("SSE broadcast channel full, event dropped")
	}
}

// ClientCount returns the number of connected SSE clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// subscribe registers a client channel. It returns false once Run has
// returned.
func (b *Broadcaster) subscribe() (chan Event, bool) {
	client := make(chan Event, 64)
	select {
	case b.newClients <- client:
		return client, true
	case <-b.done:
		return nil, false
	}
}

func (b *Broadcaster) unsubscribe(client chan Event) {
	select {
	case b.closed <- client:
	case <-b.done:
	}
}

// ServeHTTP streams broadcast events to the client until it disconnects
// or the broadcaster stops.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	stream, err := NewStream(w)
	if err != nil {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	client, ok := b.subscribe()
	if !ok {
		return
	}
	defer b.unsubscribe(client)

	_ = stream.Send(Event{
		Event: "connected",
		Data: map[string]any{
			"message":   "Connected to beacon updates stream",
			"timestamp": time.Now().UTC(),
		},
	})

	for {
		select {
		case event, ok := <-client:
			if !ok {
				return
			}
			if err := stream.Send(event); err != nil {
				b.logger.Debug().Err(err).Msg("SSE write failed")
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}
