package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// queueSize bounds the events waiting for the broker loop.
const queueSize = 256

// Broker numbers published events and fans each one out to every sink.
// Publish never blocks: when the queue is full the event is dropped and
// its sequence number is skipped, so clients can detect the gap.
type Broker struct {
	queue  chan Event
	seq    atomic.Uint64
	done   chan struct{}
	logger *zerolog.Logger

	mu     sync.RWMutex
	sinks  map[uint64]Sink
	nextID uint64
	closed bool

	inflight sync.WaitGroup
}

// NewBroker creates a broker. Sinks may subscribe before Run starts.
func NewBroker(logger *zerolog.Logger) *Broker {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Broker{
		queue:  make(chan Event, queueSize),
		done:   make(chan struct{}),
		logger: logger,
		sinks:  make(map[uint64]Sink),
	}
}

// Run delivers queued events until ctx is cancelled, then waits for
// in-flight sends and drops every sink.
func (b *Broker) Run(ctx context.Context) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			b.shutdown()
			return
		case e := <-b.queue:
			b.fanOut(e)
		}
	}
}

func (b *Broker) fanOut(e Event) {
	b.mu.RLock()
	sinks := make([]Sink, 0, len(b.sinks))
	for _, sink := range b.sinks {
		sinks = append(sinks, sink)
	}
	b.mu.RUnlock()

	for _, sink := range sinks {
		b.inflight.Add(1)
		go func() {
			defer b.inflight.Done()
			if err := sink.Send(e); err != nil {
				b.logger.Warn().Err(err).
					Str("event_type", string(e.Type)).
					Uint64("seq", e.Seq).
					Msg("Sink rejected event")
			}
		}()
	}
	b.logger.Debug().
		Str("event_type", string(e.Type)).
		Uint64("seq", e.Seq).
		Int("sinks", len(sinks)).
		Msg("Event delivered")
}

func (b *Broker) shutdown() {
	b.inflight.Wait()
	b.mu.Lock()
	b.closed = true
	clear(b.sinks)
	b.mu.Unlock()
	b.logger.Info().Uint64("published", b.seq.Load()).Msg("Event broker shut down")
}

// Done is closed when Run returns.
func (b *Broker) Done() <-chan struct{} {
	return b.done
}

// Publish queues an event without blocking.
func (b *Broker) Publish(eventType EventType, data any) {
	select {
	case <-b.done:
		return
	default:
	}

	e := Event{
		Seq:       b.seq.Add(1),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	select {
	case b.queue <- e:
	default:
		b.logger.Warn().Str("event_type", string(eventType)).Msg("Event queue full, event dropped")
	}
}

// Subscribe registers sink and returns a function that removes it. The
// function may be called more than once. Subscribing to a stopped
// broker registers nothing.
func (b *Broker) Subscribe(sink Sink) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	b.nextID++
	id := b.nextID
	b.sinks[id] = sink
	b.logger.Debug().Int("sinks", len(b.sinks)).Msg("Sink subscribed")

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.sinks, id)
	}
}

// SubscriberCount returns the number of registered sinks.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sinks)
}
