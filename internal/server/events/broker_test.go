package events

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/beacon/internal/server/sse"
	ws "github.com/agentstation/beacon/internal/server/websocket"
)

// recordingSink keeps every event it is sent.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) Send(e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingSink) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func startBroker(t *testing.T) *Broker {
	t.Helper()
	logger := zerolog.Nop()
	b := NewBroker(&logger)
	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-b.Done()
	})
	return b
}

func TestBrokerDeliversNumberedEvents(t *testing.T) {
	b := startBroker(t)
	sink := &recordingSink{}
	b.Subscribe(sink)

	b.Publish(PageViewed, map[string]any{"path": "/admin"})
	b.Publish(StatsUpdated, nil)
	require.Eventually(t, func() bool { return len(sink.Events()) == 2 }, time.Second, 5*time.Millisecond)

	got := sink.Events()
	seqs := map[uint64]EventType{got[0].Seq: got[0].Type, got[1].Seq: got[1].Type}
	assert.Equal(t, map[uint64]EventType{1: PageViewed, 2: StatsUpdated}, seqs)
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestBrokerUnsubscribe(t *testing.T) {
	b := startBroker(t)
	sink := &recordingSink{}
	unsubscribe := b.Subscribe(sink)
	assert.Equal(t, 1, b.SubscriberCount())

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 0, b.SubscriberCount())

	b.Publish(SessionStarted, nil)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, sink.Events())
}

func TestBrokerShutdownDropsSinks(t *testing.T) {
	logger := zerolog.Nop()
	b := NewBroker(&logger)
	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)

	b.Subscribe(&recordingSink{})
	b.Subscribe(&recordingSink{})
	cancel()
	<-b.Done()

	assert.Equal(t, 0, b.SubscriberCount())
	b.Subscribe(&recordingSink{})()
	assert.Equal(t, 0, b.SubscriberCount())
	b.Publish(StatsUpdated, nil)
}

func TestBrokerSubscribeBeforeRun(t *testing.T) {
	logger := zerolog.Nop()
	b := NewBroker(&logger)
	sink := &recordingSink{}
	b.Subscribe(sink)
	b.Publish(UserAdded, "u1")

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		<-b.Done()
	}()
	go b.Run(ctx)

	require.Eventually(t, func() bool { return len(sink.Events()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestBrokerPublishNeverBlocks(t *testing.T) {
	logger := zerolog.Nop()
	b := NewBroker(&logger)

	done := make(chan struct{})
	go func() {
		for i := range 1000 {
			b.Publish(StatsUpdated, i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked with no running broker")
	}
}

func TestBrokerSurvivesFailingSink(t *testing.T) {
	b := startBroker(t)
	ok := &recordingSink{}
	b.Subscribe(SinkFunc(func(Event) error { return errors.New("gone") }))
	b.Subscribe(ok)

	b.Publish(SessionEnded, nil)
	require.Eventually(t, func() bool { return len(ok.Events()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestEventFrameUsesSequenceAsID(t *testing.T) {
	e := Event{Seq: 42, Type: SessionEnded, Data: "u1"}
	assert.Equal(t, sse.Event{Event: "session.ended", ID: "42", Data: "u1"}, e.Frame())

	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	e.Timestamp = at
	assert.Equal(t, ws.Message{Type: "session.ended", Timestamp: at, Data: "u1"}, e.Message())
}

func TestWebSocketSinkDeliversEvents(t *testing.T) {
	logger := zerolog.Nop()
	hub := ws.NewHub(&logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	b := startBroker(t)
	b.Subscribe(WebSocket(hub))

	srv := httptest.NewServer(hub)
	defer srv.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	b.Publish(PageViewed, map[string]string{"path": "/admin"})

	var msg ws.Message
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, string(PageViewed), msg.Type)
	assert.Equal(t, map[string]any{"path": "/admin"}, msg.Data)
}

func TestSSESinkDeliversEvents(t *testing.T) {
	logger := zerolog.Nop()
	bc := sse.NewBroadcaster(&logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bc.Run(ctx)

	b := startBroker(t)
	b.Subscribe(SSE(bc))

	srv := httptest.NewServer(bc)
	defer srv.Close()
	reqCtx, reqCancel := context.WithCancel(context.Background())
	defer reqCancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Eventually(t, func() bool { return bc.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	b.Publish(SessionEnded, map[string]string{"user_id": "u1"})

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if line == "event: "+string(SessionEnded)+"\n" {
			break
		}
	}
	id, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "id: 1\n", id)
}

func TestDiscardPublisher(t *testing.T) {
	Discard.Publish(StatsUpdated, nil)
}
