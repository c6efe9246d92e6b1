package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock hands out timers that fire only when the test advances them.
type fakeClock struct {
	waits chan time.Duration
	mu    sync.Mutex
	fire  []chan time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{waits: make(chan time.Duration, 16)} }

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	c.mu.Lock()
	c.fire = append(c.fire, ch)
	c.mu.Unlock()
	c.waits <- d
	return ch
}

// advance waits for the session to request a timer and fires it.
func (c *fakeClock) advance(t *testing.T) time.Duration {
	t.Helper()
	select {
	case d := <-c.waits:
		c.mu.Lock()
		ch := c.fire[0]
		c.fire = c.fire[1:]
		c.mu.Unlock()
		ch <- time.Now()
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("session did not schedule a retry")
		return 0
	}
}

type fakeConn struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once
	mu     sync.Mutex
	out    [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 8), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case b := <-c.in:
		return websocket.TextMessage, b, nil
	case <-c.closed:
		return 0, nil, errors.New("closed")
	}
}

func (c *fakeConn) WriteMessage(_ int, b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out = append(c.out, b)
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.out...)
}

// scriptDialer fails the first `fail` dials, then hands out conns.
type scriptDialer struct {
	fail  int32
	calls atomic.Int32
	conns chan *fakeConn
}

func (d *scriptDialer) Dial(ctx context.Context, _ string) (Conn, error) {
	n := d.calls.Add(1)
	if n <= d.fail {
		return nil, errors.New("connection refused")
	}
	select {
	case c := <-d.conns:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func collectEvents() (func(Event), <-chan Event) {
	ch := make(chan Event, 32)
	return func(ev Event) { ch <- ev }, ch
}

func nextEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no session event")
		return Event{}
	}
}

func TestSessionStopsAfterMaxAttempts(t *testing.T) {
	clock := newFakeClock()
	dialer := &scriptDialer{fail: 100}
	onEvent, events := collectEvents()
	s := New(Config{URL: "ws://example.invalid", Dialer: dialer, Clock: clock, OnEvent: onEvent})
	s.Connect()
	defer s.Disconnect()

	wantDelays := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second}
	for i, want := range wantDelays {
		ev := nextEvent(t, events)
		require.Equal(t, EventConnectError, ev.Kind)
		assert.Equal(t, i+1, ev.Attempts)
		assert.Equal(t, want, clock.advance(t))
	}

	ev := nextEvent(t, events)
	require.Equal(t, EventConnectError, ev.Kind)
	assert.Equal(t, 5, ev.Attempts)
	ev = nextEvent(t, events)
	require.Equal(t, EventExhausted, ev.Kind)
	assert.ErrorIs(t, ev.Err, ErrReconnectExhausted)

	st := s.Status()
	assert.True(t, st.Exhausted)
	assert.False(t, st.Connected)
	assert.Equal(t, "disconnected", st.Phase)
	assert.Equal(t, 5, st.Attempts)
	assert.Equal(t, ErrReconnectExhausted.Error(), st.LastError)
	assert.EqualValues(t, 5, dialer.calls.Load())

	s.Connect()
	select {
	case d := <-clock.waits:
		t.Fatalf("closed session scheduled another retry (%v)", d)
	case <-time.After(50 * time.Millisecond):
	}
	assert.EqualValues(t, 5, dialer.calls.Load())
}

func TestSessionResetsAttemptsOnConnect(t *testing.T) {
	clock := newFakeClock()
	dialer := &scriptDialer{fail: 2, conns: make(chan *fakeConn, 2)}
	conn := newFakeConn()
	dialer.conns <- conn
	onEvent, events := collectEvents()
	var received [][]byte
	var mu sync.Mutex
	s := New(Config{
		Dialer:  dialer,
		Clock:   clock,
		OnEvent: onEvent,
		OnMessage: func(b []byte) {
			mu.Lock()
			received = append(received, b)
			mu.Unlock()
		},
	})
	assert.Equal(t, DefaultURL, s.Status().URL)
	s.Connect()
	defer s.Disconnect()

	require.Equal(t, EventConnectError, nextEvent(t, events).Kind)
	clock.advance(t)
	require.Equal(t, EventConnectError, nextEvent(t, events).Kind)
	assert.Equal(t, 2, s.Attempts())
	clock.advance(t)

	ev := nextEvent(t, events)
	require.Equal(t, EventConnected, ev.Kind)
	assert.Equal(t, 0, ev.Attempts)
	assert.True(t, s.Connected())
	assert.Equal(t, 0, s.Attempts())

	conn.in <- []byte(`{"event":"botLog"}`)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Emit("startBot", "Alice"))
	require.Len(t, conn.written(), 1)
	assert.JSONEq(t, `{"event":"startBot","data":"Alice"}`, string(conn.written()[0]))
}

func TestSessionReconnectsAfterDrop(t *testing.T) {
	clock := newFakeClock()
	dialer := &scriptDialer{conns: make(chan *fakeConn, 2)}
	first, second := newFakeConn(), newFakeConn()
	dialer.conns <- first
	dialer.conns <- second
	onEvent, events := collectEvents()
	s := New(Config{Dialer: dialer, Clock: clock, OnEvent: onEvent})
	s.Connect()
	defer s.Disconnect()

	require.Equal(t, EventConnected, nextEvent(t, events).Kind)
	first.Close()
	require.Equal(t, EventDisconnected, nextEvent(t, events).Kind)
	assert.False(t, s.Connected())
	assert.Equal(t, "connecting", s.Status().Phase)
	assert.ErrorIs(t, s.Emit("startBot", "Alice"), ErrNotConnected)

	assert.Equal(t, time.Second, clock.advance(t))
	require.Equal(t, EventConnected, nextEvent(t, events).Kind)
	assert.True(t, s.Connected())
}

func TestDisconnectIsIdempotent(t *testing.T) {
	never := New(Config{URL: "ws://example.invalid"})
	never.Disconnect()
	never.Disconnect()
	assert.False(t, never.Connected())

	dialer := &scriptDialer{conns: make(chan *fakeConn, 1)}
	conn := newFakeConn()
	dialer.conns <- conn
	onEvent, events := collectEvents()
	s := New(Config{Dialer: dialer, Clock: newFakeClock(), OnEvent: onEvent})
	s.Connect()
	s.Connect()
	require.Equal(t, EventConnected, nextEvent(t, events).Kind)

	s.Disconnect()
	s.Disconnect()
	assert.False(t, s.Connected())
	assert.Equal(t, "disconnected", s.Status().Phase)
	assert.EqualValues(t, 1, dialer.calls.Load())
	select {
	case <-conn.closed:
	default:
		t.Fatal("connection handle was not released")
	}
}

func TestSessionOverWebsocket(t *testing.T) {
	upgrader := websocket.Upgrader{}
	got := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"botsStatus","data":{}}`))
		_, msg, err := conn.ReadMessage()
		if err == nil {
			got <- string(msg)
		}
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	inbound := make(chan []byte, 1)
	s := New(Config{
		URL:       "ws" + strings.TrimPrefix(srv.URL, "http"),
		OnMessage: func(b []byte) { inbound <- b },
	})
	s.Connect()
	defer s.Disconnect()

	select {
	case b := <-inbound:
		assert.JSONEq(t, `{"event":"botsStatus","data":{}}`, string(b))
	case <-time.After(2 * time.Second):
		t.Fatal("no inbound frame")
	}
	require.True(t, s.Connected())
	require.NoError(t, s.Emit("stopAllBots", nil))
	select {
	case msg := <-got:
		assert.JSONEq(t, `{"event":"stopAllBots"}`, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive the intent")
	}
}
