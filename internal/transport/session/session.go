package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/CamiloCaceres/artifacts-client/internal/protocol"
)

// DefaultURL is used when no endpoint is configured.
const DefaultURL = "ws://localhost:3001/ws"

const writeTimeout = 5 * time.Second

var (
	ErrNotConnected       = errors.New("session: not connected")
	ErrReconnectExhausted = errors.New("session: max reconnection attempts reached")
)

// Conn is the subset of *websocket.Conn the session uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Clock supplies retry timers.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

type wsDialer struct{ d websocket.Dialer }

func (w wsDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, resp, err := w.d.DialContext(ctx, url, http.Header{})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type EventKind string

const (
	EventConnected    EventKind = "connected"
	EventDisconnected EventKind = "disconnected"
	EventConnectError EventKind = "connect_error"
	EventExhausted    EventKind = "exhausted"
)

// Event describes one connection transition.
type Event struct {
	Kind      EventKind
	SessionID string
	Attempts  int
	Err       error
	At        time.Time
}

type Config struct {
	URL    string
	Policy RetryPolicy
	Dialer Dialer
	Clock  Clock
	Logger *slog.Logger

	// OnMessage receives every inbound frame, in arrival order, on the
	// session goroutine.
	OnMessage func([]byte)
	// OnEvent observes connection transitions on the session goroutine.
	OnEvent func(Event)
}

// Status is a point-in-time view of the session.
type Status struct {
	SessionID       string    `json:"session_id"`
	URL             string    `json:"url"`
	Phase           string    `json:"phase"`
	Connected       bool      `json:"connected"`
	Attempts        int       `json:"reconnect_attempts"`
	Exhausted       bool      `json:"exhausted"`
	LastError       string    `json:"last_error,omitempty"`
	LastConnectedAt time.Time `json:"last_connected_at,omitempty"`
}

// Session owns one logical connection to the authority, including automatic
// reconnection.
type Session struct {
	cfg Config
	id  string
	log *slog.Logger

	mu              sync.RWMutex
	state           *ConnState
	conn            Conn
	running         bool
	closed          bool
	cancel          context.CancelFunc
	done            chan struct{}
	lastErr         error
	lastConnectedAt time.Time

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func New(cfg Config) *Session {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	cfg.Policy = cfg.Policy.normalized()
	if cfg.Dialer == nil {
		cfg.Dialer = wsDialer{d: websocket.Dialer{HandshakeTimeout: cfg.Policy.ConnectTimeout}}
	}
	if cfg.Clock == nil {
		cfg.Clock = realClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	id := uuid.NewString()
	return &Session{
		cfg:   cfg,
		id:    id,
		log:   cfg.Logger.With("session_id", id, "url", cfg.URL),
		state: NewConnState(cfg.Policy),
	}
}

func (s *Session) ID() string { return s.id }

// Connect starts the session goroutine. It is a no-op while the session is
// already running and after the session has been closed.
func (s *Session) Connect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	s.state.Begin()
	go s.run(ctx, s.done)
}

// Disconnect closes the connection and stops reconnection. It is safe to call
// more than once and on a session that never connected.
func (s *Session) Disconnect() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		cancel := s.cancel
		conn := s.conn
		s.conn = nil
		done := s.done
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if conn != nil {
			_ = conn.Close()
		}
		if done != nil {
			<-done
		}

		s.mu.Lock()
		s.state.Close()
		s.mu.Unlock()
	})
}

func (s *Session) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Connected()
}

func (s *Session) Attempts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Attempts()
}

func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{
		SessionID:       s.id,
		URL:             s.cfg.URL,
		Phase:           s.state.Phase().String(),
		Connected:       s.state.Connected(),
		Attempts:        s.state.Attempts(),
		Exhausted:       s.state.Exhausted(),
		LastConnectedAt: s.lastConnectedAt,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// Emit writes one outbound envelope. It does not wait for any reply.
func (s *Session) Emit(event string, data any) error {
	b, err := protocol.EncodeEnvelope(event, data)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return fmt.Errorf("write %s: %w", event, err)
	}
	return nil
}

func (s *Session) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		conn, err := s.cfg.Dialer.Dial(ctx, s.cfg.URL)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			delay, retry := s.connectError(err)
			if !retry {
				s.exhaust()
				return
			}
			if !s.wait(ctx, delay) {
				return
			}
			continue
		}

		if !s.attach(conn) {
			_ = conn.Close()
			return
		}
		err = s.readLoop(conn)
		delay := s.detach(conn, err)
		if ctx.Err() != nil {
			return
		}
		if !s.wait(ctx, delay) {
			return
		}
	}
}

func (s *Session) attach(conn Conn) bool {
	now := time.Now()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.conn = conn
	s.lastErr = nil
	s.lastConnectedAt = now
	s.state.OnConnected()
	s.mu.Unlock()

	s.log.Info("connected to game server")
	s.emitEvent(Event{Kind: EventConnected, At: now})
	return true
}

func (s *Session) detach(conn Conn, cause error) time.Duration {
	_ = conn.Close()
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	delay := s.state.OnDisconnected()
	if s.closed {
		s.state.Close()
	}
	s.mu.Unlock()

	s.log.Info("disconnected from game server", "cause", cause)
	s.emitEvent(Event{Kind: EventDisconnected, Err: cause, At: time.Now()})
	return delay
}

func (s *Session) connectError(err error) (time.Duration, bool) {
	s.mu.Lock()
	s.lastErr = err
	delay, retry := s.state.OnConnectError()
	attempts := s.state.Attempts()
	s.mu.Unlock()

	s.log.Error("connection error", "err", err, "attempts", attempts, "retry_in", delay)
	s.emitEvent(Event{Kind: EventConnectError, Attempts: attempts, Err: err, At: time.Now()})
	return delay, retry
}

func (s *Session) exhaust() {
	s.mu.Lock()
	s.closed = true
	s.lastErr = ErrReconnectExhausted
	attempts := s.state.Attempts()
	s.mu.Unlock()

	s.log.Error("max reconnection attempts reached", "attempts", attempts)
	s.emitEvent(Event{Kind: EventExhausted, Attempts: attempts, Err: ErrReconnectExhausted, At: time.Now()})
}

func (s *Session) readLoop(conn Conn) error {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if s.cfg.OnMessage != nil {
			s.cfg.OnMessage(msg)
		}
	}
}

func (s *Session) wait(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-s.cfg.Clock.After(d):
		return true
	}
}

func (s *Session) emitEvent(ev Event) {
	if s.cfg.OnEvent == nil {
		return
	}
	ev.SessionID = s.id
	if ev.Attempts == 0 {
		ev.Attempts = s.Attempts()
	}
	s.cfg.OnEvent(ev)
}
