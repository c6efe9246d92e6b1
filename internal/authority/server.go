// Package authority is an in-memory stand-in for the remote fleet authority.
// It speaks the same websocket protocol the client does, so it backs local
// development (cmd/fake-authority) and end-to-end tests.
package authority

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/CamiloCaceres/artifacts-client/internal/protocol"
)

const outQueue = 64

// MaxIntents bounds the received intents kept for inspection.
const MaxIntents = 256

type Server struct {
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	fleet   *Fleet
	clients map[*peer]struct{}
	intents []protocol.Envelope

	received atomic.Uint64
}

type peer struct {
	conn   *websocket.Conn
	out    chan []byte
	cancel context.CancelFunc
}

func NewServer(fleet *Fleet, logger *slog.Logger) *Server {
	if fleet == nil {
		fleet = NewFleet(Seed{})
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		log:   logger,
		fleet: fleet,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		clients: map[*peer]struct{}{},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		p := &peer{conn: conn, out: make(chan []byte, outQueue), cancel: cancel}

		// initialState is queued under the lock so no broadcast can overtake it.
		s.mu.Lock()
		b, err := protocol.EncodeEnvelope(protocol.EventInitialState, s.fleet.Snapshot())
		if err == nil {
			p.out <- b
			s.clients[p] = struct{}{}
		}
		n := len(s.clients)
		s.mu.Unlock()
		if err != nil {
			s.log.Error("encode initial state", "err", err)
			return
		}
		s.log.Info("client connected", "remote", r.RemoteAddr, "clients", n)

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					_ = conn.Close()
					return
				case b := <-p.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			env, err := protocol.DecodeEnvelope(msg)
			if err != nil {
				s.log.Warn("malformed intent", "err", err)
				continue
			}
			s.handle(p, env)
		}

		s.mu.Lock()
		delete(s.clients, p)
		n = len(s.clients)
		s.mu.Unlock()
		s.log.Info("client disconnected", "remote", r.RemoteAddr, "clients", n)
	}
}

func (s *Server) handle(from *peer, env protocol.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received.Add(1)
	s.intents = append(s.intents, env)
	if len(s.intents) > MaxIntents {
		s.intents = s.intents[len(s.intents)-MaxIntents:]
	}

	switch env.Event {
	case protocol.IntentStartBot, protocol.IntentStopBot:
		var name string
		if !s.decodeLocked(env, &name) {
			return
		}
		st, ok := s.fleet.SetRunning(name, env.Event == protocol.IntentStartBot)
		if !ok {
			s.log.Warn("unknown bot", "event", env.Event, "bot", name)
			return
		}
		s.broadcastLocked(protocol.EventBotStatus, protocol.BotStatusUpdate{CharacterName: name, Status: st})
		s.logLocked(protocol.LogEntry{CharacterName: name, Message: st.LastAction})

	case protocol.IntentStartAllBots, protocol.IntentStopAllBots:
		all := s.fleet.SetAllRunning(env.Event == protocol.IntentStartAllBots)
		s.broadcastLocked(protocol.EventBotsStatus, all)

	case protocol.IntentUpdateBotConfig:
		var req protocol.UpdateBotConfigReq
		if !s.decodeLocked(env, &req) {
			return
		}
		if req.Config.ActionType != nil && !req.Config.ActionType.Valid() {
			s.log.Warn("invalid action type", "bot", req.CharacterName, "actionType", *req.Config.ActionType)
			return
		}
		cfg, ok := s.fleet.PatchConfig(req.CharacterName, req.Config)
		if !ok {
			s.log.Warn("unknown bot", "event", env.Event, "bot", req.CharacterName)
			return
		}
		s.broadcastLocked(protocol.EventBotConfigUpdate, protocol.BotConfigUpdate{CharacterName: req.CharacterName, Config: cfg})

	case protocol.IntentUpdateCraftingCycle:
		var req protocol.UpdateCraftingCycleReq
		if !s.decodeLocked(env, &req) {
			return
		}
		cfg, ok := s.fleet.SetCycle(req.CharacterName, &req.Cycle)
		if !ok {
			s.log.Warn("unknown bot", "event", env.Event, "bot", req.CharacterName)
			return
		}
		s.broadcastLocked(protocol.EventBotConfigUpdate, protocol.BotConfigUpdate{CharacterName: req.CharacterName, Config: cfg})

	case protocol.IntentRemoveCraftingCycle:
		var name string
		if !s.decodeLocked(env, &name) {
			return
		}
		cfg, ok := s.fleet.SetCycle(name, nil)
		if !ok {
			s.log.Warn("unknown bot", "event", env.Event, "bot", name)
			return
		}
		s.broadcastLocked(protocol.EventBotConfigUpdate, protocol.BotConfigUpdate{CharacterName: name, Config: cfg})

	case protocol.IntentGetMonsterLocations:
		var code string
		if !s.decodeLocked(env, &code) || code == "" {
			return
		}
		b, err := protocol.EncodeEnvelope(protocol.EventMonsterLocations, s.fleet.Monsters(code))
		if err != nil {
			s.log.Error("encode monster locations", "err", err)
			return
		}
		s.sendLocked(from, b)

	default:
		s.log.Debug("ignoring event", "event", env.Event)
	}
}

func (s *Server) decodeLocked(env protocol.Envelope, v any) bool {
	if len(env.Data) == 0 {
		s.log.Warn("intent missing payload", "event", env.Event)
		return false
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		s.log.Warn("intent payload", "event", env.Event, "err", err)
		return false
	}
	return true
}

// Broadcast sends one event to every connected client.
func (s *Server) Broadcast(event string, data any) error {
	b, err := protocol.EncodeEnvelope(event, data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for p := range s.clients {
		s.sendLocked(p, b)
	}
	return nil
}

// Log records a bot log line and broadcasts it.
func (s *Server) Log(e protocol.LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logLocked(e)
}

// SetMonsters replaces one monster's locations and broadcasts the set.
func (s *Server) SetMonsters(set protocol.MonsterSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fleet.SetMonsters(set)
	s.broadcastLocked(protocol.EventMonsterLocations, s.fleet.Monsters(set.Code))
}

// DropClients closes every live connection, as a network failure would.
func (s *Server) DropClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for p := range s.clients {
		p.cancel()
		_ = p.conn.Close()
	}
}

func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// IntentCount is the number of envelopes received since start.
func (s *Server) IntentCount() uint64 { return s.received.Load() }

// Intents returns the last MaxIntents envelopes received, oldest first.
func (s *Server) Intents() []protocol.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Envelope(nil), s.intents...)
}

func (s *Server) logLocked(e protocol.LogEntry) {
	e = s.fleet.AppendLog(e)
	s.broadcastLocked(protocol.EventBotLog, e)
}

func (s *Server) broadcastLocked(event string, data any) {
	b, err := protocol.EncodeEnvelope(event, data)
	if err != nil {
		s.log.Error("encode broadcast", "event", event, "err", err)
		return
	}
	for p := range s.clients {
		s.sendLocked(p, b)
	}
}

// sendLocked drops the frame if the client's queue is full; the client will
// resync from the next initialState.
func (s *Server) sendLocked(p *peer, b []byte) {
	select {
	case p.out <- b:
	default:
		s.log.Warn("client queue full; dropping frame")
	}
}
