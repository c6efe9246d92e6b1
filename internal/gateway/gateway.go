// Package gateway forwards operator intents to the authority.
//
// Every intent goes through one guarded emit. When the session is not
// connected the intent is dropped with a warning; it is never queued or
// retried here. A true result only means the frame was handed to the
// transport without error, not that the authority acted on it.
package gateway

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/CamiloCaceres/artifacts-client/internal/protocol"
)

// ErrNotConnected marks an intent dropped because the session was down.
var ErrNotConnected = errors.New("not connected to server")

// TransportError wraps a failure raised while sending an intent.
type TransportError struct {
	Event string
	Err   error
}

func (e *TransportError) Error() string { return fmt.Sprintf("emit %s: %v", e.Event, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// Transport is the slice of the session the gateway needs.
type Transport interface {
	Connected() bool
	Emit(event string, data any) error
}

// Record describes one intent, sent or dropped.
type Record struct {
	At        time.Time
	SessionID string
	Event     string
	Target    string
	Sent      bool
	Err       error
}

// Recorder receives a Record for every intent.
type Recorder interface {
	RecordIntent(Record)
}

type Gateway struct {
	transport func() Transport
	recorder  Recorder
	log       *slog.Logger
}

// New builds a gateway. transport is resolved on every call so the gateway
// follows session replacement; it may return nil when no session exists.
func New(transport func() Transport, recorder Recorder, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{transport: transport, recorder: recorder, log: logger}
}

func (g *Gateway) StartBot(name string) bool { return g.emit(protocol.IntentStartBot, name, name) }
func (g *Gateway) StopBot(name string) bool  { return g.emit(protocol.IntentStopBot, name, name) }
func (g *Gateway) StartAllBots() bool        { return g.emit(protocol.IntentStartAllBots, "", nil) }
func (g *Gateway) StopAllBots() bool         { return g.emit(protocol.IntentStopAllBots, "", nil) }

// UpdateBotConfig sends a partial configuration; the authority applies it.
func (g *Gateway) UpdateBotConfig(name string, patch protocol.BotConfigPatch) bool {
	return g.emit(protocol.IntentUpdateBotConfig, name, protocol.UpdateBotConfigReq{CharacterName: name, Config: patch})
}

// UpdateCraftingCycle sets or replaces the bot's crafting cycle.
func (g *Gateway) UpdateCraftingCycle(name string, cycle protocol.CraftingCycle) bool {
	return g.emit(protocol.IntentUpdateCraftingCycle, name, protocol.UpdateCraftingCycleReq{CharacterName: name, Cycle: cycle})
}

func (g *Gateway) RemoveCraftingCycle(name string) bool {
	return g.emit(protocol.IntentRemoveCraftingCycle, name, name)
}

// GetMonsterLocations asks the authority to publish locations for code. The
// answer arrives later as a monsterLocations event.
func (g *Gateway) GetMonsterLocations(code string) bool {
	return g.emit(protocol.IntentGetMonsterLocations, code, code)
}

func (g *Gateway) emit(event, target string, data any) bool {
	rec := Record{At: time.Now(), Event: event, Target: target}
	defer func() {
		if g.recorder != nil {
			g.recorder.RecordIntent(rec)
		}
	}()

	var t Transport
	if g.transport != nil {
		t = g.transport()
	}
	if id, ok := t.(interface{ ID() string }); ok {
		rec.SessionID = id.ID()
	}
	if t == nil || !t.Connected() {
		rec.Err = ErrNotConnected
		g.log.Warn("not connected to server", "event", event, "target", target)
		return false
	}
	if err := safeEmit(t, event, data); err != nil {
		rec.Err = &TransportError{Event: event, Err: err}
		g.log.Error("error emitting intent", "event", event, "target", target, "err", err)
		return false
	}
	rec.Sent = true
	return true
}

// safeEmit converts a panicking transport into an error.
func safeEmit(t Transport, event string, data any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return t.Emit(event, data)
}
