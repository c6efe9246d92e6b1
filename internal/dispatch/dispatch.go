// Package dispatch routes inbound frames to State Mirror mutations.
package dispatch

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/CamiloCaceres/artifacts-client/internal/mirror"
	"github.com/CamiloCaceres/artifacts-client/internal/protocol"
)

// Store is the set of mirror mutations the dispatcher may apply.
type Store interface {
	ReplaceAll(mirror.Snapshot)
	PutStatus(name string, status protocol.BotStatus)
	PutConfig(name string, cfg protocol.BotConfig)
	ReplaceStatuses(map[string]protocol.BotStatus)
	AppendLog(protocol.LogEntry)
	UpsertMonsters(protocol.MonsterSet)
}

type Options struct {
	Logger *slog.Logger
	// Validator, when set, rejects payloads that fail their JSON schema.
	Validator *protocol.Validator
	// OnLog observes every applied log entry.
	OnLog func(protocol.LogEntry)
}

// Stats counts frames by outcome.
type Stats struct {
	Applied  uint64
	Unknown  uint64
	Rejected uint64
}

// Dispatcher applies each frame synchronously, in the order Dispatch is
// called. It is not safe for concurrent Dispatch calls; the session read
// loop is its only caller.
type Dispatcher struct {
	store Store
	opts  Options
	log   *slog.Logger

	applied  atomic.Uint64
	unknown  atomic.Uint64
	rejected atomic.Uint64
}

func New(store Store, opts Options) *Dispatcher {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Dispatcher{store: store, opts: opts, log: opts.Logger}
}

func (d *Dispatcher) Stats() Stats {
	return Stats{Applied: d.applied.Load(), Unknown: d.unknown.Load(), Rejected: d.rejected.Load()}
}

// Dispatch decodes one frame and applies it. It never fails: malformed
// frames are logged and dropped.
func (d *Dispatcher) Dispatch(raw []byte) {
	env, err := protocol.DecodeEnvelope(raw)
	if err != nil {
		d.rejected.Add(1)
		d.log.Warn("dropping malformed frame", "err", err)
		return
	}
	if d.opts.Validator != nil {
		if err := d.opts.Validator.Validate(env); err != nil {
			d.rejected.Add(1)
			d.log.Warn("dropping frame that fails schema", "event", env.Event, "err", err)
			return
		}
	}
	msg, err := protocol.Decode(env)
	if err != nil {
		d.rejected.Add(1)
		d.log.Warn("dropping undecodable frame", "event", env.Event, "err", err)
		return
	}
	d.safeApply(env.Event, msg)
}

// safeApply keeps a panicking observer from taking down the read loop.
func (d *Dispatcher) safeApply(event string, msg protocol.Message) {
	defer func() {
		if r := recover(); r != nil {
			d.rejected.Add(1)
			d.log.Error("handler panicked", "event", event, "panic", r)
		}
	}()
	d.Apply(msg)
}

// Apply performs the mirror mutation for one typed message.
func (d *Dispatcher) Apply(msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.InitialState:
		d.store.ReplaceAll(mirror.Snapshot{
			Statuses: m.BotsStatus,
			Configs:  m.BotsConfig,
			Logs:     m.RecentLogs,
			Monsters: m.Monsters,
		})
		d.log.Info("initial state applied", "bots", len(m.BotsStatus), "logs", len(m.RecentLogs), "monsters", len(m.Monsters))
	case protocol.BotStatusUpdate:
		d.store.PutStatus(m.CharacterName, m.Status)
	case protocol.BotConfigUpdate:
		d.store.PutConfig(m.CharacterName, m.Config)
	case protocol.BotsStatus:
		d.store.ReplaceStatuses(m)
	case protocol.BotLog:
		e := protocol.LogEntry(m)
		d.store.AppendLog(e)
		if d.opts.OnLog != nil {
			d.opts.OnLog(e)
		}
	case protocol.MonsterLocations:
		d.store.UpsertMonsters(protocol.MonsterSet(m))
	case protocol.Unknown:
		d.unknown.Add(1)
		d.log.Debug("ignoring unknown event", "event", m.Event)
		return
	default:
		d.unknown.Add(1)
		d.log.Debug("ignoring unhandled message", "type", fmt.Sprintf("%T", msg))
		return
	}
	d.applied.Add(1)
}
