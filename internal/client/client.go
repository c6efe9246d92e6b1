// Package client is the consumer-facing surface of the fleet mirror. It wires
// one session (created on Activate, torn down on Deactivate) to the
// dispatcher, the state mirror and the command gateway, and exposes the
// connection flags, mirror readers and intents as one value.
package client

import (
	"fmt"
	"log/slog"

	"github.com/CamiloCaceres/artifacts-client/internal/dispatch"
	"github.com/CamiloCaceres/artifacts-client/internal/gateway"
	"github.com/CamiloCaceres/artifacts-client/internal/lifecycle"
	"github.com/CamiloCaceres/artifacts-client/internal/mirror"
	"github.com/CamiloCaceres/artifacts-client/internal/protocol"
	"github.com/CamiloCaceres/artifacts-client/internal/transport/session"
)

// Journal receives bot log lines and connection transitions. Write errors are
// logged and otherwise ignored.
type Journal interface {
	WriteLog(protocol.LogEntry) error
	WriteSessionEvent(session.Event) error
}

type Options struct {
	URL    string
	Policy session.RetryPolicy
	Dialer session.Dialer
	Clock  session.Clock
	Logger *slog.Logger

	// StrictSchema validates every inbound payload against its JSON schema
	// before it reaches the mirror.
	StrictSchema bool
	Journal      Journal
	Recorder     gateway.Recorder
	// OnSessionEvent observes connection transitions after the journal.
	OnSessionEvent func(session.Event)
	// OnLog observes every botLog entry as it arrives, after the journal.
	// Snapshot logs from initialState are not replayed through it.
	OnLog func(protocol.LogEntry)
}

type Client struct {
	opts Options
	log  *slog.Logger

	mirror   *mirror.Store
	dispatch *dispatch.Dispatcher
	binding  *lifecycle.Binding[*session.Session]
	gateway  *gateway.Gateway
}

func New(opts Options) (*Client, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	c := &Client{opts: opts, log: opts.Logger, mirror: mirror.New()}

	dopts := dispatch.Options{Logger: opts.Logger.With("component", "dispatch"), OnLog: c.journalLog}
	if opts.StrictSchema {
		v, err := protocol.NewValidator()
		if err != nil {
			return nil, fmt.Errorf("compile schemas: %w", err)
		}
		dopts.Validator = v
	}
	c.dispatch = dispatch.New(c.mirror, dopts)
	c.binding = lifecycle.New(c.newSession, opts.Logger)
	c.gateway = gateway.New(c.transport, opts.Recorder, opts.Logger.With("component", "gateway"))
	return c, nil
}

func (c *Client) newSession() *session.Session {
	return session.New(session.Config{
		URL:       c.opts.URL,
		Policy:    c.opts.Policy,
		Dialer:    c.opts.Dialer,
		Clock:     c.opts.Clock,
		Logger:    c.log.With("component", "session"),
		OnMessage: c.dispatch.Dispatch,
		OnEvent:   c.sessionEvent,
	})
}

// transport returns an untyped nil when no session exists so the gateway's
// nil check holds.
func (c *Client) transport() gateway.Transport {
	s, ok := c.binding.Current()
	if !ok {
		return nil
	}
	return s
}

func (c *Client) journalLog(e protocol.LogEntry) {
	if c.opts.Journal != nil {
		if err := c.opts.Journal.WriteLog(e); err != nil {
			c.log.Warn("journal write failed", "err", err)
		}
	}
	if c.opts.OnLog != nil {
		c.opts.OnLog(e)
	}
}

func (c *Client) sessionEvent(ev session.Event) {
	if c.opts.Journal != nil {
		if err := c.opts.Journal.WriteSessionEvent(ev); err != nil {
			c.log.Warn("journal write failed", "err", err)
		}
	}
	if c.opts.OnSessionEvent != nil {
		c.opts.OnSessionEvent(ev)
	}
}

// Activate opens the session if none is live. Calling it again while active
// is a no-op.
func (c *Client) Activate() { c.binding.Activate() }

// Deactivate closes the live session. The mirror keeps its last contents
// until the next session's initialState replaces them.
func (c *Client) Deactivate() { c.binding.Deactivate() }

func (c *Client) Connected() bool {
	s, ok := c.binding.Current()
	return ok && s.Connected()
}

func (c *Client) ReconnectAttempts() int {
	s, ok := c.binding.Current()
	if !ok {
		return 0
	}
	return s.Attempts()
}

// ClientCount is the number of consoles the authority reports as connected.
// The authority does not publish it yet, so it is always 0.
func (c *Client) ClientCount() int { return 0 }

// SessionStatus reports the live session, if any.
func (c *Client) SessionStatus() (session.Status, bool) {
	s, ok := c.binding.Current()
	if !ok {
		return session.Status{}, false
	}
	return s.Status(), true
}

func (c *Client) DispatchStats() dispatch.Stats { return c.dispatch.Stats() }

// Mirror readers.

func (c *Client) Changes() <-chan struct{}                         { return c.mirror.Changes() }
func (c *Client) Version() uint64                                  { return c.mirror.Version() }
func (c *Client) BotStatuses() map[string]protocol.BotStatus       { return c.mirror.Statuses() }
func (c *Client) BotConfigs() map[string]protocol.BotConfig        { return c.mirror.Configs() }
func (c *Client) RecentLogs() []protocol.LogEntry                  { return c.mirror.Logs() }
func (c *Client) Monsters() []protocol.MonsterSet                  { return c.mirror.Monsters() }
func (c *Client) BotNames() []string                               { return c.mirror.BotNames() }
func (c *Client) BotStatus(name string) (protocol.BotStatus, bool) { return c.mirror.Status(name) }
func (c *Client) BotConfig(name string) (protocol.BotConfig, bool) { return c.mirror.Config(name) }

func (c *Client) MonsterLocations(code string) ([]protocol.MonsterLocation, bool) {
	return c.mirror.MonsterLocations(code)
}

// Intents. Each returns false, without touching the network, when no
// session is connected.

func (c *Client) StartBot(name string) bool { return c.gateway.StartBot(name) }
func (c *Client) StopBot(name string) bool  { return c.gateway.StopBot(name) }
func (c *Client) StartAllBots() bool        { return c.gateway.StartAllBots() }
func (c *Client) StopAllBots() bool         { return c.gateway.StopAllBots() }

func (c *Client) UpdateBotConfig(name string, patch protocol.BotConfigPatch) bool {
	return c.gateway.UpdateBotConfig(name, patch)
}

func (c *Client) UpdateCraftingCycle(name string, cycle protocol.CraftingCycle) bool {
	return c.gateway.UpdateCraftingCycle(name, cycle)
}

func (c *Client) RemoveCraftingCycle(name string) bool { return c.gateway.RemoveCraftingCycle(name) }

func (c *Client) GetMonsterLocations(code string) bool { return c.gateway.GetMonsterLocations(code) }
