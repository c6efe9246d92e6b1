package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/CamiloCaceres/artifacts-client/internal/client"
	"github.com/CamiloCaceres/artifacts-client/internal/config"
	"github.com/CamiloCaceres/artifacts-client/internal/gateway"
	"github.com/CamiloCaceres/artifacts-client/internal/history"
	"github.com/CamiloCaceres/artifacts-client/internal/journal"
	"github.com/CamiloCaceres/artifacts-client/internal/protocol"
	"github.com/CamiloCaceres/artifacts-client/internal/transport/session"
)

type globals struct {
	cfg     config.Config
	log     *slog.Logger
	timeout time.Duration

	onEvent func(session.Event)
	onLog   func(protocol.LogEntry)
}

func main() {
	fs := flag.NewFlagSet("fleetctl", flag.ExitOnError)
	configPath := fs.String("config", os.Getenv("ARTIFACTS_CONFIG"), "path to client YAML config (optional)")
	url := fs.String("url", "", "authority websocket url (overrides config and ARTIFACTS_WS_URL)")
	strict := fs.Bool("strict", false, "validate inbound payloads against their JSON schemas")
	timeout := fs.Duration("timeout", 10*time.Second, "how long one-shot commands wait for the authority")
	fs.Usage = printUsage
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(2)
	}
	if *url != "" {
		cfg.WSURL = *url
	}
	if *strict {
		cfg.StrictSchema = true
	}
	g := globals{cfg: cfg, log: cfg.Log.NewLogger(os.Stderr), timeout: *timeout}

	args := fs.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}
	cmd, args := args[0], args[1:]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "watch":
		err = cmdWatch(ctx, g)
	case "status":
		err = cmdStatus(ctx, g)
	case "start":
		err = cmdStart(ctx, g, args)
	case "stop":
		err = cmdStop(ctx, g, args)
	case "start-all":
		err = cmdStartAll(ctx, g)
	case "stop-all":
		err = cmdStopAll(ctx, g)
	case "config":
		err = cmdConfig(ctx, g, args)
	case "cycle":
		err = cmdCycle(ctx, g, args)
	case "monsters":
		err = cmdMonsters(ctx, g, args)
	case "history":
		err = cmdHistory(ctx, g, args)
	case "journal":
		err = cmdJournal(g, args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	yellow := color.New(color.FgYellow)

	fmt.Println("Usage: fleetctl [flags] <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  watch                          Stream fleet changes until interrupted")
	fmt.Println("  status                         Print every bot's status once")
	fmt.Println("  start <name>                   Start one bot")
	fmt.Println("  stop <name>                    Stop one bot")
	fmt.Println("  start-all                      Start every bot")
	fmt.Println("  stop-all                       Stop every bot")
	fmt.Println("  config <name> [flags]          Patch a bot's configuration")
	fmt.Println("  cycle set <name> <file.yaml>   Assign a crafting cycle")
	fmt.Println("  cycle remove <name>            Remove a bot's crafting cycle")
	fmt.Println("  monsters <code>                Ask for and print monster locations")
	fmt.Println("  history [-limit N]             Show recently sent intents")
	fmt.Println("  journal [-kind logs|sessions]  Print journaled bot logs or sessions")
	fmt.Println()
	yellow.Println("Flags:")
	fmt.Println("  -config <path>    Client YAML config (env ARTIFACTS_CONFIG)")
	fmt.Println("  -url <ws url>     Authority endpoint (env ARTIFACTS_WS_URL)")
	fmt.Println("  -strict           Schema-validate inbound payloads")
	fmt.Println("  -timeout <dur>    Wait limit for one-shot commands (default 10s)")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  ARTIFACTS_WS_URL, ARTIFACTS_LOG_LEVEL, ARTIFACTS_LOG_FORMAT,")
	fmt.Println("  ARTIFACTS_STRICT_SCHEMA, ARTIFACTS_JOURNAL_DIR, ARTIFACTS_HISTORY_DB")
	fmt.Println()
}

// fleet bundles a connected client with the sinks it writes to.
type fleet struct {
	*client.Client
	journal *journal.Journal
	history *history.DB
	last    lastRecord
}

func (f *fleet) close() {
	if f.Client != nil {
		f.Deactivate()
	}
	if f.history != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = f.history.Flush(ctx)
		cancel()
		_ = f.history.Close()
	}
	_ = f.journal.Close()
}

// connect activates a client and waits for the first snapshot.
func connect(ctx context.Context, g globals) (*fleet, error) {
	f := &fleet{}
	opts := client.Options{
		URL:            g.cfg.WSURL,
		Logger:         g.log,
		StrictSchema:   g.cfg.StrictSchema,
		OnSessionEvent: g.onEvent,
		OnLog:          g.onLog,
		Recorder:       &f.last,
	}
	if g.cfg.JournalDir != "" {
		j, err := journal.Open(g.cfg.JournalDir)
		if err != nil {
			return nil, err
		}
		f.journal = j
		opts.Journal = j
	}
	if g.cfg.HistoryDB != "" {
		h, err := history.Open(g.cfg.HistoryDB)
		if err != nil {
			f.close()
			return nil, fmt.Errorf("open history: %w", err)
		}
		f.history = h
		f.last.next = h
	}
	c, err := client.New(opts)
	if err != nil {
		f.close()
		return nil, err
	}
	f.Client = c
	c.Activate()

	if err := waitFor(ctx, c, g.timeout, func() bool { return c.Connected() && c.Version() > 0 }); err != nil {
		if st, ok := c.SessionStatus(); ok && st.LastError != "" {
			err = fmt.Errorf("%w (last error: %s)", err, st.LastError)
		}
		f.close()
		return nil, err
	}
	return f, nil
}

var errTimeout = errors.New("timed out waiting for the authority")

// waitFor blocks until cond holds, re-checking after every mirror change and
// on a short poll for connection flags.
func waitFor(ctx context.Context, c *client.Client, timeout time.Duration, cond func() bool) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	poll := time.NewTicker(50 * time.Millisecond)
	defer poll.Stop()
	for !cond() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return errTimeout
		case <-c.Changes():
		case <-poll.C:
		}
	}
	return nil
}

var errNotSent = errors.New("intent not sent")

// lastRecord keeps the most recent gateway record so a refused intent can
// be reported with its actual cause, and forwards records to next.
type lastRecord struct {
	mu   sync.Mutex
	rec  gateway.Record
	next gateway.Recorder
}

func (l *lastRecord) RecordIntent(r gateway.Record) {
	l.mu.Lock()
	l.rec = r
	l.mu.Unlock()
	if l.next != nil {
		l.next.RecordIntent(r)
	}
}

func (l *lastRecord) err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rec.Err
}

func (f *fleet) sent(ok bool, what string) error {
	if ok {
		return nil
	}
	if err := f.last.err(); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return fmt.Errorf("%s: %w", what, errNotSent)
}
