package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"

	"github.com/CamiloCaceres/artifacts-client/internal/history"
	"github.com/CamiloCaceres/artifacts-client/internal/journal"
	"github.com/CamiloCaceres/artifacts-client/internal/protocol"
	"github.com/CamiloCaceres/artifacts-client/internal/transport/session"
)

func cmdWatch(ctx context.Context, g globals) error {
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)
	g.onEvent = func(ev session.Event) {
		switch ev.Kind {
		case session.EventConnected:
			color.Green("* connected (session %s)", ev.SessionID)
		case session.EventDisconnected:
			yellow.Printf("* disconnected: %v\n", ev.Err)
		case session.EventConnectError:
			yellow.Printf("* connect attempt %d failed: %v\n", ev.Attempts, ev.Err)
		case session.EventExhausted:
			red.Printf("* giving up after %d attempts\n", ev.Attempts)
		}
	}
	g.onLog = printLog
	f, err := connect(ctx, g)
	if err != nil {
		return err
	}
	defer f.close()

	table := renderFleet(f)
	fmt.Print(table)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-f.Changes():
		}
		// Log lines arrive through onLog; reprint the table only when it moved.
		if next := renderFleet(f); next != table {
			table = next
			fmt.Print(table)
		}
	}
}

func cmdStatus(ctx context.Context, g globals) error {
	f, err := connect(ctx, g)
	if err != nil {
		return err
	}
	defer f.close()
	printFleet(f)
	return nil
}

func cmdStart(ctx context.Context, g globals, args []string) error {
	return setRunning(ctx, g, args, true)
}

func cmdStop(ctx context.Context, g globals, args []string) error {
	return setRunning(ctx, g, args, false)
}

func setRunning(ctx context.Context, g globals, args []string, running bool) error {
	if len(args) != 1 {
		return fmt.Errorf("expected exactly one bot name")
	}
	name := args[0]
	f, err := connect(ctx, g)
	if err != nil {
		return err
	}
	defer f.close()

	if _, ok := f.BotStatus(name); !ok {
		return fmt.Errorf("unknown bot %q", name)
	}
	if running {
		err = f.sent(f.StartBot(name), "startBot")
	} else {
		err = f.sent(f.StopBot(name), "stopBot")
	}
	if err != nil {
		return err
	}
	err = waitFor(ctx, f.Client, g.timeout, func() bool {
		st, ok := f.BotStatus(name)
		return ok && st.IsRunning == running
	})
	if err != nil {
		return err
	}
	color.Green("%s %s", name, runningLabel(running))
	return nil
}

func cmdStartAll(ctx context.Context, g globals) error {
	return setAllRunning(ctx, g, true)
}

func cmdStopAll(ctx context.Context, g globals) error {
	return setAllRunning(ctx, g, false)
}

func setAllRunning(ctx context.Context, g globals, running bool) error {
	f, err := connect(ctx, g)
	if err != nil {
		return err
	}
	defer f.close()

	if running {
		err = f.sent(f.StartAllBots(), "startAllBots")
	} else {
		err = f.sent(f.StopAllBots(), "stopAllBots")
	}
	if err != nil {
		return err
	}
	err = waitFor(ctx, f.Client, g.timeout, func() bool {
		for _, st := range f.BotStatuses() {
			if st.IsRunning != running {
				return false
			}
		}
		return true
	})
	if err != nil {
		return err
	}
	color.Green("all bots %s", runningLabel(running))
	return nil
}

func cmdConfig(ctx context.Context, g globals, args []string) error {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return fmt.Errorf("usage: config <name> [-action fight|gather|craft] [-resource code] [-monster code] [-monster-skin s] [-resource-skin s] [-fight-at x,y] [-base-url u]")
	}
	name := args[0]
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	action := fs.String("action", "", "action type")
	resource := fs.String("resource", "", "resource code to gather")
	monster := fs.String("monster", "", "monster code to fight")
	monsterSkin := fs.String("monster-skin", "", "monster skin selector")
	resourceSkin := fs.String("resource-skin", "", "resource skin selector")
	fightAt := fs.String("fight-at", "", "fight location as x,y")
	baseURL := fs.String("base-url", "", "game API base url")
	_ = fs.Parse(args[1:])

	var patch protocol.BotConfigPatch
	set := map[string]bool{}
	fs.Visit(func(fl *flag.Flag) { set[fl.Name] = true })
	if set["action"] {
		a := protocol.ActionType(*action)
		if !a.Valid() {
			return fmt.Errorf("invalid -action %q", *action)
		}
		patch.ActionType = &a
	}
	if set["resource"] {
		patch.Resource = resource
	}
	if set["monster"] {
		patch.SelectedMonster = monster
	}
	if set["monster-skin"] {
		patch.MonsterSkin = monsterSkin
	}
	if set["resource-skin"] {
		patch.ResourceSkin = resourceSkin
	}
	if set["base-url"] {
		patch.BaseURL = baseURL
	}
	if set["fight-at"] {
		var pos protocol.Position
		if _, err := fmt.Sscanf(*fightAt, "%d,%d", &pos.X, &pos.Y); err != nil {
			return fmt.Errorf("bad -fight-at %q: %w", *fightAt, err)
		}
		patch.FightLocation = &pos
	}
	if len(set) == 0 {
		return fmt.Errorf("nothing to change")
	}

	f, err := connect(ctx, g)
	if err != nil {
		return err
	}
	defer f.close()
	before := f.Version()
	if err := f.sent(f.UpdateBotConfig(name, patch), "updateBotConfig"); err != nil {
		return err
	}
	if err := waitFor(ctx, f.Client, g.timeout, func() bool { return f.Version() > before }); err != nil {
		return err
	}
	cfg, _ := f.BotConfig(name)
	color.Green("%s configured: action=%s resource=%s monster=%s", name, cfg.ActionType, cfg.Resource, cfg.SelectedMonster)
	return nil
}

func cmdCycle(ctx context.Context, g globals, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: cycle set <name> <file.yaml> | cycle remove <name>")
	}
	op, name := args[0], args[1]

	var cycle protocol.CraftingCycle
	switch op {
	case "set":
		if len(args) != 3 {
			return fmt.Errorf("usage: cycle set <name> <file.yaml>")
		}
		c, err := loadCycle(args[2])
		if err != nil {
			return err
		}
		cycle = c
	case "remove":
	default:
		return fmt.Errorf("unknown cycle command %q", op)
	}

	f, err := connect(ctx, g)
	if err != nil {
		return err
	}
	defer f.close()

	if op == "set" {
		err = f.sent(f.UpdateCraftingCycle(name, cycle), "updateCraftingCycle")
	} else {
		err = f.sent(f.RemoveCraftingCycle(name), "removeCraftingCycle")
	}
	if err != nil {
		return err
	}
	err = waitFor(ctx, f.Client, g.timeout, func() bool {
		cfg, ok := f.BotConfig(name)
		if !ok {
			return false
		}
		if op == "set" {
			return cfg.CraftingCycle != nil && cfg.CraftingCycle.ID == cycle.ID
		}
		return cfg.CraftingCycle == nil
	})
	if err != nil {
		return err
	}
	color.Green("%s crafting cycle %sd", name, op)
	return nil
}

// loadCycle reads a crafting cycle from YAML (or JSON) using the wire field
// names, e.g. requiredItems and expectedOutput.
func loadCycle(path string) (protocol.CraftingCycle, error) {
	var cycle protocol.CraftingCycle
	b, err := os.ReadFile(path)
	if err != nil {
		return cycle, fmt.Errorf("reading cycle file: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return cycle, fmt.Errorf("parsing cycle file: %w", err)
	}
	j, err := json.Marshal(raw)
	if err != nil {
		return cycle, fmt.Errorf("parsing cycle file: %w", err)
	}
	if err := json.Unmarshal(j, &cycle); err != nil {
		return cycle, fmt.Errorf("parsing cycle file: %w", err)
	}
	if cycle.ID == "" || len(cycle.Steps) == 0 {
		return cycle, fmt.Errorf("cycle needs an id and at least one step")
	}
	return cycle, nil
}

func cmdMonsters(ctx context.Context, g globals, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("expected exactly one monster code")
	}
	code := args[0]
	f, err := connect(ctx, g)
	if err != nil {
		return err
	}
	defer f.close()

	before := f.Version()
	if err := f.sent(f.GetMonsterLocations(code), "getMonsterLocations"); err != nil {
		return err
	}
	err = waitFor(ctx, f.Client, g.timeout, func() bool {
		_, ok := f.MonsterLocations(code)
		return ok && f.Version() > before
	})
	if err != nil {
		return err
	}
	locs, _ := f.MonsterLocations(code)
	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Printf("  %s (%d locations)\n", code, len(locs))
	for _, l := range locs {
		fmt.Printf("  (%d,%d)  skin=%s\n", l.Position.X, l.Position.Y, l.Skin)
	}
	fmt.Println()
	return nil
}

func cmdHistory(ctx context.Context, g globals, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	limit := fs.Int("limit", 20, "number of intents to show")
	dbPath := fs.String("db", g.cfg.HistoryDB, "history database (env ARTIFACTS_HISTORY_DB)")
	_ = fs.Parse(args)
	if *dbPath == "" {
		return fmt.Errorf("no history database; set -db or ARTIFACTS_HISTORY_DB")
	}

	h, err := history.Open(*dbPath)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer h.Close()
	rows, err := h.Recent(ctx, *limit)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	red := color.New(color.FgRed)
	fmt.Println()
	cyan.Println("  Recent intents")
	cyan.Println("  --------------")
	if len(rows) == 0 {
		fmt.Println("  (none)")
		fmt.Println()
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  TIME\tEVENT\tTARGET\tSENT\tSESSION")
	for _, r := range rows {
		sentCol := "yes"
		if !r.Sent {
			sentCol = red.Sprint("no: " + r.Error)
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n", r.At.Local().Format("Jan 02 15:04:05"), r.Event, r.Target, sentCol, truncate(r.SessionID, 8))
	}
	w.Flush()
	fmt.Println()
	return nil
}

func cmdJournal(g globals, args []string) error {
	fs := flag.NewFlagSet("journal", flag.ExitOnError)
	dir := fs.String("dir", g.cfg.JournalDir, "journal directory (env ARTIFACTS_JOURNAL_DIR)")
	kind := fs.String("kind", "logs", "logs or sessions")
	_ = fs.Parse(args)
	if *dir == "" {
		return fmt.Errorf("no journal directory; set -dir or ARTIFACTS_JOURNAL_DIR")
	}
	if *kind != "logs" && *kind != "sessions" {
		return fmt.Errorf("-kind must be logs or sessions")
	}

	base := filepath.Join(*dir, *kind)
	ents, err := os.ReadDir(base)
	if err != nil {
		return err
	}
	var names []string
	for _, e := range ents {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".jsonl.zst") {
			names = append(names, e.Name())
		}
	}
	// Hourly file names sort chronologically.
	slices.Sort(names)
	for _, name := range names {
		if err := printJournalFile(filepath.Join(base, name)); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func printJournalFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var e journal.Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		at := e.At.Local().Format(time.DateTime)
		if e.Kind == journal.KindLog {
			fmt.Printf("%s  %-12s %s\n", at, e.CharacterName, e.Message)
			continue
		}
		line := fmt.Sprintf("%s  %-14s session=%s attempts=%d", at, e.Kind, truncate(e.SessionID, 8), e.Attempts)
		if e.Error != "" {
			line += " err=" + e.Error
		}
		fmt.Println(line)
	}
	return sc.Err()
}

func printFleet(f *fleet) {
	fmt.Print(renderFleet(f))
}

// renderFleet formats the fleet table.
func renderFleet(f *fleet) string {
	var buf strings.Builder
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	fmt.Fprintln(&buf)
	cyan.Fprintln(&buf, "  Fleet")
	cyan.Fprintln(&buf, "  -----")
	names := f.BotNames()
	if len(names) == 0 {
		fmt.Fprintln(&buf, "  (no bots)")
		fmt.Fprintln(&buf)
		return buf.String()
	}
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  BOT\tSTATE\tMODE\tTARGET\tHP\tXP\tGOLD\tLAST ACTION")
	for _, name := range names {
		st, hasStatus := f.BotStatus(name)
		cfg, _ := f.BotConfig(name)
		state := "-"
		if hasStatus {
			state = runningLabel(st.IsRunning)
			if st.IsRunning {
				state = green.Sprint(state)
			}
		}
		target := cfg.SelectedMonster
		if cfg.ActionType == protocol.ActionGather {
			target = cfg.Resource
		}
		if cfg.ActionType == protocol.ActionCraft && cfg.CraftingCycle != nil {
			target = cfg.CraftingCycle.Name
		}
		hp := "-"
		if st.CurrentHP != nil && st.MaxHP != nil {
			hp = fmt.Sprintf("%d/%d", *st.CurrentHP, *st.MaxHP)
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n", name, state, cfg.ActionType, target, hp, st.TotalXP, st.TotalGold, st.LastAction)
	}
	w.Flush()
	fmt.Fprintln(&buf)
	return buf.String()
}

func printLog(e protocol.LogEntry) {
	dim := color.New(color.Faint)
	dim.Printf("%s ", e.Timestamp)
	fmt.Printf("[%s] %s\n", e.CharacterName, e.Message)
}

func runningLabel(running bool) string {
	if running {
		return "running"
	}
	return "stopped"
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
