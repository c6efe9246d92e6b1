package authority

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/CamiloCaceres/artifacts-client/internal/protocol"
)

// MaxLogs bounds the log history replayed in initialState.
const MaxLogs = 100

// Seed is the YAML fleet file the simulator starts from.
type Seed struct {
	Bots     []SeedBot                           `yaml:"bots"`
	Monsters map[string][]protocol.MonsterLocation `yaml:"monsters"`
}

type SeedBot struct {
	Name       string              `yaml:"name"`
	Running    bool                `yaml:"running"`
	ActionType protocol.ActionType `yaml:"action_type"`
	Resource   string              `yaml:"resource"`
	Monster    string              `yaml:"monster"`
	HP         int                 `yaml:"hp"`
}

func LoadSeed(path string) (Seed, error) {
	var s Seed
	b, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("reading seed file: %w", err)
	}
	if err := yaml.Unmarshal(b, &s); err != nil {
		return s, fmt.Errorf("parsing seed file: %w", err)
	}
	return s, s.Validate()
}

func (s Seed) Validate() error {
	seen := map[string]bool{}
	for i, b := range s.Bots {
		name := strings.TrimSpace(b.Name)
		if name == "" {
			return fmt.Errorf("bots[%d]: missing name", i)
		}
		if seen[name] {
			return fmt.Errorf("bots[%d]: duplicate name %q", i, name)
		}
		seen[name] = true
		if b.ActionType != "" && !b.ActionType.Valid() {
			return fmt.Errorf("bots[%d]: invalid action_type %q", i, b.ActionType)
		}
	}
	return nil
}

// Fleet is the authority's own state. It is not safe for concurrent use;
// Server serializes access.
type Fleet struct {
	statuses map[string]protocol.BotStatus
	configs  map[string]protocol.BotConfig
	logs     []protocol.LogEntry
	monsters map[string][]protocol.MonsterLocation
	now      func() time.Time
}

func NewFleet(seed Seed) *Fleet {
	f := &Fleet{
		statuses: map[string]protocol.BotStatus{},
		configs:  map[string]protocol.BotConfig{},
		monsters: map[string][]protocol.MonsterLocation{},
		now:      time.Now,
	}
	for _, b := range seed.Bots {
		name := strings.TrimSpace(b.Name)
		mode := b.ActionType
		if mode == "" {
			mode = protocol.ActionFight
		}
		st := protocol.BotStatus{IsRunning: b.Running, ItemsCollected: map[string]int{}}
		if b.HP > 0 {
			cur, full := b.HP, b.HP
			st.CurrentHP, st.MaxHP = &cur, &full
		}
		f.statuses[name] = st
		f.configs[name] = protocol.BotConfig{
			CharacterName:   name,
			ActionType:      mode,
			Resource:        b.Resource,
			SelectedMonster: b.Monster,
		}
	}
	for code, locs := range seed.Monsters {
		f.monsters[code] = slices.Clone(locs)
	}
	return f
}

func (f *Fleet) Snapshot() protocol.InitialState {
	st := protocol.InitialState{
		BotsStatus: make(map[string]protocol.BotStatus, len(f.statuses)),
		BotsConfig: make(map[string]protocol.BotConfig, len(f.configs)),
		RecentLogs: slices.Clone(f.logs),
		Monsters:   make([]protocol.MonsterSet, 0, len(f.monsters)),
	}
	if st.RecentLogs == nil {
		st.RecentLogs = []protocol.LogEntry{}
	}
	for k, v := range f.statuses {
		st.BotsStatus[k] = v.Clone()
	}
	for k, v := range f.configs {
		st.BotsConfig[k] = v.Clone()
	}
	for _, code := range sortedKeys(f.monsters) {
		st.Monsters = append(st.Monsters, protocol.MonsterSet{Code: code, Locations: slices.Clone(f.monsters[code])})
	}
	return st
}

func (f *Fleet) Has(name string) bool {
	_, ok := f.configs[name]
	return ok
}

// SetRunning flips one bot and returns its new status.
func (f *Fleet) SetRunning(name string, running bool) (protocol.BotStatus, bool) {
	st, ok := f.statuses[name]
	if !ok {
		return protocol.BotStatus{}, false
	}
	st.IsRunning = running
	if running {
		st.LastAction = "started"
	} else {
		st.LastAction = "stopped"
	}
	f.statuses[name] = st
	return st.Clone(), true
}

// SetAllRunning flips every bot and returns the full status map.
func (f *Fleet) SetAllRunning(running bool) protocol.BotsStatus {
	out := make(protocol.BotsStatus, len(f.statuses))
	for name := range f.statuses {
		st, _ := f.SetRunning(name, running)
		out[name] = st
	}
	return out
}

// PatchConfig applies the set fields of p and returns the merged config.
func (f *Fleet) PatchConfig(name string, p protocol.BotConfigPatch) (protocol.BotConfig, bool) {
	c, ok := f.configs[name]
	if !ok {
		return protocol.BotConfig{}, false
	}
	if p.APIToken != nil {
		c.APIToken = *p.APIToken
	}
	if p.ActionType != nil {
		c.ActionType = *p.ActionType
	}
	if p.Resource != nil {
		c.Resource = *p.Resource
	}
	if p.BaseURL != nil {
		c.BaseURL = *p.BaseURL
	}
	if p.CraftingCycle != nil {
		c.CraftingCycle = p.CraftingCycle.Clone()
	}
	if p.FightLocation != nil {
		pos := *p.FightLocation
		c.FightLocation = &pos
	}
	if p.SelectedMonster != nil {
		c.SelectedMonster = *p.SelectedMonster
	}
	if p.MonsterSkin != nil {
		c.MonsterSkin = *p.MonsterSkin
	}
	if p.ResourceSkin != nil {
		c.ResourceSkin = *p.ResourceSkin
	}
	f.configs[name] = c
	return c.Clone(), true
}

// SetCycle assigns (or with nil, removes) a bot's crafting cycle.
func (f *Fleet) SetCycle(name string, cycle *protocol.CraftingCycle) (protocol.BotConfig, bool) {
	c, ok := f.configs[name]
	if !ok {
		return protocol.BotConfig{}, false
	}
	c.CraftingCycle = cycle.Clone()
	if cycle != nil {
		c.ActionType = protocol.ActionCraft
	}
	f.configs[name] = c
	return c.Clone(), true
}

// AppendLog stores e newest first and returns it with a timestamp filled in.
func (f *Fleet) AppendLog(e protocol.LogEntry) protocol.LogEntry {
	if e.Timestamp == "" {
		e.Timestamp = f.now().UTC().Format(time.RFC3339Nano)
	}
	f.logs = append([]protocol.LogEntry{e}, f.logs...)
	if len(f.logs) > MaxLogs {
		f.logs = f.logs[:MaxLogs]
	}
	return e
}

func (f *Fleet) Monsters(code string) protocol.MonsterSet {
	locs := slices.Clone(f.monsters[code])
	if locs == nil {
		locs = []protocol.MonsterLocation{}
	}
	return protocol.MonsterSet{Code: code, Locations: locs}
}

func (f *Fleet) SetMonsters(set protocol.MonsterSet) {
	f.monsters[set.Code] = slices.Clone(set.Locations)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
