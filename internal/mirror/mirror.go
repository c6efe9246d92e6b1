// Package mirror holds the client's local copy of fleet state.
//
// The Store exposes exactly two kinds of write: point replacement of one keyed
// entry and full replacement of a collection. There is no field-level merge
// and no removal of a single bot; bots disappear only when a new snapshot no
// longer lists them.
package mirror

import (
	"maps"
	"slices"
	"sync"

	"github.com/CamiloCaceres/artifacts-client/internal/protocol"
)

// MaxLogs bounds the activity log.
const MaxLogs = 100

// Snapshot is the input of ReplaceAll.
type Snapshot struct {
	Statuses map[string]protocol.BotStatus
	Configs  map[string]protocol.BotConfig
	Logs     []protocol.LogEntry
	Monsters []protocol.MonsterSet
}

type Store struct {
	mu sync.RWMutex

	statuses map[string]protocol.BotStatus
	configs  map[string]protocol.BotConfig
	logs     []protocol.LogEntry // newest first
	monsters []protocol.MonsterSet

	version uint64
	notify  chan struct{}
}

func New() *Store {
	return &Store{
		statuses: map[string]protocol.BotStatus{},
		configs:  map[string]protocol.BotConfig{},
		notify:   make(chan struct{}, 1),
	}
}

// Changes is signalled after every mutation. Signals coalesce: a reader that
// falls behind sees one pending signal, not one per mutation.
func (s *Store) Changes() <-chan struct{} { return s.notify }

// Version increases by one per mutation.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// ReplaceAll discards every collection and installs the snapshot. Logs are
// taken as given (newest first) and truncated to MaxLogs.
func (s *Store) ReplaceAll(snap Snapshot) {
	statuses := make(map[string]protocol.BotStatus, len(snap.Statuses))
	for k, v := range snap.Statuses {
		statuses[k] = v.Clone()
	}
	configs := make(map[string]protocol.BotConfig, len(snap.Configs))
	for k, v := range snap.Configs {
		configs[k] = v.Clone()
	}
	logs := snap.Logs
	if len(logs) > MaxLogs {
		logs = logs[:MaxLogs]
	}
	logs = append([]protocol.LogEntry(nil), logs...)
	monsters := make([]protocol.MonsterSet, 0, len(snap.Monsters))
	for _, m := range snap.Monsters {
		monsters = upsertMonster(monsters, m.Clone())
	}

	s.mu.Lock()
	s.statuses = statuses
	s.configs = configs
	s.logs = logs
	s.monsters = monsters
	s.bumpLocked()
	s.mu.Unlock()
}

// PutStatus replaces the whole status entry of one bot, creating it if absent.
func (s *Store) PutStatus(name string, status protocol.BotStatus) {
	status = status.Clone()
	s.mu.Lock()
	s.statuses[name] = status
	s.bumpLocked()
	s.mu.Unlock()
}

// PutConfig replaces the whole config entry of one bot, creating it if absent.
func (s *Store) PutConfig(name string, cfg protocol.BotConfig) {
	cfg = cfg.Clone()
	s.mu.Lock()
	s.configs[name] = cfg
	s.bumpLocked()
	s.mu.Unlock()
}

// ReplaceStatuses swaps the entire status map.
func (s *Store) ReplaceStatuses(statuses map[string]protocol.BotStatus) {
	next := make(map[string]protocol.BotStatus, len(statuses))
	for k, v := range statuses {
		next[k] = v.Clone()
	}
	s.mu.Lock()
	s.statuses = next
	s.bumpLocked()
	s.mu.Unlock()
}

// AppendLog inserts at the head and evicts from the tail past MaxLogs.
func (s *Store) AppendLog(e protocol.LogEntry) {
	s.mu.Lock()
	logs := make([]protocol.LogEntry, 0, min(len(s.logs)+1, MaxLogs))
	logs = append(logs, e)
	logs = append(logs, s.logs...)
	if len(logs) > MaxLogs {
		logs = logs[:MaxLogs]
	}
	s.logs = logs
	s.bumpLocked()
	s.mu.Unlock()
}

// UpsertMonsters replaces the location list of a known code or appends a new
// entry for an unknown one.
func (s *Store) UpsertMonsters(set protocol.MonsterSet) {
	set = set.Clone()
	s.mu.Lock()
	s.monsters = upsertMonster(s.monsters, set)
	s.bumpLocked()
	s.mu.Unlock()
}

func upsertMonster(list []protocol.MonsterSet, set protocol.MonsterSet) []protocol.MonsterSet {
	for i := range list {
		if list[i].Code == set.Code {
			list[i].Locations = set.Locations
			return list
		}
	}
	return append(list, set)
}

func (s *Store) bumpLocked() {
	s.version++
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Readers. All return copies; callers may mutate them freely.

func (s *Store) Statuses() map[string]protocol.BotStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]protocol.BotStatus, len(s.statuses))
	for k, v := range s.statuses {
		out[k] = v.Clone()
	}
	return out
}

func (s *Store) Status(name string) (protocol.BotStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.statuses[name]
	if !ok {
		return protocol.BotStatus{}, false
	}
	return v.Clone(), true
}

func (s *Store) Configs() map[string]protocol.BotConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]protocol.BotConfig, len(s.configs))
	for k, v := range s.configs {
		out[k] = v.Clone()
	}
	return out
}

func (s *Store) Config(name string) (protocol.BotConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.configs[name]
	if !ok {
		return protocol.BotConfig{}, false
	}
	return v.Clone(), true
}

// Logs returns the log newest first.
func (s *Store) Logs() []protocol.LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]protocol.LogEntry(nil), s.logs...)
}

func (s *Store) Monsters() []protocol.MonsterSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]protocol.MonsterSet, len(s.monsters))
	for i, m := range s.monsters {
		out[i] = m.Clone()
	}
	return out
}

func (s *Store) MonsterLocations(code string) ([]protocol.MonsterLocation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.monsters {
		if m.Code == code {
			return append([]protocol.MonsterLocation(nil), m.Locations...), true
		}
	}
	return nil, false
}

// BotNames lists every bot with a status or config entry.
func (s *Store) BotNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{}, len(s.statuses))
	for k := range s.statuses {
		seen[k] = struct{}{}
	}
	for k := range s.configs {
		seen[k] = struct{}{}
	}
	return slices.Sorted(maps.Keys(seen))
}
