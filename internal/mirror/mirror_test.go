package mirror

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CamiloCaceres/artifacts-client/internal/protocol"
)

func logEntry(i int) protocol.LogEntry {
	return protocol.LogEntry{CharacterName: "Alice", Message: fmt.Sprintf("msg-%d", i), Timestamp: fmt.Sprintf("t%03d", i)}
}

func TestAppendLogBoundedNewestFirst(t *testing.T) {
	for _, n := range []int{0, 1, 99, 100, 101, 105, 250} {
		s := New()
		for i := 0; i < n; i++ {
			s.AppendLog(logEntry(i))
		}
		logs := s.Logs()
		require.Len(t, logs, min(n, MaxLogs), "n=%d", n)
		if n == 0 {
			continue
		}
		assert.Equal(t, logEntry(n-1), logs[0], "head is the newest entry")
		for i := 1; i < len(logs); i++ {
			assert.Greater(t, logs[i-1].Timestamp, logs[i].Timestamp)
		}
	}
}

func TestAppendLog105EvictsOldestFive(t *testing.T) {
	s := New()
	for i := 0; i < 105; i++ {
		s.AppendLog(logEntry(i))
	}
	logs := s.Logs()
	require.Len(t, logs, 100)
	for _, e := range logs {
		for old := 0; old < 5; old++ {
			assert.NotEqual(t, logEntry(old), e)
		}
	}
	assert.Equal(t, logEntry(5), logs[len(logs)-1])
}

func TestReplaceAllDiscardsPriorState(t *testing.T) {
	s := New()
	s.PutStatus("Ghost", protocol.BotStatus{IsRunning: true})
	s.PutConfig("Ghost", protocol.BotConfig{CharacterName: "Ghost", ActionType: protocol.ActionFight})
	s.AppendLog(logEntry(1))
	s.UpsertMonsters(protocol.MonsterSet{Code: "cow", Locations: []protocol.MonsterLocation{{Code: "cow"}}})

	s.ReplaceAll(Snapshot{
		Statuses: map[string]protocol.BotStatus{"Alice": {IsRunning: true}},
		Configs:  map[string]protocol.BotConfig{"Alice": {CharacterName: "Alice", ActionType: protocol.ActionGather}},
		Logs:     []protocol.LogEntry{logEntry(9)},
		Monsters: []protocol.MonsterSet{{Code: "wolf"}},
	})

	_, ok := s.Status("Ghost")
	assert.False(t, ok)
	_, ok = s.Config("Ghost")
	assert.False(t, ok)
	assert.Equal(t, []protocol.LogEntry{logEntry(9)}, s.Logs())
	_, ok = s.MonsterLocations("cow")
	assert.False(t, ok)
	assert.Equal(t, []string{"Alice"}, s.BotNames())
}

func TestReplaceAllTruncatesLogsAndDedupesMonsters(t *testing.T) {
	logs := make([]protocol.LogEntry, 0, 150)
	for i := 149; i >= 0; i-- {
		logs = append(logs, logEntry(i))
	}
	s := New()
	s.ReplaceAll(Snapshot{
		Logs: logs,
		Monsters: []protocol.MonsterSet{
			{Code: "wolf", Locations: make([]protocol.MonsterLocation, 2)},
			{Code: "wolf", Locations: make([]protocol.MonsterLocation, 1)},
		},
	})
	got := s.Logs()
	require.Len(t, got, MaxLogs)
	assert.Equal(t, logEntry(149), got[0])
	require.Len(t, s.Monsters(), 1)
	locs, _ := s.MonsterLocations("wolf")
	assert.Len(t, locs, 1)
}

func TestPutStatusLeavesOtherBotsUntouched(t *testing.T) {
	s := New()
	s.ReplaceAll(Snapshot{Statuses: map[string]protocol.BotStatus{
		"Alice": {IsRunning: true, LastAction: "fight"},
		"Bob":   {IsRunning: false, LastAction: "idle", TotalXP: 7},
	}})
	bobBefore, _ := s.Status("Bob")

	s.PutStatus("Alice", protocol.BotStatus{IsRunning: false})

	alice, ok := s.Status("Alice")
	require.True(t, ok)
	assert.False(t, alice.IsRunning)
	assert.Empty(t, alice.LastAction, "point update replaces the entry, it does not merge")
	bob, _ := s.Status("Bob")
	assert.Equal(t, bobBefore, bob)
	assert.False(t, bob.IsRunning)
}

func TestPutCreatesUnknownBot(t *testing.T) {
	s := New()
	s.PutStatus("Carol", protocol.BotStatus{IsRunning: true})
	s.PutConfig("Dave", protocol.BotConfig{CharacterName: "Dave"})
	assert.Equal(t, []string{"Carol", "Dave"}, s.BotNames())
}

func TestReplaceStatusesLeavesConfigs(t *testing.T) {
	s := New()
	s.PutConfig("Alice", protocol.BotConfig{CharacterName: "Alice"})
	s.PutStatus("Alice", protocol.BotStatus{IsRunning: true})
	s.ReplaceStatuses(map[string]protocol.BotStatus{"Bob": {}})

	_, ok := s.Status("Alice")
	assert.False(t, ok)
	_, ok = s.Config("Alice")
	assert.True(t, ok)
}

func TestUpsertMonstersReplacesNotMerges(t *testing.T) {
	s := New()
	s.UpsertMonsters(protocol.MonsterSet{Code: "wolf", Locations: []protocol.MonsterLocation{
		{Code: "wolf", Skin: "wolf1", Position: protocol.Position{X: 1, Y: 1}},
		{Code: "wolf", Skin: "wolf1", Position: protocol.Position{X: 2, Y: 2}},
	}})
	s.UpsertMonsters(protocol.MonsterSet{Code: "wolf", Locations: []protocol.MonsterLocation{
		{Code: "wolf", Skin: "wolf2", Position: protocol.Position{X: 3, Y: 3}},
	}})
	locs, ok := s.MonsterLocations("wolf")
	require.True(t, ok)
	require.Len(t, locs, 1)
	assert.Equal(t, protocol.Position{X: 3, Y: 3}, locs[0].Position)
}

func TestUpsertMonstersIdempotentAndOrdered(t *testing.T) {
	chicken := protocol.MonsterSet{Code: "chicken", Locations: []protocol.MonsterLocation{{Code: "chicken", Position: protocol.Position{X: 0, Y: 1}}}}
	wolf := protocol.MonsterSet{Code: "wolf", Locations: []protocol.MonsterLocation{{Code: "wolf"}}}

	once := New()
	once.UpsertMonsters(chicken)
	once.UpsertMonsters(wolf)

	twice := New()
	twice.UpsertMonsters(chicken)
	twice.UpsertMonsters(chicken)
	twice.UpsertMonsters(wolf)
	twice.UpsertMonsters(wolf)

	assert.Equal(t, once.Monsters(), twice.Monsters())
	codes := []string{}
	for _, m := range twice.Monsters() {
		codes = append(codes, m.Code)
	}
	assert.Equal(t, []string{"chicken", "wolf"}, codes)
}

func TestReadersReturnCopies(t *testing.T) {
	s := New()
	s.PutStatus("Alice", protocol.BotStatus{ItemsCollected: map[string]int{"egg": 1}})
	got := s.Statuses()
	got["Alice"].ItemsCollected["egg"] = 50
	delete(got, "Alice")

	alice, ok := s.Status("Alice")
	require.True(t, ok)
	assert.Equal(t, 1, alice.ItemsCollected["egg"])
}

func TestChangesCoalesce(t *testing.T) {
	s := New()
	s.AppendLog(logEntry(1))
	s.AppendLog(logEntry(2))
	s.PutStatus("Alice", protocol.BotStatus{})

	select {
	case <-s.Changes():
	default:
		t.Fatal("expected a pending change signal")
	}
	select {
	case <-s.Changes():
		t.Fatal("signals should coalesce into one")
	default:
	}
	assert.Equal(t, uint64(3), s.Version())
}

func TestConcurrentReadsDuringUpdates(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			s.PutStatus("Alice", protocol.BotStatus{TotalActions: i, ItemsCollected: map[string]int{"x": i}})
			s.AppendLog(logEntry(i))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			if st, ok := s.Status("Alice"); ok {
				assert.Equal(t, st.TotalActions, st.ItemsCollected["x"])
			}
			assert.LessOrEqual(t, len(s.Logs()), MaxLogs)
		}
	}()
	wg.Wait()
}
