package history

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CamiloCaceres/artifacts-client/internal/gateway"
	"github.com/CamiloCaceres/artifacts-client/internal/protocol"
)

func TestRecordAndRecent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	h, err := Open(path)
	require.NoError(t, err)
	defer h.Close()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h.RecordIntent(gateway.Record{At: at, SessionID: "sess-1", Event: protocol.IntentStartBot, Target: "Alice", Sent: true})
	h.RecordIntent(gateway.Record{At: at.Add(time.Second), Event: protocol.IntentStopBot, Target: "Bob", Err: gateway.ErrNotConnected})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.Flush(ctx))

	rows, err := h.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, protocol.IntentStopBot, rows[0].Event)
	assert.Equal(t, "Bob", rows[0].Target)
	assert.False(t, rows[0].Sent)
	assert.Equal(t, gateway.ErrNotConnected.Error(), rows[0].Error)

	assert.Equal(t, "Alice", rows[1].Target)
	assert.True(t, rows[1].Sent)
	assert.Empty(t, rows[1].Error)
	assert.Equal(t, "sess-1", rows[1].SessionID)
	assert.True(t, rows[1].At.Equal(at))

	assert.Equal(t, uint64(2), h.Stats().Written)
}

func TestRecentLimit(t *testing.T) {
	h, err := Open(filepath.Join(t.TempDir(), "h.db"))
	require.NoError(t, err)
	defer h.Close()

	for range 5 {
		h.RecordIntent(gateway.Record{At: time.Now(), Event: protocol.IntentStartAllBots, Sent: true})
	}
	ctx := context.Background()
	require.NoError(t, h.Flush(ctx))
	rows, err := h.Recent(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestQueueFullDrops(t *testing.T) {
	h := &DB{ch: make(chan req, 1)}
	h.RecordIntent(gateway.Record{Event: "a"})
	h.RecordIntent(gateway.Record{Event: "b"})

	st := h.Stats()
	assert.Equal(t, uint64(1), st.Dropped)
	assert.Equal(t, 1, st.QueueDepth)
}

func TestCloseIsIdempotentAndStopsRecording(t *testing.T) {
	h, err := Open(filepath.Join(t.TempDir(), "h.db"))
	require.NoError(t, err)
	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	h.RecordIntent(gateway.Record{Event: "late"})
	assert.NoError(t, h.Flush(context.Background()))

	_, err = Open("")
	assert.Error(t, err)
}

func TestRecordWhileClosing(t *testing.T) {
	h, err := Open(filepath.Join(t.TempDir(), "h.db"))
	require.NoError(t, err)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				h.RecordIntent(gateway.Record{At: time.Now(), Event: protocol.IntentStartBot, Target: "Alice", Sent: true})
				_ = h.Flush(context.Background())
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, h.Close())
	time.Sleep(10 * time.Millisecond)
	close(stop)
	wg.Wait()

	assert.NotPanics(t, func() {
		h.RecordIntent(gateway.Record{Event: "late"})
	})
}
