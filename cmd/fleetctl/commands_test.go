package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CamiloCaceres/artifacts-client/internal/gateway"
)

func TestLoadCycleExample(t *testing.T) {
	c, err := loadCycle(filepath.Join("..", "..", "configs", "cycle.example.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "copper-daggers", c.ID)
	require.Len(t, c.Steps, 4)
	assert.Equal(t, "move", c.Steps[1].Type)
	require.NotNil(t, c.Steps[1].Position)
	assert.Equal(t, 2, c.Steps[1].Position.X)
	require.Len(t, c.RequiredItems, 1)
	assert.Equal(t, 60, c.RequiredItems[0].Quantity)
}

func TestLoadCycleRejectsEmpty(t *testing.T) {
	p := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(p, []byte("name: nothing\n"), 0o644))
	_, err := loadCycle(p)
	assert.Error(t, err)

	_, err = loadCycle(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 8))
	assert.Equal(t, "abcdefgh", truncate("abcdefghij", 8))
}

type countRecorder struct{ n int }

func (c *countRecorder) RecordIntent(gateway.Record) { c.n++ }

func TestSentReportsActualCause(t *testing.T) {
	next := &countRecorder{}
	f := &fleet{}
	f.last.next = next

	assert.NoError(t, f.sent(true, "startBot"))

	f.last.RecordIntent(gateway.Record{Event: "startBot", Err: gateway.ErrNotConnected})
	assert.ErrorIs(t, f.sent(false, "startBot"), gateway.ErrNotConnected)

	cause := errors.New("broken pipe")
	f.last.RecordIntent(gateway.Record{Event: "stopBot", Err: &gateway.TransportError{Event: "stopBot", Err: cause}})
	err := f.sent(false, "stopBot")
	var te *gateway.TransportError
	require.ErrorAs(t, err, &te)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, gateway.ErrNotConnected)

	f.last.RecordIntent(gateway.Record{Event: "stopBot", Sent: true})
	assert.ErrorIs(t, f.sent(false, "stopBot"), errNotSent)
	assert.Equal(t, 3, next.n)
}
