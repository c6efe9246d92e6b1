// Package lifecycle ties session creation to consumer activation.
package lifecycle

import (
	"log/slog"
	"sync"
)

type Session interface {
	Connect()
	Disconnect()
}

// Binding owns at most one session. Activate creates and connects it on
// first use; Deactivate tears it down and forgets it so the next Activate
// starts from a fresh session.
type Binding[S Session] struct {
	factory func() S
	log     *slog.Logger

	mu      sync.Mutex
	current S
	has     bool
}

func New[S Session](factory func() S, logger *slog.Logger) *Binding[S] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Binding[S]{factory: factory, log: logger}
}

// Activate returns the current session, creating and connecting one if none
// exists.
func (b *Binding[S]) Activate() S {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.has {
		return b.current
	}
	s := b.factory()
	b.current, b.has = s, true
	s.Connect()
	b.log.Debug("session activated")
	return s
}

// Deactivate disconnects the current session, if any, and clears it.
func (b *Binding[S]) Deactivate() {
	b.mu.Lock()
	s, ok := b.current, b.has
	var zero S
	b.current, b.has = zero, false
	b.mu.Unlock()

	if !ok {
		return
	}
	s.Disconnect()
	b.log.Debug("session deactivated")
}

func (b *Binding[S]) Current() (S, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current, b.has
}
