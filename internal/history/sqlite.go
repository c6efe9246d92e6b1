// Package history keeps a local SQLite record of every intent the client
// tried to send, whether or not it reached the authority.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/CamiloCaceres/artifacts-client/internal/gateway"
)

// Row is one stored intent.
type Row struct {
	ID        int64
	At        time.Time
	SessionID string
	Event     string
	Target    string
	Sent      bool
	Error     string
}

type Stats struct {
	Written    uint64
	Dropped    uint64
	QueueDepth int
}

// DB writes intents on a background goroutine. RecordIntent never blocks the
// caller; when the queue is full the record is dropped and counted.
type DB struct {
	db *sql.DB

	// mu guards ch against close while a send is in flight.
	mu     sync.RWMutex
	closed bool
	ch     chan req
	wg     sync.WaitGroup
	once   sync.Once

	written atomic.Uint64
	dropped atomic.Uint64
}

type req struct {
	row  Row
	done chan struct{}
}

// Open creates (or reuses) the database at path.
func Open(path string) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	return open(path, 4096)
}

func open(path string, queue int) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	h := &DB{db: db, ch: make(chan req, queue)}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.loop()
	}()
	return h, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS intents (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			at TEXT NOT NULL,
			session_id TEXT NOT NULL,
			event TEXT NOT NULL,
			target TEXT NOT NULL,
			sent INTEGER NOT NULL,
			error TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_intents_target ON intents(target, id);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// RecordIntent implements gateway.Recorder.
func (h *DB) RecordIntent(r gateway.Record) {
	if h == nil {
		return
	}
	row := Row{At: r.At, SessionID: r.SessionID, Event: r.Event, Target: r.Target, Sent: r.Sent}
	if r.Err != nil {
		row.Error = r.Err.Error()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	select {
	case h.ch <- req{row: row}:
	default:
		h.dropped.Add(1)
	}
}

// Flush blocks until every record queued before the call is written.
func (h *DB) Flush(ctx context.Context) error {
	if h == nil {
		return nil
	}
	done := make(chan struct{})
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return nil
	}
	select {
	case h.ch <- req{done: done}:
		h.mu.RUnlock()
	case <-ctx.Done():
		h.mu.RUnlock()
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recent returns up to limit intents, newest first.
func (h *DB) Recent(ctx context.Context, limit int) ([]Row, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := h.db.QueryContext(ctx,
		`SELECT id, at, session_id, event, target, sent, COALESCE(error, '') FROM intents ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query intents: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			r    Row
			at   string
			sent int
		)
		if err := rows.Scan(&r.ID, &at, &r.SessionID, &r.Event, &r.Target, &sent, &r.Error); err != nil {
			return nil, err
		}
		r.At, _ = time.Parse(time.RFC3339Nano, at)
		r.Sent = sent != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

func (h *DB) Stats() Stats {
	if h == nil {
		return Stats{}
	}
	return Stats{
		Written:    h.written.Load(),
		Dropped:    h.dropped.Load(),
		QueueDepth: len(h.ch),
	}
}

func (h *DB) Close() error {
	if h == nil {
		return nil
	}
	var err error
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.ch)
		h.mu.Unlock()
		h.wg.Wait()
		err = h.db.Close()
	})
	return err
}

func (h *DB) loop() {
	insert, err := h.db.Prepare(`INSERT INTO intents(at,session_id,event,target,sent,error) VALUES(?,?,?,?,?,?)`)
	if err != nil {
		for r := range h.ch {
			if r.done != nil {
				close(r.done)
			} else {
				h.dropped.Add(1)
			}
		}
		return
	}
	defer insert.Close()

	for r := range h.ch {
		if r.done != nil {
			close(r.done)
			continue
		}
		sent := 0
		if r.row.Sent {
			sent = 1
		}
		var errText any
		if r.row.Error != "" {
			errText = r.row.Error
		}
		if _, err := insert.Exec(
			r.row.At.UTC().Format(time.RFC3339Nano),
			r.row.SessionID,
			r.row.Event,
			r.row.Target,
			sent,
			errText,
		); err != nil {
			h.dropped.Add(1)
			continue
		}
		h.written.Add(1)
	}
}
