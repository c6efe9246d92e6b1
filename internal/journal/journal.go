// Package journal appends bot log lines and connection transitions to
// hourly-rotated, zstd-compressed JSONL files.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/CamiloCaceres/artifacts-client/internal/protocol"
	"github.com/CamiloCaceres/artifacts-client/internal/transport/session"
)

// Entry is one journal line. Kind is "log" for bot log lines and the
// session event kind otherwise.
type Entry struct {
	At            time.Time `json:"at"`
	Kind          string    `json:"kind"`
	SessionID     string    `json:"sessionId,omitempty"`
	CharacterName string    `json:"characterName,omitempty"`
	Message       string    `json:"message,omitempty"`
	Timestamp     string    `json:"timestamp,omitempty"`
	Attempts      int       `json:"attempts,omitempty"`
	Error         string    `json:"error,omitempty"`
}

const KindLog = "log"

// Journal writes log entries under <dir>/logs and session transitions under
// <dir>/sessions. Each entry lands in the file for the UTC hour of its At.
type Journal struct {
	now func() time.Time

	mu       sync.Mutex
	logs     stream
	sessions stream
}

func Open(dir string) (*Journal, error) {
	if dir == "" {
		return nil, fmt.Errorf("empty journal dir")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	return &Journal{
		now:      time.Now,
		logs:     stream{dir: filepath.Join(dir, "logs"), prefix: "botlog"},
		sessions: stream{dir: filepath.Join(dir, "sessions"), prefix: "session"},
	}, nil
}

func (j *Journal) WriteLog(e protocol.LogEntry) error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.logs.append(Entry{
		At:            j.now().UTC(),
		Kind:          KindLog,
		CharacterName: e.CharacterName,
		Message:       e.Message,
		Timestamp:     e.Timestamp,
	})
}

func (j *Journal) WriteSessionEvent(ev session.Event) error {
	if j == nil {
		return nil
	}
	e := Entry{
		At:        ev.At.UTC(),
		Kind:      string(ev.Kind),
		SessionID: ev.SessionID,
		Attempts:  ev.Attempts,
	}
	if ev.Err != nil {
		e.Error = ev.Err.Error()
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if e.At.IsZero() {
		e.At = j.now().UTC()
	}
	return j.sessions.append(e)
}

func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return errors.Join(j.logs.close(), j.sessions.close())
}

// FileName is the base name of the file holding prefix entries for the UTC
// hour of t.
func FileName(prefix string, t time.Time) string {
	return fmt.Sprintf("%s-%s.jsonl.zst", prefix, t.UTC().Format(hourLayout))
}

const hourLayout = "2006-01-02-15"

// stream is one hourly series of zstd-compressed JSONL files. The caller
// holds Journal.mu.
type stream struct {
	dir    string
	prefix string

	hour string
	f    *os.File
	zw   *zstd.Encoder
	enc  *json.Encoder
}

// append writes e as one line and flushes the zstd frame.
func (s *stream) append(e Entry) error {
	if hour := e.At.Format(hourLayout); hour != s.hour {
		if err := s.openHour(e.At); err != nil {
			return err
		}
	}
	if err := s.enc.Encode(e); err != nil {
		return err
	}
	return s.zw.Flush()
}

func (s *stream) openHour(at time.Time) error {
	if err := s.close(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(s.dir, FileName(s.prefix, at)), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	s.f, s.zw, s.enc = f, zw, json.NewEncoder(zw)
	s.hour = at.Format(hourLayout)
	return nil
}

func (s *stream) close() error {
	if s.f == nil {
		return nil
	}
	err := s.zw.Close()
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	s.f, s.zw, s.enc, s.hour = nil, nil, nil, ""
	return err
}
