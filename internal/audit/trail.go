// Package audit keeps an append-only JSONL trail of what the daemon
// executed and who asked for it. The trail is best-effort: a write failure
// is logged and never fails the operation being recorded.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/HyphaGroup/warden/logging"
)

// Operation names an auditable action.
type Operation string

const (
	OpRun             Operation = "run.execute"
	OpScheduleCreate  Operation = "schedule.create"
	OpScheduleUpdate  Operation = "schedule.update"
	OpScheduleDelete  Operation = "schedule.delete"
	OpScheduleTrigger Operation = "schedule.trigger"
	OpTokenCreate     Operation = "token.create"
	OpTokenRevoke     Operation = "token.revoke"
)

// Event is one audit record. TokenID is the display identifier, never the
// secret.
type Event struct {
	Timestamp  time.Time `json:"timestamp"`
	Operation  Operation `json:"operation"`
	Origin     string    `json:"origin,omitempty"`
	TokenID    string    `json:"token_id,omitempty"`
	RunID      string    `json:"run_id,omitempty"`
	ScheduleID string    `json:"schedule_id,omitempty"`
	Command    []string  `json:"command,omitempty"`
	Dir        string    `json:"dir,omitempty"`
	ExitCode   *int      `json:"exit_code,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
}

// Trail appends events to a JSONL file and rotates it when it outgrows the
// configured cap. A nil or disabled Trail swallows events.
type Trail struct {
	log logging.Logger

	mu      sync.Mutex
	f       *os.File
	size    int64
	path    string
	maxSize int64
	enabled bool
}

// Open creates or continues the trail at path. Size accounting resumes from
// the existing file so rotation holds across restarts.
func Open(path string, maxSizeMB int, log logging.Logger) (*Trail, error) {
	if log == nil {
		log = logging.NewNop()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating audit directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening audit trail: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("sizing audit trail: %w", err)
	}
	return &Trail{
		log:     log,
		f:       f,
		size:    info.Size(),
		path:    path,
		maxSize: int64(maxSizeMB) << 20,
		enabled: true,
	}, nil
}

// NewDisabled returns a trail that records nothing.
func NewDisabled() *Trail {
	return &Trail{log: logging.NewNop()}
}

// Append writes one event. A zero timestamp is filled in.
func (t *Trail) Append(ev Event) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}

	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	line, err := json.Marshal(ev)
	if err != nil {
		t.log.Warn("encoding audit event", "error", err)
		return
	}
	line = append(line, '\n')

	if t.size+int64(len(line)) > t.maxSize {
		if err := t.rotateLocked(); err != nil {
			// The trail is dead once the file cannot be cycled; keep the
			// daemon running and say so loudly.
			t.log.Error("rotating audit trail", "error", err)
			t.enabled = false
			return
		}
	}
	n, err := t.f.Write(line)
	t.size += int64(n)
	if err != nil {
		t.log.Warn("writing audit event", "error", err)
	}
}

// rotateLocked renames the current file aside and starts a fresh one. The
// nanosecond suffix keeps two rotations in the same second apart.
func (t *Trail) rotateLocked() error {
	if err := t.f.Close(); err != nil {
		return fmt.Errorf("closing audit trail: %w", err)
	}
	rotated := fmt.Sprintf("%s.%s", t.path, time.Now().UTC().Format("20060102T150405.000000000"))
	if err := os.Rename(t.path, rotated); err != nil {
		return fmt.Errorf("renaming audit trail: %w", err)
	}
	f, err := os.OpenFile(t.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("reopening audit trail: %w", err)
	}
	t.f, t.size = f, 0
	t.log.Info("rotated audit trail", "rotated", rotated)
	return nil
}

// Close flushes and closes the underlying file.
func (t *Trail) Close() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.f == nil {
		return nil
	}
	err := t.f.Close()
	t.f, t.enabled = nil, false
	return err
}
