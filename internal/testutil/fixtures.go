// Package testutil provides shared fixtures for warden's tests: throwaway
// sqlite stores, a canned configuration and builders for the journal and
// schedule types.
package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/HyphaGroup/warden/internal/config"
	"github.com/HyphaGroup/warden/internal/journal"
	"github.com/HyphaGroup/warden/internal/schedule"
)

// ptr returns a pointer to the given value.
func ptr[T any](v T) *T {
	return &v
}

// TestConfig returns a default configuration rooted in a temp directory,
// with auditing off and short run timeouts.
func TestConfig(t *testing.T) *config.Config {
	t.Helper()

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Journal.Path = filepath.Join(dir, "warden.db")
	cfg.Journal.BackupDir = filepath.Join(dir, "backups")
	cfg.Audit.Enabled = false
	cfg.Audit.Path = filepath.Join(dir, "audit.jsonl")
	cfg.Run.DefaultTimeoutSeconds = 5
	cfg.Run.MaxTimeoutSeconds = 60
	return cfg
}

// OpenJournal opens a journal store on a throwaway database, closed when
// the test ends.
func OpenJournal(t *testing.T) *journal.Store {
	t.Helper()

	store, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("opening journal store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// OpenScheduleStore opens a schedule store on a throwaway database, closed
// when the test ends.
func OpenScheduleStore(t *testing.T) *schedule.Store {
	t.Helper()

	store, err := schedule.Open(filepath.Join(t.TempDir(), "schedules.db"))
	if err != nil {
		t.Fatalf("opening schedule store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// RunOption adjusts a run fixture before it is recorded.
type RunOption func(*journal.Run)

// NewTestRun builds a run fixture. The default is a finished, successful
// HTTP-origin echo; options move it from there.
func NewTestRun(t *testing.T, opts ...RunOption) *journal.Run {
	t.Helper()

	now := time.Now().UTC()
	r := &journal.Run{
		ID:         "run_" + uuid.New().String()[:8],
		Origin:     journal.OriginHTTP,
		Command:    []string{"echo", "fixture"},
		ExitCode:   ptr(0),
		StartedAt:  now.Add(-time.Second),
		FinishedAt: ptr(now),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// WithOrigin sets the run's origin.
func WithOrigin(origin string) RunOption {
	return func(r *journal.Run) { r.Origin = origin }
}

// WithScheduleID ties the run to a schedule.
func WithScheduleID(id string) RunOption {
	return func(r *journal.Run) {
		r.Origin = journal.OriginSchedule
		r.ScheduleID = id
	}
}

// WithCommand sets the run's argv.
func WithCommand(argv ...string) RunOption {
	return func(r *journal.Run) { r.Command = argv }
}

// WithStartedAt backdates the run. Retention tests rely on the store
// keeping this timestamp as given.
func WithStartedAt(ts time.Time) RunOption {
	return func(r *journal.Run) { r.StartedAt = ts }
}

// WithExitCode settles the run with the given code.
func WithExitCode(code int) RunOption {
	return func(r *journal.Run) { r.ExitCode = ptr(code) }
}

// WithRunError settles the run as failed with an error message.
func WithRunError(msg string) RunOption {
	return func(r *journal.Run) {
		r.Error = msg
		r.ExitCode = ptr(-1)
	}
}

// Unfinished leaves the run in the running state.
func Unfinished() RunOption {
	return func(r *journal.Run) {
		r.ExitCode = nil
		r.FinishedAt = nil
	}
}

// SeedRun records a run fixture in the store, settling it unless Unfinished
// was applied, and returns the stored row.
func SeedRun(t *testing.T, store *journal.Store, opts ...RunOption) *journal.Run {
	t.Helper()

	r := NewTestRun(t, opts...)
	if err := store.Record(r); err != nil {
		t.Fatalf("recording run fixture: %v", err)
	}
	if r.FinishedAt != nil {
		code := 0
		if r.ExitCode != nil {
			code = *r.ExitCode
		}
		out := journal.Outcome{
			ExitCode:    code,
			Error:       r.Error,
			StdoutBytes: r.StdoutBytes,
			StderrBytes: r.StderrBytes,
		}
		if err := store.Finish(r.ID, out); err != nil {
			t.Fatalf("finishing run fixture: %v", err)
		}
	}
	stored, err := store.Get(r.ID)
	if err != nil {
		t.Fatalf("reading back run fixture: %v", err)
	}
	return stored
}

// ScheduleOption adjusts a schedule fixture before it is created.
type ScheduleOption func(*schedule.ScheduledCommand)

// NewTestSchedule builds a schedule fixture: an enabled five-minute echo
// with a unique name.
func NewTestSchedule(t *testing.T, opts ...ScheduleOption) *schedule.ScheduledCommand {
	t.Helper()

	sc := &schedule.ScheduledCommand{
		Name:     "fixture-" + uuid.New().String()[:8],
		Command:  []string{"echo", "tick"},
		CronExpr: "*/5 * * * *",
		Enabled:  true,
	}
	for _, opt := range opts {
		opt(sc)
	}
	return sc
}

// WithScheduleName sets the schedule's name.
func WithScheduleName(name string) ScheduleOption {
	return func(sc *schedule.ScheduledCommand) { sc.Name = name }
}

// WithCronExpr sets the schedule's cron expression.
func WithCronExpr(expr string) ScheduleOption {
	return func(sc *schedule.ScheduledCommand) { sc.CronExpr = expr }
}

// WithScheduleCommand sets the schedule's argv.
func WithScheduleCommand(argv ...string) ScheduleOption {
	return func(sc *schedule.ScheduledCommand) { sc.Command = argv }
}

// DisabledSchedule creates the schedule paused.
func DisabledSchedule() ScheduleOption {
	return func(sc *schedule.ScheduledCommand) { sc.Enabled = false }
}

// SeedSchedule creates a schedule fixture in the store and returns it with
// the store-assigned fields filled in.
func SeedSchedule(t *testing.T, store *schedule.Store, opts ...ScheduleOption) *schedule.ScheduledCommand {
	t.Helper()

	sc := NewTestSchedule(t, opts...)
	if err := store.Create(sc); err != nil {
		t.Fatalf("creating schedule fixture: %v", err)
	}
	return sc
}
