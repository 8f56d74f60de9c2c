// Package journal persists one record per executed command, whatever surface
// it entered through. The daemon writes a record when a run starts and
// completes it when the run finishes; readers get history, retention pruning
// and online backups.
package journal

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var ErrRunNotFound = errors.New("run not found")

// Origins a run can enter through.
const (
	OriginHTTP     = "http"
	OriginMCP      = "mcp"
	OriginSchedule = "schedule"
	OriginCLI      = "cli"
)

// Run is one journal entry. ExitCode and FinishedAt stay nil while the run
// is in flight.
type Run struct {
	ID          string     `json:"id"`
	Origin      string     `json:"origin"`
	ScheduleID  string     `json:"schedule_id,omitempty"` // set for schedule-origin runs
	Command     []string   `json:"command"`
	Dir         string     `json:"dir,omitempty"`
	ExitCode    *int       `json:"exit_code,omitempty"`
	Error       string     `json:"error,omitempty"`
	StdoutBytes int64      `json:"stdout_bytes"`
	StderrBytes int64      `json:"stderr_bytes"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// Status summarizes the run for listings: running, ok or failed.
func (r *Run) Status() string {
	switch {
	case r.FinishedAt == nil:
		return "running"
	case r.ExitCode != nil && *r.ExitCode == 0 && r.Error == "":
		return "ok"
	default:
		return "failed"
	}
}

// Store is the sqlite-backed journal.
type Store struct {
	db *sql.DB
}

// Open creates or opens the journal database at path, creating parent
// directories as needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating journal directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening journal database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating journal database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		origin TEXT NOT NULL,
		schedule_id TEXT NOT NULL DEFAULT '',
		command TEXT NOT NULL,
		dir TEXT NOT NULL DEFAULT '',
		exit_code INTEGER,
		error TEXT NOT NULL DEFAULT '',
		stdout_bytes INTEGER NOT NULL DEFAULT 0,
		stderr_bytes INTEGER NOT NULL DEFAULT 0,
		started_at DATETIME NOT NULL,
		finished_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_runs_origin ON runs(origin);
	CREATE INDEX IF NOT EXISTS idx_runs_schedule ON runs(schedule_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts the starting entry for a run, assigning its id and start
// time when unset.
func (s *Store) Record(run *Run) error {
	if run.ID == "" {
		run.ID = "run_" + uuid.New().String()[:8]
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	command, err := json.Marshal(run.Command)
	if err != nil {
		return fmt.Errorf("encoding command: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO runs (id, origin, schedule_id, command, dir, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Origin, run.ScheduleID, string(command), run.Dir, run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// Outcome completes a run record.
type Outcome struct {
	ExitCode    int
	Error       string
	StdoutBytes int64
	StderrBytes int64
}

// Finish marks the run completed with its outcome.
func (s *Store) Finish(id string, out Outcome) error {
	result, err := s.db.Exec(`
		UPDATE runs SET exit_code = ?, error = ?, stdout_bytes = ?, stderr_bytes = ?, finished_at = ?
		WHERE id = ?`,
		out.ExitCode, out.Error, out.StdoutBytes, out.StderrBytes, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("finishing run: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrRunNotFound
	}
	return nil
}

// Get retrieves one run by id.
func (s *Store) Get(id string) (*Run, error) {
	row := s.db.QueryRow(selectColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying run: %w", err)
	}
	return run, nil
}

// ListFilter narrows a listing. Zero values mean no filtering; Limit
// defaults to 50.
type ListFilter struct {
	Origin     string
	ScheduleID string
	Limit      int
}

// List returns runs matching the filter, newest first.
func (s *Store) List(f ListFilter) ([]*Run, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := selectColumns + ` FROM runs`
	var conditions []string
	var args []any
	if f.Origin != "" {
		conditions = append(conditions, "origin = ?")
		args = append(args, f.Origin)
	}
	if f.ScheduleID != "" {
		conditions = append(conditions, "schedule_id = ?")
		args = append(args, f.ScheduleID)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY started_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Prune deletes finished runs older than the cutoff and reports how many
// rows went away. In-flight runs are never pruned.
func (s *Store) Prune(olderThan time.Time) (int64, error) {
	result, err := s.db.Exec(
		"DELETE FROM runs WHERE finished_at IS NOT NULL AND started_at < ?", olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("pruning runs: %w", err)
	}
	return result.RowsAffected()
}

// Backup writes a consistent snapshot of the journal into dir using VACUUM
// INTO and enforces the keep limit on older snapshots. It returns the path
// of the new snapshot.
func (s *Store) Backup(dir string, keep int) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating backup directory: %w", err)
	}
	name := fmt.Sprintf("warden_%s.db", time.Now().UTC().Format("20060102_150405"))
	path := filepath.Join(dir, name)

	// VACUUM INTO takes a string literal, not a bind parameter.
	quoted := strings.ReplaceAll(path, "'", "''")
	if _, err := s.db.Exec("VACUUM INTO '" + quoted + "'"); err != nil {
		return "", fmt.Errorf("backing up journal: %w", err)
	}

	if keep > 0 {
		s.enforceBackupRetention(dir, keep)
	}
	return path, nil
}

func (s *Store) enforceBackupRetention(dir string, keep int) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "warden_") || !strings.HasSuffix(entry.Name(), ".db") {
			continue
		}
		names = append(names, entry.Name())
	}
	// Timestamped names sort chronologically.
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	for i := keep; i < len(names); i++ {
		_ = os.Remove(filepath.Join(dir, names[i]))
	}
}

const selectColumns = `
	SELECT id, origin, schedule_id, command, dir, exit_code, error,
	       stdout_bytes, stderr_bytes, started_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run      Run
		command  string
		exitCode sql.NullInt64
		finished sql.NullTime
	)
	if err := row.Scan(&run.ID, &run.Origin, &run.ScheduleID, &command, &run.Dir,
		&exitCode, &run.Error, &run.StdoutBytes, &run.StderrBytes,
		&run.StartedAt, &finished); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(command), &run.Command); err != nil {
		return nil, fmt.Errorf("decoding command: %w", err)
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		run.ExitCode = &code
	}
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return &run, nil
}
