package schedule

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/HyphaGroup/warden/internal/validation"
)

var (
	ErrScheduleNotFound = errors.New("schedule not found")
	ErrInvalidCron      = errors.New("invalid cron expression")
)

// Store persists scheduled commands in sqlite.
type Store struct {
	db *sql.DB
}

// Open creates or opens the schedule database at path, creating parent
// directories as needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating schedule directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening schedule database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating schedule database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schedules (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		command TEXT NOT NULL,
		dir TEXT NOT NULL DEFAULT '',
		capture TEXT NOT NULL DEFAULT '',
		cron_expr TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		last_run_at DATETIME,
		next_run_at DATETIME,
		last_run_id TEXT NOT NULL DEFAULT '',
		last_exit_code INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_schedules_enabled ON schedules(enabled);
	CREATE INDEX IF NOT EXISTS idx_schedules_next_run ON schedules(next_run_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create validates and inserts a new scheduled command, assigning its ID,
// timestamps and first activation time.
func (s *Store) Create(sc *ScheduledCommand) error {
	if strings.TrimSpace(sc.Name) == "" {
		return errors.New("schedule name is required")
	}
	if len(sc.Command) == 0 {
		return errors.New("schedule command is required")
	}
	if err := ValidateCron(sc.CronExpr); err != nil {
		return err
	}
	if err := validation.ValidateCaptureMode(sc.Capture); err != nil {
		return err
	}

	if sc.ID == "" {
		sc.ID = "sched_" + uuid.New().String()[:8]
	}
	now := time.Now().UTC()
	sc.CreatedAt = now
	sc.UpdatedAt = now
	if sc.NextRunAt == nil && sc.Enabled {
		next, err := NextRun(sc.CronExpr, now)
		if err == nil {
			sc.NextRunAt = &next
		}
	}

	command, err := json.Marshal(sc.Command)
	if err != nil {
		return fmt.Errorf("encoding command: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO schedules (id, name, command, dir, capture, cron_expr, enabled,
		                       created_at, updated_at, last_run_at, next_run_at,
		                       last_run_id, last_exit_code)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.ID, sc.Name, string(command), sc.Dir, sc.Capture, sc.CronExpr, sc.Enabled,
		sc.CreatedAt, sc.UpdatedAt, sc.LastRunAt, sc.NextRunAt,
		sc.LastRunID, sc.LastExitCode,
	)
	if err != nil {
		return fmt.Errorf("inserting schedule: %w", err)
	}
	return nil
}

// Get retrieves a schedule by ID.
func (s *Store) Get(id string) (*ScheduledCommand, error) {
	row := s.db.QueryRow(selectColumns+` FROM schedules WHERE id = ?`, id)
	sc, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrScheduleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying schedule: %w", err)
	}
	return sc, nil
}

// List returns schedules matching the filter, newest first.
func (s *Store) List(filter ListFilter) ([]*ScheduledCommand, error) {
	query := selectColumns + ` FROM schedules`
	var args []any
	if filter.Enabled != nil {
		query += ` WHERE enabled = ?`
		if *filter.Enabled {
			args = append(args, 1)
		} else {
			args = append(args, 0)
		}
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing schedules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*ScheduledCommand
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning schedule: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// Update applies a partial update and returns the updated schedule. When the
// cron expression or the enabled flag changes, the next activation time is
// recalculated.
func (s *Store) Update(id string, upd Update) (*ScheduledCommand, error) {
	if upd.CronExpr != nil {
		if err := ValidateCron(*upd.CronExpr); err != nil {
			return nil, err
		}
	}
	if upd.Capture != nil {
		if err := validation.ValidateCaptureMode(*upd.Capture); err != nil {
			return nil, err
		}
	}
	if upd.Command != nil && len(upd.Command) == 0 {
		return nil, errors.New("schedule command is required")
	}

	var setClauses []string
	var args []any

	if upd.Name != nil {
		setClauses = append(setClauses, "name = ?")
		args = append(args, *upd.Name)
	}
	if upd.Command != nil {
		command, err := json.Marshal(upd.Command)
		if err != nil {
			return nil, fmt.Errorf("encoding command: %w", err)
		}
		setClauses = append(setClauses, "command = ?")
		args = append(args, string(command))
	}
	if upd.Dir != nil {
		setClauses = append(setClauses, "dir = ?")
		args = append(args, *upd.Dir)
	}
	if upd.Capture != nil {
		setClauses = append(setClauses, "capture = ?")
		args = append(args, *upd.Capture)
	}
	if upd.CronExpr != nil {
		setClauses = append(setClauses, "cron_expr = ?")
		args = append(args, *upd.CronExpr)
	}
	if upd.Enabled != nil {
		setClauses = append(setClauses, "enabled = ?")
		if *upd.Enabled {
			args = append(args, 1)
		} else {
			args = append(args, 0)
		}
	}

	if len(setClauses) > 0 {
		setClauses = append(setClauses, "updated_at = ?")
		args = append(args, time.Now().UTC(), id)

		query := "UPDATE schedules SET " + strings.Join(setClauses, ", ") + " WHERE id = ?"
		res, err := s.db.Exec(query, args...)
		if err != nil {
			return nil, fmt.Errorf("updating schedule: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, ErrScheduleNotFound
		}
	}

	sc, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	// A disabled schedule has no next activation. Re-enabling or changing
	// the expression starts the clock from now.
	if upd.Enabled != nil || upd.CronExpr != nil {
		var next *time.Time
		if sc.Enabled {
			t, err := NextRun(sc.CronExpr, time.Now().UTC())
			if err != nil {
				return nil, err
			}
			next = &t
		}
		if _, err := s.db.Exec("UPDATE schedules SET next_run_at = ? WHERE id = ?", next, id); err != nil {
			return nil, fmt.Errorf("updating next run: %w", err)
		}
		sc.NextRunAt = next
	}

	return sc, nil
}

// Delete removes a schedule.
func (s *Store) Delete(id string) error {
	res, err := s.db.Exec("DELETE FROM schedules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting schedule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

// ListDue returns enabled schedules whose next activation is at or before now.
func (s *Store) ListDue(now time.Time) ([]*ScheduledCommand, error) {
	rows, err := s.db.Query(selectColumns+`
		FROM schedules
		WHERE enabled = 1 AND next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at ASC`, now,
	)
	if err != nil {
		return nil, fmt.Errorf("listing due schedules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*ScheduledCommand
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning schedule: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// RecordRun stores the outcome of one execution and advances the next
// activation time. A nil nextRun clears the activation, which is what a
// manual trigger of a disabled schedule wants.
func (s *Store) RecordRun(id string, ranAt time.Time, nextRun *time.Time, runID string, exitCode *int) error {
	res, err := s.db.Exec(`
		UPDATE schedules
		SET last_run_at = ?, next_run_at = ?, last_run_id = ?, last_exit_code = ?, updated_at = ?
		WHERE id = ?`,
		ranAt, nextRun, runID, exitCode, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("recording schedule run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

const selectColumns = `
	SELECT id, name, command, dir, capture, cron_expr, enabled,
	       created_at, updated_at, last_run_at, next_run_at,
	       last_run_id, last_exit_code`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (*ScheduledCommand, error) {
	var (
		sc        ScheduledCommand
		command   string
		enabled   int
		lastRunAt sql.NullTime
		nextRunAt sql.NullTime
		exitCode  sql.NullInt64
	)
	err := row.Scan(
		&sc.ID, &sc.Name, &command, &sc.Dir, &sc.Capture, &sc.CronExpr, &enabled,
		&sc.CreatedAt, &sc.UpdatedAt, &lastRunAt, &nextRunAt,
		&sc.LastRunID, &exitCode,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(command), &sc.Command); err != nil {
		return nil, fmt.Errorf("decoding command: %w", err)
	}
	sc.Enabled = enabled != 0
	if lastRunAt.Valid {
		sc.LastRunAt = &lastRunAt.Time
	}
	if nextRunAt.Valid {
		sc.NextRunAt = &nextRunAt.Time
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		sc.LastExitCode = &code
	}
	return &sc, nil
}
