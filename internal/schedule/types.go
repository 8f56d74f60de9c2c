package schedule

import (
	"time"
)

// ScheduledCommand is a command line executed repeatedly on a cron schedule.
// The daemon persists these in sqlite and a tick loop runs due entries
// through the execution engine.
type ScheduledCommand struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Command   []string   `json:"command"`           // argv, Command[0] is the executable
	Dir       string     `json:"dir,omitempty"`     // working directory, daemon cwd if empty
	Capture   string     `json:"capture,omitempty"` // capture mode for runs, both if empty
	CronExpr  string     `json:"cron_expr"`         // standard 5-field cron expression
	Enabled   bool       `json:"enabled"`           // can be paused and resumed
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`

	// Outcome of the most recent execution, if any. LastRunID points at the
	// journal entry holding the full record.
	LastRunID    string `json:"last_run_id,omitempty"`
	LastExitCode *int   `json:"last_exit_code,omitempty"`
}

// Update contains optional fields for partially updating a schedule.
// Nil fields are left unchanged; a non-nil Command replaces the whole argv.
type Update struct {
	Name     *string  `json:"name,omitempty"`
	Command  []string `json:"command,omitempty"`
	Dir      *string  `json:"dir,omitempty"`
	Capture  *string  `json:"capture,omitempty"`
	CronExpr *string  `json:"cron_expr,omitempty"`
	Enabled  *bool    `json:"enabled,omitempty"`
}

// ListFilter contains optional filters for listing schedules.
type ListFilter struct {
	Enabled *bool // filter by enabled status
}
