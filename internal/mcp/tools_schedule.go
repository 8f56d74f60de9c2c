package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/HyphaGroup/warden/internal/audit"
	"github.com/HyphaGroup/warden/internal/journal"
	"github.com/HyphaGroup/warden/internal/schedule"
	"github.com/HyphaGroup/warden/internal/validation"
)

// CreateScheduleParams is the create_schedule input.
type CreateScheduleParams struct {
	Name     string   `json:"name" jsonschema:"human-readable schedule name"`
	Command  []string `json:"command" jsonschema:"argv array to run on each activation"`
	Dir      string   `json:"dir,omitempty" jsonschema:"absolute working directory for the command"`
	Capture  string   `json:"capture,omitempty" jsonschema:"output capture mode for runs, one of both stdout stderr none, both if omitted"`
	CronExpr string   `json:"cron_expr" jsonschema:"standard 5-field cron expression, for example */5 * * * *"`
	Enabled  *bool    `json:"enabled,omitempty" jsonschema:"start enabled unless set to false"`
}

func (s *Server) handleCreateSchedule(ctx context.Context, req *mcp.CallToolRequest, params CreateScheduleParams) (_ *mcp.CallToolResult, _ any, err error) {
	defer func() { recordTool("create_schedule", err) }()

	name := strings.TrimSpace(params.Name)
	if name == "" {
		return nil, nil, fmt.Errorf("name is required")
	}
	if err := validation.ValidateCommand(params.Command); err != nil {
		return nil, nil, err
	}
	if err := validation.ValidateDir(params.Dir); err != nil {
		return nil, nil, err
	}
	if err := validation.ValidateCaptureMode(params.Capture); err != nil {
		return nil, nil, err
	}
	if err := schedule.ValidateCron(params.CronExpr); err != nil {
		return nil, nil, err
	}

	sc := &schedule.ScheduledCommand{
		Name:     name,
		Command:  params.Command,
		Dir:      params.Dir,
		Capture:  params.Capture,
		CronExpr: params.CronExpr,
		Enabled:  params.Enabled == nil || *params.Enabled,
	}
	if err := s.schedules.Create(sc); err != nil {
		return nil, nil, fmt.Errorf("creating schedule: %w", err)
	}

	s.auditSchedule(audit.OpScheduleCreate, sc)
	s.log.Info("schedule created", "id", sc.ID, "name", sc.Name, "cron", sc.CronExpr)

	text := fmt.Sprintf("Schedule %s (%q) created, cron %q", sc.ID, sc.Name, sc.CronExpr)
	if sc.NextRunAt != nil {
		text += fmt.Sprintf(", next activation %s", sc.NextRunAt.Format(time.RFC3339))
	}
	if !sc.Enabled {
		text += " (disabled)"
	}
	return textResult(text), sc, nil
}

// ListSchedulesParams is the list_schedules input.
type ListSchedulesParams struct {
	Enabled *bool `json:"enabled,omitempty" jsonschema:"only enabled (true) or only disabled (false) schedules"`
}

// ListSchedulesResult is the structured half of a list_schedules result.
type ListSchedulesResult struct {
	Schedules []*schedule.ScheduledCommand `json:"schedules"`
}

func (s *Server) handleListSchedules(ctx context.Context, req *mcp.CallToolRequest, params ListSchedulesParams) (_ *mcp.CallToolResult, _ any, err error) {
	defer func() { recordTool("list_schedules", err) }()

	scs, err := s.schedules.List(schedule.ListFilter{Enabled: params.Enabled})
	if err != nil {
		return nil, nil, fmt.Errorf("listing schedules: %w", err)
	}
	if scs == nil {
		scs = []*schedule.ScheduledCommand{}
	}

	if len(scs) == 0 {
		return textResult("No schedules defined."), ListSchedulesResult{Schedules: scs}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d schedule(s):\n", len(scs))
	for _, sc := range scs {
		state := "enabled"
		if !sc.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(&b, "  %s  %-8s %-14s %q", sc.ID, state, sc.CronExpr, sc.Name)
		if sc.NextRunAt != nil {
			fmt.Fprintf(&b, "  next %s", sc.NextRunAt.Format(time.RFC3339))
		}
		if sc.LastExitCode != nil {
			fmt.Fprintf(&b, "  last exit %d", *sc.LastExitCode)
		}
		b.WriteString("\n")
	}
	return textResult(b.String()), ListSchedulesResult{Schedules: scs}, nil
}

// DeleteScheduleParams is the delete_schedule input.
type DeleteScheduleParams struct {
	ScheduleID string `json:"schedule_id" jsonschema:"schedule identifier, sched_ followed by 8 hex characters"`
}

func (s *Server) handleDeleteSchedule(ctx context.Context, req *mcp.CallToolRequest, params DeleteScheduleParams) (_ *mcp.CallToolResult, _ any, err error) {
	defer func() { recordTool("delete_schedule", err) }()

	if err := validation.ValidateScheduleID(params.ScheduleID); err != nil {
		return nil, nil, err
	}
	sc, err := s.schedules.Get(params.ScheduleID)
	if err != nil {
		return nil, nil, err
	}
	if err := s.schedules.Delete(sc.ID); err != nil {
		return nil, nil, fmt.Errorf("deleting schedule: %w", err)
	}

	s.auditSchedule(audit.OpScheduleDelete, sc)
	s.log.Info("schedule deleted", "id", sc.ID, "name", sc.Name)

	return textResult(fmt.Sprintf("Schedule %s (%q) deleted", sc.ID, sc.Name)), map[string]any{
		"id":      sc.ID,
		"deleted": true,
	}, nil
}

func (s *Server) auditSchedule(op audit.Operation, sc *schedule.ScheduledCommand) {
	s.trail.Append(audit.Event{
		Operation:  op,
		Origin:     journal.OriginMCP,
		ScheduleID: sc.ID,
		Command:    sc.Command,
		Dir:        sc.Dir,
		Success:    true,
	})
}
