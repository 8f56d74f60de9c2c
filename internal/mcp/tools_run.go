package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/HyphaGroup/warden/internal/execute"
	"github.com/HyphaGroup/warden/internal/journal"
	"github.com/HyphaGroup/warden/internal/validation"
)

// RunCommandParams is the run_command input. The schema for it is spelled
// out by hand because the capture enum and the argv shape do not fall out
// of struct reflection.
type RunCommandParams struct {
	Command        []string `json:"command,omitempty"`
	Shell          string   `json:"shell,omitempty"`
	Dir            string   `json:"dir,omitempty"`
	Stdin          string   `json:"stdin,omitempty"`
	Capture        string   `json:"capture,omitempty"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty"`
}

// RunCommandResult is the structured half of a run_command result.
type RunCommandResult struct {
	RunID    string `json:"run_id"`
	Status   string `json:"status"`
	ExitCode *int   `json:"exit_code,omitempty"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	Error    string `json:"error,omitempty"`
}

func runCommandSchema() *jsonschema.Schema {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"minItems":    1,
				"description": "Argv array, first element is the executable. Mutually exclusive with shell.",
			},
			"shell": map[string]any{
				"type":        "string",
				"description": "Command line run through the system shell. Mutually exclusive with command.",
			},
			"dir": map[string]any{
				"type":        "string",
				"description": "Absolute working directory for the command. Daemon working directory if omitted.",
			},
			"stdin": map[string]any{
				"type":        "string",
				"description": "Text fed to the command's standard input.",
			},
			"capture": map[string]any{
				"type":        "string",
				"enum":        []any{"both", "stdout", "stderr", "none"},
				"description": "Which output streams to capture. Defaults to both.",
			},
			"timeout_seconds": map[string]any{
				"type":        "integer",
				"minimum":     0,
				"description": "Kill the command after this many seconds. Defaults to the server's configured timeout.",
			},
		},
	})
}

func (s *Server) handleRunCommand(ctx context.Context, req *mcp.CallToolRequest, params RunCommandParams) (_ *mcp.CallToolResult, _ any, err error) {
	defer func() { recordTool("run_command", err) }()

	resp, err := s.exec.Run(ctx, execute.Request{
		Command:        params.Command,
		Shell:          params.Shell,
		Dir:            params.Dir,
		Stdin:          params.Stdin,
		Capture:        params.Capture,
		TimeoutSeconds: params.TimeoutSeconds,
		Origin:         journal.OriginMCP,
	})
	if err != nil {
		return nil, nil, err
	}

	run := resp.Run
	result := RunCommandResult{
		RunID:    run.ID,
		Status:   run.Status(),
		ExitCode: run.ExitCode,
		Stdout:   resp.Stdout,
		Stderr:   resp.Stderr,
		Error:    run.Error,
	}
	return textResult(runSummary(resp)), result, nil
}

// runSummary renders one settled run as the text half of a result.
func runSummary(resp *execute.Response) string {
	run := resp.Run
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s: %s", run.ID, run.Status())
	if run.ExitCode != nil {
		fmt.Fprintf(&b, " (exit %d)", *run.ExitCode)
	}
	if run.FinishedAt != nil {
		fmt.Fprintf(&b, " in %s", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}
	if run.Error != "" {
		fmt.Fprintf(&b, "\nerror: %s", run.Error)
	}
	if resp.Stdout != "" {
		fmt.Fprintf(&b, "\n--- stdout ---\n%s", resp.Stdout)
	}
	if resp.Stderr != "" {
		fmt.Fprintf(&b, "\n--- stderr ---\n%s", resp.Stderr)
	}
	return b.String()
}

// ListRunsParams is the list_runs input.
type ListRunsParams struct {
	Origin     string `json:"origin,omitempty" jsonschema:"filter by origin: http, mcp, schedule or cli"`
	ScheduleID string `json:"schedule_id,omitempty" jsonschema:"only runs started by this schedule"`
	Limit      int    `json:"limit,omitempty" jsonschema:"maximum entries to return, defaults to 50"`
}

// ListRunsResult is the structured half of a list_runs result.
type ListRunsResult struct {
	Runs []*journal.Run `json:"runs"`
}

func (s *Server) handleListRuns(ctx context.Context, req *mcp.CallToolRequest, params ListRunsParams) (_ *mcp.CallToolResult, _ any, err error) {
	defer func() { recordTool("list_runs", err) }()

	runs, err := s.runs.List(journal.ListFilter{
		Origin:     params.Origin,
		ScheduleID: params.ScheduleID,
		Limit:      params.Limit,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("listing runs: %w", err)
	}
	if runs == nil {
		runs = []*journal.Run{}
	}

	if len(runs) == 0 {
		return textResult("No runs recorded."), ListRunsResult{Runs: runs}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d run(s), newest first:\n", len(runs))
	for _, r := range runs {
		fmt.Fprintf(&b, "  %s  %-8s %-9s %s\n", r.ID, r.Status(), r.Origin, strings.Join(r.Command, " "))
	}
	return textResult(b.String()), ListRunsResult{Runs: runs}, nil
}

// GetRunParams is the get_run input.
type GetRunParams struct {
	RunID string `json:"run_id" jsonschema:"run identifier, run_ followed by 8 hex characters"`
}

func (s *Server) handleGetRun(ctx context.Context, req *mcp.CallToolRequest, params GetRunParams) (_ *mcp.CallToolResult, _ any, err error) {
	defer func() { recordTool("get_run", err) }()

	if err := validation.ValidateRunID(params.RunID); err != nil {
		return nil, nil, err
	}
	run, err := s.runs.Get(params.RunID)
	if err != nil {
		return nil, nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Run %s (%s)\n", run.ID, run.Status())
	fmt.Fprintf(&b, "  command: %s\n", strings.Join(run.Command, " "))
	fmt.Fprintf(&b, "  origin:  %s\n", run.Origin)
	if run.ScheduleID != "" {
		fmt.Fprintf(&b, "  schedule: %s\n", run.ScheduleID)
	}
	if run.Dir != "" {
		fmt.Fprintf(&b, "  dir:     %s\n", run.Dir)
	}
	fmt.Fprintf(&b, "  started: %s\n", run.StartedAt.Format(time.RFC3339))
	if run.FinishedAt != nil {
		fmt.Fprintf(&b, "  duration: %s\n", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}
	if run.ExitCode != nil {
		fmt.Fprintf(&b, "  exit:    %d\n", *run.ExitCode)
	}
	if run.Error != "" {
		fmt.Fprintf(&b, "  error:   %s\n", run.Error)
	}
	fmt.Fprintf(&b, "  output:  %d bytes stdout, %d bytes stderr", run.StdoutBytes, run.StderrBytes)
	return textResult(b.String()), run, nil
}
