// Package mcp exposes the daemon's run pipeline as Model Context Protocol
// tools served over stdio: execute commands, inspect run history and manage
// schedules through one agent-facing connection. Every tool goes through
// the same execute pipeline as the HTTP surface, so journaling, metrics and
// auditing are identical no matter which door a command came in.
package mcp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/HyphaGroup/warden/internal/audit"
	"github.com/HyphaGroup/warden/internal/config"
	"github.com/HyphaGroup/warden/internal/execute"
	"github.com/HyphaGroup/warden/internal/journal"
	"github.com/HyphaGroup/warden/internal/metrics"
	"github.com/HyphaGroup/warden/internal/schedule"
	"github.com/HyphaGroup/warden/logging"
)

// Server exposes warden operations as MCP tools.
type Server struct {
	cfg       *config.Config
	exec      *execute.Service
	runs      *journal.Store
	schedules *schedule.Store
	trail     *audit.Trail
	log       logging.Logger
	version   string
	started   time.Time
}

// Deps carries the collaborators the tool handlers use.
type Deps struct {
	Config    *config.Config
	Exec      *execute.Service
	Runs      *journal.Store
	Schedules *schedule.Store
	Trail     *audit.Trail
	Log       logging.Logger
	Version   string
}

// NewServer builds the tool server. A nil trail disables auditing.
func NewServer(d Deps) *Server {
	if d.Trail == nil {
		d.Trail = audit.NewDisabled()
	}
	if d.Log == nil {
		d.Log = logging.NewNop()
	}
	if d.Version == "" {
		d.Version = "dev"
	}
	return &Server{
		cfg:       d.Config,
		exec:      d.Exec,
		runs:      d.Runs,
		schedules: d.Schedules,
		trail:     d.Trail,
		log:       d.Log,
		version:   d.Version,
		started:   time.Now(),
	}
}

// Run serves tools over stdio until the context ends or the client hangs
// up. The transport owns stdin and stdout, which is why daemon logging
// must already be pointed at stderr or a file.
func (s *Server) Run(ctx context.Context) error {
	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "warden",
		Version: s.version,
	}, &mcp.ServerOptions{
		HasTools: true,
	})
	s.register(srv)

	s.log.Info("mcp server listening on stdio", "version", s.version)
	return srv.Run(ctx, &mcp.StdioTransport{})
}

// register wires every tool. Registration order is what tools/list shows.
func (s *Server) register(srv *mcp.Server) {
	mcp.AddTool(srv, &mcp.Tool{
		Name: "run_command",
		Description: `Execute a command through the warden engine and wait for it to finish.

Provide exactly one of:
  command: argv array, first element is the executable (no shell involved)
  shell:   a command line run through the system shell

Output capture defaults to both streams; a non-zero exit is reported in the
result, not as a tool error. Every run is journaled and the returned run_id
can be fed to get_run later.`,
		InputSchema: runCommandSchema(),
	}, s.handleRunCommand)

	mcp.AddTool(srv, &mcp.Tool{
		Name: "list_runs",
		Description: `List journaled runs, newest first.

Filter by origin (http, mcp, schedule, cli) or schedule_id; limit defaults
to 50. Returns summaries; use get_run for full details of one entry.`,
	}, s.handleListRuns)

	mcp.AddTool(srv, &mcp.Tool{
		Name: "get_run",
		Description: `Get one journaled run by its run_ id.

Returns the full record: command, origin, exit code, output byte counts and
timing. Runs still executing have no exit code yet.`,
	}, s.handleGetRun)

	mcp.AddTool(srv, &mcp.Tool{
		Name: "create_schedule",
		Description: `Create a recurring command on a 5-field cron expression.

Requires name, command (argv array) and cron_expr. Schedules start enabled
unless enabled=false is passed. Each activation runs through the engine and
lands in the run journal with origin "schedule".`,
	}, s.handleCreateSchedule)

	mcp.AddTool(srv, &mcp.Tool{
		Name: "list_schedules",
		Description: `List scheduled commands with their cron cadence, last outcome and next
activation. Optionally filter by enabled status.`,
	}, s.handleListSchedules)

	mcp.AddTool(srv, &mcp.Tool{
		Name: "delete_schedule",
		Description: `Delete a schedule by its sched_ id. Journal entries from past
activations are kept.`,
	}, s.handleDeleteSchedule)

	mcp.AddTool(srv, &mcp.Tool{
		Name: "server_status",
		Description: `Report daemon status: version, uptime, execution backend, auth mode and
schedule count. Takes no parameters.`,
	}, s.handleServerStatus)
}

// recordTool reports one tool invocation outcome.
func recordTool(tool string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RecordToolCall(tool, status)
}

// textResult creates a CallToolResult with text content.
func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

// mustSchema converts a schema literal into what the SDK wants: a
// jsonschema.Schema, not a raw map. The round trip through JSON keeps the
// literal readable. Panics only on a malformed literal, which is a
// programming error.
func mustSchema(raw map[string]any) *jsonschema.Schema {
	data, err := json.Marshal(raw)
	if err != nil {
		panic(err)
	}
	schema := &jsonschema.Schema{}
	if err := json.Unmarshal(data, schema); err != nil {
		panic(err)
	}
	return schema
}
