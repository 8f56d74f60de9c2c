// Package execute is the run pipeline shared by every surface of the
// daemon: validate the request, journal it, drive the engine, then settle
// journal, metrics and audit with the outcome. HTTP, MCP and the scheduler
// all call through here so a command behaves identically no matter who
// asked for it.
package execute

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/HyphaGroup/warden/internal/audit"
	"github.com/HyphaGroup/warden/internal/config"
	"github.com/HyphaGroup/warden/internal/journal"
	"github.com/HyphaGroup/warden/internal/metrics"
	"github.com/HyphaGroup/warden/internal/validation"
	"github.com/HyphaGroup/warden/logging"
	"github.com/HyphaGroup/warden/runner"
)

// ErrInvalidRequest wraps every request validation failure so surfaces can
// map it to a client error instead of a server one.
var ErrInvalidRequest = errors.New("invalid run request")

// Request describes one command execution. Exactly one of Command and Shell
// must be set. The unexported-by-tag fields are attribution the serving
// surface fills in; they never come from a caller payload.
type Request struct {
	Command        []string `json:"command,omitempty"`
	Shell          string   `json:"shell,omitempty"`
	Dir            string   `json:"dir,omitempty"`
	Stdin          string   `json:"stdin,omitempty"`
	Capture        string   `json:"capture,omitempty"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty"`

	Origin     string `json:"-"`
	ScheduleID string `json:"-"`
	TokenID    string `json:"-"`
}

// Response is a settled run: the journal row plus whatever output the
// protocol captured.
type Response struct {
	Run    *journal.Run `json:"run"`
	Stdout string       `json:"stdout,omitempty"`
	Stderr string       `json:"stderr,omitempty"`
}

// Service executes requests against one engine backend.
type Service struct {
	cfg     *config.Config
	journal *journal.Store
	trail   *audit.Trail
	spawner runner.Spawner
	log     logging.Logger
}

// NewService wires the pipeline. A nil spawner selects the local backend; a
// nil trail disables auditing.
func NewService(cfg *config.Config, store *journal.Store, trail *audit.Trail, spawner runner.Spawner, log logging.Logger) *Service {
	if spawner == nil {
		spawner = runner.NewLocalSpawner()
	}
	if trail == nil {
		trail = audit.NewDisabled()
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &Service{
		cfg:     cfg,
		journal: store,
		trail:   trail,
		spawner: spawner,
		log:     log,
	}
}

// Run executes the request and blocks until it settles. A command that ran
// and failed is not an error here: the failure lives in the response's
// journal row. The returned error covers invalid requests and pipeline
// faults only.
func (s *Service) Run(ctx context.Context, req Request) (*Response, error) {
	cmd, factory, timeout, err := s.prepare(&req)
	if err != nil {
		return nil, err
	}

	run, err := s.record(cmd, req)
	if err != nil {
		return nil, err
	}
	start := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	res, runErr := runner.Run(runCtx, cmd, factory, s.runOptions(req)...)

	finished, err := s.settle(run, req, settleInput{
		res:      res,
		runErr:   runErr,
		timeout:  timeout,
		duration: time.Since(start),
		stdout:   int64(len(res.Stdout)),
		stderr:   int64(len(res.Stderr)),
	})
	if err != nil {
		return nil, err
	}
	return &Response{Run: finished, Stdout: res.Stdout, Stderr: res.Stderr}, nil
}

// prepare validates the request and resolves the command, protocol and
// timeout to run with.
func (s *Service) prepare(req *Request) (runner.Cmd, runner.ProtocolFactory, time.Duration, error) {
	fail := func(err error) (runner.Cmd, runner.ProtocolFactory, time.Duration, error) {
		return runner.Cmd{}, nil, 0, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	switch {
	case len(req.Command) == 0 && req.Shell == "":
		return fail(errors.New("one of command or shell is required"))
	case len(req.Command) > 0 && req.Shell != "":
		return fail(errors.New("command and shell are mutually exclusive"))
	case len(req.Command) > 0:
		if err := validation.ValidateCommand(req.Command); err != nil {
			return fail(err)
		}
	default:
		if strings.TrimSpace(req.Shell) == "" {
			return fail(errors.New("shell line cannot be blank"))
		}
		if strings.ContainsRune(req.Shell, 0) {
			return fail(errors.New("shell line contains a NUL byte"))
		}
	}
	if err := validation.ValidateDir(req.Dir); err != nil {
		return fail(err)
	}
	if err := validation.ValidateCaptureMode(req.Capture); err != nil {
		return fail(err)
	}
	maxSeconds := int(s.cfg.MaxTimeout() / time.Second)
	if err := validation.ValidateTimeout(req.TimeoutSeconds, maxSeconds); err != nil {
		return fail(err)
	}

	if req.Origin == "" {
		req.Origin = journal.OriginHTTP
	}
	timeout := s.cfg.DefaultTimeout()
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}

	cmd := runner.Cmd{Argv: req.Command, Shell: req.Shell, Dir: req.Dir}
	return cmd, captureFactory(req.Capture), timeout, nil
}

func (s *Service) runOptions(req Request) []runner.Option {
	opts := []runner.Option{
		runner.WithSpawner(s.spawner),
		runner.WithLogger(s.log),
	}
	if req.Stdin != "" {
		opts = append(opts, runner.WithStdin(runner.StdinText(req.Stdin)))
	}
	return opts
}

// record journals the run as started and counts it in the metrics.
func (s *Service) record(cmd runner.Cmd, req Request) (*journal.Run, error) {
	run := &journal.Run{
		Origin:     req.Origin,
		ScheduleID: req.ScheduleID,
		Command:    cmd.CommandLine(),
		Dir:        cmd.Dir,
	}
	if err := s.journal.Record(run); err != nil {
		return nil, fmt.Errorf("recording run: %w", err)
	}
	metrics.RecordRunStart()
	s.log.Info("run started",
		"run", run.ID, "origin", req.Origin, "command", run.Command[0])
	return run, nil
}

type settleInput struct {
	res      runner.Result
	runErr   error
	timeout  time.Duration
	duration time.Duration
	stdout   int64
	stderr   int64
}

// settle maps the engine outcome onto the journal row, then lands metrics,
// audit and the final log line. It returns the finished row as stored.
func (s *Service) settle(run *journal.Run, req Request, in settleInput) (*journal.Run, error) {
	out := journal.Outcome{
		StdoutBytes: in.stdout,
		StderrBytes: in.stderr,
	}
	var ce *runner.CommandError
	switch {
	case in.runErr == nil:
		out.ExitCode = in.res.Code
	case errors.As(in.runErr, &ce):
		// The command ran and failed; a non-zero code speaks for itself,
		// only an unobservable exit needs prose.
		out.ExitCode = ce.Code
		if ce.Code == -1 {
			out.Error = ce.Message
		}
	case errors.Is(in.runErr, context.DeadlineExceeded):
		out.ExitCode = -1
		out.Error = fmt.Sprintf("timed out after %s", in.timeout)
	case errors.Is(in.runErr, context.Canceled):
		out.ExitCode = -1
		out.Error = "canceled"
	default:
		out.ExitCode = -1
		out.Error = in.runErr.Error()
	}

	if err := s.journal.Finish(run.ID, out); err != nil {
		return nil, fmt.Errorf("finishing run: %w", err)
	}
	finished, err := s.journal.Get(run.ID)
	if err != nil {
		return nil, fmt.Errorf("reloading run: %w", err)
	}

	metrics.RecordRunEnd(req.Origin, finished.Status(), in.duration, in.stdout, in.stderr)
	s.trail.Append(audit.Event{
		Operation:  audit.OpRun,
		Origin:     req.Origin,
		TokenID:    req.TokenID,
		RunID:      finished.ID,
		ScheduleID: req.ScheduleID,
		Command:    finished.Command,
		Dir:        finished.Dir,
		ExitCode:   finished.ExitCode,
		DurationMS: in.duration.Milliseconds(),
		Success:    finished.Status() == "ok",
		Error:      finished.Error,
	})
	s.log.Info("run finished",
		"run", finished.ID, "status", finished.Status(),
		"exit_code", out.ExitCode, "duration", in.duration.Round(time.Millisecond))
	return finished, nil
}

// captureFactory maps an API capture mode to an engine protocol. "none"
// still drains the pipes so the child cannot stall on a full buffer; a
// daemon must never hand its own stdio to a client's command.
func captureFactory(mode string) runner.ProtocolFactory {
	switch mode {
	case "stdout":
		return runner.CaptureStdout
	case "stderr":
		return runner.CaptureStderr
	case "none":
		return runner.KillOutput
	default:
		return runner.CaptureBoth
	}
}
