package runner

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/HyphaGroup/warden/logging"
)

// Runner binds one command to a protocol factory and a stdin source. It
// offers a blocking Run and a generator-mode Start over the same machinery.
// Exactly one run may be in flight per Runner at a time; a concurrent or
// nested start fails fast with ErrInFlight.
type Runner struct {
	cmd     Cmd
	factory ProtocolFactory
	stdin   StdinSource
	timeout time.Duration
	spawner Spawner
	logger  logging.Logger

	active atomic.Bool
}

// Option configures a Runner.
type Option func(*Runner)

// WithStdin selects the child's stdin source.
func WithStdin(src StdinSource) Option { return func(r *Runner) { r.stdin = src } }

// WithTimeout sets the advisory idle timeout delivered through the
// protocol's Timeout callback. Zero disables the notifications.
func WithTimeout(d time.Duration) Option { return func(r *Runner) { r.timeout = d } }

// WithSpawner replaces the default local process backend.
func WithSpawner(s Spawner) Option { return func(r *Runner) { r.spawner = s } }

// WithLogger injects the logger used for engine diagnostics.
func WithLogger(l logging.Logger) Option { return func(r *Runner) { r.logger = l } }

// New creates a Runner. The factory runs once per run, so every run starts
// from a fresh protocol instance.
func New(cmd Cmd, factory ProtocolFactory, opts ...Option) *Runner {
	r := &Runner{
		cmd:     cmd,
		factory: factory,
		spawner: NewLocalSpawner(),
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the command once and blocks until completion. A non-zero or
// unobservable exit code is reported as a *CommandError; spawn failures pass
// through unwrapped.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	if !r.active.CompareAndSwap(false, true) {
		return Result{}, ErrInFlight
	}
	defer r.active.Store(false)
	res, err := r.newDriver().run(ctx)
	return r.finish(res, err)
}

func (r *Runner) newDriver() *driver {
	return &driver{
		cmd:     r.cmd,
		proto:   r.factory(),
		stdin:   r.stdin,
		timeout: r.timeout,
		spawner: r.spawner,
		logger:  r.logger,
	}
}

// finish maps a finished run onto the blocking-mode error contract.
func (r *Runner) finish(res Result, err error) (Result, error) {
	switch {
	case err == nil:
		if res.Code != 0 {
			return res, newCommandError(r.cmd, res, "")
		}
		return res, nil
	case errors.Is(err, ErrNoExitCode):
		ce := newCommandError(r.cmd, res, err.Error())
		ce.Code = -1
		return res, ce
	default:
		return res, err
	}
}

// Run executes cmd once with a throwaway Runner.
func Run(ctx context.Context, cmd Cmd, factory ProtocolFactory, opts ...Option) (Result, error) {
	return New(cmd, factory, opts...).Run(ctx)
}
