package runner

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
)

// StreamConfig tells a Spawner which child streams must be piped back to the
// engine. Unpiped output streams are inherited from the parent.
type StreamConfig struct {
	PipeStdin  bool
	PipeStdout bool
	PipeStderr bool
	// StdinFile is handed to the child directly when PipeStdin is false.
	// nil leaves stdin unwired; the child reads end-of-file.
	StdinFile *os.File
}

// Handle is a spawned child as the engine sees it: the parent-side pipe
// endpoints plus process control. The default implementation runs local
// processes; internal/sandbox provides a container-backed one.
type Handle interface {
	PID() int
	Stdin() io.WriteCloser // nil unless stdin was piped
	Stdout() io.ReadCloser // nil unless stdout was piped
	Stderr() io.ReadCloser // nil unless stderr was piped
	Signal(sig os.Signal) error
	Kill() error
	// Wait blocks until the child exits and returns its exit code. A child
	// terminated by a signal reports the negated signal number.
	Wait() (int, error)
	// Close releases the parent-side pipe endpoints.
	Close() error
}

// Spawner creates process handles.
type Spawner interface {
	// Spawn starts cmd with the requested stream wiring. Creation failures
	// are returned exactly as the underlying facility reported them.
	Spawn(ctx context.Context, cmd Cmd, streams StreamConfig) (Handle, error)
}

// NewLocalSpawner returns the default os/exec-backed Spawner.
func NewLocalSpawner() Spawner { return localSpawner{} }

type localSpawner struct{}

var _ Spawner = localSpawner{}

func (localSpawner) Spawn(_ context.Context, cmd Cmd, streams StreamConfig) (Handle, error) {
	argv := cmd.CommandLine()
	if len(argv) == 0 {
		return nil, errors.New("runner: empty command")
	}
	c := exec.Command(argv[0], argv[1:]...)
	c.Dir = cmd.Dir
	c.Env = cmd.Env

	h := &localHandle{cmd: c}
	var childEnds []*os.File
	fail := func(err error) (Handle, error) {
		for _, f := range childEnds {
			f.Close()
		}
		h.closePipes()
		return nil, err
	}

	// Explicit os.Pipe pairs instead of the exec.Cmd pipe helpers: Wait must
	// be callable while the transports are still draining, which the helper
	// pipes do not allow.
	if streams.PipeStdin {
		r, w, err := os.Pipe()
		if err != nil {
			return fail(err)
		}
		c.Stdin = r
		childEnds = append(childEnds, r)
		h.stdin = w
	} else if streams.StdinFile != nil {
		c.Stdin = streams.StdinFile
	}
	if streams.PipeStdout {
		r, w, err := os.Pipe()
		if err != nil {
			return fail(err)
		}
		c.Stdout = w
		childEnds = append(childEnds, w)
		h.stdout = r
	} else {
		c.Stdout = os.Stdout
	}
	if streams.PipeStderr {
		r, w, err := os.Pipe()
		if err != nil {
			return fail(err)
		}
		c.Stderr = w
		childEnds = append(childEnds, w)
		h.stderr = r
	} else {
		c.Stderr = os.Stderr
	}

	if err := c.Start(); err != nil {
		return fail(err)
	}
	// Drop the child-side ends; the readers would otherwise never see EOF.
	for _, f := range childEnds {
		f.Close()
	}
	return h, nil
}

type localHandle struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	waitOnce sync.Once
	code     int
	waitErr  error
}

var _ Handle = (*localHandle)(nil)

func (h *localHandle) PID() int {
	if h.cmd.Process != nil {
		return h.cmd.Process.Pid
	}
	return 0
}

func (h *localHandle) Stdin() io.WriteCloser { return h.stdin }
func (h *localHandle) Stdout() io.ReadCloser { return h.stdout }
func (h *localHandle) Stderr() io.ReadCloser { return h.stderr }

func (h *localHandle) Signal(sig os.Signal) error {
	if h.cmd.Process == nil {
		return errors.New("runner: process not started")
	}
	return h.cmd.Process.Signal(sig)
}

func (h *localHandle) Kill() error {
	if h.cmd.Process == nil {
		return errors.New("runner: process not started")
	}
	return h.cmd.Process.Kill()
}

func (h *localHandle) Wait() (int, error) {
	h.waitOnce.Do(func() {
		err := h.cmd.Wait()
		h.code, h.waitErr = exitStatus(h.cmd.ProcessState, err)
	})
	return h.code, h.waitErr
}

func (h *localHandle) Close() error { return h.closePipes() }

func (h *localHandle) closePipes() error {
	var first error
	for _, c := range []io.Closer{h.stdin, h.stdout, h.stderr} {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// exitStatus maps a wait outcome to the engine's exit code convention: the
// plain exit code, or the negated signal number for signal deaths on POSIX.
func exitStatus(state *os.ProcessState, waitErr error) (int, error) {
	if state == nil {
		if waitErr == nil {
			waitErr = ErrNoExitCode
		}
		return -1, waitErr
	}
	if ws, ok := state.Sys().(interface {
		Signaled() bool
		Signal() syscall.Signal
	}); ok && ws.Signaled() {
		return -int(ws.Signal()), nil
	}
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		// Wait infrastructure failure, distinct from a non-zero child.
		return state.ExitCode(), waitErr
	}
	return state.ExitCode(), nil
}
