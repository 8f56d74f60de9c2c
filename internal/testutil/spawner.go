package testutil

import (
	"bytes"
	"context"
	"io"
	"os"
	"sync"
	"syscall"
	"testing"

	"github.com/HyphaGroup/warden/runner"
)

// FakeSpawner is a runner.Spawner that never starts a real process. Each
// handle plays back the scripted output and exit code, and every call is
// recorded for assertions.
type FakeSpawner struct {
	// Scripted behavior, read at each Spawn.
	SpawnError error
	ExitCode   int
	WaitError  error
	Stdout     string
	Stderr     string
	// Hang keeps the handle running until a signal arrives, for timeout
	// and kill tests.
	Hang bool

	mu      sync.Mutex
	calls   []SpawnCall
	stdin   bytes.Buffer
	signals []os.Signal
}

// SpawnCall records one Spawn invocation.
type SpawnCall struct {
	Cmd     runner.Cmd
	Streams runner.StreamConfig
}

var _ runner.Spawner = (*FakeSpawner)(nil)

// Spawn implements runner.Spawner.
func (f *FakeSpawner) Spawn(_ context.Context, cmd runner.Cmd, streams runner.StreamConfig) (runner.Handle, error) {
	f.mu.Lock()
	f.calls = append(f.calls, SpawnCall{Cmd: cmd, Streams: streams})
	pid := 4200 + len(f.calls)
	f.mu.Unlock()

	if f.SpawnError != nil {
		return nil, f.SpawnError
	}

	h := &fakeHandle{
		owner:   f,
		pid:     pid,
		exit:    f.ExitCode,
		waitErr: f.WaitError,
		killed:  make(chan struct{}),
		flushed: make(chan struct{}),
	}

	if streams.PipeStdin {
		r, w := io.Pipe()
		h.stdin = w
		h.stdinDone = make(chan struct{})
		go func() {
			data, _ := io.ReadAll(r)
			f.mu.Lock()
			f.stdin.Write(data)
			f.mu.Unlock()
			close(h.stdinDone)
		}()
	}
	var stdoutW, stderrW *io.PipeWriter
	if streams.PipeStdout {
		r, w := io.Pipe()
		h.stdout, stdoutW = r, w
	}
	if streams.PipeStderr {
		r, w := io.Pipe()
		h.stderr, stderrW = r, w
	}

	// The engine drains both pipes concurrently, so sequential writes here
	// cannot deadlock.
	go func() {
		if f.Hang {
			<-h.killed
		} else {
			if stdoutW != nil {
				_, _ = io.WriteString(stdoutW, f.Stdout)
			}
			if stderrW != nil {
				_, _ = io.WriteString(stderrW, f.Stderr)
			}
		}
		if stdoutW != nil {
			_ = stdoutW.Close()
		}
		if stderrW != nil {
			_ = stderrW.Close()
		}
		close(h.flushed)
	}()

	return h, nil
}

// Calls returns a copy of the recorded Spawn invocations.
func (f *FakeSpawner) Calls() []SpawnCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]SpawnCall, len(f.calls))
	copy(out, f.calls)
	return out
}

// StdinSeen returns everything the engine wrote to spawned handles' stdin.
func (f *FakeSpawner) StdinSeen() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stdin.String()
}

// Signals returns the signals delivered to spawned handles, in order.
func (f *FakeSpawner) Signals() []os.Signal {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]os.Signal, len(f.signals))
	copy(out, f.signals)
	return out
}

// AssertSpawned asserts that some call resolved to the given command name.
func (f *FakeSpawner) AssertSpawned(t *testing.T, name string) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if argv := c.Cmd.CommandLine(); len(argv) > 0 && argv[0] == name {
			return
		}
	}
	t.Errorf("no spawn resolved to command %q, calls: %+v", name, f.calls)
}

// fakeHandle is the scripted child. The first signal is fatal: Wait reports
// it as a negated signal number, matching the engine's convention.
type fakeHandle struct {
	owner   *FakeSpawner
	pid     int
	exit    int
	waitErr error

	stdin     io.WriteCloser
	stdinDone chan struct{}
	stdout    io.ReadCloser
	stderr    io.ReadCloser

	killOnce sync.Once
	killed   chan struct{}
	flushed  chan struct{}

	mu  sync.Mutex
	sig os.Signal
}

var _ runner.Handle = (*fakeHandle)(nil)

func (h *fakeHandle) PID() int              { return h.pid }
func (h *fakeHandle) Stdin() io.WriteCloser { return h.stdin }
func (h *fakeHandle) Stdout() io.ReadCloser { return h.stdout }
func (h *fakeHandle) Stderr() io.ReadCloser { return h.stderr }

func (h *fakeHandle) Signal(sig os.Signal) error {
	h.mu.Lock()
	if h.sig == nil {
		h.sig = sig
	}
	h.mu.Unlock()

	h.owner.mu.Lock()
	h.owner.signals = append(h.owner.signals, sig)
	h.owner.mu.Unlock()

	h.killOnce.Do(func() { close(h.killed) })
	return nil
}

func (h *fakeHandle) Kill() error { return h.Signal(syscall.SIGKILL) }

func (h *fakeHandle) Wait() (int, error) {
	<-h.flushed
	h.mu.Lock()
	sig := h.sig
	h.mu.Unlock()
	if sig != nil {
		if s, ok := sig.(syscall.Signal); ok {
			return -int(s), nil
		}
		return -int(syscall.SIGKILL), nil
	}
	return h.exit, h.waitErr
}

// Close releases the pipe ends. It waits for the stdin recorder, so by the
// time a run returns StdinSeen is complete.
func (h *fakeHandle) Close() error {
	if h.stdin != nil {
		_ = h.stdin.Close()
		<-h.stdinDone
	}
	if h.stdout != nil {
		_ = h.stdout.Close()
	}
	if h.stderr != nil {
		_ = h.stderr.Close()
	}
	return nil
}
