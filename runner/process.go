package runner

import (
	"io"
	"os"
	"sync"
)

// Process is the live handle a Protocol receives in ConnectionMade. It can
// act on the child immediately (signal it, write initial stdin) and, once the
// engine has reaped the child, exposes the observed exit code.
type Process struct {
	handle Handle

	mu     sync.Mutex
	code   int
	exited bool
}

func newProcess(h Handle) *Process { return &Process{handle: h} }

// PID returns the operating-system process id, or the backend's nearest
// equivalent.
func (p *Process) PID() int { return p.handle.PID() }

// Stdin returns the engine-side writer for the child's stdin, or nil when
// stdin is not piped. A protocol writing here while an engine stdin writer is
// running would interleave with it; interactive protocols should feed a
// StdinQueue source instead.
func (p *Process) Stdin() io.WriteCloser { return p.handle.Stdin() }

// Signal delivers sig to the child.
func (p *Process) Signal(sig os.Signal) error { return p.handle.Signal(sig) }

// Kill forcibly terminates the child.
func (p *Process) Kill() error { return p.handle.Kill() }

// ExitCode returns the exit code once the child has been reaped; ok is false
// before that.
func (p *Process) ExitCode() (code int, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.code, p.exited
}

func (p *Process) setExit(code int) {
	p.mu.Lock()
	p.code = code
	p.exited = true
	p.mu.Unlock()
}
