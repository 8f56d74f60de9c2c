package sandbox

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"syscall"

	"github.com/docker/docker/api/types"
	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"

	"github.com/HyphaGroup/warden/logging"
	"github.com/HyphaGroup/warden/runner"
)

// containerHandle is one running container seen through the engine's process
// handle contract. Control calls use their own contexts because the engine
// issues Kill and Close after the run context is already canceled.
type containerHandle struct {
	client *client.Client
	log    logging.Logger
	id     string
	pid    int

	attach types.HijackedResponse
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	waitCh    <-chan dockercontainer.WaitResponse
	waitErrCh <-chan error

	waitOnce   sync.Once
	code       int
	waitErr    error
	removeOnce sync.Once
}

var _ runner.Handle = (*containerHandle)(nil)

func (h *containerHandle) PID() int              { return h.pid }
func (h *containerHandle) Stdin() io.WriteCloser { return h.stdin }
func (h *containerHandle) Stdout() io.ReadCloser { return h.stdout }
func (h *containerHandle) Stderr() io.ReadCloser { return h.stderr }

func (h *containerHandle) Signal(sig os.Signal) error {
	return h.client.ContainerKill(context.Background(), h.id, signalName(sig))
}

func (h *containerHandle) Kill() error {
	return h.client.ContainerKill(context.Background(), h.id, "KILL")
}

// Wait blocks until the container exits, then removes it. The exit code
// follows the engine convention: negated signal number for signal deaths.
func (h *containerHandle) Wait() (int, error) {
	h.waitOnce.Do(func() {
		select {
		case res := <-h.waitCh:
			if res.Error != nil {
				h.code, h.waitErr = -1, fmt.Errorf("waiting for container: %s", res.Error.Message)
			} else {
				h.code = foldExitCode(res.StatusCode)
			}
		case err := <-h.waitErrCh:
			h.code, h.waitErr = -1, err
		}
		h.remove()
	})
	return h.code, h.waitErr
}

// Close tears down the attach connection and the demux pipes. Removal also
// runs here for runs abandoned before Wait; it is idempotent.
func (h *containerHandle) Close() error {
	if h.stdin != nil {
		_ = h.stdin.Close()
	}
	h.attach.Close()
	if h.stdout != nil {
		_ = h.stdout.Close()
	}
	if h.stderr != nil {
		_ = h.stderr.Close()
	}
	h.remove()
	return nil
}

func (h *containerHandle) remove() {
	h.removeOnce.Do(func() {
		removeContainer(h.client, h.log, h.id)
	})
}

// attachStdin adapts the hijacked attach connection to the engine's stdin
// contract. Close half-closes the connection so output keeps flowing after
// end-of-input.
type attachStdin struct {
	conn types.HijackedResponse
}

func (a *attachStdin) Write(p []byte) (int, error) { return a.conn.Conn.Write(p) }
func (a *attachStdin) Close() error                { return a.conn.CloseWrite() }

// signalName renders sig the way the daemon's kill endpoint expects. Numeric
// strings work for every POSIX signal.
func signalName(sig os.Signal) string {
	if s, ok := sig.(syscall.Signal); ok {
		return strconv.Itoa(int(s))
	}
	switch sig {
	case os.Interrupt:
		return "INT"
	case os.Kill:
		return "KILL"
	}
	return "TERM"
}

// foldExitCode maps the daemon's wait status to the engine convention. Docker
// folds a signal death into a 128+n exit code; hand it back as -n the way the
// local backend reports it.
func foldExitCode(status int64) int {
	code := int(status)
	if code > 128 && code <= 128+64 {
		return -(code - 128)
	}
	return code
}
