package runner

import (
	"context"
	"errors"
	"io"
	"os"
	"sync/atomic"
	"testing"
)

// fakeHandle is a Spawner test double with scripted wait behavior.
type fakeHandle struct {
	pid     int
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	stderr  io.ReadCloser
	code    int
	waitErr error

	killed atomic.Bool
	closed atomic.Bool
}

var _ Handle = (*fakeHandle)(nil)

func (h *fakeHandle) PID() int                   { return h.pid }
func (h *fakeHandle) Stdin() io.WriteCloser      { return h.stdin }
func (h *fakeHandle) Stdout() io.ReadCloser      { return h.stdout }
func (h *fakeHandle) Stderr() io.ReadCloser      { return h.stderr }
func (h *fakeHandle) Signal(sig os.Signal) error { return nil }
func (h *fakeHandle) Kill() error {
	h.killed.Store(true)
	return nil
}
func (h *fakeHandle) Wait() (int, error) { return h.code, h.waitErr }
func (h *fakeHandle) Close() error {
	h.closed.Store(true)
	return nil
}

type fakeSpawner struct {
	handle   *fakeHandle
	spawnErr error
	streams  StreamConfig
}

var _ Spawner = (*fakeSpawner)(nil)

func (s *fakeSpawner) Spawn(_ context.Context, _ Cmd, streams StreamConfig) (Handle, error) {
	s.streams = streams
	if s.spawnErr != nil {
		return nil, s.spawnErr
	}
	return s.handle, nil
}

func TestRunner_SpawnErrorPassesThrough(t *testing.T) {
	sentinel := errors.New("spawn backend unavailable")
	sp := &fakeSpawner{spawnErr: sentinel}

	_, err := New(Command("whatever"), Discard, WithSpawner(sp)).Run(context.Background())
	if !errors.Is(err, sentinel) {
		t.Fatalf("Run() error = %v, want the spawn error unwrapped", err)
	}
	var ce *CommandError
	if errors.As(err, &ce) {
		t.Error("spawn failures must not be reported as *CommandError")
	}
}

func TestRunner_UnobservableExitCode(t *testing.T) {
	sp := &fakeSpawner{handle: &fakeHandle{pid: 42, code: -1, waitErr: ErrNoExitCode}}

	_, err := New(Command("ghost"), Discard, WithSpawner(sp)).Run(context.Background())
	var ce *CommandError
	if !errors.As(err, &ce) {
		t.Fatalf("Run() error = %v, want *CommandError", err)
	}
	if ce.Code != -1 {
		t.Errorf("Code = %d, want -1 for an unobservable exit", ce.Code)
	}
	if !sp.handle.closed.Load() {
		t.Error("handle was not closed after the run")
	}
}

func TestRunner_FinishMapping(t *testing.T) {
	infra := errors.New("wait infrastructure broke")
	r := New(Command("tool"), Discard)

	tests := []struct {
		name string
		res  Result
		err  error
		// wantCode is the expected CommandError code; 0 means no
		// CommandError. wantErr is matched via errors.Is when set.
		wantCode int
		wantErr  error
	}{
		{"clean zero exit", Result{Code: 0}, nil, 0, nil},
		{"non-zero exit", Result{Code: 5, Stderr: "boom"}, nil, 5, nil},
		{"no exit code", Result{}, ErrNoExitCode, -1, ErrNoExitCode},
		{"infra error passthrough", Result{Code: 0}, infra, 0, infra},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.finish(tt.res, tt.err)
			var ce *CommandError
			isCE := errors.As(err, &ce)

			switch {
			case tt.wantCode != 0:
				if !isCE {
					t.Fatalf("finish() error = %v, want *CommandError", err)
				}
				if ce.Code != tt.wantCode {
					t.Errorf("Code = %d, want %d", ce.Code, tt.wantCode)
				}
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("finish() error = %v, want %v", err, tt.wantErr)
				}
			default:
				if err != nil {
					t.Errorf("finish() error = %v, want nil", err)
				}
			}
		})
	}
}

func TestRunner_NonZeroExitCarriesCaptures(t *testing.T) {
	r := New(Command("tool"), CaptureBoth)
	res := Result{Code: 5, Stdout: "partial", Stderr: "boom"}

	_, err := r.finish(res, nil)
	var ce *CommandError
	if !errors.As(err, &ce) {
		t.Fatalf("finish() error = %v, want *CommandError", err)
	}
	if ce.Stdout != "partial" || ce.Stderr != "boom" {
		t.Errorf("captures = %q/%q, want partial/boom", ce.Stdout, ce.Stderr)
	}
}

func TestDriver_StreamWiringFollowsCaptures(t *testing.T) {
	tests := []struct {
		name       string
		factory    ProtocolFactory
		wantStdout bool
		wantStderr bool
	}{
		{"discard", Discard, false, false},
		{"stdout only", CaptureStdout, true, false},
		{"stderr only", CaptureStderr, false, true},
		{"both", CaptureBoth, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sp := &fakeSpawner{handle: &fakeHandle{code: 0}}
			if tt.wantStdout || tt.wantStderr {
				// The driver drains whatever it asked to be piped.
				pr, pw := io.Pipe()
				pw.Close()
				sp.handle.stdout = pr
				pr2, pw2 := io.Pipe()
				pw2.Close()
				sp.handle.stderr = pr2
			}

			if _, err := New(Command("tool"), tt.factory, WithSpawner(sp)).Run(context.Background()); err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if sp.streams.PipeStdout != tt.wantStdout || sp.streams.PipeStderr != tt.wantStderr {
				t.Errorf("streams = %+v, want stdout=%v stderr=%v", sp.streams, tt.wantStdout, tt.wantStderr)
			}
		})
	}
}
