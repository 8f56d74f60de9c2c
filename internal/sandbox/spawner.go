// Package sandbox executes commands in throwaway Docker containers. Each
// spawn creates a fresh container from a configured image, attaches its
// streams over the daemon's hijacked connection, and tears the container
// down once the exit status has been collected. The package satisfies
// runner.Spawner, so the engine drives a container exactly like a local
// child process.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"

	"github.com/HyphaGroup/warden/logging"
	"github.com/HyphaGroup/warden/runner"
)

// managedLabel marks containers created by this process so leftovers are
// attributable.
const managedLabel = "dev.warden.managed"

// Options configures the docker backend.
type Options struct {
	// Image is the container image every command runs in.
	Image string
	// Memory caps container memory in Docker's unit syntax ("512M", "4G").
	// Empty means no limit.
	Memory string
	// CPUs caps how many cores a command may use. Zero means no limit.
	CPUs int
}

// Spawner runs commands in single-use containers.
type Spawner struct {
	client *client.Client
	opts   Options
	images *imageCache
	log    logging.Logger
}

var _ runner.Spawner = (*Spawner)(nil)

// New connects to the Docker daemon named by the environment.
func New(opts Options, log logging.Logger) (*Spawner, error) {
	if opts.Image == "" {
		return nil, errors.New("sandbox: image is required")
	}
	if log == nil {
		log = logging.NewNop()
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return &Spawner{
		client: cli,
		opts:   opts,
		images: newImageCache(cli, log),
		log:    log,
	}, nil
}

// Ping verifies the daemon is reachable.
func (s *Spawner) Ping(ctx context.Context) error {
	_, err := s.client.Ping(ctx)
	return err
}

// Close releases the daemon connection.
func (s *Spawner) Close() error { return s.client.Close() }

// Spawn creates, attaches, and starts a container for cmd. The returned
// handle exposes the attach streams as the engine's pipe endpoints.
func (s *Spawner) Spawn(ctx context.Context, cmd runner.Cmd, streams runner.StreamConfig) (runner.Handle, error) {
	argv := cmd.CommandLine()
	if len(argv) == 0 {
		return nil, errors.New("sandbox: empty command")
	}
	if err := s.images.Ensure(ctx, s.opts.Image); err != nil {
		return nil, err
	}

	wantStdin := streams.PipeStdin || streams.StdinFile != nil
	id, err := s.create(ctx, argv, cmd, wantStdin)
	if err != nil {
		return nil, err
	}

	attach, err := s.client.ContainerAttach(ctx, id, dockercontainer.AttachOptions{
		Stream: true,
		Stdin:  wantStdin,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		removeContainer(s.client, s.log, id)
		return nil, fmt.Errorf("attaching to container: %w", err)
	}

	// Register the wait before starting so a command that exits immediately
	// cannot slip past the status channel. The request deliberately ignores
	// ctx: a canceled run still needs the exit status after Kill.
	waitCh, waitErrCh := s.client.ContainerWait(context.Background(), id, dockercontainer.WaitConditionNextExit)

	if err := s.client.ContainerStart(ctx, id, dockercontainer.StartOptions{}); err != nil {
		attach.Close()
		removeContainer(s.client, s.log, id)
		return nil, fmt.Errorf("starting container: %w", err)
	}

	h := &containerHandle{
		client:    s.client,
		log:       s.log,
		id:        id,
		attach:    attach,
		waitCh:    waitCh,
		waitErrCh: waitErrCh,
	}
	if inspect, err := s.client.ContainerInspect(ctx, id); err == nil && inspect.State != nil {
		h.pid = inspect.State.Pid
	}

	// The attach stream multiplexes stdout and stderr. Demux into pipe pairs
	// for streams the engine wants, and into our own stdio for the rest,
	// mirroring how an unpiped local child inherits the parent's terminal.
	var stdoutDst, stderrDst io.Writer = os.Stdout, os.Stderr
	var stdoutW, stderrW *io.PipeWriter
	if streams.PipeStdout {
		pr, pw := io.Pipe()
		h.stdout, stdoutW, stdoutDst = pr, pw, pw
	}
	if streams.PipeStderr {
		pr, pw := io.Pipe()
		h.stderr, stderrW, stderrDst = pr, pw, pw
	}
	go func() {
		_, err := stdcopy.StdCopy(stdoutDst, stderrDst, attach.Reader)
		if stdoutW != nil {
			_ = stdoutW.CloseWithError(err)
		}
		if stderrW != nil {
			_ = stderrW.CloseWithError(err)
		}
	}()

	switch {
	case streams.PipeStdin:
		h.stdin = &attachStdin{conn: attach}
	case streams.StdinFile != nil:
		// The file belongs to the caller; feed it in without closing it.
		go func() {
			_, _ = io.Copy(attach.Conn, streams.StdinFile)
			_ = attach.CloseWrite()
		}()
	}

	return h, nil
}

func (s *Spawner) create(ctx context.Context, argv []string, cmd runner.Cmd, wantStdin bool) (string, error) {
	cfg := &dockercontainer.Config{
		Image: s.opts.Image,
		// The argv overrides any image entrypoint; commands run exactly as
		// given.
		Entrypoint: argv[:1],
		Cmd:        argv[1:],
		// A nil Env keeps the image environment rather than copying the
		// daemon's.
		Env:         cmd.Env,
		WorkingDir:  cmd.Dir,
		Labels:      map[string]string{managedLabel: "true"},
		Tty:         false,
		AttachStdin: wantStdin,
		OpenStdin:   wantStdin,
		StdinOnce:   wantStdin,
	}
	hostCfg := &dockercontainer.HostConfig{
		// Run under docker-init so the command is not PID 1 and keeps
		// default signal dispositions.
		Init:      boolPtr(true),
		Resources: resources(s.opts.Memory, s.opts.CPUs),
	}
	name := "warden-" + uuid.New().String()[:8]

	resp, err := s.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil && client.IsErrNotFound(err) {
		// The image vanished after the cache confirmed it. Refresh once.
		s.images.Invalidate(s.opts.Image)
		if err = s.images.Ensure(ctx, s.opts.Image); err == nil {
			resp, err = s.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
		}
	}
	if err != nil {
		return "", fmt.Errorf("creating container: %w", err)
	}
	return resp.ID, nil
}

// removeContainer force-removes id, tolerating a container that is already
// gone. Callers hold no context by the time cleanup runs, so it gets its own
// deadline.
func removeContainer(cli *client.Client, log logging.Logger, id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := cli.ContainerRemove(ctx, id, dockercontainer.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
		log.Warn("removing container", "container", shortID(id), "error", err)
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func boolPtr(b bool) *bool {
	return &b
}
