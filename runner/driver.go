package runner

import (
	"context"
	"sync"
	"time"

	"github.com/HyphaGroup/warden/logging"
)

// driver owns one run: it spawns the child, wires the per-stream transport
// pairs into the shared event queue, and dispatches protocol callbacks from a
// single consumer loop.
type driver struct {
	cmd     Cmd
	proto   Protocol
	stdin   StdinSource
	timeout time.Duration
	spawner Spawner
	logger  logging.Logger
	emit    func(any) // non-nil only in generator mode
}

type exitState struct {
	code int
	err  error
}

func (d *driver) run(ctx context.Context) (Result, error) {
	streams := StreamConfig{
		PipeStdout: d.proto.Captures(Stdout),
		PipeStderr: d.proto.Captures(Stderr),
		PipeStdin:  d.stdin.needsWriter(),
		StdinFile:  d.stdin.file,
	}
	handle, err := d.spawner.Spawn(ctx, d.cmd, streams)
	if err != nil {
		// Creation failures surface exactly as the process-creation
		// facility reported them.
		return Result{}, err
	}

	proc := newProcess(handle)
	if d.emit != nil {
		if b, ok := d.proto.(emitBinder); ok {
			b.bindEmit(d.emit)
		}
	}
	d.proto.ConnectionMade(proc)

	events := make(chan queueEvent, 64)
	stop := make(chan struct{})
	var stopOnce sync.Once
	requestStop := func() { stopOnce.Do(func() { close(stop) }) }

	var producers sync.WaitGroup
	startProducer := func(start func(done func())) {
		producers.Add(1)
		start(func() { producers.Done() })
	}
	if streams.PipeStdout {
		startProducer(newReadTransport(Stdout, handle.Stdout(), events, d.timeout, stop, d.logger).start)
	}
	if streams.PipeStderr {
		startProducer(newReadTransport(Stderr, handle.Stderr(), events, d.timeout, stop, d.logger).start)
	}
	if streams.PipeStdin {
		startProducer(newWriteTransport(handle.Stdin(), d.stdin.source(), events, d.timeout, stop, d.logger).start)
	}

	// The queue closes only after every producer has parked its terminal
	// event, so output racing the process exit is never dropped.
	go func() {
		producers.Wait()
		close(events)
	}()

	exitCh := make(chan exitState, 1)
	go func() {
		code, werr := handle.Wait()
		exitCh <- exitState{code: code, err: werr}
	}()

	var (
		queue   = events
		exited  bool
		exitErr error
		muted   = make(map[StreamID]bool)
	)
	var timer *time.Timer
	var timeoutC <-chan time.Time
	if d.timeout > 0 {
		timer = time.NewTimer(d.timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	// The loop ends only when the process has exited, the queue is drained,
	// and no producer remains. All three are needed: output produced right
	// at exit time must still be dispatched.
	for queue != nil || !exited {
		select {
		case ev, ok := <-queue:
			if !ok {
				queue = nil
				continue
			}
			if timer != nil {
				timer.Reset(d.timeout)
			}
			d.dispatch(ev, muted)
		case st := <-exitCh:
			exited = true
			exitErr = st.err
			proc.setExit(st.code)
			exitCh = nil
		case <-timeoutC:
			if !muted[NoStream] && d.proto.Timeout(NoStream) {
				muted[NoStream] = true
			}
			timer.Reset(d.timeout)
		case <-ctx.Done():
			requestStop()
			if kerr := handle.Kill(); kerr != nil {
				d.logger.Debug("kill after cancellation", "error", kerr)
			}
			if cerr := handle.Close(); cerr != nil {
				d.logger.Debug("closing pipe handles", "error", cerr)
			}
			return Result{}, ctx.Err()
		}
	}

	res, prepErr := d.proto.PrepareResult()
	d.proto.ProcessExited()
	d.proto.ConnectionLost(exitErr)
	if cerr := handle.Close(); cerr != nil {
		d.logger.Debug("closing pipe handles", "error", cerr)
	}
	if prepErr != nil {
		return res, prepErr
	}
	return res, exitErr
}

func (d *driver) dispatch(ev queueEvent, muted map[StreamID]bool) {
	switch {
	case ev.timedOut:
		if !muted[ev.stream] && d.proto.Timeout(ev.stream) {
			muted[ev.stream] = true
		}
	case ev.terminal:
		// A stdin terminal only means all provided input was flushed; the
		// output channels are retired through PipeConnectionLost.
		if ev.stream != Stdin {
			d.proto.PipeConnectionLost(ev.stream, ev.err)
		}
	default:
		d.proto.PipeDataReceived(ev.stream, ev.data)
	}
}
