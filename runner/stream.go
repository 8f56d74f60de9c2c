package runner

import (
	"io"
	"sync"
	"time"

	"github.com/HyphaGroup/warden/logging"
)

// queueEvent is one normalized entry on the shared event queue. Data events
// carry a chunk; terminal events mark a channel's end-of-data and are emitted
// exactly once per channel; timeout events are advisory notifications.
type queueEvent struct {
	stream   StreamID
	data     []byte
	err      error // terminal events only; nil on clean EOF
	when     time.Time
	terminal bool
	timedOut bool
}

const readChunkSize = 64 * 1024

// sendEvent forwards one event unless a stop request wins the race.
func sendEvent(events chan<- queueEvent, stop <-chan struct{}, ev queueEvent) bool {
	select {
	case events <- ev:
		return true
	case <-stop:
		return false
	}
}

// readTransport drains one child output pipe. The inner goroutine does
// nothing but the blocking reads; it may stay blocked past a stop request and
// exits once the pipe closes. The outer goroutine applies the advisory
// timeout, honors stop requests between operations, and forwards tagged
// events to the shared queue.
type readTransport struct {
	id      StreamID
	r       io.Reader
	events  chan<- queueEvent
	timeout time.Duration
	stop    <-chan struct{}
	logger  logging.Logger

	inner   chan []byte
	readErr error // written by the inner goroutine before closing inner
}

func newReadTransport(id StreamID, r io.Reader, events chan<- queueEvent, timeout time.Duration, stop <-chan struct{}, logger logging.Logger) *readTransport {
	return &readTransport{
		id:      id,
		r:       r,
		events:  events,
		timeout: timeout,
		stop:    stop,
		logger:  logger,
		inner:   make(chan []byte, 1),
	}
}

// start launches the pair. done runs when the outer goroutine finishes,
// strictly after its terminal event is on the queue.
func (t *readTransport) start(done func()) {
	go t.readLoop()
	go func() {
		defer done()
		t.forwardLoop()
	}()
}

func (t *readTransport) readLoop() {
	defer close(t.inner)
	buf := make([]byte, readChunkSize)
	for {
		n, err := t.r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case t.inner <- chunk:
			case <-t.stop:
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				t.readErr = err
			}
			return
		}
	}
}

func (t *readTransport) forwardLoop() {
	var timer *time.Timer
	var timeoutC <-chan time.Time
	if t.timeout > 0 {
		timer = time.NewTimer(t.timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}
	for {
		select {
		case chunk, ok := <-t.inner:
			if !ok {
				sendEvent(t.events, t.stop, queueEvent{
					stream:   t.id,
					err:      t.readErr,
					when:     time.Now(),
					terminal: true,
				})
				return
			}
			if !sendEvent(t.events, t.stop, queueEvent{stream: t.id, data: chunk, when: time.Now()}) {
				return
			}
			if timer != nil {
				timer.Reset(t.timeout)
			}
		case <-timeoutC:
			if !sendEvent(t.events, t.stop, queueEvent{stream: t.id, when: time.Now(), timedOut: true}) {
				return
			}
			timer.Reset(t.timeout)
		case <-t.stop:
			return
		}
	}
}

// writeTransport feeds the child's stdin from a source channel. The inner
// goroutine performs the blocking writes and closes the pipe at end-of-input
// so the child observes EOF; the outer goroutine applies the advisory timeout
// while waiting for source data and emits the flushed terminal event once the
// writes are done.
type writeTransport struct {
	w       io.WriteCloser
	src     <-chan []byte
	events  chan<- queueEvent
	timeout time.Duration
	stop    <-chan struct{}
	logger  logging.Logger

	inner     chan []byte
	innerDone chan struct{}
	closeOnce sync.Once
}

func newWriteTransport(w io.WriteCloser, src <-chan []byte, events chan<- queueEvent, timeout time.Duration, stop <-chan struct{}, logger logging.Logger) *writeTransport {
	return &writeTransport{
		w:         w,
		src:       src,
		events:    events,
		timeout:   timeout,
		stop:      stop,
		logger:    logger,
		inner:     make(chan []byte, 1),
		innerDone: make(chan struct{}),
	}
}

func (t *writeTransport) start(done func()) {
	go t.writeLoop()
	go func() {
		defer done()
		t.forwardLoop()
	}()
}

func (t *writeTransport) writeLoop() {
	defer close(t.innerDone)
	defer t.w.Close()
	for chunk := range t.inner {
		if _, err := t.w.Write(chunk); err != nil {
			// The child closed its end early. Drain so the outer side never
			// blocks; the remaining input has nowhere to go.
			t.logger.Debug("stdin write failed", "error", err)
			for range t.inner {
			}
			return
		}
	}
}

func (t *writeTransport) closeInner() {
	t.closeOnce.Do(func() { close(t.inner) })
}

func (t *writeTransport) forwardLoop() {
	defer t.closeInner()
	var timer *time.Timer
	var timeoutC <-chan time.Time
	if t.timeout > 0 {
		timer = time.NewTimer(t.timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}
	for {
		select {
		case chunk, ok := <-t.src:
			if !ok || chunk == nil {
				t.finish()
				return
			}
			select {
			case t.inner <- chunk:
			case <-t.stop:
				return
			}
			if timer != nil {
				timer.Reset(t.timeout)
			}
		case <-timeoutC:
			if !sendEvent(t.events, t.stop, queueEvent{stream: Stdin, when: time.Now(), timedOut: true}) {
				return
			}
			timer.Reset(t.timeout)
		case <-t.stop:
			return
		}
	}
}

// finish closes the writer side, waits for the pending writes to flush, and
// reports the terminal event. The terminal event for stdin means only that
// all provided input was flushed.
func (t *writeTransport) finish() {
	t.closeInner()
	select {
	case <-t.innerDone:
	case <-t.stop:
		return
	}
	sendEvent(t.events, t.stop, queueEvent{stream: Stdin, when: time.Now(), terminal: true})
}
