package runner

import (
	"bytes"
	"fmt"

	"golang.org/x/text/encoding"
)

// StreamID is the canonical identifier of one child stream. The values are
// stable across platforms and backends even though the native descriptors
// assigned at spawn time are not; all protocol-facing code uses these.
type StreamID int

const (
	Stdin  StreamID = 0
	Stdout StreamID = 1
	Stderr StreamID = 2

	// NoStream marks an overall-wait timeout notification not tied to a
	// specific channel.
	NoStream StreamID = -1
)

func (s StreamID) String() string {
	switch s {
	case Stdin:
		return "stdin"
	case Stdout:
		return "stdout"
	case Stderr:
		return "stderr"
	case NoStream:
		return "none"
	}
	return fmt.Sprintf("stream(%d)", int(s))
}

// Protocol reacts to the lifecycle and stream events of one run and shapes
// the final result. Implementations are created fresh per run through a
// ProtocolFactory. All callbacks are dispatched from the single consumer
// goroutine, so protocol state needs no locking.
type Protocol interface {
	// ConnectionMade is called once, synchronously, right after spawn. The
	// protocol may act on the process immediately, for example signal it or
	// write initial stdin.
	ConnectionMade(p *Process)

	// PipeDataReceived is called once per received chunk, in per-stream
	// arrival order. No ordering holds across streams.
	PipeDataReceived(stream StreamID, data []byte)

	// PipeConnectionLost is called exactly once per captured stream when it
	// reaches end-of-data. err is nil on a clean end-of-file.
	PipeConnectionLost(stream StreamID, err error)

	// Timeout is called when the configured timeout elapses without new
	// data on a channel, or with NoStream when the overall wait went idle.
	// Returning true mutes further timeout notifications for that channel.
	// Timeouts are advisory: the engine never closes a stream or kills the
	// child on its own; a protocol may do so through the Process handle.
	Timeout(stream StreamID) bool

	// ProcessExited is called once, after the child has been waited on and
	// every channel has been retired.
	ProcessExited()

	// ConnectionLost is called once, last of the lifecycle callbacks.
	ConnectionLost(err error)

	// PrepareResult assembles the final result from whatever buffers exist.
	// It must report the exit code actually observed and return
	// ErrNoExitCode when there is none.
	PrepareResult() (Result, error)

	// Captures reports whether the given stream is piped to this protocol.
	// The answer is a fixed capability of the variant, consulted before
	// spawn to wire the pipes.
	Captures(stream StreamID) bool
}

// ProtocolFactory produces a fresh Protocol for each run.
type ProtocolFactory func() Protocol

// BaseProtocol implements Protocol with the stock capture behavior: chunks of
// captured streams accumulate in per-stream buffers and are decoded once at
// result time. Custom protocols embed it and override what they need; an
// override of ConnectionMade must call through so the process handle is
// recorded for PrepareResult.
type BaseProtocol struct {
	captureStdout bool
	captureStderr bool
	discard       bool
	enc           encoding.Encoding
	bufs          [2]bytes.Buffer
	proc          *Process
}

var _ Protocol = (*BaseProtocol)(nil)

// NewBaseProtocol creates a BaseProtocol capturing the selected streams. A
// nil encoding leaves captured bytes as-is (UTF-8 passthrough).
func NewBaseProtocol(captureStdout, captureStderr bool, enc encoding.Encoding) *BaseProtocol {
	return &BaseProtocol{
		captureStdout: captureStdout,
		captureStderr: captureStderr,
		enc:           enc,
	}
}

// Discard captures nothing; the child writes straight to the inherited
// streams.
func Discard() Protocol { return NewBaseProtocol(false, false, nil) }

// CaptureStdout captures only standard output.
func CaptureStdout() Protocol { return NewBaseProtocol(true, false, nil) }

// CaptureStderr captures only standard error.
func CaptureStderr() Protocol { return NewBaseProtocol(false, true, nil) }

// CaptureBoth captures standard output and standard error.
func CaptureBoth() Protocol { return NewBaseProtocol(true, true, nil) }

// KillOutput keeps both pipes draining, so the child never stalls on a full
// pipe, but throws the content away at result time.
func KillOutput() Protocol {
	b := NewBaseProtocol(true, true, nil)
	b.discard = true
	return b
}

// CaptureWith returns a factory capturing the chosen streams decoded with
// enc at result time.
func CaptureWith(captureStdout, captureStderr bool, enc encoding.Encoding) ProtocolFactory {
	return func() Protocol { return NewBaseProtocol(captureStdout, captureStderr, enc) }
}

// ConnectionMade records the process handle.
func (p *BaseProtocol) ConnectionMade(proc *Process) { p.proc = proc }

// Process returns the handle recorded by ConnectionMade, for embedders.
func (p *BaseProtocol) Process() *Process { return p.proc }

// PipeDataReceived appends the chunk to the stream's buffer, if captured.
func (p *BaseProtocol) PipeDataReceived(stream StreamID, data []byte) {
	if buf := p.buffer(stream); buf != nil {
		buf.Write(data)
	}
}

// PipeConnectionLost is a no-op by default.
func (p *BaseProtocol) PipeConnectionLost(StreamID, error) {}

// Timeout keeps the notifications coming by default.
func (p *BaseProtocol) Timeout(StreamID) bool { return false }

// ProcessExited is a no-op by default.
func (p *BaseProtocol) ProcessExited() {}

// ConnectionLost is a no-op by default.
func (p *BaseProtocol) ConnectionLost(error) {}

// Captures reports the variant's fixed capability flags.
func (p *BaseProtocol) Captures(stream StreamID) bool {
	switch stream {
	case Stdout:
		return p.captureStdout
	case Stderr:
		return p.captureStderr
	default:
		return false
	}
}

// PrepareResult decodes the captured buffers and attaches the observed exit
// code.
func (p *BaseProtocol) PrepareResult() (Result, error) {
	if p.proc == nil {
		return Result{}, ErrNoExitCode
	}
	code, ok := p.proc.ExitCode()
	if !ok {
		return Result{}, ErrNoExitCode
	}
	res := Result{Code: code}
	if !p.discard {
		res.Stdout = p.decodeBuffer(Stdout)
		res.Stderr = p.decodeBuffer(Stderr)
	}
	return res, nil
}

func (p *BaseProtocol) buffer(stream StreamID) *bytes.Buffer {
	switch {
	case stream == Stdout && p.captureStdout:
		return &p.bufs[0]
	case stream == Stderr && p.captureStderr:
		return &p.bufs[1]
	default:
		return nil
	}
}

func (p *BaseProtocol) decodeBuffer(stream StreamID) string {
	buf := p.buffer(stream)
	if buf == nil {
		return ""
	}
	if p.enc == nil {
		return buf.String()
	}
	s, err := p.enc.NewDecoder().String(buf.String())
	if err != nil {
		return buf.String()
	}
	return s
}
