package runner

import "os"

// StdinSource selects what the child receives on standard input. The zero
// value provides nothing: the child's stdin is not wired and reads as
// end-of-file.
type StdinSource struct {
	kind  stdinKind
	file  *os.File
	data  []byte
	queue <-chan []byte
}

type stdinKind int

const (
	stdinNone stdinKind = iota
	stdinFile
	stdinData
	stdinQueue
)

// StdinFile passes a pre-opened file directly to the child. The engine never
// writes to or closes it; the caller stays responsible for its lifetime.
// StdinFile(os.Stdin) inherits the caller's standard input.
func StdinFile(f *os.File) StdinSource { return StdinSource{kind: stdinFile, file: f} }

// StdinBytes queues raw bytes for the engine's stdin writer, followed by
// end-of-file once everything is flushed.
func StdinBytes(b []byte) StdinSource { return StdinSource{kind: stdinData, data: b} }

// StdinText is StdinBytes for a string.
func StdinText(s string) StdinSource { return StdinSource{kind: stdinData, data: []byte(s)} }

// StdinQueue feeds the child incrementally from a caller-supplied channel,
// for interactive protocols. A nil element or closing the channel marks
// end-of-input and closes the child's stdin.
func StdinQueue(ch <-chan []byte) StdinSource { return StdinSource{kind: stdinQueue, queue: ch} }

// needsWriter reports whether the engine must run its own stdin writer pair.
func (s StdinSource) needsWriter() bool {
	return s.kind == stdinData || s.kind == stdinQueue
}

// source normalizes the engine-written variants to one channel contract.
func (s StdinSource) source() <-chan []byte {
	switch s.kind {
	case stdinData:
		ch := make(chan []byte, 1)
		if len(s.data) > 0 {
			ch <- s.data
		}
		close(ch)
		return ch
	case stdinQueue:
		return s.queue
	default:
		return nil
	}
}
