package execute

import (
	"context"
	"fmt"
	"time"

	"github.com/HyphaGroup/warden/runner"
	"github.com/HyphaGroup/warden/runner/decode"
)

// Event is one frame of a streamed run. Output frames carry a single
// decoded line; the final frame carries the settled exit.
type Event struct {
	Type     string `json:"type"` // stdout, stderr or exit
	RunID    string `json:"run_id,omitempty"`
	Data     string `json:"data,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Stream executes the request in generator mode, handing each output line
// to sink as it is produced and the exit frame last. A sink error abandons
// the run and kills the command. Journal, metrics and audit settle exactly
// as in Run.
func (s *Service) Stream(ctx context.Context, req Request, sink func(Event) error) (*Response, error) {
	cmd, _, timeout, err := s.prepare(&req)
	if err != nil {
		return nil, err
	}
	if req.Capture == "none" {
		return nil, fmt.Errorf("%w: capture mode none leaves nothing to stream", ErrInvalidRequest)
	}

	run, err := s.record(cmd, req)
	if err != nil {
		return nil, err
	}
	start := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var proto *streamProtocol
	factory := func() runner.Protocol {
		proto = newStreamProtocol(req.Capture)
		return proto
	}
	gen, err := runner.New(cmd, factory, s.runOptions(req)...).Start(runCtx)
	if err != nil {
		finished, serr := s.settle(run, req, settleInput{
			runErr:   err,
			timeout:  timeout,
			duration: time.Since(start),
		})
		if serr != nil {
			return nil, serr
		}
		return &Response{Run: finished}, nil
	}

	var sinkErr error
	for {
		v, ok := gen.Next()
		if !ok {
			break
		}
		ev, ok := v.(Event)
		if !ok {
			continue
		}
		ev.RunID = run.ID
		if err := sink(ev); err != nil {
			sinkErr = err
			break
		}
	}

	var runErr error
	if sinkErr != nil {
		_ = gen.Close()
		runErr = fmt.Errorf("stream aborted: %w", sinkErr)
	} else {
		runErr = gen.Err()
	}

	in := settleInput{
		runErr:   runErr,
		timeout:  timeout,
		duration: time.Since(start),
	}
	if proto != nil {
		in.stdout, in.stderr = proto.stdoutBytes, proto.stderrBytes
	}
	finished, err := s.settle(run, req, in)
	if err != nil {
		return nil, err
	}

	if sinkErr == nil {
		// Best effort: a consumer that survived the whole stream most
		// likely wants the exit frame too.
		_ = sink(Event{Type: "exit", RunID: run.ID, ExitCode: finished.ExitCode, Error: finished.Error})
	}
	return &Response{Run: finished}, nil
}

// streamProtocol turns captured chunks into per-line events through the
// incremental decoder and splitter, skipping the base buffers entirely so a
// long stream costs no memory.
type streamProtocol struct {
	*runner.BaseProtocol
	runner.GeneratorBase

	decoder *decode.Decoder
	split   map[runner.StreamID]*decode.LineSplitter

	stdoutBytes int64
	stderrBytes int64
}

func newStreamProtocol(mode string) *streamProtocol {
	p := &streamProtocol{
		BaseProtocol: runner.NewBaseProtocol(mode != "stderr", mode != "stdout", nil),
		decoder:      decode.NewDecoder(nil, nil),
		split:        make(map[runner.StreamID]*decode.LineSplitter, 2),
	}
	if mode != "stderr" {
		p.split[runner.Stdout] = decode.NewLineSplitter("", false)
	}
	if mode != "stdout" {
		p.split[runner.Stderr] = decode.NewLineSplitter("", false)
	}
	return p
}

func (p *streamProtocol) PipeDataReceived(stream runner.StreamID, data []byte) {
	split, ok := p.split[stream]
	if !ok {
		return
	}
	switch stream {
	case runner.Stdout:
		p.stdoutBytes += int64(len(data))
	case runner.Stderr:
		p.stderrBytes += int64(len(data))
	}
	for _, line := range split.Process(p.decoder.Decode(int(stream), data)) {
		p.SendResult(Event{Type: stream.String(), Data: line})
	}
}

func (p *streamProtocol) PipeConnectionLost(stream runner.StreamID, err error) {
	split, ok := p.split[stream]
	if !ok {
		return
	}
	if tail, ok := split.Finish(); ok {
		p.SendResult(Event{Type: stream.String(), Data: tail})
	}
}
