package main

import (
	"github.com/HyphaGroup/warden/runner"
	"github.com/HyphaGroup/warden/runner/decode"
)

// streamFrame is one unit of -stream output: a decoded line from either
// stream, or the final exit frame in -json mode.
type streamFrame struct {
	Type  string `json:"type"` // stdout, stderr or exit
	Data  string `json:"data,omitempty"`
	Code  *int   `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

// lineProtocol feeds the captured streams through the incremental decoder
// and line splitter, emitting one frame per line. It bypasses the base
// buffers so a long-running command costs no memory.
type lineProtocol struct {
	*runner.BaseProtocol
	runner.GeneratorBase

	decoder *decode.Decoder
	split   map[runner.StreamID]*decode.LineSplitter
}

func newLineProtocol(capture string) *lineProtocol {
	p := &lineProtocol{
		BaseProtocol: runner.NewBaseProtocol(capture != "stderr", capture != "stdout", nil),
		decoder:      decode.NewDecoder(nil, nil),
		split:        make(map[runner.StreamID]*decode.LineSplitter, 2),
	}
	if capture != "stderr" {
		p.split[runner.Stdout] = decode.NewLineSplitter("", false)
	}
	if capture != "stdout" {
		p.split[runner.Stderr] = decode.NewLineSplitter("", false)
	}
	return p
}

func (p *lineProtocol) PipeDataReceived(stream runner.StreamID, data []byte) {
	split, ok := p.split[stream]
	if !ok {
		return
	}
	for _, line := range split.Process(p.decoder.Decode(int(stream), data)) {
		p.SendResult(streamFrame{Type: stream.String(), Data: line})
	}
}

func (p *lineProtocol) PipeConnectionLost(stream runner.StreamID, err error) {
	split, ok := p.split[stream]
	if !ok {
		return
	}
	if tail, ok := split.Finish(); ok {
		p.SendResult(streamFrame{Type: stream.String(), Data: tail})
	}
}
