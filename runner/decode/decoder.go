// Package decode provides incremental decoding helpers for subprocess output
// that arrives in arbitrary chunks: a line splitter that holds unterminated
// tails across calls and a multi-byte-safe text decoder keyed by stream
// identifier. Both are consumed by protocol implementations, not by the
// execution engine itself.
package decode

import (
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/HyphaGroup/warden/logging"
)

// Decoder incrementally decodes raw bytes into text. Each stream identifier
// gets its own partial-sequence buffer, so interleaving chunks from several
// streams through one Decoder never cross-contaminates their output.
type Decoder struct {
	enc     encoding.Encoding
	logger  logging.Logger
	streams map[int]*decodeState
}

type decodeState struct {
	tr   transform.Transformer
	tail []byte
}

// NewDecoder creates a Decoder for the given encoding. A nil encoding means
// UTF-8. A nil logger discards the teardown warning for undecoded leftovers.
func NewDecoder(enc encoding.Encoding, logger logging.Logger) *Decoder {
	if enc == nil {
		enc = unicode.UTF8
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Decoder{
		enc:     enc,
		logger:  logger,
		streams: make(map[int]*decodeState),
	}
}

// Decode returns all complete characters decodable from the bytes received so
// far on the given stream. A trailing incomplete multi-byte sequence is
// buffered and prepended to the next chunk for the same identifier.
func (d *Decoder) Decode(id int, data []byte) string {
	st := d.state(id)
	src := data
	if len(st.tail) > 0 {
		src = append(st.tail, data...)
		st.tail = nil
	}
	if len(src) == 0 {
		return ""
	}

	var out []byte
	dst := make([]byte, len(src)+16)
	for len(src) > 0 {
		nDst, nSrc, err := st.tr.Transform(dst, src, false)
		out = append(out, dst[:nDst]...)
		src = src[nSrc:]
		if err == transform.ErrShortDst {
			dst = make([]byte, 2*len(dst))
			continue
		}
		// nil means src was fully consumed; ErrShortSrc and hard errors
		// leave the remainder buffered for the next chunk.
		break
	}
	if len(src) > 0 {
		st.tail = append([]byte(nil), src...)
	}
	return string(out)
}

// Pending reports how many undecoded bytes are buffered for a stream.
func (d *Decoder) Pending(id int) int {
	if st, ok := d.streams[id]; ok {
		return len(st.tail)
	}
	return 0
}

// Close drops all per-stream state. Streams still holding an undecoded
// partial sequence are reported as a warning, never as an error.
func (d *Decoder) Close() {
	for id, st := range d.streams {
		if len(st.tail) > 0 {
			d.logger.Warn("decoder discarded incomplete byte sequence",
				"stream", id,
				"pending_bytes", len(st.tail))
		}
	}
	d.streams = make(map[int]*decodeState)
}

func (d *Decoder) state(id int) *decodeState {
	st, ok := d.streams[id]
	if !ok {
		tr := d.enc.NewDecoder()
		tr.Reset()
		st = &decodeState{tr: tr}
		d.streams[id] = st
	}
	return st
}
