package decode

import (
	"strings"
	"testing"

	"golang.org/x/text/encoding/unicode"
)

type recordingLogger struct {
	warnings []string
}

func (l *recordingLogger) Debug(string, ...any) {}
func (l *recordingLogger) Info(string, ...any)  {}
func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.warnings = append(l.warnings, msg)
}
func (l *recordingLogger) Error(string, ...any) {}

func TestDecoder_ByteAtATimeUTF8(t *testing.T) {
	const text = "héllo wörld ☺ end"
	d := NewDecoder(nil, nil)

	var out strings.Builder
	for _, b := range []byte(text) {
		out.WriteString(d.Decode(1, []byte{b}))
	}

	if got := out.String(); got != text {
		t.Errorf("reassembled = %q, want %q", got, text)
	}
	if n := d.Pending(1); n != 0 {
		t.Errorf("Pending(1) = %d, want 0", n)
	}
}

func TestDecoder_StreamIsolation(t *testing.T) {
	d := NewDecoder(nil, nil)

	// First half of a two-byte sequence on stream 1.
	if got := d.Decode(1, []byte{0xC3}); got != "" {
		t.Errorf("Decode(1, half) = %q, want \"\"", got)
	}
	if n := d.Pending(1); n != 1 {
		t.Errorf("Pending(1) = %d, want 1", n)
	}

	// Stream 2 decodes independently while stream 1 holds its tail.
	if got := d.Decode(2, []byte("ok")); got != "ok" {
		t.Errorf("Decode(2) = %q, want %q", got, "ok")
	}
	if n := d.Pending(2); n != 0 {
		t.Errorf("Pending(2) = %d, want 0", n)
	}

	// Completing the sequence yields the character.
	if got := d.Decode(1, []byte{0xA9}); got != "é" {
		t.Errorf("Decode(1, second half) = %q, want %q", got, "é")
	}
	if n := d.Pending(1); n != 0 {
		t.Errorf("Pending(1) = %d, want 0", n)
	}
}

func TestDecoder_UTF16SplitUnits(t *testing.T) {
	enc := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
	d := NewDecoder(enc, nil)

	// "hi" in UTF-16LE, split so every chunk breaks a code unit.
	var out strings.Builder
	out.WriteString(d.Decode(1, []byte{0x68}))
	if n := d.Pending(1); n != 1 {
		t.Fatalf("Pending(1) after half unit = %d, want 1", n)
	}
	out.WriteString(d.Decode(1, []byte{0x00, 0x69}))
	out.WriteString(d.Decode(1, []byte{0x00}))

	if got := out.String(); got != "hi" {
		t.Errorf("decoded = %q, want %q", got, "hi")
	}
}

func TestDecoder_EmptyChunk(t *testing.T) {
	d := NewDecoder(nil, nil)
	if got := d.Decode(1, nil); got != "" {
		t.Errorf("Decode(1, nil) = %q, want \"\"", got)
	}
}

func TestDecoder_CloseWarnsOnPartial(t *testing.T) {
	logger := &recordingLogger{}
	d := NewDecoder(nil, logger)

	d.Decode(2, []byte{0xE2, 0x98}) // first two bytes of a three-byte sequence
	if n := d.Pending(2); n != 2 {
		t.Fatalf("Pending(2) = %d, want 2", n)
	}

	d.Close()
	if len(logger.warnings) != 1 {
		t.Fatalf("warnings = %d, want 1", len(logger.warnings))
	}

	// Close resets all state.
	if n := d.Pending(2); n != 0 {
		t.Errorf("Pending(2) after Close = %d, want 0", n)
	}
}

func TestDecoder_CloseCleanIsQuiet(t *testing.T) {
	logger := &recordingLogger{}
	d := NewDecoder(nil, logger)
	d.Decode(1, []byte("complete"))
	d.Close()
	if len(logger.warnings) != 0 {
		t.Errorf("warnings = %v, want none", logger.warnings)
	}
}
