package runner

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/HyphaGroup/warden/runner/decode"
)

// lineEmitter sends each complete stdout line to the generator consumer,
// optionally followed by markers from the exit-phase callbacks.
type lineEmitter struct {
	*BaseProtocol
	GeneratorBase
	lines     *decode.LineSplitter
	exitNotes bool
}

func newLineEmitter(exitNotes bool) Protocol {
	return &lineEmitter{
		BaseProtocol: NewBaseProtocol(true, false, nil),
		lines:        decode.NewLineSplitter("", false),
		exitNotes:    exitNotes,
	}
}

func (p *lineEmitter) PipeDataReceived(stream StreamID, data []byte) {
	if stream != Stdout {
		return
	}
	for _, line := range p.lines.Process(string(data)) {
		p.SendResult(line)
	}
}

func (p *lineEmitter) PipeConnectionLost(stream StreamID, err error) {
	if stream != Stdout {
		return
	}
	if tail, ok := p.lines.Finish(); ok {
		p.SendResult(tail)
	}
}

func (p *lineEmitter) ProcessExited() {
	if p.exitNotes {
		p.SendResult("exited")
	}
}

func (p *lineEmitter) ConnectionLost(error) {
	if p.exitNotes {
		p.SendResult("lost")
	}
}

func emitLines() Protocol         { return newLineEmitter(false) }
func emitLinesAndNotes() Protocol { return newLineEmitter(true) }

func drain(t *testing.T, g *Generator) []any {
	t.Helper()
	var values []any
	for {
		v, ok := g.Next()
		if !ok {
			return values
		}
		values = append(values, v)
	}
}

func TestGenerator_StreamsValuesInOrder(t *testing.T) {
	r := New(ShellCommand(`printf 'a\nb\nc\n'`), emitLines)

	g, err := r.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := g.Err(); err != nil {
		t.Errorf("Err() before exhaustion = %v, want nil", err)
	}

	values := drain(t, g)
	want := []any{"a", "b", "c"}
	if !reflect.DeepEqual(values, want) {
		t.Errorf("values = %v, want %v", values, want)
	}
	if err := g.Err(); err != nil {
		t.Errorf("Err() after clean exit = %v, want nil", err)
	}

	// Exhausted generators keep reporting the end.
	if _, ok := g.Next(); ok {
		t.Error("Next() after exhaustion = true, want false")
	}
}

func TestGenerator_UnterminatedTailDelivered(t *testing.T) {
	r := New(ShellCommand(`printf 'a\nfragment'`), emitLines)

	g, err := r.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	values := drain(t, g)
	want := []any{"a", "fragment"}
	if !reflect.DeepEqual(values, want) {
		t.Errorf("values = %v, want %v", values, want)
	}
}

func TestGenerator_ReproducibleAcrossRestarts(t *testing.T) {
	r := New(ShellCommand(`printf '1\n2\n3\n'`), emitLines)

	var sequences [][]any
	for i := 0; i < 2; i++ {
		g, err := r.Start(context.Background())
		if err != nil {
			t.Fatalf("Start() %d error = %v", i, err)
		}
		sequences = append(sequences, drain(t, g))
		if err := g.Err(); err != nil {
			t.Fatalf("Err() %d = %v", i, err)
		}
	}
	if !reflect.DeepEqual(sequences[0], sequences[1]) {
		t.Errorf("sequences differ across restarts: %v vs %v", sequences[0], sequences[1])
	}
}

func TestGenerator_RejectsOverlappingRuns(t *testing.T) {
	r := New(ShellCommand(`printf 'x\n'`), emitLines)

	g, err := r.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if _, err := r.Start(context.Background()); !errors.Is(err, ErrInFlight) {
		t.Errorf("second Start() error = %v, want ErrInFlight", err)
	}
	if _, err := r.Run(context.Background()); !errors.Is(err, ErrInFlight) {
		t.Errorf("Run() during generator = %v, want ErrInFlight", err)
	}

	drain(t, g)

	// Exhaustion releases the runner.
	g2, err := r.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() after exhaustion error = %v", err)
	}
	drain(t, g2)
}

func TestGenerator_ExitPhaseValues(t *testing.T) {
	r := New(ShellCommand(`printf 'data\n'`), emitLinesAndNotes)

	g, err := r.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	values := drain(t, g)
	want := []any{"data", "exited", "lost"}
	if !reflect.DeepEqual(values, want) {
		t.Errorf("values = %v, want %v", values, want)
	}
}

func TestGenerator_ErrReportsFailure(t *testing.T) {
	r := New(ShellCommand(`printf 'x\n'; exit 3`), emitLines)

	g, err := r.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	values := drain(t, g)
	if !reflect.DeepEqual(values, []any{"x"}) {
		t.Errorf("values = %v, want [x]", values)
	}

	var ce *CommandError
	if !errors.As(g.Err(), &ce) {
		t.Fatalf("Err() = %v, want *CommandError", g.Err())
	}
	if ce.Code != 3 {
		t.Errorf("Code = %d, want 3", ce.Code)
	}
}

func TestGenerator_CloseAbandonsRun(t *testing.T) {
	r := New(ShellCommand(`printf 'x\n'; exec sleep 30`), emitLines)

	g, err := r.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if v, ok := g.Next(); !ok || v != "x" {
		t.Fatalf("Next() = %v, %v, want x, true", v, ok)
	}

	if err := g.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// The runner is available again; abandon the second run without ever
	// consuming from it, so a blocked emit has to unwind too.
	g2, err := r.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() after Close error = %v", err)
	}
	if err := g2.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}

func TestGenerator_CloseAfterExhaustion(t *testing.T) {
	r := New(ShellCommand(`printf 'x\n'; exit 7`), emitLines)

	g, err := r.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	drain(t, g)

	var ce *CommandError
	if !errors.As(g.Close(), &ce) {
		t.Errorf("Close() after failed run = %v, want the terminal *CommandError", g.Close())
	}
}
