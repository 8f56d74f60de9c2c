package runner

import (
	"os"
	"testing"
)

func TestStdinSource_NeedsWriter(t *testing.T) {
	queue := make(chan []byte)
	tests := []struct {
		name string
		src  StdinSource
		want bool
	}{
		{"zero value", StdinSource{}, false},
		{"file", StdinFile(os.Stdin), false},
		{"bytes", StdinBytes([]byte("x")), true},
		{"text", StdinText("x"), true},
		{"queue", StdinQueue(queue), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.src.needsWriter(); got != tt.want {
				t.Errorf("needsWriter() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStdinSource_DataSource(t *testing.T) {
	ch := StdinBytes([]byte("payload")).source()

	chunk, ok := <-ch
	if !ok || string(chunk) != "payload" {
		t.Fatalf("first receive = %q, %v, want payload, true", chunk, ok)
	}
	if _, ok := <-ch; ok {
		t.Error("source channel still open after the single chunk")
	}
}

func TestStdinSource_EmptyDataClosesImmediately(t *testing.T) {
	ch := StdinText("").source()
	if _, ok := <-ch; ok {
		t.Error("empty data source should close without sending")
	}
}

func TestStdinSource_QueuePassesThrough(t *testing.T) {
	in := make(chan []byte, 1)
	src := StdinQueue(in).source()
	in <- []byte("x")
	if chunk := <-src; string(chunk) != "x" {
		t.Errorf("queue chunk = %q, want x", chunk)
	}
}
