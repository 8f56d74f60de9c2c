package runner

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestCommandError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *CommandError
		want []string
	}{
		{
			name: "code only",
			err:  &CommandError{Command: []string{"git", "status"}, Code: 128},
			want: []string{`command ["git" "status"] failed`, "exit code 128"},
		},
		{
			name: "with dir and message",
			err: &CommandError{
				Command: []string{"ls"},
				Code:    2,
				Dir:     "/work",
				Message: "no such directory",
			},
			want: []string{"exit code 2", "under /work", ": no such directory"},
		},
		{
			name: "zero code omits code clause",
			err:  &CommandError{Command: []string{"true"}, Code: 0},
			want: []string{`command ["true"] failed`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, want := range tt.want {
				if !strings.Contains(msg, want) {
					t.Errorf("Error() = %q, missing %q", msg, want)
				}
			}
		})
	}
}

func TestCommandError_ZeroCodeHasNoCodeClause(t *testing.T) {
	err := &CommandError{Command: []string{"true"}, Code: 0}
	if strings.Contains(err.Error(), "exit code") {
		t.Errorf("Error() = %q, should not mention an exit code", err.Error())
	}
}

func TestCommandError_RecordDedup(t *testing.T) {
	err := &CommandError{
		Command: []string{"tool"},
		Code:    1,
		Records: []FailureRecord{
			{Message: "file a missing"},
			{Message: "network unreachable"},
			{Message: "file a missing"},
			{Message: "file a missing"},
			{Note: "item b", Message: "locked"},
		},
	}
	msg := err.Error()

	if !strings.Contains(msg, "file a missing [3 times]") {
		t.Errorf("Error() = %q, missing deduplicated count line", msg)
	}
	if !strings.Contains(msg, "item b: locked") {
		t.Errorf("Error() = %q, missing note-prefixed line", msg)
	}
	// One rendered line per distinct record, first appearance order.
	lines := strings.Split(msg, "\n")
	if len(lines) != 4 {
		t.Fatalf("rendered %d lines, want 4: %q", len(lines), msg)
	}
	if !strings.Contains(lines[1], "file a missing") {
		t.Errorf("line 1 = %q, want first-seen record first", lines[1])
	}
	if !strings.Contains(lines[2], "network unreachable") {
		t.Errorf("line 2 = %q, want second-seen record second", lines[2])
	}
}

func TestCommandError_SingleRecordHasNoCount(t *testing.T) {
	err := &CommandError{
		Command: []string{"tool"},
		Code:    1,
		Records: []FailureRecord{{Message: "once"}},
	}
	if strings.Contains(err.Error(), "times]") {
		t.Errorf("Error() = %q, single record should carry no count", err.Error())
	}
}

func TestNewCommandError_ExtraHandling(t *testing.T) {
	res := Result{
		Stdout: "out",
		Stderr: "err",
		Code:   3,
		Extra: map[string]any{
			"stdout":        "shadow",
			"code":          99,
			ErrorRecordsKey: []FailureRecord{{Message: "broken"}},
			"hint":          "retry later",
		},
	}
	cmd := Command("tool", "-v")
	cmd.Dir = "/work"

	ce := newCommandError(cmd, res, "chunk failed")

	if ce.Code != 3 || ce.Stdout != "out" || ce.Stderr != "err" || ce.Dir != "/work" {
		t.Errorf("fields = %+v, want result fields carried over", ce)
	}
	if len(ce.Records) != 1 || ce.Records[0].Message != "broken" {
		t.Errorf("Records = %+v, want the %q entry promoted", ce.Records, ErrorRecordsKey)
	}
	if _, ok := ce.Extra["stdout"]; ok {
		t.Error("Extra retains a key that shadows an explicit field")
	}
	if _, ok := ce.Extra["code"]; ok {
		t.Error("Extra retains a key that shadows an explicit field")
	}
	if v := ce.Extra["hint"]; v != "retry later" {
		t.Errorf("Extra[hint] = %v, want it preserved", v)
	}
}

func TestNewCommandError_NoExtra(t *testing.T) {
	ce := newCommandError(Command("tool"), Result{Code: 1}, "")
	if ce.Extra != nil {
		t.Errorf("Extra = %v, want nil", ce.Extra)
	}
	if ce.Records != nil {
		t.Errorf("Records = %v, want nil", ce.Records)
	}
}

func TestCommandError_ErrorsAs(t *testing.T) {
	base := &CommandError{Command: []string{"x"}, Code: 7}
	wrapped := fmt.Errorf("outer context: %w", base)

	var ce *CommandError
	if !errors.As(wrapped, &ce) {
		t.Fatal("errors.As failed to unwrap *CommandError")
	}
	if ce.Code != 7 {
		t.Errorf("Code = %d, want 7", ce.Code)
	}
}
