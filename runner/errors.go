package runner

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInFlight reports an attempt to start a run on a Runner whose previous
// run has not finished or whose generator sequence has not been drained. It
// signals a programming error on the caller's side; the original run is
// unaffected.
var ErrInFlight = errors.New("runner: previous run still in flight")

// ErrNoExitCode reports that the child's exit code could not be observed.
// PrepareResult implementations must return it rather than fabricate a code.
var ErrNoExitCode = errors.New("runner: process exit code unobservable")

// ErrorRecordsKey is the Result.Extra key under which a protocol may attach
// []FailureRecord diagnostics for CommandError rendering.
const ErrorRecordsKey = "errors"

// FailureRecord is one structured diagnostic attached to a CommandError,
// typically distilled from a line-oriented external tool's per-item error
// output.
type FailureRecord struct {
	Note    string `json:"note,omitempty"`
	Message string `json:"message"`
}

// CommandError describes a command that ran and failed: a non-zero exit code
// or one that could not be observed at all.
type CommandError struct {
	// Command is the resolved argv of the failed invocation.
	Command []string
	// Message is an optional human-readable summary.
	Message string
	// Code is the exit code, or -1 when it was unobservable.
	Code int
	// Stdout and Stderr hold whatever the protocol captured.
	Stdout string
	Stderr string
	// Dir is the working directory the command ran under.
	Dir string
	// Records are structured per-item diagnostics; rendering deduplicates
	// repeated (note, message) pairs.
	Records []FailureRecord
	// Extra holds arbitrary additional diagnostic fields.
	Extra map[string]any
}

func (e *CommandError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "command %q failed", e.Command)
	if e.Code != 0 {
		fmt.Fprintf(&b, " with exit code %d", e.Code)
	}
	if e.Dir != "" {
		fmt.Fprintf(&b, " under %s", e.Dir)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	for _, line := range dedupRecords(e.Records) {
		b.WriteString("\n")
		b.WriteString(line)
	}
	return b.String()
}

// dedupRecords renders one line per distinct (note, message) pair, in first
// appearance order, suffixing an occurrence count when a pair repeats
// verbatim.
func dedupRecords(records []FailureRecord) []string {
	if len(records) == 0 {
		return nil
	}
	type key struct{ note, message string }
	counts := make(map[key]int, len(records))
	order := make([]key, 0, len(records))
	for _, r := range records {
		k := key{r.Note, r.Message}
		if counts[k] == 0 {
			order = append(order, k)
		}
		counts[k]++
	}
	lines := make([]string, 0, len(order))
	for _, k := range order {
		line := k.message
		if k.note != "" {
			line = k.note + ": " + k.message
		}
		if n := counts[k]; n > 1 {
			line = fmt.Sprintf("%s [%d times]", line, n)
		}
		lines = append(lines, line)
	}
	return lines
}

// newCommandError builds the structured failure for a finished run. Extra
// keys that would collide with the error's own fields are stripped; the
// ErrorRecordsKey entry becomes Records.
func newCommandError(cmd Cmd, res Result, message string) *CommandError {
	e := &CommandError{
		Command: cmd.CommandLine(),
		Message: message,
		Code:    res.Code,
		Stdout:  res.Stdout,
		Stderr:  res.Stderr,
		Dir:     cmd.Dir,
	}
	if len(res.Extra) == 0 {
		return e
	}
	extra := make(map[string]any, len(res.Extra))
	for k, v := range res.Extra {
		switch k {
		case "stdout", "stderr", "code", "cwd", "command", "message":
			// Would shadow the explicit fields above.
		case ErrorRecordsKey:
			if recs, ok := v.([]FailureRecord); ok {
				e.Records = recs
			} else {
				extra[k] = v
			}
		default:
			extra[k] = v
		}
	}
	if len(extra) > 0 {
		e.Extra = extra
	}
	return e
}
