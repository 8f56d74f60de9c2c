package runner

// Result is the aggregated outcome of one blocking run.
type Result struct {
	// Stdout and Stderr hold the decoded captures, empty for streams the
	// protocol did not capture.
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	// Code is the child's exit code; a child terminated by a signal reports
	// the negated signal number.
	Code int `json:"code"`
	// Extra carries protocol-defined values beyond the standard keys. The
	// ErrorRecordsKey entry, if present, feeds CommandError rendering.
	Extra map[string]any `json:"extra,omitempty"`
}
