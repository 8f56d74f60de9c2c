// Package validation checks identifiers and run requests arriving over the
// API surfaces before they reach the engine or a store.
package validation

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	runIDRegex      = regexp.MustCompile(`^run_[0-9a-f]{8}$`)
	scheduleIDRegex = regexp.MustCompile(`^sched_[0-9a-f]{8}$`)
	tokenIDRegex    = regexp.MustCompile(`^tok_[0-9a-f]{8}$`)
)

// ValidateRunID checks a journal run identifier.
func ValidateRunID(id string) error {
	if id == "" {
		return fmt.Errorf("run ID cannot be empty")
	}
	if !runIDRegex.MatchString(id) {
		return fmt.Errorf("invalid run ID format: %s", id)
	}
	return nil
}

// ValidateScheduleID checks a schedule identifier.
func ValidateScheduleID(id string) error {
	if id == "" {
		return fmt.Errorf("schedule ID cannot be empty")
	}
	if !scheduleIDRegex.MatchString(id) {
		return fmt.Errorf("invalid schedule ID format: %s", id)
	}
	return nil
}

// ValidateTokenID checks an API token identifier.
func ValidateTokenID(id string) error {
	if id == "" {
		return fmt.Errorf("token ID cannot be empty")
	}
	if !tokenIDRegex.MatchString(id) {
		return fmt.Errorf("invalid token ID format: %s", id)
	}
	return nil
}

// ValidateCommand checks an argv about to be executed. The first element is
// the executable; none may carry a NUL byte.
func ValidateCommand(argv []string) error {
	if len(argv) == 0 {
		return fmt.Errorf("command cannot be empty")
	}
	if strings.TrimSpace(argv[0]) == "" {
		return fmt.Errorf("command executable cannot be blank")
	}
	for i, arg := range argv {
		if strings.ContainsRune(arg, 0) {
			return fmt.Errorf("command argument %d contains a NUL byte", i)
		}
	}
	return nil
}

// ValidateDir checks a requested working directory. Empty means the backend
// default; anything else must be an absolute, clean path.
func ValidateDir(dir string) error {
	if dir == "" {
		return nil
	}
	if strings.ContainsRune(dir, 0) {
		return fmt.Errorf("directory contains a NUL byte")
	}
	if !filepath.IsAbs(dir) {
		return fmt.Errorf("directory must be absolute: %s", dir)
	}
	if dir != filepath.Clean(dir) {
		return fmt.Errorf("directory must be a clean path: %s", dir)
	}
	return nil
}

// CaptureModes lists the accepted capture settings for a run request. The
// empty string selects the default ("both").
var CaptureModes = []string{"both", "stdout", "stderr", "none"}

// ValidateCaptureMode checks a requested output capture setting.
func ValidateCaptureMode(mode string) error {
	if mode == "" {
		return nil
	}
	for _, m := range CaptureModes {
		if mode == m {
			return nil
		}
	}
	return fmt.Errorf("invalid capture mode %q: must be one of %s", mode, strings.Join(CaptureModes, ", "))
}

// ValidateTimeout checks a requested timeout in seconds against the
// configured ceiling. Zero selects the default.
func ValidateTimeout(seconds, maxSeconds int) error {
	if seconds < 0 {
		return fmt.Errorf("timeout cannot be negative")
	}
	if maxSeconds > 0 && seconds > maxSeconds {
		return fmt.Errorf("timeout %ds exceeds the maximum of %ds", seconds, maxSeconds)
	}
	return nil
}
