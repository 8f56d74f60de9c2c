// Package runner is a portable subprocess execution engine. It launches an
// external command, attaches a pluggable Protocol that interprets the child's
// standard streams, and returns either a single aggregated Result or a lazy,
// restartable sequence of protocol-emitted values.
//
// Each piped stream is serviced by a pair of goroutines: an inner one doing
// nothing but the blocking native read or write, and an outer one that
// applies the advisory timeout, honors polite stop requests, and forwards
// normalized events onto one shared queue consumed by a single dispatch loop.
// An inner goroutine blocked in a native call may outlive a stop request and
// exits once the pipe closes; the engine reports completion based only on
// observable stream state, never by force-terminating a blocked read.
package runner
