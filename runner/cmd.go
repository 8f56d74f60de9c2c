package runner

// Cmd describes one command invocation: an argv vector or a shell line, an
// optional working directory and environment. It is treated as immutable for
// the duration of a run.
type Cmd struct {
	// Argv is the command and its arguments. Ignored when Shell is set.
	Argv []string
	// Shell is an alternative to Argv: a command line handed to "sh -c".
	Shell string
	// Dir is the working directory; empty means the caller's.
	Dir string
	// Env is the child environment; nil inherits the parent's.
	Env []string
}

// Command builds a Cmd from an argv vector.
func Command(argv ...string) Cmd { return Cmd{Argv: argv} }

// ShellCommand builds a Cmd that runs line through "sh -c".
func ShellCommand(line string) Cmd { return Cmd{Shell: line} }

// CommandLine resolves the final argv, wrapping Shell lines in "sh -c".
// Spawner implementations use this rather than reading Argv directly.
func (c Cmd) CommandLine() []string {
	if c.Shell != "" {
		return []string{"sh", "-c", c.Shell}
	}
	return c.Argv
}
