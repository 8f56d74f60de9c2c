// warden runs one command through the execution engine from the command
// line. It spawns, captures and times out exactly as the daemon does, but
// talks to the runner library directly: no server, no journal, no tokens.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HyphaGroup/warden/runner"
)

// Version is set at build time via -ldflags "-X main.Version=x.y.z".
var Version = "dev"

func main() {
	os.Exit(run())
}

// run is main without the os.Exit, so deferred cleanup still happens.
func run() int {
	flag.Usage = printUsage

	var (
		dir       = flag.String("C", "", "working directory for the command")
		shell     = flag.String("c", "", "shell line to run through \"sh -c\"")
		timeout   = flag.Duration("timeout", 0, "kill the command after this long")
		capture   = flag.String("capture", "both", "capture mode: both, stdout, stderr or none")
		stdinFrom = flag.String("stdin", "", "stdin source: \"-\" or a file path")
		stream    = flag.Bool("stream", false, "print output line by line as it arrives")
		jsonOut   = flag.Bool("json", false, "report the result as JSON")
		version   = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *version {
		fmt.Printf("warden %s\n", Version)
		return 0
	}

	argv := flag.Args()
	switch {
	case *shell != "" && len(argv) > 0:
		fmt.Fprintln(os.Stderr, "warden: -c and a command are mutually exclusive")
		return 2
	case *shell == "" && len(argv) == 0:
		printUsage()
		return 2
	}

	factory, err := captureFactory(*capture, *stream)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warden: %v\n", err)
		return 2
	}

	var cmd runner.Cmd
	if *shell != "" {
		cmd = runner.ShellCommand(*shell)
	} else {
		cmd = runner.Command(argv...)
	}
	cmd.Dir = *dir

	opts := []runner.Option{}
	if *timeout > 0 {
		opts = append(opts, runner.WithTimeout(*timeout))
	}
	src, closeSrc, err := stdinSource(*stdinFrom)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warden: %v\n", err)
		return 2
	}
	if closeSrc != nil {
		defer closeSrc()
	}
	opts = append(opts, runner.WithStdin(src))

	// Ctrl-C cancels the context; the engine then kills the child and
	// reports its termination through the usual exit-code path.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *stream {
		return runStreaming(ctx, cmd, *capture, opts, *jsonOut)
	}
	return runBlocking(ctx, cmd, factory, opts, *jsonOut)
}

// captureFactory maps the --capture flag onto a protocol factory. Streaming
// builds its own protocol, so here it only validates the mode.
func captureFactory(mode string, streaming bool) (runner.ProtocolFactory, error) {
	switch mode {
	case "both":
		return runner.CaptureBoth, nil
	case "stdout":
		return runner.CaptureStdout, nil
	case "stderr":
		return runner.CaptureStderr, nil
	case "none":
		if streaming {
			return nil, errors.New("-capture none leaves nothing to stream")
		}
		return runner.Discard, nil
	default:
		return nil, fmt.Errorf("unknown capture mode %q", mode)
	}
}

// stdinSource resolves the --stdin flag. "-" passes the terminal's stdin
// straight through, a path feeds the named file, and the default gives the
// child immediate end-of-file.
func stdinSource(from string) (runner.StdinSource, func(), error) {
	switch from {
	case "":
		return runner.StdinSource{}, nil, nil
	case "-":
		return runner.StdinFile(os.Stdin), nil, nil
	default:
		f, err := os.Open(from)
		if err != nil {
			return runner.StdinSource{}, nil, fmt.Errorf("opening stdin source: %w", err)
		}
		return runner.StdinFile(f), func() { _ = f.Close() }, nil
	}
}

// runReport is the --json output for a blocking run.
type runReport struct {
	Code     int    `json:"code"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration"`
}

func runBlocking(ctx context.Context, cmd runner.Cmd, factory runner.ProtocolFactory, opts []runner.Option, jsonOut bool) int {
	start := time.Now()
	res, err := runner.Run(ctx, cmd, factory, opts...)
	elapsed := time.Since(start).Round(time.Millisecond)

	stdout, stderr := res.Stdout, res.Stderr
	status := exitStatus(res.Code)
	var errMsg string
	if err != nil {
		var ce *runner.CommandError
		if !errors.As(err, &ce) {
			fmt.Fprintf(os.Stderr, "warden: %v\n", err)
			return 1
		}
		stdout, stderr = ce.Stdout, ce.Stderr
		status = exitStatus(ce.Code)
		errMsg = ce.Message
	}

	if jsonOut {
		report := runReport{Code: status, Stdout: stdout, Stderr: stderr, Error: errMsg, Duration: elapsed.String()}
		if err := json.NewEncoder(os.Stdout).Encode(report); err != nil {
			fmt.Fprintf(os.Stderr, "warden: %v\n", err)
			return 1
		}
		return status
	}

	// Relay the captures verbatim, each to its own descriptor.
	os.Stdout.WriteString(stdout)
	os.Stderr.WriteString(stderr)
	return status
}

func runStreaming(ctx context.Context, cmd runner.Cmd, capture string, opts []runner.Option, jsonOut bool) int {
	factory := func() runner.Protocol { return newLineProtocol(capture) }
	gen, err := runner.New(cmd, factory, opts...).Start(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warden: %v\n", err)
		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	for {
		v, ok := gen.Next()
		if !ok {
			break
		}
		frame, ok := v.(streamFrame)
		if !ok {
			continue
		}
		if jsonOut {
			_ = enc.Encode(frame)
			continue
		}
		switch frame.Type {
		case "stdout":
			fmt.Fprintln(os.Stdout, frame.Data)
		case "stderr":
			fmt.Fprintln(os.Stderr, frame.Data)
		}
	}

	status := 0
	var errMsg string
	if err := gen.Err(); err != nil {
		var ce *runner.CommandError
		switch {
		case errors.As(err, &ce):
			status = exitStatus(ce.Code)
			errMsg = ce.Message
		default:
			fmt.Fprintf(os.Stderr, "warden: %v\n", err)
			return 1
		}
	}
	if jsonOut {
		code := status
		_ = enc.Encode(streamFrame{Type: "exit", Code: &code, Error: errMsg})
	}
	return status
}

// exitStatus folds the engine's signal convention back into the shell's:
// a child terminated by signal n exits 128+n.
func exitStatus(code int) int {
	if code < 0 {
		return 128 - code
	}
	return code
}

func printUsage() {
	fmt.Printf(`warden %s - run one command through the execution engine

Usage:
  warden [flags] <command> [args...]
  warden [flags] -c '<shell line>'

Flags:
  -C <dir>           Working directory for the command
  -c <line>          Run a shell line through "sh -c" instead of an argv
  -timeout <dur>     Kill the command after this long (default: no limit)
  -capture <mode>    both, stdout, stderr or none (default: both)
  -stdin <source>    "-" passes stdin through; a path feeds that file;
                     unset gives the child immediate end-of-file
  -stream            Print output line by line as it is produced
  -json              Report the result as JSON instead of raw output
  -version           Print version and exit

Exit status mirrors the command's own exit code. A command killed by
signal n exits 128+n. Engine failures exit 1, usage errors 2.

Examples:
  warden -- ls -la /tmp
  warden -c 'sleep 2 && echo done' -timeout 5s
  warden -stream -- make test
  warden -json -capture stdout -- git status --short
`, Version)
}
