// wardend is the warden daemon: the execution engine behind a REST API,
// a recurring-command scheduler, and optionally an MCP tool server on
// stdio for agent integrations.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/HyphaGroup/warden/internal/audit"
	"github.com/HyphaGroup/warden/internal/auth"
	"github.com/HyphaGroup/warden/internal/cleanup"
	"github.com/HyphaGroup/warden/internal/config"
	"github.com/HyphaGroup/warden/internal/execute"
	"github.com/HyphaGroup/warden/internal/httpapi"
	"github.com/HyphaGroup/warden/internal/journal"
	"github.com/HyphaGroup/warden/internal/mcp"
	"github.com/HyphaGroup/warden/internal/sandbox"
	"github.com/HyphaGroup/warden/internal/schedule"
	"github.com/HyphaGroup/warden/logging"
	"github.com/HyphaGroup/warden/runner"
)

// Version is set at build time via -ldflags "-X main.Version=v1.0.0"
var Version = "dev"

func main() {
	// Check for subcommands before parsing flags
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version", "--version", "-v":
			fmt.Printf("wardend %s\n", Version)
			return
		case "token":
			cmdToken(os.Args[2:])
			return
		case "help", "--help", "-h":
			printUsage()
			return
		}
	}

	// Default: run the daemon
	runServer()
}

func printUsage() {
	fmt.Printf(`wardend %s - command execution daemon

Usage: wardend [command] [options]

Commands:
  (default)    Start the daemon
  version      Print the version
  token        Manage API tokens (create, list, revoke)

Server Options:
  --config <path>   Configuration file (default: ./warden.jsonc,
                    then ~/.warden/warden.jsonc, else built-in defaults)
  --mcp-stdio       Also serve MCP tools on stdin/stdout

Examples:
  wardend                              Start with auto-detected config
  wardend --config /etc/warden.jsonc   Start with a specific config file
  wardend --mcp-stdio                  Serve HTTP and MCP together
  wardend token create --name ci       Mint an API token
`, Version)
}

func runServer() {
	configPath := flag.String("config", "", "Path to warden.jsonc")
	mcpStdio := flag.Bool("mcp-stdio", false, "Serve MCP tools on stdin/stdout alongside the HTTP API")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("wardend %s\n", Version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wardend: %v\n", err)
		os.Exit(1)
	}

	// Logs go to stderr so --mcp-stdio keeps stdout for the protocol.
	log := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	log.Info("wardend starting", "version", Version, "backend", cfg.Sandbox.Backend)

	// The journal path anchors the data directory; the sibling stores
	// live next to it.
	dataDir := filepath.Dir(cfg.Journal.Path)

	runs, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		log.Error("opening journal", "error", err)
		os.Exit(1)
	}
	defer func() { _ = runs.Close() }()

	schedules, err := schedule.Open(filepath.Join(dataDir, "schedules.db"))
	if err != nil {
		log.Error("opening schedule store", "error", err)
		os.Exit(1)
	}
	defer func() { _ = schedules.Close() }()

	tokens, err := auth.Open(filepath.Join(dataDir, "auth.db"))
	if err != nil {
		log.Error("opening token store", "error", err)
		os.Exit(1)
	}
	defer func() { _ = tokens.Close() }()

	trail := audit.NewDisabled()
	if cfg.Audit.Enabled {
		trail, err = audit.Open(cfg.Audit.Path, cfg.Audit.MaxSizeMB, log)
		if err != nil {
			log.Error("opening audit trail", "error", err)
			os.Exit(1)
		}
		defer func() { _ = trail.Close() }()
	}

	// The local backend needs no setup; docker gets verified up front so a
	// dead daemon socket fails the boot instead of the first run.
	var (
		spawner runner.Spawner
		ready   func(context.Context) error
	)
	if cfg.Sandbox.Backend == "docker" {
		box, err := sandbox.New(sandbox.Options{
			Image:  cfg.Sandbox.Image,
			Memory: cfg.Sandbox.Memory,
			CPUs:   cfg.Sandbox.CPUs,
		}, log)
		if err != nil {
			log.Error("initializing docker backend", "error", err)
			os.Exit(1)
		}
		defer func() { _ = box.Close() }()

		pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = box.Ping(pingCtx)
		cancel()
		if err != nil {
			log.Error("docker daemon unreachable", "error", err)
			os.Exit(1)
		}
		spawner = box
		ready = box.Ping
		log.Info("docker backend ready", "image", cfg.Sandbox.Image)
	}

	svc := execute.NewService(cfg, runs, trail, spawner, log)

	loop := schedule.NewLoop(schedules, scheduleExecutor(svc), cfg.ScheduleTick(), log)
	loop.Start()
	defer loop.Stop()

	limiter := auth.NewRateLimiter(cfg.Auth.RatePerSecond, cfg.Auth.RateBurst)

	cleaner := cleanup.New(runs, limiter, cleanup.Config{
		Interval:  cfg.PruneInterval(),
		Retention: cfg.Retention(),
		BackupDir: cfg.Journal.BackupDir,
	}, log)
	cleaner.Start()
	defer cleaner.Stop()

	api := httpapi.NewServer(httpapi.Deps{
		Config:    cfg,
		Exec:      svc,
		Runs:      runs,
		Schedules: schedules,
		Loop:      loop,
		Tokens:    tokens,
		Limiter:   limiter,
		Trail:     trail,
		Ready:     ready,
		Log:       log,
	})
	httpServer := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", "address", cfg.Server.Address)
		serverErr <- httpServer.ListenAndServe()
	}()

	// MCP rides the process's stdio; a client hangup there does not stop
	// the HTTP side.
	mcpCtx, mcpCancel := context.WithCancel(context.Background())
	defer mcpCancel()
	if *mcpStdio {
		tools := mcp.NewServer(mcp.Deps{
			Config:    cfg,
			Exec:      svc,
			Runs:      runs,
			Schedules: schedules,
			Trail:     trail,
			Log:       log,
			Version:   Version,
		})
		go func() {
			if err := tools.Run(mcpCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn("mcp server stopped", "error", err)
			}
		}()
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Error("http server failed", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		log.Info("shutting down", "signal", sig.String())
	}

	mcpCancel()
	loop.Stop()
	cleaner.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "error", err)
	}
	log.Info("shutdown complete")
}

// scheduleExecutor adapts the run pipeline to the schedule loop. A run that
// started and failed reports through the exit code; only a run that never
// started surfaces as an error.
func scheduleExecutor(svc *execute.Service) schedule.ExecuteFunc {
	return func(ctx context.Context, sc *schedule.ScheduledCommand) (string, *int, error) {
		resp, err := svc.Run(ctx, execute.Request{
			Command:    sc.Command,
			Dir:        sc.Dir,
			Capture:    sc.Capture,
			Origin:     journal.OriginSchedule,
			ScheduleID: sc.ID,
		})
		if err != nil {
			return "", nil, err
		}
		return resp.Run.ID, resp.Run.ExitCode, nil
	}
}
