package config

import (
	"fmt"
	"time"
)

// Config is the full daemon configuration loaded from warden.jsonc.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Log      LogConfig      `json:"log"`
	Journal  JournalConfig  `json:"journal"`
	Sandbox  SandboxConfig  `json:"sandbox"`
	Schedule ScheduleConfig `json:"schedule"`
	Auth     AuthConfig     `json:"auth"`
	Run      RunConfig      `json:"run"`
	Audit    AuditConfig    `json:"audit"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Address string `json:"address"`
}

// LogConfig selects log verbosity and output format.
type LogConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text or json
}

// JournalConfig configures the run journal database.
type JournalConfig struct {
	Path               string `json:"path"`
	RetentionDays      int    `json:"retention_days"`
	PruneIntervalHours int    `json:"prune_interval_hours"`
	BackupDir          string `json:"backup_dir"`
}

// SandboxConfig selects where commands execute.
type SandboxConfig struct {
	// Backend is "local" for host processes or "docker" for containers.
	Backend string `json:"backend"`
	// Image is the container image used by the docker backend.
	Image string `json:"image"`
	// Memory caps container memory ("512M", "4G"). Empty means no limit.
	Memory string `json:"memory"`
	// CPUs caps container CPU cores. Zero means no limit.
	CPUs int `json:"cpus"`
}

// ScheduleConfig configures the recurring-command loop. Pausing individual
// schedules happens per entry; the loop itself always runs.
type ScheduleConfig struct {
	TickSeconds  int `json:"tick_seconds"`
	HistoryLimit int `json:"history_limit"`
}

// AuthConfig configures API token auth and rate limiting. Auth defaults to
// off for loopback development; enable it before exposing the listener.
type AuthConfig struct {
	Enabled       bool    `json:"enabled"`
	RatePerSecond float64 `json:"rate_per_second"`
	RateBurst     int     `json:"rate_burst"`
}

// RunConfig bounds individual run requests.
type RunConfig struct {
	DefaultTimeoutSeconds int `json:"default_timeout_seconds"`
	MaxTimeoutSeconds     int `json:"max_timeout_seconds"`
}

// AuditConfig configures the append-only audit trail.
type AuditConfig struct {
	Enabled   bool   `json:"enabled"`
	Path      string `json:"path"`
	MaxSizeMB int    `json:"max_size_mb"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = "127.0.0.1:8787"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Journal.Path == "" {
		cfg.Journal.Path = "data/warden.db"
	}
	if cfg.Journal.RetentionDays == 0 {
		cfg.Journal.RetentionDays = 30
	}
	if cfg.Journal.PruneIntervalHours == 0 {
		cfg.Journal.PruneIntervalHours = 1
	}
	if cfg.Journal.BackupDir == "" {
		cfg.Journal.BackupDir = "data/backups"
	}
	if cfg.Sandbox.Backend == "" {
		cfg.Sandbox.Backend = "local"
	}
	if cfg.Sandbox.Image == "" {
		cfg.Sandbox.Image = "alpine:3.20"
	}
	if cfg.Schedule.TickSeconds == 0 {
		cfg.Schedule.TickSeconds = 30
	}
	if cfg.Schedule.HistoryLimit == 0 {
		cfg.Schedule.HistoryLimit = 20
	}
	if cfg.Auth.RatePerSecond == 0 {
		cfg.Auth.RatePerSecond = 10
	}
	if cfg.Auth.RateBurst == 0 {
		cfg.Auth.RateBurst = 20
	}
	if cfg.Run.DefaultTimeoutSeconds == 0 {
		cfg.Run.DefaultTimeoutSeconds = 300
	}
	if cfg.Run.MaxTimeoutSeconds == 0 {
		cfg.Run.MaxTimeoutSeconds = 3600
	}
	if cfg.Audit.Path == "" {
		cfg.Audit.Path = "data/audit.jsonl"
	}
	if cfg.Audit.MaxSizeMB == 0 {
		cfg.Audit.MaxSizeMB = 64
	}
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	switch c.Sandbox.Backend {
	case "local", "docker":
	default:
		return fmt.Errorf("sandbox.backend %q: must be local or docker", c.Sandbox.Backend)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q: must be text or json", c.Log.Format)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q: must be debug, info, warn or error", c.Log.Level)
	}
	if c.Run.MaxTimeoutSeconds < c.Run.DefaultTimeoutSeconds {
		return fmt.Errorf("run.max_timeout_seconds %d is below run.default_timeout_seconds %d",
			c.Run.MaxTimeoutSeconds, c.Run.DefaultTimeoutSeconds)
	}
	if c.Schedule.TickSeconds < 1 {
		return fmt.Errorf("schedule.tick_seconds %d: must be at least 1", c.Schedule.TickSeconds)
	}
	return nil
}

// DefaultTimeout returns the run timeout applied when a request names none.
func (c *Config) DefaultTimeout() time.Duration {
	return time.Duration(c.Run.DefaultTimeoutSeconds) * time.Second
}

// MaxTimeout returns the ceiling applied to requested run timeouts.
func (c *Config) MaxTimeout() time.Duration {
	return time.Duration(c.Run.MaxTimeoutSeconds) * time.Second
}

// ScheduleTick returns the period of the due-schedule scan.
func (c *Config) ScheduleTick() time.Duration {
	return time.Duration(c.Schedule.TickSeconds) * time.Second
}

// PruneInterval returns the period of the journal retention sweep.
func (c *Config) PruneInterval() time.Duration {
	return time.Duration(c.Journal.PruneIntervalHours) * time.Hour
}

// Retention returns the journal retention window.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Journal.RetentionDays) * 24 * time.Hour
}
