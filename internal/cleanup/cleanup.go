// Package cleanup runs the daemon's periodic maintenance: journal
// retention, snapshot backups and rate-limiter compaction.
package cleanup

import (
	"context"
	"sync"
	"time"

	"github.com/HyphaGroup/warden/internal/auth"
	"github.com/HyphaGroup/warden/internal/journal"
	"github.com/HyphaGroup/warden/logging"
)

// Config holds the maintenance cadence and retention knobs.
type Config struct {
	Interval    time.Duration // sweep period
	Retention   time.Duration // finished runs older than this are pruned
	BackupDir   string        // where journal snapshots land, empty disables
	BackupEvery time.Duration // snapshot period, defaults to 24h
	KeepBackups int           // snapshots kept in BackupDir, defaults to 7
}

// Cleaner prunes the run journal, snapshots it and compacts the rate
// limiter on a fixed cadence. All work happens on one goroutine, so a
// slow backup delays the next sweep rather than overlapping it.
type Cleaner struct {
	store   *journal.Store
	limiter *auth.RateLimiter
	log     logging.Logger

	interval    time.Duration
	retention   time.Duration
	backupDir   string
	backupEvery time.Duration
	keepBackups int

	lastBackup time.Time
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// New creates a Cleaner. A nil limiter skips limiter compaction; an empty
// BackupDir disables snapshots.
func New(store *journal.Store, limiter *auth.RateLimiter, cfg Config, log logging.Logger) *Cleaner {
	if log == nil {
		log = logging.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.BackupEvery <= 0 {
		cfg.BackupEvery = 24 * time.Hour
	}
	if cfg.KeepBackups <= 0 {
		cfg.KeepBackups = 7
	}
	return &Cleaner{
		store:       store,
		limiter:     limiter,
		log:         log,
		interval:    cfg.Interval,
		retention:   cfg.Retention,
		backupDir:   cfg.BackupDir,
		backupEvery: cfg.BackupEvery,
		keepBackups: cfg.KeepBackups,
	}
}

// Start begins the sweep loop. The first sweep runs immediately, which
// also takes the boot snapshot.
func (c *Cleaner) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		c.sweep()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.sweep()
			}
		}
	}()

	c.log.Info("maintenance loop started",
		"interval", c.interval, "retention", c.retention)
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (c *Cleaner) Stop() {
	if c.cancel != nil {
		c.cancel()
		c.wg.Wait()
	}
}

func (c *Cleaner) sweep() {
	c.pruneJournal()
	c.snapshotJournal()
	if c.limiter != nil {
		c.limiter.Reset()
	}
}

// pruneJournal drops finished runs past the retention window. Runs still
// in flight are never pruned regardless of age.
func (c *Cleaner) pruneJournal() {
	if c.retention <= 0 {
		return
	}
	pruned, err := c.store.Prune(time.Now().Add(-c.retention))
	if err != nil {
		c.log.Warn("pruning journal", "error", err)
		return
	}
	if pruned > 0 {
		c.log.Info("journal pruned", "runs", pruned)
	}
}

func (c *Cleaner) snapshotJournal() {
	if c.backupDir == "" || time.Since(c.lastBackup) < c.backupEvery {
		return
	}
	path, err := c.store.Backup(c.backupDir, c.keepBackups)
	if err != nil {
		c.log.Warn("backing up journal", "error", err)
		return
	}
	c.lastBackup = time.Now()
	c.log.Info("journal backed up", "path", path)
}
