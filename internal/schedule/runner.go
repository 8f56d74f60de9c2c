package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/HyphaGroup/warden/internal/metrics"
	"github.com/HyphaGroup/warden/logging"
)

// ExecuteFunc runs one due schedule through the execution engine. It returns
// the journal run id and the exit code, or an error when the command could
// not be started at all.
type ExecuteFunc func(ctx context.Context, sc *ScheduledCommand) (runID string, exitCode *int, err error)

// Loop ticks over the store, executing schedules as they come due. A
// schedule whose previous execution is still in flight is skipped for that
// tick rather than run concurrently with itself.
type Loop struct {
	store   *Store
	execute ExecuteFunc
	tick    time.Duration
	log     logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running map[string]bool
}

// NewLoop creates a schedule loop. The tick interval controls how often due
// schedules are looked up; activation times themselves come from the cron
// expressions.
func NewLoop(store *Store, execute ExecuteFunc, tick time.Duration, log logging.Logger) *Loop {
	if tick <= 0 {
		tick = 30 * time.Second
	}
	if log == nil {
		log = logging.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Loop{
		store:   store,
		execute: execute,
		tick:    tick,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
		running: make(map[string]bool),
	}
}

// Start begins ticking in the background.
func (l *Loop) Start() {
	l.wg.Add(1)
	go l.run()
	l.log.Info("schedule loop started", "tick", l.tick)
}

// Stop cancels in-flight executions and waits for them to unwind.
func (l *Loop) Stop() {
	l.cancel()
	l.wg.Wait()
	l.log.Info("schedule loop stopped")
}

func (l *Loop) run() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.tick)
	defer ticker.Stop()

	// Check immediately so schedules missed during downtime run on startup.
	l.checkDue()

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			l.checkDue()
		}
	}
}

func (l *Loop) checkDue() {
	now := time.Now().UTC()
	due, err := l.store.ListDue(now)
	if err != nil {
		l.log.Error("listing due schedules", "error", err)
		return
	}
	for _, sc := range due {
		l.dispatch(sc)
	}
}

// dispatch starts one execution unless the schedule is already running.
func (l *Loop) dispatch(sc *ScheduledCommand) {
	l.mu.Lock()
	if l.running[sc.ID] {
		l.mu.Unlock()
		l.log.Info("skipping schedule, previous execution still running", "id", sc.ID, "name", sc.Name)
		metrics.RecordScheduleRun("skipped")
		return
	}
	l.running[sc.ID] = true
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer func() {
			l.mu.Lock()
			delete(l.running, sc.ID)
			l.mu.Unlock()
		}()
		l.runOne(sc, true)
	}()
}

// runOne executes the schedule and records the outcome. When advance is set
// the next activation is recomputed from the cron expression; a manual
// trigger leaves it alone.
func (l *Loop) runOne(sc *ScheduledCommand, advance bool) {
	now := time.Now().UTC()
	l.log.Info("executing schedule", "id", sc.ID, "name", sc.Name)

	runID, exitCode, err := l.execute(l.ctx, sc)
	switch {
	case err != nil:
		l.log.Error("schedule execution failed", "id", sc.ID, "error", err)
		metrics.RecordScheduleRun("failed")
	case exitCode != nil && *exitCode != 0:
		l.log.Warn("schedule command exited non-zero", "id", sc.ID, "run_id", runID, "code", *exitCode)
		metrics.RecordScheduleRun("failed")
	default:
		metrics.RecordScheduleRun("ok")
	}

	nextRun := sc.NextRunAt
	if advance {
		next, err := NextRun(sc.CronExpr, now)
		if err != nil {
			l.log.Error("calculating next run", "id", sc.ID, "error", err)
			return
		}
		nextRun = &next
	}

	if err := l.store.RecordRun(sc.ID, now, nextRun, runID, exitCode); err != nil {
		l.log.Error("recording schedule run", "id", sc.ID, "error", err)
		return
	}
	if nextRun != nil {
		l.log.Info("schedule completed", "id", sc.ID, "next_run", nextRun.Format(time.RFC3339))
	}
}

// TriggerNow runs a schedule immediately, outside its cron cadence. The next
// activation time is not advanced. Returns whether the trigger was accepted;
// it is refused while a previous execution is still running.
func (l *Loop) TriggerNow(sc *ScheduledCommand) bool {
	l.mu.Lock()
	if l.running[sc.ID] {
		l.mu.Unlock()
		return false
	}
	l.running[sc.ID] = true
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer func() {
			l.mu.Lock()
			delete(l.running, sc.ID)
			l.mu.Unlock()
		}()
		l.runOne(sc, false)
	}()
	return true
}

// IsRunning reports whether an execution of the schedule is in flight.
func (l *Loop) IsRunning(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running[id]
}
