package httpapi

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/HyphaGroup/warden/internal/journal"
	"github.com/HyphaGroup/warden/internal/schedule"
)

func createTestSchedule(t *testing.T, ts *testServer, name string) *schedule.ScheduledCommand {
	t.Helper()
	resp := ts.do(t, http.MethodPost, "/v1/schedules", map[string]any{
		"name":      name,
		"command":   []string{"echo", "tick"},
		"cron_expr": "*/5 * * * *",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("creating schedule: status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	var sc schedule.ScheduledCommand
	decodeJSON(t, resp, &sc)
	return &sc
}

func TestCreateSchedule(t *testing.T) {
	ts := newTestServer(t)

	sc := createTestSchedule(t, ts, "nightly")
	if !strings.HasPrefix(sc.ID, "sched_") {
		t.Errorf("id = %q, want sched_ prefix", sc.ID)
	}
	if !sc.Enabled {
		t.Error("enabled should default to true")
	}
	if sc.NextRunAt == nil {
		t.Error("expected a next activation time")
	}
}

func TestCreateScheduleValidation(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing name", map[string]any{"command": []string{"true"}, "cron_expr": "* * * * *"}},
		{"missing command", map[string]any{"name": "x", "cron_expr": "* * * * *"}},
		{"bad cron", map[string]any{"name": "x", "command": []string{"true"}, "cron_expr": "not cron"}},
		{"relative dir", map[string]any{"name": "x", "command": []string{"true"}, "cron_expr": "* * * * *", "dir": "rel"}},
		{"bad capture", map[string]any{"name": "x", "command": []string{"true"}, "cron_expr": "* * * * *", "capture": "tee"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(t, http.MethodPost, "/v1/schedules", tt.body)
			defer func() { _ = resp.Body.Close() }()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
			}
		})
	}
}

func TestScheduleCaptureMode(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/v1/schedules", map[string]any{
		"name":      "quiet",
		"command":   []string{"true"},
		"capture":   "none",
		"cron_expr": "* * * * *",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	var sc schedule.ScheduledCommand
	decodeJSON(t, resp, &sc)
	if sc.Capture != "none" {
		t.Errorf("capture = %q, want %q", sc.Capture, "none")
	}

	patched := ts.do(t, http.MethodPatch, "/v1/schedules/"+sc.ID, map[string]any{"capture": "stderr"})
	var updated schedule.ScheduledCommand
	decodeJSON(t, patched, &updated)
	if updated.Capture != "stderr" {
		t.Errorf("capture after patch = %q, want %q", updated.Capture, "stderr")
	}

	bad := ts.do(t, http.MethodPatch, "/v1/schedules/"+sc.ID, map[string]any{"capture": "tee"})
	defer func() { _ = bad.Body.Close() }()
	if bad.StatusCode != http.StatusBadRequest {
		t.Errorf("bad capture status = %d, want %d", bad.StatusCode, http.StatusBadRequest)
	}
}

func TestListSchedules(t *testing.T) {
	ts := newTestServer(t)
	createTestSchedule(t, ts, "one")
	second := createTestSchedule(t, ts, "two")

	resp := ts.do(t, http.MethodPatch, "/v1/schedules/"+second.ID, map[string]any{"enabled": false})
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("disabling schedule: status = %d", resp.StatusCode)
	}

	all := ts.do(t, http.MethodGet, "/v1/schedules", nil)
	var body struct {
		Schedules []*schedule.ScheduledCommand `json:"schedules"`
	}
	decodeJSON(t, all, &body)
	if len(body.Schedules) != 2 {
		t.Fatalf("got %d schedules, want 2", len(body.Schedules))
	}

	enabled := ts.do(t, http.MethodGet, "/v1/schedules?enabled=true", nil)
	var filtered struct {
		Schedules []*schedule.ScheduledCommand `json:"schedules"`
	}
	decodeJSON(t, enabled, &filtered)
	if len(filtered.Schedules) != 1 || filtered.Schedules[0].Name != "one" {
		t.Errorf("enabled filter returned %d schedules, want just %q", len(filtered.Schedules), "one")
	}

	bad := ts.do(t, http.MethodGet, "/v1/schedules?enabled=maybe", nil)
	defer func() { _ = bad.Body.Close() }()
	if bad.StatusCode != http.StatusBadRequest {
		t.Errorf("bad filter status = %d, want %d", bad.StatusCode, http.StatusBadRequest)
	}
}

func TestGetSchedule(t *testing.T) {
	ts := newTestServer(t)
	sc := createTestSchedule(t, ts, "lookup")

	resp := ts.do(t, http.MethodGet, "/v1/schedules/"+sc.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var got schedule.ScheduledCommand
	decodeJSON(t, resp, &got)
	if got.Name != "lookup" {
		t.Errorf("name = %q, want lookup", got.Name)
	}

	missing := ts.do(t, http.MethodGet, "/v1/schedules/sched_deadbeef", nil)
	defer func() { _ = missing.Body.Close() }()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("missing schedule status = %d, want %d", missing.StatusCode, http.StatusNotFound)
	}
}

func TestUpdateSchedule(t *testing.T) {
	ts := newTestServer(t)
	sc := createTestSchedule(t, ts, "mutable")

	resp := ts.do(t, http.MethodPatch, "/v1/schedules/"+sc.ID, map[string]any{
		"name":      "renamed",
		"cron_expr": "0 12 * * *",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var updated schedule.ScheduledCommand
	decodeJSON(t, resp, &updated)
	if updated.Name != "renamed" {
		t.Errorf("name = %q, want renamed", updated.Name)
	}
	if updated.CronExpr != "0 12 * * *" {
		t.Errorf("cron = %q, want 0 12 * * *", updated.CronExpr)
	}

	t.Run("disable clears next run", func(t *testing.T) {
		resp := ts.do(t, http.MethodPatch, "/v1/schedules/"+sc.ID, map[string]any{"enabled": false})
		var disabled schedule.ScheduledCommand
		decodeJSON(t, resp, &disabled)
		if disabled.NextRunAt != nil {
			t.Errorf("next_run_at = %v, want nil after disabling", disabled.NextRunAt)
		}
	})

	t.Run("bad cron rejected", func(t *testing.T) {
		resp := ts.do(t, http.MethodPatch, "/v1/schedules/"+sc.ID, map[string]any{"cron_expr": "nope"})
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
		}
	})
}

func TestDeleteSchedule(t *testing.T) {
	ts := newTestServer(t)
	sc := createTestSchedule(t, ts, "doomed")

	resp := ts.do(t, http.MethodDelete, "/v1/schedules/"+sc.ID, nil)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}

	gone := ts.do(t, http.MethodGet, "/v1/schedules/"+sc.ID, nil)
	defer func() { _ = gone.Body.Close() }()
	if gone.StatusCode != http.StatusNotFound {
		t.Errorf("status after delete = %d, want %d", gone.StatusCode, http.StatusNotFound)
	}

	again := ts.do(t, http.MethodDelete, "/v1/schedules/"+sc.ID, nil)
	defer func() { _ = again.Body.Close() }()
	if again.StatusCode != http.StatusNotFound {
		t.Errorf("repeat delete status = %d, want %d", again.StatusCode, http.StatusNotFound)
	}
}

func TestTriggerSchedule(t *testing.T) {
	ts := newTestServer(t)
	sc := createTestSchedule(t, ts, "on-demand")

	release := make(chan struct{})
	ts.stub.setBlock(release)

	first := ts.do(t, http.MethodPost, "/v1/schedules/"+sc.ID+"/trigger", nil)
	_ = first.Body.Close()
	if first.StatusCode != http.StatusAccepted {
		t.Fatalf("first trigger status = %d, want %d", first.StatusCode, http.StatusAccepted)
	}

	// The stub is still blocked, so a second trigger must be refused.
	second := ts.do(t, http.MethodPost, "/v1/schedules/"+sc.ID+"/trigger", nil)
	_ = second.Body.Close()
	if second.StatusCode != http.StatusConflict {
		t.Errorf("concurrent trigger status = %d, want %d", second.StatusCode, http.StatusConflict)
	}

	close(release)
	waitForRelease(t, ts, sc.ID)

	if got := ts.stub.callCount(); got != 1 {
		t.Errorf("executor ran %d times, want 1", got)
	}
	stored, err := ts.store.Get(sc.ID)
	if err != nil {
		t.Fatalf("reloading schedule: %v", err)
	}
	if stored.LastRunID != ts.stub.runID {
		t.Errorf("last_run_id = %q, want %q", stored.LastRunID, ts.stub.runID)
	}
	if stored.LastRunAt == nil {
		t.Error("expected last_run_at after trigger")
	}
}

func TestTriggerMissingSchedule(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/v1/schedules/sched_deadbeef/trigger", nil)
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestScheduleRuns(t *testing.T) {
	ts := newTestServer(t)
	sc := createTestSchedule(t, ts, "with-history")

	// Seed journal entries attributed to the schedule, plus one that is not.
	for i := 0; i < 3; i++ {
		run := &journal.Run{
			Origin:     journal.OriginSchedule,
			ScheduleID: sc.ID,
			Command:    []string{"echo", "tick"},
		}
		if err := ts.journal.Record(run); err != nil {
			t.Fatalf("seeding run: %v", err)
		}
	}
	other := &journal.Run{Origin: journal.OriginHTTP, Command: []string{"true"}}
	if err := ts.journal.Record(other); err != nil {
		t.Fatalf("seeding run: %v", err)
	}

	resp := ts.do(t, http.MethodGet, "/v1/schedules/"+sc.ID+"/runs", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var body struct {
		ScheduleID string         `json:"schedule_id"`
		Runs       []*journal.Run `json:"runs"`
	}
	decodeJSON(t, resp, &body)
	if body.ScheduleID != sc.ID {
		t.Errorf("schedule_id = %q, want %q", body.ScheduleID, sc.ID)
	}
	if len(body.Runs) != 3 {
		t.Fatalf("got %d runs, want 3", len(body.Runs))
	}
	for _, run := range body.Runs {
		if run.ScheduleID != sc.ID {
			t.Errorf("run %s schedule_id = %q, want %q", run.ID, run.ScheduleID, sc.ID)
		}
	}
}

// waitForRelease polls until the loop marks the schedule idle again.
func waitForRelease(t *testing.T, ts *testServer, id string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if !ts.loop.IsRunning(id) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("schedule never finished")
}
