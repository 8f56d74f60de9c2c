package httpapi

import (
	"bufio"
	"encoding/json"
	"net/http"
	"reflect"
	"strings"
	"testing"

	"github.com/HyphaGroup/warden/internal/execute"
	"github.com/HyphaGroup/warden/internal/journal"
)

func TestRunEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/v1/run", map[string]any{
		"command": []string{"echo", "hello"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var body execute.Response
	decodeJSON(t, resp, &body)

	if body.Stdout != "hello\n" {
		t.Errorf("stdout = %q, want %q", body.Stdout, "hello\n")
	}
	if body.Run == nil {
		t.Fatal("response carries no run")
	}
	if body.Run.ExitCode == nil || *body.Run.ExitCode != 0 {
		t.Errorf("exit code = %v, want 0", body.Run.ExitCode)
	}
	if body.Run.Origin != journal.OriginHTTP {
		t.Errorf("origin = %q, want %q", body.Run.Origin, journal.OriginHTTP)
	}

	stored, err := ts.journal.Get(body.Run.ID)
	if err != nil {
		t.Fatalf("journal lookup: %v", err)
	}
	if stored.Status() != "ok" {
		t.Errorf("journal status = %q, want ok", stored.Status())
	}
}

func TestRunEndpointNonZeroExit(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/v1/run", map[string]any{
		"shell": "exit 3",
	})
	// The command ran, so HTTP-wise this is a success.
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var body execute.Response
	decodeJSON(t, resp, &body)
	if body.Run.ExitCode == nil || *body.Run.ExitCode != 3 {
		t.Errorf("exit code = %v, want 3", body.Run.ExitCode)
	}
}

func TestRunEndpointValidation(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"empty request", map[string]any{}},
		{"both command and shell", map[string]any{"command": []string{"true"}, "shell": "true"}},
		{"relative dir", map[string]any{"command": []string{"true"}, "dir": "relative/path"}},
		{"bad capture mode", map[string]any{"command": []string{"true"}, "capture": "all"}},
		{"timeout over ceiling", map[string]any{"command": []string{"true"}, "timeout_seconds": 3600}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(t, http.MethodPost, "/v1/run", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
			}
			var body map[string]string
			decodeJSON(t, resp, &body)
			if body["error"] == "" {
				t.Error("expected an error body")
			}
		})
	}
}

func TestRunEndpointBadJSON(t *testing.T) {
	ts := newTestServer(t)

	resp, err := ts.http.Client().Post(ts.http.URL+"/v1/run", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestRunEndpointStream(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/v1/run?stream=true", map[string]any{
		"shell": "echo one; echo two >&2; echo three",
	})
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("Content-Type = %q, want application/x-ndjson", ct)
	}

	var events []execute.Event
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		var ev execute.Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("decoding frame %q: %v", scanner.Text(), err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("reading stream: %v", err)
	}

	if len(events) < 2 {
		t.Fatalf("got %d events, want at least an output and an exit frame", len(events))
	}
	last := events[len(events)-1]
	if last.Type != "exit" {
		t.Fatalf("last frame type = %q, want exit", last.Type)
	}
	if last.ExitCode == nil || *last.ExitCode != 0 {
		t.Errorf("exit code = %v, want 0", last.ExitCode)
	}

	var stdout, stderr []string
	for _, ev := range events[:len(events)-1] {
		if ev.RunID != last.RunID {
			t.Errorf("frame run id = %q, want %q", ev.RunID, last.RunID)
		}
		switch ev.Type {
		case "stdout":
			stdout = append(stdout, ev.Data)
		case "stderr":
			stderr = append(stderr, ev.Data)
		}
	}
	if want := []string{"one", "three"}; !reflect.DeepEqual(stdout, want) {
		t.Errorf("stdout lines = %v, want %v", stdout, want)
	}
	if want := []string{"two"}; !reflect.DeepEqual(stderr, want) {
		t.Errorf("stderr lines = %v, want %v", stderr, want)
	}
}

func TestRunEndpointStreamSpawnFailure(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/v1/run?stream=true", map[string]any{
		"command": []string{"/no/such/binary"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var ev execute.Event
	decodeJSON(t, resp, &ev)
	if ev.Type != "exit" {
		t.Fatalf("frame type = %q, want exit", ev.Type)
	}
	if ev.ExitCode == nil || *ev.ExitCode != -1 {
		t.Errorf("exit code = %v, want -1", ev.ExitCode)
	}
	if ev.Error == "" {
		t.Error("expected a spawn error in the exit frame")
	}
}

func TestRunEndpointStreamRejectsCaptureNone(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/v1/run?stream=true", map[string]any{
		"command": []string{"true"},
		"capture": "none",
	})
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestListRuns(t *testing.T) {
	ts := newTestServer(t)

	for _, msg := range []string{"first", "second"} {
		resp := ts.do(t, http.MethodPost, "/v1/run", map[string]any{
			"command": []string{"echo", msg},
		})
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("seeding run: status = %d", resp.StatusCode)
		}
	}

	resp := ts.do(t, http.MethodGet, "/v1/runs", nil)
	var body struct {
		Runs []*journal.Run `json:"runs"`
	}
	decodeJSON(t, resp, &body)
	if len(body.Runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(body.Runs))
	}

	limited := ts.do(t, http.MethodGet, "/v1/runs?limit=1", nil)
	var one struct {
		Runs []*journal.Run `json:"runs"`
	}
	decodeJSON(t, limited, &one)
	if len(one.Runs) != 1 {
		t.Errorf("got %d runs with limit=1, want 1", len(one.Runs))
	}

	bad := ts.do(t, http.MethodGet, "/v1/runs?limit=zero", nil)
	defer func() { _ = bad.Body.Close() }()
	if bad.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want %d", bad.StatusCode, http.StatusBadRequest)
	}
}

func TestGetRun(t *testing.T) {
	ts := newTestServer(t)

	created := ts.do(t, http.MethodPost, "/v1/run", map[string]any{
		"command": []string{"echo", "findme"},
	})
	var seeded execute.Response
	decodeJSON(t, created, &seeded)

	resp := ts.do(t, http.MethodGet, "/v1/runs/"+seeded.Run.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var run journal.Run
	decodeJSON(t, resp, &run)
	if run.ID != seeded.Run.ID {
		t.Errorf("id = %q, want %q", run.ID, seeded.Run.ID)
	}

	missing := ts.do(t, http.MethodGet, "/v1/runs/run_deadbeef", nil)
	defer func() { _ = missing.Body.Close() }()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("missing run status = %d, want %d", missing.StatusCode, http.StatusNotFound)
	}

	malformed := ts.do(t, http.MethodGet, "/v1/runs/not-a-run-id", nil)
	defer func() { _ = malformed.Body.Close() }()
	if malformed.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed id status = %d, want %d", malformed.StatusCode, http.StatusBadRequest)
	}
}
