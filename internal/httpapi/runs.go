package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/HyphaGroup/warden/internal/execute"
	"github.com/HyphaGroup/warden/internal/journal"
	"github.com/HyphaGroup/warden/internal/validation"
)

// handleRun executes one command synchronously, or as a JSONL stream when
// stream=true is passed. A command that ran and failed still answers 200;
// its exit code lives in the body. Only a request the pipeline refused to
// start gets a 4xx.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req execute.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "decoding request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	req.Origin = journal.OriginHTTP
	req.ScheduleID = ""
	req.TokenID = requestToken(r)

	if r.URL.Query().Get("stream") == "true" {
		s.streamRun(w, r, req)
		return
	}

	resp, err := s.exec.Run(r.Context(), req)
	if err != nil {
		s.runError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// streamRun writes one JSON object per line as the command produces output,
// ending with the exit frame. The status line commits on the first frame,
// so anything that goes wrong later can only surface as a broken stream.
func (s *Server) streamRun(w http.ResponseWriter, r *http.Request, req execute.Request) {
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	started := false

	resp, err := s.exec.Stream(r.Context(), req, func(ev execute.Event) error {
		if !started {
			w.Header().Set("Content-Type", "application/x-ndjson")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if err := enc.Encode(ev); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	})
	if err != nil {
		if !started {
			s.runError(w, err)
			return
		}
		s.log.Error("streaming run", "error", err)
		return
	}

	// A spawn failure settles before any frame goes out. Emit the exit
	// frame ourselves so every stream ends with one.
	if !started && resp != nil && resp.Run != nil {
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
		_ = enc.Encode(execute.Event{
			Type:     "exit",
			RunID:    resp.Run.ID,
			ExitCode: resp.Run.ExitCode,
			Error:    resp.Run.Error,
		})
	}
}

// runError maps pipeline errors onto status codes.
func (s *Server) runError(w http.ResponseWriter, err error) {
	if errors.Is(err, execute.ErrInvalidRequest) {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.log.Error("executing run", "error", err)
	s.writeError(w, "executing command", http.StatusInternalServerError)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryLimit(q.Get("limit"))
	if err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	runs, err := s.runs.List(journal.ListFilter{
		Origin:     q.Get("origin"),
		ScheduleID: q.Get("schedule"),
		Limit:      limit,
	})
	if err != nil {
		s.log.Error("listing runs", "error", err)
		s.writeError(w, "listing runs", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []*journal.Run{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := validation.ValidateRunID(id); err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	run, err := s.runs.Get(id)
	if errors.Is(err, journal.ErrRunNotFound) {
		s.writeError(w, "run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.log.Error("getting run", "run_id", id, "error", err)
		s.writeError(w, "getting run", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

// queryLimit parses an optional positive integer limit parameter. Empty
// means "use the default".
func queryLimit(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("limit %q: must be a positive integer", raw)
	}
	return n, nil
}
