package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/HyphaGroup/warden/internal/audit"
	"github.com/HyphaGroup/warden/internal/journal"
	"github.com/HyphaGroup/warden/internal/schedule"
	"github.com/HyphaGroup/warden/internal/validation"
)

// createScheduleRequest is the POST body for a new schedule. Enabled
// defaults to true when omitted.
type createScheduleRequest struct {
	Name     string   `json:"name"`
	Command  []string `json:"command"`
	Dir      string   `json:"dir,omitempty"`
	Capture  string   `json:"capture,omitempty"`
	CronExpr string   `json:"cron_expr"`
	Enabled  *bool    `json:"enabled,omitempty"`
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req createScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "decoding request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		s.writeError(w, "schedule name is required", http.StatusBadRequest)
		return
	}
	if err := validation.ValidateCommand(req.Command); err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := validation.ValidateDir(req.Dir); err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := validation.ValidateCaptureMode(req.Capture); err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := schedule.ValidateCron(req.CronExpr); err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	sc := &schedule.ScheduledCommand{
		Name:     req.Name,
		Command:  req.Command,
		Dir:      req.Dir,
		Capture:  req.Capture,
		CronExpr: req.CronExpr,
		Enabled:  enabled,
	}
	if err := s.schedules.Create(sc); err != nil {
		s.log.Error("creating schedule", "error", err)
		s.writeError(w, "creating schedule", http.StatusInternalServerError)
		return
	}

	s.auditSchedule(r, audit.OpScheduleCreate, sc.ID, sc.Command, sc.Dir)
	s.log.Info("schedule created", "id", sc.ID, "name", sc.Name, "cron", sc.CronExpr)
	s.writeJSON(w, http.StatusCreated, sc)
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	var filter schedule.ListFilter
	switch raw := r.URL.Query().Get("enabled"); raw {
	case "":
	case "true", "false":
		v := raw == "true"
		filter.Enabled = &v
	default:
		s.writeError(w, "enabled must be true or false", http.StatusBadRequest)
		return
	}

	list, err := s.schedules.List(filter)
	if err != nil {
		s.log.Error("listing schedules", "error", err)
		s.writeError(w, "listing schedules", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []*schedule.ScheduledCommand{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"schedules": list})
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	sc, ok := s.scheduleByID(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, sc)
}

func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := validation.ValidateScheduleID(id); err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	var upd schedule.Update
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		s.writeError(w, "decoding request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if upd.Command != nil {
		if err := validation.ValidateCommand(upd.Command); err != nil {
			s.writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	if upd.Dir != nil {
		if err := validation.ValidateDir(*upd.Dir); err != nil {
			s.writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	if upd.Capture != nil {
		if err := validation.ValidateCaptureMode(*upd.Capture); err != nil {
			s.writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	if upd.CronExpr != nil {
		if err := schedule.ValidateCron(*upd.CronExpr); err != nil {
			s.writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	sc, err := s.schedules.Update(id, upd)
	if errors.Is(err, schedule.ErrScheduleNotFound) {
		s.writeError(w, "schedule not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.log.Error("updating schedule", "schedule_id", id, "error", err)
		s.writeError(w, "updating schedule", http.StatusInternalServerError)
		return
	}

	s.auditSchedule(r, audit.OpScheduleUpdate, sc.ID, sc.Command, sc.Dir)
	s.writeJSON(w, http.StatusOK, sc)
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := validation.ValidateScheduleID(id); err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.schedules.Delete(id); err != nil {
		if errors.Is(err, schedule.ErrScheduleNotFound) {
			s.writeError(w, "schedule not found", http.StatusNotFound)
			return
		}
		s.log.Error("deleting schedule", "schedule_id", id, "error", err)
		s.writeError(w, "deleting schedule", http.StatusInternalServerError)
		return
	}

	s.auditSchedule(r, audit.OpScheduleDelete, id, nil, "")
	s.log.Info("schedule deleted", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

// handleTriggerSchedule runs a schedule immediately without advancing its
// cron cadence. A schedule whose previous execution is still in flight
// answers 409.
func (s *Server) handleTriggerSchedule(w http.ResponseWriter, r *http.Request) {
	sc, ok := s.scheduleByID(w, r)
	if !ok {
		return
	}
	if !s.loop.TriggerNow(sc) {
		s.writeError(w, "schedule is already running", http.StatusConflict)
		return
	}

	s.auditSchedule(r, audit.OpScheduleTrigger, sc.ID, sc.Command, sc.Dir)
	s.log.Info("schedule triggered", "id", sc.ID, "name", sc.Name)
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered", "id": sc.ID})
}

// handleScheduleRuns lists the journal entries a schedule produced, capped
// at the configured history limit.
func (s *Server) handleScheduleRuns(w http.ResponseWriter, r *http.Request) {
	sc, ok := s.scheduleByID(w, r)
	if !ok {
		return
	}
	limit, err := queryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if limit == 0 || limit > s.cfg.Schedule.HistoryLimit {
		limit = s.cfg.Schedule.HistoryLimit
	}

	runs, err := s.runs.List(journal.ListFilter{ScheduleID: sc.ID, Limit: limit})
	if err != nil {
		s.log.Error("listing schedule runs", "schedule_id", sc.ID, "error", err)
		s.writeError(w, "listing runs", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []*journal.Run{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"schedule_id": sc.ID, "runs": runs})
}

// scheduleByID resolves the path id, writing the error response itself
// when the id is malformed or unknown.
func (s *Server) scheduleByID(w http.ResponseWriter, r *http.Request) (*schedule.ScheduledCommand, bool) {
	id := r.PathValue("id")
	if err := validation.ValidateScheduleID(id); err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	sc, err := s.schedules.Get(id)
	if errors.Is(err, schedule.ErrScheduleNotFound) {
		s.writeError(w, "schedule not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		s.log.Error("getting schedule", "schedule_id", id, "error", err)
		s.writeError(w, "getting schedule", http.StatusInternalServerError)
		return nil, false
	}
	return sc, true
}

func (s *Server) auditSchedule(r *http.Request, op audit.Operation, id string, command []string, dir string) {
	s.trail.Append(audit.Event{
		Operation:  op,
		Origin:     journal.OriginHTTP,
		TokenID:    requestToken(r),
		ScheduleID: id,
		Command:    command,
		Dir:        dir,
		Success:    true,
	})
}
