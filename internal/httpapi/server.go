// Package httpapi serves the daemon's REST surface: command execution,
// run history, schedule management and health probes. Every response body
// is JSON and errors use the {"error": message} shape the auth middleware
// already speaks.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/HyphaGroup/warden/internal/audit"
	"github.com/HyphaGroup/warden/internal/auth"
	"github.com/HyphaGroup/warden/internal/config"
	"github.com/HyphaGroup/warden/internal/execute"
	"github.com/HyphaGroup/warden/internal/journal"
	"github.com/HyphaGroup/warden/internal/metrics"
	"github.com/HyphaGroup/warden/internal/schedule"
	"github.com/HyphaGroup/warden/logging"
)

// Server holds the collaborators the HTTP handlers delegate to. Construct
// one with NewServer and mount Handler on an http.Server.
type Server struct {
	cfg       *config.Config
	exec      *execute.Service
	runs      *journal.Store
	schedules *schedule.Store
	loop      *schedule.Loop
	tokens    *auth.Store
	limiter   *auth.RateLimiter
	trail     *audit.Trail
	ready     func(context.Context) error
	log       logging.Logger
}

// Deps carries what NewServer wires into the handlers. Tokens may be nil
// while auth is disabled; Ready may be nil when the execution backend has
// no liveness probe of its own.
type Deps struct {
	Config    *config.Config
	Exec      *execute.Service
	Runs      *journal.Store
	Schedules *schedule.Store
	Loop      *schedule.Loop
	Tokens    *auth.Store
	Limiter   *auth.RateLimiter
	Trail     *audit.Trail
	Ready     func(context.Context) error
	Log       logging.Logger
}

// NewServer builds the HTTP surface. A nil limiter gets one from the
// config's rate settings so the daemon and tests share one code path.
func NewServer(d Deps) *Server {
	if d.Limiter == nil {
		d.Limiter = auth.NewRateLimiter(d.Config.Auth.RatePerSecond, d.Config.Auth.RateBurst)
	}
	if d.Trail == nil {
		d.Trail = audit.NewDisabled()
	}
	if d.Log == nil {
		d.Log = logging.NewNop()
	}
	return &Server{
		cfg:       d.Config,
		exec:      d.Exec,
		runs:      d.Runs,
		schedules: d.Schedules,
		loop:      d.Loop,
		tokens:    d.Tokens,
		limiter:   d.Limiter,
		trail:     d.Trail,
		ready:     d.Ready,
		log:       d.Log,
	}
}

// Handler assembles the route table. Health probes and metrics stay outside
// the middleware chain; everything under /v1/ passes through request
// logging, metrics, auth when enabled, then the rate limiter.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /v1/run", s.handleRun)
	api.HandleFunc("GET /v1/runs", s.handleListRuns)
	api.HandleFunc("GET /v1/runs/{id}", s.handleGetRun)
	api.HandleFunc("POST /v1/schedules", s.handleCreateSchedule)
	api.HandleFunc("GET /v1/schedules", s.handleListSchedules)
	api.HandleFunc("GET /v1/schedules/{id}", s.handleGetSchedule)
	api.HandleFunc("PATCH /v1/schedules/{id}", s.handleUpdateSchedule)
	api.HandleFunc("DELETE /v1/schedules/{id}", s.handleDeleteSchedule)
	api.HandleFunc("POST /v1/schedules/{id}/trigger", s.handleTriggerSchedule)
	api.HandleFunc("GET /v1/schedules/{id}/runs", s.handleScheduleRuns)

	var protected http.Handler = api
	protected = auth.RateLimitMiddleware(s.limiter)(protected)
	if s.cfg.Auth.Enabled {
		protected = auth.Middleware(s.tokens, s.log)(protected)
	}
	protected = metrics.Middleware(protected)
	protected = s.logRequests(protected)

	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", s.handleHealthz)
	root.HandleFunc("GET /readyz", s.handleReadyz)
	root.Handle("GET /metrics", metrics.Handler())
	root.Handle("/v1/", protected)
	return root
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz reports whether the execution backend can take work. The
// docker backend pings its daemon; the local backend is always ready.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"error":  err.Error(),
			})
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusWriter captures the response code for the request log. Flush
// passes through so streamed runs keep flushing per event.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// logRequests tags each request with a short id and logs its outcome.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := uuid.New().String()[:8]
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		sw.Header().Set("X-Request-Id", id)

		next.ServeHTTP(sw, r)

		s.log.Info("http request",
			"id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(start).Round(time.Millisecond),
		)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encoding response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, message string, status int) {
	s.writeJSON(w, status, map[string]any{"error": message})
}

// requestToken returns the authenticated token's display id, or empty when
// auth is off.
func requestToken(r *http.Request) string {
	if tok := auth.TokenFromContext(r.Context()); tok != nil {
		return tok.ID
	}
	return ""
}
