package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RunsTotal counts executed commands by entry surface and outcome.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_runs_total",
			Help: "Total number of executed commands",
		},
		[]string{"origin", "outcome"},
	)

	// RunDuration tracks wall-clock command duration.
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warden_run_duration_seconds",
			Help:    "Command duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 1800},
		},
		[]string{"origin"},
	)

	// ActiveRuns tracks commands currently in flight.
	ActiveRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_active_runs",
			Help: "Number of commands currently executing",
		},
	)

	// StreamBytes counts captured output volume per stream.
	StreamBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_stream_bytes_total",
			Help: "Total captured output bytes",
		},
		[]string{"stream"},
	)

	// ScheduleRuns counts scheduler-triggered executions by outcome.
	ScheduleRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_schedule_runs_total",
			Help: "Total number of scheduler-triggered executions",
		},
		[]string{"outcome"},
	)

	// RequestsTotal counts HTTP API requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// RequestDuration tracks HTTP request latency.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warden_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ToolCalls counts MCP tool invocations.
	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_tool_calls_total",
			Help: "Total number of MCP tool calls",
		},
		[]string{"tool", "status"},
	)
)

// RecordRunStart marks a command entering execution.
func RecordRunStart() {
	ActiveRuns.Inc()
}

// RecordRunEnd records a finished command.
func RecordRunEnd(origin, outcome string, duration time.Duration, stdoutBytes, stderrBytes int64) {
	ActiveRuns.Dec()
	RunsTotal.WithLabelValues(origin, outcome).Inc()
	RunDuration.WithLabelValues(origin).Observe(duration.Seconds())
	StreamBytes.WithLabelValues("stdout").Add(float64(stdoutBytes))
	StreamBytes.WithLabelValues("stderr").Add(float64(stderrBytes))
}

// RecordScheduleRun records one scheduler-triggered execution.
func RecordScheduleRun(outcome string) {
	ScheduleRuns.WithLabelValues(outcome).Inc()
}

// RecordToolCall records an MCP tool invocation.
func RecordToolCall(tool, status string) {
	ToolCalls.WithLabelValues(tool, status).Inc()
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher so streaming responses pass through.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware records request counts and latency for every HTTP request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		RequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		RequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// normalizePath folds id-carrying paths together to keep label cardinality
// bounded.
func normalizePath(path string) string {
	switch path {
	case "/healthz", "/metrics", "/v1/run", "/v1/runs", "/v1/schedules":
		return path
	}
	switch {
	case strings.HasPrefix(path, "/v1/runs/"):
		return "/v1/runs/{id}"
	case strings.HasPrefix(path, "/v1/schedules/"):
		return "/v1/schedules/{id}"
	}
	return "other"
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
