package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gravitational/trace"
	"github.com/rs/zerolog"

	"github.com/dwsnet/roost/pkg/cron"
	"github.com/dwsnet/roost/pkg/events"
	"github.com/dwsnet/roost/pkg/lifecycle"
	"github.com/dwsnet/roost/pkg/log"
	"github.com/dwsnet/roost/pkg/metrics"
	"github.com/dwsnet/roost/pkg/supervisor"
)

// ownerHeader carries the caller identity on owner-gated operations.
const ownerHeader = "X-Owner-ID"

// Config holds HTTP adapter configuration.
type Config struct {
	ListenAddr string

	// Debug includes stack traces in error bodies.
	Debug bool
}

// Server is the HTTP adapter over the supervisor, scheduler and lifecycle
// controller. It owns no domain state.
type Server struct {
	cfg        Config
	supervisor *supervisor.Supervisor
	scheduler  *cron.Scheduler
	controller *lifecycle.Controller
	broker     *events.Broker
	logger     zerolog.Logger

	mux  *http.ServeMux
	http *http.Server
}

// NewServer wires the routes. Any collaborator may be nil; its routes then
// answer 404.
func NewServer(cfg Config, sup *supervisor.Supervisor, sched *cron.Scheduler, ctrl *lifecycle.Controller, broker *events.Broker) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	s := &Server{
		cfg:        cfg,
		supervisor: sup,
		scheduler:  sched,
		controller: ctrl,
		broker:     broker,
		logger:     log.WithComponent("api"),
		mux:        http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", metrics.Handler())

	if s.supervisor != nil {
		s.mux.HandleFunc("POST /v1/functions", s.handleDeployFunction)
		s.mux.HandleFunc("GET /v1/functions", s.handleListFunctions)
		s.mux.HandleFunc("GET /v1/functions/{id}", s.handleGetFunction)
		s.mux.HandleFunc("DELETE /v1/functions/{id}", s.handleUndeployFunction)
		s.mux.HandleFunc("GET /v1/functions/{id}/instances", s.handleListInstances)
		s.mux.HandleFunc("GET /v1/functions/{id}/logs", s.handleFunctionLogs)
		s.mux.HandleFunc("GET /v1/functions/{id}/metrics", s.handleFunctionMetrics)
		s.mux.HandleFunc("/v1/invoke/{id}/", s.handleInvokeHTTP)
		s.mux.HandleFunc("/v1/invoke/{id}", s.handleInvokeHTTP)
		s.mux.HandleFunc("POST /v1/invocations", s.handleInvoke)
	}
	if s.scheduler != nil {
		s.mux.HandleFunc("POST /v1/schedules", s.handleCreateSchedule)
		s.mux.HandleFunc("GET /v1/schedules", s.handleListSchedules)
		s.mux.HandleFunc("GET /v1/schedules/{id}", s.handleGetSchedule)
		s.mux.HandleFunc("DELETE /v1/schedules/{id}", s.handleDeleteSchedule)
		s.mux.HandleFunc("POST /v1/schedules/{id}/pause", s.handlePauseSchedule)
		s.mux.HandleFunc("POST /v1/schedules/{id}/resume", s.handleResumeSchedule)
		s.mux.HandleFunc("POST /v1/schedules/{id}/trigger", s.handleTriggerSchedule)
		s.mux.HandleFunc("GET /v1/schedules/{id}/executions", s.handleScheduleHistory)
	}
	if s.controller != nil {
		s.mux.HandleFunc("POST /v1/databases", s.handleCreateDatabase)
		s.mux.HandleFunc("GET /v1/databases", s.handleListDatabases)
		s.mux.HandleFunc("GET /v1/databases/{id}", s.handleGetDatabase)
		s.mux.HandleFunc("PATCH /v1/databases/{id}", s.handleUpdateDatabase)
		s.mux.HandleFunc("DELETE /v1/databases/{id}", s.handleDeleteDatabase)
		s.mux.HandleFunc("POST /v1/databases/{id}/stop", s.handleStopDatabase)
		s.mux.HandleFunc("POST /v1/databases/{id}/start", s.handleStartDatabase)
		s.mux.HandleFunc("GET /v1/databases/{id}/connection", s.handleGetConnection)
		s.mux.HandleFunc("GET /v1/databases/{id}/pool", s.handlePoolStats)
		s.mux.HandleFunc("POST /v1/databases/{id}/backups", s.handleCreateBackup)
		s.mux.HandleFunc("GET /v1/databases/{id}/backups", s.handleListBackups)
		s.mux.HandleFunc("POST /v1/databases/{id}/restore", s.handleRestoreBackup)
		s.mux.HandleFunc("POST /v1/databases/{id}/replicas", s.handleCreateReplica)
		s.mux.HandleFunc("GET /v1/databases/{id}/replicas", s.handleListReplicas)
		s.mux.HandleFunc("GET /v1/backups/{id}", s.handleGetBackup)
	}
	if s.broker != nil {
		s.mux.HandleFunc("GET /v1/events", s.handleEvents)
	}
}

// Handler returns the instrumented root handler. Exposed for tests.
func (s *Server) Handler() http.Handler {
	return s.instrument(s.mux)
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info().Str("addr", s.cfg.ListenAddr).Msg("api listening")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return trace.Wrap(err)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return trace.Wrap(s.http.Shutdown(ctx))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// instrument records request counters and latency.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.APIRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		metrics.APIRequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// owner extracts the caller identity; empty means the request fails 401 at
// the owner-gated operation.
func owner(r *http.Request) string {
	return r.Header.Get(ownerHeader)
}

// requireOwner rejects requests without a caller identity.
func (s *Server) requireOwner(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := owner(r)
	if id == "" {
		s.writeError(w, trace.AccessDenied("missing %s header", ownerHeader))
		return "", false
	}
	return id, true
}

// writeError maps trace error kinds onto the HTTP error surface.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case trace.IsNotFound(err):
		status = http.StatusNotFound
	case trace.IsAccessDenied(err):
		status = http.StatusUnauthorized
	case trace.IsLimitExceeded(err):
		status = http.StatusServiceUnavailable
	case trace.IsCompareFailed(err):
		status = http.StatusConflict
	case trace.IsBadParameter(err):
		status = http.StatusBadRequest
	case trace.IsAlreadyExists(err):
		status = http.StatusConflict
	}

	body := map[string]any{"error": trace.UserMessage(err)}
	if s.cfg.Debug {
		body["stack"] = trace.DebugReport(err)
	}
	s.writeJSON(w, status, body)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug().Err(err).Msg("response write failed")
	}
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return trace.BadParameter("invalid request body: %v", err)
	}
	return nil
}
