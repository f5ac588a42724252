package api

import (
	"net/http"
	"time"

	"github.com/dwsnet/roost/pkg/cron"
)

type scheduleRequest struct {
	FunctionID string `json:"function_id"`
	Name       string `json:"name"`
	Expression string `json:"expression"`
	Timezone   string `json:"timezone"`
	TimeoutMs  int    `json:"timeout_ms"`
	MaxRetries int    `json:"max_retries"`
	RetryDelay int    `json:"retry_delay_ms"`
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.requireOwner(w, r)
	if !ok {
		return
	}
	var req scheduleRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	sched, err := s.scheduler.CreateSchedule(cron.ScheduleParams{
		FunctionID: req.FunctionID,
		Name:       req.Name,
		Expression: req.Expression,
		Timezone:   req.Timezone,
		Timeout:    time.Duration(req.TimeoutMs) * time.Millisecond,
		MaxRetries: req.MaxRetries,
		RetryDelay: time.Duration(req.RetryDelay) * time.Millisecond,
		OwnerID:    ownerID,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, sched)
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.scheduler.ListSchedules())
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	sched, err := s.scheduler.GetSchedule(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sched)
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.requireOwner(w, r)
	if !ok {
		return
	}
	if err := s.scheduler.Delete(r.PathValue("id"), ownerID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePauseSchedule(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.requireOwner(w, r)
	if !ok {
		return
	}
	if err := s.scheduler.Pause(r.PathValue("id"), ownerID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResumeSchedule(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.requireOwner(w, r)
	if !ok {
		return
	}
	if err := s.scheduler.Resume(r.PathValue("id"), ownerID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTriggerSchedule(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.requireOwner(w, r)
	if !ok {
		return
	}
	exec, err := s.scheduler.TriggerManually(r.PathValue("id"), ownerID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, exec)
}

func (s *Server) handleScheduleHistory(w http.ResponseWriter, r *http.Request) {
	execs, err := s.scheduler.History(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, execs)
}
