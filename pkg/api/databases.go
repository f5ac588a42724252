package api

import (
	"net/http"

	"github.com/dwsnet/roost/pkg/lifecycle"
	"github.com/dwsnet/roost/pkg/types"
)

type createDatabaseRequest struct {
	Name   string               `json:"name"`
	Engine types.DatabaseEngine `json:"engine"`
	Region string               `json:"region"`
	Config types.DatabaseConfig `json:"config"`
}

func (s *Server) handleCreateDatabase(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.requireOwner(w, r)
	if !ok {
		return
	}
	var req createDatabaseRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	inst, err := s.controller.Create(r.Context(), ownerID, lifecycle.CreateParams{
		Name:   req.Name,
		Engine: req.Engine,
		Region: req.Region,
		Config: req.Config,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, inst)
}

func (s *Server) handleListDatabases(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.requireOwner(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, s.controller.List(ownerID))
}

func (s *Server) handleGetDatabase(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.requireOwner(w, r)
	if !ok {
		return
	}
	inst, err := s.controller.Get(r.PathValue("id"), ownerID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, inst)
}

func (s *Server) handleUpdateDatabase(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.requireOwner(w, r)
	if !ok {
		return
	}
	var patch lifecycle.UpdateParams
	if err := decode(r, &patch); err != nil {
		s.writeError(w, err)
		return
	}
	inst, err := s.controller.Update(r.Context(), r.PathValue("id"), ownerID, patch)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, inst)
}

func (s *Server) handleDeleteDatabase(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.requireOwner(w, r)
	if !ok {
		return
	}
	if err := s.controller.Delete(r.PathValue("id"), ownerID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStopDatabase(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.requireOwner(w, r)
	if !ok {
		return
	}
	if err := s.controller.Stop(r.PathValue("id"), ownerID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStartDatabase(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.requireOwner(w, r)
	if !ok {
		return
	}
	if err := s.controller.Start(r.PathValue("id"), ownerID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleGetConnection(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.requireOwner(w, r)
	if !ok {
		return
	}
	info, err := s.controller.GetConnection(r.PathValue("id"), ownerID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *Server) handlePoolStats(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.requireOwner(w, r)
	if !ok {
		return
	}
	stats, err := s.controller.PoolStats(r.PathValue("id"), ownerID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCreateBackup(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.requireOwner(w, r)
	if !ok {
		return
	}
	b, err := s.controller.CreateBackup(r.Context(), r.PathValue("id"), ownerID, false)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, b)
}

func (s *Server) handleListBackups(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.requireOwner(w, r)
	if !ok {
		return
	}
	backups, err := s.controller.ListBackups(r.PathValue("id"), ownerID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, backups)
}

func (s *Server) handleGetBackup(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.requireOwner(w, r)
	if !ok {
		return
	}
	b, err := s.controller.GetBackup(r.PathValue("id"), ownerID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, b)
}

type restoreRequest struct {
	BackupID string `json:"backup_id"`
}

func (s *Server) handleRestoreBackup(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.requireOwner(w, r)
	if !ok {
		return
	}
	var req restoreRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.controller.RestoreBackup(r.Context(), r.PathValue("id"), req.BackupID, ownerID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type replicaRequest struct {
	Region string `json:"region"`
}

func (s *Server) handleCreateReplica(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.requireOwner(w, r)
	if !ok {
		return
	}
	var req replicaRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	rep, err := s.controller.CreateReplica(r.PathValue("id"), ownerID, req.Region)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, rep)
}

func (s *Server) handleListReplicas(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.requireOwner(w, r)
	if !ok {
		return
	}
	reps, err := s.controller.ListReplicas(r.PathValue("id"), ownerID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, reps)
}
