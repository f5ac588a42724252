package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/dwsnet/roost/pkg/supervisor"
	"github.com/dwsnet/roost/pkg/types"
)

type deployRequest struct {
	Name          string            `json:"name"`
	CodeCID       string            `json:"code_cid"`
	EntryPoint    string            `json:"entry_point"`
	MemoryLimitMB int               `json:"memory_limit_mb"`
	TimeoutMs     int               `json:"timeout_ms"`
	Env           map[string]string `json:"env"`
}

func (s *Server) handleDeployFunction(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := s.requireOwner(w, r)
	if !ok {
		return
	}
	var req deployRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	fn := &types.Function{
		ID:            uuid.New().String(),
		Name:          req.Name,
		OwnerID:       ownerID,
		CodeCID:       req.CodeCID,
		EntryPoint:    req.EntryPoint,
		MemoryLimitMB: req.MemoryLimitMB,
		TimeoutMs:     req.TimeoutMs,
		Env:           req.Env,
	}
	if err := s.supervisor.DeployFunction(r.Context(), fn); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, fn)
}

func (s *Server) handleListFunctions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.supervisor.ListFunctions())
}

func (s *Server) handleGetFunction(w http.ResponseWriter, r *http.Request) {
	fn, err := s.supervisor.GetFunction(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, fn)
}

func (s *Server) handleUndeployFunction(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireOwner(w, r); !ok {
		return
	}
	if err := s.supervisor.UndeployFunction(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	instances, err := s.supervisor.ListInstances(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, instances)
}

func (s *Server) handleFunctionLogs(w http.ResponseWriter, r *http.Request) {
	n, _ := strconv.Atoi(r.URL.Query().Get("tail"))
	lines, err := s.supervisor.Logs(r.PathValue("id"), n)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string][]string{"lines": lines})
}

func (s *Server) handleFunctionMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := s.supervisor.Metrics(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, m)
}

// handleInvokeHTTP forwards the inbound request verbatim to a worker
// instance of the function: method, remaining path, query, headers, body.
func (s *Server) handleInvokeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	path := strings.TrimPrefix(r.URL.Path, "/v1/invoke/"+id)
	if path == "" {
		path = "/"
	}
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, err)
		return
	}
	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}

	result, err := s.supervisor.InvokeHTTP(r.Context(), id, types.HTTPEvent{
		Method:  r.Method,
		Path:    path,
		Headers: headers,
		Body:    body,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	for k, v := range result.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(result.StatusCode)
	io.WriteString(w, result.Body)
}

type invokeRequest struct {
	FunctionID string          `json:"function_id"`
	Payload    json.RawMessage `json:"payload"`
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var req invokeRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	inv, err := s.supervisor.Invoke(r.Context(), supervisor.InvokeParams{
		FunctionID: req.FunctionID,
		Payload:    req.Payload,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, inv)
}
