package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/grckit/approvalflow"
)

// Server exposes the approval engine over HTTP. Decisions go through the
// engine; read-only stats go through the monitor when one is configured.
type Server struct {
	engine  *approvalflow.Engine
	monitor *approvalflow.Monitor
}

func NewServer(engine *approvalflow.Engine, monitor *approvalflow.Monitor) *Server {
	return &Server{
		engine:  engine,
		monitor: monitor,
	}
}

func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()

	// Workflow definitions
	mux.HandleFunc("GET /api/workflows", s.HandleListDefinitions)
	mux.HandleFunc("POST /api/workflows", s.HandleRegisterDefinition)

	// Workflow instances
	mux.HandleFunc("POST /api/instances", s.HandleStartInstance)
	mux.HandleFunc("GET /api/instances/overdue", s.HandleOverdueInstances)
	mux.HandleFunc("GET /api/instances/{id}", s.HandleGetInstance)
	mux.HandleFunc("GET /api/instances/{id}/history", s.HandleGetHistory)
	mux.HandleFunc("POST /api/instances/{id}/approve", s.HandleApprove)
	mux.HandleFunc("POST /api/instances/{id}/reject", s.HandleReject)
	mux.HandleFunc("POST /api/instances/{id}/cancel", s.HandleCancel)

	// Approver inbox
	mux.HandleFunc("GET /api/approvals/pending", s.HandlePendingApprovals)

	// Statistics
	mux.HandleFunc("GET /api/stats", s.HandleStats)
	mux.HandleFunc("GET /api/stats/stuck", s.HandleStuckInstances)

	return mux
}

func (s *Server) HandleListDefinitions(w http.ResponseWriter, r *http.Request) {
	definitions, err := s.engine.ListDefinitions(r.Context(), r.URL.Query().Get("tenant_id"))
	if err != nil {
		WriteEngineError(w, err)
		return
	}

	writeJSON(w, definitions)
}

func (s *Server) HandleRegisterDefinition(w http.ResponseWriter, r *http.Request) {
	var def approvalflow.WorkflowDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		WriteErrorResponse(w, fmt.Errorf("invalid request body: %w", err), http.StatusBadRequest)
		return
	}

	if err := s.engine.RegisterDefinition(r.Context(), &def); err != nil {
		WriteEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(def)
}

func (s *Server) HandleStartInstance(w http.ResponseWriter, r *http.Request) {
	var req StartInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorResponse(w, fmt.Errorf("invalid request body: %w", err), http.StatusBadRequest)
		return
	}

	var instanceID int64
	var err error

	if req.DefinitionID != "" {
		instanceID, err = s.engine.Start(r.Context(), req.DefinitionID, req.EntityType, req.EntityID, req.InitiatedBy)
	} else {
		instanceID, err = s.engine.StartForEntity(r.Context(), req.TenantID, req.EntityType, req.EntityID, req.InitiatedBy)
	}
	if err != nil {
		WriteEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(StartInstanceResponse{InstanceID: instanceID})
}

func (s *Server) HandleGetInstance(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := parseInstanceID(w, r)
	if !ok {
		return
	}

	instance, err := s.engine.GetInstance(r.Context(), instanceID)
	if err != nil {
		WriteEngineError(w, err)
		return
	}

	writeJSON(w, instance)
}

func (s *Server) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := parseInstanceID(w, r)
	if !ok {
		return
	}

	history, err := s.engine.GetHistory(r.Context(), instanceID)
	if err != nil {
		WriteEngineError(w, err)
		return
	}

	writeJSON(w, history)
}

func (s *Server) HandleApprove(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := parseInstanceID(w, r)
	if !ok {
		return
	}

	var req DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorResponse(w, fmt.Errorf("invalid request body: %w", err), http.StatusBadRequest)
		return
	}

	status, err := s.engine.Approve(r.Context(), instanceID, req.ActorID, req.Comment)
	if err != nil {
		WriteEngineError(w, err)
		return
	}

	writeJSON(w, DecisionResponse{InstanceID: instanceID, Status: status})
}

func (s *Server) HandleReject(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := parseInstanceID(w, r)
	if !ok {
		return
	}

	var req RejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorResponse(w, fmt.Errorf("invalid request body: %w", err), http.StatusBadRequest)
		return
	}

	status, err := s.engine.Reject(r.Context(), instanceID, req.ActorID, req.Comment)
	if err != nil {
		WriteEngineError(w, err)
		return
	}

	writeJSON(w, DecisionResponse{InstanceID: instanceID, Status: status})
}

func (s *Server) HandleCancel(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := parseInstanceID(w, r)
	if !ok {
		return
	}

	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorResponse(w, fmt.Errorf("invalid request body: %w", err), http.StatusBadRequest)
		return
	}

	status, err := s.engine.Cancel(r.Context(), instanceID, req.ActorID)
	if err != nil {
		WriteEngineError(w, err)
		return
	}

	writeJSON(w, DecisionResponse{InstanceID: instanceID, Status: status})
}

func (s *Server) HandlePendingApprovals(w http.ResponseWriter, r *http.Request) {
	actorID := r.URL.Query().Get("actor_id")
	if actorID == "" {
		WriteErrorResponse(w, errors.New("actor_id query parameter is required"), http.StatusBadRequest)
		return
	}

	instances, err := s.engine.PendingApprovals(r.Context(), actorID)
	if err != nil {
		WriteEngineError(w, err)
		return
	}

	writeJSON(w, instances)
}

func (s *Server) HandleOverdueInstances(w http.ResponseWriter, r *http.Request) {
	instances, err := s.engine.OverdueInstances(r.Context(), time.Now())
	if err != nil {
		WriteEngineError(w, err)
		return
	}

	writeJSON(w, instances)
}

func (s *Server) HandleStats(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil {
		WriteErrorResponse(w, errors.New("monitoring is not configured"), http.StatusNotImplemented)
		return
	}

	stats, err := s.monitor.GetDefinitionStats(r.Context())
	if err != nil {
		WriteErrorResponse(w, err, http.StatusInternalServerError)
		return
	}

	writeJSON(w, stats)
}

func (s *Server) HandleStuckInstances(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil {
		WriteErrorResponse(w, errors.New("monitoring is not configured"), http.StatusNotImplemented)
		return
	}

	stuck, err := s.monitor.GetStuckInstances(r.Context())
	if err != nil {
		WriteErrorResponse(w, err, http.StatusInternalServerError)
		return
	}

	writeJSON(w, stuck)
}

func parseInstanceID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	instanceID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		WriteErrorResponse(w, errors.New("invalid instance ID"), http.StatusBadRequest)
		return 0, false
	}

	return instanceID, true
}

func writeJSON(w http.ResponseWriter, value any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(value)
}
