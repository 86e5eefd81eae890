package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/animus-labs/animus-orchestrator/internal/domain"
	"github.com/animus-labs/animus-orchestrator/internal/orchestration/engine"
	"github.com/animus-labs/animus-orchestrator/internal/orchestration/registry"
	"github.com/animus-labs/animus-orchestrator/internal/plan"
	"github.com/animus-labs/animus-orchestrator/internal/platform/auth"
	"github.com/animus-labs/animus-orchestrator/internal/platform/httpserver"
	"github.com/animus-labs/animus-orchestrator/internal/repo"
)

type executionEngine interface {
	StartPlanExecution(ctx context.Context, p domain.Plan, setupAbstractions map[string]string, createdBy string) (domain.PlanExecution, error)
	AbortNodeExecution(ctx context.Context, nodeExecutionID string) (domain.NodeExecution, error)
	AbortPlanExecution(ctx context.Context, planExecutionID string) (domain.PlanExecution, error)
}

type callbackNotifier interface {
	Notify(ctx context.Context, correlationID string, data domain.ResponseData) error
	NotifyError(ctx context.Context, correlationID string, message string, types ...domain.FailureType) error
}

type orchestratorAPI struct {
	logger       *slog.Logger
	engine       executionEngine
	notifier     callbackNotifier
	regs         registry.Registries
	plans        repo.PlanExecutionRepository
	nodes        repo.NodeExecutionRepository
	planMaxBytes int64
}

func newOrchestratorAPI(logger *slog.Logger, eng executionEngine, notifier callbackNotifier, regs registry.Registries, plans repo.PlanExecutionRepository, nodes repo.NodeExecutionRepository, planMaxBytes int64) *orchestratorAPI {
	if logger == nil {
		logger = slog.Default()
	}
	if planMaxBytes <= 0 {
		planMaxBytes = 1 << 20
	}
	return &orchestratorAPI{
		logger:       logger,
		engine:       eng,
		notifier:     notifier,
		regs:         regs,
		plans:        plans,
		nodes:        nodes,
		planMaxBytes: planMaxBytes,
	}
}

func (api *orchestratorAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /plan-executions", api.handleStartPlanExecution)
	mux.HandleFunc("GET /plan-executions/{plan_execution_id}", api.handleGetPlanExecution)
	mux.HandleFunc("GET /plan-executions/{plan_execution_id}/nodes", api.handleListNodeExecutions)
	mux.HandleFunc("POST /plan-executions/{plan_execution_id}/abort", api.handleAbortPlanExecution)

	mux.HandleFunc("GET /node-executions/{node_execution_id}", api.handleGetNodeExecution)
	mux.HandleFunc("POST /node-executions/{node_execution_id}/abort", api.handleAbortNodeExecution)

	mux.HandleFunc("POST /callbacks/{correlation_id}", api.handleCallback)
}

type planExecution struct {
	PlanExecutionID   string            `json:"plan_execution_id"`
	PlanID            string            `json:"plan_id"`
	Status            domain.Status     `json:"status"`
	SetupAbstractions map[string]string `json:"setup_abstractions,omitempty"`
	CreatedBy         string            `json:"created_by,omitempty"`
	StartedAt         time.Time         `json:"started_at"`
	EndedAt           *time.Time        `json:"ended_at,omitempty"`
}

type nodeExecution struct {
	NodeExecutionID string                      `json:"node_execution_id"`
	PlanExecutionID string                      `json:"plan_execution_id"`
	NodeID          string                      `json:"node_id"`
	Identifier      string                      `json:"identifier"`
	StepType        string                      `json:"step_type"`
	Status          domain.Status               `json:"status"`
	Mode            domain.ExecutionMode        `json:"mode,omitempty"`
	ParentID        string                      `json:"parent_id,omitempty"`
	PreviousID      string                      `json:"previous_id,omitempty"`
	NextID          string                      `json:"next_id,omitempty"`
	RetryIDs        []string                    `json:"retry_ids,omitempty"`
	OldRetry        bool                        `json:"old_retry,omitempty"`
	FailureInfo     *domain.FailureInfo         `json:"failure_info,omitempty"`
	Responses       []domain.ExecutableResponse `json:"executable_responses,omitempty"`
	StartedAt       *time.Time                  `json:"started_at,omitempty"`
	EndedAt         *time.Time                  `json:"ended_at,omitempty"`
}

type callbackRequest struct {
	TaskID string          `json:"taskId,omitempty"`
	Status string          `json:"status,omitempty"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  *callbackError  `json:"error,omitempty"`
}

type callbackError struct {
	FailureTypes []string `json:"failureTypes,omitempty"`
	Message      string   `json:"message,omitempty"`
}

func (api *orchestratorAPI) handleStartPlanExecution(w http.ResponseWriter, r *http.Request) {
	var createdBy string
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		createdBy = identity.Actor()
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, api.planMaxBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpserver.WriteError(w, r, http.StatusRequestEntityTooLarge, "plan_too_large")
			return
		}
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_body")
		return
	}
	doc, err := plan.Parse(body)
	if err != nil {
		api.writeErrorWithDetails(w, r, http.StatusBadRequest, "invalid_plan", err.Error())
		return
	}
	if err := plan.Validate(doc.Plan, api.regs); err != nil {
		api.writeErrorWithDetails(w, r, http.StatusBadRequest, "invalid_plan", err.Error())
		return
	}

	pe, err := api.engine.StartPlanExecution(r.Context(), doc.Plan, doc.SetupAbstractions, createdBy)
	if err != nil {
		if pe.UUID == "" {
			api.logger.Error("start plan execution", "plan_id", doc.Plan.UUID, "error", err)
			httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error")
			return
		}
		api.logger.Warn("plan execution created but starting node not queued", "plan_execution_id", pe.UUID, "error", err)
	}
	w.Header().Set("Location", "/plan-executions/"+pe.UUID)
	httpserver.WriteJSON(w, http.StatusAccepted, toPlanExecution(pe))
}

func (api *orchestratorAPI) handleGetPlanExecution(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("plan_execution_id"))
	if id == "" {
		httpserver.WriteError(w, r, http.StatusBadRequest, "plan_execution_id_required")
		return
	}
	pe, err := api.plans.Get(r.Context(), id)
	if err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, toPlanExecution(pe))
}

func (api *orchestratorAPI) handleListNodeExecutions(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("plan_execution_id"))
	if id == "" {
		httpserver.WriteError(w, r, http.StatusBadRequest, "plan_execution_id_required")
		return
	}
	if _, err := api.plans.Get(r.Context(), id); err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	filter := repo.NodeExecutionFilter{PlanExecutionID: id}
	for _, s := range r.URL.Query()["status"] {
		status := domain.NormalizeStatus(s)
		if status == "" {
			httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_status")
			return
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	nodes, err := api.nodes.List(r.Context(), filter)
	if err != nil {
		api.logger.Error("list node executions", "plan_execution_id", id, "error", err)
		httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	out := make([]nodeExecution, 0, len(nodes))
	for _, ne := range nodes {
		out = append(out, toNodeExecution(ne))
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"node_executions": out})
}

func (api *orchestratorAPI) handleGetNodeExecution(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("node_execution_id"))
	if id == "" {
		httpserver.WriteError(w, r, http.StatusBadRequest, "node_execution_id_required")
		return
	}
	ne, err := api.nodes.Get(r.Context(), id)
	if err != nil {
		api.writeRepoError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, toNodeExecution(ne))
}

func (api *orchestratorAPI) handleAbortPlanExecution(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("plan_execution_id"))
	if id == "" {
		httpserver.WriteError(w, r, http.StatusBadRequest, "plan_execution_id_required")
		return
	}
	pe, err := api.engine.AbortPlanExecution(r.Context(), id)
	if err != nil {
		if pe.UUID != "" {
			api.logger.Warn("plan execution aborted with errors", "plan_execution_id", id, "error", err)
			httpserver.WriteJSON(w, http.StatusOK, toPlanExecution(pe))
			return
		}
		api.writeRepoError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, toPlanExecution(pe))
}

func (api *orchestratorAPI) handleAbortNodeExecution(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("node_execution_id"))
	if id == "" {
		httpserver.WriteError(w, r, http.StatusBadRequest, "node_execution_id_required")
		return
	}
	ne, err := api.engine.AbortNodeExecution(r.Context(), id)
	if err != nil {
		if ne.UUID != "" {
			api.logger.Warn("node execution aborted with errors", "node_execution_id", id, "error", err)
			httpserver.WriteJSON(w, http.StatusOK, toNodeExecution(ne))
			return
		}
		api.writeRepoError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, toNodeExecution(ne))
}

// handleCallback delivers a task runner or approver result. A body with only
// an error fails the waiting node without consulting its step.
func (api *orchestratorAPI) handleCallback(w http.ResponseWriter, r *http.Request) {
	correlationID := strings.TrimSpace(r.PathValue("correlation_id"))
	if correlationID == "" {
		httpserver.WriteError(w, r, http.StatusBadRequest, "correlation_id_required")
		return
	}
	var req callbackRequest
	if err := decodeJSON(r, &req); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	var err error
	switch {
	case strings.TrimSpace(req.Status) == "" && req.Error != nil:
		err = api.notifier.NotifyError(r.Context(), correlationID, req.Error.Message, failureTypes(req.Error.FailureTypes)...)
	case strings.TrimSpace(req.Status) == "":
		httpserver.WriteError(w, r, http.StatusBadRequest, "status_required")
		return
	default:
		status := domain.NormalizeStatus(req.Status)
		if !status.IsFinal() {
			httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_status")
			return
		}
		data := domain.TaskResponseData{TaskID: strings.TrimSpace(req.TaskID), Status: status, Output: req.Output}
		if req.Error != nil {
			data.FailureTypes = failureTypes(req.Error.FailureTypes)
			data.ErrorMessage = req.Error.Message
		}
		err = api.notifier.Notify(r.Context(), correlationID, data)
	}
	if err != nil {
		api.logger.Error("deliver callback", "correlation_id", correlationID, "error", err)
		httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	httpserver.WriteJSON(w, http.StatusAccepted, map[string]any{"correlation_id": correlationID})
}

func (api *orchestratorAPI) writeRepoError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, repo.ErrNotFound):
		httpserver.WriteError(w, r, http.StatusNotFound, "not_found")
	case errors.Is(err, repo.ErrStatusConflict):
		httpserver.WriteError(w, r, http.StatusConflict, "status_conflict")
	default:
		api.logger.Error("request failed", "path", r.URL.Path, "error", err)
		httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error")
	}
}

func (api *orchestratorAPI) writeErrorWithDetails(w http.ResponseWriter, r *http.Request, status int, code string, details any) {
	requestID, _ := httpserver.RequestIDFromContext(r.Context())
	httpserver.WriteJSON(w, status, map[string]any{
		"error":      code,
		"request_id": requestID,
		"details":    details,
	})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func failureTypes(values []string) []domain.FailureType {
	out := make([]domain.FailureType, 0, len(values))
	for _, v := range values {
		out = append(out, domain.NormalizeFailureType(v))
	}
	return out
}

func toPlanExecution(pe domain.PlanExecution) planExecution {
	return planExecution{
		PlanExecutionID:   pe.UUID,
		PlanID:            pe.Plan.UUID,
		Status:            pe.Status,
		SetupAbstractions: pe.SetupAbstractions,
		CreatedBy:         pe.CreatedBy,
		StartedAt:         pe.StartTs,
		EndedAt:           timePtr(pe.EndTs),
	}
}

func toNodeExecution(ne domain.NodeExecution) nodeExecution {
	return nodeExecution{
		NodeExecutionID: ne.UUID,
		PlanExecutionID: ne.Ambiance.PlanExecutionID,
		NodeID:          ne.Node.UUID,
		Identifier:      ne.Node.Identifier,
		StepType:        ne.Node.StepType,
		Status:          ne.Status,
		Mode:            ne.Mode,
		ParentID:        ne.ParentID,
		PreviousID:      ne.PreviousID,
		NextID:          ne.NextID,
		RetryIDs:        ne.RetryIDs,
		OldRetry:        ne.OldRetry,
		FailureInfo:     ne.FailureInfo,
		Responses:       ne.ExecutableResponses,
		StartedAt:       timePtr(ne.StartTs),
		EndedAt:         timePtr(ne.EndTs),
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

var _ executionEngine = (*engine.Engine)(nil)
