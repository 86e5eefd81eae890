package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/animus-labs/animus-orchestrator/internal/domain"
	"github.com/animus-labs/animus-orchestrator/internal/orchestration/registry"
	"github.com/animus-labs/animus-orchestrator/internal/orchestration/step"
	"github.com/animus-labs/animus-orchestrator/internal/repo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Facade is the part of the engine the resume executor calls back into.
type Facade interface {
	TriggerLink(ctx context.Context, s step.Step, ambiance domain.Ambiance, ne domain.NodeExecution, passThroughData json.RawMessage, responses step.Responses) error
	HandleStepResponse(ctx context.Context, nodeExecutionID string, resp domain.StepResponse) error
	HandleError(ctx context.Context, ambiance domain.Ambiance, err error)
}

type ResumeRequest struct {
	NodeExecutionID string
	Responses       map[string]domain.ResponseData
	// AsyncError marks responses carrying an error notification. The step is
	// not consulted; the node is concluded ERRORED.
	AsyncError bool
}

// ResumeExecutor turns the responses delivered to a suspended node into
// either a StepResponse or the next chain link.
type ResumeExecutor struct {
	logger   *slog.Logger
	facade   Facade
	steps    *registry.Steps
	nodes    repo.NodeExecutionRepository
	tracer   trace.Tracer
	observer Observer
}

func NewResumeExecutor(logger *slog.Logger, facade Facade, steps *registry.Steps, nodes repo.NodeExecutionRepository, tracer trace.Tracer, observer Observer) *ResumeExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = NopObserver{}
	}
	return &ResumeExecutor{
		logger:   logger,
		facade:   facade,
		steps:    steps,
		nodes:    nodes,
		tracer:   tracer,
		observer: observer,
	}
}

// Run processes one resume. Every failure, including a panic in step code,
// is reported to the facade's HandleError.
func (r *ResumeExecutor) Run(ctx context.Context, req ResumeRequest) {
	ctx, span := r.tracer.Start(ctx, "engine.resume", trace.WithAttributes(
		attribute.String("node_execution_id", req.NodeExecutionID),
		attribute.Bool("async_error", req.AsyncError),
		attribute.Int("responses", len(req.Responses)),
	))
	defer span.End()

	ambiance := domain.Ambiance{}.WithLevel(domain.Level{RuntimeID: req.NodeExecutionID})
	var mode domain.ExecutionMode
	outcome := ResumeErrored
	defer func() {
		if rec := recover(); rec != nil {
			r.fail(ctx, span, ambiance, fmt.Errorf("resume panic: %v", rec))
			outcome = ResumeErrored
		}
		span.SetAttributes(attribute.String("outcome", outcome))
		r.observer.Resumed(ctx, ResumeEvent{
			NodeExecutionID: req.NodeExecutionID,
			Mode:            mode,
			AsyncError:      req.AsyncError,
			Outcome:         outcome,
		})
	}()

	ne, err := r.nodes.Get(ctx, req.NodeExecutionID)
	if err != nil {
		r.fail(ctx, span, ambiance, fmt.Errorf("load node execution %s: %w", req.NodeExecutionID, err))
		return
	}
	ambiance = ne.Ambiance
	mode = ne.Mode
	span.SetAttributes(attribute.String("mode", string(mode)))

	if !ne.Status.IsResumable() {
		r.logger.Info("resume ignored", "node_execution_id", ne.UUID, "status", ne.Status)
		outcome = ResumeSkipped
		return
	}
	if !expectsResponses(ne, req.Responses) {
		r.logger.Warn("resume ignored for stale responses", "node_execution_id", ne.UUID, "mode", ne.Mode)
		outcome = ResumeSkipped
		return
	}

	resp, result, err := r.process(ctx, ne, req)
	if err != nil {
		r.fail(ctx, span, ne.Ambiance, err)
		return
	}
	if result != ResumeFinalized {
		outcome = result
		return
	}
	if err := r.facade.HandleStepResponse(ctx, ne.UUID, resp); err != nil {
		r.fail(ctx, span, ne.Ambiance, err)
		return
	}
	outcome = ResumeFinalized
}

func (r *ResumeExecutor) process(ctx context.Context, ne domain.NodeExecution, req ResumeRequest) (domain.StepResponse, string, error) {
	if req.AsyncError {
		return domain.ErroredResponse(errorData(req.Responses)), ResumeFinalized, nil
	}

	s, err := r.steps.Resolve(ne.Node.StepType)
	if err != nil {
		return domain.StepResponse{}, "", err
	}
	params := ne.ResolvedStepParameters
	responses := step.Responses(req.Responses)

	switch ne.Mode {
	case domain.ModeChildren:
		latest, _ := ne.LatestExecutableResponse()
		if missing := missingResponses(latest.ChildNodeIDs, responses); len(missing) > 0 {
			r.logger.Debug("children still running", "node_execution_id", ne.UUID, "missing", missing)
			return domain.StepResponse{}, ResumeSkipped, nil
		}
		children, ok := s.(step.ChildrenExecutable)
		if !ok {
			return domain.StepResponse{}, "", unsupported(s, ne.Mode)
		}
		resp, err := children.HandleChildrenResponse(ctx, ne.Ambiance, params, responses)
		return resp, ResumeFinalized, err

	case domain.ModeAsync:
		async, ok := s.(step.AsyncExecutable)
		if !ok {
			return domain.StepResponse{}, "", unsupported(s, ne.Mode)
		}
		resp, err := async.HandleAsyncResponse(ctx, ne.Ambiance, params, responses)
		return resp, ResumeFinalized, err

	case domain.ModeChild:
		child, ok := s.(step.ChildExecutable)
		if !ok {
			return domain.StepResponse{}, "", unsupported(s, ne.Mode)
		}
		resp, err := child.HandleChildResponse(ctx, ne.Ambiance, params, responses)
		return resp, ResumeFinalized, err

	case domain.ModeTask, domain.ModeTaskV2:
		task, ok := s.(step.TaskExecutable)
		if !ok {
			return domain.StepResponse{}, "", unsupported(s, ne.Mode)
		}
		resp, err := task.HandleTaskResult(ctx, ne.Ambiance, params, responses)
		return resp, ResumeFinalized, err

	case domain.ModeTaskChain, domain.ModeTaskChainV2:
		chain, ok := s.(step.TaskChainExecutable)
		if !ok {
			return domain.StepResponse{}, "", unsupported(s, ne.Mode)
		}
		latest, ok := ne.LatestExecutableResponse()
		if !ok {
			return domain.StepResponse{}, "", fmt.Errorf("%w: no chain link recorded for %s", ErrInvalidResponse, ne.UUID)
		}
		if latest.Terminal() {
			resp, err := chain.FinalizeExecution(ctx, ne.Ambiance, params, latest.PassThroughData, responses)
			return resp, ResumeFinalized, err
		}
		if err := r.facade.TriggerLink(ctx, s, ne.Ambiance, ne, latest.PassThroughData, responses); err != nil {
			return domain.StepResponse{}, "", err
		}
		return domain.StepResponse{}, ResumeLinked, nil

	case domain.ModeChildChain:
		chain, ok := s.(step.ChildChainExecutable)
		if !ok {
			return domain.StepResponse{}, "", unsupported(s, ne.Mode)
		}
		latest, ok := ne.LatestExecutableResponse()
		if !ok {
			return domain.StepResponse{}, "", fmt.Errorf("%w: no chain link recorded for %s", ErrInvalidResponse, ne.UUID)
		}
		if status := childStatusOf(latest.ChildNodeID, responses); status != "" {
			if err := r.recordChildStatus(ctx, ne.UUID, status); err != nil {
				return domain.StepResponse{}, "", err
			}
			latest.ChildStatus = status
		}
		if latest.Terminal() {
			resp, err := chain.FinalizeExecution(ctx, ne.Ambiance, params, latest.PassThroughData, responses)
			return resp, ResumeFinalized, err
		}
		if err := r.facade.TriggerLink(ctx, s, ne.Ambiance, ne, latest.PassThroughData, responses); err != nil {
			return domain.StepResponse{}, "", err
		}
		return domain.StepResponse{}, ResumeLinked, nil

	default:
		return domain.StepResponse{}, "", fmt.Errorf("%w: %q", ErrResumeNotHandled, ne.Mode)
	}
}

func (r *ResumeExecutor) recordChildStatus(ctx context.Context, nodeExecutionID string, status domain.Status) error {
	_, err := r.nodes.Update(ctx, nodeExecutionID, func(n *domain.NodeExecution) error {
		if len(n.ExecutableResponses) == 0 {
			return nil
		}
		n.ExecutableResponses[len(n.ExecutableResponses)-1].ChildStatus = status
		return nil
	})
	return err
}

func (r *ResumeExecutor) fail(ctx context.Context, span trace.Span, ambiance domain.Ambiance, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	r.logger.Error("resume failed", "node_execution_id", ambiance.CurrentRuntimeID(), "error", err)
	r.facade.HandleError(ctx, ambiance, err)
}

// ResumeNodeExecution is called by the notifier when a node's wait completed.
// It marks the node RUNNING and queues the resume behind any work already
// running for the node.
func (e *Engine) ResumeNodeExecution(ctx context.Context, nodeExecutionID string, responses map[string]domain.ResponseData, asyncError bool) error {
	ne, err := e.nodes.Get(ctx, nodeExecutionID)
	if err != nil {
		return fmt.Errorf("load node execution %s: %w", nodeExecutionID, err)
	}
	if !ne.Status.IsResumable() {
		e.logger.Info("resume ignored", "node_execution_id", ne.UUID, "status", ne.Status)
		return nil
	}
	if ne.Status != domain.StatusRunning {
		if _, err := e.transition(ctx, ne.UUID, domain.StatusRunning, nil, domain.ResumableStatuses()...); err != nil {
			if errors.Is(err, repo.ErrStatusConflict) {
				e.logger.Info("resume ignored", "node_execution_id", ne.UUID, "error", err)
				return nil
			}
			return err
		}
	}
	req := ResumeRequest{
		NodeExecutionID: nodeExecutionID,
		Responses:       responses,
		AsyncError:      asyncError,
	}
	return e.scheduler.Submit(nodeExecutionID, func(ctx context.Context) { e.resumer.Run(ctx, req) })
}

// expectsResponses rejects responses that answer an earlier hop of the node.
func expectsResponses(ne domain.NodeExecution, responses map[string]domain.ResponseData) bool {
	latest, ok := ne.LatestExecutableResponse()
	if !ok || len(responses) == 0 {
		return true
	}
	expected := make([]string, 0, len(latest.CallbackIDs)+len(latest.ChildNodeIDs)+1)
	expected = append(expected, latest.CallbackIDs...)
	expected = append(expected, latest.ChildNodeIDs...)
	if latest.ChildNodeID != "" {
		expected = append(expected, latest.ChildNodeID)
	}
	if len(expected) == 0 {
		return true
	}
	for id := range responses {
		if containsString(expected, id) {
			return true
		}
	}
	return false
}

func missingResponses(ids []string, responses step.Responses) []string {
	var missing []string
	for _, id := range ids {
		if _, ok := responses[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

func errorData(responses map[string]domain.ResponseData) domain.ErrorNotifyResponseData {
	for _, data := range responses {
		switch v := data.(type) {
		case domain.ErrorNotifyResponseData:
			return v
		case *domain.ErrorNotifyResponseData:
			if v != nil {
				return *v
			}
		}
	}
	return domain.ErrorNotifyResponseData{
		FailureTypes: []domain.FailureType{domain.FailureUnknown},
		ErrorMessage: "async error without details",
	}
}

func childStatusOf(childExecutionID string, responses step.Responses) domain.Status {
	data, ok := responses[childExecutionID]
	if !ok {
		return ""
	}
	switch v := data.(type) {
	case domain.StatusNotifyResponseData:
		return v.Status
	case *domain.StatusNotifyResponseData:
		if v != nil {
			return v.Status
		}
	}
	return ""
}
