package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/animus-orchestrator/internal/domain"
	"github.com/animus-labs/animus-orchestrator/internal/orchestration/facilitator"
	"github.com/animus-labs/animus-orchestrator/internal/orchestration/step"
	"github.com/animus-labs/animus-orchestrator/internal/repo"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

func newUUID() string { return uuid.NewString() }

// TriggerOptions link a new node execution into the graph.
type TriggerOptions struct {
	// NodeExecutionID presets the id, so a parent can wait on a child before
	// the child exists. Generated when empty.
	NodeExecutionID string
	ParentID        string
	PreviousID      string
	// NotifyID is the correlation id notified when the node's scope ends.
	NotifyID string
	RetryIDs []string
}

// StartPlanExecution persists a new plan execution and triggers its starting
// node.
func (e *Engine) StartPlanExecution(ctx context.Context, plan domain.Plan, setupAbstractions map[string]string, createdBy string) (domain.PlanExecution, error) {
	start, ok := plan.FetchNode(plan.StartingNodeID)
	if !ok {
		return domain.PlanExecution{}, fmt.Errorf("%w: starting node %q", ErrNodeNotInPlan, plan.StartingNodeID)
	}
	pe := domain.PlanExecution{
		UUID:              e.newID(),
		Plan:              plan,
		Status:            domain.StatusRunning,
		SetupAbstractions: setupAbstractions,
		CreatedBy:         strings.TrimSpace(createdBy),
		StartTs:           e.now().UTC(),
	}
	if err := e.plans.Create(ctx, pe); err != nil {
		return domain.PlanExecution{}, fmt.Errorf("create plan execution: %w", err)
	}
	e.logger.Info("plan execution started", "plan_execution_id", pe.UUID, "plan_id", plan.UUID, "created_by", pe.CreatedBy)

	ambiance := domain.NewAmbiance(pe.UUID, setupAbstractions)
	if _, err := e.TriggerExecution(ctx, ambiance, start, TriggerOptions{}); err != nil {
		return pe, err
	}
	return pe, nil
}

// TriggerExecution creates a QUEUED node execution for node under ambiance
// and queues its start.
func (e *Engine) TriggerExecution(ctx context.Context, ambiance domain.Ambiance, node domain.NodePlan, opts TriggerOptions) (domain.NodeExecution, error) {
	id := strings.TrimSpace(opts.NodeExecutionID)
	if id == "" {
		id = e.newID()
	}
	ne := domain.NodeExecution{
		UUID: id,
		Ambiance: ambiance.WithLevel(domain.Level{
			SetupID:    node.UUID,
			RuntimeID:  id,
			Identifier: node.Identifier,
			StepType:   node.StepType,
			Group:      node.Group,
		}),
		Node:                   node,
		Status:                 domain.StatusQueued,
		ResolvedStepParameters: append(json.RawMessage(nil), node.StepParameters...),
		ParentID:               opts.ParentID,
		PreviousID:             opts.PreviousID,
		NotifyID:               opts.NotifyID,
		RetryIDs:               opts.RetryIDs,
	}
	if err := e.nodes.Create(ctx, ne); err != nil {
		return domain.NodeExecution{}, fmt.Errorf("create node execution %s: %w", node.Identifier, err)
	}
	if opts.PreviousID != "" {
		_, err := e.nodes.Update(ctx, opts.PreviousID, func(prev *domain.NodeExecution) error {
			prev.NextID = id
			return nil
		})
		if err != nil {
			e.logger.Warn("link previous node execution", "node_execution_id", id, "previous_id", opts.PreviousID, "error", err)
		}
	}
	e.statusChanged(ctx, ne, "", domain.StatusQueued)

	if err := e.scheduler.Submit(id, func(ctx context.Context) { e.StartNodeExecution(ctx, id) }); err != nil {
		return ne, fmt.Errorf("queue node execution %s: %w", id, err)
	}
	return ne, nil
}

// StartNodeExecution facilitates a QUEUED node and invokes its step. It runs
// as an executor unit; failures are reported through HandleError.
func (e *Engine) StartNodeExecution(ctx context.Context, nodeExecutionID string) {
	ctx, span := e.tracer.Start(ctx, "engine.start_node", trace.WithAttributes(
		attribute.String("node_execution_id", nodeExecutionID),
	))
	defer span.End()

	ne, err := e.nodes.Get(ctx, nodeExecutionID)
	if err != nil {
		e.logger.Error("load node execution", "node_execution_id", nodeExecutionID, "error", err)
		return
	}
	defer e.recoverTo(ctx, ne.Ambiance)

	if ne.Status != domain.StatusQueued {
		e.logger.Debug("node already started", "node_execution_id", ne.UUID, "status", ne.Status)
		return
	}

	interrupted, err := e.planInterrupted(ctx, ne.Ambiance.PlanExecutionID)
	if err != nil {
		e.HandleError(ctx, ne.Ambiance, err)
		return
	}
	if interrupted {
		if _, err := e.transition(ctx, ne.UUID, domain.StatusAborted, e.stampEnd, domain.StatusQueued); err != nil {
			e.logger.Warn("abort interrupted node", "node_execution_id", ne.UUID, "error", err)
		}
		return
	}

	resp, err := e.facilitate(ctx, ne)
	if err != nil {
		e.HandleError(ctx, ne.Ambiance, err)
		return
	}
	span.SetAttributes(attribute.String("mode", string(resp.Mode)))

	if resp.InitialWait > 0 {
		_, err := e.transition(ctx, ne.UUID, domain.StatusWaiting, func(n *domain.NodeExecution) error {
			n.InitialWaitDuration = resp.InitialWait
			return nil
		}, domain.StatusQueued)
		if err != nil {
			e.HandleError(ctx, ne.Ambiance, err)
			return
		}
		ambiance := ne.Ambiance
		err = e.scheduler.SubmitAfter(resp.InitialWait, ne.UUID, func(ctx context.Context) {
			defer e.recoverTo(ctx, ambiance)
			e.invokeState(ctx, ambiance, nodeExecutionID, resp.Mode, domain.StatusWaiting)
		})
		if err != nil {
			e.HandleError(ctx, ne.Ambiance, fmt.Errorf("schedule initial wait: %w", err))
		}
		return
	}
	e.invokeState(ctx, ne.Ambiance, ne.UUID, resp.Mode, domain.StatusQueued)
}

// invokeState marks the node RUNNING, fixes its mode and calls the step's
// start method for that mode.
func (e *Engine) invokeState(ctx context.Context, ambiance domain.Ambiance, nodeExecutionID string, mode domain.ExecutionMode, from domain.Status) {
	ne, err := e.transition(ctx, nodeExecutionID, domain.StatusRunning, func(n *domain.NodeExecution) error {
		if err := n.SetMode(mode); err != nil {
			return err
		}
		n.StartTs = e.now().UTC()
		return nil
	}, from)
	if err != nil {
		if errors.Is(err, repo.ErrStatusConflict) {
			e.logger.Info("node left start status before invocation", "node_execution_id", nodeExecutionID, "error", err)
			return
		}
		e.HandleError(ctx, ambiance, err)
		return
	}

	s, err := e.regs.Steps.Resolve(ne.Node.StepType)
	if err != nil {
		e.HandleError(ctx, ne.Ambiance, err)
		return
	}
	inputs, err := e.inputs(ctx, ne)
	if err != nil {
		e.HandleError(ctx, ne.Ambiance, err)
		return
	}
	e.logger.Debug("invoking step", "node_execution_id", ne.UUID, "step_type", ne.Node.StepType, "mode", ne.Mode)
	if err := e.start(ctx, s, ne, inputs); err != nil {
		e.HandleError(ctx, ne.Ambiance, err)
	}
}

func (e *Engine) facilitate(ctx context.Context, ne domain.NodeExecution) (facilitator.Response, error) {
	for _, obt := range ne.Node.FacilitatorObtainments {
		f, err := e.regs.Facilitators.Resolve(obt.Type)
		if err != nil {
			return facilitator.Response{}, err
		}
		resp, ok, err := f.Facilitate(ctx, ne.Ambiance, obt.Parameters, ne.ResolvedStepParameters)
		if err != nil {
			return facilitator.Response{}, fmt.Errorf("facilitator %s: %w", obt.Type, err)
		}
		if !ok {
			continue
		}
		if domain.NormalizeMode(string(resp.Mode)) == domain.ModeUnknown {
			return facilitator.Response{}, fmt.Errorf("%w: facilitator %s chose %q", ErrUnsupportedMode, obt.Type, resp.Mode)
		}
		return resp, nil
	}
	return facilitator.Response{}, fmt.Errorf("%w: %s", ErrNoFacilitation, ne.Node.Identifier)
}

func (e *Engine) planInterrupted(ctx context.Context, planExecutionID string) (bool, error) {
	if planExecutionID == "" {
		return false, nil
	}
	pe, err := e.plans.Get(ctx, planExecutionID)
	if err != nil {
		return false, fmt.Errorf("load plan execution %s: %w", planExecutionID, err)
	}
	return pe.Status.IsFinal(), nil
}

// inputs exposes the outcomes of the previous node to the step.
func (e *Engine) inputs(ctx context.Context, ne domain.NodeExecution) (step.Inputs, error) {
	if e.outcomes == nil || ne.PreviousID == "" {
		return step.Inputs{}, nil
	}
	outcomes, err := e.outcomes.List(ctx, ne.Ambiance.PlanExecutionID, ne.PreviousID)
	if err != nil {
		return nil, fmt.Errorf("load inputs from %s: %w", ne.PreviousID, err)
	}
	inputs := make(step.Inputs, len(outcomes))
	for _, o := range outcomes {
		inputs[o.Name] = o.Outcome
	}
	return inputs, nil
}

// transition moves a node to status `to` in one guarded write. When from is
// non-empty the node must currently be in one of those statuses.
func (e *Engine) transition(ctx context.Context, nodeExecutionID string, to domain.Status, mutate func(*domain.NodeExecution) error, from ...domain.Status) (domain.NodeExecution, error) {
	var prev domain.Status
	updated, err := e.nodes.Update(ctx, nodeExecutionID, func(ne *domain.NodeExecution) error {
		prev = ne.Status
		if len(from) > 0 && !containsStatus(from, ne.Status) {
			return fmt.Errorf("%w: node %s is %s, want one of %v", repo.ErrStatusConflict, nodeExecutionID, ne.Status, from)
		}
		if !domain.CanTransitionStatus(ne.Status, to) {
			return fmt.Errorf("%w: node %s cannot move from %s to %s", repo.ErrStatusConflict, nodeExecutionID, ne.Status, to)
		}
		ne.Status = to
		if mutate != nil {
			return mutate(ne)
		}
		return nil
	})
	if err != nil {
		return domain.NodeExecution{}, err
	}
	if prev != to {
		e.statusChanged(ctx, updated, prev, to)
	}
	return updated, nil
}

func (e *Engine) stampEnd(ne *domain.NodeExecution) error {
	ne.EndTs = e.now().UTC()
	return nil
}

func (e *Engine) statusChanged(ctx context.Context, ne domain.NodeExecution, from, to domain.Status) {
	e.observer.StatusChanged(ctx, StatusEvent{
		NodeExecutionID: ne.UUID,
		PlanExecutionID: ne.Ambiance.PlanExecutionID,
		Identifier:      ne.Node.Identifier,
		StepType:        ne.Node.StepType,
		Mode:            ne.Mode,
		From:            from,
		To:              to,
		FailureInfo:     ne.FailureInfo,
		At:              e.now().UTC(),
	})
}

func (e *Engine) recoverTo(ctx context.Context, ambiance domain.Ambiance) {
	if rec := recover(); rec != nil {
		e.HandleError(ctx, ambiance, fmt.Errorf("panic: %v", rec))
	}
}

// activeStatuses are the statuses a node can be concluded or aborted from.
func activeStatuses() []domain.Status {
	return append([]domain.Status{domain.StatusQueued, domain.StatusRunning}, domain.WaitingStatuses()...)
}

func containsStatus(list []domain.Status, s domain.Status) bool {
	for _, candidate := range list {
		if candidate == s {
			return true
		}
	}
	return false
}
