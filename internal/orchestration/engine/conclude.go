package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/animus-labs/animus-orchestrator/internal/domain"
	"github.com/animus-labs/animus-orchestrator/internal/orchestration/adviser"
	"github.com/animus-labs/animus-orchestrator/internal/repo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var errPlanFinal = errors.New("plan execution already final")

// concludedError is a failure raised after the node's final status was
// committed. The node can no longer change, so HandleError fails the plan.
type concludedError struct {
	ne  domain.NodeExecution
	err error
}

func (e *concludedError) Error() string {
	return fmt.Sprintf("after concluding %s as %s: %v", e.ne.UUID, e.ne.Status, e.err)
}

func (e *concludedError) Unwrap() error { return e.err }

// HandleStepResponse concludes a node with resp and acts on the first
// applicable advise. A response for a node that is already concluded is
// dropped without touching its outcomes.
func (e *Engine) HandleStepResponse(ctx context.Context, nodeExecutionID string, resp domain.StepResponse) error {
	ctx, span := e.tracer.Start(ctx, "engine.handle_step_response", trace.WithAttributes(
		attribute.String("node_execution_id", nodeExecutionID),
		attribute.String("status", string(resp.Status)),
	))
	defer span.End()

	status := domain.NormalizeStatus(string(resp.Status))
	if !status.IsFinal() {
		return fmt.Errorf("%w: status %q is not final", ErrInvalidResponse, resp.Status)
	}
	for _, o := range resp.StepOutcomes {
		if o.Name == "" {
			return fmt.Errorf("%w: step outcome without a name", ErrInvalidResponse)
		}
	}
	ne, err := e.nodes.Get(ctx, nodeExecutionID)
	if err != nil {
		return fmt.Errorf("load node execution %s: %w", nodeExecutionID, err)
	}
	if ne.Status.IsFinal() {
		e.logger.Warn("step response dropped", "node_execution_id", nodeExecutionID, "status", status, "current", ne.Status)
		return nil
	}

	concluded, err := e.conclude(ctx, nodeExecutionID, status, resp.FailureInfo)
	if err != nil {
		if errors.Is(err, repo.ErrStatusConflict) {
			e.logger.Warn("step response dropped", "node_execution_id", nodeExecutionID, "status", status, "error", err)
			return nil
		}
		return err
	}
	e.logger.Info("node execution concluded",
		"node_execution_id", concluded.UUID,
		"plan_execution_id", concluded.Ambiance.PlanExecutionID,
		"identifier", concluded.Node.Identifier,
		"status", concluded.Status,
	)

	if err := e.advance(ctx, span, concluded, resp.StepOutcomes); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &concludedError{ne: concluded, err: err}
	}
	return nil
}

// advance publishes the outcomes of a concluded node and follows its advise.
func (e *Engine) advance(ctx context.Context, span trace.Span, concluded domain.NodeExecution, outcomes []domain.StepOutcome) error {
	if err := e.storeOutcomes(ctx, concluded, outcomes); err != nil {
		return err
	}
	advise, ok, err := e.advise(concluded)
	if err != nil {
		return err
	}
	event := AdviseEvent{NodeExecutionID: concluded.UUID, Status: concluded.Status}
	if ok {
		event.Advise = &advise
	}
	e.observer.Advised(ctx, event)

	if !ok {
		return e.endTransition(ctx, concluded)
	}
	span.SetAttributes(attribute.String("advise", string(advise.Type)))
	return e.handleAdvise(ctx, concluded, advise)
}

func (e *Engine) conclude(ctx context.Context, nodeExecutionID string, status domain.Status, failure *domain.FailureInfo) (domain.NodeExecution, error) {
	return e.transition(ctx, nodeExecutionID, status, func(n *domain.NodeExecution) error {
		n.EndTs = e.now().UTC()
		if failure != nil {
			info := *failure
			info.FailureTypes = append([]domain.FailureType(nil), failure.FailureTypes...)
			n.FailureInfo = &info
		}
		return nil
	}, activeStatuses()...)
}

// advise asks the node's advisers in order; the first one that can advise
// wins.
func (e *Engine) advise(ne domain.NodeExecution) (domain.Advise, bool, error) {
	event := adviser.Event{
		NodeExecutionID: ne.UUID,
		NodeIdentifier:  ne.Node.Identifier,
		FromStatus:      domain.StatusRunning,
		ToStatus:        ne.Status,
		FailureInfo:     ne.FailureInfo,
		RetryAttempts:   len(ne.RetryIDs),
	}
	for _, obt := range ne.Node.AdviserObtainments {
		a, err := e.regs.Advisers.Resolve(obt.Type)
		if err != nil {
			return domain.Advise{}, false, err
		}
		event.Parameters = obt.Parameters
		if !a.CanAdvise(event) {
			continue
		}
		advise, err := a.OnAdviseEvent(event)
		if err != nil {
			return domain.Advise{}, false, fmt.Errorf("adviser %s: %w", obt.Type, err)
		}
		return advise, true, nil
	}
	return domain.Advise{}, false, nil
}

func (e *Engine) handleAdvise(ctx context.Context, ne domain.NodeExecution, advise domain.Advise) error {
	switch advise.Type {
	case domain.AdviseNextStep:
		return e.triggerNext(ctx, ne, advise.NextNodeID)
	case domain.AdviseRetry:
		e.logger.Info("retrying node", "node_execution_id", ne.UUID, "attempt", len(ne.RetryIDs)+1, "wait", advise.WaitInterval)
		return e.scheduler.SubmitAfter(advise.WaitInterval, "", func(ctx context.Context) {
			if err := e.retry(ctx, ne.UUID); err != nil {
				e.logger.Error("retry node", "node_execution_id", ne.UUID, "error", err)
				if terr := e.endTransition(ctx, ne); terr != nil {
					e.logger.Error("end scope after failed retry", "node_execution_id", ne.UUID, "error", terr)
				}
			}
		})
	case domain.AdviseMarkFailed:
		return e.endTransition(ctx, ne)
	case domain.AdviseIgnore:
		updated, err := e.transition(ctx, ne.UUID, domain.StatusIgnoreFailed, nil, ne.Status)
		if err != nil {
			return err
		}
		if advise.NextNodeID != "" {
			return e.triggerNext(ctx, updated, advise.NextNodeID)
		}
		return e.endTransition(ctx, updated)
	case domain.AdviseEndPlan:
		return e.endPlan(ctx, ne.Ambiance.PlanExecutionID, ne.Status)
	default:
		return fmt.Errorf("unknown advise type %q", advise.Type)
	}
}

// triggerNext starts the sibling that follows ne. The sibling inherits ne's
// parent and notify id, so the scope ends when the last sibling ends.
func (e *Engine) triggerNext(ctx context.Context, ne domain.NodeExecution, nextNodeID string) error {
	pe, err := e.plans.Get(ctx, ne.Ambiance.PlanExecutionID)
	if err != nil {
		return fmt.Errorf("load plan execution %s: %w", ne.Ambiance.PlanExecutionID, err)
	}
	node, ok := pe.Plan.FetchNode(nextNodeID)
	if !ok {
		return fmt.Errorf("%w: next node %q of %s", ErrNodeNotInPlan, nextNodeID, ne.Node.Identifier)
	}
	_, err = e.TriggerExecution(ctx, ne.Ambiance.Parent(), node, TriggerOptions{
		ParentID:   ne.ParentID,
		PreviousID: ne.UUID,
		NotifyID:   ne.NotifyID,
	})
	return err
}

// retry replaces a concluded node with a fresh execution of the same plan
// node. The old execution stays as history.
func (e *Engine) retry(ctx context.Context, nodeExecutionID string) error {
	old, err := e.nodes.Update(ctx, nodeExecutionID, func(n *domain.NodeExecution) error {
		n.OldRetry = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("mark retried node %s: %w", nodeExecutionID, err)
	}
	retryIDs := append(append([]string(nil), old.RetryIDs...), old.UUID)
	_, err = e.TriggerExecution(ctx, old.Ambiance.Parent(), old.Node, TriggerOptions{
		ParentID:   old.ParentID,
		PreviousID: old.PreviousID,
		NotifyID:   old.NotifyID,
		RetryIDs:   retryIDs,
	})
	return err
}

// endTransition ends the node's scope: a waiting parent is notified,
// otherwise the plan execution finishes with the node's status.
func (e *Engine) endTransition(ctx context.Context, ne domain.NodeExecution) error {
	if ne.NotifyID != "" {
		return e.notifier.Notify(ctx, ne.NotifyID, domain.StatusNotifyResponseData{
			NodeExecutionID: ne.UUID,
			Status:          ne.Status,
			FailureInfo:     ne.FailureInfo,
		})
	}
	return e.endPlan(ctx, ne.Ambiance.PlanExecutionID, ne.Status)
}

func (e *Engine) endPlan(ctx context.Context, planExecutionID string, status domain.Status) error {
	final := status
	if status.IsPositive() {
		final = domain.StatusSucceeded
	}
	pe, err := e.plans.Update(ctx, planExecutionID, func(pe *domain.PlanExecution) error {
		if pe.Status.IsFinal() {
			return errPlanFinal
		}
		pe.Status = final
		pe.EndTs = e.now().UTC()
		return nil
	})
	if errors.Is(err, errPlanFinal) {
		e.logger.Debug("plan execution already finished", "plan_execution_id", planExecutionID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("finish plan execution %s: %w", planExecutionID, err)
	}
	e.logger.Info("plan execution finished", "plan_execution_id", pe.UUID, "status", pe.Status)
	return nil
}

// HandleError concludes the node named by the ambiance after err. Errors that
// no retry can fix are concluded ERRORED and skip the advisers; everything
// else becomes a FAILED step response. A failure raised after the node already
// concluded fails the plan.
func (e *Engine) HandleError(ctx context.Context, ambiance domain.Ambiance, err error) {
	var ce *concludedError
	if errors.As(err, &ce) {
		e.logger.Error("node execution error after conclusion",
			"node_execution_id", ce.ne.UUID,
			"plan_execution_id", ce.ne.Ambiance.PlanExecutionID,
			"status", ce.ne.Status,
			"error", ce.err,
		)
		e.failPlan(context.WithoutCancel(ctx), ce.ne.Ambiance.PlanExecutionID)
		return
	}

	id := ambiance.CurrentRuntimeID()
	if id == "" {
		e.logger.Error("engine error without node", "plan_execution_id", ambiance.PlanExecutionID, "error", err)
		return
	}
	e.logger.Error("node execution error", "node_execution_id", id, "plan_execution_id", ambiance.PlanExecutionID, "error", err)

	if isConfigurationError(err) {
		concluded, cerr := e.conclude(ctx, id, domain.StatusErrored, &domain.FailureInfo{
			FailureTypes: failureTypesOf(err),
			ErrorMessage: err.Error(),
		})
		if cerr != nil {
			if !errors.Is(cerr, repo.ErrStatusConflict) {
				e.logger.Error("conclude errored node", "node_execution_id", id, "error", cerr)
				e.failPlan(ctx, ambiance.PlanExecutionID)
			}
			return
		}
		if terr := e.endTransition(ctx, concluded); terr != nil {
			e.logger.Error("end scope of errored node", "node_execution_id", id, "error", terr)
			e.failPlan(ctx, ambiance.PlanExecutionID)
		}
		return
	}

	herr := e.HandleStepResponse(ctx, id, domain.FailedResponse(err.Error(), failureTypesOf(err)...))
	if herr == nil {
		return
	}
	e.logger.Error("handle failure response", "node_execution_id", id, "error", herr)
	if errors.As(herr, &ce) {
		e.failPlan(context.WithoutCancel(ctx), ambiance.PlanExecutionID)
		return
	}

	ne, gerr := e.nodes.Get(ctx, id)
	if gerr != nil {
		e.failPlan(ctx, ambiance.PlanExecutionID)
		return
	}
	if !ne.Status.IsFinal() {
		concluded, cerr := e.conclude(ctx, id, domain.StatusFailed, &domain.FailureInfo{
			FailureTypes: failureTypesOf(herr),
			ErrorMessage: herr.Error(),
		})
		if cerr != nil {
			e.failPlan(ctx, ambiance.PlanExecutionID)
			return
		}
		ne = concluded
	}
	if terr := e.endTransition(ctx, ne); terr != nil {
		e.logger.Error("end scope of failed node", "node_execution_id", id, "error", terr)
		e.failPlan(ctx, ambiance.PlanExecutionID)
	}
}

// failPlan marks the plan FAILED and aborts the nodes still active in it.
func (e *Engine) failPlan(ctx context.Context, planExecutionID string) {
	if planExecutionID == "" {
		return
	}
	if err := e.endPlan(ctx, planExecutionID, domain.StatusFailed); err != nil {
		e.logger.Error("fail plan execution", "plan_execution_id", planExecutionID, "error", err)
		return
	}
	if _, err := e.abortActive(ctx, planExecutionID); err != nil {
		e.logger.Error("abort nodes of failed plan", "plan_execution_id", planExecutionID, "error", err)
	}
}

func (e *Engine) storeOutcomes(ctx context.Context, ne domain.NodeExecution, outcomes []domain.StepOutcome) error {
	if e.outcomes == nil || len(outcomes) == 0 {
		return nil
	}
	for _, o := range outcomes {
		if err := e.outcomes.Put(ctx, ne.Ambiance.PlanExecutionID, ne.UUID, o); err != nil {
			return fmt.Errorf("store outcome %s: %w", o.Name, err)
		}
	}
	return nil
}

// AbortNodeExecution aborts a node that has not concluded yet and ends its
// scope. Aborting a concluded node returns repo.ErrStatusConflict.
func (e *Engine) AbortNodeExecution(ctx context.Context, nodeExecutionID string) (domain.NodeExecution, error) {
	ne, err := e.transition(ctx, nodeExecutionID, domain.StatusAborted, e.stampEnd, activeStatuses()...)
	if err != nil {
		return domain.NodeExecution{}, err
	}
	e.logger.Info("node execution aborted", "node_execution_id", ne.UUID, "plan_execution_id", ne.Ambiance.PlanExecutionID)
	if err := e.endTransition(ctx, ne); err != nil {
		return ne, err
	}
	return ne, nil
}

// AbortPlanExecution marks the plan ABORTED and aborts every active node.
// Queued nodes that start later see the plan is final and abort themselves.
func (e *Engine) AbortPlanExecution(ctx context.Context, planExecutionID string) (domain.PlanExecution, error) {
	pe, err := e.plans.Update(ctx, planExecutionID, func(pe *domain.PlanExecution) error {
		if pe.Status.IsFinal() {
			return fmt.Errorf("%w: plan execution %s is %s", repo.ErrStatusConflict, pe.UUID, pe.Status)
		}
		pe.Status = domain.StatusAborted
		pe.EndTs = e.now().UTC()
		return nil
	})
	if err != nil {
		return domain.PlanExecution{}, err
	}
	aborted, err := e.abortActive(ctx, planExecutionID)
	if err != nil {
		return pe, err
	}
	e.logger.Info("plan execution aborted", "plan_execution_id", pe.UUID, "aborted_nodes", aborted)
	return pe, nil
}

func (e *Engine) abortActive(ctx context.Context, planExecutionID string) (int, error) {
	active, err := e.nodes.List(ctx, repo.NodeExecutionFilter{
		PlanExecutionID: planExecutionID,
		Statuses:        activeStatuses(),
	})
	if err != nil {
		return 0, fmt.Errorf("list active nodes: %w", err)
	}
	for _, ne := range active {
		if _, err := e.transition(ctx, ne.UUID, domain.StatusAborted, e.stampEnd, activeStatuses()...); err != nil && !errors.Is(err, repo.ErrStatusConflict) {
			e.logger.Warn("abort node execution", "node_execution_id", ne.UUID, "error", err)
		}
	}
	return len(active), nil
}
