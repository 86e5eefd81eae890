package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/animus-labs/animus-orchestrator/internal/domain"
	"github.com/animus-labs/animus-orchestrator/internal/orchestration/step"
)

// start calls the step's start method for the node's mode.
func (e *Engine) start(ctx context.Context, s step.Step, ne domain.NodeExecution, inputs step.Inputs) error {
	params := ne.ResolvedStepParameters
	switch ne.Mode {
	case domain.ModeSync:
		sync, ok := s.(step.SyncExecutable)
		if !ok {
			return unsupported(s, ne.Mode)
		}
		resp, err := sync.Execute(ctx, ne.Ambiance, params, inputs)
		if err != nil {
			return err
		}
		return e.HandleStepResponse(ctx, ne.UUID, resp)

	case domain.ModeAsync:
		async, ok := s.(step.AsyncExecutable)
		if !ok {
			return unsupported(s, ne.Mode)
		}
		resp, err := async.ExecuteAsync(ctx, ne.Ambiance, params, inputs)
		if err != nil {
			return err
		}
		if len(resp.CallbackIDs) == 0 {
			return fmt.Errorf("%w: async step %s returned no callback ids", ErrInvalidResponse, s.Type())
		}
		record := domain.ExecutableResponse{Kind: ne.Mode, CallbackIDs: resp.CallbackIDs}
		return e.suspend(ctx, ne, domain.StatusAsyncWaiting, record, resp.CallbackIDs...)

	case domain.ModeTask, domain.ModeTaskV2:
		task, ok := s.(step.TaskExecutable)
		if !ok {
			return unsupported(s, ne.Mode)
		}
		req, err := task.ObtainTask(ctx, ne.Ambiance, params, inputs)
		if err != nil {
			return err
		}
		return e.submitTask(ctx, ne, req, domain.ExecutableResponse{Kind: ne.Mode})

	case domain.ModeChild:
		child, ok := s.(step.ChildExecutable)
		if !ok {
			return unsupported(s, ne.Mode)
		}
		resp, err := child.ObtainChild(ctx, ne.Ambiance, params, inputs)
		if err != nil {
			return err
		}
		if resp.ChildNodeID == "" {
			return fmt.Errorf("%w: child step %s returned no child node", ErrInvalidResponse, s.Type())
		}
		return e.spawnChildren(ctx, ne, domain.StatusRunning, domain.ExecutableResponse{Kind: ne.Mode}, resp.ChildNodeID)

	case domain.ModeChildren:
		children, ok := s.(step.ChildrenExecutable)
		if !ok {
			return unsupported(s, ne.Mode)
		}
		resp, err := children.ObtainChildren(ctx, ne.Ambiance, params, inputs)
		if err != nil {
			return err
		}
		return e.spawnChildren(ctx, ne, domain.StatusChildrenWaiting, domain.ExecutableResponse{Kind: ne.Mode}, resp.ChildNodeIDs...)

	case domain.ModeTaskChain, domain.ModeTaskChainV2:
		chain, ok := s.(step.TaskChainExecutable)
		if !ok {
			return unsupported(s, ne.Mode)
		}
		resp, err := chain.StartChainLink(ctx, ne.Ambiance, params, inputs)
		if err != nil {
			return err
		}
		return e.taskChainLink(ctx, chain, ne, resp)

	case domain.ModeChildChain:
		chain, ok := s.(step.ChildChainExecutable)
		if !ok {
			return unsupported(s, ne.Mode)
		}
		resp, err := chain.StartChainLink(ctx, ne.Ambiance, params, inputs)
		if err != nil {
			return err
		}
		return e.childChainLink(ctx, chain, ne, resp)

	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedMode, ne.Mode)
	}
}

// TriggerLink runs the next link of a chain after the previous link's work
// completed.
func (e *Engine) TriggerLink(ctx context.Context, s step.Step, ambiance domain.Ambiance, ne domain.NodeExecution, passThroughData json.RawMessage, responses step.Responses) error {
	updated, err := e.transition(ctx, ne.UUID, domain.StatusRunning, nil, domain.ResumableStatuses()...)
	if err != nil {
		return err
	}
	inputs, err := e.inputs(ctx, updated)
	if err != nil {
		return err
	}
	params := updated.ResolvedStepParameters

	switch {
	case updated.Mode.IsTaskChain():
		chain, ok := s.(step.TaskChainExecutable)
		if !ok {
			return unsupported(s, updated.Mode)
		}
		resp, err := chain.ExecuteNextLink(ctx, ambiance, params, inputs, passThroughData, responses)
		if err != nil {
			return err
		}
		return e.taskChainLink(ctx, chain, updated, resp)
	case updated.Mode == domain.ModeChildChain:
		chain, ok := s.(step.ChildChainExecutable)
		if !ok {
			return unsupported(s, updated.Mode)
		}
		resp, err := chain.ExecuteNextLink(ctx, ambiance, params, inputs, passThroughData, responses)
		if err != nil {
			return err
		}
		return e.childChainLink(ctx, chain, updated, resp)
	default:
		return fmt.Errorf("%w: %s has no chain links", ErrUnsupportedMode, updated.Mode)
	}
}

func (e *Engine) taskChainLink(ctx context.Context, chain step.TaskChainExecutable, ne domain.NodeExecution, resp step.TaskChainResponse) error {
	record := domain.ExecutableResponse{
		Kind:            ne.Mode,
		PassThroughData: resp.PassThroughData,
		ChainEnd:        resp.ChainEnd,
	}
	if resp.Task != nil {
		return e.submitTask(ctx, ne, *resp.Task, record)
	}
	if !resp.ChainEnd {
		return fmt.Errorf("%w: task chain link without a task must end the chain", ErrInvalidResponse)
	}
	if err := e.record(ctx, ne.UUID, record); err != nil {
		return err
	}
	out, err := chain.FinalizeExecution(ctx, ne.Ambiance, ne.ResolvedStepParameters, resp.PassThroughData, step.Responses{})
	if err != nil {
		return err
	}
	return e.HandleStepResponse(ctx, ne.UUID, out)
}

func (e *Engine) childChainLink(ctx context.Context, chain step.ChildChainExecutable, ne domain.NodeExecution, resp step.ChildChainResponse) error {
	record := domain.ExecutableResponse{
		Kind:            ne.Mode,
		PassThroughData: resp.PassThroughData,
		LastLink:        resp.LastLink,
		Suspend:         resp.Suspend,
	}
	if resp.ChildNodeID != "" {
		return e.spawnChildren(ctx, ne, domain.StatusSuspended, record, resp.ChildNodeID)
	}
	if !resp.LastLink && !resp.Suspend {
		return fmt.Errorf("%w: child chain link without a child must be the last link or suspend", ErrInvalidResponse)
	}
	if err := e.record(ctx, ne.UUID, record); err != nil {
		return err
	}
	out, err := chain.FinalizeExecution(ctx, ne.Ambiance, ne.ResolvedStepParameters, resp.PassThroughData, step.Responses{})
	if err != nil {
		return err
	}
	return e.HandleStepResponse(ctx, ne.UUID, out)
}

// submitTask registers the wait for a task callback, then hands the task to
// the delegate. The wait exists before the delegate can answer.
func (e *Engine) submitTask(ctx context.Context, ne domain.NodeExecution, req step.TaskRequest, record domain.ExecutableResponse) error {
	if e.delegate == nil {
		return Fail(errors.New("no task delegate configured"), domain.FailureDelegateProvisioning)
	}
	callbackID := e.newID()
	record.CallbackIDs = []string{callbackID}
	if err := e.suspend(ctx, ne, domain.StatusTaskWaiting, record, callbackID); err != nil {
		return err
	}

	taskID, err := e.delegate.Submit(ctx, TaskSubmission{
		CallbackID:      callbackID,
		PlanExecutionID: ne.Ambiance.PlanExecutionID,
		NodeExecutionID: ne.UUID,
		StepType:        ne.Node.StepType,
		Mode:            ne.Mode,
		Request:         req,
	})
	if err != nil {
		var fe *FailureError
		if errors.As(err, &fe) {
			return err
		}
		return Fail(fmt.Errorf("submit task: %w", err), domain.FailureDelegateProvisioning)
	}
	if taskID == "" {
		return nil
	}
	_, err = e.nodes.Update(ctx, ne.UUID, func(n *domain.NodeExecution) error {
		for i := len(n.ExecutableResponses) - 1; i >= 0; i-- {
			if containsString(n.ExecutableResponses[i].CallbackIDs, callbackID) {
				n.ExecutableResponses[i].TaskID = taskID
				break
			}
		}
		return nil
	})
	if err != nil {
		e.logger.Warn("record task id", "node_execution_id", ne.UUID, "task_id", taskID, "error", err)
	}
	return nil
}

// spawnChildren creates one child node execution per plan node id. The
// children get preset execution ids that double as the correlation ids the
// parent waits on.
func (e *Engine) spawnChildren(ctx context.Context, ne domain.NodeExecution, waitStatus domain.Status, record domain.ExecutableResponse, childNodeIDs ...string) error {
	pe, err := e.plans.Get(ctx, ne.Ambiance.PlanExecutionID)
	if err != nil {
		return fmt.Errorf("load plan execution %s: %w", ne.Ambiance.PlanExecutionID, err)
	}
	children := make([]domain.NodePlan, 0, len(childNodeIDs))
	for _, id := range childNodeIDs {
		node, ok := pe.Plan.FetchNode(id)
		if !ok {
			return fmt.Errorf("%w: child %q of %s", ErrNodeNotInPlan, id, ne.Node.Identifier)
		}
		children = append(children, node)
	}

	execIDs := make([]string, len(children))
	for i := range children {
		execIDs[i] = e.newID()
	}
	if len(execIDs) == 1 {
		record.ChildNodeID = execIDs[0]
	}
	record.ChildNodeIDs = execIDs

	if len(execIDs) == 0 {
		if err := e.record(ctx, ne.UUID, record); err != nil {
			return err
		}
		return e.ResumeNodeExecution(ctx, ne.UUID, map[string]domain.ResponseData{}, false)
	}

	if err := e.suspend(ctx, ne, waitStatus, record, execIDs...); err != nil {
		return err
	}
	for i, child := range children {
		_, err := e.TriggerExecution(ctx, ne.Ambiance, child, TriggerOptions{
			NodeExecutionID: execIDs[i],
			ParentID:        ne.UUID,
			NotifyID:        execIDs[i],
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// suspend persists the hop and the wait status, then registers the wait.
func (e *Engine) suspend(ctx context.Context, ne domain.NodeExecution, waitStatus domain.Status, record domain.ExecutableResponse, correlationIDs ...string) error {
	_, err := e.transition(ctx, ne.UUID, waitStatus, func(n *domain.NodeExecution) error {
		n.AddExecutableResponse(record)
		return nil
	}, domain.StatusRunning)
	if err != nil {
		return err
	}
	if _, err := e.notifier.WaitOn(ctx, ne.UUID, ne.Node.Timeout, correlationIDs...); err != nil {
		return fmt.Errorf("wait on %v: %w", correlationIDs, err)
	}
	return nil
}

func (e *Engine) record(ctx context.Context, nodeExecutionID string, record domain.ExecutableResponse) error {
	_, err := e.nodes.Update(ctx, nodeExecutionID, func(n *domain.NodeExecution) error {
		n.AddExecutableResponse(record)
		return nil
	})
	return err
}

func unsupported(s step.Step, mode domain.ExecutionMode) error {
	return fmt.Errorf("%w: %s does not implement %s", ErrUnsupportedMode, s.Type(), mode)
}

func containsString(list []string, s string) bool {
	for _, candidate := range list {
		if candidate == s {
			return true
		}
	}
	return false
}
