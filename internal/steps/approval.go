package steps

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/animus-labs/animus-orchestrator/internal/domain"
	"github.com/animus-labs/animus-orchestrator/internal/orchestration/step"
)

// Approval suspends until someone posts a decision to its callback. The
// callback id is derived from the node execution id, so it can be found
// without reading the node's responses.
type Approval struct{}

func (Approval) Type() string { return TypeApproval }

func ApprovalCallbackID(nodeExecutionID string) string {
	return "approval-" + nodeExecutionID
}

func (Approval) ExecuteAsync(ctx context.Context, ambiance domain.Ambiance, params json.RawMessage, inputs step.Inputs) (step.AsyncExecutableResponse, error) {
	id := ambiance.CurrentRuntimeID()
	if id == "" {
		return step.AsyncExecutableResponse{}, errors.New("approval needs a node execution in its ambiance")
	}
	return step.AsyncExecutableResponse{CallbackIDs: []string{ApprovalCallbackID(id)}}, nil
}

func (Approval) HandleAsyncResponse(ctx context.Context, ambiance domain.Ambiance, params json.RawMessage, responses step.Responses) (domain.StepResponse, error) {
	decision, ok := taskResult(responses)
	if !ok {
		return domain.StepResponse{}, errors.New("approval response is missing")
	}
	if info := taskFailure(decision); info != nil {
		if decision.ErrorMessage == "" {
			info.ErrorMessage = "approval rejected"
		}
		return failed(info), nil
	}
	return succeeded(outcome("approval", decision.Output)...), nil
}
