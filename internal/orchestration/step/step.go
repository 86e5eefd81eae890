// Package step defines the contract concrete steps implement.
//
// A step declares which execution modes it supports by implementing the
// matching capability interfaces. The engine only calls a capability after a
// facilitator selected the corresponding mode, so a step that implements
// SyncExecutable and TaskExecutable can run either way depending on its
// facilitator obtainments.
//
// Start calls (Execute, ExecuteAsync, ObtainTask, ObtainChild,
// ObtainChildren, StartChainLink) run once per node execution. Handle calls
// run once per completed unit of external work. FinalizeExecution runs once,
// after the last chain link.
package step

import (
	"context"
	"encoding/json"

	"github.com/animus-labs/animus-orchestrator/internal/domain"
)

// Step is the common part of every step implementation.
type Step interface {
	Type() string
}

// Inputs are runtime values resolved for the node, such as outcomes of
// previous nodes.
type Inputs map[string]json.RawMessage

// Responses maps correlation ids to the data delivered for them.
type Responses map[string]domain.ResponseData

type SyncExecutable interface {
	Step
	Execute(ctx context.Context, ambiance domain.Ambiance, params json.RawMessage, inputs Inputs) (domain.StepResponse, error)
}

type AsyncExecutableResponse struct {
	CallbackIDs []string
}

type AsyncExecutable interface {
	Step
	ExecuteAsync(ctx context.Context, ambiance domain.Ambiance, params json.RawMessage, inputs Inputs) (AsyncExecutableResponse, error)
	HandleAsyncResponse(ctx context.Context, ambiance domain.Ambiance, params json.RawMessage, responses Responses) (domain.StepResponse, error)
}

// TaskRequest describes work delegated to an external runner.
type TaskRequest struct {
	TaskType string
	Payload  json.RawMessage
	Timeout  string
}

type TaskExecutable interface {
	Step
	ObtainTask(ctx context.Context, ambiance domain.Ambiance, params json.RawMessage, inputs Inputs) (TaskRequest, error)
	HandleTaskResult(ctx context.Context, ambiance domain.Ambiance, params json.RawMessage, responses Responses) (domain.StepResponse, error)
}

type ChildExecutableResponse struct {
	ChildNodeID string
}

type ChildExecutable interface {
	Step
	ObtainChild(ctx context.Context, ambiance domain.Ambiance, params json.RawMessage, inputs Inputs) (ChildExecutableResponse, error)
	HandleChildResponse(ctx context.Context, ambiance domain.Ambiance, params json.RawMessage, responses Responses) (domain.StepResponse, error)
}

type ChildrenExecutableResponse struct {
	ChildNodeIDs []string
}

// ChildrenExecutable fans out to several child nodes. HandleChildrenResponse
// receives one entry per child node execution id, and only once all of them
// are present.
type ChildrenExecutable interface {
	Step
	ObtainChildren(ctx context.Context, ambiance domain.Ambiance, params json.RawMessage, inputs Inputs) (ChildrenExecutableResponse, error)
	HandleChildrenResponse(ctx context.Context, ambiance domain.Ambiance, params json.RawMessage, responses Responses) (domain.StepResponse, error)
}

// TaskChainResponse is one link of a task chain. Task is empty when the link
// has no remote work, which is only valid together with ChainEnd.
type TaskChainResponse struct {
	Task            *TaskRequest
	PassThroughData json.RawMessage
	ChainEnd        bool
}

type TaskChainExecutable interface {
	Step
	StartChainLink(ctx context.Context, ambiance domain.Ambiance, params json.RawMessage, inputs Inputs) (TaskChainResponse, error)
	ExecuteNextLink(ctx context.Context, ambiance domain.Ambiance, params json.RawMessage, inputs Inputs, passThroughData json.RawMessage, responses Responses) (TaskChainResponse, error)
	FinalizeExecution(ctx context.Context, ambiance domain.Ambiance, params json.RawMessage, passThroughData json.RawMessage, responses Responses) (domain.StepResponse, error)
}

// ChildChainResponse is one link of a child chain. ChildNodeID is empty when
// the link suspends without spawning a child.
type ChildChainResponse struct {
	ChildNodeID     string
	PassThroughData json.RawMessage
	LastLink        bool
	Suspend         bool
}

type ChildChainExecutable interface {
	Step
	StartChainLink(ctx context.Context, ambiance domain.Ambiance, params json.RawMessage, inputs Inputs) (ChildChainResponse, error)
	ExecuteNextLink(ctx context.Context, ambiance domain.Ambiance, params json.RawMessage, inputs Inputs, passThroughData json.RawMessage, responses Responses) (ChildChainResponse, error)
	FinalizeExecution(ctx context.Context, ambiance domain.Ambiance, params json.RawMessage, passThroughData json.RawMessage, responses Responses) (domain.StepResponse, error)
}
