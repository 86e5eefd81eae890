package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrModeAlreadySet = errors.New("execution mode already set")

// ExecutableResponse records the outcome of one start or link call. Only the
// fields of its Kind are populated.
type ExecutableResponse struct {
	Kind ExecutionMode `json:"kind"`

	CallbackIDs  []string `json:"callbackIds,omitempty"`
	TaskID       string   `json:"taskId,omitempty"`
	ChildNodeID  string   `json:"childNodeId,omitempty"`
	ChildNodeIDs []string `json:"childNodeIds,omitempty"`

	PassThroughData json.RawMessage `json:"passThroughData,omitempty"`
	ChainEnd        bool            `json:"chainEnd,omitempty"`
	LastLink        bool            `json:"lastLink,omitempty"`
	Suspend         bool            `json:"suspend,omitempty"`
	// ChildStatus is the final status of the child a CHILD_CHAIN link
	// spawned, recorded when the link resumes.
	ChildStatus Status `json:"childStatus,omitempty"`
}

// Terminal reports whether the hop ends its chain.
func (r ExecutableResponse) Terminal() bool {
	switch {
	case r.Kind.IsTaskChain():
		return r.ChainEnd
	case r.Kind == ModeChildChain:
		return r.LastLink || r.Suspend || r.ChildStatus.IsBroken()
	default:
		return true
	}
}

// NodeExecution is the runtime state of one instantiated NodePlan.
type NodeExecution struct {
	UUID                   string
	Ambiance               Ambiance
	Node                   NodePlan
	Status                 Status
	Mode                   ExecutionMode
	ExecutableResponses    []ExecutableResponse
	ResolvedStepParameters json.RawMessage
	ParentID               string
	PreviousID             string
	NextID                 string
	NotifyID               string
	RetryIDs               []string
	OldRetry               bool
	FailureInfo            *FailureInfo
	InitialWaitDuration    time.Duration
	StartTs                time.Time
	EndTs                  time.Time
	Version                int64
}

// SetMode records the mode chosen at first dispatch. Setting the same mode
// again is a no-op; changing it is an error.
func (n *NodeExecution) SetMode(mode ExecutionMode) error {
	if n.Mode == "" {
		n.Mode = mode
		return nil
	}
	if n.Mode == mode {
		return nil
	}
	return fmt.Errorf("%w: node %s is %s, refusing %s", ErrModeAlreadySet, n.UUID, n.Mode, mode)
}

// LatestExecutableResponse returns the response of the most recent hop.
func (n NodeExecution) LatestExecutableResponse() (ExecutableResponse, bool) {
	if len(n.ExecutableResponses) == 0 {
		return ExecutableResponse{}, false
	}
	return n.ExecutableResponses[len(n.ExecutableResponses)-1], true
}

func (n *NodeExecution) AddExecutableResponse(resp ExecutableResponse) {
	n.ExecutableResponses = append(n.ExecutableResponses, resp)
}
