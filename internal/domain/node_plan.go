package domain

import (
	"encoding/json"
	"time"
)

// Node groups used by the built-in plans.
const (
	GroupStage = "STAGE"
	GroupStep  = "STEP"
)

type FacilitatorObtainment struct {
	Type       string          `json:"type"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

type AdviserObtainment struct {
	Type       string          `json:"type"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// NodePlan is the compiled, immutable description of one node of a plan.
type NodePlan struct {
	UUID                   string                  `json:"uuid"`
	Identifier             string                  `json:"identifier"`
	Name                   string                  `json:"name,omitempty"`
	StepType               string                  `json:"stepType"`
	Group                  string                  `json:"group,omitempty"`
	FacilitatorObtainments []FacilitatorObtainment `json:"facilitatorObtainments"`
	AdviserObtainments     []AdviserObtainment     `json:"adviserObtainments,omitempty"`
	StepParameters         json.RawMessage         `json:"stepParameters,omitempty"`
	Timeout                time.Duration           `json:"timeout,omitempty"`

	// SkipExpressionChain is carried through from the compiled plan for the
	// steps that read it. The engine evaluates no expressions and never acts
	// on it; a step that decides to skip answers with a SKIPPED response.
	SkipExpressionChain bool `json:"skipExpressionChain,omitempty"`
}

// Plan is a compiled graph of nodes.
type Plan struct {
	UUID           string     `json:"uuid"`
	StartingNodeID string     `json:"startingNodeId"`
	Nodes          []NodePlan `json:"nodes"`
}

// FetchNode returns the node with the given uuid.
func (p Plan) FetchNode(nodeID string) (NodePlan, bool) {
	for _, node := range p.Nodes {
		if node.UUID == nodeID {
			return node, true
		}
	}
	return NodePlan{}, false
}

// PlanExecution is one run of a Plan.
type PlanExecution struct {
	UUID              string
	Plan              Plan
	Status            Status
	SetupAbstractions map[string]string
	CreatedBy         string
	StartTs           time.Time
	EndTs             time.Time
}
