// Package plan decodes compiled plan documents and checks them against the
// registered steps, facilitators and advisers before a plan execution starts.
package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/animus-labs/animus-orchestrator/internal/domain"
)

var ErrInvalidPlan = errors.New("invalid plan")

// Document is a submitted plan together with the setup abstractions the plan
// execution runs with.
type Document struct {
	Plan              domain.Plan
	SetupAbstractions map[string]string
}

type obtainmentDocument struct {
	Type       string          `json:"type"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

type nodeDocument struct {
	UUID                   string               `json:"uuid"`
	Identifier             string               `json:"identifier"`
	Name                   string               `json:"name"`
	StepType               string               `json:"stepType"`
	Group                  string               `json:"group"`
	FacilitatorObtainments []obtainmentDocument `json:"facilitatorObtainments"`
	AdviserObtainments     []obtainmentDocument `json:"adviserObtainments"`
	StepParameters         json.RawMessage      `json:"stepParameters"`
	SkipExpressionChain    bool                 `json:"skipExpressionChain"`
	Timeout                string               `json:"timeout"`
}

type planDocument struct {
	UUID              string            `json:"uuid"`
	StartingNodeID    string            `json:"startingNodeId"`
	SetupAbstractions map[string]string `json:"setupAbstractions"`
	Nodes             []nodeDocument    `json:"nodes"`
}

// Parse decodes a YAML or JSON plan document. A missing plan uuid is
// generated. Parse checks structure only; see Validate.
func Parse(input []byte) (Document, error) {
	if len(strings.TrimSpace(string(input))) == 0 {
		return Document{}, fmt.Errorf("%w: empty document", ErrInvalidPlan)
	}
	// Parameters stay opaque to the engine, so the YAML tree is re-encoded
	// as JSON before it is bound to the document.
	var tree any
	if err := yaml.Unmarshal(input, &tree); err != nil {
		return Document{}, fmt.Errorf("%w: decode document: %v", ErrInvalidPlan, err)
	}
	raw, err := json.Marshal(tree)
	if err != nil {
		return Document{}, fmt.Errorf("%w: document must use string keys: %v", ErrInvalidPlan, err)
	}
	var doc planDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Document{}, fmt.Errorf("%w: decode document: %v", ErrInvalidPlan, err)
	}

	p := domain.Plan{
		UUID:           strings.TrimSpace(doc.UUID),
		StartingNodeID: strings.TrimSpace(doc.StartingNodeID),
		Nodes:          make([]domain.NodePlan, 0, len(doc.Nodes)),
	}
	if p.UUID == "" {
		p.UUID = uuid.NewString()
	}
	for i, n := range doc.Nodes {
		node, err := n.toNodePlan()
		if err != nil {
			return Document{}, fmt.Errorf("%w: plan.nodes[%d].%v", ErrInvalidPlan, i, err)
		}
		p.Nodes = append(p.Nodes, node)
	}
	if err := checkStructure(p); err != nil {
		return Document{}, err
	}
	return Document{Plan: p, SetupAbstractions: doc.SetupAbstractions}, nil
}

func (n nodeDocument) toNodePlan() (domain.NodePlan, error) {
	node := domain.NodePlan{
		UUID:                strings.TrimSpace(n.UUID),
		Identifier:          strings.TrimSpace(n.Identifier),
		Name:                strings.TrimSpace(n.Name),
		StepType:            strings.TrimSpace(n.StepType),
		Group:               strings.TrimSpace(n.Group),
		StepParameters:      nullToEmpty(n.StepParameters),
		SkipExpressionChain: n.SkipExpressionChain,
	}
	if t := strings.TrimSpace(n.Timeout); t != "" {
		d, err := time.ParseDuration(t)
		if err != nil {
			return domain.NodePlan{}, fmt.Errorf("timeout: %v", err)
		}
		if d < 0 {
			return domain.NodePlan{}, errors.New("timeout must be >= 0")
		}
		node.Timeout = d
	}
	for _, f := range n.FacilitatorObtainments {
		node.FacilitatorObtainments = append(node.FacilitatorObtainments, domain.FacilitatorObtainment{
			Type:       strings.TrimSpace(f.Type),
			Parameters: nullToEmpty(f.Parameters),
		})
	}
	for _, a := range n.AdviserObtainments {
		node.AdviserObtainments = append(node.AdviserObtainments, domain.AdviserObtainment{
			Type:       strings.TrimSpace(a.Type),
			Parameters: nullToEmpty(a.Parameters),
		})
	}
	return node, nil
}

func checkStructure(p domain.Plan) error {
	if len(p.Nodes) == 0 {
		return fmt.Errorf("%w: plan.nodes must be non-empty", ErrInvalidPlan)
	}
	if p.StartingNodeID == "" {
		return fmt.Errorf("%w: plan.startingNodeId is required", ErrInvalidPlan)
	}
	seen := make(map[string]struct{}, len(p.Nodes))
	for i, node := range p.Nodes {
		switch {
		case node.UUID == "":
			return fmt.Errorf("%w: plan.nodes[%d].uuid is required", ErrInvalidPlan, i)
		case node.Identifier == "":
			return fmt.Errorf("%w: plan.nodes[%d].identifier is required", ErrInvalidPlan, i)
		case node.StepType == "":
			return fmt.Errorf("%w: plan.nodes[%d].stepType is required", ErrInvalidPlan, i)
		case len(node.FacilitatorObtainments) == 0:
			return fmt.Errorf("%w: plan.nodes[%d].facilitatorObtainments must be non-empty", ErrInvalidPlan, i)
		}
		if _, ok := seen[node.UUID]; ok {
			return fmt.Errorf("%w: plan.nodes[%d].uuid must be unique (duplicate %q)", ErrInvalidPlan, i, node.UUID)
		}
		seen[node.UUID] = struct{}{}
	}
	if _, ok := seen[p.StartingNodeID]; !ok {
		return fmt.Errorf("%w: plan.startingNodeId %q is not a node", ErrInvalidPlan, p.StartingNodeID)
	}
	return nil
}

func nullToEmpty(raw json.RawMessage) json.RawMessage {
	if s := strings.TrimSpace(string(raw)); s == "" || s == "null" {
		return nil
	}
	return raw
}
