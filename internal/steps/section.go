package steps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/animus-orchestrator/internal/domain"
	"github.com/animus-labs/animus-orchestrator/internal/orchestration/step"
)

type SectionParameters struct {
	ChildNodeID string `yaml:"childNodeId" json:"childNodeId"`
}

func (p SectionParameters) validate() error {
	if strings.TrimSpace(p.ChildNodeID) == "" {
		return errors.New("childNodeId is required")
	}
	return nil
}

// Section runs a single child node and takes on its result.
type Section struct{}

func (Section) Type() string { return TypeSection }

func (Section) ObtainChild(ctx context.Context, ambiance domain.Ambiance, params json.RawMessage, inputs step.Inputs) (step.ChildExecutableResponse, error) {
	var p SectionParameters
	if err := decode(params, &p); err != nil {
		return step.ChildExecutableResponse{}, err
	}
	if err := p.validate(); err != nil {
		return step.ChildExecutableResponse{}, err
	}
	return step.ChildExecutableResponse{ChildNodeID: strings.TrimSpace(p.ChildNodeID)}, nil
}

func (Section) HandleChildResponse(ctx context.Context, ambiance domain.Ambiance, params json.RawMessage, responses step.Responses) (domain.StepResponse, error) {
	child, ok := childResult(responses)
	if !ok {
		return domain.StepResponse{}, errors.New("child status is missing")
	}
	if info := childFailure(child); info != nil {
		return failed(info), nil
	}
	return succeeded(), nil
}

func (Section) ValidateParameters(raw json.RawMessage) error {
	var p SectionParameters
	if err := decode(raw, &p); err != nil {
		return err
	}
	return p.validate()
}

func (Section) ReferencedNodes(raw json.RawMessage) ([]string, error) {
	var p SectionParameters
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	return []string{strings.TrimSpace(p.ChildNodeID)}, nil
}

type ForkParameters struct {
	ChildNodeIDs []string `yaml:"childNodeIds" json:"childNodeIds"`
}

func (p ForkParameters) ids() []string {
	out := make([]string, 0, len(p.ChildNodeIDs))
	for _, id := range p.ChildNodeIDs {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// Fork runs its children in parallel. It fails when any child broke, with
// the failure types of every broken child.
type Fork struct{}

func (Fork) Type() string { return TypeFork }

func (Fork) ObtainChildren(ctx context.Context, ambiance domain.Ambiance, params json.RawMessage, inputs step.Inputs) (step.ChildrenExecutableResponse, error) {
	var p ForkParameters
	if err := decode(params, &p); err != nil {
		return step.ChildrenExecutableResponse{}, err
	}
	return step.ChildrenExecutableResponse{ChildNodeIDs: p.ids()}, nil
}

func (Fork) HandleChildrenResponse(ctx context.Context, ambiance domain.Ambiance, params json.RawMessage, responses step.Responses) (domain.StepResponse, error) {
	var (
		types    []domain.FailureType
		seen     = map[domain.FailureType]bool{}
		messages []string
	)
	for _, k := range sortedKeys(responses) {
		child, ok := responses[k].(domain.StatusNotifyResponseData)
		if !ok {
			continue
		}
		info := childFailure(child)
		if info == nil {
			continue
		}
		for _, t := range info.FailureTypes {
			if !seen[t] {
				seen[t] = true
				types = append(types, t)
			}
		}
		messages = append(messages, info.ErrorMessage)
	}
	if len(messages) > 0 {
		return domain.FailedResponse(fmt.Sprintf("%d of %d children failed: %s", len(messages), len(responses), strings.Join(messages, "; ")), types...), nil
	}
	return succeeded(), nil
}

func (Fork) ValidateParameters(raw json.RawMessage) error {
	var p ForkParameters
	return decode(raw, &p)
}

func (Fork) ReferencedNodes(raw json.RawMessage) ([]string, error) {
	var p ForkParameters
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	return p.ids(), nil
}
