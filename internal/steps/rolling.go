package steps

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/animus-labs/animus-orchestrator/internal/domain"
	"github.com/animus-labs/animus-orchestrator/internal/orchestration/step"
)

type RollingParameters struct {
	ChildNodeID string `yaml:"childNodeId" json:"childNodeId"`
	Batches     int    `yaml:"batches" json:"batches"`
}

func (p RollingParameters) validate() error {
	if strings.TrimSpace(p.ChildNodeID) == "" {
		return errors.New("childNodeId is required")
	}
	if p.Batches < 0 {
		return errors.New("batches must not be negative")
	}
	return nil
}

type rollingState struct {
	Batch int `json:"batch"`
}

// Rolling runs its child node once per batch. The chain stops at the first
// broken batch.
type Rolling struct{}

func (Rolling) Type() string { return TypeRolling }

func (Rolling) StartChainLink(ctx context.Context, ambiance domain.Ambiance, params json.RawMessage, inputs step.Inputs) (step.ChildChainResponse, error) {
	p, err := rollingParameters(params)
	if err != nil {
		return step.ChildChainResponse{}, err
	}
	if p.Batches == 0 {
		raw, _ := json.Marshal(rollingState{})
		return step.ChildChainResponse{PassThroughData: raw, LastLink: true}, nil
	}
	return rollingLink(p, rollingState{Batch: 1})
}

func (Rolling) ExecuteNextLink(ctx context.Context, ambiance domain.Ambiance, params json.RawMessage, inputs step.Inputs, passThroughData json.RawMessage, responses step.Responses) (step.ChildChainResponse, error) {
	p, err := rollingParameters(params)
	if err != nil {
		return step.ChildChainResponse{}, err
	}
	var state rollingState
	if len(passThroughData) > 0 {
		if err := json.Unmarshal(passThroughData, &state); err != nil {
			return step.ChildChainResponse{}, errors.New("rolling state is corrupt")
		}
	}
	state.Batch++
	return rollingLink(p, state)
}

func (Rolling) FinalizeExecution(ctx context.Context, ambiance domain.Ambiance, params json.RawMessage, passThroughData json.RawMessage, responses step.Responses) (domain.StepResponse, error) {
	if child, ok := childResult(responses); ok {
		if info := childFailure(child); info != nil {
			return failed(info), nil
		}
	}
	var state rollingState
	if len(passThroughData) > 0 {
		if err := json.Unmarshal(passThroughData, &state); err != nil {
			return domain.StepResponse{}, errors.New("rolling state is corrupt")
		}
	}
	raw, err := json.Marshal(map[string]int{"batches": state.Batch})
	if err != nil {
		return domain.StepResponse{}, err
	}
	return succeeded(outcome("rolling", raw)...), nil
}

func (Rolling) ValidateParameters(raw json.RawMessage) error {
	_, err := rollingParameters(raw)
	return err
}

func (Rolling) ReferencedNodes(raw json.RawMessage) ([]string, error) {
	p, err := rollingParameters(raw)
	if err != nil {
		return nil, err
	}
	return []string{strings.TrimSpace(p.ChildNodeID)}, nil
}

func rollingParameters(raw json.RawMessage) (RollingParameters, error) {
	var p RollingParameters
	if err := decode(raw, &p); err != nil {
		return RollingParameters{}, err
	}
	if err := p.validate(); err != nil {
		return RollingParameters{}, err
	}
	return p, nil
}

func rollingLink(p RollingParameters, state rollingState) (step.ChildChainResponse, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return step.ChildChainResponse{}, err
	}
	return step.ChildChainResponse{
		ChildNodeID:     strings.TrimSpace(p.ChildNodeID),
		PassThroughData: raw,
		LastLink:        state.Batch >= p.Batches,
	}, nil
}
