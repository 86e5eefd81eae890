package steps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/animus-labs/animus-orchestrator/internal/domain"
	"github.com/animus-labs/animus-orchestrator/internal/orchestration/step"
)

type SequenceParameters struct {
	Tasks []TaskParameters `yaml:"tasks" json:"tasks"`
}

func (p SequenceParameters) validate() error {
	for i, t := range p.Tasks {
		if err := t.validate(); err != nil {
			return fmt.Errorf("tasks[%d]: %w", i, err)
		}
	}
	return nil
}

// sequenceState travels between chain links. Current is the index of the
// task whose result the next link receives.
type sequenceState struct {
	Current int                 `json:"current"`
	Outputs []json.RawMessage   `json:"outputs"`
	Failure *domain.FailureInfo `json:"failure,omitempty"`
}

func (s *sequenceState) observe(responses step.Responses) {
	result, ok := taskResult(responses)
	if !ok {
		return
	}
	s.Outputs = append(s.Outputs, result.Output)
	if info := taskFailure(result); info != nil {
		info.ErrorMessage = fmt.Sprintf("task %d: %s", s.Current, info.ErrorMessage)
		s.Failure = info
	}
}

// TaskSequence delegates its tasks one after another. A failed task ends
// the chain.
type TaskSequence struct{}

func (TaskSequence) Type() string { return TypeTaskSequence }

func (TaskSequence) StartChainLink(ctx context.Context, ambiance domain.Ambiance, params json.RawMessage, inputs step.Inputs) (step.TaskChainResponse, error) {
	var p SequenceParameters
	if err := decode(params, &p); err != nil {
		return step.TaskChainResponse{}, err
	}
	if err := p.validate(); err != nil {
		return step.TaskChainResponse{}, err
	}
	return link(p, sequenceState{Current: 0})
}

func (TaskSequence) ExecuteNextLink(ctx context.Context, ambiance domain.Ambiance, params json.RawMessage, inputs step.Inputs, passThroughData json.RawMessage, responses step.Responses) (step.TaskChainResponse, error) {
	var p SequenceParameters
	if err := decode(params, &p); err != nil {
		return step.TaskChainResponse{}, err
	}
	state, err := decodeSequenceState(passThroughData)
	if err != nil {
		return step.TaskChainResponse{}, err
	}
	state.observe(responses)
	if state.Failure != nil {
		raw, err := json.Marshal(state)
		if err != nil {
			return step.TaskChainResponse{}, err
		}
		return step.TaskChainResponse{PassThroughData: raw, ChainEnd: true}, nil
	}
	state.Current++
	return link(p, state)
}

func (TaskSequence) FinalizeExecution(ctx context.Context, ambiance domain.Ambiance, params json.RawMessage, passThroughData json.RawMessage, responses step.Responses) (domain.StepResponse, error) {
	state, err := decodeSequenceState(passThroughData)
	if err != nil {
		return domain.StepResponse{}, err
	}
	state.observe(responses)
	if state.Failure != nil {
		return failed(state.Failure), nil
	}
	outputs := state.Outputs
	if outputs == nil {
		outputs = []json.RawMessage{}
	}
	for i := range outputs {
		if len(outputs[i]) == 0 {
			outputs[i] = json.RawMessage("null")
		}
	}
	raw, err := json.Marshal(outputs)
	if err != nil {
		return domain.StepResponse{}, err
	}
	return succeeded(outcome("outputs", raw)...), nil
}

func (TaskSequence) ValidateParameters(raw json.RawMessage) error {
	var p SequenceParameters
	if err := decode(raw, &p); err != nil {
		return err
	}
	return p.validate()
}

func link(p SequenceParameters, state sequenceState) (step.TaskChainResponse, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return step.TaskChainResponse{}, err
	}
	if state.Current >= len(p.Tasks) {
		return step.TaskChainResponse{PassThroughData: raw, ChainEnd: true}, nil
	}
	req, err := p.Tasks[state.Current].request()
	if err != nil {
		return step.TaskChainResponse{}, err
	}
	return step.TaskChainResponse{
		Task:            &req,
		PassThroughData: raw,
		ChainEnd:        state.Current == len(p.Tasks)-1,
	}, nil
}

func decodeSequenceState(raw json.RawMessage) (sequenceState, error) {
	var state sequenceState
	if len(raw) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(raw, &state); err != nil {
		return sequenceState{}, errors.New("task sequence state is corrupt")
	}
	return state, nil
}
