package steps

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/animus-labs/animus-orchestrator/internal/domain"
	"github.com/animus-labs/animus-orchestrator/internal/orchestration/step"
)

// Noop succeeds at once. Its parameters, and the inputs it received, are
// published as outcomes.
type Noop struct{}

func (Noop) Type() string { return TypeNoop }

func (Noop) Execute(ctx context.Context, ambiance domain.Ambiance, params json.RawMessage, inputs step.Inputs) (domain.StepResponse, error) {
	var outcomes []domain.StepOutcome
	outcomes = append(outcomes, outcome("parameters", params)...)
	if len(inputs) > 0 {
		raw, err := json.Marshal(inputs)
		if err != nil {
			return domain.StepResponse{}, err
		}
		outcomes = append(outcomes, outcome("inputs", raw)...)
	}
	return succeeded(outcomes...), nil
}

type FailParameters struct {
	FailureTypes []string `yaml:"failureTypes" json:"failureTypes"`
	Message      string   `yaml:"message" json:"message"`
}

// Fail always fails with the configured failure.
type Fail struct{}

func (Fail) Type() string { return TypeFail }

func (Fail) Execute(ctx context.Context, ambiance domain.Ambiance, params json.RawMessage, inputs step.Inputs) (domain.StepResponse, error) {
	var p FailParameters
	if err := decode(params, &p); err != nil {
		return domain.StepResponse{}, err
	}
	types := make([]domain.FailureType, 0, len(p.FailureTypes))
	for _, t := range p.FailureTypes {
		types = append(types, domain.NormalizeFailureType(t))
	}
	msg := strings.TrimSpace(p.Message)
	if msg == "" {
		msg = "failed on purpose"
	}
	return domain.FailedResponse(msg, types...), nil
}

func (Fail) ValidateParameters(raw json.RawMessage) error {
	var p FailParameters
	return decode(raw, &p)
}
