package steps

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/animus-labs/animus-orchestrator/internal/domain"
	"github.com/animus-labs/animus-orchestrator/internal/orchestration/step"
)

type TaskParameters struct {
	TaskType string         `yaml:"taskType" json:"taskType"`
	Payload  map[string]any `yaml:"payload" json:"payload"`
	Timeout  string         `yaml:"timeout" json:"timeout"`
}

func (p TaskParameters) validate() error {
	if strings.TrimSpace(p.TaskType) == "" {
		return errors.New("taskType is required")
	}
	if t := strings.TrimSpace(p.Timeout); t != "" {
		if _, err := time.ParseDuration(t); err != nil {
			return errors.New("timeout must be a duration")
		}
	}
	return nil
}

func (p TaskParameters) request() (step.TaskRequest, error) {
	if err := p.validate(); err != nil {
		return step.TaskRequest{}, err
	}
	req := step.TaskRequest{TaskType: strings.TrimSpace(p.TaskType), Timeout: strings.TrimSpace(p.Timeout)}
	if len(p.Payload) > 0 {
		raw, err := json.Marshal(p.Payload)
		if err != nil {
			return step.TaskRequest{}, err
		}
		req.Payload = raw
	}
	return req, nil
}

// HTTPTask delegates one task to the task runner and reports its result.
type HTTPTask struct{}

func (HTTPTask) Type() string { return TypeHTTPTask }

func (HTTPTask) ObtainTask(ctx context.Context, ambiance domain.Ambiance, params json.RawMessage, inputs step.Inputs) (step.TaskRequest, error) {
	var p TaskParameters
	if err := decode(params, &p); err != nil {
		return step.TaskRequest{}, err
	}
	return p.request()
}

func (HTTPTask) HandleTaskResult(ctx context.Context, ambiance domain.Ambiance, params json.RawMessage, responses step.Responses) (domain.StepResponse, error) {
	result, ok := taskResult(responses)
	if !ok {
		return domain.StepResponse{}, errors.New("task result is missing")
	}
	if info := taskFailure(result); info != nil {
		return failed(info), nil
	}
	return succeeded(outcome("result", result.Output)...), nil
}

func (HTTPTask) ValidateParameters(raw json.RawMessage) error {
	var p TaskParameters
	if err := decode(raw, &p); err != nil {
		return err
	}
	return p.validate()
}
