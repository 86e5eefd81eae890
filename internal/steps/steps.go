// Package steps is the built-in step catalog. It covers one step per
// execution mode so that plans can run without custom step code.
package steps

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/animus-labs/animus-orchestrator/internal/domain"
	"github.com/animus-labs/animus-orchestrator/internal/orchestration/registry"
	"github.com/animus-labs/animus-orchestrator/internal/orchestration/step"
)

const (
	TypeNoop         = "NOOP"
	TypeFail         = "FAIL"
	TypeApproval     = "APPROVAL"
	TypeHTTPTask     = "HTTP_TASK"
	TypeSection      = "SECTION"
	TypeFork         = "FORK"
	TypeTaskSequence = "TASK_SEQUENCE"
	TypeRolling      = "ROLLING"
)

// Catalog returns every built-in step.
func Catalog() []step.Step {
	return []step.Step{
		Noop{},
		Fail{},
		Approval{},
		HTTPTask{},
		Section{},
		Fork{},
		TaskSequence{},
		Rolling{},
	}
}

// Register adds the catalog to b.
func Register(b *registry.Builder) *registry.Builder {
	for _, s := range Catalog() {
		b.Step(s)
	}
	return b
}

func decode(raw json.RawMessage, out any) error {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil
	}
	if err := yaml.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode step parameters: %w", err)
	}
	return nil
}

// sortedKeys keeps response handling deterministic.
func sortedKeys(responses step.Responses) []string {
	keys := make([]string, 0, len(responses))
	for k := range responses {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func taskResult(responses step.Responses) (domain.TaskResponseData, bool) {
	for _, k := range sortedKeys(responses) {
		if data, ok := responses[k].(domain.TaskResponseData); ok {
			return data, true
		}
	}
	return domain.TaskResponseData{}, false
}

func childResult(responses step.Responses) (domain.StatusNotifyResponseData, bool) {
	for _, k := range sortedKeys(responses) {
		if data, ok := responses[k].(domain.StatusNotifyResponseData); ok {
			return data, true
		}
	}
	return domain.StatusNotifyResponseData{}, false
}

// taskFailure returns nil when the task result is positive.
func taskFailure(data domain.TaskResponseData) *domain.FailureInfo {
	if data.Status.IsPositive() {
		return nil
	}
	types := data.FailureTypes
	if len(types) == 0 {
		types = []domain.FailureType{domain.FailureApplication}
	}
	msg := data.ErrorMessage
	if msg == "" {
		msg = fmt.Sprintf("task finished with status %q", data.Status)
	}
	return &domain.FailureInfo{FailureTypes: types, ErrorMessage: msg}
}

// childFailure returns nil when the child ended positively.
func childFailure(data domain.StatusNotifyResponseData) *domain.FailureInfo {
	if data.Status.IsPositive() {
		return nil
	}
	if data.FailureInfo != nil {
		info := *data.FailureInfo
		if info.ErrorMessage == "" {
			info.ErrorMessage = fmt.Sprintf("child %s ended %s", data.NodeExecutionID, data.Status)
		}
		return &info
	}
	return &domain.FailureInfo{
		FailureTypes: []domain.FailureType{domain.FailureApplication},
		ErrorMessage: fmt.Sprintf("child %s ended %s", data.NodeExecutionID, data.Status),
	}
}

func failed(info *domain.FailureInfo) domain.StepResponse {
	return domain.StepResponse{Status: domain.StatusFailed, FailureInfo: info}
}

func succeeded(outcomes ...domain.StepOutcome) domain.StepResponse {
	return domain.StepResponse{Status: domain.StatusSucceeded, StepOutcomes: outcomes}
}

func outcome(name string, value json.RawMessage) []domain.StepOutcome {
	if len(value) == 0 {
		return nil
	}
	return []domain.StepOutcome{{Name: name, Outcome: value}}
}
