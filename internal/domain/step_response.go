package domain

import "encoding/json"

// StepOutcome is a named output published by a node.
type StepOutcome struct {
	Name    string          `json:"name"`
	Group   string          `json:"group,omitempty"`
	Outcome json.RawMessage `json:"outcome"`
}

// StepResponse is the terminal result of a node. Exactly one is produced per
// node execution and it is what advisers look at.
type StepResponse struct {
	Status          Status            `json:"status"`
	FailureInfo     *FailureInfo      `json:"failureInfo,omitempty"`
	StepOutcomes    []StepOutcome     `json:"stepOutcomes,omitempty"`
	AdviserMetadata map[string]string `json:"adviserMetadata,omitempty"`
}

// ErroredResponse builds the response synthesized for an upstream error.
func ErroredResponse(data ErrorNotifyResponseData) StepResponse {
	return StepResponse{
		Status: StatusErrored,
		FailureInfo: &FailureInfo{
			FailureTypes: append([]FailureType(nil), data.FailureTypes...),
			ErrorMessage: data.ErrorMessage,
		},
	}
}

func FailedResponse(message string, types ...FailureType) StepResponse {
	if len(types) == 0 {
		types = []FailureType{FailureApplication}
	}
	return StepResponse{
		Status: StatusFailed,
		FailureInfo: &FailureInfo{
			FailureTypes: types,
			ErrorMessage: message,
		},
	}
}
