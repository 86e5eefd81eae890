package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ResponseData is a payload delivered for a correlation id when the external
// work a node waits on completes.
type ResponseData interface {
	ResponseType() string
}

const (
	ResponseTypeError  = "error"
	ResponseTypeStatus = "status"
	ResponseTypeTask   = "task"
)

// ErrorNotifyResponseData reports that the awaited work could not complete.
type ErrorNotifyResponseData struct {
	FailureTypes []FailureType `json:"failureTypes,omitempty"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
}

func (ErrorNotifyResponseData) ResponseType() string { return ResponseTypeError }

// StatusNotifyResponseData reports the final status of a child node.
type StatusNotifyResponseData struct {
	NodeExecutionID string       `json:"nodeExecutionId"`
	Status          Status       `json:"status"`
	FailureInfo     *FailureInfo `json:"failureInfo,omitempty"`
}

func (StatusNotifyResponseData) ResponseType() string { return ResponseTypeStatus }

// TaskResponseData is the result of delegated work or an async callback.
type TaskResponseData struct {
	TaskID       string          `json:"taskId,omitempty"`
	Status       Status          `json:"status"`
	Output       json.RawMessage `json:"output,omitempty"`
	FailureTypes []FailureType   `json:"failureTypes,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
}

func (TaskResponseData) ResponseType() string { return ResponseTypeTask }

type responseEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MarshalResponseData encodes data with a type discriminator so it can be
// stored and decoded again.
func MarshalResponseData(data ResponseData) ([]byte, error) {
	if data == nil {
		return nil, errors.New("response data is required")
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s response: %w", data.ResponseType(), err)
	}
	return json.Marshal(responseEnvelope{Type: data.ResponseType(), Data: raw})
}

func UnmarshalResponseData(raw []byte) (ResponseData, error) {
	if len(raw) == 0 {
		return nil, errors.New("response data is required")
	}
	var env responseEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode response envelope: %w", err)
	}
	switch strings.TrimSpace(env.Type) {
	case ResponseTypeError:
		var out ErrorNotifyResponseData
		if err := json.Unmarshal(env.Data, &out); err != nil {
			return nil, fmt.Errorf("decode error response: %w", err)
		}
		return out, nil
	case ResponseTypeStatus:
		var out StatusNotifyResponseData
		if err := json.Unmarshal(env.Data, &out); err != nil {
			return nil, fmt.Errorf("decode status response: %w", err)
		}
		return out, nil
	case ResponseTypeTask:
		var out TaskResponseData
		if err := json.Unmarshal(env.Data, &out); err != nil {
			return nil, fmt.Errorf("decode task response: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown response type %q", env.Type)
	}
}
