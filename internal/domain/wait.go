package domain

import (
	"encoding/json"
	"time"
)

// WaitStatus tracks whether a wait instance has resumed its node.
type WaitStatus string

const (
	WaitStatusWaiting WaitStatus = "WAITING"
	WaitStatusDone    WaitStatus = "DONE"
)

// WaitInstance binds a suspended node to the correlation ids whose responses
// it needs before it can resume.
type WaitInstance struct {
	ID              string
	NodeExecutionID string
	CorrelationIDs  []string
	Responses       map[string]json.RawMessage
	Status          WaitStatus
	CreatedAt       time.Time
	ExpiresAt       time.Time
}

// Complete reports whether every correlation id has a response.
func (w WaitInstance) Complete() bool {
	if len(w.CorrelationIDs) == 0 {
		return false
	}
	for _, id := range w.CorrelationIDs {
		if _, ok := w.Responses[id]; !ok {
			return false
		}
	}
	return true
}
