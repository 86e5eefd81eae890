// Package adviser decides the transition that follows a node's result.
//
// Advisers are evaluated in the order a node declares them; the first one
// whose CanAdvise returns true produces the Advise. Advisers are pure: they
// look only at the event and their static parameters.
package adviser

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/animus-orchestrator/internal/domain"
	"gopkg.in/yaml.v3"
)

const (
	TypeOnSuccess = "ON_SUCCESS"
	TypeOnFail    = "ON_FAIL"
	TypeRetry     = "RETRY"
	TypeIgnore    = "IGNORE"
)

// Event is what an adviser sees about a node that produced a result.
type Event struct {
	NodeExecutionID string
	NodeIdentifier  string
	FromStatus      domain.Status
	ToStatus        domain.Status
	FailureInfo     *domain.FailureInfo
	RetryAttempts   int
	Parameters      json.RawMessage
}

type Adviser interface {
	Type() string
	CanAdvise(event Event) bool
	OnAdviseEvent(event Event) (domain.Advise, error)
}

// ParameterValidator is implemented by advisers that can check their
// parameters ahead of execution.
type ParameterValidator interface {
	ValidateParameters(raw json.RawMessage) error
}

// Defaults returns the built-in advisers.
func Defaults() []Adviser {
	return []Adviser{OnSuccess{}, OnFail{}, Retry{}, Ignore{}}
}

func decode(raw json.RawMessage, out any) error {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil
	}
	if err := yaml.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode adviser parameters: %w", err)
	}
	return nil
}

func failureTypes(values []string) []domain.FailureType {
	if len(values) == 0 {
		return nil
	}
	out := make([]domain.FailureType, 0, len(values))
	for _, v := range values {
		out = append(out, domain.NormalizeFailureType(v))
	}
	return out
}

// advisableFailure is a broken status that was not caused by an external
// abort. Aborted nodes are never advised.
func advisableFailure(status domain.Status) bool {
	return status.IsBroken() && status != domain.StatusAborted
}

type OnSuccessParameters struct {
	NextNodeID string `yaml:"nextNodeId" json:"nextNodeId"`
}

// OnSuccess moves to the next node after a positive result.
type OnSuccess struct{}

func (OnSuccess) Type() string { return TypeOnSuccess }

func (OnSuccess) CanAdvise(event Event) bool {
	if !event.ToStatus.IsPositive() {
		return false
	}
	var params OnSuccessParameters
	if err := decode(event.Parameters, &params); err != nil {
		return false
	}
	return strings.TrimSpace(params.NextNodeID) != ""
}

func (OnSuccess) OnAdviseEvent(event Event) (domain.Advise, error) {
	var params OnSuccessParameters
	if err := decode(event.Parameters, &params); err != nil {
		return domain.Advise{}, err
	}
	return domain.Advise{Type: domain.AdviseNextStep, NextNodeID: strings.TrimSpace(params.NextNodeID)}, nil
}

func (OnSuccess) ValidateParameters(raw json.RawMessage) error {
	var params OnSuccessParameters
	return decode(raw, &params)
}

type OnFailParameters struct {
	FailureTypes []string `yaml:"failureTypes" json:"failureTypes"`
	NextNodeID   string   `yaml:"nextNodeId" json:"nextNodeId"`
}

// OnFail routes a failure to a recovery node, or marks the node failed when
// no recovery node is configured.
type OnFail struct{}

func (OnFail) Type() string { return TypeOnFail }

func (OnFail) CanAdvise(event Event) bool {
	if !advisableFailure(event.ToStatus) {
		return false
	}
	var params OnFailParameters
	if err := decode(event.Parameters, &params); err != nil {
		return false
	}
	return event.FailureInfo.HasAny(failureTypes(params.FailureTypes))
}

func (OnFail) OnAdviseEvent(event Event) (domain.Advise, error) {
	var params OnFailParameters
	if err := decode(event.Parameters, &params); err != nil {
		return domain.Advise{}, err
	}
	next := strings.TrimSpace(params.NextNodeID)
	if next == "" {
		return domain.Advise{Type: domain.AdviseMarkFailed, ToStatus: event.ToStatus}, nil
	}
	return domain.Advise{Type: domain.AdviseNextStep, NextNodeID: next}, nil
}

func (OnFail) ValidateParameters(raw json.RawMessage) error {
	var params OnFailParameters
	return decode(raw, &params)
}

type IgnoreParameters struct {
	FailureTypes []string `yaml:"failureTypes" json:"failureTypes"`
	NextNodeID   string   `yaml:"nextNodeId" json:"nextNodeId"`
}

// Ignore accepts a failure and continues as if the node had passed.
type Ignore struct{}

func (Ignore) Type() string { return TypeIgnore }

func (Ignore) CanAdvise(event Event) bool {
	if !advisableFailure(event.ToStatus) {
		return false
	}
	var params IgnoreParameters
	if err := decode(event.Parameters, &params); err != nil {
		return false
	}
	return event.FailureInfo.HasAny(failureTypes(params.FailureTypes))
}

func (Ignore) OnAdviseEvent(event Event) (domain.Advise, error) {
	var params IgnoreParameters
	if err := decode(event.Parameters, &params); err != nil {
		return domain.Advise{}, err
	}
	return domain.Advise{
		Type:       domain.AdviseIgnore,
		NextNodeID: strings.TrimSpace(params.NextNodeID),
		ToStatus:   domain.StatusIgnoreFailed,
	}, nil
}

func (Ignore) ValidateParameters(raw json.RawMessage) error {
	var params IgnoreParameters
	return decode(raw, &params)
}

// Repair actions applied once retries are exhausted.
const (
	RepairMarkFailed = "MARK_FAILED"
	RepairIgnore     = "IGNORE"
	RepairEndPlan    = "END_PLAN"
	RepairOnFail     = "ON_FAIL"
)

type RetryParameters struct {
	RetryCount       int      `yaml:"retryCount" json:"retryCount"`
	WaitIntervals    []string `yaml:"waitIntervals" json:"waitIntervals"`
	FailureTypes     []string `yaml:"failureTypes" json:"failureTypes"`
	RepairActionCode string   `yaml:"repairActionCode" json:"repairActionCode"`
	NextNodeID       string   `yaml:"nextNodeId" json:"nextNodeId"`
}

func (p RetryParameters) waitInterval(attempt int) (time.Duration, error) {
	if len(p.WaitIntervals) == 0 {
		return 0, nil
	}
	idx := attempt
	if idx >= len(p.WaitIntervals) {
		idx = len(p.WaitIntervals) - 1
	}
	d, err := time.ParseDuration(strings.TrimSpace(p.WaitIntervals[idx]))
	if err != nil {
		return 0, fmt.Errorf("waitIntervals[%d]: %w", idx, err)
	}
	return d, nil
}

// Retry re-runs a failed node up to RetryCount times, then applies the
// repair action.
type Retry struct{}

func (Retry) Type() string { return TypeRetry }

func (Retry) CanAdvise(event Event) bool {
	if !advisableFailure(event.ToStatus) {
		return false
	}
	var params RetryParameters
	if err := decode(event.Parameters, &params); err != nil {
		return false
	}
	return event.FailureInfo.HasAny(failureTypes(params.FailureTypes))
}

func (Retry) OnAdviseEvent(event Event) (domain.Advise, error) {
	var params RetryParameters
	if err := decode(event.Parameters, &params); err != nil {
		return domain.Advise{}, err
	}
	if event.RetryAttempts < params.RetryCount {
		wait, err := params.waitInterval(event.RetryAttempts)
		if err != nil {
			return domain.Advise{}, err
		}
		return domain.Advise{
			Type:            domain.AdviseRetry,
			WaitInterval:    wait,
			RetryIdentifier: event.NodeIdentifier,
		}, nil
	}

	switch strings.ToUpper(strings.TrimSpace(params.RepairActionCode)) {
	case RepairIgnore:
		return domain.Advise{
			Type:       domain.AdviseIgnore,
			NextNodeID: strings.TrimSpace(params.NextNodeID),
			ToStatus:   domain.StatusIgnoreFailed,
		}, nil
	case RepairEndPlan:
		return domain.Advise{Type: domain.AdviseEndPlan, ToStatus: event.ToStatus}, nil
	case RepairOnFail:
		if next := strings.TrimSpace(params.NextNodeID); next != "" {
			return domain.Advise{Type: domain.AdviseNextStep, NextNodeID: next}, nil
		}
		return domain.Advise{Type: domain.AdviseMarkFailed, ToStatus: event.ToStatus}, nil
	case "", RepairMarkFailed:
		return domain.Advise{Type: domain.AdviseMarkFailed, ToStatus: event.ToStatus}, nil
	default:
		return domain.Advise{}, fmt.Errorf("unknown repair action %q", params.RepairActionCode)
	}
}

func (Retry) ValidateParameters(raw json.RawMessage) error {
	var params RetryParameters
	if err := decode(raw, &params); err != nil {
		return err
	}
	if params.RetryCount < 0 {
		return errors.New("retryCount must be >= 0")
	}
	for i, interval := range params.WaitIntervals {
		if _, err := time.ParseDuration(strings.TrimSpace(interval)); err != nil {
			return fmt.Errorf("waitIntervals[%d]: %w", i, err)
		}
	}
	return nil
}
