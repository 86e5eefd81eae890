// Package facilitator decides how a node runs. A node lists facilitator
// obtainments in order; the first facilitator that returns a response fixes
// the node's execution mode and optional initial wait.
package facilitator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/animus-orchestrator/internal/domain"
	"gopkg.in/yaml.v3"
)

// Response is a facilitation decision.
type Response struct {
	Mode            domain.ExecutionMode
	InitialWait     time.Duration
	PassThroughData json.RawMessage
}

type Facilitator interface {
	Type() string
	// Facilitate returns ok=false when it has no opinion for this node.
	Facilitate(ctx context.Context, ambiance domain.Ambiance, params json.RawMessage, stepParams json.RawMessage) (Response, bool, error)
}

// Parameters are the options every built-in facilitator accepts.
type Parameters struct {
	WaitDuration string `yaml:"waitDuration" json:"waitDuration"`
	// When set, the facilitator only answers if the setup abstraction key
	// has the given value, e.g. {"when": {"runner": "remote"}}.
	When map[string]string `yaml:"when" json:"when"`
}

// ParseParameters decodes facilitator parameters. JSON documents are valid
// YAML, so both encodings are accepted.
func ParseParameters(raw json.RawMessage) (Parameters, error) {
	var params Parameters
	if len(strings.TrimSpace(string(raw))) == 0 {
		return params, nil
	}
	if err := yaml.Unmarshal(raw, &params); err != nil {
		return Parameters{}, fmt.Errorf("decode facilitator parameters: %w", err)
	}
	return params, nil
}

func (p Parameters) initialWait() (time.Duration, error) {
	if strings.TrimSpace(p.WaitDuration) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(p.WaitDuration))
	if err != nil {
		return 0, fmt.Errorf("waitDuration: %w", err)
	}
	if d < 0 {
		return 0, errors.New("waitDuration must be >= 0")
	}
	return d, nil
}

func (p Parameters) matches(ambiance domain.Ambiance) bool {
	for key, want := range p.When {
		if ambiance.SetupAbstraction(key) != want {
			return false
		}
	}
	return true
}

// ModeFacilitator answers with a fixed mode. Its type name is the mode name.
type ModeFacilitator struct {
	mode domain.ExecutionMode
}

func NewModeFacilitator(mode domain.ExecutionMode) ModeFacilitator {
	return ModeFacilitator{mode: mode}
}

func (f ModeFacilitator) Type() string { return string(f.mode) }

func (f ModeFacilitator) Facilitate(_ context.Context, ambiance domain.Ambiance, params json.RawMessage, _ json.RawMessage) (Response, bool, error) {
	parsed, err := ParseParameters(params)
	if err != nil {
		return Response{}, false, err
	}
	if !parsed.matches(ambiance) {
		return Response{}, false, nil
	}
	wait, err := parsed.initialWait()
	if err != nil {
		return Response{}, false, err
	}
	return Response{Mode: f.mode, InitialWait: wait}, true, nil
}

// Defaults returns one facilitator per execution mode.
func Defaults() []Facilitator {
	modes := domain.Modes()
	out := make([]Facilitator, 0, len(modes))
	for _, mode := range modes {
		out = append(out, NewModeFacilitator(mode))
	}
	return out
}
