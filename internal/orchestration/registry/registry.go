// Package registry holds the immutable type -> implementation lookup tables
// the engine dispatches through. Tables are assembled once at startup with a
// Builder and are safe for concurrent reads afterwards.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/animus-labs/animus-orchestrator/internal/orchestration/adviser"
	"github.com/animus-labs/animus-orchestrator/internal/orchestration/facilitator"
	"github.com/animus-labs/animus-orchestrator/internal/orchestration/step"
)

var (
	ErrUnregisteredStepType        = errors.New("unregistered step type")
	ErrUnregisteredFacilitatorType = errors.New("unregistered facilitator type")
	ErrUnregisteredAdviserType     = errors.New("unregistered adviser type")
	ErrDuplicateType               = errors.New("type registered twice")
)

// Table maps a type name to one implementation.
type Table[T any] struct {
	missing error
	entries map[string]T
}

// Resolve returns the implementation registered for typ.
func (t *Table[T]) Resolve(typ string) (T, error) {
	var zero T
	if t == nil {
		return zero, errors.New("registry not initialized")
	}
	key := normalizeType(typ)
	v, ok := t.entries[key]
	if !ok {
		return zero, fmt.Errorf("%w: %q", t.missing, typ)
	}
	return v, nil
}

// Types lists registered type names in sorted order.
func (t *Table[T]) Types() []string {
	if t == nil {
		return nil
	}
	out := make([]string, 0, len(t.entries))
	for k := range t.entries {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type (
	Steps        = Table[step.Step]
	Facilitators = Table[facilitator.Facilitator]
	Advisers     = Table[adviser.Adviser]
)

// Registries bundles the three tables handed to the engine.
type Registries struct {
	Steps        *Steps
	Facilitators *Facilitators
	Advisers     *Advisers
}

// Builder collects registrations. Errors are accumulated and reported by
// Build so registration code can stay linear.
type Builder struct {
	steps        map[string]step.Step
	facilitators map[string]facilitator.Facilitator
	advisers     map[string]adviser.Adviser
	errs         []error
}

func NewBuilder() *Builder {
	return &Builder{
		steps:        map[string]step.Step{},
		facilitators: map[string]facilitator.Facilitator{},
		advisers:     map[string]adviser.Adviser{},
	}
}

func (b *Builder) Step(s step.Step) *Builder {
	if s == nil {
		b.errs = append(b.errs, errors.New("step is required"))
		return b
	}
	register(b, b.steps, "step", s.Type(), s)
	return b
}

func (b *Builder) Facilitator(f facilitator.Facilitator) *Builder {
	if f == nil {
		b.errs = append(b.errs, errors.New("facilitator is required"))
		return b
	}
	register(b, b.facilitators, "facilitator", f.Type(), f)
	return b
}

func (b *Builder) Adviser(a adviser.Adviser) *Builder {
	if a == nil {
		b.errs = append(b.errs, errors.New("adviser is required"))
		return b
	}
	register(b, b.advisers, "adviser", a.Type(), a)
	return b
}

// WithDefaults registers the built-in facilitators and advisers.
func (b *Builder) WithDefaults() *Builder {
	for _, f := range facilitator.Defaults() {
		b.Facilitator(f)
	}
	for _, a := range adviser.Defaults() {
		b.Adviser(a)
	}
	return b
}

func (b *Builder) Build() (Registries, error) {
	if len(b.errs) > 0 {
		return Registries{}, errors.Join(b.errs...)
	}
	return Registries{
		Steps:        &Steps{missing: ErrUnregisteredStepType, entries: copyMap(b.steps)},
		Facilitators: &Facilitators{missing: ErrUnregisteredFacilitatorType, entries: copyMap(b.facilitators)},
		Advisers:     &Advisers{missing: ErrUnregisteredAdviserType, entries: copyMap(b.advisers)},
	}, nil
}

func register[T any](b *Builder, into map[string]T, kind, typ string, v T) {
	key := normalizeType(typ)
	if key == "" {
		b.errs = append(b.errs, fmt.Errorf("%s type is required", kind))
		return
	}
	if _, exists := into[key]; exists {
		b.errs = append(b.errs, fmt.Errorf("%w: %s %q", ErrDuplicateType, kind, typ))
		return
	}
	into[key] = v
}

func copyMap[T any](in map[string]T) map[string]T {
	out := make(map[string]T, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func normalizeType(typ string) string {
	return strings.ToUpper(strings.TrimSpace(typ))
}
