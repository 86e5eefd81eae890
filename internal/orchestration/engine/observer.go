package engine

import (
	"context"
	"time"

	"github.com/animus-labs/animus-orchestrator/internal/domain"
)

type StatusEvent struct {
	NodeExecutionID string
	PlanExecutionID string
	Identifier      string
	StepType        string
	Mode            domain.ExecutionMode
	From            domain.Status
	To              domain.Status
	FailureInfo     *domain.FailureInfo
	At              time.Time
}

// Resume outcomes reported to observers.
const (
	ResumeFinalized = "finalized"
	ResumeLinked    = "linked"
	ResumeSkipped   = "skipped"
	ResumeErrored   = "errored"
)

type ResumeEvent struct {
	NodeExecutionID string
	Mode            domain.ExecutionMode
	AsyncError      bool
	Outcome         string
}

type AdviseEvent struct {
	NodeExecutionID string
	Status          domain.Status
	// Advise is nil when no adviser could advise.
	Advise *domain.Advise
}

// Observer receives engine events after they are committed. Implementations
// must not block.
type Observer interface {
	StatusChanged(ctx context.Context, event StatusEvent)
	Resumed(ctx context.Context, event ResumeEvent)
	Advised(ctx context.Context, event AdviseEvent)
}

type NopObserver struct{}

func (NopObserver) StatusChanged(context.Context, StatusEvent) {}
func (NopObserver) Resumed(context.Context, ResumeEvent)       {}
func (NopObserver) Advised(context.Context, AdviseEvent)       {}

// Observers fans events out to several observers in order.
type Observers []Observer

func (o Observers) StatusChanged(ctx context.Context, event StatusEvent) {
	for _, obs := range o {
		obs.StatusChanged(ctx, event)
	}
}

func (o Observers) Resumed(ctx context.Context, event ResumeEvent) {
	for _, obs := range o {
		obs.Resumed(ctx, event)
	}
}

func (o Observers) Advised(ctx context.Context, event AdviseEvent) {
	for _, obs := range o {
		obs.Advised(ctx, event)
	}
}
