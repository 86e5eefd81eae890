// Package audit records terminal node and plan transitions in the audit log.
package audit

import (
	"context"
	"log/slog"
	"strings"

	"github.com/animus-labs/animus-orchestrator/internal/domain"
	"github.com/animus-labs/animus-orchestrator/internal/orchestration/engine"
	"github.com/animus-labs/animus-orchestrator/internal/platform/auditlog"
)

const (
	actor    = "orchestrator"
	maxBatch = 64
)

type Sink interface {
	WriteBatch(ctx context.Context, events []auditlog.Event) ([]int64, error)
}

// Trail is an engine.Observer. Events are queued and written by Run so the
// engine never waits on the audit store; a full queue drops the event.
type Trail struct {
	logger *slog.Logger
	sink   Sink
	queue  chan auditlog.Event
}

func NewTrail(logger *slog.Logger, sink Sink, buffer int) *Trail {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = 256
	}
	return &Trail{logger: logger, sink: sink, queue: make(chan auditlog.Event, buffer)}
}

// Run writes queued events until ctx is done. Whatever is already queued
// when an event arrives goes out in the same batch.
func (t *Trail) Run(ctx context.Context) {
	batch := make([]auditlog.Event, 0, maxBatch)
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-t.queue:
			batch = append(batch[:0], event)
		}
	fill:
		for len(batch) < maxBatch {
			select {
			case event := <-t.queue:
				batch = append(batch, event)
			default:
				break fill
			}
		}
		if _, err := t.sink.WriteBatch(ctx, batch); err != nil {
			t.logger.Warn("audit write failed", "events", len(batch), "first_action", batch[0].Action, "error", err)
		}
	}
}

func (t *Trail) StatusChanged(ctx context.Context, event engine.StatusEvent) {
	if !event.To.IsFinal() {
		return
	}
	payload := map[string]any{
		"plan_execution_id": event.PlanExecutionID,
		"identifier":        event.Identifier,
		"step_type":         event.StepType,
		"mode":              string(event.Mode),
		"from":              string(event.From),
	}
	if event.FailureInfo != nil {
		payload["failure_types"] = event.FailureInfo.FailureTypes
		payload["error_message"] = event.FailureInfo.ErrorMessage
	}
	t.enqueue(auditlog.Event{
		OccurredAt:   event.At,
		Actor:        actor,
		Action:       "node." + strings.ToLower(string(event.To)),
		ResourceType: auditlog.ResourceNodeExecution,
		ResourceID:   event.NodeExecutionID,
		Payload:      payload,
	})
}

func (t *Trail) Resumed(ctx context.Context, event engine.ResumeEvent) {
	if event.Outcome != engine.ResumeErrored {
		return
	}
	t.enqueue(auditlog.Event{
		Actor:        actor,
		Action:       "node.resume_errored",
		ResourceType: auditlog.ResourceNodeExecution,
		ResourceID:   event.NodeExecutionID,
		Payload: map[string]any{
			"mode":        string(event.Mode),
			"async_error": event.AsyncError,
		},
	})
}

func (t *Trail) Advised(ctx context.Context, event engine.AdviseEvent) {
	if event.Advise == nil || event.Advise.Type != domain.AdviseEndPlan {
		return
	}
	t.enqueue(auditlog.Event{
		Actor:        actor,
		Action:       "plan.end_advised",
		ResourceType: auditlog.ResourceNodeExecution,
		ResourceID:   event.NodeExecutionID,
		Payload:      map[string]any{"status": string(event.Status)},
	})
}

func (t *Trail) enqueue(event auditlog.Event) {
	select {
	case t.queue <- event:
	default:
		t.logger.Warn("audit queue full", "action", event.Action, "resource_id", event.ResourceID)
	}
}
