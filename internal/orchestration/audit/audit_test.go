package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/animus-labs/animus-orchestrator/internal/domain"
	"github.com/animus-labs/animus-orchestrator/internal/orchestration/engine"
	"github.com/animus-labs/animus-orchestrator/internal/platform/auditlog"
)

type recordingSink struct {
	mu     sync.Mutex
	events []auditlog.Event
	done   chan struct{}
}

func (s *recordingSink) WriteBatch(ctx context.Context, events []auditlog.Event) ([]int64, error) {
	s.mu.Lock()
	ids := make([]int64, len(events))
	for i, event := range events {
		s.events = append(s.events, event)
		ids[i] = int64(len(s.events))
	}
	s.mu.Unlock()
	s.done <- struct{}{}
	return ids, nil
}

func TestTrailRecordsFinalStatuses(t *testing.T) {
	sink := &recordingSink{done: make(chan struct{}, 4)}
	trail := NewTrail(nil, sink, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go trail.Run(ctx)

	trail.StatusChanged(ctx, engine.StatusEvent{NodeExecutionID: "n1", From: domain.StatusQueued, To: domain.StatusRunning})
	trail.StatusChanged(ctx, engine.StatusEvent{
		NodeExecutionID: "n1",
		From:            domain.StatusRunning,
		To:              domain.StatusFailed,
		FailureInfo:     &domain.FailureInfo{FailureTypes: []domain.FailureType{domain.FailureTimeout}},
		At:              time.Unix(10, 0),
	})

	select {
	case <-sink.done:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for audit write")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.events) != 1 {
		t.Fatalf("events=%d, want 1", len(sink.events))
	}
	got := sink.events[0]
	if got.Action != "node.failed" || got.ResourceID != "n1" || got.ResourceType != auditlog.ResourceNodeExecution {
		t.Fatalf("event=%+v", got)
	}
}

func TestTrailDropsWhenQueueFull(t *testing.T) {
	trail := NewTrail(nil, &recordingSink{done: make(chan struct{}, 1)}, 1)
	ctx := context.Background()

	trail.Advised(ctx, engine.AdviseEvent{NodeExecutionID: "n1", Advise: &domain.Advise{Type: domain.AdviseEndPlan}})
	trail.Advised(ctx, engine.AdviseEvent{NodeExecutionID: "n2", Advise: &domain.Advise{Type: domain.AdviseEndPlan}})

	if got := len(trail.queue); got != 1 {
		t.Fatalf("queued=%d, want 1", got)
	}
}

func TestTrailIgnoresRoutineEvents(t *testing.T) {
	trail := NewTrail(nil, &recordingSink{done: make(chan struct{}, 1)}, 4)
	ctx := context.Background()

	trail.Resumed(ctx, engine.ResumeEvent{NodeExecutionID: "n1", Outcome: engine.ResumeFinalized})
	trail.Advised(ctx, engine.AdviseEvent{NodeExecutionID: "n1", Advise: &domain.Advise{Type: domain.AdviseNextStep}})
	trail.Advised(ctx, engine.AdviseEvent{NodeExecutionID: "n1"})

	if got := len(trail.queue); got != 0 {
		t.Fatalf("queued=%d, want 0", got)
	}
}

func TestTrailBatchesQueuedEvents(t *testing.T) {
	sink := &recordingSink{done: make(chan struct{}, 4)}
	trail := NewTrail(nil, sink, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, id := range []string{"n1", "n2", "n3"} {
		trail.Advised(ctx, engine.AdviseEvent{NodeExecutionID: id, Advise: &domain.Advise{Type: domain.AdviseEndPlan}})
	}
	go trail.Run(ctx)

	select {
	case <-sink.done:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for audit write")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.events) != 3 {
		t.Fatalf("events in first batch=%d, want 3", len(sink.events))
	}
	if sink.events[2].ResourceID != "n3" {
		t.Fatalf("last event=%+v", sink.events[2])
	}
}
