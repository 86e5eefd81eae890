package memory

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/animus-labs/animus-orchestrator/internal/domain"
	"github.com/animus-labs/animus-orchestrator/internal/repo"
)

func TestNodeExecutionStore_UpdateIsolatesCallers(t *testing.T) {
	ctx := context.Background()
	store := NewNodeExecutionStore()
	if err := store.Create(ctx, domain.NodeExecution{UUID: "ne-1", Status: domain.StatusQueued}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Create(ctx, domain.NodeExecution{UUID: "ne-1"}); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("duplicate create err=%v, want ErrConflict", err)
	}

	loaded, err := store.Get(ctx, "ne-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	loaded.Status = domain.StatusFailed

	updated, err := store.Update(ctx, "ne-1", func(ne *domain.NodeExecution) error {
		ne.Status = domain.StatusRunning
		ne.AddExecutableResponse(domain.ExecutableResponse{Kind: domain.ModeTaskChain})
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Version != 2 || updated.Status != domain.StatusRunning {
		t.Fatalf("unexpected update result: version=%d status=%s", updated.Version, updated.Status)
	}

	_, err = store.Update(ctx, "ne-1", func(ne *domain.NodeExecution) error {
		ne.Status = domain.StatusAborted
		return repo.ErrStatusConflict
	})
	if !errors.Is(err, repo.ErrStatusConflict) {
		t.Fatalf("err=%v, want ErrStatusConflict", err)
	}
	current, _ := store.Get(ctx, "ne-1")
	if current.Status != domain.StatusRunning || len(current.ExecutableResponses) != 1 {
		t.Fatalf("failed update leaked: %+v", current)
	}
}

func TestWaitInstanceStore_ResponsesAndClaim(t *testing.T) {
	ctx := context.Background()
	store := NewWaitInstanceStore()
	err := store.Create(ctx, domain.WaitInstance{
		ID:              "w1",
		NodeExecutionID: "parent",
		CorrelationIDs:  []string{"c1", "c2"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	waits, err := store.AddResponse(ctx, "c1", json.RawMessage(`{"first":true}`))
	if err != nil {
		t.Fatalf("AddResponse: %v", err)
	}
	if len(waits) != 1 || waits[0].Complete() {
		t.Fatalf("wait should be incomplete after one response: %+v", waits)
	}

	waits, _ = store.AddResponse(ctx, "c1", json.RawMessage(`{"first":false}`))
	if string(waits[0].Responses["c1"]) != `{"first":true}` {
		t.Fatalf("duplicate response overwrote first: %s", waits[0].Responses["c1"])
	}

	waits, _ = store.AddResponse(ctx, "c2", json.RawMessage(`{}`))
	if !waits[0].Complete() {
		t.Fatalf("wait should be complete")
	}

	claimed, err := store.Claim(ctx, "w1")
	if err != nil || !claimed {
		t.Fatalf("first claim: claimed=%v err=%v", claimed, err)
	}
	claimed, err = store.Claim(ctx, "w1")
	if err != nil || claimed {
		t.Fatalf("second claim: claimed=%v err=%v, want false", claimed, err)
	}
	if waits, _ := store.AddResponse(ctx, "c2", json.RawMessage(`{}`)); len(waits) != 0 {
		t.Fatalf("claimed wait still receives responses")
	}
}

func TestWaitInstanceStore_ListExpired(t *testing.T) {
	ctx := context.Background()
	store := NewWaitInstanceStore()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	_ = store.Create(ctx, domain.WaitInstance{ID: "late", CorrelationIDs: []string{"a"}, ExpiresAt: now.Add(-time.Minute)})
	_ = store.Create(ctx, domain.WaitInstance{ID: "later", CorrelationIDs: []string{"b"}, ExpiresAt: now.Add(-time.Hour)})
	_ = store.Create(ctx, domain.WaitInstance{ID: "future", CorrelationIDs: []string{"c"}, ExpiresAt: now.Add(time.Hour)})
	_ = store.Create(ctx, domain.WaitInstance{ID: "forever", CorrelationIDs: []string{"d"}})

	expired, err := store.ListExpired(ctx, now, 10)
	if err != nil {
		t.Fatalf("ListExpired: %v", err)
	}
	if len(expired) != 2 || expired[0].ID != "later" || expired[1].ID != "late" {
		t.Fatalf("unexpected expired waits: %+v", expired)
	}
}
