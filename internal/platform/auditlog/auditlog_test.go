package auditlog

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/animus-labs/animus-orchestrator/internal/platform/auth"
)

func TestEventValidate(t *testing.T) {
	ok := Event{
		OccurredAt:   time.Unix(1, 0),
		Actor:        "orchestrator",
		Action:       "node.succeeded",
		ResourceType: ResourceNodeExecution,
		ResourceID:   "n1",
	}
	if err := ok.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
	missing := ok
	missing.ResourceID = " "
	if err := missing.Validate(); err == nil {
		t.Fatalf("expected error for blank resource id")
	}
}

func TestComputeIntegritySHA256Stable(t *testing.T) {
	event := Event{
		OccurredAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Actor:        " orchestrator ",
		Action:       "plan.aborted",
		ResourceType: ResourcePlanExecution,
		ResourceID:   "p1",
	}
	a, err := ComputeIntegritySHA256(event, []byte(`{}`))
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	event.Actor = "orchestrator"
	b, err := ComputeIntegritySHA256(event, []byte(`{}`))
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	if a != b {
		t.Fatalf("integrity differs after trimming: %s vs %s", a, b)
	}
	c, err := ComputeIntegritySHA256(event, []byte(`{"x":1}`))
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	if a == c {
		t.Fatalf("integrity should depend on payload")
	}
	if len(a) != 64 {
		t.Fatalf("len=%d, want 64", len(a))
	}
}

func TestNewWriterNil(t *testing.T) {
	if w := NewWriter(nil, "orchestrator"); w != nil {
		t.Fatalf("NewWriter(nil)=%v, want nil", w)
	}
	var w *Writer
	if _, err := w.Write(context.Background(), Event{}); err == nil {
		t.Fatalf("expected error from nil writer")
	}
}

func TestAuthDenyEvent(t *testing.T) {
	got := authDenyEvent(auth.DenyEvent{
		Reason:     "forbidden",
		Method:     "POST",
		Path:       "/plan-executions",
		RemoteAddr: "10.0.0.7:5123",
	})
	if got.Actor != "anonymous" {
		t.Fatalf("Actor=%q, want anonymous", got.Actor)
	}
	if got.Action != "auth.forbidden" {
		t.Fatalf("Action=%q", got.Action)
	}
	if got.ResourceID != "POST /plan-executions" {
		t.Fatalf("ResourceID=%q", got.ResourceID)
	}
	if !got.IP.Equal(net.ParseIP("10.0.0.7")) {
		t.Fatalf("IP=%v", got.IP)
	}
}

func TestRowPlaceholders(t *testing.T) {
	if got := rowPlaceholders(0); got != "($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)" {
		t.Fatalf("rowPlaceholders(0)=%s", got)
	}
	if got := rowPlaceholders(10); !strings.HasPrefix(got, "($11,") || !strings.HasSuffix(got, "$20)") {
		t.Fatalf("rowPlaceholders(10)=%s", got)
	}
}

func TestWriterRowDefaultsAndDigest(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w := &Writer{service: "orchestrator", now: func() time.Time { return at }}

	row, err := w.row(Event{
		Actor:        "orchestrator",
		Action:       "node.failed",
		ResourceType: ResourceNodeExecution,
		ResourceID:   "n1",
		Payload:      map[string]any{"mode": "TASK"},
	})
	if err != nil {
		t.Fatalf("row() err=%v", err)
	}
	if len(row) != columnsPerEvent {
		t.Fatalf("columns=%d, want %d", len(row), columnsPerEvent)
	}
	if got := row[0].(time.Time); !got.Equal(at) {
		t.Fatalf("occurred_at=%v, want %v", got, at)
	}
	payload := string(row[8].([]byte))
	if !strings.Contains(payload, `"service":"orchestrator"`) {
		t.Fatalf("payload=%s", payload)
	}
	want, err := ComputeIntegritySHA256(Event{
		OccurredAt:   at,
		Actor:        "orchestrator",
		Action:       "node.failed",
		ResourceType: ResourceNodeExecution,
		ResourceID:   "n1",
	}, []byte(payload))
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	if row[9] != want {
		t.Fatalf("integrity=%v, want %s", row[9], want)
	}

	if _, err := w.row(Event{Action: "node.failed"}); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestWriteBatchWithoutQuerier(t *testing.T) {
	w := &Writer{now: time.Now}
	ids, err := w.WriteBatch(context.Background(), nil)
	if err == nil {
		t.Fatalf("expected error from writer without querier")
	}
	if ids != nil {
		t.Fatalf("ids=%v", ids)
	}
}

func TestAuthDenyEventForCallback(t *testing.T) {
	got := authDenyEvent(auth.DenyEvent{
		Reason:     "forbidden",
		Method:     "POST",
		Path:       "/callbacks/cb-9",
		Actor:      "task-runner",
		RemoteAddr: "not-an-addr",
	})
	if got.Actor != "task-runner" {
		t.Fatalf("Actor=%q", got.Actor)
	}
	payload := got.Payload.(map[string]any)
	if payload["correlation_id"] != "cb-9" {
		t.Fatalf("payload=%v", payload)
	}
	if got.IP != nil {
		t.Fatalf("IP=%v, want nil", got.IP)
	}
}
