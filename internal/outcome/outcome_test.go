package outcome

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/animus-labs/animus-orchestrator/internal/domain"
)

func TestStorePutAndList(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewMemoryObjects())

	for _, o := range []domain.StepOutcome{
		{Name: "report", Outcome: json.RawMessage(`{"ok":true}`)},
		{Name: "artifact", Group: "build", Outcome: json.RawMessage(`"s3://a"`)},
	} {
		if err := store.Put(ctx, "p1", "n1", o); err != nil {
			t.Fatalf("Put(%s) err=%v", o.Name, err)
		}
	}
	if err := store.Put(ctx, "p1", "n2", domain.StepOutcome{Name: "other", Outcome: json.RawMessage(`1`)}); err != nil {
		t.Fatalf("Put(other) err=%v", err)
	}

	got, err := store.List(ctx, "p1", "n1")
	if err != nil {
		t.Fatalf("List() err=%v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len=%d, want 2", len(got))
	}
	if got[0].Name != "artifact" || got[0].Group != "build" || got[1].Name != "report" {
		t.Fatalf("outcomes=%+v", got)
	}
}

func TestStorePutOverwrites(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewMemoryObjects())
	_ = store.Put(ctx, "p1", "n1", domain.StepOutcome{Name: "x", Outcome: json.RawMessage(`1`)})
	_ = store.Put(ctx, "p1", "n1", domain.StepOutcome{Name: "x", Outcome: json.RawMessage(`2`)})

	got, err := store.List(ctx, "p1", "n1")
	if err != nil {
		t.Fatalf("List() err=%v", err)
	}
	if len(got) != 1 || string(got[0].Outcome) != "2" {
		t.Fatalf("outcomes=%+v", got)
	}
}

func TestStoreRejectsUnnamedOutcome(t *testing.T) {
	store := NewStore(NewMemoryObjects())
	if err := store.Put(context.Background(), "p1", "n1", domain.StepOutcome{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestKeyEscapesNames(t *testing.T) {
	if got, want := Key("p1", "n1", "a/b c"), "p1/n1/a%2Fb%20c.json"; got != want {
		t.Fatalf("Key()=%q, want %q", got, want)
	}
}

func TestNewStoreNil(t *testing.T) {
	if s := NewStore(nil); s != nil {
		t.Fatalf("NewStore(nil)=%v, want nil", s)
	}
}
