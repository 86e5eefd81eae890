package facilitator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/animus-labs/animus-orchestrator/internal/domain"
)

func TestModeFacilitator_InitialWait(t *testing.T) {
	f := NewModeFacilitator(domain.ModeTask)
	resp, ok, err := f.Facilitate(context.Background(), domain.Ambiance{}, json.RawMessage(`{"waitDuration":"1500ms"}`), nil)
	if err != nil {
		t.Fatalf("Facilitate: %v", err)
	}
	if !ok {
		t.Fatalf("expected facilitator to answer")
	}
	if resp.Mode != domain.ModeTask {
		t.Fatalf("mode=%s, want TASK", resp.Mode)
	}
	if resp.InitialWait != 1500*time.Millisecond {
		t.Fatalf("initial wait=%s, want 1.5s", resp.InitialWait)
	}
}

func TestModeFacilitator_YAMLParameters(t *testing.T) {
	f := NewModeFacilitator(domain.ModeSync)
	params := json.RawMessage("when:\n  runner: local\n")

	local := domain.NewAmbiance("pe", map[string]string{"runner": "local"})
	if _, ok, err := f.Facilitate(context.Background(), local, params, nil); err != nil || !ok {
		t.Fatalf("local runner: ok=%v err=%v, want answer", ok, err)
	}

	remote := domain.NewAmbiance("pe", map[string]string{"runner": "remote"})
	if _, ok, err := f.Facilitate(context.Background(), remote, params, nil); err != nil || ok {
		t.Fatalf("remote runner: ok=%v err=%v, want no answer", ok, err)
	}
}

func TestModeFacilitator_RejectsBadDuration(t *testing.T) {
	f := NewModeFacilitator(domain.ModeAsync)
	if _, _, err := f.Facilitate(context.Background(), domain.Ambiance{}, json.RawMessage(`{"waitDuration":"soon"}`), nil); err == nil {
		t.Fatalf("expected error for invalid waitDuration")
	}
}

func TestDefaultsCoverEveryMode(t *testing.T) {
	seen := map[string]bool{}
	for _, f := range Defaults() {
		seen[f.Type()] = true
	}
	for _, mode := range domain.Modes() {
		if !seen[string(mode)] {
			t.Fatalf("no default facilitator for %s", mode)
		}
	}
}
