package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/animus-labs/animus-orchestrator/internal/domain"
	"github.com/animus-labs/animus-orchestrator/internal/orchestration/engine"
)

type fakePool struct{ running, queued, size int64 }

func (p fakePool) Running() int64 { return p.running }
func (p fakePool) Queued() int64  { return p.queued }
func (p fakePool) Size() int64    { return p.size }

func TestRecorderCountsEvents(t *testing.T) {
	r := New()
	ctx := context.Background()

	r.StatusChanged(ctx, engine.StatusEvent{Mode: domain.ModeTask, StepType: "HTTP_TASK", To: domain.StatusTaskWaiting})
	r.StatusChanged(ctx, engine.StatusEvent{Mode: domain.ModeTask, StepType: "HTTP_TASK", To: domain.StatusSucceeded})
	r.Resumed(ctx, engine.ResumeEvent{Mode: domain.ModeTask, Outcome: engine.ResumeFinalized})
	r.Resumed(ctx, engine.ResumeEvent{Mode: domain.ModeAsync, Outcome: engine.ResumeFinalized, AsyncError: true})
	r.Advised(ctx, engine.AdviseEvent{Advise: &domain.Advise{Type: domain.AdviseNextStep}})
	r.Advised(ctx, engine.AdviseEvent{})

	if got := testutil.ToFloat64(r.transitions.WithLabelValues("TASK", "TASK_WAITING")); got != 1 {
		t.Fatalf("task waiting transitions=%v, want 1", got)
	}
	if got := testutil.ToFloat64(r.finished.WithLabelValues("HTTP_TASK", "SUCCEEDED")); got != 1 {
		t.Fatalf("finished=%v, want 1", got)
	}
	if got := testutil.CollectAndCount(r.finished); got != 1 {
		t.Fatalf("finished series=%d, want 1", got)
	}
	if got := testutil.ToFloat64(r.resumes.WithLabelValues("ASYNC", engine.ResumeFinalized, "true")); got != 1 {
		t.Fatalf("async error resumes=%v, want 1", got)
	}
	if got := testutil.ToFloat64(r.advises.WithLabelValues("NONE")); got != 1 {
		t.Fatalf("empty advises=%v, want 1", got)
	}
}

func TestHandlerServesPoolGauges(t *testing.T) {
	r := New()
	r.RegisterPool(fakePool{running: 2, queued: 5, size: 8})

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{"orchestrator_executor_running 2", "orchestrator_executor_queued 5", "orchestrator_executor_size 8"} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
