package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/animus-labs/animus-orchestrator/internal/domain"
	"github.com/animus-labs/animus-orchestrator/internal/orchestration/engine"
	"github.com/animus-labs/animus-orchestrator/internal/orchestration/executor"
	"github.com/animus-labs/animus-orchestrator/internal/orchestration/registry"
	"github.com/animus-labs/animus-orchestrator/internal/orchestration/waitnotify"
	"github.com/animus-labs/animus-orchestrator/internal/outcome"
	"github.com/animus-labs/animus-orchestrator/internal/repo/memory"
	"github.com/animus-labs/animus-orchestrator/internal/steps"
	"go.opentelemetry.io/otel/trace/noop"
)

const approvalPlan = `
uuid: release
startingNodeId: build
nodes:
  - uuid: build
    identifier: build
    stepType: NOOP
    facilitatorObtainments:
      - type: SYNC
    adviserObtainments:
      - type: ON_SUCCESS
        parameters:
          nextNodeId: gate
    stepParameters:
      version: "1.2.3"
  - uuid: gate
    identifier: gate
    stepType: APPROVAL
    facilitatorObtainments:
      - type: ASYNC
`

// inlineScheduler queues units and runs them when the test drains it.
type inlineScheduler struct {
	units []executor.Unit
}

func (s *inlineScheduler) Submit(_ string, unit executor.Unit) error {
	s.units = append(s.units, unit)
	return nil
}

func (s *inlineScheduler) SubmitAfter(_ time.Duration, _ string, unit executor.Unit) error {
	s.units = append(s.units, unit)
	return nil
}

func (s *inlineScheduler) drain(t *testing.T) {
	t.Helper()
	for i := 0; len(s.units) > 0; i++ {
		if i > 1000 {
			t.Fatalf("scheduler did not settle")
		}
		unit := s.units[0]
		s.units = s.units[1:]
		unit(context.Background())
	}
}

type apiHarness struct {
	handler http.Handler
	sched   *inlineScheduler
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	regs, err := steps.Register(registry.NewBuilder().WithDefaults()).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	nodes := memory.NewNodeExecutionStore()
	plans := memory.NewPlanExecutionStore()
	notifier := waitnotify.New(logger, memory.NewWaitInstanceStore())
	sched := &inlineScheduler{}
	eng, err := engine.New(engine.Config{
		Logger:         logger,
		Registries:     regs,
		NodeExecutions: nodes,
		PlanExecutions: plans,
		Notifier:       notifier,
		Scheduler:      sched,
		Outcomes:       outcome.NewStore(outcome.NewMemoryObjects()),
		Tracer:         noop.NewTracerProvider().Tracer("test"),
	})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	notifier.Bind(eng)

	mux := http.NewServeMux()
	newOrchestratorAPI(logger, eng, notifier, regs, plans, nodes, 0).register(mux)
	return &apiHarness{handler: mux, sched: sched}
}

func (h *apiHarness) do(t *testing.T, method, path, body string, out any) int {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	h.sched.drain(t)
	if out != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s %s: %v (body=%s)", method, path, err, rec.Body.String())
		}
	}
	return rec.Code
}

func (h *apiHarness) start(t *testing.T, doc string) planExecution {
	t.Helper()
	var pe planExecution
	if code := h.do(t, http.MethodPost, "/plan-executions", doc, &pe); code != http.StatusAccepted {
		t.Fatalf("start status=%d, want %d", code, http.StatusAccepted)
	}
	if pe.PlanExecutionID == "" {
		t.Fatalf("plan execution id missing")
	}
	return pe
}

func (h *apiHarness) node(t *testing.T, planExecutionID, identifier string) nodeExecution {
	t.Helper()
	var list struct {
		NodeExecutions []nodeExecution `json:"node_executions"`
	}
	if code := h.do(t, http.MethodGet, "/plan-executions/"+planExecutionID+"/nodes", "", &list); code != http.StatusOK {
		t.Fatalf("list nodes status=%d", code)
	}
	for _, ne := range list.NodeExecutions {
		if ne.Identifier == identifier {
			return ne
		}
	}
	t.Fatalf("node %q not found in %+v", identifier, list.NodeExecutions)
	return nodeExecution{}
}

func (h *apiHarness) planStatus(t *testing.T, planExecutionID string) domain.Status {
	t.Helper()
	var pe planExecution
	if code := h.do(t, http.MethodGet, "/plan-executions/"+planExecutionID, "", &pe); code != http.StatusOK {
		t.Fatalf("get plan status=%d", code)
	}
	return pe.Status
}

func TestApprovalPlanRunsToCompletion(t *testing.T) {
	h := newAPIHarness(t)
	pe := h.start(t, approvalPlan)

	build := h.node(t, pe.PlanExecutionID, "build")
	if build.Status != domain.StatusSucceeded || build.Mode != domain.ModeSync {
		t.Fatalf("build=%+v", build)
	}
	gate := h.node(t, pe.PlanExecutionID, "gate")
	if gate.Status != domain.StatusAsyncWaiting {
		t.Fatalf("gate status=%s, want ASYNC_WAITING", gate.Status)
	}
	if gate.PreviousID != build.NodeExecutionID {
		t.Fatalf("gate previous=%q, want %q", gate.PreviousID, build.NodeExecutionID)
	}

	callback := `{"status":"SUCCEEDED","output":{"approver":"release-manager"}}`
	if code := h.do(t, http.MethodPost, "/callbacks/"+steps.ApprovalCallbackID(gate.NodeExecutionID), callback, nil); code != http.StatusAccepted {
		t.Fatalf("callback status=%d, want %d", code, http.StatusAccepted)
	}

	if got := h.node(t, pe.PlanExecutionID, "gate").Status; got != domain.StatusSucceeded {
		t.Fatalf("gate status=%s, want SUCCEEDED", got)
	}
	if got := h.planStatus(t, pe.PlanExecutionID); got != domain.StatusSucceeded {
		t.Fatalf("plan status=%s, want SUCCEEDED", got)
	}

	var ne nodeExecution
	if code := h.do(t, http.MethodGet, "/node-executions/"+gate.NodeExecutionID, "", &ne); code != http.StatusOK {
		t.Fatalf("get node status=%d", code)
	}
	if ne.EndedAt == nil || len(ne.Responses) != 1 {
		t.Fatalf("node=%+v", ne)
	}
}

func TestCallbackErrorConcludesErrored(t *testing.T) {
	h := newAPIHarness(t)
	pe := h.start(t, approvalPlan)
	gate := h.node(t, pe.PlanExecutionID, "gate")

	callback := `{"error":{"failureTypes":["AUTHENTICATION"],"message":"boom"}}`
	if code := h.do(t, http.MethodPost, "/callbacks/"+steps.ApprovalCallbackID(gate.NodeExecutionID), callback, nil); code != http.StatusAccepted {
		t.Fatalf("callback status=%d, want %d", code, http.StatusAccepted)
	}

	gate = h.node(t, pe.PlanExecutionID, "gate")
	if gate.Status != domain.StatusErrored {
		t.Fatalf("gate status=%s, want ERRORED", gate.Status)
	}
	if gate.FailureInfo == nil || gate.FailureInfo.ErrorMessage != "boom" {
		t.Fatalf("failure=%+v", gate.FailureInfo)
	}
	if got := h.planStatus(t, pe.PlanExecutionID); got != domain.StatusErrored {
		t.Fatalf("plan status=%s, want ERRORED", got)
	}
}

func TestAbortPlanExecution(t *testing.T) {
	h := newAPIHarness(t)
	pe := h.start(t, approvalPlan)

	var aborted planExecution
	if code := h.do(t, http.MethodPost, "/plan-executions/"+pe.PlanExecutionID+"/abort", "", &aborted); code != http.StatusOK {
		t.Fatalf("abort status=%d, want 200", code)
	}
	if aborted.Status != domain.StatusAborted || aborted.EndedAt == nil {
		t.Fatalf("aborted=%+v", aborted)
	}
	if got := h.node(t, pe.PlanExecutionID, "gate").Status; got != domain.StatusAborted {
		t.Fatalf("gate status=%s, want ABORTED", got)
	}
	if code := h.do(t, http.MethodPost, "/plan-executions/"+pe.PlanExecutionID+"/abort", "", nil); code != http.StatusConflict {
		t.Fatalf("second abort status=%d, want 409", code)
	}
}

func TestStartRejectsInvalidPlans(t *testing.T) {
	h := newAPIHarness(t)
	cases := []struct {
		name string
		doc  string
	}{
		{name: "not a document", doc: "[:"},
		{name: "missing nodes", doc: "startingNodeId: a\n"},
		{name: "unknown step", doc: "startingNodeId: a\nnodes:\n  - uuid: a\n    identifier: a\n    stepType: DEPLOY\n    facilitatorObtainments:\n      - type: SYNC\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var body map[string]any
			if code := h.do(t, http.MethodPost, "/plan-executions", tc.doc, &body); code != http.StatusBadRequest {
				t.Fatalf("status=%d, want 400", code)
			}
			if body["error"] != "invalid_plan" {
				t.Fatalf("error=%v, want invalid_plan", body["error"])
			}
		})
	}
}

func TestLookupsAndCallbackValidation(t *testing.T) {
	h := newAPIHarness(t)

	if code := h.do(t, http.MethodGet, "/plan-executions/missing", "", nil); code != http.StatusNotFound {
		t.Fatalf("plan status=%d, want 404", code)
	}
	if code := h.do(t, http.MethodGet, "/plan-executions/missing/nodes", "", nil); code != http.StatusNotFound {
		t.Fatalf("nodes status=%d, want 404", code)
	}
	if code := h.do(t, http.MethodGet, "/node-executions/missing", "", nil); code != http.StatusNotFound {
		t.Fatalf("node status=%d, want 404", code)
	}
	if code := h.do(t, http.MethodPost, "/node-executions/missing/abort", "", nil); code != http.StatusNotFound {
		t.Fatalf("abort status=%d, want 404", code)
	}
	if code := h.do(t, http.MethodPost, "/callbacks/cb-1", `{"status":"RUNNING"}`, nil); code != http.StatusBadRequest {
		t.Fatalf("non-final callback status=%d, want 400", code)
	}
	if code := h.do(t, http.MethodPost, "/callbacks/cb-1", `{}`, nil); code != http.StatusBadRequest {
		t.Fatalf("empty callback status=%d, want 400", code)
	}
	if code := h.do(t, http.MethodPost, "/callbacks/cb-1", `{"status":"SUCCEEDED","extra":1}`, nil); code != http.StatusBadRequest {
		t.Fatalf("unknown field callback status=%d, want 400", code)
	}
	if code := h.do(t, http.MethodPost, "/callbacks/nobody-waits", `{"status":"SUCCEEDED"}`, nil); code != http.StatusAccepted {
		t.Fatalf("unmatched callback status=%d, want 202", code)
	}
}
