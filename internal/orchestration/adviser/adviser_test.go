package adviser

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/animus-labs/animus-orchestrator/internal/domain"
)

func failedEvent(params string, types ...domain.FailureType) Event {
	return Event{
		NodeExecutionID: "ne-1",
		NodeIdentifier:  "build",
		FromStatus:      domain.StatusRunning,
		ToStatus:        domain.StatusFailed,
		FailureInfo:     &domain.FailureInfo{FailureTypes: types, ErrorMessage: "boom"},
		Parameters:      json.RawMessage(params),
	}
}

func TestOnSuccess(t *testing.T) {
	a := OnSuccess{}
	ok := Event{ToStatus: domain.StatusSucceeded, Parameters: json.RawMessage(`{"nextNodeId":"n2"}`)}
	if !a.CanAdvise(ok) {
		t.Fatalf("expected OnSuccess to advise on SUCCEEDED")
	}
	advise, err := a.OnAdviseEvent(ok)
	if err != nil {
		t.Fatalf("OnAdviseEvent: %v", err)
	}
	if advise.Type != domain.AdviseNextStep || advise.NextNodeID != "n2" {
		t.Fatalf("unexpected advise: %+v", advise)
	}

	if a.CanAdvise(Event{ToStatus: domain.StatusFailed, Parameters: json.RawMessage(`{"nextNodeId":"n2"}`)}) {
		t.Fatalf("OnSuccess must not advise on FAILED")
	}
	if a.CanAdvise(Event{ToStatus: domain.StatusSucceeded}) {
		t.Fatalf("OnSuccess without next node must not advise")
	}
}

func TestOnFail_FailureTypeFilter(t *testing.T) {
	a := OnFail{}
	params := `{"failureTypes":["CONNECTIVITY"],"nextNodeId":"cleanup"}`
	if a.CanAdvise(failedEvent(params, domain.FailureAuthentication)) {
		t.Fatalf("OnFail advised on non-matching failure type")
	}
	event := failedEvent(params, domain.FailureConnectivity)
	if !a.CanAdvise(event) {
		t.Fatalf("OnFail should advise on matching failure type")
	}
	advise, err := a.OnAdviseEvent(event)
	if err != nil {
		t.Fatalf("OnAdviseEvent: %v", err)
	}
	if advise.Type != domain.AdviseNextStep || advise.NextNodeID != "cleanup" {
		t.Fatalf("unexpected advise: %+v", advise)
	}

	advise, err = a.OnAdviseEvent(failedEvent(`{}`))
	if err != nil {
		t.Fatalf("OnAdviseEvent: %v", err)
	}
	if advise.Type != domain.AdviseMarkFailed {
		t.Fatalf("advise=%s, want MARK_FAILED", advise.Type)
	}
}

func TestRetry_AttemptsThenRepair(t *testing.T) {
	a := Retry{}
	params := "retryCount: 2\nwaitIntervals: [1s, 5s]\nrepairActionCode: IGNORE\nnextNodeId: after\n"

	event := failedEvent(params, domain.FailureConnectivity)
	if !a.CanAdvise(event) {
		t.Fatalf("Retry should advise on failure")
	}

	wantWaits := []time.Duration{time.Second, 5 * time.Second}
	for attempt, want := range wantWaits {
		event.RetryAttempts = attempt
		advise, err := a.OnAdviseEvent(event)
		if err != nil {
			t.Fatalf("attempt %d: %v", attempt, err)
		}
		if advise.Type != domain.AdviseRetry || advise.WaitInterval != want {
			t.Fatalf("attempt %d: advise=%+v, want RETRY after %s", attempt, advise, want)
		}
	}

	event.RetryAttempts = 2
	advise, err := a.OnAdviseEvent(event)
	if err != nil {
		t.Fatalf("exhausted: %v", err)
	}
	if advise.Type != domain.AdviseIgnore || advise.NextNodeID != "after" || advise.ToStatus != domain.StatusIgnoreFailed {
		t.Fatalf("unexpected repair advise: %+v", advise)
	}
}

func TestAbortedIsNeverAdvised(t *testing.T) {
	event := failedEvent(`{}`)
	event.ToStatus = domain.StatusAborted
	for _, a := range []Adviser{OnFail{}, Retry{}, Ignore{}, OnSuccess{}} {
		if a.CanAdvise(event) {
			t.Fatalf("%s advised an aborted node", a.Type())
		}
	}
}

func TestRetry_ValidateParameters(t *testing.T) {
	if err := (Retry{}).ValidateParameters(json.RawMessage(`{"retryCount":1,"waitIntervals":["later"]}`)); err == nil {
		t.Fatalf("expected invalid interval error")
	}
	if err := (Retry{}).ValidateParameters(json.RawMessage(`{"retryCount":-1}`)); err == nil {
		t.Fatalf("expected negative retryCount error")
	}
	if err := (Retry{}).ValidateParameters(json.RawMessage(`{"retryCount":3,"waitIntervals":["10s"]}`)); err != nil {
		t.Fatalf("ValidateParameters: %v", err)
	}
}
