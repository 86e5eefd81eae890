package httpserver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestWrapSetsRequestIDWhenMissing(t *testing.T) {
	var seen string
	h := Wrap(testLogger(), "orchestrator", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://example.test/", nil))

	got := rec.Header().Get("X-Request-Id")
	if got == "" {
		t.Fatalf("expected X-Request-Id response header")
	}
	if seen != got {
		t.Fatalf("context request id=%q, want %q", seen, got)
	}
	if _, err := uuid.Parse(got); err != nil {
		t.Fatalf("X-Request-Id=%q is not a uuid: %v", got, err)
	}
}

func TestWrapPreservesRequestID(t *testing.T) {
	h := Wrap(testLogger(), "orchestrator", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "http://example.test/", nil)
	req.Header.Set("X-Request-Id", "rid-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-Id"); got != "rid-123" {
		t.Fatalf("X-Request-Id=%q, want rid-123", got)
	}
}

func TestWrapRecoversPanic(t *testing.T) {
	h := Wrap(testLogger(), "orchestrator", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { panic("boom") }))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://example.test/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d, want 500", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type=%q, want application/json", ct)
	}
}

func TestWriteError(t *testing.T) {
	h := Wrap(testLogger(), "orchestrator", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, http.StatusNotFound, "not_found")
	}))

	req := httptest.NewRequest(http.MethodGet, "http://example.test/", nil)
	req.Header.Set("X-Request-Id", "rid-9")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"error":"not_found"`) || !strings.Contains(body, `"request_id":"rid-9"`) {
		t.Fatalf("body=%s", body)
	}
}

func TestReadyzWithChecks(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		state  string
	}{
		{name: "ok", status: http.StatusOK, state: `"status":"ready"`},
		{name: "fail", err: errors.New("db down"), status: http.StatusServiceUnavailable, state: `"status":"not_ready"`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := ReadyzWithChecks("orchestrator", ReadinessCheck{
				Name:  "postgres",
				Check: func(ctx context.Context) error { return tc.err },
			})
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://example.test/readyz", nil))

			if rec.Code != tc.status {
				t.Fatalf("status=%d, want %d", rec.Code, tc.status)
			}
			if !strings.Contains(rec.Body.String(), tc.state) {
				t.Fatalf("body=%s", rec.Body.String())
			}
		})
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("ORCHESTRATOR_HTTP_ADDR", ":9090")
	cfg, err := ConfigFromEnv("orchestrator")
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.Addr != ":9090" {
		t.Fatalf("Addr=%q, want :9090", cfg.Addr)
	}
	if _, err := ConfigFromEnv(" "); err == nil {
		t.Fatalf("expected error for blank service")
	}
}

func TestConfigValidateRejectsNegativeDrainDelay(t *testing.T) {
	cfg := Config{Service: "orchestrator", Addr: ":8080", DrainDelay: -time.Second}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for negative drain delay")
	}
}

func TestDrainCheckFlipsReadiness(t *testing.T) {
	drain := &Drain{}
	handler := ReadyzWithChecks("orchestrator", ReadinessCheck{Name: "drain", Check: drain.Check})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://example.test/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}

	drain.Start()
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://example.test/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), ErrDraining.Error()) {
		t.Fatalf("body=%s", rec.Body.String())
	}

	var unset *Drain
	if unset.Draining() {
		t.Fatalf("nil drain reports draining")
	}
}

func TestReadinessCheckTimeout(t *testing.T) {
	handler := ReadyzWithChecks("orchestrator", ReadinessCheck{
		Name:    "slow",
		Timeout: 10 * time.Millisecond,
		Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://example.test/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "deadline exceeded") {
		t.Fatalf("body=%s", rec.Body.String())
	}
}

func TestTracingMiddlewareContinuesInboundTrace(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	h := tracingMiddleware(tp.Tracer("test"), propagation.TraceContext{}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	req := httptest.NewRequest(http.MethodPost, "http://example.test/api/v1/callbacks/cb-1", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	h.ServeHTTP(httptest.NewRecorder(), req)

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("spans=%d, want 1", len(spans))
	}
	span := spans[0]
	if got := span.SpanContext().TraceID().String(); got != traceID {
		t.Fatalf("trace id=%s, want %s", got, traceID)
	}
	if span.Name() != "POST /api/v1/callbacks/cb-1" {
		t.Fatalf("name=%q", span.Name())
	}
	if span.Status().Code.String() != "Error" {
		t.Fatalf("status=%v, want Error", span.Status().Code)
	}
}
