// Package httpserver runs the orchestrator's HTTP listener and provides the
// middleware chain every handler is wrapped in.
package httpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/animus-labs/animus-orchestrator/internal/platform/env"
)

const (
	requestIDHeader     = "X-Request-Id"
	defaultCheckTimeout = 2 * time.Second
)

// ErrDraining is reported by the drain readiness check once shutdown began.
var ErrDraining = errors.New("server is draining")

type Config struct {
	Service         string
	Addr            string
	ShutdownTimeout time.Duration

	// DrainDelay keeps the listener open after readiness flips so load
	// balancers stop routing callbacks here before connections close.
	DrainDelay time.Duration
	Drain      *Drain
}

func ConfigFromEnv(service string) (Config, error) {
	shutdown, err := env.Duration("ORCHESTRATOR_HTTP_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return Config{}, err
	}
	drainDelay, err := env.Duration("ORCHESTRATOR_HTTP_DRAIN_DELAY", 0)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Service:         service,
		Addr:            env.String("ORCHESTRATOR_HTTP_ADDR", ":8080"),
		ShutdownTimeout: shutdown,
		DrainDelay:      drainDelay,
		Drain:           &Drain{},
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Service) == "":
		return errors.New("service is required")
	case strings.TrimSpace(c.Addr) == "":
		return errors.New("addr is required")
	case c.DrainDelay < 0:
		return errors.New("drain delay must not be negative")
	}
	return nil
}

// Drain flips to draining when Run starts shutting down.
type Drain struct {
	draining atomic.Bool
}

func (d *Drain) Start() {
	if d != nil {
		d.draining.Store(true)
	}
}

func (d *Drain) Draining() bool {
	return d != nil && d.draining.Load()
}

// Check reports ErrDraining once Start was called.
func (d *Drain) Check(context.Context) error {
	if d.Draining() {
		return ErrDraining
	}
	return nil
}

// Wrap applies, outermost first, panic recovery, request ids, a server span
// continuing any inbound trace context, and the access log.
func Wrap(logger *slog.Logger, service string, next http.Handler) http.Handler {
	traced := tracingMiddleware(otel.Tracer(service), otel.GetTextMapPropagator(), requestLogMiddleware(logger, next))
	return recoverMiddleware(logger, requestIDMiddleware(traced))
}

// Run serves handler until ctx is done. On cancellation the drain flag is
// raised, the drain delay elapses, and in-flight requests get
// ShutdownTimeout to finish.
func Run(ctx context.Context, logger *slog.Logger, cfg Config, handler http.Handler) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", "service", cfg.Service, "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() == nil {
			// listener failed on its own
			return nil
		}
		cfg.Drain.Start()
		if cfg.DrainDelay > 0 {
			logger.Info("http server draining", "service", cfg.Service, "delay", cfg.DrainDelay)
			time.Sleep(cfg.DrainDelay)
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func Healthz(service string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{
			"service": service,
			"status":  "ok",
		})
	}
}

type ReadinessCheck struct {
	Name    string
	Check   func(context.Context) error
	Timeout time.Duration
}

type checkResult struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

func (c ReadinessCheck) run(ctx context.Context) checkResult {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	res := checkResult{Name: c.Name, Status: "ok"}
	if err := c.Check(ctx); err != nil {
		res.Status = "fail"
		res.Error = err.Error()
	}
	res.DurationMs = time.Since(start).Milliseconds()
	return res
}

// ReadyzWithChecks runs every check concurrently and answers 503 when any
// of them fails.
func ReadyzWithChecks(service string, checks ...ReadinessCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results := make([]checkResult, len(checks))
		var g errgroup.Group
		for i, check := range checks {
			g.Go(func() error {
				results[i] = check.run(r.Context())
				return nil
			})
		}
		_ = g.Wait()

		status, state := http.StatusOK, "ready"
		for _, res := range results {
			if res.Status != "ok" {
				status, state = http.StatusServiceUnavailable, "not_ready"
				break
			}
		}
		WriteJSON(w, status, map[string]any{
			"service": service,
			"status":  state,
			"checks":  results,
		})
	}
}

func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteError renders {"error": code, "request_id": ...}.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code string) {
	requestID, _ := RequestIDFromContext(r.Context())
	WriteJSON(w, status, map[string]any{
		"error":      code,
		"request_id": requestID,
	})
}

type ctxKeyRequestID struct{}

func RequestIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxKeyRequestID{}).(string)
	return v, ok && v != ""
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		r.Header.Set(requestIDHeader, id)
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyRequestID{}, id)))
	})
}

// tracingMiddleware opens a server span. Task runners posting callbacks
// forward traceparent, so resumes show up under the submitting trace.
func tracingMiddleware(tracer trace.Tracer, propagator propagation.TextMapPropagator, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(r.Method),
				semconv.URLPath(r.URL.Path),
			),
		)
		defer span.End()
		if requestID, ok := RequestIDFromContext(ctx); ok {
			span.SetAttributes(attribute.String("http.request.header.x-request-id", requestID))
		}

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r.WithContext(ctx))

		span.SetAttributes(semconv.HTTPResponseStatusCode(sw.status))
		if sw.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(sw.status))
		}
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) WriteHeader(statusCode int) {
	w.status = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	n, err := w.ResponseWriter.Write(p)
	w.bytes += n
	return n, err
}

func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijacker not supported")
	}
	return hijacker.Hijack()
}

func requestLogMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		requestID, _ := RequestIDFromContext(r.Context())
		attrs := []slog.Attr{
			slog.String("request_id", requestID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", sw.status),
			slog.Int("bytes", sw.bytes),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		}
		if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() {
			attrs = append(attrs, slog.String("trace_id", sc.TraceID().String()))
		}
		level := slog.LevelInfo
		switch {
		case sw.status >= http.StatusInternalServerError:
			level = slog.LevelError
		case sw.status >= http.StatusBadRequest:
			level = slog.LevelWarn
		}
		logger.LogAttrs(r.Context(), level, "http request", attrs...)
	})
}

func recoverMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if v == http.ErrAbortHandler {
				panic(v)
			}
			// the request id middleware sits inside this one
			requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
			logger.Error("panic recovered", "request_id", requestID, "panic", v)
			WriteJSON(w, http.StatusInternalServerError, map[string]any{
				"error":      "internal_server_error",
				"request_id": requestID,
			})
		}()
		next.ServeHTTP(w, r)
	})
}
