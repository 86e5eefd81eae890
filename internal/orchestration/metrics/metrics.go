// Package metrics exposes engine activity as Prometheus metrics.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/animus-labs/animus-orchestrator/internal/orchestration/engine"
)

const namespace = "orchestrator"

// PoolStats is satisfied by the executor pool.
type PoolStats interface {
	Running() int64
	Queued() int64
	Size() int64
}

// Recorder is an engine.Observer backed by its own Prometheus registry.
type Recorder struct {
	registry    *prometheus.Registry
	transitions *prometheus.CounterVec
	finished    *prometheus.CounterVec
	resumes     *prometheus.CounterVec
	advises     *prometheus.CounterVec
}

func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "node_status_transitions_total",
				Help:      "Node execution status transitions",
			},
			[]string{"mode", "to"},
		),
		finished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "node_executions_finished_total",
				Help:      "Node executions that reached a final status",
			},
			[]string{"step_type", "status"},
		),
		resumes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resumes_total",
				Help:      "Node execution resumes by mode and outcome",
			},
			[]string{"mode", "outcome", "async_error"},
		),
		advises: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "advises_total",
				Help:      "Adviser decisions by type",
			},
			[]string{"type"},
		),
	}
	r.registry.MustRegister(
		r.transitions,
		r.finished,
		r.resumes,
		r.advises,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// RegisterPool exports the pool's occupancy as gauges.
func (r *Recorder) RegisterPool(pool PoolStats) {
	if pool == nil {
		return
	}
	r.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "executor_running",
			Help:      "Units currently running in the executor pool",
		}, func() float64 { return float64(pool.Running()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "executor_queued",
			Help:      "Units queued behind a running unit with the same key",
		}, func() float64 { return float64(pool.Queued()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "executor_size",
			Help:      "Executor pool concurrency limit",
		}, func() float64 { return float64(pool.Size()) }),
	)
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) StatusChanged(_ context.Context, event engine.StatusEvent) {
	r.transitions.WithLabelValues(string(event.Mode), string(event.To)).Inc()
	if event.To.IsFinal() {
		r.finished.WithLabelValues(event.StepType, string(event.To)).Inc()
	}
}

func (r *Recorder) Resumed(_ context.Context, event engine.ResumeEvent) {
	asyncError := "false"
	if event.AsyncError {
		asyncError = "true"
	}
	r.resumes.WithLabelValues(string(event.Mode), event.Outcome, asyncError).Inc()
}

func (r *Recorder) Advised(_ context.Context, event engine.AdviseEvent) {
	typ := "NONE"
	if event.Advise != nil {
		typ = string(event.Advise.Type)
	}
	r.advises.WithLabelValues(typ).Inc()
}
