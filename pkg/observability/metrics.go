// Package observability turns lifecycle events into Prometheus metrics and log lines.
package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aretw0/parley/pkg/domain"
)

// Metrics holds parley's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	turns          prometheus.Counter
	evictions      prometheus.Counter
	corruptResets  prometheus.Counter
	stepExecutions *prometheus.CounterVec
	runs           *prometheus.CounterVec
	stepDuration   *prometheus.HistogramVec
	inferenceTime  *prometheus.HistogramVec
}

// NewMetrics creates and registers every collector.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		turns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parley_turns_appended_total",
			Help: "Total number of turns appended to session histories",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parley_turns_evicted_total",
			Help: "Total number of turns evicted by the history bound",
		}),
		corruptResets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parley_corrupt_histories_total",
			Help: "Total number of undecodable histories encountered",
		}),
		stepExecutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_step_executions_total",
				Help: "Step attempts by step name and outcome",
			},
			[]string{"step", "outcome"},
		),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_runs_finished_total",
				Help: "Workflow runs that reached a terminal status",
			},
			[]string{"status"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "parley_step_duration_seconds",
				Help:    "Duration of executed (non-memoized) step attempts",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"step"},
		),
		inferenceTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "parley_inference_duration_seconds",
				Help:    "Duration of inference calls",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"outcome"},
		),
	}
	m.registry.MustRegister(
		m.turns, m.evictions, m.corruptResets,
		m.stepExecutions, m.runs, m.stepDuration, m.inferenceTime,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Hooks returns lifecycle callbacks that record into m.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnTurnAppended: func(_ context.Context, e *domain.TurnEvent) {
			m.turns.Inc()
			m.evictions.Add(float64(e.Evicted))
		},
		OnCorruptState: func(context.Context, *domain.EventBase) {
			m.corruptResets.Inc()
		},
		OnStepFinish: func(_ context.Context, e *domain.StepEvent) {
			if e.Memoized {
				m.stepExecutions.WithLabelValues(e.Step, "memoized").Inc()
				return
			}
			m.stepExecutions.WithLabelValues(e.Step, outcome(e.Err)).Inc()
			m.stepDuration.WithLabelValues(e.Step).Observe(e.Duration.Seconds())
		},
		OnRunFinish: func(_ context.Context, e *domain.RunEvent) {
			m.runs.WithLabelValues(string(e.Status)).Inc()
		},
		OnInference: func(_ context.Context, e *domain.InferenceEvent) {
			m.inferenceTime.WithLabelValues(outcome(e.Err)).Observe(e.Duration.Seconds())
		},
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
