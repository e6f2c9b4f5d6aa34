// Package metrics provides Prometheus instrumentation for optimization runs.
//
// Metrics exposed:
//   - hypertune_evaluations_total: Counter of objective evaluations by phase and outcome
//   - hypertune_evaluation_seconds: Histogram of objective evaluation duration by phase
//   - hypertune_surrogate_fallbacks_total: Counter of refining iterations that fell back to a random draw
//   - hypertune_best_loss: Gauge of the lowest finite loss per run
//   - hypertune_active_runs: Gauge of runs currently optimizing
//   - hypertune_runs_finished_total: Counter of finished runs by stop reason
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/copyleftdev/hypertune/internal/optimization"
)

// Evaluation outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeFailure = "failure"
)

// Metrics holds all Prometheus metrics for the tuning service.
type Metrics struct {
	EvaluationsTotal        *prometheus.CounterVec
	EvaluationSeconds       *prometheus.HistogramVec
	SurrogateFallbacksTotal prometheus.Counter
	BestLoss                *prometheus.GaugeVec
	ActiveRuns              prometheus.Gauge
	RunsFinishedTotal       *prometheus.CounterVec

	mu   sync.Mutex
	best map[string]float64
}

// New creates all metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		best: make(map[string]float64),

		EvaluationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hypertune_evaluations_total",
			Help: "Total number of objective evaluations by phase and outcome",
		}, []string{"phase", "outcome"}),

		EvaluationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hypertune_evaluation_seconds",
			Help:    "Time spent in the objective per evaluation",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"phase"}),

		SurrogateFallbacksTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "hypertune_surrogate_fallbacks_total",
			Help: "Refining iterations that used a random draw instead of the surrogate",
		}),

		BestLoss: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hypertune_best_loss",
			Help: "Lowest finite loss observed so far",
		}, []string{"run"}),

		ActiveRuns: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hypertune_active_runs",
			Help: "Number of runs currently optimizing",
		}),

		RunsFinishedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hypertune_runs_finished_total",
			Help: "Total number of finished runs by stop reason",
		}, []string{"stop_reason"}),
	}
}

// RecordObservation updates the evaluation metrics for one observation of run.
func (m *Metrics) RecordObservation(run string, obs optimization.Observation) {
	outcome := OutcomeOK
	if !obs.Finite() {
		outcome = OutcomeFailure
	}
	m.EvaluationsTotal.WithLabelValues(string(obs.Phase), outcome).Inc()
	m.EvaluationSeconds.WithLabelValues(string(obs.Phase)).Observe(obs.Duration.Seconds())

	if obs.Source == optimization.SourceFallback {
		m.SurrogateFallbacksTotal.Inc()
	}

	if outcome == OutcomeOK {
		m.mu.Lock()
		best, seen := m.best[run]
		if !seen || obs.Loss < best {
			m.best[run] = obs.Loss
			m.BestLoss.WithLabelValues(run).Set(obs.Loss)
		}
		m.mu.Unlock()
	}
}

// Observer returns an optimization.Observer feeding run's observations into m.
func (m *Metrics) Observer(run string) optimization.Observer {
	return optimization.ObserverFunc(func(obs optimization.Observation) {
		m.RecordObservation(run, obs)
	})
}

// RunStarted marks a run as active.
func (m *Metrics) RunStarted() {
	m.ActiveRuns.Inc()
}

// RunFinished marks a run as no longer active.
func (m *Metrics) RunFinished(reason optimization.StopReason) {
	m.ActiveRuns.Dec()
	m.RunsFinishedTotal.WithLabelValues(string(reason)).Inc()
}

// Forget drops the per-run series of run. Call it once run is finished.
func (m *Metrics) Forget(run string) {
	m.mu.Lock()
	delete(m.best, run)
	m.mu.Unlock()
	m.BestLoss.DeleteLabelValues(run)
}
