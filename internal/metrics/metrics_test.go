package metrics

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/hypertune/internal/optimization"
)

func obs(i int, loss float64, phase optimization.Phase, source optimization.Source) optimization.Observation {
	return optimization.Observation{Index: i, Loss: loss, Phase: phase, Source: source, Duration: 20 * time.Millisecond}
}

func TestObserverRecordsEvaluations(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	observer := m.Observer("run-1")

	observer.Observe(obs(0, 4, optimization.PhaseExploring, optimization.SourceRandom))
	observer.Observe(obs(1, 1.5, optimization.PhaseExploring, optimization.SourceRandom))
	failed := obs(2, math.Inf(1), optimization.PhaseRefining, optimization.SourceSurrogate)
	failed.Failure = "boom"
	observer.Observe(failed)
	observer.Observe(obs(3, 3, optimization.PhaseRefining, optimization.SourceFallback))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EvaluationsTotal.WithLabelValues("exploring", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EvaluationsTotal.WithLabelValues("refining", OutcomeFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EvaluationsTotal.WithLabelValues("refining", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SurrogateFallbacksTotal))
	assert.Equal(t, 1.5, testutil.ToFloat64(m.BestLoss.WithLabelValues("run-1")))

	assert.Equal(t, 2, testutil.CollectAndCount(m.EvaluationSeconds))
}

func TestRunLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RunStarted()
	m.RunStarted()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ActiveRuns))

	m.RunFinished(optimization.StopBudgetExhausted)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveRuns))

	expected := `
# HELP hypertune_runs_finished_total Total number of finished runs by stop reason
# TYPE hypertune_runs_finished_total counter
hypertune_runs_finished_total{stop_reason="budget_exhausted"} 1
`
	require.NoError(t, testutil.CollectAndCompare(m.RunsFinishedTotal, strings.NewReader(expected)))
}

func TestForget(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.RecordObservation("a", obs(0, 2, optimization.PhaseExploring, optimization.SourceRandom))
	m.RecordObservation("b", obs(0, 3, optimization.PhaseExploring, optimization.SourceRandom))
	assert.Equal(t, 2, testutil.CollectAndCount(m.BestLoss))

	m.Forget("a")
	assert.Equal(t, 1, testutil.CollectAndCount(m.BestLoss))

	m.RecordObservation("a", obs(1, 5, optimization.PhaseExploring, optimization.SourceRandom))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.BestLoss.WithLabelValues("a")))
}

func TestNewRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
