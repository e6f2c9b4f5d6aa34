package optimization

import (
	"context"
	"time"
)

// Optimizer defines the interface for optimization algorithms
type Optimizer interface {
	// Optimize runs the optimization process
	Optimize(ctx context.Context) (*Result, error)

	// Best returns the best observation found so far
	Best() (Observation, bool)

	// History returns the observations made so far
	History() []Observation

	// State returns the current loop state
	State() State

	// Stop asks the optimizer to terminate after the current evaluation
	Stop()
}

// Evaluator scores a configuration. Lower losses are better.
//
// Implementations may be slow and noisy. They must not cache results across
// distinct configurations.
type Evaluator interface {
	Evaluate(ctx context.Context, cfg Configuration) (float64, error)
}

// ObjectiveFunction adapts a plain function to the Evaluator interface.
type ObjectiveFunction func(ctx context.Context, cfg Configuration) (float64, error)

// Evaluate calls f.
func (f ObjectiveFunction) Evaluate(ctx context.Context, cfg Configuration) (float64, error) {
	return f(ctx, cfg)
}

// Observer is notified after every observation is appended to the history.
// It runs on the optimization goroutine and should return quickly.
type Observer interface {
	Observe(obs Observation)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(obs Observation)

// Observe calls f.
func (f ObserverFunc) Observe(obs Observation) { f(obs) }

// Config contains configuration for the optimizer
type Config struct {
	// Space to search
	Space *Space

	// Objective to minimize
	Objective Evaluator

	// Number of random configurations evaluated before the surrogate is used
	NInitialPoints int

	// Number of surrogate-guided iterations after exploration; 0 takes the
	// default and NoRefinement stops after the exploring phase
	MaxIterations int

	// Number of random candidates scored by the acquisition function per iteration
	CandidatePoolSize int

	// Number of goroutines used to score the candidate pool
	Workers int

	// Random seed for reproducibility; 0 seeds from the clock
	RandomSeed int64

	// Wall-clock limit for the refining phase; 0 means no limit
	TimeBudget time.Duration

	// Minimum improvement demanded by expected improvement
	Xi float64

	// Observers notified after each evaluation
	Observers []Observer
}

// Default loop settings.
const (
	DefaultInitialPoints     = 5
	DefaultMaxIterations     = 50
	DefaultCandidatePoolSize = 2000
)

// NoRefinement as MaxIterations runs the exploring phase only.
const NoRefinement = -1

// WithDefaults fills unset numeric fields.
func (c Config) WithDefaults() Config {
	if c.NInitialPoints < 1 {
		c.NInitialPoints = DefaultInitialPoints
	}
	if c.MaxIterations == 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.CandidatePoolSize < 1 {
		c.CandidatePoolSize = DefaultCandidatePoolSize
	}
	if c.Workers < 1 {
		c.Workers = 1
	}
	return c
}

// RefiningIterations is the refining budget, never negative.
func (c Config) RefiningIterations() int {
	if c.MaxIterations < 0 {
		return 0
	}
	return c.MaxIterations
}

// State is a step of the optimization state machine.
type State int

const (
	StateInitializing State = iota
	StateExploring
	StateRefining
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateExploring:
		return "exploring"
	case StateRefining:
		return "refining"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// StopReason explains why the loop terminated.
type StopReason string

const (
	StopBudgetExhausted StopReason = "budget_exhausted"
	StopTimeBudget      StopReason = "time_budget"
	StopCancelled       StopReason = "cancelled"
	StopSpaceExhausted  StopReason = "space_exhausted"
)

// Result contains the result of an optimization run
type Result struct {
	// Best is the lowest-loss observation; nil when nothing was evaluated.
	Best *Observation
	// History holds every observation in evaluation order.
	History []Observation
	// Iterations is the number of refining iterations completed.
	Iterations int
	// StopReason explains why the loop ended.
	StopReason StopReason
}
