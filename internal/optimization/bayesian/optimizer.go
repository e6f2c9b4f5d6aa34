package bayesian

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/hypertune/internal/optimization"
	"github.com/copyleftdev/hypertune/internal/optimization/acquisition"
	"github.com/copyleftdev/hypertune/internal/optimization/kernels"
)

// maxDrawAttempts bounds the random draws spent looking for an unseen configuration.
const maxDrawAttempts = 1000

var _ optimization.Optimizer = (*BayesianOptimizer)(nil)

// BayesianOptimizer implements Bayesian Optimization
type BayesianOptimizer struct {
	// Configuration
	config optimization.Config

	// Gaussian Process surrogate
	surrogate *Surrogate

	// Acquisition function
	acquisition *acquisition.ExpectedImprovement

	// Random number generator
	rng *rand.Rand

	logger *zap.Logger

	// mu guards the fields below for readers on other goroutines.
	mu         sync.Mutex
	history    *optimization.History
	state      optimization.State
	iterations int
	started    bool

	stopOnce sync.Once
	stopCh   chan struct{}
}

// Option configures a BayesianOptimizer.
type Option func(*options)

type options struct {
	logger *zap.Logger
	kernel kernels.Kernel
}

// WithLogger sets the logger used by the optimizer and its surrogate.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithKernel sets the prototype kernel of the surrogate.
func WithKernel(kernel kernels.Kernel) Option {
	return func(o *options) { o.kernel = kernel }
}

// NewBayesianOptimizer creates a new Bayesian Optimizer
func NewBayesianOptimizer(config optimization.Config, opts ...Option) (*BayesianOptimizer, error) {
	const op = "NewBayesianOptimizer"

	if config.Space == nil {
		return nil, optimization.NewError(optimization.KindInvalidDomain, "search space is required").
			WithComponent("optimizer").WithOperation(op)
	}
	if config.Objective == nil {
		return nil, optimization.NewError(optimization.KindUnknown, "objective is required").
			WithComponent("optimizer").WithOperation(op)
	}
	config = config.WithDefaults()

	o := options{
		logger: zap.NewNop(),
		kernel: kernels.NewMatern52Kernel(1.0, 1.0),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	logger := o.logger.Named("bayesian_optimizer")

	seed := config.RandomSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &BayesianOptimizer{
		config:      config,
		surrogate:   NewSurrogate(config.Space, o.kernel, logger),
		acquisition: acquisition.NewExpectedImprovement(math.Inf(1), config.Xi),
		rng:         rand.New(rand.NewSource(seed)),
		logger:      logger,
		history:     optimization.NewHistory(config.NInitialPoints + config.RefiningIterations()),
		state:       optimization.StateInitializing,
		stopCh:      make(chan struct{}),
	}, nil
}

// Optimize runs the optimization loop until the iteration budget, the time
// budget or the space is exhausted, or until a stop is requested.
//
// Cancelling ctx or calling Stop ends the run at the next iteration boundary;
// the result then holds the best observation found so far and the error is nil.
// An Optimizer runs at most once.
func (bo *BayesianOptimizer) Optimize(ctx context.Context) (*optimization.Result, error) {
	bo.mu.Lock()
	if bo.started {
		bo.mu.Unlock()
		return nil, errors.New("bayesian optimizer: Optimize already called")
	}
	bo.started = true
	bo.history = optimization.NewHistory(bo.config.NInitialPoints + bo.config.RefiningIterations())
	bo.mu.Unlock()

	// The objective is never interrupted mid-call; stops are honoured between evaluations.
	evalCtx := context.WithoutCancel(ctx)

	bo.logger.Info("Starting optimization",
		zap.Strings("parameters", bo.config.Space.Names()),
		zap.Int("initial_points", bo.config.NInitialPoints),
		zap.Int("max_iterations", bo.config.RefiningIterations()),
		zap.Int("candidate_pool", bo.config.CandidatePoolSize),
		zap.Duration("time_budget", bo.config.TimeBudget),
	)

	bo.setState(optimization.StateExploring)
	for bo.history.Len() < bo.config.NInitialPoints {
		if bo.stopRequested(ctx) {
			return bo.finish(optimization.StopCancelled), nil
		}
		cfg, ok := bo.drawUnseen()
		if !ok {
			return bo.finish(optimization.StopSpaceExhausted), nil
		}
		bo.evaluate(evalCtx, cfg, optimization.PhaseExploring, optimization.SourceRandom)
	}

	bo.setState(optimization.StateRefining)
	var deadline time.Time
	if bo.config.TimeBudget > 0 {
		deadline = time.Now().Add(bo.config.TimeBudget)
	}
	for i := 0; i < bo.config.RefiningIterations(); i++ {
		if bo.stopRequested(ctx) {
			return bo.finish(optimization.StopCancelled), nil
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return bo.finish(optimization.StopTimeBudget), nil
		}

		cfg, source, ok := bo.propose()
		if !ok {
			return bo.finish(optimization.StopSpaceExhausted), nil
		}
		bo.evaluate(evalCtx, cfg, optimization.PhaseRefining, source)

		bo.mu.Lock()
		bo.iterations++
		bo.mu.Unlock()
	}

	return bo.finish(optimization.StopBudgetExhausted), nil
}

// propose picks the next configuration to evaluate: the expected-improvement
// arg-max of a fresh candidate pool, or a random draw when the surrogate
// cannot be fitted.
func (bo *BayesianOptimizer) propose() (optimization.Configuration, optimization.Source, bool) {
	posterior, err := bo.surrogate.Fit(bo.history)
	if err != nil {
		if errors.Is(err, errNoFiniteLoss) {
			bo.logger.Debug("No finite loss yet, drawing at random")
		} else {
			bo.logger.Warn("Surrogate fit failed, falling back to random draw", zap.Error(err))
		}
		cfg, ok := bo.drawUnseen()
		return cfg, optimization.SourceFallback, ok
	}

	pool := drawPool(bo.config.Space, bo.rng, bo.history, bo.config.CandidatePoolSize)
	if len(pool) == 0 {
		cfg, ok := bo.drawUnseen()
		return cfg, optimization.SourceFallback, ok
	}

	bo.acquisition.UpdateBest(bo.history.BestLoss())
	scored, err := scorePool(bo.config.Space, posterior, bo.acquisition, pool, bo.config.Workers)
	if err != nil {
		bo.logger.Warn("Candidate scoring failed, falling back to random draw", zap.Error(err))
		return pool[0], optimization.SourceFallback, true
	}

	idx, _ := acquisition.SelectBest(scored)
	chosen := scored[idx]
	bo.logger.Debug("Selected candidate",
		zap.Int("pool_size", len(pool)),
		zap.Float64("expected_improvement", chosen.EI),
		zap.Float64("mean", chosen.Mean),
		zap.Float64("variance", chosen.Variance),
	)
	return pool[chosen.Index], optimization.SourceSurrogate, true
}

// drawUnseen samples a configuration that has not been evaluated yet.
func (bo *BayesianOptimizer) drawUnseen() (optimization.Configuration, bool) {
	if total, finite := bo.config.Space.Cardinality(); finite && bo.history.Len() >= total {
		return optimization.Configuration{}, false
	}
	for attempt := 0; attempt < maxDrawAttempts; attempt++ {
		cfg := bo.config.Space.SampleRandom(bo.rng)
		if !bo.history.Contains(cfg) {
			return cfg, true
		}
	}
	return optimization.Configuration{}, false
}

// evaluate runs the objective once and records the observation. Failures are
// recorded as +Inf and never abort the run.
func (bo *BayesianOptimizer) evaluate(ctx context.Context, cfg optimization.Configuration, phase optimization.Phase, source optimization.Source) {
	start := time.Now()
	loss, err := bo.callObjective(ctx, cfg)
	elapsed := time.Since(start)

	obs := optimization.Observation{
		Config:   cfg,
		Loss:     loss,
		Phase:    phase,
		Source:   source,
		Duration: elapsed,
	}
	if err != nil {
		err = optimization.WrapError(err, optimization.KindEvaluationFailure, "evaluate configuration").
			WithComponent("optimizer").WithOperation("evaluate")
		obs.Loss = math.Inf(1)
		obs.Failure = err.Error()
		bo.logger.Warn("Objective evaluation failed",
			zap.String("config", cfg.Key()),
			zap.Error(err),
		)
	}

	bo.mu.Lock()
	obs = bo.history.Append(obs)
	bo.mu.Unlock()

	bo.logger.Debug("Recorded observation",
		zap.Int("index", obs.Index),
		zap.String("phase", string(phase)),
		zap.String("source", string(source)),
		zap.String("config", cfg.Key()),
		zap.String("loss", optimization.FormatLoss(obs.Loss)),
		zap.Duration("duration", elapsed),
	)

	for _, o := range bo.config.Observers {
		o.Observe(obs)
	}
}

func (bo *BayesianOptimizer) callObjective(ctx context.Context, cfg optimization.Configuration) (loss float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("objective panicked: %v", r)
		}
	}()

	loss, err = bo.config.Objective.Evaluate(ctx, cfg)
	if err != nil {
		return math.Inf(1), err
	}
	if math.IsNaN(loss) || math.IsInf(loss, -1) {
		return math.Inf(1), fmt.Errorf("objective returned %v", loss)
	}
	return loss, nil
}

func (bo *BayesianOptimizer) stopRequested(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-bo.stopCh:
		return true
	default:
		return false
	}
}

func (bo *BayesianOptimizer) setState(s optimization.State) {
	bo.mu.Lock()
	bo.state = s
	bo.mu.Unlock()
}

func (bo *BayesianOptimizer) finish(reason optimization.StopReason) *optimization.Result {
	bo.mu.Lock()
	bo.state = optimization.StateTerminated
	result := &optimization.Result{
		History:    bo.history.Observations(),
		Iterations: bo.iterations,
		StopReason: reason,
	}
	if best, ok := bo.history.Best(); ok {
		result.Best = &best
	}
	bo.mu.Unlock()

	fields := []zap.Field{
		zap.String("stop_reason", string(reason)),
		zap.Int("evaluations", len(result.History)),
		zap.Int("iterations", result.Iterations),
	}
	if result.Best != nil {
		fields = append(fields,
			zap.String("best_loss", optimization.FormatLoss(result.Best.Loss)),
			zap.String("best_config", result.Best.Config.Key()))
	}
	bo.logger.Info("Optimization finished", fields...)
	return result
}

// Best returns the best observation found so far
func (bo *BayesianOptimizer) Best() (optimization.Observation, bool) {
	bo.mu.Lock()
	defer bo.mu.Unlock()
	return bo.history.Best()
}

// History returns the observations made so far
func (bo *BayesianOptimizer) History() []optimization.Observation {
	bo.mu.Lock()
	defer bo.mu.Unlock()
	return bo.history.Observations()
}

// State returns the current loop state
func (bo *BayesianOptimizer) State() optimization.State {
	bo.mu.Lock()
	defer bo.mu.Unlock()
	return bo.state
}

// Iterations returns the number of refining iterations completed so far
func (bo *BayesianOptimizer) Iterations() int {
	bo.mu.Lock()
	defer bo.mu.Unlock()
	return bo.iterations
}

// Stop asks the optimizer to terminate at the next iteration boundary.
// It is safe to call from any goroutine, including observers, and more than once.
func (bo *BayesianOptimizer) Stop() {
	bo.stopOnce.Do(func() { close(bo.stopCh) })
}
