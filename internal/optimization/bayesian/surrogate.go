package bayesian

import (
	"errors"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/copyleftdev/hypertune/internal/optimization"
	"github.com/copyleftdev/hypertune/internal/optimization/kernels"
)

// Length-scale search bounds in encoded units. Encoded features live in [0, 1].
const (
	minLengthScale = 0.01
	maxLengthScale = 10.0
)

// defaultLengthScaleGrid seeds the length-scale search.
var defaultLengthScaleGrid = []float64{0.05, 0.1, 0.2, 0.4, 0.8, 1.6, 3.2}

var errNoFiniteLoss = errors.New("history has no finite loss")

// Surrogate fits a Gaussian-process posterior to an observation history.
// Every call to Fit starts from scratch; nothing is carried between fits.
type Surrogate struct {
	space    *optimization.Space
	kernel   kernels.Kernel
	noiseVar float64
	grid     []float64
	polish   bool
	logger   *zap.Logger
}

// NewSurrogate returns a surrogate for configurations of space using a
// prototype kernel. The kernel's length scale is re-selected on every fit and
// its signal variance is fixed at 1 because targets are standardized.
func NewSurrogate(space *optimization.Space, kernel kernels.Kernel, logger *zap.Logger) *Surrogate {
	if kernel == nil {
		kernel = kernels.NewMatern52Kernel(1.0, 1.0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Surrogate{
		space:    space,
		kernel:   kernel.Clone(),
		noiseVar: DefaultNoiseVar,
		grid:     defaultLengthScaleGrid,
		polish:   true,
		logger:   logger.Named("surrogate"),
	}
}

// TrainingData encodes the history as GP inputs and targets.
// Non-finite losses are replaced by the worst finite loss so that failed
// evaluations still push the surrogate away from their region.
func (s *Surrogate) TrainingData(history *optimization.History) (*mat.Dense, *mat.VecDense, error) {
	const op = "Surrogate.TrainingData"

	n := history.Len()
	if n == 0 {
		return nil, nil, optimization.NewError(optimization.KindSurrogateFitFailure, "history is empty").
			WithComponent("surrogate").WithOperation(op)
	}

	worst := math.Inf(-1)
	for i := 0; i < n; i++ {
		if loss := history.At(i).Loss; !math.IsInf(loss, 0) && !math.IsNaN(loss) && loss > worst {
			worst = loss
		}
	}
	if math.IsInf(worst, -1) {
		return nil, nil, optimization.WrapError(errNoFiniteLoss, optimization.KindSurrogateFitFailure, "prepare training data").
			WithComponent("surrogate").WithOperation(op)
	}

	X := mat.NewDense(n, s.space.Dimensions(), nil)
	y := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		obs := history.At(i)
		if err := s.space.EncodeInto(obs.Config, X.RawRowView(i)); err != nil {
			return nil, nil, err
		}
		loss := obs.Loss
		if math.IsInf(loss, 0) || math.IsNaN(loss) {
			loss = worst
		}
		y.SetVec(i, loss)
	}
	return X, y, nil
}

// Fit selects the kernel length scale by maximizing the log marginal
// likelihood and returns the posterior for that length scale.
func (s *Surrogate) Fit(history *optimization.History) (*Posterior, error) {
	X, y, err := s.TrainingData(history)
	if err != nil {
		return nil, err
	}

	var (
		best    *Posterior
		bestLS  float64
		lastErr error
	)
	for _, ls := range s.grid {
		p, err := s.fitLengthScale(X, y, ls)
		if err != nil {
			lastErr = err
			continue
		}
		if best == nil || p.LogMarginalLikelihood() > best.LogMarginalLikelihood() {
			best, bestLS = p, ls
		}
	}
	if best == nil {
		return nil, lastErr
	}

	if s.polish {
		if p, ls, ok := s.polishLengthScale(X, y, bestLS); ok && p.LogMarginalLikelihood() > best.LogMarginalLikelihood() {
			best, bestLS = p, ls
		}
	}

	s.logger.Debug("Selected surrogate length scale",
		zap.Int("samples", history.Len()),
		zap.Float64("length_scale", bestLS),
		zap.Float64("log_marginal_likelihood", best.LogMarginalLikelihood()),
	)
	return best, nil
}

func (s *Surrogate) fitLengthScale(X *mat.Dense, y *mat.VecDense, lengthScale float64) (*Posterior, error) {
	k := s.kernel.Clone()
	if err := k.SetHyperparameters([]float64{lengthScale, 1.0}); err != nil {
		return nil, optimization.WrapError(err, optimization.KindSurrogateFitFailure, "set length scale").
			WithComponent("surrogate")
	}
	return NewGP(k, s.noiseVar, WithGPLogger(s.logger)).Fit(X, y)
}

// polishLengthScale refines the grid winner with Nelder-Mead on log length scale.
func (s *Surrogate) polishLengthScale(X *mat.Dense, y *mat.VecDense, start float64) (*Posterior, float64, bool) {
	lo, hi := math.Log(minLengthScale), math.Log(maxLengthScale)
	clamp := func(v float64) float64 { return math.Max(lo, math.Min(v, hi)) }

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			p, err := s.fitLengthScale(X, y, math.Exp(clamp(x[0])))
			if err != nil {
				return math.MaxFloat64
			}
			return -p.LogMarginalLikelihood()
		},
	}

	settings := &optimize.Settings{
		FuncEvaluations: 25,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-4,
			Relative:   1e-4,
			Iterations: 5,
		},
	}
	method := &optimize.NelderMead{SimplexSize: 0.5}

	result, err := optimize.Minimize(problem, []float64{math.Log(start)}, settings, method)
	if err != nil || result == nil || len(result.X) == 0 {
		s.logger.Debug("Length-scale polish failed", zap.Error(err))
		return nil, 0, false
	}

	ls := math.Exp(clamp(result.X[0]))
	p, err := s.fitLengthScale(X, y, ls)
	if err != nil {
		return nil, 0, false
	}
	return p, ls, true
}
