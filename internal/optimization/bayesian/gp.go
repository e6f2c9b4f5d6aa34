package bayesian

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/hypertune/internal/optimization"
	"github.com/copyleftdev/hypertune/internal/optimization/kernels"
)

const (
	// DefaultNoiseVar is the observation noise assumed for standardized targets.
	DefaultNoiseVar = 1e-6
	// DefaultJitter is added to the kernel diagonal on the first factorization attempt.
	DefaultJitter = 1e-8
	// retryJitterFactor scales the jitter for the single retry after a failed factorization.
	retryJitterFactor = 1e4
)

// GP implements a Gaussian Process model for Bayesian Optimization.
// A GP holds only settings; Fit produces an immutable Posterior.
type GP struct {
	// Kernel function
	kernel kernels.Kernel

	// Noise variance
	noiseVar float64

	// Diagonal jitter for numerical stability
	jitter float64

	// Logger for structured logging
	logger *zap.Logger
}

// GPOption configures a GP.
type GPOption func(*GP)

// WithGPLogger sets the logger used by the GP.
func WithGPLogger(logger *zap.Logger) GPOption {
	return func(gp *GP) {
		if logger != nil {
			gp.logger = logger
		}
	}
}

// WithJitter overrides the initial diagonal jitter.
func WithJitter(jitter float64) GPOption {
	return func(gp *GP) {
		if jitter > 0 {
			gp.jitter = jitter
		}
	}
}

// NewGP creates a new Gaussian Process model
func NewGP(kernel kernels.Kernel, noiseVar float64, opts ...GPOption) *GP {
	gp := &GP{
		kernel:   kernel,
		noiseVar: noiseVar,
		jitter:   DefaultJitter,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(gp)
	}
	gp.logger = gp.logger.Named("gaussian_process")
	return gp
}

// Posterior is a GP conditioned on training data. It is immutable and safe
// for concurrent use by multiple goroutines.
type Posterior struct {
	kernel   kernels.Kernel
	noiseVar float64
	jitter   float64

	// Training inputs (n_samples, n_features)
	X *mat.Dense

	// Cholesky factor of K + (noise + jitter) I
	chol *mat.Cholesky

	// alpha = K^-1 (y - yMean) / yStd
	alpha *mat.VecDense

	yMean float64
	yStd  float64

	logML float64

	scratch *VecPool
}

// Fit conditions the GP on inputs X and targets y. Targets are standardized
// before fitting and predictions are reported in the original units.
//
// If the kernel matrix cannot be factorized the fit is retried once with
// larger jitter; a second failure yields ErrSurrogateFitFailure.
func (gp *GP) Fit(X *mat.Dense, y *mat.VecDense) (*Posterior, error) {
	const op = "GP.Fit"

	if X == nil || y == nil {
		return nil, fitError(op, errors.New("input matrices must not be nil"))
	}

	nSamples, nFeatures := X.Dims()
	if nSamples == 0 || nFeatures == 0 {
		return nil, fitError(op, errors.New("input matrix X must not be empty"))
	}
	if nSamples != y.Len() {
		return nil, fitError(op, fmt.Errorf("dimension mismatch: X has %d samples but y has length %d",
			nSamples, y.Len()))
	}

	yMean, yStd := standardization(y)
	if math.IsNaN(yMean) || math.IsInf(yMean, 0) || math.IsNaN(yStd) || math.IsInf(yStd, 0) {
		return nil, fitError(op, errors.New("targets must be finite"))
	}
	yStdized := mat.NewVecDense(nSamples, nil)
	for i := 0; i < nSamples; i++ {
		yStdized.SetVec(i, (y.AtVec(i)-yMean)/yStd)
	}

	gp.logger.Debug("Fitting GP model",
		zap.Int("samples", nSamples),
		zap.Int("features", nFeatures),
		zap.Float64("noise_var", gp.noiseVar),
		zap.Float64s("hyperparameters", gp.kernel.Hyperparameters()),
	)

	K := gp.computeKernelMatrix(X, nSamples)

	var (
		chol    mat.Cholesky
		alpha   = mat.NewVecDense(nSamples, nil)
		jitter  = gp.jitter
		lastErr error
	)
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			jitter *= retryJitterFactor
			gp.logger.Debug("Retrying GP fit with larger jitter",
				zap.Float64("jitter", jitter),
				zap.Error(lastErr))
		}
		if !factorize(&chol, K, gp.noiseVar+jitter) {
			lastErr = errors.New("Cholesky decomposition failed: matrix is not positive definite")
			continue
		}
		// SolveVecTo reports an ill-conditioned factor as an error.
		if err := chol.SolveVecTo(alpha, yStdized); err != nil {
			lastErr = fmt.Errorf("failed to solve linear system: %w", err)
			continue
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		return nil, fitError(op, lastErr)
	}

	// log p(y|X) = -1/2 y'alpha - 1/2 log|K| - n/2 log(2 pi), standardized units
	logML := -0.5*mat.Dot(yStdized, alpha) - 0.5*chol.LogDet() - 0.5*float64(nSamples)*math.Log(2*math.Pi)

	p := &Posterior{
		kernel:   gp.kernel.Clone(),
		noiseVar: gp.noiseVar,
		jitter:   jitter,
		X:        mat.DenseCopyOf(X),
		chol:     &chol,
		alpha:    alpha,
		yMean:    yMean,
		yStd:     yStd,
		logML:    logML,
		scratch:  NewVecPool(nSamples),
	}

	gp.logger.Debug("Successfully fitted GP model",
		zap.Int("samples", nSamples),
		zap.Float64("log_marginal_likelihood", logML),
		zap.Float64("jitter", jitter),
	)
	return p, nil
}

// computeKernelMatrix computes the noise-free kernel matrix of the training inputs.
func (gp *GP) computeKernelMatrix(X *mat.Dense, nSamples int) *mat.SymDense {
	K := mat.NewSymDense(nSamples, nil)
	for i := 0; i < nSamples; i++ {
		x1 := X.RawRowView(i)
		K.SetSym(i, i, gp.kernel.Eval(x1, x1))
		for j := i + 1; j < nSamples; j++ {
			K.SetSym(i, j, gp.kernel.Eval(x1, X.RawRowView(j)))
		}
	}
	return K
}

// factorize computes the Cholesky factor of K + diag*I without modifying K.
func factorize(chol *mat.Cholesky, K *mat.SymDense, diag float64) bool {
	n := K.SymmetricDim()
	Kd := mat.NewSymDense(n, nil)
	Kd.CopySym(K)
	for i := 0; i < n; i++ {
		Kd.SetSym(i, i, Kd.At(i, i)+diag)
	}
	return chol.Factorize(Kd)
}

// standardization returns the mean and standard deviation used to scale y.
// A constant target gets a unit scale.
func standardization(y *mat.VecDense) (mean, std float64) {
	n := y.Len()
	for i := 0; i < n; i++ {
		mean += y.AtVec(i)
	}
	mean /= float64(n)
	for i := 0; i < n; i++ {
		d := y.AtVec(i) - mean
		std += d * d
	}
	std = math.Sqrt(std / float64(n))
	if std < 1e-12 {
		std = 1
	}
	return mean, std
}

func fitError(op string, err error) error {
	return optimization.WrapError(err, optimization.KindSurrogateFitFailure, "fit gaussian process").
		WithComponent("gaussian_process").WithOperation(op)
}

// Predict returns the posterior mean and variance of the latent function at x.
// Repeated calls with the same x return identical results.
func (p *Posterior) Predict(x []float64) (mean, variance float64) {
	n := p.alpha.Len()

	kstar := p.scratch.Get()
	v := p.scratch.Get()
	defer p.scratch.Put(kstar)
	defer p.scratch.Put(v)

	for j := 0; j < n; j++ {
		kstar.SetVec(j, p.kernel.Eval(x, p.X.RawRowView(j)))
	}

	mu := mat.Dot(kstar, p.alpha)

	// var = k(x,x) - k*' K^-1 k*
	prior := p.kernel.Eval(x, x)
	variance = prior
	if err := p.chol.SolveVecTo(v, kstar); err == nil {
		variance = prior - mat.Dot(kstar, v)
	}
	if variance < 0 || math.IsNaN(variance) {
		variance = 0
	}

	return p.yMean + p.yStd*mu, variance * p.yStd * p.yStd
}

// PredictBatch predicts every row of X, writing means and variances into
// vectors of length rows(X).
func (p *Posterior) PredictBatch(X *mat.Dense) (*mat.VecDense, *mat.VecDense) {
	nTest, _ := X.Dims()
	means := mat.NewVecDense(nTest, nil)
	variances := mat.NewVecDense(nTest, nil)
	for i := 0; i < nTest; i++ {
		m, v := p.Predict(X.RawRowView(i))
		means.SetVec(i, m)
		variances.SetVec(i, v)
	}
	return means, variances
}

// LogMarginalLikelihood is the log evidence of the standardized targets.
func (p *Posterior) LogMarginalLikelihood() float64 { return p.logML }

// Hyperparameters returns the kernel hyperparameters the posterior was fitted with.
func (p *Posterior) Hyperparameters() []float64 { return p.kernel.Hyperparameters() }

// Jitter is the diagonal jitter that made the factorization succeed.
func (p *Posterior) Jitter() float64 { return p.jitter }

// Len is the number of training points.
func (p *Posterior) Len() int { return p.alpha.Len() }
