package acquisition

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// ExpectedImprovement implements the Expected Improvement acquisition function
// for minimization.
type ExpectedImprovement struct {
	// Best observed value so far
	bestObserved float64
	// Exploration-exploitation trade-off parameter (xi)
	xi float64
}

// NewExpectedImprovement creates a new ExpectedImprovement acquisition function.
// Lower objective values are better.
func NewExpectedImprovement(bestObserved, xi float64) *ExpectedImprovement {
	return &ExpectedImprovement{
		bestObserved: bestObserved,
		xi:           xi,
	}
}

// Compute computes the Expected Improvement at a point with posterior
// mean mu and standard deviation sigma. The result is never negative.
//
// With sigma == 0 the improvement is deterministic: max(best - mu - xi, 0).
// Otherwise EI = (best - mu - xi) * Φ(z) + sigma * φ(z), z = (best - mu - xi) / sigma.
func (ei *ExpectedImprovement) Compute(mu, sigma float64) float64 {
	if math.IsNaN(mu) || math.IsNaN(sigma) || math.IsInf(ei.bestObserved, 1) {
		// Without a finite incumbent every point improves infinitely; the
		// surrogate is never consulted in that state.
		return 0
	}
	improvement := ei.bestObserved - mu - ei.xi

	if sigma <= 0 {
		return math.Max(improvement, 0)
	}

	stdNormal := distuv.UnitNormal
	z := improvement / sigma
	value := improvement*stdNormal.CDF(z) + sigma*stdNormal.Prob(z)

	// Far in the left tail the two terms cancel to a tiny negative number.
	if value < 0 || math.IsNaN(value) {
		return 0
	}
	return value
}

// Score is Compute taking the posterior variance instead of the standard deviation.
func (ei *ExpectedImprovement) Score(mu, variance float64) float64 {
	if variance < 0 {
		variance = 0
	}
	return ei.Compute(mu, math.Sqrt(variance))
}

// UpdateBest updates the best observed value
func (ei *ExpectedImprovement) UpdateBest(best float64) {
	ei.bestObserved = best
}

// SetXi sets the exploration-exploitation trade-off parameter
func (ei *ExpectedImprovement) SetXi(xi float64) {
	ei.xi = xi
}

// BestObserved returns the best observed value
func (ei *ExpectedImprovement) BestObserved() float64 {
	return ei.bestObserved
}

// Xi returns the exploration-exploitation trade-off parameter
func (ei *ExpectedImprovement) Xi() float64 {
	return ei.xi
}
