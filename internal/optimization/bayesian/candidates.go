package bayesian

import (
	"math/rand"

	"github.com/sourcegraph/conc/iter"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/hypertune/internal/optimization"
	"github.com/copyleftdev/hypertune/internal/optimization/acquisition"
)

// drawPool samples up to size random configurations that are neither in the
// history nor repeated within the pool. Order follows the rng, so a seeded rng
// yields the same pool.
func drawPool(space *optimization.Space, rng *rand.Rand, history *optimization.History, size int) []optimization.Configuration {
	pool := make([]optimization.Configuration, 0, size)
	inPool := make(map[string]struct{}, size)
	for i := 0; i < size; i++ {
		cfg := space.SampleRandom(rng)
		if history.Contains(cfg) {
			continue
		}
		key := cfg.Key()
		if _, dup := inPool[key]; dup {
			continue
		}
		inPool[key] = struct{}{}
		pool = append(pool, cfg)
	}
	return pool
}

// scorePool predicts every candidate and scores it by expected improvement.
// Work is spread over at most workers goroutines; each result lands at its
// pool index so the outcome does not depend on scheduling.
func scorePool(
	space *optimization.Space,
	posterior *Posterior,
	ei *acquisition.ExpectedImprovement,
	pool []optimization.Configuration,
	workers int,
) ([]acquisition.Candidate, error) {
	X := mat.NewDense(len(pool), space.Dimensions(), nil)
	for i, cfg := range pool {
		if err := space.EncodeInto(cfg, X.RawRowView(i)); err != nil {
			return nil, err
		}
	}

	scored := make([]acquisition.Candidate, len(pool))
	it := iter.Iterator[acquisition.Candidate]{MaxGoroutines: workers}
	it.ForEachIdx(scored, func(i int, c *acquisition.Candidate) {
		mean, variance := posterior.Predict(X.RawRowView(i))
		*c = acquisition.Candidate{
			Index:    i,
			EI:       ei.Score(mean, variance),
			Mean:     mean,
			Variance: variance,
		}
	})
	return scored, nil
}
