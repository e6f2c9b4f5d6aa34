package acquisition

// Candidate is a scored point from a candidate pool.
type Candidate struct {
	// Index is the position of the point in its pool.
	Index int
	// EI is the expected improvement at the point.
	EI float64
	// Mean is the posterior mean at the point.
	Mean float64
	// Variance is the posterior variance at the point.
	Variance float64
}

// Better reports whether a should be preferred over b.
//
// Higher EI wins. Ties go to the higher variance, then the lower mean, then
// the lower pool index, which makes selection deterministic for a seeded pool.
func Better(a, b Candidate) bool {
	if a.EI != b.EI {
		return a.EI > b.EI
	}
	if a.Variance != b.Variance {
		return a.Variance > b.Variance
	}
	if a.Mean != b.Mean {
		return a.Mean < b.Mean
	}
	return a.Index < b.Index
}

// SelectBest returns the position in cs of the preferred candidate.
// It returns false for an empty slice.
func SelectBest(cs []Candidate) (int, bool) {
	if len(cs) == 0 {
		return -1, false
	}
	best := 0
	for i := 1; i < len(cs); i++ {
		if Better(cs[i], cs[best]) {
			best = i
		}
	}
	return best, true
}
