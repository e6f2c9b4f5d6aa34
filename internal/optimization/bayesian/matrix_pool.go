package bayesian

import (
	"sync"

	"gonum.org/v1/gonum/mat"
)

// VecPool provides reusable vectors of a fixed length to reduce allocations
// while scoring candidate pools. It is safe for concurrent use.
type VecPool struct {
	n    int
	pool sync.Pool
}

// NewVecPool creates a pool of length-n vectors.
func NewVecPool(n int) *VecPool {
	p := &VecPool{n: n}
	p.pool.New = func() any {
		return mat.NewVecDense(n, nil)
	}
	return p
}

// Get returns a vector from the pool or creates a new one.
// Its contents are unspecified.
func (p *VecPool) Get() *mat.VecDense {
	return p.pool.Get().(*mat.VecDense)
}

// Put returns a vector to the pool.
func (p *VecPool) Put(v *mat.VecDense) {
	if v == nil || v.Len() != p.n {
		return
	}
	p.pool.Put(v)
}
