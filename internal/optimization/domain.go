package optimization

import (
	"fmt"
	"math"
	"math/rand"
)

// DomainKind names the shape of a hyper-parameter domain.
type DomainKind string

const (
	KindDiscreteSet     DomainKind = "choice"
	KindUniformRange    DomainKind = "uniform"
	KindLogUniformRange DomainKind = "loguniform"
)

// Domain describes the values a single hyper-parameter may take.
type Domain interface {
	// Kind returns the domain shape.
	Kind() DomainKind

	// Validate reports whether the domain is well formed.
	Validate() error

	// Sample draws one value uniformly from the domain.
	Sample(rng *rand.Rand) any

	// Contains reports whether v is a member of the domain.
	Contains(v any) bool

	// Width is the number of features the value occupies in an encoded vector.
	Width() int

	// EncodeInto writes the kernel features for v into dst[:Width()].
	EncodeInto(v any, dst []float64) error
}

// DiscreteSet is an ordered, non-empty set of allowed values.
//
// When every member is numeric the set is treated as ordinal for the kernel;
// otherwise members are categories that are either equal or not.
type DiscreteSet struct {
	Values []any
}

// UniformRange is the half-open interval [Low, High).
type UniformRange struct {
	Low  float64
	High float64
}

// LogUniformRange is [Low, High) sampled uniformly in log space.
type LogUniformRange struct {
	Low  float64
	High float64
}

// Choice is shorthand for a DiscreteSet.
func Choice(values ...any) DiscreteSet {
	return DiscreteSet{Values: values}
}

// Uniform is shorthand for a UniformRange.
func Uniform(low, high float64) UniformRange {
	return UniformRange{Low: low, High: high}
}

// LogUniform is shorthand for a LogUniformRange.
func LogUniform(low, high float64) LogUniformRange {
	return LogUniformRange{Low: low, High: high}
}

func (d DiscreteSet) Kind() DomainKind { return KindDiscreteSet }

func (d DiscreteSet) Validate() error {
	if len(d.Values) == 0 {
		return NewError(KindInvalidDomain, "discrete set must not be empty")
	}
	for i, v := range d.Values {
		if v == nil {
			return NewErrorf(KindInvalidDomain, "discrete set value %d is nil", i)
		}
		if f, ok := toFloat(v); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
			return NewErrorf(KindInvalidDomain, "discrete set value %d is not finite", i)
		}
	}
	return nil
}

func (d DiscreteSet) Sample(rng *rand.Rand) any {
	return d.Values[rng.Intn(len(d.Values))]
}

func (d DiscreteSet) Contains(v any) bool {
	return d.indexOf(v) >= 0
}

func (d DiscreteSet) Width() int {
	if d.numeric() {
		return 1
	}
	return len(d.Values)
}

func (d DiscreteSet) EncodeInto(v any, dst []float64) error {
	idx := d.indexOf(v)
	if idx < 0 {
		return NewErrorf(KindUnknownParameter, "value %v is not in the discrete set", v)
	}
	if d.numeric() {
		if len(d.Values) == 1 {
			dst[0] = 0
			return nil
		}
		dst[0] = float64(idx) / float64(len(d.Values)-1)
		return nil
	}
	// One-hot scaled so a mismatch adds exactly 1 to the squared distance.
	for i := range d.Values {
		dst[i] = 0
	}
	dst[idx] = math.Sqrt2 / 2
	return nil
}

func (d DiscreteSet) numeric() bool {
	for _, v := range d.Values {
		if _, ok := toFloat(v); !ok {
			return false
		}
	}
	return true
}

func (d DiscreteSet) indexOf(v any) int {
	for i, member := range d.Values {
		if valuesEqual(member, v) {
			return i
		}
	}
	return -1
}

func (r UniformRange) Kind() DomainKind { return KindUniformRange }

func (r UniformRange) Validate() error {
	return validateRange(r.Low, r.High)
}

func (r UniformRange) Sample(rng *rand.Rand) any {
	v := r.Low + rng.Float64()*(r.High-r.Low)
	if v >= r.High {
		v = math.Nextafter(r.High, r.Low)
	}
	return v
}

func (r UniformRange) Contains(v any) bool {
	f, ok := toFloat(v)
	return ok && f >= r.Low && f <= r.High
}

func (r UniformRange) Width() int { return 1 }

func (r UniformRange) EncodeInto(v any, dst []float64) error {
	f, ok := toFloat(v)
	if !ok {
		return NewErrorf(KindUnknownParameter, "value %v is not numeric", v)
	}
	dst[0] = (f - r.Low) / (r.High - r.Low)
	return nil
}

func (r LogUniformRange) Kind() DomainKind { return KindLogUniformRange }

func (r LogUniformRange) Validate() error {
	if err := validateRange(r.Low, r.High); err != nil {
		return err
	}
	if r.Low <= 0 {
		return NewErrorf(KindInvalidDomain, "log-uniform low must be positive, got %v", r.Low)
	}
	return nil
}

func (r LogUniformRange) Sample(rng *rand.Rand) any {
	lo, hi := math.Log(r.Low), math.Log(r.High)
	v := math.Exp(lo + rng.Float64()*(hi-lo))
	if v >= r.High {
		v = math.Nextafter(r.High, r.Low)
	}
	if v < r.Low {
		v = r.Low
	}
	return v
}

func (r LogUniformRange) Contains(v any) bool {
	f, ok := toFloat(v)
	return ok && f >= r.Low && f <= r.High
}

func (r LogUniformRange) Width() int { return 1 }

func (r LogUniformRange) EncodeInto(v any, dst []float64) error {
	f, ok := toFloat(v)
	if !ok || f <= 0 {
		return NewErrorf(KindUnknownParameter, "value %v is not a positive number", v)
	}
	lo, hi := math.Log(r.Low), math.Log(r.High)
	dst[0] = (math.Log(f) - lo) / (hi - lo)
	return nil
}

func validateRange(low, high float64) error {
	if math.IsNaN(low) || math.IsNaN(high) || math.IsInf(low, 0) || math.IsInf(high, 0) {
		return NewErrorf(KindInvalidDomain, "range bounds must be finite, got [%v, %v)", low, high)
	}
	if !(low < high) {
		return NewErrorf(KindInvalidDomain, "range low must be less than high, got [%v, %v)", low, high)
	}
	return nil
}

// toFloat converts the numeric kinds a Configuration can hold to float64.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// valuesEqual compares numbers by value regardless of their Go type so that
// a set declared with ints accepts the float64s JSON decoding produces.
func valuesEqual(a, b any) bool {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if okA && okB {
		return fa == fb
	}
	if okA != okB {
		return false
	}
	return fmt.Sprint(a) == fmt.Sprint(b) && fmt.Sprintf("%T", a) == fmt.Sprintf("%T", b)
}
