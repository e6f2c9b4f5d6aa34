package optimization

import (
	"math"
	"math/rand"
	"sort"
)

// Space is a validated, read-only search space.
type Space struct {
	names   []string
	domains map[string]Domain
	offsets []int
	width   int
}

// NewSpace validates the domains and builds a Space.
// It fails with ErrInvalidDomain if the space is empty or any domain is malformed.
func NewSpace(domains map[string]Domain) (*Space, error) {
	const op = "NewSpace"

	if len(domains) == 0 {
		return nil, NewError(KindInvalidDomain, "search space declares no parameters").
			WithComponent("space").WithOperation(op)
	}

	s := &Space{
		names:   make([]string, 0, len(domains)),
		domains: make(map[string]Domain, len(domains)),
	}
	for name, d := range domains {
		if name == "" {
			return nil, NewError(KindInvalidDomain, "parameter name must not be empty").
				WithComponent("space").WithOperation(op)
		}
		if d == nil {
			return nil, NewErrorf(KindInvalidDomain, "parameter %q has no domain", name).
				WithComponent("space").WithOperation(op)
		}
		if err := d.Validate(); err != nil {
			return nil, WrapError(err, KindInvalidDomain, "parameter "+name).
				WithComponent("space").WithOperation(op)
		}
		s.names = append(s.names, name)
		s.domains[name] = d
	}
	sort.Strings(s.names)

	s.offsets = make([]int, len(s.names))
	for i, name := range s.names {
		s.offsets[i] = s.width
		s.width += s.domains[name].Width()
	}
	return s, nil
}

// Names returns the parameter names in sorted order.
func (s *Space) Names() []string {
	return append([]string(nil), s.names...)
}

// DomainOf returns the domain declared for name.
func (s *Space) DomainOf(name string) (Domain, error) {
	d, ok := s.domains[name]
	if !ok {
		return nil, NewErrorf(KindUnknownParameter, "parameter %q is not declared", name).
			WithComponent("space").WithOperation("DomainOf")
	}
	return d, nil
}

// SampleRandom draws every parameter independently and uniformly from its
// domain. Parameters are visited in sorted order, so a seeded rng yields the
// same configuration every time.
func (s *Space) SampleRandom(rng *rand.Rand) Configuration {
	values := make(map[string]any, len(s.names))
	for _, name := range s.names {
		values[name] = s.domains[name].Sample(rng)
	}
	return NewConfiguration(values)
}

// Validate checks that cfg assigns an in-domain value to every declared
// parameter and nothing else.
func (s *Space) Validate(cfg Configuration) error {
	const op = "Validate"

	for _, name := range cfg.Names() {
		if _, ok := s.domains[name]; !ok {
			return NewErrorf(KindUnknownParameter, "parameter %q is not declared", name).
				WithComponent("space").WithOperation(op)
		}
	}
	for _, name := range s.names {
		v, ok := cfg.Get(name)
		if !ok {
			return NewErrorf(KindUnknownParameter, "parameter %q is missing", name).
				WithComponent("space").WithOperation(op)
		}
		if !s.domains[name].Contains(v) {
			return NewErrorf(KindUnknownParameter, "value %v is outside the domain of %q", v, name).
				WithComponent("space").WithOperation(op)
		}
	}
	return nil
}

// Dimensions is the length of the vectors produced by Encode.
func (s *Space) Dimensions() int { return s.width }

// Encode maps cfg to the feature vector the surrogate kernel works on.
func (s *Space) Encode(cfg Configuration) ([]float64, error) {
	x := make([]float64, s.width)
	if err := s.EncodeInto(cfg, x); err != nil {
		return nil, err
	}
	return x, nil
}

// EncodeInto is Encode writing into dst, which must have length Dimensions().
func (s *Space) EncodeInto(cfg Configuration, dst []float64) error {
	for i, name := range s.names {
		v, ok := cfg.Get(name)
		if !ok {
			return NewErrorf(KindUnknownParameter, "parameter %q is missing", name).
				WithComponent("space").WithOperation("Encode")
		}
		d := s.domains[name]
		off := s.offsets[i]
		if err := d.EncodeInto(v, dst[off:off+d.Width()]); err != nil {
			return WrapError(err, KindUnknownParameter, "parameter "+name).
				WithComponent("space").WithOperation("Encode")
		}
	}
	return nil
}

// Cardinality returns the number of distinct configurations in the space.
// It reports false when any domain is continuous or the count overflows.
func (s *Space) Cardinality() (int, bool) {
	total := 1
	for _, name := range s.names {
		set, ok := s.domains[name].(DiscreteSet)
		if !ok {
			return 0, false
		}
		n := len(set.Values)
		if total > math.MaxInt/n {
			return 0, false
		}
		total *= n
	}
	return total, true
}
