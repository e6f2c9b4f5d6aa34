package objective

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/copyleftdev/hypertune/internal/optimization"
)

// Quadratic returns sum((v - target)^2) over every numeric parameter.
// With a single parameter x on [0, 10] and target 7 it is the classic
// one-dimensional test problem with its minimum at x = 7.
func Quadratic(target float64) optimization.Evaluator {
	return optimization.ObjectiveFunction(func(_ context.Context, cfg optimization.Configuration) (float64, error) {
		var sum float64
		for _, name := range cfg.Names() {
			v, err := cfg.Float(name)
			if err != nil {
				return 0, err
			}
			sum += (v - target) * (v - target)
		}
		return sum, nil
	})
}

// Sphere is Quadratic(0).
func Sphere() optimization.Evaluator {
	return Quadratic(0)
}

// Branin is the Branin-Hoo function of parameters x1 and x2, usually searched
// on x1 in [-5, 10], x2 in [0, 15]. Its global minimum is about 0.397887.
func Branin() optimization.Evaluator {
	const (
		a = 1.0
		b = 5.1 / (4 * math.Pi * math.Pi)
		c = 5 / math.Pi
		r = 6.0
		s = 10.0
		t = 1 / (8 * math.Pi)
	)
	return optimization.ObjectiveFunction(func(_ context.Context, cfg optimization.Configuration) (float64, error) {
		x1, err := cfg.Float("x1")
		if err != nil {
			return 0, err
		}
		x2, err := cfg.Float("x2")
		if err != nil {
			return 0, err
		}
		u := x2 - b*x1*x1 + c*x1 - r
		return a*u*u + s*(1-t)*math.Cos(x1) + s, nil
	})
}

var builtins = map[string]func() optimization.Evaluator{
	"quadratic": func() optimization.Evaluator { return Quadratic(7) },
	"sphere":    Sphere,
	"branin":    Branin,
}

// Lookup returns the built-in objective with the given name.
func Lookup(name string) (optimization.Evaluator, error) {
	f, ok := builtins[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown builtin objective %q (available: %s)", name, strings.Join(Builtins(), ", "))
	}
	return f(), nil
}

// Builtins lists the built-in objective names.
func Builtins() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
