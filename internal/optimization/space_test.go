package optimization

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSpaceValidation(t *testing.T) {
	tests := []struct {
		name    string
		domains map[string]Domain
		wantErr bool
	}{
		{name: "valid", domains: map[string]Domain{"x": Uniform(0, 1), "k": Choice(1, 2)}},
		{name: "empty space", domains: map[string]Domain{}, wantErr: true},
		{name: "empty name", domains: map[string]Domain{"": Uniform(0, 1)}, wantErr: true},
		{name: "nil domain", domains: map[string]Domain{"x": nil}, wantErr: true},
		{name: "empty discrete set", domains: map[string]Domain{"x": Choice()}, wantErr: true},
		{name: "nil member", domains: map[string]Domain{"x": Choice(1, nil)}, wantErr: true},
		{name: "inverted range", domains: map[string]Domain{"x": Uniform(1, 0)}, wantErr: true},
		{name: "degenerate range", domains: map[string]Domain{"x": Uniform(1, 1)}, wantErr: true},
		{name: "infinite range", domains: map[string]Domain{"x": Uniform(0, math.Inf(1))}, wantErr: true},
		{name: "non-positive log range", domains: map[string]Domain{"x": LogUniform(0, 1)}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			space, err := NewSpace(tt.domains)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidDomain)
				assert.Nil(t, space)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []string{"k", "x"}, space.Names())
		})
	}
}

func TestSampleRandomDiscreteMembership(t *testing.T) {
	sets := map[string]DiscreteSet{
		"depth":   Choice(3, 5, 7, 9),
		"booster": Choice("gbtree", "gblinear", "dart"),
		"rate":    Choice(0.01, 0.05, 0.1),
		"flag":    Choice(true, false),
	}
	domains := make(map[string]Domain, len(sets))
	for name, set := range sets {
		domains[name] = set
	}
	space, err := NewSpace(domains)
	require.NoError(t, err)

	for seed := int64(0); seed < 50; seed++ {
		rng := rand.New(rand.NewSource(seed))
		for i := 0; i < 20; i++ {
			cfg := space.SampleRandom(rng)
			require.Equal(t, len(sets), cfg.Len())
			for name, set := range sets {
				v, ok := cfg.Get(name)
				require.True(t, ok)
				assert.Contains(t, set.Values, v, "parameter %s", name)
			}
			assert.NoError(t, space.Validate(cfg))
		}
	}
}

func TestSampleRandomRanges(t *testing.T) {
	space, err := NewSpace(map[string]Domain{
		"x":  Uniform(-2, 3),
		"lr": LogUniform(1e-4, 1e-1),
	})
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	var logBelowMid int
	const n = 2000
	for i := 0; i < n; i++ {
		cfg := space.SampleRandom(rng)
		x, err := cfg.Float("x")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, x, -2.0)
		assert.Less(t, x, 3.0)

		lr, err := cfg.Float("lr")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, lr, 1e-4)
		assert.Less(t, lr, 1e-1)
		if lr < math.Sqrt(1e-4*1e-1) {
			logBelowMid++
		}
	}
	// Half the mass lies below the geometric midpoint.
	assert.InDelta(t, 0.5, float64(logBelowMid)/n, 0.05)
}

func TestSampleRandomDeterministic(t *testing.T) {
	space, err := NewSpace(map[string]Domain{
		"a": Uniform(0, 1),
		"b": Choice("x", "y", "z"),
		"c": LogUniform(1, 100),
	})
	require.NoError(t, err)

	r1 := rand.New(rand.NewSource(7))
	r2 := rand.New(rand.NewSource(7))
	for i := 0; i < 100; i++ {
		assert.Equal(t, space.SampleRandom(r1).Key(), space.SampleRandom(r2).Key())
	}
}

func TestDomainOf(t *testing.T) {
	space, err := NewSpace(map[string]Domain{"x": Uniform(0, 1)})
	require.NoError(t, err)

	d, err := space.DomainOf("x")
	require.NoError(t, err)
	assert.Equal(t, KindUniformRange, d.Kind())

	_, err = space.DomainOf("y")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownParameter)
}

func TestSpaceValidate(t *testing.T) {
	space, err := NewSpace(map[string]Domain{
		"x": Uniform(0, 1),
		"k": Choice("a", "b"),
	})
	require.NoError(t, err)

	tests := []struct {
		name    string
		values  map[string]any
		wantErr bool
	}{
		{name: "valid", values: map[string]any{"x": 0.5, "k": "a"}},
		{name: "upper bound accepted", values: map[string]any{"x": 1.0, "k": "b"}},
		{name: "undeclared parameter", values: map[string]any{"x": 0.5, "k": "a", "z": 1}, wantErr: true},
		{name: "missing parameter", values: map[string]any{"x": 0.5}, wantErr: true},
		{name: "out of range", values: map[string]any{"x": 1.5, "k": "a"}, wantErr: true},
		{name: "not a member", values: map[string]any{"x": 0.5, "k": "c"}, wantErr: true},
		{name: "wrong type", values: map[string]any{"x": "half", "k": "a"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := space.Validate(NewConfiguration(tt.values))
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrUnknownParameter)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestSpaceEncode(t *testing.T) {
	space, err := NewSpace(map[string]Domain{
		"a_rate":  LogUniform(1, 100),
		"b_kind":  Choice("x", "y", "z"),
		"c_depth": Choice(2, 4, 6),
		"d_frac":  Uniform(0, 2),
	})
	require.NoError(t, err)
	assert.Equal(t, 1+3+1+1, space.Dimensions())

	x, err := space.Encode(NewConfiguration(map[string]any{
		"a_rate":  10.0,
		"b_kind":  "y",
		"c_depth": 6,
		"d_frac":  0.5,
	}))
	require.NoError(t, err)

	h := math.Sqrt2 / 2
	want := []float64{0.5, 0, h, 0, 1, 0.25}
	require.Len(t, x, len(want))
	for i := range want {
		assert.InDelta(t, want[i], x[i], 1e-12, "feature %d", i)
	}

	// Differing categories contribute exactly 1 to the squared distance.
	y, err := space.Encode(NewConfiguration(map[string]any{
		"a_rate":  10.0,
		"b_kind":  "z",
		"c_depth": 6,
		"d_frac":  0.5,
	}))
	require.NoError(t, err)
	var d2 float64
	for i := range x {
		d2 += (x[i] - y[i]) * (x[i] - y[i])
	}
	assert.InDelta(t, 1.0, d2, 1e-12)

	_, err = space.Encode(NewConfiguration(map[string]any{"a_rate": 10.0}))
	assert.ErrorIs(t, err, ErrUnknownParameter)
}

func TestSpaceCardinality(t *testing.T) {
	discrete, err := NewSpace(map[string]Domain{
		"a": Choice(1, 2, 3),
		"b": Choice("x", "y"),
	})
	require.NoError(t, err)
	n, ok := discrete.Cardinality()
	assert.True(t, ok)
	assert.Equal(t, 6, n)

	mixed, err := NewSpace(map[string]Domain{
		"a": Choice(1, 2, 3),
		"x": Uniform(0, 1),
	})
	require.NoError(t, err)
	_, ok = mixed.Cardinality()
	assert.False(t, ok)
}

func TestDiscreteSetNumericEquality(t *testing.T) {
	set := Choice(3, 5, 7)
	// JSON decoding produces float64 for integers.
	assert.True(t, set.Contains(5.0))
	assert.True(t, set.Contains(int64(7)))
	assert.False(t, set.Contains(4.0))
	assert.False(t, set.Contains("5"))
}
