package optimization

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cfgX(x float64) Configuration {
	return NewConfiguration(map[string]any{"x": x})
}

func TestHistoryAppendAndBest(t *testing.T) {
	h := NewHistory(4)
	_, ok := h.Best()
	assert.False(t, ok)
	assert.True(t, math.IsInf(h.BestLoss(), 1))

	h.Append(Observation{Config: cfgX(1), Loss: 3})
	h.Append(Observation{Config: cfgX(2), Loss: 1})
	h.Append(Observation{Config: cfgX(3), Loss: 1})
	stored := h.Append(Observation{Config: cfgX(4), Loss: math.Inf(1)})

	assert.Equal(t, 3, stored.Index)
	assert.Equal(t, 4, h.Len())
	for i := 0; i < h.Len(); i++ {
		assert.Equal(t, i, h.At(i).Index)
	}

	best, ok := h.Best()
	require.True(t, ok)
	assert.Equal(t, 1, best.Index, "ties keep the earliest observation")
	assert.Equal(t, 1.0, h.BestLoss())

	assert.True(t, h.Contains(cfgX(3)))
	assert.False(t, h.Contains(cfgX(5)))
}

func TestHistoryObservationsIsCopy(t *testing.T) {
	h := NewHistory(1)
	h.Append(Observation{Config: cfgX(1), Loss: 2})

	obs := h.Observations()
	obs[0].Loss = -100
	assert.Equal(t, 2.0, h.At(0).Loss)
}

func TestHistoryAllInfinite(t *testing.T) {
	h := NewHistory(3)
	for i := 0; i < 3; i++ {
		h.Append(Observation{Config: cfgX(float64(i)), Loss: math.Inf(1)})
	}
	best, ok := h.Best()
	require.True(t, ok)
	assert.Equal(t, 0, best.Index)
	assert.True(t, math.IsInf(h.BestLoss(), 1))
}

func TestObservationJSON(t *testing.T) {
	obs := Observation{
		Index:    2,
		Config:   NewConfiguration(map[string]any{"depth": 5, "booster": "dart"}),
		Loss:     math.Inf(1),
		Phase:    PhaseRefining,
		Source:   SourceFallback,
		Duration: 1500 * time.Microsecond,
		Failure:  "training diverged",
	}

	data, err := json.Marshal(obs)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"index": 2,
		"config": {"booster": "dart", "depth": 5},
		"loss": "+Inf",
		"phase": "refining",
		"source": "fallback",
		"duration_ms": 1.5,
		"failure": "training diverged"
	}`, string(data))

	var decoded Observation
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, math.IsInf(decoded.Loss, 1))
	assert.Equal(t, obs.Config.Key(), decoded.Config.Key())
	assert.Equal(t, obs.Duration, decoded.Duration)
	assert.True(t, decoded.Failed())
}

func TestObservationFinite(t *testing.T) {
	assert.True(t, Observation{Loss: 0.5}.Finite())
	assert.True(t, Observation{Loss: -3}.Finite())
	assert.False(t, Observation{Loss: math.Inf(1), Failure: "timeout"}.Finite())
	assert.False(t, Observation{Loss: math.Inf(1)}.Finite())
	assert.False(t, Observation{Loss: math.NaN()}.Finite())
	assert.False(t, Observation{Loss: 1, Failure: "partial"}.Finite())
}

func TestFormatLoss(t *testing.T) {
	assert.Equal(t, "+Inf", FormatLoss(math.Inf(1)))
	assert.Equal(t, "NaN", FormatLoss(math.NaN()))
	assert.Equal(t, "0.25", FormatLoss(0.25))
}
