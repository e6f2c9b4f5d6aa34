package optimization

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Phase is the loop phase in which an observation was produced.
type Phase string

const (
	PhaseExploring Phase = "exploring"
	PhaseRefining  Phase = "refining"
)

// Source records how the evaluated configuration was chosen.
type Source string

const (
	// SourceRandom is a draw from the initial exploration phase.
	SourceRandom Source = "random"
	// SourceSurrogate is the expected-improvement arg-max of a candidate pool.
	SourceSurrogate Source = "surrogate"
	// SourceFallback is a random draw made because the surrogate was unusable.
	SourceFallback Source = "fallback"
)

// Observation is one evaluated configuration and its loss.
type Observation struct {
	// Index is the evaluation order, starting at 0.
	Index int
	// Config is the evaluated configuration.
	Config Configuration
	// Loss is the objective value, +Inf when evaluation failed.
	Loss float64
	// Phase is the loop phase that produced the observation.
	Phase Phase
	// Source is how Config was selected.
	Source Source
	// Duration is the wall time spent in the objective.
	Duration time.Duration
	// Failure holds the evaluation error message, if any.
	Failure string
}

// Failed reports whether the evaluation failed.
func (o Observation) Failed() bool { return o.Failure != "" }

// Finite reports whether the evaluation succeeded with a finite loss. Only
// such observations can be reported as a best result.
func (o Observation) Finite() bool {
	return !o.Failed() && !math.IsInf(o.Loss, 0) && !math.IsNaN(o.Loss)
}

type observationJSON struct {
	Index      int           `json:"index"`
	Config     Configuration `json:"config"`
	Loss       jsonFloat     `json:"loss"`
	Phase      Phase         `json:"phase"`
	Source     Source        `json:"source"`
	DurationMS float64       `json:"duration_ms"`
	Failure    string        `json:"failure,omitempty"`
}

func (o Observation) MarshalJSON() ([]byte, error) {
	return json.Marshal(observationJSON{
		Index:      o.Index,
		Config:     o.Config,
		Loss:       jsonFloat(o.Loss),
		Phase:      o.Phase,
		Source:     o.Source,
		DurationMS: float64(o.Duration.Microseconds()) / 1000.0,
		Failure:    o.Failure,
	})
}

func (o *Observation) UnmarshalJSON(data []byte) error {
	var raw observationJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*o = Observation{
		Index:    raw.Index,
		Config:   raw.Config,
		Loss:     float64(raw.Loss),
		Phase:    raw.Phase,
		Source:   raw.Source,
		Duration: time.Duration(raw.DurationMS * float64(time.Millisecond)),
		Failure:  raw.Failure,
	}
	return nil
}

// jsonFloat encodes infinities and NaN as strings, which encoding/json rejects
// as numbers.
type jsonFloat float64

func (f jsonFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsInf(v, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Inf"`), nil
	case math.IsNaN(v):
		return []byte(`"NaN"`), nil
	}
	return []byte(strconv.FormatFloat(v, 'g', -1, 64)), nil
}

func (f *jsonFloat) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid loss %q: %w", s, err)
		}
		*f = jsonFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = jsonFloat(v)
	return nil
}

// FormatLoss renders a loss for logs and API responses.
func FormatLoss(loss float64) string {
	b, _ := jsonFloat(loss).MarshalJSON()
	if len(b) > 0 && b[0] == '"' {
		return string(b[1 : len(b)-1])
	}
	return string(b)
}

// History is the append-only log of observations for one run.
// It is owned by a single goroutine and does no locking of its own.
type History struct {
	observations []Observation
	seen         map[string]struct{}
	best         int
}

// NewHistory returns an empty history with room for capacity observations.
func NewHistory(capacity int) *History {
	return &History{
		observations: make([]Observation, 0, capacity),
		seen:         make(map[string]struct{}, capacity),
		best:         -1,
	}
}

// Append records obs, assigning it the next index, and returns the stored copy.
func (h *History) Append(obs Observation) Observation {
	obs.Index = len(h.observations)
	h.observations = append(h.observations, obs)
	h.seen[obs.Config.Key()] = struct{}{}
	if h.best < 0 || obs.Loss < h.observations[h.best].Loss {
		h.best = obs.Index
	}
	return obs
}

// Len returns the number of observations.
func (h *History) Len() int { return len(h.observations) }

// At returns the i-th observation.
func (h *History) At(i int) Observation { return h.observations[i] }

// Contains reports whether cfg has already been evaluated.
func (h *History) Contains(cfg Configuration) bool {
	_, ok := h.seen[cfg.Key()]
	return ok
}

// Observations returns a copy of all observations in evaluation order.
func (h *History) Observations() []Observation {
	return append([]Observation(nil), h.observations...)
}

// Best returns the observation with the lowest loss; ties go to the earliest.
func (h *History) Best() (Observation, bool) {
	if h.best < 0 {
		return Observation{}, false
	}
	return h.observations[h.best], true
}

// BestLoss is the incumbent used by expected improvement. It is +Inf for an
// empty history.
func (h *History) BestLoss() float64 {
	if obs, ok := h.Best(); ok {
		return obs.Loss
	}
	return math.Inf(1)
}
