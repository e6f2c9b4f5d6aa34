package optimization

import (
	"strings"

	"gopkg.in/yaml.v3"
)

// ParameterSpec is the declarative form of a Domain.
//
//	learning_rate: {type: loguniform, low: 0.001, high: 0.3}
//	max_depth:     {type: choice, values: [3, 5, 7, 9]}
//	subsample:     {type: uniform, low: 0.5, high: 1.0}
type ParameterSpec struct {
	Type   string   `yaml:"type" json:"type"`
	Low    *float64 `yaml:"low,omitempty" json:"low,omitempty"`
	High   *float64 `yaml:"high,omitempty" json:"high,omitempty"`
	Values []any    `yaml:"values,omitempty" json:"values,omitempty"`
}

// SpaceSpec is the declarative form of a Space.
type SpaceSpec struct {
	Parameters map[string]ParameterSpec `yaml:"parameters" json:"parameters"`
}

// ParseSpaceSpec decodes a YAML (or JSON) search space description.
func ParseSpaceSpec(data []byte) (SpaceSpec, error) {
	var spec SpaceSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return SpaceSpec{}, WrapError(err, KindInvalidDomain, "decode search space").
			WithComponent("space").WithOperation("ParseSpaceSpec")
	}
	return spec, nil
}

// Domain converts the spec into a Domain. The result is not validated.
func (p ParameterSpec) Domain() (Domain, error) {
	switch strings.ToLower(p.Type) {
	case "choice", "discrete", "categorical":
		return DiscreteSet{Values: append([]any(nil), p.Values...)}, nil
	case "uniform":
		if p.Low == nil || p.High == nil {
			return nil, NewError(KindInvalidDomain, "uniform range needs low and high")
		}
		return UniformRange{Low: *p.Low, High: *p.High}, nil
	case "loguniform", "log-uniform", "log_uniform":
		if p.Low == nil || p.High == nil {
			return nil, NewError(KindInvalidDomain, "log-uniform range needs low and high")
		}
		return LogUniformRange{Low: *p.Low, High: *p.High}, nil
	default:
		return nil, NewErrorf(KindInvalidDomain, "unsupported domain type %q", p.Type)
	}
}

// Build validates the spec and returns the Space it describes.
func (s SpaceSpec) Build() (*Space, error) {
	domains := make(map[string]Domain, len(s.Parameters))
	for name, p := range s.Parameters {
		d, err := p.Domain()
		if err != nil {
			return nil, WrapError(err, KindInvalidDomain, "parameter "+name).
				WithComponent("space").WithOperation("Build")
		}
		domains[name] = d
	}
	return NewSpace(domains)
}
