// Package study decodes study descriptions and turns them into optimizer configurations.
//
// A study file looks like:
//
//	name: xgboost-churn
//	parameters:
//	  learning_rate: {type: loguniform, low: 0.001, high: 0.3}
//	  max_depth:     {type: choice, values: [3, 5, 7, 9]}
//	  subsample:     {type: uniform, low: 0.5, high: 1.0}
//	objective:
//	  type: http
//	  url: http://trainer:8080/train
//	  loss_path: metrics.logloss
//	initial_points: 5
//	max_iterations: 30
//	seed: 42
//
// max_iterations: 0 evaluates the initial points only.
//	time_budget: 2h
package study

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/copyleftdev/hypertune/internal/objective"
	"github.com/copyleftdev/hypertune/internal/optimization"
	"github.com/copyleftdev/hypertune/internal/optimization/kernels"
)

// Spec is a complete study description.
type Spec struct {
	Name          string                                `yaml:"name,omitempty" json:"name,omitempty"`
	Parameters    map[string]optimization.ParameterSpec `yaml:"parameters" json:"parameters"`
	Objective     objective.Spec                        `yaml:"objective" json:"objective"`
	InitialPoints int                                   `yaml:"initial_points,omitempty" json:"initial_points,omitempty"`
	MaxIterations *int                                  `yaml:"max_iterations,omitempty" json:"max_iterations,omitempty"`
	CandidatePool int                                   `yaml:"candidate_pool,omitempty" json:"candidate_pool,omitempty"`
	Workers       int                                   `yaml:"workers,omitempty" json:"workers,omitempty"`
	Seed          int64                                 `yaml:"seed,omitempty" json:"seed,omitempty"`
	TimeBudget    time.Duration                         `yaml:"time_budget,omitempty" json:"time_budget,omitempty"`
	Xi            *float64                              `yaml:"xi,omitempty" json:"xi,omitempty"`
	Kernel        string                                `yaml:"kernel,omitempty" json:"kernel,omitempty"`
}

// Defaults fill the loop settings a Spec leaves unset.
type Defaults struct {
	InitialPoints int
	MaxIterations int
	CandidatePool int
	Workers       int
	TimeBudget    time.Duration
	Xi            float64
	HTTPTimeout   time.Duration
}

// Parse decodes a YAML or JSON study description.
func Parse(data []byte) (Spec, error) {
	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return Spec{}, fmt.Errorf("decode study: %w", err)
	}
	return spec, nil
}

// WithDefaults returns a copy of s with unset loop settings taken from d.
func (s Spec) WithDefaults(d Defaults) Spec {
	if s.InitialPoints <= 0 {
		s.InitialPoints = d.InitialPoints
	}
	if s.MaxIterations == nil && d.MaxIterations > 0 {
		n := d.MaxIterations
		s.MaxIterations = &n
	}
	if s.CandidatePool <= 0 {
		s.CandidatePool = d.CandidatePool
	}
	if s.Workers <= 0 {
		s.Workers = d.Workers
	}
	if s.TimeBudget == 0 {
		s.TimeBudget = d.TimeBudget
	}
	if s.Xi == nil {
		xi := d.Xi
		s.Xi = &xi
	}
	return s
}

// Study is a Spec resolved into the pieces the optimizer needs.
type Study struct {
	Name   string
	Config optimization.Config
	Kernel kernels.Kernel
}

// Build resolves the search space, objective and kernel. client is shared by
// HTTP objectives and may be nil.
func (s Spec) Build(d Defaults, client *http.Client) (*Study, error) {
	s = s.WithDefaults(d)

	if len(s.Parameters) == 0 {
		return nil, optimization.NewError(optimization.KindInvalidDomain, "study has no parameters").
			WithComponent("study").WithOperation("Build")
	}
	if s.TimeBudget < 0 {
		return nil, fmt.Errorf("time_budget must not be negative")
	}
	var maxIterations int
	if s.MaxIterations != nil {
		switch n := *s.MaxIterations; {
		case n < 0:
			return nil, fmt.Errorf("max_iterations must not be negative")
		case n == 0:
			maxIterations = optimization.NoRefinement
		default:
			maxIterations = n
		}
	}

	space, err := optimization.SpaceSpec{Parameters: s.Parameters}.Build()
	if err != nil {
		return nil, err
	}

	eval, err := s.Objective.Build(client, d.HTTPTimeout)
	if err != nil {
		return nil, fmt.Errorf("objective: %w", err)
	}

	kernel, err := kernels.New(s.Kernel, 1.0, 1.0)
	if err != nil {
		return nil, fmt.Errorf("kernel: %w", err)
	}

	return &Study{
		Name: s.Name,
		Config: optimization.Config{
			Space:             space,
			Objective:         eval,
			NInitialPoints:    s.InitialPoints,
			MaxIterations:     maxIterations,
			CandidatePoolSize: s.CandidatePool,
			Workers:           s.Workers,
			RandomSeed:        s.Seed,
			TimeBudget:        s.TimeBudget,
			Xi:                *s.Xi,
		},
		Kernel: kernel,
	}, nil
}

// Fields summarizes the study for logging.
func (s *Study) Fields() []zap.Field {
	return []zap.Field{
		zap.String("study", s.Name),
		zap.Strings("parameters", s.Config.Space.Names()),
		zap.Int("initial_points", s.Config.NInitialPoints),
		zap.Int("max_iterations", s.Config.RefiningIterations()),
		zap.Int64("seed", s.Config.RandomSeed),
		zap.Duration("time_budget", s.Config.TimeBudget),
	}
}
