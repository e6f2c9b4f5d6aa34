package objective

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/copyleftdev/hypertune/internal/optimization"
)

// Spec is the declarative form of an objective.
//
//	objective:
//	  type: http
//	  url: http://trainer:8080/train
//	  loss_path: metrics.logloss
//	  timeout: 15m
//	  context:
//	    dataset: s3://bucket/churn.parquet
//
//	objective:
//	  type: builtin
//	  name: branin
type Spec struct {
	Type     string            `yaml:"type" json:"type"`
	Name     string            `yaml:"name,omitempty" json:"name,omitempty"`
	URL      string            `yaml:"url,omitempty" json:"url,omitempty"`
	Method   string            `yaml:"method,omitempty" json:"method,omitempty"`
	Headers  map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Context  map[string]any    `yaml:"context,omitempty" json:"context,omitempty"`
	LossPath string            `yaml:"loss_path,omitempty" json:"loss_path,omitempty"`
	Negate   bool              `yaml:"negate,omitempty" json:"negate,omitempty"`
	Timeout  time.Duration     `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// Build returns the Evaluator described by the spec. client is shared by
// HTTP evaluators and may be nil; defaultTimeout applies when the spec sets none.
func (s Spec) Build(client *http.Client, defaultTimeout time.Duration) (optimization.Evaluator, error) {
	switch strings.ToLower(s.Type) {
	case "builtin", "":
		if s.Name == "" {
			return nil, fmt.Errorf("builtin objective needs a name")
		}
		return Lookup(s.Name)
	case "http":
		if s.URL == "" {
			return nil, fmt.Errorf("http objective needs a url")
		}
		timeout := s.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		return &HTTPEvaluator{
			URL:        s.URL,
			Method:     s.Method,
			Headers:    s.Headers,
			Context:    s.Context,
			LossPath:   s.LossPath,
			Negate:     s.Negate,
			Timeout:    timeout,
			HTTPClient: client,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported objective type %q", s.Type)
	}
}
