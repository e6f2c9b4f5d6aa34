// Package objective provides Evaluator implementations: a client for an
// external model-training service and a few analytic benchmark functions.
package objective

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/copyleftdev/hypertune/internal/optimization"
)

// DefaultHTTPTimeout bounds a single training request when no timeout is configured.
const DefaultHTTPTimeout = 10 * time.Minute

// DefaultMaxResponseBytes caps the response body read from the training service.
const DefaultMaxResponseBytes = 4 << 20

// HTTPEvaluator scores configurations by calling a training service.
//
// Each evaluation POSTs
//
//	{"config": {...hyper-parameters...}, "context": {...Context...}}
//
// and reads the loss from the JSON response at LossPath (gjson syntax).
// Score-style metrics such as accuracy or AUC can be turned into losses with Negate.
//
//	ev := &HTTPEvaluator{
//	    URL:      "http://trainer:8080/train",
//	    Context:  map[string]any{"dataset": "s3://bucket/churn.parquet", "validation_split": 0.2},
//	    LossPath: "metrics.auc",
//	    Negate:   true,
//	}
type HTTPEvaluator struct {
	// URL is the training endpoint (required)
	URL string

	// Method is the HTTP method. Defaults to POST if empty.
	Method string

	// Headers are extra HTTP headers sent with every request.
	Headers map[string]string

	// Context is passed verbatim with every request. It carries whatever the
	// training service needs besides the hyper-parameters, such as dataset
	// locations and split settings.
	Context map[string]any

	// LossPath is the gjson path of the loss in the response. Defaults to "loss".
	LossPath string

	// Negate flips the sign of the extracted value.
	Negate bool

	// Timeout bounds one evaluation. Defaults to DefaultHTTPTimeout.
	Timeout time.Duration

	// MaxResponseBytes caps the response size. Defaults to DefaultMaxResponseBytes.
	MaxResponseBytes int64

	// HTTPClient is optional; if nil a default client is used.
	HTTPClient *http.Client
}

type evaluationRequest struct {
	Config  optimization.Configuration `json:"config"`
	Context map[string]any             `json:"context,omitempty"`
}

// Evaluate implements optimization.Evaluator.
func (h *HTTPEvaluator) Evaluate(ctx context.Context, cfg optimization.Configuration) (float64, error) {
	if h.URL == "" {
		return 0, errors.New("http evaluator: URL is required")
	}

	timeout := h.Timeout
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(evaluationRequest{Config: cfg, Context: h.Context})
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}

	method := h.Method
	if method == "" {
		method = http.MethodPost
	}

	req, err := http.NewRequestWithContext(ctx, method, h.URL, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for key, value := range h.Headers {
		req.Header.Set(key, value)
	}

	cli := h.HTTPClient
	if cli == nil {
		cli = http.DefaultClient
	}

	resp, err := cli.Do(req)
	if err != nil {
		return 0, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return 0, fmt.Errorf("http status %d: %s", resp.StatusCode, string(body))
	}

	limit := h.MaxResponseBytes
	if limit <= 0 {
		limit = DefaultMaxResponseBytes
	}
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return 0, fmt.Errorf("read response: %w", err)
	}
	if int64(len(respBody)) > limit {
		return 0, fmt.Errorf("response exceeds %d bytes", limit)
	}

	return h.extractLoss(respBody)
}

func (h *HTTPEvaluator) extractLoss(body []byte) (float64, error) {
	path := h.LossPath
	if path == "" {
		path = "loss"
	}

	if !gjson.ValidBytes(body) {
		return 0, errors.New("response is not valid JSON")
	}
	result := gjson.GetBytes(body, path)
	if !result.Exists() {
		return 0, fmt.Errorf("loss path %q not found in response", path)
	}
	if result.Type != gjson.Number {
		return 0, fmt.Errorf("loss path %q holds %s, not a number", path, result.Type)
	}

	loss := result.Float()
	if h.Negate {
		loss = -loss
	}
	return loss, nil
}
