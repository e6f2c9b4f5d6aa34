package objective

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/hypertune/internal/optimization"
)

func TestHTTPEvaluator(t *testing.T) {
	var got struct {
		Config  map[string]any `json:"config"`
		Context map[string]any `json:"context"`
	}
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		gotAuth = r.Header.Get("Authorization")

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status": "ok", "metrics": {"auc": 0.875, "logloss": 0.31}}`))
	}))
	defer srv.Close()

	ev := &HTTPEvaluator{
		URL:      srv.URL,
		Headers:  map[string]string{"Authorization": "Bearer secret"},
		Context:  map[string]any{"dataset": "churn", "validation_split": 0.2},
		LossPath: "metrics.auc",
		Negate:   true,
	}

	cfg := optimization.NewConfiguration(map[string]any{"max_depth": 5, "booster": "dart"})
	loss, err := ev.Evaluate(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, -0.875, loss)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, map[string]any{"max_depth": 5.0, "booster": "dart"}, got.Config)
	assert.Equal(t, "churn", got.Context["dataset"])
}

func TestHTTPEvaluatorErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		lossPath string
		errMsg   string
	}{
		{name: "server error", status: http.StatusInternalServerError, body: "out of memory", errMsg: "http status 500: out of memory"},
		{name: "missing path", status: http.StatusOK, body: `{"accuracy": 0.9}`, errMsg: `loss path "loss" not found`},
		{name: "non-numeric loss", status: http.StatusOK, body: `{"loss": "high"}`, errMsg: "not a number"},
		{name: "invalid json", status: http.StatusOK, body: `{"loss": `, errMsg: "not valid JSON"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			ev := &HTTPEvaluator{URL: srv.URL, LossPath: tt.lossPath}
			_, err := ev.Evaluate(context.Background(), optimization.NewConfiguration(map[string]any{"x": 1.0}))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	_, err := (&HTTPEvaluator{}).Evaluate(context.Background(), optimization.Configuration{})
	assert.EqualError(t, err, "http evaluator: URL is required")
}

func TestHTTPEvaluatorTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ev := &HTTPEvaluator{URL: srv.URL, Timeout: 50 * time.Millisecond}
	_, err := ev.Evaluate(context.Background(), optimization.NewConfiguration(map[string]any{"x": 1.0}))
	require.Error(t, err)
}

func TestHTTPEvaluatorResponseLimit(t *testing.T) {
	// A valid response padded past the limit.
	body := `{"loss": 0.25, "log": "` + strings.Repeat("x", 256) + `"}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	cfg := optimization.NewConfiguration(map[string]any{"x": 1.0})

	ev := &HTTPEvaluator{URL: srv.URL, MaxResponseBytes: 64}
	_, err := ev.Evaluate(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "response exceeds 64 bytes")

	ev.MaxResponseBytes = int64(len(body))
	loss, err := ev.Evaluate(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 0.25, loss)
}

func TestBuiltins(t *testing.T) {
	ctx := context.Background()

	q, err := Lookup("quadratic")
	require.NoError(t, err)
	loss, err := q.Evaluate(ctx, optimization.NewConfiguration(map[string]any{"x": 5.0}))
	require.NoError(t, err)
	assert.Equal(t, 4.0, loss)

	s, err := Lookup("Sphere")
	require.NoError(t, err)
	loss, err = s.Evaluate(ctx, optimization.NewConfiguration(map[string]any{"a": 1.0, "b": -2.0}))
	require.NoError(t, err)
	assert.Equal(t, 5.0, loss)

	b, err := Lookup("branin")
	require.NoError(t, err)
	loss, err = b.Evaluate(ctx, optimization.NewConfiguration(map[string]any{"x1": math.Pi, "x2": 2.275}))
	require.NoError(t, err)
	assert.InDelta(t, 0.397887, loss, 1e-5)

	_, err = b.Evaluate(ctx, optimization.NewConfiguration(map[string]any{"x1": 1.0}))
	assert.Error(t, err)

	_, err = Lookup("rosenbrock")
	assert.ErrorContains(t, err, "available: branin, quadratic, sphere")
}

func TestSpecBuild(t *testing.T) {
	ev, err := Spec{Type: "builtin", Name: "sphere"}.Build(nil, time.Minute)
	require.NoError(t, err)
	assert.NotNil(t, ev)

	ev, err = Spec{Type: "http", URL: "http://trainer/train", LossPath: "loss"}.Build(http.DefaultClient, time.Minute)
	require.NoError(t, err)
	httpEv, ok := ev.(*HTTPEvaluator)
	require.True(t, ok)
	assert.Equal(t, time.Minute, httpEv.Timeout)

	_, err = Spec{Type: "http"}.Build(nil, time.Minute)
	assert.Error(t, err)
	_, err = Spec{Type: "grpc"}.Build(nil, time.Minute)
	assert.Error(t, err)
	_, err = Spec{Type: "builtin"}.Build(nil, time.Minute)
	assert.Error(t, err)
}
