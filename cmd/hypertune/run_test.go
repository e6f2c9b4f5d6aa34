package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/hypertune/internal/study"
)

func TestRunCommand(t *testing.T) {
	dir := t.TempDir()
	studyFile := filepath.Join(dir, "study.yaml")
	require.NoError(t, os.WriteFile(studyFile, []byte(`
name: sphere
parameters:
  a: {type: uniform, low: -2, high: 2}
  b: {type: choice, values: [-1, 0, 1]}
objective: {type: builtin, name: sphere}
initial_points: 3
candidate_pool: 100
`), 0o644))
	outFile := filepath.Join(dir, "result.json")

	t.Setenv("LOG_OUTPUT", filepath.Join(dir, "hypertune.log"))

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetArgs([]string{"run", "-f", studyFile, "-o", outFile, "--seed", "11", "--max-iterations", "4"})
	require.NoError(t, rootCmd.Execute())

	data, err := os.ReadFile(outFile)
	require.NoError(t, err)

	var result struct {
		Study       string `json:"study"`
		StopReason  string `json:"stop_reason"`
		Iterations  int    `json:"iterations"`
		Evaluations int    `json:"evaluations"`
		Best        struct {
			Config map[string]any `json:"config"`
		} `json:"best"`
		History []json.RawMessage `json:"history"`
	}
	require.NoError(t, json.Unmarshal(data, &result))

	assert.Equal(t, "sphere", result.Study)
	assert.Equal(t, "budget_exhausted", result.StopReason)
	assert.Equal(t, 4, result.Iterations)
	assert.Equal(t, 7, result.Evaluations)
	assert.Len(t, result.History, 7)
	assert.Contains(t, result.Best.Config, "a")
	assert.Contains(t, result.Best.Config, "b")
	assert.Empty(t, stdout.String())

	logData, err := os.ReadFile(filepath.Join(dir, "hypertune.log"))
	require.NoError(t, err)
	assert.Contains(t, string(logData), "Optimization finished")
}

func TestApplyOverrides(t *testing.T) {
	newFlags := func(args ...string) *pflag.FlagSet {
		fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
		fs.Int64("seed", 0, "")
		fs.Int("max-iterations", 0, "")
		require.NoError(t, fs.Parse(args))
		return fs
	}
	base := func() study.Spec {
		n := 30
		return study.Spec{Seed: 42, MaxIterations: &n}
	}

	spec := base()
	require.NoError(t, applyOverrides(newFlags(), &spec))
	assert.Equal(t, int64(42), spec.Seed)
	assert.Equal(t, 30, *spec.MaxIterations)

	spec = base()
	require.NoError(t, applyOverrides(newFlags("--seed", "0", "--max-iterations", "0"), &spec))
	assert.Equal(t, int64(0), spec.Seed)
	require.NotNil(t, spec.MaxIterations)
	assert.Equal(t, 0, *spec.MaxIterations)

	spec = base()
	require.NoError(t, applyOverrides(newFlags("--seed", "9"), &spec))
	assert.Equal(t, int64(9), spec.Seed)
	assert.Equal(t, 30, *spec.MaxIterations)
}

func TestRunCommandMissingFile(t *testing.T) {
	t.Setenv("LOG_OUTPUT", filepath.Join(t.TempDir(), "hypertune.log"))

	rootCmd.SetArgs([]string{"run", "-f", "does-not-exist.yaml"})
	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read study")
}

func TestVersionCommand(t *testing.T) {
	t.Setenv("LOG_OUTPUT", filepath.Join(t.TempDir(), "hypertune.log"))

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetArgs([]string{"version"})
	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "dev\n", stdout.String())
}
