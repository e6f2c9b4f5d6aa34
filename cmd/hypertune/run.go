package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/copyleftdev/hypertune/internal/logging"
	"github.com/copyleftdev/hypertune/internal/optimization"
	"github.com/copyleftdev/hypertune/internal/optimization/bayesian"
	"github.com/copyleftdev/hypertune/internal/study"
)

var (
	studyPath     string
	outPath       string
	seed          int64
	maxIterations int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a study locally and print the result as JSON",
	Long: `Runs the study described in a YAML or JSON file to completion and writes
the best configuration and the full observation history as JSON.
Interrupting the command stops the study after the current evaluation.`,
	RunE: runStudy,
}

func init() {
	runCmd.Flags().StringVarP(&studyPath, "file", "f", "", "Study file path (required)")
	runCmd.Flags().StringVarP(&outPath, "out", "o", "", "Write the result here instead of stdout")
	runCmd.Flags().Int64Var(&seed, "seed", 0, "Random seed; overrides the study's seed, 0 seeds from the clock")
	runCmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "Refining iterations; overrides the study's setting, 0 explores only")

	_ = runCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(runCmd)
}

// resultJSON is the printed form of optimization.Result.
type resultJSON struct {
	Study       string                     `json:"study,omitempty"`
	StopReason  string                     `json:"stop_reason"`
	Iterations  int                        `json:"iterations"`
	Evaluations int                        `json:"evaluations"`
	Best        *optimization.Observation  `json:"best,omitempty"`
	History     []optimization.Observation `json:"history"`
}

// applyOverrides copies the flags set on the command line into spec. Zero is
// a valid override for both flags.
func applyOverrides(flags *pflag.FlagSet, spec *study.Spec) error {
	if flags.Changed("seed") {
		v, err := flags.GetInt64("seed")
		if err != nil {
			return err
		}
		spec.Seed = v
	}
	if flags.Changed("max-iterations") {
		v, err := flags.GetInt("max-iterations")
		if err != nil {
			return err
		}
		spec.MaxIterations = &v
	}
	return nil
}

func runStudy(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(studyPath)
	if err != nil {
		return fmt.Errorf("failed to read study: %w", err)
	}
	spec, err := study.Parse(data)
	if err != nil {
		return err
	}
	if err := applyOverrides(cmd.Flags(), &spec); err != nil {
		return err
	}

	st, err := spec.Build(cfg.StudyDefaults(), &http.Client{})
	if err != nil {
		return err
	}

	zl := logging.NewZapLogger(logger)
	defer func() { _ = zl.Sync() }()
	zl.Info("Loaded study", st.Fields()...)

	st.Config.Observers = append(st.Config.Observers, optimization.ObserverFunc(func(obs optimization.Observation) {
		fields := []zap.Field{
			zap.Int("index", obs.Index),
			zap.String("phase", string(obs.Phase)),
			zap.String("source", string(obs.Source)),
			zap.String("loss", optimization.FormatLoss(obs.Loss)),
			zap.Duration("duration", obs.Duration),
		}
		if obs.Failed() {
			fields = append(fields, zap.String("failure", obs.Failure))
		}
		zl.Info("Evaluated configuration", fields...)
	}))

	opt, err := bayesian.NewBayesianOptimizer(st.Config,
		bayesian.WithLogger(zl),
		bayesian.WithKernel(st.Kernel),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := opt.Optimize(ctx)
	if err != nil {
		return err
	}

	var out io.Writer = cmd.OutOrStdout()
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("failed to create output: %w", err)
		}
		defer f.Close()
		out = f
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(resultJSON{
		Study:       st.Name,
		StopReason:  string(result.StopReason),
		Iterations:  result.Iterations,
		Evaluations: len(result.History),
		Best:        result.Best,
		History:     result.History,
	})
}
