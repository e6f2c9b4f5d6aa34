package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/copyleftdev/hypertune/internal/config"
	"github.com/copyleftdev/hypertune/internal/logging"
	"github.com/copyleftdev/hypertune/internal/store"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	logLevel string
	cfg      *config.Config
	logger   *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "hypertune",
	Short: "Bayesian hyper-parameter optimization",
	Long: `hypertune searches hyper-parameter spaces with a Gaussian-process surrogate
and expected improvement. Studies run locally from a file or through the HTTP
and JSON-RPC service.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}

		base, err := logging.NewLogger(&cfg.Logging)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger = base.WithFields(map[string]interface{}{
			"service": "hypertune",
			"version": version,
		})
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides LOG_LEVEL")
	rootCmd.AddCommand(versionCmd)
}

// openStore returns the run store selected by STORE_BACKEND.
func openStore(c *config.Config) (store.Store, error) {
	switch c.Store.Backend {
	case config.StoreRedis:
		return store.NewRedisStore(c.Redis.Addr, c.Redis.Password, c.Redis.DB, c.Redis.TTL)
	default:
		return store.NewMemoryStore(), nil
	}
}
