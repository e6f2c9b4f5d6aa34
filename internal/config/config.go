// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/copyleftdev/hypertune/internal/logging"
	"github.com/copyleftdev/hypertune/internal/optimization"
	"github.com/copyleftdev/hypertune/internal/study"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	}
	Logging logging.Config `envPrefix:"LOG_"`
	Store   struct {
		Backend string `env:"STORE_BACKEND" envDefault:"memory"`
	}
	Redis struct {
		Addr     string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
		Password string        `env:"REDIS_PASSWORD"`
		DB       int           `env:"REDIS_DB" envDefault:"0"`
		TTL      time.Duration `env:"REDIS_TTL" envDefault:"168h"`
	}
	Tuning struct {
		InitialPoints int           `env:"TUNE_INITIAL_POINTS" envDefault:"5"`
		MaxIterations int           `env:"TUNE_MAX_ITERATIONS" envDefault:"50"`
		CandidatePool int           `env:"TUNE_CANDIDATE_POOL" envDefault:"2000"`
		Workers       int           `env:"TUNE_WORKERS" envDefault:"1"`
		TimeBudget    time.Duration `env:"TUNE_TIME_BUDGET" envDefault:"0s"`
		Xi            float64       `env:"TUNE_XI" envDefault:"0"`
	}
	Objective struct {
		HTTPTimeout time.Duration `env:"OBJECTIVE_HTTP_TIMEOUT" envDefault:"10m"`
	}
}

// Load parses the environment and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if cfg.Environment == "development" && cfg.Logging.Level == "" {
		cfg.Logging.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values env tags cannot express.
func (c *Config) Validate() error {
	c.Store.Backend = strings.ToLower(c.Store.Backend)
	switch c.Store.Backend {
	case StoreMemory:
	case StoreRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("REDIS_ADDR is required when STORE_BACKEND=redis")
		}
	default:
		return fmt.Errorf("unsupported STORE_BACKEND %q", c.Store.Backend)
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP_PORT %d", c.HTTP.Port)
	}
	if c.Tuning.Workers < 1 {
		return fmt.Errorf("TUNE_WORKERS must be at least 1")
	}
	if c.Tuning.TimeBudget < 0 {
		return fmt.Errorf("TUNE_TIME_BUDGET must not be negative")
	}
	return nil
}

// StudyDefaults returns the tuning settings applied to studies that leave them unset.
func (c *Config) StudyDefaults() study.Defaults {
	return study.Defaults{
		InitialPoints: c.Tuning.InitialPoints,
		MaxIterations: c.Tuning.MaxIterations,
		CandidatePool: c.Tuning.CandidatePool,
		Workers:       c.Tuning.Workers,
		TimeBudget:    c.Tuning.TimeBudget,
		Xi:            c.Tuning.Xi,
		HTTPTimeout:   c.Objective.HTTPTimeout,
	}
}

// DefaultStudyDefaults mirrors the env defaults for callers that skip Load.
func DefaultStudyDefaults() study.Defaults {
	return study.Defaults{
		InitialPoints: optimization.DefaultInitialPoints,
		MaxIterations: optimization.DefaultMaxIterations,
		CandidatePool: optimization.DefaultCandidatePoolSize,
		Workers:       1,
		HTTPTimeout:   10 * time.Minute,
	}
}
