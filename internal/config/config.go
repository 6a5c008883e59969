package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"curvefit/domain/fit"
	"curvefit/internal/errors"
	"curvefit/internal/formula"
	"curvefit/internal/solver"
)

// Config represents the complete application configuration
type Config struct {
	Engine   EngineConfig
	Log      LogConfig
	Metrics  MetricsConfig
	Database DatabaseConfig
}

// EngineConfig holds the settings the fitting core consumes.
type EngineConfig struct {
	Workers         int
	ConfidenceLevel float64
	MaxIterations   int
	TimeBudget      time.Duration
	Method          string
	ScoreMetric     fit.ScoreMetric
	AbsoluteSigma   bool
	ParameterPrefix string
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string
	Pretty bool
}

// MetricsConfig holds Prometheus exposition settings
type MetricsConfig struct {
	Enabled bool
	Addr    string
}

// DatabaseConfig holds the optional run history store. An empty URL
// disables persistence.
type DatabaseConfig struct {
	URL string
}

// DefaultEngineConfig returns the engine settings used when nothing is set.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Workers:         runtime.NumCPU(),
		ConfidenceLevel: 0.95,
		MaxIterations:   solver.DefaultSettings().MaxIterations,
		TimeBudget:      30 * time.Second,
		Method:          solver.MethodLM,
		ScoreMetric:     fit.ScoreAuto,
		ParameterPrefix: formula.DefaultParameterPrefix,
	}
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	engine, err := loadEngineConfig()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load engine configuration")
	}

	config := &Config{
		Engine: *engine,
		Log: LogConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "INFO"),
			Pretty: getEnvBoolOrDefault("LOG_PRETTY", false),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBoolOrDefault("METRICS_ENABLED", false),
			Addr:    getEnvOrDefault("METRICS_ADDR", ":9090"),
		},
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
	}

	if err := validateConfig(config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return config, nil
}

func loadEngineConfig() (*EngineConfig, error) {
	d := DefaultEngineConfig()
	metric, err := fit.ParseScoreMetric(getEnvOrDefault("FIT_SCORE_METRIC", string(d.ScoreMetric)))
	if err != nil {
		return nil, errors.ConfigInvalid(err.Error())
	}
	return &EngineConfig{
		Workers:         getEnvIntOrDefault("FIT_WORKERS", d.Workers),
		ConfidenceLevel: getEnvFloatOrDefault("FIT_CONFIDENCE_LEVEL", d.ConfidenceLevel),
		MaxIterations:   getEnvIntOrDefault("FIT_MAX_ITERATIONS", d.MaxIterations),
		TimeBudget:      getEnvDurationOrDefault("FIT_TIME_BUDGET", d.TimeBudget),
		Method:          getEnvOrDefault("FIT_METHOD", d.Method),
		ScoreMetric:     metric,
		AbsoluteSigma:   getEnvBoolOrDefault("FIT_ABSOLUTE_SIGMA", d.AbsoluteSigma),
		ParameterPrefix: getEnvOrDefault("FIT_PARAMETER_PREFIX", d.ParameterPrefix),
	}, nil
}

func validateConfig(config *Config) error {
	return config.Engine.Validate()
}

// Validate rejects settings the engine cannot run with.
func (c EngineConfig) Validate() error {
	if c.Workers < 1 {
		return errors.ConfigInvalid(fmt.Sprintf("workers must be at least 1, got %d", c.Workers))
	}
	if !(c.ConfidenceLevel > 0 && c.ConfidenceLevel < 1) {
		return errors.ConfigInvalid(fmt.Sprintf("confidence level must lie in (0, 1), got %g", c.ConfidenceLevel))
	}
	if c.MaxIterations < 1 {
		return errors.ConfigInvalid(fmt.Sprintf("max iterations must be positive, got %d", c.MaxIterations))
	}
	if c.TimeBudget < 0 {
		return errors.ConfigInvalid("time budget cannot be negative")
	}
	if _, err := solver.New(c.Method, solver.Settings{}); err != nil {
		return errors.ConfigInvalid(err.Error())
	}
	if _, err := fit.ParseScoreMetric(string(c.ScoreMetric)); err != nil {
		return errors.ConfigInvalid(err.Error())
	}
	if c.ParameterPrefix == "" {
		return errors.ConfigInvalid("parameter prefix is required")
	}
	return nil
}

// SolverSettings derives the optimizer stopping criteria.
func (c EngineConfig) SolverSettings() solver.Settings {
	s := solver.DefaultSettings()
	s.MaxIterations = c.MaxIterations
	return s
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
