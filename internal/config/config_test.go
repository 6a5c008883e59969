package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"curvefit/domain/fit"
	"curvefit/internal/errors"
	"curvefit/internal/solver"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"FIT_WORKERS", "FIT_CONFIDENCE_LEVEL", "FIT_MAX_ITERATIONS", "FIT_TIME_BUDGET",
		"FIT_METHOD", "FIT_SCORE_METRIC", "FIT_ABSOLUTE_SIGMA", "FIT_PARAMETER_PREFIX", "LOG_LEVEL", "METRICS_ENABLED", "DATABASE_URL"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultEngineConfig(), cfg.Engine)
	assert.Equal(t, "INFO", cfg.Log.Level)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Empty(t, cfg.Database.URL)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("FIT_WORKERS", "3")
	t.Setenv("FIT_CONFIDENCE_LEVEL", "0.99")
	t.Setenv("FIT_MAX_ITERATIONS", "50")
	t.Setenv("FIT_TIME_BUDGET", "2s")
	t.Setenv("FIT_METHOD", "nelder-mead")
	t.Setenv("FIT_SCORE_METRIC", "AIC")
	t.Setenv("FIT_ABSOLUTE_SIGMA", "true")
	t.Setenv("FIT_PARAMETER_PREFIX", "a")
	t.Setenv("METRICS_ENABLED", "1")
	t.Setenv("DATABASE_URL", "postgres://fit@localhost/fits?sslmode=disable")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, EngineConfig{
		Workers:         3,
		ConfidenceLevel: 0.99,
		MaxIterations:   50,
		TimeBudget:      2 * time.Second,
		Method:          solver.MethodNelderMead,
		ScoreMetric:     fit.ScoreAIC,
		AbsoluteSigma:   true,
		ParameterPrefix: "a",
	}, cfg.Engine)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "postgres://fit@localhost/fits?sslmode=disable", cfg.Database.URL)
	assert.Equal(t, 50, cfg.Engine.SolverSettings().MaxIterations)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"FIT_WORKERS", "0"},
		{"FIT_CONFIDENCE_LEVEL", "1.5"},
		{"FIT_MAX_ITERATIONS", "-1"},
		{"FIT_METHOD", "bfgs"},
		{"FIT_SCORE_METRIC", "likelihood"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
			assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
		})
	}
}
