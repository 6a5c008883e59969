package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"curvefit/domain/core"
	"curvefit/domain/fit"
	"curvefit/internal/config"
	"curvefit/internal/errors"
	"curvefit/internal/estimate"
	"curvefit/internal/executor"
	"curvefit/internal/fitstats"
	"curvefit/internal/formula"
	"curvefit/internal/metrics"
	"curvefit/internal/registry"
	"curvefit/internal/solver"
	"curvefit/ports"
)

// Workflow modes, used as log fields and metric labels.
const (
	ModeSingle  = "single"
	ModeBatch   = "batch"
	ModeChecker = "checker"
	ModeTotal   = "total"
)

// Weighting selects how measurement uncertainties enter the fit.
type Weighting struct {
	IgnoreUncertainties bool `json:"ignore_uncertainties" yaml:"ignore_uncertainties"`
	AbsoluteSigma       bool `json:"absolute_sigma" yaml:"absolute_sigma"`
}

// FitService drives single, batch, checker and total fits over the engine
// packages. It holds no per-request state and is safe for concurrent use.
type FitService struct {
	registry  *registry.Registry
	cfg       config.EngineConfig
	log       zerolog.Logger
	metrics   *metrics.Prometheus
	optimizer solver.Optimizer
	store     ports.RunStore
}

// NewFitService creates a fit service. m may be nil when metrics are off.
func NewFitService(reg *registry.Registry, cfg config.EngineConfig, log zerolog.Logger, m *metrics.Prometheus) *FitService {
	if reg == nil {
		reg = registry.Default()
	}
	return &FitService{
		registry: reg,
		cfg:      cfg,
		log:      log,
		metrics:  m,
	}
}

// WithOptimizer returns a copy of the service that uses opt for every fit
// instead of the configured method.
func (s *FitService) WithOptimizer(opt solver.Optimizer) *FitService {
	c := *s
	c.optimizer = opt
	return &c
}

// WithStore returns a copy of the service that persists every finished fit
// to store. Storage failures are logged and never fail the fit.
func (s *FitService) WithStore(store ports.RunStore) *FitService {
	c := *s
	c.store = store
	return &c
}

// Registry exposes the model registry the service resolves names against.
func (s *FitService) Registry() *registry.Registry { return s.registry }

// Config returns the engine configuration.
func (s *FitService) Config() config.EngineConfig { return s.cfg }

// DefaultWeighting applies the configured sigma policy.
func (s *FitService) DefaultWeighting() Weighting {
	return Weighting{AbsoluteSigma: s.cfg.AbsoluteSigma}
}

// ParseCustomFormula compiles a user formula; parameterCount 0 infers it.
func (s *FitService) ParseCustomFormula(text string, variables []string, parameterCount int) (*fit.ModelSpec, error) {
	return formula.Parse(text, variables, formula.Options{
		ParameterCount:  parameterCount,
		ParameterPrefix: s.cfg.ParameterPrefix,
	})
}

// LookupBuiltinModel resolves a registry model.
func (s *FitService) LookupBuiltinModel(family, variant string) (*fit.ModelSpec, error) {
	return s.registry.Lookup(family, variant)
}

// EstimateInitialConditions returns the merged initial guess and bounds.
func (s *FitService) EstimateInitialConditions(spec *fit.ModelSpec, ds *fit.Dataset, overrides fit.Overrides) (fit.Guess, error) {
	return estimate.Estimate(spec, ds, overrides)
}

// RunFit runs the optimizer once under the configured budget.
func (s *FitService) RunFit(ctx context.Context, spec *fit.ModelSpec, ds *fit.Dataset, guess fit.Guess, w Weighting) (*fit.Outcome, error) {
	return executor.Fit(ctx, spec, ds, guess, s.executorOptions(w))
}

// SummarizeFit computes the statistics report at level (0 uses the
// configured confidence level).
func (s *FitService) SummarizeFit(spec *fit.ModelSpec, ds *fit.Dataset, outcome *fit.Outcome, level float64) (*fit.Report, error) {
	if level == 0 {
		level = s.cfg.ConfidenceLevel
	}
	return fitstats.Summarize(spec, ds, outcome, level)
}

// RunCheckerMode ranks candidates on ds; nil candidates means every
// compatible registry model.
func (s *FitService) RunCheckerMode(ctx context.Context, ds *fit.Dataset, candidates []*fit.ModelSpec, metric fit.ScoreMetric) (*fit.CheckerResult, error) {
	return s.Checker(ctx, CheckerRequest{Dataset: ds, Candidates: candidates, Metric: metric, Weighting: s.DefaultWeighting()})
}

// RunTotalFit fits spec jointly across datasets. A nil sharedMask shares
// every parameter.
func (s *FitService) RunTotalFit(ctx context.Context, datasets []*fit.Dataset, spec *fit.ModelSpec, sharedMask []bool, overrides fit.Overrides) (*fit.TotalResult, error) {
	return s.Total(ctx, TotalRequest{
		Model:     spec,
		Datasets:  datasets,
		Shared:    sharedMask,
		Overrides: overrides,
		Weighting: s.DefaultWeighting(),
	})
}

func (s *FitService) executorOptions(w Weighting) executor.Options {
	return executor.Options{
		Optimizer:           s.optimizer,
		Method:              s.cfg.Method,
		Settings:            s.cfg.SolverSettings(),
		TimeBudget:          s.cfg.TimeBudget,
		IgnoreUncertainties: w.IgnoreUncertainties,
		AbsoluteSigma:       w.AbsoluteSigma,
	}
}

// pipeline takes one (model, dataset) pair through
// Validated → GuessComputed → Fitted → Scored. Any error lands the result in
// Rejected; an unconverged fit ends in ScoredPartial.
func (s *FitService) pipeline(ctx context.Context, runID core.RunID, mode string, spec *fit.ModelSpec, ds *fit.Dataset, overrides fit.Overrides, w Weighting) fit.Result {
	start := time.Now()
	res := fit.Result{RunID: runID.String(), Model: spec, Dataset: ds.Name, State: fit.StateValidated}
	defer func() { s.record(ctx, mode, &res, time.Since(start)) }()

	reject := func(err error) fit.Result {
		res.State = fit.StateRejected
		res.Err = err
		res.Error = err.Error()
		return res
	}

	if err := spec.CheckArity(ds); err != nil {
		return reject(err)
	}
	if ds.Len() < spec.ParameterCount() {
		return reject(errors.Fit(errors.ReasonUnderdetermined,
			"model %s has %d parameters but dataset %q has %d observations",
			spec.Name(), spec.ParameterCount(), ds.Name, ds.Len()))
	}

	guess, err := estimate.Estimate(spec, ds, overrides)
	if err != nil {
		return reject(err)
	}
	res.Guess = &guess
	res.State = fit.StateGuessComputed
	s.log.Debug().Str("run_id", res.RunID).Str("model", spec.Name()).Str("dataset", ds.Name).
		Str("guess", estimate.Describe(spec, guess)).Msg("initial guess")

	out, err := s.RunFit(ctx, spec, ds, guess, w)
	if err != nil {
		return reject(err)
	}
	res.Outcome = out
	res.State = fit.StateFitted

	rep, err := fitstats.Summarize(spec, ds, out, s.cfg.ConfidenceLevel)
	if err != nil {
		return reject(errors.Wrap(err, "summarize fit"))
	}
	res.Report = rep
	res.State = fit.StateScored
	if !out.Converged {
		res.State = fit.StateScoredPartial
	}
	return res
}

func (s *FitService) record(ctx context.Context, mode string, res *fit.Result, elapsed time.Duration) {
	iterations := 0
	if res.Outcome != nil {
		iterations = res.Outcome.Iterations
	}
	s.metrics.ObserveFit(mode, res.State, iterations, elapsed)
	if s.store != nil {
		if err := s.store.SaveResult(ctx, mode, res); err != nil {
			s.log.Error().Err(err).Str("run_id", res.RunID).Msg("failed to store fit")
		}
	}

	var ev *zerolog.Event
	switch {
	case res.State == fit.StateRejected:
		ev = s.log.Warn().Str("error", res.Error)
	case res.State == fit.StateScoredPartial:
		ev = s.log.Warn().Str("status", string(res.Outcome.Status))
	case res.Outcome != nil && len(res.Outcome.Warnings) > 0:
		ev = s.log.Warn()
	default:
		ev = s.log.Info()
	}
	if res.Outcome != nil && len(res.Outcome.Warnings) > 0 {
		ev = ev.Strs("warnings", res.Outcome.Warnings)
	}
	ev.Str("run_id", res.RunID).
		Str("mode", mode).
		Str("model", res.Model.Name()).
		Str("dataset", res.Dataset).
		Str("state", string(res.State)).
		Int("iterations", iterations).
		Dur("duration", elapsed).
		Msg("fit finished")
}
