package jobfile

import (
	"context"

	"curvefit/app"
	"curvefit/domain/fit"
)

// ServiceWeighting resolves the job's sigma policy against the service default.
func (j *Job) ServiceWeighting(svc *app.FitService) app.Weighting {
	w := svc.DefaultWeighting()
	w.IgnoreUncertainties = j.Weighting.IgnoreUncertainties
	if j.Weighting.AbsoluteSigma != nil {
		w.AbsoluteSigma = *j.Weighting.AbsoluteSigma
	}
	return w
}

// Execute runs the job over already loaded datasets. The returned value is
// a *fit.Result, *fit.BatchResult, *fit.CheckerResult or *fit.TotalResult.
// A rejected single fit returns both the result and its error.
func Execute(ctx context.Context, svc *app.FitService, job *Job, datasets []*fit.Dataset) (interface{}, error) {
	w := job.ServiceWeighting(svc)

	if job.Mode == ModeChecker {
		candidates, err := job.ResolveCandidates(svc)
		if err != nil {
			return nil, err
		}
		return svc.Checker(ctx, app.CheckerRequest{
			Dataset:    datasets[0],
			Candidates: candidates,
			Metric:     job.ScoreMetric(),
			Weighting:  w,
		})
	}

	spec, err := job.ResolveModel(svc)
	if err != nil {
		return nil, err
	}
	switch job.Mode {
	case ModeBatch:
		return svc.Batch(ctx, app.BatchRequest{
			Model: spec, Datasets: datasets, Overrides: job.Overrides, Weighting: w,
		})
	case ModeTotal:
		return svc.Total(ctx, app.TotalRequest{
			Model: spec, Datasets: datasets, Shared: job.Shared, Overrides: job.Overrides, Weighting: w,
		})
	default:
		return svc.Single(ctx, app.SingleRequest{
			Model: spec, Dataset: datasets[0], Overrides: job.Overrides, Weighting: w,
		})
	}
}
