package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"curvefit/adapters/excel"
	"curvefit/adapters/jobfile"
	"curvefit/app"
	"curvefit/domain/fit"
	"curvefit/internal/api"
	"curvefit/internal/fitstats"
)

func newModelsCmd(e *env) *cobra.Command {
	var arity int

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the built-in model catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := e.service.Registry()
			if arity <= 0 {
				return e.out.Encode(reg.Entries())
			}
			return e.out.Encode(reg.Compatible(arity))
		},
	}

	cmd.Flags().IntVar(&arity, "arity", 0, "Only list models taking this many independent variables")

	return cmd
}

func newFitCmd(e *env) *cobra.Command {
	var data dataFlags
	var model modelFlags
	var params paramFlags
	var weights weightFlags
	var at []string

	cmd := &cobra.Command{
		Use:   "fit [data-file]",
		Short: "Fit one model to one dataset",
		Long: `Fit one model to one dataset and print the result as JSON.

Example: fitctl fit decay.csv --model special/exponential --x t --y counts --sigma err --at 2.5`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := model.resolve(e.service)
			if err != nil {
				return err
			}
			ds, err := excel.LoadDataset(args[0], data.columns(), e.log)
			if err != nil {
				return err
			}
			overrides, err := params.overrides()
			if err != nil {
				return err
			}
			points, err := parsePoints(at)
			if err != nil {
				return err
			}

			res, err := e.service.Single(cmd.Context(), app.SingleRequest{
				Model:     spec,
				Dataset:   ds,
				Overrides: overrides,
				Weighting: weights.weighting(cmd, e.service),
			})
			if err != nil || len(points) == 0 || res.Outcome == nil || res.Report == nil {
				return e.emit(res, err)
			}

			pred, err := fitstats.Predict(spec, res.Outcome.Parameters, res.Outcome.Covariance,
				points, res.Report.DOF, e.cfg.Engine.ConfidenceLevel, fitstats.ResidualVariance(res.Report))
			if err != nil {
				return err
			}
			return e.out.Encode(struct {
				*fit.Result
				Predictions []fitstats.Prediction `json:"predictions"`
			}{res, pred})
		},
	}

	data.register(cmd)
	model.register(cmd)
	params.register(cmd)
	weights.register(cmd)
	cmd.Flags().StringArrayVar(&at, "at", nil, "Predict at a point; variables separated by ':' (repeatable)")

	return cmd
}

func newBatchCmd(e *env) *cobra.Command {
	var data dataFlags
	var model modelFlags
	var params paramFlags
	var weights weightFlags

	cmd := &cobra.Command{
		Use:   "batch [data-file...]",
		Short: "Fit one model independently to several datasets",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := model.resolve(e.service)
			if err != nil {
				return err
			}
			datasets, err := data.load(e, args)
			if err != nil {
				return err
			}
			overrides, err := params.overrides()
			if err != nil {
				return err
			}
			res, err := e.service.Batch(cmd.Context(), app.BatchRequest{
				Model:     spec,
				Datasets:  datasets,
				Overrides: overrides,
				Weighting: weights.weighting(cmd, e.service),
			})
			if err != nil {
				return err
			}
			return e.out.Encode(res)
		},
	}

	data.register(cmd)
	model.register(cmd)
	params.register(cmd)
	weights.register(cmd)

	return cmd
}

func newCheckCmd(e *env) *cobra.Command {
	var data dataFlags
	var weights weightFlags
	var candidates []string
	var metric string

	cmd := &cobra.Command{
		Use:   "check [data-file]",
		Short: "Fit every candidate model and rank them",
		Long: `Fit every candidate model to one dataset and rank the results.

Without --candidates every built-in model compatible with the dataset is tried.
The ranking metric defaults to FIT_SCORE_METRIC; auto uses reduced chi-square
when the dataset carries uncertainties and RMSE otherwise.

Example: fitctl check decay.csv --x t --y counts --metric aic`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := excel.LoadDataset(args[0], data.columns(), e.log)
			if err != nil {
				return err
			}
			m, err := fit.ParseScoreMetric(metric)
			if err != nil {
				return err
			}
			if metric == "" {
				m = ""
			}
			var specs []*fit.ModelSpec
			for _, name := range candidates {
				spec, err := e.service.Registry().LookupName(name)
				if err != nil {
					return err
				}
				specs = append(specs, spec)
			}
			res, err := e.service.Checker(cmd.Context(), app.CheckerRequest{
				Dataset:    ds,
				Candidates: specs,
				Metric:     m,
				Weighting:  weights.weighting(cmd, e.service),
			})
			if err != nil {
				return err
			}
			return e.out.Encode(res)
		},
	}

	data.register(cmd)
	weights.register(cmd)
	cmd.Flags().StringSliceVar(&candidates, "candidates", nil, "Candidate models as family/variant (default: all compatible)")
	cmd.Flags().StringVar(&metric, "metric", "", "Ranking metric: auto, reduced_chi2, rmse, aic, bic, r2")

	return cmd
}

func newTotalCmd(e *env) *cobra.Command {
	var data dataFlags
	var model modelFlags
	var params paramFlags
	var weights weightFlags
	var shared []bool

	cmd := &cobra.Command{
		Use:   "total [data-file...]",
		Short: "Fit one model jointly across datasets with shared parameters",
		Long: `Fit one model jointly across datasets.

--shared takes one boolean per model parameter; true parameters are common to
every dataset, false ones are fitted per dataset. Omitting it shares all.

Example: fitctl total a.csv b.csv --model special/exponential --shared false,true`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := model.resolve(e.service)
			if err != nil {
				return err
			}
			datasets, err := data.load(e, args)
			if err != nil {
				return err
			}
			overrides, err := params.overrides()
			if err != nil {
				return err
			}
			res, err := e.service.Total(cmd.Context(), app.TotalRequest{
				Model:     spec,
				Datasets:  datasets,
				Shared:    shared,
				Overrides: overrides,
				Weighting: weights.weighting(cmd, e.service),
			})
			if err != nil {
				return err
			}
			return e.out.Encode(res)
		},
	}

	data.register(cmd)
	model.register(cmd)
	params.register(cmd)
	weights.register(cmd)
	cmd.Flags().BoolSliceVar(&shared, "shared", nil, "Per-parameter share mask")

	return cmd
}

func newRunCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [job.yaml]",
		Short: "Run a fit job described in a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := jobfile.Load(args[0])
			if err != nil {
				return err
			}
			datasets, err := job.LoadDatasets(cmd.Context(), filepath.Dir(args[0]), e.log)
			if err != nil {
				return err
			}
			res, err := jobfile.Execute(cmd.Context(), e.service, job, datasets)
			return e.emit(res, err)
		},
	}

	return cmd
}

func newServeCmd(e *env) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the fit API over HTTP",
		Long: `Serve the fit API over HTTP.

Endpoints:
- GET  /v1/models?arity=N
- POST /v1/fits         job document with inline datasets (same schema as run)
- POST /v1/predictions  model, parameters, covariance and points`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !strings.EqualFold(e.cfg.Log.Level, "debug") {
				gin.SetMode(gin.ReleaseMode)
			}
			return api.NewServer(e.service, e.log).Start(addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address")

	return cmd
}

// emit prints res and returns err. A rejected single fit is still printed
// so its state and error reach the caller.
func (e *env) emit(res interface{}, err error) error {
	if err != nil {
		single, ok := res.(*fit.Result)
		if !ok || single == nil {
			return err
		}
	}
	if encErr := e.out.Encode(res); encErr != nil {
		return encErr
	}
	return err
}

type dataFlags struct {
	x     []string
	y     string
	sigma string
	sheet string
}

func (f *dataFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.x, "x", []string{"x"}, "Independent variable column(s), in model variable order")
	cmd.Flags().StringVar(&f.y, "y", "y", "Dependent variable column")
	cmd.Flags().StringVar(&f.sigma, "sigma", "", "Uncertainty column (optional)")
	cmd.Flags().StringVar(&f.sheet, "sheet", "", "Workbook sheet (default Sheet1)")
}

func (f *dataFlags) columns() excel.Columns {
	return excel.Columns{X: f.x, Y: f.y, Sigma: f.sigma, Sheet: f.sheet}
}

func (f *dataFlags) load(e *env, paths []string) ([]*fit.Dataset, error) {
	out := make([]*fit.Dataset, len(paths))
	for i, path := range paths {
		ds, err := excel.LoadDataset(path, f.columns(), e.log)
		if err != nil {
			return nil, err
		}
		out[i] = ds
	}
	return out, nil
}

type modelFlags struct {
	name      string
	formula   string
	variables []string
	params    int
}

func (f *modelFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "model", "", "Built-in model as family/variant")
	cmd.Flags().StringVar(&f.formula, "formula", "", "Custom formula, e.g. 'p0*exp(-p1*x)'")
	cmd.Flags().StringSliceVar(&f.variables, "vars", []string{"x"}, "Variables of a custom formula")
	cmd.Flags().IntVar(&f.params, "params", 0, "Parameter count of a custom formula (0 infers it)")
}

func (f *modelFlags) resolve(src jobfile.ModelSource) (*fit.ModelSpec, error) {
	job := jobfile.Job{Model: f.name}
	if f.formula != "" {
		if f.name != "" {
			return nil, fmt.Errorf("--model and --formula are mutually exclusive")
		}
		job.Formula = &jobfile.Formula{Expression: f.formula, Variables: f.variables, Parameters: f.params}
	} else if f.name == "" {
		return nil, fmt.Errorf("one of --model or --formula is required")
	}
	return job.ResolveModel(src)
}

type paramFlags struct {
	initial map[string]string
	lower   map[string]string
	upper   map[string]string
}

func (f *paramFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringToStringVar(&f.initial, "initial", nil, "Initial value overrides as index=value")
	cmd.Flags().StringToStringVar(&f.lower, "lower", nil, "Lower bound overrides as index=value")
	cmd.Flags().StringToStringVar(&f.upper, "upper", nil, "Upper bound overrides as index=value")
}

func (f *paramFlags) overrides() (fit.Overrides, error) {
	out := fit.Overrides{}
	set := func(flag string, values map[string]string, apply func(c *fit.ParameterConstraint, v float64)) error {
		for key, raw := range values {
			idx, err := strconv.Atoi(key)
			if err != nil {
				return fmt.Errorf("--%s: parameter index %q is not an integer", flag, key)
			}
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return fmt.Errorf("--%s: value %q is not a number", flag, raw)
			}
			c := out[idx]
			apply(&c, v)
			out[idx] = c
		}
		return nil
	}
	if err := set("initial", f.initial, func(c *fit.ParameterConstraint, v float64) { c.Initial = fit.Float(v) }); err != nil {
		return nil, err
	}
	if err := set("lower", f.lower, func(c *fit.ParameterConstraint, v float64) { c.Lower = fit.Float(v) }); err != nil {
		return nil, err
	}
	if err := set("upper", f.upper, func(c *fit.ParameterConstraint, v float64) { c.Upper = fit.Float(v) }); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

type weightFlags struct {
	ignore   bool
	absolute bool
}

func (f *weightFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.ignore, "ignore-sigma", false, "Fit unweighted even when the data has uncertainties")
	cmd.Flags().BoolVar(&f.absolute, "absolute-sigma", false, "Treat sigma as absolute; do not rescale the covariance (default FIT_ABSOLUTE_SIGMA)")
}

func (f *weightFlags) weighting(cmd *cobra.Command, s *app.FitService) app.Weighting {
	w := s.DefaultWeighting()
	w.IgnoreUncertainties = f.ignore
	if cmd.Flags().Changed("absolute-sigma") {
		w.AbsoluteSigma = f.absolute
	}
	return w
}

// parsePoints turns "a:b" rows into the columnar layout Predict expects.
func parsePoints(rows []string) ([][]float64, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	var cols [][]float64
	for i, row := range rows {
		fields := strings.Split(row, ":")
		if i == 0 {
			cols = make([][]float64, len(fields))
		} else if len(fields) != len(cols) {
			return nil, fmt.Errorf("--at %q: expected %d value(s)", row, len(cols))
		}
		for v, field := range fields {
			val, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, fmt.Errorf("--at %q: %q is not a number", row, field)
			}
			cols[v] = append(cols[v], val)
		}
	}
	return cols, nil
}
