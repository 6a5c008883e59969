// Package jobfile reads fit job descriptions (YAML files or JSON request
// bodies) and runs them against the fit service.
//
//	mode: total
//	model: special/exponential
//	shared: [false, true]
//	datasets:
//	  - path: a.csv
//	    columns: {x: [t], y: counts, sigma: err}
//	  - name: station
//	    remote: {url: "https://lab.example/readings", data_path: data.items}
//	    columns: {x: [t], y: reading.value}
//	  - name: inline
//	    x: [[0, 1, 2, 3]]
//	    y: [5, 3.1, 1.8, 1.1]
//	overrides:
//	  1: {initial: -0.4, upper: 0}
package jobfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"curvefit/adapters/excel"
	"curvefit/adapters/remote"
	"curvefit/domain/fit"
	"curvefit/internal/errors"
)

// Job modes.
const (
	ModeSingle  = "single"
	ModeBatch   = "batch"
	ModeChecker = "checker"
	ModeTotal   = "total"
)

// Job is one fit run in any mode.
type Job struct {
	Mode       string        `json:"mode" yaml:"mode"`
	Model      string        `json:"model,omitempty" yaml:"model,omitempty"`
	Formula    *Formula      `json:"formula,omitempty" yaml:"formula,omitempty"`
	Candidates []string      `json:"candidates,omitempty" yaml:"candidates,omitempty"`
	Metric     string        `json:"metric,omitempty" yaml:"metric,omitempty"`
	Datasets   []DatasetRef  `json:"datasets" yaml:"datasets"`
	Shared     []bool        `json:"shared,omitempty" yaml:"shared,omitempty"`
	Overrides  fit.Overrides `json:"overrides,omitempty" yaml:"overrides,omitempty"`
	Weighting  Weighting     `json:"weighting,omitempty" yaml:"weighting,omitempty"`
}

// Formula declares a custom model.
type Formula struct {
	Expression string   `json:"expression" yaml:"expression"`
	Variables  []string `json:"variables" yaml:"variables"`
	Parameters int      `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// Weighting mirrors the service weighting policy. AbsoluteSigma nil keeps
// the configured default.
type Weighting struct {
	IgnoreUncertainties bool  `json:"ignore_uncertainties,omitempty" yaml:"ignore_uncertainties,omitempty"`
	AbsoluteSigma       *bool `json:"absolute_sigma,omitempty" yaml:"absolute_sigma,omitempty"`
}

// DatasetRef is a file or a remote JSON source with column selection, or
// inline columns.
type DatasetRef struct {
	Name    string         `json:"name,omitempty" yaml:"name,omitempty"`
	Path    string         `json:"path,omitempty" yaml:"path,omitempty"`
	Remote  *remote.Source `json:"remote,omitempty" yaml:"remote,omitempty"`
	Columns *excel.Columns `json:"columns,omitempty" yaml:"columns,omitempty"`

	X     [][]float64 `json:"x,omitempty" yaml:"x,omitempty"`
	Y     []float64   `json:"y,omitempty" yaml:"y,omitempty"`
	Sigma []float64   `json:"sigma,omitempty" yaml:"sigma,omitempty"`
}

// ModelSource resolves model references.
type ModelSource interface {
	LookupBuiltinModel(family, variant string) (*fit.ModelSpec, error)
	ParseCustomFormula(text string, variables []string, parameterCount int) (*fit.ModelSpec, error)
}

// Load reads and validates a job file.
func Load(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read job file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a job document. Unknown keys are rejected.
func Parse(data []byte) (*Job, error) {
	var job Job
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&job); err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, fmt.Errorf("parse job file: %w", err))
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return &job, nil
}

// Validate checks the structural rules of a job.
func (j *Job) Validate() error {
	j.Mode = strings.ToLower(strings.TrimSpace(j.Mode))
	if j.Mode == "" {
		j.Mode = ModeSingle
	}
	switch j.Mode {
	case ModeSingle, ModeBatch, ModeChecker, ModeTotal:
	default:
		return errors.InvalidInput(fmt.Sprintf("unknown job mode %q", j.Mode))
	}
	if len(j.Datasets) == 0 {
		return errors.InvalidInput("job needs at least one dataset")
	}
	if j.Mode == ModeSingle || j.Mode == ModeChecker {
		if len(j.Datasets) != 1 {
			return errors.InvalidInput(fmt.Sprintf("%s mode takes exactly one dataset, got %d", j.Mode, len(j.Datasets)))
		}
	}
	if j.Mode != ModeChecker {
		if (j.Model == "") == (j.Formula == nil) {
			return errors.InvalidInput("job needs exactly one of model or formula")
		}
	}
	if j.Mode != ModeTotal && j.Shared != nil {
		return errors.InvalidInput("shared is only valid in total mode")
	}
	if _, err := fit.ParseScoreMetric(j.Metric); err != nil {
		return errors.InvalidInput(err.Error())
	}
	for i, d := range j.Datasets {
		sources := 0
		for _, set := range []bool{d.Path != "", d.Remote != nil, d.Y != nil} {
			if set {
				sources++
			}
		}
		if sources != 1 {
			return errors.InvalidInput(fmt.Sprintf("dataset %d needs exactly one of path, remote or inline columns", i))
		}
		if d.Remote != nil {
			if err := d.Remote.Validate(); err != nil {
				return errors.Wrapf(err, "dataset %d", i)
			}
		}
	}
	return nil
}

// Inline reports whether every dataset carries its columns in the job
// itself rather than a file path or remote source.
func (j *Job) Inline() bool {
	for _, d := range j.Datasets {
		if d.Path != "" || d.Remote != nil {
			return false
		}
	}
	return true
}

// ScoreMetric returns the parsed checker metric, empty when the job
// leaves it to the engine configuration.
func (j *Job) ScoreMetric() fit.ScoreMetric {
	if strings.TrimSpace(j.Metric) == "" {
		return ""
	}
	m, _ := fit.ParseScoreMetric(j.Metric)
	return m
}

// ResolveModel returns the job's model, built-in or custom.
func (j *Job) ResolveModel(src ModelSource) (*fit.ModelSpec, error) {
	if j.Formula != nil {
		return src.ParseCustomFormula(j.Formula.Expression, j.Formula.Variables, j.Formula.Parameters)
	}
	return resolveName(src, j.Model)
}

// ResolveCandidates returns the checker candidates; nil means all
// compatible models.
func (j *Job) ResolveCandidates(src ModelSource) ([]*fit.ModelSpec, error) {
	if len(j.Candidates) == 0 {
		return nil, nil
	}
	out := make([]*fit.ModelSpec, 0, len(j.Candidates))
	for _, name := range j.Candidates {
		spec, err := resolveName(src, name)
		if err != nil {
			return nil, err
		}
		out = append(out, spec)
	}
	return out, nil
}

func resolveName(src ModelSource, name string) (*fit.ModelSpec, error) {
	family, variant, ok := strings.Cut(name, "/")
	if !ok {
		return nil, errors.Model(errors.ReasonUnknownModel, "model %q must be written family/variant", name)
	}
	return src.LookupBuiltinModel(family, variant)
}

// LoadDatasets materialises every dataset. Relative paths resolve
// against baseDir.
func (j *Job) LoadDatasets(ctx context.Context, baseDir string, log zerolog.Logger) ([]*fit.Dataset, error) {
	out := make([]*fit.Dataset, len(j.Datasets))
	for i, ref := range j.Datasets {
		ds, err := ref.load(ctx, baseDir, log)
		if err != nil {
			return nil, errors.Wrapf(err, "dataset %d", i)
		}
		out[i] = ds
	}
	return out, nil
}

func (d DatasetRef) load(ctx context.Context, baseDir string, log zerolog.Logger) (*fit.Dataset, error) {
	cols := excel.DefaultColumns()
	if d.Columns != nil {
		cols = *d.Columns
	}
	switch {
	case d.Remote != nil:
		name := d.Name
		if name == "" {
			name = "remote"
		}
		return remote.LoadDataset(ctx, name, *d.Remote, cols, nil, log)
	case d.Path == "":
		name := d.Name
		if name == "" {
			name = "inline"
		}
		return fit.NewDataset(name, d.X, d.Y, d.Sigma)
	}
	path := d.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	ds, err := excel.LoadDataset(path, cols, log)
	if err != nil {
		return nil, err
	}
	if d.Name != "" {
		ds.Name = d.Name
	}
	return ds, nil
}
