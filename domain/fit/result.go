package fit

import (
	"fmt"
	"math"
	"strings"
)

// ============================================================================
// FIT OUTCOME (written once by the executor)
// ============================================================================

// Status is the optimizer's terminal condition.
type Status string

const (
	StatusConverged      Status = "converged"
	StatusMaxIterations  Status = "max_iterations"
	StatusTimeBudget     Status = "time_budget"
	StatusSingular       Status = "singular_jacobian"
	StatusStalled        Status = "stalled"
	StatusOptimizerError Status = "optimizer_error"
)

// Warnings attached to outcomes.
const (
	WarnPartialUncertainties = "partial-uncertainties"
	WarnDefaultInitialGuess  = "default-initial-guess"
	WarnZeroDegreesOfFreedom = "zero-degrees-of-freedom"
	WarnIgnoredUncertainties = "invalid-uncertainties-ignored"
)

// Outcome is the fitted parameter vector with diagnostics. Covariance is nil
// when it could not be estimated (singular normal matrix or no convergence).
type Outcome struct {
	Parameters  []float64   `json:"parameters"`
	Covariance  [][]float64 `json:"covariance,omitempty"`
	Converged   bool        `json:"converged"`
	Status      Status      `json:"status"`
	Method      string      `json:"method"`
	Iterations  int         `json:"iterations"`
	Evaluations int         `json:"evaluations"`
	WeightedSSR float64     `json:"weighted_ssr"` // Σ(wᵢ·rᵢ)² at Parameters
	Weighted    bool        `json:"weighted"`
	Warnings    []string    `json:"warnings,omitempty"`
}

// HasCovariance reports whether parameter covariance is available.
func (o *Outcome) HasCovariance() bool {
	return o.Covariance != nil
}

// ============================================================================
// STATISTICS REPORT
// ============================================================================

// ParameterEstimate is one fitted parameter with its uncertainty.
type ParameterEstimate struct {
	Name   string   `json:"name"`
	Value  float64  `json:"value"`
	StdErr *float64 `json:"std_err,omitempty"`
	Lower  *float64 `json:"ci_lower,omitempty"`
	Upper  *float64 `json:"ci_upper,omitempty"`
}

// ResidualSummary describes raw residuals y - f(x).
type ResidualSummary struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	MaxAbs float64 `json:"max_abs"`
}

// Report holds goodness-of-fit statistics. Nil pointers are undefined
// quantities (e.g. R² for a constant target), never NaN.
type Report struct {
	N                int                 `json:"n"`
	K                int                 `json:"k"`
	DOF              int                 `json:"dof"`
	SSRes            float64             `json:"ss_res"`
	SSTot            float64             `json:"ss_tot"`
	R2               *float64            `json:"r2,omitempty"`
	AdjustedR2       *float64            `json:"adjusted_r2,omitempty"`
	ChiSquare        *float64            `json:"chi_square,omitempty"`
	ReducedChiSquare *float64            `json:"reduced_chi_square,omitempty"`
	RMSE             float64             `json:"rmse"`
	AIC              *float64            `json:"aic,omitempty"`
	BIC              *float64            `json:"bic,omitempty"`
	ConfidenceLevel  float64             `json:"confidence_level"`
	Parameters       []ParameterEstimate `json:"parameters"`
	Residuals        ResidualSummary     `json:"residuals"`
	Partial          bool                `json:"partial"` // outcome did not converge
}

// ScoreMetric selects the checker ranking key. Lower is better for all.
type ScoreMetric string

const (
	ScoreAuto             ScoreMetric = "auto"
	ScoreReducedChiSquare ScoreMetric = "reduced_chi2"
	ScoreRMSE             ScoreMetric = "rmse"
	ScoreAIC              ScoreMetric = "aic"
	ScoreBIC              ScoreMetric = "bic"
	// ScoreR2 ranks by 1 - R².
	ScoreR2 ScoreMetric = "r2"
)

// ParseScoreMetric accepts the metric names above, case-insensitively.
func ParseScoreMetric(s string) (ScoreMetric, error) {
	m := ScoreMetric(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case "":
		return ScoreAuto, nil
	case ScoreAuto, ScoreReducedChiSquare, ScoreRMSE, ScoreAIC, ScoreBIC, ScoreR2:
		return m, nil
	}
	return "", fmt.Errorf("unknown score metric %q", s)
}

// Resolve turns ScoreAuto into reduced χ² when the dataset has
// uncertainties and RMSE otherwise.
func (m ScoreMetric) Resolve(hasUncertainty bool) ScoreMetric {
	if m != ScoreAuto && m != "" {
		return m
	}
	if hasUncertainty {
		return ScoreReducedChiSquare
	}
	return ScoreRMSE
}

// Score returns the report's value for metric and whether it is defined.
func (r *Report) Score(metric ScoreMetric) (float64, bool) {
	pick := func(p *float64) (float64, bool) {
		if p == nil || math.IsNaN(*p) {
			return 0, false
		}
		return *p, true
	}
	switch metric.Resolve(r.ChiSquare != nil) {
	case ScoreReducedChiSquare:
		return pick(r.ReducedChiSquare)
	case ScoreAIC:
		return pick(r.AIC)
	case ScoreBIC:
		return pick(r.BIC)
	case ScoreR2:
		if r.R2 == nil {
			return 0, false
		}
		return 1 - *r.R2, true
	default:
		if math.IsNaN(r.RMSE) || math.IsInf(r.RMSE, 0) {
			return 0, false
		}
		return r.RMSE, true
	}
}

// ============================================================================
// WORKFLOW RESULTS
// ============================================================================

// State is the terminal state of one fit request.
type State string

const (
	StateValidated     State = "validated"
	StateGuessComputed State = "guess_computed"
	StateFitted        State = "fitted"
	StateScored        State = "scored"
	StateScoredPartial State = "scored_partial"
	StateRejected      State = "rejected"
)

// Result is one (model, dataset, outcome) record.
type Result struct {
	RunID   string     `json:"run_id"`
	Model   *ModelSpec `json:"model"`
	Dataset string     `json:"dataset"`
	Guess   *Guess     `json:"guess,omitempty"`
	Outcome *Outcome   `json:"outcome,omitempty"`
	Report  *Report    `json:"report,omitempty"`
	State   State      `json:"state"`
	Error   string     `json:"error,omitempty"`
	Err     error      `json:"-"` // structured cause of a rejection
}

// Converged reports whether the result reached a converged outcome.
func (r *Result) Converged() bool {
	return r.Outcome != nil && r.Outcome.Converged
}

// BatchResult holds independent fits of one model, in dataset order.
type BatchResult struct {
	RunID   string     `json:"run_id"`
	Model   *ModelSpec `json:"model"`
	Entries []Result   `json:"entries"`
}

// RankedResult is a checker entry with its position and score.
type RankedResult struct {
	Rank   int      `json:"rank"`
	Score  *float64 `json:"score,omitempty"`
	Result Result   `json:"result"`
}

// CheckerResult ranks candidate models on one dataset, best first.
type CheckerResult struct {
	RunID   string         `json:"run_id"`
	Dataset string         `json:"dataset"`
	Metric  ScoreMetric    `json:"metric"`
	Ranked  []RankedResult `json:"ranked"`
}

// TotalEntry is one dataset's share of a joint fit.
type TotalEntry struct {
	Dataset    string      `json:"dataset"`
	Parameters []float64   `json:"parameters"`
	Covariance [][]float64 `json:"covariance,omitempty"`
	Report     *Report     `json:"report"`
}

// TotalResult is a joint fit of one model across datasets.
type TotalResult struct {
	RunID   string       `json:"run_id"`
	Model   *ModelSpec   `json:"model"`
	Shared  []bool       `json:"shared"`
	Outcome *Outcome     `json:"outcome"`
	Report  *Report      `json:"report"`
	Entries []TotalEntry `json:"entries"`
	State   State        `json:"state"`
}
