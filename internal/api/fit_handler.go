package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"curvefit/adapters/jobfile"
	"curvefit/app"
	"curvefit/domain/fit"
	"curvefit/internal/errors"
	"curvefit/internal/fitstats"
)

// FitHandler handles model listing, fit jobs and predictions.
type FitHandler struct {
	service *app.FitService
	log     zerolog.Logger
}

// NewFitHandler creates a new fit handler
func NewFitHandler(service *app.FitService, log zerolog.Logger) *FitHandler {
	return &FitHandler{service: service, log: log}
}

// ListModels returns the catalog, optionally filtered by ?arity=N.
func (h *FitHandler) ListModels(c *gin.Context) {
	reg := h.service.Registry()
	raw := c.Query("arity")
	if raw == "" {
		c.JSON(http.StatusOK, reg.Entries())
		return
	}
	arity, err := strconv.Atoi(raw)
	if err != nil || arity < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "arity must be a positive integer"})
		return
	}
	c.JSON(http.StatusOK, reg.Compatible(arity))
}

// RunJob runs a job document with inline datasets.
func (h *FitHandler) RunJob(c *gin.Context) {
	var job jobfile.Job
	if err := c.ShouldBindJSON(&job); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	if err := job.Validate(); err != nil {
		h.fail(c, err)
		return
	}
	if !job.Inline() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "datasets must be sent inline; file paths are not accepted"})
		return
	}
	datasets, err := job.LoadDatasets(c.Request.Context(), "", h.log)
	if err != nil {
		h.fail(c, err)
		return
	}

	res, err := jobfile.Execute(c.Request.Context(), h.service, &job, datasets)
	if err != nil {
		if single, ok := res.(*fit.Result); ok && single != nil {
			c.JSON(statusFor(err), single)
			return
		}
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// PredictRequest evaluates a fitted model at new points.
type PredictRequest struct {
	Model      string           `json:"model,omitempty"`
	Formula    *jobfile.Formula `json:"formula,omitempty"`
	Parameters []float64        `json:"parameters" binding:"required"`
	Covariance [][]float64      `json:"covariance,omitempty"`
	X          [][]float64      `json:"x" binding:"required"`
	DOF        int              `json:"dof"`
	Level      float64          `json:"confidence_level,omitempty"`
	// ResidualVariance enables prediction intervals for new observations.
	ResidualVariance float64 `json:"residual_variance,omitempty"`
}

// Predict returns model values with propagated standard errors.
func (h *FitHandler) Predict(c *gin.Context) {
	var req PredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	if (req.Model == "") == (req.Formula == nil) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "exactly one of model or formula is required"})
		return
	}
	job := jobfile.Job{Model: req.Model, Formula: req.Formula}
	spec, err := job.ResolveModel(h.service)
	if err != nil {
		h.fail(c, err)
		return
	}
	level := req.Level
	if level == 0 {
		level = h.service.Config().ConfidenceLevel
	}
	pred, err := fitstats.Predict(spec, req.Parameters, req.Covariance, req.X, req.DOF, level, req.ResidualVariance)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"model": spec, "predictions": pred})
}

func (h *FitHandler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	body := gin.H{"error": err.Error(), "code": errors.GetCode(err)}
	if reason := errors.GetReason(err); reason != "" {
		body["reason"] = reason
	}
	c.JSON(status, body)
}

// statusFor maps error codes to HTTP statuses. Fit errors raised after
// validation are 422; everything the caller can fix is 400.
func statusFor(err error) int {
	switch errors.GetCode(err) {
	case errors.CodeInvalidInput, errors.CodeValidationError, errors.CodeConfigInvalid,
		errors.CodeFormula, errors.CodeModel, errors.CodeEstimator:
		return http.StatusBadRequest
	case errors.CodeFit:
		if errors.IsValidation(err) {
			return http.StatusBadRequest
		}
		return http.StatusUnprocessableEntity
	case errors.CodeNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
