package errors

import (
	"fmt"
)

// AppError represents a structured application error
type AppError struct {
	Code    string
	Reason  string
	Message string
	// Token and Position locate the offending input of a formula error.
	// Position is a rune offset, -1 when unknown.
	Token    string
	Position int
	// Param is the offending parameter index, -1 when not applicable.
	Param int
	Cause error
}

func (e *AppError) Error() string {
	msg := e.Message
	if e.Reason != "" {
		msg = fmt.Sprintf("%s(%s): %s", codeLabel(e.Code), e.Reason, e.Message)
	}
	if e.Position >= 0 && e.Token != "" {
		msg = fmt.Sprintf("%s (token %q at position %d)", msg, e.Token, e.Position)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches sentinels by code and reason so callers can use errors.Is
// against ErrUnderdetermined and friends.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	if t.Code != e.Code {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

// New creates a new AppError
func New(code, message string) *AppError {
	return &AppError{
		Code:     code,
		Message:  message,
		Position: -1,
		Param:    -1,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return &AppError{
			Code:     appErr.Code,
			Reason:   appErr.Reason,
			Message:  message,
			Position: -1,
			Param:    -1,
			Cause:    appErr,
		}
	}
	return &AppError{
		Code:     CodeInternalError,
		Message:  message,
		Position: -1,
		Param:    -1,
		Cause:    err,
	}
}

// Wrapf wraps an error with formatted additional context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WithCode adds an error code to an existing error
func WithCode(code string, err error) error {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		clone := *appErr
		clone.Code = code
		return &clone
	}
	return &AppError{
		Code:     code,
		Message:  err.Error(),
		Position: -1,
		Param:    -1,
		Cause:    err,
	}
}

// GetCode returns the error code if it's an AppError, otherwise returns "UNKNOWN"
func GetCode(err error) string {
	if appErr, ok := as(err); ok {
		return appErr.Code
	}
	return "UNKNOWN"
}

// GetReason returns the reason of the outermost AppError, or "".
func GetReason(err error) string {
	if appErr, ok := as(err); ok {
		return appErr.Reason
	}
	return ""
}

// as walks the Unwrap chain without importing the standard errors package
// under the same name.
func as(err error) (*AppError, bool) {
	for err != nil {
		if appErr, ok := err.(*AppError); ok {
			return appErr, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

// Predefined error codes
const (
	CodeConfigInvalid   = "CONFIG_INVALID"
	CodeValidationError = "VALIDATION_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeInternalError   = "INTERNAL_ERROR"
	CodeInvalidInput    = "INVALID_INPUT"

	CodeFormula   = "FORMULA_ERROR"
	CodeModel     = "MODEL_ERROR"
	CodeEstimator = "ESTIMATOR_ERROR"
	CodeFit       = "FIT_ERROR"
)

// Reasons
const (
	ReasonSyntax          = "Syntax"
	ReasonUnknownSymbol   = "UnknownSymbol"
	ReasonNoParameters    = "NoParameters"
	ReasonArity           = "Arity"
	ReasonInvalidVariable = "InvalidVariable"

	ReasonUnknownModel     = "UnknownModel"
	ReasonArityMismatch    = "ArityMismatch"
	ReasonInvalidShareMask = "InvalidShareMask"
	ReasonInvalidDataset   = "InvalidDataset"

	ReasonBoundInversion     = "BoundInversion"
	ReasonInitialOutOfBounds = "InitialOutOfBounds"
	ReasonUnknownParameter   = "UnknownParameter"
	ReasonNonFinite          = "NonFinite"

	ReasonUnderdetermined   = "Underdetermined"
	ReasonNonFiniteResidual = "NonFiniteResidual"
	ReasonOptimizerFailure  = "OptimizerFailure"
)

// Sentinels for errors.Is.
var (
	ErrEstimator = &AppError{Code: CodeEstimator}

	ErrNoParameters      = &AppError{Code: CodeFormula, Reason: ReasonNoParameters}
	ErrUnknownSymbol     = &AppError{Code: CodeFormula, Reason: ReasonUnknownSymbol}
	ErrUnknownModel      = &AppError{Code: CodeModel, Reason: ReasonUnknownModel}
	ErrArityMismatch     = &AppError{Code: CodeModel, Reason: ReasonArityMismatch}
	ErrBoundInversion    = &AppError{Code: CodeEstimator, Reason: ReasonBoundInversion}
	ErrInitialOutOfBound = &AppError{Code: CodeEstimator, Reason: ReasonInitialOutOfBounds}
	ErrUnderdetermined   = &AppError{Code: CodeFit, Reason: ReasonUnderdetermined}
	ErrNonFiniteResidual = &AppError{Code: CodeFit, Reason: ReasonNonFiniteResidual}
)

func codeLabel(code string) string {
	switch code {
	case CodeFormula:
		return "FormulaError"
	case CodeModel:
		return "ModelError"
	case CodeEstimator:
		return "EstimatorError"
	case CodeFit:
		return "FitError"
	}
	return code
}

// Common error constructors
func ConfigInvalid(message string) *AppError {
	return New(CodeConfigInvalid, message)
}

func NotFound(resource string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource))
}

func InternalError(message string) *AppError {
	return New(CodeInternalError, message)
}

func InvalidInput(message string) *AppError {
	return New(CodeInvalidInput, message)
}

// Formula reports a parse or security-boundary violation at a rune position.
func Formula(reason, token string, pos int, format string, args ...interface{}) *AppError {
	e := New(CodeFormula, fmt.Sprintf(format, args...))
	e.Reason = reason
	e.Token = token
	e.Position = pos
	return e
}

func Model(reason, format string, args ...interface{}) *AppError {
	e := New(CodeModel, fmt.Sprintf(format, args...))
	e.Reason = reason
	return e
}

// Estimator reports an invalid override for parameter param.
func Estimator(reason string, param int, format string, args ...interface{}) *AppError {
	e := New(CodeEstimator, fmt.Sprintf(format, args...))
	e.Reason = reason
	e.Param = param
	return e
}

func Fit(reason, format string, args ...interface{}) *AppError {
	e := New(CodeFit, fmt.Sprintf(format, args...))
	e.Reason = reason
	return e
}

func IsFormulaError(err error) bool { return GetCode(err) == CodeFormula }
func IsModelError(err error) bool { return GetCode(err) == CodeModel }
func IsFitError(err error) bool { return GetCode(err) == CodeFit }

// IsValidation reports whether err was raised before any optimizer call.
func IsValidation(err error) bool {
	switch GetCode(err) {
	case CodeFormula, CodeModel, CodeEstimator:
		return true
	case CodeFit:
		return GetReason(err) == ReasonUnderdetermined
	}
	return false
}
