package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// All components MUST use these constants instead of hardcoded strings;
// the scheduler's candidate fallback dispatches on code, never on message text.
const (
	// Validation (400)
	ErrCodeValidationModelUnknown     ErrorCode = "validation_model_unknown"
	ErrCodeValidationElevationInvalid ErrorCode = "validation_elevation_invalid"
	ErrCodeValidationMissingField     ErrorCode = "validation_missing_required_field"

	// Not Found (404)
	ErrCodeNotFoundResort   ErrorCode = "not_found_resort"
	ErrCodeNotFoundForecast ErrorCode = "not_found_forecast"
	ErrCodeNotFoundBlend    ErrorCode = "not_found_blend"
	ErrCodeNotFoundModelRun ErrorCode = "not_found_model_run"

	// Upstream/extraction (502)
	// ErrCodeUpstreamNoForecastHours is the "not yet published" signal: the
	// requested run produced zero available forecast-hour offsets. The
	// scheduler retries an older candidate run on this code and only this code.
	ErrCodeUpstreamNoForecastHours ErrorCode = "upstream_no_forecast_hours"
	ErrCodeUpstreamGridUnavailable ErrorCode = "upstream_grid_unavailable"
	ErrCodeExtractionAllNull       ErrorCode = "extraction_all_null"

	// Blend (422)
	ErrCodeBlendNoForecasts ErrorCode = "blend_no_forecasts"

	// Conflict (409)
	// ErrCodeConflictJobRunning is returned by manual triggers when the
	// requested job's single-instance guard is already held.
	ErrCodeConflictJobRunning ErrorCode = "conflict_job_running"

	// Internal (500)
	ErrCodeInternalDB         ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Used by the ops server to translate AppErrors into HTTP responses.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest // 400
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound // 404
	case strings.HasPrefix(s, "upstream_"), strings.HasPrefix(s, "extraction_"):
		return http.StatusBadGateway // 502
	case strings.HasPrefix(s, "blend_"):
		return http.StatusUnprocessableEntity // 422
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict // 409
	case strings.HasPrefix(s, "internal_"):
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}

// AppError is the standard application error type used throughout the engine.
// All domain errors should be expressed as AppError to enable consistent
// error formatting, code-based dispatch, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error with the provided details merged in.
// This is useful for adding context without mutating the original error.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error. This is the standard constructor for domain errors.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// CodeOf extracts the ErrorCode from an error chain. Returns
// ErrCodeInternalUnexpected when the chain contains no AppError.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternalUnexpected
}

// IsNoForecastHours reports whether the error chain carries the
// "run not yet published" signal that drives candidate fallback.
func IsNoForecastHours(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == ErrCodeUpstreamNoForecastHours
}

// IsJobRunning reports whether the error chain carries a single-instance
// guard conflict from a manual trigger.
func IsJobRunning(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == ErrCodeConflictJobRunning
}
