package types

import (
	"errors"
	"fmt"
)

// ErrorCode classifies pipeline failures. Critical codes abort the run and
// roll back the enclosing transaction in atomic mode; recoverable conditions
// are carried in the result's error list instead.
type ErrorCode string

const (
	ErrConfigLoadFailed     ErrorCode = "CONFIG_LOAD_FAILED"
	ErrDatabaseFailed       ErrorCode = "DATABASE_FAILED"
	ErrServiceInitFailed    ErrorCode = "SERVICE_INIT_FAILED"
	ErrStageExecutionFailed ErrorCode = "STAGE_EXECUTION_FAILED"
	ErrPersistenceFailed    ErrorCode = "PERSISTENCE_FAILED"
	ErrConcurrentExecution  ErrorCode = "CONCURRENT_EXECUTION"
	ErrDataCorruption       ErrorCode = "DATA_CORRUPTION"
	ErrValidationFailed     ErrorCode = "VALIDATION_FAILED"
	ErrBusinessRulesFailed  ErrorCode = "BUSINESS_RULES_FAILED"
	ErrPlatformConfigFailed ErrorCode = "PLATFORM_CONFIG_FAILED"
)

// PipelineError is the typed error surfaced for every critical failure.
type PipelineError struct {
	Code  ErrorCode
	Stage string
	Msg   string
	Err   error
}

func (e *PipelineError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Code, e.Stage, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// NewError builds a PipelineError without a wrapped cause.
func NewError(code ErrorCode, stage, format string, args ...any) *PipelineError {
	return &PipelineError{Code: code, Stage: stage, Msg: fmt.Sprintf(format, args...)}
}

// WrapError builds a PipelineError around an underlying cause.
func WrapError(code ErrorCode, stage string, err error, format string, args ...any) *PipelineError {
	return &PipelineError{Code: code, Stage: stage, Msg: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the ErrorCode from err, or empty when err is not a
// PipelineError.
func CodeOf(err error) ErrorCode {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
