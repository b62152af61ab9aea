// Package errors provides standardized error handling for the coaching pipeline.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

// Synchronous-path errors (webhook intake)
const (
	ErrCodeAuthRejected     ErrorCode = "AUTH_REJECTED"
	ErrCodeMalformedRequest ErrorCode = "MALFORMED_REQUEST"
)

// Admission / gating errors
const (
	ErrCodeAdmissionRejected ErrorCode = "ADMISSION_REJECTED"
	ErrCodeQuotaDenied       ErrorCode = "QUOTA_DENIED"
)

// Deferred-path errors
const (
	ErrCodeDependencyFailure  ErrorCode = "DEPENDENCY_FAILURE"
	ErrCodeContextFetchFailed ErrorCode = "CONTEXT_FETCH_FAILED"
	ErrCodeAnalysisFailed     ErrorCode = "ANALYSIS_FAILED"
	ErrCodeAnalysisTimeout    ErrorCode = "ANALYSIS_TIMEOUT"
	ErrCodeDeliveryFailure    ErrorCode = "DELIVERY_FAILURE"
	ErrCodeMissingUserToken   ErrorCode = "MISSING_USER_TOKEN"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// New creates a StandardError with the given code and message.
func New(code ErrorCode, message string) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Wrap creates a StandardError that carries the underlying error as details.
func Wrap(code ErrorCode, message string, err error) *StandardError {
	se := New(code, message)
	if err != nil {
		se.Details = err.Error()
	}
	return se
}

// WithMetadata attaches correlation info (user, channel, operation) to the error.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// WithRetryable marks the error retryable by an upstream caller.
func (e *StandardError) WithRetryable(retryable bool) *StandardError {
	e.Retryable = retryable
	return e
}

// ==========================
// 2. Classification Helpers
// ==========================

// CodeOf extracts the ErrorCode from err, unwrapping as needed.
// Unclassified errors report DEPENDENCY_FAILURE.
func CodeOf(err error) ErrorCode {
	var se *StandardError
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrCodeDependencyFailure
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// ==========================
// 3. HTTP Integration
// ==========================

// HTTPStatus maps an error code to the status the synchronous webhook
// path returns. Admission and quota outcomes are not transport errors:
// Slack expects 200 or it retries the delivery.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeAuthRejected:
		return http.StatusUnauthorized
	case ErrCodeMalformedRequest:
		return http.StatusBadRequest
	case ErrCodeAdmissionRejected, ErrCodeQuotaDenied:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}
