package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeValidation      ErrorType = "validation"
	ErrorTypeNetwork         ErrorType = "network"
	ErrorTypeProcessing      ErrorType = "processing"
	ErrorTypeTimeout         ErrorType = "timeout"
	ErrorTypeNotFound        ErrorType = "not_found"
	ErrorTypeInternal        ErrorType = "internal"
	ErrorTypeStage           ErrorType = "stage"
	ErrorTypeStructural      ErrorType = "structural"
	ErrorTypeAdapterNotReady ErrorType = "adapter_not_ready"
)

// ErrAdapterNotInitialized is returned by every adapter capability after
// Dispose, and by model handles that outlived their adapter.
var ErrAdapterNotInitialized = &AppError{
	Type:       ErrorTypeAdapterNotReady,
	Message:    "adapter not initialized",
	StatusCode: http.StatusServiceUnavailable,
}

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	Details    string    `json:"details,omitempty"`
	StatusCode int       `json:"status_code"`
	Cause      error     `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches adapter-not-ready errors by type so wrapped copies of
// ErrAdapterNotInitialized still satisfy errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	if t == e {
		return true
	}
	return t.Type == ErrorTypeAdapterNotReady && e.Type == ErrorTypeAdapterNotReady
}

// NewValidationError creates a new validation error
func NewValidationError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Cause:      cause,
	}
}

// NewNetworkError creates a new network error
func NewNetworkError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeNetwork,
		Message:    message,
		StatusCode: http.StatusBadGateway,
		Cause:      cause,
	}
}

// NewProcessingError creates a new processing error
func NewProcessingError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeProcessing,
		Message:    message,
		StatusCode: http.StatusUnprocessableEntity,
		Cause:      cause,
	}
}

// NewTimeoutError creates a new timeout error
func NewTimeoutError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeTimeout,
		Message:    message,
		StatusCode: http.StatusGatewayTimeout,
		Cause:      cause,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Message:    message,
		StatusCode: http.StatusNotFound,
		Cause:      cause,
	}
}

// NewStageError marks a numeric routine that failed inside one pipeline
// stage. Stage errors are swallowed at the stage boundary.
func NewStageError(stage string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeStage,
		Message:    stage + " failed",
		Details:    stage,
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

// NewStructuralError creates an error for inputs that cannot be parsed at all
func NewStructuralError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeStructural,
		Message:    message,
		StatusCode: http.StatusUnprocessableEntity,
		Cause:      cause,
	}
}

// NewAdapterNotReadyError creates a resource failure for a capability that
// could not be initialized.
func NewAdapterNotReadyError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeAdapterNotReady,
		Message:    message,
		StatusCode: http.StatusServiceUnavailable,
		Cause:      cause,
	}
}

// IsType checks if the error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// IsAdapterNotReady reports whether err is the one failure class allowed to
// abort a recognition call.
func IsAdapterNotReady(err error) bool {
	return errors.Is(err, ErrAdapterNotInitialized)
}

// GetStatusCode extracts the HTTP status code from an error
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}
