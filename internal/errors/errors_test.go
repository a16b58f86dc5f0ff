package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name:     "Without cause",
			err:      NewValidationError("bad input", nil),
			expected: "validation: bad input",
		},
		{
			name:     "With cause",
			err:      NewStageError("glcm", errors.New("empty image")),
			expected: "stage: glcm failed (caused by: empty image)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestIsAdapterNotReady(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"Sentinel", ErrAdapterNotInitialized, true},
		{"Wrapped sentinel", fmt.Errorf("load model: %w", ErrAdapterNotInitialized), true},
		{"Constructed", NewAdapterNotReadyError("onnx runtime missing", nil), true},
		{"Stage error", NewStageError("lbp", nil), false},
		{"Plain error", errors.New("boom"), false},
		{"Nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsAdapterNotReady(tt.err); got != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestIsType_Wrapped(t *testing.T) {
	err := fmt.Errorf("extract: %w", NewStructuralError("corrupt document", nil))
	if !IsType(err, ErrorTypeStructural) {
		t.Error("Expected wrapped structural error to match its type")
	}
	if IsType(err, ErrorTypeStage) {
		t.Error("Expected structural error not to match stage type")
	}
}

func TestGetStatusCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"Timeout", NewTimeoutError("recognition timed out", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"Adapter", ErrAdapterNotInitialized, http.StatusServiceUnavailable},
		{"Structural", NewStructuralError("bad pdf", nil), http.StatusUnprocessableEntity},
		{"Unknown", errors.New("other"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetStatusCode(tt.err); got != tt.expected {
				t.Errorf("Expected status %d, got %d", tt.expected, got)
			}
		})
	}
}
