package errorx

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryValidation ErrorCategory = "validation"
	CategoryNotFound   ErrorCategory = "not_found"
	CategoryInternal   ErrorCategory = "internal"
	CategoryEngine     ErrorCategory = "engine"
	CategoryTimeout    ErrorCategory = "timeout"
	CategoryCapacity   ErrorCategory = "capacity"
)

// Severity represents the severity level of an error
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// APIError represents a structured API error returned to HTTP clients
type APIError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Category   ErrorCategory  `json:"category"`
	Severity   Severity       `json:"severity"`
	HTTPStatus int            `json:"-"`
	Retryable  bool           `json:"retryable,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	TraceID    string         `json:"trace_id,omitempty"`
	Timestamp  string         `json:"timestamp,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Category, e.Message)
}

// JSON returns the error as a JSON string
func (e *APIError) JSON() string {
	out, _ := json.Marshal(e)
	return string(out)
}

// Clone returns a copy that can be decorated without touching the shared template.
func (e *APIError) Clone() *APIError {
	cp := *e
	if e.Details != nil {
		cp.Details = make(map[string]any, len(e.Details))
		for k, v := range e.Details {
			cp.Details[k] = v
		}
	}
	return &cp
}

// WithDetail returns a copy of the error carrying an extra detail
func (e *APIError) WithDetail(key string, value any) *APIError {
	cp := e.Clone()
	if cp.Details == nil {
		cp.Details = make(map[string]any)
	}
	cp.Details[key] = value
	return cp
}

var (
	// Validation Errors (E1000-E1999)
	ErrInvalidInput = &APIError{
		Code:       "E1001",
		Message:    "Invalid request",
		Category:   CategoryValidation,
		Severity:   SeverityWarning,
		HTTPStatus: http.StatusBadRequest,
	}

	ErrInvalidPositionAPI = &APIError{
		Code:       "E1002",
		Message:    "Invalid position or move sequence",
		Category:   CategoryValidation,
		Severity:   SeverityWarning,
		HTTPStatus: http.StatusBadRequest,
	}

	// Not Found Errors (E4000-E4999)
	ErrSessionNotFoundAPI = &APIError{
		Code:       "E4001",
		Message:    "Analysis session not found",
		Category:   CategoryNotFound,
		Severity:   SeverityInfo,
		HTTPStatus: http.StatusNotFound,
	}

	// Internal Server Errors (E5000-E5999)
	ErrInternalServer = &APIError{
		Code:       "E5001",
		Message:    "Internal server error occurred",
		Category:   CategoryInternal,
		Severity:   SeverityCritical,
		HTTPStatus: http.StatusInternalServerError,
	}

	ErrEngineInitialization = &APIError{
		Code:       "E5002",
		Message:    "Analysis engine failed to start",
		Category:   CategoryEngine,
		Severity:   SeverityError,
		HTTPStatus: http.StatusBadGateway,
		Retryable:  true,
	}

	ErrEngineCommunication = &APIError{
		Code:       "E5003",
		Message:    "Analysis engine stopped responding",
		Category:   CategoryEngine,
		Severity:   SeverityError,
		HTTPStatus: http.StatusBadGateway,
		Retryable:  true,
	}

	ErrEngineCapacity = &APIError{
		Code:       "E5031",
		Message:    "Timed out waiting for an analysis engine",
		Category:   CategoryCapacity,
		Severity:   SeverityWarning,
		HTTPStatus: http.StatusServiceUnavailable,
		Retryable:  true,
	}

	ErrServiceUnavailable = &APIError{
		Code:       "E5032",
		Message:    "The analysis service is not available",
		Category:   CategoryInternal,
		Severity:   SeverityWarning,
		HTTPStatus: http.StatusServiceUnavailable,
	}
)
