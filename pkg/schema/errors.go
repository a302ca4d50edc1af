package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeConflict            = "CONFLICT"
	ErrCodeInvalidTransition   = "INVALID_TRANSITION"
	ErrCodeUnresolvedReference = "UNRESOLVED_REFERENCE"
	ErrCodePathNotFound        = "PATH_NOT_FOUND"
	ErrCodeDispatch            = "DISPATCH_ERROR"
	ErrCodeStore               = "STORE_ERROR"
	ErrCodeCancelled           = "CANCELLED"
	ErrCodeExecution           = "EXECUTION_ERROR"
)

// WeftError is the structured error type for all engine operations.
type WeftError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	StepID  string         `json:"step_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *WeftError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.StepID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *WeftError) Unwrap() error {
	return e.Cause
}

// NewError creates a new WeftError.
func NewError(code, message string) *WeftError {
	return &WeftError{Code: code, Message: message}
}

// NewErrorf creates a new WeftError with a formatted message.
func NewErrorf(code, format string, args ...any) *WeftError {
	return &WeftError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a step ID to the error.
func (e *WeftError) WithStep(stepID string) *WeftError {
	e.StepID = stepID
	return e
}

// WithCause attaches an underlying cause.
func (e *WeftError) WithCause(err error) *WeftError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *WeftError) WithDetails(details map[string]any) *WeftError {
	e.Details = details
	return e
}

// CodeOf returns the structured code of err, or ErrCodeExecution when err
// is not a WeftError.
func CodeOf(err error) string {
	if we, ok := err.(*WeftError); ok {
		return we.Code
	}
	return ErrCodeExecution
}
