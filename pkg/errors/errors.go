package errors

import (
	"errors"
	"net/http"
)

// Standard error types
var (
	ErrInvalidStatus     = errors.New("invalid status")
	ErrMissingReason     = errors.New("decline reason is required")
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("order not found")
	ErrStoreUnavailable  = errors.New("order store unavailable")
	ErrLocked            = errors.New("session is locked")
	ErrSubscriptionEnded = errors.New("subscription closed")
)

// AppError represents a structured application error with context
type AppError struct {
	Err        error
	StatusCode int
	Message    string
	Retryable  bool
	Context    map[string]interface{}
}

// Error returns the error message
func (e *AppError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithContext adds additional context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new AppError with the given parameters
func NewAppError(err error, message string, statusCode int, retryable bool) *AppError {
	return &AppError{
		Err:        err,
		Message:    message,
		StatusCode: statusCode,
		Retryable:  retryable,
		Context:    make(map[string]interface{}),
	}
}

// IsRetryable checks if the error is retryable
func IsRetryable(err error) bool {
	var appErr *AppError

	if errors.As(err, &appErr) {
		return appErr.Retryable
	}

	return errors.Is(err, ErrStoreUnavailable)
}

// StatusCode maps an error onto the HTTP status the API reports for it
func StatusCode(err error) int {
	var appErr *AppError

	if errors.As(err, &appErr) && appErr.StatusCode != 0 {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrInvalidStatus),
		errors.Is(err, ErrMissingReason),
		errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrLocked):
		return http.StatusUnauthorized
	case errors.Is(err, ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewInvalidStatusError reports a status outside the known set
func NewInvalidStatusError(message string) *AppError {
	return NewAppError(ErrInvalidStatus, message, http.StatusBadRequest, false)
}

// NewMissingReasonError reports a decline without a reason
func NewMissingReasonError(message string) *AppError {
	return NewAppError(ErrMissingReason, message, http.StatusBadRequest, false)
}

// NewValidationError reports a missing or blank required field
func NewValidationError(message string) *AppError {
	return NewAppError(ErrValidation, message, http.StatusBadRequest, false)
}

// NewNotFoundError creates a not found error
func NewNotFoundError(message string) *AppError {
	return NewAppError(ErrNotFound, message, http.StatusNotFound, false)
}

// NewStoreUnavailableError reports a failed or timed out store call.
// Callers may retry it manually.
func NewStoreUnavailableError(message string) *AppError {
	return NewAppError(ErrStoreUnavailable, message, http.StatusServiceUnavailable, true)
}

// NewLockedError reports a session that has not passed the PIN gate
func NewLockedError(message string) *AppError {
	return NewAppError(ErrLocked, message, http.StatusUnauthorized, false)
}
