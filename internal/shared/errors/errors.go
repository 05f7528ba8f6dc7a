package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Common error types.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrBadRequest   = errors.New("bad request")
	ErrConflict     = errors.New("resource conflict")
	ErrInternal     = errors.New("internal error")
)

// AppError represents an application error with HTTP status and error code.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Err        error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches AppErrors by code so predefined errors work with errors.Is.
func (e *AppError) Is(target error) bool {
	var appErr *AppError
	if errors.As(target, &appErr) {
		return e.Code == appErr.Code
	}
	return false
}

// WithMessage returns a copy of the error with a specific message.
func (e *AppError) WithMessage(message string) *AppError {
	clone := *e
	clone.Message = message
	return &clone
}

// WithErr returns a copy of the error wrapping a cause.
func (e *AppError) WithErr(err error) *AppError {
	clone := *e
	clone.Err = err
	return &clone
}

// NewAppError creates a new application error.
func NewAppError(code string, message string, statusCode int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Err:        err,
	}
}

// Payment domain errors. Handlers map these directly to HTTP responses.
var (
	ErrUnsupportedProvider = &AppError{
		Code: "UNSUPPORTED_PROVIDER", Message: "unsupported payment provider",
		StatusCode: http.StatusBadRequest,
	}
	ErrInvalidAmount = &AppError{
		Code: "INVALID_AMOUNT", Message: "amount must be positive",
		StatusCode: http.StatusBadRequest,
	}
	ErrInvalidState = &AppError{
		Code: "INVALID_STATE", Message: "operation not allowed in current payment state",
		StatusCode: http.StatusBadRequest,
	}
	ErrInvalidSignature = &AppError{
		Code: "INVALID_SIGNATURE", Message: "callback signature verification failed",
		StatusCode: http.StatusBadRequest,
	}
	ErrProviderUnreachable = &AppError{
		Code: "PROVIDER_UNREACHABLE", Message: "payment provider is unreachable",
		StatusCode: http.StatusInternalServerError,
	}
	ErrDuplicateOrder = &AppError{
		Code: "CONFLICT", Message: "a payment with this order ID already exists",
		StatusCode: http.StatusConflict, Err: ErrConflict,
	}
)

// Common error constructors.

// NotFound creates a not found error.
func NotFound(resource string) *AppError {
	return &AppError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
		Err:        ErrNotFound,
	}
}

// Unauthorized creates an unauthorized error.
func Unauthorized(message string) *AppError {
	if message == "" {
		message = "authentication required"
	}
	return &AppError{
		Code:       "UNAUTHORIZED",
		Message:    message,
		StatusCode: http.StatusUnauthorized,
		Err:        ErrUnauthorized,
	}
}

// Forbidden creates a forbidden error.
func Forbidden(message string) *AppError {
	if message == "" {
		message = "access denied"
	}
	return &AppError{
		Code:       "FORBIDDEN",
		Message:    message,
		StatusCode: http.StatusForbidden,
		Err:        ErrForbidden,
	}
}

// ValidationError creates a validation error.
func ValidationError(message string) *AppError {
	return &AppError{
		Code:       "VALIDATION_ERROR",
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Err:        ErrBadRequest,
	}
}

// Conflict creates a conflict error.
func Conflict(message string) *AppError {
	return &AppError{
		Code:       "CONFLICT",
		Message:    message,
		StatusCode: http.StatusConflict,
		Err:        ErrConflict,
	}
}

// Internal creates an internal error.
func Internal(message string, err error) *AppError {
	return &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// GetStatusCode returns the appropriate HTTP status code for an error.
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
