package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/flowpay/server/internal/shared/errors"
)

// Envelope is the uniform response wrapper. Exactly one of Data and Error
// is set.
type Envelope struct {
	Success bool        `json:"success"`
	Data    any         `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
}

// ErrorBody carries a machine-readable code and a human-readable message.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Success sends a success envelope.
func Success(c *gin.Context, status int, data any) {
	c.JSON(status, Envelope{Success: true, Data: data})
}

// OK sends a 200 success envelope.
func OK(c *gin.Context, data any) {
	Success(c, http.StatusOK, data)
}

// Created sends a 201 success envelope.
func Created(c *gin.Context, data any) {
	Success(c, http.StatusCreated, data)
}

// Error sends an error envelope with the given status, code and message.
func Error(c *gin.Context, status int, code, message string) {
	c.JSON(status, Envelope{Success: false, Error: &ErrorBody{Code: code, Message: message}})
}

// BadRequest sends a 400 validation error.
func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, "VALIDATION_ERROR", message)
}

// Unauthorized sends a 401 error.
func Unauthorized(c *gin.Context, message string) {
	if message == "" {
		message = "authentication required"
	}
	Error(c, http.StatusUnauthorized, "UNAUTHORIZED", message)
}

// Forbidden sends a 403 error.
func Forbidden(c *gin.Context, message string) {
	if message == "" {
		message = "access denied"
	}
	Error(c, http.StatusForbidden, "FORBIDDEN", message)
}

// NotFound sends a 404 error.
func NotFound(c *gin.Context, message string) {
	if message == "" {
		message = "not found"
	}
	Error(c, http.StatusNotFound, "NOT_FOUND", message)
}

// InternalError sends a 500 error.
func InternalError(c *gin.Context, message string) {
	if message == "" {
		message = "internal error"
	}
	Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", message)
}

// FromError maps an application error to its HTTP response. Unknown errors
// are masked as internal errors so provider details never leak to clients.
func FromError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		Error(c, appErr.StatusCode, appErr.Code, appErr.Message)
		return
	}
	InternalError(c, "")
}
