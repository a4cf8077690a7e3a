package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Stable error codes surfaced to admin-facing callers. End-member flows only
// ever see coarse contribution status, never these codes.
const (
	CodePermissionDenied    = "PERMISSION_DENIED"
	CodeNotFound            = "NOT_FOUND"
	CodeValidationError     = "VALIDATION_ERROR"
	CodeAlreadyConfirmed    = "ALREADY_CONFIRMED"
	CodeAlreadyScheduled    = "ALREADY_SCHEDULED"
	CodeGroupNotPaused      = "GROUP_NOT_PAUSED"
	CodeConcurrencyConflict = "CONCURRENCY_CONFLICT"
	CodeMaxAttemptsExceeded = "MAX_ATTEMPTS_EXCEEDED"
	CodeEmptyGroup          = "EMPTY_GROUP"
)

// Response is the unified API response format.
type Response struct {
	Code    int         `json:"code"`
	ErrCode string      `json:"err_code,omitempty"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// AppError represents a structured application error with HTTP status and a
// stable string error code.
type AppError struct {
	HTTPStatus int    // HTTP status code (e.g. 400, 404, 500)
	Code       int    // Numeric application-level error code
	ErrCode    string // Stable string code (PERMISSION_DENIED, ...)
	Message    string // Human-readable error message
}

func (e *AppError) Error() string {
	return e.Message
}

// Pre-defined error constructors

func NewPermissionDenied(msg string) *AppError {
	return &AppError{HTTPStatus: http.StatusForbidden, Code: 403, ErrCode: CodePermissionDenied, Message: msg}
}

func NewNotFound(msg string) *AppError {
	return &AppError{HTTPStatus: http.StatusNotFound, Code: 404, ErrCode: CodeNotFound, Message: msg}
}

func NewValidationError(msg string) *AppError {
	return &AppError{HTTPStatus: http.StatusBadRequest, Code: 400, ErrCode: CodeValidationError, Message: msg}
}

// NewTerminalState reports an operation against a record already in a terminal
// state (already paid, already scheduled, group not paused). The caller picks
// the specific ErrCode.
func NewTerminalState(errCode, msg string) *AppError {
	return &AppError{HTTPStatus: http.StatusConflict, Code: 409, ErrCode: errCode, Message: msg}
}

func NewConcurrencyConflict(msg string) *AppError {
	return &AppError{HTTPStatus: http.StatusConflict, Code: 409, ErrCode: CodeConcurrencyConflict, Message: msg}
}

func NewMaxAttemptsExceeded(msg string) *AppError {
	return &AppError{HTTPStatus: http.StatusUnprocessableEntity, Code: 422, ErrCode: CodeMaxAttemptsExceeded, Message: msg}
}

func NewEmptyGroup(msg string) *AppError {
	return &AppError{HTTPStatus: http.StatusUnprocessableEntity, Code: 422, ErrCode: CodeEmptyGroup, Message: msg}
}

func NewServerError(msg string) *AppError {
	return &AppError{HTTPStatus: http.StatusInternalServerError, Code: 500, Message: msg}
}

// IsCode reports whether err is an *AppError carrying the given ErrCode.
func IsCode(err error, errCode string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.ErrCode == errCode
}

// --- Gin response helpers ---

// Success sends a 200 OK response with data.
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    0,
		Message: "ok",
		Data:    data,
	})
}

// Created sends a 201 Created response with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code:    0,
		Message: "created",
		Data:    data,
	})
}

// Error sends an error response. If err is an *AppError, its codes and status
// are used; otherwise a generic 500 internal server error is returned.
func Error(c *gin.Context, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		c.JSON(appErr.HTTPStatus, Response{
			Code:    appErr.Code,
			ErrCode: appErr.ErrCode,
			Message: appErr.Message,
		})
		return
	}
	c.JSON(http.StatusInternalServerError, Response{
		Code:    500,
		Message: err.Error(),
	})
}

// Convenience error response functions

func BadRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, Response{Code: 400, ErrCode: CodeValidationError, Message: msg})
}

func Unauthorized(c *gin.Context, msg string) {
	c.JSON(http.StatusUnauthorized, Response{Code: 401, Message: msg})
}

func Forbidden(c *gin.Context, msg string) {
	c.JSON(http.StatusForbidden, Response{Code: 403, ErrCode: CodePermissionDenied, Message: msg})
}

func NotFound(c *gin.Context, msg string) {
	c.JSON(http.StatusNotFound, Response{Code: 404, ErrCode: CodeNotFound, Message: msg})
}

func ServerError(c *gin.Context, msg string) {
	c.JSON(http.StatusInternalServerError, Response{Code: 500, Message: msg})
}
