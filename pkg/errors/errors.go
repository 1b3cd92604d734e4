// Package errors defines the application error type shared by services and
// handlers, and its mapping to HTTP responses.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors. Every AppError except Internal wraps one of them.
var (
	ErrNotFound        = errors.New("resource not found")
	ErrAlreadyExists   = errors.New("resource already exists")
	ErrConflict        = errors.New("conflict")
	ErrInvalidInput    = errors.New("invalid input")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrTooManyRequests = errors.New("too many requests")
)

type kind struct {
	sentinel error
	status   int
	code     string
	message  string
}

// kinds is ordered: the first sentinel found in an error chain wins.
var kinds = []kind{
	{ErrNotFound, http.StatusNotFound, "NOT_FOUND", "resource not found"},
	{ErrAlreadyExists, http.StatusConflict, "ALREADY_EXISTS", "resource already exists"},
	{ErrConflict, http.StatusConflict, "CONFLICT", "request conflicts with current state"},
	{ErrInvalidInput, http.StatusBadRequest, "INVALID_INPUT", "invalid input"},
	{ErrUnauthorized, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required"},
	{ErrForbidden, http.StatusForbidden, "FORBIDDEN", "insufficient permissions"},
	{ErrTooManyRequests, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests"},
}

// AppError is an error with a machine-readable code, a client-safe message
// and the HTTP status it maps to. Err is for errors.Is and is never sent to clients.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func newError(sentinel error, message string) *AppError {
	for _, k := range kinds {
		if k.sentinel == sentinel {
			return &AppError{Code: k.code, Message: message, Status: k.status, Err: sentinel}
		}
	}
	panic("errors: unregistered sentinel " + sentinel.Error())
}

// NotFound creates a 404 error. An empty id leaves it out of the message.
func NotFound(resource, id string) *AppError {
	if id == "" {
		return newError(ErrNotFound, resource+" not found")
	}
	return newError(ErrNotFound, fmt.Sprintf("%s with id %s not found", resource, id))
}

// AlreadyExists creates a 409 error for a unique field collision.
func AlreadyExists(resource, field, value string) *AppError {
	return newError(ErrAlreadyExists, fmt.Sprintf("%s with %s %q already exists", resource, field, value))
}

// Conflict creates a 409 error for a state conflict.
func Conflict(message string) *AppError {
	return newError(ErrConflict, message)
}

// InvalidInput creates a 400 error.
func InvalidInput(message string) *AppError {
	return newError(ErrInvalidInput, message)
}

// Unauthorized creates a 401 error.
func Unauthorized(message string) *AppError {
	return newError(ErrUnauthorized, message)
}

// Unauthenticated creates a 401 error with a caller-chosen code so clients
// can tell an expired session from a rejected one. cause stays reachable
// through errors.Is.
func Unauthenticated(code, message string, cause error) *AppError {
	if cause == nil {
		cause = ErrUnauthorized
	}
	return &AppError{Code: code, Message: message, Status: http.StatusUnauthorized, Err: cause}
}

// Forbidden creates a 403 error.
func Forbidden(message string) *AppError {
	return newError(ErrForbidden, message)
}

// TooManyRequests creates a 429 error.
func TooManyRequests(message string) *AppError {
	return newError(ErrTooManyRequests, message)
}

// Internal creates a 500 error that hides err from clients.
func Internal(err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: "an internal error occurred",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// As returns the AppError in err's chain. A bare sentinel gets its default
// code and message; any other error becomes Internal(err).
func As(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	for _, k := range kinds {
		if errors.Is(err, k.sentinel) {
			return &AppError{Code: k.code, Message: k.message, Status: k.status, Err: err}
		}
	}
	return Internal(err)
}

// HTTPStatus returns the HTTP status code for err.
func HTTPStatus(err error) int {
	return As(err).Status
}
