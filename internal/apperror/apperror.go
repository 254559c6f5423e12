package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrSyntax     = errors.New("incorrect syntax")
	ErrForbidden  = errors.New("forbidden")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrState      = errors.New("invalid state")
	ErrComm       = errors.New("communication failure")
	ErrValidation = errors.New("validation error")
)

// AppError is the error type every layer below the HTTP handlers returns.
// Handlers map Err to an HTTP status and pass Message and ErrorKey through
// to the client; the wrapped cause stays in the server log.
type AppError struct {
	Err      error  // sentinel above, picks the HTTP status
	Message  string // human-readable, safe for the end user
	ErrorKey string // optional stable key clients switch on
	Cause    error  // underlying error, never sent to the client
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Status returns the HTTP status code for any error, defaulting to 500.
func Status(err error) int {
	switch {
	case errors.Is(err, ErrSyntax), errors.Is(err, ErrState),
		errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrComm):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func Syntax(format string, args ...interface{}) *AppError {
	return &AppError{Err: ErrSyntax, Message: fmt.Sprintf(format, args...)}
}

func Forbidden() *AppError {
	return &AppError{Err: ErrForbidden, Message: "You don't have permission to do that"}
}

func NotFound(resource string) *AppError {
	return &AppError{Err: ErrNotFound, Message: resource + " could not be found"}
}

func Conflict(message string) *AppError {
	return &AppError{Err: ErrConflict, Message: message}
}

func State(message string) *AppError {
	return &AppError{Err: ErrState, Message: message}
}

// Comm wraps a third-party communication failure. The key is a stable
// identifier the frontend uses to pick a user-facing message.
func Comm(key, message string, cause error) *AppError {
	return &AppError{Err: ErrComm, Message: message, ErrorKey: key, Cause: cause}
}

func Validation(message string) *AppError {
	return &AppError{Err: ErrValidation, Message: message}
}
