package errx

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	// SystemErrorMessage is a user-facing fallback when internal errors occur.
	SystemErrorMessage = "internal server error"
	// RedisErrorMessage describes Redis related failures.
	RedisErrorMessage = "redis operation failed"
	// RedisNotFoundMessage describes a missing Redis key or field.
	RedisNotFoundMessage = "redis key not found"
	// StorageErrorMessage describes failures of non-Redis session storage.
	StorageErrorMessage = "session storage operation failed"
	// ProcessingFailedMessage prefixes orchestration failures surfaced to callers.
	ProcessingFailedMessage = "Chat processing failed"
)

// ErrShapeCorrupted marks a stored session field whose structure does not
// match its expected type.
var ErrShapeCorrupted = errors.New("stored field has unexpected shape")

// AppError wraps an underlying error with an HTTP status and safe message.
type AppError struct {
	Err     error
	Status  int
	Message string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with the provided information.
func New(err error, status int, message string) *AppError {
	return &AppError{
		Err:     err,
		Status:  status,
		Message: message,
	}
}

// Validation reports malformed or oversized input. It is never retried.
func Validation(message string) *AppError {
	return New(nil, http.StatusBadRequest, message)
}

// Processing reports an unexpected orchestration fault. The message carries
// the cause so callers can show it without unwrapping.
func Processing(err error) *AppError {
	if err == nil {
		return New(nil, http.StatusInternalServerError, ProcessingFailedMessage)
	}
	return New(err, http.StatusInternalServerError, fmt.Sprintf("%s: %s", ProcessingFailedMessage, causeOf(err)))
}

// WrapStorage wraps a generic session storage error.
func WrapStorage(err error) error {
	if err == nil {
		return nil
	}
	return New(err, http.StatusBadGateway, StorageErrorMessage)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	return StatusOf(err) == http.StatusBadRequest
}

// StatusOf returns the HTTP status attached to err, or 500 when err carries none.
func StatusOf(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

// MessageOf returns the safe, user-facing message for err.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return SystemErrorMessage
}

// causeOf strips AppError layers so nested safe messages are not repeated.
func causeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Err != nil {
		return appErr.Err.Error()
	}
	return err.Error()
}
