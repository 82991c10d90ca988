// Package errors defines the sentinel errors shared by the index engine and
// its HTTP surface, plus an AppError type that carries a status code.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrWriterClosed        = errors.New("index writer closed")
	ErrWriterLocked        = errors.New("index writer already open")
	ErrUncommittedDataLost = errors.New("uncommitted changes would be lost")
	ErrCommitFailed        = errors.New("commit failed")
	ErrOpenFailed          = errors.New("open failed")
	ErrInvalidFieldConfig  = errors.New("invalid field configuration")
	ErrSearcherClosed      = errors.New("searcher closed")
	ErrCorruptIndex        = errors.New("corrupt index")
	ErrInvalidInput        = errors.New("invalid input")
	ErrRateLimited         = errors.New("rate limit exceeded")
	ErrTimeout             = errors.New("operation timed out")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// HTTPStatusCode maps an error chain onto the status code the search API
// responds with.
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidFieldConfig):
		return http.StatusBadRequest
	case errors.Is(err, ErrWriterLocked), errors.Is(err, ErrUncommittedDataLost):
		return http.StatusConflict
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrSearcherClosed), errors.Is(err, ErrWriterClosed), errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
