package utils

import (
	"errors"
	"fmt"
)

// AppError wraps an operation, human-facing message, and underlying error.
type AppError struct {
	Op     string
	Msg    string
	Status int
	Err    error
}

func (e *AppError) Error() string {
	msg := e.Msg
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", e.Msg, e.Status)
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}

// NewStatusError records a non-success upstream HTTP status.
func NewStatusError(op string, status int, body string) error {
	return &AppError{Op: op, Msg: body, Status: status}
}

// StatusCode extracts the upstream HTTP status from err, or 0.
func StatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return 0
}
