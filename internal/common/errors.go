package common

import (
	"errors"
	"net/http"
)

// AppError represents an error with an attached code and HTTP status.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// BadRequest is the 400 used for payloads that do not decode.
func BadRequest(err error) *AppError {
	return NewAppError("BAD_REQUEST", "invalid JSON payload", http.StatusBadRequest, err)
}

// PayloadTooLarge is the 413 for bodies over the configured limit.
func PayloadTooLarge(limit int64) *AppError {
	e := NewAppError("PAYLOAD_TOO_LARGE", "request entity too large", http.StatusRequestEntityTooLarge, nil)
	e.Details = map[string]any{"maxBytes": limit}
	return e
}

// WriteAppError renders err if it is, or wraps, an AppError and reports
// whether it did. Handlers fall through to their own mapping otherwise.
func WriteAppError(w http.ResponseWriter, err error) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	status := appErr.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	JSONError(w, status, appErr.Code, appErr.Message, appErr.Details)
	return true
}
