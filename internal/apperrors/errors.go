// Package apperrors defines the error taxonomy surfaced at interface
// boundaries (HTTP responses, processor logs): BadRequest, NotFound,
// DependencyFailed, InternalServerError.
package apperrors

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Code classifies the failure for status-code mapping and logging.
type Code string

const (
	BadRequest           Code = "BadRequest"
	NotFound             Code = "NotFound"
	DependencyFailed     Code = "DependencyFailed"
	InternalServerError  Code = "InternalServerError"
)

// Error wraps a Code with a client-safe message. It implements the
// standard error interface so it can be returned and compared like any
// other Go error via errors.As.
type Error struct {
	ErrorCode    Code   `json:"error_code"`
	UserFeedback string `json:"user_feedback"`
	cause        error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.UserFeedback + ": " + e.cause.Error()
	}
	return e.UserFeedback
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an Error with no wrapped cause.
func New(code Code, userFeedback string) *Error {
	return &Error{ErrorCode: code, UserFeedback: userFeedback}
}

// Wrap builds an Error that carries an underlying cause for logging,
// without leaking it into the client-facing JSON body.
func Wrap(code Code, userFeedback string, cause error) *Error {
	return &Error{ErrorCode: code, UserFeedback: userFeedback, cause: cause}
}

// StatusCode maps a Code to its HTTP status.
func (c Code) StatusCode() int {
	switch c {
	case BadRequest:
		return 400
	case NotFound:
		return 404
	case DependencyFailed:
		return 424
	default:
		return 500
	}
}

// MarshalJSON emits {error_code, user_feedback} only, never the cause.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ErrorCode    Code   `json:"error_code"`
		UserFeedback string `json:"user_feedback"`
	}{e.ErrorCode, e.UserFeedback})
}

// WriteJSON encodes err as the standard {error_code, user_feedback} body,
// mapping its Code to an HTTP status. A plain error not produced by New
// or Wrap is reported as InternalServerError with a generic message so
// internals never leak to the client.
func WriteJSON(w http.ResponseWriter, err error) {
	var ae *Error
	if !errors.As(err, &ae) {
		ae = New(InternalServerError, "internal server error")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ae.ErrorCode.StatusCode())
	_ = json.NewEncoder(w).Encode(ae)
}
