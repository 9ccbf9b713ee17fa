// Package apperr defines the error taxonomy shared across services and
// its mapping to HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for transport mapping and logging.
type Kind string

const (
	KindUnauthorized  Kind = "unauthorized"
	KindNotFound      Kind = "not_found"
	KindBadRequest    Kind = "bad_request"
	KindConflict      Kind = "conflict"
	KindTimeout       Kind = "timeout"
	KindSandbox       Kind = "sandbox_error"
	KindToolExecution Kind = "tool_execution_error"
	KindLLMProvider   Kind = "llm_provider_error"
	KindInternal      Kind = "internal"
)

// Error is an error carrying a Kind and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps err with a kind and message. Returns nil if err is nil.
func Wrap(kind Kind, message string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps an error to an HTTP status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindBadRequest, KindConflict:
		return http.StatusBadRequest
	case KindTimeout:
		return http.StatusRequestTimeout
	case KindLLMProvider:
		return http.StatusTooManyRequests
	case KindSandbox:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
