// Package errs defines the error taxonomy shared by connectors, the executor and the API.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure by how callers must react to it.
type Kind string

const (
	// DataUnavailable: stale or missing ticker/position; the transition fails without retry.
	DataUnavailable Kind = "DATA_UNAVAILABLE"
	// ExchangeRejected: the venue refused the request (4xx); surfaced, never retried.
	ExchangeRejected Kind = "EXCHANGE_REJECTED"
	// Transient: network error or 5xx; retried with backoff by the executor.
	Transient Kind = "TRANSIENT"
	// Unknown: the call timed out; outcome is resolved by the watchdog.
	Unknown Kind = "UNKNOWN"
	// Conflict: the pair is already processing a transition.
	Conflict Kind = "CONFLICT"

	NotFound     Kind = "NOT_FOUND"
	InvalidParam Kind = "INVALID_PARAM"
	Internal     Kind = "INTERNAL"
)

// Error is a classified error.
type Error struct {
	Kind      Kind   `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Err       error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, errs.New(errs.Conflict, "")) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// HTTPStatus maps the kind to a response status for the manual command surface.
func (e *Error) HTTPStatus() int {
	return httpStatus(e.Kind)
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Retryable: kind == Transient}
}

// Newf creates a formatted error of the given kind.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, err error, message string) *Error {
	e := New(kind, message)
	e.Err = err
	return e
}

// KindOf returns the kind of err, Internal for unclassified errors and "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable reports whether the executor may retry the failed call.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// HTTPStatus returns the status code for err.
func HTTPStatus(err error) int {
	return httpStatus(KindOf(err))
}

func httpStatus(kind Kind) int {
	switch kind {
	case "":
		return http.StatusOK
	case InvalidParam:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case ExchangeRejected:
		return http.StatusUnprocessableEntity
	case DataUnavailable:
		return http.StatusServiceUnavailable
	case Transient:
		return http.StatusBadGateway
	case Unknown:
		return http.StatusAccepted
	default:
		return http.StatusInternalServerError
	}
}
