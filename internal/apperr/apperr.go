// Package apperr carries a closed set of error kinds from the stores and
// services up to the HTTP boundary, where each kind maps to one status.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a failure.
type Kind string

const (
	MissingCredential   Kind = "MISSING_CREDENTIAL"
	InvalidCredential   Kind = "INVALID_CREDENTIAL"
	InsufficientScope   Kind = "INSUFFICIENT_SCOPE"
	RateLimited         Kind = "RATE_LIMITED"
	ValidationFailed    Kind = "VALIDATION_FAILED"
	NotFound            Kind = "NOT_FOUND"
	Conflict            Kind = "CONFLICT"
	UpstreamUnavailable Kind = "UPSTREAM_UNAVAILABLE"
	PersistenceFailure  Kind = "PERSISTENCE_FAILURE"
	Unexpected          Kind = "UNEXPECTED"
)

// Error is the value every service returns on failure. Message is safe to
// show to callers; Err is the internal cause and is only logged.
type Error struct {
	Kind       Kind
	Message    string
	Details    any
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error without an internal cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap builds an Error around an internal cause.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// Validation reports a malformed or missing field.
func Validation(msg string, details any) *Error {
	return &Error{Kind: ValidationFailed, Message: msg, Details: details}
}

// Persistence wraps a database failure behind a generic message.
func Persistence(msg string, err error) *Error {
	return &Error{Kind: PersistenceFailure, Message: msg, Err: err}
}

// Limited reports a rate-limit rejection.
func Limited(msg string, retryAfter time.Duration) *Error {
	return &Error{Kind: RateLimited, Message: msg, RetryAfter: retryAfter}
}

// As extracts the *Error from err, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err. Errors that carry no kind are Unexpected.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok {
		return e.Kind
	}
	return Unexpected
}

// Is reports whether err carries kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
