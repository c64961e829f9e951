// Package apperr defines the closed set of error kinds the service
// propagates from storage/service layers up to the HTTP and WS boundary.
package apperr

import "errors"

// Kind is one of the §7 error kinds.
type Kind int

const (
	Internal Kind = iota
	ValidationFailure
	AuthMissing
	Forbidden
	NotFound
	Conflict
	RateLimited
)

// Error wraps a Kind with a human-readable message and optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	// RetryAfter is populated for RateLimited errors (seconds).
	RetryAfter int
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

func NotFoundf(msg string) *Error       { return New(NotFound, msg) }
func Forbiddenf(msg string) *Error      { return New(Forbidden, msg) }
func Conflictf(msg string) *Error       { return New(Conflict, msg) }
func ValidationFailf(msg string) *Error { return New(ValidationFailure, msg) }
func AuthMissingf(msg string) *Error    { return New(AuthMissing, msg) }

func RateLimitedf(msg string, retryAfter int) *Error {
	return &Error{Kind: RateLimited, Message: msg, RetryAfter: retryAfter}
}

// KindOf extracts the Kind from err, defaulting to Internal when err is not
// an *Error (or is nil, which callers should have already excluded).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// RetryAfterOf extracts RetryAfter, or 0 if err is not a RateLimited *Error.
func RetryAfterOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}
