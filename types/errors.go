package types

import (
	"errors"
	"fmt"
	"time"
)

// Code classifies engine errors. The retry engine's classifier keys off
// these codes; see the retry package for the retryable/fatal split.
type Code string

const (
	// Transient / not-yet-available conditions
	CodeNotFound        Code = "not_found"
	CodeStale           Code = "stale"
	CodeUnconfigured    Code = "unconfigured"
	CodeEndpointUnknown Code = "endpoint_unknown"
	CodeRateLimited     Code = "rate_limited"
	CodeNoQuotes        Code = "no_quotes_available"
	CodeNoCandidate     Code = "no_candidate_available"

	// Terminal conditions
	CodeUnauthorized Code = "unauthorized"
	CodeValidation   Code = "validation"
	CodeReplay       Code = "replay"
	CodeCompliance   Code = "compliance"
	CodeInternal     Code = "internal"
)

// Error is the engine's typed error. Components return these rather than
// panicking; callers branch on the Code.
type Error struct {
	// Code classifies the failure
	Code Code

	// Message is a human-readable description
	Message string

	// Anchor names the provider involved, when one is
	Anchor string

	// RetryAfter is an optional provider-supplied hint for when the caller
	// may try again. Only meaningful for CodeRateLimited.
	RetryAfter time.Duration

	cause error
}

// E builds an Error with a formatted message.
func E(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithAnchor attaches the provider involved and returns the error.
func (e *Error) WithAnchor(anchor string) *Error {
	e.Anchor = anchor
	return e
}

// WithRetryAfter attaches a retry-after hint and returns the error.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

// WithCause attaches an underlying error and returns the error.
func (e *Error) WithCause(cause error) *Error {
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	if e.Anchor != "" {
		return fmt.Sprintf("%s: %s (anchor %s)", e.Code, e.Message, e.Anchor)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// CodeOf extracts the Code from err, unwrapping as needed. Errors that are
// not engine errors report CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// RetryAfterOf extracts the retry-after hint from err, or zero when none is
// carried.
func RetryAfterOf(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}
