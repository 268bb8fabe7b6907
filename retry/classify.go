package retry

import (
	"errors"

	"github.com/corridorpay/anchor-router/types"
)

// retryableCodes is the frozen classification table. Extend it by adding
// cases; never flip an existing entry silently, callers depend on the
// split staying stable.
var retryableCodes = map[types.Code]bool{
	// transient / not-yet-available
	types.CodeNotFound:        true,
	types.CodeStale:           true,
	types.CodeUnconfigured:    true,
	types.CodeEndpointUnknown: true,
	types.CodeRateLimited:     true,
	types.CodeNoQuotes:        true,
	types.CodeNoCandidate:     true,

	// terminal
	types.CodeUnauthorized: false,
	types.CodeValidation:   false,
	types.CodeReplay:       false,
	types.CodeCompliance:   false,
	types.CodeInternal:     false,
}

// Retryable reports whether err is worth another attempt. This is the single
// source of truth for retry decisions; other components must not special-case
// their own.
//
// Engine errors are classified by code. Foreign errors may opt in by
// implementing Retryable() bool; everything else is treated as fatal, since
// retrying an unknown failure risks hammering an anchor that will never
// recover.
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	var typed *types.Error
	if errors.As(err, &typed) {
		return retryableCodes[typed.Code]
	}

	var hinted interface{ Retryable() bool }
	if errors.As(err, &hinted) {
		return hinted.Retryable()
	}

	return false
}
