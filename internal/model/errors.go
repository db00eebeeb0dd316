package model

import "errors"

// Shared error taxonomy. Components wrap these with fmt.Errorf("...: %w", ...)
// so callers can branch with errors.Is regardless of which layer raised them.
var (
	// ErrDimensionMismatch: the two images cannot be compared pixel-wise.
	ErrDimensionMismatch = errors.New("image dimensions differ")

	// ErrImageTooLarge: input exceeds the configured pixel budget.
	ErrImageTooLarge = errors.New("image too large")

	// ErrBaselineNotFound is recoverable; callers may create a new baseline.
	ErrBaselineNotFound = errors.New("baseline not found")

	// ErrProviderUnavailable is recoverable; the fallback chain advances.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrBudgetExceeded is fatal for the current classification request.
	// The tracker raises it before any charge is applied.
	ErrBudgetExceeded = errors.New("budget exceeded")

	// ErrCacheIO degrades to cache-miss behavior.
	ErrCacheIO = errors.New("cache i/o error")

	// ErrResponseParse degrades to an unknown/medium classification.
	ErrResponseParse = errors.New("unparseable provider response")
)
