package rate

import "errors"

var (
	// ErrRateLimited is returned when an identifier has exhausted its window budget.
	ErrRateLimited = errors.New("rate limited")
	// ErrStoreUnavailable wraps backend failures from a Store.
	ErrStoreUnavailable = errors.New("rate limit store unavailable")
)
