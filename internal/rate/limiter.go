package rate

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Record is the persisted window state for one identifier.
type Record struct {
	Count       int
	WindowStart time.Time
}

// Store performs one atomic admit decision for key. Implementations apply the
// reset-on-expiry rule documented on the package.
type Store interface {
	Admit(ctx context.Context, key string, maxAttempts int, window time.Duration, now time.Time) (bool, error)
}

// Limiter admits or denies calls per identifier against a caller-supplied budget.
type Limiter struct {
	store Store
	now   func() time.Time
}

// New creates a [Limiter] over store. A nil now defaults to time.Now.
func New(store Store, now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		store: store,
		now:   now,
	}
}

// Admit reports whether a call for identifier fits in maxAttempts per window.
func (l *Limiter) Admit(ctx context.Context, identifier string, maxAttempts int, window time.Duration) (bool, error) {
	if l == nil || l.store == nil {
		return false, fmt.Errorf("%w: no store configured", ErrStoreUnavailable)
	}
	if identifier == "" {
		return false, errors.New("rate limit identifier required")
	}
	if maxAttempts <= 0 || window <= 0 {
		return false, nil
	}

	allowed, err := l.store.Admit(ctx, identifier, maxAttempts, window, l.now())
	if err != nil {
		if errors.Is(err, ErrStoreUnavailable) {
			return false, err
		}
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return allowed, nil
}

// Check is Admit expressed as an error: nil when allowed, [ErrRateLimited] when denied.
func (l *Limiter) Check(ctx context.Context, identifier string, maxAttempts int, window time.Duration) error {
	allowed, err := l.Admit(ctx, identifier, maxAttempts, window)
	if err != nil {
		return err
	}
	if !allowed {
		return ErrRateLimited
	}
	return nil
}

// admitRecord applies the window rule to rec in place.
func admitRecord(rec *Record, exists bool, maxAttempts int, window time.Duration, now time.Time) bool {
	if !exists || now.After(rec.WindowStart.Add(window)) {
		rec.Count = 1
		rec.WindowStart = now
		return true
	}
	if rec.Count >= maxAttempts {
		return false
	}
	rec.Count++
	return true
}
