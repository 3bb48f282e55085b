package flows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goVerify/internal/token"
)

var (
	errInvalid          = errors.New("invalid verification request")
	errExpired          = errors.New("verification token expired")
	errAttemptsExceeded = errors.New("verification attempts exceeded")
	errMismatch         = errors.New("verification code mismatch")
	errDeliveryFailed   = errors.New("verification delivery failed")
	errEngineNotReady   = errors.New("engine not ready")
)

type TokenMetrics struct {
	Issued           int
	Verified         int
	Failure          int
	Expired          int
	AttemptsExceeded int
	DeliveryFailure  int
}

type TokenEvents struct {
	Issue  string
	Verify string
}

type TokenErrors struct {
	EngineNotReady   error
	Invalid          error
	NotFound         error
	Expired          error
	AttemptsExceeded error
	Mismatch         error
	DeliveryFailed   error
	Unavailable      error
}

// TokenDeps is the dependency set shared by RunIssue and RunVerify. The root
// engine builds it per call so Notify can close over the recipient.
type TokenDeps struct {
	Store   token.Store
	Now     func() time.Time
	NewCode func(int) (string, error)
	NewID   func() string
	Notify  func(context.Context, token.Token) error

	MetricInc func(int)
	EmitAudit func(context.Context, string, bool, string, error, func() map[string]string)

	Metrics TokenMetrics
	Events  TokenEvents
	Errors  TokenErrors
}

func normalizeTokenDeps(deps *TokenDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, bool, string, error, func() map[string]string) {}
	}
	fillError(&deps.Errors.EngineNotReady, errEngineNotReady)
	fillError(&deps.Errors.Invalid, errInvalid)
	fillError(&deps.Errors.NotFound, token.ErrNotFound)
	fillError(&deps.Errors.Expired, errExpired)
	fillError(&deps.Errors.AttemptsExceeded, errAttemptsExceeded)
	fillError(&deps.Errors.Mismatch, errMismatch)
	fillError(&deps.Errors.DeliveryFailed, errDeliveryFailed)
	fillError(&deps.Errors.Unavailable, token.ErrUnavailable)
}

func fillError(dst *error, fallback error) {
	if *dst == nil {
		*dst = fallback
	}
}

// mapStoreError keeps cancellation visible and folds every other store failure
// into the configured unavailable error.
func (deps TokenDeps) mapStoreError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, token.ErrNotFound) {
		return deps.Errors.NotFound
	}
	return fmt.Errorf("%w: %v", deps.Errors.Unavailable, err)
}
