package flows

import (
	"context"
	"crypto/subtle"
	"errors"

	"github.com/MrEthical07/goVerify/internal/token"
)

// VerifyMode selects what a successful verification does to the token.
type VerifyMode int

const (
	// VerifyMark flags the token verified and keeps it for a later session step.
	VerifyMark VerifyMode = iota
	// VerifyConsume deletes the token on success.
	VerifyConsume
)

type VerifyRequest struct {
	SubjectKey string
	Purpose    token.Purpose
	Code       string
	Config     token.Config
	Mode       VerifyMode
}

// RunVerify checks code against the active token for (SubjectKey, Purpose).
// Checks run in order: existence, expiry, attempt budget, equality. Every
// check reserves its attempt in the store before the result is used, so
// concurrent guesses share one budget; a guess that finds the budget spent
// deletes the token. Verifying an already verified token with the right code
// succeeds without side effects.
func RunVerify(ctx context.Context, req VerifyRequest, deps TokenDeps) (token.Token, error) {
	normalizeTokenDeps(&deps)

	if deps.Store == nil {
		return token.Token{}, deps.Errors.EngineNotReady
	}
	if req.SubjectKey == "" || req.Code == "" || !req.Purpose.Valid() {
		deps.MetricInc(deps.Metrics.Failure)
		deps.EmitAudit(ctx, deps.Events.Verify, false, req.SubjectKey, deps.Errors.Invalid, func() map[string]string {
			return map[string]string{
				"purpose": string(req.Purpose),
				"reason":  "invalid_request",
			}
		})
		return token.Token{}, deps.Errors.Invalid
	}

	t, err := deps.Store.Find(ctx, req.SubjectKey, req.Purpose)
	if err != nil {
		mapped := deps.mapStoreError(err)
		deps.MetricInc(deps.Metrics.Failure)
		deps.EmitAudit(ctx, deps.Events.Verify, false, req.SubjectKey, mapped, func() map[string]string {
			return map[string]string{
				"purpose": string(req.Purpose),
			}
		})
		return token.Token{}, mapped
	}

	now := deps.Now()
	if t.Expired(now) {
		return token.Token{}, deps.reject(ctx, req, t, deps.Errors.Expired, true, deps.Metrics.Expired)
	}
	if t.Attempts >= req.Config.MaxAttempts {
		return token.Token{}, deps.reject(ctx, req, t, deps.Errors.AttemptsExceeded, true, deps.Metrics.AttemptsExceeded)
	}
	match := subtle.ConstantTimeCompare([]byte(t.Code), []byte(req.Code)) == 1
	if !t.Verified || !match {
		reserved, err := deps.Store.ReserveAttempt(ctx, t, req.Config.MaxAttempts)
		if err != nil {
			return token.Token{}, deps.mapStoreError(err)
		}
		if !reserved {
			return token.Token{}, deps.reject(ctx, req, t, deps.Errors.AttemptsExceeded, true, deps.Metrics.AttemptsExceeded)
		}
		t.Attempts++
	}
	if !match {
		return token.Token{}, deps.reject(ctx, req, t, deps.Errors.Mismatch, false)
	}

	switch req.Mode {
	case VerifyConsume:
		if err := deps.Store.Delete(ctx, t); err != nil {
			return token.Token{}, deps.mapStoreError(err)
		}
	default:
		if !t.Verified {
			if err := deps.Store.MarkVerified(ctx, t); err != nil {
				return token.Token{}, deps.mapStoreError(err)
			}
		}
	}
	t.Verified = true

	deps.MetricInc(deps.Metrics.Verified)
	deps.EmitAudit(ctx, deps.Events.Verify, true, req.SubjectKey, nil, func() map[string]string {
		return map[string]string{
			"purpose": string(req.Purpose),
		}
	})
	return t, nil
}

func (deps TokenDeps) reject(ctx context.Context, req VerifyRequest, t token.Token, cause error, drop bool, metrics ...int) error {
	if drop {
		if err := deps.Store.Delete(ctx, t); err != nil && !errors.Is(err, token.ErrNotFound) {
			return deps.mapStoreError(err)
		}
	}
	for _, m := range metrics {
		deps.MetricInc(m)
	}
	deps.MetricInc(deps.Metrics.Failure)
	deps.EmitAudit(ctx, deps.Events.Verify, false, req.SubjectKey, cause, func() map[string]string {
		return map[string]string{
			"purpose":  string(req.Purpose),
			"token_id": t.ID,
		}
	})
	return cause
}
