package goVerify

import (
	"context"
	"strings"
	"time"

	"github.com/MrEthical07/goVerify/internal"
	"github.com/MrEthical07/goVerify/internal/flows"
)

// RequestSecondFactor describes the requestsecondfactor operation and its observable behavior.
//
// RequestSecondFactor mails a fresh second-factor code to the account email.
// It fails with ErrSecondFactorDisabled when the account has not opted in.
func (e *Engine) RequestSecondFactor(ctx context.Context, userID string) (time.Time, error) {
	if err := e.ready(); err != nil {
		return time.Time{}, err
	}

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return time.Time{}, ErrInvalidInput
	}
	if err := e.checkLimit(ctx, "second_factor_request", userID, e.limiter.CheckSecondFactorRequest); err != nil {
		return time.Time{}, err
	}

	user, err := e.lookupUser(ctx, userID)
	if err != nil {
		return time.Time{}, err
	}
	if !user.SecondFactorEnabled {
		return time.Time{}, ErrSecondFactorDisabled
	}

	t, err := e.issue(ctx, PurposeSecondFactor, user.ID, user.ID, user.Email)
	if err != nil {
		return time.Time{}, err
	}
	return t.ExpiresAt, nil
}

// VerifySecondFactor checks a second-factor code. A verified code is then
// accepted once by [Engine.Authorize] within the configured window.
//
// The per-user verify budget is charged before the code is looked at, so once
// it runs out even the right code is refused with ErrRateLimited until the
// window passes. The token itself is left in place.
func (e *Engine) VerifySecondFactor(ctx context.Context, userID, code string) (User, error) {
	if err := e.ready(); err != nil {
		return User{}, err
	}

	userID = strings.TrimSpace(userID)
	code = strings.TrimSpace(code)
	if userID == "" || !internal.IsNumeric(code) {
		return User{}, ErrInvalidInput
	}
	if err := e.checkLimit(ctx, "second_factor_verify", userID, e.limiter.CheckSecondFactorVerify); err != nil {
		return User{}, err
	}

	if _, err := e.verify(ctx, PurposeSecondFactor, userID, userID, code, flows.VerifyMark); err != nil {
		return User{}, err
	}
	return e.lookupUser(ctx, userID)
}

// SetSecondFactor turns the second factor on or off. Turning it off drops
// any outstanding second-factor code.
func (e *Engine) SetSecondFactor(ctx context.Context, userID string, enabled bool) (User, error) {
	if err := e.ready(); err != nil {
		return User{}, err
	}

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return User{}, ErrInvalidInput
	}

	if err := e.users.SetSecondFactor(ctx, userID, enabled); err != nil {
		err = e.userStoreError(err)
		e.emitAudit(ctx, auditEventSecondFactorToggle, false, userID, userID, err, nil)
		return User{}, err
	}
	if !enabled {
		if err := e.tokens.DeleteAll(ctx, userID, PurposeSecondFactor); err != nil {
			return User{}, e.tokenStoreError(err)
		}
	}

	e.metricInc(MetricSecondFactorToggled)
	e.emitAudit(ctx, auditEventSecondFactorToggle, true, userID, userID, nil, func() map[string]string {
		state := "disabled"
		if enabled {
			state = "enabled"
		}
		return map[string]string{
			"state": state,
		}
	})
	return e.lookupUser(ctx, userID)
}
