package goVerify

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/goVerify/internal"
	"github.com/MrEthical07/goVerify/internal/flows"
	"go.uber.org/zap"
)

// RequestLoginOTP describes the requestloginotp operation and its observable behavior.
//
// RequestLoginOTP mails a fresh login code to email, replacing any earlier
// one. It works for addresses with no account yet; the account is created on
// first successful verification. It returns the expiry of the new code.
func (e *Engine) RequestLoginOTP(ctx context.Context, email string) (time.Time, error) {
	if err := e.ready(); err != nil {
		return time.Time{}, err
	}

	addr, err := normalizeEmail(email)
	if err != nil {
		return time.Time{}, err
	}
	if err := e.checkLimit(ctx, "login_otp_request", addr, e.limiter.CheckLoginOTPRequest); err != nil {
		return time.Time{}, err
	}

	t, err := e.issue(ctx, PurposeLoginOTP, addr, "", addr)
	if err != nil {
		return time.Time{}, err
	}
	return t.ExpiresAt, nil
}

// VerifyLoginOTP checks a login code. On success the code stays verified for
// the session step, and the account is created when none exists.
//
// When the account still has to prove email ownership, or has a second factor
// enabled, the matching code is issued and the result says so; the login
// code alone will not mint a session in those cases.
func (e *Engine) VerifyLoginOTP(ctx context.Context, email, code string) (LoginOTPResult, error) {
	if err := e.ready(); err != nil {
		return LoginOTPResult{}, err
	}

	addr, err := normalizeEmail(email)
	if err != nil {
		return LoginOTPResult{}, err
	}
	code = strings.TrimSpace(code)
	if !internal.IsNumeric(code) {
		return LoginOTPResult{}, ErrInvalidInput
	}

	if _, err := e.verify(ctx, PurposeLoginOTP, addr, "", code, flows.VerifyMark); err != nil {
		return LoginOTPResult{}, err
	}

	user, err := e.findOrCreateUser(ctx, addr)
	if err != nil {
		return LoginOTPResult{}, err
	}

	result := LoginOTPResult{UserID: user.ID}
	switch {
	case !user.EmailVerified:
		t, err := e.issue(ctx, PurposeEmailOwnership, user.ID, user.ID, user.Email)
		if err != nil {
			return LoginOTPResult{}, err
		}
		result.RequiresEmailVerification = true
		result.NextExpiresAt = t.ExpiresAt
	case user.SecondFactorEnabled:
		t, err := e.issue(ctx, PurposeSecondFactor, user.ID, user.ID, user.Email)
		if err != nil {
			return LoginOTPResult{}, err
		}
		result.RequiresSecondFactor = true
		result.NextExpiresAt = t.ExpiresAt
	}

	return result, nil
}

// findOrCreateUser returns the account for email, creating it with an
// unusable random password when the address is new. A concurrent create
// that wins the race is read back.
func (e *Engine) findOrCreateUser(ctx context.Context, email string) (User, error) {
	user, err := e.users.GetUserByEmail(ctx, email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return User{}, e.userStoreError(err)
	}

	secret, err := internal.NewRandomSecret()
	if err != nil {
		return User{}, err
	}
	hash, err := e.hasher.Hash(secret)
	if err != nil {
		return User{}, err
	}

	user, err = e.users.CreateUser(ctx, CreateUserInput{
		Email:        email,
		PasswordHash: hash,
	})
	if errors.Is(err, ErrUserExists) {
		user, err = e.users.GetUserByEmail(ctx, email)
	}
	if err != nil {
		return User{}, e.userStoreError(err)
	}

	e.metricInc(MetricUserCreated)
	e.emitAudit(ctx, auditEventUserCreated, true, user.ID, email, nil, nil)
	e.logger.Info("account created from login code", zap.String("user_id", user.ID))
	return user, nil
}
