package goVerify

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goVerify/internal"
	"github.com/MrEthical07/goVerify/internal/flows"
)

// RequestEmailOwnership mails a fresh email-ownership code to the account,
// with a verification link when Links.VerifyEmailURL is set.
func (e *Engine) RequestEmailOwnership(ctx context.Context, userID string) (time.Time, error) {
	if err := e.ready(); err != nil {
		return time.Time{}, err
	}

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return time.Time{}, ErrInvalidInput
	}

	user, err := e.lookupUser(ctx, userID)
	if err != nil {
		return time.Time{}, err
	}
	if user.EmailVerified {
		return time.Time{}, ErrAlreadyVerified
	}
	if err := e.checkLimit(ctx, "email_ownership_request", user.Email, e.limiter.CheckEmailOwnershipRequest); err != nil {
		return time.Time{}, err
	}

	t, err := e.issue(ctx, PurposeEmailOwnership, user.ID, user.ID, user.Email)
	if err != nil {
		return time.Time{}, err
	}
	return t.ExpiresAt, nil
}

// VerifyEmailOwnershipLink describes the verifyemailownershiplink operation and its observable behavior.
//
// VerifyEmailOwnershipLink confirms the address from a clicked link. The
// token is consumed and the account marked verified. A link for an account
// that is already verified fails with ErrAlreadyVerified and drops the
// leftover token.
func (e *Engine) VerifyEmailOwnershipLink(ctx context.Context, linkToken string) (User, error) {
	if err := e.ready(); err != nil {
		return User{}, err
	}

	userID, code, err := internal.DecodeLinkToken(strings.TrimSpace(linkToken))
	if err != nil {
		return User{}, ErrInvalidInput
	}

	user, err := e.lookupUser(ctx, userID)
	if err != nil {
		return User{}, invalidLink(err)
	}
	if user.EmailVerified {
		if err := e.tokens.DeleteAll(ctx, user.ID, PurposeEmailOwnership); err != nil {
			return User{}, e.tokenStoreError(err)
		}
		return User{}, ErrAlreadyVerified
	}

	if _, err := e.verify(ctx, PurposeEmailOwnership, user.ID, user.ID, code, flows.VerifyConsume); err != nil {
		return User{}, invalidLink(err)
	}
	return e.markEmailVerified(ctx, user)
}

// VerifyEmailOwnershipCode confirms the address from a typed code. The token
// stays verified so the same code can complete a pending login through
// [Engine.Authorize]. Submitting that code again succeeds without side
// effects while the token is held; a wrong code spends one of its attempts.
// Once no verified token is held, the call fails with ErrAlreadyVerified.
func (e *Engine) VerifyEmailOwnershipCode(ctx context.Context, userID, code string) (User, error) {
	if err := e.ready(); err != nil {
		return User{}, err
	}

	userID = strings.TrimSpace(userID)
	code = strings.TrimSpace(code)
	if userID == "" || !internal.IsNumeric(code) {
		return User{}, ErrInvalidInput
	}

	user, err := e.lookupUser(ctx, userID)
	if err != nil {
		return User{}, err
	}
	if user.EmailVerified {
		return e.confirmVerifiedCode(ctx, user, code)
	}

	if _, err := e.verify(ctx, PurposeEmailOwnership, user.ID, user.ID, code, flows.VerifyMark); err != nil {
		return User{}, err
	}
	return e.markEmailVerified(ctx, user)
}

// confirmVerifiedCode accepts a repeat of the code that verified user while
// its token is still held for the login step. A wrong code is charged to the
// held token like any other guess.
func (e *Engine) confirmVerifiedCode(ctx context.Context, user User, code string) (User, error) {
	t, err := e.tokens.Find(ctx, user.ID, PurposeEmailOwnership)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return User{}, ErrAlreadyVerified
		}
		return User{}, e.tokenStoreError(err)
	}
	if !t.Verified || t.Expired(e.now()) {
		return User{}, ErrAlreadyVerified
	}
	if subtle.ConstantTimeCompare([]byte(t.Code), []byte(code)) == 1 {
		return user, nil
	}

	limit := e.config.Tokens.For(PurposeEmailOwnership).MaxAttempts
	reserved, err := e.tokens.ReserveAttempt(ctx, t, limit)
	if err != nil {
		return User{}, e.tokenStoreError(err)
	}
	if !reserved || t.Attempts+1 >= limit {
		if err := e.tokens.Delete(ctx, t); err != nil && !errors.Is(err, ErrTokenNotFound) {
			return User{}, e.tokenStoreError(err)
		}
	}
	return User{}, ErrTokenMismatch
}

func (e *Engine) markEmailVerified(ctx context.Context, user User) (User, error) {
	at := e.now().UTC()
	if err := e.users.MarkEmailVerified(ctx, user.ID, at); err != nil {
		return User{}, e.userStoreError(err)
	}
	user.EmailVerified = true
	user.EmailVerifiedAt = &at
	return user, nil
}

// invalidLink reports unknown users and missing tokens as one inactive-link
// ErrInvalidInput.
func invalidLink(err error) error {
	if errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrTokenNotFound) {
		return fmt.Errorf("%w: verification link is not active", ErrInvalidInput)
	}
	return err
}
