package limiters

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goVerify/internal/rate"
)

var (
	ErrVerificationRateLimited        = errors.New("verification rate limited")
	ErrVerificationLimiterUnavailable = errors.New("verification limiter unavailable")
)

// Policy is a budget of MaxAttempts calls per Window.
type Policy struct {
	MaxAttempts int
	Window      time.Duration
}

// VerificationConfig holds the per-endpoint budgets.
type VerificationConfig struct {
	LoginOTPRequest       Policy
	SecondFactorRequest   Policy
	SecondFactorVerify    Policy
	EmailOwnershipRequest Policy
	Authorize             Policy
}

// DefaultVerificationConfig returns the storefront budgets.
func DefaultVerificationConfig() VerificationConfig {
	return VerificationConfig{
		LoginOTPRequest:       Policy{MaxAttempts: 10, Window: 15 * time.Minute},
		SecondFactorRequest:   Policy{MaxAttempts: 5, Window: 15 * time.Minute},
		SecondFactorVerify:    Policy{MaxAttempts: 5, Window: 15 * time.Minute},
		EmailOwnershipRequest: Policy{MaxAttempts: 3, Window: 60 * time.Minute},
		Authorize:             Policy{MaxAttempts: 10, Window: 15 * time.Minute},
	}
}

type VerificationLimiter struct {
	limiter *rate.Limiter
	config  VerificationConfig
}

func NewVerificationLimiter(limiter *rate.Limiter, cfg VerificationConfig) *VerificationLimiter {
	return &VerificationLimiter{
		limiter: limiter,
		config:  cfg,
	}
}

func (l *VerificationLimiter) CheckLoginOTPRequest(ctx context.Context, email string) error {
	if l == nil {
		return nil
	}
	return l.enforce(ctx, loginOTPRequestKey(email), l.config.LoginOTPRequest)
}

func (l *VerificationLimiter) CheckSecondFactorRequest(ctx context.Context, userID string) error {
	if l == nil {
		return nil
	}
	return l.enforce(ctx, secondFactorRequestKey(userID), l.config.SecondFactorRequest)
}

func (l *VerificationLimiter) CheckSecondFactorVerify(ctx context.Context, userID string) error {
	if l == nil {
		return nil
	}
	return l.enforce(ctx, secondFactorVerifyKey(userID), l.config.SecondFactorVerify)
}

func (l *VerificationLimiter) CheckEmailOwnershipRequest(ctx context.Context, email string) error {
	if l == nil {
		return nil
	}
	return l.enforce(ctx, emailOwnershipRequestKey(email), l.config.EmailOwnershipRequest)
}

// CheckAuthorize budgets credential checks per account email, so code and
// password guesses against one address share a window.
func (l *VerificationLimiter) CheckAuthorize(ctx context.Context, email string) error {
	if l == nil {
		return nil
	}
	return l.enforce(ctx, authorizeKey(email), l.config.Authorize)
}

func (l *VerificationLimiter) enforce(ctx context.Context, key string, policy Policy) error {
	allowed, err := l.limiter.Admit(ctx, key, policy.MaxAttempts, policy.Window)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationLimiterUnavailable, err)
	}
	if !allowed {
		return ErrVerificationRateLimited
	}
	return nil
}

func loginOTPRequestKey(email string) string {
	return "otp-" + strings.ToLower(email)
}

func secondFactorRequestKey(userID string) string {
	return "2fa-generate-" + userID
}

func secondFactorVerifyKey(userID string) string {
	return "2fa-verify-" + userID
}

func emailOwnershipRequestKey(email string) string {
	return "verify-email-" + strings.ToLower(email)
}

func authorizeKey(email string) string {
	return "login-" + strings.ToLower(email)
}
