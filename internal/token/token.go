package token

import (
	"context"
	"errors"
	"time"
)

// Purpose names the proof a verification token backs.
type Purpose string

const (
	PurposeLoginOTP       Purpose = "login_otp"
	PurposeEmailOwnership Purpose = "email_ownership"
	PurposeSecondFactor   Purpose = "second_factor"
)

// Valid reports whether p is one of the known purposes.
func (p Purpose) Valid() bool {
	switch p {
	case PurposeLoginOTP, PurposeEmailOwnership, PurposeSecondFactor:
		return true
	default:
		return false
	}
}

var (
	ErrNotFound    = errors.New("verification token not found")
	ErrUnavailable = errors.New("verification token store unavailable")
)

// Token is a short-lived numeric challenge bound to one subject and purpose.
// SubjectKey is the lowercased email for login codes and the user id otherwise.
type Token struct {
	ID         string
	SubjectKey string
	Code       string
	Purpose    Purpose
	CreatedAt  time.Time
	ExpiresAt  time.Time
	Attempts   int
	Verified   bool
}

// Expired reports whether the token is past its expiry at now.
func (t Token) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// Config carries the per-purpose issuance parameters.
type Config struct {
	CodeLength  int
	TTL         time.Duration
	MaxAttempts int
}

// DefaultConfig returns the issuance parameters for p.
func DefaultConfig(p Purpose) Config {
	switch p {
	case PurposeLoginOTP:
		return Config{CodeLength: 4, TTL: 5 * time.Minute, MaxAttempts: 5}
	case PurposeSecondFactor:
		return Config{CodeLength: 6, TTL: 10 * time.Minute, MaxAttempts: 5}
	case PurposeEmailOwnership:
		return Config{CodeLength: 6, TTL: 15 * time.Minute, MaxAttempts: 5}
	default:
		return Config{}
	}
}

// Store persists verification tokens. Implementations must keep at most one
// row per (SubjectKey, Purpose); Replace is the only way to create a token and
// must drop any prior token for the pair in the same atomic step.
//
// Find returns ErrNotFound when no token exists. Mutations addressed by a
// Token act on that exact row (matched by ID) and are no-ops once it has been
// replaced. ReserveAttempt increments Attempts only while it is below limit and
// reports whether the slot was taken, so concurrent checks cannot overspend the
// budget. ConsumeVerified deletes the token only if it is still present and
// verified, and reports whether this call removed it.
type Store interface {
	Replace(ctx context.Context, t Token) error
	Find(ctx context.Context, subjectKey string, purpose Purpose) (Token, error)
	ReserveAttempt(ctx context.Context, t Token, limit int) (bool, error)
	MarkVerified(ctx context.Context, t Token) error
	Delete(ctx context.Context, t Token) error
	DeleteAll(ctx context.Context, subjectKey string, purpose Purpose) error
	ConsumeVerified(ctx context.Context, t Token) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
