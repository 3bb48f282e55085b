package goVerify

import (
	"context"
	"time"

	internalaudit "github.com/MrEthical07/goVerify/internal/audit"
	"github.com/MrEthical07/goVerify/internal/rate"
	"github.com/MrEthical07/goVerify/internal/token"
)

// Purpose names the proof a verification token backs.
type Purpose = token.Purpose

const (
	// PurposeLoginOTP tags the 4-digit code mailed for passwordless login.
	PurposeLoginOTP = token.PurposeLoginOTP
	// PurposeSecondFactor tags the code required after login when the account opted in.
	PurposeSecondFactor = token.PurposeSecondFactor
	// PurposeEmailOwnership tags the code or link proving control of the account email.
	PurposeEmailOwnership = token.PurposeEmailOwnership
)

// VerificationToken is the single generic token shape shared by every purpose.
type VerificationToken = token.Token

// PurposeConfig is the per-purpose issuance tuning: code length, TTL, attempt cap.
type PurposeConfig = token.Config

// TokenStore persists verification tokens. See [token.Store] for the contract;
// the repository package provides the relational implementation and
// internal/stores a Redis one.
type TokenStore = token.Store

// RateLimitStore holds reset-on-expiry counters for the rate limiter.
type RateLimitStore = rate.Store

// AuditEvent is the structured record handed to an [AuditSink].
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the Engine's dispatcher.
type AuditSink = internalaudit.Sink

// User is the storefront identity record the verification core reads and
// updates. Email is stored case-folded.
type User struct {
	ID                  string     `json:"id"`
	Email               string     `json:"email"`
	Name                string     `json:"name,omitempty"`
	PasswordHash        string     `json:"-"`
	SecondFactorEnabled bool       `json:"secondFactorEnabled"`
	EmailVerified       bool       `json:"emailVerified"`
	EmailVerifiedAt     *time.Time `json:"emailVerifiedAt,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// CreateUserInput is what the Engine supplies when a login code arrives for
// an address with no account yet.
type CreateUserInput struct {
	Email        string
	Name         string
	PasswordHash string
}

// UserStore is the integration point with the storefront's user table.
// Lookups return [ErrUserNotFound] for unknown users; CreateUser returns
// [ErrUserExists] on an email collision.
type UserStore interface {
	GetUserByID(ctx context.Context, userID string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	CreateUser(ctx context.Context, input CreateUserInput) (User, error)
	MarkEmailVerified(ctx context.Context, userID string, at time.Time) error
	SetSecondFactor(ctx context.Context, userID string, enabled bool) error
}

// Notification is one code delivery. Link is set for email-ownership mails
// when a verification URL is configured.
type Notification struct {
	Recipient string
	Code      string
	Purpose   Purpose
	ExpiresAt time.Time
	Link      string
}

// Notifier delivers codes to users. The notify package provides SMTP and
// log-only implementations.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to [Notifier].
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// PasswordHasher verifies stored password hashes and produces new ones.
// [password.Multi] satisfies it.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
}

// LoginOTPResult is the outcome of a successful login-code verification.
// When either Requires flag is set no session may be minted yet; the named
// proof has just been issued.
type LoginOTPResult struct {
	UserID                    string    `json:"userId"`
	RequiresSecondFactor      bool      `json:"requiresSecondFactor"`
	RequiresEmailVerification bool      `json:"requiresEmailVerification"`
	NextExpiresAt             time.Time `json:"nextExpiresAt,omitempty"`
}

// Session is a minted bearer session.
type Session struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
	Proof       string    `json:"proof"`
	User        User      `json:"user"`
}

// Principal is the parsed form of a session token.
type Principal struct {
	UserID    string
	Email     string
	Proof     string
	SessionID string
	ExpiresAt time.Time
}
