package goVerify

import (
	"context"
	"errors"
	"net/http"

	"github.com/MrEthical07/goVerify/internal/limiters"
	"github.com/MrEthical07/goVerify/internal/token"
)

var (
	// ErrInvalidEmail is returned for addresses that fail the shape check.
	ErrInvalidEmail = errors.New("invalid email")
	// ErrInvalidInput is returned for missing or malformed request fields.
	ErrInvalidInput = errors.New("invalid input")
	// ErrSecondFactorDisabled is returned when a second-factor code is requested for an account without it.
	ErrSecondFactorDisabled = errors.New("second factor not enabled")
	// ErrAlreadyVerified is returned when email ownership is requested or confirmed twice.
	ErrAlreadyVerified = errors.New("email already verified")
	// ErrRateLimited is returned when a per-endpoint budget is spent.
	ErrRateLimited = limiters.ErrVerificationRateLimited
	// ErrUserNotFound is returned by UserStore lookups for unknown users.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists is returned by UserStore.CreateUser on an email collision.
	ErrUserExists = errors.New("user already exists")
	// ErrTokenNotFound is returned when no active token exists for the subject and purpose.
	ErrTokenNotFound = token.ErrNotFound
	// ErrTokenExpired is returned for a token past its expiry. The token is deleted.
	ErrTokenExpired = errors.New("verification code expired")
	// ErrTokenAttemptsExceeded is returned once the attempt budget is spent. The token is deleted.
	ErrTokenAttemptsExceeded = errors.New("verification attempts exceeded")
	// ErrTokenMismatch is returned for a wrong code. One attempt is consumed.
	ErrTokenMismatch = errors.New("verification code mismatch")
	// ErrDeliveryFailed is returned when the Notifier could not send the code.
	ErrDeliveryFailed = errors.New("verification delivery failed")
	// ErrUnauthorized is returned for a missing or invalid session token.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidCredentials is returned when no proof accepts the submitted secret.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrStoreUnavailable wraps token or user store failures.
	ErrStoreUnavailable = token.ErrUnavailable
	// ErrRateLimiterUnavailable wraps rate store failures. Requests fail closed.
	ErrRateLimiterUnavailable = limiters.ErrVerificationLimiterUnavailable
	// ErrEngineNotReady is returned by a nil or partially built Engine.
	ErrEngineNotReady = errors.New("engine not ready")
)

// ErrorKind classifies errors for transport mapping.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindRateLimited
	KindNotFound
	KindExpired
	KindAttemptsExceeded
	KindMismatch
	KindDeliveryFailure
	KindUnauthorized
)

// String returns the reason code carried in HTTP error bodies.
func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "VALIDATION_ERROR"
	case KindRateLimited:
		return "RATE_LIMITED"
	case KindNotFound:
		return "NOT_FOUND"
	case KindExpired:
		return "EXPIRED"
	case KindAttemptsExceeded:
		return "ATTEMPTS_EXCEEDED"
	case KindMismatch:
		return "MISMATCH"
	case KindDeliveryFailure:
		return "DELIVERY_FAILURE"
	case KindUnauthorized:
		return "UNAUTHORIZED"
	default:
		return "INTERNAL"
	}
}

// KindOf classifies err. Unknown errors are KindInternal.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrInvalidEmail),
		errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrSecondFactorDisabled),
		errors.Is(err, ErrAlreadyVerified):
		return KindValidation
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrTokenNotFound):
		return KindNotFound
	case errors.Is(err, ErrTokenExpired):
		return KindExpired
	case errors.Is(err, ErrTokenAttemptsExceeded):
		return KindAttemptsExceeded
	case errors.Is(err, ErrTokenMismatch):
		return KindMismatch
	case errors.Is(err, ErrDeliveryFailed):
		return KindDeliveryFailure
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrInvalidCredentials):
		return KindUnauthorized
	default:
		return KindInternal
	}
}

// HTTPStatus maps err to a response status.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation, KindExpired, KindAttemptsExceeded, KindMismatch:
		return http.StatusBadRequest
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	default:
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusInternalServerError
	}
}

// PublicMessage is the client-facing text for err. Internal causes are not exposed.
func PublicMessage(err error) string {
	switch KindOf(err) {
	case KindInternal:
		return "internal error"
	case KindDeliveryFailure:
		return ErrDeliveryFailed.Error()
	}
	for _, sentinel := range []error{
		ErrInvalidEmail, ErrInvalidInput, ErrSecondFactorDisabled, ErrAlreadyVerified,
		ErrRateLimited, ErrUserNotFound, ErrTokenNotFound, ErrTokenExpired,
		ErrTokenAttemptsExceeded, ErrTokenMismatch, ErrUnauthorized, ErrInvalidCredentials,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "request failed"
}
