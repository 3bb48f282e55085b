package goVerify

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventLoginOTPIssue        = "login_otp_issue"
	auditEventLoginOTPVerify       = "login_otp_verify"
	auditEventSecondFactorIssue    = "second_factor_issue"
	auditEventSecondFactorVerify   = "second_factor_verify"
	auditEventSecondFactorToggle   = "second_factor_toggle"
	auditEventEmailOwnershipIssue  = "email_ownership_issue"
	auditEventEmailOwnershipVerify = "email_ownership_verify"
	auditEventAuthorize            = "authorize"
	auditEventUserCreated          = "user_created"
	auditEventSessionCreated       = "session_created"
	auditEventRateLimitTriggered   = "rate_limit_triggered"
	auditEventPasswordHashUpgraded = "password_hash_upgraded"
)

// AuditErrorCode is the stable error label written into audit events.
type AuditErrorCode string

const (
	auditErrInvalidInput       AuditErrorCode = "invalid_input"
	auditErrAlreadyVerified    AuditErrorCode = "already_verified"
	auditErrSecondFactorOff    AuditErrorCode = "second_factor_disabled"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrUserNotFound       AuditErrorCode = "user_not_found"
	auditErrTokenNotFound      AuditErrorCode = "token_not_found"
	auditErrTokenExpired       AuditErrorCode = "token_expired"
	auditErrAttemptsExceeded   AuditErrorCode = "attempts_exceeded"
	auditErrTokenMismatch      AuditErrorCode = "token_mismatch"
	auditErrDeliveryFailed     AuditErrorCode = "delivery_failed"
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrUnauthorized       AuditErrorCode = "unauthorized"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	subject string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		UserID:    userID,
		Subject:   subject,
		IP:        clientIPFromContext(ctx),
		RequestID: RequestIDFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

// flowAudit adapts emitAudit to the flows callback shape. userID is fixed by
// the caller because flows only know the subject key.
func (e *Engine) flowAudit(userID string) func(context.Context, string, bool, string, error, func() map[string]string) {
	return func(ctx context.Context, event string, success bool, subject string, err error, meta func() map[string]string) {
		e.emitAudit(ctx, event, success, userID, subject, err, meta)
	}
}

func (e *Engine) emitRateLimit(ctx context.Context, scope, subject string) {
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, "", subject, ErrRateLimited, func() map[string]string {
		return map[string]string{
			"scope": scope,
		}
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidEmail),
		errors.Is(err, ErrInvalidInput):
		return auditErrInvalidInput
	case errors.Is(err, ErrAlreadyVerified):
		return auditErrAlreadyVerified
	case errors.Is(err, ErrSecondFactorDisabled):
		return auditErrSecondFactorOff
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrTokenNotFound):
		return auditErrTokenNotFound
	case errors.Is(err, ErrTokenExpired):
		return auditErrTokenExpired
	case errors.Is(err, ErrTokenAttemptsExceeded):
		return auditErrAttemptsExceeded
	case errors.Is(err, ErrTokenMismatch):
		return auditErrTokenMismatch
	case errors.Is(err, ErrDeliveryFailed):
		return auditErrDeliveryFailed
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrUnauthorized):
		return auditErrUnauthorized
	case errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, ErrRateLimiterUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}

func (e *Engine) observeSince(id MetricID, start time.Time) {
	if e == nil || e.metrics == nil || !e.metrics.LatencyEnabled() {
		return
	}
	e.metrics.Observe(id, e.now().Sub(start))
}
