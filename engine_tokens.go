package goVerify

import (
	"context"
	"net/url"

	"github.com/MrEthical07/goVerify/internal"
	"github.com/MrEthical07/goVerify/internal/flows"
	"github.com/MrEthical07/goVerify/internal/token"
)

var tokenErrors = flows.TokenErrors{
	EngineNotReady:   ErrEngineNotReady,
	Invalid:          ErrInvalidInput,
	NotFound:         ErrTokenNotFound,
	Expired:          ErrTokenExpired,
	AttemptsExceeded: ErrTokenAttemptsExceeded,
	Mismatch:         ErrTokenMismatch,
	DeliveryFailed:   ErrDeliveryFailed,
	Unavailable:      ErrStoreUnavailable,
}

func purposeMetrics(p Purpose) flows.TokenMetrics {
	m := flows.TokenMetrics{
		Expired:          int(MetricTokenExpired),
		AttemptsExceeded: int(MetricTokenAttemptsExceeded),
		DeliveryFailure:  int(MetricDeliveryFailure),
	}
	switch p {
	case PurposeLoginOTP:
		m.Issued, m.Verified, m.Failure = int(MetricLoginOTPIssued), int(MetricLoginOTPVerified), int(MetricLoginOTPFailure)
	case PurposeSecondFactor:
		m.Issued, m.Verified, m.Failure = int(MetricSecondFactorIssued), int(MetricSecondFactorVerified), int(MetricSecondFactorFailure)
	case PurposeEmailOwnership:
		m.Issued, m.Verified, m.Failure = int(MetricEmailOwnershipIssued), int(MetricEmailOwnershipVerified), int(MetricEmailOwnershipFailure)
	}
	return m
}

func purposeEvents(p Purpose) flows.TokenEvents {
	switch p {
	case PurposeLoginOTP:
		return flows.TokenEvents{Issue: auditEventLoginOTPIssue, Verify: auditEventLoginOTPVerify}
	case PurposeSecondFactor:
		return flows.TokenEvents{Issue: auditEventSecondFactorIssue, Verify: auditEventSecondFactorVerify}
	default:
		return flows.TokenEvents{Issue: auditEventEmailOwnershipIssue, Verify: auditEventEmailOwnershipVerify}
	}
}

// tokenDeps builds the flow dependencies for one call. recipient is the
// delivery address; userID, when known, tags audit events.
func (e *Engine) tokenDeps(p Purpose, userID, recipient string) flows.TokenDeps {
	return flows.TokenDeps{
		Store:   e.tokens,
		Now:     e.now,
		NewCode: e.newCode,
		NewID:   e.newID,
		Notify: func(ctx context.Context, t token.Token) error {
			n := Notification{
				Recipient: recipient,
				Code:      t.Code,
				Purpose:   t.Purpose,
				ExpiresAt: t.ExpiresAt,
			}
			if t.Purpose == PurposeEmailOwnership {
				n.Link = e.verificationLink(t)
			}
			return e.notifier.Notify(ctx, n)
		},
		MetricInc: e.flowMetric,
		EmitAudit: e.flowAudit(userID),
		Metrics:   purposeMetrics(p),
		Events:    purposeEvents(p),
		Errors:    tokenErrors,
	}
}

func (e *Engine) issue(ctx context.Context, p Purpose, subjectKey, userID, recipient string) (VerificationToken, error) {
	return flows.RunIssue(ctx, flows.IssueRequest{
		SubjectKey: subjectKey,
		Purpose:    p,
		Config:     e.config.Tokens.For(p),
	}, e.tokenDeps(p, userID, recipient))
}

func (e *Engine) verify(ctx context.Context, p Purpose, subjectKey, userID, code string, mode flows.VerifyMode) (VerificationToken, error) {
	return flows.RunVerify(ctx, flows.VerifyRequest{
		SubjectKey: subjectKey,
		Purpose:    p,
		Code:       code,
		Config:     e.config.Tokens.For(p),
		Mode:       mode,
	}, e.tokenDeps(p, userID, ""))
}

// verificationLink returns the clickable link for an email-ownership token,
// or "" when no link URL is configured.
func (e *Engine) verificationLink(t token.Token) string {
	base := e.config.Links.VerifyEmailURL
	if base == "" {
		return ""
	}
	linkToken, err := internal.EncodeLinkToken(t.SubjectKey, t.Code)
	if err != nil {
		return ""
	}
	u, err := url.Parse(base)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("token", linkToken)
	u.RawQuery = q.Encode()
	return u.String()
}
