package flows

import (
	"context"
	"fmt"

	"github.com/MrEthical07/goVerify/internal/token"
)

type IssueRequest struct {
	SubjectKey string
	Purpose    token.Purpose
	Config     token.Config
}

// RunIssue replaces any token for (SubjectKey, Purpose) with a fresh one and
// hands it to Notify. A delivery failure leaves the new token in place; the
// next issue replaces it.
func RunIssue(ctx context.Context, req IssueRequest, deps TokenDeps) (token.Token, error) {
	normalizeTokenDeps(&deps)

	if deps.Store == nil || deps.NewCode == nil || deps.NewID == nil || deps.Notify == nil {
		return token.Token{}, deps.Errors.EngineNotReady
	}
	if req.SubjectKey == "" || !req.Purpose.Valid() || req.Config.TTL <= 0 {
		deps.EmitAudit(ctx, deps.Events.Issue, false, req.SubjectKey, deps.Errors.Invalid, func() map[string]string {
			return map[string]string{
				"purpose": string(req.Purpose),
				"reason":  "invalid_request",
			}
		})
		return token.Token{}, deps.Errors.Invalid
	}

	code, err := deps.NewCode(req.Config.CodeLength)
	if err != nil {
		return token.Token{}, fmt.Errorf("%w: %v", deps.Errors.Unavailable, err)
	}

	now := deps.Now().UTC()
	t := token.Token{
		ID:         deps.NewID(),
		SubjectKey: req.SubjectKey,
		Code:       code,
		Purpose:    req.Purpose,
		CreatedAt:  now,
		ExpiresAt:  now.Add(req.Config.TTL),
	}

	if err := deps.Store.Replace(ctx, t); err != nil {
		mapped := deps.mapStoreError(err)
		deps.MetricInc(deps.Metrics.Failure)
		deps.EmitAudit(ctx, deps.Events.Issue, false, req.SubjectKey, mapped, func() map[string]string {
			return map[string]string{
				"purpose": string(req.Purpose),
			}
		})
		return token.Token{}, mapped
	}

	if err := deps.Notify(ctx, t); err != nil {
		deps.MetricInc(deps.Metrics.DeliveryFailure)
		deps.EmitAudit(ctx, deps.Events.Issue, false, req.SubjectKey, deps.Errors.DeliveryFailed, func() map[string]string {
			return map[string]string{
				"purpose": string(req.Purpose),
				"reason":  "delivery_failed",
			}
		})
		return token.Token{}, fmt.Errorf("%w: %v", deps.Errors.DeliveryFailed, err)
	}

	deps.MetricInc(deps.Metrics.Issued)
	deps.EmitAudit(ctx, deps.Events.Issue, true, req.SubjectKey, nil, func() map[string]string {
		return map[string]string{
			"purpose":    string(req.Purpose),
			"expires_at": t.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"),
		}
	})
	return t, nil
}
