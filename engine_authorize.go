package goVerify

import (
	"context"
	"errors"
	"strings"

	"github.com/MrEthical07/goVerify/internal/flows"
	"go.uber.org/zap"
)

// hashUpgrader is implemented by hashers that can tell when a stored hash
// was produced with weaker parameters than the current ones.
type hashUpgrader interface {
	NeedsUpgrade(encodedHash string) (bool, error)
}

// PasswordUpdater is an optional [UserStore] extension. When present, the
// Engine rehashes passwords on login after a parameter change.
type PasswordUpdater interface {
	UpdatePasswordHash(ctx context.Context, userID, hash string) error
}

// Authorize describes the authorize operation and its observable behavior.
//
// Authorize reconciles secret against every proof the account can present:
// password, then a verified second-factor code, then a verified
// email-ownership code, then a verified login code. It returns the user and
// the name of the accepting proof. Token proofs are consumed on success, so a
// code authorizes at most once, and a wrong code against a verified token
// spends one of its attempts. Calls are budgeted per email by
// RateLimits.Authorize. Unknown emails and rejected secrets both return
// ErrInvalidCredentials.
func (e *Engine) Authorize(ctx context.Context, email, secret string) (User, string, error) {
	if err := e.ready(); err != nil {
		return User{}, "", err
	}
	start := e.now()
	defer e.observeSince(MetricAuthorizeLatency, start)

	addr, err := normalizeEmail(email)
	if err != nil {
		return User{}, "", err
	}
	if len(secret) < e.config.Credentials.MinSecretLength || len(secret) > e.config.Credentials.MaxSecretLength {
		return User{}, "", ErrInvalidInput
	}
	if err := e.checkLimit(ctx, "authorize", addr, e.limiter.CheckAuthorize); err != nil {
		return User{}, "", err
	}

	user, err := e.users.GetUserByEmail(ctx, addr)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.metricInc(MetricAuthorizeFailure)
			e.emitAudit(ctx, auditEventAuthorize, false, "", addr, ErrInvalidCredentials, nil)
			return User{}, "", ErrInvalidCredentials
		}
		return User{}, "", e.userStoreError(err)
	}

	proof, err := flows.RunReconcile(ctx, subjectOf(user), secret, flows.ReconcileDeps{
		Proofs:    e.proofs,
		MetricInc: e.flowMetric,
		EmitAudit: e.flowAudit(user.ID),
		Event:     auditEventAuthorize,
		Metrics: flows.ReconcileMetrics{
			Success: int(MetricAuthorizeSuccess),
			Failure: int(MetricAuthorizeFailure),
		},
		Errors: flows.ReconcileErrors{
			InvalidCredentials: ErrInvalidCredentials,
			Unavailable:        ErrStoreUnavailable,
		},
	})
	if err != nil {
		if errors.Is(err, ErrStoreUnavailable) {
			e.logger.Error("credential reconciliation failed", zap.String("user_id", user.ID), zap.Error(err))
		}
		return User{}, "", err
	}

	if proof == "password" {
		e.maybeUpgradePassword(ctx, user, secret)
	}
	return user, proof, nil
}

// Login authorizes the credentials and mints a session token.
func (e *Engine) Login(ctx context.Context, email, secret string) (Session, error) {
	user, proof, err := e.Authorize(ctx, email, secret)
	if err != nil {
		return Session{}, err
	}

	tok, exp, err := e.sessions.CreateSession(user.ID, user.Email, proof)
	if err != nil {
		e.logger.Error("session signing failed", zap.String("user_id", user.ID), zap.Error(err))
		return Session{}, err
	}

	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, auditEventSessionCreated, true, user.ID, user.Email, nil, func() map[string]string {
		return map[string]string{
			"proof": proof,
		}
	})
	return Session{
		AccessToken: tok,
		ExpiresAt:   exp,
		Proof:       proof,
		User:        user,
	}, nil
}

// ParseSession validates a session token minted by [Engine.Login].
func (e *Engine) ParseSession(tokenStr string) (Principal, error) {
	if e == nil || e.sessions == nil {
		return Principal{}, ErrEngineNotReady
	}

	tokenStr = strings.TrimSpace(tokenStr)
	if tokenStr == "" {
		return Principal{}, ErrUnauthorized
	}

	claims, err := e.sessions.ParseSession(tokenStr)
	if err != nil || claims.UID == "" {
		return Principal{}, ErrUnauthorized
	}

	p := Principal{
		UserID:    claims.UID,
		Email:     claims.Email,
		Proof:     claims.Proof,
		SessionID: claims.ID,
	}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	return p, nil
}

// maybeUpgradePassword rehashes secret when the stored hash is stale. Failures
// are logged; the login already succeeded.
func (e *Engine) maybeUpgradePassword(ctx context.Context, user User, secret string) {
	if !e.config.Password.UpgradeOnLogin {
		return
	}
	up, ok := e.hasher.(hashUpgrader)
	if !ok {
		return
	}
	updater, ok := e.users.(PasswordUpdater)
	if !ok {
		return
	}

	stale, err := up.NeedsUpgrade(user.PasswordHash)
	if err != nil || !stale {
		return
	}

	hash, err := e.hasher.Hash(secret)
	if err != nil {
		e.logger.Warn("password rehash failed", zap.String("user_id", user.ID), zap.Error(err))
		return
	}
	if err := updater.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		e.logger.Warn("password hash upgrade not stored", zap.String("user_id", user.ID), zap.Error(err))
		return
	}
	e.emitAudit(ctx, auditEventPasswordHashUpgraded, true, user.ID, user.Email, nil, nil)
}
