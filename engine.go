package goVerify

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	internalaudit "github.com/MrEthical07/goVerify/internal/audit"
	"github.com/MrEthical07/goVerify/internal/flows"
	"github.com/MrEthical07/goVerify/internal/limiters"
	"github.com/MrEthical07/goVerify/internal/rate"
	"github.com/MrEthical07/goVerify/jwt"
	"go.uber.org/zap"
)

// Engine is the identity verification core: it issues and checks login,
// second-factor and email-ownership codes, rate limits the issuing
// endpoints, and reconciles credentials into sessions.
//
// Engine instances are built once by [Builder.Build] and are safe for
// concurrent use.
type Engine struct {
	config Config

	users    UserStore
	tokens   TokenStore
	notifier Notifier
	hasher   PasswordHasher

	rateStore   RateLimitStore
	ownedMemory *rate.MemoryStore
	limiter     *limiters.VerificationLimiter

	proofs   []flows.Proof
	sessions *jwt.Manager

	audit   *internalaudit.Dispatcher
	metrics *Metrics
	logger  *zap.Logger

	now     func() time.Time
	newCode func(int) (string, error)
	newID   func() string
}

// Close describes the close operation and its observable behavior.
//
// Close flushes pending audit events and stops the in-process rate limiter
// sweeper when the Engine created one. It is safe to call more than once.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
	if e.ownedMemory != nil {
		e.ownedMemory.Close()
	}
}

// AuditDropped returns the number of audit events dropped because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditDelivered returns the number of audit events handed to the sink.
func (e *Engine) AuditDelivered() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Delivered()
}

// AuditSinkPanics returns the number of sink calls that panicked.
func (e *Engine) AuditSinkPanics() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.SinkPanics()
}

// MetricsSnapshot returns a point-in-time copy of the engine counters.
//
// MetricsSnapshot does not mutate shared global state and can be used concurrently.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return emptySnapshot()
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the active configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

// Tokens exposes the verification token store, for the retention janitor.
func (e *Engine) Tokens() TokenStore {
	return e.tokens
}

// User returns the account identified by userID.
func (e *Engine) User(ctx context.Context, userID string) (User, error) {
	if e == nil || e.users == nil {
		return User{}, ErrEngineNotReady
	}
	if strings.TrimSpace(userID) == "" {
		return User{}, ErrInvalidInput
	}
	return e.lookupUser(ctx, userID)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// flowMetric adapts metricInc to the int ids the flows package carries.
func (e *Engine) flowMetric(id int) {
	e.metricInc(MetricID(id))
}

func (e *Engine) ready() error {
	if e == nil || e.users == nil || e.tokens == nil || e.notifier == nil {
		return ErrEngineNotReady
	}
	return nil
}

func (e *Engine) lookupUser(ctx context.Context, userID string) (User, error) {
	u, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		return User{}, e.userStoreError(err)
	}
	return u, nil
}

func (e *Engine) userStoreError(err error) error {
	switch {
	case errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrUserExists),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		e.logger.Error("user store failure", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

// checkLimit runs a limiter check and records a denial. Backend failures are
// returned wrapped in ErrRateLimiterUnavailable so callers fail closed.
func (e *Engine) checkLimit(ctx context.Context, scope, subject string, check func(context.Context, string) error) error {
	err := check(ctx, subject)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrRateLimited) {
		e.emitRateLimit(ctx, scope, subject)
		return ErrRateLimited
	}
	e.logger.Error("rate limiter unavailable", zap.String("scope", scope), zap.Error(err))
	return err
}

// normalizeEmail case-folds and validates a bare address. Display names are
// rejected.
func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" || len(email) > 254 {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return "", ErrInvalidEmail
	}
	return email, nil
}

func subjectOf(u User) flows.Subject {
	return flows.Subject{
		UserID:              u.ID,
		Email:               u.Email,
		PasswordHash:        u.PasswordHash,
		SecondFactorEnabled: u.SecondFactorEnabled,
		EmailVerified:       u.EmailVerified,
	}
}

func (e *Engine) tokenStoreError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	e.logger.Error("token store failure", zap.Error(err))
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
