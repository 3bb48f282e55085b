package flows

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goVerify/internal"
	"github.com/MrEthical07/goVerify/internal/token"
)

// Subject is the user view a Proof needs.
type Subject struct {
	UserID              string
	Email               string
	PasswordHash        string
	SecondFactorEnabled bool
	EmailVerified       bool
}

// Proof is one way of demonstrating control of an account. Check reports
// false, nil when the proof simply does not apply or does not match.
type Proof interface {
	Name() string
	Check(ctx context.Context, subject Subject, secret string) (bool, error)
}

type ReconcileMetrics struct {
	Success int
	Failure int
}

type ReconcileErrors struct {
	InvalidCredentials error
	Unavailable        error
}

type ReconcileDeps struct {
	Proofs []Proof

	MetricInc func(int)
	EmitAudit func(context.Context, string, bool, string, error, func() map[string]string)

	Event   string
	Metrics ReconcileMetrics
	Errors  ReconcileErrors
}

// RunReconcile tries each proof in order and returns the name of the first
// that accepts secret. No match yields Errors.InvalidCredentials; a proof
// backend failure aborts the chain.
func RunReconcile(ctx context.Context, subject Subject, secret string, deps ReconcileDeps) (string, error) {
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, bool, string, error, func() map[string]string) {}
	}
	fillError(&deps.Errors.InvalidCredentials, errors.New("invalid credentials"))
	fillError(&deps.Errors.Unavailable, token.ErrUnavailable)

	for _, proof := range deps.Proofs {
		ok, err := proof.Check(ctx, subject, secret)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return "", err
			}
			wrapped := fmt.Errorf("%w: %v", deps.Errors.Unavailable, err)
			deps.MetricInc(deps.Metrics.Failure)
			deps.EmitAudit(ctx, deps.Event, false, subject.UserID, wrapped, func() map[string]string {
				return map[string]string{
					"proof": proof.Name(),
				}
			})
			return "", wrapped
		}
		if ok {
			deps.MetricInc(deps.Metrics.Success)
			deps.EmitAudit(ctx, deps.Event, true, subject.UserID, nil, func() map[string]string {
				return map[string]string{
					"proof": proof.Name(),
				}
			})
			return proof.Name(), nil
		}
	}

	deps.MetricInc(deps.Metrics.Failure)
	deps.EmitAudit(ctx, deps.Event, false, subject.UserID, deps.Errors.InvalidCredentials, nil)
	return "", deps.Errors.InvalidCredentials
}

// PasswordProof accepts secret when it matches the stored password hash.
type PasswordProof struct {
	Verify func(password, encodedHash string) (bool, error)
}

func (PasswordProof) Name() string { return "password" }

func (p PasswordProof) Check(_ context.Context, subject Subject, secret string) (bool, error) {
	if p.Verify == nil || subject.PasswordHash == "" || secret == "" {
		return false, nil
	}
	ok, err := p.Verify(secret, subject.PasswordHash)
	if err != nil {
		// An unparseable hash cannot prove anything; fall through to the next proof.
		return false, nil
	}
	return ok, nil
}

// TokenProof accepts secret when it equals the code of a verified token of
// Purpose created less than Window ago. The token is consumed on success.
//
// A code-shaped secret that misses a verified token spends one of its
// MaxAttempts; the token is dropped once they run out. Zero MaxAttempts
// disables the budget.
type TokenProof struct {
	ProofName   string
	Purpose     token.Purpose
	Window      time.Duration
	MaxAttempts int
	Store       token.Store
	Now         func() time.Time
	SubjectKey  func(Subject) string
	Eligible    func(Subject) bool
}

func (p TokenProof) Name() string {
	if p.ProofName != "" {
		return p.ProofName
	}
	return string(p.Purpose)
}

func (p TokenProof) Check(ctx context.Context, subject Subject, secret string) (bool, error) {
	if p.Store == nil || secret == "" {
		return false, nil
	}
	if p.Eligible != nil && !p.Eligible(subject) {
		return false, nil
	}

	key := subject.UserID
	if p.SubjectKey != nil {
		key = p.SubjectKey(subject)
	}
	if key == "" {
		return false, nil
	}

	t, err := p.Store.Find(ctx, key, p.Purpose)
	if err != nil {
		if errors.Is(err, token.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if !t.Verified {
		return false, nil
	}
	if subtle.ConstantTimeCompare([]byte(t.Code), []byte(secret)) != 1 {
		return false, p.spendAttempt(ctx, t, secret)
	}

	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	if now().Sub(t.CreatedAt) >= p.Window {
		return false, nil
	}

	return p.Store.ConsumeVerified(ctx, t)
}

// spendAttempt charges a wrong code against t. Secrets that cannot be a code
// of this token, such as passwords, are not charged.
func (p TokenProof) spendAttempt(ctx context.Context, t token.Token, secret string) error {
	if p.MaxAttempts <= 0 || len(secret) != len(t.Code) || !internal.IsNumeric(secret) {
		return nil
	}
	reserved, err := p.Store.ReserveAttempt(ctx, t, p.MaxAttempts)
	if err != nil {
		return err
	}
	if reserved && t.Attempts+1 < p.MaxAttempts {
		return nil
	}
	if err := p.Store.Delete(ctx, t); err != nil && !errors.Is(err, token.ErrNotFound) {
		return err
	}
	return nil
}
