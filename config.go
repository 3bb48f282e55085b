package goVerify

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/MrEthical07/goVerify/internal/limiters"
	"github.com/MrEthical07/goVerify/internal/token"
)

// Config holds every Engine tunable. Start from [DefaultConfig] and override.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	Tokens      TokensConfig
	Proofs      ProofConfig
	RateLimits  RateLimitConfig
	Credentials CredentialConfig
	Password    PasswordConfig
	JWT         JWTConfig
	Links       LinkConfig
	Audit       AuditConfig
	Metrics     MetricsConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokensConfig carries the issuance parameters of each purpose.
type TokensConfig struct {
	LoginOTP       PurposeConfig
	SecondFactor   PurposeConfig
	EmailOwnership PurposeConfig
}

// For returns the config of p.
func (c TokensConfig) For(p Purpose) PurposeConfig {
	switch p {
	case PurposeLoginOTP:
		return c.LoginOTP
	case PurposeSecondFactor:
		return c.SecondFactor
	case PurposeEmailOwnership:
		return c.EmailOwnership
	default:
		return PurposeConfig{}
	}
}

/*
====================================
PROOF CONFIG
====================================
*/

// ProofConfig sets the reconciler recency windows, measured from token
// creation. Each window is the purpose TTL plus a grace margin for the
// session round trip after a late verify.
type ProofConfig struct {
	SecondFactorWindow   time.Duration
	EmailOwnershipWindow time.Duration
	LoginOTPWindow       time.Duration
	// AllowLoginOTP lets a verified login code mint a session for accounts
	// with a verified email and no second factor.
	AllowLoginOTP bool
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitPolicy is a budget of MaxAttempts per Window.
type RateLimitPolicy = limiters.Policy

// RateLimitConfig holds the per-endpoint budgets.
type RateLimitConfig struct {
	LoginOTPRequest       RateLimitPolicy
	SecondFactorRequest   RateLimitPolicy
	SecondFactorVerify    RateLimitPolicy
	EmailOwnershipRequest RateLimitPolicy
	// Authorize budgets Authorize and Login calls per email.
	Authorize RateLimitPolicy
	// SweepInterval drives expired-window eviction in the default memory store.
	SweepInterval time.Duration
}

/*
====================================
CREDENTIAL CONFIG
====================================
*/

// CredentialConfig bounds the secrets Authorize accepts before any lookup.
type CredentialConfig struct {
	MinSecretLength int
	MaxSecretLength int
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig configures the default hasher built when none is supplied.
type PasswordConfig struct {
	Scheme         string // "argon2id" (default) or "bcrypt"
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	BcryptCost     int
	UpgradeOnLogin bool
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures session tokens minted by Login.
type JWTConfig struct {
	SessionTTL    time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

/*
====================================
LINK CONFIG
====================================
*/

// LinkConfig configures the verification link placed in email-ownership
// mails. An empty VerifyEmailURL sends the code only.
type LinkConfig struct {
	VerifyEmailURL string
}

// AuditConfig controls asynchronous audit dispatch.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULTS
====================================
*/

// DefaultConfig returns the storefront defaults. JWT.PrivateKey must still be set.
func DefaultConfig() Config {
	rl := limiters.DefaultVerificationConfig()
	return Config{
		Tokens: TokensConfig{
			LoginOTP:       token.DefaultConfig(token.PurposeLoginOTP),
			SecondFactor:   token.DefaultConfig(token.PurposeSecondFactor),
			EmailOwnership: token.DefaultConfig(token.PurposeEmailOwnership),
		},
		Proofs: ProofConfig{
			SecondFactorWindow:   12 * time.Minute,
			EmailOwnershipWindow: 16 * time.Minute,
			LoginOTPWindow:       7 * time.Minute,
			AllowLoginOTP:        true,
		},
		RateLimits: RateLimitConfig{
			LoginOTPRequest:       rl.LoginOTPRequest,
			SecondFactorRequest:   rl.SecondFactorRequest,
			SecondFactorVerify:    rl.SecondFactorVerify,
			EmailOwnershipRequest: rl.EmailOwnershipRequest,
			Authorize:             rl.Authorize,
			SweepInterval:         time.Minute,
		},
		Credentials: CredentialConfig{
			MinSecretLength: 4,
			MaxSecretLength: 72,
		},
		Password: PasswordConfig{
			Scheme:         "argon2id",
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			BcryptCost:     10,
			UpgradeOnLogin: true,
		},
		JWT: JWTConfig{
			SessionTTL:    24 * time.Hour,
			SigningMethod: "hs256",
			Issuer:        "goverify",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	// Tokens
	for _, p := range []Purpose{PurposeLoginOTP, PurposeSecondFactor, PurposeEmailOwnership} {
		pc := c.Tokens.For(p)
		if pc.CodeLength < 4 || pc.CodeLength > 10 {
			return fmt.Errorf("Tokens %s CodeLength must be between 4 and 10", p)
		}
		if pc.TTL <= 0 {
			return fmt.Errorf("Tokens %s TTL must be > 0", p)
		}
		if pc.MaxAttempts <= 0 {
			return fmt.Errorf("Tokens %s MaxAttempts must be > 0", p)
		}
	}

	// Proofs
	if c.Proofs.SecondFactorWindow < c.Tokens.SecondFactor.TTL {
		return errors.New("Proofs SecondFactorWindow must be >= SecondFactor TTL")
	}
	if c.Proofs.EmailOwnershipWindow < c.Tokens.EmailOwnership.TTL {
		return errors.New("Proofs EmailOwnershipWindow must be >= EmailOwnership TTL")
	}
	if c.Proofs.AllowLoginOTP && c.Proofs.LoginOTPWindow < c.Tokens.LoginOTP.TTL {
		return errors.New("Proofs LoginOTPWindow must be >= LoginOTP TTL")
	}

	// Rate limits
	for name, p := range map[string]RateLimitPolicy{
		"LoginOTPRequest":       c.RateLimits.LoginOTPRequest,
		"SecondFactorRequest":   c.RateLimits.SecondFactorRequest,
		"SecondFactorVerify":    c.RateLimits.SecondFactorVerify,
		"EmailOwnershipRequest": c.RateLimits.EmailOwnershipRequest,
		"Authorize":             c.RateLimits.Authorize,
	} {
		if p.MaxAttempts <= 0 || p.Window <= 0 {
			return fmt.Errorf("RateLimits %s requires MaxAttempts and Window > 0", name)
		}
	}
	if c.RateLimits.SweepInterval < 0 {
		return errors.New("RateLimits SweepInterval must be >= 0")
	}

	// Credentials
	if c.Credentials.MinSecretLength < 1 {
		return errors.New("Credentials MinSecretLength must be >= 1")
	}
	if c.Credentials.MaxSecretLength < c.Credentials.MinSecretLength {
		return errors.New("Credentials MaxSecretLength must be >= MinSecretLength")
	}

	// Password
	switch c.Password.Scheme {
	case "argon2id":
		if c.Password.Memory < 8*1024 {
			return errors.New("Password Memory must be >= 8192 KB")
		}
		if c.Password.Time < 1 {
			return errors.New("Password Time must be >= 1")
		}
		if c.Password.Parallelism < 1 {
			return errors.New("Password Parallelism must be >= 1")
		}
		if c.Password.SaltLength < 16 {
			return errors.New("Password SaltLength must be >= 16")
		}
		if c.Password.KeyLength < 16 {
			return errors.New("Password KeyLength must be >= 16")
		}
	case "bcrypt":
		if c.Password.BcryptCost < 4 || c.Password.BcryptCost > 31 {
			return errors.New("Password BcryptCost must be between 4 and 31")
		}
	default:
		return errors.New("Password Scheme must be 'argon2id' or 'bcrypt'")
	}

	// JWT
	if c.JWT.SessionTTL <= 0 {
		return errors.New("JWT SessionTTL must be > 0")
	}
	switch c.JWT.SigningMethod {
	case "hs256":
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("hs256 requires PrivateKey")
		}
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 || len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PrivateKey and PublicKey")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}

	// Links
	if c.Links.VerifyEmailURL != "" {
		u, err := url.Parse(c.Links.VerifyEmailURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errors.New("Links VerifyEmailURL must be an absolute URL")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	return nil
}
