package goVerify

import (
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/goVerify/internal"
	internalaudit "github.com/MrEthical07/goVerify/internal/audit"
	"github.com/MrEthical07/goVerify/internal/flows"
	"github.com/MrEthical07/goVerify/internal/limiters"
	"github.com/MrEthical07/goVerify/internal/rate"
	"github.com/MrEthical07/goVerify/internal/stores"
	"github.com/MrEthical07/goVerify/jwt"
	"github.com/MrEthical07/goVerify/password"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultTokenPrefix     = "vtk"
	defaultRateLimitPrefix = "vrl"
)

// Builder assembles an [Engine]. Each Builder produces at most one Engine.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	users     UserStore
	tokens    TokenStore
	rateStore RateLimitStore
	notifier  Notifier
	hasher    PasswordHasher
	logger    *zap.Logger
	auditSink AuditSink
	now       func() time.Time

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the shared Redis client. The client backs both the token store and the rate limiter unless either
// is supplied explicitly.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserStore sets the storefront user table adapter. Required.
func (b *Builder) WithUserStore(users UserStore) *Builder {
	b.users = users
	return b
}

// WithTokenStore sets the verification token store, overriding Redis.
func (b *Builder) WithTokenStore(store TokenStore) *Builder {
	b.tokens = store
	return b
}

// WithRateLimitStore sets the rate limit counter store, overriding Redis and
// the in-process default.
func (b *Builder) WithRateLimitStore(store RateLimitStore) *Builder {
	b.rateStore = store
	return b
}

// WithNotifier sets the code delivery channel. Required.
func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

// WithPasswordHasher overrides the hasher derived from Config.Password.
func (b *Builder) WithPasswordHasher(h PasswordHasher) *Builder {
	b.hasher = h
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink sets the audit destination and enables dispatch.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	b.config.Audit.Enabled = sink != nil
	return b
}

// WithClock overrides time.Now for token timestamps, rate windows and
// session claims.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithMetricsEnabled describes the withmetricsenabled operation and its observable behavior.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the Authorize latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	if enabled {
		b.config.Metrics.Enabled = true
	}
	return b
}

// Build describes the build operation and its observable behavior.
//
// Build validates the configuration and wires every dependency. It fails when
// the Builder was already used, the config is invalid, or a required
// dependency is missing.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.users == nil {
		return nil, errors.New("user store required")
	}
	if b.notifier == nil {
		return nil, errors.New("notifier required")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	engine := &Engine{
		config:   cfg,
		users:    b.users,
		notifier: b.notifier,
		logger:   logger.Named("goverify"),
		now:      now,
		newCode:  internal.NewNumericCode,
		newID:    uuid.NewString,
	}

	// -------- TOKEN STORE --------
	switch {
	case b.tokens != nil:
		engine.tokens = b.tokens
	case b.redis != nil:
		engine.tokens = stores.NewTokenStore(b.redis, stores.TokenStoreConfig{
			Prefix: defaultTokenPrefix,
			Now:    now,
		})
	default:
		return nil, errors.New("token store or redis client required")
	}

	// -------- RATE LIMITER --------
	switch {
	case b.rateStore != nil:
		engine.rateStore = b.rateStore
	case b.redis != nil:
		engine.rateStore = rate.NewRedisStore(b.redis, defaultRateLimitPrefix)
	default:
		mem := rate.NewMemoryStore(rate.MemoryConfig{
			SweepInterval: cfg.RateLimits.SweepInterval,
			Now:           now,
		})
		engine.rateStore = mem
		engine.ownedMemory = mem
	}
	engine.limiter = limiters.NewVerificationLimiter(rate.New(engine.rateStore, now), limiters.VerificationConfig{
		LoginOTPRequest:       cfg.RateLimits.LoginOTPRequest,
		SecondFactorRequest:   cfg.RateLimits.SecondFactorRequest,
		SecondFactorVerify:    cfg.RateLimits.SecondFactorVerify,
		EmailOwnershipRequest: cfg.RateLimits.EmailOwnershipRequest,
		Authorize:             cfg.RateLimits.Authorize,
	})

	// -------- PASSWORD HASHER --------
	engine.hasher = b.hasher
	if engine.hasher == nil {
		h, err := newDefaultHasher(cfg.Password)
		if err != nil {
			engine.Close()
			return nil, err
		}
		engine.hasher = h
	}

	// -------- SESSIONS --------
	jm, err := jwt.NewManager(jwt.Config{
		SessionTTL:    cfg.JWT.SessionTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		Now:           now,
	})
	if err != nil {
		engine.Close()
		return nil, err
	}
	engine.sessions = jm

	engine.proofs = engine.buildProofs()
	engine.metrics = NewMetrics(cfg.Metrics)
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)

	b.built = true

	return engine, nil
}

func newDefaultHasher(cfg PasswordConfig) (*password.Multi, error) {
	a, err := password.NewArgon2(password.Config{
		Memory:      cfg.Memory,
		Time:        cfg.Time,
		Parallelism: cfg.Parallelism,
		SaltLength:  cfg.SaltLength,
		KeyLength:   cfg.KeyLength,
	})
	if err != nil && cfg.Scheme == "argon2id" {
		return nil, err
	}

	bc, bErr := password.NewBcrypt(cfg.BcryptCost)
	if bErr != nil {
		if cfg.Scheme == "bcrypt" {
			return nil, bErr
		}
		bc = nil
	}

	if cfg.Scheme == "bcrypt" {
		return password.NewMulti(a, bc, bc)
	}
	return password.NewMulti(a, bc, a)
}

// buildProofs lays out the reconciler chain: password, second factor,
// email ownership, then login code when enabled.
func (e *Engine) buildProofs() []flows.Proof {
	cfg := e.config.Proofs
	proofs := []flows.Proof{
		flows.PasswordProof{Verify: e.hasher.Verify},
		flows.TokenProof{
			Purpose:     PurposeSecondFactor,
			Window:      cfg.SecondFactorWindow,
			MaxAttempts: e.config.Tokens.For(PurposeSecondFactor).MaxAttempts,
			Store:       e.tokens,
			Now:         e.now,
		},
		flows.TokenProof{
			Purpose:     PurposeEmailOwnership,
			Window:      cfg.EmailOwnershipWindow,
			MaxAttempts: e.config.Tokens.For(PurposeEmailOwnership).MaxAttempts,
			Store:       e.tokens,
			Now:         e.now,
		},
	}
	if cfg.AllowLoginOTP {
		proofs = append(proofs, flows.TokenProof{
			Purpose:     PurposeLoginOTP,
			Window:      cfg.LoginOTPWindow,
			MaxAttempts: e.config.Tokens.For(PurposeLoginOTP).MaxAttempts,
			Store:       e.tokens,
			Now:         e.now,
			SubjectKey: func(s flows.Subject) string {
				return strings.ToLower(s.Email)
			},
			Eligible: func(s flows.Subject) bool {
				return !s.SecondFactorEnabled && s.EmailVerified
			},
		})
	}
	return proofs
}
