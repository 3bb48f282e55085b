package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the algorithm used to sign session tokens.
type SigningMethod string

const (
	// MethodEd25519 signs with an Ed25519 key pair (EdDSA).
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs with a shared HMAC secret.
	MethodHS256 SigningMethod = "hs256"
)

// MaxLeeway bounds the clock skew tolerated on exp and iat.
const MaxLeeway = 2 * time.Minute

var (
	ErrMissingSubject = errors.New("session subject required")
	ErrUnknownKey     = errors.New("session signed with an unknown key")
	ErrNoSigningKey   = errors.New("manager has no signing key")
)

// Config defines how session tokens are signed and validated.
//
// For ed25519, PrivateKey is optional on verify-only managers. VerifyKeys maps
// key ids to public keys during rotation; KeyID is stamped into new tokens.
type Config struct {
	SessionTTL    time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte

	// Now overrides the clock used for iat/exp. Nil means time.Now.
	Now func() time.Time
}

// SessionClaims is the payload of a minted session. Proof names the
// credential that authorized it.
type SessionClaims struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
	Proof string `json:"proof,omitempty"`
	jwt.RegisteredClaims
}

// keyring holds parsed key material for one signing method.
type keyring struct {
	method jwt.SigningMethod
	kid    string
	sign   any            // nil on verify-only managers
	verify any            // used when byKID is empty
	byKID  map[string]any // rotation set
}

func (k *keyring) lookup(t *jwt.Token) (any, error) {
	if t.Method.Alg() != k.method.Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}
	kid, _ := t.Header["kid"].(string)
	if len(k.byKID) > 0 {
		key, ok := k.byKID[kid]
		if !ok {
			return nil, ErrUnknownKey
		}
		return key, nil
	}
	if k.kid != "" && kid != k.kid {
		return nil, ErrUnknownKey
	}
	return k.verify, nil
}

// Manager signs and parses session tokens.
type Manager struct {
	ttl    time.Duration
	now    func() time.Time
	issuer string
	aud    string
	keys   keyring
	parser *jwt.Parser
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.SessionTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > MaxLeeway {
		return nil, errors.New("invalid leeway configuration")
	}

	keys, err := buildKeyring(cfg)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		ttl:    cfg.SessionTTL,
		now:    cfg.Now,
		issuer: cfg.Issuer,
		aud:    cfg.Audience,
		keys:   keys,
	}
	if m.now == nil {
		m.now = time.Now
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{keys.method.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.aud != "" {
		opts = append(opts, jwt.WithAudience(m.aud))
	}
	m.parser = jwt.NewParser(opts...)
	return m, nil
}

func buildKeyring(cfg Config) (keyring, error) {
	k := keyring{kid: strings.TrimSpace(cfg.KeyID)}

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < 16 {
			return k, errors.New("hs256 requires a secret of at least 16 bytes")
		}
		k.method = jwt.SigningMethodHS256
		k.sign, k.verify = cfg.PrivateKey, cfg.PrivateKey
		if len(cfg.VerifyKeys) > 0 {
			k.byKID = make(map[string]any, len(cfg.VerifyKeys))
			for kid, secret := range cfg.VerifyKeys {
				k.byKID[kid] = secret
			}
		}
	case MethodEd25519:
		k.method = jwt.SigningMethodEdDSA
		if len(cfg.PrivateKey) > 0 {
			priv, err := parseEdPrivateKey(cfg.PrivateKey)
			if err != nil {
				return k, err
			}
			k.sign = priv
		}
		if len(cfg.PublicKey) > 0 {
			pub, err := parseEdPublicKey(cfg.PublicKey)
			if err != nil {
				return k, err
			}
			k.verify = pub
		}
		if len(cfg.VerifyKeys) > 0 {
			k.byKID = make(map[string]any, len(cfg.VerifyKeys))
			for kid, raw := range cfg.VerifyKeys {
				pub, err := parseEdPublicKey(raw)
				if err != nil {
					return k, fmt.Errorf("invalid ed25519 verify key for kid %q: %w", kid, err)
				}
				k.byKID[kid] = pub
			}
		}
		if k.verify == nil && len(k.byKID) == 0 {
			return k, errors.New("ed25519 requires public key or verify key set")
		}
	default:
		return k, errors.New("unsupported signing method")
	}

	for kid := range k.byKID {
		if strings.TrimSpace(kid) == "" {
			return k, errors.New("verify key map contains empty kid")
		}
	}
	if k.kid != "" && len(k.byKID) > 0 {
		if _, ok := k.byKID[k.kid]; !ok {
			return k, errors.New("KeyID is not present in VerifyKeys")
		}
	}
	return k, nil
}

// CreateSession signs a session token for uid and returns it with its expiry.
func (m *Manager) CreateSession(uid, email, proof string) (string, time.Time, error) {
	if uid == "" {
		return "", time.Time{}, ErrMissingSubject
	}
	if m.keys.sign == nil {
		return "", time.Time{}, ErrNoSigningKey
	}

	now := m.now()
	exp := now.Add(m.ttl)
	claims := SessionClaims{
		UID:   uid,
		Email: email,
		Proof: proof,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   uid,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	if m.aud != "" {
		claims.Audience = jwt.ClaimStrings{m.aud}
	}

	tok := jwt.NewWithClaims(m.keys.method, claims)
	if m.keys.kid != "" {
		tok.Header["kid"] = m.keys.kid
	}
	signed, err := tok.SignedString(m.keys.sign)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// ParseSession verifies tokenStr and returns its claims. Signature,
// algorithm, expiry, issuer and audience are all checked.
func (m *Manager) ParseSession(tokenStr string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	tok, err := m.parser.ParseWithClaims(tokenStr, claims, m.keys.lookup)
	if err != nil {
		return nil, err
	}
	if !tok.Valid || claims.UID == "" || claims.Subject != claims.UID {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	priv, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return priv, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	pub, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return pub, nil
}
