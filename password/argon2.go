package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2Prefix is the leading marker of an argon2id PHC string.
const Argon2Prefix = "$argon2id$"

var errMalformedHash = errors.New("malformed argon2id hash")

// Config holds the argon2id cost parameters.
type Config struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func (c Config) validate() error {
	switch {
	case c.Memory < 8*1024:
		return errors.New("password memory must be >= 8192 KB")
	case c.Time < 1:
		return errors.New("password time must be >= 1")
	case c.Parallelism < 1:
		return errors.New("password parallelism must be >= 1")
	case c.SaltLength < 16:
		return errors.New("password salt length must be >= 16")
	case c.KeyLength < 16:
		return errors.New("password key length must be >= 16")
	}
	return nil
}

// Argon2 hashes passwords into argon2id PHC strings with unpadded base64
// salt and key.
type Argon2 struct {
	cfg Config
}

// NewArgon2 returns a hasher for cfg, rejecting parameters below the floor.
func NewArgon2(cfg Config) (*Argon2, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Argon2{cfg: cfg}, nil
}

// phc is a decoded argon2id hash.
type phc struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func (p phc) derive(password string) []byte {
	return argon2.IDKey([]byte(password), p.salt, p.time, p.memory, p.parallelism, uint32(len(p.key)))
}

func (p phc) String() string {
	return fmt.Sprintf("%sv=%d$m=%d,t=%d,p=%d$%s$%s",
		Argon2Prefix, argon2.Version, p.memory, p.time, p.parallelism,
		base64.RawStdEncoding.EncodeToString(p.salt),
		base64.RawStdEncoding.EncodeToString(p.key))
}

func decodePHC(encoded string) (phc, error) {
	parts := strings.Split(encoded, "$")
	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, key
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return phc{}, errMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return phc{}, errMalformedHash
	}
	if version != argon2.Version {
		return phc{}, fmt.Errorf("unsupported argon2 version %d", version)
	}

	var p phc
	if n, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.parallelism); err != nil || n != 3 {
		return phc{}, errMalformedHash
	}
	if p.memory < 8*1024 || p.time < 1 || p.parallelism < 1 {
		return phc{}, errMalformedHash
	}

	var err error
	if p.salt, err = decodeB64(parts[4]); err != nil || len(p.salt) < 16 {
		return phc{}, errMalformedHash
	}
	if p.key, err = decodeB64(parts[5]); err != nil || len(p.key) == 0 {
		return phc{}, errMalformedHash
	}
	return p, nil
}

// decodeB64 accepts padded and unpadded base64 so hashes written by other
// PHC encoders still verify.
func decodeB64(s string) ([]byte, error) {
	if strings.HasSuffix(s, "=") {
		return base64.StdEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}

// Hash derives a fresh-salted argon2id hash of password. Bytes are hashed as
// given, without Unicode normalization.
func (a *Argon2) Hash(password string) (string, error) {
	if err := checkLength(password); err != nil {
		return "", err
	}

	p := phc{
		memory:      a.cfg.Memory,
		time:        a.cfg.Time,
		parallelism: a.cfg.Parallelism,
		salt:        make([]byte, a.cfg.SaltLength),
		key:         make([]byte, a.cfg.KeyLength),
	}
	if _, err := rand.Read(p.salt); err != nil {
		return "", err
	}
	p.key = p.derive(password)
	return p.String(), nil
}

// Verify reports whether password matches encodedHash. A malformed hash is an
// error; a wrong password is false, nil.
func (a *Argon2) Verify(password, encodedHash string) (bool, error) {
	if len(password) > MaxPasswordBytes {
		return false, ErrPasswordTooLong
	}
	p, err := decodePHC(encodedHash)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(p.derive(password), p.key) == 1, nil
}

// NeedsUpgrade reports whether encodedHash was produced with weaker
// parameters than a's, or with a different key length.
func (a *Argon2) NeedsUpgrade(encodedHash string) (bool, error) {
	p, err := decodePHC(encodedHash)
	if err != nil {
		return false, err
	}
	weaker := p.memory < a.cfg.Memory || p.time < a.cfg.Time || p.parallelism < a.cfg.Parallelism
	return weaker || uint32(len(p.key)) != a.cfg.KeyLength, nil
}
