package password

import (
	"errors"
	"strings"
)

const (
	// MinPasswordBytes is the shortest password Hash accepts.
	MinPasswordBytes = 10
	// MaxPasswordBytes bounds input to the KDFs; bcrypt truncates beyond 72.
	MaxPasswordBytes = 72
)

var (
	// ErrPasswordTooShort is returned by Hash for passwords under MinPasswordBytes.
	ErrPasswordTooShort = errors.New("password must be at least 10 bytes")
	// ErrPasswordTooLong is returned for passwords over MaxPasswordBytes.
	ErrPasswordTooLong = errors.New("password must be at most 72 bytes")
	// ErrUnknownScheme is returned by Multi.Verify for hashes no configured scheme recognizes.
	ErrUnknownScheme = errors.New("unrecognized password hash scheme")
)

// Hasher is the common surface of every password scheme in this package.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
}

func checkLength(password string) error {
	if len(password) < MinPasswordBytes {
		return ErrPasswordTooShort
	}
	if len(password) > MaxPasswordBytes {
		return ErrPasswordTooLong
	}
	return nil
}

// Multi hashes with Primary and verifies any hash whose scheme it knows.
// Storefront accounts imported with bcrypt hashes keep working while new
// hashes are argon2id.
type Multi struct {
	Primary Hasher
	Argon2  *Argon2
	Bcrypt  *Bcrypt
}

// NewMulti returns a Multi that writes with primary. primary must be one of a or b.
func NewMulti(a *Argon2, b *Bcrypt, primary Hasher) (*Multi, error) {
	if a == nil && b == nil {
		return nil, errors.New("at least one password scheme required")
	}
	if primary == nil {
		if a != nil {
			primary = a
		} else {
			primary = b
		}
	}
	return &Multi{Primary: primary, Argon2: a, Bcrypt: b}, nil
}

func (m *Multi) Hash(password string) (string, error) {
	return m.Primary.Hash(password)
}

func (m *Multi) Verify(password, encodedHash string) (bool, error) {
	switch {
	case strings.HasPrefix(encodedHash, Argon2Prefix) && m.Argon2 != nil:
		return m.Argon2.Verify(password, encodedHash)
	case isBcryptHash(encodedHash) && m.Bcrypt != nil:
		return m.Bcrypt.Verify(password, encodedHash)
	default:
		return false, ErrUnknownScheme
	}
}

// NeedsUpgrade reports whether encodedHash should be rewritten with Primary.
func (m *Multi) NeedsUpgrade(encodedHash string) (bool, error) {
	switch p := m.Primary.(type) {
	case *Argon2:
		if !strings.HasPrefix(encodedHash, Argon2Prefix) {
			return true, nil
		}
		return p.NeedsUpgrade(encodedHash)
	case *Bcrypt:
		if !isBcryptHash(encodedHash) {
			return true, nil
		}
		return p.NeedsUpgrade(encodedHash)
	default:
		return false, nil
	}
}
