package internal

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const (
	minCodeDigits    = 4
	maxCodeDigits    = 10
	randomSecretSize = 32
)

// NewNumericCode returns a uniformly random decimal code of exactly digits
// characters. Leading zeros are kept.
func NewNumericCode(digits int) (string, error) {
	if digits < minCodeDigits || digits > maxCodeDigits {
		return "", errors.New("invalid code digits")
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	code := b.String()
	if len(code) != digits {
		return "", fmt.Errorf("invalid code generation length")
	}
	return code, nil
}

// NewRandomSecret returns 32 random bytes, base64url encoded without padding.
// Used as the unusable password of implicitly created accounts.
func NewRandomSecret() (string, error) {
	var raw [randomSecretSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// EncodeLinkToken packs subject and code into the opaque value carried by
// email verification links.
func EncodeLinkToken(subject, code string) (string, error) {
	if subject == "" || code == "" {
		return "", errors.New("link token requires subject and code")
	}
	if strings.Contains(code, ":") {
		return "", errors.New("invalid link token code")
	}
	return base64.RawURLEncoding.EncodeToString([]byte(subject + ":" + code)), nil
}

// DecodeLinkToken reverses [EncodeLinkToken].
func DecodeLinkToken(token string) (string, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", "", err
	}

	value := string(raw)
	sep := strings.LastIndexByte(value, ':')
	if sep <= 0 || sep == len(value)-1 {
		return "", "", errors.New("invalid link token")
	}
	return value[:sep], value[sep+1:], nil
}

// IsNumeric reports whether s is a non-empty string of ASCII digits.
func IsNumeric(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
