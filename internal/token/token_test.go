package token

import (
	"testing"
	"time"
)

func TestPurposeValid(t *testing.T) {
	for _, p := range []Purpose{PurposeLoginOTP, PurposeSecondFactor, PurposeEmailOwnership} {
		if !p.Valid() {
			t.Fatalf("expected %q to be valid", p)
		}
	}
	if Purpose("password_reset").Valid() {
		t.Fatal("expected unknown purpose to be invalid")
	}
}

func TestTokenExpiredBoundary(t *testing.T) {
	exp := time.Date(2025, 3, 1, 10, 5, 0, 0, time.UTC)
	tok := Token{ExpiresAt: exp}

	if tok.Expired(exp) {
		t.Fatal("expected token valid at its expiry instant")
	}
	if !tok.Expired(exp.Add(time.Millisecond)) {
		t.Fatal("expected token expired just after expiry")
	}
}

func TestDefaultConfig(t *testing.T) {
	cases := map[Purpose]Config{
		PurposeLoginOTP:       {CodeLength: 4, TTL: 5 * time.Minute, MaxAttempts: 5},
		PurposeSecondFactor:   {CodeLength: 6, TTL: 10 * time.Minute, MaxAttempts: 5},
		PurposeEmailOwnership: {CodeLength: 6, TTL: 15 * time.Minute, MaxAttempts: 5},
	}
	for p, want := range cases {
		if got := DefaultConfig(p); got != want {
			t.Fatalf("%s: want %+v, got %+v", p, want, got)
		}
	}
	if got := DefaultConfig("unknown"); got != (Config{}) {
		t.Fatalf("expected zero config, got %+v", got)
	}
}
