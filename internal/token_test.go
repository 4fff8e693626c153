package internal

import (
	"testing"
)

func TestNewTokenSecret(t *testing.T) {
	a, err := NewTokenSecret()
	if err != nil {
		t.Fatalf("new token: %v", err)
	}
	b, err := NewTokenSecret()
	if err != nil {
		t.Fatalf("new token: %v", err)
	}
	if a == b {
		t.Fatal("two tokens must differ")
	}
	// 32 bytes base64url without padding is 43 characters.
	if len(a) != 43 {
		t.Fatalf("token length = %d, want 43", len(a))
	}
}

func TestNewOTP(t *testing.T) {
	for _, digits := range []int{6, 8, 10} {
		code, err := NewOTP(digits)
		if err != nil {
			t.Fatalf("NewOTP(%d): %v", digits, err)
		}
		if len(code) != digits {
			t.Fatalf("NewOTP(%d) length = %d", digits, len(code))
		}
		for _, r := range code {
			if r < '0' || r > '9' {
				t.Fatalf("non-digit in OTP: %q", code)
			}
		}
	}

	for _, digits := range []int{0, 5, 11} {
		if _, err := NewOTP(digits); err == nil {
			t.Fatalf("NewOTP(%d): expected error", digits)
		}
	}
}

func TestDeviceSecretRoundTrip(t *testing.T) {
	raw, stored, err := NewDeviceSecret()
	if err != nil {
		t.Fatalf("new device secret: %v", err)
	}

	recomputed, err := HashDeviceSecret(raw)
	if err != nil {
		t.Fatalf("hash presented secret: %v", err)
	}
	if !HashEqual(stored, recomputed) {
		t.Fatal("recomputed hash does not match stored hash")
	}

	other, _, err := NewDeviceSecret()
	if err != nil {
		t.Fatalf("new device secret: %v", err)
	}
	otherHash, err := HashDeviceSecret(other)
	if err != nil {
		t.Fatalf("hash other secret: %v", err)
	}
	if HashEqual(stored, otherHash) {
		t.Fatal("distinct secrets hashed equal")
	}
}

func TestHashDeviceSecretRejectsGarbage(t *testing.T) {
	for _, presented := range []string{"", "not base64 !!!", "c2hvcnQ"} {
		if _, err := HashDeviceSecret(presented); err == nil {
			t.Fatalf("HashDeviceSecret(%q): expected error", presented)
		}
	}
}

func TestNewSessionID(t *testing.T) {
	a, err := NewSessionID()
	if err != nil {
		t.Fatalf("new session id: %v", err)
	}
	b, err := NewSessionID()
	if err != nil {
		t.Fatalf("new session id: %v", err)
	}
	if a == b || a == "" {
		t.Fatalf("session ids must be unique and non-empty: %q %q", a, b)
	}
}
