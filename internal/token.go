// Package internal holds the random-material helpers shared by the authcore
// components: opaque tokens, numeric OTPs, device secrets, and their hashes.
package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"math/big"
	"strings"
)

const (
	tokenSecretSize  = 32
	deviceSecretSize = 32
	sessionIDSize    = 16
)

// NewTokenSecret returns a 32-byte random token encoded as unpadded
// base64url. Used for password-reset and email-verification tokens.
func NewTokenSecret() (string, error) {
	var raw [tokenSecretSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// NewSessionID returns a 16-byte random opaque session identifier.
func NewSessionID() (string, error) {
	var raw [sessionIDSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// NewOTP returns a uniformly random numeric code of the given width.
func NewOTP(digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", errors.New("otp digits out of range")
	}

	var b strings.Builder
	b.Grow(digits)
	ten := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}

// NewDeviceSecret returns the raw trusted-device secret handed to the client
// (base64url) and the SHA-256 persisted server-side. The raw form is never
// stored.
func NewDeviceSecret() (string, [32]byte, error) {
	var raw [deviceSecretSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", [32]byte{}, err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), sha256.Sum256(raw[:]), nil
}

// HashDeviceSecret recomputes the stored hash for a presented device token.
func HashDeviceSecret(presented string) ([32]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(presented)
	if err != nil || len(raw) != deviceSecretSize {
		return [32]byte{}, errors.New("invalid device token encoding")
	}
	return sha256.Sum256(raw), nil
}

// HashEqual compares two secret hashes in constant time.
func HashEqual(a, b [32]byte) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}
