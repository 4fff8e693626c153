// Package password provides argon2id hashing with PHC-formatted output and
// constant-time verification.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

const phcAlgorithm = "argon2id"

var (
	// ErrMalformedHash indicates the stored hash is not a valid argon2id PHC
	// string.
	ErrMalformedHash = errors.New("malformed password hash")
)

// Config holds argon2id cost parameters. Memory is in KiB.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultConfig returns interactive-login cost parameters (64 MiB, t=2).
func DefaultConfig() Config {
	return Config{
		Memory:      64 * 1024,
		Time:        2,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Validate rejects parameters below the floors this package is willing to
// produce hashes with.
func (c Config) Validate() error {
	switch {
	case c.Memory < 8*1024:
		return errors.New("memory must be >= 8192 KiB")
	case c.Time < 1:
		return errors.New("time cost must be >= 1")
	case c.Parallelism < 1:
		return errors.New("parallelism must be >= 1")
	case c.SaltLength < 16:
		return errors.New("salt length must be >= 16")
	case c.KeyLength < 16:
		return errors.New("key length must be >= 16")
	}
	return nil
}

// Hasher derives and verifies argon2id hashes. A Hasher is immutable after
// construction and safe for concurrent use.
type Hasher struct {
	cfg Config

	// dummy is a valid hash of a random throwaway value, verified against
	// when the caller needs uniform timing for nonexistent accounts.
	dummy string
}

// NewHasher validates cfg and prepares a Hasher.
func NewHasher(cfg Config) (*Hasher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	h := &Hasher{cfg: cfg}

	throwaway := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, throwaway); err != nil {
		return nil, err
	}
	dummy, err := h.Hash(base64.RawStdEncoding.EncodeToString(throwaway))
	if err != nil {
		return nil, err
	}
	h.dummy = dummy
	return h, nil
}

// Hash derives an argon2id hash of password and encodes it as a PHC string:
//
//	$argon2id$v=19$m=65536,t=2,p=2$<salt>$<key>
func (h *Hasher) Hash(password string) (string, error) {
	salt := make([]byte, h.cfg.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key := argon2.IDKey([]byte(password), salt, h.cfg.Time, h.cfg.Memory, h.cfg.Parallelism, h.cfg.KeyLength)

	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		phcAlgorithm,
		argon2.Version,
		h.cfg.Memory, h.cfg.Time, h.cfg.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether password matches encoded. The comparison of derived
// keys is constant-time; parameters are taken from the stored hash so old
// hashes keep verifying after a cost upgrade.
func (h *Hasher) Verify(password, encoded string) (bool, error) {
	p, err := parse(encoded)
	if err != nil {
		return false, err
	}

	derived := argon2.IDKey([]byte(password), p.salt, p.time, p.memory, p.parallelism, uint32(len(p.key)))
	return subtle.ConstantTimeCompare(derived, p.key) == 1, nil
}

// VerifyDummy burns one argon2 verification against a throwaway hash. Login
// paths call it when no account exists so the unknown-email and
// wrong-password branches cost the same.
func (h *Hasher) VerifyDummy(password string) {
	_, _ = h.Verify(password, h.dummy)
}

// NeedsRehash reports whether encoded was produced with weaker parameters
// than the Hasher's current configuration.
func (h *Hasher) NeedsRehash(encoded string) (bool, error) {
	p, err := parse(encoded)
	if err != nil {
		return false, err
	}
	return p.memory < h.cfg.Memory ||
		p.time < h.cfg.Time ||
		p.parallelism < h.cfg.Parallelism ||
		uint32(len(p.key)) != h.cfg.KeyLength, nil
}

type parsed struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func parse(encoded string) (*parsed, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != phcAlgorithm {
		return nil, ErrMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return nil, ErrMalformedHash
	}

	var p parsed
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.parallelism); err != nil {
		return nil, ErrMalformedHash
	}
	if p.memory == 0 || p.time == 0 || p.parallelism == 0 {
		return nil, ErrMalformedHash
	}

	var err error
	if p.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil || len(p.salt) < 8 {
		return nil, ErrMalformedHash
	}
	if p.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil || len(p.key) < 16 {
		return nil, ErrMalformedHash
	}
	return &p, nil
}
