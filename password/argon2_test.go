package password

import (
	"errors"
	"strings"
	"testing"
)

func fastConfig() Config {
	return Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	}
}

func TestHashAndVerify(t *testing.T) {
	h, err := NewHasher(fastConfig())
	if err != nil {
		t.Fatalf("new hasher: %v", err)
	}

	encoded, err := h.Hash("correct-horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$") {
		t.Fatalf("unexpected format: %s", encoded)
	}

	ok, err := h.Verify("correct-horse", encoded)
	if err != nil || !ok {
		t.Fatalf("verify = %v, %v; want true, nil", ok, err)
	}
	ok, err = h.Verify("wrong-horse", encoded)
	if err != nil || ok {
		t.Fatalf("wrong password verify = %v, %v; want false, nil", ok, err)
	}
}

func TestHashIsSalted(t *testing.T) {
	h, err := NewHasher(fastConfig())
	if err != nil {
		t.Fatalf("new hasher: %v", err)
	}

	a, _ := h.Hash("same-password")
	b, _ := h.Hash("same-password")
	if a == b {
		t.Fatal("two hashes of the same password must differ")
	}
}

func TestVerifyMalformed(t *testing.T) {
	h, err := NewHasher(fastConfig())
	if err != nil {
		t.Fatalf("new hasher: %v", err)
	}

	for _, encoded := range []string{
		"",
		"plaintext",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=0,t=0,p=0$c2FsdHNhbHRzYWx0c2FsdA$a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=8192,t=1,p=1$!!!$a2V5",
	} {
		if _, err := h.Verify("whatever", encoded); !errors.Is(err, ErrMalformedHash) {
			t.Errorf("Verify(%q): want ErrMalformedHash, got %v", encoded, err)
		}
	}
}

func TestVerifyAcrossParameterChange(t *testing.T) {
	weak, err := NewHasher(fastConfig())
	if err != nil {
		t.Fatalf("new hasher: %v", err)
	}
	encoded, err := weak.Hash("correct-horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	// A hasher with stronger parameters still verifies old hashes because
	// parameters come from the stored string.
	strong, err := NewHasher(Config{
		Memory:      16 * 1024,
		Time:        2,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("new strong hasher: %v", err)
	}
	ok, err := strong.Verify("correct-horse", encoded)
	if err != nil || !ok {
		t.Fatalf("cross-parameter verify = %v, %v; want true, nil", ok, err)
	}

	rehash, err := strong.NeedsRehash(encoded)
	if err != nil {
		t.Fatalf("needs rehash: %v", err)
	}
	if !rehash {
		t.Fatal("old hash should need rehash under stronger parameters")
	}

	own, _ := strong.Hash("correct-horse")
	rehash, err = strong.NeedsRehash(own)
	if err != nil || rehash {
		t.Fatalf("fresh hash NeedsRehash = %v, %v; want false, nil", rehash, err)
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"low memory", func(c *Config) { c.Memory = 1024 }},
		{"zero time", func(c *Config) { c.Time = 0 }},
		{"zero parallelism", func(c *Config) { c.Parallelism = 0 }},
		{"short salt", func(c *Config) { c.SaltLength = 8 }},
		{"short key", func(c *Config) { c.KeyLength = 8 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestVerifyDummyDoesNotPanic(t *testing.T) {
	h, err := NewHasher(fastConfig())
	if err != nil {
		t.Fatalf("new hasher: %v", err)
	}
	h.VerifyDummy("")
	h.VerifyDummy("anything")
}
