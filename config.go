package authcore

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/credware/authcore/password"
)

const maxDeviceTrustTTL = 30 * 24 * time.Hour

// LockoutConfig tunes the failed-login window. The window is keyed per
// (identifier, source) pair and computed by counting the attempt log.
type LockoutConfig struct {
	// Threshold is the number of failures within Window that locks the pair.
	Threshold int `env:"THRESHOLD" envDefault:"5"`
	// Window is the sliding interval over which failures are counted.
	Window time.Duration `env:"WINDOW" envDefault:"10m"`
}

// PasswordConfig tunes strength rules, history depth, and hashing cost.
type PasswordConfig struct {
	MinLength      int  `env:"MIN_LENGTH" envDefault:"12"`
	RequireUpper   bool `env:"REQUIRE_UPPER" envDefault:"true"`
	RequireLower   bool `env:"REQUIRE_LOWER" envDefault:"true"`
	RequireDigit   bool `env:"REQUIRE_DIGIT" envDefault:"true"`
	RequireSpecial bool `env:"REQUIRE_SPECIAL" envDefault:"true"`
	// HistoryDepth is how many prior hashes the reuse check consults.
	HistoryDepth int `env:"HISTORY_DEPTH" envDefault:"5"`

	Argon2 password.Config `envPrefix:"ARGON2_"`
}

// TokenConfig sets per-type token lifetimes and the MFA code width.
type TokenConfig struct {
	MFATTL          time.Duration `env:"MFA_TTL" envDefault:"5m"`
	ResetTTL        time.Duration `env:"RESET_TTL" envDefault:"1h"`
	VerificationTTL time.Duration `env:"VERIFICATION_TTL" envDefault:"24h"`
	MFADigits       int           `env:"MFA_DIGITS" envDefault:"6"`
}

// DeviceTrustConfig bounds the MFA-bypass credential lifetime.
type DeviceTrustConfig struct {
	// TTL may not exceed 30 days.
	TTL time.Duration `env:"TTL" envDefault:"720h"`
}

// SessionConfig sets the absolute session lifetime.
type SessionConfig struct {
	Lifetime time.Duration `env:"LIFETIME" envDefault:"24h"`
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool `env:"ENABLED" envDefault:"true"`
	BufferSize int  `env:"BUFFER_SIZE" envDefault:"256"`
	// DropIfFull drops events under backpressure instead of blocking the
	// request path. Dropped counts are observable via Manager.AuditDropped.
	DropIfFull bool `env:"DROP_IF_FULL" envDefault:"true"`
}

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled                 bool `env:"ENABLED" envDefault:"true"`
	EnableLatencyHistograms bool `env:"LATENCY_HISTOGRAMS" envDefault:"false"`
}

// Config is the full configuration of a Manager. Zero values are not usable;
// start from DefaultConfig or ConfigFromEnv.
type Config struct {
	Lockout     LockoutConfig     `envPrefix:"AUTHCORE_LOCKOUT_"`
	Password    PasswordConfig    `envPrefix:"AUTHCORE_PASSWORD_"`
	Tokens      TokenConfig       `envPrefix:"AUTHCORE_TOKEN_"`
	DeviceTrust DeviceTrustConfig `envPrefix:"AUTHCORE_DEVICE_TRUST_"`
	Session     SessionConfig     `envPrefix:"AUTHCORE_SESSION_"`
	Audit       AuditConfig       `envPrefix:"AUTHCORE_AUDIT_"`
	Metrics     MetricsConfig     `envPrefix:"AUTHCORE_METRICS_"`

	// RequireVerifiedEmail blocks login until the verification flow
	// completed.
	RequireVerifiedEmail bool `env:"AUTHCORE_REQUIRE_VERIFIED_EMAIL" envDefault:"false"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Lockout: LockoutConfig{Threshold: 5, Window: 10 * time.Minute},
		Password: PasswordConfig{
			MinLength:      12,
			RequireUpper:   true,
			RequireLower:   true,
			RequireDigit:   true,
			RequireSpecial: true,
			HistoryDepth:   5,
			Argon2:         password.DefaultConfig(),
		},
		Tokens: TokenConfig{
			MFATTL:          5 * time.Minute,
			ResetTTL:        time.Hour,
			VerificationTTL: 24 * time.Hour,
			MFADigits:       6,
		},
		DeviceTrust: DeviceTrustConfig{TTL: maxDeviceTrustTTL},
		Session:     SessionConfig{Lifetime: 24 * time.Hour},
		Audit:       AuditConfig{Enabled: true, BufferSize: 256, DropIfFull: true},
		Metrics:     MetricsConfig{Enabled: true},
	}
}

// ConfigFromEnv parses configuration from AUTHCORE_* environment variables,
// falling back to the defaults.
func ConfigFromEnv() (Config, error) {
	cfg := Config{Password: PasswordConfig{Argon2: password.DefaultConfig()}}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.Password.Argon2 == (password.Config{}) {
		cfg.Password.Argon2 = password.DefaultConfig()
	}
	return cfg, cfg.Validate()
}

// Validate rejects configurations that would weaken the subsystem's
// invariants rather than silently clamping them.
func (c Config) Validate() error {
	if c.Lockout.Threshold < 1 {
		return errors.New("lockout threshold must be >= 1")
	}
	if c.Lockout.Window <= 0 {
		return errors.New("lockout window must be positive")
	}
	if c.Password.MinLength < 8 {
		return errors.New("password min length must be >= 8")
	}
	if c.Password.HistoryDepth < 0 {
		return errors.New("password history depth must be >= 0")
	}
	if c.Tokens.MFATTL <= 0 || c.Tokens.ResetTTL <= 0 || c.Tokens.VerificationTTL <= 0 {
		return errors.New("token TTLs must be positive")
	}
	if c.Tokens.MFADigits < 6 || c.Tokens.MFADigits > 10 {
		return errors.New("mfa digits must be in [6,10]")
	}
	if c.DeviceTrust.TTL <= 0 || c.DeviceTrust.TTL > maxDeviceTrustTTL {
		return errors.New("device trust TTL must be in (0, 30 days]")
	}
	if c.Session.Lifetime <= 0 {
		return errors.New("session lifetime must be positive")
	}
	if err := c.Password.Argon2.Validate(); err != nil {
		return fmt.Errorf("argon2: %w", err)
	}
	return nil
}
