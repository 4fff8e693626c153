package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/credware/authcore/internal"
)

// TokenVault issues, validates, and consumes the single-use time-limited
// tokens backing email verification, password reset, and MFA codes.
//
// Each token moves through ISSUED → (REDEEMED | EXPIRED), both terminal.
// The redeem check-and-mark is one compare-and-set through the Store, so two
// concurrent redemptions of the same token cannot both succeed.
type TokenVault struct {
	store Store
	cfg   TokenConfig
	now   func() time.Time
}

// NewTokenVault wires a vault to the store with the configured TTLs.
func NewTokenVault(store Store, cfg TokenConfig) *TokenVault {
	return &TokenVault{store: store, cfg: cfg, now: time.Now}
}

// TTL returns the configured lifetime for a token type.
func (v *TokenVault) TTL(typ TokenType) time.Duration {
	switch typ {
	case TokenMFACode:
		return v.cfg.MFATTL
	case TokenPasswordReset:
		return v.cfg.ResetTTL
	default:
		return v.cfg.VerificationTTL
	}
}

// Issue mints a token of the given type for the user and persists it unused.
// MFA codes are numeric OTPs; reset and verification tokens are 32-byte
// base64url strings. deviceName is carried only on mfa_code tokens, marking
// a remember-device opt-in to honor at redemption.
func (v *TokenVault) Issue(ctx context.Context, userID string, typ TokenType, deviceName string) (string, error) {
	var (
		secret string
		err    error
	)
	if typ == TokenMFACode {
		secret, err = internal.NewOTP(v.cfg.MFADigits)
	} else {
		secret, err = internal.NewTokenSecret()
	}
	if err != nil {
		return "", err
	}

	now := v.now()
	row := &VerificationToken{
		ID:         uuid.NewString(),
		UserID:     userID,
		Token:      secret,
		Type:       typ,
		ExpiresAt:  now.Add(v.TTL(typ)),
		DeviceName: deviceName,
		CreatedAt:  now,
	}
	if err := v.store.CreateToken(ctx, row); err != nil {
		return "", fmt.Errorf("%w: create token: %v", ErrStorageUnavailable, err)
	}
	return secret, nil
}

// Redeem atomically consumes the token: it must exist for the user, match
// the type, be unexpired, and be unused, and the same operation that checks
// those conditions marks it used. Failures return ErrTokenNotFound,
// ErrTokenExpired, or ErrTokenAlreadyUsed for audit purposes; callers must
// collapse all three into one generic user-facing message.
func (v *TokenVault) Redeem(ctx context.Context, userID, token string, typ TokenType) (*VerificationToken, error) {
	if token == "" {
		return nil, ErrTokenNotFound
	}

	row, err := v.store.ConsumeToken(ctx, userID, token, typ, v.now())
	if err != nil {
		switch {
		case errors.Is(err, ErrTokenNotFound), errors.Is(err, ErrTokenExpired), errors.Is(err, ErrTokenAlreadyUsed):
			return nil, err
		default:
			return nil, fmt.Errorf("%w: consume token: %v", ErrStorageUnavailable, err)
		}
	}
	return row, nil
}

// Outstanding returns the newest unused, unexpired token of the given type,
// or nil when none is pending. Used to carry state from a superseded token
// onto its replacement.
func (v *TokenVault) Outstanding(ctx context.Context, userID string, typ TokenType) (*VerificationToken, error) {
	row, err := v.store.ActiveToken(ctx, userID, typ, v.now())
	if err != nil {
		return nil, fmt.Errorf("%w: active token lookup: %v", ErrStorageUnavailable, err)
	}
	return row, nil
}

// InvalidateAll terminates every outstanding unused token of the given type
// for the user. Used when a fresh MFA code supersedes earlier ones and when
// a password commit voids outstanding reset links.
func (v *TokenVault) InvalidateAll(ctx context.Context, userID string, typ TokenType) error {
	if err := v.store.InvalidateTokens(ctx, userID, typ, v.now()); err != nil {
		return fmt.Errorf("%w: invalidate tokens: %v", ErrStorageUnavailable, err)
	}
	return nil
}
