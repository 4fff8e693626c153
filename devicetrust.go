package authcore

import (
	"context"
	"fmt"
	"time"

	"github.com/credware/authcore/internal"
)

// DeviceTrustRegistry issues and validates trusted-device credentials that
// bypass MFA for a bounded period.
//
// The raw device secret is returned to the caller exactly once and only its
// SHA-256 is persisted: a trusted-device credential is a standing MFA
// bypass, so it must not be recoverable from storage. A password change or
// logout-all revokes every credential for the user regardless of expiry.
type DeviceTrustRegistry struct {
	store Store
	cfg   DeviceTrustConfig
	now   func() time.Time
}

// NewDeviceTrustRegistry wires a registry to the store.
func NewDeviceTrustRegistry(store Store, cfg DeviceTrustConfig) *DeviceTrustRegistry {
	return &DeviceTrustRegistry{store: store, cfg: cfg, now: time.Now}
}

// IssueTrust mints a device credential for the user and returns the raw
// token. Expiry is issuance plus the configured TTL, capped at 30 days by
// config validation.
func (r *DeviceTrustRegistry) IssueTrust(ctx context.Context, userID, deviceName string) (string, error) {
	raw, hash, err := internal.NewDeviceSecret()
	if err != nil {
		return "", err
	}

	now := r.now()
	device := &TrustedDeviceToken{
		UserID:     userID,
		SecretHash: hash,
		DeviceName: deviceName,
		CreatedAt:  now,
		ExpiresAt:  now.Add(r.cfg.TTL),
	}
	if err := r.store.SaveTrustedDevice(ctx, device); err != nil {
		return "", fmt.Errorf("%w: save trusted device: %v", ErrStorageUnavailable, err)
	}
	return raw, nil
}

// IsTrusted reports whether the presented token matches a non-expired
// credential of the user. Hash comparison is constant-time; a malformed
// token is simply untrusted.
func (r *DeviceTrustRegistry) IsTrusted(ctx context.Context, userID, presented string) (bool, error) {
	if presented == "" {
		return false, nil
	}
	hash, err := internal.HashDeviceSecret(presented)
	if err != nil {
		return false, nil
	}

	devices, err := r.store.ListTrustedDevices(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("%w: list trusted devices: %v", ErrStorageUnavailable, err)
	}

	now := r.now()
	trusted := false
	for _, d := range devices {
		// Scan the full list so timing does not reveal which entry matched.
		if internal.HashEqual(d.SecretHash, hash) && d.ExpiresAt.After(now) {
			trusted = true
		}
	}
	return trusted, nil
}

// RevokeAll deletes every device credential of the user, write-through.
func (r *DeviceTrustRegistry) RevokeAll(ctx context.Context, userID string) error {
	if err := r.store.RevokeTrustedDevices(ctx, userID); err != nil {
		return fmt.Errorf("%w: revoke trusted devices: %v", ErrStorageUnavailable, err)
	}
	return nil
}
