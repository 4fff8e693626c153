package authcore

import (
	"context"
	"fmt"
	"strings"

	"github.com/credware/authcore/password"
)

// CredentialVerifier checks email/password pairs against stored hashes. It
// is read-only and deliberately records nothing: attempt accounting is the
// caller's responsibility so the verifier stays composable.
type CredentialVerifier struct {
	store  Store
	hasher *password.Hasher
}

// NewCredentialVerifier wires a verifier to its collaborators.
func NewCredentialVerifier(store Store, hasher *password.Hasher) *CredentialVerifier {
	return &CredentialVerifier{store: store, hasher: hasher}
}

// Verify returns the user when the pair matches and ErrInvalidCredentials
// otherwise. Unknown emails and wrong passwords are indistinguishable to the
// caller, and both branches cost one argon2 comparison: when no account
// exists a dummy verification runs instead.
//
// Plaintext passwords are never logged or included in wrapped errors.
func (v *CredentialVerifier) Verify(ctx context.Context, email, candidate string) (*User, error) {
	if candidate == "" {
		v.hasher.VerifyDummy(candidate)
		return nil, ErrInvalidCredentials
	}

	user, err := v.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil || user == nil {
		if err != nil && KindOf(err) == ErrorStorageUnavailable {
			return nil, fmt.Errorf("%w: user lookup: %v", ErrStorageUnavailable, err)
		}
		v.hasher.VerifyDummy(candidate)
		return nil, ErrInvalidCredentials
	}

	ok, err := v.hasher.Verify(candidate, user.PasswordHash)
	if err != nil || !ok {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}
