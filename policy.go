package authcore

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/credware/authcore/password"
)

// PolicyViolation names one failed strength rule.
type PolicyViolation string

const (
	ViolationTooShort       PolicyViolation = "too_short"
	ViolationMissingUpper   PolicyViolation = "missing_uppercase"
	ViolationMissingLower   PolicyViolation = "missing_lowercase"
	ViolationMissingDigit   PolicyViolation = "missing_digit"
	ViolationMissingSpecial PolicyViolation = "missing_special"
)

// PolicyError carries the full violation list. It unwraps to
// ErrPasswordPolicy so errors.Is keeps working at call sites that only care
// about the kind.
type PolicyError struct {
	Violations []PolicyViolation
}

func (e *PolicyError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = string(v)
	}
	return "password policy violation: " + strings.Join(parts, ", ")
}

func (e *PolicyError) Unwrap() error { return ErrPasswordPolicy }

// PasswordPolicy validates password strength, enforces non-reuse against the
// history, and commits password changes transactionally.
type PasswordPolicy struct {
	store  Store
	hasher *password.Hasher
	cfg    PasswordConfig
	now    func() time.Time
}

// NewPasswordPolicy wires a policy to its collaborators.
func NewPasswordPolicy(store Store, hasher *password.Hasher, cfg PasswordConfig) *PasswordPolicy {
	return &PasswordPolicy{store: store, hasher: hasher, cfg: cfg, now: time.Now}
}

// ValidateStrength checks the candidate against every configured rule and
// reports all violations together, not just the first.
func (p *PasswordPolicy) ValidateStrength(candidate string) error {
	var violations []PolicyViolation

	if len([]rune(candidate)) < p.cfg.MinLength {
		violations = append(violations, ViolationTooShort)
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range candidate {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSpecial = true
		}
	}
	if p.cfg.RequireUpper && !hasUpper {
		violations = append(violations, ViolationMissingUpper)
	}
	if p.cfg.RequireLower && !hasLower {
		violations = append(violations, ViolationMissingLower)
	}
	if p.cfg.RequireDigit && !hasDigit {
		violations = append(violations, ViolationMissingDigit)
	}
	if p.cfg.RequireSpecial && !hasSpecial {
		violations = append(violations, ViolationMissingSpecial)
	}

	if len(violations) > 0 {
		return &PolicyError{Violations: violations}
	}
	return nil
}

// CheckReuse reports whether the candidate matches the user's current
// password or any of the most recent history entries (policy: last 5). The
// comparison is the same one-way verify the CredentialVerifier uses.
func (p *PasswordPolicy) CheckReuse(ctx context.Context, user *User, candidate string) (bool, error) {
	if ok, err := p.hasher.Verify(candidate, user.PasswordHash); err == nil && ok {
		return true, nil
	}

	if p.cfg.HistoryDepth == 0 {
		return false, nil
	}
	history, err := p.store.RecentPasswordHistory(ctx, user.ID, p.cfg.HistoryDepth)
	if err != nil {
		return false, fmt.Errorf("%w: load password history: %v", ErrStorageUnavailable, err)
	}
	for _, entry := range history {
		if ok, err := p.hasher.Verify(candidate, entry.PasswordHash); err == nil && ok {
			return true, nil
		}
	}
	return false, nil
}

// Commit applies a validated password change in one transaction: the user's
// hash is replaced, a history entry is appended, outstanding reset tokens
// are voided, trusted devices are revoked, and the failed-attempt window is
// cleared. A crash mid-sequence leaves either the old or the fully updated
// state, never a mix.
//
// Strength and reuse checks are the caller's responsibility and must happen
// before Commit; Commit itself performs no validation.
func (p *PasswordPolicy) Commit(ctx context.Context, user *User, newHash string) error {
	now := p.now()
	err := p.store.WithinTransaction(ctx, func(ctx context.Context, tx Store) error {
		return commitPasswordChange(ctx, tx, user, newHash, now)
	})
	if err != nil {
		return fmt.Errorf("%w: password commit: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// commitPasswordChange runs the change steps against tx so flows that need
// additional work in the same transaction (reset redeems its token first)
// can reuse them.
func commitPasswordChange(ctx context.Context, tx Store, user *User, newHash string, now time.Time) error {
	if err := tx.UpdatePasswordHash(ctx, user.ID, newHash); err != nil {
		return err
	}
	if err := tx.AppendPasswordHistory(ctx, &PasswordHistoryEntry{
		UserID:       user.ID,
		PasswordHash: user.PasswordHash,
		CreatedAt:    now,
	}); err != nil {
		return err
	}
	if err := tx.InvalidateTokens(ctx, user.ID, TokenPasswordReset, now); err != nil {
		return err
	}
	if err := tx.RevokeTrustedDevices(ctx, user.ID); err != nil {
		return err
	}
	return tx.DeleteFailedAttempts(ctx, user.Email, "")
}
