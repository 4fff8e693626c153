package authcore

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// enumerationDelay pads the not-found path of the request endpoints so its
// response time overlaps the found path, which does real token and notifier
// work.
func enumerationDelay(ctx context.Context) {
	d := 20*time.Millisecond + rand.N(20*time.Millisecond)
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

// RequestPasswordReset issues a single-use reset token and mails the link.
// The response is identical whether or not the email maps to an account;
// unknown emails simply do nothing after a small delay.
func (m *Manager) RequestPasswordReset(ctx context.Context, email string) error {
	if m == nil || !m.ready {
		return ErrManagerNotReady
	}

	m.metrics.Inc(MetricResetRequest)

	user, err := m.store.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil || user == nil {
		if err != nil && KindOf(err) == ErrorStorageUnavailable {
			m.metrics.Inc(MetricStorageError)
			return fmt.Errorf("%w: user lookup: %v", ErrStorageUnavailable, err)
		}
		enumerationDelay(ctx)
		return nil
	}

	// A new request supersedes any outstanding link.
	if err := m.vault.InvalidateAll(ctx, user.ID, TokenPasswordReset); err != nil {
		m.metrics.Inc(MetricStorageError)
		return err
	}
	token, err := m.vault.Issue(ctx, user.ID, TokenPasswordReset, "")
	if err != nil {
		m.metrics.Inc(MetricStorageError)
		return err
	}

	m.emitAudit(ctx, auditEventResetRequest, true, user.ID, "", nil, nil)
	m.notify(ctx, user.ID, "password_reset", func(ctx context.Context) error {
		return m.notifier.SendPasswordResetLink(ctx, user.Email, token)
	})
	return nil
}

// ConfirmPasswordReset redeems a reset token and installs the new password.
// Strength and reuse checks run before the token is consumed, so a rejected
// candidate leaves both the token and the stored hash untouched. Redemption
// and the password change commit in one transaction; afterwards every session
// of the user is destroyed and a change notification is sent.
func (m *Manager) ConfirmPasswordReset(ctx context.Context, email, token, newPassword string) error {
	if m == nil || !m.ready {
		return ErrManagerNotReady
	}

	user, err := m.store.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil || user == nil {
		if err != nil && KindOf(err) == ErrorStorageUnavailable {
			m.metrics.Inc(MetricStorageError)
			return fmt.Errorf("%w: user lookup: %v", ErrStorageUnavailable, err)
		}
		m.metrics.Inc(MetricResetFailure)
		return ErrTokenNotFound
	}

	if err := m.policy.ValidateStrength(newPassword); err != nil {
		m.metrics.Inc(MetricPasswordPolicyRejected)
		return err
	}
	reused, err := m.policy.CheckReuse(ctx, user, newPassword)
	if err != nil {
		m.metrics.Inc(MetricStorageError)
		return err
	}
	if reused {
		m.metrics.Inc(MetricPasswordReuseRejected)
		return ErrPasswordReuse
	}

	newHash, err := m.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	now := m.now()
	err = m.store.WithinTransaction(ctx, func(ctx context.Context, tx Store) error {
		if _, err := tx.ConsumeToken(ctx, user.ID, token, TokenPasswordReset, now); err != nil {
			return err
		}
		return commitPasswordChange(ctx, tx, user, newHash, now)
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrTokenNotFound), errors.Is(err, ErrTokenExpired), errors.Is(err, ErrTokenAlreadyUsed):
			m.metrics.Inc(MetricResetFailure)
			m.emitAudit(ctx, auditEventResetConfirm, false, user.ID, "", err, nil)
			return err
		default:
			m.metrics.Inc(MetricStorageError)
			return fmt.Errorf("%w: confirm password reset: %v", ErrStorageUnavailable, err)
		}
	}

	if err := m.store.DeleteUserSessions(ctx, user.ID); err != nil {
		m.logger.ErrorContext(ctx, "delete sessions after reset", "error", err)
	}

	m.metrics.Inc(MetricResetSuccess)
	m.emitAudit(ctx, auditEventResetConfirm, true, user.ID, "", nil, nil)
	m.notify(ctx, user.ID, "password_change", func(ctx context.Context) error {
		return m.notifier.SendPasswordChangeNotification(ctx, user.Email, user.Email, clientIPFromContext(ctx))
	})
	return nil
}

// RequestEmailVerification mails a fresh verification link. Unknown and
// already-verified emails both return nil after the anti-enumeration delay.
func (m *Manager) RequestEmailVerification(ctx context.Context, email string) error {
	if m == nil || !m.ready {
		return ErrManagerNotReady
	}

	m.metrics.Inc(MetricVerificationRequest)

	user, err := m.store.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil || user == nil || user.Verified() {
		if err != nil && KindOf(err) == ErrorStorageUnavailable {
			m.metrics.Inc(MetricStorageError)
			return fmt.Errorf("%w: user lookup: %v", ErrStorageUnavailable, err)
		}
		enumerationDelay(ctx)
		return nil
	}

	if err := m.vault.InvalidateAll(ctx, user.ID, TokenEmailVerification); err != nil {
		m.metrics.Inc(MetricStorageError)
		return err
	}
	token, err := m.vault.Issue(ctx, user.ID, TokenEmailVerification, "")
	if err != nil {
		m.metrics.Inc(MetricStorageError)
		return err
	}

	m.emitAudit(ctx, auditEventVerificationRequest, true, user.ID, "", nil, nil)
	m.notify(ctx, user.ID, "email_verification", func(ctx context.Context) error {
		return m.notifier.SendVerificationLink(ctx, user.Email, token)
	})
	return nil
}

// ConfirmEmailVerification redeems a verification token and marks the
// account verified in the same transaction.
func (m *Manager) ConfirmEmailVerification(ctx context.Context, email, token string) error {
	if m == nil || !m.ready {
		return ErrManagerNotReady
	}

	user, err := m.store.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil || user == nil {
		if err != nil && KindOf(err) == ErrorStorageUnavailable {
			m.metrics.Inc(MetricStorageError)
			return fmt.Errorf("%w: user lookup: %v", ErrStorageUnavailable, err)
		}
		m.metrics.Inc(MetricVerificationFailure)
		return ErrTokenNotFound
	}

	now := m.now()
	err = m.store.WithinTransaction(ctx, func(ctx context.Context, tx Store) error {
		if _, err := tx.ConsumeToken(ctx, user.ID, token, TokenEmailVerification, now); err != nil {
			return err
		}
		return tx.MarkEmailVerified(ctx, user.ID, now)
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrTokenNotFound), errors.Is(err, ErrTokenExpired), errors.Is(err, ErrTokenAlreadyUsed):
			m.metrics.Inc(MetricVerificationFailure)
			m.emitAudit(ctx, auditEventVerificationConfirm, false, user.ID, "", err, nil)
			return err
		default:
			m.metrics.Inc(MetricStorageError)
			return fmt.Errorf("%w: confirm verification: %v", ErrStorageUnavailable, err)
		}
	}

	m.metrics.Inc(MetricVerificationSuccess)
	m.emitAudit(ctx, auditEventVerificationConfirm, true, user.ID, "", nil, nil)
	return nil
}
