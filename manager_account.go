package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Register creates a new account and kicks off email verification. The
// candidate password goes through the same strength rules as every later
// change; the stored role defaults to customer when unset.
func (m *Manager) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	if m == nil || !m.ready {
		return nil, ErrManagerNotReady
	}

	email := normalizeEmail(req.Email)
	if email == "" {
		return nil, ErrInvalidCredentials
	}

	if err := m.policy.ValidateStrength(req.Password); err != nil {
		m.metrics.Inc(MetricPasswordPolicyRejected)
		return nil, err
	}

	hash, err := m.hasher.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	role := req.Role
	if role == "" {
		role = RoleCustomer
	}
	user := &User{
		ID:             uuid.NewString(),
		Email:          email,
		PasswordHash:   hash,
		Role:           role,
		OrganizationID: req.OrganizationID,
	}
	if err := m.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, ErrEmailTaken
		}
		m.metrics.Inc(MetricStorageError)
		return nil, fmt.Errorf("%w: create user: %v", ErrStorageUnavailable, err)
	}

	m.metrics.Inc(MetricAccountCreated)
	m.emitAudit(ctx, auditEventAccountCreated, true, user.ID, "", nil, nil)

	token, err := m.vault.Issue(ctx, user.ID, TokenEmailVerification, "")
	if err != nil {
		// The account exists; verification can be re-requested.
		m.metrics.Inc(MetricStorageError)
		m.logger.ErrorContext(ctx, "issue verification token", "error", err)
		return user, nil
	}
	m.notify(ctx, user.ID, "email_verification", func(ctx context.Context) error {
		return m.notifier.SendVerificationLink(ctx, user.Email, token)
	})
	return user, nil
}

// ChangePassword replaces the password of an authenticated user. The current
// password must verify, and the candidate must pass strength and reuse
// checks before anything is written. The change commits atomically, then all
// other sessions are destroyed and a notification is sent.
func (m *Manager) ChangePassword(ctx context.Context, userID, current, candidate, keepSessionID string) error {
	if m == nil || !m.ready {
		return ErrManagerNotReady
	}

	user, err := m.store.GetUserByID(ctx, userID)
	if err != nil || user == nil {
		if err != nil && KindOf(err) == ErrorStorageUnavailable {
			m.metrics.Inc(MetricStorageError)
			return fmt.Errorf("%w: user lookup: %v", ErrStorageUnavailable, err)
		}
		return ErrUserNotFound
	}

	ok, err := m.hasher.Verify(current, user.PasswordHash)
	if err != nil || !ok {
		m.emitAudit(ctx, auditEventPasswordChange, false, user.ID, "", ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}

	if err := m.policy.ValidateStrength(candidate); err != nil {
		m.metrics.Inc(MetricPasswordPolicyRejected)
		return err
	}
	reused, err := m.policy.CheckReuse(ctx, user, candidate)
	if err != nil {
		m.metrics.Inc(MetricStorageError)
		return err
	}
	if reused {
		m.metrics.Inc(MetricPasswordReuseRejected)
		return ErrPasswordReuse
	}

	newHash, err := m.hasher.Hash(candidate)
	if err != nil {
		return err
	}
	if err := m.policy.Commit(ctx, user, newHash); err != nil {
		m.metrics.Inc(MetricStorageError)
		return err
	}

	// Other sessions die; the one performing the change may stay.
	if err := m.store.DeleteUserSessions(ctx, user.ID); err != nil {
		m.logger.ErrorContext(ctx, "delete sessions after password change", "error", err)
	} else if keepSessionID != "" {
		if err := m.recreateSession(ctx, user, keepSessionID); err != nil {
			m.logger.WarnContext(ctx, "restore current session", "error", err)
		}
	}

	m.metrics.Inc(MetricPasswordChangeSuccess)
	m.emitAudit(ctx, auditEventPasswordChange, true, user.ID, keepSessionID, nil, nil)
	m.notify(ctx, user.ID, "password_change", func(ctx context.Context) error {
		return m.notifier.SendPasswordChangeNotification(ctx, user.Email, user.Email, clientIPFromContext(ctx))
	})
	return nil
}

// recreateSession reinstates the caller's session after the blanket delete in
// ChangePassword, preserving its ID so the client keeps working.
func (m *Manager) recreateSession(ctx context.Context, user *User, sessionID string) error {
	now := m.now()
	return m.store.CreateSession(ctx, &Session{
		ID:             sessionID,
		UserID:         user.ID,
		Role:           user.Role,
		OrganizationID: user.OrganizationID,
		CreatedAt:      now,
		ExpiresAt:      now.Add(m.cfg.Session.Lifetime),
	})
}
