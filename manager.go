package authcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/credware/authcore/internal"
	"github.com/credware/authcore/password"
)

// Manager is the facade over the credential subsystem. Build one through the
// Builder; the zero value is not usable. A Manager is immutable after Build
// and safe for concurrent use.
type Manager struct {
	cfg      Config
	store    Store
	notifier Notifier

	verifier *CredentialVerifier
	tracker  *LoginAttemptTracker
	trust    *DeviceTrustRegistry
	vault    *TokenVault
	policy   *PasswordPolicy
	hasher   *password.Hasher

	audit   *auditDispatcher
	metrics *Metrics
	logger  *slog.Logger
	now     func() time.Time

	ready bool
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// attemptSource resolves the failed-attempt window key: an explicit Source
// wins, otherwise the client IP carried on the context.
func attemptSource(ctx context.Context, opts LoginOptions) string {
	if opts.Source != "" {
		return opts.Source
	}
	return clientIPFromContext(ctx)
}

// Login performs the first authentication factor. The lockout gate runs
// before credential verification, so a locked pair is rejected even when the
// password is correct. On success the result is either a final session (the
// presented device token was trusted) or MFAPending with a code sent out of
// band.
func (m *Manager) Login(ctx context.Context, email, candidate string, opts LoginOptions) (*LoginResult, error) {
	if m == nil || !m.ready {
		return nil, ErrManagerNotReady
	}
	start := m.now()
	defer func() {
		m.metrics.Observe(MetricLoginLatency, m.now().Sub(start))
	}()

	identifier := normalizeEmail(email)
	source := attemptSource(ctx, opts)

	locked, err := m.tracker.IsLocked(ctx, identifier, source)
	if err != nil {
		m.metrics.Inc(MetricStorageError)
		return nil, err
	}
	if locked {
		m.metrics.Inc(MetricLoginLocked)
		m.emitAudit(ctx, auditEventLoginLocked, false, "", "", ErrAccountLocked, func() map[string]string {
			return map[string]string{"identifier": identifier, "source": source}
		})
		return nil, ErrAccountLocked
	}

	user, err := m.verifier.Verify(ctx, identifier, candidate)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			if recErr := m.tracker.RecordAttempt(ctx, identifier, source, AttemptFailure); recErr != nil {
				m.metrics.Inc(MetricStorageError)
				m.logger.ErrorContext(ctx, "record failed login attempt", "error", recErr)
			}
			m.metrics.Inc(MetricLoginFailure)
			m.emitAudit(ctx, auditEventLoginFailure, false, "", "", err, func() map[string]string {
				return map[string]string{"identifier": identifier, "source": source}
			})
			return nil, ErrInvalidCredentials
		}
		m.metrics.Inc(MetricStorageError)
		return nil, err
	}

	if m.cfg.RequireVerifiedEmail && !user.Verified() {
		m.metrics.Inc(MetricLoginFailure)
		m.emitAudit(ctx, auditEventLoginFailure, false, user.ID, "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"reason": "email_unverified"}
		})
		return nil, ErrInvalidCredentials
	}

	if err := m.tracker.RecordAttempt(ctx, identifier, source, AttemptSuccess); err != nil {
		m.metrics.Inc(MetricStorageError)
		m.logger.ErrorContext(ctx, "record login attempt", "error", err)
	}

	if opts.DeviceToken != "" {
		trusted, err := m.trust.IsTrusted(ctx, user.ID, opts.DeviceToken)
		if err != nil {
			m.metrics.Inc(MetricStorageError)
			return nil, err
		}
		if trusted {
			sess, err := m.createSession(ctx, user)
			if err != nil {
				m.metrics.Inc(MetricStorageError)
				return nil, err
			}
			if err := m.tracker.ClearFailedAttempts(ctx, identifier, source); err != nil {
				m.logger.WarnContext(ctx, "clear failed attempts", "error", err)
			}
			m.metrics.Inc(MetricLoginSuccess)
			m.metrics.Inc(MetricTrustBypass)
			m.emitAudit(ctx, auditEventTrustBypass, true, user.ID, sess.ID, nil, nil)
			m.emitAudit(ctx, auditEventLoginSuccess, true, user.ID, sess.ID, nil, nil)
			return &LoginResult{SessionID: sess.ID, TrustedDevice: true, UserID: user.ID}, nil
		}
	}

	// Password verified, no trusted device: second factor required. A
	// remember-device opt-in rides on the code row so VerifyMFA can honor it
	// without the caller resending it.
	deviceName := ""
	if opts.RememberDevice {
		deviceName = opts.DeviceName
		if deviceName == "" {
			deviceName = "unnamed device"
		}
	}
	if err := m.vault.InvalidateAll(ctx, user.ID, TokenMFACode); err != nil {
		m.metrics.Inc(MetricStorageError)
		return nil, err
	}
	code, err := m.vault.Issue(ctx, user.ID, TokenMFACode, deviceName)
	if err != nil {
		m.metrics.Inc(MetricStorageError)
		return nil, err
	}
	m.metrics.Inc(MetricMFAIssued)
	m.emitAudit(ctx, auditEventMFAIssued, true, user.ID, "", nil, nil)
	m.notify(ctx, user.ID, "mfa_code", func(ctx context.Context) error {
		return m.notifier.SendMFACode(ctx, user.Email, code)
	})

	return &LoginResult{MFAPending: true, UserID: user.ID}, nil
}

// VerifyMFA completes a pending login by redeeming the emailed code. The
// lockout gate applies here too: MFA guesses count as failed attempts against
// the same (identifier, source) pair as the password stage.
//
// Only the attempt-window source is read from opts. The remember-device
// opt-in honored here is the one captured at login on the code row; setting
// RememberDevice or DeviceName on this call has no effect.
func (m *Manager) VerifyMFA(ctx context.Context, email, code string, opts LoginOptions) (*LoginResult, error) {
	if m == nil || !m.ready {
		return nil, ErrManagerNotReady
	}

	identifier := normalizeEmail(email)
	source := attemptSource(ctx, opts)

	locked, err := m.tracker.IsLocked(ctx, identifier, source)
	if err != nil {
		m.metrics.Inc(MetricStorageError)
		return nil, err
	}
	if locked {
		m.metrics.Inc(MetricLoginLocked)
		m.emitAudit(ctx, auditEventLoginLocked, false, "", "", ErrAccountLocked, nil)
		return nil, ErrAccountLocked
	}

	user, err := m.store.GetUserByEmail(ctx, identifier)
	if err != nil || user == nil {
		if err != nil && KindOf(err) == ErrorStorageUnavailable {
			m.metrics.Inc(MetricStorageError)
			return nil, fmt.Errorf("%w: user lookup: %v", ErrStorageUnavailable, err)
		}
		return nil, m.mfaFailure(ctx, identifier, "", source, ErrTokenNotFound)
	}

	token, err := m.vault.Redeem(ctx, user.ID, code, TokenMFACode)
	if err != nil {
		if KindOf(err) == ErrorStorageUnavailable {
			m.metrics.Inc(MetricStorageError)
			return nil, err
		}
		return nil, m.mfaFailure(ctx, identifier, user.ID, source, err)
	}

	result := &LoginResult{UserID: user.ID}
	if token.DeviceName != "" {
		raw, err := m.trust.IssueTrust(ctx, user.ID, token.DeviceName)
		if err != nil {
			// Trust is a convenience; the login itself still succeeds.
			m.metrics.Inc(MetricStorageError)
			m.logger.ErrorContext(ctx, "issue device trust", "error", err)
		} else {
			result.DeviceToken = raw
			m.metrics.Inc(MetricTrustIssued)
			m.emitAudit(ctx, auditEventTrustIssued, true, user.ID, "", nil, func() map[string]string {
				return map[string]string{"device_name": token.DeviceName}
			})
		}
	}

	sess, err := m.createSession(ctx, user)
	if err != nil {
		m.metrics.Inc(MetricStorageError)
		return nil, err
	}
	result.SessionID = sess.ID

	if err := m.tracker.ClearFailedAttempts(ctx, identifier, source); err != nil {
		m.logger.WarnContext(ctx, "clear failed attempts", "error", err)
	}
	m.metrics.Inc(MetricMFASuccess)
	m.metrics.Inc(MetricLoginSuccess)
	m.emitAudit(ctx, auditEventMFASuccess, true, user.ID, sess.ID, nil, nil)
	m.emitAudit(ctx, auditEventLoginSuccess, true, user.ID, sess.ID, nil, nil)
	return result, nil
}

// mfaFailure records the failed guess and collapses the precise token state
// into ErrMFACodeInvalid. The audit event keeps the real cause.
func (m *Manager) mfaFailure(ctx context.Context, identifier, userID, source string, cause error) error {
	if err := m.tracker.RecordAttempt(ctx, identifier, source, AttemptFailure); err != nil {
		m.metrics.Inc(MetricStorageError)
		m.logger.ErrorContext(ctx, "record failed mfa attempt", "error", err)
	}
	m.metrics.Inc(MetricMFAFailure)
	m.emitAudit(ctx, auditEventMFAFailure, false, userID, "", cause, func() map[string]string {
		return map[string]string{"identifier": identifier, "source": source}
	})
	return ErrMFACodeInvalid
}

// ResendMFA voids any outstanding codes for the account and issues a fresh
// one. Unknown emails return nil so the endpoint cannot be used to probe for
// accounts.
func (m *Manager) ResendMFA(ctx context.Context, email string) error {
	if m == nil || !m.ready {
		return ErrManagerNotReady
	}

	user, err := m.store.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil || user == nil {
		if err != nil && KindOf(err) == ErrorStorageUnavailable {
			m.metrics.Inc(MetricStorageError)
			return fmt.Errorf("%w: user lookup: %v", ErrStorageUnavailable, err)
		}
		return nil
	}

	// A remember-device opt-in captured at login rides on the outstanding
	// code row; carry it onto the replacement so resending does not drop it.
	deviceName := ""
	if prior, err := m.vault.Outstanding(ctx, user.ID, TokenMFACode); err != nil {
		m.metrics.Inc(MetricStorageError)
		return err
	} else if prior != nil {
		deviceName = prior.DeviceName
	}

	if err := m.vault.InvalidateAll(ctx, user.ID, TokenMFACode); err != nil {
		m.metrics.Inc(MetricStorageError)
		return err
	}
	code, err := m.vault.Issue(ctx, user.ID, TokenMFACode, deviceName)
	if err != nil {
		m.metrics.Inc(MetricStorageError)
		return err
	}
	m.metrics.Inc(MetricMFAIssued)
	m.emitAudit(ctx, auditEventMFAIssued, true, user.ID, "", nil, func() map[string]string {
		return map[string]string{"resend": "true"}
	})
	m.notify(ctx, user.ID, "mfa_code", func(ctx context.Context) error {
		return m.notifier.SendMFACode(ctx, user.Email, code)
	})
	return nil
}

// Logout destroys one session. Logging out an already-dead session is not an
// error.
func (m *Manager) Logout(ctx context.Context, sessionID string) error {
	if m == nil || !m.ready {
		return ErrManagerNotReady
	}
	if sessionID == "" {
		return nil
	}
	if err := m.store.DeleteSession(ctx, sessionID); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		m.metrics.Inc(MetricStorageError)
		return fmt.Errorf("%w: delete session: %v", ErrStorageUnavailable, err)
	}
	m.metrics.Inc(MetricLogout)
	m.metrics.Inc(MetricSessionDestroyed)
	m.emitAudit(ctx, auditEventLogout, true, "", sessionID, nil, nil)
	return nil
}

// LogoutAll destroys every session of the user and revokes all trusted
// devices, forcing full re-authentication everywhere.
func (m *Manager) LogoutAll(ctx context.Context, userID string) error {
	if m == nil || !m.ready {
		return ErrManagerNotReady
	}
	if err := m.store.DeleteUserSessions(ctx, userID); err != nil {
		m.metrics.Inc(MetricStorageError)
		return fmt.Errorf("%w: delete user sessions: %v", ErrStorageUnavailable, err)
	}
	if err := m.trust.RevokeAll(ctx, userID); err != nil {
		m.metrics.Inc(MetricStorageError)
		return err
	}
	m.metrics.Inc(MetricLogoutAll)
	m.metrics.Inc(MetricTrustRevoked)
	m.emitAudit(ctx, auditEventLogoutAll, true, userID, "", nil, nil)
	m.emitAudit(ctx, auditEventTrustRevoked, true, userID, "", nil, nil)
	return nil
}

// Authenticate resolves a session ID into the per-request AuthContext.
// Unknown and expired sessions are indistinguishable to the caller; expired
// rows are deleted on sight.
func (m *Manager) Authenticate(ctx context.Context, sessionID string) (*AuthContext, error) {
	if m == nil || !m.ready {
		return nil, ErrManagerNotReady
	}
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}

	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil || sess == nil {
		if err != nil && KindOf(err) == ErrorStorageUnavailable {
			m.metrics.Inc(MetricStorageError)
			return nil, fmt.Errorf("%w: get session: %v", ErrStorageUnavailable, err)
		}
		return nil, ErrSessionNotFound
	}
	if !sess.ExpiresAt.After(m.now()) {
		if err := m.store.DeleteSession(ctx, sess.ID); err != nil && !errors.Is(err, ErrSessionNotFound) {
			m.logger.WarnContext(ctx, "delete expired session", "error", err)
		}
		return nil, ErrSessionNotFound
	}

	return &AuthContext{
		UserID:         sess.UserID,
		SessionID:      sess.ID,
		Role:           sess.Role,
		OrganizationID: sess.OrganizationID,
		ExpiresAt:      sess.ExpiresAt,
	}, nil
}

func (m *Manager) createSession(ctx context.Context, user *User) (*Session, error) {
	id, err := internal.NewSessionID()
	if err != nil {
		return nil, err
	}
	now := m.now()
	sess := &Session{
		ID:             id,
		UserID:         user.ID,
		Role:           user.Role,
		OrganizationID: user.OrganizationID,
		CreatedAt:      now,
		ExpiresAt:      now.Add(m.cfg.Session.Lifetime),
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("%w: create session: %v", ErrStorageUnavailable, err)
	}
	m.metrics.Inc(MetricSessionCreated)
	return sess, nil
}

// notify runs one out-of-band delivery. Failures are logged, audited, and
// counted but never surfaced: the security flow already committed and the
// user can re-request delivery.
func (m *Manager) notify(ctx context.Context, userID, kind string, fn func(ctx context.Context) error) {
	if err := fn(ctx); err != nil {
		m.metrics.Inc(MetricNotifierError)
		m.logger.ErrorContext(ctx, "notifier delivery failed", "kind", kind, "error", err)
		m.emitAudit(ctx, auditEventNotifierFailure, false, userID, "", err, func() map[string]string {
			return map[string]string{"kind": kind}
		})
	}
}

// Close flushes and stops the audit dispatcher. The Manager must not be used
// afterwards.
func (m *Manager) Close() {
	if m == nil {
		return
	}
	m.audit.Close()
}

// AuditDropped reports how many audit events were discarded under
// backpressure since startup.
func (m *Manager) AuditDropped() uint64 {
	if m == nil {
		return 0
	}
	return m.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of all counters and
// histograms.
func (m *Manager) MetricsSnapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	return m.metrics.Snapshot()
}

// Metrics exposes the live metrics instance for export integrations.
func (m *Manager) Metrics() *Metrics {
	if m == nil {
		return nil
	}
	return m.metrics
}
