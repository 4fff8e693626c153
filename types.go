package authcore

import (
	"context"
	"time"
)

// Role is the coarse access level carried on users and sessions. authcore
// stores and echoes it; authorization decisions belong to the caller layer.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleSuperUser Role = "super_user"
	RoleOwner     Role = "owner"
	RoleCustomer  Role = "customer"
)

// TokenType discriminates the single-use tokens issued by the TokenVault.
type TokenType string

const (
	TokenEmailVerification TokenType = "email_verification"
	TokenPasswordReset     TokenType = "password_reset"
	TokenMFACode           TokenType = "mfa_code"
)

// AttemptOutcome records how a login attempt ended.
type AttemptOutcome string

const (
	AttemptSuccess AttemptOutcome = "success"
	AttemptFailure AttemptOutcome = "failure"
)

// User is the account record. Owned by the Store; authcore mutates it only
// through registration, verification, and password flows.
type User struct {
	ID              string
	Email           string
	PasswordHash    string
	Role            Role
	OrganizationID  string
	EmailVerifiedAt *time.Time
}

// Verified reports whether the user completed email verification.
func (u *User) Verified() bool {
	return u != nil && u.EmailVerifiedAt != nil
}

// VerificationToken is a single-use, time-limited token row. UsedAt moves
// from nil to a timestamp exactly once; the Store enforces that transition
// atomically. DeviceName is set only on mfa_code tokens issued for a login
// that opted into device trust.
type VerificationToken struct {
	ID         string
	UserID     string
	Token      string
	Type       TokenType
	ExpiresAt  time.Time
	UsedAt     *time.Time
	DeviceName string
	CreatedAt  time.Time
}

// PasswordHistoryEntry is one append-only prior-hash record. Only the most
// recent entries (policy: 5) are consulted for reuse checks.
type PasswordHistoryEntry struct {
	UserID       string
	PasswordHash string
	CreatedAt    time.Time
}

// LoginAttemptRecord is one append-only login outcome. Records are never
// mutated; lockout state is a count over them.
type LoginAttemptRecord struct {
	Identifier string
	Source     string
	Outcome    AttemptOutcome
	At         time.Time
}

// TrustedDeviceToken is the server-side half of a trusted-device credential.
// Only the SHA-256 of the device secret is persisted; the raw secret exists
// client-side only.
type TrustedDeviceToken struct {
	UserID     string
	SecretHash [32]byte
	DeviceName string
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// Session is an authenticated session row, looked up by its opaque ID.
type Session struct {
	ID             string
	UserID         string
	Role           Role
	OrganizationID string
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// Store is the persistence interface the host application implements. Two
// implementations ship with the module: store/postgres and store/memory.
//
// Implementations must return ErrStorageUnavailable-wrapped errors for
// infrastructure failures and the token sentinel errors (ErrTokenNotFound,
// ErrTokenExpired, ErrTokenAlreadyUsed) from ConsumeToken so flows can
// classify without a second round trip.
type Store interface {
	// WithinTransaction runs fn against a transactional view of the store.
	// fn returning an error rolls back; all mutations inside fn become
	// visible atomically on commit. Nested calls join the outer transaction.
	WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx Store) error) error

	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByID(ctx context.Context, userID string) (*User, error)
	CreateUser(ctx context.Context, user *User) error
	UpdatePasswordHash(ctx context.Context, userID, newHash string) error
	MarkEmailVerified(ctx context.Context, userID string, at time.Time) error

	// CreateToken persists a new token row. Reset and verification token
	// values are unique across the table; MFA codes are exempt (six digits
	// collide across users) and rely on the (user, type) scope instead.
	CreateToken(ctx context.Context, token *VerificationToken) error
	// ConsumeToken atomically sets used_at on the matching unused, unexpired
	// token. Two concurrent calls for the same token must not both succeed.
	ConsumeToken(ctx context.Context, userID, token string, typ TokenType, now time.Time) (*VerificationToken, error)
	// ActiveToken returns the newest unused, unexpired token of the given
	// type, or nil when none is outstanding.
	ActiveToken(ctx context.Context, userID string, typ TokenType, now time.Time) (*VerificationToken, error)
	// InvalidateTokens marks all outstanding unused tokens of the given type
	// as used, terminating them.
	InvalidateTokens(ctx context.Context, userID string, typ TokenType, now time.Time) error

	AppendLoginAttempt(ctx context.Context, rec *LoginAttemptRecord) error
	CountFailedAttempts(ctx context.Context, identifier, source string, since time.Time) (int, error)
	// DeleteFailedAttempts clears the failure window for the pair. An empty
	// source clears every source for the identifier.
	DeleteFailedAttempts(ctx context.Context, identifier, source string) error

	SaveTrustedDevice(ctx context.Context, device *TrustedDeviceToken) error
	ListTrustedDevices(ctx context.Context, userID string) ([]TrustedDeviceToken, error)
	RevokeTrustedDevices(ctx context.Context, userID string) error

	AppendPasswordHistory(ctx context.Context, entry *PasswordHistoryEntry) error
	RecentPasswordHistory(ctx context.Context, userID string, limit int) ([]PasswordHistoryEntry, error)

	CreateSession(ctx context.Context, sess *Session) error
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
	DeleteUserSessions(ctx context.Context, userID string) error
}

// Notifier delivers codes and links out of band. Calls are fire-and-forget
// from the core's perspective: errors are logged and audited, never surfaced
// to the end user.
type Notifier interface {
	SendMFACode(ctx context.Context, email, code string) error
	SendPasswordResetLink(ctx context.Context, email, token string) error
	SendPasswordChangeNotification(ctx context.Context, email, name, sourceIP string) error
	SendVerificationLink(ctx context.Context, email, token string) error
}

// NoOpNotifier discards all notifications. Useful in tests.
type NoOpNotifier struct{}

func (NoOpNotifier) SendMFACode(context.Context, string, string) error           { return nil }
func (NoOpNotifier) SendPasswordResetLink(context.Context, string, string) error { return nil }
func (NoOpNotifier) SendVerificationLink(context.Context, string, string) error  { return nil }

func (NoOpNotifier) SendPasswordChangeNotification(context.Context, string, string, string) error {
	return nil
}

// LoginOptions carries the request-scoped inputs of a login beyond the
// credential pair.
type LoginOptions struct {
	// Source is the client IP or device fingerprint used to key the
	// failed-attempt window.
	Source string
	// DeviceToken is the trusted-device credential presented by the client,
	// empty when none.
	DeviceToken string
	// RememberDevice asks for device trust to be registered once MFA passes.
	RememberDevice bool
	// DeviceName labels the trust record when RememberDevice is set.
	DeviceName string
}

// LoginResult is returned by Login and VerifyMFA. Exactly one of SessionID
// or MFAPending is meaningful: a pending result carries no session and a
// session result is final.
type LoginResult struct {
	SessionID string
	// MFAPending is true when credentials verified but a second factor is
	// still required; a code has been sent out of band.
	MFAPending bool
	// TrustedDevice is true when MFA was bypassed by a valid device token.
	TrustedDevice bool
	// DeviceToken is the freshly issued trusted-device credential, set only
	// by VerifyMFA when the login opted in. The caller must hand it to the
	// client; it is not recoverable afterwards.
	DeviceToken string
	UserID      string
}

// AuthContext is the per-request authentication context produced by
// Authenticate and passed to downstream handlers. It replaces any ambient
// current-user state.
type AuthContext struct {
	UserID         string
	SessionID      string
	Role           Role
	OrganizationID string
	ExpiresAt      time.Time
}

// RegisterRequest is the input for Manager.Register.
type RegisterRequest struct {
	Email          string
	Password       string
	Role           Role
	OrganizationID string
}
