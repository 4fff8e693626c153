package authcore

import "errors"

var (
	// ErrInvalidCredentials is returned for both an unknown email and a wrong
	// password; callers must not distinguish the two.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned while the failed-attempt window for an
	// identifier+source pair is above the lockout threshold.
	ErrAccountLocked = errors.New("account locked")
	// ErrTokenNotFound is returned when no matching token row exists.
	ErrTokenNotFound = errors.New("token not found")
	// ErrTokenExpired is returned when a token is past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenAlreadyUsed is returned when a token has been redeemed before.
	ErrTokenAlreadyUsed = errors.New("token already used")
	// ErrPasswordPolicy is returned when a candidate password fails the
	// strength rules. Use errors.As with *PolicyError for the violation list.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrPasswordReuse is returned when a candidate password matches the
	// current hash or a recent history entry.
	ErrPasswordReuse = errors.New("password was used recently")
	// ErrMFACodeInvalid is returned when an MFA code does not redeem.
	ErrMFACodeInvalid = errors.New("mfa code invalid")
	// ErrSessionNotFound is returned by Authenticate for unknown or expired
	// session identifiers.
	ErrSessionNotFound = errors.New("session not found")
	// ErrUserNotFound is returned by internal lookups that address a user by
	// ID. Login paths never surface it.
	ErrUserNotFound = errors.New("user not found")
	// ErrEmailTaken is returned by Register when the email is already in use.
	ErrEmailTaken = errors.New("email already registered")
	// ErrStorageUnavailable wraps infrastructure failures from the Store.
	// It is non-recoverable locally and should be treated as fatal by the
	// caller layer.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrManagerNotReady is returned when a Manager is used before Build
	// completed.
	ErrManagerNotReady = errors.New("manager not initialized")
)

// ErrorKind is the stable result code carried to the caller layer.
type ErrorKind uint8

const (
	ErrorNone ErrorKind = iota
	ErrorInvalidCredentials
	ErrorAccountLocked
	ErrorTokenNotFound
	ErrorTokenExpired
	ErrorTokenAlreadyUsed
	ErrorPasswordPolicyViolation
	ErrorPasswordReuse
	ErrorMFACodeInvalid
	ErrorSessionNotFound
	ErrorStorageUnavailable
)

// KindOf maps an error returned by any Manager operation to its ErrorKind.
// Unrecognized errors map to ErrorStorageUnavailable, the fail-closed bucket.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ErrorNone
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrUserNotFound), errors.Is(err, ErrEmailTaken):
		return ErrorInvalidCredentials
	case errors.Is(err, ErrAccountLocked):
		return ErrorAccountLocked
	case errors.Is(err, ErrTokenNotFound):
		return ErrorTokenNotFound
	case errors.Is(err, ErrTokenExpired):
		return ErrorTokenExpired
	case errors.Is(err, ErrTokenAlreadyUsed):
		return ErrorTokenAlreadyUsed
	case errors.Is(err, ErrPasswordPolicy):
		return ErrorPasswordPolicyViolation
	case errors.Is(err, ErrPasswordReuse):
		return ErrorPasswordReuse
	case errors.Is(err, ErrMFACodeInvalid):
		return ErrorMFACodeInvalid
	case errors.Is(err, ErrSessionNotFound):
		return ErrorSessionNotFound
	default:
		return ErrorStorageUnavailable
	}
}

// PublicMessage returns the deliberately generalized end-user message for a
// result code. Token-state kinds collapse into one string so an attacker
// probing tokens cannot tell not-found from expired from already-used, and
// credential failures read the same whether or not the account exists.
func PublicMessage(kind ErrorKind) string {
	switch kind {
	case ErrorNone:
		return ""
	case ErrorInvalidCredentials, ErrorMFACodeInvalid:
		return "The credentials provided are invalid."
	case ErrorAccountLocked:
		return "Too many failed attempts. Try again later."
	case ErrorTokenNotFound, ErrorTokenExpired, ErrorTokenAlreadyUsed:
		return "This link or code is invalid or has expired."
	case ErrorPasswordPolicyViolation:
		return "The password does not meet the minimum requirements."
	case ErrorPasswordReuse:
		return "The password was used recently. Choose a different one."
	case ErrorSessionNotFound:
		return "Your session has expired. Sign in again."
	default:
		return "Something went wrong. Try again later."
	}
}
