// Package internaldefs holds the shared metric name table consumed by the
// export packages. It exists so the Prometheus and OTel exporters agree on
// names, help strings, and bucket layout.
package internaldefs

import (
	"github.com/credware/authcore"
)

// CounterDef binds a core counter slot to its exported name.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef binds a core histogram slot to its exported name.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: authcore.MetricLoginSuccess, Name: "authcore_login_success_total", Help: "Successful logins."},
	{ID: authcore.MetricLoginFailure, Name: "authcore_login_failure_total", Help: "Failed login attempts."},
	{ID: authcore.MetricLoginLocked, Name: "authcore_login_locked_total", Help: "Logins rejected by the lockout gate."},
	{ID: authcore.MetricMFAIssued, Name: "authcore_mfa_issued_total", Help: "MFA codes issued."},
	{ID: authcore.MetricMFASuccess, Name: "authcore_mfa_success_total", Help: "Successful MFA verifications."},
	{ID: authcore.MetricMFAFailure, Name: "authcore_mfa_failure_total", Help: "Failed MFA verifications."},
	{ID: authcore.MetricTrustBypass, Name: "authcore_trust_bypass_total", Help: "Logins where a trusted device bypassed MFA."},
	{ID: authcore.MetricTrustIssued, Name: "authcore_trust_issued_total", Help: "Trusted-device credentials issued."},
	{ID: authcore.MetricTrustRevoked, Name: "authcore_trust_revoked_total", Help: "Trusted-device revocation operations."},
	{ID: authcore.MetricSessionCreated, Name: "authcore_session_created_total", Help: "Sessions created."},
	{ID: authcore.MetricSessionDestroyed, Name: "authcore_session_destroyed_total", Help: "Sessions destroyed."},
	{ID: authcore.MetricLogout, Name: "authcore_logout_total", Help: "Single-session logouts."},
	{ID: authcore.MetricLogoutAll, Name: "authcore_logout_all_total", Help: "Logout-all operations."},
	{ID: authcore.MetricResetRequest, Name: "authcore_password_reset_request_total", Help: "Password reset requests."},
	{ID: authcore.MetricResetSuccess, Name: "authcore_password_reset_success_total", Help: "Successful password reset confirmations."},
	{ID: authcore.MetricResetFailure, Name: "authcore_password_reset_failure_total", Help: "Failed password reset confirmations."},
	{ID: authcore.MetricVerificationRequest, Name: "authcore_email_verification_request_total", Help: "Email verification requests."},
	{ID: authcore.MetricVerificationSuccess, Name: "authcore_email_verification_success_total", Help: "Successful email verifications."},
	{ID: authcore.MetricVerificationFailure, Name: "authcore_email_verification_failure_total", Help: "Failed email verifications."},
	{ID: authcore.MetricAccountCreated, Name: "authcore_account_created_total", Help: "Accounts created."},
	{ID: authcore.MetricPasswordChangeSuccess, Name: "authcore_password_change_success_total", Help: "Successful password changes."},
	{ID: authcore.MetricPasswordPolicyRejected, Name: "authcore_password_policy_rejected_total", Help: "Candidate passwords rejected by strength rules."},
	{ID: authcore.MetricPasswordReuseRejected, Name: "authcore_password_reuse_rejected_total", Help: "Candidate passwords rejected for reuse."},
	{ID: authcore.MetricStorageError, Name: "authcore_storage_error_total", Help: "Storage failures observed by flows."},
	{ID: authcore.MetricNotifierError, Name: "authcore_notifier_error_total", Help: "Out-of-band delivery failures."},
}

var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricLoginLatency, Name: "authcore_login_latency_seconds", Help: "Login latency histogram."},
}

// HistogramBounds are the upper bounds of the latency buckets in seconds,
// matching the core histogram layout.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"1",
	"+Inf",
}

// HistogramBoundSuffix gives each bound a name-safe form for backends that
// cannot carry labels.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"1",
	"inf",
}

// NormalizeBuckets pads or truncates a raw snapshot slice to the fixed
// bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into the cumulative form the
// exposition formats expect.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
