package authcore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/credware/authcore"
)

func TestPasswordResetFlow(t *testing.T) {
	env := newTestEnv(t)
	env.register(t)
	ctx := context.Background()

	session := env.loginWithMFA(t, authcore.LoginOptions{Source: testSource})

	if err := env.manager.RequestPasswordReset(ctx, testEmail); err != nil {
		t.Fatalf("request reset: %v", err)
	}
	token := env.notifier.ResetToken()
	if token == "" {
		t.Fatal("no reset token delivered")
	}

	const newPassword = "Fresh-Stable-22!"
	if err := env.manager.ConfirmPasswordReset(ctx, testEmail, token, newPassword); err != nil {
		t.Fatalf("confirm reset: %v", err)
	}

	// All sessions die with the reset.
	if _, err := env.manager.Authenticate(ctx, session.SessionID); !errors.Is(err, authcore.ErrSessionNotFound) {
		t.Fatalf("want ErrSessionNotFound after reset, got %v", err)
	}

	// Old password no longer works, new one does.
	if _, err := env.manager.Login(ctx, testEmail, testPassword, authcore.LoginOptions{Source: testSource}); !errors.Is(err, authcore.ErrInvalidCredentials) {
		t.Fatalf("old password: want ErrInvalidCredentials, got %v", err)
	}
	result, err := env.manager.Login(ctx, testEmail, newPassword, authcore.LoginOptions{Source: testSource})
	if err != nil {
		t.Fatalf("new password login: %v", err)
	}
	if !result.MFAPending {
		t.Fatalf("expected MFA pending, got %+v", result)
	}

	if env.notifier.ChangeNotices() == 0 {
		t.Fatal("no password-change notification sent")
	}
}

func TestResetTokenSingleUse(t *testing.T) {
	env := newTestEnv(t)
	env.register(t)
	ctx := context.Background()

	if err := env.manager.RequestPasswordReset(ctx, testEmail); err != nil {
		t.Fatalf("request reset: %v", err)
	}
	token := env.notifier.ResetToken()

	if err := env.manager.ConfirmPasswordReset(ctx, testEmail, token, "Fresh-Stable-22!"); err != nil {
		t.Fatalf("first confirm: %v", err)
	}
	err := env.manager.ConfirmPasswordReset(ctx, testEmail, token, "Other-Stable-23!")
	if !errors.Is(err, authcore.ErrTokenAlreadyUsed) && !errors.Is(err, authcore.ErrTokenNotFound) {
		t.Fatalf("second confirm: want terminal token error, got %v", err)
	}

	// Both failure modes collapse to the same public message.
	if authcore.PublicMessage(authcore.KindOf(err)) != authcore.PublicMessage(authcore.ErrorTokenExpired) {
		t.Fatal("token failure messages must be indistinguishable")
	}
}

func TestResetTokenExpires(t *testing.T) {
	env := newTestEnv(t)
	env.register(t)
	ctx := context.Background()

	if err := env.manager.RequestPasswordReset(ctx, testEmail); err != nil {
		t.Fatalf("request reset: %v", err)
	}
	token := env.notifier.ResetToken()

	env.clock.Advance(2 * time.Hour)
	if err := env.manager.ConfirmPasswordReset(ctx, testEmail, token, "Fresh-Stable-22!"); !errors.Is(err, authcore.ErrTokenExpired) {
		t.Fatalf("want ErrTokenExpired, got %v", err)
	}
}

func TestResetNewRequestSupersedesOld(t *testing.T) {
	env := newTestEnv(t)
	env.register(t)
	ctx := context.Background()

	if err := env.manager.RequestPasswordReset(ctx, testEmail); err != nil {
		t.Fatalf("first request: %v", err)
	}
	firstToken := env.notifier.ResetToken()

	if err := env.manager.RequestPasswordReset(ctx, testEmail); err != nil {
		t.Fatalf("second request: %v", err)
	}
	secondToken := env.notifier.ResetToken()
	if firstToken == secondToken {
		t.Fatal("second request reused the token")
	}

	err := env.manager.ConfirmPasswordReset(ctx, testEmail, firstToken, "Fresh-Stable-22!")
	if !errors.Is(err, authcore.ErrTokenAlreadyUsed) {
		t.Fatalf("superseded token: want ErrTokenAlreadyUsed, got %v", err)
	}
	if err := env.manager.ConfirmPasswordReset(ctx, testEmail, secondToken, "Fresh-Stable-22!"); err != nil {
		t.Fatalf("fresh token: %v", err)
	}
}

func TestResetRejectsWeakPasswordWithoutBurningToken(t *testing.T) {
	env := newTestEnv(t)
	env.register(t)
	ctx := context.Background()

	if err := env.manager.RequestPasswordReset(ctx, testEmail); err != nil {
		t.Fatalf("request reset: %v", err)
	}
	token := env.notifier.ResetToken()

	err := env.manager.ConfirmPasswordReset(ctx, testEmail, token, "weak")
	if !errors.Is(err, authcore.ErrPasswordPolicy) {
		t.Fatalf("want ErrPasswordPolicy, got %v", err)
	}
	var policyErr *authcore.PolicyError
	if !errors.As(err, &policyErr) || len(policyErr.Violations) == 0 {
		t.Fatalf("want *PolicyError with violations, got %v", err)
	}

	// A rejected candidate must not consume the token.
	if err := env.manager.ConfirmPasswordReset(ctx, testEmail, token, "Fresh-Stable-22!"); err != nil {
		t.Fatalf("token was burned by rejected candidate: %v", err)
	}
}

func TestResetRejectsReusedPassword(t *testing.T) {
	env := newTestEnv(t)
	env.register(t)
	ctx := context.Background()

	if err := env.manager.RequestPasswordReset(ctx, testEmail); err != nil {
		t.Fatalf("request reset: %v", err)
	}
	token := env.notifier.ResetToken()

	// Same as the current password.
	if err := env.manager.ConfirmPasswordReset(ctx, testEmail, token, testPassword); !errors.Is(err, authcore.ErrPasswordReuse) {
		t.Fatalf("want ErrPasswordReuse, got %v", err)
	}

	// Reuse rejection leaves the stored hash working and the token intact.
	if _, err := env.manager.Login(ctx, testEmail, testPassword, authcore.LoginOptions{Source: testSource}); err != nil {
		t.Fatalf("current password must still verify: %v", err)
	}
	if err := env.manager.ConfirmPasswordReset(ctx, testEmail, token, "Fresh-Stable-22!"); err != nil {
		t.Fatalf("token after reuse rejection: %v", err)
	}
}

func TestResetRequestUnknownEmailSilent(t *testing.T) {
	env := newTestEnv(t)
	env.register(t)

	if err := env.manager.RequestPasswordReset(context.Background(), "nobody@example.com"); err != nil {
		t.Fatalf("unknown email must not error: %v", err)
	}
	if env.notifier.ResetToken() != "" {
		t.Fatal("no token should be delivered for unknown email")
	}
}

func TestResetClearsLockout(t *testing.T) {
	env := newTestEnv(t)
	env.register(t)
	ctx := context.Background()
	opts := authcore.LoginOptions{Source: testSource}

	for i := 0; i < 5; i++ {
		_, _ = env.manager.Login(ctx, testEmail, "Wrong-Password-1!", opts)
	}
	if _, err := env.manager.Login(ctx, testEmail, testPassword, opts); !errors.Is(err, authcore.ErrAccountLocked) {
		t.Fatalf("want ErrAccountLocked, got %v", err)
	}

	if err := env.manager.RequestPasswordReset(ctx, testEmail); err != nil {
		t.Fatalf("request reset: %v", err)
	}
	const newPassword = "Fresh-Stable-22!"
	if err := env.manager.ConfirmPasswordReset(ctx, testEmail, env.notifier.ResetToken(), newPassword); err != nil {
		t.Fatalf("confirm reset: %v", err)
	}

	result, err := env.manager.Login(ctx, testEmail, newPassword, opts)
	if err != nil {
		t.Fatalf("login after reset: %v", err)
	}
	if !result.MFAPending {
		t.Fatalf("expected MFA pending, got %+v", result)
	}
}

func TestResetRevokesTrustedDevices(t *testing.T) {
	env := newTestEnv(t)
	env.register(t)
	ctx := context.Background()

	session := env.loginWithMFA(t, authcore.LoginOptions{Source: testSource, RememberDevice: true, DeviceName: "laptop"})

	if err := env.manager.RequestPasswordReset(ctx, testEmail); err != nil {
		t.Fatalf("request reset: %v", err)
	}
	const newPassword = "Fresh-Stable-22!"
	if err := env.manager.ConfirmPasswordReset(ctx, testEmail, env.notifier.ResetToken(), newPassword); err != nil {
		t.Fatalf("confirm reset: %v", err)
	}

	result, err := env.manager.Login(ctx, testEmail, newPassword, authcore.LoginOptions{Source: testSource, DeviceToken: session.DeviceToken})
	if err != nil {
		t.Fatalf("login after reset: %v", err)
	}
	if result.TrustedDevice {
		t.Fatal("device trust survived the password reset")
	}
}

func TestEmailVerificationFlow(t *testing.T) {
	env := newTestEnv(t)
	user := env.register(t)
	ctx := context.Background()

	token := env.notifier.VerificationToken()
	if token == "" {
		t.Fatal("no verification token delivered on registration")
	}

	if err := env.manager.ConfirmEmailVerification(ctx, testEmail, token); err != nil {
		t.Fatalf("confirm verification: %v", err)
	}
	if err := env.manager.ConfirmEmailVerification(ctx, testEmail, token); !errors.Is(err, authcore.ErrTokenAlreadyUsed) {
		t.Fatalf("replayed verification: want ErrTokenAlreadyUsed, got %v", err)
	}
	_ = user

	// Re-requesting verification for a verified account is silent.
	before := env.notifier.VerificationToken()
	if err := env.manager.RequestEmailVerification(ctx, testEmail); err != nil {
		t.Fatalf("re-request: %v", err)
	}
	if env.notifier.VerificationToken() != before {
		t.Fatal("verified account should not receive a new token")
	}
}

func TestRequestEmailVerificationIssuesFreshToken(t *testing.T) {
	env := newTestEnv(t)
	env.register(t)
	ctx := context.Background()

	first := env.notifier.VerificationToken()
	if err := env.manager.RequestEmailVerification(ctx, testEmail); err != nil {
		t.Fatalf("request verification: %v", err)
	}
	second := env.notifier.VerificationToken()
	if second == "" || second == first {
		t.Fatal("expected a fresh verification token")
	}

	// The earlier token is superseded.
	if err := env.manager.ConfirmEmailVerification(ctx, testEmail, first); !errors.Is(err, authcore.ErrTokenAlreadyUsed) {
		t.Fatalf("superseded token: want ErrTokenAlreadyUsed, got %v", err)
	}
	if err := env.manager.ConfirmEmailVerification(ctx, testEmail, second); err != nil {
		t.Fatalf("fresh token: %v", err)
	}
}
