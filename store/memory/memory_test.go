package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/credware/authcore"
)

func seedUser(t *testing.T, s *Store) *authcore.User {
	t.Helper()
	user := &authcore.User{
		ID:           "user-1",
		Email:        "alice@example.com",
		PasswordHash: "$argon2id$...",
		Role:         authcore.RoleCustomer,
	}
	require.NoError(t, s.CreateUser(context.Background(), user))
	return user
}

func TestUserLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()
	user := seedUser(t, s)

	got, err := s.GetUserByEmail(ctx, user.Email)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, user.ID, got.ID)

	got, err = s.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	// Returned values are copies; mutating them does not touch the store.
	got.PasswordHash = "mutated"
	again, err := s.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "$argon2id$...", again.PasswordHash)

	missing, err := s.GetUserByEmail(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, missing)

	err = s.CreateUser(ctx, &authcore.User{ID: "user-2", Email: user.Email})
	assert.ErrorIs(t, err, authcore.ErrEmailTaken)

	require.NoError(t, s.UpdatePasswordHash(ctx, user.ID, "new-hash"))
	updated, err := s.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "new-hash", updated.PasswordHash)

	assert.ErrorIs(t, s.UpdatePasswordHash(ctx, "ghost", "x"), authcore.ErrUserNotFound)

	now := time.Now()
	require.NoError(t, s.MarkEmailVerified(ctx, user.ID, now))
	verified, err := s.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, verified.EmailVerifiedAt)
	assert.True(t, verified.EmailVerifiedAt.Equal(now))
}

func seedToken(t *testing.T, s *Store, id, token string, expiresAt time.Time) {
	t.Helper()
	require.NoError(t, s.CreateToken(context.Background(), &authcore.VerificationToken{
		ID:        id,
		UserID:    "user-1",
		Token:     token,
		Type:      authcore.TokenPasswordReset,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}))
}

func TestConsumeTokenClassification(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedUser(t, s)
	now := time.Now()

	seedToken(t, s, "tok-live", "secret-live", now.Add(time.Hour))
	seedToken(t, s, "tok-old", "secret-old", now.Add(-time.Minute))

	_, err := s.ConsumeToken(ctx, "user-1", "no-such-token", authcore.TokenPasswordReset, now)
	assert.ErrorIs(t, err, authcore.ErrTokenNotFound)

	_, err = s.ConsumeToken(ctx, "user-1", "secret-old", authcore.TokenPasswordReset, now)
	assert.ErrorIs(t, err, authcore.ErrTokenExpired)

	// Wrong type does not match.
	_, err = s.ConsumeToken(ctx, "user-1", "secret-live", authcore.TokenMFACode, now)
	assert.ErrorIs(t, err, authcore.ErrTokenNotFound)

	consumed, err := s.ConsumeToken(ctx, "user-1", "secret-live", authcore.TokenPasswordReset, now)
	require.NoError(t, err)
	require.NotNil(t, consumed.UsedAt)

	_, err = s.ConsumeToken(ctx, "user-1", "secret-live", authcore.TokenPasswordReset, now)
	assert.ErrorIs(t, err, authcore.ErrTokenAlreadyUsed)
}

func TestConsumeTokenSingleWinner(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedUser(t, s)
	now := time.Now()
	seedToken(t, s, "tok-race", "secret-race", now.Add(time.Hour))

	const racers = 16
	var wg sync.WaitGroup
	results := make(chan error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ConsumeToken(ctx, "user-1", "secret-race", authcore.TokenPasswordReset, now)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, authcore.ErrTokenAlreadyUsed)
		}
	}
	assert.Equal(t, 1, wins, "exactly one concurrent redemption may succeed")
}

func TestCreateTokenDuplicateValue(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedUser(t, s)
	now := time.Now()

	seedToken(t, s, "tok-a", "secret-dup", now.Add(time.Hour))

	// A second reset token with the same value is rejected, even for another
	// user.
	err := s.CreateToken(ctx, &authcore.VerificationToken{
		ID:        "tok-b",
		UserID:    "user-2",
		Token:     "secret-dup",
		Type:      authcore.TokenPasswordReset,
		ExpiresAt: now.Add(time.Hour),
		CreatedAt: now,
	})
	assert.Error(t, err)

	// MFA codes are exempt: six digits repeat across users.
	for _, tok := range []struct{ id, userID string }{
		{"mfa-a", "user-1"},
		{"mfa-b", "user-2"},
	} {
		require.NoError(t, s.CreateToken(ctx, &authcore.VerificationToken{
			ID:        tok.id,
			UserID:    tok.userID,
			Token:     "123456",
			Type:      authcore.TokenMFACode,
			ExpiresAt: now.Add(time.Hour),
			CreatedAt: now,
		}))
	}
}

func TestConsumeTokenPrefersLiveDuplicate(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedUser(t, s)
	now := time.Now()

	// A superseded MFA code and a live reissue can share the same value.
	used := now.Add(-time.Minute)
	require.NoError(t, s.CreateToken(ctx, &authcore.VerificationToken{
		ID:        "mfa-dead",
		UserID:    "user-1",
		Token:     "654321",
		Type:      authcore.TokenMFACode,
		ExpiresAt: now.Add(time.Hour),
		UsedAt:    &used,
		CreatedAt: now.Add(-2 * time.Minute),
	}))
	require.NoError(t, s.CreateToken(ctx, &authcore.VerificationToken{
		ID:        "mfa-live",
		UserID:    "user-1",
		Token:     "654321",
		Type:      authcore.TokenMFACode,
		ExpiresAt: now.Add(time.Hour),
		CreatedAt: now,
	}))

	consumed, err := s.ConsumeToken(ctx, "user-1", "654321", authcore.TokenMFACode, now)
	require.NoError(t, err, "the live row must win over the dead duplicate")
	assert.Equal(t, "mfa-live", consumed.ID)
}

func TestActiveToken(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedUser(t, s)
	now := time.Now()

	none, err := s.ActiveToken(ctx, "user-1", authcore.TokenPasswordReset, now)
	require.NoError(t, err)
	assert.Nil(t, none)

	seedToken(t, s, "tok-older", "secret-older", now.Add(time.Hour))
	require.NoError(t, s.CreateToken(ctx, &authcore.VerificationToken{
		ID:        "tok-newer",
		UserID:    "user-1",
		Token:     "secret-newer",
		Type:      authcore.TokenPasswordReset,
		ExpiresAt: now.Add(time.Hour),
		CreatedAt: time.Now().Add(time.Second),
	}))

	active, err := s.ActiveToken(ctx, "user-1", authcore.TokenPasswordReset, now)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "tok-newer", active.ID)

	// Invalidated rows are no longer active.
	require.NoError(t, s.InvalidateTokens(ctx, "user-1", authcore.TokenPasswordReset, now))
	active, err = s.ActiveToken(ctx, "user-1", authcore.TokenPasswordReset, now)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestInvalidateTokens(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedUser(t, s)
	now := time.Now()

	seedToken(t, s, "tok-1", "secret-1", now.Add(time.Hour))
	seedToken(t, s, "tok-2", "secret-2", now.Add(time.Hour))

	require.NoError(t, s.InvalidateTokens(ctx, "user-1", authcore.TokenPasswordReset, now))

	_, err := s.ConsumeToken(ctx, "user-1", "secret-1", authcore.TokenPasswordReset, now)
	assert.ErrorIs(t, err, authcore.ErrTokenAlreadyUsed)
	_, err = s.ConsumeToken(ctx, "user-1", "secret-2", authcore.TokenPasswordReset, now)
	assert.ErrorIs(t, err, authcore.ErrTokenAlreadyUsed)
}

func TestLoginAttempts(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.AppendLoginAttempt(ctx, &authcore.LoginAttemptRecord{
			Identifier: "alice@example.com",
			Source:     "ip-a",
			Outcome:    authcore.AttemptFailure,
			At:         now,
		}))
	}
	require.NoError(t, s.AppendLoginAttempt(ctx, &authcore.LoginAttemptRecord{
		Identifier: "alice@example.com",
		Source:     "ip-b",
		Outcome:    authcore.AttemptFailure,
		At:         now,
	}))
	require.NoError(t, s.AppendLoginAttempt(ctx, &authcore.LoginAttemptRecord{
		Identifier: "alice@example.com",
		Source:     "ip-a",
		Outcome:    authcore.AttemptSuccess,
		At:         now,
	}))
	// An old failure outside the window.
	require.NoError(t, s.AppendLoginAttempt(ctx, &authcore.LoginAttemptRecord{
		Identifier: "alice@example.com",
		Source:     "ip-a",
		Outcome:    authcore.AttemptFailure,
		At:         now.Add(-time.Hour),
	}))

	count, err := s.CountFailedAttempts(ctx, "alice@example.com", "ip-a", now.Add(-10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 3, count, "successes and aged-out failures do not count")

	// Empty source counts across sources.
	count, err = s.CountFailedAttempts(ctx, "alice@example.com", "", now.Add(-10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	require.NoError(t, s.DeleteFailedAttempts(ctx, "alice@example.com", "ip-a"))
	count, err = s.CountFailedAttempts(ctx, "alice@example.com", "ip-a", now.Add(-2*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, count)

	// The other source's failure remains.
	count, err = s.CountFailedAttempts(ctx, "alice@example.com", "ip-b", now.Add(-10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Wildcard delete clears everything for the identifier.
	require.NoError(t, s.DeleteFailedAttempts(ctx, "alice@example.com", ""))
	count, err = s.CountFailedAttempts(ctx, "alice@example.com", "", now.Add(-2*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestTrustedDevices(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	device := &authcore.TrustedDeviceToken{
		UserID:     "user-1",
		SecretHash: [32]byte{1, 2, 3},
		DeviceName: "laptop",
		CreatedAt:  now,
		ExpiresAt:  now.Add(24 * time.Hour),
	}
	require.NoError(t, s.SaveTrustedDevice(ctx, device))

	devices, err := s.ListTrustedDevices(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, device.SecretHash, devices[0].SecretHash)

	require.NoError(t, s.RevokeTrustedDevices(ctx, "user-1"))
	devices, err = s.ListTrustedDevices(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestRecentPasswordHistoryOrder(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 7; i++ {
		require.NoError(t, s.AppendPasswordHistory(ctx, &authcore.PasswordHistoryEntry{
			UserID:       "user-1",
			PasswordHash: fmt.Sprintf("hash-%d", i),
			CreatedAt:    base.Add(time.Duration(i) * time.Minute),
		}))
	}

	recent, err := s.RecentPasswordHistory(ctx, "user-1", 5)
	require.NoError(t, err)
	require.Len(t, recent, 5)
	// Newest first.
	assert.Equal(t, "hash-6", recent[0].PasswordHash)
	assert.Equal(t, "hash-2", recent[4].PasswordHash)
}

func TestSessions(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.CreateSession(ctx, &authcore.Session{
			ID:        fmt.Sprintf("sess-%d", i),
			UserID:    "user-1",
			CreatedAt: now,
			ExpiresAt: now.Add(time.Hour),
		}))
	}
	require.NoError(t, s.CreateSession(ctx, &authcore.Session{
		ID:        "sess-other",
		UserID:    "user-2",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}))

	sess, err := s.GetSession(ctx, "sess-0")
	require.NoError(t, err)
	require.NotNil(t, sess)

	require.NoError(t, s.DeleteSession(ctx, "sess-0"))
	assert.ErrorIs(t, s.DeleteSession(ctx, "sess-0"), authcore.ErrSessionNotFound)

	require.NoError(t, s.DeleteUserSessions(ctx, "user-1"))
	for _, id := range []string{"sess-1", "sess-2"} {
		sess, err := s.GetSession(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, sess)
	}
	other, err := s.GetSession(ctx, "sess-other")
	require.NoError(t, err)
	assert.NotNil(t, other, "other users' sessions survive")
}

func TestWithinTransactionRollback(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedUser(t, s)

	boom := errors.New("boom")
	err := s.WithinTransaction(ctx, func(ctx context.Context, tx authcore.Store) error {
		require.NoError(t, tx.UpdatePasswordHash(ctx, "user-1", "half-written"))
		require.NoError(t, tx.CreateSession(ctx, &authcore.Session{ID: "sess-tx", UserID: "user-1"}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	user, err := s.GetUserByID(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "$argon2id$...", user.PasswordHash, "rollback must restore the hash")

	sess, err := s.GetSession(ctx, "sess-tx")
	require.NoError(t, err)
	assert.Nil(t, sess, "rollback must discard the session")
}

func TestWithinTransactionCommitAndNesting(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedUser(t, s)

	err := s.WithinTransaction(ctx, func(ctx context.Context, tx authcore.Store) error {
		if err := tx.UpdatePasswordHash(ctx, "user-1", "committed"); err != nil {
			return err
		}
		// Nested transactions join the outer one instead of deadlocking.
		return tx.WithinTransaction(ctx, func(ctx context.Context, inner authcore.Store) error {
			return inner.AppendPasswordHistory(ctx, &authcore.PasswordHistoryEntry{
				UserID:       "user-1",
				PasswordHash: "old-hash",
				CreatedAt:    time.Now(),
			})
		})
	})
	require.NoError(t, err)

	user, err := s.GetUserByID(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "committed", user.PasswordHash)

	history, err := s.RecentPasswordHistory(ctx, "user-1", 5)
	require.NoError(t, err)
	require.Len(t, history, 1)
}
