// Package postgres provides the production authcore.Store backed by
// PostgreSQL via pgx. Schema management lives in the embedded goose
// migrations; call RunMigrations before opening the store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/credware/authcore"
)

const uniqueViolation = "23505"

// querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx, letting
// the same query methods serve both the pooled store and transactions.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements authcore.Store on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
	db   querier
}

// New wraps an existing pool. The caller owns the pool's lifecycle.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, db: pool}
}

// Open connects to dsn and pings the database.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return New(pool), nil
}

// Close releases the underlying pool when the store owns one.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// WithinTransaction runs fn inside a database transaction. The tx view
// passed to fn joins the transaction on nested calls instead of opening a
// second one.
func (s *Store) WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx authcore.Store) error) error {
	if s.pool == nil {
		// Already inside a transaction view.
		return fn(ctx, s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &Store{db: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*authcore.User, error) {
	return s.scanUser(s.db.QueryRow(ctx, `
		SELECT id, email, password_hash, role, organization_id, email_verified_at
		FROM users WHERE email = $1`, email))
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (*authcore.User, error) {
	return s.scanUser(s.db.QueryRow(ctx, `
		SELECT id, email, password_hash, role, organization_id, email_verified_at
		FROM users WHERE id = $1`, userID))
}

func (s *Store) scanUser(row pgx.Row) (*authcore.User, error) {
	var u authcore.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.OrganizationID, &u.EmailVerifiedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, user *authcore.User) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO users (id, email, password_hash, role, organization_id, email_verified_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		user.ID, user.Email, user.PasswordHash, user.Role, user.OrganizationID, user.EmailVerifiedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return authcore.ErrEmailTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, userID, newHash string) error {
	tag, err := s.db.Exec(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, userID, newHash)
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authcore.ErrUserNotFound
	}
	return nil
}

func (s *Store) MarkEmailVerified(ctx context.Context, userID string, at time.Time) error {
	// Matching zero rows (unknown or already verified) is not an error;
	// callers gate on the single-use token.
	_, err := s.db.Exec(ctx, `
		UPDATE users SET email_verified_at = $2 WHERE id = $1 AND email_verified_at IS NULL`,
		userID, at)
	if err != nil {
		return fmt.Errorf("mark email verified: %w", err)
	}
	return nil
}

func (s *Store) CreateToken(ctx context.Context, token *authcore.VerificationToken) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO verification_tokens (id, user_id, token, token_type, expires_at, used_at, device_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		token.ID, token.UserID, token.Token, token.Type,
		token.ExpiresAt, token.UsedAt, token.DeviceName, token.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

// ConsumeToken marks the token used with a single conditional UPDATE; the
// row-level lock makes two concurrent redemptions impossible. When the
// update matches nothing a follow-up SELECT classifies the failure.
func (s *Store) ConsumeToken(ctx context.Context, userID, token string, typ authcore.TokenType, now time.Time) (*authcore.VerificationToken, error) {
	var t authcore.VerificationToken
	err := s.db.QueryRow(ctx, `
		UPDATE verification_tokens SET used_at = $4
		WHERE user_id = $1 AND token = $2 AND token_type = $3
		  AND used_at IS NULL AND expires_at > $4
		RETURNING id, user_id, token, token_type, expires_at, used_at, device_name, created_at`,
		userID, token, typ, now,
	).Scan(&t.ID, &t.UserID, &t.Token, &t.Type, &t.ExpiresAt, &t.UsedAt, &t.DeviceName, &t.CreatedAt)
	if err == nil {
		return &t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("consume token: %w", err)
	}

	var usedAt *time.Time
	var expiresAt time.Time
	err = s.db.QueryRow(ctx, `
		SELECT used_at, expires_at FROM verification_tokens
		WHERE user_id = $1 AND token = $2 AND token_type = $3
		ORDER BY created_at DESC LIMIT 1`,
		userID, token, typ,
	).Scan(&usedAt, &expiresAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, authcore.ErrTokenNotFound
	case err != nil:
		return nil, fmt.Errorf("classify token: %w", err)
	case usedAt != nil:
		return nil, authcore.ErrTokenAlreadyUsed
	default:
		return nil, authcore.ErrTokenExpired
	}
}

func (s *Store) ActiveToken(ctx context.Context, userID string, typ authcore.TokenType, now time.Time) (*authcore.VerificationToken, error) {
	var t authcore.VerificationToken
	err := s.db.QueryRow(ctx, `
		SELECT id, user_id, token, token_type, expires_at, used_at, device_name, created_at
		FROM verification_tokens
		WHERE user_id = $1 AND token_type = $2 AND used_at IS NULL AND expires_at > $3
		ORDER BY created_at DESC LIMIT 1`,
		userID, typ, now,
	).Scan(&t.ID, &t.UserID, &t.Token, &t.Type, &t.ExpiresAt, &t.UsedAt, &t.DeviceName, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active token: %w", err)
	}
	return &t, nil
}

func (s *Store) InvalidateTokens(ctx context.Context, userID string, typ authcore.TokenType, now time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE verification_tokens SET used_at = $3
		WHERE user_id = $1 AND token_type = $2 AND used_at IS NULL`,
		userID, typ, now)
	if err != nil {
		return fmt.Errorf("invalidate tokens: %w", err)
	}
	return nil
}

func (s *Store) AppendLoginAttempt(ctx context.Context, rec *authcore.LoginAttemptRecord) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO login_attempts (identifier, source, outcome, at)
		VALUES ($1, $2, $3, $4)`,
		rec.Identifier, rec.Source, rec.Outcome, rec.At)
	if err != nil {
		return fmt.Errorf("insert login attempt: %w", err)
	}
	return nil
}

func (s *Store) CountFailedAttempts(ctx context.Context, identifier, source string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRow(ctx, `
		SELECT count(*) FROM login_attempts
		WHERE identifier = $1 AND ($2 = '' OR source = $2)
		  AND outcome = $3 AND at >= $4`,
		identifier, source, authcore.AttemptFailure, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count failed attempts: %w", err)
	}
	return count, nil
}

func (s *Store) DeleteFailedAttempts(ctx context.Context, identifier, source string) error {
	_, err := s.db.Exec(ctx, `
		DELETE FROM login_attempts
		WHERE identifier = $1 AND ($2 = '' OR source = $2) AND outcome = $3`,
		identifier, source, authcore.AttemptFailure)
	if err != nil {
		return fmt.Errorf("delete failed attempts: %w", err)
	}
	return nil
}

func (s *Store) SaveTrustedDevice(ctx context.Context, device *authcore.TrustedDeviceToken) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO trusted_devices (user_id, secret_hash, device_name, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)`,
		device.UserID, device.SecretHash[:], device.DeviceName, device.CreatedAt, device.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert trusted device: %w", err)
	}
	return nil
}

func (s *Store) ListTrustedDevices(ctx context.Context, userID string) ([]authcore.TrustedDeviceToken, error) {
	rows, err := s.db.Query(ctx, `
		SELECT user_id, secret_hash, device_name, created_at, expires_at
		FROM trusted_devices WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("list trusted devices: %w", err)
	}
	defer rows.Close()

	var devices []authcore.TrustedDeviceToken
	for rows.Next() {
		var d authcore.TrustedDeviceToken
		var hash []byte
		if err := rows.Scan(&d.UserID, &hash, &d.DeviceName, &d.CreatedAt, &d.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan trusted device: %w", err)
		}
		copy(d.SecretHash[:], hash)
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

func (s *Store) RevokeTrustedDevices(ctx context.Context, userID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM trusted_devices WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("revoke trusted devices: %w", err)
	}
	return nil
}

func (s *Store) AppendPasswordHistory(ctx context.Context, entry *authcore.PasswordHistoryEntry) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO password_history (user_id, password_hash, created_at)
		VALUES ($1, $2, $3)`,
		entry.UserID, entry.PasswordHash, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert password history: %w", err)
	}
	return nil
}

func (s *Store) RecentPasswordHistory(ctx context.Context, userID string, limit int) ([]authcore.PasswordHistoryEntry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT user_id, password_hash, created_at FROM password_history
		WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("load password history: %w", err)
	}
	defer rows.Close()

	var entries []authcore.PasswordHistoryEntry
	for rows.Next() {
		var e authcore.PasswordHistoryEntry
		if err := rows.Scan(&e.UserID, &e.PasswordHash, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan password history: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) CreateSession(ctx context.Context, sess *authcore.Session) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO sessions (id, user_id, role, organization_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		sess.ID, sess.UserID, sess.Role, sess.OrganizationID, sess.CreatedAt, sess.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*authcore.Session, error) {
	var sess authcore.Session
	err := s.db.QueryRow(ctx, `
		SELECT id, user_id, role, organization_id, created_at, expires_at
		FROM sessions WHERE id = $1`, sessionID,
	).Scan(&sess.ID, &sess.UserID, &sess.Role, &sess.OrganizationID, &sess.CreatedAt, &sess.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return &sess, nil
}

func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authcore.ErrSessionNotFound
	}
	return nil
}

func (s *Store) DeleteUserSessions(ctx context.Context, userID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete user sessions: %w", err)
	}
	return nil
}
