// Package memory provides an in-process authcore.Store backed by maps. It is
// intended for tests and single-node development setups; data does not
// survive a restart.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/credware/authcore"
)

// Store implements authcore.Store in memory. Safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	txMu sync.Mutex
	data *state
}

type state struct {
	users      map[string]*authcore.User // by ID
	emailIndex map[string]string         // email -> ID
	tokens     map[string]*authcore.VerificationToken
	attempts   []authcore.LoginAttemptRecord
	devices    map[string][]authcore.TrustedDeviceToken
	history    map[string][]authcore.PasswordHistoryEntry
	sessions   map[string]*authcore.Session
}

func newState() *state {
	return &state{
		users:      make(map[string]*authcore.User),
		emailIndex: make(map[string]string),
		tokens:     make(map[string]*authcore.VerificationToken),
		devices:    make(map[string][]authcore.TrustedDeviceToken),
		history:    make(map[string][]authcore.PasswordHistoryEntry),
		sessions:   make(map[string]*authcore.Session),
	}
}

// New returns an empty store.
func New() *Store {
	return &Store{data: newState()}
}

// clone deep-copies the state for transaction rollback.
func (s *state) clone() *state {
	c := newState()
	for id, u := range s.users {
		cp := *u
		c.users[id] = &cp
	}
	for email, id := range s.emailIndex {
		c.emailIndex[email] = id
	}
	for id, t := range s.tokens {
		cp := *t
		c.tokens[id] = &cp
	}
	c.attempts = append(c.attempts, s.attempts...)
	for userID, devs := range s.devices {
		c.devices[userID] = append([]authcore.TrustedDeviceToken(nil), devs...)
	}
	for userID, entries := range s.history {
		c.history[userID] = append([]authcore.PasswordHistoryEntry(nil), entries...)
	}
	for id, sess := range s.sessions {
		cp := *sess
		c.sessions[id] = &cp
	}
	return c
}

// WithinTransaction serializes against all other transactions and restores a
// pre-transaction snapshot when fn fails, so partial writes are never
// observable. The tx handed to fn joins the outer transaction on nested
// calls.
func (s *Store) WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx authcore.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.data.clone()
	s.mu.Unlock()

	if err := fn(ctx, &txStore{s}); err != nil {
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// txStore is the transactional view: same data, but nested WithinTransaction
// calls run fn directly instead of re-acquiring the transaction lock.
type txStore struct {
	*Store
}

func (t *txStore) WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx authcore.Store) error) error {
	return fn(ctx, t)
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*authcore.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.data.emailIndex[email]
	if !ok {
		return nil, nil
	}
	cp := *s.data.users[id]
	return &cp, nil
}

func (s *Store) GetUserByID(_ context.Context, userID string) (*authcore.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.data.users[userID]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (s *Store) CreateUser(_ context.Context, user *authcore.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.data.emailIndex[user.Email]; taken {
		return authcore.ErrEmailTaken
	}
	cp := *user
	s.data.users[user.ID] = &cp
	s.data.emailIndex[user.Email] = user.ID
	return nil
}

func (s *Store) UpdatePasswordHash(_ context.Context, userID, newHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.data.users[userID]
	if !ok {
		return authcore.ErrUserNotFound
	}
	u.PasswordHash = newHash
	return nil
}

func (s *Store) MarkEmailVerified(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.data.users[userID]
	if !ok {
		return authcore.ErrUserNotFound
	}
	u.EmailVerifiedAt = &at
	return nil
}

// CreateToken enforces the same uniqueness rule as the postgres partial
// index: reset and verification token values may not repeat, while MFA codes
// may.
func (s *Store) CreateToken(_ context.Context, token *authcore.VerificationToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token.Type != authcore.TokenMFACode {
		for _, t := range s.data.tokens {
			if t.Type != authcore.TokenMFACode && t.Token == token.Token {
				return errors.New("memory: duplicate token value")
			}
		}
	}
	cp := *token
	s.data.tokens[token.ID] = &cp
	return nil
}

func (s *Store) ConsumeToken(_ context.Context, userID, token string, typ authcore.TokenType, now time.Time) (*authcore.VerificationToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Superseded MFA codes can leave dead rows with the same value; a live
	// row always wins over one that would merely classify the failure.
	var match *authcore.VerificationToken
	for _, t := range s.data.tokens {
		if t.UserID != userID || t.Token != token || t.Type != typ {
			continue
		}
		if t.UsedAt == nil && t.ExpiresAt.After(now) {
			match = t
			break
		}
		if match == nil {
			match = t
		}
	}
	switch {
	case match == nil:
		return nil, authcore.ErrTokenNotFound
	case match.UsedAt != nil:
		return nil, authcore.ErrTokenAlreadyUsed
	case !match.ExpiresAt.After(now):
		return nil, authcore.ErrTokenExpired
	}

	used := now
	match.UsedAt = &used
	cp := *match
	return &cp, nil
}

func (s *Store) ActiveToken(_ context.Context, userID string, typ authcore.TokenType, now time.Time) (*authcore.VerificationToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var newest *authcore.VerificationToken
	for _, t := range s.data.tokens {
		if t.UserID != userID || t.Type != typ || t.UsedAt != nil || !t.ExpiresAt.After(now) {
			continue
		}
		if newest == nil || t.CreatedAt.After(newest.CreatedAt) {
			newest = t
		}
	}
	if newest == nil {
		return nil, nil
	}
	cp := *newest
	return &cp, nil
}

func (s *Store) InvalidateTokens(_ context.Context, userID string, typ authcore.TokenType, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.data.tokens {
		if t.UserID == userID && t.Type == typ && t.UsedAt == nil {
			used := now
			t.UsedAt = &used
		}
	}
	return nil
}

func (s *Store) AppendLoginAttempt(_ context.Context, rec *authcore.LoginAttemptRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.attempts = append(s.data.attempts, *rec)
	return nil
}

func (s *Store) CountFailedAttempts(_ context.Context, identifier, source string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, rec := range s.data.attempts {
		if rec.Identifier == identifier &&
			(source == "" || rec.Source == source) &&
			rec.Outcome == authcore.AttemptFailure &&
			!rec.At.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *Store) DeleteFailedAttempts(_ context.Context, identifier, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.data.attempts[:0]
	for _, rec := range s.data.attempts {
		drop := rec.Identifier == identifier &&
			(source == "" || rec.Source == source) &&
			rec.Outcome == authcore.AttemptFailure
		if !drop {
			kept = append(kept, rec)
		}
	}
	s.data.attempts = kept
	return nil
}

func (s *Store) SaveTrustedDevice(_ context.Context, device *authcore.TrustedDeviceToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.devices[device.UserID] = append(s.data.devices[device.UserID], *device)
	return nil
}

func (s *Store) ListTrustedDevices(_ context.Context, userID string) ([]authcore.TrustedDeviceToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]authcore.TrustedDeviceToken(nil), s.data.devices[userID]...), nil
}

func (s *Store) RevokeTrustedDevices(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data.devices, userID)
	return nil
}

func (s *Store) AppendPasswordHistory(_ context.Context, entry *authcore.PasswordHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.history[entry.UserID] = append(s.data.history[entry.UserID], *entry)
	return nil
}

// RecentPasswordHistory returns up to limit entries, newest first.
func (s *Store) RecentPasswordHistory(_ context.Context, userID string, limit int) ([]authcore.PasswordHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.data.history[userID]
	out := make([]authcore.PasswordHistoryEntry, 0, limit)
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, entries[i])
	}
	return out, nil
}

func (s *Store) CreateSession(_ context.Context, sess *authcore.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.data.sessions[sess.ID] = &cp
	return nil
}

func (s *Store) GetSession(_ context.Context, sessionID string) (*authcore.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.data.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	cp := *sess
	return &cp, nil
}

func (s *Store) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.sessions[sessionID]; !ok {
		return authcore.ErrSessionNotFound
	}
	delete(s.data.sessions, sessionID)
	return nil
}

func (s *Store) DeleteUserSessions(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.data.sessions {
		if sess.UserID == userID {
			delete(s.data.sessions, id)
		}
	}
	return nil
}
