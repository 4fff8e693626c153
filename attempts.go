package authcore

import (
	"context"
	"fmt"
	"time"
)

// LoginAttemptTracker records login outcomes per (identifier, source) pair
// and computes lockout state over a sliding window.
//
// Lockout is a count query over the append-only attempt log, never a mutable
// counter, so concurrent request handlers cannot lose updates: each handler
// appends its own row and the threshold comparison reads whatever is
// committed.
type LoginAttemptTracker struct {
	store Store
	cfg   LockoutConfig
	now   func() time.Time
}

// NewLoginAttemptTracker wires a tracker to the store with the given window
// policy.
func NewLoginAttemptTracker(store Store, cfg LockoutConfig) *LoginAttemptTracker {
	return &LoginAttemptTracker{store: store, cfg: cfg, now: time.Now}
}

// RecordAttempt appends one outcome row. Rows are immutable after creation.
func (t *LoginAttemptTracker) RecordAttempt(ctx context.Context, identifier, source string, outcome AttemptOutcome) error {
	rec := &LoginAttemptRecord{
		Identifier: identifier,
		Source:     source,
		Outcome:    outcome,
		At:         t.now(),
	}
	if err := t.store.AppendLoginAttempt(ctx, rec); err != nil {
		return fmt.Errorf("%w: append login attempt: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// IsLocked reports whether the pair has reached the failure threshold within
// the window. The lock releases on its own once the oldest qualifying
// failure ages out.
func (t *LoginAttemptTracker) IsLocked(ctx context.Context, identifier, source string) (bool, error) {
	since := t.now().Add(-t.cfg.Window)
	count, err := t.store.CountFailedAttempts(ctx, identifier, source, since)
	if err != nil {
		return false, fmt.Errorf("%w: count failed attempts: %v", ErrStorageUnavailable, err)
	}
	return count >= t.cfg.Threshold, nil
}

// ClearFailedAttempts resets the window for the pair, used after a
// successful login or password reset.
func (t *LoginAttemptTracker) ClearFailedAttempts(ctx context.Context, identifier, source string) error {
	if err := t.store.DeleteFailedAttempts(ctx, identifier, source); err != nil {
		return fmt.Errorf("%w: clear failed attempts: %v", ErrStorageUnavailable, err)
	}
	return nil
}
