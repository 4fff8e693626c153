package authcore

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/credware/authcore/password"
)

// Builder assembles a Manager. Collect dependencies with the With methods,
// then call Build; the resulting Manager is immutable.
type Builder struct {
	cfg       Config
	cfgSet    bool
	store     Store
	notifier  Notifier
	auditSink AuditSink
	logger    *slog.Logger
	now       func() time.Time
}

// New returns an empty Builder.
func New() *Builder {
	return &Builder{}
}

// WithConfig sets the full configuration. When omitted, DefaultConfig is
// used.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	b.cfgSet = true
	return b
}

// WithStore sets the persistence backend. Required.
func (b *Builder) WithStore(store Store) *Builder {
	b.store = store
	return b
}

// WithNotifier sets the out-of-band delivery backend. Required; use
// NoOpNotifier to discard.
func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

// WithAuditSink sets where audit events go. Optional; without it events are
// discarded even when auditing is enabled.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the structured logger. Optional; defaults to a discard
// logger.
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// WithClock overrides the time source. Test hook.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the collected dependencies and returns a ready Manager.
func (b *Builder) Build() (*Manager, error) {
	if b.store == nil {
		return nil, errors.New("authcore: store is required")
	}
	if b.notifier == nil {
		return nil, errors.New("authcore: notifier is required")
	}

	cfg := b.cfg
	if !b.cfgSet {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	hasher, err := password.NewHasher(cfg.Password.Argon2)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:      cfg,
		store:    b.store,
		notifier: b.notifier,
		verifier: NewCredentialVerifier(b.store, hasher),
		tracker:  NewLoginAttemptTracker(b.store, cfg.Lockout),
		trust:    NewDeviceTrustRegistry(b.store, cfg.DeviceTrust),
		vault:    NewTokenVault(b.store, cfg.Tokens),
		policy:   NewPasswordPolicy(b.store, hasher, cfg.Password),
		hasher:   hasher,
		audit:    newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics:  NewMetrics(cfg.Metrics),
		logger:   logger,
		now:      now,
		ready:    true,
	}
	m.tracker.now = now
	m.trust.now = now
	m.vault.now = now
	m.policy.now = now
	return m, nil
}
