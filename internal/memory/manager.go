package memory

import (
	"context"
	"log/slog"
	"time"

	"github.com/vetralabs/vetra/internal/contextstore"
)

const (
	DefaultTTL        = 72 * time.Hour
	DefaultMaxEntries = 10

	appendTimeout = 2 * time.Second
	readTimeout   = 350 * time.Millisecond
)

// Manager maintains the bounded conversation window per session. Losing
// memory continuity is always preferable to failing the user-visible answer,
// so store failures degrade to an empty context or a dropped write.
type Manager struct {
	store      contextstore.Store
	ttl        time.Duration
	maxEntries int
	locks      *lockRegistry
	logger     *slog.Logger
	now        func() time.Time

	onStoreError func(op string)
}

type Option func(*Manager)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithStoreErrorHook registers a callback invoked when the backing store
// fails, so callers can count degradations.
func WithStoreErrorHook(hook func(op string)) Option {
	return func(m *Manager) { m.onStoreError = hook }
}

func NewManager(store contextstore.Store, ttl time.Duration, maxEntries int, logger *slog.Logger, opts ...Option) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		store:      store,
		ttl:        ttl,
		maxEntries: maxEntries,
		locks:      newLockRegistry(10 * time.Minute),
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Context returns the non-expired, cap-respecting window for the session.
// A missing session, an unreachable store or an all-expired history yield an
// empty context, never an error.
func (m *Manager) Context(ctx context.Context, sessionID string) []contextstore.Turn {
	readCtx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	turns, err := m.store.Turns(readCtx, sessionID)
	if err != nil {
		m.logger.Warn("context read degraded to empty", "session_id", sessionID, "error", err)
		m.noteStoreError("read")
		return nil
	}
	return Window(turns, m.now().UTC(), m.ttl, m.maxEntries)
}

// AppendTurns appends turns for the session, serialized against concurrent
// appends on the same session id. The write runs under its own deadline
// detached from the request context so it completes after a client
// disconnect. Failures are logged and swallowed.
func (m *Manager) AppendTurns(ctx context.Context, sessionID string, turns ...contextstore.Turn) {
	if len(turns) == 0 {
		return
	}
	now := m.now().UTC()
	for i := range turns {
		if turns[i].CreatedAt.IsZero() {
			turns[i].CreatedAt = now
		}
	}

	l := m.locks.acquire(sessionID)
	defer m.locks.release(l)

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), appendTimeout)
	defer cancel()

	if err := m.store.Append(writeCtx, sessionID, m.maxEntries, turns...); err != nil {
		m.logger.Warn("turn append dropped", "session_id", sessionID, "turns", len(turns), "error", err)
		m.noteStoreError("append")
	}
}

// StartJanitor launches the idle session-lock cleaner.
func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	m.locks.StartJanitor(ctx, interval)
}

// Ping reports backing store reachability for readiness checks.
func (m *Manager) Ping(ctx context.Context) error {
	return m.store.Ping(ctx)
}

func (m *Manager) noteStoreError(op string) {
	if m.onStoreError != nil {
		m.onStoreError(op)
	}
}
