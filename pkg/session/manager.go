package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
)

// CorruptPolicy decides what a read does with a History blob that cannot be decoded.
type CorruptPolicy int

const (
	// CorruptReset treats the session as empty; the next Append overwrites the blob.
	CorruptReset CorruptPolicy = iota
	// CorruptFail surfaces domain.ErrCorruptState to the caller.
	CorruptFail
)

// ParseCorruptPolicy maps "reset" and "fail" to a CorruptPolicy.
func ParseCorruptPolicy(s string) (CorruptPolicy, error) {
	switch s {
	case "", "reset":
		return CorruptReset, nil
	case "fail":
		return CorruptFail, nil
	default:
		return CorruptReset, fmt.Errorf("unknown corrupt policy %q", s)
	}
}

func (p CorruptPolicy) String() string {
	if p == CorruptFail {
		return "fail"
	}
	return "reset"
}

// SaveResult is the reply of a save request: {ok: true, size}.
type SaveResult struct {
	OK   bool `json:"ok"`
	Size int  `json:"size"`
}

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager is the per-session actor: it owns every History and serializes
// all operations on the same session id.
// It uses Reference Counting to garbage collect unused locks.
type Manager struct {
	store ports.HistoryStore

	mu    sync.Mutex            // Global lock for the map
	locks map[string]*lockEntry // Map of active locks

	locker  ports.DistributedLocker // Optional distributed locker
	lockTTL time.Duration
	logger  *slog.Logger
	hooks   domain.LifecycleHooks
	limit   int
	policy  CorruptPolicy
	now     func() time.Time
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL sets the lease of distributed locks. Defaults to 30s.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.lockTTL = ttl
		}
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithHooks registers lifecycle callbacks (metrics, tracing).
func WithHooks(hooks domain.LifecycleHooks) Option {
	return func(m *Manager) {
		m.hooks = hooks
	}
}

// WithLimit overrides the number of retained turns.
func WithLimit(limit int) Option {
	return func(m *Manager) {
		if limit > 0 {
			m.limit = limit
		}
	}
}

// WithCorruptPolicy selects how undecodable histories are handled.
func WithCorruptPolicy(p CorruptPolicy) Option {
	return func(m *Manager) {
		m.policy = p
	}
}

// WithClock overrides the time source used to stamp turns.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a new Session Manager with the given history store.
func NewManager(store ports.HistoryStore, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		locks:   make(map[string]*lockEntry),
		lockTTL: 30 * time.Second,
		logger:  logging.NewNop(),
		limit:   domain.DefaultHistoryLimit,
		policy:  CorruptReset,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(sessionID) after unlocking.
func (m *Manager) acquire(sessionID string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[sessionID]
	if !exists {
		entry = &lockEntry{}
		m.locks[sessionID] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) release(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[sessionID]
	if !exists {
		return
	}

	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, sessionID)
	}
}

// Append records one exchange, evicting the oldest turns beyond the limit,
// and persists the full snapshot. It returns the resulting history length.
func (m *Manager) Append(ctx context.Context, sessionID, user, ai string) (int, error) {
	var size int
	err := m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		history, err := m.load(ctx, sessionID)
		if err != nil {
			return err
		}

		next, evicted := history.Append(domain.NewTurn(user, ai, m.now()), m.limit)
		if err := m.store.Save(ctx, sessionID, next); err != nil {
			return storageErr("save history", err)
		}
		size = len(next)

		m.logger.Debug("turn appended", "session_id", sessionID, "size", size, "evicted", evicted)
		if m.hooks.OnTurnAppended != nil {
			m.hooks.OnTurnAppended(ctx, &domain.TurnEvent{
				EventBase: domain.EventBase{Timestamp: m.now(), Type: domain.EventTurnAppended, SessionID: sessionID},
				Size:      size,
				Evicted:   evicted,
			})
		}
		return nil
	})
	return size, err
}

// Save is Append shaped as the actor's save reply.
func (m *Manager) Save(ctx context.Context, sessionID, user, ai string) (SaveResult, error) {
	size, err := m.Append(ctx, sessionID, user, ai)
	if err != nil {
		return SaveResult{}, err
	}
	return SaveResult{OK: true, Size: size}, nil
}

// History returns the session's turns, most recent last. A session never
// written returns an empty History.
func (m *Manager) History(ctx context.Context, sessionID string) (domain.History, error) {
	var history domain.History
	err := m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		var err error
		history, err = m.load(ctx, sessionID)
		return err
	})
	return history, err
}

// Delete removes the session from the store.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	return m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		if err := m.store.Delete(ctx, sessionID); err != nil {
			return storageErr("delete history", err)
		}
		return nil
	})
}

// List delegates to the store.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	ids, err := m.store.List(ctx)
	if err != nil {
		return nil, storageErr("list sessions", err)
	}
	return ids, nil
}

// Limit returns the configured history bound.
func (m *Manager) Limit() int {
	return m.limit
}

// load must run under the session lock.
func (m *Manager) load(ctx context.Context, sessionID string) (domain.History, error) {
	history, err := m.store.Load(ctx, sessionID)
	switch {
	case err == nil:
		return history, nil
	case errors.Is(err, domain.ErrSessionNotFound):
		return domain.History{}, nil
	case errors.Is(err, domain.ErrCorruptState):
		if m.hooks.OnCorruptState != nil {
			m.hooks.OnCorruptState(ctx, &domain.EventBase{Timestamp: m.now(), Type: domain.EventCorruptState, SessionID: sessionID})
		}
		if m.policy == CorruptFail {
			return nil, err
		}
		m.logger.Warn("discarding corrupt history", "session_id", sessionID, "err", err)
		return domain.History{}, nil
	default:
		return nil, storageErr("load history", err)
	}
}

func storageErr(op string, err error) error {
	if errors.Is(err, domain.ErrStorageUnavailable) || errors.Is(err, domain.ErrMalformedRequest) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrStorageUnavailable, op, err)
}

// WithLock executes a function while holding the lock for the session.
func (m *Manager) WithLock(ctx context.Context, sessionID string, fn func(context.Context) error) error {
	entry := m.acquire(sessionID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(sessionID)
	}()

	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, sessionID, m.lockTTL)
		if err != nil {
			return fmt.Errorf("%w: failed to acquire distributed lock: %v", domain.ErrStorageUnavailable, err)
		}
		defer func() {
			// Release even if ctx was canceled mid-operation
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				m.logger.Warn("Failed to release distributed lock (will expire via TTL)",
					"session_id", sessionID,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}
