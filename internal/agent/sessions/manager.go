// Package sessions serialises turn execution per session. At most one turn
// runs against a session at a time within a process, and optionally across
// processes when a distributed locker is configured.
package sessions

import (
	"context"
	"fmt"
	"sync"
	"time"

	logx "github.com/botgraph/server/pkg/logger"
)

// UnlockFunc releases a distributed lock.
type UnlockFunc func(ctx context.Context) error

// Locker acquires cross-process locks. The in-process mutex map already
// serialises turns within one instance; a Locker extends that guarantee to
// horizontally scaled deployments.
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}

// lockEntry holds the per-session mutex and its reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager hands out per-session locks, garbage collecting entries by
// reference counting so idle sessions cost nothing.
type Manager struct {
	mu    sync.Mutex
	locks map[string]*lockEntry

	locker  Locker
	lockTTL time.Duration
}

type Option func(*Manager)

// WithLocker enables distributed locking with the given lease duration.
func WithLocker(locker Locker, ttl time.Duration) Option {
	return func(m *Manager) {
		m.locker = locker
		m.lockTTL = ttl
	}
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		locks:   make(map[string]*lockEntry),
		lockTTL: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) acquire(sessionID string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.locks[sessionID]
	if !ok {
		entry = &lockEntry{}
		m.locks[sessionID] = entry
	}
	entry.refs++
	return entry
}

func (m *Manager) release(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.locks[sessionID]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, sessionID)
	}
}

// WithLock runs fn while holding the session's lock. The distributed lock,
// when configured, is acquired after the local one so only one goroutine
// per process polls Redis.
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
			return fmt.Errorf("acquire session lock: %w", err)
		}
		defer func() {
			if err := unlock(ctx); err != nil {
				logx.Warn().Err(err).Str("sessionID", sessionID).Msg("failed to release session lock, lease will expire")
			}
		}()
	}

	return fn(ctx)
}
