package session

import (
	"context"
	"sync"
)

// LockManager grants exclusive per-session turn ownership. Each session id
// maps to a one-slot semaphore so callers can either fail fast (TryLock) or
// wait with cancellation (Lock). Entries are dropped once no holder or waiter
// remains.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	sem  chan struct{}
	refs int
}

// NewLockManager creates an empty lock manager.
func NewLockManager() *LockManager {
	return &LockManager{locks: make(map[string]*sessionLock)}
}

func (m *LockManager) acquireRef(sessionID string) *sessionLock {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[sessionID]
	if !ok {
		l = &sessionLock{sem: make(chan struct{}, 1)}
		m.locks[sessionID] = l
	}
	l.refs++
	return l
}

func (m *LockManager) releaseRef(sessionID string, l *sessionLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, sessionID)
	}
}

// TryLock acquires the session without waiting. It returns an unlock func and
// true on success, or nil and false when another holder owns the session.
func (m *LockManager) TryLock(sessionID string) (func(), bool) {
	l := m.acquireRef(sessionID)
	select {
	case l.sem <- struct{}{}:
		return m.unlocker(sessionID, l), true
	default:
		m.releaseRef(sessionID, l)
		return nil, false
	}
}

// Lock waits until the session is free or ctx is done.
func (m *LockManager) Lock(ctx context.Context, sessionID string) (func(), error) {
	l := m.acquireRef(sessionID)
	select {
	case l.sem <- struct{}{}:
		return m.unlocker(sessionID, l), nil
	case <-ctx.Done():
		m.releaseRef(sessionID, l)
		return nil, ctx.Err()
	}
}

func (m *LockManager) unlocker(sessionID string, l *sessionLock) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.sem
			m.releaseRef(sessionID, l)
		})
	}
}

// Held reports whether a turn currently owns the session.
func (m *LockManager) Held(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[sessionID]
	return ok && len(l.sem) > 0
}
