package sessions

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLockTimeout is returned when acquiring a lock times out.
var ErrLockTimeout = errors.New("sessions: lock acquisition timeout")

// DefaultLockTimeout bounds how long a caller waits for a session's
// exclusive lock before giving up.
const DefaultLockTimeout = 5 * time.Second

const lockPollInterval = 10 * time.Millisecond

type sessionMutex struct {
	mu     sync.Mutex
	locked bool
}

// Locker provides the per-session exclusive lock spec.md §5 requires:
// the inference loop, and the serialized skill.remove history rewrite,
// both hold a session's lock for the duration of their work. Sessions
// are otherwise independent, so locks are keyed by session id rather
// than a single daemon-wide mutex.
type Locker struct {
	locks   sync.Map // map[string]*sessionMutex
	timeout time.Duration
}

// NewLocker creates a Locker whose blocking Lock calls give up after
// timeout (DefaultLockTimeout if timeout <= 0).
func NewLocker(timeout time.Duration) *Locker {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	return &Locker{timeout: timeout}
}

func (l *Locker) getOrCreate(sessionID string) *sessionMutex {
	if m, ok := l.locks.Load(sessionID); ok {
		return m.(*sessionMutex)
	}
	actual, _ := l.locks.LoadOrStore(sessionID, &sessionMutex{})
	return actual.(*sessionMutex)
}

// Lock blocks until the session's lock is acquired, ctx is cancelled, or
// the Locker's timeout elapses (then it returns ErrLockTimeout).
func (l *Locker) Lock(ctx context.Context, sessionID string) error {
	m := l.getOrCreate(sessionID)
	deadline := time.Now().Add(l.timeout)

	for {
		m.mu.Lock()
		if !m.locked {
			m.locked = true
			m.mu.Unlock()
			return nil
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if time.Now().After(deadline) {
			return ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

// Unlock releases the session's lock. Safe to call if not held.
func (l *Locker) Unlock(sessionID string) {
	if m, ok := l.locks.Load(sessionID); ok {
		mu := m.(*sessionMutex)
		mu.mu.Lock()
		mu.locked = false
		mu.mu.Unlock()
	}
}

// TryLock attempts to acquire the session's lock without blocking.
func (l *Locker) TryLock(sessionID string) bool {
	m := l.getOrCreate(sessionID)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked {
		return false
	}
	m.locked = true
	return true
}
