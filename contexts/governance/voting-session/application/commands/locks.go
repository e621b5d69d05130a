package commands

import "sync"

// SessionLocks serializes operations per session id. Operations on different
// sessions never contend.
type SessionLocks struct {
	mu    sync.Mutex
	locks map[uint64]*sync.Mutex
}

func NewSessionLocks() *SessionLocks {
	return &SessionLocks{locks: make(map[uint64]*sync.Mutex)}
}

// Lock blocks until sessionID is free and returns its unlock func. A nil
// receiver performs no locking.
func (l *SessionLocks) Lock(sessionID uint64) func() {
	if l == nil {
		return func() {}
	}
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[uint64]*sync.Mutex)
	}
	lock, ok := l.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[sessionID] = lock
	}
	l.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
