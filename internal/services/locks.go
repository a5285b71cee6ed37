package services

import (
	"hash/fnv"
	"sync"
)

const defaultLockStripes = 64

// SessionLocks serialises work per session scope on this instance. Scopes hash onto a fixed set
// of mutexes, so unrelated sessions may occasionally share one.
type SessionLocks struct {
	stripes []sync.Mutex
}

// NewSessionLocks allocates n stripes. Non-positive n uses a default.
func NewSessionLocks(n int) *SessionLocks {
	if n <= 0 {
		n = defaultLockStripes
	}
	return &SessionLocks{stripes: make([]sync.Mutex, n)}
}

// Lock acquires the stripe for scope and returns its release func.
func (l *SessionLocks) Lock(scope string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(scope))
	mu := &l.stripes[h.Sum32()%uint32(len(l.stripes))]
	mu.Lock()
	return mu.Unlock
}
