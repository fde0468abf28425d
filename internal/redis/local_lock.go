package redisclient

import (
	"context"
	"sync"
)

// localLocker serializes critical sections inside one process. It backs the
// in-memory store, where a single instance owns all state and Redis is not
// required.
type localLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

func NewLocalLocker() Locker {
	return &localLocker{locks: make(map[string]*keyLock)}
}

func (l *localLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	kl := l.acquireRef(key)
	defer l.releaseRef(key)

	select {
	case kl.sem <- struct{}{}:
	case <-ctx.Done():
		return ErrLockNotAcquired
	}
	defer func() { <-kl.sem }()

	return fn(ctx)
}

func (l *localLocker) acquireRef(key string) *keyLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{sem: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	return kl
}

func (l *localLocker) releaseRef(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl := l.locks[key]
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}
