package storage

import (
	"context"
	"fmt"
	"sync"
)

// InMemoryLock is a per-key lock table for a single process. Waiters are
// not served in FIFO order.
type InMemoryLock struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	sem  chan struct{}
	refs int
}

// NewInMemoryLock creates an empty lock table.
func NewInMemoryLock() *InMemoryLock {
	return &InMemoryLock{locks: make(map[string]*lockEntry)}
}

func (l *InMemoryLock) ref(key string) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.locks[key]
	if !ok {
		entry = &lockEntry{sem: make(chan struct{}, 1)}
		l.locks[key] = entry
	}
	entry.refs++
	return entry
}

func (l *InMemoryLock) unref(key string, entry *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, key)
	}
}

// Acquire blocks until key is free or ctx is done.
func (l *InMemoryLock) Acquire(ctx context.Context, key string) (func(), error) {
	entry := l.ref(key)

	select {
	case entry.sem <- struct{}{}:
	case <-ctx.Done():
		l.unref(key, entry)
		return nil, fmt.Errorf("acquire lock for %s: %w", key, ctx.Err())
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			<-entry.sem
			l.unref(key, entry)
		})
	}
	return release, nil
}

// held reports the number of keys with holders or waiters.
func (l *InMemoryLock) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
