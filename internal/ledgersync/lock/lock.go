// Package lock provides per-key mutual exclusion for ledger commits.
package lock

import (
	"context"
	"fmt"
	"sync"

	"hycredit/pkg/platform/sentinel"
)

// Locker grants exclusive ownership of a key until unlock is called.
// Lock blocks until the key is free or ctx is done.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

type keyedEntry struct {
	slot chan struct{}
	refs int
}

// MemoryLocker serializes holders of the same key within one process. Keys
// with no holders or waiters are dropped, so the map does not grow with the
// number of credits ever touched.
type MemoryLocker struct {
	mu   sync.Mutex
	keys map[string]*keyedEntry
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{keys: make(map[string]*keyedEntry)}
}

func (l *MemoryLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.keys[key]
	if !ok {
		e = &keyedEntry{slot: make(chan struct{}, 1)}
		l.keys[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.slot <- struct{}{}:
	case <-ctx.Done():
		l.release(key, e)
		return nil, fmt.Errorf("%w: %s: %w", sentinel.ErrLockTimeout, key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.slot
			l.release(key, e)
		})
	}, nil
}

func (l *MemoryLocker) release(key string, e *keyedEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.keys, key)
	}
}

// Len reports the number of keys currently held or awaited.
func (l *MemoryLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}
