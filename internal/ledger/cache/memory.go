package cache

import (
	"context"
	"sync"
	"time"

	id "hycredit/pkg/domain"
)

type memoryItem struct {
	entry     Entry
	expiresAt time.Time
}

// MemoryBackend is a process-local TTL map.
type MemoryBackend struct {
	mu    sync.RWMutex
	items map[id.CreditID]memoryItem
	now   func() time.Time
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{items: make(map[id.CreditID]memoryItem), now: time.Now}
}

func (m *MemoryBackend) Get(_ context.Context, creditID id.CreditID) (Entry, error) {
	m.mu.RLock()
	item, ok := m.items[creditID]
	m.mu.RUnlock()
	if !ok || !m.now().Before(item.expiresAt) {
		return Entry{}, ErrMiss
	}
	return item.entry, nil
}

func (m *MemoryBackend) Set(_ context.Context, entry Entry, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[entry.CreditID] = memoryItem{entry: entry, expiresAt: m.now().Add(ttl)}
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, creditID id.CreditID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, creditID)
	return nil
}
