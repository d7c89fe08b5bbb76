package lock

import (
	"context"
	"sync"
)

// Registry records which open Issue requests claim a credit identifier that
// is not on the ledger yet. Reserve is idempotent per request and returns the
// number of claims after adding this one.
type Registry interface {
	Reserve(ctx context.Context, key, member string) (int, error)
	Release(ctx context.Context, key, member string) error
	Count(ctx context.Context, key string) (int, error)
}

// MemoryRegistry is the single-process Registry.
type MemoryRegistry struct {
	mu     sync.Mutex
	claims map[string]map[string]struct{}
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{claims: make(map[string]map[string]struct{})}
}

func (r *MemoryRegistry) Reserve(_ context.Context, key, member string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.claims[key]
	if !ok {
		set = make(map[string]struct{})
		r.claims[key] = set
	}
	set[member] = struct{}{}
	return len(set), nil
}

func (r *MemoryRegistry) Release(_ context.Context, key, member string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.claims[key]
	if !ok {
		return nil
	}
	delete(set, member)
	if len(set) == 0 {
		delete(r.claims, key)
	}
	return nil
}

func (r *MemoryRegistry) Count(_ context.Context, key string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.claims[key]), nil
}
