package memory

import (
	"context"
	"sort"
	"sync"

	id "hycredit/pkg/domain"
	audit "hycredit/pkg/platform/audit"
)

type InMemoryStore struct {
	mu     sync.RWMutex
	events map[id.ActorID][]audit.Event
	seq    []audit.Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{events: make(map[id.ActorID][]audit.Event)}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make(map[id.ActorID][]audit.Event)
	s.seq = nil
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.ActorID] = append(s.events[event.ActorID], event)
	s.seq = append(s.seq, event)
	return nil
}

func (s *InMemoryStore) ListByActor(_ context.Context, actorID id.ActorID) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Event{}, s.events[actorID]...), nil
}

// ListByRequest returns every event correlated with a workflow request, in append order.
func (s *InMemoryStore) ListByRequest(_ context.Context, requestID string) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Event
	for _, e := range s.seq {
		if e.RequestID == requestID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ListRecent returns the most recent N events across all actors, newest first.
func (s *InMemoryStore) ListRecent(_ context.Context, limit int) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := append([]audit.Event{}, s.seq...)
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp.After(all[j].Timestamp)
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}
