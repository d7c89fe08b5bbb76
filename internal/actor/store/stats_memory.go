package store

import (
	"context"
	"sync"

	"hycredit/internal/actor"
	id "hycredit/pkg/domain"
)

// InMemoryStatsStore applies each request's deltas at most once.
type InMemoryStatsStore struct {
	mu      sync.Mutex
	stats   map[id.ActorID]*actor.Stats
	applied map[id.RequestID]struct{}
}

func NewInMemoryStatsStore() *InMemoryStatsStore {
	return &InMemoryStatsStore{
		stats:   make(map[id.ActorID]*actor.Stats),
		applied: make(map[id.RequestID]struct{}),
	}
}

// Apply records deltas for requestID. A repeated call for the same request
// returns applied=false and changes nothing.
func (s *InMemoryStatsStore) Apply(_ context.Context, requestID id.RequestID, deltas []actor.Delta) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, done := s.applied[requestID]; done {
		return false, nil
	}
	for _, d := range deltas {
		st, ok := s.stats[d.ActorID]
		if !ok {
			st = actor.NewStats(d.ActorID)
			s.stats[d.ActorID] = st
		}
		st.Add(d)
	}
	s.applied[requestID] = struct{}{}
	return true, nil
}

func (s *InMemoryStatsStore) Get(_ context.Context, actorID id.ActorID) (*actor.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[actorID]
	if !ok {
		return actor.NewStats(actorID), nil
	}
	cp := *st
	return &cp, nil
}
