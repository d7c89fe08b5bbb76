package store

import (
	"context"
	"sort"
	"sync"

	"hycredit/internal/ledger/models"
	id "hycredit/pkg/domain"
	"hycredit/pkg/platform/sentinel"
)

// InMemoryStore keeps the ledger in process. A single mutex covers records and
// the event log so that validate, mutate and append are one indivisible step.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[id.CreditID]*models.CreditRecord
	events  []*models.Event
	seq     int64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[id.CreditID]*models.CreditRecord)}
}

// Create inserts a new record and its issuance event, or returns
// sentinel.ErrAlreadyUsed when the identifier exists.
func (s *InMemoryStore) Create(_ context.Context, record *models.CreditRecord, event *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[record.ID]; exists {
		return sentinel.ErrAlreadyUsed
	}
	s.records[record.ID] = record.Clone()
	s.appendLocked(event)
	return nil
}

// Execute runs validate and mutate under the store lock. validate may reject
// with any error; mutate must not fail and returns the event to append.
func (s *InMemoryStore) Execute(
	_ context.Context,
	creditID id.CreditID,
	validate func(*models.CreditRecord) error,
	mutate func(*models.CreditRecord) *models.Event,
) (*models.CreditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.records[creditID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	working := current.Clone()
	if err := validate(working); err != nil {
		return nil, err
	}
	event := mutate(working)
	s.records[creditID] = working
	s.appendLocked(event)
	return working.Clone(), nil
}

func (s *InMemoryStore) FindByID(_ context.Context, creditID id.CreditID) (*models.CreditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[creditID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return rec.Clone(), nil
}

// ListAll returns records ordered by issue time, then id.
func (s *InMemoryStore) ListAll(_ context.Context) ([]*models.CreditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.CreditRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IssuedAt.Equal(out[j].IssuedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].IssuedAt.Before(out[j].IssuedAt)
	})
	return out, nil
}

func (s *InMemoryStore) ListEvents(_ context.Context, creditID id.CreditID) ([]*models.Event, error) {
	return s.filterEvents(func(e *models.Event) bool { return e.CreditID == creditID }), nil
}

func (s *InMemoryStore) ListEventsByRequest(_ context.Context, requestRef string) ([]*models.Event, error) {
	return s.filterEvents(func(e *models.Event) bool { return e.RequestRef == requestRef }), nil
}

func (s *InMemoryStore) filterEvents(keep func(*models.Event) bool) []*models.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Event
	for _, e := range s.events {
		if keep(e) {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out
}

func (s *InMemoryStore) appendLocked(event *models.Event) {
	if event == nil {
		return
	}
	s.seq++
	event.Sequence = s.seq
	cp := *event
	s.events = append(s.events, &cp)
}
