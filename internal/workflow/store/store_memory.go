package store

import (
	"context"
	"sort"
	"sync"

	"hycredit/internal/workflow/models"
	id "hycredit/pkg/domain"
	"hycredit/pkg/platform/sentinel"
)

// InMemoryStore keeps requests in process. Execute holds the write lock across
// validate and mutate, which makes every transition a compare-and-set.
type InMemoryStore struct {
	mu       sync.RWMutex
	requests map[id.RequestID]*models.Request
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{requests: make(map[id.RequestID]*models.Request)}
}

func (s *InMemoryStore) Create(_ context.Context, req *models.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requests[req.ID]; exists {
		return sentinel.ErrAlreadyUsed
	}
	cp := req.Clone()
	cp.Version = 1
	req.Version = 1
	s.requests[req.ID] = cp
	return nil
}

func (s *InMemoryStore) Execute(
	_ context.Context,
	requestID id.RequestID,
	validate func(*models.Request) error,
	mutate func(*models.Request),
) (*models.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.requests[requestID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	working := current.Clone()
	if err := validate(working); err != nil {
		return nil, err
	}
	mutate(working)
	working.Version = current.Version + 1
	s.requests[requestID] = working
	return working.Clone(), nil
}

func (s *InMemoryStore) FindByID(_ context.Context, requestID id.RequestID) (*models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[requestID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return req.Clone(), nil
}

func (s *InMemoryStore) ListByRequester(_ context.Context, requester id.ActorID, filter models.ListFilter) ([]*models.Request, error) {
	return s.list(func(r *models.Request) bool { return r.Requester == requester }, filter), nil
}

func (s *InMemoryStore) ListByAuditor(_ context.Context, auditorID id.ActorID, filter models.ListFilter) ([]*models.Request, error) {
	return s.list(func(r *models.Request) bool { return r.AuditorID == auditorID }, filter), nil
}

// HasBurnedIdentifier reports whether an Issue request for creditID ended in
// rejected or failed.
func (s *InMemoryStore) HasBurnedIdentifier(_ context.Context, creditID id.CreditID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.requests {
		if r.Kind == models.KindIssue && r.CreditID == creditID &&
			(r.Status == models.StatusRejected || r.Status == models.StatusFailed) {
			return true, nil
		}
	}
	return false, nil
}

// ListByStatus returns every request in status, oldest first.
func (s *InMemoryStore) ListByStatus(_ context.Context, status models.Status) ([]*models.Request, error) {
	return s.list(func(*models.Request) bool { return true }, models.ListFilter{Status: status}), nil
}

func (s *InMemoryStore) list(keep func(*models.Request) bool, filter models.ListFilter) []*models.Request {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Request, 0)
	for _, r := range s.requests {
		if !keep(r) || !matches(r, filter) {
			continue
		}
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func matches(r *models.Request, f models.ListFilter) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.Kind != "" && r.Kind != f.Kind {
		return false
	}
	return true
}
