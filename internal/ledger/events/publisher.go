// Package events streams committed ledger events to downstream consumers.
package events

import (
	"context"
	"errors"
	"sync"

	"hycredit/internal/ledger/models"
)

// Publisher receives every committed ledger event exactly once per commit.
type Publisher interface {
	Publish(ctx context.Context, event *models.Event) error
}

// Fanout delivers to each publisher in order and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, event *models.Event) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps published events in memory; used in tests and local runs.
type Recorder struct {
	mu     sync.Mutex
	events []models.Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Publish(_ context.Context, event *models.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *event)
	return nil
}

func (r *Recorder) Events() []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Event{}, r.events...)
}
