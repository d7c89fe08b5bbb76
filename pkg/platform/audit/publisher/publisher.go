// Package publisher provides the general-purpose audit publisher. In sync
// mode Emit writes through to the store; with WithAsyncBuffer events are
// queued and persisted by a background goroutine, dropping on overflow.
package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	id "hycredit/pkg/domain"
	audit "hycredit/pkg/platform/audit"
)

var errBufferFull = errors.New("audit buffer full")

type Publisher struct {
	store  audit.Store
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan audit.Event
	wg     sync.WaitGroup
}

type Option func(*Publisher)

// WithAsyncBuffer enables asynchronous persistence with a bounded queue.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		if size > 0 {
			p.queue = make(chan audit.Event, size)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	if p.queue != nil {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}
	if p.queue == nil {
		return p.store.Append(ctx, event)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return p.store.Append(ctx, event)
	}
	select {
	case p.queue <- event:
		return nil
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.logger != nil {
		p.logger.WarnContext(ctx, "audit event dropped", "action", event.Action, "request_id", event.RequestID)
	}
	return errBufferFull
}

func (p *Publisher) List(ctx context.Context, actorID id.ActorID) ([]audit.Event, error) {
	return p.store.ListByActor(ctx, actorID)
}

// Close stops accepting queued events and drains the buffer.
func (p *Publisher) Close() error {
	if p.queue == nil {
		return nil
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	p.wg.Wait()
	return nil
}

func (p *Publisher) run() {
	defer p.wg.Done()
	for event := range p.queue {
		if err := p.store.Append(context.Background(), event); err != nil && p.logger != nil {
			p.logger.Error("audit persist failed", "action", event.Action, "error", err)
		}
	}
}
