// Package compliance writes the regulatory audit trail: auditor decisions,
// request outcomes and ledger commitments.
//
// Writes are synchronous. Emit returns only after the store has accepted the
// event, and a failed write is reported to the caller instead of being
// buffered or dropped.
package compliance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	audit "hycredit/pkg/platform/audit"
)

var (
	errMissingActor       = errors.New("compliance event requires an actor")
	errMissingAction      = errors.New("compliance event requires an action")
	errMissingCorrelation = errors.New("compliance event requires a request or credit id")
)

// Publisher emits compliance events with fail-closed semantics.
type Publisher struct {
	store   audit.Store
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		p.now = now
	}
}

func New(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit validates and persists event under CategoryCompliance. Every event
// must name who acted and what it concerns.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	switch {
	case event.ActorID.IsZero():
		return errMissingActor
	case event.Action == "":
		return errMissingAction
	case event.RequestID == "" && event.CreditID == "":
		return errMissingCorrelation
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now()
	}
	event.Category = audit.CategoryCompliance

	start := time.Now()
	if err := p.store.Append(ctx, event); err != nil {
		p.metrics.IncPersistFailures(event.Action)
		if p.logger != nil {
			p.logger.ErrorContext(ctx, "compliance audit write failed",
				"action", event.Action,
				"actor_id", event.ActorID,
				"request_id", event.RequestID,
				"credit_id", event.CreditID,
				"error", err,
			)
		}
		return fmt.Errorf("persist compliance event %s: %w", event.Action, err)
	}

	p.metrics.ObservePersistDuration(time.Since(start).Seconds())
	p.metrics.IncEventsEmitted(event.Action)
	return nil
}

// Close is a no-op; nothing is buffered.
func (p *Publisher) Close() error {
	return nil
}
