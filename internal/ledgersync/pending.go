package ledgersync

import (
	"context"
	"sync"

	"hycredit/internal/ledgersync/models"
	id "hycredit/pkg/domain"
)

// Pending is the handle of a commit in progress. It resolves exactly once.
type Pending struct {
	requestID id.RequestID
	once      sync.Once
	done      chan struct{}
	outcome   models.Outcome
}

func newPending(requestID id.RequestID) *Pending {
	return &Pending{requestID: requestID, done: make(chan struct{})}
}

func (p *Pending) resolve(out models.Outcome) {
	p.once.Do(func() {
		p.outcome = out
		close(p.done)
	})
}

func (p *Pending) RequestID() id.RequestID { return p.requestID }

// Done is closed once the outcome is known.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the outcome is known or ctx ends. A ctx error does not
// affect the commit itself.
func (p *Pending) Wait(ctx context.Context) (models.Outcome, error) {
	select {
	case <-p.done:
		return p.outcome, nil
	case <-ctx.Done():
		return models.Outcome{}, ctx.Err()
	}
}

// Outcome returns the outcome without blocking; ok is false while pending.
func (p *Pending) Outcome() (out models.Outcome, ok bool) {
	select {
	case <-p.done:
		return p.outcome, true
	default:
		return models.Outcome{}, false
	}
}
