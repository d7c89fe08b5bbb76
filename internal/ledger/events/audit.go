package events

import (
	"context"

	"hycredit/internal/ledger/models"
	audit "hycredit/pkg/platform/audit"
)

// AuditEmitter is the audit sink ledger commitments are written to.
type AuditEmitter interface {
	Emit(ctx context.Context, event audit.Event) error
}

// AuditTrail records every committed ledger mutation as a compliance event.
type AuditTrail struct {
	emitter AuditEmitter
}

func NewAuditTrail(emitter AuditEmitter) *AuditTrail {
	return &AuditTrail{emitter: emitter}
}

func (a *AuditTrail) Publish(ctx context.Context, event *models.Event) error {
	e := audit.Event{
		Timestamp: event.RecordedAt,
		RequestID: event.RequestRef,
		CreditID:  event.CreditID.String(),
		Reason:    event.TxRef.String(),
	}
	switch event.Kind {
	case models.EventIssued:
		e.Action = string(audit.EventCreditIssued)
		e.ActorID = event.To
	case models.EventTransferred:
		e.Action = string(audit.EventCreditTransferred)
		e.ActorID = event.From
		e.Subject = event.To.String()
	case models.EventRetired:
		e.Action = string(audit.EventCreditRetired)
		e.ActorID = event.From
	default:
		return nil
	}
	e.Category = audit.AuditEvent(e.Action).Category()
	return a.emitter.Emit(ctx, e)
}
