package audit

import (
	"context"
	"time"

	id "hycredit/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers events with regulatory significance: auditor
	// decisions and ledger commitments. Long retention, fail-closed writes.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers authorization failures and other signals for
	// security monitoring.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine workflow activity; may be sampled.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	// ActorID is the principal the event is filed under (requester, auditor).
	ActorID   id.ActorID
	Action    string
	RequestID string
	CreditID  string
	Decision  string
	Reason    string
	// Subject is a free-form secondary principal, e.g. the transfer counterparty.
	Subject string
}

type AuditEvent string

const (
	// Workflow events
	EventRequestSubmitted AuditEvent = "request_submitted"
	EventRequestVerified  AuditEvent = "request_verified"
	EventRequestRejected  AuditEvent = "request_rejected"
	EventRequestApproved  AuditEvent = "request_approved"
	EventRequestFinalized AuditEvent = "request_finalized"
	EventRequestFailed    AuditEvent = "request_failed"
	EventReconciled       AuditEvent = "request_reconciled"

	// Authorization events
	EventDecisionDenied   AuditEvent = "decision_denied"
	EventSubmissionDenied AuditEvent = "submission_denied"

	// Ledger events
	EventCreditIssued      AuditEvent = "credit_issued"
	EventCreditTransferred AuditEvent = "credit_transferred"
	EventCreditRetired     AuditEvent = "credit_retired"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventRequestApproved:   CategoryCompliance,
	EventRequestRejected:   CategoryCompliance,
	EventRequestFinalized:  CategoryCompliance,
	EventRequestFailed:     CategoryCompliance,
	EventReconciled:        CategoryCompliance,
	EventCreditIssued:      CategoryCompliance,
	EventCreditTransferred: CategoryCompliance,
	EventCreditRetired:     CategoryCompliance,

	EventDecisionDenied:   CategorySecurity,
	EventSubmissionDenied: CategorySecurity,

	EventRequestSubmitted: CategoryOperations,
	EventRequestVerified:  CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events. Implementations must be append-only.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByActor(ctx context.Context, actorID id.ActorID) ([]Event, error)
}
