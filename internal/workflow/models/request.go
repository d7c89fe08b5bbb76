package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"hycredit/internal/measurement"
	"hycredit/internal/verification"
	id "hycredit/pkg/domain"
	dErrors "hycredit/pkg/domain-errors"
)

// Kind is the request variant.
type Kind string

const (
	KindIssue    Kind = "issue"
	KindTransfer Kind = "transfer"
	KindRetire   Kind = "retire"
)

func (k Kind) IsValid() bool {
	return k == KindIssue || k == KindTransfer || k == KindRetire
}

func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.ToLower(s))
	return k, k.IsValid()
}

// MeasurementKind is the metering channel a claim of this kind is checked
// against.
func (k Kind) MeasurementKind() measurement.Kind {
	switch k {
	case KindTransfer:
		return measurement.KindDelivery
	case KindRetire:
		return measurement.KindConsumption
	default:
		return measurement.KindProduction
	}
}

// Permits reports whether role may submit requests of this kind.
func (k Kind) Permits(role id.Role) bool {
	if k == KindIssue {
		return role.CanIssue()
	}
	return role.CanHold()
}

// Transition is one recorded state change.
type Transition struct {
	From  Status     `json:"from"`
	To    Status     `json:"to"`
	At    time.Time  `json:"at"`
	Actor id.ActorID `json:"actor,omitempty"`
	Note  string     `json:"note,omitempty"`
}

// Decision is the assigned auditor's verdict.
type Decision struct {
	ActorID   id.ActorID `json:"actor_id"`
	Approve   bool       `json:"approve"`
	Rationale string     `json:"rationale"`
	DecidedAt time.Time  `json:"decided_at"`
}

// Reconciliation outcomes recorded on failed, unconfirmed requests.
const (
	ReconciledApplied = "reconciled_applied"
	ReconciledAbsent  = "reconciled_absent"
)

// Request is the aggregate root of one issuance, transfer or retirement.
//
// Invariants:
//   - Status only moves along CanTransitionTo; terminal states never change
//   - Transitions has one entry per status change, in order
//   - Decision is set exactly when the auditor decided
//   - TxRef is set only on finalized requests and on failures that reached the chain
//   - CompetingClaims counts other open Issue requests for the same identifier at submission
type Request struct {
	ID                  id.RequestID         `json:"id"`
	Kind                Kind                 `json:"kind"`
	Requester           id.ActorID           `json:"requester"`
	RequesterRole       id.Role              `json:"requester_role"`
	CreditID            id.CreditID          `json:"credit_id"`
	Counterparty        id.ActorID           `json:"counterparty,omitempty"`
	Amount              decimal.Decimal      `json:"amount"`
	Window              measurement.Window   `json:"window"`
	MeasurementRef      string               `json:"measurement_ref,omitempty"`
	Status              Status               `json:"status"`
	Verification        *verification.Result `json:"verification,omitempty"`
	Anomaly             bool                 `json:"anomaly"`
	CompetingClaims     int                  `json:"competing_claims,omitempty"`
	AuditorID           id.ActorID           `json:"auditor_id"`
	Decision            *Decision            `json:"decision,omitempty"`
	TxRef               id.TxRef             `json:"tx_ref,omitempty"`
	FailureCode         dErrors.Code         `json:"failure_code,omitempty"`
	FailureReason       string               `json:"failure_reason,omitempty"`
	NeedsReconciliation bool                 `json:"needs_reconciliation"`
	Reconciliation      string               `json:"reconciliation,omitempty"`
	ReconciledAt        *time.Time           `json:"reconciled_at,omitempty"`
	Transitions         []Transition         `json:"transitions"`
	CreatedAt           time.Time            `json:"created_at"`
	UpdatedAt           time.Time            `json:"updated_at"`
	Version             int64                `json:"version"`
}

// NewRequestParams groups constructor inputs.
type NewRequestParams struct {
	ID             id.RequestID
	Kind           Kind
	Requester      id.Actor
	CreditID       id.CreditID
	Counterparty   id.ActorID
	Amount         decimal.Decimal
	Window         measurement.Window
	MeasurementRef string
	AuditorID      id.ActorID
	Now            time.Time
}

// NewRequest validates construction invariants and returns a request in
// StatusCreated.
func NewRequest(p NewRequestParams) (*Request, error) {
	if p.ID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "request id is required")
	}
	if !p.Kind.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "unknown request kind")
	}
	if p.Requester.ID.IsZero() || !p.Requester.Role.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "requester id and role are required")
	}
	if p.CreditID.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "credit id is required")
	}
	if !p.Amount.IsPositive() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "amount must be positive")
	}
	if p.Kind == KindTransfer {
		if p.Counterparty.IsZero() {
			return nil, dErrors.New(dErrors.CodeInvariantViolation, "transfer requires a counterparty")
		}
		if p.Counterparty == p.Requester.ID {
			return nil, dErrors.New(dErrors.CodeInvariantViolation, "counterparty must differ from requester")
		}
	}
	if p.AuditorID.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "an assigned auditor is required")
	}
	return &Request{
		ID:             p.ID,
		Kind:           p.Kind,
		Requester:      p.Requester.ID,
		RequesterRole:  p.Requester.Role,
		CreditID:       p.CreditID,
		Counterparty:   p.Counterparty,
		Amount:         p.Amount,
		Window:         p.Window,
		MeasurementRef: p.MeasurementRef,
		Status:         StatusCreated,
		AuditorID:      p.AuditorID,
		Transitions:    []Transition{},
		CreatedAt:      p.Now,
		UpdatedAt:      p.Now,
	}, nil
}

// NewCreditID generates an identifier for Issue requests that did not name one.
func NewCreditID() id.CreditID {
	return id.CreditID("HC-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:16]))
}

// CanTransition checks the state machine without mutating.
func (r *Request) CanTransition(to Status) error {
	if !r.Status.CanTransitionTo(to) {
		return dErrors.New(dErrors.CodeInvalidState, "request is "+string(r.Status)+", cannot move to "+string(to))
	}
	return nil
}

// applyTransition records the move. Call CanTransition first.
func (r *Request) applyTransition(to Status, actor id.ActorID, note string, now time.Time) {
	r.Transitions = append(r.Transitions, Transition{From: r.Status, To: to, At: now, Actor: actor, Note: note})
	r.Status = to
	r.UpdatedAt = now
}

// ApplyAutoVerifying marks the start of automatic verification.
func (r *Request) ApplyAutoVerifying(now time.Time) {
	r.applyTransition(StatusAutoVerifying, "", "", now)
}

// AnomalyPolicy decides what happens to anomalous claims.
type AnomalyPolicy string

const (
	AnomalyEscalate AnomalyPolicy = "escalate"
	AnomalyReject   AnomalyPolicy = "reject"
)

func (p AnomalyPolicy) IsValid() bool {
	return p == AnomalyEscalate || p == AnomalyReject
}

// VerificationTarget returns where a verdict sends the request.
func VerificationTarget(verdict verification.Verdict, policy AnomalyPolicy) Status {
	switch verdict {
	case verification.VerdictVerified:
		return StatusPendingReview
	case verification.VerdictAnomalous:
		if policy == AnomalyReject {
			return StatusRejected
		}
		return StatusPendingReview
	default:
		return StatusRejected
	}
}

// ApplyVerification stores the result and moves to the status chosen by
// VerificationTarget.
func (r *Request) ApplyVerification(res *verification.Result, policy AnomalyPolicy, now time.Time) {
	r.Verification = res
	r.Anomaly = res.Verdict == verification.VerdictAnomalous
	to := VerificationTarget(res.Verdict, policy)
	note := string(res.Verdict)
	if to == StatusRejected {
		r.FailureReason = "failed automatic verification: " + res.Rationale
	}
	r.applyTransition(to, "", note, now)
}

// ApplyVerificationUnavailable rejects a request whose measurements could not
// be read.
func (r *Request) ApplyVerificationUnavailable(reason string, now time.Time) {
	r.FailureCode = dErrors.CodeUnavailable
	r.FailureReason = "verification unavailable: " + reason
	r.applyTransition(StatusRejected, "", string(dErrors.CodeUnavailable), now)
}

// CanDecide checks auditor authorization first, then state. A wrong auditor
// never learns more than Unauthorized.
func (r *Request) CanDecide(auditor id.Actor) error {
	if !auditor.Role.CanDecide() || auditor.ID != r.AuditorID {
		return dErrors.New(dErrors.CodeUnauthorized, "only the assigned auditor may decide this request")
	}
	if r.Status != StatusPendingReview {
		return dErrors.New(dErrors.CodeInvalidState, "request is not awaiting review")
	}
	return nil
}

// ApplyDecision records the decision. Approval moves through approved into
// committing in one step; rejection is terminal.
func (r *Request) ApplyDecision(d Decision) {
	r.Decision = &d
	if !d.Approve {
		r.FailureReason = "rejected by auditor"
		r.applyTransition(StatusRejected, d.ActorID, d.Rationale, d.DecidedAt)
		return
	}
	r.applyTransition(StatusApproved, d.ActorID, d.Rationale, d.DecidedAt)
	r.applyTransition(StatusCommitting, "", "", d.DecidedAt)
}

// ApplyFinalized records a confirmed ledger write.
func (r *Request) ApplyFinalized(txRef id.TxRef, now time.Time) {
	r.TxRef = txRef
	r.applyTransition(StatusFinalized, "", string(txRef), now)
}

// ApplyFailed records a ledger failure. Unconfirmed failures are flagged for
// reconciliation because the write may still have landed.
func (r *Request) ApplyFailed(code dErrors.Code, reason string, txRef id.TxRef, now time.Time) {
	r.FailureCode = code
	r.FailureReason = reason
	r.TxRef = txRef
	r.NeedsReconciliation = code == dErrors.CodeUnconfirmed
	r.applyTransition(StatusFailed, "", string(code), now)
}

// CanReconcile checks that the request is a flagged, unreconciled failure.
func (r *Request) CanReconcile() error {
	if r.Status != StatusFailed || !r.NeedsReconciliation {
		return dErrors.New(dErrors.CodeInvalidState, "request is not awaiting reconciliation")
	}
	if r.Reconciliation != "" {
		return dErrors.New(dErrors.CodeInvalidState, "request is already reconciled")
	}
	return nil
}

// ApplyReconciliation records what the ledger shows. Status is unchanged.
func (r *Request) ApplyReconciliation(note string, now time.Time) {
	r.Reconciliation = note
	r.ReconciledAt = &now
	r.UpdatedAt = now
}

// VisibleTo reports whether actor may read the request.
func (r *Request) VisibleTo(actor id.Actor) bool {
	if actor.Role == id.RoleAuditor {
		return r.AuditorID == actor.ID
	}
	return r.Requester == actor.ID
}

// Clone returns a deep copy.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	out := *r
	out.Transitions = make([]Transition, len(r.Transitions))
	copy(out.Transitions, r.Transitions)
	if r.Verification != nil {
		v := *r.Verification
		out.Verification = &v
	}
	if r.Decision != nil {
		d := *r.Decision
		out.Decision = &d
	}
	if r.ReconciledAt != nil {
		t := *r.ReconciledAt
		out.ReconciledAt = &t
	}
	return &out
}

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	Status Status
	Kind   Kind
}
