package models

import (
	"time"

	"github.com/shopspring/decimal"

	ledgermodels "hycredit/internal/ledger/models"
	id "hycredit/pkg/domain"
	dErrors "hycredit/pkg/domain-errors"
)

// OperationKind names a ledger-mutating call.
type OperationKind string

const (
	OpIssue    OperationKind = "issue"
	OpTransfer OperationKind = "transfer"
	OpRetire   OperationKind = "retire"
)

func (k OperationKind) IsValid() bool {
	switch k {
	case OpIssue, OpTransfer, OpRetire:
		return true
	}
	return false
}

// Operation is one approved request translated into a ledger call.
type Operation struct {
	RequestID    id.RequestID    `json:"request_id"`
	Kind         OperationKind   `json:"kind"`
	CreditID     id.CreditID     `json:"credit_id"`
	Requester    id.ActorID      `json:"requester"`
	Counterparty id.ActorID      `json:"counterparty,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
}

// Key is the lock key serializing operations on the same credit.
func (o Operation) Key() string {
	return "credit:" + o.CreditID.String()
}

func (o Operation) Validate() error {
	if o.RequestID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "operation request id is required")
	}
	if !o.Kind.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "unknown operation kind")
	}
	if o.CreditID.IsZero() || o.Requester.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "credit id and requester are required")
	}
	if o.Kind == OpTransfer && o.Counterparty.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "transfer requires a counterparty")
	}
	if o.Kind == OpIssue && !o.Amount.IsPositive() {
		return dErrors.New(dErrors.CodeValidation, "issue requires a positive amount")
	}
	return nil
}

// OutcomeStatus classifies how a commit ended.
type OutcomeStatus string

const (
	// OutcomeSucceeded means the ledger confirmed the operation.
	OutcomeSucceeded OutcomeStatus = "succeeded"
	// OutcomeRejected means the ledger or the path to it refused the
	// operation. Never retried.
	OutcomeRejected OutcomeStatus = "rejected"
	// OutcomeIndeterminate means no confirmation arrived before the deadline.
	// The write may still land.
	OutcomeIndeterminate OutcomeStatus = "indeterminate"
)

// Outcome is what a Pending resolves to.
type Outcome struct {
	Status   OutcomeStatus              `json:"status"`
	TxRef    id.TxRef                   `json:"tx_ref,omitempty"`
	Record   *ledgermodels.CreditRecord `json:"record,omitempty"`
	Code     dErrors.Code               `json:"code,omitempty"`
	Reason   string                     `json:"reason,omitempty"`
	Attempts int                        `json:"attempts"`
	Duration time.Duration              `json:"duration"`
}

// ReceiptStatus is the chain's view of a submitted transaction.
type ReceiptStatus string

const (
	ReceiptPending   ReceiptStatus = "pending"
	ReceiptConfirmed ReceiptStatus = "confirmed"
	ReceiptReverted  ReceiptStatus = "reverted"
)

// Receipt reports the state of a submitted transaction. Code and Reason are
// set when reverted; Record when confirmed.
type Receipt struct {
	TxRef  id.TxRef
	Status ReceiptStatus
	Record *ledgermodels.CreditRecord
	Code   dErrors.Code
	Reason string
	Block  uint64
}
