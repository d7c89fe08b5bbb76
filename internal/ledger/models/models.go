package models

import (
	"time"

	"github.com/shopspring/decimal"

	id "hycredit/pkg/domain"
	dErrors "hycredit/pkg/domain-errors"
)

// CreditRecord is the ledger's record of one credit.
//
// Invariants:
//   - ID is unique across the ledger and immutable
//   - Amount is strictly positive and immutable
//   - Holder is the actor that last received the credit by issuance or transfer
//   - Retired is monotonic: once true it never reverts
type CreditRecord struct {
	ID        id.CreditID     `json:"id"`
	Issuer    id.ActorID      `json:"issuer"`
	Holder    id.ActorID      `json:"holder"`
	Amount    decimal.Decimal `json:"amount"`
	IssuedAt  time.Time       `json:"issued_at"`
	Retired   bool            `json:"retired"`
	RetiredAt *time.Time      `json:"retired_at,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
	LastTxRef id.TxRef        `json:"last_tx_ref"`
}

// NewCreditRecord validates construction invariants.
func NewCreditRecord(creditID id.CreditID, issuer, holder id.ActorID, amount decimal.Decimal, txRef id.TxRef, now time.Time) (*CreditRecord, error) {
	if creditID.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "credit id cannot be empty")
	}
	if issuer.IsZero() || holder.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "issuer and holder are required")
	}
	if !amount.IsPositive() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "credit amount must be positive")
	}
	return &CreditRecord{
		ID:        creditID,
		Issuer:    issuer,
		Holder:    holder,
		Amount:    amount,
		IssuedAt:  now,
		UpdatedAt: now,
		LastTxRef: txRef,
	}, nil
}

// CanTransfer checks holder authorization, then retirement. The order matches
// the ledger contract: NotFound, Unauthorized, AlreadyRetired.
func (c *CreditRecord) CanTransfer(requester, newHolder id.ActorID) error {
	if requester != c.Holder {
		return dErrors.New(dErrors.CodeUnauthorized, "requester is not the current holder")
	}
	if c.Retired {
		return dErrors.New(dErrors.CodeAlreadyRetired, "credit is retired")
	}
	if newHolder.IsZero() {
		return dErrors.New(dErrors.CodeInvariantViolation, "new holder is required")
	}
	if newHolder == c.Holder {
		return dErrors.New(dErrors.CodeInvariantViolation, "new holder must differ from current holder")
	}
	return nil
}

// ApplyTransfer moves the credit to newHolder. Call CanTransfer first.
func (c *CreditRecord) ApplyTransfer(newHolder id.ActorID, txRef id.TxRef, now time.Time) {
	c.Holder = newHolder
	c.LastTxRef = txRef
	c.UpdatedAt = now
}

func (c *CreditRecord) CanRetire(requester id.ActorID) error {
	if requester != c.Holder {
		return dErrors.New(dErrors.CodeUnauthorized, "requester is not the current holder")
	}
	if c.Retired {
		return dErrors.New(dErrors.CodeAlreadyRetired, "credit is already retired")
	}
	return nil
}

// ApplyRetirement marks the credit retired. Call CanRetire first.
func (c *CreditRecord) ApplyRetirement(txRef id.TxRef, now time.Time) {
	c.Retired = true
	retiredAt := now
	c.RetiredAt = &retiredAt
	c.LastTxRef = txRef
	c.UpdatedAt = now
}

// Clone returns a deep copy safe to hand out of a store.
func (c *CreditRecord) Clone() *CreditRecord {
	if c == nil {
		return nil
	}
	out := *c
	if c.RetiredAt != nil {
		t := *c.RetiredAt
		out.RetiredAt = &t
	}
	return &out
}

// EventKind names a ledger mutation.
type EventKind string

const (
	EventIssued      EventKind = "issued"
	EventTransferred EventKind = "transferred"
	EventRetired     EventKind = "retired"
)

// Event is an append-only ledger log entry, one per successful mutation.
type Event struct {
	Sequence   int64           `json:"sequence"`
	TxRef      id.TxRef        `json:"tx_ref"`
	Kind       EventKind       `json:"kind"`
	CreditID   id.CreditID     `json:"credit_id"`
	From       id.ActorID      `json:"from,omitempty"`
	To         id.ActorID      `json:"to,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	RequestRef string          `json:"request_ref,omitempty"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// IssueCommand creates a credit. TxRef is optional; the ledger assigns one
// when empty.
type IssueCommand struct {
	ID         id.CreditID
	Issuer     id.ActorID
	Holder     id.ActorID
	Amount     decimal.Decimal
	RequestRef string
	TxRef      id.TxRef
}

type TransferCommand struct {
	ID         id.CreditID
	Requester  id.ActorID
	NewHolder  id.ActorID
	RequestRef string
	TxRef      id.TxRef
}

type RetireCommand struct {
	ID         id.CreditID
	Requester  id.ActorID
	RequestRef string
	TxRef      id.TxRef
}
