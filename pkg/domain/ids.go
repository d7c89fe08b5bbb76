package domain

import (
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	dErrors "hycredit/pkg/domain-errors"
)

// Typed identifiers keep credit ids, actor ids and request ids from being
// swapped at call sites.
type (
	// CreditID is the globally unique ledger identifier of a credit. It is
	// chosen by the issuing request, e.g. "CR-2026-0001".
	CreditID string
	// ActorID identifies a plant, industry or auditor as asserted by the
	// authentication layer.
	ActorID string
	// RequestID identifies a workflow request.
	RequestID uuid.UUID
	// TxRef references a ledger transaction.
	TxRef string
)

const (
	maxCreditIDLength = 64
	maxActorIDLength  = 128
)

func (c CreditID) String() string { return string(c) }
func (c CreditID) IsZero() bool   { return c == "" }

func (a ActorID) String() string { return string(a) }
func (a ActorID) IsZero() bool   { return a == "" }

func (t TxRef) String() string { return string(t) }
func (t TxRef) IsZero() bool   { return t == "" }

func (r RequestID) String() string { return uuid.UUID(r).String() }
func (r RequestID) IsNil() bool    { return uuid.UUID(r) == uuid.Nil }

func (r RequestID) MarshalText() ([]byte, error) {
	return uuid.UUID(r).MarshalText()
}

func (r *RequestID) UnmarshalText(data []byte) error {
	var u uuid.UUID
	if err := u.UnmarshalText(data); err != nil {
		return err
	}
	*r = RequestID(u)
	return nil
}

// NewRequestID returns a fresh random request id.
func NewRequestID() RequestID {
	return RequestID(uuid.New())
}

// NewTxRef returns a fresh transaction reference.
func NewTxRef() TxRef {
	return TxRef("tx-" + uuid.NewString())
}

// ParseRequestID parses a non-nil UUID.
func ParseRequestID(s string) (RequestID, error) {
	if strings.TrimSpace(s) == "" {
		return RequestID{}, dErrors.New(dErrors.CodeInvalidInput, "request id is required")
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return RequestID{}, dErrors.New(dErrors.CodeInvalidInput, "invalid request id")
	}
	if parsed == uuid.Nil {
		return RequestID{}, dErrors.New(dErrors.CodeInvalidInput, "request id cannot be nil")
	}
	return RequestID(parsed), nil
}

// ParseCreditID accepts 1-64 characters from [A-Za-z0-9._:-].
func ParseCreditID(s string) (CreditID, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "credit id is required")
	}
	if len(s) > maxCreditIDLength {
		return "", dErrors.New(dErrors.CodeInvalidInput, "credit id is too long")
	}
	for _, r := range s {
		if !isCreditIDRune(r) {
			return "", dErrors.New(dErrors.CodeInvalidInput, "credit id contains invalid characters")
		}
	}
	return CreditID(s), nil
}

// ParseActorID accepts printable, whitespace-free UTF-8 up to 128 bytes.
func ParseActorID(s string) (ActorID, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "actor id is required")
	}
	if len(s) > maxActorIDLength || !utf8.ValidString(s) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid actor id")
	}
	for _, r := range s {
		if r <= ' ' || r == 0x7f || r == '\u200b' {
			return "", dErrors.New(dErrors.CodeInvalidInput, "invalid actor id")
		}
	}
	return ActorID(s), nil
}

func isCreditIDRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '-', r == '_', r == '.', r == ':':
		return true
	}
	return false
}
