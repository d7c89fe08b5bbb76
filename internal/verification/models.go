package verification

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"hycredit/internal/measurement"
	id "hycredit/pkg/domain"
)

// Verdict is the oracle's classification of a claim.
type Verdict string

const (
	VerdictVerified   Verdict = "verified"
	VerdictUnverified Verdict = "unverified"
	VerdictAnomalous  Verdict = "anomalous"
)

// Claim is what a request asserts about metered hydrogen.
type Claim struct {
	Kind           measurement.Kind
	ActorID        id.ActorID
	Amount         decimal.Decimal
	Window         measurement.Window
	MeasurementRef string
}

// Policy tunes evaluation. Tolerance is a relative fraction: 0.05 admits
// claims up to 105% of the measured amount.
type Policy struct {
	Tolerance decimal.Decimal
}

func DefaultPolicy() Policy {
	return Policy{Tolerance: decimal.RequireFromString("0.05")}
}

// Result is produced once per request and never changes.
type Result struct {
	ID             uuid.UUID       `json:"id"`
	RequestID      id.RequestID    `json:"request_id"`
	Verdict        Verdict         `json:"verdict"`
	MeasuredAmount decimal.Decimal `json:"measured_amount"`
	ClaimedAmount  decimal.Decimal `json:"claimed_amount"`
	Tolerance      decimal.Decimal `json:"tolerance"`
	MeasurementRef string          `json:"measurement_ref,omitempty"`
	Rationale      string          `json:"rationale"`
	EvaluatedAt    time.Time       `json:"evaluated_at"`
}
