// Package verification classifies claims against measurement aggregates.
package verification

import (
	"fmt"

	"github.com/shopspring/decimal"

	"hycredit/internal/measurement"
)

// Evaluate is pure: the same claim, snapshot and policy always give the same
// verdict and rationale. ID, RequestID and EvaluatedAt are left for the caller.
func Evaluate(claim Claim, snap measurement.Snapshot, policy Policy) Result {
	res := Result{
		Verdict:        VerdictVerified,
		MeasuredAmount: snap.Amount,
		ClaimedAmount:  claim.Amount,
		Tolerance:      policy.Tolerance,
		MeasurementRef: claim.MeasurementRef,
	}
	if res.MeasurementRef == "" {
		res.MeasurementRef = snap.Ref
	}

	switch {
	case claim.ActorID.IsZero():
		res.Verdict = VerdictUnverified
		res.Rationale = "claim is not linked to a metered actor"
		return res
	case !claim.Window.Valid():
		res.Verdict = VerdictUnverified
		res.Rationale = "claim has no valid measurement window"
		return res
	case !snap.Found:
		res.Verdict = VerdictAnomalous
		res.Rationale = fmt.Sprintf("no %s measurements recorded for the window", claim.Kind)
		return res
	}

	ceiling := snap.Amount.Mul(decimal.NewFromInt(1).Add(policy.Tolerance))
	if claim.Amount.GreaterThan(ceiling) {
		res.Verdict = VerdictAnomalous
		res.Rationale = fmt.Sprintf("claimed %s exceeds measured %s %s beyond tolerance %s",
			claim.Amount, claim.Kind, snap.Amount, policy.Tolerance)
		return res
	}
	res.Rationale = fmt.Sprintf("claimed %s within measured %s %s", claim.Amount, claim.Kind, snap.Amount)
	return res
}
