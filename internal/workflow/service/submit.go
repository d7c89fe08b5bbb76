package service

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"hycredit/internal/ledger/cache"
	"hycredit/internal/measurement"
	"hycredit/internal/verification"
	"hycredit/internal/workflow/models"
	id "hycredit/pkg/domain"
	dErrors "hycredit/pkg/domain-errors"
	"hycredit/pkg/platform/audit"
)

// SubmitInput is a claim as submitted by a plant or industry actor.
type SubmitInput struct {
	Kind models.Kind
	// CreditID is optional for Issue; one is generated when empty.
	CreditID     id.CreditID
	Counterparty id.ActorID
	// Amount may be left zero on Transfer and Retire to take the credit's amount.
	Amount         decimal.Decimal
	Window         measurement.Window
	MeasurementRef string
}

const maxMeasurementRefLen = 256

// Submit validates a claim, creates the request and runs automatic
// verification. The returned request is either pending_review or rejected.
func (s *Service) Submit(ctx context.Context, actor id.Actor, in SubmitInput) (*models.Request, error) {
	req, err := s.prepare(ctx, actor, in)
	if err != nil {
		s.metrics.IncSubmission(string(in.Kind), string(dErrors.GetCode(err)))
		if dErrors.HasCode(err, dErrors.CodeForbidden) {
			s.metrics.IncDenied("submit", string(dErrors.CodeForbidden))
			s.emitAudit(ctx, audit.Event{
				ActorID:  actor.ID,
				Action:   string(audit.EventSubmissionDenied),
				CreditID: in.CreditID.String(),
				Reason:   dErrors.Message(err),
			})
		}
		return nil, err
	}

	if err := s.store.Create(ctx, req); err != nil {
		return nil, translate(err)
	}
	// From here the request must reach pending_review or rejected even if
	// the caller goes away.
	owned := context.WithoutCancel(ctx)
	competing := 0
	if req.Kind == models.KindIssue {
		competing = s.reserve(owned, req)
	}
	s.emitAudit(owned, auditEvent(audit.EventRequestSubmitted, actor.ID, req))
	s.logger.InfoContext(ctx, "request submitted",
		"request_id", req.ID,
		"kind", req.Kind,
		"requester", req.Requester,
		"credit_id", req.CreditID,
		"amount", req.Amount.String(),
	)

	req, err = s.verify(ctx, owned, req, competing)
	if err != nil {
		return nil, err
	}
	s.metrics.IncSubmission(string(req.Kind), string(req.Status))
	return req, nil
}

// prepare runs every check that does not need a persisted request.
func (s *Service) prepare(ctx context.Context, actor id.Actor, in SubmitInput) (*models.Request, error) {
	if actor.ID.IsZero() || !actor.Role.IsValid() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authenticated actor is required")
	}
	if !in.Kind.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "kind must be one of issue, transfer, retire")
	}
	if !in.Kind.Permits(actor.Role) {
		return nil, dErrors.New(dErrors.CodeForbidden, string(actor.Role)+" actors cannot submit "+string(in.Kind)+" requests")
	}
	if in.Amount.IsNegative() {
		return nil, dErrors.New(dErrors.CodeValidation, "amount must be positive")
	}
	if len(in.MeasurementRef) > maxMeasurementRefLen {
		return nil, dErrors.New(dErrors.CodeValidation, "measurement reference is too long")
	}
	in.MeasurementRef = strings.TrimSpace(in.MeasurementRef)

	if in.Kind == models.KindTransfer {
		if in.Counterparty.IsZero() {
			return nil, dErrors.New(dErrors.CodeValidation, "transfer requires a counterparty")
		}
		if in.Counterparty == actor.ID {
			return nil, dErrors.New(dErrors.CodeValidation, "counterparty must differ from requester")
		}
		if err := s.checkCounterparty(ctx, in.Counterparty); err != nil {
			return nil, err
		}
	} else if !in.Counterparty.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "counterparty is only valid on transfer")
	}

	var err error
	switch in.Kind {
	case models.KindIssue:
		in.CreditID, err = s.checkIssue(ctx, in)
	default:
		in.Amount, err = s.checkHolding(ctx, actor.ID, in)
	}
	if err != nil {
		return nil, err
	}

	auditorID, err := s.directory.AssignedAuditor(ctx, actor.ID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return nil, dErrors.New(dErrors.CodeValidation, "requester is not registered")
		}
		return nil, err
	}

	return models.NewRequest(models.NewRequestParams{
		ID:             id.NewRequestID(),
		Kind:           in.Kind,
		Requester:      actor,
		CreditID:       in.CreditID,
		Counterparty:   in.Counterparty,
		Amount:         in.Amount,
		Window:         in.Window,
		MeasurementRef: in.MeasurementRef,
		AuditorID:      auditorID,
		Now:            s.now(),
	})
}

// checkIssue picks or validates the identifier of a new credit. Identifiers
// already on the ledger or burned by an earlier request are refused.
func (s *Service) checkIssue(ctx context.Context, in SubmitInput) (id.CreditID, error) {
	if !in.Amount.IsPositive() {
		return "", dErrors.New(dErrors.CodeValidation, "amount must be positive")
	}
	if in.CreditID.IsZero() {
		return models.NewCreditID(), nil
	}
	creditID, err := id.ParseCreditID(in.CreditID.String())
	if err != nil {
		return "", err
	}
	exists, err := s.ledger.Exists(ctx, creditID)
	if err != nil {
		return "", err
	}
	if exists {
		return "", dErrors.New(dErrors.CodeDuplicateIdentifier, "credit identifier already used")
	}
	burned, err := s.store.HasBurnedIdentifier(ctx, creditID)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to check credit identifier")
	}
	if burned {
		return "", dErrors.New(dErrors.CodeConflict, "credit identifier was used by an earlier request")
	}
	return creditID, nil
}

// checkHolding runs the advisory holder checks for Transfer and Retire and
// returns the amount the claim covers.
func (s *Service) checkHolding(ctx context.Context, requester id.ActorID, in SubmitInput) (decimal.Decimal, error) {
	if in.CreditID.IsZero() {
		return decimal.Zero, dErrors.New(dErrors.CodeValidation, "credit id is required")
	}
	entry, err := s.holders.Lookup(ctx, in.CreditID)
	if err != nil {
		return decimal.Zero, err
	}
	if entry.Holder != requester {
		return decimal.Zero, dErrors.New(dErrors.CodeUnauthorized, "requester does not hold this credit")
	}
	if entry.Retired {
		return decimal.Zero, dErrors.New(dErrors.CodeAlreadyRetired, "credit is retired")
	}
	amount, err := entryAmount(entry)
	if err != nil {
		return decimal.Zero, err
	}
	if in.Amount.IsZero() {
		return amount, nil
	}
	if !in.Amount.Equal(amount) {
		return decimal.Zero, dErrors.New(dErrors.CodeValidation, "amount must equal the credit amount "+amount.String())
	}
	return amount, nil
}

func (s *Service) checkCounterparty(ctx context.Context, counterparty id.ActorID) error {
	profile, err := s.directory.Lookup(ctx, counterparty)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return dErrors.New(dErrors.CodeValidation, "counterparty is not registered")
		}
		return err
	}
	if !profile.Role.CanHold() {
		return dErrors.New(dErrors.CodeValidation, "counterparty cannot hold credits")
	}
	return nil
}

func entryAmount(entry cache.Entry) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(entry.Amount)
	if err != nil {
		return decimal.Zero, dErrors.Wrap(err, dErrors.CodeInternal, "corrupt holder cache entry")
	}
	return amount, nil
}

// reserve registers an Issue claim and returns how many other open Issue
// requests claim the same identifier. The registry is advisory: on failure
// the claim proceeds and the ledger still refuses a second issuance.
func (s *Service) reserve(ctx context.Context, req *models.Request) int {
	n, err := s.coordinator.Reserve(ctx, req.CreditID, req.ID)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to reserve credit identifier",
			"request_id", req.ID, "credit_id", req.CreditID, "error", err)
		return 0
	}
	if n > 1 {
		s.logger.WarnContext(ctx, "competing issue requests for credit identifier",
			"request_id", req.ID, "credit_id", req.CreditID, "claims", n)
	}
	return n - 1
}

// verify moves the request through auto_verifying. Only the measurement read
// runs on the caller's ctx; transitions run on owned. A measurement outage or
// a lost caller rejects the request rather than leaving it without an owner.
func (s *Service) verify(ctx, owned context.Context, req *models.Request, competing int) (*models.Request, error) {
	requestID := req.ID
	req, err := s.transition(owned, requestID,
		func(r *models.Request) error { return r.CanTransition(models.StatusAutoVerifying) },
		func(r *models.Request) {
			r.CompetingClaims = competing
			r.ApplyAutoVerifying(s.now())
		},
	)
	if err != nil {
		return nil, s.abandon(owned, requestID, err)
	}

	claim := verification.Claim{
		Kind:           req.Kind.MeasurementKind(),
		ActorID:        req.Requester,
		Amount:         req.Amount,
		Window:         req.Window,
		MeasurementRef: req.MeasurementRef,
	}
	res, verr := s.verifier.Verify(ctx, req.ID, claim)

	var mutate func(*models.Request)
	if verr != nil {
		s.logger.ErrorContext(owned, "verification failed", "request_id", req.ID, "error", verr)
		mutate = func(r *models.Request) { r.ApplyVerificationUnavailable(dErrors.Message(verr), s.now()) }
	} else {
		mutate = func(r *models.Request) { r.ApplyVerification(res, s.anomalyPolicy, s.now()) }
	}

	req, err = s.transition(owned, requestID,
		func(r *models.Request) error { return r.CanTransition(models.StatusPendingReview) },
		mutate,
	)
	if err != nil {
		return nil, s.abandon(owned, requestID, err)
	}
	s.releaseIfTerminal(owned, req)

	action := audit.EventRequestVerified
	if req.Status == models.StatusRejected {
		action = audit.EventRequestRejected
	}
	event := auditEvent(action, req.Requester, req)
	if req.Verification != nil {
		event.Decision = string(req.Verification.Verdict)
	}
	event.Reason = req.FailureReason
	s.emitAudit(owned, event)
	s.logger.InfoContext(owned, "request verified",
		"request_id", req.ID, "status", req.Status, "anomaly", req.Anomaly, "competing_claims", req.CompetingClaims)
	return req, nil
}

// abandon rejects a request whose verification could not be recorded, so it
// does not sit in created or auto_verifying holding its reservation. It
// returns cause unchanged.
func (s *Service) abandon(ctx context.Context, requestID id.RequestID, cause error) error {
	final, err := s.transition(ctx, requestID,
		func(r *models.Request) error {
			if r.Status != models.StatusCreated && r.Status != models.StatusAutoVerifying {
				return dErrors.New(dErrors.CodeInvalidState, "request already left verification")
			}
			return nil
		},
		func(r *models.Request) {
			if r.Status == models.StatusCreated {
				r.ApplyAutoVerifying(s.now())
			}
			r.ApplyVerificationUnavailable("verification result could not be recorded", s.now())
		},
	)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to reject interrupted request",
			"request_id", requestID, "cause", cause, "error", err)
		return cause
	}
	s.releaseIfTerminal(ctx, final)
	event := auditEvent(audit.EventRequestRejected, final.Requester, final)
	event.Reason = final.FailureReason
	s.emitAudit(ctx, event)
	s.logger.WarnContext(ctx, "request rejected after failed verification write",
		"request_id", requestID, "cause", cause)
	return cause
}
