package service

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"

	"hycredit/internal/actor"
	syncmodels "hycredit/internal/ledgersync/models"
	"hycredit/internal/workflow/models"
	id "hycredit/pkg/domain"
	dErrors "hycredit/pkg/domain-errors"
	"hycredit/pkg/platform/audit"
)

// DecisionInput is an auditor's verdict on a pending request.
type DecisionInput struct {
	Approve   bool
	Rationale string
}

const (
	maxRationaleLen  = 2000
	statsMaxAttempts = 5
)

// Decide records the assigned auditor's decision. Rejection is terminal and
// never touches the ledger. Approval moves the request to committing and
// hands the ledger write to the coordinator; the call returns without
// waiting for confirmation.
func (s *Service) Decide(ctx context.Context, auditor id.Actor, requestID id.RequestID, in DecisionInput) (*models.Request, error) {
	rationale := strings.TrimSpace(in.Rationale)
	if len(rationale) > maxRationaleLen {
		return nil, dErrors.New(dErrors.CodeValidation, "rationale is too long")
	}
	if !in.Approve && rationale == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "rejection requires a rationale")
	}

	// An approval claims its commit slot before the transition so Close
	// cannot finish draining between the two.
	slotHeld := false
	if in.Approve {
		if err := s.beginCommit(); err != nil {
			return nil, err
		}
		slotHeld = true
		defer func() {
			if slotHeld {
				s.wg.Done()
			}
		}()
	}

	req, err := s.transition(ctx, requestID,
		func(r *models.Request) error { return r.CanDecide(auditor) },
		func(r *models.Request) {
			r.ApplyDecision(models.Decision{
				ActorID:   auditor.ID,
				Approve:   in.Approve,
				Rationale: rationale,
				DecidedAt: s.now(),
			})
		},
	)
	if err != nil {
		s.recordDenied(ctx, auditor, requestID, err)
		return nil, err
	}
	s.metrics.ObserveDecisionLatency(req.Decision.DecidedAt.Sub(req.CreatedAt))

	if !in.Approve {
		s.releaseIfTerminal(ctx, req)
		event := auditEvent(audit.EventRequestRejected, auditor.ID, req)
		event.Decision = "reject"
		event.Reason = rationale
		s.emitCompliance(ctx, event)
		s.logger.InfoContext(ctx, "request rejected by auditor", "request_id", req.ID, "auditor", auditor.ID)
		return req, nil
	}

	event := auditEvent(audit.EventRequestApproved, auditor.ID, req)
	event.Decision = "approve"
	event.Reason = rationale
	s.emitCompliance(ctx, event)
	s.logger.InfoContext(ctx, "request approved, committing", "request_id", req.ID, "auditor", auditor.ID)

	slotHeld = false
	s.startCommit(ctx, req)
	return req, nil
}

// beginCommit claims a slot in the commit wait group unless Close has begun.
// The caller releases it with wg.Done or hands it to startCommit.
func (s *Service) beginCommit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return dErrors.New(dErrors.CodeUnavailable, "workflow engine is shutting down")
	}
	s.wg.Add(1)
	return nil
}

func (s *Service) recordDenied(ctx context.Context, auditor id.Actor, requestID id.RequestID, err error) {
	code := dErrors.GetCode(err)
	if code != dErrors.CodeUnauthorized && code != dErrors.CodeInvalidState {
		return
	}
	s.metrics.IncDenied("decide", string(code))
	if code == dErrors.CodeUnauthorized {
		s.emitAudit(ctx, audit.Event{
			ActorID:   auditor.ID,
			Action:    string(audit.EventDecisionDenied),
			RequestID: requestID.String(),
			Reason:    dErrors.Message(err),
		})
	}
}

// startCommit hands the request to the coordinator and tracks the
// completion so Wait and Close can observe it. It takes over the slot
// claimed by beginCommit.
func (s *Service) startCommit(ctx context.Context, req *models.Request) {
	done := make(chan struct{})
	s.mu.Lock()
	s.inflight[req.ID] = done
	s.mu.Unlock()
	s.metrics.AddPendingCommits(1)

	pending := s.coordinator.Commit(ctx, operationFor(req))
	bg := context.WithoutCancel(ctx)
	go func() {
		defer func() {
			s.metrics.AddPendingCommits(-1)
			s.mu.Lock()
			delete(s.inflight, req.ID)
			s.mu.Unlock()
			close(done)
			s.wg.Done()
		}()
		<-pending.Done()
		out, _ := pending.Outcome()
		s.complete(bg, req, out)
	}()
}

// complete moves a committing request to its terminal status.
func (s *Service) complete(ctx context.Context, req *models.Request, out syncmodels.Outcome) {
	var mutate func(*models.Request)
	to := models.StatusFinalized
	switch out.Status {
	case syncmodels.OutcomeSucceeded:
		mutate = func(r *models.Request) { r.ApplyFinalized(out.TxRef, s.now()) }
	default:
		to = models.StatusFailed
		code := out.Code
		if code == "" {
			code = dErrors.CodeInternal
		}
		mutate = func(r *models.Request) { r.ApplyFailed(code, out.Reason, out.TxRef, s.now()) }
	}

	final, err := s.transition(ctx, req.ID,
		func(r *models.Request) error { return r.CanTransition(to) },
		mutate,
	)
	if err != nil {
		// The ledger outcome is known but unrecorded; Recover flags it on restart.
		s.logger.ErrorContext(ctx, "failed to record commit outcome",
			"request_id", req.ID, "outcome", out.Status, "tx_ref", out.TxRef, "error", err)
		return
	}
	s.releaseIfTerminal(ctx, final)

	if final.Status == models.StatusFinalized {
		s.applyStats(ctx, final, out)
		event := auditEvent(audit.EventRequestFinalized, final.Requester, final)
		event.Reason = final.TxRef.String()
		s.emitCompliance(ctx, event)
		s.logger.InfoContext(ctx, "request finalized",
			"request_id", final.ID, "credit_id", final.CreditID, "tx_ref", final.TxRef)
		return
	}

	event := auditEvent(audit.EventRequestFailed, final.Requester, final)
	event.Decision = string(final.FailureCode)
	event.Reason = final.FailureReason
	s.emitCompliance(ctx, event)
	s.logger.WarnContext(ctx, "request failed at ledger commit",
		"request_id", final.ID,
		"credit_id", final.CreditID,
		"code", final.FailureCode,
		"reason", final.FailureReason,
		"needs_reconciliation", final.NeedsReconciliation,
	)
}

// applyStats records the finalized request in actor statistics. The stats
// store deduplicates by request id, so retries never double count.
func (s *Service) applyStats(ctx context.Context, req *models.Request, out syncmodels.Outcome) {
	amount := req.Amount
	if out.Record != nil && out.Record.Amount.IsPositive() {
		amount = out.Record.Amount
	}
	deltas := statDeltas(req, amount)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(b, statsMaxAttempts-1), ctx)
	err := backoff.Retry(func() error {
		_, err := s.stats.Apply(ctx, req.ID, deltas)
		return err
	}, policy)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to apply actor statistics",
			"request_id", req.ID, "kind", req.Kind, "error", err)
	}
}

func statDeltas(req *models.Request, amount decimal.Decimal) []actor.Delta {
	switch req.Kind {
	case models.KindIssue:
		return []actor.Delta{{ActorID: req.Requester, Field: actor.StatGenerated, Amount: amount}}
	case models.KindTransfer:
		return []actor.Delta{
			{ActorID: req.Requester, Field: actor.StatTransferred, Amount: amount},
			{ActorID: req.Counterparty, Field: actor.StatBought, Amount: amount},
		}
	case models.KindRetire:
		return []actor.Delta{{ActorID: req.Requester, Field: actor.StatRetired, Amount: amount}}
	}
	return nil
}

func operationFor(req *models.Request) syncmodels.Operation {
	op := syncmodels.Operation{
		RequestID:    req.ID,
		CreditID:     req.CreditID,
		Requester:    req.Requester,
		Counterparty: req.Counterparty,
		Amount:       req.Amount,
	}
	switch req.Kind {
	case models.KindIssue:
		op.Kind = syncmodels.OpIssue
	case models.KindTransfer:
		op.Kind = syncmodels.OpTransfer
	case models.KindRetire:
		op.Kind = syncmodels.OpRetire
	}
	return op
}
