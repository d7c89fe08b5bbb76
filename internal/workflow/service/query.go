package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	syncmodels "hycredit/internal/ledgersync/models"
	"hycredit/internal/workflow/models"
	id "hycredit/pkg/domain"
	dErrors "hycredit/pkg/domain-errors"
	"hycredit/pkg/platform/audit"
	"hycredit/pkg/platform/sentinel"
)

// Get returns a request visible to actor. Requests the actor may not see are
// reported as not found.
func (s *Service) Get(ctx context.Context, actor id.Actor, requestID id.RequestID) (*models.Request, error) {
	req, err := s.store.FindByID(ctx, requestID)
	if err != nil {
		return nil, translate(err)
	}
	if !req.VisibleTo(actor) {
		return nil, dErrors.New(dErrors.CodeNotFound, "request not found")
	}
	return req, nil
}

// List returns the requests visible to actor: auditors see their assigned
// queue, everyone else their own submissions.
func (s *Service) List(ctx context.Context, actor id.Actor, filter models.ListFilter) ([]*models.Request, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown status filter")
	}
	if filter.Kind != "" && !filter.Kind.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown kind filter")
	}
	var (
		reqs []*models.Request
		err  error
	)
	if actor.Role.CanDecide() {
		reqs, err = s.store.ListByAuditor(ctx, actor.ID, filter)
	} else {
		reqs, err = s.store.ListByRequester(ctx, actor.ID, filter)
	}
	if err != nil {
		return nil, translate(err)
	}
	return reqs, nil
}

// Wait blocks until any ledger commit running for the request resolves and
// returns the request's latest state.
func (s *Service) Wait(ctx context.Context, requestID id.RequestID) (*models.Request, error) {
	s.mu.Lock()
	done, ok := s.inflight[requestID]
	s.mu.Unlock()
	if ok {
		select {
		case <-done:
		case <-ctx.Done():
			return nil, dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "request still committing")
		}
	}
	req, err := s.store.FindByID(ctx, requestID)
	if err != nil {
		return nil, translate(err)
	}
	return req, nil
}

// Reconcile checks the ledger for a write made on behalf of a request whose
// confirmation never arrived and records what it found. Only the assigned
// auditor may reconcile. The request stays failed either way.
func (s *Service) Reconcile(ctx context.Context, auditor id.Actor, requestID id.RequestID) (*models.Request, error) {
	current, err := s.store.FindByID(ctx, requestID)
	if err != nil {
		return nil, translate(err)
	}
	if !auditor.Role.CanDecide() || current.AuditorID != auditor.ID {
		s.metrics.IncDenied("reconcile", string(dErrors.CodeUnauthorized))
		return nil, dErrors.New(dErrors.CodeUnauthorized, "only the assigned auditor may reconcile this request")
	}
	if err := current.CanReconcile(); err != nil {
		return nil, err
	}
	if !current.TxRef.IsZero() {
		// A transaction still in the mempool can land after any check of
		// ledger events, so nothing is recorded until it is final.
		receipt, err := s.coordinator.Receipt(ctx, current.TxRef)
		switch {
		case err == nil && receipt.Status == syncmodels.ReceiptPending:
			return nil, dErrors.New(dErrors.CodeInvalidState, "ledger write is still pending")
		case err != nil && !errors.Is(err, sentinel.ErrNotFound):
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to read ledger receipt")
		}
	}

	events, err := s.ledger.EventsByRequest(ctx, requestID.String())
	if err != nil {
		return nil, err
	}
	note := models.ReconciledAbsent
	if len(events) > 0 {
		note = models.ReconciledApplied
	}

	req, err := s.transition(ctx, requestID,
		func(r *models.Request) error { return r.CanReconcile() },
		func(r *models.Request) { r.ApplyReconciliation(note, s.now()) },
	)
	if err != nil {
		return nil, err
	}

	event := auditEvent(audit.EventReconciled, auditor.ID, req)
	event.Decision = note
	s.emitCompliance(ctx, event)
	s.logger.InfoContext(ctx, "request reconciled",
		"request_id", req.ID, "credit_id", req.CreditID, "result", note, "ledger_events", len(events))
	return req, nil
}

// Recover resolves requests whose owner is gone. A request counts as
// orphaned once it has sat in created, auto_verifying or committing for
// longer than the commit lease and no commit for it runs in this process.
// Claims interrupted during verification are rejected; interrupted commits
// are failed as unconfirmed and flagged for reconciliation.
func (s *Service) Recover(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.commitLease)
	recovered, skipped := 0, 0
	for _, status := range []models.Status{models.StatusCreated, models.StatusAutoVerifying, models.StatusCommitting} {
		reqs, err := s.store.ListByStatus(ctx, status)
		if err != nil {
			return recovered, translate(err)
		}
		for _, req := range reqs {
			if req.UpdatedAt.After(cutoff) || s.committing(req.ID) {
				skipped++
				continue
			}
			ok, err := s.recoverOne(ctx, req)
			if err != nil {
				return recovered, err
			}
			if ok {
				recovered++
			}
		}
	}
	if recovered > 0 {
		s.logger.WarnContext(ctx, "recovered interrupted requests", "count", recovered, "within_lease", skipped)
	}
	return recovered, nil
}

// RunRecovery calls Recover every interval until ctx is done.
func (s *Service) RunRecovery(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Recover(ctx); err != nil {
				s.logger.ErrorContext(ctx, "periodic recovery failed", "error", err)
			}
		}
	}
}

// RestoreReservations registers every open Issue request with the
// coordinator. Run it once at startup, before serving submissions.
func (s *Service) RestoreReservations(ctx context.Context) (int, error) {
	restored := 0
	for _, status := range []models.Status{
		models.StatusCreated, models.StatusAutoVerifying, models.StatusPendingReview,
		models.StatusApproved, models.StatusCommitting,
	} {
		reqs, err := s.store.ListByStatus(ctx, status)
		if err != nil {
			return restored, translate(err)
		}
		for _, req := range reqs {
			if req.Kind != models.KindIssue {
				continue
			}
			if _, err := s.coordinator.Reserve(ctx, req.CreditID, req.ID); err != nil {
				return restored, fmt.Errorf("restore reservation for %s: %w", req.ID, err)
			}
			restored++
		}
	}
	return restored, nil
}

func (s *Service) committing(requestID id.RequestID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inflight[requestID]
	return ok
}

func (s *Service) recoverOne(ctx context.Context, req *models.Request) (bool, error) {
	version := req.Version
	validate := func(r *models.Request) error {
		if r.Version != version {
			return dErrors.New(dErrors.CodeInvalidState, "request moved during recovery")
		}
		return nil
	}
	mutate := func(r *models.Request) {
		switch r.Status {
		case models.StatusCreated:
			r.ApplyAutoVerifying(s.now())
			r.ApplyVerificationUnavailable("owner lost before verification completed", s.now())
		case models.StatusAutoVerifying:
			r.ApplyVerificationUnavailable("owner lost before verification completed", s.now())
		default:
			r.ApplyFailed(dErrors.CodeUnconfirmed, "owner lost before confirmation", r.TxRef, s.now())
		}
	}

	final, err := s.transition(ctx, req.ID, validate, mutate)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvalidState) {
			return false, nil
		}
		return false, fmt.Errorf("recover request %s: %w", req.ID, err)
	}
	s.releaseIfTerminal(ctx, final)
	s.logger.WarnContext(ctx, "recovered orphaned request",
		"request_id", final.ID, "status", final.Status, "credit_id", final.CreditID)
	return true, nil
}

// Close stops accepting approvals and waits for running commits to reach a
// terminal status.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain workflow commits: %w", ctx.Err())
	}
}
