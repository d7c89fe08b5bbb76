package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"hycredit/internal/actor"
	"hycredit/internal/ledger/cache"
	ledgermodels "hycredit/internal/ledger/models"
	"hycredit/internal/ledgersync"
	syncmodels "hycredit/internal/ledgersync/models"
	"hycredit/internal/verification"
	"hycredit/internal/workflow/metrics"
	"hycredit/internal/workflow/models"
	id "hycredit/pkg/domain"
	dErrors "hycredit/pkg/domain-errors"
	"hycredit/pkg/platform/audit"
	"hycredit/pkg/platform/sentinel"
)

// Store persists requests. Execute must apply validate and mutate as one
// compare-and-set against concurrent writers of the same request.
type Store interface {
	Create(ctx context.Context, req *models.Request) error
	Execute(ctx context.Context, requestID id.RequestID,
		validate func(*models.Request) error,
		mutate func(*models.Request),
	) (*models.Request, error)
	FindByID(ctx context.Context, requestID id.RequestID) (*models.Request, error)
	ListByRequester(ctx context.Context, requester id.ActorID, filter models.ListFilter) ([]*models.Request, error)
	ListByAuditor(ctx context.Context, auditorID id.ActorID, filter models.ListFilter) ([]*models.Request, error)
	ListByStatus(ctx context.Context, status models.Status) ([]*models.Request, error)
	HasBurnedIdentifier(ctx context.Context, creditID id.CreditID) (bool, error)
}

type Verifier interface {
	Verify(ctx context.Context, requestID id.RequestID, claim verification.Claim) (*verification.Result, error)
}

// HolderView is the off-chain, possibly stale, view of credit holdership.
type HolderView interface {
	Lookup(ctx context.Context, creditID id.CreditID) (cache.Entry, error)
}

// LedgerReader exposes the read side of the ledger.
type LedgerReader interface {
	Exists(ctx context.Context, creditID id.CreditID) (bool, error)
	EventsByRequest(ctx context.Context, requestRef string) ([]*ledgermodels.Event, error)
}

type Coordinator interface {
	Reserve(ctx context.Context, creditID id.CreditID, requestID id.RequestID) (int, error)
	Release(ctx context.Context, creditID id.CreditID, requestID id.RequestID) error
	Commit(ctx context.Context, op syncmodels.Operation) *ledgersync.Pending
	Receipt(ctx context.Context, ref id.TxRef) (syncmodels.Receipt, error)
}

type StatsStore interface {
	Apply(ctx context.Context, requestID id.RequestID, deltas []actor.Delta) (bool, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service drives requests from submission to a terminal status.
type Service struct {
	store       Store
	verifier    Verifier
	holders     HolderView
	ledger      LedgerReader
	directory   actor.Directory
	coordinator Coordinator
	stats       StatsStore

	auditPublisher      AuditPublisher
	compliancePublisher AuditPublisher
	anomalyPolicy       models.AnomalyPolicy
	commitLease         time.Duration
	logger              *slog.Logger
	metrics             *metrics.Metrics
	now                 func() time.Time

	mu       sync.Mutex
	inflight map[id.RequestID]chan struct{}
	closing  bool
	wg       sync.WaitGroup
}

// Deps groups the collaborators every Service needs.
type Deps struct {
	Store       Store
	Verifier    Verifier
	Holders     HolderView
	Ledger      LedgerReader
	Directory   actor.Directory
	Coordinator Coordinator
	Stats       StatsStore
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithAuditPublisher receives routine workflow events.
func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) { s.auditPublisher = p }
}

// WithCompliancePublisher receives decisions and ledger outcomes.
func WithCompliancePublisher(p AuditPublisher) Option {
	return func(s *Service) { s.compliancePublisher = p }
}

func WithAnomalyPolicy(p models.AnomalyPolicy) Option {
	return func(s *Service) { s.anomalyPolicy = p }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithCommitLease sets how long a request may sit in a non-terminal
// verification or commit status before Recover treats its owner as gone.
// It must exceed the longest verification plus lock wait, confirmation
// deadline and settle window of any instance sharing the store.
func WithCommitLease(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.commitLease = d
		}
	}
}

func New(deps Deps, opts ...Option) (*Service, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("request store is required")
	case deps.Verifier == nil:
		return nil, errors.New("verifier is required")
	case deps.Holders == nil:
		return nil, errors.New("holder view is required")
	case deps.Ledger == nil:
		return nil, errors.New("ledger reader is required")
	case deps.Directory == nil:
		return nil, errors.New("actor directory is required")
	case deps.Coordinator == nil:
		return nil, errors.New("coordinator is required")
	case deps.Stats == nil:
		return nil, errors.New("stats store is required")
	}
	s := &Service{
		store:         deps.Store,
		verifier:      deps.Verifier,
		holders:       deps.Holders,
		ledger:        deps.Ledger,
		directory:     deps.Directory,
		coordinator:   deps.Coordinator,
		stats:         deps.Stats,
		anomalyPolicy: models.AnomalyEscalate,
		commitLease:   5 * time.Minute,
		logger:        slog.Default(),
		now:           time.Now,
		inflight:      make(map[id.RequestID]chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if !s.anomalyPolicy.IsValid() {
		return nil, errors.New("invalid anomaly policy: " + string(s.anomalyPolicy))
	}
	return s, nil
}

// transition persists one state change as a compare-and-set on the current
// status and records the transition metric.
func (s *Service) transition(
	ctx context.Context,
	requestID id.RequestID,
	validate func(*models.Request) error,
	mutate func(*models.Request),
) (*models.Request, error) {
	var from models.Status
	req, err := s.store.Execute(ctx, requestID,
		func(r *models.Request) error {
			from = r.Status
			return validate(r)
		},
		mutate,
	)
	if err != nil {
		return nil, translate(err)
	}
	if from != req.Status {
		s.metrics.IncTransition(string(from), string(req.Status))
	}
	if req.Status.IsTerminal() && from != req.Status {
		s.metrics.ObserveCompletion(string(req.Kind), string(req.Status), req.UpdatedAt.Sub(req.CreatedAt))
	}
	return req, nil
}

// releaseIfTerminal drops an Issue reservation once the request can no longer
// commit.
func (s *Service) releaseIfTerminal(ctx context.Context, req *models.Request) {
	if req.Kind != models.KindIssue || !req.Status.IsTerminal() {
		return
	}
	if err := s.coordinator.Release(ctx, req.CreditID, req.ID); err != nil {
		s.logger.WarnContext(ctx, "failed to release issue reservation",
			"request_id", req.ID, "credit_id", req.CreditID, "error", err)
	}
}

func (s *Service) emitAudit(ctx context.Context, event audit.Event) {
	if s.auditPublisher == nil {
		return
	}
	if err := s.auditPublisher.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event", "action", event.Action, "request_id", event.RequestID, "error", err)
	}
}

// emitCompliance writes to the fail-closed compliance trail, falling back to
// the routine publisher when none is configured.
func (s *Service) emitCompliance(ctx context.Context, event audit.Event) {
	if s.compliancePublisher == nil {
		s.emitAudit(ctx, event)
		return
	}
	if err := s.compliancePublisher.Emit(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "compliance audit write failed",
			"action", event.Action, "request_id", event.RequestID, "error", err)
	}
}

func auditEvent(action audit.AuditEvent, actorID id.ActorID, req *models.Request) audit.Event {
	return audit.Event{
		ActorID:   actorID,
		Action:    string(action),
		RequestID: req.ID.String(),
		CreditID:  req.CreditID.String(),
		Subject:   req.Counterparty.String(),
	}
}

// translate maps store sentinels onto domain codes. Domain errors raised by
// validate callbacks pass through unchanged.
func translate(err error) error {
	var de *dErrors.Error
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "request not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeInvalidState, "request changed concurrently")
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		return dErrors.New(dErrors.CodeConflict, "request already exists")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "request store failure")
	}
}
