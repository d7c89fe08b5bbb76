package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"hycredit/internal/ledger/metrics"
	"hycredit/internal/ledger/models"
	id "hycredit/pkg/domain"
	dErrors "hycredit/pkg/domain-errors"
	"hycredit/pkg/platform/sentinel"
)

// Store persists credit records and their event log. Execute must run
// validate and mutate atomically with respect to other writers of the same
// credit.
type Store interface {
	Create(ctx context.Context, record *models.CreditRecord, event *models.Event) error
	Execute(ctx context.Context, creditID id.CreditID,
		validate func(*models.CreditRecord) error,
		mutate func(*models.CreditRecord) *models.Event,
	) (*models.CreditRecord, error)
	FindByID(ctx context.Context, creditID id.CreditID) (*models.CreditRecord, error)
	ListAll(ctx context.Context) ([]*models.CreditRecord, error)
	ListEvents(ctx context.Context, creditID id.CreditID) ([]*models.Event, error)
	ListEventsByRequest(ctx context.Context, requestRef string) ([]*models.Event, error)
}

// EventPublisher is notified after each committed mutation. Failures are
// logged and never roll the ledger back.
type EventPublisher interface {
	Publish(ctx context.Context, event *models.Event) error
}

// Service is the authoritative credit ledger.
type Service struct {
	store     Store
	publisher EventPublisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	now       func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithPublisher(p EventPublisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: slog.Default(),
		tracer: otel.Tracer("hycredit/ledger"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue creates a new credit held by cmd.Holder. Identifiers are never
// reusable, including identifiers of retired credits.
func (s *Service) Issue(ctx context.Context, cmd models.IssueCommand) (rec *models.CreditRecord, err error) {
	ctx, finish := s.begin(ctx, "ledger.Issue", cmd.ID)
	defer func() { finish(err) }()

	txRef := s.txRef(cmd.TxRef)
	now := s.now()
	rec, err = models.NewCreditRecord(cmd.ID, cmd.Issuer, cmd.Holder, cmd.Amount, txRef, now)
	if err != nil {
		return nil, err
	}
	event := &models.Event{
		TxRef:      txRef,
		Kind:       models.EventIssued,
		CreditID:   cmd.ID,
		To:         cmd.Holder,
		Amount:     cmd.Amount,
		RequestRef: cmd.RequestRef,
		RecordedAt: now,
	}
	if err = s.store.Create(ctx, rec, event); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, dErrors.New(dErrors.CodeDuplicateIdentifier, "credit identifier already used")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue credit")
	}
	s.publish(ctx, event)
	s.logger.InfoContext(ctx, "credit issued",
		"credit_id", cmd.ID, "holder", cmd.Holder, "amount", cmd.Amount.String(), "tx_ref", txRef)
	return rec, nil
}

// Transfer moves holdership from the requester to cmd.NewHolder.
func (s *Service) Transfer(ctx context.Context, cmd models.TransferCommand) (rec *models.CreditRecord, err error) {
	ctx, finish := s.begin(ctx, "ledger.Transfer", cmd.ID)
	defer func() { finish(err) }()

	txRef := s.txRef(cmd.TxRef)
	var event *models.Event
	rec, err = s.store.Execute(ctx, cmd.ID,
		func(c *models.CreditRecord) error {
			return c.CanTransfer(cmd.Requester, cmd.NewHolder)
		},
		func(c *models.CreditRecord) *models.Event {
			now := s.now()
			from := c.Holder
			c.ApplyTransfer(cmd.NewHolder, txRef, now)
			event = &models.Event{
				TxRef:      txRef,
				Kind:       models.EventTransferred,
				CreditID:   c.ID,
				From:       from,
				To:         cmd.NewHolder,
				Amount:     c.Amount,
				RequestRef: cmd.RequestRef,
				RecordedAt: now,
			}
			return event
		},
	)
	if err != nil {
		return nil, translate(err, "failed to transfer credit")
	}
	s.publish(ctx, event)
	s.logger.InfoContext(ctx, "credit transferred",
		"credit_id", cmd.ID, "from", event.From, "to", event.To, "tx_ref", txRef)
	return rec, nil
}

// Retire permanently removes the credit from circulation.
func (s *Service) Retire(ctx context.Context, cmd models.RetireCommand) (rec *models.CreditRecord, err error) {
	ctx, finish := s.begin(ctx, "ledger.Retire", cmd.ID)
	defer func() { finish(err) }()

	txRef := s.txRef(cmd.TxRef)
	var event *models.Event
	rec, err = s.store.Execute(ctx, cmd.ID,
		func(c *models.CreditRecord) error {
			return c.CanRetire(cmd.Requester)
		},
		func(c *models.CreditRecord) *models.Event {
			now := s.now()
			c.ApplyRetirement(txRef, now)
			event = &models.Event{
				TxRef:      txRef,
				Kind:       models.EventRetired,
				CreditID:   c.ID,
				From:       c.Holder,
				Amount:     c.Amount,
				RequestRef: cmd.RequestRef,
				RecordedAt: now,
			}
			return event
		},
	)
	if err != nil {
		return nil, translate(err, "failed to retire credit")
	}
	s.publish(ctx, event)
	s.logger.InfoContext(ctx, "credit retired", "credit_id", cmd.ID, "holder", event.From, "tx_ref", txRef)
	return rec, nil
}

// Get returns the current snapshot of one credit.
func (s *Service) Get(ctx context.Context, creditID id.CreditID) (*models.CreditRecord, error) {
	rec, err := s.store.FindByID(ctx, creditID)
	if err != nil {
		return nil, translate(err, "failed to load credit")
	}
	return rec, nil
}

// Exists reports whether an identifier has ever been issued.
func (s *Service) Exists(ctx context.Context, creditID id.CreditID) (bool, error) {
	_, err := s.store.FindByID(ctx, creditID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load credit")
	}
	return true, nil
}

// ListAll returns a snapshot of every credit, ordered by issue time.
func (s *Service) ListAll(ctx context.Context) ([]*models.CreditRecord, error) {
	recs, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list credits")
	}
	return recs, nil
}

// History returns the events of one credit in commit order.
func (s *Service) History(ctx context.Context, creditID id.CreditID) ([]*models.Event, error) {
	if _, err := s.store.FindByID(ctx, creditID); err != nil {
		return nil, translate(err, "failed to load credit")
	}
	events, err := s.store.ListEvents(ctx, creditID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load credit history")
	}
	return events, nil
}

// EventsByRequest returns events committed on behalf of a workflow request.
// Reconciliation uses it to recover outcomes whose confirmation was lost.
func (s *Service) EventsByRequest(ctx context.Context, requestRef string) ([]*models.Event, error) {
	events, err := s.store.ListEventsByRequest(ctx, requestRef)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load request events")
	}
	return events, nil
}

func (s *Service) txRef(ref id.TxRef) id.TxRef {
	if ref.IsZero() {
		return id.NewTxRef()
	}
	return ref
}

func (s *Service) publish(ctx context.Context, event *models.Event) {
	if s.publisher == nil || event == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.metrics.IncPublishFailures()
		s.logger.WarnContext(ctx, "failed to publish ledger event",
			"credit_id", event.CreditID, "kind", event.Kind, "sequence", event.Sequence, "error", err)
	}
}

// begin opens a span and returns a finisher recording outcome metrics.
func (s *Service) begin(ctx context.Context, op string, creditID id.CreditID) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, op, trace.WithAttributes(attribute.String("credit_id", creditID.String())))
	return ctx, func(err error) {
		outcome := "ok"
		if err != nil {
			outcome = string(dErrors.GetCode(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		span.End()
		s.metrics.ObserveOperation(op, outcome, start)
	}
}

// translate maps store sentinels onto ledger error codes. Domain errors from
// validate callbacks pass through unchanged.
func translate(err error, msg string) error {
	var de *dErrors.Error
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "credit not found")
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		return dErrors.New(dErrors.CodeDuplicateIdentifier, "credit identifier already used")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeTimeout, msg)
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}
