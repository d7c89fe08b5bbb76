package verification

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"hycredit/internal/measurement"
	id "hycredit/pkg/domain"
	dErrors "hycredit/pkg/domain-errors"
)

const sourceTimeout = 5 * time.Second

// NamedSource labels a measurement source for metrics and logs.
type NamedSource struct {
	Name   string
	Source measurement.Source
}

// Service loads measurement evidence and runs Evaluate.
type Service struct {
	sources []NamedSource
	policy  Policy
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

type Option func(*Service)

func WithPolicy(p Policy) Option {
	return func(s *Service) { s.policy = p }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService builds a verifier over one or more metering feeds. Aggregates
// from all feeds are summed.
func NewService(sources []NamedSource, opts ...Option) *Service {
	s := &Service{
		sources: sources,
		policy:  DefaultPolicy(),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Policy() Policy {
	return s.policy
}

// Verify evaluates a claim for a request. Claims without measurement linkage
// are classified without touching any source.
func (s *Service) Verify(ctx context.Context, requestID id.RequestID, claim Claim) (*Result, error) {
	snap := measurement.Snapshot{ActorID: claim.ActorID, Kind: claim.Kind, Window: claim.Window, Amount: decimal.Zero}
	if !claim.ActorID.IsZero() && claim.Window.Valid() {
		loaded, err := s.gatherSnapshot(ctx, claim)
		if err != nil {
			s.logger.ErrorContext(ctx, "measurement lookup failed",
				"request_id", requestID, "actor_id", claim.ActorID, "error", err)
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "measurement data unavailable")
		}
		snap = loaded
	}

	res := Evaluate(claim, snap, s.policy)
	res.ID = uuid.New()
	res.RequestID = requestID
	res.EvaluatedAt = s.now()
	s.metrics.ObserveVerdict(string(claim.Kind), res.Verdict)
	s.logger.InfoContext(ctx, "claim evaluated",
		"request_id", requestID,
		"actor_id", claim.ActorID,
		"verdict", res.Verdict,
		"claimed", claim.Amount.String(),
		"measured", snap.Amount.String(),
	)
	return &res, nil
}

// gatherSnapshot queries every source in parallel; the first failure cancels
// the rest.
func (s *Service) gatherSnapshot(ctx context.Context, claim Claim) (measurement.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, sourceTimeout)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	snaps := make([]measurement.Snapshot, len(s.sources))
	for i, src := range s.sources {
		g.Go(func() error {
			start := time.Now()
			snap, err := src.Source.Aggregate(ctx, claim.ActorID, claim.Kind, claim.Window)
			s.metrics.ObserveSource(src.Name, time.Since(start), err)
			if err != nil {
				return err
			}
			snaps[i] = snap
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return measurement.Snapshot{}, err
	}

	merged := measurement.Snapshot{ActorID: claim.ActorID, Kind: claim.Kind, Window: claim.Window, Amount: decimal.Zero}
	for _, snap := range snaps {
		merged = merged.Merge(snap)
	}
	return merged, nil
}
