// Package ledgersync commits approved operations to the ledger and tracks
// their confirmation. Operations on the same credit are strictly serialized;
// operations on different credits run concurrently.
package ledgersync

//go:generate mockgen -source=coordinator.go -destination=mocks/mocks.go -package=mocks Chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"hycredit/internal/ledgersync/lock"
	"hycredit/internal/ledgersync/metrics"
	"hycredit/internal/ledgersync/models"
	id "hycredit/pkg/domain"
	dErrors "hycredit/pkg/domain-errors"
	"hycredit/pkg/platform/circuit"
	"hycredit/pkg/platform/sentinel"
)

// Chain is the contract endpoint. Submit returns once the transaction is
// accepted, not once it is applied; Receipt reports inclusion. Submit errors
// wrapping sentinel.ErrUnavailable are transient and retried.
type Chain interface {
	Submit(ctx context.Context, op models.Operation) (id.TxRef, error)
	Receipt(ctx context.Context, ref id.TxRef) (models.Receipt, error)
}

// Config bounds each commit.
type Config struct {
	// ConfirmationDeadline caps submission plus confirmation. Past it the
	// outcome is indeterminate.
	ConfirmationDeadline time.Duration
	// LockTimeout caps the wait for the per-credit lock.
	LockTimeout time.Duration
	// SettleTimeout caps how long a credit stays locked after an
	// indeterminate outcome while its transaction may still be included.
	SettleTimeout     time.Duration
	PollInterval      time.Duration
	SubmitMaxAttempts int
	RetryInitial      time.Duration
	RetryMax          time.Duration
}

func DefaultConfig() Config {
	return Config{
		ConfirmationDeadline: 30 * time.Second,
		LockTimeout:          30 * time.Second,
		SettleTimeout:        10 * time.Minute,
		PollInterval:         250 * time.Millisecond,
		SubmitMaxAttempts:    4,
		RetryInitial:         100 * time.Millisecond,
		RetryMax:             2 * time.Second,
	}
}

var errBreakerOpen = errors.New("chain circuit breaker open")

// Coordinator owns every ledger-committing call.
type Coordinator struct {
	chain    Chain
	locker   lock.Locker
	registry lock.Registry
	breaker  *circuit.Breaker
	cfg      Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer

	mu       sync.Mutex
	closed   bool
	wg       sync.WaitGroup
	settling sync.WaitGroup
	stop     chan struct{}
}

type Option func(*Coordinator)

func WithConfig(cfg Config) Option {
	return func(c *Coordinator) { c.cfg = cfg }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(c *Coordinator) { c.breaker = b }
}

// WithRegistry shares Issue reservations through r, e.g. a lock.RedisRegistry
// when several instances commit against one ledger.
func WithRegistry(r lock.Registry) Option {
	return func(c *Coordinator) { c.registry = r }
}

func New(chain Chain, locker lock.Locker, opts ...Option) (*Coordinator, error) {
	if chain == nil {
		return nil, errors.New("chain is required")
	}
	if locker == nil {
		return nil, errors.New("locker is required")
	}
	c := &Coordinator{
		chain:  chain,
		locker: locker,
		cfg:    DefaultConfig(),
		logger: slog.Default(),
		tracer: otel.Tracer("hycredit/ledgersync"),
		stop:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = circuit.New("ledger-chain")
	}
	if c.registry == nil {
		c.registry = lock.NewMemoryRegistry()
	}
	if c.cfg.SettleTimeout <= 0 {
		c.cfg.SettleTimeout = DefaultConfig().SettleTimeout
	}
	if c.cfg.SubmitMaxAttempts < 1 {
		c.cfg.SubmitMaxAttempts = 1
	}
	return c, nil
}

// Reserve registers requestID as an open Issue claim on creditID and returns
// how many requests claim it, including this one. A count above one means
// competing Issue requests; at most one of them can commit.
func (c *Coordinator) Reserve(ctx context.Context, creditID id.CreditID, requestID id.RequestID) (int, error) {
	return c.registry.Reserve(ctx, creditID.String(), requestID.String())
}

// Release drops a reservation made by Reserve. Releasing twice is a no-op.
func (c *Coordinator) Release(ctx context.Context, creditID id.CreditID, requestID id.RequestID) error {
	return c.registry.Release(ctx, creditID.String(), requestID.String())
}

// Reservations reports the number of open reservations for creditID.
func (c *Coordinator) Reservations(ctx context.Context, creditID id.CreditID) (int, error) {
	return c.registry.Count(ctx, creditID.String())
}

// Receipt reports the chain's current view of a transaction submitted by an
// earlier commit.
func (c *Coordinator) Receipt(ctx context.Context, ref id.TxRef) (models.Receipt, error) {
	return c.chain.Receipt(ctx, ref)
}

// Commit starts committing op and returns immediately. The returned Pending
// resolves exactly once. ctx supplies values only; the commit is bounded by
// the configured deadlines, not by ctx cancellation.
func (c *Coordinator) Commit(ctx context.Context, op models.Operation) *Pending {
	p := newPending(op.RequestID)
	if err := op.Validate(); err != nil {
		p.resolve(rejected(err))
		return p
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		p.resolve(models.Outcome{Status: models.OutcomeRejected, Code: dErrors.CodeUnavailable, Reason: "coordinator is shut down"})
		return p
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		p.resolve(c.run(context.WithoutCancel(ctx), op))
	}()
	return p
}

// Close stops accepting commits, waits for running ones to resolve and then
// releases credits still held for unconfirmed transactions.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	alreadyClosed := c.closed
	c.closed = true
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		if !alreadyClosed {
			close(c.stop)
		}
		c.settling.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain ledger commits: %w", ctx.Err())
	}
}

func (c *Coordinator) run(ctx context.Context, op models.Operation) (out models.Outcome) {
	start := time.Now()
	c.metrics.AddInFlight(1)
	ctx, span := c.tracer.Start(ctx, "ledgersync.Commit", trace.WithAttributes(
		attribute.String("request_id", op.RequestID.String()),
		attribute.String("credit_id", op.CreditID.String()),
		attribute.String("operation", string(op.Kind)),
	))
	defer func() {
		out.Duration = time.Since(start)
		span.SetAttributes(attribute.String("outcome", string(out.Status)), attribute.Int("attempts", out.Attempts))
		if out.Status != models.OutcomeSucceeded {
			span.SetStatus(codes.Error, string(out.Code))
		}
		span.End()
		c.metrics.AddInFlight(-1)
		c.metrics.ObserveCommit(string(op.Kind), string(out.Status), string(out.Code), start)
		c.logger.InfoContext(ctx, "ledger commit resolved",
			"request_id", op.RequestID,
			"credit_id", op.CreditID,
			"operation", op.Kind,
			"status", out.Status,
			"code", out.Code,
			"tx_ref", out.TxRef,
			"attempts", out.Attempts,
			"duration", out.Duration,
		)
	}()

	lockCtx, cancelLock := context.WithTimeout(ctx, c.cfg.LockTimeout)
	lockStart := time.Now()
	unlock, err := c.locker.Lock(lockCtx, op.Key())
	cancelLock()
	c.metrics.ObserveLockWait(time.Since(lockStart))
	if err != nil {
		// Nothing was submitted, so the ledger is untouched.
		return models.Outcome{Status: models.OutcomeRejected, Code: dErrors.CodeUnavailable, Reason: "could not acquire credit lock: " + err.Error()}
	}
	held := true
	defer func() {
		if held {
			unlock()
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConfirmationDeadline)
	defer cancel()

	ref, attempts, err := c.submit(ctx, op)
	if err != nil {
		out = c.submitFailure(ctx, err)
		out.Attempts = attempts
		return out
	}
	out = c.awaitReceipt(ctx, ref)
	out.Attempts = attempts
	if out.Status == models.OutcomeIndeterminate {
		held = false
		c.holdUntilFinal(op, ref, unlock)
	}
	return out
}

// holdUntilFinal keeps the credit locked while ref can still be included, so
// no second write for the credit reaches the chain behind it. The lock is
// released once the receipt is final, after SettleTimeout, or on Close.
func (c *Coordinator) holdUntilFinal(op models.Operation, ref id.TxRef, unlock func()) {
	c.settling.Add(1)
	c.metrics.AddSettling(1)
	go func() {
		defer c.settling.Done()
		defer c.metrics.AddSettling(-1)
		defer unlock()

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.SettleTimeout)
		defer cancel()
		ticker := time.NewTicker(c.cfg.PollInterval)
		defer ticker.Stop()
		for {
			receipt, err := c.chain.Receipt(ctx, ref)
			switch {
			case errors.Is(err, sentinel.ErrNotFound):
				c.logger.Warn("unconfirmed transaction no longer known to the chain",
					"credit_id", op.CreditID, "request_id", op.RequestID, "tx_ref", ref)
				return
			case err == nil && receipt.Status != models.ReceiptPending:
				c.logger.Info("unconfirmed transaction settled",
					"credit_id", op.CreditID, "request_id", op.RequestID, "tx_ref", ref, "receipt", receipt.Status)
				return
			}
			select {
			case <-ctx.Done():
				c.logger.Error("releasing credit lock with transaction still pending",
					"credit_id", op.CreditID, "request_id", op.RequestID, "tx_ref", ref)
				return
			case <-c.stop:
				return
			case <-ticker.C:
			}
		}
	}()
}

// submit retries transient failures with exponential backoff. Rejections by
// the chain and an open breaker end the loop immediately.
func (c *Coordinator) submit(ctx context.Context, op models.Operation) (id.TxRef, int, error) {
	var (
		ref      id.TxRef
		attempts int
	)
	operation := func() error {
		if !c.breaker.Allow() {
			return backoff.Permanent(errBreakerOpen)
		}
		attempts++
		var err error
		ref, err = c.chain.Submit(ctx, op)
		if err == nil {
			_, change := c.breaker.RecordSuccess()
			c.recordBreakerChange(change)
			return nil
		}
		if errors.Is(err, sentinel.ErrUnavailable) {
			_, change := c.breaker.RecordFailure()
			c.recordBreakerChange(change)
			return err
		}
		return backoff.Permanent(err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryInitial
	b.MaxInterval = c.cfg.RetryMax
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.SubmitMaxAttempts-1)), ctx)

	err := backoff.RetryNotify(operation, policy, func(err error, wait time.Duration) {
		c.metrics.IncSubmitRetries()
		c.logger.WarnContext(ctx, "ledger submission failed, retrying",
			"request_id", op.RequestID, "credit_id", op.CreditID, "attempt", attempts, "wait", wait, "error", err)
	})
	return ref, attempts, err
}

func (c *Coordinator) submitFailure(ctx context.Context, err error) models.Outcome {
	switch {
	case errors.Is(err, errBreakerOpen):
		return models.Outcome{Status: models.OutcomeRejected, Code: dErrors.CodeUnavailable, Reason: "ledger unavailable: circuit open"}
	case errors.Is(err, sentinel.ErrUnavailable):
		return models.Outcome{Status: models.OutcomeRejected, Code: dErrors.CodeUnavailable, Reason: "ledger unavailable: retries exhausted"}
	case ctx.Err() != nil:
		// The last submission may have been accepted before the deadline hit.
		return indeterminate("confirmation deadline passed during submission")
	default:
		return rejected(err)
	}
}

// awaitReceipt polls until the transaction is included or ctx ends.
func (c *Coordinator) awaitReceipt(ctx context.Context, ref id.TxRef) models.Outcome {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		c.metrics.IncReceiptPolls()
		receipt, err := c.chain.Receipt(ctx, ref)
		switch {
		case err != nil:
			if ctx.Err() == nil {
				c.logger.WarnContext(ctx, "receipt query failed", "tx_ref", ref, "error", err)
			}
		case receipt.Status == models.ReceiptConfirmed:
			return models.Outcome{Status: models.OutcomeSucceeded, TxRef: ref, Record: receipt.Record}
		case receipt.Status == models.ReceiptReverted:
			code := receipt.Code
			if code == "" {
				code = dErrors.CodeInternal
			}
			return models.Outcome{Status: models.OutcomeRejected, TxRef: ref, Code: code, Reason: receipt.Reason}
		}

		select {
		case <-ctx.Done():
			out := indeterminate("no confirmation before deadline")
			out.TxRef = ref
			return out
		case <-ticker.C:
		}
	}
}

func (c *Coordinator) recordBreakerChange(change circuit.StateChange) {
	switch {
	case change.Opened:
		c.metrics.IncBreakerTransition(circuit.StateOpen.String())
		c.logger.Warn("ledger circuit breaker opened", "breaker", c.breaker.Name())
	case change.Closed:
		c.metrics.IncBreakerTransition(circuit.StateClosed.String())
		c.logger.Info("ledger circuit breaker closed", "breaker", c.breaker.Name())
	}
}

func rejected(err error) models.Outcome {
	return models.Outcome{Status: models.OutcomeRejected, Code: dErrors.GetCode(err), Reason: dErrors.Message(err)}
}

func indeterminate(reason string) models.Outcome {
	return models.Outcome{Status: models.OutcomeIndeterminate, Code: dErrors.CodeUnconfirmed, Reason: reason}
}
