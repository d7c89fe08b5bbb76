// Package chain adapts the credit ledger to a block-producing contract
// interface: submissions are accepted into a mempool and only take effect,
// in submission order, when the next block is produced.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	ledgermodels "hycredit/internal/ledger/models"
	"hycredit/internal/ledgersync/models"
	id "hycredit/pkg/domain"
	dErrors "hycredit/pkg/domain-errors"
	"hycredit/pkg/platform/sentinel"
)

// Ledger is the contract state the chain executes against.
type Ledger interface {
	Issue(ctx context.Context, cmd ledgermodels.IssueCommand) (*ledgermodels.CreditRecord, error)
	Transfer(ctx context.Context, cmd ledgermodels.TransferCommand) (*ledgermodels.CreditRecord, error)
	Retire(ctx context.Context, cmd ledgermodels.RetireCommand) (*ledgermodels.CreditRecord, error)
}

type pendingTx struct {
	ref id.TxRef
	op  models.Operation
}

// Local is an in-process chain. It is the default adapter when no external
// consensus service is configured, and the one tests drive block by block.
type Local struct {
	ledger    Ledger
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
	logger    *slog.Logger

	mu          sync.Mutex
	mempool     []pendingTx
	receipts    map[id.TxRef]*models.Receipt
	settledAt   map[id.TxRef]time.Time
	height      uint64
	halted      bool
	unavailable bool
}

type Option func(*Local)

func WithBlockInterval(d time.Duration) Option {
	return func(l *Local) { l.interval = d }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Local) { l.logger = logger }
}

// WithReceiptRetention sets how long a final receipt stays queryable.
// Pending receipts are never dropped.
func WithReceiptRetention(d time.Duration) Option {
	return func(l *Local) {
		if d > 0 {
			l.retention = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Local) {
		if now != nil {
			l.now = now
		}
	}
}

func NewLocal(ledger Ledger, opts ...Option) *Local {
	l := &Local{
		ledger:   ledger,
		interval:  200 * time.Millisecond,
		retention: 10 * time.Minute,
		now:       time.Now,
		logger:    slog.Default(),
		receipts:  make(map[id.TxRef]*models.Receipt),
		settledAt: make(map[id.TxRef]time.Time),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Submit accepts an operation into the mempool and returns its reference.
// The operation has no effect until a block includes it.
func (l *Local) Submit(ctx context.Context, op models.Operation) (id.TxRef, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := op.Validate(); err != nil {
		return "", err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.unavailable {
		return "", fmt.Errorf("%w: chain not accepting submissions", sentinel.ErrUnavailable)
	}
	ref := id.NewTxRef()
	l.mempool = append(l.mempool, pendingTx{ref: ref, op: op})
	l.receipts[ref] = &models.Receipt{TxRef: ref, Status: models.ReceiptPending}
	return ref, nil
}

// Receipt returns the current state of a submitted transaction.
func (l *Local) Receipt(ctx context.Context, ref id.TxRef) (models.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return models.Receipt{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.receipts[ref]
	if !ok {
		return models.Receipt{}, sentinel.ErrNotFound
	}
	return *r, nil
}

// Run produces a block every interval until ctx is done.
func (l *Local) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.ProduceBlock(ctx)
		}
	}
}

// ProduceBlock executes every queued transaction in submission order and
// returns how many it included. A halted chain includes nothing. Final
// receipts older than the retention are dropped first.
func (l *Local) ProduceBlock(ctx context.Context) int {
	l.mu.Lock()
	l.pruneLocked()
	if l.halted || len(l.mempool) == 0 {
		l.mu.Unlock()
		return 0
	}
	batch := l.mempool
	l.mempool = nil
	l.height++
	height := l.height
	l.mu.Unlock()

	for _, tx := range batch {
		receipt := l.execute(ctx, tx)
		receipt.Block = height
		l.mu.Lock()
		l.receipts[tx.ref] = &receipt
		l.settledAt[tx.ref] = l.now()
		l.mu.Unlock()
	}
	l.logger.DebugContext(ctx, "block produced", "height", height, "transactions", len(batch))
	return len(batch)
}

func (l *Local) pruneLocked() {
	cutoff := l.now().Add(-l.retention)
	for ref, at := range l.settledAt {
		if at.Before(cutoff) {
			delete(l.receipts, ref)
			delete(l.settledAt, ref)
		}
	}
}

func (l *Local) execute(ctx context.Context, tx pendingTx) models.Receipt {
	op := tx.op
	ref := op.RequestID.String()
	var (
		rec *ledgermodels.CreditRecord
		err error
	)
	switch op.Kind {
	case models.OpIssue:
		rec, err = l.ledger.Issue(ctx, ledgermodels.IssueCommand{
			ID: op.CreditID, Issuer: op.Requester, Holder: op.Requester, Amount: op.Amount,
			RequestRef: ref, TxRef: tx.ref,
		})
	case models.OpTransfer:
		rec, err = l.ledger.Transfer(ctx, ledgermodels.TransferCommand{
			ID: op.CreditID, Requester: op.Requester, NewHolder: op.Counterparty,
			RequestRef: ref, TxRef: tx.ref,
		})
	case models.OpRetire:
		rec, err = l.ledger.Retire(ctx, ledgermodels.RetireCommand{
			ID: op.CreditID, Requester: op.Requester, RequestRef: ref, TxRef: tx.ref,
		})
	default:
		err = dErrors.New(dErrors.CodeValidation, "unknown operation kind")
	}
	if err != nil {
		var de *dErrors.Error
		reason := "execution reverted"
		if errors.As(err, &de) {
			reason = de.Message
		}
		return models.Receipt{TxRef: tx.ref, Status: models.ReceiptReverted, Code: dErrors.GetCode(err), Reason: reason}
	}
	return models.Receipt{TxRef: tx.ref, Status: models.ReceiptConfirmed, Record: rec}
}

// Halt stops block production; submissions are still accepted.
func (l *Local) Halt() {
	l.mu.Lock()
	l.halted = true
	l.mu.Unlock()
}

func (l *Local) Resume() {
	l.mu.Lock()
	l.halted = false
	l.mu.Unlock()
}

// SetAvailable toggles whether Submit accepts transactions.
func (l *Local) SetAvailable(available bool) {
	l.mu.Lock()
	l.unavailable = !available
	l.mu.Unlock()
}

// Height returns the number of blocks produced.
func (l *Local) Height() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.height
}
