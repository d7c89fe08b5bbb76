// Package cache keeps an off-chain view of who holds each credit. The view is
// advisory: submission checks read it, the ledger decides at commit time.
package cache

import (
	"context"
	"errors"
	"time"

	"hycredit/internal/ledger/models"
	id "hycredit/pkg/domain"
	dErrors "hycredit/pkg/domain-errors"
)

// Entry is the cached slice of a credit record needed for submission checks.
type Entry struct {
	CreditID id.CreditID `json:"credit_id"`
	Holder   id.ActorID  `json:"holder"`
	Retired  bool        `json:"retired"`
	Amount   string      `json:"amount"`
}

func entryFrom(rec *models.CreditRecord) Entry {
	return Entry{CreditID: rec.ID, Holder: rec.Holder, Retired: rec.Retired, Amount: rec.Amount.String()}
}

// ErrMiss is returned by backends when a key is absent or expired.
var ErrMiss = errors.New("holder cache miss")

type Backend interface {
	Get(ctx context.Context, creditID id.CreditID) (Entry, error)
	Set(ctx context.Context, entry Entry, ttl time.Duration) error
	Delete(ctx context.Context, creditID id.CreditID) error
}

// Loader reads the authoritative record on a miss.
type Loader interface {
	Get(ctx context.Context, creditID id.CreditID) (*models.CreditRecord, error)
}

// LoaderFunc adapts a function to Loader, letting the view be built before
// the ledger it reads from.
type LoaderFunc func(ctx context.Context, creditID id.CreditID) (*models.CreditRecord, error)

func (f LoaderFunc) Get(ctx context.Context, creditID id.CreditID) (*models.CreditRecord, error) {
	return f(ctx, creditID)
}

// HolderView is a read-through cache over the ledger.
type HolderView struct {
	backend Backend
	loader  Loader
	ttl     time.Duration
}

func NewHolderView(backend Backend, loader Loader, ttl time.Duration) *HolderView {
	return &HolderView{backend: backend, loader: loader, ttl: ttl}
}

// Lookup returns the cached entry or loads it from the ledger. Ledger errors
// (NotFound in particular) pass through unchanged.
func (v *HolderView) Lookup(ctx context.Context, creditID id.CreditID) (Entry, error) {
	entry, err := v.backend.Get(ctx, creditID)
	if err == nil {
		return entry, nil
	}
	if !errors.Is(err, ErrMiss) {
		return Entry{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "holder cache unavailable")
	}
	rec, err := v.loader.Get(ctx, creditID)
	if err != nil {
		return Entry{}, err
	}
	entry = entryFrom(rec)
	// A failed fill only costs a reload next time.
	_ = v.backend.Set(ctx, entry, v.ttl)
	return entry, nil
}

// Publish invalidates the entry touched by a committed ledger event, so the
// view can be registered alongside other event publishers.
func (v *HolderView) Publish(ctx context.Context, event *models.Event) error {
	return v.backend.Delete(ctx, event.CreditID)
}
