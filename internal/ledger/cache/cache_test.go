package cache

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hycredit/internal/ledger/models"
	id "hycredit/pkg/domain"
	dErrors "hycredit/pkg/domain-errors"
)

type stubLoader struct {
	records map[id.CreditID]*models.CreditRecord
	calls   int
}

func (l *stubLoader) Get(_ context.Context, creditID id.CreditID) (*models.CreditRecord, error) {
	l.calls++
	rec, ok := l.records[creditID]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "credit not found")
	}
	return rec.Clone(), nil
}

func TestHolderView(t *testing.T) {
	ctx := context.Background()
	loader := &stubLoader{records: map[id.CreditID]*models.CreditRecord{
		"CR-1": {ID: "CR-1", Holder: "plant-a", Amount: decimal.NewFromInt(10)},
	}}
	backend := NewMemoryBackend()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	backend.now = func() time.Time { return clock }
	view := NewHolderView(backend, loader, time.Minute)

	t.Run("loads on miss and serves from cache", func(t *testing.T) {
		entry, err := view.Lookup(ctx, "CR-1")
		require.NoError(t, err)
		assert.Equal(t, id.ActorID("plant-a"), entry.Holder)
		assert.Equal(t, "10", entry.Amount)

		loader.records["CR-1"].Holder = "industry-b"
		entry, err = view.Lookup(ctx, "CR-1")
		require.NoError(t, err)
		assert.Equal(t, id.ActorID("plant-a"), entry.Holder, "stale until invalidated")
		assert.Equal(t, 1, loader.calls)
	})

	t.Run("ledger event invalidates entry", func(t *testing.T) {
		require.NoError(t, view.Publish(ctx, &models.Event{CreditID: "CR-1", Kind: models.EventTransferred}))
		entry, err := view.Lookup(ctx, "CR-1")
		require.NoError(t, err)
		assert.Equal(t, id.ActorID("industry-b"), entry.Holder)
	})

	t.Run("entries expire", func(t *testing.T) {
		loader.records["CR-1"].Retired = true
		clock = clock.Add(2 * time.Minute)
		entry, err := view.Lookup(ctx, "CR-1")
		require.NoError(t, err)
		assert.True(t, entry.Retired)
	})

	t.Run("unknown credit passes loader error through", func(t *testing.T) {
		_, err := view.Lookup(ctx, "CR-missing")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}
