package compliance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "hycredit/pkg/domain"
	audit "hycredit/pkg/platform/audit"
	"hycredit/pkg/platform/audit/store/memory"
)

type failingStore struct{}

func (failingStore) Append(context.Context, audit.Event) error { return errors.New("disk full") }
func (failingStore) ListByActor(context.Context, id.ActorID) ([]audit.Event, error) {
	return nil, nil
}

func TestEmitPersistsUnderComplianceCategory(t *testing.T) {
	fixed := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	store := memory.NewInMemoryStore()
	pub := New(store, WithClock(func() time.Time { return fixed }))

	err := pub.Emit(context.Background(), audit.Event{
		Category:  audit.CategoryOperations,
		ActorID:   "auditor-1",
		Action:    string(audit.EventRequestApproved),
		RequestID: "req-1",
	})
	require.NoError(t, err)

	events, err := store.ListByActor(context.Background(), "auditor-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.CategoryCompliance, events[0].Category, "category is forced")
	assert.Equal(t, fixed, events[0].Timestamp)
}

func TestEmitKeepsCallerTimestamp(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store := memory.NewInMemoryStore()
	require.NoError(t, New(store).Emit(context.Background(), audit.Event{
		ActorID:   "plant-1",
		Action:    string(audit.EventCreditIssued),
		CreditID:  "HC-1",
		Timestamp: at,
	}))
	events, err := store.ListByActor(context.Background(), "plant-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, at, events[0].Timestamp)
}

func TestEmitFailsClosed(t *testing.T) {
	pub := New(failingStore{})
	err := pub.Emit(context.Background(), audit.Event{ActorID: "auditor-1", Action: "request_approved", RequestID: "req-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Contains(t, err.Error(), "request_approved")
}

func TestEmitValidatesEvent(t *testing.T) {
	pub := New(memory.NewInMemoryStore())
	ctx := context.Background()

	assert.ErrorIs(t, pub.Emit(ctx, audit.Event{Action: "x", RequestID: "r"}), errMissingActor)
	assert.ErrorIs(t, pub.Emit(ctx, audit.Event{ActorID: "a", RequestID: "r"}), errMissingAction)
	assert.ErrorIs(t, pub.Emit(ctx, audit.Event{ActorID: "a", Action: "x"}), errMissingCorrelation)
}
