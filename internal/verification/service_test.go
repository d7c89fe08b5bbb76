package verification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hycredit/internal/measurement"
	id "hycredit/pkg/domain"
	dErrors "hycredit/pkg/domain-errors"
)

type failingSource struct{}

func (failingSource) Aggregate(context.Context, id.ActorID, measurement.Kind, measurement.Window) (measurement.Snapshot, error) {
	return measurement.Snapshot{}, errors.New("meter offline")
}

type countingSource struct {
	calls int
}

func (c *countingSource) Aggregate(context.Context, id.ActorID, measurement.Kind, measurement.Window) (measurement.Snapshot, error) {
	c.calls++
	return measurement.Snapshot{}, nil
}

func TestServiceVerify(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	window := measurement.Window{Start: start, End: start.Add(time.Hour)}

	primary := measurement.NewMemorySource()
	primary.Record(measurement.Reading{ActorID: "plant-a", Kind: measurement.KindProduction, Amount: decimal.NewFromInt(60), MeasuredAt: start})
	secondary := measurement.NewMemorySource()
	secondary.Record(measurement.Reading{ActorID: "plant-a", Kind: measurement.KindProduction, Amount: decimal.NewFromInt(40), MeasuredAt: start})

	evaluatedAt := start.Add(2 * time.Hour)
	svc := NewService([]NamedSource{{"primary", primary}, {"secondary", secondary}},
		WithClock(func() time.Time { return evaluatedAt }))

	t.Run("sums all feeds", func(t *testing.T) {
		reqID := id.NewRequestID()
		res, err := svc.Verify(ctx, reqID, Claim{
			Kind: measurement.KindProduction, ActorID: "plant-a", Amount: decimal.NewFromInt(100), Window: window,
		})
		require.NoError(t, err)
		assert.Equal(t, VerdictVerified, res.Verdict)
		assert.True(t, res.MeasuredAmount.Equal(decimal.NewFromInt(100)))
		assert.Equal(t, reqID, res.RequestID)
		assert.NotEqual(t, uuid.Nil, res.ID)
		assert.Equal(t, evaluatedAt, res.EvaluatedAt)
	})

	t.Run("source failure is unavailable", func(t *testing.T) {
		broken := NewService([]NamedSource{{"primary", primary}, {"broken", failingSource{}}})
		_, err := broken.Verify(ctx, id.NewRequestID(), Claim{
			Kind: measurement.KindProduction, ActorID: "plant-a", Amount: decimal.NewFromInt(1), Window: window,
		})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable))
	})

	t.Run("unlinked claim skips sources", func(t *testing.T) {
		src := &countingSource{}
		svc := NewService([]NamedSource{{"counting", src}})
		res, err := svc.Verify(ctx, id.NewRequestID(), Claim{Kind: measurement.KindProduction, Amount: decimal.NewFromInt(1)})
		require.NoError(t, err)
		assert.Equal(t, VerdictUnverified, res.Verdict)
		assert.Zero(t, src.calls)
	})
}
