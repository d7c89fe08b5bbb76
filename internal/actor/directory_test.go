package actor

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "hycredit/pkg/domain"
	dErrors "hycredit/pkg/domain-errors"
)

func TestMemoryDirectory(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory(
		Profile{ID: "auditor-1", Role: id.RoleAuditor},
		Profile{ID: "plant-a", Role: id.RolePlant, AuditorID: "auditor-1"},
		Profile{ID: "plant-orphan", Role: id.RolePlant},
		Profile{ID: "plant-misassigned", Role: id.RolePlant, AuditorID: "plant-a"},
	)

	t.Run("resolves assigned auditor", func(t *testing.T) {
		auditor, err := dir.AssignedAuditor(ctx, "plant-a")
		require.NoError(t, err)
		assert.Equal(t, id.ActorID("auditor-1"), auditor)
	})

	t.Run("missing assignment is a validation error", func(t *testing.T) {
		_, err := dir.AssignedAuditor(ctx, "plant-orphan")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		_, err = dir.AssignedAuditor(ctx, "plant-misassigned")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("unknown actor", func(t *testing.T) {
		_, err := dir.Lookup(ctx, "nobody")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	t.Run("register rejects invalid role", func(t *testing.T) {
		err := dir.Register(Profile{ID: "x", Role: "admin"})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func TestStatsAdd(t *testing.T) {
	s := NewStats("plant-a")
	s.Add(Delta{ActorID: "plant-a", Field: StatGenerated, Amount: decimal.NewFromInt(100)})
	s.Add(Delta{ActorID: "plant-a", Field: StatRetired, Amount: decimal.NewFromInt(5)})
	s.Add(Delta{ActorID: "industry-b", Field: StatBought, Amount: decimal.NewFromInt(7)})
	assert.True(t, s.Generated.Equal(decimal.NewFromInt(100)))
	assert.True(t, s.Field(StatRetired).Equal(decimal.NewFromInt(5)))
	assert.True(t, s.Bought.IsZero())
}
