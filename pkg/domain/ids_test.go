package domain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "hycredit/pkg/domain-errors"
)

// TestParseRequestID_Invariants validates that request ids are valid,
// non-empty, non-nil UUIDs.
func TestParseRequestID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseRequestID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseRequestID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseRequestID(uuid.Nil.String())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		valid := uuid.New()
		id, err := ParseRequestID(valid.String())
		require.NoError(t, err)
		assert.Equal(t, RequestID(valid), id)
	})
}

func TestParseCreditID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"SQL injection attempt", "'; DROP TABLE credits;--", true},
		{"Path traversal", "../../../etc/passwd", true},
		{"Null byte injection", "CR-1\x00", true},
		{"Oversized input", strings.Repeat("a", 65), true},
		{"Whitespace", "CR 1", true},
		{"Empty string", "", true},

		{"Simple", "CR-1", false},
		{"Dotted with colon", "plant.7:2026-Q1_04", false},
		{"Max length", strings.Repeat("a", 64), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCreditID(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestParseActorID(t *testing.T) {
	_, err := ParseActorID("")
	require.Error(t, err)

	_, err = ParseActorID("plant\u200b7")
	require.Error(t, err)

	_, err = ParseActorID("plant 7")
	require.Error(t, err)

	id, err := ParseActorID("did:web:plant-7.example")
	require.NoError(t, err)
	assert.Equal(t, ActorID("did:web:plant-7.example"), id)
}

func TestRoleCapabilities(t *testing.T) {
	assert.True(t, RolePlant.CanIssue())
	assert.False(t, RoleIndustry.CanIssue())
	assert.False(t, RoleAuditor.CanIssue())

	assert.True(t, RolePlant.CanHold())
	assert.True(t, RoleIndustry.CanHold())
	assert.False(t, RoleAuditor.CanHold())

	assert.True(t, RoleAuditor.CanDecide())
	assert.False(t, RolePlant.CanDecide())

	_, err := ParseRole("regulator")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestRequestIDJSON(t *testing.T) {
	reqID := NewRequestID()
	raw, err := json.Marshal(struct {
		ID RequestID `json:"id"`
	}{reqID})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"`+reqID.String()+`"}`, string(raw))

	var decoded struct {
		ID RequestID `json:"id"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, reqID, decoded.ID)
}
