package jwttoken

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "hycredit/pkg/domain"
	dErrors "hycredit/pkg/domain-errors"
)

var (
	jwtService = NewJWTService("test-signing-key", "test-issuer", "test-audience")
	plant      = id.Actor{ID: "plant-a", Role: id.RolePlant}
	expiresIn  = time.Hour
)

func Test_GenerateAccessToken(t *testing.T) {
	token, err := jwtService.GenerateAccessToken(plant, expiresIn)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := jwtService.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "plant-a", claims.Subject)
	assert.Equal(t, "plant", claims.Role)
	assert.NotEmpty(t, claims.ID)
	assert.WithinDuration(t, time.Now().Add(expiresIn), claims.ExpiresAt.Time, time.Minute)
}

func Test_GenerateAccessToken_RequiresActor(t *testing.T) {
	_, err := jwtService.GenerateAccessToken(id.Actor{ID: "x"}, expiresIn)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func Test_ValidateToken_InvalidToken(t *testing.T) {
	_, err := jwtService.ValidateToken("invalid-token-string")
	require.Error(t, err)
	assert.Equal(t, "invalid token", dErrors.Message(err))
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func Test_ValidateToken_ExpiredToken(t *testing.T) {
	token, err := jwtService.GenerateAccessToken(plant, -time.Hour)
	require.NoError(t, err)

	_, err = jwtService.ValidateToken(token)
	require.Error(t, err)
	assert.Equal(t, "token has expired", dErrors.Message(err))
}

func Test_ValidateToken_WrongAudience(t *testing.T) {
	other := NewJWTService("test-signing-key", "test-issuer", "someone-else")
	token, err := other.GenerateAccessToken(plant, expiresIn)
	require.NoError(t, err)

	_, err = jwtService.ValidateToken(token)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func Test_ValidateToken_WrongKey(t *testing.T) {
	other := NewJWTService("another-key", "test-issuer", "test-audience")
	token, err := other.GenerateAccessToken(plant, expiresIn)
	require.NoError(t, err)

	_, err = jwtService.ValidateToken(token)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func Test_Adapter(t *testing.T) {
	token, err := jwtService.GenerateAccessToken(plant, expiresIn)
	require.NoError(t, err)

	claims, err := NewJWTServiceAdapter(jwtService).ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "plant-a", claims.ActorID)
	assert.Equal(t, "plant", claims.Role)
	assert.NotEmpty(t, claims.JTI)
}
