package jwttoken

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"receiv3/pkg/domain"
	dErrors "receiv3/pkg/domain-errors"
)

var (
	jwtService = NewJWTService("test-signing-key", "receiv3", "receiv3-api")
	exporter   = domain.MustAddress("0x00000000000000000000000000000000000000e1")
)

func Test_GenerateAccessToken(t *testing.T) {
	token, err := jwtService.GenerateAccessToken(exporter, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := jwtService.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, exporter.String(), claims.Subject)
	assert.NotEmpty(t, claims.ID)

	caller, err := jwtService.Caller(token)
	require.NoError(t, err)
	assert.Equal(t, exporter, caller)
}

func Test_ValidateToken_Expired(t *testing.T) {
	token, err := jwtService.GenerateAccessToken(exporter, -time.Minute)
	require.NoError(t, err)

	_, err = jwtService.ValidateToken(token)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	assert.Contains(t, err.Error(), "expired")
}

func Test_ValidateToken_WrongKeyOrAudience(t *testing.T) {
	other := NewJWTService("other-key", "receiv3", "receiv3-api")
	token, err := other.GenerateAccessToken(exporter, time.Hour)
	require.NoError(t, err)
	_, err = jwtService.ValidateToken(token)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))

	wrongAud := NewJWTService("test-signing-key", "receiv3", "someone-else")
	token, err = wrongAud.GenerateAccessToken(exporter, time.Hour)
	require.NoError(t, err)
	_, err = jwtService.ValidateToken(token)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func Test_Caller_RejectsNonAddressSubject(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "alice",
		Issuer:    "receiv3",
		Audience:  []string{"receiv3-api"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}})
	signed, err := token.SignedString([]byte("test-signing-key"))
	require.NoError(t, err)

	_, err = jwtService.Caller(signed)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}
