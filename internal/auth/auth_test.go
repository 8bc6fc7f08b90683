package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateToken(t *testing.T) {
	svc := NewService("test-secret")
	svc.RegisterAPICredentials("buyer-key", "buyer-secret")

	token, err := svc.GenerateToken(Credentials{APIKey: "buyer-key", APISecret: "buyer-secret"})
	require.NoError(t, err)
	require.NotEmpty(t, token.Token)

	claims, err := svc.ValidateToken(token.Token)
	require.NoError(t, err)
	assert.Equal(t, "buyer-key", claims.PartyID)
	assert.Contains(t, claims.Permissions, "escrow")
}

func TestGenerateTokenInvalidCredentials(t *testing.T) {
	svc := NewService("test-secret")
	svc.RegisterAPICredentials("buyer-key", "buyer-secret")

	_, err := svc.GenerateToken(Credentials{APIKey: "buyer-key", APISecret: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.GenerateToken(Credentials{APIKey: "unknown", APISecret: "buyer-secret"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestValidateTokenWrongSecret(t *testing.T) {
	svc := NewService("test-secret")
	svc.RegisterAPICredentials("buyer-key", "buyer-secret")

	token, err := svc.GenerateToken(Credentials{APIKey: "buyer-key", APISecret: "buyer-secret"})
	require.NoError(t, err)

	other := NewService("different-secret")
	_, err = other.ValidateToken(token.Token)
	assert.Error(t, err)
}
