package jwt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_RoundTrip(t *testing.T) {
	m := NewManager("test-secret", 60, 3600)

	token, err := m.GenerateAccessToken(42, "acme", "hr", "Hana")
	require.NoError(t, err)

	claims, err := m.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), claims.UserID)
	assert.Equal(t, "acme", claims.TenantID)
	assert.Equal(t, "hr", claims.Role)
	assert.Equal(t, "Hana", claims.Name)
}

func TestManager_Expired(t *testing.T) {
	m := NewManager("test-secret", -10, 3600)

	token, err := m.GenerateAccessToken(1, "", "admin", "root")
	require.NoError(t, err)

	_, err = m.VerifyToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestManager_WrongSecret(t *testing.T) {
	token, err := NewManager("a", 60, 60).GenerateAccessToken(1, "t", "employee", "x")
	require.NoError(t, err)

	_, err = NewManager("b", 60, 60).VerifyToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewManager("b", 60, 60).VerifyToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
