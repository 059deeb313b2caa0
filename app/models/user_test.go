package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateUserHashesPassword(t *testing.T) {
	user, err := CreateUser("alice", "alice@example.com", "secret123")
	require.NoError(t, err)

	assert.Equal(t, ROLE_USER, user.Role)
	assert.Equal(t, STATUS_INACTIVE, user.Status)
	assert.NotEqual(t, "secret123", user.Password)
	assert.True(t, user.CheckPassword("secret123"))
	assert.False(t, user.CheckPassword("wrong"))
}

func TestCreateUserRejectsInvalidInput(t *testing.T) {
	_, err := CreateUser("al", "alice@example.com", "secret123")
	assert.Error(t, err) // name too short

	_, err = CreateUser("alice", "not-an-email", "secret123")
	assert.Error(t, err)

	_, err = CreateUser("alice", "alice@example.com", "short")
	assert.Error(t, err) // password below minimum length
}

func TestSetPasswordReplacesHash(t *testing.T) {
	user, err := CreateUser("alice", "alice@example.com", "secret123")
	require.NoError(t, err)

	require.NoError(t, user.SetPassword("changed456"))
	assert.False(t, user.CheckPassword("secret123"))
	assert.True(t, user.CheckPassword("changed456"))
}

func TestGenerateAPIKeyStoresOnlyHash(t *testing.T) {
	user := &User{}

	key, err := user.GenerateAPIKey()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "pm_"))
	assert.Len(t, key, 3+64)
	assert.Equal(t, HashAPIKey(key), user.APIKeyHash)
	assert.NotContains(t, user.APIKeyHash, key)

	second, err := user.GenerateAPIKey()
	require.NoError(t, err)
	assert.NotEqual(t, key, second)
	assert.Equal(t, HashAPIKey(second), user.APIKeyHash)
}
