package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLooksLikeToken(t *testing.T) {
	token, err := IssueAppToken("secret", "alice@example.com", time.Hour)
	require.NoError(t, err)
	assert.True(t, LooksLikeToken(token))

	assert.False(t, LooksLikeToken("hunter2"))
	assert.False(t, LooksLikeToken("pass.with.dots"))
	assert.False(t, LooksLikeToken("eyJhbGciOiJIUzI1NiJ9"))
}

func TestVerifyAppToken(t *testing.T) {
	token, err := IssueAppToken("secret", "alice@example.com", time.Hour)
	require.NoError(t, err)

	assert.NoError(t, VerifyAppToken("secret", "alice@example.com", token))
	// The subject comparison is case-insensitive.
	assert.NoError(t, VerifyAppToken("secret", "Alice@Example.COM", token))
}

func TestVerifyAppTokenWrongSecret(t *testing.T) {
	token, err := IssueAppToken("secret", "alice@example.com", time.Hour)
	require.NoError(t, err)
	assert.Error(t, VerifyAppToken("other", "alice@example.com", token))
}

func TestVerifyAppTokenWrongSubject(t *testing.T) {
	token, err := IssueAppToken("secret", "alice@example.com", time.Hour)
	require.NoError(t, err)
	assert.Error(t, VerifyAppToken("secret", "bob@example.com", token))
}

func TestVerifyAppTokenExpired(t *testing.T) {
	token, err := IssueAppToken("secret", "alice@example.com", -time.Minute)
	require.NoError(t, err)
	assert.Error(t, VerifyAppToken("secret", "alice@example.com", token))
}

func TestVerifyAppTokenGarbage(t *testing.T) {
	assert.Error(t, VerifyAppToken("secret", "alice@example.com", "eyJ.not.atoken"))
}
