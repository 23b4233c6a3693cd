package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndValidate(t *testing.T) {
	s, err := NewSigner("key", "secret", time.Hour)
	require.NoError(t, err)

	tok, exp, err := s.Sign("instance-1", "alice")
	require.NoError(t, err)
	assert.Greater(t, exp, time.Now().Unix())

	claims, err := s.Validate(tok)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, "alice", claims.UserID)
	assert.Equal(t, "instance-1", claims.Instance)
	assert.Equal(t, "api_keys/key", claims.Issuer)
}

func TestValidateExpired(t *testing.T) {
	s, err := NewSigner("key", "secret", time.Minute)
	require.NoError(t, err)
	s.now = func() time.Time { return time.Now().Add(-time.Hour) }

	tok, _, err := s.Sign("i", "bob")
	require.NoError(t, err)

	s.now = time.Now
	_, err = s.Validate(tok)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestValidateWrongSecret(t *testing.T) {
	a, err := NewSigner("key", "right", time.Hour)
	require.NoError(t, err)
	b, err := NewSigner("key", "wrong", time.Hour)
	require.NoError(t, err)

	tok, _, err := a.Sign("i", "carol")
	require.NoError(t, err)

	_, err = b.Validate(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewSignerRequiresSecret(t *testing.T) {
	_, err := NewSigner("key", "", time.Hour)
	assert.ErrorIs(t, err, ErrEmptySecret)
}
