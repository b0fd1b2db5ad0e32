package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	secret := []byte("k1")

	token, err := GenerateToken("u1", "d1", secret, time.Hour)
	require.NoError(t, err)

	userID, err := UserIDFromToken(token, secret)
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)
}

func TestTokenValidation(t *testing.T) {
	secret := []byte("k1")

	t.Run("wrong key", func(t *testing.T) {
		token, err := GenerateToken("u1", "d1", secret, time.Hour)
		require.NoError(t, err)

		_, err = UserIDFromToken(token, []byte("other"))
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		token, err := GenerateToken("u1", "d1", secret, -time.Minute)
		require.NoError(t, err)

		_, err = UserIDFromToken(token, secret)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := UserIDFromToken("not-a-token", secret)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}
