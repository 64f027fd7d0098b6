package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInviteTokenRoundTrip(t *testing.T) {
	tokens := NewInviteTokens("secret", time.Hour)

	raw, err := tokens.Issue("u-1")
	require.NoError(t, err)
	userID, err := tokens.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "u-1", userID)
}

func TestInviteTokenRejections(t *testing.T) {
	tokens := NewInviteTokens("secret", time.Hour)
	raw, err := tokens.Issue("u-1")
	require.NoError(t, err)

	_, err = NewInviteTokens("other-secret", time.Hour).Parse(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := NewInviteTokens("secret", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = expired.Parse(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)

	foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, inviteClaims{
		Purpose: "reset_everything",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = tokens.Parse(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = tokens.Issue("")
	assert.Error(t, err)
}
