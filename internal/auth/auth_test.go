package auth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd-25/Meetup/internal/auth"
)

func TestVerifyRoundTrip(t *testing.T) {
	v := auth.NewVerifier("test-secret")

	token, err := v.Sign(auth.Identity{
		UserID:         "user-1",
		TeamID:         "team-1",
		OrganizationID: "org-1",
	}, time.Minute)
	require.NoError(t, err)

	id, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", id.UserID)
	assert.Equal(t, "team-1", id.TeamID)
	assert.Equal(t, "org-1", id.OrganizationID)
}

func TestVerifyExpiredToken(t *testing.T) {
	v := auth.NewVerifier("test-secret")

	token, err := v.Sign(auth.Identity{UserID: "user-1"}, -time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, auth.ErrExpiredToken)
}

func TestVerifyWrongSecret(t *testing.T) {
	signer := auth.NewVerifier("secret-a")
	verifier := auth.NewVerifier("secret-b")

	token, err := signer.Sign(auth.Identity{UserID: "user-1"}, time.Minute)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestVerifyGarbage(t *testing.T) {
	v := auth.NewVerifier("test-secret")
	_, err := v.Verify("not.a.token")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}
