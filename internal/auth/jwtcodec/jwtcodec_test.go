package jwtcodec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/M4urici0GM/tcproxy-sub000/internal/auth"
)

func TestCodecEncodeDecodeRoundTrip(t *testing.T) {
	c := New([]byte("test-secret"))

	now := time.Now().Truncate(time.Second)
	claims := auth.Claims{
		Subject:   "acct-1",
		Issuer:    "tcproxy-server",
		Audience:  "tcproxy-client",
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
	}

	token, err := c.Encode(claims)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	got, err := c.Decode(token)
	require.NoError(t, err)
	require.Equal(t, claims.Subject, got.Subject)
	require.Equal(t, claims.Issuer, got.Issuer)
	require.Equal(t, claims.Audience, got.Audience)
	require.WithinDuration(t, claims.ExpiresAt, got.ExpiresAt, time.Second)
}

func TestCodecDecodeRejectsTamperedToken(t *testing.T) {
	c := New([]byte("test-secret"))

	token, err := c.Encode(auth.Claims{Subject: "acct-1", ExpiresAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	_, err = c.Decode(token + "tampered")
	require.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestCodecDecodeRejectsExpiredToken(t *testing.T) {
	c := New([]byte("test-secret"))

	token, err := c.Encode(auth.Claims{
		Subject:   "acct-1",
		IssuedAt:  time.Now().Add(-2 * time.Hour),
		ExpiresAt: time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)

	_, err = c.Decode(token)
	require.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestCodecDecodeRejectsGarbage(t *testing.T) {
	c := New([]byte("test-secret"))

	_, err := c.Decode("not-a-jwt")
	require.ErrorIs(t, err, auth.ErrInvalidToken)
}
