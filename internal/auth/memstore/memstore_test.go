package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/M4urici0GM/tcproxy-sub000/internal/auth"
)

func TestStoreVerifyAcceptsCorrectPassword(t *testing.T) {
	s := New()
	require.NoError(t, s.AddUser("acct-1", "alice@example.com", "hunter2"))

	got, err := s.Verify(context.Background(), "alice@example.com", "hunter2", "")
	require.NoError(t, err)
	require.Equal(t, auth.Account{ID: "acct-1", Email: "alice@example.com"}, got)
}

func TestStoreVerifyRejectsWrongPassword(t *testing.T) {
	s := New()
	require.NoError(t, s.AddUser("acct-1", "alice@example.com", "hunter2"))

	_, err := s.Verify(context.Background(), "alice@example.com", "wrong", "")
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestStoreVerifyRejectsUnknownUser(t *testing.T) {
	s := New()

	_, err := s.Verify(context.Background(), "nobody@example.com", "x", "")
	require.ErrorIs(t, err, auth.ErrUnknownUser)
}
