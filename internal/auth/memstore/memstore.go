// Package memstore is the default in-memory auth.UserLookup: a fixed table
// of accounts with bcrypt-hashed passwords, the same hashing scheme the
// original account record used for its password_hash field. It exists so
// the server has a working UserLookup out of the box; production
// deployments are expected to supply their own.
package memstore

import (
	"context"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/M4urici0GM/tcproxy-sub000/internal/auth"
)

type account struct {
	id           string
	email        string
	passwordHash []byte
}

// Store is a concurrency-safe, in-memory auth.UserLookup. OTP verification
// is deliberately left a no-op hook: it always succeeds, since this default
// store has no TOTP secret to check against.
type Store struct {
	mu      sync.RWMutex
	byEmail map[string]account
}

// New returns an empty Store.
func New() *Store {
	return &Store{byEmail: make(map[string]account)}
}

// AddUser registers an account with a bcrypt-hashed password. Intended for
// startup seeding or tests, not a live admin path.
func (s *Store) AddUser(id, email, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byEmail[email] = account{id: id, email: email, passwordHash: hash}
	return nil
}

// Verify implements auth.UserLookup.
func (s *Store) Verify(_ context.Context, email, password, _ string) (auth.Account, error) {
	s.mu.RLock()
	acc, ok := s.byEmail[email]
	s.mu.RUnlock()

	if !ok {
		return auth.Account{}, auth.ErrUnknownUser
	}

	if err := bcrypt.CompareHashAndPassword(acc.passwordHash, []byte(password)); err != nil {
		return auth.Account{}, auth.ErrInvalidCredentials
	}

	return auth.Account{ID: acc.id, Email: acc.email}, nil
}
