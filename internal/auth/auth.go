// Package auth defines the collaborator interfaces a session uses to turn
// an Authenticate frame into an authenticated account: looking up and
// verifying a user's credentials, and minting/verifying the bearer tokens
// returned to the client afterward.
package auth

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidCredentials is returned by UserLookup when a password or OTP
// does not match the stored account.
var ErrInvalidCredentials = errors.New("auth: invalid credentials")

// ErrUnknownUser is returned by UserLookup when no account matches the
// given identifier.
var ErrUnknownUser = errors.New("auth: unknown user")

// ErrInvalidToken is returned by TokenCodec.Decode for an expired,
// malformed, or signature-invalid token.
var ErrInvalidToken = errors.New("auth: invalid token")

// Account is the authenticated identity carried forward once a session
// passes Authenticate.
type Account struct {
	ID    string
	Email string
}

// UserLookup verifies the credentials carried by a password-grant
// Authenticate frame. Implementations own whatever storage backs the user
// table; the session only ever sees Account or an error.
type UserLookup interface {
	Verify(ctx context.Context, email, password, otp string) (Account, error)
}

// Claims is the payload of an issued token, mirroring the standard JWT
// registered claim names the wire protocol commits to.
type Claims struct {
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Issuer    string
	Audience  string
}

// TokenCodec mints and verifies the bearer tokens returned in
// AuthenticateAck and accepted by a token-grant Authenticate.
type TokenCodec interface {
	Encode(claims Claims) (string, error)
	Decode(token string) (Claims, error)
}
