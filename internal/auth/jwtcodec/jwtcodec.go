// Package jwtcodec is the default auth.TokenCodec: it mints and verifies
// HMAC-signed JWTs carrying the registered claims (sub, iat, exp, iss, aud)
// the wire protocol's AuthenticateAck and token-grant Authenticate rely on.
package jwtcodec

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/M4urici0GM/tcproxy-sub000/internal/auth"
)

// Codec signs tokens with a single shared HMAC secret. Rotation and
// asymmetric signing are left to a future TokenCodec implementation.
type Codec struct {
	secret []byte
}

// New returns a Codec signing with secret. secret must not be empty.
func New(secret []byte) *Codec {
	return &Codec{secret: secret}
}

// Encode implements auth.TokenCodec.
func (c *Codec) Encode(claims auth.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   claims.Subject,
		Issuer:    claims.Issuer,
		Audience:  jwt.ClaimStrings{claims.Audience},
		IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
		ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
	})

	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("jwtcodec: sign: %w", err)
	}
	return signed, nil
}

// Decode implements auth.TokenCodec.
func (c *Codec) Decode(token string) (auth.Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return c.secret, nil
	})
	if err != nil || !parsed.Valid {
		return auth.Claims{}, auth.ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok {
		return auth.Claims{}, auth.ErrInvalidToken
	}

	out := auth.Claims{
		Subject: claims.Subject,
		Issuer:  claims.Issuer,
	}
	if len(claims.Audience) > 0 {
		out.Audience = claims.Audience[0]
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}
