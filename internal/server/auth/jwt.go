// Package auth issues and verifies the credentials handed to clients:
// signed JWTs for access and for the login bridge, and opaque refresh
// tokens persisted server-side.
package auth

import (
	"errors"
	"time"

	"github.com/dmitrijs2005/passkeeper/internal/common"
	"github.com/dmitrijs2005/passkeeper/internal/timex"
	"github.com/golang-jwt/jwt/v5"
)

// Purpose separates full access tokens from the temporary token that only
// bridges the two login phases.
type Purpose string

const (
	PurposeAccess    Purpose = "access"
	PurposeTemporary Purpose = "login"
)

// Claims is the JWT payload: standard registered claims plus the user id
// and the token's purpose.
type Claims struct {
	jwt.RegisteredClaims
	UserID  string  `json:"userId"`
	Purpose Purpose `json:"purpose"`
}

// Issuer signs and verifies HS256 tokens with a server-held key.
type Issuer struct {
	key []byte
	now timex.Clock
}

// NewIssuer returns an Issuer. A nil clock means timex.UTCNow.
func NewIssuer(key []byte, now timex.Clock) *Issuer {
	if now == nil {
		now = timex.UTCNow
	}
	return &Issuer{key: key, now: now}
}

// Issue signs a token for userID valid for ttl from now and returns the
// expiry written into it. The exp claim has whole-second precision, so the
// expiry is rounded up and the token never lapses before now+ttl.
func (i *Issuer) Issue(userID string, purpose Purpose, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		return "", time.Time{}, errors.New("token ttl must be positive")
	}
	now := i.now()
	expires := ceilSecond(now.Add(ttl))
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		UserID:  userID,
		Purpose: purpose,
	})

	signed, err := token.SignedString(i.key)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

func ceilSecond(t time.Time) time.Time {
	if r := t.Truncate(time.Second); !r.Equal(t) {
		return r.Add(time.Second)
	}
	return t
}

// Verify parses tokenString and checks signature, expiry and purpose.
// Every failure collapses to common.ErrInvalidToken so callers cannot
// tell a forged token from an expired one.
func (i *Issuer) Verify(tokenString string, purpose Purpose) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return i.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || !token.Valid {
		return nil, common.ErrInvalidToken
	}
	if claims.Purpose != purpose || claims.UserID == "" {
		return nil, common.ErrInvalidToken
	}

	return claims, nil
}
