// Package authtest signs access tokens the way the identity provider
// does, for tests and local development.
package authtest

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/aelexs/musicroom/internal/auth"
	"github.com/aelexs/musicroom/internal/domain"
)

// Token describes a token to sign. Zero fields get sensible defaults.
type Token struct {
	Subject  string
	Audience string
	Issuer   string
	IssuedAt time.Time
	TTL      time.Duration
	Method   jwt.SigningMethod
}

// Sign returns a signed token string.
func Sign(secret domain.SecretString, tok Token) (string, error) {
	if tok.Audience == "" {
		tok.Audience = auth.DefaultAudience
	}
	if tok.IssuedAt.IsZero() {
		tok.IssuedAt = time.Now()
	}
	if tok.TTL == 0 {
		tok.TTL = time.Hour
	}
	if tok.Method == nil {
		tok.Method = jwt.SigningMethodHS256
	}

	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   tok.Subject,
			Issuer:    tok.Issuer,
			Audience:  jwt.ClaimStrings{tok.Audience},
			IssuedAt:  jwt.NewNumericDate(tok.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(tok.IssuedAt.Add(tok.TTL)),
			ID:        uuid.NewString(),
		},
		Role: "authenticated",
	}
	return jwt.NewWithClaims(tok.Method, &claims).SignedString(secret.Bytes())
}

// MustSign is Sign that panics on error.
func MustSign(secret domain.SecretString, tok Token) string {
	s, err := Sign(secret, tok)
	if err != nil {
		panic(err)
	}
	return s
}
