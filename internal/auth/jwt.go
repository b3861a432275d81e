// Package auth verifies the HS256 access tokens presented by room clients.
// Issuing tokens is the identity provider's job and lives elsewhere.
package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aelexs/musicroom/internal/domain"
)

// ErrTokenExpired is returned when a validly signed token has expired.
// Callers can use errors.Is without importing the JWT library.
var ErrTokenExpired = jwt.ErrTokenExpired

// DefaultAudience is the audience claim carried by signed-in user tokens.
const DefaultAudience = "authenticated"

// Validator validates access tokens signed with a shared HMAC secret.
type Validator struct {
	secret   domain.SecretString
	issuer   string
	audience string
	clock    domain.Clock
}

// ValidatorConfig holds configuration for creating a Validator. An empty
// Issuer skips the issuer check.
type ValidatorConfig struct {
	Secret   domain.SecretString
	Issuer   string
	Audience string
	Clock    domain.Clock
}

// NewValidator creates a new JWT validator.
func NewValidator(cfg ValidatorConfig) *Validator {
	audience := cfg.Audience
	if audience == "" {
		audience = DefaultAudience
	}
	return &Validator{
		secret:   cfg.Secret,
		issuer:   cfg.Issuer,
		audience: audience,
		clock:    cfg.Clock,
	}
}

// ValidateAccessToken parses and fully validates a JWT access token.
func (v *Validator) ValidateAccessToken(tokenString string) (*Claims, error) {
	var claims Claims

	opts := []jwt.ParserOption{
		jwt.WithAudience(v.audience),
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(v.clock.Now),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	if _, err := jwt.ParseWithClaims(tokenString, &claims, v.keyFunc, opts...); err != nil {
		return nil, fmt.Errorf("invalid access token: %w", err)
	}
	return &claims, nil
}

// Authenticate validates tokenString and returns the user it identifies.
// Every failure wraps domain.ErrUnauthorized.
func (v *Validator) Authenticate(tokenString string) (domain.UserID, error) {
	if tokenString == "" {
		return domain.UserID{}, fmt.Errorf("missing access token: %w", domain.ErrUnauthorized)
	}
	claims, err := v.ValidateAccessToken(tokenString)
	if err != nil {
		return domain.UserID{}, fmt.Errorf("%w: %w", domain.ErrUnauthorized, err)
	}
	userID, err := domain.NewUserID(claims.Subject)
	if err != nil {
		return domain.UserID{}, fmt.Errorf("%w: subject: %w", domain.ErrUnauthorized, err)
	}
	return userID, nil
}

func (v *Validator) keyFunc(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	if v.secret.IsEmpty() {
		return nil, fmt.Errorf("no verification secret configured")
	}
	return v.secret.Bytes(), nil
}
