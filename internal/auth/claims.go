package auth

import "github.com/golang-jwt/jwt/v5"

// Claims are the access token claims issued by the identity provider.
// The subject is the user's UUID.
type Claims struct {
	jwt.RegisteredClaims
	Role  string `json:"role,omitempty"`
	Email string `json:"email,omitempty"`
}
