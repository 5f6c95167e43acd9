package gateway

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/hearthline-chat/hearthline-server/internal/auth"
)

// jwtAuthenticator adapts the package-level auth.ValidateAccessToken function to the Authenticator interface the
// pipeline depends on.
type jwtAuthenticator struct {
	secret string
	issuer string
}

// NewJWTAuthenticator builds an Authenticator backed by the application's JWT access tokens.
func NewJWTAuthenticator(secret, issuer string) Authenticator {
	return &jwtAuthenticator{secret: secret, issuer: issuer}
}

func (a *jwtAuthenticator) ValidateAccessToken(token string) (uuid.UUID, error) {
	claims, err := auth.ValidateAccessToken(token, a.secret, a.issuer)
	if err != nil {
		return uuid.Nil, fmt.Errorf("validate token: %w", err)
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse token subject: %w", err)
	}
	return userID, nil
}
