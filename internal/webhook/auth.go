// Package webhook implements the HTTP ingestion endpoint that receives raw
// messages from the edge mail router.
package webhook

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidToken is returned when a request token does not match.
var ErrInvalidToken = errors.New("invalid webhook token")

// TokenAuthenticator verifies the shared webhook token against a bcrypt hash.
type TokenAuthenticator struct {
	hash []byte
}

// NewTokenAuthenticator creates a TokenAuthenticator. An empty hash disables
// token checks.
func NewTokenAuthenticator(hash string) *TokenAuthenticator {
	return &TokenAuthenticator{hash: []byte(hash)}
}

// Enabled returns true if a token hash is configured.
func (a *TokenAuthenticator) Enabled() bool {
	return len(a.hash) > 0
}

// Verify checks token against the configured hash.
func (a *TokenAuthenticator) Verify(token string) error {
	if !a.Enabled() {
		return nil
	}
	if token == "" {
		return ErrInvalidToken
	}
	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(token)); err != nil {
		return ErrInvalidToken
	}
	return nil
}

// HashToken returns the bcrypt hash to configure for token.
func HashToken(token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("token cannot be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash token: %w", err)
	}
	return string(hash), nil
}
