// Package credential persists the access and refresh token pair of a session.
//
// Stores only hold tokens. Deciding when to refresh belongs to the session
// coordinator.
package credential

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/desurestar/RSOD-project/internal/domain"
	apperrors "github.com/desurestar/RSOD-project/pkg/errors"
)

// DefaultAccessTTL applies when an access token carries no readable exp claim.
const DefaultAccessTTL = 24 * time.Hour

// Store holds the session's token pair.
type Store interface {
	// Load returns the stored pair, or empty Tokens when no session exists.
	Load(ctx context.Context) (domain.Tokens, error)
	// Save replaces the stored pair. Half pairs are rejected.
	Save(ctx context.Context, tokens domain.Tokens) error
	// Clear removes both tokens.
	Clear(ctx context.Context) error
}

// validate enforces the both-or-neither invariant.
func validate(tokens domain.Tokens) error {
	if tokens.Complete() {
		return nil
	}
	return apperrors.InvalidInput("access and refresh tokens must be stored together")
}

// Expiry reads the exp claim of a JWT without verifying its signature. Tokens
// stay opaque to the client otherwise.
func Expiry(token string) (time.Time, bool) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// withExpiry fills AccessExpiresAt from the access token, or now+DefaultAccessTTL.
func withExpiry(tokens domain.Tokens, now time.Time) domain.Tokens {
	if !tokens.AccessExpiresAt.IsZero() {
		return tokens
	}
	if exp, ok := Expiry(tokens.Access); ok {
		tokens.AccessExpiresAt = exp
	} else {
		tokens.AccessExpiresAt = now.Add(DefaultAccessTTL)
	}
	return tokens
}
