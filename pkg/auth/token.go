package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims is the subset of bearer token claims the storefront reads.
// The backend remains the only party that verifies signatures.
type TokenClaims struct {
	Subject   string
	ExpiresAt time.Time
}

// Expired reports whether the token carried an exp claim that is not after now.
func (c TokenClaims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// TTL returns the remaining lifetime, or zero when the token carries no exp claim.
func (c TokenClaims) TTL(now time.Time) time.Duration {
	if c.ExpiresAt.IsZero() {
		return 0
	}
	if remaining := c.ExpiresAt.Sub(now); remaining > 0 {
		return remaining
	}
	return 0
}

// PeekClaims decodes the token payload without verifying the signature.
func PeekClaims(token string) (*TokenClaims, error) {
	trimmed := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if trimmed == "" {
		return nil, fmt.Errorf("access token is required")
	}

	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(trimmed, claims); err != nil {
		return nil, fmt.Errorf("decoding access token: %w", err)
	}

	out := &TokenClaims{Subject: claims.Subject}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}
