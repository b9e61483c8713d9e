package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/storefront-cart/pkg/auth"
	"github.com/angelmondragon/storefront-cart/pkg/kv"
)

// ErrNoSession is returned when no access token is held.
var ErrNoSession = errors.New("no active session")

// Manager holds the access token that serves as ambient credentials for
// authenticated backend calls. The token is persisted so it survives restarts
// and expires alongside the token's own exp claim.
type Manager struct {
	store kv.Store
	key   string
	now   func() time.Time
}

// NewManager constructs a session manager persisting under key.
func NewManager(store kv.Store, key string) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("session key is required")
	}
	return &Manager{store: store, key: key, now: time.Now}, nil
}

// Save stores the access token. Tokens that are already expired are rejected.
func (m *Manager) Save(ctx context.Context, token string) (*auth.TokenClaims, error) {
	claims, err := auth.PeekClaims(token)
	if err != nil {
		return nil, err
	}
	now := m.now()
	if claims.Expired(now) {
		return nil, fmt.Errorf("access token expired at %s", claims.ExpiresAt.Format(time.RFC3339))
	}
	if err := m.store.Set(ctx, m.key, strings.TrimSpace(token), claims.TTL(now)); err != nil {
		return nil, fmt.Errorf("persisting session: %w", err)
	}
	return claims, nil
}

// AccessToken returns the stored token, or an empty string when none is held.
func (m *Manager) AccessToken(ctx context.Context) string {
	token, err := m.store.Get(ctx, m.key)
	if err != nil {
		return ""
	}
	return token
}

// Claims returns the decoded claims of the stored token.
func (m *Manager) Claims(ctx context.Context) (*auth.TokenClaims, error) {
	token, err := m.store.Get(ctx, m.key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrNoSession
		}
		return nil, err
	}
	return auth.PeekClaims(token)
}

// Authenticated reports whether a token is held.
func (m *Manager) Authenticated(ctx context.Context) bool {
	return m.AccessToken(ctx) != ""
}

// Revoke deletes the stored token.
func (m *Manager) Revoke(ctx context.Context) error {
	return m.store.Del(ctx, m.key)
}
