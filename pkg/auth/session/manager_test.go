package session

import (
	"context"
	"testing"
	"time"

	"github.com/angelmondragon/storefront-cart/pkg/kv"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signed(t *testing.T, subject string, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)
	return token
}

func TestManagerLifecycle(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	mgr, err := NewManager(store, "sf:session:default")
	require.NoError(t, err)

	assert.False(t, mgr.Authenticated(ctx))
	_, err = mgr.Claims(ctx)
	require.ErrorIs(t, err, ErrNoSession)

	token := signed(t, "user-7", time.Now().Add(time.Hour))
	claims, err := mgr.Save(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "user-7", claims.Subject)
	assert.True(t, mgr.Authenticated(ctx))
	assert.Equal(t, token, mgr.AccessToken(ctx))

	stored, err := mgr.Claims(ctx)
	require.NoError(t, err)
	assert.Equal(t, "user-7", stored.Subject)

	require.NoError(t, mgr.Revoke(ctx))
	assert.False(t, mgr.Authenticated(ctx))
}

func TestManagerRejectsExpiredToken(t *testing.T) {
	mgr, err := NewManager(kv.NewMemory(), "sf:session")
	require.NoError(t, err)

	_, err = mgr.Save(context.Background(), signed(t, "user-7", time.Now().Add(-time.Minute)))
	require.Error(t, err)
	assert.False(t, mgr.Authenticated(context.Background()))
}

func TestNewManagerValidation(t *testing.T) {
	_, err := NewManager(nil, "key")
	require.Error(t, err)
	_, err = NewManager(kv.NewMemory(), " ")
	require.Error(t, err)
}
