package coupon

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/angelmondragon/storefront-cart/pkg/kv"
)

// Marker durably records the code of the last successfully applied coupon so
// it can be replayed after a restart or an auth transition.
type Marker struct {
	store kv.Store
	key   string
}

func NewMarker(store kv.Store, key string) (*Marker, error) {
	if store == nil {
		return nil, fmt.Errorf("marker store required")
	}
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("marker key required")
	}
	return &Marker{store: store, key: key}, nil
}

// Load returns the recorded code, or an empty string when none is held.
func (m *Marker) Load(ctx context.Context) (string, error) {
	code, err := m.store.Get(ctx, m.key)
	if errors.Is(err, kv.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read coupon marker: %w", err)
	}
	return strings.TrimSpace(code), nil
}

func (m *Marker) Save(ctx context.Context, code string) error {
	if err := m.store.Set(ctx, m.key, code, 0); err != nil {
		return fmt.Errorf("write coupon marker: %w", err)
	}
	return nil
}

func (m *Marker) Clear(ctx context.Context) error {
	if err := m.store.Del(ctx, m.key); err != nil {
		return fmt.Errorf("clear coupon marker: %w", err)
	}
	return nil
}
