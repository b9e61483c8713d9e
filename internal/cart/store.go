package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/angelmondragon/storefront-cart/pkg/kv"
	"github.com/google/uuid"
)

// GuestStore persists the single guest cart record.
type GuestStore struct {
	store kv.Store
	key   string
	newID func() string
}

// NewGuestStore returns a store reading and writing the record under key.
func NewGuestStore(store kv.Store, key string) (*GuestStore, error) {
	if store == nil {
		return nil, fmt.Errorf("guest cart store required")
	}
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("guest cart key required")
	}
	return &GuestStore{
		store: store,
		key:   key,
		newID: func() string { return uuid.NewString() },
	}, nil
}

// Load returns the persisted record. found is false when none exists.
func (s *GuestStore) Load(ctx context.Context) (*Cart, bool, error) {
	raw, err := s.store.Get(ctx, s.key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read guest cart: %w", err)
	}
	var record Cart
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, false, fmt.Errorf("decode guest cart: %w", err)
	}
	if record.Items == nil {
		record.Items = []CartItem{}
	}
	return &record, true, nil
}

// LoadOrCreate returns the persisted record, creating and saving an empty
// one when none exists so the cart id stays stable across reads.
func (s *GuestStore) LoadOrCreate(ctx context.Context) (*Cart, error) {
	record, found, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	if found {
		return record, nil
	}
	fresh := NewGuestCart(s.newID())
	if err := s.Save(ctx, &fresh); err != nil {
		return nil, err
	}
	return &fresh, nil
}

// Save writes the record. Guest records do not expire.
func (s *GuestStore) Save(ctx context.Context, record *Cart) error {
	if record == nil {
		return fmt.Errorf("guest cart required")
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode guest cart: %w", err)
	}
	if err := s.store.Set(ctx, s.key, string(payload), 0); err != nil {
		return fmt.Errorf("write guest cart: %w", err)
	}
	return nil
}

// Delete removes the record.
func (s *GuestStore) Delete(ctx context.Context) error {
	if err := s.store.Del(ctx, s.key); err != nil {
		return fmt.Errorf("delete guest cart: %w", err)
	}
	return nil
}
