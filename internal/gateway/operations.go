package gateway

import (
	"context"
	"net/http"
	"strings"

	"github.com/angelmondragon/storefront-cart/internal/cart"
	"github.com/angelmondragon/storefront-cart/internal/coupon"
	pkgerrors "github.com/angelmondragon/storefront-cart/pkg/errors"
)

var (
	_ cart.Gateway     = (*Client)(nil)
	_ coupon.Validator = (*Client)(nil)
)

// GetCart reads the authenticated user's cart.
func (c *Client) GetCart(ctx context.Context, req cart.GetCartRequest) (*cart.Cart, error) {
	var out cart.Cart
	token := c.resolveToken(ctx, req.AccessToken, true)
	if err := c.do(ctx, http.MethodGet, PathGetCart, token, nil, &out); err != nil {
		return nil, err
	}
	return normalizeCart(&out), nil
}

func (c *Client) AddItem(ctx context.Context, req cart.AddItemRequest) (*cart.Cart, error) {
	if req.VariantID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "variant id is required")
	}
	var out cart.Cart
	if err := c.do(ctx, http.MethodPost, PathAddToCart, c.resolveToken(ctx, "", true), req, &out); err != nil {
		return nil, err
	}
	return normalizeCart(&out), nil
}

func (c *Client) UpdateItem(ctx context.Context, req cart.UpdateItemRequest) (*cart.Cart, error) {
	if req.ItemID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "item id is required")
	}
	var out cart.Cart
	if err := c.do(ctx, http.MethodPut, PathUpdateItem, c.resolveToken(ctx, "", true), req, &out); err != nil {
		return nil, err
	}
	return normalizeCart(&out), nil
}

func (c *Client) RemoveItem(ctx context.Context, req cart.RemoveItemRequest) (*cart.Cart, error) {
	if req.ItemID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "item id is required")
	}
	var out cart.Cart
	if err := c.do(ctx, http.MethodPut, PathRemoveItem, c.resolveToken(ctx, "", true), req, &out); err != nil {
		return nil, err
	}
	return normalizeCart(&out), nil
}

// SyncCart uploads a guest cart for merging. The token must be supplied
// explicitly because it runs before the session is persisted.
func (c *Client) SyncCart(ctx context.Context, req cart.SyncCartRequest) (*cart.Cart, error) {
	token := c.resolveToken(ctx, req.AccessToken, false)
	if token == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "access token is required")
	}
	var out cart.Cart
	if err := c.do(ctx, http.MethodPost, PathSyncCart, token, req.Cart, &out); err != nil {
		return nil, err
	}
	return normalizeCart(&out), nil
}

type applyCouponResponse struct {
	cart.AppliedCoupon
	Success *bool  `json:"success"`
	Message string `json:"message"`
}

// ApplyCoupon validates a code against a subtotal. Credentials are attached
// only for authenticated sessions.
func (c *Client) ApplyCoupon(ctx context.Context, req cart.ApplyCouponRequest) (*cart.AppliedCoupon, error) {
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "coupon code is required")
	}
	req.Code = code

	var out applyCouponResponse
	token := c.resolveToken(ctx, "", req.Authenticated)
	if err := c.do(ctx, http.MethodPost, PathApplyCoupon, token, req, &out); err != nil {
		return nil, err
	}
	applied := out.AppliedCoupon
	if applied.Coupon.Code == "" {
		applied.Coupon.Code = code
	}
	return &applied, nil
}

func normalizeCart(c *cart.Cart) *cart.Cart {
	if c.Items == nil {
		c.Items = []cart.CartItem{}
	}
	return c
}
