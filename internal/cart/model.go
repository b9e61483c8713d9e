package cart

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ID is an opaque identifier. The backend emits some identifiers as JSON
// numbers and others as strings, so both decode into the same form.
type ID string

func (id ID) String() string { return string(id) }

func (id *ID) UnmarshalJSON(data []byte) error {
	value, err := flexibleString(data)
	if err != nil {
		return fmt.Errorf("decoding id: %w", err)
	}
	*id = ID(value)
	return nil
}

// Stock is a string-encoded stock level.
type Stock string

func (s *Stock) UnmarshalJSON(data []byte) error {
	value, err := flexibleString(data)
	if err != nil {
		return fmt.Errorf("decoding stock: %w", err)
	}
	*s = Stock(value)
	return nil
}

func flexibleString(data []byte) (string, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", nil
	}
	if trimmed[0] == '"' {
		var value string
		if err := json.Unmarshal(trimmed, &value); err != nil {
			return "", err
		}
		return value, nil
	}
	var number json.Number
	if err := json.Unmarshal(trimmed, &number); err != nil {
		return "", err
	}
	return number.String(), nil
}

// ProductRef is the product summary carried on every cart line.
type ProductRef struct {
	ID    ID     `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
}

// VariantID identifies the purchasable variant together with its size and color.
type VariantID struct {
	ID    ID     `json:"id,omitempty"`
	Size  string `json:"size,omitempty"`
	Color string `json:"color,omitempty"`
}

// Key joins the variant identity into a single comparable value.
func (v VariantID) Key() string {
	return strings.Join([]string{string(v.ID), v.Size, v.Color}, "|")
}

// CartItem is one line of the cart.
type CartItem struct {
	CartItemID      ID              `json:"cart_item_id"`
	VariantID       VariantID       `json:"variant_id"`
	Product         ProductRef      `json:"product"`
	SKU             string          `json:"sku,omitempty"`
	Qty             int             `json:"qty"`
	VariantPrice    decimal.Decimal `json:"variant_price"`
	SalePrice       decimal.Decimal `json:"sale_price"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	LineTotal       decimal.Decimal `json:"line_total"`
	Stock           Stock           `json:"stock,omitempty"`
	Images          []string        `json:"images,omitempty"`
	BrandName       string          `json:"brand_name,omitempty"`
	Gender          string          `json:"gender,omitempty"`
}

// Totals is the aggregate block of a cart.
type Totals struct {
	Subtotal      decimal.Decimal `json:"subtotal"`
	DiscountTotal decimal.Decimal `json:"discount_total"`
	TotalItems    int             `json:"total_items"`
	TotalPayable  decimal.Decimal `json:"total_payable"`
}

// Cart is the canonical cart shape shared by the guest record and server
// responses. UserID is nil for guest carts.
type Cart struct {
	CartID string     `json:"cart_id"`
	UserID *string    `json:"user_id"`
	Items  []CartItem `json:"items"`
	Totals
}

// NewGuestCart returns an empty guest cart.
func NewGuestCart(cartID string) Cart {
	return Cart{CartID: cartID, Items: []CartItem{}, Totals: RecomputeTotals(nil)}
}

// FindItem returns the index of the line with the given id.
func (c Cart) FindItem(id ID) (int, bool) {
	for i := range c.Items {
		if c.Items[i].CartItemID == id {
			return i, true
		}
	}
	return -1, false
}

// Clone returns a deep copy safe to mutate.
func (c Cart) Clone() Cart {
	out := c
	if c.UserID != nil {
		userID := *c.UserID
		out.UserID = &userID
	}
	out.Items = make([]CartItem, len(c.Items))
	for i, item := range c.Items {
		if item.Images != nil {
			item.Images = append([]string(nil), item.Images...)
		}
		out.Items[i] = item
	}
	return out
}

// IsGuest reports whether the cart has no owning user.
func (c Cart) IsGuest() bool {
	return c.UserID == nil || *c.UserID == ""
}

// CouponRef names the coupon a discount came from.
type CouponRef struct {
	Code string `json:"code"`
	ID   ID     `json:"id,omitempty"`
}

// BogoOffer describes a buy-one-get-one reward attached to a coupon.
type BogoOffer struct {
	BuyQty      int    `json:"buy_qty,omitempty"`
	GetQty      int    `json:"get_qty,omitempty"`
	VariantID   ID     `json:"variant_id,omitempty"`
	Description string `json:"description,omitempty"`
}

// AppliedCoupon is the backend's validation result for a coupon against a subtotal.
type AppliedCoupon struct {
	Coupon          CouponRef           `json:"coupon"`
	Discount        decimal.Decimal     `json:"discount"`
	AppliedOnAmount decimal.Decimal     `json:"applied_on_amount"`
	FreeShipping    bool                `json:"free_shipping"`
	Bogo            *BogoOffer          `json:"bogo,omitempty"`
	Subtotal        decimal.Decimal     `json:"subtotal"`
	ShippingCost    decimal.Decimal     `json:"shipping_cost"`
	FinalTotal      decimal.NullDecimal `json:"final_total"`
}

// Clone returns a copy that shares no pointers with c.
func (c *AppliedCoupon) Clone() *AppliedCoupon {
	if c == nil {
		return nil
	}
	out := *c
	if c.Bogo != nil {
		bogo := *c.Bogo
		out.Bogo = &bogo
	}
	return &out
}

type AddItemRequest struct {
	VariantID ID  `json:"variant_id"`
	Qty       int `json:"qty"`
}

type UpdateItemRequest struct {
	ItemID ID  `json:"item_id"`
	Qty    int `json:"qty"`
}

type RemoveItemRequest struct {
	ItemID ID `json:"item_id"`
}

// GetCartRequest reads the server cart. An empty AccessToken falls back to
// the ambient session credentials.
type GetCartRequest struct {
	AccessToken string `json:"-"`
}

// SyncCartRequest uploads a guest cart for merging. AccessToken is required.
type SyncCartRequest struct {
	AccessToken string `json:"-"`
	Cart        Cart   `json:"cart"`
}

// ApplyCouponRequest validates a coupon code against a subtotal. Credentials
// are attached only when Authenticated is set.
type ApplyCouponRequest struct {
	Code          string          `json:"code"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Authenticated bool            `json:"-"`
}
