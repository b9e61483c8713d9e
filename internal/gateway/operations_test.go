package gateway_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/angelmondragon/storefront-cart/internal/cart"
	"github.com/angelmondragon/storefront-cart/internal/gateway"
	"github.com/angelmondragon/storefront-cart/internal/gateway/gatewaytest"
	pkgerrors "github.com/angelmondragon/storefront-cart/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tokenSource string

func (t tokenSource) AccessToken(context.Context) string { return string(t) }

func newBackend(t *testing.T) (*gatewaytest.Server, *gateway.Client) {
	t.Helper()
	backend := gatewaytest.NewServer()
	t.Cleanup(backend.Close)
	backend.AddUser("token-1", "user-1")
	backend.AddVariant(gatewaytest.Variant{
		ID:        "v-1",
		ProductID: "p-1",
		Name:      "Linen Shirt",
		Size:      "M",
		Price:     decimal.NewFromInt(30),
		SalePrice: decimal.NewFromInt(25),
	})
	backend.AddCoupon(gatewaytest.Coupon{
		Code:       "WELCOME10",
		ID:         "c-1",
		PercentOff: decimal.NewFromInt(10),
		MinSpend:   decimal.NewFromInt(50),
	})

	client, err := gateway.NewClient(backend.URL, gateway.WithCredentials(tokenSource("token-1")))
	require.NoError(t, err)
	return backend, client
}

func TestCartRoundTripAgainstBackend(t *testing.T) {
	backend, client := newBackend(t)
	ctx := context.Background()

	added, err := client.AddItem(ctx, cart.AddItemRequest{VariantID: "v-1", Qty: 2})
	require.NoError(t, err)
	require.Len(t, added.Items, 1)
	assert.True(t, added.Subtotal.Equal(decimal.NewFromInt(50)))

	itemID := added.Items[0].CartItemID
	updated, err := client.UpdateItem(ctx, cart.UpdateItemRequest{ItemID: itemID, Qty: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, updated.TotalItems)

	fetched, err := client.GetCart(ctx, cart.GetCartRequest{})
	require.NoError(t, err)
	assert.True(t, fetched.Subtotal.Equal(decimal.NewFromInt(75)))

	removed, err := client.RemoveItem(ctx, cart.RemoveItemRequest{ItemID: itemID})
	require.NoError(t, err)
	assert.Empty(t, removed.Items)

	_, err = client.RemoveItem(ctx, cart.RemoveItemRequest{ItemID: itemID})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	for _, call := range backend.Calls("") {
		assert.Equal(t, "token-1", call.Token, "call to %s", call.Path)
	}
}

func TestSyncCartMergesGuestLines(t *testing.T) {
	backend, client := newBackend(t)
	ctx := context.Background()

	guest := cart.NewGuestCart("guest-1")
	guest.Items = []cart.CartItem{{
		CartItemID: "local-1",
		VariantID:  cart.VariantID{ID: "v-1", Size: "M"},
		Qty:        1,
		SalePrice:  decimal.NewFromInt(99),
		LineTotal:  decimal.NewFromInt(99),
	}}
	guest.Totals = cart.RecomputeTotals(guest.Items)

	merged, err := client.SyncCart(ctx, cart.SyncCartRequest{AccessToken: "token-1", Cart: guest})
	require.NoError(t, err)
	require.Len(t, merged.Items, 1)
	assert.NotEqual(t, cart.ID("local-1"), merged.Items[0].CartItemID)
	assert.True(t, merged.Subtotal.Equal(decimal.NewFromInt(25)), "server reprices known variants")

	calls := backend.Calls(gateway.PathSyncCart)
	require.Len(t, calls, 1)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(calls[0].Body, &payload))
	assert.Equal(t, "guest-1", payload["cart_id"])
	assert.Contains(t, payload, "total_payable")
}

func TestApplyCouponAgainstBackend(t *testing.T) {
	_, client := newBackend(t)
	ctx := context.Background()

	applied, err := client.ApplyCoupon(ctx, cart.ApplyCouponRequest{Code: "welcome10", Subtotal: decimal.NewFromInt(100)})
	require.NoError(t, err)
	assert.Equal(t, "WELCOME10", applied.Coupon.Code)
	assert.True(t, applied.Discount.Equal(decimal.NewFromInt(10)))
	assert.True(t, applied.FinalTotal.Decimal.Equal(decimal.NewFromInt(90)))

	_, err = client.ApplyCoupon(ctx, cart.ApplyCouponRequest{Code: "WELCOME10", Subtotal: decimal.NewFromInt(40)})
	require.Error(t, err)
	assert.Equal(t, "Minimum spend not met", pkgerrors.As(err).Message())

	_, err = client.ApplyCoupon(ctx, cart.ApplyCouponRequest{Code: "NOPE", Subtotal: decimal.NewFromInt(100)})
	assert.Equal(t, "Invalid coupon code", pkgerrors.As(err).Message())
}

func TestInjectedFailuresSurfaceTypedErrors(t *testing.T) {
	backend, client := newBackend(t)
	backend.Fail(gateway.PathGetCart, gatewaytest.Failure{Status: http.StatusServiceUnavailable, Message: "Cart service unavailable"})

	_, err := client.GetCart(context.Background(), cart.GetCartRequest{})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
	assert.Equal(t, "Cart service unavailable", pkgerrors.As(err).Message())

	_, err = client.GetCart(context.Background(), cart.GetCartRequest{})
	assert.NoError(t, err, "failures are consumed once")
}

func TestUnknownTokenIsUnauthorized(t *testing.T) {
	_, client := newBackend(t)
	_, err := client.GetCart(context.Background(), cart.GetCartRequest{AccessToken: "stale"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))
}

func TestVerifyPaymentAgainstBackend(t *testing.T) {
	_, client := newBackend(t)
	got, err := client.VerifyPayment(context.Background(), gateway.VerifyPaymentRequest{
		OrderID:          "order-9",
		PaymentReference: "ref-123",
		Provider:         "paystack",
	})
	require.NoError(t, err)
	assert.True(t, got.Success)
	assert.Equal(t, "order-9", got.OrderID)
	assert.Equal(t, "paid", got.Status)
}
