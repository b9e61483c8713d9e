package cart

import (
	"github.com/angelmondragon/storefront-cart/pkg/money"
	"github.com/shopspring/decimal"
)

// RecomputeTotals derives the guest totals from its lines. Guest carts carry no
// cart-level discount, so the payable amount equals the subtotal.
func RecomputeTotals(items []CartItem) Totals {
	lines := make([]decimal.Decimal, 0, len(items))
	count := 0
	for _, item := range items {
		lines = append(lines, item.LineTotal)
		count += item.Qty
	}
	subtotal := money.Sum(lines...)
	return Totals{
		Subtotal:      subtotal,
		DiscountTotal: decimal.Zero,
		TotalItems:    count,
		TotalPayable:  subtotal,
	}
}

// setQty updates a line's quantity and its line total together.
func setQty(item *CartItem, qty int) {
	item.Qty = qty
	item.LineTotal = money.LineTotal(item.SalePrice, qty)
}
