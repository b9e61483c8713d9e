// Package money holds decimal helpers for cart amounts and their display formatting.
package money

import (
	"strings"

	"github.com/leekchan/accounting"
	"github.com/shopspring/decimal"
)

// LineTotal returns unit * qty.
func LineTotal(unit decimal.Decimal, qty int) decimal.Decimal {
	return unit.Mul(decimal.NewFromInt(int64(qty)))
}

// Sum adds the given amounts.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, amount := range amounts {
		total = total.Add(amount)
	}
	return total
}

// NonNegative clamps negative amounts to zero.
func NonNegative(amount decimal.Decimal) decimal.Decimal {
	if amount.IsNegative() {
		return decimal.Zero
	}
	return amount
}

// ParseAmount parses a user or wire supplied amount. Empty input is zero.
func ParseAmount(raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(trimmed)
}

// Formatter renders amounts for display.
type Formatter struct {
	ac accounting.Accounting
}

func NewFormatter(symbol string, precision int) *Formatter {
	if precision < 0 {
		precision = 0
	}
	return &Formatter{ac: accounting.Accounting{
		Symbol:    symbol,
		Precision: precision,
		Thousand:  ",",
		Decimal:   ".",
	}}
}

// Format renders amount with the configured symbol and precision.
func (f *Formatter) Format(amount decimal.Decimal) string {
	if f == nil {
		return amount.StringFixed(2)
	}
	return f.ac.FormatMoney(amount.Rat())
}
