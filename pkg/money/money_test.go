package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineTotalAndSum(t *testing.T) {
	line := LineTotal(decimal.RequireFromString("19.99"), 3)
	assert.True(t, line.Equal(decimal.RequireFromString("59.97")), "got %s", line)

	total := Sum(line, decimal.RequireFromString("0.03"), decimal.NewFromInt(40))
	assert.True(t, total.Equal(decimal.NewFromInt(100)), "got %s", total)
	assert.True(t, Sum().IsZero())
}

func TestNonNegative(t *testing.T) {
	assert.True(t, NonNegative(decimal.NewFromInt(-5)).IsZero())
	assert.True(t, NonNegative(decimal.NewFromInt(5)).Equal(decimal.NewFromInt(5)))
}

func TestParseAmount(t *testing.T) {
	amount, err := ParseAmount(" 12.50 ")
	require.NoError(t, err)
	assert.True(t, amount.Equal(decimal.RequireFromString("12.5")))

	amount, err = ParseAmount("")
	require.NoError(t, err)
	assert.True(t, amount.IsZero())

	_, err = ParseAmount("twelve")
	require.Error(t, err)
}

func TestFormatter(t *testing.T) {
	f := NewFormatter("$", 2)
	assert.Equal(t, "$1,234.50", f.Format(decimal.RequireFromString("1234.5")))

	var nilFormatter *Formatter
	assert.Equal(t, "3.10", nilFormatter.Format(decimal.RequireFromString("3.1")))
}
