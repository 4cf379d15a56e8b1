package holdings

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var btcAUD = Key{OwnerID: "owner-1", AssetSymbol: "BTC", FiatCurrency: "AUD"}

func TestHolding_WeightedAverage(t *testing.T) {
	h, err := NewHolding(btcAUD, d("0.01"), d("500"))
	require.NoError(t, err)
	assert.True(t, h.AvgCost.Equal(d("50000")))

	require.NoError(t, h.Add(d("0.01"), d("700")))
	assert.True(t, h.Quantity.Equal(d("0.02")))
	assert.True(t, h.TotalInvested.Equal(d("1200")))
	assert.True(t, h.AvgCost.Equal(d("60000")), h.AvgCost.String())
}

func TestHolding_PartialSellKeepsAverage(t *testing.T) {
	h, err := NewHolding(btcAUD, d("0.02"), d("1200"))
	require.NoError(t, err)

	effect, err := h.Reduce(d("0.01"))
	require.NoError(t, err)
	assert.False(t, effect.Closed)
	assert.True(t, effect.SoldQty.Equal(d("0.01")))
	assert.True(t, effect.ReducedBy.Equal(d("600")))
	assert.True(t, h.Quantity.Equal(d("0.01")))
	assert.True(t, h.TotalInvested.Equal(d("600")))
	assert.True(t, h.AvgCost.Equal(d("60000")))
}

func TestHolding_OversellClampsAtZero(t *testing.T) {
	h, err := NewHolding(btcAUD, d("0.02"), d("1200"))
	require.NoError(t, err)

	effect, err := h.Reduce(d("0.05"))
	require.NoError(t, err)
	assert.True(t, effect.Closed)
	assert.Nil(t, effect.Remaining)
	assert.True(t, effect.SoldQty.Equal(d("0.02")))
	assert.True(t, h.Quantity.IsZero())
	assert.True(t, h.TotalInvested.IsZero())
}

func TestHolding_RejectsNonPositiveDeltas(t *testing.T) {
	_, err := NewHolding(btcAUD, decimal.Zero, d("10"))
	assert.ErrorIs(t, err, ErrInvalidDelta)

	h, err := NewHolding(btcAUD, d("1"), d("10"))
	require.NoError(t, err)
	_, err = h.Reduce(decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidDelta)
}
