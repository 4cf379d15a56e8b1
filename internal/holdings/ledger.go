package holdings

import (
	"errors"

	"github.com/shopspring/decimal"
)

var ErrInvalidDelta = errors.New("holding delta must be positive")

// NewHolding opens a holding from its first buy
func NewHolding(key Key, qty, invested decimal.Decimal) (*Holding, error) {
	h := &Holding{
		OwnerID:       key.OwnerID,
		AssetSymbol:   key.AssetSymbol,
		FiatCurrency:  key.FiatCurrency,
		Quantity:      decimal.Zero,
		TotalInvested: decimal.Zero,
		AvgCost:       decimal.Zero,
	}
	if err := h.Add(qty, invested); err != nil {
		return nil, err
	}
	return h, nil
}

// AverageCost derives the cost basis per unit from the stored totals
func (h *Holding) AverageCost() decimal.Decimal {
	if !h.Quantity.IsPositive() {
		return decimal.Zero
	}
	return h.TotalInvested.Div(h.Quantity)
}

// Add applies a buy: quantity and invested amount grow and the average cost
// becomes the quantity-weighted mean
func (h *Holding) Add(qty, invested decimal.Decimal) error {
	if !qty.IsPositive() || invested.IsNegative() {
		return ErrInvalidDelta
	}
	h.Quantity = h.Quantity.Add(qty)
	h.TotalInvested = h.TotalInvested.Add(invested)
	h.AvgCost = h.AverageCost()
	return nil
}

// Reduce applies a sell of sellQty. Units leave at the current average cost,
// so the average of what remains is unchanged. Selling more than is held
// clamps at zero.
func (h *Holding) Reduce(sellQty decimal.Decimal) (SellEffect, error) {
	if !sellQty.IsPositive() {
		return SellEffect{}, ErrInvalidDelta
	}
	avg := h.AverageCost()
	sold := decimal.Min(sellQty, h.Quantity)
	reduceBy := avg.Mul(sold)

	h.Quantity = decimal.Max(decimal.Zero, h.Quantity.Sub(sellQty))
	h.TotalInvested = decimal.Max(decimal.Zero, h.TotalInvested.Sub(reduceBy))
	if h.Quantity.IsZero() {
		h.TotalInvested = decimal.Zero
		h.AvgCost = decimal.Zero
	} else {
		h.AvgCost = avg
	}

	effect := SellEffect{
		Found:     true,
		SoldQty:   sold,
		ReducedBy: reduceBy,
		Closed:    h.Quantity.IsZero(),
	}
	if !effect.Closed {
		effect.Remaining = h
	}
	return effect, nil
}
