package ingest

import (
	"time"

	"github.com/ksred/klear-ramp/internal/orders"
	"github.com/shopspring/decimal"
)

// StatusHistoryItem is one vendor status history element as delivered by
// the provider webhook or the client poller
type StatusHistoryItem struct {
	Status    string    `json:"status" binding:"required,max=64"`
	Timestamp time.Time `json:"timestamp" binding:"required"`
	Message   string    `json:"message" binding:"max=512"`
}

// CreateOrderRequest carries the initial snapshot of a provider order. Only
// the id is required: an order with gaps is still stored, and a completion
// it cannot settle leaves the ledger alone.
type CreateOrderRequest struct {
	ID              string              `json:"id" binding:"required,max=128"`
	Direction       string              `json:"direction" binding:"omitempty,oneof=BUY SELL buy sell"`
	FiatAmount      int64               `json:"fiat_amount" binding:"gte=0"`
	FiatCurrency    string              `json:"fiat_currency" binding:"max=8"`
	AssetSymbol     string              `json:"asset_symbol" binding:"max=32"`
	AssetAmount     decimal.NullDecimal `json:"asset_amount"`
	WalletAddress   string              `json:"wallet_address" binding:"max=256"`
	Network         string              `json:"network" binding:"max=64"`
	PaymentMethodID string              `json:"payment_method_id" binding:"max=128"`
	Status          string              `json:"status" binding:"max=64"`
	AmountPaid      *int64              `json:"amount_paid" binding:"omitempty,gte=0"`
	TotalFee        decimal.NullDecimal `json:"total_fee"`
	FiatAmountInUSD *string             `json:"fiat_amount_in_usd" binding:"omitempty,max=64"`
	StatusHistory   []StatusHistoryItem `json:"status_history" binding:"dive"`
}

// UpdateOrderRequest carries the order id plus any subset of the mutable
// fields. Omitted fields keep their stored values.
type UpdateOrderRequest struct {
	ID              string              `json:"id" binding:"required,max=128"`
	FiatAmount      *int64              `json:"fiat_amount" binding:"omitempty,gte=0"`
	FiatCurrency    string              `json:"fiat_currency" binding:"max=8"`
	AssetSymbol     string              `json:"asset_symbol" binding:"max=32"`
	AssetAmount     decimal.NullDecimal `json:"asset_amount"`
	WalletAddress   string              `json:"wallet_address" binding:"max=256"`
	Network         string              `json:"network" binding:"max=64"`
	PaymentMethodID string              `json:"payment_method_id" binding:"max=128"`
	Status          string              `json:"status" binding:"max=64"`
	AmountPaid      *int64              `json:"amount_paid" binding:"omitempty,gte=0"`
	TotalFee        decimal.NullDecimal `json:"total_fee"`
	FiatAmountInUSD *string             `json:"fiat_amount_in_usd" binding:"omitempty,max=64"`
	StatusHistory   []StatusHistoryItem `json:"status_history" binding:"dive"`
}

func historyEntries(items []StatusHistoryItem) []orders.HistoryEntry {
	if len(items) == 0 {
		return nil
	}
	entries := make([]orders.HistoryEntry, 0, len(items))
	for _, item := range items {
		entries = append(entries, orders.HistoryEntry{
			Status:    item.Status,
			Timestamp: item.Timestamp,
			Message:   item.Message,
		})
	}
	return entries
}
