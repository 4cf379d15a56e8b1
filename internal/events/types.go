package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatusChanged is published when an order's canonical status is set or moves
type OrderStatusChanged struct {
	OrderID    string    `json:"order_id"`
	OwnerID    string    `json:"owner_id"`
	Previous   string    `json:"previous_status,omitempty"`
	Status     string    `json:"status"`
	RawStatus  string    `json:"raw_provider_status"`
	Transition string    `json:"transition"`
	OccurredAt time.Time `json:"occurred_at"`
}

// HoldingChanged is published after a completion effect changed a holding
type HoldingChanged struct {
	OrderID       string          `json:"order_id"`
	OwnerID       string          `json:"owner_id"`
	AssetSymbol   string          `json:"asset_symbol"`
	FiatCurrency  string          `json:"fiat_currency"`
	Effect        string          `json:"effect"`
	Quantity      decimal.Decimal `json:"quantity"`
	TotalInvested decimal.Decimal `json:"total_invested"`
	AvgCost       decimal.Decimal `json:"avg_cost"`
	Closed        bool            `json:"closed"`
	OccurredAt    time.Time       `json:"occurred_at"`
}
