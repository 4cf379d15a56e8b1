package provider

import (
	"time"

	"github.com/shopspring/decimal"
)

// Vendor status codes the mock provider moves its orders through
const (
	StatusPaymentPending  = "PAYMENT_PENDING"
	StatusPaymentReceived = "PAYMENT_RECEIVED"
	StatusCoinTransferred = "COIN_TRANSFERRED"
	StatusSettled         = "SETTLED"
	StatusDeclined        = "DECLINED"
	StatusExpired         = "ORDER_EXPIRED"
)

// Order is the provider's view of an order, as returned by
// GET /v1/orders/:order_id and carried in webhooks
type Order struct {
	ID              string              `json:"id"`
	Direction       string              `json:"direction"`
	Status          string              `json:"status"`
	FiatAmount      *int64              `json:"fiatAmount,omitempty"`
	FiatCurrency    string              `json:"fiatCurrency,omitempty"`
	AssetSymbol     string              `json:"assetSymbol,omitempty"`
	AssetAmount     decimal.NullDecimal `json:"assetAmount"`
	WalletAddress   string              `json:"walletAddress,omitempty"`
	Network         string              `json:"network,omitempty"`
	PaymentMethodID string              `json:"paymentMethodId,omitempty"`
	AmountPaid      *int64              `json:"amountPaid,omitempty"`
	TotalFee        decimal.NullDecimal `json:"totalFee"`
	FiatAmountInUSD *string             `json:"fiatAmountInUsd,omitempty"`
	StatusHistory   []StatusEvent       `json:"statusHistory,omitempty"`
	CreatedAt       time.Time           `json:"createdAt"`
}

// StatusEvent is one entry of the provider's status history
type StatusEvent struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message,omitempty"`
}

// PlaceRequest opens an order on the mock provider
type PlaceRequest struct {
	Direction     string
	FiatAmount    int64
	FiatCurrency  string
	AssetSymbol   string
	Price         decimal.Decimal // fiat per unit of asset
	WalletAddress string
	Network       string
}
