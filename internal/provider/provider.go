package provider

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var (
	ErrOrderNotFound = errors.New("provider order not found")
	ErrUnavailable   = errors.New("provider temporarily unavailable")
)

// MockProvider simulates a fiat/crypto liquidity provider: it keeps an
// in-memory order book, moves orders through vendor statuses and serves
// the authoritative order view with simulated latency and failures
type MockProvider struct {
	ID          string
	Name        string
	APIKey      string
	MinLatency  int // in milliseconds
	MaxLatency  int
	SuccessRate float64         // 0-1, probability a lookup succeeds
	FeeRate     decimal.Decimal // fraction of the fiat amount

	mu     sync.RWMutex
	orders map[string]*Order
}

// NewMockProvider returns a provider that always answers immediately.
// Latency and failure rate can be tuned on the returned value.
func NewMockProvider(apiKey string) *MockProvider {
	return &MockProvider{
		ID:          "PROV1",
		Name:        "Mock Ramp Provider",
		APIKey:      apiKey,
		SuccessRate: 1,
		FeeRate:     decimal.RequireFromString("0.01"), // 1%
		orders:      make(map[string]*Order),
	}
}

// Place opens a new order at the given price and returns a copy of it
func (p *MockProvider) Place(req PlaceRequest) (*Order, error) {
	direction := strings.ToUpper(req.Direction)
	if direction != "BUY" && direction != "SELL" {
		return nil, fmt.Errorf("unknown direction %q", req.Direction)
	}
	if req.FiatAmount <= 0 || !req.Price.IsPositive() {
		return nil, fmt.Errorf("fiat amount and price must be positive")
	}

	now := time.Now().UTC()
	fiat := req.FiatAmount
	order := &Order{
		ID:            fmt.Sprintf("ORD-%s-%s", p.ID, uuid.NewString()),
		Direction:     direction,
		Status:        StatusPaymentPending,
		FiatAmount:    &fiat,
		FiatCurrency:  strings.ToUpper(req.FiatCurrency),
		AssetSymbol:   strings.ToUpper(req.AssetSymbol),
		AssetAmount:   decimal.NewNullDecimal(decimal.NewFromInt(fiat).DivRound(req.Price, 8)),
		WalletAddress: req.WalletAddress,
		Network:       req.Network,
		StatusHistory: []StatusEvent{{Status: StatusPaymentPending, Timestamp: now}},
		CreatedAt:     now,
	}

	p.mu.Lock()
	p.orders[order.ID] = order
	p.mu.Unlock()

	log.Info().
		Str("provider_id", p.ID).
		Str("order_id", order.ID).
		Str("direction", order.Direction).
		Int64("fiat_amount", fiat).
		Str("asset_amount", order.AssetAmount.Decimal.String()).
		Msg("provider order placed")

	return cloneOrder(order), nil
}

// Advance moves an order to a vendor status. Settling fixes the fee and the
// amount actually paid.
func (p *MockProvider) Advance(orderID, vendorStatus, message string) (*Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}

	order.Status = vendorStatus
	order.StatusHistory = append(order.StatusHistory, StatusEvent{
		Status:    vendorStatus,
		Timestamp: time.Now().UTC(),
		Message:   message,
	})

	if vendorStatus == StatusSettled && order.FiatAmount != nil {
		fee := decimal.NewFromInt(*order.FiatAmount).Mul(p.FeeRate).Round(2)
		paid := *order.FiatAmount + fee.Ceil().IntPart()
		order.TotalFee = decimal.NewNullDecimal(fee)
		order.AmountPaid = &paid
		if order.FiatCurrency == "USD" {
			usd := decimal.NewFromInt(paid).StringFixed(2)
			order.FiatAmountInUSD = &usd
		}
	}

	log.Debug().
		Str("provider_id", p.ID).
		Str("order_id", orderID).
		Str("status", vendorStatus).
		Msg("provider order advanced")

	return cloneOrder(order), nil
}

// Lookup returns the authoritative view of an order, after a simulated
// network delay. It fails with ErrUnavailable according to SuccessRate.
func (p *MockProvider) Lookup(ctx context.Context, orderID string) (*Order, error) {
	logger := log.With().
		Str("provider_id", p.ID).
		Str("order_id", orderID).
		Logger()

	if p.MaxLatency > 0 {
		latency := rand.Intn(p.MaxLatency-p.MinLatency+1) + p.MinLatency
		logger.Debug().Int("latency_ms", latency).Msg("simulated network latency")
		select {
		case <-time.After(time.Duration(latency) * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if rand.Float64() > p.SuccessRate {
		logger.Warn().
			Float64("success_rate", p.SuccessRate).
			Msg("order lookup failed due to success rate threshold")
		return nil, ErrUnavailable
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	order, ok := p.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

func cloneOrder(o *Order) *Order {
	c := *o
	c.StatusHistory = append([]StatusEvent(nil), o.StatusHistory...)
	if o.FiatAmount != nil {
		v := *o.FiatAmount
		c.FiatAmount = &v
	}
	if o.AmountPaid != nil {
		v := *o.AmountPaid
		c.AmountPaid = &v
	}
	if o.FiatAmountInUSD != nil {
		v := *o.FiatAmountInUSD
		c.FiatAmountInUSD = &v
	}
	return &c
}
