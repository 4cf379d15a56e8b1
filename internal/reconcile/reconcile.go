// Package reconcile re-reads the numeric fields of a completed order from the
// provider so that settlement does not rely on figures submitted by the
// client or the webhook.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ksred/klear-ramp/internal/orders"
	"github.com/ksred/klear-ramp/internal/provider"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ErrUnavailable wraps every failure to obtain authoritative fields
var ErrUnavailable = errors.New("authoritative order fields unavailable")

// Fields are the provider-confirmed values of an order. Nil or invalid
// values are not known to the provider and leave the snapshot as it is.
type Fields struct {
	FiatAmount      *int64
	AmountPaid      *int64
	AssetAmount     decimal.NullDecimal
	TotalFee        decimal.NullDecimal
	FiatAmountInUSD *string
	FiatCurrency    string
	AssetSymbol     string
}

// ApplyTo replaces the snapshot's numeric and currency fields with the
// confirmed ones
func (f *Fields) ApplyTo(snap *orders.Snapshot) {
	if f.FiatAmount != nil {
		v := *f.FiatAmount
		snap.FiatAmount = &v
	}
	if f.AmountPaid != nil {
		v := *f.AmountPaid
		snap.AmountPaid = &v
	}
	if f.AssetAmount.Valid {
		snap.AssetAmount = f.AssetAmount
	}
	if f.TotalFee.Valid {
		snap.TotalFee = f.TotalFee
	}
	if f.FiatAmountInUSD != nil {
		v := *f.FiatAmountInUSD
		snap.FiatAmountInUSD = &v
	}
	if f.FiatCurrency != "" {
		snap.FiatCurrency = f.FiatCurrency
	}
	if f.AssetSymbol != "" {
		snap.AssetSymbol = f.AssetSymbol
	}
}

// FieldsFromOrder extracts the reconcilable fields of a provider order
func FieldsFromOrder(o *provider.Order) *Fields {
	return &Fields{
		FiatAmount:      o.FiatAmount,
		AmountPaid:      o.AmountPaid,
		AssetAmount:     o.AssetAmount,
		TotalFee:        o.TotalFee,
		FiatAmountInUSD: o.FiatAmountInUSD,
		FiatCurrency:    strings.ToUpper(o.FiatCurrency),
		AssetSymbol:     strings.ToUpper(o.AssetSymbol),
	}
}

// Fetcher returns the authoritative fields of an order. Callers must not
// hold database locks while calling it.
type Fetcher interface {
	FetchAuthoritative(ctx context.Context, orderID string) (*Fields, error)
}

// Disabled is a Fetcher for deployments without provider credentials
type Disabled struct{}

func (Disabled) FetchAuthoritative(context.Context, string) (*Fields, error) {
	return nil, fmt.Errorf("%w: reconciliation is not configured", ErrUnavailable)
}

// HTTPFetcher reads orders from the provider's partner API
type HTTPFetcher struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPFetcher creates a fetcher for the provider at baseURL. timeout
// bounds each call, including reading the body.
func NewHTTPFetcher(baseURL, apiKey string, timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// FetchAuthoritative calls GET {base}/v1/orders/{id}
func (f *HTTPFetcher) FetchAuthoritative(ctx context.Context, orderID string) (*Fields, error) {
	logger := log.With().
		Str("component", "reconcile").
		Str("order_id", orderID).
		Logger()

	endpoint := fmt.Sprintf("%s/v1/orders/%s", f.baseURL, url.PathEscape(orderID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set(provider.APIKeyHeader, f.apiKey)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: provider returned %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var order provider.Order
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return nil, fmt.Errorf("%w: decode provider order: %v", ErrUnavailable, err)
	}
	if order.ID != "" && order.ID != orderID {
		return nil, fmt.Errorf("%w: provider returned order %s", ErrUnavailable, order.ID)
	}

	logger.Debug().
		Dur("duration", time.Since(start)).
		Str("provider_status", order.Status).
		Msg("fetched authoritative order")

	return FieldsFromOrder(&order), nil
}
