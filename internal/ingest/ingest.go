package ingest

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ksred/klear-ramp/internal/holdings"
	"github.com/ksred/klear-ramp/internal/metrics"
	"github.com/ksred/klear-ramp/internal/orders"
	"github.com/ksred/klear-ramp/internal/reconcile"
	"github.com/ksred/klear-ramp/internal/settlement"
	"github.com/ksred/klear-ramp/internal/status"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Reader serves the display read paths
type Reader interface {
	GetForOwner(ctx context.Context, orderID, ownerID string) (*orders.OrderRecord, error)
	ListByOwner(ctx context.Context, ownerID string) ([]holdings.Holding, error)
}

// Service turns provider webhooks and client polls into order events for
// the completion processor
type Service struct {
	processor        *settlement.Processor
	reader           Reader
	fetcher          reconcile.Fetcher
	reconcileTimeout time.Duration
}

// NewService wires the ingest paths. A nil fetcher disables reconciliation.
func NewService(processor *settlement.Processor, reader Reader, fetcher reconcile.Fetcher, reconcileTimeout time.Duration) *Service {
	if fetcher == nil {
		fetcher = reconcile.Disabled{}
	}
	return &Service{
		processor:        processor,
		reader:           reader,
		fetcher:          fetcher,
		reconcileTimeout: reconcileTimeout,
	}
}

// CreateOrder stores the initial snapshot of an order. An id that already
// exists is treated as an update.
func (s *Service) CreateOrder(ctx context.Context, ownerID string, req *CreateOrderRequest) (*orders.OrderRecord, error) {
	start := time.Now()
	logger := log.With().
		Str("operation", "create").
		Str("order_id", req.ID).
		Str("owner_id", ownerID).
		Logger()

	fiat := req.FiatAmount
	snap := &orders.Snapshot{
		OrderID:         req.ID,
		OwnerID:         ownerID,
		Direction:       orders.Direction(strings.ToUpper(req.Direction)),
		FiatAmount:      &fiat,
		FiatCurrency:    strings.ToUpper(req.FiatCurrency),
		AssetSymbol:     strings.ToUpper(req.AssetSymbol),
		AssetAmount:     req.AssetAmount,
		WalletAddress:   req.WalletAddress,
		Network:         req.Network,
		PaymentMethodID: req.PaymentMethodID,
		AmountPaid:      req.AmountPaid,
		TotalFee:        req.TotalFee,
		FiatAmountInUSD: req.FiatAmountInUSD,
		History:         historyEntries(req.StatusHistory),
	}
	normalizeStatus(logger, snap, req.Status)

	rec, err := s.apply(ctx, logger, snap)
	observe("create", start, err)
	return rec, err
}

// UpdateOrder merges a partial snapshot into the stored order. Completed
// events are reconciled against the provider first.
func (s *Service) UpdateOrder(ctx context.Context, ownerID string, req *UpdateOrderRequest) (*orders.OrderRecord, error) {
	start := time.Now()
	logger := log.With().
		Str("operation", "update").
		Str("order_id", req.ID).
		Str("owner_id", ownerID).
		Logger()

	snap := &orders.Snapshot{
		OrderID:         req.ID,
		OwnerID:         ownerID,
		FiatAmount:      req.FiatAmount,
		FiatCurrency:    strings.ToUpper(req.FiatCurrency),
		AssetSymbol:     strings.ToUpper(req.AssetSymbol),
		AssetAmount:     req.AssetAmount,
		WalletAddress:   req.WalletAddress,
		Network:         req.Network,
		PaymentMethodID: req.PaymentMethodID,
		AmountPaid:      req.AmountPaid,
		TotalFee:        req.TotalFee,
		FiatAmountInUSD: req.FiatAmountInUSD,
		History:         historyEntries(req.StatusHistory),
	}
	normalizeStatus(logger, snap, req.Status)

	// Outside the unit of work: no row lock is held across the network call.
	if snap.Status == status.Completed {
		s.reconcile(ctx, logger, snap)
	}

	rec, err := s.apply(ctx, logger, snap)
	observe("update", start, err)
	return rec, err
}

// GetOrder returns an order owned by ownerID
func (s *Service) GetOrder(ctx context.Context, ownerID, orderID string) (*orders.OrderRecord, error) {
	return s.reader.GetForOwner(ctx, orderID, ownerID)
}

// ListHoldings returns every open holding of ownerID
func (s *Service) ListHoldings(ctx context.Context, ownerID string) ([]holdings.Holding, error) {
	hs, err := s.reader.ListByOwner(ctx, ownerID)
	if err == nil && hs == nil {
		hs = []holdings.Holding{}
	}
	return hs, err
}

func (s *Service) apply(ctx context.Context, logger zerolog.Logger, snap *orders.Snapshot) (*orders.OrderRecord, error) {
	out, err := s.processor.Apply(ctx, snap)
	if err != nil {
		return nil, err
	}
	logger.Info().
		Str("status", out.Record.CanonicalStatus.String()).
		Str("transition", out.Transition.String()).
		Str("effect", string(out.Effect)).
		Msg("order event ingested")
	return out.Record, nil
}

// reconcile replaces submitted numbers with the provider's. Failures are
// logged and counted; the submitted values are used instead.
func (s *Service) reconcile(ctx context.Context, logger zerolog.Logger, snap *orders.Snapshot) {
	fetchCtx := ctx
	if s.reconcileTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, s.reconcileTimeout)
		defer cancel()
	}

	fields, err := s.fetcher.FetchAuthoritative(fetchCtx, snap.OrderID)
	if err != nil {
		metrics.ReconcileFailures.Inc()
		logger.Warn().Err(err).Msg("reconciliation failed, using submitted order fields")
		return
	}
	fields.ApplyTo(snap)
	logger.Debug().Msg("order fields reconciled with provider")
}

// normalizeStatus maps the vendor status onto the canonical set. Without an
// explicit status the latest history entry is used.
func normalizeStatus(logger zerolog.Logger, snap *orders.Snapshot, raw string) {
	raw = strings.TrimSpace(raw)
	if raw == "" && len(snap.History) > 0 {
		raw = snap.History[len(snap.History)-1].Status
	}
	if raw == "" {
		return
	}

	snap.RawStatus = raw
	canonical, ok := status.Lookup(raw)
	if !ok {
		canonical = status.Normalize(raw)
		metrics.UnknownProviderStatuses.Inc()
		logger.Warn().
			Str("raw_status", raw).
			Str("status", canonical.String()).
			Msg("unrecognized provider status")
	}
	snap.Status = canonical
}

func observe(operation string, start time.Time, err error) {
	metrics.IngestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	metrics.IngestRequests.WithLabelValues(operation, result(err)).Inc()
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, orders.ErrInvalidSnapshot):
		return "invalid"
	case errors.Is(err, orders.ErrOwnerMismatch):
		return "forbidden"
	default:
		return "error"
	}
}
