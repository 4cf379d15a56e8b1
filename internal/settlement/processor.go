package settlement

import (
	"context"
	"time"

	"github.com/ksred/klear-ramp/internal/events"
	"github.com/ksred/klear-ramp/internal/holdings"
	"github.com/ksred/klear-ramp/internal/metrics"
	"github.com/ksred/klear-ramp/internal/orders"
	"github.com/ksred/klear-ramp/internal/status"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Processor applies order events: it stores the order record and, on the
// first transition into COMPLETED, applies the BUY or SELL effect to the
// owner's holding in the same unit of work
type Processor struct {
	uow       UnitOfWork
	publisher events.Publisher
}

func NewProcessor(uow UnitOfWork, publisher events.Publisher) *Processor {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Processor{
		uow:       uow,
		publisher: publisher,
	}
}

// Apply stores snap and applies its ledger effect at most once per order.
// A failed call leaves no partial writes and is safe to retry.
func (p *Processor) Apply(ctx context.Context, snap *orders.Snapshot) (*Outcome, error) {
	logger := log.With().
		Str("component", "completion_processor").
		Str("order_id", snap.OrderID).
		Logger()

	if err := snap.Validate(); err != nil {
		return nil, err
	}

	var out *Outcome
	err := p.uow.Do(ctx, func(store OrderStore, ledger Ledger) error {
		res, err := store.Upsert(ctx, snap)
		if err != nil {
			return err
		}
		out = &Outcome{
			Record:     res.Record,
			Previous:   res.Previous,
			WasNew:     res.WasNew,
			Transition: res.Transition,
			Effect:     EffectNone,
		}
		return applyEffect(ctx, store, ledger, out)
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to apply order event")
		return nil, err
	}

	p.report(ctx, logger, out)
	return out, nil
}

// applyEffect runs inside the unit of work, after the order row is locked.
// The first completion of an order settles it, whether or not the ledger
// moves; a settled order never moves the ledger again.
func applyEffect(ctx context.Context, store OrderStore, ledger Ledger, out *Outcome) error {
	rec := out.Record
	if rec.CanonicalStatus != status.Completed || out.Previous == status.Completed {
		return nil
	}
	if rec.SettledAt != nil {
		out.Resettled = true
		return nil
	}

	settledAt := time.Now().UTC()
	if err := store.MarkSettled(ctx, rec.OrderID, settledAt); err != nil {
		return err
	}
	rec.SettledAt = &settledAt

	if reason := effectGuard(rec); reason != "" {
		out.Effect = EffectSkipped
		out.SkipReason = reason
		return nil
	}

	key := holdings.Key{
		OwnerID:      rec.OwnerID,
		AssetSymbol:  rec.AssetSymbol,
		FiatCurrency: rec.FiatCurrency,
	}

	switch rec.Direction {
	case orders.DirectionBuy:
		invested := decimal.NewFromInt(rec.EffectiveFiatAmount())
		h, err := ledger.UpsertOnBuy(ctx, key, rec.AssetAmount, invested)
		if err != nil {
			return err
		}
		out.Effect = EffectBuy
		out.Holding = h
	case orders.DirectionSell:
		effect, err := ledger.ReduceOnSell(ctx, key, rec.AssetAmount)
		if err != nil {
			return err
		}
		out.Effect = EffectSell
		out.Sell = &effect
		out.Holding = effect.Remaining
	default:
		out.Effect = EffectSkipped
		out.SkipReason = "order has no direction"
	}
	return nil
}

// effectGuard returns why a completed order cannot move the ledger, or ""
func effectGuard(rec *orders.OrderRecord) string {
	switch {
	case rec.AssetSymbol == "":
		return "missing asset symbol"
	case !rec.AssetAmount.IsPositive():
		return "asset amount is not positive"
	case rec.EffectiveFiatAmount() <= 0:
		return "settled fiat amount is not positive"
	}
	return ""
}

// report logs, counts and publishes the committed outcome
func (p *Processor) report(ctx context.Context, logger zerolog.Logger, out *Outcome) {
	rec := out.Record
	metrics.StatusTransitions.WithLabelValues(out.Transition.String()).Inc()

	switch out.Transition {
	case status.TransitionTerminalFlip:
		// Overwritten as the provider reported it; flagged for follow-up.
		logger.Warn().
			Str("previous_status", out.Previous.String()).
			Str("status", rec.CanonicalStatus.String()).
			Str("raw_status", rec.RawProviderStatus).
			Msg("terminal order received a different terminal status")
	case status.TransitionStale:
		logger.Info().
			Str("status", rec.CanonicalStatus.String()).
			Str("raw_status", rec.RawProviderStatus).
			Msg("ignored out-of-order status, record metadata refreshed")
	default:
		logger.Debug().
			Str("previous_status", out.Previous.String()).
			Str("status", rec.CanonicalStatus.String()).
			Str("transition", out.Transition.String()).
			Bool("was_new", out.WasNew).
			Msg("order record stored")
	}

	if out.Resettled {
		logger.Warn().
			Time("settled_at", *rec.SettledAt).
			Str("previous_status", out.Previous.String()).
			Msg("settled order completed again, ledger left unchanged")
	}

	now := time.Now().UTC()
	if out.Transition == status.TransitionNew || out.Transition == status.TransitionAdvanced ||
		out.Transition == status.TransitionTerminalFlip {
		p.publish(ctx, logger, events.SubjectOrderStatusChanged, events.OrderStatusChanged{
			OrderID:    rec.OrderID,
			OwnerID:    rec.OwnerID,
			Previous:   out.Previous.String(),
			Status:     rec.CanonicalStatus.String(),
			RawStatus:  rec.RawProviderStatus,
			Transition: out.Transition.String(),
			OccurredAt: now,
		})
	}

	if out.Effect == EffectNone {
		return
	}
	metrics.LedgerEffects.WithLabelValues(string(out.Effect)).Inc()

	if out.Effect == EffectSkipped {
		logger.Warn().
			Str("reason", out.SkipReason).
			Str("asset_symbol", rec.AssetSymbol).
			Str("asset_amount", rec.AssetAmount.String()).
			Int64("fiat_amount", rec.EffectiveFiatAmount()).
			Msg("completed order left holdings unchanged")
		return
	}

	changed := events.HoldingChanged{
		OrderID:      rec.OrderID,
		OwnerID:      rec.OwnerID,
		AssetSymbol:  rec.AssetSymbol,
		FiatCurrency: rec.FiatCurrency,
		Effect:       string(out.Effect),
		Closed:       out.Holding == nil,
		OccurredAt:   now,
	}
	if out.Holding != nil {
		changed.Quantity = out.Holding.Quantity
		changed.TotalInvested = out.Holding.TotalInvested
		changed.AvgCost = out.Holding.AvgCost
	}
	if out.Sell != nil && !out.Sell.Found {
		logger.Warn().
			Str("asset_symbol", rec.AssetSymbol).
			Str("fiat_currency", rec.FiatCurrency).
			Msg("sell completed with no holding to reduce")
		return
	}

	logger.Info().
		Str("effect", string(out.Effect)).
		Str("asset_symbol", rec.AssetSymbol).
		Str("fiat_currency", rec.FiatCurrency).
		Str("asset_amount", rec.AssetAmount.String()).
		Int64("fiat_amount", rec.EffectiveFiatAmount()).
		Str("quantity", changed.Quantity.String()).
		Str("avg_cost", changed.AvgCost.String()).
		Bool("closed", changed.Closed).
		Msg("applied completion effect to holding")

	p.publish(ctx, logger, events.SubjectHoldingChanged, changed)
}

func (p *Processor) publish(ctx context.Context, logger zerolog.Logger, subject string, payload any) {
	if err := p.publisher.Publish(ctx, subject, payload); err != nil {
		logger.Error().Err(err).Str("subject", subject).Msg("failed to publish event")
	}
}
