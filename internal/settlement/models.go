package settlement

import (
	"github.com/ksred/klear-ramp/internal/holdings"
	"github.com/ksred/klear-ramp/internal/orders"
	"github.com/ksred/klear-ramp/internal/status"
)

// Effect is what a processed event did to the ledger
type Effect string

const (
	EffectNone    Effect = "none"    // not a first completion
	EffectBuy     Effect = "buy"     // holding opened or increased
	EffectSell    Effect = "sell"    // holding reduced (or nothing held)
	EffectSkipped Effect = "skipped" // first completion, but the order data cannot drive an effect
)

// Outcome is the result of applying one order event
type Outcome struct {
	Record     *orders.OrderRecord
	Previous   status.Canonical
	WasNew     bool
	Transition status.Transition
	Effect     Effect
	SkipReason string
	Resettled  bool // completed again after a terminal flip; the ledger was not touched
	Holding    *holdings.Holding    // holding after the effect; nil if none remains
	Sell       *holdings.SellEffect // set for EffectSell
}
