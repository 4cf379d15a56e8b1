package holdings

import (
	"time"

	"github.com/shopspring/decimal"
)

// Key identifies a holding. Holdings in different settlement currencies are
// never merged.
type Key struct {
	OwnerID      string
	AssetSymbol  string
	FiatCurrency string
}

// Holding is an owner's position in one asset, settled in one fiat currency,
// with a weighted-average cost basis. A holding with zero quantity is deleted.
type Holding struct {
	ID            uint            `gorm:"primaryKey" json:"-"`
	OwnerID       string          `gorm:"uniqueIndex:idx_holding_key;size:128;not null" json:"owner_id"`
	AssetSymbol   string          `gorm:"uniqueIndex:idx_holding_key;size:32;not null" json:"asset_symbol"`
	FiatCurrency  string          `gorm:"uniqueIndex:idx_holding_key;size:8;not null" json:"fiat_currency"`
	Quantity      decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"quantity"`
	TotalInvested decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"total_invested"`
	AvgCost       decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"avg_cost"` // cached
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Key returns the holding's identity
func (h *Holding) Key() Key {
	return Key{OwnerID: h.OwnerID, AssetSymbol: h.AssetSymbol, FiatCurrency: h.FiatCurrency}
}

// SellEffect reports what a sell did to a holding
type SellEffect struct {
	Found     bool            // false when there was nothing to reduce
	SoldQty   decimal.Decimal // quantity actually removed, at most the held quantity
	ReducedBy decimal.Decimal // cost basis removed with the sold units
	Closed    bool            // quantity reached zero and the holding was deleted
	Remaining *Holding        // nil when closed or not found
}
