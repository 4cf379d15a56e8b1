package orders

import (
	"time"

	"github.com/ksred/klear-ramp/internal/status"
	"github.com/shopspring/decimal"
)

// Direction is the side of a provider order
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// Valid reports whether d is BUY or SELL
func (d Direction) Valid() bool {
	return d == DirectionBuy || d == DirectionSell
}

// OrderRecord is the durable record of a provider order, keyed by the
// provider-issued order id
type OrderRecord struct {
	ID                uint                `gorm:"primaryKey" json:"-"`
	OrderID           string              `gorm:"uniqueIndex;size:128;not null" json:"id"`
	OwnerID           string              `gorm:"index;size:128;not null" json:"owner_id"`
	Direction         Direction           `gorm:"size:8;not null" json:"direction"`
	FiatAmount        int64               `gorm:"not null;default:0" json:"fiat_amount"` // minor units
	FiatCurrency      string              `gorm:"size:8" json:"fiat_currency"`
	AssetSymbol       string              `gorm:"size:32" json:"asset_symbol"`
	AssetAmount       decimal.Decimal     `gorm:"type:decimal(36,18);not null" json:"asset_amount"`
	WalletAddress     string              `gorm:"size:256" json:"wallet_address,omitempty"`
	Network           string              `gorm:"size:64" json:"network,omitempty"`
	PaymentMethodID   string              `gorm:"size:128" json:"payment_method_id,omitempty"`
	CanonicalStatus   status.Canonical    `gorm:"size:16;index;not null" json:"status"`
	RawProviderStatus string              `gorm:"size:64" json:"raw_provider_status"`
	AmountPaid        *int64              `json:"amount_paid"`
	TotalFee          decimal.NullDecimal `gorm:"type:decimal(36,18)" json:"total_fee"`
	FiatAmountInUSD   *string             `gorm:"column:fiat_amount_in_usd;size:64" json:"fiat_amount_in_usd"`
	SettledAt         *time.Time          `json:"settled_at,omitempty"` // completion effect decided; never cleared
	StatusHistory     []StatusEntry       `gorm:"foreignKey:OrderRecordID" json:"status_history"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

// StatusEntry is one element of an order's append-only status history
type StatusEntry struct {
	ID            uint      `gorm:"primaryKey" json:"-"`
	OrderRecordID uint      `gorm:"uniqueIndex:idx_status_entry_event;not null" json:"-"`
	Seq           int       `gorm:"not null" json:"-"`
	Status        string    `gorm:"uniqueIndex:idx_status_entry_event;size:64;not null" json:"status"`
	Timestamp     time.Time `gorm:"uniqueIndex:idx_status_entry_event;not null" json:"timestamp"`
	Message       string    `gorm:"size:512" json:"message,omitempty"`
}

// HistoryEntry is an inbound status history element
type HistoryEntry struct {
	Status    string
	Timestamp time.Time
	Message   string
}

// Snapshot is a normalized inbound order event. On updates, empty strings and
// nil pointers leave the stored value unchanged.
type Snapshot struct {
	OrderID         string
	OwnerID         string
	Direction       Direction
	FiatAmount      *int64
	FiatCurrency    string
	AssetSymbol     string
	AssetAmount     decimal.NullDecimal
	WalletAddress   string
	Network         string
	PaymentMethodID string
	RawStatus       string
	Status          status.Canonical
	AmountPaid      *int64
	TotalFee        decimal.NullDecimal
	FiatAmountInUSD *string
	History         []HistoryEntry
}

// UpsertResult reports what an upsert did to the stored record
type UpsertResult struct {
	Record     *OrderRecord
	Previous   status.Canonical // empty when the record was created
	WasNew     bool
	Transition status.Transition
}
