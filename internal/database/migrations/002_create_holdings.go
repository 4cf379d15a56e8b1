package migrations

import (
	"github.com/ksred/klear-ramp/internal/holdings"
	"gorm.io/gorm"
)

// CreateHoldings creates the holdings ledger table
func CreateHoldings(db *gorm.DB) error {
	if err := db.AutoMigrate(&holdings.Holding{}); err != nil {
		return err
	}

	// Read path for an owner's portfolio
	return db.Exec(`CREATE INDEX IF NOT EXISTS idx_holdings_owner
		ON holdings(owner_id)`).Error
}
