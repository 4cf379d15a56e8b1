package migrations

import (
	"github.com/ksred/klear-ramp/internal/orders"
	"gorm.io/gorm"
)

// AddOrderSettledAt adds the settlement marker to order records. Orders
// already COMPLETED had their effect applied when they completed, so they
// are marked settled at their last update.
func AddOrderSettledAt(db *gorm.DB) error {
	if !db.Migrator().HasColumn(&orders.OrderRecord{}, "SettledAt") {
		if err := db.Migrator().AddColumn(&orders.OrderRecord{}, "SettledAt"); err != nil {
			return err
		}
	}

	return db.Exec(`UPDATE order_records
		SET settled_at = updated_at
		WHERE canonical_status = 'COMPLETED' AND settled_at IS NULL`).Error
}
