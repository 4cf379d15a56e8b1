package migrations

import (
	"github.com/ksred/klear-ramp/internal/orders"
	"gorm.io/gorm"
)

// CreateOrderRecords creates the order record and status history tables
func CreateOrderRecords(db *gorm.DB) error {
	if err := db.AutoMigrate(&orders.OrderRecord{}, &orders.StatusEntry{}); err != nil {
		return err
	}

	indexes := []string{
		// Owner's order list, newest first
		`CREATE INDEX IF NOT EXISTS idx_order_records_owner_updated
		 ON order_records(owner_id, updated_at)`,

		// History is always read in sequence order
		`CREATE INDEX IF NOT EXISTS idx_status_entries_record_seq
		 ON status_entries(order_record_id, seq)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
