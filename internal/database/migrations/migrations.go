package migrations

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// SchemaMigration records an applied migration
type SchemaMigration struct {
	ID        string `gorm:"primaryKey;size:64"`
	AppliedAt time.Time
}

type migration struct {
	id string
	up func(*gorm.DB) error
}

var all = []migration{
	{id: "001_create_order_records", up: CreateOrderRecords},
	{id: "002_create_holdings", up: CreateHoldings},
	{id: "003_add_order_settled_at", up: AddOrderSettledAt},
}

// Run applies every migration that has not been recorded yet, each in its
// own transaction
func Run(db *gorm.DB) error {
	if err := db.AutoMigrate(&SchemaMigration{}); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	for _, m := range all {
		var count int64
		if err := db.Model(&SchemaMigration{}).Where("id = ?", m.id).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check migration %s: %w", m.id, err)
		}
		if count > 0 {
			continue
		}

		err := db.Transaction(func(tx *gorm.DB) error {
			if err := m.up(tx); err != nil {
				return err
			}
			return tx.Create(&SchemaMigration{ID: m.id, AppliedAt: time.Now().UTC()}).Error
		})
		if err != nil {
			return fmt.Errorf("migration %s failed: %w", m.id, err)
		}
		log.Info().Str("migration", m.id).Msg("migration applied")
	}
	return nil
}
