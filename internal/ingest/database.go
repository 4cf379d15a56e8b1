package ingest

import (
	"context"

	"github.com/ksred/klear-ramp/internal/holdings"
	"github.com/ksred/klear-ramp/internal/orders"
	"gorm.io/gorm"
)

// Database is the gorm-backed Reader
type Database struct {
	orders   *orders.Database
	holdings *holdings.Database
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{
		orders:   orders.NewDatabase(db),
		holdings: holdings.NewDatabase(db),
	}
}

func (d *Database) GetForOwner(ctx context.Context, orderID, ownerID string) (*orders.OrderRecord, error) {
	return d.orders.GetForOwner(ctx, orderID, ownerID)
}

func (d *Database) ListByOwner(ctx context.Context, ownerID string) ([]holdings.Holding, error) {
	return d.holdings.ListByOwner(ctx, ownerID)
}
