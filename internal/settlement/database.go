package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/ksred/klear-ramp/internal/holdings"
	"github.com/ksred/klear-ramp/internal/orders"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// OrderStore is the order record access the processor needs inside a unit of work
type OrderStore interface {
	Upsert(ctx context.Context, snap *orders.Snapshot) (*orders.UpsertResult, error)
	MarkSettled(ctx context.Context, orderID string, at time.Time) error
}

// Ledger is the holdings access the processor needs inside a unit of work
type Ledger interface {
	UpsertOnBuy(ctx context.Context, key holdings.Key, deltaQty, deltaInvested decimal.Decimal) (*holdings.Holding, error)
	ReduceOnSell(ctx context.Context, key holdings.Key, sellQty decimal.Decimal) (holdings.SellEffect, error)
}

// UnitOfWork runs fn atomically: either every write fn makes is committed or none is
type UnitOfWork interface {
	Do(ctx context.Context, fn func(store OrderStore, ledger Ledger) error) error
}

// Database is the gorm-backed unit of work
type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// Do runs fn in one database transaction. Stores handed to fn share the
// transaction, so row locks they take are held until commit.
func (d *Database) Do(ctx context.Context, fn func(store OrderStore, ledger Ledger) error) error {
	// Begin transaction
	tx := d.db.WithContext(ctx).Begin()
	if err := tx.Error; err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(orders.NewDatabase(tx), holdings.NewDatabase(tx)); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
