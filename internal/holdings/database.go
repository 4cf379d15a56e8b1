package holdings

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Database struct {
	db *gorm.DB
}

// NewDatabase wraps db. Inside a unit of work db is the transaction handle.
func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func whereKey(db *gorm.DB, key Key) *gorm.DB {
	return db.Where("owner_id = ? AND asset_symbol = ? AND fiat_currency = ?",
		key.OwnerID, key.AssetSymbol, key.FiatCurrency)
}

// Get returns the holding for key, or nil when the owner holds none
func (d *Database) Get(ctx context.Context, key Key) (*Holding, error) {
	return d.find(d.db.WithContext(ctx), key)
}

// lock reads the holding with a row lock held until the transaction ends
func (d *Database) lock(ctx context.Context, key Key) (*Holding, error) {
	return d.find(d.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), key)
}

func (d *Database) find(db *gorm.DB, key Key) (*Holding, error) {
	var h Holding
	if err := whereKey(db, key).First(&h).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch holding: %w", err)
	}
	return &h, nil
}

// ListByOwner returns every open holding of ownerID
func (d *Database) ListByOwner(ctx context.Context, ownerID string) ([]Holding, error) {
	var hs []Holding
	if err := d.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("asset_symbol ASC, fiat_currency ASC").
		Find(&hs).Error; err != nil {
		return nil, fmt.Errorf("failed to list holdings: %w", err)
	}
	return hs, nil
}

// UpsertOnBuy adds deltaQty units bought for deltaInvested to the holding,
// creating it on the first buy
func (d *Database) UpsertOnBuy(ctx context.Context, key Key, deltaQty, deltaInvested decimal.Decimal) (*Holding, error) {
	h, err := d.lock(ctx, key)
	if err != nil {
		return nil, err
	}

	if h == nil {
		created, err := NewHolding(key, deltaQty, deltaInvested)
		if err != nil {
			return nil, err
		}
		result := d.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "owner_id"}, {Name: "asset_symbol"}, {Name: "fiat_currency"}},
				DoNothing: true,
			}).
			Create(created)
		if result.Error != nil {
			return nil, fmt.Errorf("failed to create holding: %w", result.Error)
		}
		if result.RowsAffected == 1 {
			return created, nil
		}

		// Another transaction opened the holding first; add to it instead.
		if h, err = d.lock(ctx, key); err != nil {
			return nil, err
		}
		if h == nil {
			return nil, errors.New("failed to create holding: row vanished after conflict")
		}
	}

	if err := h.Add(deltaQty, deltaInvested); err != nil {
		return nil, err
	}
	if err := d.db.WithContext(ctx).Save(h).Error; err != nil {
		return nil, fmt.Errorf("failed to update holding: %w", err)
	}
	return h, nil
}

// ReduceOnSell removes sellQty units at their cost basis. Missing holdings
// are a no-op; a holding driven to zero is deleted.
func (d *Database) ReduceOnSell(ctx context.Context, key Key, sellQty decimal.Decimal) (SellEffect, error) {
	h, err := d.lock(ctx, key)
	if err != nil {
		return SellEffect{}, err
	}
	if h == nil {
		return SellEffect{}, nil
	}

	effect, err := h.Reduce(sellQty)
	if err != nil {
		return SellEffect{}, err
	}

	if effect.Closed {
		if err := d.db.WithContext(ctx).Delete(h).Error; err != nil {
			return SellEffect{}, fmt.Errorf("failed to delete holding: %w", err)
		}
		return effect, nil
	}
	if err := d.db.WithContext(ctx).Save(h).Error; err != nil {
		return SellEffect{}, fmt.Errorf("failed to update holding: %w", err)
	}
	return effect, nil
}
