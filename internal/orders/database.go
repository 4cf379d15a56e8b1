package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Database struct {
	db  *gorm.DB
	now func() time.Time
}

// NewDatabase wraps db. Inside a unit of work db is the transaction handle.
func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db, now: time.Now}
}

func withHistory(db *gorm.DB) *gorm.DB {
	return db.Preload("StatusHistory", func(db *gorm.DB) *gorm.DB {
		return db.Order("seq ASC")
	})
}

// Get retrieves an order record with its status history
func (d *Database) Get(ctx context.Context, orderID string) (*OrderRecord, error) {
	var rec OrderRecord
	if err := withHistory(d.db.WithContext(ctx)).Where("order_id = ?", orderID).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to fetch order: %w", err)
	}
	return &rec, nil
}

// GetForOwner retrieves an order record only if it belongs to ownerID
func (d *Database) GetForOwner(ctx context.Context, orderID, ownerID string) (*OrderRecord, error) {
	var rec OrderRecord
	if err := withHistory(d.db.WithContext(ctx)).
		Where("order_id = ? AND owner_id = ?", orderID, ownerID).
		First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to fetch order: %w", err)
	}
	return &rec, nil
}

// lock reads the record with a row lock held until the transaction ends
func (d *Database) lock(ctx context.Context, orderID string) (*OrderRecord, error) {
	var rec OrderRecord
	err := withHistory(d.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"})).
		Where("order_id = ?", orderID).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock order: %w", err)
	}
	return &rec, nil
}

// Upsert creates the record for snap.OrderID or merges snap into the existing
// one. It must run inside a transaction so the row lock taken here covers the
// caller's ledger writes.
func (d *Database) Upsert(ctx context.Context, snap *Snapshot) (*UpsertResult, error) {
	existing, err := d.lock(ctx, snap.OrderID)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		rec, change, err := NewRecord(snap, d.now())
		if err != nil {
			return nil, err
		}
		result := d.db.WithContext(ctx).
			Omit(clause.Associations).
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "order_id"}}, DoNothing: true}).
			Create(rec)
		if result.Error != nil {
			return nil, fmt.Errorf("failed to create order: %w", result.Error)
		}
		if result.RowsAffected == 1 {
			if err := d.insertEntries(ctx, rec.ID, change.Added); err != nil {
				return nil, err
			}
			return &UpsertResult{Record: rec, WasNew: true, Transition: change.Transition}, nil
		}

		// A concurrent delivery created the record first; continue as an update.
		existing, err = d.lock(ctx, snap.OrderID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, fmt.Errorf("failed to create order: %w", ErrOrderNotFound)
		}
	}

	change, err := existing.Apply(snap, d.now())
	if err != nil {
		return nil, err
	}
	if err := d.db.WithContext(ctx).Omit(clause.Associations).Save(existing).Error; err != nil {
		return nil, fmt.Errorf("failed to update order: %w", err)
	}
	if err := d.insertEntries(ctx, existing.ID, change.Added); err != nil {
		return nil, err
	}

	return &UpsertResult{
		Record:     existing,
		Previous:   change.Previous,
		Transition: change.Transition,
	}, nil
}

// MarkSettled records that the completion effect of orderID has been applied
// or skipped. Later completions of the same order must not apply it again.
func (d *Database) MarkSettled(ctx context.Context, orderID string, at time.Time) error {
	result := d.db.WithContext(ctx).
		Model(&OrderRecord{}).
		Where("order_id = ? AND settled_at IS NULL", orderID).
		Update("settled_at", at)
	if result.Error != nil {
		return fmt.Errorf("failed to mark order settled: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("failed to mark order settled: %w", ErrAlreadySettled)
	}
	return nil
}

func (d *Database) insertEntries(ctx context.Context, recordID uint, entries []StatusEntry) error {
	if len(entries) == 0 {
		return nil
	}
	for i := range entries {
		entries[i].OrderRecordID = recordID
	}
	if err := d.db.WithContext(ctx).Create(&entries).Error; err != nil {
		return fmt.Errorf("failed to append status history: %w", err)
	}
	return nil
}
