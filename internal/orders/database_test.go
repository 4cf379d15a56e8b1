package orders

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/klear-ramp/internal/status"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&OrderRecord{}, &StatusEntry{}))
	return db
}

func int64Ptr(v int64) *int64 { return &v }

func buySnapshot(id string, st status.Canonical, raw string) *Snapshot {
	return &Snapshot{
		OrderID:      id,
		OwnerID:      "owner-1",
		Direction:    DirectionBuy,
		FiatAmount:   int64Ptr(500),
		FiatCurrency: "AUD",
		AssetSymbol:  "BTC",
		AssetAmount:  decimal.NewNullDecimal(decimal.RequireFromString("0.01")),
		RawStatus:    raw,
		Status:       st,
	}
}

// upsertTx runs Upsert inside a transaction the way the unit of work does
func upsertTx(t *testing.T, db *gorm.DB, snap *Snapshot) *UpsertResult {
	var res *UpsertResult
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		res, err = NewDatabase(tx).Upsert(context.Background(), snap)
		return err
	})
	require.NoError(t, err)
	return res
}

func TestUpsert_CreatesThenUpdatesSameRecord(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	first := upsertTx(t, db, buySnapshot("ord-1", status.Pending, "AWAITING_PAYMENT_FROM_USER"))
	assert.True(t, first.WasNew)
	assert.Equal(t, status.Canonical(""), first.Previous)
	assert.Equal(t, status.Pending, first.Record.CanonicalStatus)

	second := upsertTx(t, db, &Snapshot{
		OrderID:    "ord-1",
		OwnerID:    "owner-1",
		RawStatus:  "COMPLETED",
		Status:     status.Completed,
		AmountPaid: int64Ptr(505),
		TotalFee:   decimal.NewNullDecimal(decimal.RequireFromString("5.25")),
	})
	assert.False(t, second.WasNew)
	assert.Equal(t, status.Pending, second.Previous)
	assert.Equal(t, status.TransitionAdvanced, second.Transition)

	var count int64
	require.NoError(t, db.Model(&OrderRecord{}).Where("order_id = ?", "ord-1").Count(&count).Error)
	assert.Equal(t, int64(1), count)

	stored, err := NewDatabase(db).Get(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, status.Completed, stored.CanonicalStatus)
	assert.Equal(t, "COMPLETED", stored.RawProviderStatus)
	assert.Equal(t, int64(500), stored.FiatAmount)
	require.NotNil(t, stored.AmountPaid)
	assert.Equal(t, int64(505), *stored.AmountPaid)
	assert.True(t, stored.TotalFee.Decimal.Equal(decimal.RequireFromString("5.25")))
	assert.True(t, stored.AssetAmount.Equal(decimal.RequireFromString("0.01")))

	require.Len(t, stored.StatusHistory, 2)
	assert.Equal(t, "AWAITING_PAYMENT_FROM_USER", stored.StatusHistory[0].Status)
	assert.Equal(t, "COMPLETED", stored.StatusHistory[1].Status)
}

func TestUpsert_HistoryIsAppendOnlyAndDeduplicated(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	snap := buySnapshot("ord-2", status.Processing, "PROCESSING")
	snap.History = []HistoryEntry{
		{Status: "PENDING", Timestamp: t0, Message: "order created"},
		{Status: "PROCESSING", Timestamp: t0.Add(time.Minute)},
	}
	upsertTx(t, db, snap)

	replay := buySnapshot("ord-2", status.Completed, "COMPLETED")
	replay.History = []HistoryEntry{
		{Status: "PENDING", Timestamp: t0, Message: "order created"},
		{Status: "PROCESSING", Timestamp: t0.Add(time.Minute)},
		{Status: "COMPLETED", Timestamp: t0.Add(2 * time.Minute)},
	}
	upsertTx(t, db, replay)
	upsertTx(t, db, replay)

	stored, err := NewDatabase(db).Get(ctx, "ord-2")
	require.NoError(t, err)
	require.Len(t, stored.StatusHistory, 3)
	for i, want := range []string{"PENDING", "PROCESSING", "COMPLETED"} {
		assert.Equal(t, want, stored.StatusHistory[i].Status)
		assert.Equal(t, i+1, stored.StatusHistory[i].Seq)
	}
	assert.Equal(t, "order created", stored.StatusHistory[0].Message)
}

func TestUpsert_TerminalStatusDoesNotRevert(t *testing.T) {
	db := setupTestDB(t)

	upsertTx(t, db, buySnapshot("ord-3", status.Completed, "DONE"))
	late := upsertTx(t, db, buySnapshot("ord-3", status.Pending, "PENDING"))

	assert.Equal(t, status.Completed, late.Previous)
	assert.Equal(t, status.TransitionStale, late.Transition)
	assert.Equal(t, status.Completed, late.Record.CanonicalStatus)
	assert.Equal(t, "PENDING", late.Record.RawProviderStatus)
}

func TestUpsert_TerminalFlipIsReported(t *testing.T) {
	db := setupTestDB(t)

	upsertTx(t, db, buySnapshot("ord-4", status.Completed, "COMPLETED"))
	flip := upsertTx(t, db, buySnapshot("ord-4", status.Failed, "FAILED"))

	assert.Equal(t, status.TransitionTerminalFlip, flip.Transition)
	assert.Equal(t, status.Failed, flip.Record.CanonicalStatus)
}

func TestUpsert_RejectsOtherOwner(t *testing.T) {
	db := setupTestDB(t)
	upsertTx(t, db, buySnapshot("ord-5", status.Pending, "PENDING"))

	snap := buySnapshot("ord-5", status.Completed, "COMPLETED")
	snap.OwnerID = "intruder"
	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := NewDatabase(tx).Upsert(context.Background(), snap)
		return err
	})
	assert.ErrorIs(t, err, ErrOwnerMismatch)

	stored, err := NewDatabase(db).Get(context.Background(), "ord-5")
	require.NoError(t, err)
	assert.Equal(t, status.Pending, stored.CanonicalStatus)
}

func TestGetForOwner(t *testing.T) {
	db := setupTestDB(t)
	store := NewDatabase(db)
	upsertTx(t, db, buySnapshot("ord-6", status.Pending, "PENDING"))

	rec, err := store.GetForOwner(context.Background(), "ord-6", "owner-1")
	require.NoError(t, err)
	assert.Equal(t, "ord-6", rec.OrderID)

	_, err = store.GetForOwner(context.Background(), "ord-6", "owner-2")
	assert.ErrorIs(t, err, ErrOrderNotFound)

	_, err = store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestMarkSettled_OnlyOnce(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	upsertTx(t, db, buySnapshot("ord-1", status.Completed, "SETTLED"))

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, NewDatabase(db).MarkSettled(ctx, "ord-1", at))

	err := NewDatabase(db).MarkSettled(ctx, "ord-1", at.Add(time.Hour))
	assert.ErrorIs(t, err, ErrAlreadySettled)

	// later events keep the marker
	upsertTx(t, db, buySnapshot("ord-1", status.Failed, "DECLINED"))
	stored, err := NewDatabase(db).Get(ctx, "ord-1")
	require.NoError(t, err)
	require.NotNil(t, stored.SettledAt)
	assert.True(t, stored.SettledAt.Equal(at), stored.SettledAt.String())
}
