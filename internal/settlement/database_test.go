package settlement_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/ksred/klear-ramp/internal/holdings"
	"github.com/ksred/klear-ramp/internal/orders"
	"github.com/ksred/klear-ramp/internal/settlement"
	"github.com/ksred/klear-ramp/internal/status"
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

	require.NoError(t, db.AutoMigrate(&orders.OrderRecord{}, &orders.StatusEntry{}, &holdings.Holding{}))
	return db
}

func TestDatabase_ProcessorEndToEnd(t *testing.T) {
	db := setupTestDB(t)
	p := settlement.NewProcessor(settlement.NewDatabase(db), nil)
	ctx := context.Background()

	apply(t, p, order("buy-1", orders.DirectionBuy, "0.01", 500, status.Pending))
	apply(t, p, order("buy-1", orders.DirectionBuy, "0.01", 500, status.Completed))
	apply(t, p, order("buy-1", orders.DirectionBuy, "0.01", 500, status.Completed))
	apply(t, p, order("buy-2", orders.DirectionBuy, "0.01", 700, status.Completed))

	ledger := holdings.NewDatabase(db)
	h, err := ledger.Get(ctx, btcAUD)
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.True(t, h.Quantity.Equal(d("0.02")), h.Quantity.String())
	assert.True(t, h.TotalInvested.Equal(d("1200")))
	assert.True(t, h.AvgCost.Equal(d("60000")))

	apply(t, p, order("sell-1", orders.DirectionSell, "0.01", 650, status.Completed))
	h, err = ledger.Get(ctx, btcAUD)
	require.NoError(t, err)
	assert.True(t, h.Quantity.Equal(d("0.01")))
	assert.True(t, h.AvgCost.Equal(d("60000")))

	apply(t, p, order("sell-2", orders.DirectionSell, "0.05", 3000, status.Completed))
	h, err = ledger.Get(ctx, btcAUD)
	require.NoError(t, err)
	assert.Nil(t, h)

	rec, err := orders.NewDatabase(db).Get(ctx, "buy-1")
	require.NoError(t, err)
	assert.Equal(t, status.Completed, rec.CanonicalStatus)
	assert.Len(t, rec.StatusHistory, 2)
}

func TestDatabase_TerminalFlipDoesNotSettleTwice(t *testing.T) {
	db := setupTestDB(t)
	p := settlement.NewProcessor(settlement.NewDatabase(db), nil)
	ctx := context.Background()

	apply(t, p, order("buy-1", orders.DirectionBuy, "0.01", 500, status.Completed))
	apply(t, p, order("buy-1", orders.DirectionBuy, "0.01", 500, status.Failed))
	out := apply(t, p, order("buy-1", orders.DirectionBuy, "0.01", 500, status.Completed))

	assert.Equal(t, status.TransitionTerminalFlip, out.Transition)
	assert.Equal(t, settlement.EffectNone, out.Effect)

	h, err := holdings.NewDatabase(db).Get(ctx, btcAUD)
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.True(t, h.Quantity.Equal(d("0.01")), h.Quantity.String())
	assert.True(t, h.TotalInvested.Equal(d("500")), h.TotalInvested.String())

	rec, err := orders.NewDatabase(db).Get(ctx, "buy-1")
	require.NoError(t, err)
	assert.Equal(t, status.Completed, rec.CanonicalStatus)
	assert.NotNil(t, rec.SettledAt)
}

func TestDatabase_RollsBackOnError(t *testing.T) {
	db := setupTestDB(t)
	uow := settlement.NewDatabase(db)
	ctx := context.Background()
	boom := errors.New("boom")

	err := uow.Do(ctx, func(store settlement.OrderStore, ledger settlement.Ledger) error {
		if _, err := store.Upsert(ctx, order("buy-1", orders.DirectionBuy, "0.01", 500, status.Completed)); err != nil {
			return err
		}
		if _, err := ledger.UpsertOnBuy(ctx, btcAUD, d("0.01"), d("500")); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = orders.NewDatabase(db).Get(ctx, "buy-1")
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)
	h, err := holdings.NewDatabase(db).Get(ctx, btcAUD)
	require.NoError(t, err)
	assert.Nil(t, h)
}
