package holdings

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *Database {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&Holding{}))
	return NewDatabase(db)
}

func TestDatabase_BuyThenSell(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	_, err := store.UpsertOnBuy(ctx, btcAUD, d("0.01"), d("500"))
	require.NoError(t, err)
	_, err = store.UpsertOnBuy(ctx, btcAUD, d("0.01"), d("700"))
	require.NoError(t, err)

	h, err := store.Get(ctx, btcAUD)
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.True(t, h.Quantity.Equal(d("0.02")), h.Quantity.String())
	assert.True(t, h.TotalInvested.Equal(d("1200")))
	assert.True(t, h.AverageCost().Equal(d("60000")))

	effect, err := store.ReduceOnSell(ctx, btcAUD, d("0.01"))
	require.NoError(t, err)
	assert.True(t, effect.Found)
	assert.False(t, effect.Closed)

	h, err = store.Get(ctx, btcAUD)
	require.NoError(t, err)
	assert.True(t, h.Quantity.Equal(d("0.01")))
	assert.True(t, h.TotalInvested.Equal(d("600")))
	assert.True(t, h.AvgCost.Equal(d("60000")))
}

func TestDatabase_SellToZeroDeletesRow(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	_, err := store.UpsertOnBuy(ctx, btcAUD, d("0.02"), d("1200"))
	require.NoError(t, err)

	effect, err := store.ReduceOnSell(ctx, btcAUD, d("0.05"))
	require.NoError(t, err)
	assert.True(t, effect.Closed)

	h, err := store.Get(ctx, btcAUD)
	require.NoError(t, err)
	assert.Nil(t, h)

	// re-entry starts a fresh cost basis
	h, err = store.UpsertOnBuy(ctx, btcAUD, d("0.01"), d("900"))
	require.NoError(t, err)
	assert.True(t, h.AvgCost.Equal(d("90000")))
}

func TestDatabase_SellWithoutHoldingIsNoop(t *testing.T) {
	store := setupTestDB(t)

	effect, err := store.ReduceOnSell(context.Background(), btcAUD, d("1"))
	require.NoError(t, err)
	assert.False(t, effect.Found)
}

func TestDatabase_CurrenciesArePartitioned(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	btcUSD := Key{OwnerID: "owner-1", AssetSymbol: "BTC", FiatCurrency: "USD"}

	_, err := store.UpsertOnBuy(ctx, btcAUD, d("0.01"), d("500"))
	require.NoError(t, err)
	_, err = store.UpsertOnBuy(ctx, btcUSD, d("0.02"), d("600"))
	require.NoError(t, err)

	hs, err := store.ListByOwner(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, hs, 2)
	assert.Equal(t, "AUD", hs[0].FiatCurrency)
	assert.True(t, hs[0].Quantity.Equal(d("0.01")))
	assert.Equal(t, "USD", hs[1].FiatCurrency)
	assert.True(t, hs[1].Quantity.Equal(d("0.02")))
}

func TestDatabase_CostBasisPrecision(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	// 100 / 0.03 does not terminate
	_, err := store.UpsertOnBuy(ctx, btcAUD, d("0.03"), d("100"))
	require.NoError(t, err)
	_, err = store.ReduceOnSell(ctx, btcAUD, d("0.01"))
	require.NoError(t, err)

	h, err := store.Get(ctx, btcAUD)
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.True(t, h.Quantity.Equal(d("0.02")), h.Quantity.String())

	// SQLite keeps 15 significant digits; cents must survive
	assert.True(t, h.TotalInvested.Round(2).Equal(d("66.67")), h.TotalInvested.String())
	implied := h.AvgCost.Mul(h.Quantity)
	assert.True(t, implied.Sub(h.TotalInvested).Abs().LessThan(d("0.000000001")),
		"avg_cost * quantity = %s, total_invested = %s", implied, h.TotalInvested)
}
