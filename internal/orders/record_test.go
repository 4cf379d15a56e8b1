package orders

import (
	"testing"
	"time"

	"github.com/ksred/klear-ramp/internal/status"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRecord_DefaultsToPending(t *testing.T) {
	now := time.Now()
	rec, change, err := NewRecord(&Snapshot{OrderID: "o-1", OwnerID: "u-1", Direction: DirectionBuy}, now)
	require.NoError(t, err)
	assert.Equal(t, status.Pending, rec.CanonicalStatus)
	assert.Equal(t, status.TransitionNew, change.Transition)
	assert.Empty(t, change.Added)
	assert.Equal(t, now, rec.CreatedAt)
}

func TestSnapshotValidate(t *testing.T) {
	neg := int64(-1)
	tests := map[string]Snapshot{
		"missing id":         {},
		"bad direction":      {OrderID: "o", Direction: "HOLD"},
		"negative fiat":      {OrderID: "o", FiatAmount: &neg},
		"negative paid":      {OrderID: "o", AmountPaid: &neg},
		"negative asset":     {OrderID: "o", AssetAmount: decimal.NewNullDecimal(decimal.NewFromInt(-1))},
		"negative fee":       {OrderID: "o", TotalFee: decimal.NewNullDecimal(decimal.NewFromInt(-1))},
		"history no status":  {OrderID: "o", History: []HistoryEntry{{Timestamp: time.Now()}}},
		"history no time":    {OrderID: "o", History: []HistoryEntry{{Status: "PENDING"}}},
		"non canonical code": {OrderID: "o", Status: "DONE"},
	}
	for name, snap := range tests {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, snap.Validate(), ErrInvalidSnapshot)
		})
	}
}

func TestMergeHistory_KeepsOrderAndSkipsDuplicates(t *testing.T) {
	t0 := time.Date(2026, 1, 2, 3, 4, 5, 123456789, time.UTC)
	existing := []StatusEntry{{Seq: 1, Status: "PENDING", Timestamp: t0.Truncate(time.Microsecond)}}

	all, added := MergeHistory(existing, []HistoryEntry{
		{Status: "PENDING", Timestamp: t0},
		{Status: "PROCESSING", Timestamp: t0.Add(time.Second)},
		{Status: "PROCESSING", Timestamp: t0.Add(time.Second)},
	})

	require.Len(t, all, 2)
	require.Len(t, added, 1)
	assert.Equal(t, "PROCESSING", added[0].Status)
	assert.Equal(t, 2, added[0].Seq)
	assert.Equal(t, "PENDING", all[0].Status)
}

func TestApply_SameRawStatusDoesNotGrowHistory(t *testing.T) {
	now := time.Now()
	rec, _, err := NewRecord(&Snapshot{OrderID: "o", OwnerID: "u", RawStatus: "DONE", Status: status.Completed}, now)
	require.NoError(t, err)
	require.Len(t, rec.StatusHistory, 1)

	change, err := rec.Apply(&Snapshot{OrderID: "o", OwnerID: "u", RawStatus: "DONE", Status: status.Completed}, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, status.TransitionUnchanged, change.Transition)
	assert.Equal(t, status.Completed, change.Previous)
	assert.Len(t, rec.StatusHistory, 1)
}

func TestEffectiveFiatAmount(t *testing.T) {
	paid := int64(480)
	zero := int64(0)

	assert.Equal(t, int64(500), (&OrderRecord{FiatAmount: 500}).EffectiveFiatAmount())
	assert.Equal(t, int64(480), (&OrderRecord{FiatAmount: 500, AmountPaid: &paid}).EffectiveFiatAmount())
	assert.Equal(t, int64(500), (&OrderRecord{FiatAmount: 500, AmountPaid: &zero}).EffectiveFiatAmount())
}
