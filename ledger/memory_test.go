package ledger

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wildhash/cronox/types"
)

func receipt(id string, ts time.Time) *types.PaymentReceipt {
	return &types.PaymentReceipt{
		TransactionID: id,
		Payer:         "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
		PayTo:         "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
		Amount:        "100000",
		Currency:      "USDC.e",
		Resource:      "/api/data",
		ChainID:       338,
		Timestamp:     ts,
	}
}

func TestMemoryPutReceipt(t *testing.T) {
	ctx := context.Background()

	t.Run("insert then lookup", func(t *testing.T) {
		m := NewMemory()
		r := receipt("0xtx1", time.Now())
		require.NoError(t, m.PutReceipt(ctx, r))

		got, err := m.Receipt(ctx, "0xtx1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, r, got)
	})

	t.Run("duplicate transaction id is rejected", func(t *testing.T) {
		m := NewMemory()
		require.NoError(t, m.PutReceipt(ctx, receipt("0xtx1", time.Now())))

		dup := receipt("0xtx1", time.Now())
		dup.Amount = "999999"
		err := m.PutReceipt(ctx, dup)
		require.Error(t, err)
		assert.True(t, IsConflict(err))

		// The original record is untouched.
		got, err := m.Receipt(ctx, "0xtx1")
		require.NoError(t, err)
		assert.Equal(t, "100000", got.Amount)
	})

	t.Run("missing transaction id is rejected", func(t *testing.T) {
		m := NewMemory()
		err := m.PutReceipt(ctx, &types.PaymentReceipt{})
		require.Error(t, err)
		assert.False(t, IsConflict(err))
	})

	t.Run("lookup of absent id is nil without error", func(t *testing.T) {
		m := NewMemory()
		got, err := m.Receipt(ctx, "0xmissing")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestMemoryRecent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Unix(1700000000, 0)

	for i := 0; i < 5; i++ {
		r := receipt("0xtx"+strconv.Itoa(i), base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, m.PutReceipt(ctx, r))
	}

	t.Run("ordered newest first", func(t *testing.T) {
		got, err := m.Recent(ctx, 3)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "0xtx4", got[0].TransactionID)
		assert.Equal(t, "0xtx3", got[1].TransactionID)
		assert.Equal(t, "0xtx2", got[2].TransactionID)
	})

	t.Run("count larger than store returns everything", func(t *testing.T) {
		got, err := m.Recent(ctx, 100)
		require.NoError(t, err)
		assert.Len(t, got, 5)
	})
}

func TestMemoryStats(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	for i := 0; i < 3; i++ {
		require.NoError(t, m.PutReceipt(ctx, receipt("0xtx"+strconv.Itoa(i), time.Now())))
	}

	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Count)
	assert.Equal(t, "300000", stats.Total.String())
}

func TestMemoryRefunds(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	rec := &types.RefundRecord{
		RefundID:      "stream-1-1",
		StreamID:      "stream-1",
		Breach:        types.BreachUptime,
		Tier:          types.TierSevere,
		RefundPercent: 50,
		RefundAmount:  "500000",
		Timestamp:     time.Now(),
	}
	require.NoError(t, m.PutRefund(ctx, rec))

	t.Run("duplicate refund id is rejected", func(t *testing.T) {
		err := m.PutRefund(ctx, rec)
		require.Error(t, err)
		assert.True(t, IsConflict(err))
	})

	t.Run("listed by stream", func(t *testing.T) {
		got, err := m.Refunds(ctx, "stream-1")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, rec, got[0])

		empty, err := m.Refunds(ctx, "stream-2")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})
}
