package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wildhash/cronox/types"
)

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLStore(db), mock
}

func TestSQLStorePutReceipt(t *testing.T) {
	ctx := context.Background()
	ts := time.Unix(1700000000, 0)

	t.Run("insert succeeds", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec("INSERT INTO receipts").
			WithArgs("0xtx1", "0xpayer", "0xpayee", "100000", "USDC.e", "/api/data", int64(338), ts).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := store.PutReceipt(ctx, &types.PaymentReceipt{
			TransactionID: "0xtx1",
			Payer:         "0xpayer",
			PayTo:         "0xpayee",
			Amount:        "100000",
			Currency:      "USDC.e",
			Resource:      "/api/data",
			ChainID:       338,
			Timestamp:     ts,
		})
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("conflict when no row inserted", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec("INSERT INTO receipts").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.PutReceipt(ctx, receipt("0xtx1", ts))
		require.Error(t, err)
		assert.True(t, IsConflict(err))
	})

	t.Run("database error is a ledger write error", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec("INSERT INTO receipts").
			WillReturnError(assert.AnError)

		err := store.PutReceipt(ctx, receipt("0xtx1", ts))
		require.Error(t, err)
		assert.False(t, IsConflict(err))
		te, ok := err.(*types.Error)
		require.True(t, ok)
		assert.Equal(t, types.ErrLedgerWrite, te.Code)
	})

	t.Run("missing transaction id rejected before touching the db", func(t *testing.T) {
		store, _ := newMockStore(t)
		err := store.PutReceipt(ctx, &types.PaymentReceipt{})
		require.Error(t, err)
	})
}

func TestSQLStoreReceipt(t *testing.T) {
	ctx := context.Background()
	ts := time.Unix(1700000000, 0)
	cols := []string{"transaction_id", "payer", "pay_to", "amount", "currency", "resource", "chain_id", "created_at"}

	t.Run("found", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery("SELECT (.+) FROM receipts WHERE transaction_id").
			WithArgs("0xtx1").
			WillReturnRows(sqlmock.NewRows(cols).
				AddRow("0xtx1", "0xpayer", "0xpayee", "100000", "USDC.e", "/api/data", int64(338), ts))

		got, err := store.Receipt(ctx, "0xtx1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "0xtx1", got.TransactionID)
		assert.Equal(t, int64(338), got.ChainID)
	})

	t.Run("absent id is nil without error", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery("SELECT (.+) FROM receipts WHERE transaction_id").
			WithArgs("0xmissing").
			WillReturnRows(sqlmock.NewRows(cols))

		got, err := store.Receipt(ctx, "0xmissing")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestSQLStoreRecent(t *testing.T) {
	ctx := context.Background()
	ts := time.Unix(1700000000, 0)
	cols := []string{"transaction_id", "payer", "pay_to", "amount", "currency", "resource", "chain_id", "created_at"}

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM receipts ORDER BY created_at DESC").
		WithArgs(2).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("0xtx2", "0xpayer", "0xpayee", "100000", "USDC.e", "/api/data", int64(338), ts.Add(time.Minute)).
			AddRow("0xtx1", "0xpayer", "0xpayee", "100000", "USDC.e", "/api/data", int64(338), ts))

	got, err := store.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "0xtx2", got[0].TransactionID)
}

func TestSQLStoreStats(t *testing.T) {
	ctx := context.Background()
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count", "sum"}).AddRow(3, "300000"))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Count)
	assert.Equal(t, "300000", stats.Total.String())
}

func TestSQLStoreRefunds(t *testing.T) {
	ctx := context.Background()
	ts := time.Unix(1700000000, 0)

	t.Run("insert and conflict", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec("INSERT INTO refunds").
			WithArgs("stream-1-1", "0xtx1", "stream-1", "uptime", int(types.TierSevere), uint64(50), "500000", "", ts).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO refunds").
			WillReturnResult(sqlmock.NewResult(0, 0))

		rec := &types.RefundRecord{
			RefundID:      "stream-1-1",
			TransactionID: "0xtx1",
			StreamID:      "stream-1",
			Breach:        types.BreachUptime,
			Tier:          types.TierSevere,
			RefundPercent: 50,
			RefundAmount:  "500000",
			Timestamp:     ts,
		}
		require.NoError(t, store.PutRefund(ctx, rec))

		err := store.PutRefund(ctx, rec)
		require.Error(t, err)
		assert.True(t, IsConflict(err))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("null transaction ids scan as empty", func(t *testing.T) {
		store, mock := newMockStore(t)
		cols := []string{"refund_id", "transaction_id", "stream_id", "breach", "tier", "refund_percent", "refund_amount", "refund_transaction_id", "created_at"}
		mock.ExpectQuery("SELECT (.+) FROM refunds WHERE stream_id").
			WithArgs("stream-1").
			WillReturnRows(sqlmock.NewRows(cols).
				AddRow("stream-1-1", nil, "stream-1", "uptime", int(types.TierSevere), uint64(50), "500000", nil, ts))

		got, err := store.Refunds(ctx, "stream-1")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Empty(t, got[0].TransactionID)
		assert.Empty(t, got[0].RefundTransactionID)
	})

	t.Run("list by stream", func(t *testing.T) {
		store, mock := newMockStore(t)
		cols := []string{"refund_id", "transaction_id", "stream_id", "breach", "tier", "refund_percent", "refund_amount", "refund_transaction_id", "created_at"}
		mock.ExpectQuery("SELECT (.+) FROM refunds WHERE stream_id").
			WithArgs("stream-1").
			WillReturnRows(sqlmock.NewRows(cols).
				AddRow("stream-1-1", "0xtx1", "stream-1", "uptime", int(types.TierSevere), uint64(50), "500000", "", ts))

		got, err := store.Refunds(ctx, "stream-1")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, types.BreachUptime, got[0].Breach)
		assert.Equal(t, types.TierSevere, got[0].Tier)
	})
}
