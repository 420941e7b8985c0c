package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/wildhash/cronox/types"
)

// SQLStore is the durable ledger on a database/sql handle. Insert-if-
// absent rides ON CONFLICT DO NOTHING; zero rows affected means the key
// was already on file.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps an opened database handle. The caller owns the
// handle's lifecycle.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Schema is the DDL for the two ledger tables.
const Schema = `
CREATE TABLE IF NOT EXISTS receipts (
    transaction_id TEXT PRIMARY KEY,
    payer          TEXT NOT NULL,
    pay_to         TEXT NOT NULL,
    amount         TEXT NOT NULL,
    currency       TEXT NOT NULL,
    resource       TEXT NOT NULL,
    chain_id       BIGINT NOT NULL,
    created_at     TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS refunds (
    refund_id             TEXT PRIMARY KEY,
    transaction_id        TEXT NOT NULL DEFAULT '',
    stream_id             TEXT NOT NULL,
    breach                TEXT NOT NULL,
    tier                  INT NOT NULL,
    refund_percent        BIGINT NOT NULL,
    refund_amount         TEXT NOT NULL,
    refund_transaction_id TEXT NOT NULL DEFAULT '',
    created_at            TIMESTAMPTZ NOT NULL
);`

const insertReceiptQuery = `INSERT INTO receipts
    (transaction_id, payer, pay_to, amount, currency, resource, chain_id, created_at)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    ON CONFLICT (transaction_id) DO NOTHING`

func (s *SQLStore) PutReceipt(ctx context.Context, r *types.PaymentReceipt) error {
	if r == nil || r.TransactionID == "" {
		return &types.Error{Code: types.ErrLedgerWrite, Message: "receipt requires a transaction id"}
	}

	res, err := s.db.ExecContext(ctx, insertReceiptQuery,
		r.TransactionID, r.Payer, r.PayTo, r.Amount, r.Currency, r.Resource, r.ChainID, r.Timestamp)
	if err != nil {
		return &types.Error{
			Code:    types.ErrLedgerWrite,
			Message: fmt.Sprintf("failed to append receipt: %v", err),
		}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return &types.Error{
			Code:    types.ErrLedgerWrite,
			Message: fmt.Sprintf("failed to confirm receipt append: %v", err),
		}
	}
	if affected == 0 {
		return conflictErr(r.TransactionID)
	}
	return nil
}

const selectReceiptQuery = `SELECT transaction_id, payer, pay_to, amount, currency, resource, chain_id, created_at
    FROM receipts WHERE transaction_id = $1`

func (s *SQLStore) Receipt(ctx context.Context, transactionID string) (*types.PaymentReceipt, error) {
	row := s.db.QueryRowContext(ctx, selectReceiptQuery, transactionID)

	var r types.PaymentReceipt
	err := row.Scan(&r.TransactionID, &r.Payer, &r.PayTo, &r.Amount, &r.Currency, &r.Resource, &r.ChainID, &r.Timestamp)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup receipt: %w", err)
	}
	return &r, nil
}

const recentReceiptsQuery = `SELECT transaction_id, payer, pay_to, amount, currency, resource, chain_id, created_at
    FROM receipts ORDER BY created_at DESC, transaction_id ASC LIMIT $1`

func (s *SQLStore) Recent(ctx context.Context, n int) ([]*types.PaymentReceipt, error) {
	rows, err := s.db.QueryContext(ctx, recentReceiptsQuery, n)
	if err != nil {
		return nil, fmt.Errorf("list receipts: %w", err)
	}
	defer rows.Close()

	var out []*types.PaymentReceipt
	for rows.Next() {
		var r types.PaymentReceipt
		if err := rows.Scan(&r.TransactionID, &r.Payer, &r.PayTo, &r.Amount, &r.Currency, &r.Resource, &r.ChainID, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

const statsQuery = `SELECT COUNT(*), COALESCE(SUM(CAST(amount AS NUMERIC)), 0) FROM receipts`

func (s *SQLStore) Stats(ctx context.Context) (*Stats, error) {
	var count int
	var total string
	if err := s.db.QueryRowContext(ctx, statsQuery).Scan(&count, &total); err != nil {
		return nil, fmt.Errorf("aggregate receipts: %w", err)
	}
	sum, err := decimal.NewFromString(total)
	if err != nil {
		return nil, fmt.Errorf("parse receipt sum: %w", err)
	}
	return &Stats{Count: count, Total: sum}, nil
}

const insertRefundQuery = `INSERT INTO refunds
    (refund_id, transaction_id, stream_id, breach, tier, refund_percent, refund_amount, refund_transaction_id, created_at)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    ON CONFLICT (refund_id) DO NOTHING`

func (s *SQLStore) PutRefund(ctx context.Context, r *types.RefundRecord) error {
	if r == nil || r.RefundID == "" {
		return &types.Error{Code: types.ErrLedgerWrite, Message: "refund requires a refund id"}
	}

	res, err := s.db.ExecContext(ctx, insertRefundQuery,
		r.RefundID, r.TransactionID, r.StreamID, string(r.Breach), int(r.Tier),
		r.RefundPercent, r.RefundAmount, r.RefundTransactionID, r.Timestamp)
	if err != nil {
		return &types.Error{
			Code:    types.ErrLedgerWrite,
			Message: fmt.Sprintf("failed to append refund: %v", err),
		}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return &types.Error{
			Code:    types.ErrLedgerWrite,
			Message: fmt.Sprintf("failed to confirm refund append: %v", err),
		}
	}
	if affected == 0 {
		return conflictErr(r.RefundID)
	}
	return nil
}

const refundsQuery = `SELECT refund_id, transaction_id, stream_id, breach, tier, refund_percent, refund_amount, refund_transaction_id, created_at
    FROM refunds WHERE stream_id = $1 ORDER BY created_at ASC, refund_id ASC`

func (s *SQLStore) Refunds(ctx context.Context, streamID string) ([]*types.RefundRecord, error) {
	rows, err := s.db.QueryContext(ctx, refundsQuery, streamID)
	if err != nil {
		return nil, fmt.Errorf("list refunds: %w", err)
	}
	defer rows.Close()

	var out []*types.RefundRecord
	for rows.Next() {
		var r types.RefundRecord
		var breach string
		var tier int
		// Rows written by other tools may carry NULL transaction ids.
		var txID, refundTxID sql.NullString
		if err := rows.Scan(&r.RefundID, &txID, &r.StreamID, &breach, &tier,
			&r.RefundPercent, &r.RefundAmount, &refundTxID, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan refund: %w", err)
		}
		r.TransactionID = txID.String
		r.RefundTransactionID = refundTxID.String
		r.Breach = types.BreachType(breach)
		r.Tier = types.Tier(tier)
		out = append(out, &r)
	}
	return out, rows.Err()
}
