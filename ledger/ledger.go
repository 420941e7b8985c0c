// Package ledger is the append-only record of settled payments and
// refunds. Writes are insert-if-absent keyed by transaction identifier,
// so a settlement result can never be recorded twice; there is no delete
// path.
package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/wildhash/cronox/types"
)

// Stats aggregates the receipts on file.
type Stats struct {
	Count int             `json:"count"`
	Total decimal.Decimal `json:"total"`
}

// Ledger is the receipt and refund store consumed by the payment gate
// and the refund tier engine.
type Ledger interface {
	// PutReceipt appends a receipt. A receipt with the same transaction
	// id already on file yields a LEDGER_CONFLICT error and leaves the
	// existing record untouched.
	PutReceipt(ctx context.Context, r *types.PaymentReceipt) error

	// Receipt looks up a receipt by transaction id; nil if absent.
	Receipt(ctx context.Context, transactionID string) (*types.PaymentReceipt, error)

	// Recent returns up to n receipts ordered by timestamp descending.
	Recent(ctx context.Context, n int) ([]*types.PaymentReceipt, error)

	// Stats returns the receipt count and decimal sum of amounts.
	Stats(ctx context.Context) (*Stats, error)

	// PutRefund appends a refund record, insert-if-absent on RefundID.
	PutRefund(ctx context.Context, r *types.RefundRecord) error

	// Refunds lists the refund records for one stream, oldest first.
	Refunds(ctx context.Context, streamID string) ([]*types.RefundRecord, error)
}

// IsConflict reports whether an error is the duplicate-key rejection.
func IsConflict(err error) bool {
	te, ok := err.(*types.Error)
	return ok && te.Code == types.ErrLedgerConflict
}

func conflictErr(key string) error {
	return &types.Error{
		Code:    types.ErrLedgerConflict,
		Message: "record already exists: " + key,
	}
}
